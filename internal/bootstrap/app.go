package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	httpHandler "collaborative-sketchpad/internal/handler/http"
	wsHandler "collaborative-sketchpad/internal/handler/websocket"
	"collaborative-sketchpad/internal/hub"
	gormpersistence "collaborative-sketchpad/internal/infra/persistence/gorm"
	"collaborative-sketchpad/internal/infra/setup"
	redisstate "collaborative-sketchpad/internal/infra/state/redis"
	"collaborative-sketchpad/internal/middleware"
	"collaborative-sketchpad/internal/service"
	"collaborative-sketchpad/internal/tasks"
	"collaborative-sketchpad/internal/worker"
)

// App 结构体包含应用的所有组件和配置
type App struct {
	Config         *Config
	Log            *logrus.Logger
	DB             *gorm.DB
	RedisClient    *redis.Client
	AsynqClient    *asynq.Client
	AsynqServer    *worker.WorkerServer
	Scheduler      *asynq.Scheduler
	Hub            *hub.Hub
	HttpServer     *http.Server
	redisClientOpt asynq.RedisClientOpt
}

// NewLogger 按运行环境创建 logger：生产环境输出 JSON，其余输出带完整时间戳的文本。
func NewLogger(appEnv, level string) *logrus.Logger {
	log := logrus.New()
	if appEnv == "production" {
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, ForceColors: true})
	}
	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	log.SetLevel(logLevel)
	log.SetOutput(os.Stdout)
	return log
}

// NewApp 创建并初始化应用的所有组件
func NewApp() (*App, error) {
	// 1. 加载配置
	cfg, err := LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return nil, err
	}

	// 2. 初始化 Logger；包级 logrus 与 App logger 保持一致
	log := NewLogger(cfg.AppEnv, cfg.LogLevel)
	logrus.SetFormatter(log.Formatter)
	logrus.SetLevel(log.GetLevel())
	log.Infof("Logger initialized (Level: %s, Format: %T)", log.GetLevel().String(), log.Formatter)

	// 3. 初始化基础设施
	log.Info("Initializing infrastructure...")
	db, err := setup.InitDB(cfg.DBOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to init DB: %w", err)
	}
	if err := setup.MigrateDB(db); err != nil {
		return nil, fmt.Errorf("failed to migrate DB: %w", err)
	}
	log.WithField("driver", cfg.DBDriver).Info("Database initialized and migrated")

	redisClient, err := setup.InitRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("failed to init Redis: %w", err)
	}
	log.Info("Redis client initialized")

	redisClientOpt := asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
	asynqClient := asynq.NewClient(redisClientOpt)
	log.Info("Asynq client initialized")

	// 4. 初始化 Repositories
	userRepo := gormpersistence.NewGormUserRepository(db)
	sketchpadRepo := gormpersistence.NewGormSketchpadRepository(db)
	strokeRepo := gormpersistence.NewGormStrokeRepository(db)
	strokeCache := redisstate.NewRedisStrokeCache(redisClient, cfg.KeyPrefix)
	enqueuer := tasks.NewEnqueuer(asynqClient)
	log.Info("Repositories initialized")

	// 5. 初始化 Services
	authService, err := service.NewAuthService(userRepo, cfg.JWTSecret, cfg.JWTExpiryHours)
	if err != nil {
		return nil, fmt.Errorf("failed to create AuthService: %w", err)
	}
	sketchpadService := service.NewSketchpadService(sketchpadRepo, strokeRepo, strokeCache)
	strokeService := service.NewStrokeService(sketchpadRepo, strokeCache, enqueuer, cfg.MaxStrokeHistory)
	syncService := service.NewSyncService(strokeCache, strokeRepo, enqueuer)
	snapshotService := service.NewSnapshotService(sketchpadRepo, strokeRepo, strokeCache, cfg.CanvasWidth, cfg.CanvasHeight)
	log.Info("Services initialized")

	// 6. 初始化 Hub
	hubInstance := hub.NewHub(strokeService, strokeCache)
	log.Info("Hub initialized")

	// 7. 初始化 Handlers
	authHandler := httpHandler.NewAuthHandler(authService)
	sketchpadHandler := httpHandler.NewSketchpadHandler(sketchpadService, strokeService, syncService, snapshotService)
	websocketHandler := wsHandler.NewWebSocketHandler(hubInstance, sketchpadService, cfg.CORSAllowedOrigin)
	log.Info("Handlers initialized")

	// 8. 初始化 Worker Server
	workerServer := worker.NewWorkerServer(redisClientOpt, syncService, snapshotService, hubInstance, log)
	log.Info("Worker server initialized")

	// 9. 初始化 Gin Engine 和路由
	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(log))
	router.Use(CORSMiddleware(cfg.CORSAllowedOrigin))
	router.Use(middleware.RateLimit(strokeCache, cfg.RateLimitMax, cfg.RateLimitWindow))
	RegisterRoutes(router, cfg.JWTSecret, authHandler, sketchpadHandler, websocketHandler)
	log.Info("Router setup complete")

	// 10. 初始化 HTTP Server
	httpServer := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	app := &App{
		Config:         cfg,
		Log:            log,
		DB:             db,
		RedisClient:    redisClient,
		AsynqClient:    asynqClient,
		AsynqServer:    workerServer,
		Hub:            hubInstance,
		HttpServer:     httpServer,
		redisClientOpt: redisClientOpt,
	}
	log.Info("Application assembled successfully")
	return app, nil
}

// RegisterRoutes 注册全部 HTTP 和 WebSocket 路由
func RegisterRoutes(
	router *gin.Engine,
	jwtSecret string,
	authHandler *httpHandler.AuthHandler,
	sketchpadHandler *httpHandler.SketchpadHandler,
	websocketHandler *wsHandler.WebSocketHandler,
) {
	api := router.Group("/api")
	authRoutes := api.Group("/auth")
	{
		authRoutes.POST("/register", authHandler.Register)
		authRoutes.POST("/login", authHandler.Login)
		authRoutes.POST("/guest", authHandler.Guest)
	}
	sketchpadRoutes := api.Group("/sketchpads").Use(middleware.Auth(jwtSecret))
	{
		sketchpadRoutes.POST("", sketchpadHandler.Create)
		sketchpadRoutes.POST("/sync", sketchpadHandler.Sync)
		sketchpadRoutes.GET("/:id", sketchpadHandler.Get)
		sketchpadRoutes.GET("/:id/strokes", sketchpadHandler.SearchHistory)
		sketchpadRoutes.POST("/:id/strokes", sketchpadHandler.Publish)
		sketchpadRoutes.POST("/:id/join", sketchpadHandler.Join)
		sketchpadRoutes.GET("/:id/export.png", sketchpadHandler.ExportPNG)
		sketchpadRoutes.GET("/:id/export.pdf", sketchpadHandler.ExportPDF)
	}
	wsRoutes := router.Group("/ws").Use(middleware.Auth(jwtSecret))
	{
		wsRoutes.GET("/sketchpads/:id", websocketHandler.HandleConnection)
	}
	router.GET("/ping", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"message": "pong"}) })
}

// Start 启动应用的所有后台 Goroutine 和 HTTP 服务器
func (a *App) Start() {
	go a.Hub.Run()
	a.Log.Info("Hub routine started")

	go a.AsynqServer.Start()
	a.Log.Info("Asynq worker server routine started")

	a.registerPeriodicTasks()

	go func() {
		a.Log.Infof("HTTP server starting to listen on %s", a.HttpServer.Addr)
		if err := a.HttpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Log.Fatalf("Failed to start HTTP server: %v", err)
		}
		a.Log.Info("HTTP server stopped listening.")
	}()
}

// registerPeriodicTasks 注册定时落库和快照检查
func (a *App) registerPeriodicTasks() {
	scheduler := asynq.NewScheduler(a.redisClientOpt, &asynq.SchedulerOpts{})

	entries := []struct {
		schedule string
		task     *asynq.Task
		opts     []asynq.Option
	}{
		{a.Config.SyncSchedule, tasks.NewStrokeSyncTask(), []asynq.Option{asynq.Queue("critical")}},
		{a.Config.SnapshotSchedule, tasks.NewSnapshotPeriodicCheckTask(), []asynq.Option{asynq.Queue("default")}},
	}
	for _, e := range entries {
		entryID, err := scheduler.Register(e.schedule, e.task, e.opts...)
		if err != nil {
			a.Log.Errorf("Could not register periodic task %s: %v", e.task.Type(), err)
			continue
		}
		a.Log.Infof("Periodic task %s registered with schedule '%s' (EntryID: %s)", e.task.Type(), e.schedule, entryID)
	}
	a.Scheduler = scheduler

	go func() {
		a.Log.Info("Asynq scheduler starting...")
		if err := scheduler.Run(); err != nil && !errors.Is(err, asynq.ErrServerClosed) {
			a.Log.Errorf("Asynq scheduler Run() failed: %v", err)
			return
		}
		a.Log.Info("Asynq scheduler stopped.")
	}()
}

// Shutdown 优雅地关闭应用
func (a *App) Shutdown() {
	a.Log.Info("Shutting down application...")

	if a.Hub != nil {
		a.Hub.StopAllSubscriptions()
	}
	if a.Scheduler != nil {
		a.Scheduler.Shutdown()
	}
	if a.AsynqServer != nil {
		a.AsynqServer.Shutdown()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.HttpServer.Shutdown(ctx); err != nil {
		a.Log.Errorf("Error shutting down HTTP server: %v", err)
	} else {
		a.Log.Info("HTTP server shut down gracefully.")
	}

	if a.AsynqClient != nil {
		if err := a.AsynqClient.Close(); err != nil {
			a.Log.Errorf("Error closing Asynq client: %v", err)
		}
	}
	if a.RedisClient != nil {
		if err := a.RedisClient.Close(); err != nil {
			a.Log.Errorf("Error closing Redis connection: %v", err)
		}
	}
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				a.Log.Errorf("Error closing database connection: %v", err)
			}
		}
	}

	a.Log.Info("Application shutdown complete.")
}

// CORSMiddleware 允许配置的来源跨域访问
func CORSMiddleware(allowedOrigin string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// LoggerMiddleware 创建一个 Gin 中间件用于记录请求日志
func LoggerMiddleware(log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()
		c.Next()
		latency := time.Since(startTime)
		statusCode := c.Writer.Status()
		path := c.Request.URL.Path
		if c.Request.URL.RawQuery != "" && c.Query("token") == "" {
			path = path + "?" + c.Request.URL.RawQuery
		}
		errorMessage := c.Errors.ByType(gin.ErrorTypePrivate).String()

		entry := log.WithFields(logrus.Fields{
			"status_code": statusCode,
			"latency_ms":  latency.Milliseconds(),
			"client_ip":   c.ClientIP(),
			"method":      c.Request.Method,
			"path":        path,
		})

		switch {
		case errorMessage != "":
			entry.Error(errorMessage)
		case statusCode >= 500:
			entry.Error("Server error")
		case statusCode >= 400:
			entry.Warn("Client error")
		default:
			entry.Info("Request handled")
		}
	}
}
