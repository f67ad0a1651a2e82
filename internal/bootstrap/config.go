package bootstrap

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"collaborative-sketchpad/internal/infra/setup"
	"collaborative-sketchpad/internal/service"
)

// Config 结构体用于存储从配置文件或环境变量加载的配置
type Config struct {
	DBDriver   string `yaml:"db_driver"`
	DBUser     string `yaml:"db_user"`
	DBPassword string `yaml:"db_password"`
	DBHost     string `yaml:"db_host"`
	DBPort     string `yaml:"db_port"`
	DBName     string `yaml:"db_name"`
	DBDebug    bool   `yaml:"db_debug"`
	SQLitePath string `yaml:"sqlite_path"`

	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	KeyPrefix     string `yaml:"redis_key_prefix"`

	JWTSecret      string `yaml:"jwt_secret"`
	JWTExpiryHours int    `yaml:"jwt_expiry_hours"`

	ServerPort        string        `yaml:"server_port"`
	LogLevel          string        `yaml:"log_level"`
	AppEnv            string        `yaml:"app_env"` // development/production
	RateLimitMax      int           `yaml:"rate_limit_max"`
	RateLimitWindow   time.Duration `yaml:"rate_limit_window"`
	CORSAllowedOrigin string        `yaml:"cors_allowed_origin"`

	MaxStrokeHistory int    `yaml:"max_stroke_history"`
	SyncSchedule     string `yaml:"sync_schedule"`
	SnapshotSchedule string `yaml:"snapshot_schedule"`
	CanvasWidth      int    `yaml:"canvas_width"`
	CanvasHeight     int    `yaml:"canvas_height"`
}

func defaultConfig() *Config {
	return &Config{
		DBDriver:          setup.DriverMySQL,
		SQLitePath:        "sketchpad.db",
		KeyPrefix:         "sp:",
		JWTExpiryHours:    24,
		ServerPort:        "8080",
		LogLevel:          "info",
		AppEnv:            "development",
		RateLimitMax:      100,
		RateLimitWindow:   1 * time.Second,
		CORSAllowedOrigin: "http://localhost:3000",
		MaxStrokeHistory:  service.DefaultMaxStrokeHistory,
		SyncSchedule:      "@every 1m",
		SnapshotSchedule:  "@every 5m",
		CanvasWidth:       service.DefaultCanvasWidth,
		CanvasHeight:      service.DefaultCanvasHeight,
	}
}

// LoadConfig 加载配置：默认值，然后是 CONFIG_PATH 指向的 YAML 文件，最后是环境变量 (包括 .env)。
func LoadConfig() (*Config, error) {
	// .env 不存在时只使用环境变量
	_ = godotenv.Load()

	cfg := defaultConfig()
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		if err := loadYAML(path, cfg); err != nil {
			return nil, err
		}
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadYAML(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	strs := map[string]*string{
		"DB_DRIVER":           &cfg.DBDriver,
		"DB_USER":             &cfg.DBUser,
		"DB_PASSWORD":         &cfg.DBPassword,
		"DB_HOST":             &cfg.DBHost,
		"DB_PORT":             &cfg.DBPort,
		"DB_NAME":             &cfg.DBName,
		"SQLITE_PATH":         &cfg.SQLitePath,
		"REDIS_ADDR":          &cfg.RedisAddr,
		"REDIS_PASSWORD":      &cfg.RedisPassword,
		"REDIS_KEY_PREFIX":    &cfg.KeyPrefix,
		"JWT_SECRET":          &cfg.JWTSecret,
		"SERVER_PORT":         &cfg.ServerPort,
		"LOG_LEVEL":           &cfg.LogLevel,
		"APP_ENV":             &cfg.AppEnv,
		"CORS_ALLOWED_ORIGIN": &cfg.CORSAllowedOrigin,
		"SYNC_SCHEDULE":       &cfg.SyncSchedule,
		"SNAPSHOT_SCHEDULE":   &cfg.SnapshotSchedule,
	}
	for key, dst := range strs {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"REDIS_DB":           &cfg.RedisDB,
		"JWT_EXPIRY_HOURS":   &cfg.JWTExpiryHours,
		"RATE_LIMIT_MAX":     &cfg.RateLimitMax,
		"MAX_STROKE_HISTORY": &cfg.MaxStrokeHistory,
		"CANVAS_WIDTH":       &cfg.CanvasWidth,
		"CANVAS_HEIGHT":      &cfg.CanvasHeight,
	}
	for key, dst := range ints {
		v, ok := os.LookupEnv(key)
		if !ok || v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("environment variable %s must be an integer: %w", key, err)
		}
		*dst = n
	}

	if v := os.Getenv("RATE_LIMIT_WINDOW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("environment variable RATE_LIMIT_WINDOW must be a duration: %w", err)
		}
		cfg.RateLimitWindow = d
	}
	if v := os.Getenv("DB_DEBUG"); v != "" {
		cfg.DBDebug, _ = strconv.ParseBool(v)
	}
	return nil
}

func (cfg *Config) validate() error {
	if cfg.RedisAddr == "" {
		return fmt.Errorf("environment variable REDIS_ADDR must be set")
	}
	if cfg.JWTSecret == "" {
		return fmt.Errorf("environment variable JWT_SECRET must be set")
	}
	switch cfg.DBDriver {
	case setup.DriverMySQL:
		if cfg.DBHost == "" || cfg.DBName == "" {
			return fmt.Errorf("DB_HOST and DB_NAME must be set for the mysql driver")
		}
	case setup.DriverSQLite:
		if cfg.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH must be set for the sqlite driver")
		}
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", cfg.DBDriver)
	}
	if cfg.RateLimitMax <= 0 || cfg.RateLimitWindow <= 0 {
		return fmt.Errorf("rate limit must be positive (max=%d, window=%s)", cfg.RateLimitMax, cfg.RateLimitWindow)
	}

	if _, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
		logrus.Warnf("Invalid LOG_LEVEL '%s', using default 'info'", cfg.LogLevel)
		cfg.LogLevel = "info"
	}
	return nil
}

// DBOptions 转换为 setup 包的数据库参数
func (cfg *Config) DBOptions() setup.DBOptions {
	return setup.DBOptions{
		Driver:     cfg.DBDriver,
		User:       cfg.DBUser,
		Password:   cfg.DBPassword,
		Host:       cfg.DBHost,
		Port:       cfg.DBPort,
		Name:       cfg.DBName,
		SQLitePath: cfg.SQLitePath,
		Debug:      cfg.DBDebug,
	}
}
