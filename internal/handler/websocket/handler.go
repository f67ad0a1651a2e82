package websocket

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"collaborative-sketchpad/internal/domain"
	"collaborative-sketchpad/internal/hub"
	"collaborative-sketchpad/internal/middleware"
	"collaborative-sketchpad/internal/service"
)

// SketchpadFinder 用于在升级连接前确认画板存在。
type SketchpadFinder interface {
	Get(ctx context.Context, id uint) (*domain.Sketchpad, error)
}

// WebSocketHandler 负责处理 WebSocket 升级请求和客户端注册
type WebSocketHandler struct {
	upgrader   websocket.Upgrader
	hub        *hub.Hub
	sketchpads SketchpadFinder
}

// NewWebSocketHandler 创建 WebSocketHandler 实例。allowedOrigin 为空或 "*" 时接受所有来源。
func NewWebSocketHandler(h *hub.Hub, sketchpads SketchpadFinder, allowedOrigin string) *WebSocketHandler {
	if h == nil {
		panic("Hub cannot be nil for WebSocketHandler")
	}
	if sketchpads == nil {
		panic("SketchpadFinder cannot be nil for WebSocketHandler")
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if allowedOrigin == "" || allowedOrigin == "*" {
				return true
			}
			origin := r.Header.Get("Origin")
			return origin == "" || origin == allowedOrigin
		},
	}

	return &WebSocketHandler{
		upgrader:   upgrader,
		hub:        h,
		sketchpads: sketchpads,
	}
}

// HandleConnection 处理 WebSocket 连接请求
// URL 预期格式: /ws/sketchpads/:id
func (h *WebSocketHandler) HandleConnection(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		logrus.Warn("WS Handler: User not found in context")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}
	logCtx := logrus.WithField("user", user)

	idStr := c.Param("id")
	id64, err := strconv.ParseUint(idStr, 10, 32)
	if err != nil || id64 == 0 {
		logCtx.WithError(err).Warnf("WS Handler: Invalid sketchpad ID format: %s", idStr)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid sketchpad ID format"})
		return
	}
	sketchpadID := uint(id64)
	logCtx = logCtx.WithField("sketchpad_id", sketchpadID)

	if _, err := h.sketchpads.Get(c.Request.Context(), sketchpadID); err != nil {
		if errors.Is(err, service.ErrSketchpadNotFound) {
			logCtx.WithError(err).Warn("WS Handler: Sketchpad not found")
			c.JSON(http.StatusNotFound, gin.H{"error": "Sketchpad not found"})
		} else {
			logCtx.WithError(err).Error("WS Handler: Error checking sketchpad existence")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to validate sketchpad"})
		}
		return
	}

	// Upgrade 失败时已经写回了 HTTP 错误
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logCtx.WithError(err).Error("WS Handler: Failed to upgrade connection")
		return
	}
	logCtx.Info("WS Handler: Connection upgraded to WebSocket")

	client := hub.NewClient(h.hub, conn, sketchpadID, user)
	if !h.hub.QueueMessage(hub.HubMessage{Type: hub.MessageRegister, Client: client}) {
		logCtx.Error("WS Handler: Hub message channel full, failed to register client")
		client.CloseConn()
		return
	}
	go client.Run()
	logCtx.Info("WS Handler: Client registered and pumps started")
}
