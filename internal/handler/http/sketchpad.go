package http

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"collaborative-sketchpad/internal/dto"
	"collaborative-sketchpad/internal/middleware"
	"collaborative-sketchpad/internal/service"
)

// SketchpadHandler 封装画板、笔画和导出相关的 HTTP 处理逻辑
type SketchpadHandler struct {
	sketchpads *service.SketchpadService
	strokes    *service.StrokeService
	syncer     *service.SyncService
	snapshots  *service.SnapshotService
}

func NewSketchpadHandler(
	sketchpads *service.SketchpadService,
	strokes *service.StrokeService,
	syncer *service.SyncService,
	snapshots *service.SnapshotService,
) *SketchpadHandler {
	if sketchpads == nil || strokes == nil || syncer == nil || snapshots == nil {
		panic("services cannot be nil for SketchpadHandler")
	}
	return &SketchpadHandler{sketchpads: sketchpads, strokes: strokes, syncer: syncer, snapshots: snapshots}
}

// currentUser 读取认证用户，缺失时写回 401
func currentUser(c *gin.Context) (string, bool) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		logrus.Warn("Handler: User not found in context, middleware missing or failed?")
		ErrorResponse(c, http.StatusUnauthorized, "User not authenticated")
	}
	return user, ok
}

// sketchpadID 解析路径参数 :id，非法时写回 400
func sketchpadID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil || id == 0 {
		ErrorResponse(c, http.StatusBadRequest, "Invalid sketchpad ID format")
		return 0, false
	}
	return uint(id), true
}

// Create 处理 POST /api/sketchpads
func (h *SketchpadHandler) Create(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	sp, err := h.sketchpads.Create(c.Request.Context(), user)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusCreated, dto.NewSketchpadDTO(sp))
}

// Get 处理 GET /api/sketchpads/:id
func (h *SketchpadHandler) Get(c *gin.Context) {
	id, ok := sketchpadID(c)
	if !ok {
		return
	}
	sp, err := h.sketchpads.Get(c.Request.Context(), id)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, dto.NewSketchpadDTO(sp))
}

// SearchHistory 处理 GET /api/sketchpads/:id/strokes，返回已落库的笔画及删除标记
func (h *SketchpadHandler) SearchHistory(c *gin.Context) {
	id, ok := sketchpadID(c)
	if !ok {
		return
	}
	entries, err := h.sketchpads.SearchHistory(c.Request.Context(), id)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, gin.H{"strokes": entries})
}

// Join 处理 POST /api/sketchpads/:id/join，返回缓存中尚未落库的笔画
func (h *SketchpadHandler) Join(c *gin.Context) {
	id, ok := sketchpadID(c)
	if !ok {
		return
	}
	resp, err := h.sketchpads.JoinSession(c.Request.Context(), id)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, resp)
}

// Publish 处理 POST /api/sketchpads/:id/strokes
func (h *SketchpadHandler) Publish(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := sketchpadID(c)
	if !ok {
		return
	}
	var req dto.PublishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logrus.WithError(err).WithField("sketchpad_id", id).Warn("Handler.Publish: Invalid input format")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input", "details": err.Error()})
		return
	}
	if err := h.strokes.Publish(c.Request.Context(), id, user, req.StrokeActions); err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, gin.H{"published": len(req.StrokeActions)})
}

// Sync 处理 POST /api/sketchpads/sync，把所有缓存写入数据库
func (h *SketchpadHandler) Sync(c *gin.Context) {
	report, err := h.syncer.SyncCacheToDatabase(c.Request.Context())
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, gin.H{
		"sketchpads": report.Sketchpads,
		"strokes":    report.Strokes,
	})
}

// ExportPNG 处理 GET /api/sketchpads/:id/export.png
func (h *SketchpadHandler) ExportPNG(c *gin.Context) {
	id, ok := sketchpadID(c)
	if !ok {
		return
	}
	data, err := h.snapshots.ExportPNG(c.Request.Context(), id)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`inline; filename="sketchpad-%d.png"`, id))
	c.Data(http.StatusOK, "image/png", data)
}

// ExportPDF 处理 GET /api/sketchpads/:id/export.pdf
func (h *SketchpadHandler) ExportPDF(c *gin.Context) {
	id, ok := sketchpadID(c)
	if !ok {
		return
	}
	data, err := h.snapshots.ExportPDF(c.Request.Context(), id)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="sketchpad-%d.pdf"`, id))
	c.Data(http.StatusOK, "application/pdf", data)
}
