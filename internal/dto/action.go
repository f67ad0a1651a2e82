package dto

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"collaborative-sketchpad/internal/domain"
)

// 消息类型
const (
	TypeUpdateCanvas = "update_canvas"
	TypePublish      = "publish"
	TypeError        = "error"
)

// ErrUnexpectedType 表示收到的消息类型不是调用方期望的类型。
var ErrUnexpectedType = errors.New("dto: unexpected message type")

// UpdateCanvasPayload 是协作频道上一批笔画的载荷。
type UpdateCanvasPayload struct {
	SketchpadID   uint            `json:"sketchpad_id"`
	StrokeActions []domain.Action `json:"stroke_actions"`
}

// UpdateCanvasMessage 是服务端广播给同一画板所有连接的通知。
type UpdateCanvasMessage struct {
	Type    string              `json:"type"`
	Payload UpdateCanvasPayload `json:"payload"`
}

// NewUpdateCanvas 构造 update_canvas 通知。
func NewUpdateCanvas(sketchpadID uint, actions []domain.Action) UpdateCanvasMessage {
	return UpdateCanvasMessage{
		Type:    TypeUpdateCanvas,
		Payload: UpdateCanvasPayload{SketchpadID: sketchpadID, StrokeActions: actions},
	}
}

// DecodeUpdateCanvas 解析一条通知，类型不是 update_canvas 时返回 ErrUnexpectedType。
func DecodeUpdateCanvas(raw []byte) (UpdateCanvasPayload, error) {
	var msg UpdateCanvasMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return UpdateCanvasPayload{}, fmt.Errorf("dto: decode update_canvas: %w", err)
	}
	if msg.Type != TypeUpdateCanvas {
		return UpdateCanvasPayload{}, fmt.Errorf("%w: %q", ErrUnexpectedType, msg.Type)
	}
	return msg.Payload, nil
}

// ClientMessage 是客户端通过 WebSocket 发送的消息。目前只有 publish。
type ClientMessage struct {
	Type          string          `json:"type"`
	StrokeActions []domain.Action `json:"stroke_actions,omitempty"`
}

// PublishRequest 是 POST /api/sketchpads/:id/strokes 的请求体。
type PublishRequest struct {
	StrokeActions []domain.Action `json:"stroke_actions" binding:"required,min=1"`
}

// HistoryEntry 是历史查询返回的一行：笔画本身加上数据库中的删除标记。
type HistoryEntry struct {
	Stroke  domain.Action `json:"stroke"`
	Deleted bool          `json:"deleted"`
}

// JoinResponse 是加入会话时返回的、尚未落库的缓存笔画。
type JoinResponse struct {
	Strokes []domain.Action `json:"strokes"`
}

// SketchpadDTO 是对外暴露的画板信息，不包含快照内容。
type SketchpadDTO struct {
	ID         uint       `json:"id"`
	PublicID   string     `json:"public_id"`
	CreatedBy  string     `json:"created_by"`
	HasSnap    bool       `json:"has_snapshot"`
	SnapshotAt *time.Time `json:"snapshot_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// NewSketchpadDTO 从领域模型转换。
func NewSketchpadDTO(s *domain.Sketchpad) SketchpadDTO {
	return SketchpadDTO{
		ID:         s.ID,
		PublicID:   s.PublicID,
		CreatedBy:  s.CreatedBy,
		HasSnap:    s.Snapshot != "",
		SnapshotAt: s.SnapshotAt,
		CreatedAt:  s.CreatedAt,
	}
}

// ErrorDTO 表示发送给客户端的错误消息
type ErrorDTO struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewError 构造 ErrorDTO。
func NewError(message string) ErrorDTO {
	return ErrorDTO{Type: TypeError, Message: message}
}
