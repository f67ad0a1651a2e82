// Package remote 让本地会话通过服务端 REST API 和 WebSocket 与其他协作者交换笔画。
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"collaborative-sketchpad/internal/domain"
	"collaborative-sketchpad/internal/dto"
	"collaborative-sketchpad/internal/syncbuf"
)

const defaultTimeout = 15 * time.Second

// APIError 是服务端返回的非 2xx 响应。
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("remote: server returned %d: %s", e.Status, e.Message)
}

// IsStatus 报告 err 是否为指定状态码的 APIError。
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}

var _ syncbuf.Store = (*HTTPStore)(nil)

// HTTPStore 通过 REST API 实现会话的持久化存储接口。
type HTTPStore struct {
	baseURL string
	token   string
	client  *http.Client
}

// Option 配置 HTTPStore。
type Option func(*HTTPStore)

// WithHTTPClient 替换默认的 http.Client。
func WithHTTPClient(c *http.Client) Option {
	return func(s *HTTPStore) { s.client = c }
}

// NewHTTPStore 创建 HTTPStore。baseURL 形如 http://localhost:8080，token 是 JWT。
func NewHTTPStore(baseURL, token string, opts ...Option) *HTTPStore {
	s := &HTTPStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// BaseURL 返回服务端地址。
func (s *HTTPStore) BaseURL() string { return s.baseURL }

// Token 返回当前使用的 JWT。
func (s *HTTPStore) Token() string { return s.token }

// LoadHistory 读取已落库的笔画。
func (s *HTTPStore) LoadHistory(ctx context.Context, sketchpadID uint) ([]dto.HistoryEntry, error) {
	var resp struct {
		Strokes []dto.HistoryEntry `json:"strokes"`
	}
	if err := s.do(ctx, http.MethodGet, fmt.Sprintf("/api/sketchpads/%d/strokes", sketchpadID), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Strokes, nil
}

// LoadPendingCache 加入会话并读取缓存中尚未落库的笔画。
func (s *HTTPStore) LoadPendingCache(ctx context.Context, sketchpadID uint) ([]domain.Action, error) {
	var resp dto.JoinResponse
	if err := s.do(ctx, http.MethodPost, fmt.Sprintf("/api/sketchpads/%d/join", sketchpadID), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Strokes, nil
}

// Publish 发布一批本地笔画。
func (s *HTTPStore) Publish(ctx context.Context, sketchpadID uint, actions []domain.Action) error {
	body := dto.PublishRequest{StrokeActions: actions}
	return s.do(ctx, http.MethodPost, fmt.Sprintf("/api/sketchpads/%d/strokes", sketchpadID), body, nil)
}

// SyncCacheToDatabase 请求服务端把缓存写入数据库。
func (s *HTTPStore) SyncCacheToDatabase(ctx context.Context) error {
	return s.do(ctx, http.MethodPost, "/api/sketchpads/sync", nil, nil)
}

// Guest 申请访客身份，并让之后的请求使用新的 token。
func (s *HTTPStore) Guest(ctx context.Context) (string, error) {
	var resp struct {
		Token string `json:"token"`
		User  string `json:"user"`
	}
	if err := s.do(ctx, http.MethodPost, "/api/auth/guest", nil, &resp); err != nil {
		return "", err
	}
	s.token = resp.Token
	return resp.User, nil
}

// CreateSketchpad 创建一块新画板。
func (s *HTTPStore) CreateSketchpad(ctx context.Context) (dto.SketchpadDTO, error) {
	var resp dto.SketchpadDTO
	err := s.do(ctx, http.MethodPost, "/api/sketchpads", nil, &resp)
	return resp, err
}

// Export 下载服务端渲染的画板，format 为 png 或 pdf。
func (s *HTTPStore) Export(ctx context.Context, sketchpadID uint, format string) ([]byte, error) {
	req, err := s.newRequest(ctx, http.MethodGet, fmt.Sprintf("/api/sketchpads/%d/export.%s", sketchpadID, format), nil)
	if err != nil {
		return nil, err
	}
	res, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("remote: export sketchpad %d: %w", sketchpadID, err)
	}
	defer res.Body.Close()
	if err := checkStatus(res); err != nil {
		return nil, err
	}
	return io.ReadAll(res.Body)
}

func (s *HTTPStore) newRequest(ctx context.Context, method, path string, body interface{}) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("remote: encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("remote: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	return req, nil
}

// do 发送 JSON 请求，out 非空时解码响应体
func (s *HTTPStore) do(ctx context.Context, method, path string, body, out interface{}) error {
	req, err := s.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	res, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("remote: %s %s: %w", method, path, err)
	}
	defer res.Body.Close()
	if err := checkStatus(res); err != nil {
		return err
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, res.Body)
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("remote: decode %s %s: %w", method, path, err)
	}
	return nil
}

func checkStatus(res *http.Response) error {
	if res.StatusCode >= 200 && res.StatusCode < 300 {
		return nil
	}
	var body struct {
		Error string `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
	if err := json.Unmarshal(data, &body); err != nil || body.Error == "" {
		body.Error = strings.TrimSpace(string(data))
	}
	return &APIError{Status: res.StatusCode, Message: body.Error}
}
