package remote

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"collaborative-sketchpad/internal/collab"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8 << 20
)

// Deliverer 接收原始的 update_canvas 通知，由 collab.Channel 实现。
type Deliverer interface {
	DeliverRaw(raw []byte) (collab.Outcome, error)
}

// Transport 是连接到服务端画板频道的 WebSocket 客户端，把收到的通知投递给会话的协作频道。
type Transport struct {
	conn   *websocket.Conn
	target Deliverer
	log    *logrus.Entry

	done      chan struct{}
	closeOnce sync.Once
	writeMu   sync.Mutex
}

// WebSocketURL 把 http(s) 服务端地址转换成画板的 WebSocket 地址，token 通过查询参数传递。
func WebSocketURL(baseURL string, sketchpadID uint, token string) (string, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return "", fmt.Errorf("remote: parse base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("remote: unsupported scheme %q", u.Scheme)
	}
	u.Path = fmt.Sprintf("%s/ws/sketchpads/%d", u.Path, sketchpadID)
	if token != "" {
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// Dial 连接画板频道并开始读取。logger 为 nil 时使用标准 logger。
func Dial(ctx context.Context, baseURL string, sketchpadID uint, token string, target Deliverer, logger *logrus.Entry) (*Transport, error) {
	if target == nil {
		return nil, fmt.Errorf("remote: transport target is required")
	}
	wsURL, err := WebSocketURL(baseURL, sketchpadID, token)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("remote: dial sketchpad %d: %w (status %d)", sketchpadID, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("remote: dial sketchpad %d: %w", sketchpadID, err)
	}

	t := &Transport{
		conn:   conn,
		target: target,
		log:    logger.WithFields(logrus.Fields{"component": "transport", "sketchpad_id": sketchpadID}),
		done:   make(chan struct{}),
	}
	go t.readPump()
	go t.pingPump()
	t.log.Info("Transport connected")
	return t, nil
}

// Done 在连接断开后关闭。
func (t *Transport) Done() <-chan struct{} { return t.done }

// Close 发送关闭帧并断开连接。
func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.writeMu.Lock()
		_ = t.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		t.writeMu.Unlock()
		err = t.conn.Close()
		close(t.done)
	})
	return err
}

func (t *Transport) readPump() {
	defer t.Close()

	t.conn.SetReadLimit(maxMessageSize)
	_ = t.conn.SetReadDeadline(time.Now().Add(pongWait))
	t.conn.SetPongHandler(func(string) error {
		_ = t.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := t.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				t.log.WithError(err).Warn("Transport read error")
			} else {
				t.log.Debug("Transport connection closed")
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		outcome, err := t.target.DeliverRaw(message)
		if err != nil {
			// error 消息或其他类型的通知
			t.log.WithError(err).Debug("Ignoring non update_canvas message")
			continue
		}
		t.log.WithField("outcome", outcome.String()).Debug("Batch delivered")
	}
}

func (t *Transport) pingPump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			t.writeMu.Lock()
			err := t.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			t.writeMu.Unlock()
			if err != nil {
				t.log.WithError(err).Warn("Failed to send ping")
				t.Close()
				return
			}
		}
	}
}
