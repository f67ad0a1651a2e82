package hub

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"collaborative-sketchpad/internal/domain"
	"collaborative-sketchpad/internal/dto"
	"collaborative-sketchpad/internal/repository"
)

// 包级别的 WebSocket 常量，供 hub 和 client 使用
const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// 笔画批次里可能带有图片 data URI
	maxMessageSize = 8 << 20

	publishTimeout = 10 * time.Second
)

// Hub 内部消息类型
const (
	MessageRegister   = "register"
	MessageUnregister = "unregister"
	MessagePublish    = "publish"
)

// HubMessage 定义了在 Hub 内部通道传递的消息
type HubMessage struct {
	Type    string
	Client  *Client
	RawData []byte // 仅用于 publish (原始 WebSocket 消息)
}

// Publisher 接收客户端发布的笔画，由 service.StrokeService 实现。
type Publisher interface {
	Publish(ctx context.Context, sketchpadID uint, publisher string, actions []domain.Action) error
}

// Subscriber 订阅画板频道，由 Redis 笔画缓存实现。
type Subscriber interface {
	Subscribe(ctx context.Context, sketchpadID uint) repository.Subscription
}

// Hub 维护每个画板的连接集合。每个有连接的画板持有一个频道订阅，
// 收到的 update_canvas 消息转发给该画板的所有连接 (包括发布者自己，客户端自行忽略回声)。
type Hub struct {
	messageChan chan HubMessage

	// map[sketchpadID]map[*Client]bool
	sketchpads   map[uint]map[*Client]bool
	sketchpadsMu sync.RWMutex

	subs   map[uint]repository.Subscription
	subsMu sync.Mutex

	publisher  Publisher
	subscriber Subscriber
}

// NewHub 创建并返回一个新的 Hub 实例
func NewHub(publisher Publisher, subscriber Subscriber) *Hub {
	if publisher == nil {
		panic("Publisher cannot be nil for Hub")
	}
	if subscriber == nil {
		panic("Subscriber cannot be nil for Hub")
	}
	return &Hub{
		messageChan: make(chan HubMessage, 512),
		sketchpads:  make(map[uint]map[*Client]bool),
		subs:        make(map[uint]repository.Subscription),
		publisher:   publisher,
		subscriber:  subscriber,
	}
}

// Run 启动 Hub 的主事件循环，应在单独的 goroutine 中运行。
func (h *Hub) Run() {
	log := logrus.WithField("component", "hub")
	log.Info("Hub is running...")
	for msg := range h.messageChan {
		switch msg.Type {
		case MessageRegister:
			h.registerClient(msg.Client)
		case MessageUnregister:
			h.unregisterClient(msg.Client)
		case MessagePublish:
			// 发布涉及 Redis 和数据库，不阻塞主循环
			go h.handlePublish(msg)
		default:
			log.Warnf("Hub: Received unknown message type: %s", msg.Type)
		}
	}
	log.Info("Hub is shutting down...")
}

func (h *Hub) registerClient(client *Client) {
	if client == nil {
		logrus.Error("Hub: Attempted to register a nil client")
		return
	}
	id := client.SketchpadID()
	logCtx := logrus.WithFields(logrus.Fields{
		"sketchpad_id": id,
		"user":         client.User(),
		"action":       "registerClient",
	})

	h.sketchpadsMu.Lock()
	first := false
	if _, ok := h.sketchpads[id]; !ok {
		h.sketchpads[id] = make(map[*Client]bool)
		first = true
	}
	h.sketchpads[id][client] = true
	h.sketchpadsMu.Unlock()
	logCtx.Info("Client registered to Hub")

	if first {
		h.startSubscription(id)
	}
}

func (h *Hub) unregisterClient(client *Client) {
	if client == nil {
		logrus.Error("Hub: Attempted to unregister a nil client")
		return
	}
	id := client.SketchpadID()
	logCtx := logrus.WithFields(logrus.Fields{
		"sketchpad_id": id,
		"user":         client.User(),
		"action":       "unregisterClient",
	})

	h.sketchpadsMu.Lock()
	empty := false
	if clients, ok := h.sketchpads[id]; ok {
		if _, exists := clients[client]; exists {
			delete(clients, client)
			client.closeSend()
			if len(clients) == 0 {
				delete(h.sketchpads, id)
				empty = true
			}
		} else {
			logCtx.Warn("Client not found in sketchpad during unregister")
		}
	} else {
		logCtx.Warn("Sketchpad not found during client unregister")
	}
	h.sketchpadsMu.Unlock()
	logCtx.Info("Client unregistered from Hub")

	if empty {
		h.stopSubscription(id)
		logCtx.Info("Sketchpad has no more clients, subscription stopped")
	}
}

// startSubscription 订阅画板频道并把消息转发给画板的所有连接
func (h *Hub) startSubscription(id uint) {
	h.subsMu.Lock()
	if _, ok := h.subs[id]; ok {
		h.subsMu.Unlock()
		return
	}
	sub := h.subscriber.Subscribe(context.Background(), id)
	h.subs[id] = sub
	h.subsMu.Unlock()

	go func() {
		for payload := range sub.Messages() {
			h.broadcast(id, payload)
		}
		logrus.WithField("sketchpad_id", id).Debug("Subscription forwarder exited")
	}()
}

func (h *Hub) stopSubscription(id uint) {
	h.subsMu.Lock()
	sub, ok := h.subs[id]
	delete(h.subs, id)
	h.subsMu.Unlock()
	if ok {
		if err := sub.Close(); err != nil {
			logrus.WithError(err).WithField("sketchpad_id", id).Warn("Failed to close subscription")
		}
	}
}

// StopAllSubscriptions 关闭所有频道订阅，用于优雅关闭。
func (h *Hub) StopAllSubscriptions() {
	h.subsMu.Lock()
	subs := h.subs
	h.subs = make(map[uint]repository.Subscription)
	h.subsMu.Unlock()
	for id, sub := range subs {
		if err := sub.Close(); err != nil {
			logrus.WithError(err).WithField("sketchpad_id", id).Warn("Failed to close subscription")
		}
	}
	logrus.WithField("count", len(subs)).Info("All hub subscriptions stopped")
}

// handlePublish 解析客户端消息并发布其中的笔画
func (h *Hub) handlePublish(msg HubMessage) {
	client := msg.Client
	logCtx := logrus.WithFields(logrus.Fields{
		"sketchpad_id": client.SketchpadID(),
		"user":         client.User(),
		"operation":    "handlePublish",
	})

	var in dto.ClientMessage
	if err := json.Unmarshal(msg.RawData, &in); err != nil {
		logCtx.WithError(err).Warn("Invalid client message")
		client.sendError("invalid message")
		return
	}
	if in.Type != dto.TypePublish {
		logCtx.WithField("type", in.Type).Warn("Unsupported client message type")
		client.sendError("unsupported message type")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := h.publisher.Publish(ctx, client.SketchpadID(), client.User(), in.StrokeActions); err != nil {
		logCtx.WithError(err).Warn("Publish from websocket failed")
		client.sendError(err.Error())
		return
	}
	logCtx.WithField("count", len(in.StrokeActions)).Debug("Strokes published from websocket")
}

// broadcast 把消息发给画板的所有连接
func (h *Hub) broadcast(id uint, message []byte) {
	h.sketchpadsMu.RLock()
	clients := make([]*Client, 0, len(h.sketchpads[id]))
	for c := range h.sketchpads[id] {
		clients = append(clients, c)
	}
	h.sketchpadsMu.RUnlock()
	if len(clients) == 0 {
		return
	}

	logCtx := logrus.WithFields(logrus.Fields{
		"sketchpad_id":    id,
		"message_size":    len(message),
		"recipient_count": len(clients),
	})
	logCtx.Debug("Broadcasting message to clients")
	for _, c := range clients {
		if !c.trySend(message) {
			logCtx.WithField("receiver", c.User()).Warn("Client send channel full during broadcast, skipping this client")
		}
	}
}

// QueueMessage 将消息放入 Hub 的处理队列 (非阻塞)，队列满时返回 false。
func (h *Hub) QueueMessage(msg HubMessage) bool {
	select {
	case h.messageChan <- msg:
		return true
	default:
		logrus.WithField("message_type", msg.Type).Warn("Hub message channel full, dropping message")
		return false
	}
}

// ActiveSketchpadIDs 返回当前有连接的画板，按 ID 升序。
func (h *Hub) ActiveSketchpadIDs() []uint {
	h.sketchpadsMu.RLock()
	ids := make([]uint, 0, len(h.sketchpads))
	for id := range h.sketchpads {
		ids = append(ids, id)
	}
	h.sketchpadsMu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// ClientCount 返回画板当前的连接数。
func (h *Hub) ClientCount(sketchpadID uint) int {
	h.sketchpadsMu.RLock()
	defer h.sketchpadsMu.RUnlock()
	return len(h.sketchpads[sketchpadID])
}
