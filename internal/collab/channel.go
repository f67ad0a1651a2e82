// Package collab 接收其他会话发布的笔画批次，去重后合并到本地日志并触发重绘。
package collab

import (
	"sync"

	"github.com/sirupsen/logrus"

	"collaborative-sketchpad/internal/domain"
	"collaborative-sketchpad/internal/dto"
	"collaborative-sketchpad/internal/strokelog"
)

// Renderer 是合并之后用来重绘的回放引擎。
type Renderer interface {
	Redraw(l *strokelog.Log)
	Replay(l *strokelog.Log, from, to int)
}

// Sink 是批次最终写入的会话状态。Lock 串行化对 Log 和画布的访问。
type Sink struct {
	Log      *strokelog.Log
	Renderer Renderer
	Lock     sync.Locker
}

// Outcome 描述一个批次的处理结果。
type Outcome int

const (
	OutcomeIgnored  Outcome = iota // 空批次或画板 id 不匹配
	OutcomeEcho                    // 本地用户自己发出的批次
	OutcomeQueued                  // 还没有监听者，暂存
	OutcomeDrawn                   // 追加并增量绘制
	OutcomeRedrawn                 // 含删除指令，追加后整体重绘
	OutcomeDuplicate               // 批次中的操作都已在日志中
)

func (o Outcome) String() string {
	switch o {
	case OutcomeIgnored:
		return "ignored"
	case OutcomeEcho:
		return "echo"
	case OutcomeQueued:
		return "queued"
	case OutcomeDrawn:
		return "drawn"
	case OutcomeRedrawn:
		return "redrawn"
	case OutcomeDuplicate:
		return "duplicate"
	}
	return "unknown"
}

// Channel 是一个会话对某块画板的订阅。
// 在会话完成加载之前收到的批次按到达顺序排队，Listen 时依次投递。
type Channel struct {
	mu          sync.Mutex
	sketchpadID uint
	localUser   string
	sink        *Sink
	queue       []dto.UpdateCanvasPayload
	log         *logrus.Entry
}

// NewChannel 创建频道。logger 为 nil 时使用标准 logger。
func NewChannel(sketchpadID uint, localUser string, logger *logrus.Entry) *Channel {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Channel{
		sketchpadID: sketchpadID,
		localUser:   localUser,
		log: logger.WithFields(logrus.Fields{
			"component":    "collab",
			"sketchpad_id": sketchpadID,
			"user":         localUser,
		}),
	}
}

// SketchpadID 返回订阅的画板 id。
func (c *Channel) SketchpadID() uint { return c.sketchpadID }

// DeliverRaw 解析传输层的 update_canvas 通知并投递。
func (c *Channel) DeliverRaw(raw []byte) (Outcome, error) {
	batch, err := dto.DecodeUpdateCanvas(raw)
	if err != nil {
		return OutcomeIgnored, err
	}
	return c.Deliver(batch), nil
}

// Deliver 投递一个批次。没有监听者时排队。
func (c *Channel) Deliver(batch dto.UpdateCanvasPayload) Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	if batch.SketchpadID != c.sketchpadID {
		c.log.WithField("batch_sketchpad_id", batch.SketchpadID).Debug("Ignoring batch for another sketchpad")
		return OutcomeIgnored
	}
	if c.sink == nil {
		c.queue = append(c.queue, batch)
		return OutcomeQueued
	}
	return c.deliverLocked(batch)
}

// Listen 挂上监听者，并按顺序投递之前排队的批次。
func (c *Channel) Listen(sink Sink) {
	if sink.Log == nil || sink.Renderer == nil {
		panic("collab sink requires a Log and a Renderer")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sink = &sink
	queued := c.queue
	c.queue = nil
	if len(queued) > 0 {
		c.log.WithField("queued_batches", len(queued)).Info("Delivering queued batches to listener")
	}
	for _, batch := range queued {
		c.deliverLocked(batch)
	}
}

// Leave 摘掉监听者，之后收到的批次重新排队。
func (c *Channel) Leave() {
	c.mu.Lock()
	c.sink = nil
	c.mu.Unlock()
}

func (c *Channel) deliverLocked(batch dto.UpdateCanvasPayload) Outcome {
	if c.sink.Lock != nil {
		c.sink.Lock.Lock()
		defer c.sink.Lock.Unlock()
	}
	outcome := Apply(c.sink.Log, c.sink.Renderer, c.localUser, batch.StrokeActions)
	c.log.WithFields(logrus.Fields{
		"actions": len(batch.StrokeActions),
		"outcome": outcome.String(),
	}).Debug("Remote batch handled")
	return outcome
}

// Apply 把一批远端操作合并进日志。
// 第一条操作属于 localUser 时整批忽略；(id, user) 已在日志中的操作跳过。其余操作 (包括删除指令本身) 都追加到日志；
// 含删除指令时逐条应用后整体重绘一次，否则只增量绘制新追加的部分，不会两种都做。
func Apply(l *strokelog.Log, r Renderer, localUser string, actions []domain.Action) Outcome {
	if len(actions) == 0 {
		return OutcomeIgnored
	}
	if actions[0].User == localUser {
		return OutcomeEcho
	}
	from := l.Len()
	incoming := make([]domain.Action, 0, len(actions))
	for _, a := range actions {
		// 加载时已从待同步缓存读到的操作会再次经广播到达
		if l.IndexOf(a.Key()) >= 0 {
			continue
		}
		incoming = append(incoming, a.Clone())
	}
	if len(incoming) == 0 {
		return OutcomeDuplicate
	}
	l.AppendRemote(incoming...)

	if !domain.ContainsDeletion(incoming) {
		r.Replay(l, from, l.Len())
		return OutcomeDrawn
	}
	for _, a := range incoming {
		if a.Kind.IsDeletion() && !a.Deleted {
			l.ApplyDeletion(a)
		}
	}
	r.Redraw(l)
	return OutcomeRedrawn
}
