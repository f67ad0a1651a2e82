package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// 任务类型
const (
	TypeStrokeSync            = "stroke:sync"             // 把 Redis 缓存中的笔画写入数据库
	TypeSketchpadSnapshot     = "sketchpad:snapshot"      // 重新渲染单个画板的快照
	TypeSnapshotPeriodicCheck = "snapshot:periodic_check" // 周期性检查活跃/过期画板的快照
)

// 同一时间窗口内重复的同步请求只入队一次
const syncUniqueWindow = 5 * time.Second

// SnapshotPayload 是 sketchpad:snapshot 任务的数据
type SnapshotPayload struct {
	SketchpadID uint `json:"sketchpad_id"`
}

// NewStrokeSyncTask 创建同步任务。同步总是处理所有待同步画板，因此没有负载。
func NewStrokeSyncTask() *asynq.Task {
	return asynq.NewTask(TypeStrokeSync, nil)
}

// NewSnapshotTask 创建单个画板的快照任务
func NewSnapshotTask(sketchpadID uint) (*asynq.Task, error) {
	payload, err := json.Marshal(SnapshotPayload{SketchpadID: sketchpadID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeSketchpadSnapshot, payload), nil
}

// ParseSnapshotPayload 解析 sketchpad:snapshot 任务的数据
func ParseSnapshotPayload(t *asynq.Task) (SnapshotPayload, error) {
	var p SnapshotPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return p, err
	}
	if p.SketchpadID == 0 {
		return p, errors.New("tasks: snapshot payload without sketchpad id")
	}
	return p, nil
}

// NewSnapshotPeriodicCheckTask 创建周期性快照检查任务
func NewSnapshotPeriodicCheckTask() *asynq.Task {
	return asynq.NewTask(TypeSnapshotPeriodicCheck, nil)
}

// Enqueuer 用 asynq 客户端实现 service.TaskEnqueuer。
type Enqueuer struct {
	client *asynq.Client
}

func NewEnqueuer(client *asynq.Client) *Enqueuer {
	if client == nil {
		panic("asynq client cannot be nil for Enqueuer")
	}
	return &Enqueuer{client: client}
}

// EnqueueStrokeSync 请求一次缓存落库。窗口内已有同样的任务时视为成功。
func (e *Enqueuer) EnqueueStrokeSync(ctx context.Context) error {
	_, err := e.client.EnqueueContext(ctx, NewStrokeSyncTask(),
		asynq.Queue("critical"), asynq.Unique(syncUniqueWindow), asynq.MaxRetry(3))
	if err != nil && !errors.Is(err, asynq.ErrDuplicateTask) {
		return fmt.Errorf("enqueue %s: %w", TypeStrokeSync, err)
	}
	return nil
}

// EnqueueSnapshot 请求刷新一个画板的快照
func (e *Enqueuer) EnqueueSnapshot(ctx context.Context, sketchpadID uint) error {
	task, err := NewSnapshotTask(sketchpadID)
	if err != nil {
		return fmt.Errorf("build %s task: %w", TypeSketchpadSnapshot, err)
	}
	_, err = e.client.EnqueueContext(ctx, task,
		asynq.Queue("low"), asynq.Unique(time.Minute), asynq.MaxRetry(2))
	if err != nil && !errors.Is(err, asynq.ErrDuplicateTask) {
		return fmt.Errorf("enqueue %s: %w", TypeSketchpadSnapshot, err)
	}
	return nil
}
