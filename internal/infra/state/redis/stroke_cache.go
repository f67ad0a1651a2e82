package redisstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"collaborative-sketchpad/internal/domain"
	"collaborative-sketchpad/internal/repository"
)

// RedisStrokeCache 是 StrokeCache 接口的 Redis 实现。
// 每个画板一个 list 保存待同步笔画，一个 set 记录待同步的画板，一个计数器记录全局笔画数。
type RedisStrokeCache struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisStrokeCache 创建 RedisStrokeCache 实例
func NewRedisStrokeCache(client *redis.Client, keyPrefix string) *RedisStrokeCache {
	if client == nil {
		panic("redis client cannot be nil for RedisStrokeCache")
	}
	if keyPrefix == "" {
		keyPrefix = "sp:"
	}
	return &RedisStrokeCache{client: client, keyPrefix: keyPrefix}
}

// --- Key Generation Helpers ---
func (r *RedisStrokeCache) strokesKey(sketchpadID uint) string {
	return fmt.Sprintf("%ssketchpad:%d:strokes", r.keyPrefix, sketchpadID)
}

func (r *RedisStrokeCache) dirtyKey() string {
	return r.keyPrefix + "strokes:dirty"
}

// corruptKey 存放无法解析的缓存条目，留待人工处理
func (r *RedisStrokeCache) corruptKey(sketchpadID uint) string {
	return fmt.Sprintf("%ssketchpad:%d:strokes:corrupt", r.keyPrefix, sketchpadID)
}

func (r *RedisStrokeCache) totalKey() string {
	return r.keyPrefix + "strokes:total"
}

// PubSubChannel 返回画板的 Pub/Sub 频道名
func (r *RedisStrokeCache) PubSubChannel(sketchpadID uint) string {
	return fmt.Sprintf("%ssketchpad:%d:pubsub", r.keyPrefix, sketchpadID)
}

// Append 追加一批笔画并返回全局缓存长度
func (r *RedisStrokeCache) Append(ctx context.Context, sketchpadID uint, actions []domain.Action) (int64, error) {
	if len(actions) == 0 {
		return r.TotalLength(ctx)
	}
	values, err := encodeActions(actions)
	if err != nil {
		return 0, err
	}
	var total *redis.IntCmd
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, r.strokesKey(sketchpadID), values...)
		pipe.SAdd(ctx, r.dirtyKey(), sketchpadID)
		total = pipe.IncrBy(ctx, r.totalKey(), int64(len(values)))
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("redis: append %d strokes to sketchpad %d: %w", len(values), sketchpadID, err)
	}
	return total.Val(), nil
}

// Pending 读取画板缓存，跳过无法解析的条目
func (r *RedisStrokeCache) Pending(ctx context.Context, sketchpadID uint) ([]domain.Action, error) {
	raw, err := r.client.LRange(ctx, r.strokesKey(sketchpadID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: read pending strokes for sketchpad %d: %w", sketchpadID, err)
	}
	actions, bad := splitDecoded(raw)
	if len(bad) > 0 {
		logrus.WithFields(logrus.Fields{"sketchpad_id": sketchpadID, "skipped": len(bad)}).Warn("Skipping malformed cached strokes")
	}
	return actions, nil
}

// DirtySketchpads 返回有待同步笔画的画板
func (r *RedisStrokeCache) DirtySketchpads(ctx context.Context) ([]uint, error) {
	members, err := r.client.SMembers(ctx, r.dirtyKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: read dirty sketchpads: %w", err)
	}
	ids := make([]uint, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseUint(m, 10, 64)
		if err != nil {
			logrus.WithField("member", m).Warn("Ignoring malformed dirty sketchpad id")
			continue
		}
		ids = append(ids, uint(id))
	}
	return ids, nil
}

// Take 在一个事务中读出并删除画板缓存，然后扣减全局计数。
// 无法解析的条目移到 corrupt 列表；移动失败时整批原样放回缓存头部。
func (r *RedisStrokeCache) Take(ctx context.Context, sketchpadID uint) ([]domain.Action, error) {
	key := r.strokesKey(sketchpadID)
	var items *redis.StringSliceCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		items = pipe.LRange(ctx, key, 0, -1)
		pipe.Del(ctx, key)
		pipe.SRem(ctx, r.dirtyKey(), sketchpadID)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("redis: take strokes for sketchpad %d: %w", sketchpadID, err)
	}
	raw := items.Val()
	if len(raw) == 0 {
		return []domain.Action{}, nil
	}
	logCtx := logrus.WithField("sketchpad_id", sketchpadID)

	actions, bad := splitDecoded(raw)
	if len(bad) > 0 {
		if err := r.client.RPush(ctx, r.corruptKey(sketchpadID), bad...).Err(); err != nil {
			values := make([]interface{}, len(raw))
			for i, v := range raw {
				values[i] = v
			}
			if rqErr := r.pushHead(ctx, sketchpadID, values, false); rqErr != nil {
				logCtx.WithError(rqErr).Error("Failed to restore taken strokes, cached strokes lost")
			}
			return nil, fmt.Errorf("redis: move %d malformed strokes for sketchpad %d: %w", len(bad), sketchpadID, err)
		}
		logCtx.WithField("malformed", len(bad)).Warn("Moved malformed cached strokes aside")
	}
	if err := r.client.DecrBy(ctx, r.totalKey(), int64(len(raw))).Err(); err != nil {
		logCtx.WithError(err).Warn("Failed to decrement stroke total after take")
	}
	return actions, nil
}

// Requeue 把取出的笔画放回缓存头部，保持原顺序
func (r *RedisStrokeCache) Requeue(ctx context.Context, sketchpadID uint, actions []domain.Action) error {
	if len(actions) == 0 {
		return nil
	}
	values, err := encodeActions(actions)
	if err != nil {
		return err
	}
	return r.pushHead(ctx, sketchpadID, values, true)
}

// pushHead 把 values 按原顺序插到缓存头部。countTotal 为 false 时不改全局计数 (计数尚未扣减)。
func (r *RedisStrokeCache) pushHead(ctx context.Context, sketchpadID uint, values []interface{}, countTotal bool) error {
	// LPUSH 逐个插到头部，倒序传入才能保持原顺序
	reversed := make([]interface{}, len(values))
	for i, v := range values {
		reversed[len(values)-1-i] = v
	}
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, r.strokesKey(sketchpadID), reversed...)
		pipe.SAdd(ctx, r.dirtyKey(), sketchpadID)
		if countTotal {
			pipe.IncrBy(ctx, r.totalKey(), int64(len(values)))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: requeue %d strokes for sketchpad %d: %w", len(values), sketchpadID, err)
	}
	return nil
}

// TotalLength 返回全局缓存笔画数，key 不存在时为 0
func (r *RedisStrokeCache) TotalLength(ctx context.Context) (int64, error) {
	n, err := r.client.Get(ctx, r.totalKey()).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis: read stroke total: %w", err)
	}
	return n, nil
}

// PublishUpdate 在画板频道上发布消息
func (r *RedisStrokeCache) PublishUpdate(ctx context.Context, sketchpadID uint, payload []byte) error {
	channel := r.PubSubChannel(sketchpadID)
	if err := r.client.Publish(ctx, channel, payload).Err(); err != nil {
		logrus.WithFields(logrus.Fields{
			"channel":      channel,
			"payload_size": len(payload),
			"sketchpad_id": sketchpadID,
		}).WithError(err).Error("Redis Publish failed")
		return fmt.Errorf("redis: failed to publish to channel %s: %w", channel, err)
	}
	return nil
}

// Subscribe 订阅画板频道并等待订阅确认
func (r *RedisStrokeCache) Subscribe(ctx context.Context, sketchpadID uint) repository.Subscription {
	channel := r.PubSubChannel(sketchpadID)
	ps := r.client.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		logrus.WithError(err).WithField("channel", channel).Warn("Subscription not confirmed, messages may be delayed")
	}
	return newRedisSubscription(ps)
}

// CheckRateLimit 检查给定 key 的请求频率是否超限，并递增计数。
func (r *RedisStrokeCache) CheckRateLimit(ctx context.Context, key string, limit int, duration time.Duration) (bool, error) {
	pipe := r.client.Pipeline()
	incrCmd := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, duration)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("redis: pipeline failed for rate limit check on key %s: %w", key, err)
	}
	return incrCmd.Val() > int64(limit), nil
}

// redisSubscription 把 go-redis 的消息通道转换成负载通道
type redisSubscription struct {
	ps   *redis.PubSub
	out  chan []byte
	done chan struct{}
	once sync.Once
}

func newRedisSubscription(ps *redis.PubSub) *redisSubscription {
	s := &redisSubscription{ps: ps, out: make(chan []byte, 64), done: make(chan struct{})}
	go s.pump()
	return s
}

func (s *redisSubscription) pump() {
	defer close(s.out)
	for msg := range s.ps.Channel() {
		select {
		case s.out <- []byte(msg.Payload):
		case <-s.done:
			return
		}
	}
}

func (s *redisSubscription) Messages() <-chan []byte { return s.out }

func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.ps.Close()
	})
	return err
}

func encodeActions(actions []domain.Action) ([]interface{}, error) {
	values := make([]interface{}, 0, len(actions))
	for _, a := range actions {
		b, err := json.Marshal(a)
		if err != nil {
			return nil, fmt.Errorf("redis: marshal stroke %s: %w", a.Key(), err)
		}
		values = append(values, string(b))
	}
	return values, nil
}

// splitDecoded 解析缓存条目，返回解析成功的操作和无法解析的原始条目
func splitDecoded(raw []string) ([]domain.Action, []interface{}) {
	actions := make([]domain.Action, 0, len(raw))
	var bad []interface{}
	for _, item := range raw {
		var a domain.Action
		if err := json.Unmarshal([]byte(item), &a); err != nil {
			bad = append(bad, item)
			continue
		}
		actions = append(actions, a)
	}
	return actions, bad
}
