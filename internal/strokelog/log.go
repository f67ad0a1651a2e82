// Package strokelog 保存一个画板会话的笔画操作日志：只追加、软删除、按用户分配 id。
//
// Log 本身不加锁，由所属会话串行访问。
package strokelog

import (
	mapset "github.com/deckarep/golang-set/v2"

	"collaborative-sketchpad/internal/domain"
)

// Log 是有序的操作序列。本地操作按产生顺序追加，远端操作按到达顺序追加。
type Log struct {
	actions []domain.Action
	hooks   []func(domain.Action)
}

// New 以给定操作创建日志 (保留原有 id/user/deleted)。
func New(actions ...domain.Action) *Log {
	l := &Log{}
	l.AppendRemote(actions...)
	return l
}

// Hydrate 用已持久化的操作和服务端缓存中尚未落库的操作构建日志，顺序为 persisted 在前。
// 缓存部分里的删除指令可能还没反映到持久化行的 deleted 列上，这里重新应用一遍 (幂等)。
func Hydrate(persisted, pending []domain.Action) *Log {
	l := New(persisted...)
	l.AppendRemote(pending...)
	for _, a := range pending {
		if a.Kind.IsDeletion() && !a.Deleted {
			l.ApplyDeletion(a)
		}
	}
	return l
}

// OnAppend 注册本地追加的回调 (同步缓冲区在这里登记待发送操作)。
func (l *Log) OnAppend(fn func(domain.Action)) {
	l.hooks = append(l.hooks, fn)
}

// NextID 返回 user 的下一个 id：该用户已有最大 id + 1，没有则为 0。
func (l *Log) NextID(user string) int {
	next := 0
	for i := range l.actions {
		if l.actions[i].User == user && l.actions[i].ID >= next {
			next = l.actions[i].ID + 1
		}
	}
	return next
}

// Append 追加一条本地操作并返回它。
func (l *Log) Append(kind domain.Kind, params domain.Params, user string) domain.Action {
	a := domain.Action{
		ID:     l.NextID(user),
		Kind:   kind,
		User:   user,
		Params: params,
	}
	l.actions = append(l.actions, a)
	for _, fn := range l.hooks {
		fn(a)
	}
	return a
}

// AppendRemote 原样追加远端操作，不触发同步回调。
func (l *Log) AppendRemote(actions ...domain.Action) {
	l.actions = append(l.actions, actions...)
}

// Len 返回日志长度。日志只增不减。
func (l *Log) Len() int { return len(l.actions) }

// At 返回第 i 条操作的副本。
func (l *Log) At(i int) domain.Action { return l.actions[i] }

// Actions 返回全部操作的副本。
func (l *Log) Actions() []domain.Action {
	return l.Slice(0, len(l.actions))
}

// Slice 返回 [from, to) 区间操作的副本。
func (l *Log) Slice(from, to int) []domain.Action {
	if from < 0 {
		from = 0
	}
	if to > len(l.actions) {
		to = len(l.actions)
	}
	if from >= to {
		return nil
	}
	out := make([]domain.Action, to-from)
	copy(out, l.actions[from:to])
	return out
}

// IndexOf 从后向前查找 key，找不到返回 -1。
func (l *Log) IndexOf(key domain.Key) int {
	return l.indexBefore(len(l.actions), key)
}

func (l *Log) indexBefore(end int, key domain.Key) int {
	for i := end - 1; i >= 0; i-- {
		if l.actions[i].ID == key.ID && l.actions[i].User == key.User {
			return i
		}
	}
	return -1
}

// SetDeleted 直接修改第 i 条的删除标记。
func (l *Log) SetDeleted(i int, deleted bool) {
	l.actions[i].Deleted = deleted
}

// MarkDeleted 把所有匹配 keys 的操作标记为 deleted，返回匹配条数。O(n)，幂等。
func (l *Log) MarkDeleted(keys mapset.Set[domain.Key], deleted bool) int {
	if keys == nil || keys.Cardinality() == 0 {
		return 0
	}
	n := 0
	for i := range l.actions {
		if keys.Contains(l.actions[i].Key()) {
			l.actions[i].Deleted = deleted
			n++
		}
	}
	return n
}

// MostRecentClearIndex 从后向前查找最近一条未删除的 clear，返回其下标；没有则返回 0。
// 从该下标开始回放与从头回放得到相同的画面。
func (l *Log) MostRecentClearIndex() int {
	for i := len(l.actions) - 1; i >= 0; i-- {
		if l.actions[i].Kind == domain.KindClear && !l.actions[i].Deleted {
			return i
		}
	}
	return 0
}

// ApplyDeletion 在日志上执行一条删除指令，返回状态发生变化的条数。
//
//   - deleteOne: 目标标记为删除。
//   - deleteMany: createdBy 在 [start, end] 内的操作标记为删除 (模板和 deleteMany 本身除外，
//     与撤销扫描跳过的类型一致)；其中新被删除的 deleteOne 的目标恢复；restore 引用恢复。
//
// 引用不存在时恢复步骤什么也不做，删除部分照常生效。
func (l *Log) ApplyDeletion(a domain.Action) int {
	if target, ok := a.DeleteTarget(); ok {
		return l.MarkDeleted(mapset.NewThreadUnsafeSet(target), true)
	}
	user, start, end, ok := a.DeleteRange()
	if !ok {
		return 0
	}
	changed := 0
	restore := mapset.NewThreadUnsafeSet[domain.Key]()
	for i := range l.actions {
		cur := &l.actions[i]
		if cur.User != user || cur.ID < start || cur.ID > end {
			continue
		}
		if cur.Kind == domain.KindTemplate || cur.Kind == domain.KindDeleteMany {
			continue
		}
		if cur.Deleted {
			continue
		}
		cur.Deleted = true
		changed++
		if target, ok := cur.DeleteTarget(); ok {
			restore.Add(target)
		}
	}
	if a.Params.Restore != nil {
		restore.Add(a.Params.Restore.Key())
	}
	for i := range l.actions {
		if l.actions[i].Deleted && restore.Contains(l.actions[i].Key()) {
			l.actions[i].Deleted = false
			changed++
		}
	}
	return changed
}

// RestoreBefore 从 end 向前查找 key 并取消其删除标记，用于撤销 deleteOne。
func (l *Log) RestoreBefore(end int, key domain.Key) bool {
	i := l.indexBefore(end, key)
	if i < 0 {
		return false
	}
	l.actions[i].Deleted = false
	return true
}
