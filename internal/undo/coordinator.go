// Package undo 撤销某个用户最近的一次原子手势。
package undo

import (
	"github.com/sirupsen/logrus"

	"collaborative-sketchpad/internal/domain"
	"collaborative-sketchpad/internal/strokelog"
)

// Result 是一次撤销扫描的结果。
type Result struct {
	User    string
	Start   int         // 被删除操作中最小的 id
	End     int         // 被删除操作中最大的 id
	Restore *domain.Ref // 被撤销的 deleteOne 所引用的目标 (移动操作的原图形)
	Deleted int         // 本次标记为删除的条数
}

// Empty 报告扫描是否什么也没有删除。
func (r Result) Empty() bool { return r.Deleted == 0 }

// Params 返回广播给其他会话的 deleteMany 参数。
func (r Result) Params() domain.Params {
	return domain.Params{
		Start:     domain.IntPtr(r.Start),
		End:       domain.IntPtr(r.End),
		CreatedBy: r.User,
		Restore:   r.Restore,
	}
}

// Coordinator 在日志上执行撤销扫描。
type Coordinator struct {
	log *logrus.Entry
}

// NewCoordinator 创建撤销协调器。
func NewCoordinator(logger *logrus.Entry) *Coordinator {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Coordinator{log: logger.WithField("component", "undo")}
}

// Scan 从日志末尾向前扫描 user 的操作并标记删除，直到一次手势被完整撤销：
//
//   - 跳过其他用户的、已删除的、deleteMany 和 template 操作。
//   - 遇到 deleteOne 时恢复它引用的目标。
//   - actionGroupEnd 进入分组，actionGroupStart 离开分组；分组内一直向前扫描。
//   - 不在分组内时，到达 actionGroupStart 或已删除两条独立操作就停止。
//
// id 窗口在继续扫描时保留，返回的 [Start, End] 覆盖本次删除的全部操作。
func (c *Coordinator) Scan(l *strokelog.Log, user string) Result {
	res := Result{User: user, Start: -1, End: -1}
	inGroup := false
	for i := l.Len() - 1; i >= 0; i-- {
		a := l.At(i)
		if a.User != user || a.Deleted || a.Kind == domain.KindDeleteMany || a.Kind == domain.KindTemplate {
			continue
		}
		if target, ok := a.DeleteTarget(); ok {
			res.Restore = &domain.Ref{LocalID: target.ID, CreatedBy: target.User}
			if !l.RestoreBefore(i, target) {
				c.log.WithFields(logrus.Fields{"user": user, "target": target.String()}).Debug("deleteOne target not found, nothing to restore")
			}
		}
		l.SetDeleted(i, true)
		res.Deleted++
		if res.Start < 0 || a.ID < res.Start {
			res.Start = a.ID
		}
		if a.ID > res.End {
			res.End = a.ID
		}

		switch a.Kind {
		case domain.KindGroupEnd:
			inGroup = true
		case domain.KindGroupStart:
			inGroup = false
		}
		if inGroup {
			continue
		}
		if a.Kind == domain.KindGroupStart || res.Deleted == 2 {
			break
		}
	}
	if res.Empty() {
		res.Start, res.End = 0, 0
	}
	return res
}
