package domain

import (
	"fmt"
)

// Kind 是笔画操作的类型标签，取值与线上存储的 JSON "action" 字段保持一致，
// 以便旧日志可以直接回放。
type Kind string

const (
	KindSegment       Kind = "line"           // 直线段 (形状工具)
	KindFreehandLine  Kind = "line-freehand"  // 自由绘制的一段
	KindFreehandErase Kind = "erase-freehand" // 自由擦除的一段
	KindDot           Kind = "point"          // 单击画点
	KindFilledRect    Kind = "fillRect"       // 实心矩形
	KindArc           Kind = "arc"            // 实心圆
	KindText          Kind = "text"
	KindImage         Kind = "image"
	KindTemplate      Kind = "template" // 背景模板
	KindClear         Kind = "clear"
	KindResize        Kind = "resize"
	KindGroupStart    Kind = "actionGroupStart"
	KindGroupEnd      Kind = "actionGroupEnd"
	KindDeleteOne     Kind = "deleteOne"
	KindDeleteMany    Kind = "deleteMany"
)

var knownKinds = map[Kind]struct{}{
	KindSegment: {}, KindFreehandLine: {}, KindFreehandErase: {}, KindDot: {},
	KindFilledRect: {}, KindArc: {}, KindText: {}, KindImage: {}, KindTemplate: {},
	KindClear: {}, KindResize: {}, KindGroupStart: {}, KindGroupEnd: {},
	KindDeleteOne: {}, KindDeleteMany: {},
}

// Valid 报告该类型是否为已知类型。
func (k Kind) Valid() bool {
	_, ok := knownKinds[k]
	return ok
}

// IsPathSegment 报告该类型是否属于可以合并成一条路径绘制的线段类操作。
func (k Kind) IsPathSegment() bool {
	return k == KindSegment || k == KindFreehandLine || k == KindFreehandErase
}

// IsDeletion 报告该类型是否为删除指令。
func (k Kind) IsDeletion() bool {
	return k == KindDeleteOne || k == KindDeleteMany
}

// Point 是画布上的像素坐标。
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Add 返回平移后的坐标。
func (p Point) Add(dx, dy float64) Point {
	return Point{X: p.X + dx, Y: p.Y + dy}
}

// Key 唯一标识一条操作：(id, user)。id 只在同一用户内单调递增。
type Key struct {
	ID   int
	User string
}

func (k Key) String() string {
	return fmt.Sprintf("%s#%d", k.User, k.ID)
}

// Ref 是删除类操作对另一条操作的引用 (deleteOne 的目标，deleteMany 的 restore)。
type Ref struct {
	LocalID   int    `json:"localId"`
	CreatedBy string `json:"createdBy"`
}

// Key 将引用转换为 Key。
func (r Ref) Key() Key {
	return Key{ID: r.LocalID, User: r.CreatedBy}
}

// Params 是各类操作的参数载荷，全部字段可选。
type Params struct {
	InitialCoordinates *Point  `json:"initialCoordinates,omitempty"`
	CurrentCoordinates *Point  `json:"currentCoordinates,omitempty"`
	StrokeColor        string  `json:"strokeColor,omitempty"`
	LineWidth          float64 `json:"lineWidth,omitempty"`
	Radius             float64 `json:"radius,omitempty"`
	Text               string  `json:"text,omitempty"`
	Font               string  `json:"font,omitempty"`
	ImgSrc             string  `json:"imgSrc,omitempty"`
	Width              float64 `json:"width,omitempty"`
	Height             float64 `json:"height,omitempty"`

	// resize: 新版日志记录增量，旧版日志记录绝对高度
	DeltaHeight  float64 `json:"deltaHeight,omitempty"`
	CanvasHeight float64 `json:"canvasHeight,omitempty"`

	// deleteOne: LocalID + CreatedBy; deleteMany: Start..End + CreatedBy
	LocalID   *int   `json:"localId,omitempty"`
	CreatedBy string `json:"createdBy,omitempty"`
	Start     *int   `json:"start,omitempty"`
	End       *int   `json:"end,omitempty"`
	Restore   *Ref   `json:"restore,omitempty"`
}

// Action 是笔画日志中的一条记录。追加之后只有 Deleted 标记可以改变。
type Action struct {
	ID      int    `json:"id"`
	Kind    Kind   `json:"action"`
	User    string `json:"user"`
	Params  Params `json:"params"`
	Deleted bool   `json:"deleted,omitempty"`
}

// Key 返回 (id, user)。
func (a Action) Key() Key {
	return Key{ID: a.ID, User: a.User}
}

// DeleteTarget 返回 deleteOne 指向的目标。
func (a Action) DeleteTarget() (Key, bool) {
	if a.Kind != KindDeleteOne || a.Params.LocalID == nil {
		return Key{}, false
	}
	return Key{ID: *a.Params.LocalID, User: a.Params.CreatedBy}, true
}

// DeleteRange 返回 deleteMany 覆盖的用户和闭区间 [start, end]。
func (a Action) DeleteRange() (user string, start, end int, ok bool) {
	if a.Kind != KindDeleteMany || a.Params.Start == nil || a.Params.End == nil {
		return "", 0, 0, false
	}
	return a.Params.CreatedBy, *a.Params.Start, *a.Params.End, true
}

// Clone 返回深拷贝，选择/拖动时修改坐标不会影响日志中的原记录。
func (a Action) Clone() Action {
	c := a
	c.Params = a.Params.clone()
	return c
}

func (p Params) clone() Params {
	c := p
	if p.InitialCoordinates != nil {
		v := *p.InitialCoordinates
		c.InitialCoordinates = &v
	}
	if p.CurrentCoordinates != nil {
		v := *p.CurrentCoordinates
		c.CurrentCoordinates = &v
	}
	if p.LocalID != nil {
		v := *p.LocalID
		c.LocalID = &v
	}
	if p.Start != nil {
		v := *p.Start
		c.Start = &v
	}
	if p.End != nil {
		v := *p.End
		c.End = &v
	}
	if p.Restore != nil {
		v := *p.Restore
		c.Restore = &v
	}
	return c
}

// IntPtr 是构造可选 id 参数的小工具。
func IntPtr(v int) *int { return &v }

// PointPtr 同上，用于坐标。
func PointPtr(p Point) *Point { return &p }

// ContainsDeletion 报告一批操作中是否包含删除指令。
func ContainsDeletion(actions []Action) bool {
	for _, a := range actions {
		if a.Kind.IsDeletion() {
			return true
		}
	}
	return false
}
