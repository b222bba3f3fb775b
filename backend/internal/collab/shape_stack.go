package collab

import (
	"bytes"
	"encoding/json"

	"drawServer/backend/internal/shape"
)

// ShapeStack 画板的图形序列 + 版本指针 top。
// - shapes[0..top] 是当前可见历史，top 之后是 redo 缓冲
// - 从 top 往下扫描，遇到 delete 墓碑即停止（clear 之前的内容不可见）
// - 新的编辑会先截断到 top+1，丢弃 redo 缓冲
//
// 不是并发安全的：由 hub 的事件循环独占。
type ShapeStack struct {
	shapes []shape.Shape
	top    int
}

func NewShapeStack() *ShapeStack {
	return &ShapeStack{top: -1}
}

// LoadStack 从持久化的 elements 恢复。null、空对象、空数组都视为空画板；
// 无法识别的元素跳过。持久化格式不保存 top，恢复时 top = len-1。
func LoadStack(elements []byte) *ShapeStack {
	st := NewShapeStack()
	elements = bytes.TrimSpace(elements)
	if len(elements) == 0 || elements[0] != '[' {
		return st
	}
	var raws []json.RawMessage
	if err := json.Unmarshal(elements, &raws); err != nil {
		return st
	}
	for _, raw := range raws {
		s, err := shape.Decode(raw)
		if err != nil {
			continue
		}
		st.shapes = append(st.shapes, s)
	}
	st.top = len(st.shapes) - 1
	return st
}

func (st *ShapeStack) Top() int { return st.top }
func (st *ShapeStack) Len() int { return len(st.shapes) }

func (st *ShapeStack) truncate() {
	if st.top+1 < len(st.shapes) {
		st.shapes = st.shapes[:st.top+1]
	}
}

func (st *ShapeStack) indexOf(id int64) int {
	for i := range st.shapes {
		if st.shapes[i].ID == id {
			return i
		}
	}
	return -1
}

// Add 追加新图形。id 已存在于保留部分时原地覆盖，保证 id 不重复。
func (st *ShapeStack) Add(s shape.Shape) {
	st.truncate()
	if i := st.indexOf(s.ID); i >= 0 && !s.IsTombstone() {
		st.shapes[i] = s
		return
	}
	st.shapes = append(st.shapes, s)
	st.top++
}

// MoveOrUpdate 按 id 覆盖（整个序列范围内查找），top 不变；找不到则忽略。
func (st *ShapeStack) MoveOrUpdate(s shape.Shape) bool {
	if s.IsTombstone() {
		return false
	}
	i := st.indexOf(s.ID)
	if i < 0 || st.shapes[i].IsTombstone() {
		return false
	}
	st.shapes[i] = s
	return true
}

func (st *ShapeStack) Undo() bool {
	if st.top < 0 {
		return false
	}
	st.top--
	return true
}

func (st *ShapeStack) Redo() bool {
	if st.top >= len(st.shapes)-1 {
		return false
	}
	st.top++
	return true
}

// Clear 在 top+1 放一个墓碑并把 top 指过去
func (st *ShapeStack) Clear(tombstoneID int64) {
	st.truncate()
	st.shapes = append(st.shapes, shape.Shape{ID: tombstoneID, Geom: shape.Tombstone{}})
	st.top++
}

// Erase 原地删除该 id；若位于 top 及以下，top 随之减一。墓碑只能通过 undo 撤掉
func (st *ShapeStack) Erase(id int64) bool {
	i := st.indexOf(id)
	if i < 0 || st.shapes[i].IsTombstone() {
		return false
	}
	st.shapes = append(st.shapes[:i], st.shapes[i+1:]...)
	if i <= st.top {
		st.top--
	}
	return true
}

// visibleFrom 返回可见区间的起始下标（含），区间为 [from, top]
func (st *ShapeStack) visibleFrom() int {
	i := st.top
	for ; i >= 0; i-- {
		if st.shapes[i].IsTombstone() {
			break
		}
	}
	return i + 1
}

// Visible 按绘制顺序（底 → 顶）返回当前可见图形
func (st *ShapeStack) Visible() []shape.Shape {
	from := st.visibleFrom()
	out := make([]shape.Shape, 0, st.top+1-from)
	out = append(out, st.shapes[from:st.top+1]...)
	return out
}

// HitTest 返回点 (x, y) 附近最上层的可见图形
func (st *ShapeStack) HitTest(x, y float64) (shape.Shape, bool) {
	from := st.visibleFrom()
	for i := st.top; i >= from; i-- {
		if shape.Near(st.shapes[i], x, y) {
			return st.shapes[i], true
		}
	}
	return shape.Shape{}, false
}

// Snapshot 复制完整序列（含墓碑与 redo 缓冲）
func (st *ShapeStack) Snapshot() []shape.Shape {
	out := make([]shape.Shape, len(st.shapes))
	copy(out, st.shapes)
	return out
}

func (st *ShapeStack) MarshalJSON() ([]byte, error) {
	if len(st.shapes) == 0 {
		return []byte("[]"), nil
	}
	return json.Marshal(st.shapes)
}
