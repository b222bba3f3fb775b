package collab

import (
	"encoding/json"
	"testing"

	"github.com/go-playground/assert/v2"

	"drawServer/backend/internal/shape"
)

func rect(id int64) shape.Shape {
	return shape.Shape{ID: id, Color: "black", Geom: shape.Rect{X: 0, Y: 0, Width: 100, Height: 100}}
}

func circle(id int64) shape.Shape {
	return shape.Shape{ID: id, Color: "black", Geom: shape.Circle{CenterX: 0, CenterY: 0, Radius: 10}}
}

func ids(list []shape.Shape) []int64 {
	out := make([]int64, 0, len(list))
	for _, s := range list {
		out = append(out, s.ID)
	}
	return out
}

func TestUndoRedoRestoresVisiblePrefix(t *testing.T) {
	st := NewShapeStack()
	st.Add(rect(1))
	st.Add(circle(2))
	st.Add(rect(3))
	before := ids(st.Visible())

	assert.Equal(t, st.Undo(), true)
	assert.Equal(t, st.Undo(), true)
	assert.Equal(t, ids(st.Visible()), []int64{1})

	assert.Equal(t, st.Redo(), true)
	assert.Equal(t, st.Redo(), true)
	assert.Equal(t, st.Redo(), false)
	assert.Equal(t, ids(st.Visible()), before)
}

func TestUndoAtBottomIsNoop(t *testing.T) {
	st := NewShapeStack()
	assert.Equal(t, st.Undo(), false)
	assert.Equal(t, st.Top(), -1)
	assert.Equal(t, len(st.Visible()), 0)
}

func TestAddTruncatesRedoBuffer(t *testing.T) {
	st := NewShapeStack()
	st.Add(rect(1))
	st.Add(rect(2))
	st.Undo()
	st.Add(rect(3))
	assert.Equal(t, ids(st.Snapshot()), []int64{1, 3})
	assert.Equal(t, st.Redo(), false)
}

func TestAddExistingIDReplacesInPlace(t *testing.T) {
	st := NewShapeStack()
	st.Add(rect(1))
	st.Add(rect(2))
	moved := rect(1)
	moved.Color = "red"
	st.Add(moved)
	assert.Equal(t, st.Len(), 2)
	assert.Equal(t, st.Snapshot()[0].Color, "red")
}

func TestMoveOrUpdateUnknownIDIsNoop(t *testing.T) {
	st := NewShapeStack()
	st.Add(rect(1))
	before, _ := json.Marshal(st)
	assert.Equal(t, st.MoveOrUpdate(rect(99)), false)
	after, _ := json.Marshal(st)
	assert.Equal(t, string(after), string(before))
	assert.Equal(t, st.Top(), 0)
}

func TestMoveOrUpdateReachesRedoBuffer(t *testing.T) {
	st := NewShapeStack()
	st.Add(rect(1))
	st.Add(rect(2))
	st.Undo()
	upd := rect(2)
	upd.Color = "blue"
	assert.Equal(t, st.MoveOrUpdate(upd), true)
	assert.Equal(t, st.Top(), 0)
	st.Redo()
	assert.Equal(t, st.Visible()[1].Color, "blue")
}

func TestTombstoneStopsVisibleScan(t *testing.T) {
	st := NewShapeStack()
	st.Add(rect(1))
	st.Add(circle(2))
	st.Clear(3)
	st.Add(rect(4))
	assert.Equal(t, st.Top(), 3)
	assert.Equal(t, ids(st.Visible()), []int64{4})

	st.Undo()
	assert.Equal(t, st.Top(), 2)
	assert.Equal(t, len(st.Visible()), 0)

	st.Undo()
	assert.Equal(t, ids(st.Visible()), []int64{1, 2})
}

func TestEraseInPlace(t *testing.T) {
	st := NewShapeStack()
	st.Add(rect(1))
	st.Add(rect(2))
	st.Add(rect(3))
	assert.Equal(t, st.Erase(2), true)
	assert.Equal(t, ids(st.Visible()), []int64{1, 3})
	assert.Equal(t, st.Top(), 1)
	assert.Equal(t, st.Erase(42), false)

	// redo 缓冲里的元素被删除时 top 不变
	st.Undo()
	assert.Equal(t, st.Erase(3), true)
	assert.Equal(t, st.Top(), 0)
	assert.Equal(t, st.Len(), 1)

	// clear 产生的墓碑不能被 erase 掉
	st = NewShapeStack()
	st.Add(rect(1))
	st.Add(rect(2))
	st.Clear(3)
	st.Add(rect(4))
	assert.Equal(t, st.Erase(3), false)
	assert.Equal(t, ids(st.Visible()), []int64{4})
	assert.Equal(t, st.Top(), 3)
	assert.Equal(t, st.Len(), 4)
}

func TestHitTestReturnsTopmost(t *testing.T) {
	st := NewShapeStack()
	st.Add(rect(1))
	st.Add(rect(2))
	s, ok := st.HitTest(50, 2)
	assert.Equal(t, ok, true)
	assert.Equal(t, s.ID, int64(2))

	_, ok = st.HitTest(500, 500)
	assert.Equal(t, ok, false)
}

func TestLoadStack(t *testing.T) {
	raw := []byte(`[{"id":1,"type":"rect","x":0,"y":0,"width":1,"height":1,"color":"a"},{"id":2,"type":"bogus"},{"id":3,"type":"delete"}]`)
	st := LoadStack(raw)
	assert.Equal(t, st.Len(), 2)
	assert.Equal(t, st.Top(), 1)
	assert.Equal(t, len(st.Visible()), 0)

	for _, empty := range []string{``, `null`, `{}`, `[]`, `not json`} {
		st := LoadStack([]byte(empty))
		assert.Equal(t, st.Top(), -1)
		assert.Equal(t, st.Len(), 0)
	}
}

func TestMarshalRoundTripKeepsRedoBuffer(t *testing.T) {
	st := NewShapeStack()
	st.Add(rect(1))
	st.Add(rect(2))
	st.Undo()
	b, err := json.Marshal(st)
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}
	loaded := LoadStack(b)
	assert.Equal(t, loaded.Len(), 2)
	assert.Equal(t, loaded.Top(), 1)

	empty, _ := json.Marshal(NewShapeStack())
	assert.Equal(t, string(empty), "[]")
}
