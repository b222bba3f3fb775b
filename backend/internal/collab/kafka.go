package collab

import "time"

// 事件类型
const (
	EventShapeAdded   = "SHAPE_ADDED"
	EventShapesMoved  = "SHAPES_MOVED"
	EventShapeUpdated = "SHAPE_UPDATED"
	EventShapeErased  = "SHAPE_ERASED"
	EventBoardUndo    = "BOARD_UNDO"
	EventBoardRedo    = "BOARD_REDO"
	EventBoardCleared = "BOARD_CLEARED"
)

// ShapeEvent 每次在房间画板上应用一次编辑后投递到 Kafka 的审计事件
type ShapeEvent struct {
	EventType string    `json:"eventType"`
	RoomID    string    `json:"roomId"`
	UserID    string    `json:"userId"`
	ShapeIDs  []int64   `json:"shapeIds,omitempty"`
	Top       int       `json:"top"`
	Length    int       `json:"length"`
	AppliedAt time.Time `json:"appliedAt"`
}
