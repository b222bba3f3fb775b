package ws

import (
	"encoding/json"

	"drawServer/backend/internal/auth"
)

// 客户端 → 服务端
const (
	TypeJoin             = "join"
	TypeMousePos         = "mousePos"
	TypeAddShape         = "addShape"
	TypeMoveShapes       = "moveShapes"
	TypeUpdateProperties = "updateProperties"
	TypeErase            = "erase"
	TypeUndo             = "undo"
	TypeRedo             = "redo"
	TypeClear            = "clear"
)

// 仅服务端 → 客户端
const (
	TypeJoined         = "joined"
	TypeError          = "error"
	TypeMousePosRemove = "mousePosRemove"
	TypeMemberJoined   = "memberJoined"
)

// 错误文案（客户端按字符串匹配）
const (
	ErrMsgInvalidJSON  = "Invalid JSON"
	ErrMsgRoomNotFound = "Room not found"
	ErrMsgNotAuthorize = "Not authorized"
	ErrMsgLoadFailed   = "Failed to load room"
	ErrMsgNotJoined    = "Not joined to room"
	ErrMsgUnknownType  = "Unknown message type"
	ErrMsgInvalidShape = "Invalid shape"
	ErrMsgBusy         = "Server busy"
)

// ClientMessage 所有客户端消息共用的信封，按 Type 取字段。
// Shape/Shapes 保留原始字节，转发给其他成员时逐字节一致。
type ClientMessage struct {
	Type      string          `json:"type"`
	RoomID    string          `json:"roomId"`
	X         float64         `json:"x"`
	Y         float64         `json:"y"`
	Color     string          `json:"color,omitempty"`
	Shape     json.RawMessage `json:"shape,omitempty"`
	Shapes    json.RawMessage `json:"shapes,omitempty"`
	ElementID int64           `json:"elementId,omitempty"`
	// clear 时客户端生成的墓碑 id，缺省由服务端生成
	ID int64 `json:"id,omitempty"`
}

type JoinedMessage struct {
	Type     string          `json:"type"` // 固定 "joined"
	RoomID   string          `json:"roomId"`
	Elements json.RawMessage `json:"elements"`
	Top      int             `json:"top"`
}

type ErrorMessage struct {
	Type    string `json:"type"` // 固定 "error"
	Message string `json:"message"`
}

type MousePosMessage struct {
	Type  string  `json:"type"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Color string  `json:"color"`
	ID    string  `json:"id"`
	Name  string  `json:"name"`
}

type MousePosRemoveMessage struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

type MemberJoinedMessage struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ShapeMessage addShape / updateProperties 的广播
type ShapeMessage struct {
	Type  string          `json:"type"`
	Shape json.RawMessage `json:"shape"`
	ID    string          `json:"id"`
}

type MoveShapesMessage struct {
	Type   string          `json:"type"`
	Shapes json.RawMessage `json:"shapes"`
	ID     string          `json:"id"`
}

type EraseMessage struct {
	Type      string `json:"type"`
	ElementID int64  `json:"elementId"`
	ID        string `json:"id"`
}

// HistoryMessage undo / redo 的广播
type HistoryMessage struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

type ClearMessage struct {
	Type        string `json:"type"`
	ID          string `json:"id"`
	TombstoneID int64  `json:"tombstoneId"`
}

// RemoteEdit 其他实例转发过来的编辑 / 光标消息
type RemoteEdit struct {
	RoomID  string        `json:"roomId"`
	From    auth.Identity `json:"from"`
	Message ClientMessage `json:"message"`
}

func errorPayload(msg string) []byte {
	b, _ := json.Marshal(ErrorMessage{Type: TypeError, Message: msg})
	return b
}
