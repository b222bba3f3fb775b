package ws

import (
	"context"
	"encoding/json"
	"time"

	"drawServer/backend/internal/auth"
	"drawServer/backend/internal/collab"
	"drawServer/backend/internal/logger"
	"drawServer/backend/internal/shape"
)

// applied 一次编辑作用到房间画板后的结果
type applied struct {
	out       any
	eventType string
	shapeIDs  []int64
	// false 表示只是光标，不需要保存
	mutates bool
}

// apply 把消息作用到房间画板并生成要广播的消息。
// 找不到 id 的 move / update / erase 静默忽略，但仍然转发。
func (h *Hub) apply(r *room, from auth.Identity, msg *ClientMessage) (applied, error) {
	switch msg.Type {
	case TypeMousePos:
		return applied{out: MousePosMessage{
			Type: TypeMousePos, X: msg.X, Y: msg.Y, Color: msg.Color, ID: from.ID, Name: from.Name,
		}}, nil

	case TypeAddShape:
		s, err := shape.Decode(msg.Shape)
		if err != nil {
			return applied{}, err
		}
		if s.IsTombstone() {
			return applied{}, shape.ErrTombstone
		}
		r.board.Add(s)
		return applied{
			out:       ShapeMessage{Type: TypeAddShape, Shape: msg.Shape, ID: from.ID},
			eventType: collab.EventShapeAdded, shapeIDs: []int64{s.ID}, mutates: true,
		}, nil

	case TypeUpdateProperties:
		s, err := shape.Decode(msg.Shape)
		if err != nil {
			return applied{}, err
		}
		if s.IsTombstone() {
			return applied{}, shape.ErrTombstone
		}
		r.board.MoveOrUpdate(s)
		return applied{
			out:       ShapeMessage{Type: TypeUpdateProperties, Shape: msg.Shape, ID: from.ID},
			eventType: collab.EventShapeUpdated, shapeIDs: []int64{s.ID}, mutates: true,
		}, nil

	case TypeMoveShapes:
		list, err := shape.DecodeList(msg.Shapes)
		if err != nil {
			return applied{}, err
		}
		ids := make([]int64, 0, len(list))
		for _, s := range list {
			r.board.MoveOrUpdate(s)
			ids = append(ids, s.ID)
		}
		return applied{
			out:       MoveShapesMessage{Type: TypeMoveShapes, Shapes: normalizeShapes(msg.Shapes), ID: from.ID},
			eventType: collab.EventShapesMoved, shapeIDs: ids, mutates: true,
		}, nil

	case TypeErase:
		r.board.Erase(msg.ElementID)
		return applied{
			out:       EraseMessage{Type: TypeErase, ElementID: msg.ElementID, ID: from.ID},
			eventType: collab.EventShapeErased, shapeIDs: []int64{msg.ElementID}, mutates: true,
		}, nil

	case TypeUndo:
		r.board.Undo()
		return applied{
			out:       HistoryMessage{Type: TypeUndo, ID: from.ID},
			eventType: collab.EventBoardUndo, mutates: true,
		}, nil

	case TypeRedo:
		r.board.Redo()
		return applied{
			out:       HistoryMessage{Type: TypeRedo, ID: from.ID},
			eventType: collab.EventBoardRedo, mutates: true,
		}, nil

	case TypeClear:
		if msg.ID == 0 {
			msg.ID = h.ids.Next()
		}
		r.board.Clear(msg.ID)
		return applied{
			out:       ClearMessage{Type: TypeClear, ID: from.ID, TombstoneID: msg.ID},
			eventType: collab.EventBoardCleared, shapeIDs: []int64{msg.ID}, mutates: true,
		}, nil
	}
	return applied{}, errUnknownType
}

type protocolError string

func (e protocolError) Error() string { return string(e) }

const errUnknownType = protocolError("unknown message type")

// normalizeShapes 单个对象包成数组，客户端统一按数组处理
func normalizeShapes(raw json.RawMessage) json.RawMessage {
	for _, c := range raw {
		switch c {
		case ' ', '\t', '\r', '\n':
			continue
		case '{':
			out := make([]byte, 0, len(raw)+2)
			out = append(out, '[')
			out = append(out, raw...)
			return append(out, ']')
		}
		break
	}
	return raw
}

// handleLocal 本实例连接发来的消息：应用、广播、保存、投递事件、转发给其他实例
func (h *Hub) handleLocal(sess *session, r *room, msg ClientMessage) {
	res, err := h.apply(r, sess.id, &msg)
	if err != nil {
		h.reply(sess, ErrMsgInvalidShape)
		return
	}
	h.broadcast(r, sess.id.ID, res.out)

	if res.mutates {
		if h.opt.Saver != nil {
			elements, err := json.Marshal(r.board)
			if err != nil {
				logger.Errorf("marshal board failed room=%s err=%v", r.id, err)
			} else {
				h.opt.Saver.Schedule(r.id, elements)
			}
		}
		if h.opt.Events != nil {
			h.opt.Events.TryEnqueue(collab.ShapeEvent{
				EventType: res.eventType,
				RoomID:    r.id,
				UserID:    sess.id.ID,
				ShapeIDs:  res.shapeIDs,
				Top:       r.board.Top(),
				Length:    r.board.Len(),
				AppliedAt: time.Now(),
			})
		}
	}

	if pub := h.opt.Publisher; pub != nil {
		edit := RemoteEdit{RoomID: r.id, From: sess.id, Message: msg}
		h.runSide(func(ctx context.Context) {
			if err := pub.Publish(ctx, edit); err != nil {
				logger.Warnf("relay publish failed room=%s err=%v", edit.RoomID, err)
			}
		})
	}
}

// handleRemote 其他实例的编辑：只作用到已加载的房间并在本地广播，不保存不再转发
func (h *Hub) handleRemote(edit RemoteEdit) {
	r, ok := h.rooms[edit.RoomID]
	if !ok {
		return
	}
	msg := edit.Message
	res, err := h.apply(r, edit.From, &msg)
	if err != nil {
		logger.Warnf("drop remote edit room=%s type=%s err=%v", edit.RoomID, msg.Type, err)
		return
	}
	h.broadcast(r, edit.From.ID, res.out)
}
