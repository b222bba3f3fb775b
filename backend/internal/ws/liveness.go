package ws

import (
	"context"

	"drawServer/backend/internal/auth"
	"drawServer/backend/internal/logger"
)

type presenceEntry struct {
	roomID string
	id     auth.Identity
}

// sweep 每个心跳周期执行一次：
// - 上个周期没回 pong 的连接直接终止并走离开流程
// - 其余连接清空 pong 标记并发 ping
// - 刷新在线成员 TTL，回收没有成员且已落库的房间
func (h *Hub) sweep() {
	var refresh []presenceEntry
	for p, sess := range h.sessions {
		if !p.TakePong() {
			logger.Infof("terminate unresponsive connection user=%s", sess.id.ID)
			p.Terminate()
			h.removeSession(p)
			continue
		}
		p.Ping()
		for roomID := range sess.rooms {
			if r, ok := h.rooms[roomID]; ok && r.members[sess.id.ID] == p {
				refresh = append(refresh, presenceEntry{roomID: roomID, id: sess.id})
			}
		}
	}

	for id, r := range h.rooms {
		if len(r.members) > 0 {
			continue
		}
		if h.opt.Saver != nil && h.opt.Saver.Busy(id) {
			continue
		}
		delete(h.rooms, id)
		logger.Infof("room evicted room=%s", id)
	}

	if pc := h.opt.Presence; pc != nil && len(refresh) > 0 {
		ttl := h.opt.PresenceTTL
		h.runSide(func(ctx context.Context) {
			for _, e := range refresh {
				if err := pc.AddMember(ctx, e.roomID, e.id.ID, e.id.Name, ttl); err != nil {
					logger.Warnf("presence refresh failed room=%s err=%v", e.roomID, err)
					return
				}
			}
		})
	}
}

// Sweep 立即执行一次心跳检查
func (h *Hub) Sweep() { h.do(h.sweep) }
