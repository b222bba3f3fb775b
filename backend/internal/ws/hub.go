package ws

import (
	"context"
	"encoding/json"
	"errors"
	"runtime/debug"
	"time"

	"golang.org/x/sync/singleflight"

	"drawServer/backend/internal/auth"
	"drawServer/backend/internal/cache"
	"drawServer/backend/internal/collab"
	"drawServer/backend/internal/logger"
	"drawServer/backend/internal/shape"
	"drawServer/backend/internal/store"
)

// Peer 一个已通过鉴权的客户端连接。Conn 是真实实现，测试里用假连接。
type Peer interface {
	Identity() auth.Identity
	// Send 非阻塞入队，缓冲满或已关闭返回 false
	Send(payload []byte) bool
	IsOpen() bool
	Ping()
	// TakePong 返回上次检查以来是否收到过 pong，并把标记清零
	TakePong() bool
	Terminate()
}

type DocumentLoader interface {
	FindDocumentByID(ctx context.Context, id string) (*store.Document, error)
}

type SaveScheduler interface {
	Schedule(docID string, elements []byte)
	Flush(docID string)
	Busy(docID string) bool
}

type EventSink interface {
	TryEnqueue(evt collab.ShapeEvent) bool
}

type Publisher interface {
	Publish(ctx context.Context, edit RemoteEdit) error
}

type HubOptions struct {
	Docs      DocumentLoader
	Saver     SaveScheduler
	Presence  cache.PresenceCache
	Events    EventSink
	Publisher Publisher
	// 限制同时进行的房间加载数
	LoadSem *collab.SemaphoreControl

	PingInterval time.Duration
	LoadTimeout  time.Duration
	PresenceTTL  time.Duration
	// join 等待加载期间最多缓存的后续消息数
	Backlog int
}

type eventKind int

const (
	evRegister eventKind = iota
	evUnregister
	evMessage
)

// 同一连接的 register / message / unregister 走同一个 channel，保证顺序
type event struct {
	kind eventKind
	peer Peer
	msg  ClientMessage
}

type loadResult struct {
	roomID string
	peer   Peer
	doc    *store.Document
	err    error
}

type room struct {
	id      string
	ownerID string
	// 首次加载时缓存，房间在内存期间不再回源
	emails  map[string]struct{}
	members map[string]Peer // userId -> 连接
	board   *collab.ShapeStack
}

type session struct {
	peer  Peer
	id    auth.Identity
	rooms map[string]struct{}
	// 等待中的加载数；大于 0 时后续消息先进 backlog，保证单连接顺序
	loading int
	backlog []ClientMessage
}

// Hub 房间注册表 + 广播路由。所有状态只在 Run 的 goroutine 里读写，不加锁。
type Hub struct {
	opt HubOptions
	sf  singleflight.Group
	ids *shape.IDGen

	events chan event
	loaded chan loadResult
	remote chan RemoteEdit
	calls  chan func()
	side   chan func(context.Context)
	done   chan struct{}

	rooms    map[string]*room
	sessions map[Peer]*session
}

func NewHub(opt HubOptions) *Hub {
	if opt.PingInterval <= 0 {
		opt.PingInterval = 30 * time.Second
	}
	if opt.LoadTimeout <= 0 {
		opt.LoadTimeout = 5 * time.Second
	}
	if opt.PresenceTTL <= 0 {
		opt.PresenceTTL = 2 * opt.PingInterval
	}
	if opt.Backlog <= 0 {
		opt.Backlog = 256
	}
	if opt.LoadSem == nil {
		opt.LoadSem = collab.NewSemaphoreControl(collab.DefaultSemaphore)
	}
	return &Hub{
		opt:      opt,
		ids:      shape.NewIDGen(),
		events:   make(chan event, 1024),
		loaded:   make(chan loadResult, 64),
		remote:   make(chan RemoteEdit, 1024),
		calls:    make(chan func()),
		side:     make(chan func(context.Context), 4096),
		done:     make(chan struct{}),
		rooms:    make(map[string]*room),
		sessions: make(map[Peer]*session),
	}
}

// Run 事件循环，阻塞到 ctx 结束；旁路 worker 退出后才返回
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	sideDone := make(chan struct{})
	go func() {
		defer close(sideDone)
		h.sideLoop(ctx)
	}()
	defer func() { <-sideDone }()

	ticker := time.NewTicker(h.opt.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-h.events:
			h.guard("event", func() { h.handleEvent(ev) })
		case res := <-h.loaded:
			h.guard("load", func() { h.handleLoaded(res) })
		case edit := <-h.remote:
			h.guard("remote", func() { h.handleRemote(edit) })
		case fn := <-h.calls:
			h.guard("call", fn)
		case <-ticker.C:
			h.guard("sweep", h.sweep)
		}
	}
}

// Done 在 Run 完全退出后关闭，之后不会再调用 Saver 和 Events
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// guard 单个处理函数 panic 不影响整个 hub
func (h *Hub) guard(what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("hub %s handler panic: %v\n%s", what, r, debug.Stack())
		}
	}()
	fn()
}

// 有序的旁路 worker：presence / relay 这类慢操作不占用事件循环
func (h *Hub) sideLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-h.side:
			func() {
				defer func() {
					if r := recover(); r != nil {
						logger.Errorf("hub side task panic: %v", r)
					}
				}()
				tctx, cancel := context.WithTimeout(ctx, 3*time.Second)
				defer cancel()
				fn(tctx)
			}()
		}
	}
}

func (h *Hub) runSide(fn func(context.Context)) {
	select {
	case h.side <- fn:
	default:
		logger.Warnf("hub side queue full, drop task")
	}
}

func (h *Hub) post(ev event) {
	select {
	case h.events <- ev:
	case <-h.done:
	}
}

func (h *Hub) Register(p Peer)   { h.post(event{kind: evRegister, peer: p}) }
func (h *Hub) Unregister(p Peer) { h.post(event{kind: evUnregister, peer: p}) }

// Deliver 解析一帧客户端消息并交给事件循环；非法 JSON 直接回错误，连接保持
func (h *Hub) Deliver(p Peer, raw []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		p.Send(errorPayload(ErrMsgInvalidJSON))
		return
	}
	h.post(event{kind: evMessage, peer: p, msg: msg})
}

// Remote 接收其他实例转发的消息
func (h *Hub) Remote(edit RemoteEdit) {
	select {
	case h.remote <- edit:
	case <-h.done:
	default:
		logger.Warnf("hub remote queue full, drop edit room=%s", edit.RoomID)
	}
}

// do 在事件循环里同步执行 fn；hub 已停止时返回 false
func (h *Hub) do(fn func()) bool {
	finished := make(chan struct{})
	select {
	case h.calls <- func() { defer close(finished); fn() }:
	case <-h.done:
		return false
	}
	select {
	case <-finished:
		return true
	case <-h.done:
		return false
	}
}

type Stats struct {
	Rooms    int `json:"rooms"`
	Sessions int `json:"sessions"`
	Members  int `json:"members"`
}

func (h *Hub) Stats() Stats {
	var s Stats
	h.do(func() {
		s.Rooms = len(h.rooms)
		s.Sessions = len(h.sessions)
		for _, r := range h.rooms {
			s.Members += len(r.members)
		}
	})
	return s
}

func (h *Hub) handleEvent(ev event) {
	switch ev.kind {
	case evRegister:
		if _, ok := h.sessions[ev.peer]; ok {
			return
		}
		h.sessions[ev.peer] = &session{
			peer:  ev.peer,
			id:    ev.peer.Identity(),
			rooms: make(map[string]struct{}),
		}
	case evUnregister:
		h.removeSession(ev.peer)
	case evMessage:
		sess, ok := h.sessions[ev.peer]
		if !ok {
			return
		}
		if sess.loading > 0 {
			if len(sess.backlog) >= h.opt.Backlog {
				logger.Warnf("backlog full, drop message user=%s type=%s", sess.id.ID, ev.msg.Type)
				return
			}
			sess.backlog = append(sess.backlog, ev.msg)
			return
		}
		h.dispatch(sess, ev.msg)
	}
}

func (h *Hub) reply(sess *session, msg string) {
	sess.peer.Send(errorPayload(msg))
}

func (h *Hub) dispatch(sess *session, msg ClientMessage) {
	switch msg.Type {
	case TypeJoin:
		h.handleJoin(sess, msg.RoomID)
	case TypeMousePos, TypeAddShape, TypeMoveShapes, TypeUpdateProperties,
		TypeErase, TypeUndo, TypeRedo, TypeClear:
		r, ok := h.joinedRoom(sess, msg.RoomID)
		if !ok {
			h.reply(sess, ErrMsgNotJoined)
			return
		}
		h.handleLocal(sess, r, msg)
	default:
		h.reply(sess, ErrMsgUnknownType)
	}
}

func (h *Hub) joinedRoom(sess *session, roomID string) (*room, bool) {
	if _, ok := sess.rooms[roomID]; !ok {
		return nil, false
	}
	r, ok := h.rooms[roomID]
	return r, ok
}

// ---- join / leave ----

func (h *Hub) handleJoin(sess *session, roomID string) {
	if roomID == "" {
		h.reply(sess, ErrMsgRoomNotFound)
		return
	}
	if r, ok := h.rooms[roomID]; ok {
		h.admit(sess, r)
		return
	}
	sess.loading++
	go h.load(roomID, sess.peer)
}

// load 在事件循环之外执行；同一 roomID 的并发加载合并成一次查询
func (h *Hub) load(roomID string, p Peer) {
	v, err, _ := h.sf.Do(roomID, func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(context.Background(), h.opt.LoadTimeout)
		defer cancel()
		if err := h.opt.LoadSem.Acquire(ctx); err != nil {
			return nil, err
		}
		defer h.opt.LoadSem.Release()
		return h.opt.Docs.FindDocumentByID(ctx, roomID)
	})
	res := loadResult{roomID: roomID, peer: p, err: err}
	if err == nil {
		res.doc, _ = v.(*store.Document)
	}
	select {
	case h.loaded <- res:
	case <-h.done:
	}
}

func (h *Hub) handleLoaded(res loadResult) {
	sess, ok := h.sessions[res.peer]
	if !ok {
		// 加载期间连接已断开，房间不建
		return
	}
	sess.loading--
	defer h.drainBacklog(sess)

	r, exists := h.rooms[res.roomID]
	if !exists {
		switch {
		case errors.Is(res.err, store.ErrDocumentNotFound) || (res.err == nil && res.doc == nil):
			h.reply(sess, ErrMsgRoomNotFound)
			return
		case errors.Is(res.err, collab.ErrAcquireTimeout):
			logger.Warnf("room load throttled room=%s", res.roomID)
			h.reply(sess, ErrMsgBusy)
			return
		case res.err != nil:
			logger.Errorf("room load failed room=%s err=%v", res.roomID, res.err)
			h.reply(sess, ErrMsgLoadFailed)
			return
		}
		r = newRoom(res.doc)
		h.rooms[r.id] = r
		logger.Infof("room loaded room=%s shapes=%d", r.id, r.board.Len())
	}
	h.admit(sess, r)
}

func (h *Hub) drainBacklog(sess *session) {
	for sess.loading == 0 && len(sess.backlog) > 0 {
		msg := sess.backlog[0]
		sess.backlog = sess.backlog[1:]
		h.dispatch(sess, msg)
	}
	if len(sess.backlog) == 0 {
		sess.backlog = nil
	}
}

func newRoom(doc *store.Document) *room {
	return &room{
		id:      doc.ID,
		ownerID: doc.OwnerID,
		emails:  doc.AuthorizedEmails(),
		members: make(map[string]Peer),
		board:   collab.LoadStack(doc.Elements),
	}
}

func (r *room) authorized(id auth.Identity) bool {
	if id.ID != "" && id.ID == r.ownerID {
		return true
	}
	if id.Email == "" {
		return false
	}
	_, ok := r.emails[store.NormalizeEmail(id.Email)]
	return ok
}

// admit 授权通过后加入；同一 userId 重复加入只覆盖，不会出现两份
func (h *Hub) admit(sess *session, r *room) {
	if !r.authorized(sess.id) {
		h.reply(sess, ErrMsgNotAuthorize)
		return
	}
	_, rejoin := r.members[sess.id.ID]
	r.members[sess.id.ID] = sess.peer
	sess.rooms[r.id] = struct{}{}

	elements, err := json.Marshal(r.board)
	if err != nil {
		logger.Errorf("marshal board failed room=%s err=%v", r.id, err)
		elements = []byte("[]")
	}
	payload, _ := json.Marshal(JoinedMessage{Type: TypeJoined, RoomID: r.id, Elements: elements, Top: r.board.Top()})
	sess.peer.Send(payload)

	if !rejoin {
		h.broadcast(r, sess.id.ID, MemberJoinedMessage{Type: TypeMemberJoined, ID: sess.id.ID, Name: sess.id.Name})
	}
	if p := h.opt.Presence; p != nil {
		roomID, id, ttl := r.id, sess.id, h.opt.PresenceTTL
		h.runSide(func(ctx context.Context) {
			if err := p.AddMember(ctx, roomID, id.ID, id.Name, ttl); err != nil {
				logger.Warnf("presence add failed room=%s user=%s err=%v", roomID, id.ID, err)
			}
		})
	}
}

// removeSession 连接关闭：从所有房间移除并通知剩余成员
func (h *Hub) removeSession(p Peer) {
	sess, ok := h.sessions[p]
	if !ok {
		return
	}
	delete(h.sessions, p)
	for roomID := range sess.rooms {
		r, ok := h.rooms[roomID]
		if !ok {
			continue
		}
		// 已被同一用户的新连接覆盖时不动
		if r.members[sess.id.ID] != p {
			continue
		}
		delete(r.members, sess.id.ID)
		h.broadcast(r, sess.id.ID, MousePosRemoveMessage{Type: TypeMousePosRemove, ID: sess.id.ID})

		if pc := h.opt.Presence; pc != nil {
			uid := sess.id.ID
			h.runSide(func(ctx context.Context) {
				if err := pc.RemoveMember(ctx, roomID, uid); err != nil {
					logger.Warnf("presence remove failed room=%s user=%s err=%v", roomID, uid, err)
				}
			})
		}
		if len(r.members) == 0 && h.opt.Saver != nil {
			saver := h.opt.Saver
			h.runSide(func(context.Context) { saver.Flush(roomID) })
		}
	}
	logger.Debugf("session closed user=%s rooms=%d", sess.id.ID, len(sess.rooms))
}

// ---- broadcast ----

// broadcast 序列化一次，发给除 senderID 外所有在线成员；尽力而为，不重试
func (h *Hub) broadcast(r *room, senderID string, msg any) {
	payload, err := json.Marshal(msg)
	if err != nil {
		logger.Errorf("marshal broadcast failed room=%s err=%v", r.id, err)
		return
	}
	for uid, p := range r.members {
		if uid == senderID || !p.IsOpen() {
			continue
		}
		if !p.Send(payload) {
			logger.Debugf("send buffer full, drop frame room=%s user=%s", r.id, uid)
		}
	}
}
