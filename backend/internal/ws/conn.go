package ws

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"drawServer/backend/internal/auth"
	"drawServer/backend/internal/logger"
)

const writeWait = 10 * time.Second

// Conn 一个 websocket 连接：一个读 goroutine，一个写 goroutine。
// send 通道永不关闭，关闭信号走 done，避免向已关闭通道写入。
type Conn struct {
	id       string
	ws       *websocket.Conn
	hub      *Hub
	identity auth.Identity

	send chan []byte
	ping chan struct{}
	done chan struct{}

	// 上次心跳检查以来是否收到 pong，初始为 true
	alive     atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once

	maxMessageBytes int64
}

func NewConn(ws *websocket.Conn, hub *Hub, identity auth.Identity, sendQueue int, maxMessageBytes int64) *Conn {
	if sendQueue <= 0 {
		sendQueue = 64
	}
	c := &Conn{
		id:              uuid.NewString(),
		ws:              ws,
		hub:             hub,
		identity:        identity,
		send:            make(chan []byte, sendQueue),
		ping:            make(chan struct{}, 1),
		done:            make(chan struct{}),
		maxMessageBytes: maxMessageBytes,
	}
	c.alive.Store(true)
	return c
}

func (c *Conn) ID() string              { return c.id }
func (c *Conn) Identity() auth.Identity { return c.identity }
func (c *Conn) IsOpen() bool            { return !c.closed.Load() }
func (c *Conn) TakePong() bool          { return c.alive.Swap(false) }

// Send 非阻塞入队，队列满则丢弃
func (c *Conn) Send(payload []byte) bool {
	if c.closed.Load() {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// Ping 交给写 goroutine 发送，已经有一个待发的 ping 时忽略
func (c *Conn) Ping() {
	select {
	case c.ping <- struct{}{}:
	default:
	}
}

// Terminate 直接关闭底层 socket，读循环随之退出
func (c *Conn) Terminate() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)
		_ = c.ws.Close()
	})
}

// Serve 启动写循环并阻塞在读循环，返回时连接已关闭且已从 hub 注销
func (c *Conn) Serve() {
	c.hub.Register(c)
	go c.writeLoop()
	c.readLoop()
}

func (c *Conn) readLoop() {
	defer func() {
		c.hub.Unregister(c)
		c.Terminate()
	}()
	if c.maxMessageBytes > 0 {
		c.ws.SetReadLimit(c.maxMessageBytes)
	}
	c.ws.SetPongHandler(func(string) error {
		c.alive.Store(true)
		return nil
	})
	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) &&
				!errors.Is(err, websocket.ErrReadLimit) && c.IsOpen() {
				logger.Warnf("read error (user=%s conn=%s): %v", c.identity.ID, c.id, err)
			}
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		c.hub.Deliver(c, data)
	}
}

func (c *Conn) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.Terminate()
				return
			}
		case <-c.ping:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.Terminate()
				return
			}
		}
	}
}

// rejectConn 已升级但凭证无效：发 1008 后立即关闭，不发任何业务消息
func rejectConn(ws *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "")
	_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	_ = ws.Close()
}
