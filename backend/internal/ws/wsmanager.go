package ws

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"drawServer/backend/internal/auth"
	"drawServer/backend/internal/logger"
)

type ManagerOptions struct {
	AllowedOrigins  []string
	SendQueue       int
	MaxMessageBytes int64
}

type Manager struct {
	h        *Hub
	verifier auth.Verifier
	upgrader websocket.Upgrader
	opt      ManagerOptions
}

func NewManager(h *Hub, verifier auth.Verifier, opt ManagerOptions) *Manager {
	return &Manager{
		h:        h,
		verifier: verifier,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(opt.AllowedOrigins),
		},
		opt: opt,
	}
}

// originChecker 精确匹配白名单；没有 Origin 头（非浏览器客户端）放行，"*" 放行所有。
// 不通过时 gorilla 返回 403。
func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	allowAll := false
	for _, o := range allowed {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o == "*" {
			allowAll = true
		}
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || allowAll {
			return true
		}
		_, ok := set[strings.TrimRight(origin, "/")]
		return ok
	}
}

// WebSocketConnect GET /ws?token=...
// 先校验凭证再升级；凭证无效时升级后立即以 1008 关闭。
func (m *Manager) WebSocketConnect(c *gin.Context) {
	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		token = auth.ExtractBearer(c.GetHeader("Authorization"))
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	identity, verr := m.verifier.Verify(ctx, token)
	cancel()

	conn, err := m.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warnf("websocket upgrade error: %v (origin=%s)", err, c.Request.Header.Get("Origin"))
		return
	}
	if verr != nil {
		logger.Infof("reject websocket: %v", verr)
		rejectConn(conn)
		return
	}

	wsConn := NewConn(conn, m.h, identity, m.opt.SendQueue, m.opt.MaxMessageBytes)
	logger.Debugf("websocket connected user=%s conn=%s", identity.ID, wsConn.ID())
	// 阻塞至连接关闭
	wsConn.Serve()
}
