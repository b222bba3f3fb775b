package shape

import (
	"sync"
	"time"
)

// IDGen 生成毫秒时间戳风格的 id，同一毫秒内单调递增
type IDGen struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

func NewIDGen() *IDGen {
	return &IDGen{now: time.Now}
}

func (g *IDGen) Next() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := g.now().UnixMilli()
	if id <= g.last {
		id = g.last + 1
	}
	g.last = id
	return id
}
