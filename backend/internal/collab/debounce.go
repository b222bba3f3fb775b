package collab

import (
	"context"
	"sync"
	"time"

	"drawServer/backend/internal/logger"
)

// SnapshotSaver 持久化整块画板（完整序列的 JSON）
type SnapshotSaver interface {
	SaveShapes(ctx context.Context, docID string, elements []byte) error
}

type pendingSave struct {
	timer    *time.Timer
	elements []byte
}

// Debouncer 每个房间一个计时器：在 delay 内的连续编辑只落一次库，保存最新快照。
// 同一房间同一时刻只有一个写入者，写入期间到来的快照记为 dirty，
// 当前写入返回后再由同一个写入者保存，旧快照不会覆盖新快照。
// 保存失败只记日志，下一次编辑会带着当时的状态重试。
type Debouncer struct {
	saver   SnapshotSaver
	delay   time.Duration
	timeout time.Duration

	mu      sync.Mutex
	idle    *sync.Cond
	pending map[string]*pendingSave
	saving  map[string]bool
	dirty   map[string][]byte
	closed  bool
}

func NewDebouncer(saver SnapshotSaver, delay time.Duration) *Debouncer {
	d := &Debouncer{
		saver:   saver,
		delay:   delay,
		timeout: 5 * time.Second,
		pending: make(map[string]*pendingSave),
		saving:  make(map[string]bool),
		dirty:   make(map[string][]byte),
	}
	d.idle = sync.NewCond(&d.mu)
	return d
}

// Schedule 替换该房间待保存的快照并重置计时器
func (d *Debouncer) Schedule(docID string, elements []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	if p, ok := d.pending[docID]; ok {
		p.elements = elements
		p.timer.Reset(d.delay)
		return
	}
	p := &pendingSave{elements: elements}
	p.timer = time.AfterFunc(d.delay, func() { d.fire(docID, p) })
	d.pending[docID] = p
}

func (d *Debouncer) fire(docID string, p *pendingSave) {
	d.mu.Lock()
	// 计时器触发前已被 Flush 或替换
	if d.pending[docID] != p {
		d.mu.Unlock()
		return
	}
	delete(d.pending, docID)
	writer := d.claim(docID, p.elements)
	d.mu.Unlock()
	if writer {
		d.drain(docID, p.elements)
	}
}

// claim 需持有 mu。已有写入者时把快照交给它并返回 false
func (d *Debouncer) claim(docID string, elements []byte) bool {
	if d.saving[docID] {
		d.dirty[docID] = elements
		return false
	}
	d.saving[docID] = true
	return true
}

// drain 由写入者调用：保存 elements，再保存写入期间积累的最新快照，直到没有 dirty
func (d *Debouncer) drain(docID string, elements []byte) {
	for {
		d.save(docID, elements)
		d.mu.Lock()
		next, ok := d.dirty[docID]
		if !ok {
			delete(d.saving, docID)
			d.idle.Broadcast()
			d.mu.Unlock()
			return
		}
		delete(d.dirty, docID)
		d.mu.Unlock()
		elements = next
	}
}

func (d *Debouncer) save(docID string, elements []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	if err := d.saver.SaveShapes(ctx, docID, elements); err != nil {
		logger.Errorf("save shapes failed doc=%s err=%v", docID, err)
		return
	}
	logger.Debugf("saved shapes doc=%s bytes=%d", docID, len(elements))
}

// Flush 立即保存该房间待写入的快照（房间最后一个成员离开时调用），
// 返回时该房间的快照都已落库
func (d *Debouncer) Flush(docID string) {
	d.mu.Lock()
	p, ok := d.pending[docID]
	writer := false
	if ok {
		p.timer.Stop()
		delete(d.pending, docID)
		writer = d.claim(docID, p.elements)
	}
	if writer {
		d.mu.Unlock()
		d.drain(docID, p.elements)
		return
	}
	for d.saving[docID] {
		d.idle.Wait()
	}
	d.mu.Unlock()
}

// Busy 该房间还有未落库（等待中或正在写）的快照
func (d *Debouncer) Busy(docID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, waiting := d.pending[docID]
	return waiting || d.saving[docID]
}

// Pending 当前等待保存的房间数
func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Close 停止所有计时器，把剩余快照全部落库，并等待进行中的写入结束
func (d *Debouncer) Close() {
	d.mu.Lock()
	d.closed = true
	rest := d.pending
	d.pending = make(map[string]*pendingSave)
	own := make(map[string][]byte)
	for docID, p := range rest {
		p.timer.Stop()
		if d.claim(docID, p.elements) {
			own[docID] = p.elements
		}
	}
	d.mu.Unlock()
	for docID, elements := range own {
		d.drain(docID, elements)
	}
	d.mu.Lock()
	for len(d.saving) > 0 {
		d.idle.Wait()
	}
	d.mu.Unlock()
}
