package collab

import (
	"context"
	"errors"
)

var (
	ErrAcquireTimeout = errors.New("semaphore acquire reached time limit")
	ErrNotAcquired    = errors.New("semaphore release failed, not acquired")
)

// DefaultSemaphore 默认并发上限
const DefaultSemaphore = 100

// SemaphoreControl 基于带缓冲 channel 的计数信号量
type SemaphoreControl struct {
	ch chan struct{}
}

func NewSemaphoreControl(limit int) *SemaphoreControl {
	if limit <= 0 {
		limit = DefaultSemaphore
	}
	return &SemaphoreControl{ch: make(chan struct{}, limit)}
}

func (s *SemaphoreControl) Acquire(ctx context.Context) error {
	select {
	case s.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ErrAcquireTimeout
	}
}

func (s *SemaphoreControl) Release() error {
	select {
	case <-s.ch:
		return nil
	default:
		return ErrNotAcquired
	}
}

// InUse 当前已占用的数量
func (s *SemaphoreControl) InUse() int { return len(s.ch) }
