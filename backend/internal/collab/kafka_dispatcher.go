package collab

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/pkg/errors"

	"drawServer/backend/internal/logger"
)

// KafkaDispatcher 把画板事件异步写入 Kafka。
// 事件按 roomID 分片到固定 worker，同一房间的事件按应用顺序发送；
// hub 只做非阻塞入队，分片队列满时丢弃并计数。
type KafkaDispatcher struct {
	producer sarama.SyncProducer
	topic    string

	// mu 保护 closed：关闭后的投递直接丢弃，不会写入已关闭的分片
	mu     sync.RWMutex
	closed bool
	shards []chan ShapeEvent
	wg     sync.WaitGroup

	// 限制同时进行的 SendMessage 数
	sendSem *SemaphoreControl
	dropped atomic.Int64

	maxRetry    int
	baseBackoff time.Duration
	maxBackoff  time.Duration
}

var ErrDispatcherClosed = errors.New("kafka dispatcher closed")

type KafkaDispatcherOptions struct {
	// 每个分片的队列长度
	QueueSize   int
	Workers     int
	MaxRetry    int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

func DefaultKafkaDispatcherOptions() KafkaDispatcherOptions {
	return KafkaDispatcherOptions{
		QueueSize:   2_500,
		Workers:     4,
		MaxRetry:    3,
		BaseBackoff: 50 * time.Millisecond,
		MaxBackoff:  time.Second,
	}
}

func NewKafkaDispatcher(producer sarama.SyncProducer, topic string, sendSem *SemaphoreControl, opt KafkaDispatcherOptions) *KafkaDispatcher {
	if opt.Workers <= 0 {
		opt.Workers = 1
	}
	d := &KafkaDispatcher{
		producer:    producer,
		topic:       topic,
		shards:      make([]chan ShapeEvent, opt.Workers),
		sendSem:     sendSem,
		maxRetry:    opt.MaxRetry,
		baseBackoff: opt.BaseBackoff,
		maxBackoff:  opt.MaxBackoff,
	}
	for i := range d.shards {
		d.shards[i] = make(chan ShapeEvent, opt.QueueSize)
		d.wg.Add(1)
		go d.drain(i)
	}
	return d
}

func (d *KafkaDispatcher) shardOf(roomID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(roomID))
	return int(h.Sum32() % uint32(len(d.shards)))
}

// Enqueue 分片队列满时等待，直到 ctx 结束
func (d *KafkaDispatcher) Enqueue(ctx context.Context, evt ShapeEvent) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}
	select {
	case d.shards[d.shardOf(evt.RoomID)] <- evt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryEnqueue 不等待；队列满返回 false
func (d *KafkaDispatcher) TryEnqueue(evt ShapeEvent) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.dropped.Add(1)
		logger.Warnf("shape event after close, drop room=%s type=%s", evt.RoomID, evt.EventType)
		return false
	}
	select {
	case d.shards[d.shardOf(evt.RoomID)] <- evt:
		return true
	default:
		n := d.dropped.Add(1)
		logger.Warnf("shape event queue full, drop room=%s type=%s dropped=%d", evt.RoomID, evt.EventType, n)
		return false
	}
}

// Dropped 因队列满或重试耗尽而丢弃的事件数
func (d *KafkaDispatcher) Dropped() int64 { return d.dropped.Load() }

// Close 不再接收事件，等已入队的全部发送完
func (d *KafkaDispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		for _, ch := range d.shards {
			close(ch)
		}
	}
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *KafkaDispatcher) drain(shard int) {
	defer d.wg.Done()
	for evt := range d.shards[shard] {
		if err := d.deliver(evt); err != nil {
			d.dropped.Add(1)
			logger.Errorf("shape event dropped after %d retries room=%s type=%s shard=%d err=%v",
				d.maxRetry, evt.RoomID, evt.EventType, shard, err)
		}
	}
}

// backoff 第 n 次重试前的等待，指数增长并封顶
func (d *KafkaDispatcher) backoff(n int) time.Duration {
	wait := d.baseBackoff << n
	if wait <= 0 || wait > d.maxBackoff {
		return d.maxBackoff
	}
	return wait
}

func (d *KafkaDispatcher) deliver(evt ShapeEvent) error {
	var err error
	for attempt := 0; ; attempt++ {
		if err = d.sendOnce(evt); err == nil {
			return nil
		}
		if attempt >= d.maxRetry {
			return err
		}
		time.Sleep(d.backoff(attempt))
	}
}

func (d *KafkaDispatcher) sendOnce(evt ShapeEvent) error {
	if d.producer == nil || d.topic == "" {
		return nil
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	if d.sendSem != nil {
		// worker 在后台，可以一直等
		if err := d.sendSem.Acquire(context.Background()); err != nil {
			return err
		}
		defer func() { _ = d.sendSem.Release() }()
	}
	_, _, err = d.producer.SendMessage(&sarama.ProducerMessage{
		Topic: d.topic,
		// 同一房间落在同一分区
		Key:     sarama.StringEncoder(evt.RoomID),
		Value:   sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader{{Key: []byte("eventType"), Value: []byte(evt.EventType)}},
	})
	return err
}
