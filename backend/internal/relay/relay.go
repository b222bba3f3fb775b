package relay

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	redis "github.com/redis/go-redis/v9"

	"drawServer/backend/internal/cache"
	"drawServer/backend/internal/logger"
	"drawServer/backend/internal/ws"
)

// Sink 接收其他实例的编辑，一般是 *ws.Hub
type Sink interface {
	Remote(edit ws.RemoteEdit)
}

// envelope 频道里传输的消息；Origin 用来丢掉自己发出去的回声
type envelope struct {
	Origin string        `json:"origin"`
	Edit   ws.RemoteEdit `json:"edit"`
}

// Relay 多实例部署时通过 redis pub/sub 转发房间编辑。
// 每个房间一个频道，各实例按模式订阅全部房间。
type Relay struct {
	rdb    redis.UniversalClient
	origin string
}

func New(rdb redis.UniversalClient) *Relay {
	return &Relay{rdb: rdb, origin: uuid.NewString()}
}

func (r *Relay) Origin() string { return r.origin }

// Publish 实现 ws.Publisher
func (r *Relay) Publish(ctx context.Context, edit ws.RemoteEdit) error {
	payload, err := json.Marshal(envelope{Origin: r.origin, Edit: edit})
	if err != nil {
		return errors.Wrap(err, "marshal relay envelope")
	}
	if err := r.rdb.Publish(ctx, cache.ChannelKey(edit.RoomID), payload).Err(); err != nil {
		return errors.Wrapf(err, "publish room=%s", edit.RoomID)
	}
	return nil
}

// Subscribe 阻塞读取频道直到 ctx 结束，非本实例的消息交给 sink
func (r *Relay) Subscribe(ctx context.Context, sink Sink) error {
	pubsub := r.rdb.PSubscribe(ctx, cache.ChannelPattern)
	defer pubsub.Close()

	// 等订阅确认，连不上 redis 时直接返回错误
	if _, err := pubsub.Receive(ctx); err != nil {
		return errors.Wrap(err, "psubscribe")
	}
	logger.Infof("relay subscribed pattern=%s origin=%s", cache.ChannelPattern, r.origin)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.handle(msg, sink)
		}
	}
}

func (r *Relay) handle(msg *redis.Message, sink Sink) {
	var env envelope
	if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
		logger.Warnf("relay drop malformed payload channel=%s err=%v", msg.Channel, err)
		return
	}
	if env.Origin == r.origin {
		return
	}
	// 频道名和消息里的房间不一致时以频道为准
	if roomID := strings.TrimPrefix(msg.Channel, strings.TrimSuffix(cache.ChannelPattern, "*")); roomID != "" {
		env.Edit.RoomID = roomID
	}
	sink.Remote(env.Edit)
}
