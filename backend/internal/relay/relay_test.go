package relay

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"

	"drawServer/backend/internal/auth"
	"drawServer/backend/internal/cache"
	"drawServer/backend/internal/ws"
)

type sinkRecorder struct {
	mu    sync.Mutex
	edits []ws.RemoteEdit
}

func (s *sinkRecorder) Remote(edit ws.RemoteEdit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.edits = append(s.edits, edit)
}

func (s *sinkRecorder) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.edits)
}

func payload(t *testing.T, origin string, edit ws.RemoteEdit) string {
	t.Helper()
	b, err := json.Marshal(envelope{Origin: origin, Edit: edit})
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

func TestHandleSkipsOwnOrigin(t *testing.T) {
	r := &Relay{origin: "me"}
	sink := &sinkRecorder{}
	edit := ws.RemoteEdit{RoomID: "r1", From: auth.Identity{ID: "u1"}, Message: ws.ClientMessage{Type: ws.TypeUndo, RoomID: "r1"}}

	r.handle(&redis.Message{Channel: cache.ChannelKey("r1"), Payload: payload(t, "me", edit)}, sink)
	assert.Equal(t, sink.count(), 0)

	r.handle(&redis.Message{Channel: cache.ChannelKey("r1"), Payload: payload(t, "other", edit)}, sink)
	assert.Equal(t, sink.count(), 1)
	assert.Equal(t, sink.edits[0].From.ID, "u1")
	assert.Equal(t, sink.edits[0].Message.Type, ws.TypeUndo)

	r.handle(&redis.Message{Channel: cache.ChannelKey("r1"), Payload: "{oops"}, sink)
	assert.Equal(t, sink.count(), 1)
}

func TestHandleTakesRoomFromChannel(t *testing.T) {
	r := &Relay{origin: "me"}
	sink := &sinkRecorder{}
	edit := ws.RemoteEdit{RoomID: "wrong", Message: ws.ClientMessage{Type: ws.TypeRedo}}
	r.handle(&redis.Message{Channel: cache.ChannelKey("r2"), Payload: payload(t, "other", edit)}, sink)
	assert.Equal(t, sink.edits[0].RoomID, "r2")
}

func TestPublishSubscribeAcrossInstances(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:6379"})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skipf("skip: redis not available: %v", err)
	}
	t.Cleanup(func() { _ = rdb.Close() })

	a, b := New(rdb), New(rdb)
	sinkA, sinkB := &sinkRecorder{}, &sinkRecorder{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = a.Subscribe(ctx, sinkA) }()
	go func() { _ = b.Subscribe(ctx, sinkB) }()
	// 等两个订阅都生效
	time.Sleep(200 * time.Millisecond)

	room := "relay-" + uuid.NewString()
	edit := ws.RemoteEdit{RoomID: room, From: auth.Identity{ID: "u1", Name: "Alice"},
		Message: ws.ClientMessage{Type: ws.TypeMousePos, RoomID: room, X: 1, Y: 2}}
	if err := a.Publish(ctx, edit); err != nil {
		t.Fatalf("publish: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for sinkB.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(t, sinkB.count(), 1)
	assert.Equal(t, sinkB.edits[0].RoomID, room)
	assert.Equal(t, sinkA.count(), 0)
}
