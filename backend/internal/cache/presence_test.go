package cache

import (
	"context"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:6379"})
	// 若 Redis 未启动则跳过
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skipf("skip: redis not available: %v", err)
	}
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestKeys(t *testing.T) {
	assert.Equal(t, roomKey("r1"), "draw:presence:room:{r1}")
	assert.Equal(t, namesKey("r1"), "draw:presence:room:names:{r1}")
	assert.Equal(t, ChannelKey("r1"), "draw:room:r1")
}

func TestPresenceAddRemove(t *testing.T) {
	rdb := newTestRedis(t)
	ctx := context.Background()
	p := NewRedisPresence(rdb)
	room := "test-" + uuid.NewString()
	defer rdb.Del(ctx, roomKey(room), namesKey(room))

	if err := p.AddMember(ctx, room, "u1", "Alice", time.Minute); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := p.AddMember(ctx, room, "u2", "Bob", time.Minute); err != nil {
		t.Fatalf("add: %v", err)
	}
	members, err := p.GetAliveMembers(ctx, room)
	if err != nil {
		t.Fatalf("alive: %v", err)
	}
	assert.Equal(t, len(members), 2)

	rooms, err := p.GetRooms(ctx)
	if err != nil {
		t.Fatalf("rooms: %v", err)
	}
	found := false
	for _, r := range rooms {
		if r == room {
			found = true
		}
	}
	assert.Equal(t, found, true)

	if err := p.RemoveMember(ctx, room, "u1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := p.RemoveMember(ctx, room, "u2"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	members, err = p.GetAliveMembers(ctx, room)
	if err != nil {
		t.Fatalf("alive: %v", err)
	}
	assert.Equal(t, len(members), 0)

	isMember, err := rdb.SIsMember(ctx, roomsKey(), room).Result()
	if err != nil {
		t.Fatalf("sismember: %v", err)
	}
	assert.Equal(t, isMember, false)
}

func TestPresenceExpiry(t *testing.T) {
	rdb := newTestRedis(t)
	ctx := context.Background()
	p := NewRedisPresence(rdb)
	room := "test-" + uuid.NewString()
	defer rdb.Del(ctx, roomKey(room), namesKey(room))

	// 负 TTL：写入即过期
	if err := p.AddMember(ctx, room, "u1", "Alice", -time.Second); err != nil {
		t.Fatalf("add: %v", err)
	}
	members, err := p.GetAliveMembers(ctx, room)
	if err != nil {
		t.Fatalf("alive: %v", err)
	}
	assert.Equal(t, len(members), 0)
}
