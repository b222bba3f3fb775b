package cache

import (
	"context"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

type PresenceMember struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
}

type PresenceCache interface {
	AddMember(ctx context.Context, roomID, userID, name string, ttl time.Duration) error
	RemoveMember(ctx context.Context, roomID, userID string) error
	GetRooms(ctx context.Context) ([]string, error)
	GetAliveMembers(ctx context.Context, roomID string) ([]PresenceMember, error)
}

// 具体实现：基于 redis 的 PresenceCache
type redisPresence struct {
	rdb redis.UniversalClient
}

func NewRedisPresence(rdb redis.UniversalClient) PresenceCache {
	return &redisPresence{rdb: rdb}
}

// 清理过期成员；房间空了就从索引里移除
var cleanupScript = redis.NewScript(`
-- KEYS[1] = roomKey, KEYS[2] = namesKey, KEYS[3] = roomsKey
-- ARGV[1] = now (unix seconds), ARGV[2] = roomID
local expired = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
if #expired > 0 then
	redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
	redis.call("HDEL", KEYS[2], unpack(expired))
end
if redis.call("ZCARD", KEYS[1]) == 0 then
	redis.call("SREM", KEYS[3], ARGV[2])
end
return #expired
`)

func (p *redisPresence) AddMember(ctx context.Context, roomID, userID, name string, ttl time.Duration) error {
	// 刷新 TTL 也直接调用 AddMember
	tx := p.rdb.TxPipeline()
	// ZSET score 使用 expireAt（Unix 秒），用于表达“逻辑 TTL”
	expireAt := time.Now().Add(ttl).Unix()
	tx.ZAdd(ctx, roomKey(roomID), redis.Z{Score: float64(expireAt), Member: userID})
	tx.HSet(ctx, namesKey(roomID), userID, name)
	tx.SAdd(ctx, roomsKey(), roomID)
	_, err := tx.Exec(ctx)
	return err
}

func (p *redisPresence) RemoveMember(ctx context.Context, roomID, userID string) error {
	tx := p.rdb.TxPipeline()
	tx.ZRem(ctx, roomKey(roomID), userID)
	tx.HDel(ctx, namesKey(roomID), userID)
	_, err := tx.Exec(ctx)
	if err != nil {
		return err
	}
	return p.cleanup(ctx, roomID)
}

func (p *redisPresence) cleanup(ctx context.Context, roomID string) error {
	now := time.Now().Unix()
	err := cleanupScript.Run(ctx, p.rdb, []string{roomKey(roomID), namesKey(roomID), roomsKey()}, now, roomID).Err()
	if err != nil && err != redis.Nil {
		return err
	}
	return nil
}

func (p *redisPresence) GetRooms(ctx context.Context) ([]string, error) {
	rooms, err := p.rdb.SMembers(ctx, roomsKey()).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	return rooms, nil
}

func (p *redisPresence) GetAliveMembers(ctx context.Context, roomID string) ([]PresenceMember, error) {
	// step1: 清理过期成员
	if err := p.cleanup(ctx, roomID); err != nil {
		return nil, err
	}

	// step2: 查询在线成员（score > now）
	now := time.Now().Unix()
	aliveIDs, err := p.rdb.ZRangeByScore(ctx, roomKey(roomID), &redis.ZRangeBy{
		Min: "(" + strconv.FormatInt(now, 10),
		Max: "+inf",
	}).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	if len(aliveIDs) == 0 {
		return nil, nil
	}

	// step3: 批量获取名字
	names, err := p.rdb.HMGet(ctx, namesKey(roomID), aliveIDs...).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	members := make([]PresenceMember, 0, len(aliveIDs))
	for i, v := range names {
		name, _ := v.(string)
		members = append(members, PresenceMember{UserID: aliveIDs[i], Name: name})
	}
	return members, nil
}
