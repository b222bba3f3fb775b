package cache

import "fmt"

// 键语义：
// - roomKey(roomID):   房间在线成员（ZSet<userId, expireAtUnix>，score=expireAt）
// - namesKey(roomID):  房间内 userId→name 映射（Hash）
// - roomsKey():        有在线成员的房间索引（Set<roomID>）
// - channelKey(roomID): 跨实例广播的 pub/sub 频道

const (
	keyRoomFmt    = "draw:presence:room:{%s}"       // ZSet<userId, expireAtUnix>
	keyNamesFmt   = "draw:presence:room:names:{%s}" // Hash<userId -> name>
	keyRoomsSet   = "draw:presence:rooms"           // Set<roomID>
	keyChannelFmt = "draw:room:%s"
)

func roomKey(roomID string) string  { return fmt.Sprintf(keyRoomFmt, roomID) }
func namesKey(roomID string) string { return fmt.Sprintf(keyNamesFmt, roomID) }
func roomsKey() string              { return keyRoomsSet }

// ChannelKey 房间的 pub/sub 频道名
func ChannelKey(roomID string) string { return fmt.Sprintf(keyChannelFmt, roomID) }

// ChannelPattern 订阅所有房间频道
const ChannelPattern = "draw:room:*"
