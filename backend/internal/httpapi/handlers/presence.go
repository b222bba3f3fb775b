package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"drawServer/backend/internal/cache"
	"drawServer/backend/internal/logger"
)

// PresenceHandler 在线成员查询，数据来自 redis，覆盖所有 ws 实例
type PresenceHandler struct {
	presence cache.PresenceCache
}

func NewPresenceHandler(p cache.PresenceCache) *PresenceHandler {
	return &PresenceHandler{presence: p}
}

// Rooms GET /presence/rooms
func (h *PresenceHandler) Rooms(c *gin.Context) {
	rooms, err := h.presence.GetRooms(c.Request.Context())
	if err != nil {
		logger.Warnf("presence rooms failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if rooms == nil {
		rooms = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"rooms": rooms})
}

// Members GET /presence/:roomId
func (h *PresenceHandler) Members(c *gin.Context) {
	roomID := c.Param("roomId")
	members, err := h.presence.GetAliveMembers(c.Request.Context(), roomID)
	if err != nil {
		logger.Warnf("presence members failed room=%s err=%v", roomID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if members == nil {
		members = []cache.PresenceMember{}
	}
	c.JSON(http.StatusOK, gin.H{"roomId": roomID, "members": members})
}
