package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/Vyr-e/backstage/internal/broker"
)

// QueueHandler inspects and replays dead-lettered entries. Replay is an
// explicit operator action: it re-enters the originating priority stream
// with attempt count reset, not an automatic retry.
type QueueHandler struct {
	redis redis.UniversalClient
	keys  broker.Keys
}

func NewQueueHandler(client redis.UniversalClient, keys broker.Keys) *QueueHandler {
	return &QueueHandler{redis: client, keys: keys}
}

// GET /api/v1/queues/:priority/dead-letter
func (h *QueueHandler) ListDeadLetter(c *gin.Context) {
	priority := broker.Priority(c.Param("priority"))
	count := int64(50)
	if v, err := strconv.Atoi(c.Query("count")); err == nil && v > 0 {
		count = int64(v)
	}

	entries, err := h.redis.XRangeN(c.Request.Context(), h.keys.DeadLetter(priority), "-", "+", count).Result()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list dead-letter failed", "detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"priority": priority, "count": len(entries), "entries": entries})
}

// ReplayDeadLetterRequest is the wire body for the replay endpoint.
type ReplayDeadLetterRequest struct {
	Count int `json:"count"`
}

// POST /api/v1/queues/:priority/dead-letter/replay
func (h *QueueHandler) ReplayDeadLetter(c *gin.Context) {
	priority := broker.Priority(c.Param("priority"))
	var req ReplayDeadLetterRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Count <= 0 {
		req.Count = 1
	}

	ctx := c.Request.Context()
	dlqKey := h.keys.DeadLetter(priority)
	targetKey := h.keys.Stream(priority)

	entries, err := h.redis.XRangeN(ctx, dlqKey, "-", "+", int64(req.Count)).Result()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "read dead-letter failed", "detail": err.Error()})
		return
	}

	moved := 0
	for _, entry := range entries {
		fields := []interface{}{
			"taskName", entry.Values["taskName"],
			"payload", entry.Values["payload"],
			"enqueuedAt", entry.Values["enqueuedAt"],
		}
		if err := h.redis.XAdd(ctx, &redis.XAddArgs{Stream: targetKey, Values: fields}).Err(); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "replay xadd failed", "detail": err.Error(), "moved": moved})
			return
		}
		if err := h.redis.XDel(ctx, dlqKey, entry.ID).Err(); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "replay xdel failed", "detail": err.Error(), "moved": moved})
			return
		}
		moved++
	}

	c.JSON(http.StatusOK, gin.H{"priority": priority, "moved": moved})
}
