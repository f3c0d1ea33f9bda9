package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// HealthHandler answers liveness/readiness probes. db is nil when the
// ambient audit store is not configured; readiness then only checks redis.
type HealthHandler struct {
	db  *pgxpool.Pool
	rdb redis.UniversalClient
}

func NewHealthHandler(db *pgxpool.Pool, rdb redis.UniversalClient) *HealthHandler {
	return &HealthHandler{db: db, rdb: rdb}
}

func (h *HealthHandler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *HealthHandler) Readyz(c *gin.Context) {
	ctx := c.Request.Context()
	if err := h.rdb.Ping(ctx).Err(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ready": false, "error": "redis ping failed"})
		return
	}
	if h.db != nil {
		if err := h.db.Ping(ctx); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"ready": false, "error": "db ping failed"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"ready": true, "timestamp": time.Now().UTC()})
}
