package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Vyr-e/backstage/internal/store"
)

// WorkerHandler lists registered workers from the ambient audit store.
type WorkerHandler struct {
	db *pgxpool.Pool
}

func NewWorkerHandler(db *pgxpool.Pool) *WorkerHandler {
	return &WorkerHandler{db: db}
}

type workerItem struct {
	ID              string   `json:"id"`
	Hostname        string   `json:"hostname"`
	PID             int      `json:"pid"`
	Queues          []string `json:"queues"`
	Concurrency     int      `json:"concurrency"`
	LastHeartbeatAt string   `json:"lastHeartbeatAt"`
}

// GET /api/v1/workers
func (h *WorkerHandler) ListWorkers(c *gin.Context) {
	rows, err := store.ListWorkers(c.Request.Context(), h.db)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list workers failed", "detail": err.Error()})
		return
	}
	out := make([]workerItem, 0, len(rows))
	for _, r := range rows {
		out = append(out, workerItem{
			ID:              r.ID,
			Hostname:        r.Hostname,
			PID:             r.PID,
			Queues:          r.Queues,
			Concurrency:     r.Concurrency,
			LastHeartbeatAt: r.LastHeartbeatAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	c.JSON(http.StatusOK, gin.H{"workers": out, "count": len(out)})
}
