package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Vyr-e/backstage/internal/broker"
)

// TaskHandler is a thin adapter over broker.Producer: it never bypasses
// the producer's dedup/delay/queue-resolution logic.
type TaskHandler struct {
	producer *broker.Producer
}

func NewTaskHandler(producer *broker.Producer) *TaskHandler {
	return &TaskHandler{producer: producer}
}

// CreateTaskRequest mirrors broker.EnqueueOptions over the wire.
type CreateTaskRequest struct {
	TaskName   string          `json:"taskName" binding:"required"`
	Payload    interface{}     `json:"payload"`
	Priority   string          `json:"priority"`
	Queue      string          `json:"queue"`
	DelayMs    int64           `json:"delayMs"`
	DedupeKey  string          `json:"dedupeKey"`
	DedupeTTLs int64           `json:"dedupeTtlSeconds"`
	Attempts   int             `json:"attempts"`
	Backoff    *broker.Backoff `json:"backoff"`
	Timeout    int64           `json:"timeoutMs"`
}

// POST /api/v1/tasks
func (h *TaskHandler) CreateTask(c *gin.Context) {
	var req CreateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "detail": err.Error()})
		return
	}

	opt := broker.EnqueueOptions{
		Priority: broker.Priority(req.Priority),
		Queue:    req.Queue,
		Delay:    time.Duration(req.DelayMs) * time.Millisecond,
		Attempts: req.Attempts,
		Backoff:  req.Backoff,
		Timeout:  time.Duration(req.Timeout) * time.Millisecond,
	}
	if req.DedupeKey != "" {
		opt.Dedupe = &broker.DedupeOptions{
			Key: req.DedupeKey,
			TTL: time.Duration(req.DedupeTTLs) * time.Second,
		}
	}

	id, err := h.producer.Enqueue(c.Request.Context(), req.TaskName, req.Payload, opt)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "enqueue failed", "detail": err.Error()})
		return
	}
	if id == "" {
		c.JSON(http.StatusOK, gin.H{"skipped": true, "reason": "deduplicated"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

// BroadcastRequest is the wire body for POST /api/v1/broadcast.
type BroadcastRequest struct {
	TaskName string      `json:"taskName" binding:"required"`
	Payload  interface{} `json:"payload"`
}

// POST /api/v1/broadcast
func (h *TaskHandler) Broadcast(c *gin.Context) {
	var req BroadcastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "detail": err.Error()})
		return
	}

	id, err := h.producer.Broadcast(c.Request.Context(), req.TaskName, req.Payload)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "broadcast failed", "detail": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}
