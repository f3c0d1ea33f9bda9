package httpapi

import (
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/Vyr-e/backstage/internal/broker"
)

// NewServer assembles the gin engine and registers every producer-facing
// route. db may be nil, in which case the worker-listing and Postgres leg
// of readiness are skipped.
func NewServer(client redis.UniversalClient, producer *broker.Producer, keys broker.Keys, db *pgxpool.Pool) *gin.Engine {
	engine := gin.Default()

	health := NewHealthHandler(db, client)
	tasks := NewTaskHandler(producer)
	queues := NewQueueHandler(client, keys)

	engine.GET("/healthz", health.Healthz)
	engine.GET("/readyz", health.Readyz)

	api := engine.Group("/api/v1")
	{
		api.POST("/tasks", tasks.CreateTask)
		api.POST("/broadcast", tasks.Broadcast)
		api.GET("/queues/:priority/dead-letter", queues.ListDeadLetter)
		api.POST("/queues/:priority/dead-letter/replay", queues.ReplayDeadLetter)

		if db != nil {
			workers := NewWorkerHandler(db)
			api.GET("/workers", workers.ListWorkers)
		}
	}

	return engine
}
