package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/Vyr-e/backstage/internal/broker"
)

// newIntegrationRedis skips the calling test unless a local redis is
// reachable, matching the pattern used throughout the broker package's
// own tests.
func newIntegrationRedis(t *testing.T) *redis.Client {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skipf("skipping, redis unavailable: %v", err)
	}
	t.Cleanup(func() {
		keys, _ := rdb.Keys(context.Background(), "backstage-http-test:*").Result()
		if len(keys) > 0 {
			rdb.Del(context.Background(), keys...)
		}
		rdb.Close()
	})
	return rdb
}

func newTestServer(t *testing.T) (*httptest.Server, *redis.Client, broker.Keys) {
	gin.SetMode(gin.TestMode)
	rdb := newIntegrationRedis(t)
	cfg := broker.Config{Prefix: "backstage-http-test"}.WithDefaults()
	producer := broker.NewProducer(rdb, cfg)
	engine := NewServer(rdb, producer, cfg.Keys(), nil)
	server := httptest.NewServer(engine)
	t.Cleanup(server.Close)
	return server, rdb, cfg.Keys()
}

func TestHealthzAlwaysOK(t *testing.T) {
	server, _, _ := newTestServer(t)

	resp, err := http.Get(server.URL + "/healthz")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestReadyzChecksRedis(t *testing.T) {
	server, _, _ := newTestServer(t)

	resp, err := http.Get(server.URL + "/readyz")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestWorkersRouteAbsentWithoutDB(t *testing.T) {
	server, _, _ := newTestServer(t)

	resp, err := http.Get(server.URL + "/api/v1/workers")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected workers route to be absent without a db, got %d", resp.StatusCode)
	}
}

func TestCreateTaskEnqueues(t *testing.T) {
	server, rdb, keys := newTestServer(t)

	body, _ := json.Marshal(CreateTaskRequest{TaskName: "email.send", Payload: map[string]string{"to": "a@b.com"}})
	resp, err := http.Post(server.URL+"/api/v1/tasks", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if out["id"] == "" || out["id"] == nil {
		t.Error("expected a non-empty id in response")
	}

	length, err := rdb.XLen(context.Background(), keys.Stream(broker.PriorityDefault)).Result()
	if err != nil {
		t.Fatalf("xlen failed: %v", err)
	}
	if length != 1 {
		t.Errorf("expected 1 message on default stream, got %d", length)
	}
}

func TestCreateTaskRejectsMissingName(t *testing.T) {
	server, _, _ := newTestServer(t)

	body, _ := json.Marshal(CreateTaskRequest{Payload: "x"})
	resp, err := http.Post(server.URL+"/api/v1/tasks", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing taskName, got %d", resp.StatusCode)
	}
}

func TestDeadLetterListAndReplay(t *testing.T) {
	server, rdb, keys := newTestServer(t)
	ctx := context.Background()

	dlqKey := keys.DeadLetter(broker.PriorityDefault)
	if err := rdb.XAdd(ctx, &redis.XAddArgs{Stream: dlqKey, Values: []interface{}{
		"taskName", "reminder", "payload", `{"id":1}`, "enqueuedAt", "1000",
	}}).Err(); err != nil {
		t.Fatalf("seed xadd failed: %v", err)
	}

	resp, err := http.Get(server.URL + "/api/v1/queues/default/dead-letter")
	if err != nil {
		t.Fatalf("list request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var listOut map[string]any
	json.NewDecoder(resp.Body).Decode(&listOut)
	if int(listOut["count"].(float64)) != 1 {
		t.Fatalf("expected 1 dead-letter entry, got %v", listOut["count"])
	}

	replayBody, _ := json.Marshal(ReplayDeadLetterRequest{Count: 1})
	replayResp, err := http.Post(server.URL+"/api/v1/queues/default/dead-letter/replay", "application/json", bytes.NewReader(replayBody))
	if err != nil {
		t.Fatalf("replay request failed: %v", err)
	}
	defer replayResp.Body.Close()
	if replayResp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", replayResp.StatusCode)
	}

	dlqLen, _ := rdb.XLen(ctx, dlqKey).Result()
	if dlqLen != 0 {
		t.Errorf("expected dead-letter entry to be removed after replay, got %d", dlqLen)
	}
	streamLen, _ := rdb.XLen(ctx, keys.Stream(broker.PriorityDefault)).Result()
	if streamLen != 1 {
		t.Errorf("expected replayed entry on default stream, got %d", streamLen)
	}
}
