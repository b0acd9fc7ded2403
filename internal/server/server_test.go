package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthands/recall/internal/evidence"
	"github.com/agenthands/recall/internal/graph"
	"github.com/agenthands/recall/internal/logger"
	"github.com/agenthands/recall/internal/pipeline"
	"github.com/agenthands/recall/internal/query"
)

type stubEmbedder struct{}

func (stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func newTestServer(t *testing.T) (*gin.Engine, *graph.MemoryStore, pipeline.Queue) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr := miniredis.RunT(t)
	q, err := pipeline.NewRedisQueue(context.Background(), pipeline.RedisQueueOptions{
		URL:         "redis://" + mr.Addr(),
		MaxAttempts: 1,
		RetryDelay:  time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })

	g := graph.NewMemoryStore()
	ev := evidence.NewMemoryStore()
	merger := query.NewMerger(g, ev, stubEmbedder{}, logger.NewNop(), query.Config{TopK: 10, StoreTimeout: time.Second})

	srv := New(q, merger, logger.NewNop())
	return srv.SetupRouter("test"), g, q
}

func postJSON(t *testing.T, router *gin.Engine, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestIngestAcksImmediately(t *testing.T) {
	router, _, _ := newTestServer(t)

	w := postJSON(t, router, "/ingest", gin.H{
		"user_id":   "u1",
		"timestamp": "2026-02-03T10:00:00Z",
		"type":      "message",
		"source":    "chat",
		"content":   "Jordan moved to Berlin",
	})
	require.Equal(t, http.StatusAccepted, w.Code)

	var resp struct {
		Key       string `json:"key"`
		Status    string `json:"status"`
		Duplicate bool   `json:"duplicate"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Key)
	assert.Equal(t, "queued", resp.Status)
	assert.False(t, resp.Duplicate)

	// The same event again: same key, flagged as a duplicate, still 202.
	w = postJSON(t, router, "/ingest", gin.H{
		"user_id":   "u1",
		"timestamp": "2026-02-03T10:00:00Z",
		"type":      "message",
		"source":    "chat",
		"content":   "Jordan moved to Berlin",
	})
	require.Equal(t, http.StatusAccepted, w.Code)

	var dup struct {
		Key       string `json:"key"`
		Duplicate bool   `json:"duplicate"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &dup))
	assert.Equal(t, resp.Key, dup.Key)
	assert.True(t, dup.Duplicate)
}

func TestIngestValidation(t *testing.T) {
	router, _, _ := newTestServer(t)

	w := postJSON(t, router, "/ingest", gin.H{"user_id": "u1"})
	assert.Equal(t, http.StatusBadRequest, w.Code, "content is required")

	w = postJSON(t, router, "/ingest", gin.H{"content": "hello"})
	assert.Equal(t, http.StatusBadRequest, w.Code, "user_id is required")
}

func TestQueryEndpoint(t *testing.T) {
	router, g, _ := newTestServer(t)

	_, err := g.Create(context.Background(), &graph.Entity{
		UserID:     "u1",
		Type:       "Person",
		Name:       "Jordan",
		Attributes: map[string]interface{}{"location": "NYC"},
		Confidence: 0.9,
	})
	require.NoError(t, err)

	w := postJSON(t, router, "/query", gin.H{"user_id": "u1", "query": "where does jordan live"})
	require.Equal(t, http.StatusOK, w.Code)

	var res query.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.Len(t, res.Entities, 1)
	assert.Equal(t, "NYC", res.Entities[0].Attributes["location"])
	assert.False(t, res.Degraded)
	assert.NotEmpty(t, res.Sources)
}

func TestQueryValidation(t *testing.T) {
	router, _, _ := newTestServer(t)
	w := postJSON(t, router, "/query", gin.H{"user_id": "u1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeadLetterSurface(t *testing.T) {
	router, _, q := newTestServer(t)
	ctx := context.Background()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/deadletters", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var listing struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listing))
	assert.Zero(t, listing.Count)

	// Requeue of an unknown key is a 404, not a queue failure.
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/deadletters/nope/requeue", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Dead-letter a task, then requeue it through the API.
	task := pipeline.NewTask(pipeline.Event{
		UserID: "u1", Timestamp: time.Now(), Type: "message", Content: "poison",
	})
	_, err := q.Enqueue(ctx, task)
	require.NoError(t, err)
	leased, err := q.Lease(ctx, "w1")
	require.NoError(t, err)
	require.NotNil(t, leased)
	require.NoError(t, q.Nack(ctx, task.Key, "boom"))

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/deadletters", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listing))
	assert.Equal(t, 1, listing.Count)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/deadletters/"+task.Key+"/requeue", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHealth(t *testing.T) {
	router, _, _ := newTestServer(t)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
