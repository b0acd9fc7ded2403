package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/agenthands/recall/internal/logger"
	"github.com/agenthands/recall/internal/pipeline"
	"github.com/agenthands/recall/internal/query"
)

// Server exposes the ingestion and query surfaces over HTTP. It only
// enqueues and reads; all writes to the stores happen in the worker pool.
type Server struct {
	queue  pipeline.Queue
	merger *query.Merger
	log    *logger.Logger
}

func New(queue pipeline.Queue, merger *query.Merger, log *logger.Logger) *Server {
	return &Server{queue: queue, merger: merger, log: log}
}

func (s *Server) SetupRouter(mode string) *gin.Engine {
	if mode == "prod" || mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.Default()

	r.POST("/ingest", s.Ingest)
	r.POST("/query", s.Query)
	r.GET("/deadletters", s.DeadLetters)
	r.POST("/deadletters/:key/requeue", s.Requeue)
	r.GET("/healthz", s.Health)

	return r
}

type IngestRequest struct {
	UserID    string                 `json:"user_id" binding:"required"`
	Timestamp time.Time              `json:"timestamp"`
	Type      string                 `json:"type"`
	Source    string                 `json:"source"`
	Content   string                 `json:"content" binding:"required"`
	Metadata  map[string]interface{} `json:"metadata"`
}

// Ingest accepts an event and acks as soon as it is durably queued. The
// caller gets the idempotency key back, never a persistence confirmation;
// that arrives asynchronously or not at all.
func (s *Server) Ingest(c *gin.Context) {
	var req IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	if req.Timestamp.IsZero() {
		req.Timestamp = time.Now().UTC()
	}
	if req.Type == "" {
		req.Type = "message"
	}

	task := pipeline.NewTask(pipeline.Event{
		UserID:    req.UserID,
		Timestamp: req.Timestamp,
		Type:      req.Type,
		Source:    req.Source,
		Content:   req.Content,
		Metadata:  req.Metadata,
	})

	fresh, err := s.queue.Enqueue(c.Request.Context(), task)
	if err != nil {
		s.log.Error("enqueue failed", "user_id", req.UserID, "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "queue unavailable"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"key":       task.Key,
		"status":    "queued",
		"duplicate": !fresh,
	})
}

type QueryRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Query  string `json:"query" binding:"required"`
}

func (s *Server) Query(c *gin.Context) {
	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	res, err := s.merger.Query(c.Request.Context(), req.UserID, req.Query)
	if err != nil {
		s.log.Error("query failed", "user_id", req.UserID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}

	c.JSON(http.StatusOK, res)
}

func (s *Server) DeadLetters(c *gin.Context) {
	letters, err := s.queue.DeadLetters(c.Request.Context())
	if err != nil {
		s.log.Error("dead letter listing failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "queue unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"dead_letters": letters, "count": len(letters)})
}

func (s *Server) Requeue(c *gin.Context) {
	key := c.Param("key")
	if err := s.queue.Requeue(c.Request.Context(), key); err != nil {
		if errors.Is(err, pipeline.ErrTaskNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no such dead letter"})
			return
		}
		s.log.Error("requeue failed", "key", key, "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "queue unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": key, "status": "queued"})
}

func (s *Server) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
