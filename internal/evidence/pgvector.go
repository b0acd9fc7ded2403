package evidence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
)

// PostgresStore backs the evidence store with Postgres + pgvector. Appends
// use ON CONFLICT DO NOTHING on the chunk id, so the idempotency guarantee
// holds inside the database rather than in application code.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(ctx context.Context, dsn string, dimension int) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	s := &PostgresStore{db: db}
	if err := s.ensureSchema(ctx, dimension); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context, dimension int) error {
	statements := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS evidence_chunks (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			content TEXT NOT NULL,
			embedding vector(%d),
			source TEXT NOT NULL DEFAULT '',
			ts TIMESTAMPTZ NOT NULL,
			entity_ids TEXT[] NOT NULL DEFAULT '{}',
			claims JSONB NOT NULL DEFAULT '{}',
			dimension INT NOT NULL
		)`, dimension),
		`CREATE INDEX IF NOT EXISTS evidence_chunks_user_idx ON evidence_chunks (user_id)`,
		`CREATE INDEX IF NOT EXISTS evidence_chunks_ts_idx ON evidence_chunks (ts)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to initialize evidence schema: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) Append(ctx context.Context, chunk Chunk) error {
	if chunk.Dimension == 0 {
		chunk.Dimension = len(chunk.Embedding)
	}
	claims, err := json.Marshal(chunk.Claims)
	if err != nil {
		return fmt.Errorf("failed to marshal claims: %w", err)
	}
	if chunk.Claims == nil {
		claims = []byte("{}")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO evidence_chunks (id, user_id, content, embedding, source, ts, entity_ids, claims, dimension)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (id) DO NOTHING`,
		chunk.ID,
		chunk.UserID,
		chunk.Content,
		pgvector.NewVector(chunk.Embedding),
		chunk.Source,
		chunk.Timestamp.UTC(),
		pq.Array(chunk.EntityIDs),
		claims,
		chunk.Dimension,
	)
	if err != nil {
		return fmt.Errorf("%w: failed to append chunk %s: %w", ErrStoreUnavailable, chunk.ID, err)
	}
	return nil
}

func (s *PostgresStore) Search(ctx context.Context, embedding []float32, filter Filter, k int) ([]Scored, error) {
	if k <= 0 {
		k = 10
	}

	query := `SELECT id, user_id, content, source, ts, entity_ids, claims, dimension,
		1 - (embedding <=> $1) AS score
		FROM evidence_chunks WHERE embedding IS NOT NULL`
	args := []interface{}{pgvector.NewVector(embedding)}

	if filter.UserID != "" {
		args = append(args, filter.UserID)
		query += fmt.Sprintf(" AND user_id = $%d", len(args))
	}
	if len(filter.EntityIDs) > 0 {
		args = append(args, pq.Array(filter.EntityIDs))
		query += fmt.Sprintf(" AND entity_ids && $%d", len(args))
	}
	if !filter.Since.IsZero() {
		args = append(args, filter.Since.UTC())
		query += fmt.Sprintf(" AND ts >= $%d", len(args))
	}
	if !filter.Until.IsZero() {
		args = append(args, filter.Until.UTC())
		query += fmt.Sprintf(" AND ts <= $%d", len(args))
	}

	args = append(args, k)
	query += fmt.Sprintf(" ORDER BY embedding <=> $1 LIMIT $%d", len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: search failed: %w", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var out []Scored
	for rows.Next() {
		var (
			c         Chunk
			ts        time.Time
			entityIDs pq.StringArray
			claims    []byte
			score     float64
		)
		if err := rows.Scan(&c.ID, &c.UserID, &c.Content, &c.Source, &ts, &entityIDs, &claims, &c.Dimension, &score); err != nil {
			return nil, fmt.Errorf("failed to scan chunk row: %w", err)
		}
		c.Timestamp = ts
		c.EntityIDs = entityIDs
		if len(claims) > 0 {
			if err := json.Unmarshal(claims, &c.Claims); err != nil {
				return nil, fmt.Errorf("failed to unmarshal claims for chunk %s: %w", c.ID, err)
			}
		}
		out = append(out, Scored{Chunk: c, Score: score})
	}
	return out, rows.Err()
}

func (s *PostgresStore) Close(ctx context.Context) error {
	return s.db.Close()
}
