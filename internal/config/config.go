package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
)

type ServerConfig struct {
	Port string `toml:"port"`
	Mode string `toml:"mode"` // "dev" or "prod", controls logging
}

type GraphConfig struct {
	Backend  string `toml:"backend"` // "memory" or "neo4j"
	URI      string `toml:"uri"`
	User     string `toml:"user"`
	Password string `toml:"password"`
}

type EvidenceConfig struct {
	Backend   string `toml:"backend"` // "memory" or "postgres"
	DSN       string `toml:"dsn"`
	Dimension int    `toml:"dimension"`
}

type QueueConfig struct {
	RedisURL       string `toml:"redis_url"`
	Prefix         string `toml:"prefix"`
	Workers        int    `toml:"workers"`
	MaxAttempts    int    `toml:"max_attempts"`
	LeaseTimeoutMS int    `toml:"lease_timeout_ms"`
	RetryDelayMS   int    `toml:"retry_delay_ms"`
	RetentionMS    int    `toml:"retention_ms"`
}

func (q QueueConfig) LeaseTimeout() time.Duration { return time.Duration(q.LeaseTimeoutMS) * time.Millisecond }
func (q QueueConfig) RetryDelay() time.Duration   { return time.Duration(q.RetryDelayMS) * time.Millisecond }
func (q QueueConfig) Retention() time.Duration    { return time.Duration(q.RetentionMS) * time.Millisecond }

type ResolverConfig struct {
	AcceptThreshold     float64 `toml:"accept_threshold"`
	TrustThreshold      float64 `toml:"trust_threshold"`
	CandidateConfidence float64 `toml:"candidate_confidence"`
}

type CASConfig struct {
	MaxAttempts      int `toml:"max_attempts"`
	InitialBackoffMS int `toml:"initial_backoff_ms"`
	MaxBackoffMS     int `toml:"max_backoff_ms"`
}

func (c CASConfig) InitialBackoff() time.Duration { return time.Duration(c.InitialBackoffMS) * time.Millisecond }
func (c CASConfig) MaxBackoff() time.Duration     { return time.Duration(c.MaxBackoffMS) * time.Millisecond }

type QueryConfig struct {
	TopK           int `toml:"top_k"`
	StoreTimeoutMS int `toml:"store_timeout_ms"`
}

func (q QueryConfig) StoreTimeout() time.Duration { return time.Duration(q.StoreTimeoutMS) * time.Millisecond }

type LLMConfig struct {
	Provider       string `toml:"provider"`
	Model          string `toml:"model"`
	EmbeddingModel string `toml:"embedding_model"`
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
}

type ExtractionPrompts struct {
	Entities string `toml:"entities"`
	Edges    string `toml:"edges"`
}

type Config struct {
	Server     ServerConfig      `toml:"server"`
	Graph      GraphConfig       `toml:"graph"`
	Evidence   EvidenceConfig    `toml:"evidence"`
	Queue      QueueConfig       `toml:"queue"`
	Resolver   ResolverConfig    `toml:"resolver"`
	CAS        CASConfig         `toml:"cas"`
	Query      QueryConfig       `toml:"query"`
	LLM        LLMConfig         `toml:"llm"`
	Extraction ExtractionPrompts `toml:"extraction"`
}

// Default returns the configuration used when no file or override says
// otherwise. The resolver and retry values are the ones validated by the
// contention and ambiguity tests, not universal constants.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Port: "8080", Mode: "dev"},
		Graph:  GraphConfig{Backend: "memory", URI: "bolt://localhost:7687"},
		Evidence: EvidenceConfig{
			Backend:   "memory",
			Dimension: 1536,
		},
		Queue: QueueConfig{
			RedisURL:       "redis://localhost:6379",
			Prefix:         "recall:ingest",
			Workers:        4,
			MaxAttempts:    5,
			LeaseTimeoutMS: 30_000,
			RetryDelayMS:   2_000,
			RetentionMS:    int(24 * time.Hour / time.Millisecond),
		},
		Resolver: ResolverConfig{
			AcceptThreshold:     0.84,
			TrustThreshold:      0.75,
			CandidateConfidence: 0.30,
		},
		CAS: CASConfig{
			MaxAttempts:      16,
			InitialBackoffMS: 5,
			MaxBackoffMS:     250,
		},
		Query: QueryConfig{
			TopK:           10,
			StoreTimeoutMS: 5_000,
		},
		LLM: LLMConfig{Provider: "openai", Model: "gpt-4o-mini", EmbeddingModel: "text-embedding-3-small"},
	}
}

// Load reads the TOML file at path on top of the defaults. A missing file is
// not an error; the defaults plus environment overrides apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		cfg.applyEnv()
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse TOML: %w", err)
	}

	cfg.applyEnv()
	return cfg, nil
}

// applyEnv overrides file values with environment variables when present.
func (c *Config) applyEnv() {
	setStr(&c.Server.Port, "PORT")
	setStr(&c.Server.Mode, "SERVER_MODE")
	setStr(&c.Graph.Backend, "GRAPH_BACKEND")
	setStr(&c.Graph.URI, "GRAPH_URI")
	setStr(&c.Graph.User, "GRAPH_USER")
	setStr(&c.Graph.Password, "GRAPH_PASSWORD")
	setStr(&c.Evidence.Backend, "EVIDENCE_BACKEND")
	setStr(&c.Evidence.DSN, "EVIDENCE_DSN")
	setInt(&c.Evidence.Dimension, "EVIDENCE_DIMENSION")
	setStr(&c.Queue.RedisURL, "REDIS_URL")
	setInt(&c.Queue.Workers, "QUEUE_WORKERS")
	setInt(&c.Queue.MaxAttempts, "QUEUE_MAX_ATTEMPTS")
	setStr(&c.LLM.Provider, "LLM_PROVIDER")
	setStr(&c.LLM.Model, "LLM_MODEL")
	setStr(&c.LLM.EmbeddingModel, "LLM_EMBEDDING_MODEL")
	setStr(&c.LLM.APIKey, "LLM_API_KEY")
	setStr(&c.LLM.BaseURL, "LLM_BASE_URL")
}

func setStr(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

func setInt(dst *int, env string) {
	if v := os.Getenv(env); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
