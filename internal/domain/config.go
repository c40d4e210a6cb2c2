package domain

import "time"

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines feature availability
	Tier Tier `json:"tier"`

	// Component configurations
	Repository  RepositoryConfig  `json:"repository"`
	Cache       CacheConfig       `json:"cache"`
	EventBus    EventBusConfig    `json:"eventBus"`
	VectorStore VectorStoreConfig `json:"vectorStore"`

	// Pipeline configuration
	Evaluation EvaluationConfig `json:"evaluation"`
	Corrector  CorrectorConfig  `json:"corrector"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// CorrectorConfig holds the temporal bias correction policy.
type CorrectorConfig struct {
	// ShiftMonths moves historical application dates backward so that
	// maturity falls before the reference "now".
	ShiftMonths int `json:"shiftMonths"`

	// MinApplicationDate is the earliest shifted date the corpus accepts.
	// Records shifted before it are rejected, not silently dropped.
	MinApplicationDate time.Time `json:"minApplicationDate"`

	// ReclassifyExpression is the CEL heuristic that re-derives Repaid or
	// Defaulted for matured InProgress records. It may never yield Fraud.
	ReclassifyExpression string `json:"reclassifyExpression"`
}

// DefaultReclassifyExpression mirrors the documented heuristic: a confirmed
// fraud flag or early delinquency means Defaulted, everything else that
// matured cleanly means Repaid. Applied only when a reliable signal exists.
const DefaultReclassifyExpression = `fraud_flag || (has_time_to_default && time_to_default_months <= 6) || (has_missed_payments && missed_payments >= 3) ? "Defaulted" : "Repaid"`

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `json:"enabled"`
	ServiceName  string `json:"serviceName"`
	ExporterType string `json:"exporterType"` // stdout, otlp, jaeger
	Endpoint     string `json:"endpoint"`
}

// Tier represents the product tier.
type Tier string

const (
	// TierCommunity is the free tier with SQLite + channels + embedded store
	TierCommunity Tier = "community"

	// TierPro is the paid tier with PostgreSQL + NATS + Redis
	TierPro Tier = "pro"

	// TierEnterprise includes multi-node, SSO, etc.
	TierEnterprise Tier = "enterprise"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     300,
			VerdictTTL:   5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		VectorStore: VectorStoreConfig{
			Type:          "chromem",
			Metric:        MetricCosine,
			MaxRetries:    3,
			RetryBaseWait: 200 * time.Millisecond,
			SearchTimeout: 10 * time.Second,
		},
		Evaluation: DefaultEvaluationConfig(),
		Corrector: CorrectorConfig{
			ShiftMonths:          36,
			MinApplicationDate:   time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC),
			ReclassifyExpression: DefaultReclassifyExpression,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kestrel",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "kestrel",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		VerdictTTL:     5 * time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}
