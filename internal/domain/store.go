package domain

import (
	"context"
	"time"
)

// SimilarityMetric selects how neighbor distance becomes a similarity score.
type SimilarityMetric string

const (
	MetricCosine    SimilarityMetric = "cosine"
	MetricEuclidean SimilarityMetric = "euclidean"
)

// CasePayload is the metadata stored alongside each vector. It is the only
// record detail a retrieval can surface; raw vectors never leave the store.
type CasePayload struct {
	RecordID       string  `json:"recordId"`
	Outcome        Outcome `json:"outcome"`
	FraudFlag      bool    `json:"fraudFlag"`
	FraudType      string  `json:"fraudType,omitempty"`
	LoanType       string  `json:"loanType"`
	Purpose        string  `json:"purposeOfLoan"`
	EncoderVersion string  `json:"encoderVersion"`
}

// VectorPoint is one (vector, payload) pair for upsert.
type VectorPoint struct {
	ID      string
	Vector  FeatureVector
	Payload CasePayload
}

// VectorStore is the similarity-search collaborator. The engine treats it
// as a black box: no indexing algorithm is assumed, and retry/backoff for
// transient upsert failures lives behind this interface, not in the engine.
// All methods require tenantID for strict multi-tenancy isolation.
type VectorStore interface {
	// Upsert stores points under the tenant's collection. Idempotent per
	// point ID; implementations may retry transient failures with bounded
	// backoff.
	Upsert(ctx context.Context, tenantID string, points []VectorPoint) error

	// Search returns up to topK nearest cases in stable store order
	// (descending similarity, insertion order on ties). Fewer than topK
	// stored cases is not an error. encoderVersion must match the version
	// the collection was populated under; a stale version fails with
	// ErrEncoderMismatch. Search is never retried: a stale or partial
	// retrieval must surface, not silently degrade a verdict.
	Search(ctx context.Context, tenantID string, encoderVersion string, vector FeatureVector, topK int) ([]RetrievedCase, error)

	// Count returns the number of stored cases for the tenant.
	Count(ctx context.Context, tenantID string) (int, error)

	// Reset drops the tenant's collection. Used when a re-fit invalidates
	// every stored vector.
	Reset(ctx context.Context, tenantID string) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// VectorStoreConfig holds configuration for vector store initialization.
type VectorStoreConfig struct {
	// Type is the store type: "chromem" or "memory"
	Type string

	Metric SimilarityMetric

	// Remote connection parameters are opaque strings passed through from
	// the environment; only non-emptiness is ever checked.
	Endpoint   string
	Credential string

	// Upsert retry policy (ingestion only)
	MaxRetries    int
	RetryBaseWait time.Duration

	// SearchTimeout bounds the only suspension point in a query.
	SearchTimeout time.Duration
}
