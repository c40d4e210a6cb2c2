package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// ChromemStore wraps chromem-go, a pure Go embedded vector database.
// Each tenant gets its own collection for namespace isolation. chromem
// scores by cosine similarity; the euclidean metric is served by the
// memory store.
type ChromemStore struct {
	mu          sync.RWMutex
	db          *chromem.DB
	collections map[string]*chromem.Collection
	// versions binds each tenant collection to the encoder state version
	// of its first upsert.
	versions   map[string]string
	maxRetries int
	baseWait   time.Duration
}

// NewChromemStore creates a chromem-backed store.
func NewChromemStore(cfg domain.VectorStoreConfig) (*ChromemStore, error) {
	if cfg.Metric != "" && cfg.Metric != domain.MetricCosine {
		return nil, fmt.Errorf("chromem store supports only the cosine metric, got %s", cfg.Metric)
	}

	return &ChromemStore{
		db:          chromem.NewDB(),
		collections: make(map[string]*chromem.Collection),
		versions:    make(map[string]string),
		maxRetries:  cfg.MaxRetries,
		baseWait:    cfg.RetryBaseWait,
	}, nil
}

func (s *ChromemStore) collectionName(tenantID string) string {
	return "tenant_" + tenantID
}

func (s *ChromemStore) getOrCreateCollection(tenantID string) (*chromem.Collection, error) {
	s.mu.RLock()
	col, exists := s.collections[tenantID]
	s.mu.RUnlock()
	if exists {
		return col, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Double-check after acquiring write lock
	if col, exists := s.collections[tenantID]; exists {
		return col, nil
	}

	col, err := s.db.CreateCollection(
		s.collectionName(tenantID),
		nil, // no collection metadata
		nil, // embeddings are provided, no embedding func
	)
	if err != nil {
		return nil, fmt.Errorf("%w: create collection: %v", domain.ErrStoreInternal, err)
	}

	s.collections[tenantID] = col
	return col, nil
}

// Upsert stores points under the tenant's collection, retrying transient
// failures with bounded backoff (upserts are idempotent per point ID).
func (s *ChromemStore) Upsert(ctx context.Context, tenantID string, points []domain.VectorPoint) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}

	col, err := s.getOrCreateCollection(tenantID)
	if err != nil {
		return err
	}

	for _, p := range points {
		if err := s.bindVersion(tenantID, p.Payload.EncoderVersion, p.ID); err != nil {
			return err
		}

		payload, err := json.Marshal(p.Payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}

		doc := chromem.Document{
			ID:        p.ID,
			Content:   string(payload),
			Embedding: p.Vector,
			Metadata: map[string]string{
				"record_id":       p.Payload.RecordID,
				"outcome":         string(p.Payload.Outcome),
				"encoder_version": p.Payload.EncoderVersion,
			},
		}

		err = withRetry(ctx, s.maxRetries, s.baseWait, func() error {
			return col.AddDocument(ctx, doc)
		})
		if err != nil {
			return fmt.Errorf("%w: add document %s: %v", domain.ErrStoreInternal, p.ID, err)
		}
	}

	return nil
}

func (s *ChromemStore) bindVersion(tenantID, version, pointID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	bound, ok := s.versions[tenantID]
	if !ok || bound == "" {
		s.versions[tenantID] = version
		return nil
	}
	if version != bound {
		return fmt.Errorf("%w: point %s encoded under %s, collection bound to %s",
			domain.ErrEncoderMismatch, pointID, version, bound)
	}
	return nil
}

// Search queries the tenant's collection. chromem requires nResults to be
// at most the document count, so topK is clamped before the query.
func (s *ChromemStore) Search(ctx context.Context, tenantID string, encoderVersion string, vector domain.FeatureVector, topK int) ([]domain.RetrievedCase, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}
	if topK <= 0 {
		return nil, fmt.Errorf("topK must be positive, got %d", topK)
	}

	s.mu.RLock()
	col, exists := s.collections[tenantID]
	bound := s.versions[tenantID]
	s.mu.RUnlock()

	if !exists || col.Count() == 0 {
		return nil, nil
	}
	if encoderVersion != bound {
		return nil, fmt.Errorf("%w: query encoded under %s, collection bound to %s",
			domain.ErrEncoderMismatch, encoderVersion, bound)
	}

	n := topK
	if count := col.Count(); n > count {
		n = count
	}

	results, err := col.QueryEmbedding(ctx, vector, n, nil, nil)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, ctx.Err())
		}
		return nil, fmt.Errorf("%w: query: %v", domain.ErrStoreInternal, err)
	}

	cases := make([]domain.RetrievedCase, 0, len(results))
	for _, res := range results {
		var payload domain.CasePayload
		if err := json.Unmarshal([]byte(res.Content), &payload); err != nil {
			return nil, fmt.Errorf("%w: corrupt payload for %s: %v", domain.ErrStoreInternal, res.ID, err)
		}
		cases = append(cases, domain.RetrievedCase{
			RecordID:   payload.RecordID,
			Similarity: float64(res.Similarity),
			Outcome:    payload.Outcome,
			FraudFlag:  payload.FraudFlag,
			FraudType:  payload.FraudType,
			LoanType:   payload.LoanType,
			Purpose:    payload.Purpose,
		})
	}
	return cases, nil
}

// Count returns the number of stored cases for the tenant.
func (s *ChromemStore) Count(ctx context.Context, tenantID string) (int, error) {
	if tenantID == "" {
		return 0, fmt.Errorf("tenantID is required")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	col, exists := s.collections[tenantID]
	if !exists {
		return 0, nil
	}
	return col.Count(), nil
}

// Reset drops the tenant's collection and its version binding.
func (s *ChromemStore) Reset(ctx context.Context, tenantID string) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.collections[tenantID]; exists {
		if err := s.db.DeleteCollection(s.collectionName(tenantID)); err != nil {
			return fmt.Errorf("%w: delete collection: %v", domain.ErrStoreInternal, err)
		}
	}
	delete(s.collections, tenantID)
	delete(s.versions, tenantID)
	return nil
}

// Ping checks store health. chromem is in-process, so health is structural.
func (s *ChromemStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return fmt.Errorf("%w: store not initialized", domain.ErrStoreInternal)
	}
	return nil
}

// Close releases resources. chromem keeps everything in memory.
func (s *ChromemStore) Close() error {
	return nil
}
