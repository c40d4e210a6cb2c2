package vectorstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// MemoryStore is an exact-scan, in-process vector store. It backs the test
// suite and serves as the euclidean-metric fallback; the Community tier
// default for real corpora is the chromem store.
type MemoryStore struct {
	mu      sync.RWMutex
	metric  domain.SimilarityMetric
	tenants map[string]*tenantIndex
	closed  bool
}

type tenantIndex struct {
	// version is the encoder state version the collection is bound to,
	// set by the first upsert. Points from another version are refused.
	version string
	byID    map[string]int
	points  []domain.VectorPoint
}

// NewMemoryStore creates an in-memory exact-scan store.
func NewMemoryStore(cfg domain.VectorStoreConfig) (*MemoryStore, error) {
	metric := cfg.Metric
	if metric == "" {
		metric = domain.MetricCosine
	}
	if metric != domain.MetricCosine && metric != domain.MetricEuclidean {
		return nil, fmt.Errorf("unsupported similarity metric: %s", metric)
	}
	return &MemoryStore{
		metric:  metric,
		tenants: make(map[string]*tenantIndex),
	}, nil
}

// Upsert stores or replaces points under the tenant's collection.
func (s *MemoryStore) Upsert(ctx context.Context, tenantID string, points []domain.VectorPoint) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}
	if err := ctxErr(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("%w: store is closed", domain.ErrStoreInternal)
	}

	idx, ok := s.tenants[tenantID]
	if !ok {
		idx = &tenantIndex{byID: make(map[string]int)}
		s.tenants[tenantID] = idx
	}

	for _, p := range points {
		if idx.version == "" {
			idx.version = p.Payload.EncoderVersion
		}
		if p.Payload.EncoderVersion != idx.version {
			return fmt.Errorf("%w: point %s encoded under %s, collection bound to %s",
				domain.ErrEncoderMismatch, p.ID, p.Payload.EncoderVersion, idx.version)
		}
		if len(idx.points) > 0 && len(p.Vector) != len(idx.points[0].Vector) {
			return fmt.Errorf("%w: point %s has dimension %d, collection has %d",
				domain.ErrEncoderMismatch, p.ID, len(p.Vector), len(idx.points[0].Vector))
		}

		if at, exists := idx.byID[p.ID]; exists {
			idx.points[at] = p
			continue
		}
		idx.byID[p.ID] = len(idx.points)
		idx.points = append(idx.points, p)
	}

	return nil
}

// Search scans the tenant's collection and returns up to topK cases sorted
// by similarity descending, insertion order preserved on ties.
func (s *MemoryStore) Search(ctx context.Context, tenantID string, encoderVersion string, vector domain.FeatureVector, topK int) ([]domain.RetrievedCase, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}
	if topK <= 0 {
		return nil, fmt.Errorf("topK must be positive, got %d", topK)
	}
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("%w: store is closed", domain.ErrStoreInternal)
	}

	idx, ok := s.tenants[tenantID]
	if !ok || len(idx.points) == 0 {
		return nil, nil
	}

	if encoderVersion != idx.version {
		return nil, fmt.Errorf("%w: query encoded under %s, collection bound to %s",
			domain.ErrEncoderMismatch, encoderVersion, idx.version)
	}
	if len(vector) != len(idx.points[0].Vector) {
		return nil, fmt.Errorf("%w: query dimension %d, collection dimension %d",
			domain.ErrEncoderMismatch, len(vector), len(idx.points[0].Vector))
	}

	cases := make([]domain.RetrievedCase, 0, len(idx.points))
	for _, p := range idx.points {
		cases = append(cases, domain.RetrievedCase{
			RecordID:   p.Payload.RecordID,
			Similarity: s.similarity(vector, p.Vector),
			Outcome:    p.Payload.Outcome,
			FraudFlag:  p.Payload.FraudFlag,
			FraudType:  p.Payload.FraudType,
			LoanType:   p.Payload.LoanType,
			Purpose:    p.Payload.Purpose,
		})
	}

	sort.SliceStable(cases, func(i, j int) bool {
		return cases[i].Similarity > cases[j].Similarity
	})

	if len(cases) > topK {
		cases = cases[:topK]
	}
	return cases, nil
}

// similarity converts distance to a similarity score. Euclidean distance is
// mapped through 1/(1+d) so scores stay positive and ordering is preserved.
func (s *MemoryStore) similarity(a, b domain.FeatureVector) float64 {
	switch s.metric {
	case domain.MetricEuclidean:
		var sum float64
		for i := range a {
			d := float64(a[i]) - float64(b[i])
			sum += d * d
		}
		return 1.0 / (1.0 + math.Sqrt(sum))
	default: // cosine
		var dot, na, nb float64
		for i := range a {
			dot += float64(a[i]) * float64(b[i])
			na += float64(a[i]) * float64(a[i])
			nb += float64(b[i]) * float64(b[i])
		}
		if na == 0 || nb == 0 {
			return 0
		}
		return dot / (math.Sqrt(na) * math.Sqrt(nb))
	}
}

// Count returns the number of stored cases for the tenant.
func (s *MemoryStore) Count(ctx context.Context, tenantID string) (int, error) {
	if tenantID == "" {
		return 0, fmt.Errorf("tenantID is required")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.tenants[tenantID]
	if !ok {
		return 0, nil
	}
	return len(idx.points), nil
}

// Reset drops the tenant's collection. Used when a re-fit invalidates all
// stored vectors.
func (s *MemoryStore) Reset(ctx context.Context, tenantID string) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.tenants, tenantID)
	return nil
}

// Ping checks store health.
func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return fmt.Errorf("%w: store is closed", domain.ErrStoreInternal)
	}
	return nil
}

// Close releases resources.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.tenants = nil
	return nil
}
