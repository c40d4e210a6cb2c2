// Package engine implements the decision memory pipeline: encode a loan
// application, retrieve the most similar historical cases, and aggregate
// their observed outcomes into an explainable risk verdict. There is no
// learned model anywhere in this path; the verdict is a deterministic
// function of the retrieved set and the configured thresholds.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/encoder"
	"github.com/opensource-finance/kestrel/internal/temporal"
)

// EngineVersion tags verdicts and reports with the producing engine.
const EngineVersion = "kestrel-1.0"

// Engine orchestrates encode → search → aggregate for queries and
// correct → encode → upsert for corpus ingestion.
type Engine struct {
	repo      domain.Repository
	store     domain.VectorStore
	corrector *temporal.Corrector
	cfg       domain.EvaluationConfig

	// searchTimeout bounds the only suspension point in a query.
	searchTimeout time.Duration

	// maxWorkers bounds parallel per-record work during ingestion.
	maxWorkers int

	// states caches the per-tenant encoder state. States are immutable;
	// the map only changes on first load and on re-fit.
	mu     sync.RWMutex
	states map[string]*domain.EncoderState
}

// New creates an engine.
func New(repo domain.Repository, store domain.VectorStore, corrector *temporal.Corrector, cfg domain.EvaluationConfig, searchTimeout time.Duration) *Engine {
	if cfg.DefaultTopK <= 0 {
		cfg.DefaultTopK = 10
	}
	if searchTimeout <= 0 {
		searchTimeout = 10 * time.Second
	}
	return &Engine{
		repo:          repo,
		store:         store,
		corrector:     corrector,
		cfg:           cfg,
		searchTimeout: searchTimeout,
		maxWorkers:    8,
		states:        make(map[string]*domain.EncoderState),
	}
}

// Config returns the evaluation configuration the engine was built with.
func (e *Engine) Config() domain.EvaluationConfig {
	return e.cfg
}

// EncoderState returns the tenant's current encoder state, loading it from
// the repository on first use.
func (e *Engine) EncoderState(ctx context.Context, tenantID string) (*domain.EncoderState, error) {
	e.mu.RLock()
	state, ok := e.states[tenantID]
	e.mu.RUnlock()
	if ok {
		return state, nil
	}

	if e.repo == nil {
		return nil, domain.ErrNoEncoderState
	}
	state, err := e.repo.GetEncoderState(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, domain.ErrNoEncoderState
	}

	e.mu.Lock()
	e.states[tenantID] = state
	e.mu.Unlock()
	return state, nil
}

func (e *Engine) setState(tenantID string, state *domain.EncoderState) {
	e.mu.Lock()
	e.states[tenantID] = state
	e.mu.Unlock()
}

// Evaluate runs one query through the pipeline and returns a verdict.
// topK <= 0 falls back to the configured default. An empty store yields a
// Medium verdict with confidence 0, never an error and never a fabricated
// Low or High.
func (e *Engine) Evaluate(ctx context.Context, tenantID string, query *domain.LoanRecord, topK int, cfg domain.EvaluationConfig) (*domain.Verdict, error) {
	start := time.Now()

	if err := query.ValidateQuery(); err != nil {
		return nil, err
	}
	if topK < 0 {
		return nil, fmt.Errorf("%w: topK must be positive, got %d", domain.ErrValidation, topK)
	}
	if topK == 0 {
		topK = cfg.DefaultTopK
	}
	if topK <= 0 {
		topK = e.cfg.DefaultTopK
	}

	state, err := e.EncoderState(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	encodeStart := time.Now()
	vector, err := encoder.Encode(query, state)
	if err != nil {
		return nil, err
	}
	encodeMs := time.Since(encodeStart).Milliseconds()

	searchCtx, cancel := context.WithTimeout(ctx, e.searchTimeout)
	defer cancel()

	searchStart := time.Now()
	cases, err := e.store.Search(searchCtx, tenantID, state.Version, vector, topK)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(searchCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: search timed out after %s", domain.ErrStoreUnavailable, e.searchTimeout)
		}
		return nil, err
	}
	searchMs := time.Since(searchStart).Milliseconds()

	verdict := e.aggregate(query, cases, topK, cfg)
	verdict.ID = uuid.New().String()
	verdict.TenantID = tenantID
	verdict.EncoderVersion = state.Version
	verdict.Timestamp = time.Now().UTC()
	verdict.Metadata = domain.VerdictMetadata{
		EncodeMs:      encodeMs,
		SearchMs:      searchMs,
		TotalMs:       time.Since(start).Milliseconds(),
		EngineVersion: EngineVersion,
	}

	slog.Debug("evaluation complete",
		"tenant_id", tenantID,
		"risk_level", verdict.RiskLevel,
		"confidence", verdict.Confidence,
		"retrieved", verdict.RetrievedCount,
	)

	return verdict, nil
}

// aggregate turns a retrieved set into a verdict. All steps are
// deterministic: normalized similarity weights, weighted outcome
// distribution, threshold-derived risk level, and a confidence that is
// monotonic in retrieval coverage and in outcome concentration.
func (e *Engine) aggregate(query *domain.LoanRecord, cases []domain.RetrievedCase, topK int, cfg domain.EvaluationConfig) *domain.Verdict {
	distribution := make(map[domain.Outcome]float64, len(domain.Outcomes))
	for _, o := range domain.Outcomes {
		distribution[o] = 0
	}

	if len(cases) == 0 {
		return &domain.Verdict{
			RiskLevel:           domain.RiskMedium,
			Confidence:          0,
			OutcomeDistribution: distribution,
			FraudSignalStrength: 0,
			SupportingCases:     []domain.RetrievedCase{},
			Rationale:           []string{"No comparable historical cases found; defaulting to Medium risk with zero confidence."},
			RequestedTopK:       topK,
			RetrievedCount:      0,
		}
	}

	weighted := normalizeWeights(cases)

	var fraudSignal float64
	for _, c := range weighted {
		distribution[c.Outcome] += c.Weight
		if c.FraudFlag {
			fraudSignal += c.Weight
		}
	}

	risk := deriveRiskLevel(distribution, fraudSignal, cfg)
	conf := confidence(len(weighted), topK, distribution)

	return &domain.Verdict{
		RiskLevel:           risk,
		Confidence:          conf,
		OutcomeDistribution: distribution,
		FraudSignalStrength: fraudSignal,
		SupportingCases:     weighted,
		Rationale:           rationale(query, distribution, fraudSignal),
		RequestedTopK:       topK,
		RetrievedCount:      len(weighted),
	}
}

// normalizeWeights assigns each case weight = similarity / total so weights
// sum to 1. The store's order (descending similarity, insertion order on
// ties) is preserved, never re-sorted. A non-positive similarity total
// degrades to uniform weights rather than dividing by zero.
func normalizeWeights(cases []domain.RetrievedCase) []domain.RetrievedCase {
	out := make([]domain.RetrievedCase, len(cases))
	copy(out, cases)

	var total float64
	for _, c := range out {
		if c.Similarity > 0 {
			total += c.Similarity
		}
	}

	if total <= 0 {
		uniform := 1.0 / float64(len(out))
		for i := range out {
			out[i].Weight = uniform
		}
		return out
	}

	for i := range out {
		if out[i].Similarity > 0 {
			out[i].Weight = out[i].Similarity / total
		} else {
			out[i].Weight = 0
		}
	}
	return out
}

// deriveRiskLevel applies the configured thresholds. High wins over Low
// when both conditions hold: adverse evidence is never averaged away.
func deriveRiskLevel(distribution map[domain.Outcome]float64, fraudSignal float64, cfg domain.EvaluationConfig) domain.RiskLevel {
	adverse := distribution[domain.OutcomeDefaulted] + distribution[domain.OutcomeFraud]

	if adverse >= cfg.HighRiskThreshold || fraudSignal >= cfg.FraudThreshold {
		return domain.RiskHigh
	}
	if distribution[domain.OutcomeRepaid] >= cfg.LowRiskThreshold && fraudSignal < cfg.FraudThreshold {
		return domain.RiskLow
	}
	return domain.RiskMedium
}

// confidence combines retrieval coverage with the concentration of the
// outcome distribution (Herfindahl index: sum of squared shares). Both
// factors are in (0,1]; the product is monotonic in each.
func confidence(retrieved, requested int, distribution map[domain.Outcome]float64) float64 {
	if retrieved == 0 || requested <= 0 {
		return 0
	}

	coverage := float64(retrieved) / float64(requested)
	if coverage > 1 {
		coverage = 1
	}

	var herfindahl float64
	for _, share := range distribution {
		herfindahl += share * share
	}

	c := coverage * herfindahl
	// Guard against float drift at the boundary.
	return math.Min(1, math.Max(0, c))
}

// rationale builds the banker-facing signal statements.
func rationale(query *domain.LoanRecord, distribution map[domain.Outcome]float64, fraudSignal float64) []string {
	var out []string

	if fraudSignal > 0 {
		out = append(out, "Similar fraud patterns detected among retrieved cases; manual review recommended.")
	}
	if distribution[domain.OutcomeDefaulted] > distribution[domain.OutcomeRepaid] {
		out = append(out, "Majority of similar historical cases defaulted.")
	} else if distribution[domain.OutcomeRepaid] > 0 {
		out = append(out, "Majority of similar historical cases were successfully repaid.")
	}
	if distribution[domain.OutcomeInProgress] > 0.5 {
		out = append(out, "More than half of the similar cases are still in progress; outcome evidence is thin.")
	}

	if query.DebtToIncomeRatio > 0.4 {
		out = append(out, "Elevated debt-to-income ratio compared to peer cases.")
	}
	if query.CreditScore >= 750 {
		out = append(out, "Strong credit score relative to similar applicants.")
	}
	if query.PropertyOwnership == "Owned" {
		out = append(out, "Property ownership associated with improved repayment resilience.")
	}

	return out
}
