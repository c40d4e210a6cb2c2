// Package encoder converts loan records into fixed-length feature vectors
// using a fitted, versioned encoder state. Encoding is a pure function of
// (record, state): the same inputs always produce a bit-identical vector,
// which is what keeps corpus vectors and live query vectors comparable.
package encoder

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Fit derives an EncoderState from the full historical corpus: per-numeric
// mean and standard deviation, per-categorical the sorted vocabulary of
// observed values. The returned state is immutable; callers re-fit to a new
// version instead of mutating it.
func Fit(corpus []*domain.LoanRecord) (*domain.EncoderState, error) {
	if len(corpus) == 0 {
		return nil, domain.ErrEmptyCorpus
	}

	n := float64(len(corpus))

	numeric := make([]domain.NumericFieldState, len(domain.NumericFields))
	for i, field := range domain.NumericFields {
		var sum float64
		for _, rec := range corpus {
			sum += rec.NumericValues()[i]
		}
		mean := sum / n

		var sqDiff float64
		for _, rec := range corpus {
			d := rec.NumericValues()[i] - mean
			sqDiff += d * d
		}
		std := math.Sqrt(sqDiff / n)

		numeric[i] = domain.NumericFieldState{Field: field, Mean: mean, Std: std}
	}

	categorical := make([]domain.CategoricalFieldState, len(domain.CategoricalFields))
	for i, field := range domain.CategoricalFields {
		seen := make(map[string]struct{})
		for _, rec := range corpus {
			v := rec.CategoricalValues()[i]
			if v == "" {
				continue
			}
			seen[v] = struct{}{}
		}
		vocab := make([]string, 0, len(seen))
		for v := range seen {
			vocab = append(vocab, v)
		}
		sort.Strings(vocab)
		categorical[i] = domain.CategoricalFieldState{Field: field, Vocabulary: vocab}
	}

	state := &domain.EncoderState{
		FittedAt:    time.Now().UTC(),
		CorpusSize:  len(corpus),
		Numeric:     numeric,
		Categorical: categorical,
	}
	version, err := stateVersion(state)
	if err != nil {
		return nil, fmt.Errorf("compute state version: %w", err)
	}
	state.Version = version

	if len(corpus) > 0 {
		state.TenantID = corpus[0].TenantID
	}

	return state, nil
}

// Encode maps a record to a vector under the given state. It never mutates
// either argument and never re-fits: unseen categorical values route to the
// reserved unknown slot, and a zero-variance numeric field contributes a
// constant 0 rather than dividing by zero.
func Encode(rec *domain.LoanRecord, state *domain.EncoderState) (domain.FeatureVector, error) {
	if state == nil {
		return nil, domain.ErrNoEncoderState
	}
	if len(state.Numeric) != len(domain.NumericFields) || len(state.Categorical) != len(domain.CategoricalFields) {
		return nil, fmt.Errorf("%w: state covers %d numeric / %d categorical fields, schema has %d / %d",
			domain.ErrEncoderMismatch,
			len(state.Numeric), len(state.Categorical),
			len(domain.NumericFields), len(domain.CategoricalFields))
	}

	vec := make(domain.FeatureVector, 0, state.Dimension())

	values := rec.NumericValues()
	for i, fs := range state.Numeric {
		if fs.Std == 0 {
			// Degenerate field (constant across the fit corpus). Every
			// value standardizes to 0 so the field carries no signal but
			// stays finite.
			vec = append(vec, 0)
			continue
		}
		vec = append(vec, float32((values[i]-fs.Mean)/fs.Std))
	}

	cats := rec.CategoricalValues()
	for i, fs := range state.Categorical {
		oneHot := make([]float32, len(fs.Vocabulary)+1)
		slot := len(fs.Vocabulary) // reserved unknown slot
		if cats[i] != "" {
			for j, v := range fs.Vocabulary {
				if v == cats[i] {
					slot = j
					break
				}
			}
		}
		oneHot[slot] = 1
		vec = append(vec, oneHot...)
	}

	return vec, nil
}

// stateVersion digests the fitted parameters. Field order is fixed by the
// schema and vocabularies are sorted at fit time, so identical corpora
// always produce identical versions.
func stateVersion(state *domain.EncoderState) (string, error) {
	canonical := struct {
		Numeric     []domain.NumericFieldState     `json:"numeric"`
		Categorical []domain.CategoricalFieldState `json:"categorical"`
	}{state.Numeric, state.Categorical}

	raw, err := json.Marshal(canonical)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:8]), nil
}
