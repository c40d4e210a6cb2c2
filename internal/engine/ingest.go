package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/encoder"
)

// upsertBatchSize bounds how many points go to the store per upsert call.
const upsertBatchSize = 500

// correctedRecord pairs one corpus record with its correction outcome,
// keeping batch order.
type correctedRecord struct {
	rec      *domain.LoanRecord
	excluded bool
	rejected string
}

// Ingest runs the corpus pipeline for a batch of historical records:
// validate, temporally correct, fit the encoder if the tenant has none,
// encode, upsert, persist. Individual record failures become report
// rejections; the batch itself never aborts on them.
func (e *Engine) Ingest(ctx context.Context, tenantID string, records []*domain.LoanRecord) (*domain.IngestionReport, error) {
	start := time.Now()

	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}
	if len(records) == 0 {
		return nil, domain.ErrEmptyCorpus
	}

	corrected := e.correctBatch(records)

	var accepted []*domain.LoanRecord
	var excludedCount int
	report := &domain.IngestionReport{
		ID:            uuid.New().String(),
		TenantID:      tenantID,
		Received:      len(records),
		OutcomeCounts: make(map[domain.Outcome]int, len(domain.Outcomes)),
	}
	for _, o := range domain.Outcomes {
		report.OutcomeCounts[o] = 0
	}

	for i, cr := range corrected {
		if cr.rejected != "" {
			id := records[i].ID
			report.Rejected = append(report.Rejected, domain.RejectedRecord{RecordID: id, Reason: cr.rejected})
			slog.Warn("corpus record rejected",
				"tenant_id", tenantID,
				"record_id", id,
				"reason", cr.rejected,
			)
			continue
		}
		if cr.excluded {
			excludedCount++
			continue
		}
		accepted = append(accepted, cr.rec)
		report.OutcomeCounts[cr.rec.Outcome]++
	}
	report.ExcludedInProgress = excludedCount

	if len(accepted) == 0 {
		report.Timestamp = time.Now().UTC()
		report.DurationMs = time.Since(start).Milliseconds()
		return report, nil
	}

	// Reuse the tenant's fitted state when one exists; fit fresh otherwise.
	// A fit happens over the corrected corpus, matching what gets stored.
	state, err := e.EncoderState(ctx, tenantID)
	if err != nil {
		state, err = encoder.Fit(accepted)
		if err != nil {
			return nil, err
		}
		state.TenantID = tenantID
		if e.repo != nil {
			if err := e.repo.SaveEncoderState(ctx, tenantID, state); err != nil {
				return nil, fmt.Errorf("save encoder state: %w", err)
			}
		}
		e.setState(tenantID, state)
		slog.Info("encoder state fitted",
			"tenant_id", tenantID,
			"version", state.Version,
			"corpus_size", state.CorpusSize,
			"dimension", state.Dimension(),
		)
	}
	report.EncoderVersion = state.Version

	ingested, upsertErrs := e.encodeAndUpsert(ctx, tenantID, state, accepted)
	report.Ingested = ingested
	report.Rejected = append(report.Rejected, upsertErrs...)

	if e.repo != nil {
		report.Timestamp = time.Now().UTC()
		report.DurationMs = time.Since(start).Milliseconds()
		if err := e.repo.SaveIngestionReport(ctx, tenantID, report); err != nil {
			slog.Error("failed to save ingestion report", "error", err)
		}
	} else {
		report.Timestamp = time.Now().UTC()
		report.DurationMs = time.Since(start).Milliseconds()
	}

	slog.Info("corpus batch ingested",
		"tenant_id", tenantID,
		"received", report.Received,
		"ingested", report.Ingested,
		"rejected", len(report.Rejected),
		"excluded_in_progress", report.ExcludedInProgress,
		"duration_ms", report.DurationMs,
	)

	return report, nil
}

// correctBatch validates and corrects records in parallel. Correction is a
// pure function of each record alone, so the batch is embarrassingly
// parallel; order is preserved by index.
func (e *Engine) correctBatch(records []*domain.LoanRecord) []correctedRecord {
	out := make([]correctedRecord, len(records))

	var wg sync.WaitGroup
	sem := make(chan struct{}, e.maxWorkers)

	for i, rec := range records {
		wg.Add(1)
		go func(idx int, r *domain.LoanRecord) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			if err := r.ValidateHistorical(); err != nil {
				out[idx] = correctedRecord{rejected: err.Error()}
				return
			}

			res, err := e.corrector.Correct(r)
			if err != nil {
				out[idx] = correctedRecord{rejected: err.Error()}
				return
			}
			out[idx] = correctedRecord{rec: res.Record, excluded: res.Excluded}
		}(i, rec)
	}

	wg.Wait()
	return out
}

// encodeAndUpsert encodes accepted records and pushes them to the vector
// store in batches, persisting each corrected record alongside.
func (e *Engine) encodeAndUpsert(ctx context.Context, tenantID string, state *domain.EncoderState, records []*domain.LoanRecord) (int, []domain.RejectedRecord) {
	var rejected []domain.RejectedRecord
	var points []domain.VectorPoint
	ingested := 0

	flush := func() {
		if len(points) == 0 {
			return
		}
		if err := e.store.Upsert(ctx, tenantID, points); err != nil {
			for _, p := range points {
				rejected = append(rejected, domain.RejectedRecord{
					RecordID: p.Payload.RecordID,
					Reason:   fmt.Sprintf("vector store upsert: %v", err),
				})
			}
			ingested -= len(points)
		}
		points = points[:0]
	}

	for _, rec := range records {
		vector, err := encoder.Encode(rec, state)
		if err != nil {
			rejected = append(rejected, domain.RejectedRecord{RecordID: rec.ID, Reason: err.Error()})
			continue
		}

		if e.repo != nil {
			rec.TenantID = tenantID
			if err := e.repo.SaveLoanRecord(ctx, tenantID, rec); err != nil {
				rejected = append(rejected, domain.RejectedRecord{RecordID: rec.ID, Reason: fmt.Sprintf("persist: %v", err)})
				continue
			}
		}

		points = append(points, domain.VectorPoint{
			ID:     rec.ID,
			Vector: vector,
			Payload: domain.CasePayload{
				RecordID:       rec.ID,
				Outcome:        rec.Outcome,
				FraudFlag:      rec.FraudFlag,
				FraudType:      rec.FraudType,
				LoanType:       rec.LoanType,
				Purpose:        rec.Purpose,
				EncoderVersion: state.Version,
			},
		})
		ingested++

		if len(points) >= upsertBatchSize {
			flush()
		}
	}
	flush()

	return ingested, rejected
}

// Refit re-derives the encoder state from the tenant's full persisted
// corpus, drops the old vector collection, and re-encodes every record
// under the new version. Required whenever fit parameters must change:
// vectors from different versions are never comparable.
func (e *Engine) Refit(ctx context.Context, tenantID string) (*domain.EncoderState, error) {
	if e.repo == nil {
		return nil, fmt.Errorf("refit requires a repository")
	}

	records, err := e.repo.ListLoanRecords(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list corpus: %w", err)
	}
	if len(records) == 0 {
		return nil, domain.ErrEmptyCorpus
	}

	state, err := encoder.Fit(records)
	if err != nil {
		return nil, err
	}
	state.TenantID = tenantID

	if err := e.repo.SaveEncoderState(ctx, tenantID, state); err != nil {
		return nil, fmt.Errorf("save encoder state: %w", err)
	}

	// The old collection is invalid the moment a new version exists.
	if err := e.store.Reset(ctx, tenantID); err != nil {
		return nil, err
	}
	e.setState(tenantID, state)

	ingested, rejected := e.encodeAndUpsert(ctx, tenantID, state, records)

	slog.Info("encoder refit complete",
		"tenant_id", tenantID,
		"version", state.Version,
		"reencoded", ingested,
		"failed", len(rejected),
	)

	if len(rejected) > 0 {
		return state, fmt.Errorf("refit re-encoded %d records, %d failed (first: %s)",
			ingested, len(rejected), rejected[0].Reason)
	}
	return state, nil
}
