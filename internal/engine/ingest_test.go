package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/vectorstore"
)

// fakeRepo is an in-memory Repository for engine tests.
type fakeRepo struct {
	mu      sync.Mutex
	records map[string]map[string]*domain.LoanRecord
	states  map[string][]*domain.EncoderState
	reports map[string]map[string]*domain.IngestionReport
	verds   map[string]map[string]*domain.Verdict
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		records: make(map[string]map[string]*domain.LoanRecord),
		states:  make(map[string][]*domain.EncoderState),
		reports: make(map[string]map[string]*domain.IngestionReport),
		verds:   make(map[string]map[string]*domain.Verdict),
	}
}

func (r *fakeRepo) SaveLoanRecord(_ context.Context, tenantID string, rec *domain.LoanRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.records[tenantID] == nil {
		r.records[tenantID] = make(map[string]*domain.LoanRecord)
	}
	r.records[tenantID][rec.ID] = rec.Clone()
	return nil
}

func (r *fakeRepo) GetLoanRecord(_ context.Context, tenantID, recordID string) (*domain.LoanRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[tenantID][recordID]
	if !ok {
		return nil, nil
	}
	return rec.Clone(), nil
}

func (r *fakeRepo) ListLoanRecords(_ context.Context, tenantID string) ([]*domain.LoanRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.LoanRecord
	for _, rec := range r.records[tenantID] {
		out = append(out, rec.Clone())
	}
	return out, nil
}

func (r *fakeRepo) CountLoanRecords(_ context.Context, tenantID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records[tenantID]), nil
}

func (r *fakeRepo) SaveEncoderState(_ context.Context, tenantID string, state *domain.EncoderState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states[tenantID] = append(r.states[tenantID], state)
	return nil
}

func (r *fakeRepo) GetEncoderState(_ context.Context, tenantID string) (*domain.EncoderState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	states := r.states[tenantID]
	if len(states) == 0 {
		return nil, domain.ErrNoEncoderState
	}
	return states[len(states)-1], nil
}

func (r *fakeRepo) GetEncoderStateByVersion(_ context.Context, tenantID, version string) (*domain.EncoderState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.states[tenantID] {
		if s.Version == version {
			return s, nil
		}
	}
	return nil, domain.ErrNoEncoderState
}

func (r *fakeRepo) SaveVerdict(_ context.Context, tenantID string, v *domain.Verdict) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.verds[tenantID] == nil {
		r.verds[tenantID] = make(map[string]*domain.Verdict)
	}
	r.verds[tenantID][v.ID] = v
	return nil
}

func (r *fakeRepo) GetVerdict(_ context.Context, tenantID, verdictID string) (*domain.Verdict, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.verds[tenantID][verdictID], nil
}

func (r *fakeRepo) SaveIngestionReport(_ context.Context, tenantID string, report *domain.IngestionReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.reports[tenantID] == nil {
		r.reports[tenantID] = make(map[string]*domain.IngestionReport)
	}
	r.reports[tenantID][report.ID] = report
	return nil
}

func (r *fakeRepo) GetIngestionReport(_ context.Context, tenantID, reportID string) (*domain.IngestionReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reports[tenantID][reportID], nil
}

func (r *fakeRepo) Ping(context.Context) error { return nil }
func (r *fakeRepo) Close() error               { return nil }

func newPersistentEngine(t *testing.T) (*Engine, *fakeRepo, domain.VectorStore) {
	t.Helper()
	store, err := vectorstore.NewMemoryStore(domain.VectorStoreConfig{Type: "memory", Metric: domain.MetricCosine})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	repo := newFakeRepo()
	eng := New(repo, store, testCorrector(t), domain.DefaultEvaluationConfig(), 5*time.Second)
	return eng, repo, store
}

func inProgressRecord(id string, tenure int, missed *int) *domain.LoanRecord {
	rec := goodRecord(id, domain.OutcomeInProgress)
	rec.TenureMonths = tenure
	rec.MissedPayments = missed
	return rec
}

func TestIngestReportCounts(t *testing.T) {
	eng, _, store := newPersistentEngine(t)

	missed := 5
	corpus := []*domain.LoanRecord{
		goodRecord("r-0", domain.OutcomeRepaid),
		goodRecord("r-1", domain.OutcomeRepaid),
		adverseRecord("d-0", domain.OutcomeDefaulted, false),
		adverseRecord("f-0", domain.OutcomeFraud, true),
		// Matured with a missed-payment signal: reclassified to Defaulted.
		inProgressRecord("ip-signal", 24, &missed),
		// Matured with no signal: excluded, never stored.
		inProgressRecord("ip-silent", 24, nil),
	}

	report, err := eng.Ingest(context.Background(), testTenant, corpus)
	if err != nil {
		t.Fatalf("ingest failed: %v", err)
	}

	if report.Received != 6 {
		t.Errorf("expected received 6, got %d", report.Received)
	}
	if report.Ingested != 5 {
		t.Errorf("expected ingested 5, got %d", report.Ingested)
	}
	if report.ExcludedInProgress != 1 {
		t.Errorf("expected 1 excluded, got %d", report.ExcludedInProgress)
	}
	if len(report.Rejected) != 0 {
		t.Errorf("expected no rejections, got %v", report.Rejected)
	}
	if report.EncoderVersion == "" {
		t.Error("report must carry the encoder version")
	}

	// Reclassification moved ip-signal into Defaulted.
	if got := report.OutcomeCounts[domain.OutcomeRepaid]; got != 2 {
		t.Errorf("expected 2 repaid, got %d", got)
	}
	if got := report.OutcomeCounts[domain.OutcomeDefaulted]; got != 2 {
		t.Errorf("expected 2 defaulted, got %d", got)
	}
	if got := report.OutcomeCounts[domain.OutcomeFraud]; got != 1 {
		t.Errorf("expected 1 fraud, got %d", got)
	}
	if got := report.OutcomeCounts[domain.OutcomeInProgress]; got != 0 {
		t.Errorf("expected 0 in progress, got %d", got)
	}

	// The excluded record never reaches the store.
	count, err := store.Count(context.Background(), testTenant)
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 5 {
		t.Errorf("expected 5 stored cases, got %d", count)
	}
}

func TestIngestRejectsInvalidRecords(t *testing.T) {
	eng, _, _ := newPersistentEngine(t)

	bad := goodRecord("bad-age", domain.OutcomeRepaid)
	bad.ApplicantAge = 12
	noID := goodRecord("", domain.OutcomeRepaid)
	preHistory := goodRecord("ancient", domain.OutcomeRepaid)
	preHistory.ApplicationDate = time.Date(1991, 1, 1, 0, 0, 0, 0, time.UTC) // shifts to 1988

	corpus := []*domain.LoanRecord{
		goodRecord("ok-0", domain.OutcomeRepaid),
		bad,
		noID,
		preHistory,
		goodRecord("ok-1", domain.OutcomeDefaulted),
	}

	report, err := eng.Ingest(context.Background(), testTenant, corpus)
	if err != nil {
		t.Fatalf("ingest failed: %v", err)
	}

	if report.Ingested != 2 {
		t.Errorf("expected ingested 2, got %d", report.Ingested)
	}
	if len(report.Rejected) != 3 {
		t.Fatalf("expected 3 rejections, got %d: %v", len(report.Rejected), report.Rejected)
	}
	for _, r := range report.Rejected {
		if r.Reason == "" {
			t.Errorf("rejection for %q has no reason", r.RecordID)
		}
	}
}

func TestIngestEmptyCorpus(t *testing.T) {
	eng, _, _ := newPersistentEngine(t)

	_, err := eng.Ingest(context.Background(), testTenant, nil)
	if !errors.Is(err, domain.ErrEmptyCorpus) {
		t.Errorf("expected ErrEmptyCorpus, got %v", err)
	}
}

func TestIngestAllRejected(t *testing.T) {
	eng, _, _ := newPersistentEngine(t)

	bad := goodRecord("bad", domain.OutcomeRepaid)
	bad.TenureMonths = 0

	report, err := eng.Ingest(context.Background(), testTenant, []*domain.LoanRecord{bad})
	if err != nil {
		t.Fatalf("ingest failed: %v", err)
	}
	if report.Ingested != 0 || len(report.Rejected) != 1 {
		t.Errorf("expected 0 ingested 1 rejected, got %d/%d", report.Ingested, len(report.Rejected))
	}
	if report.EncoderVersion != "" {
		t.Error("no encoder must be fitted for an all-rejected batch")
	}
}

func TestIngestPersistsCorrectedRecords(t *testing.T) {
	eng, repo, _ := newPersistentEngine(t)

	rec := goodRecord("r-0", domain.OutcomeRepaid)
	rec.ApplicationDate = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	if _, err := eng.Ingest(context.Background(), testTenant, []*domain.LoanRecord{rec}); err != nil {
		t.Fatalf("ingest failed: %v", err)
	}

	stored, err := repo.GetLoanRecord(context.Background(), testTenant, "r-0")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if stored == nil {
		t.Fatal("record not persisted")
	}
	want := time.Date(2021, 3, 1, 0, 0, 0, 0, time.UTC)
	if !stored.ApplicationDate.Equal(want) {
		t.Errorf("stored date not shifted: got %s, want %s", stored.ApplicationDate, want)
	}
	if stored.TenantID != testTenant {
		t.Errorf("stored record tenant = %q", stored.TenantID)
	}
	// Caller's copy is untouched.
	if !rec.ApplicationDate.Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Error("ingest mutated the caller's record")
	}
}

func TestIngestSavesReportAndState(t *testing.T) {
	eng, repo, _ := newPersistentEngine(t)

	report, err := eng.Ingest(context.Background(), testTenant, mixedCorpus())
	if err != nil {
		t.Fatalf("ingest failed: %v", err)
	}

	saved, err := repo.GetIngestionReport(context.Background(), testTenant, report.ID)
	if err != nil {
		t.Fatalf("get report failed: %v", err)
	}
	if saved == nil {
		t.Fatal("ingestion report not persisted")
	}

	state, err := repo.GetEncoderState(context.Background(), testTenant)
	if err != nil {
		t.Fatalf("get state failed: %v", err)
	}
	if state.Version != report.EncoderVersion {
		t.Errorf("state version %s, report version %s", state.Version, report.EncoderVersion)
	}
	if state.TenantID != testTenant {
		t.Errorf("state tenant = %q", state.TenantID)
	}
}

func TestIngestSecondBatchReusesState(t *testing.T) {
	eng, repo, _ := newPersistentEngine(t)

	first, err := eng.Ingest(context.Background(), testTenant, mixedCorpus())
	if err != nil {
		t.Fatalf("ingest failed: %v", err)
	}

	var more []*domain.LoanRecord
	for i := 0; i < 3; i++ {
		more = append(more, goodRecord(fmt.Sprintf("late-%d", i), domain.OutcomeRepaid))
	}
	second, err := eng.Ingest(context.Background(), testTenant, more)
	if err != nil {
		t.Fatalf("ingest failed: %v", err)
	}

	if second.EncoderVersion != first.EncoderVersion {
		t.Errorf("second batch fitted a new state: %s vs %s", second.EncoderVersion, first.EncoderVersion)
	}
	repo.mu.Lock()
	fitted := len(repo.states[testTenant])
	repo.mu.Unlock()
	if fitted != 1 {
		t.Errorf("expected exactly one fitted state, got %d", fitted)
	}
}

func TestRefitInvalidatesOldVectors(t *testing.T) {
	eng, _, store := newPersistentEngine(t)

	first, err := eng.Ingest(context.Background(), testTenant, mixedCorpus())
	if err != nil {
		t.Fatalf("ingest failed: %v", err)
	}

	// Grow the corpus so the refit derives different statistics.
	late := adverseRecord("late-0", domain.OutcomeDefaulted, false)
	late.MonthlyIncome = 1500
	if _, err := eng.Ingest(context.Background(), testTenant, []*domain.LoanRecord{late}); err != nil {
		t.Fatalf("ingest failed: %v", err)
	}

	state, err := eng.Refit(context.Background(), testTenant)
	if err != nil {
		t.Fatalf("refit failed: %v", err)
	}
	if state.Version == first.EncoderVersion {
		t.Error("refit over a changed corpus must produce a new version")
	}

	// Every persisted record is re-encoded under the new version.
	count, err := store.Count(context.Background(), testTenant)
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 15 {
		t.Errorf("expected 15 re-encoded cases, got %d", count)
	}

	// Queries under the new state succeed against the rebuilt collection.
	v, err := eng.Evaluate(context.Background(), testTenant, asQuery(goodRecord("", "")), 5, eng.Config())
	if err != nil {
		t.Fatalf("evaluate after refit failed: %v", err)
	}
	if v.EncoderVersion != state.Version {
		t.Errorf("verdict under stale version %s, want %s", v.EncoderVersion, state.Version)
	}
}

func TestRefitWithoutCorpus(t *testing.T) {
	eng, _, _ := newPersistentEngine(t)

	_, err := eng.Refit(context.Background(), testTenant)
	if !errors.Is(err, domain.ErrEmptyCorpus) {
		t.Errorf("expected ErrEmptyCorpus, got %v", err)
	}
}
