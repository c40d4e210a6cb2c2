// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveLoanRecord stores a corrected historical record with tenant isolation.
// Re-ingesting the same record ID replaces the stored row.
func (r *SQLRepository) SaveLoanRecord(ctx context.Context, tenantID string, rec *domain.LoanRecord) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	fraud := 0
	if rec.FraudFlag {
		fraud = 1
	}

	query := `
		INSERT INTO loan_records (
			id, tenant_id, monthly_income, existing_emis_monthly,
			debt_to_income_ratio, loan_amount_requested, loan_tenure_months,
			interest_rate_offered, credit_score, applicant_age,
			number_of_dependents, employment_status, property_ownership,
			loan_type, purpose_of_loan, application_date, outcome,
			fraud_flag, fraud_type, time_to_default_months, missed_payments,
			created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, id) DO UPDATE SET
			monthly_income = excluded.monthly_income,
			existing_emis_monthly = excluded.existing_emis_monthly,
			debt_to_income_ratio = excluded.debt_to_income_ratio,
			loan_amount_requested = excluded.loan_amount_requested,
			loan_tenure_months = excluded.loan_tenure_months,
			interest_rate_offered = excluded.interest_rate_offered,
			credit_score = excluded.credit_score,
			applicant_age = excluded.applicant_age,
			number_of_dependents = excluded.number_of_dependents,
			employment_status = excluded.employment_status,
			property_ownership = excluded.property_ownership,
			loan_type = excluded.loan_type,
			purpose_of_loan = excluded.purpose_of_loan,
			application_date = excluded.application_date,
			outcome = excluded.outcome,
			fraud_flag = excluded.fraud_flag,
			fraud_type = excluded.fraud_type,
			time_to_default_months = excluded.time_to_default_months,
			missed_payments = excluded.missed_payments
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rec.ID, tenantID,
		rec.MonthlyIncome, rec.ExistingEMIs, rec.DebtToIncomeRatio,
		rec.LoanAmount, rec.TenureMonths, rec.InterestRate,
		rec.CreditScore, rec.ApplicantAge, rec.Dependents,
		rec.EmploymentStatus, rec.PropertyOwnership, rec.LoanType, rec.Purpose,
		rec.ApplicationDate, string(rec.Outcome),
		fraud, rec.FraudType,
		nullableInt(rec.TimeToDefaultMonths), nullableInt(rec.MissedPayments),
		rec.CreatedAt,
	)
	return err
}

// GetLoanRecord retrieves a record by ID with tenant isolation.
func (r *SQLRepository) GetLoanRecord(ctx context.Context, tenantID string, recordID string) (*domain.LoanRecord, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := selectLoanRecord + ` WHERE tenant_id = ? AND id = ?`

	rec, err := scanLoanRecord(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, recordID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// ListLoanRecords retrieves the tenant's full corpus in insertion order.
func (r *SQLRepository) ListLoanRecords(ctx context.Context, tenantID string) ([]*domain.LoanRecord, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := selectLoanRecord + ` WHERE tenant_id = ? ORDER BY created_at, id`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*domain.LoanRecord
	for rows.Next() {
		rec, err := scanLoanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

// CountLoanRecords returns the tenant's corpus size.
func (r *SQLRepository) CountLoanRecords(ctx context.Context, tenantID string) (int, error) {
	if tenantID == "" {
		return 0, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	var count int
	query := `SELECT COUNT(*) FROM loan_records WHERE tenant_id = ?`
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID).Scan(&count)
	return count, err
}

const selectLoanRecord = `
	SELECT id, tenant_id, monthly_income, existing_emis_monthly,
		   debt_to_income_ratio, loan_amount_requested, loan_tenure_months,
		   interest_rate_offered, credit_score, applicant_age,
		   number_of_dependents, employment_status, property_ownership,
		   loan_type, purpose_of_loan, application_date, outcome,
		   fraud_flag, fraud_type, time_to_default_months, missed_payments,
		   created_at
	FROM loan_records`

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanLoanRecord(row rowScanner) (*domain.LoanRecord, error) {
	var rec domain.LoanRecord
	var outcome string
	var fraud int
	var fraudType sql.NullString
	var ttd, missed sql.NullInt64

	if err := row.Scan(
		&rec.ID, &rec.TenantID,
		&rec.MonthlyIncome, &rec.ExistingEMIs, &rec.DebtToIncomeRatio,
		&rec.LoanAmount, &rec.TenureMonths, &rec.InterestRate,
		&rec.CreditScore, &rec.ApplicantAge, &rec.Dependents,
		&rec.EmploymentStatus, &rec.PropertyOwnership, &rec.LoanType, &rec.Purpose,
		&rec.ApplicationDate, &outcome,
		&fraud, &fraudType, &ttd, &missed,
		&rec.CreatedAt,
	); err != nil {
		return nil, err
	}

	rec.Outcome = domain.Outcome(outcome)
	rec.FraudFlag = fraud == 1
	rec.FraudType = fraudType.String
	if ttd.Valid {
		v := int(ttd.Int64)
		rec.TimeToDefaultMonths = &v
	}
	if missed.Valid {
		v := int(missed.Int64)
		rec.MissedPayments = &v
	}

	return &rec, nil
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

// SaveEncoderState stores a fitted encoder state. States are immutable;
// saving the same version twice is a no-op overwrite of identical data.
func (r *SQLRepository) SaveEncoderState(ctx context.Context, tenantID string, state *domain.EncoderState) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	numeric, _ := json.Marshal(state.Numeric)
	categorical, _ := json.Marshal(state.Categorical)

	query := `
		INSERT INTO encoder_states (
			version, tenant_id, fitted_at, corpus_size, numeric_params, categorical_params
		) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, version) DO UPDATE SET
			fitted_at = excluded.fitted_at,
			corpus_size = excluded.corpus_size,
			numeric_params = excluded.numeric_params,
			categorical_params = excluded.categorical_params
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		state.Version, tenantID, state.FittedAt, state.CorpusSize,
		string(numeric), string(categorical),
	)
	return err
}

// GetEncoderState retrieves the tenant's most recently fitted state.
func (r *SQLRepository) GetEncoderState(ctx context.Context, tenantID string) (*domain.EncoderState, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT version, tenant_id, fitted_at, corpus_size, numeric_params, categorical_params
		FROM encoder_states
		WHERE tenant_id = ?
		ORDER BY fitted_at DESC
		LIMIT 1
	`

	return r.scanEncoderState(r.db.QueryRowContext(ctx, r.rebind(query), tenantID))
}

// GetEncoderStateByVersion retrieves a specific fitted state for audit.
func (r *SQLRepository) GetEncoderStateByVersion(ctx context.Context, tenantID string, version string) (*domain.EncoderState, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT version, tenant_id, fitted_at, corpus_size, numeric_params, categorical_params
		FROM encoder_states
		WHERE tenant_id = ? AND version = ?
	`

	return r.scanEncoderState(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, version))
}

func (r *SQLRepository) scanEncoderState(row rowScanner) (*domain.EncoderState, error) {
	var state domain.EncoderState
	var numeric, categorical string

	err := row.Scan(
		&state.Version, &state.TenantID, &state.FittedAt, &state.CorpusSize,
		&numeric, &categorical,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNoEncoderState
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(numeric), &state.Numeric); err != nil {
		return nil, fmt.Errorf("failed to parse numeric params: %w", err)
	}
	if err := json.Unmarshal([]byte(categorical), &state.Categorical); err != nil {
		return nil, fmt.Errorf("failed to parse categorical params: %w", err)
	}

	return &state, nil
}

// SaveVerdict stores a verdict with tenant isolation.
func (r *SQLRepository) SaveVerdict(ctx context.Context, tenantID string, v *domain.Verdict) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	distribution, _ := json.Marshal(v.OutcomeDistribution)
	cases, _ := json.Marshal(v.SupportingCases)
	rationale, _ := json.Marshal(v.Rationale)
	metadata, _ := json.Marshal(v.Metadata)

	query := `
		INSERT INTO verdicts (
			id, tenant_id, risk_level, confidence, outcome_distribution,
			fraud_signal_strength, supporting_cases, rationale,
			requested_top_k, retrieved_count, encoder_version, timestamp, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		v.ID, tenantID, string(v.RiskLevel), v.Confidence, string(distribution),
		v.FraudSignalStrength, string(cases), string(rationale),
		v.RequestedTopK, v.RetrievedCount, v.EncoderVersion, v.Timestamp,
		string(metadata),
	)
	return err
}

// GetVerdict retrieves a verdict by ID with tenant isolation.
func (r *SQLRepository) GetVerdict(ctx context.Context, tenantID string, verdictID string) (*domain.Verdict, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, risk_level, confidence, outcome_distribution,
			   fraud_signal_strength, supporting_cases, rationale,
			   requested_top_k, retrieved_count, encoder_version, timestamp, metadata
		FROM verdicts
		WHERE tenant_id = ? AND id = ?
	`

	var v domain.Verdict
	var riskLevel, distribution, cases, rationale, metadata string

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, verdictID).Scan(
		&v.ID, &v.TenantID, &riskLevel, &v.Confidence, &distribution,
		&v.FraudSignalStrength, &cases, &rationale,
		&v.RequestedTopK, &v.RetrievedCount, &v.EncoderVersion, &v.Timestamp,
		&metadata,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	v.RiskLevel = domain.RiskLevel(riskLevel)
	if err := json.Unmarshal([]byte(distribution), &v.OutcomeDistribution); err != nil {
		return nil, fmt.Errorf("failed to parse outcome distribution: %w", err)
	}
	if err := json.Unmarshal([]byte(cases), &v.SupportingCases); err != nil {
		return nil, fmt.Errorf("failed to parse supporting cases: %w", err)
	}
	json.Unmarshal([]byte(rationale), &v.Rationale)
	json.Unmarshal([]byte(metadata), &v.Metadata)

	return &v, nil
}

// SaveIngestionReport stores an ingestion report with tenant isolation.
func (r *SQLRepository) SaveIngestionReport(ctx context.Context, tenantID string, report *domain.IngestionReport) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	rejected, _ := json.Marshal(report.Rejected)
	counts, _ := json.Marshal(report.OutcomeCounts)

	query := `
		INSERT INTO ingestion_reports (
			id, tenant_id, received, ingested, rejected, outcome_counts,
			excluded_in_progress, encoder_version, timestamp, duration_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		report.ID, tenantID, report.Received, report.Ingested,
		string(rejected), string(counts),
		report.ExcludedInProgress, report.EncoderVersion,
		report.Timestamp, report.DurationMs,
	)
	return err
}

// GetIngestionReport retrieves an ingestion report by ID with tenant isolation.
func (r *SQLRepository) GetIngestionReport(ctx context.Context, tenantID string, reportID string) (*domain.IngestionReport, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, received, ingested, rejected, outcome_counts,
			   excluded_in_progress, encoder_version, timestamp, duration_ms
		FROM ingestion_reports
		WHERE tenant_id = ? AND id = ?
	`

	var report domain.IngestionReport
	var rejected, counts string

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, reportID).Scan(
		&report.ID, &report.TenantID, &report.Received, &report.Ingested,
		&rejected, &counts,
		&report.ExcludedInProgress, &report.EncoderVersion,
		&report.Timestamp, &report.DurationMs,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	json.Unmarshal([]byte(rejected), &report.Rejected)
	if err := json.Unmarshal([]byte(counts), &report.OutcomeCounts); err != nil {
		return nil, fmt.Errorf("failed to parse outcome counts: %w", err)
	}

	return &report, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
