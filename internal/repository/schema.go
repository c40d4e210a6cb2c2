package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.

const schemaLoanRecords = `
CREATE TABLE IF NOT EXISTS loan_records (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    monthly_income REAL NOT NULL,
    existing_emis_monthly REAL NOT NULL,
    debt_to_income_ratio REAL NOT NULL,
    loan_amount_requested REAL NOT NULL,
    loan_tenure_months INTEGER NOT NULL,
    interest_rate_offered REAL NOT NULL,
    credit_score INTEGER NOT NULL,
    applicant_age INTEGER NOT NULL,
    number_of_dependents INTEGER NOT NULL,
    employment_status TEXT NOT NULL,
    property_ownership TEXT NOT NULL,
    loan_type TEXT NOT NULL,
    purpose_of_loan TEXT NOT NULL,
    application_date TIMESTAMP NOT NULL,
    outcome TEXT NOT NULL,
    fraud_flag INTEGER NOT NULL DEFAULT 0,
    fraud_type TEXT,
    time_to_default_months INTEGER,
    missed_payments INTEGER,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (tenant_id, id)
);

CREATE INDEX IF NOT EXISTS idx_loan_records_tenant ON loan_records(tenant_id);
CREATE INDEX IF NOT EXISTS idx_loan_records_outcome ON loan_records(tenant_id, outcome);
CREATE INDEX IF NOT EXISTS idx_loan_records_date ON loan_records(tenant_id, application_date);
`

const schemaEncoderStates = `
CREATE TABLE IF NOT EXISTS encoder_states (
    version TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    fitted_at TIMESTAMP NOT NULL,
    corpus_size INTEGER NOT NULL,
    numeric_params TEXT NOT NULL,
    categorical_params TEXT NOT NULL,
    PRIMARY KEY (tenant_id, version)
);

CREATE INDEX IF NOT EXISTS idx_encoder_states_tenant ON encoder_states(tenant_id);
CREATE INDEX IF NOT EXISTS idx_encoder_states_fitted ON encoder_states(tenant_id, fitted_at);
`

const schemaVerdicts = `
CREATE TABLE IF NOT EXISTS verdicts (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    risk_level TEXT NOT NULL,
    confidence REAL NOT NULL,
    outcome_distribution TEXT NOT NULL,
    fraud_signal_strength REAL NOT NULL,
    supporting_cases TEXT NOT NULL,
    rationale TEXT,
    requested_top_k INTEGER NOT NULL,
    retrieved_count INTEGER NOT NULL,
    encoder_version TEXT NOT NULL,
    timestamp TIMESTAMP NOT NULL,
    metadata TEXT NOT NULL,
    PRIMARY KEY (tenant_id, id)
);

CREATE INDEX IF NOT EXISTS idx_verdicts_tenant ON verdicts(tenant_id);
CREATE INDEX IF NOT EXISTS idx_verdicts_risk ON verdicts(tenant_id, risk_level);
CREATE INDEX IF NOT EXISTS idx_verdicts_timestamp ON verdicts(tenant_id, timestamp);
`

const schemaIngestionReports = `
CREATE TABLE IF NOT EXISTS ingestion_reports (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    received INTEGER NOT NULL,
    ingested INTEGER NOT NULL,
    rejected TEXT,
    outcome_counts TEXT NOT NULL,
    excluded_in_progress INTEGER NOT NULL DEFAULT 0,
    encoder_version TEXT,
    timestamp TIMESTAMP NOT NULL,
    duration_ms INTEGER NOT NULL,
    PRIMARY KEY (tenant_id, id)
);

CREATE INDEX IF NOT EXISTS idx_ingestion_reports_tenant ON ingestion_reports(tenant_id);
CREATE INDEX IF NOT EXISTS idx_ingestion_reports_timestamp ON ingestion_reports(tenant_id, timestamp);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaLoanRecords,
		schemaEncoderStates,
		schemaVerdicts,
		schemaIngestionReports,
	}
}
