package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// All methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	// Loan record operations
	SaveLoanRecord(ctx context.Context, tenantID string, rec *LoanRecord) error
	GetLoanRecord(ctx context.Context, tenantID string, recordID string) (*LoanRecord, error)
	ListLoanRecords(ctx context.Context, tenantID string) ([]*LoanRecord, error)
	CountLoanRecords(ctx context.Context, tenantID string) (int, error)

	// Encoder state operations. GetEncoderState returns the latest fitted
	// state; GetEncoderStateByVersion retrieves a specific version for audit.
	SaveEncoderState(ctx context.Context, tenantID string, state *EncoderState) error
	GetEncoderState(ctx context.Context, tenantID string) (*EncoderState, error)
	GetEncoderStateByVersion(ctx context.Context, tenantID string, version string) (*EncoderState, error)

	// Verdict operations
	SaveVerdict(ctx context.Context, tenantID string, v *Verdict) error
	GetVerdict(ctx context.Context, tenantID string, verdictID string) (*Verdict, error)

	// Ingestion report operations
	SaveIngestionReport(ctx context.Context, tenantID string, report *IngestionReport) error
	GetIngestionReport(ctx context.Context, tenantID string, reportID string) (*IngestionReport, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
