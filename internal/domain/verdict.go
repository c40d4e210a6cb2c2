package domain

import "time"

// RiskLevel is the human-facing verdict bucket.
type RiskLevel string

const (
	RiskLow    RiskLevel = "Low"
	RiskMedium RiskLevel = "Medium"
	RiskHigh   RiskLevel = "High"
)

// rank orders risk levels for monotonicity comparisons.
func (l RiskLevel) rank() int {
	switch l {
	case RiskLow:
		return 0
	case RiskMedium:
		return 1
	case RiskHigh:
		return 2
	}
	return -1
}

// AtLeast reports whether l is the same or a higher risk level than other.
func (l RiskLevel) AtLeast(other RiskLevel) bool {
	return l.rank() >= other.rank()
}

// RetrievedCase is one historical neighbor returned by the vector store,
// carrying only the metadata needed to explain the verdict.
type RetrievedCase struct {
	RecordID   string  `json:"recordId"`
	Similarity float64 `json:"similarity"`
	// Weight is the normalized share of this case in the aggregation;
	// weights across a retrieval set sum to 1.
	Weight    float64 `json:"weight"`
	Outcome   Outcome `json:"outcome"`
	FraudFlag bool    `json:"fraudFlag"`
	FraudType string  `json:"fraudType,omitempty"`
	LoanType  string  `json:"loanType"`
	Purpose   string  `json:"purposeOfLoan"`
}

// Verdict is the explainable output of one evaluation.
type Verdict struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`

	RiskLevel           RiskLevel           `json:"riskLevel"`
	Confidence          float64             `json:"confidence"`
	OutcomeDistribution map[Outcome]float64 `json:"outcomeDistribution"`
	FraudSignalStrength float64             `json:"fraudSignalStrength"`

	// SupportingCases is ordered by similarity, descending.
	SupportingCases []RetrievedCase `json:"supportingCases"`

	// Rationale holds the banker-facing signal statements derived from the
	// retrieved set and the application itself.
	Rationale []string `json:"rationale,omitempty"`

	RequestedTopK  int    `json:"requestedTopK"`
	RetrievedCount int    `json:"retrievedCount"`
	EncoderVersion string `json:"encoderVersion"`

	Timestamp time.Time       `json:"timestamp"`
	Metadata  VerdictMetadata `json:"metadata"`
}

// VerdictMetadata contains processing information.
type VerdictMetadata struct {
	TraceID       string `json:"traceId"`
	EncodeMs      int64  `json:"encodeMs"`
	SearchMs      int64  `json:"searchMs"`
	TotalMs       int64  `json:"totalMs"`
	CacheHit      bool   `json:"cacheHit,omitempty"`
	EngineVersion string `json:"engineVersion"`
}

// EvaluationConfig enumerates the verdict thresholds and retrieval metric.
// Thresholds live here and nowhere else; call sites never hard-code them.
type EvaluationConfig struct {
	// HighRiskThreshold: weighted(Defaulted)+weighted(Fraud) at or above
	// this yields High.
	HighRiskThreshold float64 `json:"highRiskThreshold"`

	// LowRiskThreshold: weighted(Repaid) at or above this, with the fraud
	// signal below FraudThreshold, yields Low.
	LowRiskThreshold float64 `json:"lowRiskThreshold"`

	// FraudThreshold: fraud signal strength at or above this yields High
	// regardless of the outcome mix.
	FraudThreshold float64 `json:"fraudThreshold"`

	SimilarityMetric SimilarityMetric `json:"similarityMetric"`

	// DefaultTopK is used when a request does not specify topK.
	DefaultTopK int `json:"defaultTopK"`
}

// DefaultEvaluationConfig returns the stock thresholds.
func DefaultEvaluationConfig() EvaluationConfig {
	return EvaluationConfig{
		HighRiskThreshold: 0.5,
		LowRiskThreshold:  0.6,
		FraudThreshold:    0.2,
		SimilarityMetric:  MetricCosine,
		DefaultTopK:       10,
	}
}

// RejectedRecord is one corpus record refused during ingestion, with the
// reason it was refused. Rejections are report data, never batch aborts.
type RejectedRecord struct {
	RecordID string `json:"recordId"`
	Reason   string `json:"reason"`
}

// IngestionReport summarizes one corpus ingestion batch.
type IngestionReport struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`

	Received int `json:"received"`
	Ingested int `json:"ingested"`

	Rejected []RejectedRecord `json:"rejected,omitempty"`

	// OutcomeCounts is the per-label census after temporal correction.
	OutcomeCounts map[Outcome]int `json:"outcomeCounts"`

	// ExcludedInProgress counts matured records that stayed InProgress
	// because no reliable reclassification signal existed. They are
	// dropped from the corpus rather than stored with a guessed label.
	ExcludedInProgress int `json:"excludedInProgress"`

	EncoderVersion string    `json:"encoderVersion"`
	Timestamp      time.Time `json:"timestamp"`
	DurationMs     int64     `json:"durationMs"`
}
