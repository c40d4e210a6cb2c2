//go:build integration
// +build integration

// Package integration provides end-to-end tests for the Kestrel decision
// memory engine.
//
// These tests verify the COMPLETE decision pipeline:
//
//	Corpus → Temporal Correction → Encoding → Retrieval → Verdict
//
// Run with: go test -tags=integration -v ./tests/integration/...
//
// UNDERSTANDING THE DOMAIN:
//
// 1. CORPUS: Historical loan records with observed outcomes
//    (Repaid, Defaulted, InProgress, Fraud)
//
// 2. TEMPORAL CORRECTION: Application dates are shifted back 36 months so
//    that loan terms have elapsed relative to "now". Matured InProgress
//    records are reclassified from delinquency signals, or dropped when no
//    signal exists.
//
// 3. ENCODING: Each record becomes a numeric vector - standardized numeric
//    attributes plus one-hot categorical attributes. The fitted parameters
//    are versioned; queries and corpus must share a version.
//
// 4. RETRIEVAL: An incoming application is encoded and its Top-K most
//    similar historical cases are retrieved by cosine similarity.
//
// 5. VERDICT: Similarity-weighted outcome distribution over the retrieved
//    neighborhood, mapped to a risk level (Low / Medium / High) with a
//    confidence score and supporting cases.
//
// The suite expects a clean server; each test run uses a fresh tenant ID so
// previously ingested corpora do not interfere.
package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"testing"
	"time"
)

// TestConfig holds test environment configuration
type TestConfig struct {
	BaseURL  string
	TenantID string
}

func getTestConfig() TestConfig {
	baseURL := os.Getenv("KESTREL_TEST_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return TestConfig{
		BaseURL:  baseURL,
		TenantID: fmt.Sprintf("test-tenant-%d", time.Now().UnixNano()),
	}
}

// ============================================================================
// API Request/Response Types (matching Kestrel's API contract)
// ============================================================================

// LoanRecord is the wire shape of one loan application.
type LoanRecord struct {
	ID                string  `json:"id,omitempty"`
	MonthlyIncome     float64 `json:"monthlyIncome"`
	ExistingEMIs      float64 `json:"existingEmisMonthly"`
	DebtToIncomeRatio float64 `json:"debtToIncomeRatio"`
	LoanAmount        float64 `json:"loanAmountRequested"`
	TenureMonths      int     `json:"loanTenureMonths"`
	InterestRate      float64 `json:"interestRateOffered"`
	CreditScore       int     `json:"creditScore"`
	ApplicantAge      int     `json:"applicantAge"`
	Dependents        int     `json:"numberOfDependents"`
	EmploymentStatus  string  `json:"employmentStatus"`
	PropertyOwnership string  `json:"propertyOwnership"`
	LoanType          string  `json:"loanType"`
	Purpose           string  `json:"purposeOfLoan"`
	ApplicationDate   string  `json:"applicationDate"`
	Outcome           string  `json:"outcome,omitempty"`
	FraudFlag         bool    `json:"fraudFlag,omitempty"`
}

// IngestRequest is the corpus batch sent to POST /ingest
type IngestRequest struct {
	Records []LoanRecord `json:"records"`
}

// IngestResponse is what POST /ingest returns
type IngestResponse struct {
	ID                 string         `json:"id"`
	Received           int            `json:"received"`
	Ingested           int            `json:"ingested"`
	ExcludedInProgress int            `json:"excludedInProgress"`
	OutcomeCounts      map[string]int `json:"outcomeCounts"`
	EncoderVersion     string         `json:"encoderVersion"`
}

// EvaluateRequest is the application sent to POST /evaluate
type EvaluateRequest struct {
	Application LoanRecord `json:"application"`
	TopK        int        `json:"topK,omitempty"`
}

// EvaluateResponse is what POST /evaluate returns
type EvaluateResponse struct {
	ID                  string             `json:"id"`
	RiskLevel           string             `json:"riskLevel"` // "Low", "Medium", or "High"
	Confidence          float64            `json:"confidence"`
	OutcomeDistribution map[string]float64 `json:"outcomeDistribution"`
	FraudSignalStrength float64            `json:"fraudSignalStrength"`
	SupportingCases     []json.RawMessage  `json:"supportingCases"`
	RequestedTopK       int                `json:"requestedTopK"`
	RetrievedCount      int                `json:"retrievedCount"`
	EncoderVersion      string             `json:"encoderVersion"`
	Metadata            ResponseMetadata   `json:"metadata"`
}

type ResponseMetadata struct {
	TraceID  string `json:"traceId"`
	TotalMs  int64  `json:"totalMs"`
	CacheHit bool   `json:"cacheHit"`
}

// ============================================================================
// Test Helper Functions
// ============================================================================

func post(t *testing.T, config TestConfig, path string, payload any) (*http.Response, []byte) {
	t.Helper()

	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("Failed to marshal request: %v", err)
	}

	httpReq, err := http.NewRequest("POST", config.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Tenant-ID", config.TenantID)

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}

	return resp, respBody
}

func ingest(t *testing.T, config TestConfig, records []LoanRecord) IngestResponse {
	t.Helper()

	resp, body := post(t, config, "/ingest", IngestRequest{Records: records})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200 for ingest, got %d: %s", resp.StatusCode, string(body))
	}

	var result IngestResponse
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("Failed to unmarshal ingest response: %v (body: %s)", err, string(body))
	}
	return result
}

func evaluate(t *testing.T, config TestConfig, req EvaluateRequest) EvaluateResponse {
	t.Helper()

	resp, body := post(t, config, "/evaluate", req)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200 for evaluate, got %d: %s", resp.StatusCode, string(body))
	}

	var result EvaluateResponse
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("Failed to unmarshal evaluate response: %v (body: %s)", err, string(body))
	}
	return result
}

// seedCorpus builds a corpus with two clearly separated populations:
// prime borrowers who repaid, and over-leveraged borrowers who defaulted
// (one confirmed fraud among them).
func seedCorpus() []LoanRecord {
	var records []LoanRecord
	for i := 0; i < 12; i++ {
		records = append(records, LoanRecord{
			ID:                fmt.Sprintf("prime-%03d", i),
			MonthlyIncome:     9500,
			ExistingEMIs:      400,
			DebtToIncomeRatio: 0.12,
			LoanAmount:        12000,
			TenureMonths:      24,
			InterestRate:      9.5,
			CreditScore:       765,
			ApplicantAge:      35,
			Dependents:        1,
			EmploymentStatus:  "Salaried",
			PropertyOwnership: "Owned",
			LoanType:          "Personal Loan",
			Purpose:           "Home Improvement",
			ApplicationDate:   "2024-03-01T00:00:00Z",
			Outcome:           "Repaid",
		})
	}
	for i := 0; i < 8; i++ {
		rec := LoanRecord{
			ID:                fmt.Sprintf("subprime-%03d", i),
			MonthlyIncome:     2600,
			ExistingEMIs:      3100,
			DebtToIncomeRatio: 1.20,
			LoanAmount:        45000,
			TenureMonths:      60,
			InterestRate:      17.5,
			CreditScore:       540,
			ApplicantAge:      48,
			Dependents:        4,
			EmploymentStatus:  "Self-Employed",
			PropertyOwnership: "Mortgaged",
			LoanType:          "Auto Loan",
			Purpose:           "Business",
			ApplicationDate:   "2024-03-01T00:00:00Z",
			Outcome:           "Defaulted",
		}
		if i == 0 {
			rec.Outcome = "Fraud"
			rec.FraudFlag = true
		}
		records = append(records, rec)
	}
	return records
}

func primeApplication() LoanRecord {
	return LoanRecord{
		MonthlyIncome:     9500,
		ExistingEMIs:      400,
		DebtToIncomeRatio: 0.12,
		LoanAmount:        12000,
		TenureMonths:      24,
		InterestRate:      9.5,
		CreditScore:       765,
		ApplicantAge:      35,
		Dependents:        1,
		EmploymentStatus:  "Salaried",
		PropertyOwnership: "Owned",
		LoanType:          "Personal Loan",
		Purpose:           "Home Improvement",
		ApplicationDate:   time.Now().UTC().Format(time.RFC3339),
	}
}

func subprimeApplication() LoanRecord {
	return LoanRecord{
		MonthlyIncome:     2600,
		ExistingEMIs:      3100,
		DebtToIncomeRatio: 1.20,
		LoanAmount:        45000,
		TenureMonths:      60,
		InterestRate:      17.5,
		CreditScore:       540,
		ApplicantAge:      48,
		Dependents:        4,
		EmploymentStatus:  "Self-Employed",
		PropertyOwnership: "Mortgaged",
		LoanType:          "Auto Loan",
		Purpose:           "Business",
		ApplicationDate:   time.Now().UTC().Format(time.RFC3339),
	}
}

// ============================================================================
// SCENARIO 1: Corpus Ingestion
// ============================================================================

func TestIngestCorpus(t *testing.T) {
	/*
	   SCENARIO: Ingest a 20-record corpus with mixed outcomes

	   EXPECTED BEHAVIOR:
	   - All 20 records accepted (valid, no InProgress exclusions)
	   - An encoder state is fitted and versioned
	   - Outcome counts reflect the corpus after correction
	*/
	config := getTestConfig()

	result := ingest(t, config, seedCorpus())

	if result.Received != 20 {
		t.Errorf("Expected 20 received, got %d", result.Received)
	}
	if result.Ingested != 20 {
		t.Errorf("Expected 20 ingested, got %d", result.Ingested)
	}
	if result.EncoderVersion == "" {
		t.Error("Expected a fitted encoder version")
	}
	if result.OutcomeCounts["Repaid"] != 12 {
		t.Errorf("Expected 12 Repaid, got %d", result.OutcomeCounts["Repaid"])
	}
	if result.OutcomeCounts["Fraud"] != 1 {
		t.Errorf("Expected 1 Fraud, got %d", result.OutcomeCounts["Fraud"])
	}

	t.Logf("✓ Corpus ingested: %d/%d, encoder=%s", result.Ingested, result.Received, result.EncoderVersion)
}

// ============================================================================
// SCENARIO 2: Low-Risk Application
// ============================================================================

func TestPrimeApplication_LowRisk(t *testing.T) {
	/*
	   SCENARIO: An application matching the prime population

	   EXPECTED BEHAVIOR:
	   - Top-5 neighborhood is entirely Repaid cases
	   - Outcome distribution concentrates on Repaid (>= 0.6)
	   - No fraud signal → risk level "Low"
	*/
	config := getTestConfig()
	ingest(t, config, seedCorpus())

	result := evaluate(t, config, EvaluateRequest{Application: primeApplication(), TopK: 5})

	if result.RiskLevel != "Low" {
		t.Errorf("Expected Low risk for prime application, got %s", result.RiskLevel)
	}
	if result.FraudSignalStrength > 0.01 {
		t.Errorf("Expected no fraud signal, got %.4f", result.FraudSignalStrength)
	}
	if result.RetrievedCount != 5 {
		t.Errorf("Expected 5 retrieved cases, got %d", result.RetrievedCount)
	}
	if result.OutcomeDistribution["Repaid"] < 0.6 {
		t.Errorf("Expected Repaid share >= 0.6, got %.4f", result.OutcomeDistribution["Repaid"])
	}

	t.Logf("✓ Prime application: risk=%s, confidence=%.2f, repaid=%.2f",
		result.RiskLevel, result.Confidence, result.OutcomeDistribution["Repaid"])
}

// ============================================================================
// SCENARIO 3: High-Risk Application
// ============================================================================

func TestSubprimeApplication_HighRisk(t *testing.T) {
	/*
	   SCENARIO: An application matching the over-leveraged population

	   EXPECTED BEHAVIOR:
	   - Neighborhood is dominated by Defaulted cases plus one Fraud
	   - Defaulted + Fraud mass >= 0.5 → risk level "High"
	   - Fraud flags among the neighbors produce a non-zero fraud signal
	*/
	config := getTestConfig()
	ingest(t, config, seedCorpus())

	result := evaluate(t, config, EvaluateRequest{Application: subprimeApplication(), TopK: 5})

	if result.RiskLevel != "High" {
		t.Errorf("Expected High risk for subprime application, got %s", result.RiskLevel)
	}
	if result.FraudSignalStrength <= 0 {
		t.Errorf("Expected non-zero fraud signal, got %.4f", result.FraudSignalStrength)
	}

	adverse := result.OutcomeDistribution["Defaulted"] + result.OutcomeDistribution["Fraud"]
	if adverse < 0.5 {
		t.Errorf("Expected adverse mass >= 0.5, got %.4f", adverse)
	}

	t.Logf("✓ Subprime application: risk=%s, confidence=%.2f, adverse=%.2f, fraud=%.2f",
		result.RiskLevel, result.Confidence, adverse, result.FraudSignalStrength)
}

// ============================================================================
// SCENARIO 4: Verdict Caching
// ============================================================================

func TestRepeatedEvaluation_CacheHit(t *testing.T) {
	/*
	   SCENARIO: The same application evaluated twice in a row

	   EXPECTED BEHAVIOR:
	   - Both responses carry the same risk level and distribution
	   - The second response is served from cache (metadata.cacheHit)
	*/
	config := getTestConfig()
	ingest(t, config, seedCorpus())

	app := primeApplication()
	// Pin the date so both requests hash to the same cache key.
	app.ApplicationDate = "2026-08-01T00:00:00Z"

	first := evaluate(t, config, EvaluateRequest{Application: app, TopK: 5})
	second := evaluate(t, config, EvaluateRequest{Application: app, TopK: 5})

	if first.RiskLevel != second.RiskLevel {
		t.Errorf("Risk level changed between identical requests: %s vs %s", first.RiskLevel, second.RiskLevel)
	}
	if !second.Metadata.CacheHit {
		t.Error("Expected second evaluation to be a cache hit")
	}
	if first.Metadata.CacheHit {
		t.Error("Expected first evaluation to be a cache miss")
	}

	t.Logf("✓ Cache behavior: first hit=%v, second hit=%v", first.Metadata.CacheHit, second.Metadata.CacheHit)
}

// ============================================================================
// SCENARIO 5: Evaluation Without a Corpus
// ============================================================================

func TestEvaluateBeforeIngest_Conflict(t *testing.T) {
	/*
	   SCENARIO: Evaluating against a tenant that never ingested a corpus

	   EXPECTED: HTTP 409 Conflict (no fitted encoder state)
	*/
	config := getTestConfig()

	resp, body := post(t, config, "/evaluate", EvaluateRequest{Application: primeApplication()})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("Expected 409 before ingestion, got %d: %s", resp.StatusCode, string(body))
	}

	t.Logf("✓ Cold tenant rejected: HTTP %d", resp.StatusCode)
}

// ============================================================================
// SCENARIO 6: Input Validation
// ============================================================================

func TestHistoricalShapedQuery_Error(t *testing.T) {
	/*
	   SCENARIO: A query carrying an ID and an outcome, like a corpus record

	   EXPECTED: HTTP 400 Bad Request. Queries must look like incoming
	   applications; accepting labeled records here would leak outcomes
	   into their own neighborhoods.
	*/
	config := getTestConfig()
	ingest(t, config, seedCorpus())

	app := primeApplication()
	app.ID = "prime-000"
	app.Outcome = "Repaid"

	resp, body := post(t, config, "/evaluate", EvaluateRequest{Application: app})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for historical-shaped query, got %d: %s", resp.StatusCode, string(body))
	}

	t.Logf("✓ Validation test passed: labeled query → HTTP %d", resp.StatusCode)
}

func TestInvalidAge_Error(t *testing.T) {
	/*
	   SCENARIO: Applicant age outside [18, 100]

	   EXPECTED: HTTP 400 Bad Request (values are rejected, never clamped)
	*/
	config := getTestConfig()
	ingest(t, config, seedCorpus())

	app := primeApplication()
	app.ApplicantAge = 12

	resp, body := post(t, config, "/evaluate", EvaluateRequest{Application: app})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for invalid age, got %d: %s", resp.StatusCode, string(body))
	}

	t.Logf("✓ Validation test passed: age 12 → HTTP %d", resp.StatusCode)
}

func TestMissingTenantHeader_Error(t *testing.T) {
	/*
	   SCENARIO: Request without X-Tenant-ID header

	   EXPECTED: HTTP 400 Bad Request. Tenant ID is validated as a required
	   field, not as auth.
	*/
	config := getTestConfig()

	body, _ := json.Marshal(EvaluateRequest{Application: primeApplication()})
	httpReq, _ := http.NewRequest("POST", config.BaseURL+"/evaluate", bytes.NewReader(body))
	httpReq.Header.Set("Content-Type", "application/json")
	// NO X-Tenant-ID header!

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for missing tenant, got %d", resp.StatusCode)
	}

	t.Logf("✓ Validation test passed: missing tenant → HTTP %d", resp.StatusCode)
}

// ============================================================================
// SCENARIO 7: Verdict Retrieval
// ============================================================================

func TestVerdictRetrieval(t *testing.T) {
	/*
	   SCENARIO: Fetch a stored verdict by its ID after evaluation

	   EXPECTED: GET /verdicts/{id} returns the same risk level
	*/
	config := getTestConfig()
	ingest(t, config, seedCorpus())

	produced := evaluate(t, config, EvaluateRequest{Application: primeApplication(), TopK: 5})
	if produced.ID == "" {
		t.Fatal("Missing verdict id")
	}

	httpReq, _ := http.NewRequest("GET", config.BaseURL+"/verdicts/"+produced.ID, nil)
	httpReq.Header.Set("X-Tenant-ID", config.TenantID)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200 retrieving verdict, got %d: %s", resp.StatusCode, string(respBody))
	}

	var fetched EvaluateResponse
	if err := json.Unmarshal(respBody, &fetched); err != nil {
		t.Fatalf("Failed to unmarshal verdict: %v", err)
	}
	if fetched.RiskLevel != produced.RiskLevel {
		t.Errorf("Stored verdict risk level %s differs from produced %s", fetched.RiskLevel, produced.RiskLevel)
	}

	t.Logf("✓ Verdict round trip: id=%s, risk=%s", produced.ID[:8], fetched.RiskLevel)
}

// ============================================================================
// SCENARIO 8: Response Metadata Verification
// ============================================================================

func TestResponseMetadata(t *testing.T) {
	/*
	   SCENARIO: Verify response includes all required metadata

	   This ensures the API contract is stable for clients.
	*/
	config := getTestConfig()
	ingest(t, config, seedCorpus())

	result := evaluate(t, config, EvaluateRequest{Application: primeApplication()})

	if result.ID == "" {
		t.Error("Missing verdict id")
	}

	if result.RiskLevel != "Low" && result.RiskLevel != "Medium" && result.RiskLevel != "High" {
		t.Errorf("Invalid risk level: %s", result.RiskLevel)
	}

	if result.Confidence < 0 || result.Confidence > 1 {
		t.Errorf("Confidence out of range: %.2f (expected 0-1)", result.Confidence)
	}

	sum := 0.0
	for _, share := range result.OutcomeDistribution {
		sum += share
	}
	if sum < 0.999 || sum > 1.001 {
		t.Errorf("Outcome distribution does not sum to 1: %.4f", sum)
	}

	if result.EncoderVersion == "" {
		t.Error("Missing encoderVersion")
	}

	if result.Metadata.TraceID == "" {
		t.Error("Missing metadata.traceId")
	}

	// Note: TotalMs can be 0 for very fast operations (sub-millisecond)
	if result.Metadata.TotalMs < 0 {
		t.Error("Invalid metadata.totalMs (negative)")
	}

	t.Logf("✓ Metadata complete: id=%s, traceId=%s, totalMs=%d",
		result.ID[:8], result.Metadata.TraceID[:8], result.Metadata.TotalMs)
}
