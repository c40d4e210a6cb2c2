// Seed tool for loading a synthetic loan corpus into Kestrel.
//
// Usage:
//   go run cmd/seed/main.go -url http://localhost:8080 -count 500
//
// This tool:
//   1. Generates a synthetic corpus of labeled loan records: prime profiles
//      that mostly repaid, stretched profiles that mostly defaulted, a slice
//      of confirmed fraud, and some still-running loans with delinquency
//      signals for the temporal corrector to work on
//   2. POSTs the corpus to /ingest and prints the ingestion report
//   3. Fires two demo evaluations: a strong-credit application and an
//      over-leveraged one, and prints both verdicts
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"time"
)

type loanRecord struct {
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
	FraudType         string  `json:"fraudType,omitempty"`
	TimeToDefault     *int    `json:"timeToDefaultMonths,omitempty"`
	MissedPayments    *int    `json:"missedPayments,omitempty"`
}

type ingestRequest struct {
	Records []loanRecord `json:"records"`
}

type ingestResponse struct {
	Received           int            `json:"received"`
	Ingested           int            `json:"ingested"`
	ExcludedInProgress int            `json:"excludedInProgress"`
	OutcomeCounts      map[string]int `json:"outcomeCounts"`
	EncoderVersion     string         `json:"encoderVersion"`
	Rejected           []struct {
		RecordID string `json:"recordId"`
		Reason   string `json:"reason"`
	} `json:"rejected"`
}

type evaluateRequest struct {
	Application loanRecord `json:"application"`
	TopK        int        `json:"topK,omitempty"`
}

type verdictResponse struct {
	ID                  string             `json:"id"`
	RiskLevel           string             `json:"riskLevel"`
	Confidence          float64            `json:"confidence"`
	OutcomeDistribution map[string]float64 `json:"outcomeDistribution"`
	FraudSignalStrength float64            `json:"fraudSignalStrength"`
	Rationale           []string           `json:"rationale"`
	RetrievedCount      int                `json:"retrievedCount"`
}

var (
	employmentStatuses = []string{"Salaried", "Self-Employed", "Business Owner", "Retired"}
	ownerships         = []string{"Owned", "Rented", "Mortgaged", "Family"}
	loanTypes          = []string{"Personal Loan", "Auto Loan", "Home Loan", "Education Loan"}
	purposes           = []string{"Home Improvement", "Debt Consolidation", "Business", "Education", "Medical", "Wedding"}
	fraudTypes         = []string{"identity_theft", "income_fabrication", "straw_borrower"}
)

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	tenantID := flag.String("tenant", "demo-lender", "Tenant ID for requests")
	count := flag.Int("count", 500, "Number of synthetic records to generate")
	seed := flag.Int64("seed", 42, "RNG seed (fixed default keeps runs reproducible)")
	topK := flag.Int("topk", 10, "Neighborhood size for the demo evaluations")
	flag.Parse()

	rng := rand.New(rand.NewSource(*seed))

	fmt.Printf("Generating %d synthetic loan records (seed %d)...\n", *count, *seed)
	corpus := generateCorpus(rng, *count)

	fmt.Printf("Ingesting into %s as tenant %q...\n", *baseURL, *tenantID)
	report, err := ingest(*baseURL, *tenantID, corpus)
	if err != nil {
		fmt.Printf("ERROR: ingestion failed: %v\n", err)
		fmt.Println("\nMake sure Kestrel is running:")
		fmt.Println("  go run cmd/kestrel/main.go")
		os.Exit(1)
	}

	fmt.Printf("\n✓ Ingested %d/%d records\n", report.Ingested, report.Received)
	fmt.Printf("  Encoder version: %s\n", report.EncoderVersion)
	fmt.Printf("  Excluded (no reclassification signal): %d\n", report.ExcludedInProgress)
	fmt.Printf("  Outcome counts:\n")
	for _, outcome := range []string{"Repaid", "Defaulted", "Fraud", "InProgress"} {
		fmt.Printf("    %-10s %d\n", outcome, report.OutcomeCounts[outcome])
	}
	if len(report.Rejected) > 0 {
		fmt.Printf("  Rejections: %d (first: %s: %s)\n",
			len(report.Rejected), report.Rejected[0].RecordID, report.Rejected[0].Reason)
	}

	fmt.Println("\n--- Demo scenario A: strong-credit application ---")
	runDemo(*baseURL, *tenantID, *topK, loanRecord{
		MonthlyIncome:     10000,
		ExistingEMIs:      600,
		DebtToIncomeRatio: 0.10,
		LoanAmount:        15000,
		TenureMonths:      24,
		InterestRate:      9.0,
		CreditScore:       760,
		ApplicantAge:      36,
		Dependents:        1,
		EmploymentStatus:  "Salaried",
		PropertyOwnership: "Owned",
		LoanType:          "Personal Loan",
		Purpose:           "Home Improvement",
		ApplicationDate:   time.Now().UTC().Format(time.RFC3339),
	})

	fmt.Println("\n--- Demo scenario B: over-leveraged application ---")
	runDemo(*baseURL, *tenantID, *topK, loanRecord{
		MonthlyIncome:     2500,
		ExistingEMIs:      3000,
		DebtToIncomeRatio: 1.20,
		LoanAmount:        50000,
		TenureMonths:      60,
		InterestRate:      18.0,
		CreditScore:       540,
		ApplicantAge:      47,
		Dependents:        4,
		EmploymentStatus:  "Self-Employed",
		PropertyOwnership: "Mortgaged",
		LoanType:          "Auto Loan",
		Purpose:           "Business",
		ApplicationDate:   time.Now().UTC().Format(time.RFC3339),
	})
}

// generateCorpus draws records from four populations. Proportions roughly
// follow the synthetic dataset the system was designed against: two thirds
// clean repayments, a quarter defaults, a thin fraud slice, and a handful
// of in-progress loans carrying delinquency signals.
func generateCorpus(rng *rand.Rand, count int) []loanRecord {
	records := make([]loanRecord, 0, count)
	for i := 0; i < count; i++ {
		var rec loanRecord
		switch draw := rng.Float64(); {
		case draw < 0.62:
			rec = primeRecord(rng)
			rec.Outcome = "Repaid"
		case draw < 0.88:
			rec = stretchedRecord(rng)
			rec.Outcome = "Defaulted"
			ttd := 3 + rng.Intn(18)
			rec.TimeToDefault = &ttd
			missed := 3 + rng.Intn(9)
			rec.MissedPayments = &missed
		case draw < 0.93:
			rec = stretchedRecord(rng)
			rec.Outcome = "Fraud"
			rec.FraudFlag = true
			rec.FraudType = fraudTypes[rng.Intn(len(fraudTypes))]
		default:
			// Still-running loans: half with missed payments (the corrector
			// will reclassify them), half clean (excluded from the corpus).
			rec = stretchedRecord(rng)
			rec.Outcome = "InProgress"
			if rng.Intn(2) == 0 {
				missed := 3 + rng.Intn(5)
				rec.MissedPayments = &missed
			}
		}
		rec.ID = fmt.Sprintf("seed-%05d", i)
		records = append(records, rec)
	}
	return records
}

func primeRecord(rng *rand.Rand) loanRecord {
	income := 6000 + rng.Float64()*8000
	emis := income * (0.02 + rng.Float64()*0.13)
	return loanRecord{
		MonthlyIncome:     round2(income),
		ExistingEMIs:      round2(emis),
		DebtToIncomeRatio: round2(emis / income),
		LoanAmount:        round2(8000 + rng.Float64()*25000),
		TenureMonths:      12 * (1 + rng.Intn(4)),
		InterestRate:      round2(8 + rng.Float64()*4),
		CreditScore:       700 + rng.Intn(150),
		ApplicantAge:      25 + rng.Intn(35),
		Dependents:        rng.Intn(3),
		EmploymentStatus:  employmentStatuses[rng.Intn(2)], // Salaried or Self-Employed
		PropertyOwnership: ownerships[rng.Intn(2)],         // Owned or Rented
		LoanType:          loanTypes[rng.Intn(len(loanTypes))],
		Purpose:           purposes[rng.Intn(len(purposes))],
		ApplicationDate:   randomDate(rng),
	}
}

func stretchedRecord(rng *rand.Rand) loanRecord {
	income := 1800 + rng.Float64()*2500
	emis := income * (0.7 + rng.Float64()*0.6)
	return loanRecord{
		MonthlyIncome:     round2(income),
		ExistingEMIs:      round2(emis),
		DebtToIncomeRatio: round2(emis / income),
		LoanAmount:        round2(30000 + rng.Float64()*40000),
		TenureMonths:      12 * (3 + rng.Intn(4)),
		InterestRate:      round2(14 + rng.Float64()*8),
		CreditScore:       450 + rng.Intn(180),
		ApplicantAge:      30 + rng.Intn(40),
		Dependents:        1 + rng.Intn(5),
		EmploymentStatus:  employmentStatuses[1+rng.Intn(3)],
		PropertyOwnership: ownerships[1+rng.Intn(3)],
		LoanType:          loanTypes[rng.Intn(len(loanTypes))],
		Purpose:           purposes[rng.Intn(len(purposes))],
		ApplicationDate:   randomDate(rng),
	}
}

// randomDate spreads applications over a recent two-year window. The server
// shifts them back 36 months at ingestion, so terms will have elapsed.
func randomDate(rng *rand.Rand) string {
	start := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)
	return start.AddDate(0, 0, rng.Intn(730)).Format(time.RFC3339)
}

func round2(v float64) float64 {
	return float64(int(v*100)) / 100
}

func ingest(baseURL, tenantID string, records []loanRecord) (*ingestResponse, error) {
	body, err := json.Marshal(ingestRequest{Records: records})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequest(http.MethodPost, baseURL+"/ingest", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", tenantID)

	client := &http.Client{Timeout: 120 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var report ingestResponse
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return nil, err
	}
	return &report, nil
}

func runDemo(baseURL, tenantID string, topK int, app loanRecord) {
	body, err := json.Marshal(evaluateRequest{Application: app, TopK: topK})
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		return
	}

	req, err := http.NewRequest(http.MethodPost, baseURL+"/evaluate", bytes.NewReader(body))
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", tenantID)

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		fmt.Printf("ERROR: evaluation failed: %v\n", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Printf("ERROR: status %d\n", resp.StatusCode)
		return
	}

	var verdict verdictResponse
	if err := json.NewDecoder(resp.Body).Decode(&verdict); err != nil {
		fmt.Printf("ERROR: %v\n", err)
		return
	}

	fmt.Printf("Risk level:   %s (confidence %.2f)\n", verdict.RiskLevel, verdict.Confidence)
	fmt.Printf("Fraud signal: %.2f\n", verdict.FraudSignalStrength)
	fmt.Printf("Neighborhood: %d cases\n", verdict.RetrievedCount)
	fmt.Printf("Distribution:")
	for _, outcome := range []string{"Repaid", "Defaulted", "Fraud", "InProgress"} {
		fmt.Printf("  %s=%.2f", outcome, verdict.OutcomeDistribution[outcome])
	}
	fmt.Println()
	for _, line := range verdict.Rationale {
		fmt.Printf("  • %s\n", line)
	}
}
