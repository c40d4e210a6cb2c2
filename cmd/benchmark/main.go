// Benchmark tool for testing Kestrel against a labeled loan corpus.
//
// Usage:
//   go run cmd/benchmark/main.go -csv /path/to/loans.csv -url http://localhost:8080
//
// This tool:
//   1. Reads labeled loan records (with observed outcomes)
//   2. Splits them into a corpus portion and a holdout portion
//   3. Ingests the corpus into Kestrel, then evaluates each holdout record
//   4. Compares Kestrel's risk level (High vs not) with the actual outcome
//      (Defaulted/Fraud vs Repaid) and prints precision, recall, and F1
package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// LoanRow represents a labeled record from the corpus CSV.
type LoanRow struct {
	ID                string
	MonthlyIncome     float64
	ExistingEMIs      float64
	DebtToIncomeRatio float64
	LoanAmount        float64
	TenureMonths      int
	InterestRate      float64
	CreditScore       int
	ApplicantAge      int
	Dependents        int
	EmploymentStatus  string
	PropertyOwnership string
	LoanType          string
	Purpose           string
	ApplicationDate   string
	Outcome           string
	FraudFlag         bool
	TimeToDefault     *int
	MissedPayments    *int
}

// adverse reports whether the observed outcome is one an underwriter
// would have wanted flagged.
func (r LoanRow) adverse() bool {
	return r.Outcome == "Defaulted" || r.Outcome == "Fraud"
}

// ingestRecord is the wire shape of one corpus record.
type ingestRecord struct {
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
	TimeToDefault     *int    `json:"timeToDefaultMonths,omitempty"`
	MissedPayments    *int    `json:"missedPayments,omitempty"`
}

// IngestRequest is the Kestrel /ingest request format.
type IngestRequest struct {
	Records []ingestRecord `json:"records"`
}

// IngestResponse is the subset of the ingestion report the tool reads.
type IngestResponse struct {
	Received           int    `json:"received"`
	Ingested           int    `json:"ingested"`
	ExcludedInProgress int    `json:"excludedInProgress"`
	EncoderVersion     string `json:"encoderVersion"`
}

// EvaluateRequest is the Kestrel /evaluate request format.
type EvaluateRequest struct {
	Application ingestRecord `json:"application"`
	TopK        int          `json:"topK,omitempty"`
}

// EvaluateResponse is the subset of the verdict the tool reads.
type EvaluateResponse struct {
	ID                  string  `json:"id"`
	RiskLevel           string  `json:"riskLevel"`
	Confidence          float64 `json:"confidence"`
	FraudSignalStrength float64 `json:"fraudSignalStrength"`
}

// Metrics tracks benchmark results.
type Metrics struct {
	TruePositives  int64 // Adverse outcome flagged High
	FalsePositives int64 // Clean outcome flagged High
	TrueNegatives  int64 // Clean outcome not flagged
	FalseNegatives int64 // Adverse outcome not flagged (missed!)

	TotalProcessed int64
	TotalAdverse   int64
	TotalClean     int64
	TotalErrors    int64

	ProcessingTimeMs int64
}

func main() {
	csvPath := flag.String("csv", "", "Path to labeled loan CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	tenantID := flag.String("tenant", "benchmark-test", "Tenant ID for requests")
	limit := flag.Int("limit", 10000, "Maximum records to process (0 = all)")
	holdout := flag.Float64("holdout", 0.2, "Fraction of records held out for evaluation")
	topK := flag.Int("topk", 10, "Neighborhood size per evaluation")
	workers := flag.Int("workers", 10, "Number of concurrent evaluation workers")
	verbose := flag.Bool("verbose", false, "Print each evaluation result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: benchmark -csv /path/to/loans.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}
	if *holdout <= 0 || *holdout >= 1 {
		fmt.Println("ERROR: -holdout must be in (0, 1)")
		os.Exit(1)
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║          KESTREL BENCHMARK - Corpus Replay                    ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nCSV File:    %s\n", *csvPath)
	fmt.Printf("Kestrel URL: %s\n", *baseURL)
	fmt.Printf("Tenant ID:   %s\n", *tenantID)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Limit:       %d\n", *limit)
	fmt.Printf("Holdout:     %.2f\n", *holdout)
	fmt.Printf("Top-K:       %d\n", *topK)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Kestrel is running:")
		fmt.Println("  cd kestrel && go run cmd/kestrel/main.go")
		os.Exit(1)
	}
	fmt.Println("✓ Kestrel is healthy")

	fmt.Printf("\nReading loan corpus from %s...\n", *csvPath)
	rows, err := readLoanCSV(*csvPath, *limit)
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✓ Loaded %d records\n", len(rows))

	adverseCount := 0
	for _, r := range rows {
		if r.adverse() {
			adverseCount++
		}
	}
	fmt.Printf("  - Adverse:  %d (%.2f%%)\n", adverseCount, 100*float64(adverseCount)/float64(len(rows)))
	fmt.Printf("  - Clean:    %d (%.2f%%)\n", len(rows)-adverseCount, 100*float64(len(rows)-adverseCount)/float64(len(rows)))

	// Every Nth record goes to the holdout, so both portions keep roughly
	// the corpus's outcome mix without needing to shuffle.
	stride := int(1.0 / *holdout)
	var corpus, held []LoanRow
	for i, r := range rows {
		if i%stride == 0 {
			held = append(held, r)
		} else {
			corpus = append(corpus, r)
		}
	}
	fmt.Printf("\nIngesting %d records (holding out %d)...\n", len(corpus), len(held))

	report, err := ingestCorpus(*baseURL, *tenantID, corpus)
	if err != nil {
		fmt.Printf("ERROR: Ingestion failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✓ Ingested %d/%d (excluded %d, encoder %s)\n",
		report.Ingested, report.Received, report.ExcludedInProgress, report.EncoderVersion)

	fmt.Printf("\nEvaluating %d holdout records with %d workers...\n", len(held), *workers)
	startTime := time.Now()
	metrics := runBenchmark(held, *baseURL, *tenantID, *topK, *workers, *verbose)
	duration := time.Since(startTime)

	printResults(metrics, duration)
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func readLoanCSV(path string, limit int) ([]LoanRow, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.ToLower(strings.TrimSpace(col))] = i
	}

	get := func(record []string, name string) string {
		idx, ok := colIndex[name]
		if !ok || idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}

	var rows []LoanRow
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue // Skip malformed rows
		}

		income, _ := strconv.ParseFloat(get(record, "monthly_income"), 64)
		emis, _ := strconv.ParseFloat(get(record, "existing_emis_monthly"), 64)
		dti, _ := strconv.ParseFloat(get(record, "debt_to_income_ratio"), 64)
		amount, _ := strconv.ParseFloat(get(record, "loan_amount_requested"), 64)
		tenure, _ := strconv.Atoi(get(record, "loan_tenure_months"))
		rate, _ := strconv.ParseFloat(get(record, "interest_rate_offered"), 64)
		score, _ := strconv.Atoi(get(record, "credit_score"))
		age, _ := strconv.Atoi(get(record, "applicant_age"))
		deps, _ := strconv.Atoi(get(record, "number_of_dependents"))

		row := LoanRow{
			ID:                get(record, "loan_id"),
			MonthlyIncome:     income,
			ExistingEMIs:      emis,
			DebtToIncomeRatio: dti,
			LoanAmount:        amount,
			TenureMonths:      tenure,
			InterestRate:      rate,
			CreditScore:       score,
			ApplicantAge:      age,
			Dependents:        deps,
			EmploymentStatus:  get(record, "employment_status"),
			PropertyOwnership: get(record, "property_ownership"),
			LoanType:          get(record, "loan_type"),
			Purpose:           get(record, "purpose_of_loan"),
			ApplicationDate:   get(record, "application_date"),
			Outcome:           get(record, "loan_status"),
			FraudFlag:         get(record, "fraud_flag") == "1" || strings.EqualFold(get(record, "fraud_flag"), "true"),
		}
		if v, err := strconv.Atoi(get(record, "time_to_default_months")); err == nil {
			row.TimeToDefault = &v
		}
		if v, err := strconv.Atoi(get(record, "missed_payments")); err == nil {
			row.MissedPayments = &v
		}

		rows = append(rows, row)

		if limit > 0 && len(rows) >= limit {
			break
		}
	}

	return rows, nil
}

func toRecord(r LoanRow) ingestRecord {
	return ingestRecord{
		ID:                r.ID,
		MonthlyIncome:     r.MonthlyIncome,
		ExistingEMIs:      r.ExistingEMIs,
		DebtToIncomeRatio: r.DebtToIncomeRatio,
		LoanAmount:        r.LoanAmount,
		TenureMonths:      r.TenureMonths,
		InterestRate:      r.InterestRate,
		CreditScore:       r.CreditScore,
		ApplicantAge:      r.ApplicantAge,
		Dependents:        r.Dependents,
		EmploymentStatus:  r.EmploymentStatus,
		PropertyOwnership: r.PropertyOwnership,
		LoanType:          r.LoanType,
		Purpose:           r.Purpose,
		ApplicationDate:   toRFC3339(r.ApplicationDate),
		Outcome:           r.Outcome,
		FraudFlag:         r.FraudFlag,
		TimeToDefault:     r.TimeToDefault,
		MissedPayments:    r.MissedPayments,
	}
}

// toRFC3339 accepts the date formats the common loan datasets use.
func toRFC3339(s string) string {
	for _, layout := range []string{time.RFC3339, "2006-01-02", "02-01-2006", "2006/01/02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC().Format(time.RFC3339)
		}
	}
	return s
}

func ingestCorpus(baseURL, tenantID string, rows []LoanRow) (*IngestResponse, error) {
	records := make([]ingestRecord, 0, len(rows))
	for _, r := range rows {
		records = append(records, toRecord(r))
	}

	body, err := json.Marshal(IngestRequest{Records: records})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/ingest", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Tenant-ID", tenantID)

	client := &http.Client{Timeout: 120 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var report IngestResponse
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return nil, err
	}
	return &report, nil
}

func runBenchmark(rows []LoanRow, baseURL, tenantID string, topK, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{}

	work := make(chan LoanRow, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for row := range work {
				start := time.Now()
				result, err := evaluateRecord(client, baseURL, tenantID, topK, row)
				elapsed := time.Since(start).Milliseconds()

				atomic.AddInt64(&metrics.ProcessingTimeMs, elapsed)
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %s -> %v\n", row.ID, err)
					}
					continue
				}

				actual := row.adverse()
				if actual {
					atomic.AddInt64(&metrics.TotalAdverse, 1)
				} else {
					atomic.AddInt64(&metrics.TotalClean, 1)
				}

				predicted := result.RiskLevel == "High"
				if predicted && actual {
					atomic.AddInt64(&metrics.TruePositives, 1)
				} else if predicted && !actual {
					atomic.AddInt64(&metrics.FalsePositives, 1)
				} else if !predicted && !actual {
					atomic.AddInt64(&metrics.TrueNegatives, 1)
				} else { // !predicted && actual
					atomic.AddInt64(&metrics.FalseNegatives, 1)
				}

				if verbose {
					status := "✓"
					if predicted != actual {
						status = "✗"
					}
					fmt.Printf("%s %-12s | Score: %4d | DTI: %5.2f | Outcome: %-10s | Kestrel: %-6s (conf %.2f, fraud %.2f)\n",
						status,
						row.ID,
						row.CreditScore,
						row.DebtToIncomeRatio,
						row.Outcome,
						result.RiskLevel,
						result.Confidence,
						result.FraudSignalStrength,
					)
				}
			}
		}()
	}

	for _, row := range rows {
		work <- row
	}
	close(work)

	wg.Wait()

	return metrics
}

func evaluateRecord(client *http.Client, baseURL, tenantID string, topK int, row LoanRow) (*EvaluateResponse, error) {
	// A query must look like an incoming application: no ID, no outcome,
	// no fraud fields, and a current date.
	app := toRecord(row)
	app.ID = ""
	app.Outcome = ""
	app.FraudFlag = false
	app.TimeToDefault = nil
	app.MissedPayments = nil
	app.ApplicationDate = time.Now().UTC().Format(time.RFC3339)

	body, err := json.Marshal(EvaluateRequest{Application: app, TopK: topK})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/evaluate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Tenant-ID", tenantID)

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result EvaluateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return &result, nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      BENCHMARK RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 HOLDOUT STATISTICS\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Total Adverse:    %d\n", m.TotalAdverse)
	fmt.Printf("   Total Clean:      %d\n", m.TotalClean)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)

	fmt.Printf("\n📈 CONFUSION MATRIX\n")
	fmt.Println("                        Predicted")
	fmt.Println("                    High        Other")
	fmt.Println("              ┌──────────┬──────────┐")
	fmt.Printf("   Actual  A  │ %8d │ %8d │  (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Println("              ├──────────┼──────────┤")
	fmt.Printf("           C  │ %8d │ %8d │  (FP, TN)\n", m.FalsePositives, m.TrueNegatives)
	fmt.Println("              └──────────┴──────────┘")

	precision := float64(0)
	if m.TruePositives+m.FalsePositives > 0 {
		precision = float64(m.TruePositives) / float64(m.TruePositives+m.FalsePositives)
	}

	recall := float64(0)
	if m.TruePositives+m.FalseNegatives > 0 {
		recall = float64(m.TruePositives) / float64(m.TruePositives+m.FalseNegatives)
	}

	f1 := float64(0)
	if precision+recall > 0 {
		f1 = 2 * (precision * recall) / (precision + recall)
	}

	accuracy := float64(0)
	total := m.TruePositives + m.TrueNegatives + m.FalsePositives + m.FalseNegatives
	if total > 0 {
		accuracy = float64(m.TruePositives+m.TrueNegatives) / float64(total)
	}

	fmt.Printf("\n🎯 FLAGGING METRICS\n")
	fmt.Printf("   Precision:  %.4f  (of High verdicts, how many went bad)\n", precision)
	fmt.Printf("   Recall:     %.4f  (of bad loans, how many were flagged)\n", recall)
	fmt.Printf("   F1-Score:   %.4f  (harmonic mean of precision & recall)\n", f1)
	fmt.Printf("   Accuracy:   %.4f  (overall correct predictions)\n", accuracy)

	fmt.Printf("\n🔍 FLAGGING ANALYSIS\n")
	if m.TotalAdverse > 0 {
		detectionRate := float64(m.TruePositives) / float64(m.TotalAdverse) * 100
		missRate := float64(m.FalseNegatives) / float64(m.TotalAdverse) * 100
		fmt.Printf("   Bad Loans Flagged: %d / %d (%.2f%%)\n", m.TruePositives, m.TotalAdverse, detectionRate)
		fmt.Printf("   Bad Loans Missed:  %d / %d (%.2f%%) ⚠️\n", m.FalseNegatives, m.TotalAdverse, missRate)
	}
	if m.TotalClean > 0 {
		falseAlarmRate := float64(m.FalsePositives) / float64(m.TotalClean) * 100
		fmt.Printf("   False Alarms:      %d / %d (%.2f%%)\n", m.FalsePositives, m.TotalClean, falseAlarmRate)
	}

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		avgMs := float64(m.ProcessingTimeMs) / float64(m.TotalProcessed)
		qps := float64(m.TotalProcessed) / duration.Seconds()
		fmt.Printf("   Avg Latency:      %.2f ms\n", avgMs)
		fmt.Printf("   Throughput:       %.2f eval/sec\n", qps)
	}

	fmt.Printf("\n💡 INTERPRETATION\n")
	if recall >= 0.9 {
		fmt.Println("   ✅ Excellent recall - flagging most bad loans")
	} else if recall >= 0.7 {
		fmt.Println("   ⚠️  Good recall - but missing some bad loans")
	} else if recall >= 0.5 {
		fmt.Println("   ⚠️  Moderate recall - significant losses being missed")
	} else {
		fmt.Println("   ❌ Poor recall - most bad loans pass unflagged!")
	}

	if precision >= 0.5 {
		fmt.Println("   ✅ Good precision - High verdicts are meaningful")
	} else if precision >= 0.2 {
		fmt.Println("   ⚠️  Low precision - many false alarms")
	} else {
		fmt.Println("   ❌ Very low precision - mostly false alarms")
	}

	fmt.Println()
}
