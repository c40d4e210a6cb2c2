// Package temporal implements censoring-bias correction for the historical
// corpus. Recent corpora are dominated by still-open loans; shifting their
// application dates backward and re-deriving outcomes for matured loans
// keeps InProgress from swamping the outcome statistics.
package temporal

import (
	"fmt"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Corrector rewrites training-corpus records. Query records never pass
// through here: they carry no outcome to correct.
type Corrector struct {
	cfg     domain.CorrectorConfig
	program cel.Program
	// now is the corpus reference time, fixed at construction so a whole
	// batch is corrected against one clock.
	now time.Time
}

// Result pairs a corrected record with what the corrector did to it.
type Result struct {
	Record *domain.LoanRecord

	// Reclassified is true when a matured InProgress outcome was
	// re-derived to Repaid or Defaulted.
	Reclassified bool

	// Excluded is true when the record matured InProgress but carried no
	// reliable signal; it stays InProgress and is left out of outcome
	// statistics rather than guessed.
	Excluded bool
}

// New creates a corrector and compiles the reclassification heuristic.
func New(cfg domain.CorrectorConfig) (*Corrector, error) {
	return NewAt(cfg, time.Now().UTC())
}

// NewAt creates a corrector with an explicit reference "now". Tests and
// replays need a fixed clock.
func NewAt(cfg domain.CorrectorConfig, now time.Time) (*Corrector, error) {
	if cfg.ShiftMonths <= 0 {
		cfg.ShiftMonths = 36
	}
	if cfg.ReclassifyExpression == "" {
		cfg.ReclassifyExpression = domain.DefaultReclassifyExpression
	}

	env, err := cel.NewEnv(
		cel.Variable("fraud_flag", cel.BoolType),
		cel.Variable("has_time_to_default", cel.BoolType),
		cel.Variable("time_to_default_months", cel.IntType),
		cel.Variable("has_missed_payments", cel.BoolType),
		cel.Variable("missed_payments", cel.IntType),
		cel.Variable("credit_score", cel.IntType),
		cel.Variable("debt_to_income_ratio", cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	ast, issues := env.Compile(cfg.ReclassifyExpression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("invalid reclassify expression: %w", issues.Err())
	}
	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to build reclassify program: %w", err)
	}

	return &Corrector{cfg: cfg, program: program, now: now}, nil
}

// Correct returns a rewritten copy of rec: application date shifted back by
// the configured offset, maturity recomputed, and a matured InProgress
// outcome re-derived when a reliable signal exists. The input record is
// never mutated. A shift landing before the configured minimum date is a
// rejection, not a silent drop.
func (c *Corrector) Correct(rec *domain.LoanRecord) (*Result, error) {
	out := rec.Clone()
	out.ApplicationDate = rec.ApplicationDate.AddDate(0, -c.cfg.ShiftMonths, 0)

	if !c.cfg.MinApplicationDate.IsZero() && out.ApplicationDate.Before(c.cfg.MinApplicationDate) {
		return nil, fmt.Errorf("%w: shifted application date %s predates corpus minimum %s",
			domain.ErrValidation,
			out.ApplicationDate.Format("2006-01-02"),
			c.cfg.MinApplicationDate.Format("2006-01-02"))
	}

	matured := !out.MaturityDate().After(c.now)
	if !matured || out.Outcome != domain.OutcomeInProgress {
		return &Result{Record: out}, nil
	}

	if !c.hasSignal(out) {
		return &Result{Record: out, Excluded: true}, nil
	}

	outcome, err := c.reclassify(out)
	if err != nil {
		return nil, err
	}
	out.Outcome = outcome
	return &Result{Record: out, Reclassified: true}, nil
}

// hasSignal reports whether the record carries anything the heuristic may
// reliably reclassify from: a confirmed fraud flag or an observed
// delinquency field.
func (c *Corrector) hasSignal(rec *domain.LoanRecord) bool {
	return rec.FraudFlag || rec.TimeToDefaultMonths != nil || rec.MissedPayments != nil
}

// reclassify evaluates the CEL heuristic. Fraud is never a legal result:
// fraud labels are carried through from the source, not derived.
func (c *Corrector) reclassify(rec *domain.LoanRecord) (domain.Outcome, error) {
	var ttd, missed int64
	if rec.TimeToDefaultMonths != nil {
		ttd = int64(*rec.TimeToDefaultMonths)
	}
	if rec.MissedPayments != nil {
		missed = int64(*rec.MissedPayments)
	}

	activation := map[string]any{
		"fraud_flag":             rec.FraudFlag,
		"has_time_to_default":    rec.TimeToDefaultMonths != nil,
		"time_to_default_months": ttd,
		"has_missed_payments":    rec.MissedPayments != nil,
		"missed_payments":        missed,
		"credit_score":           int64(rec.CreditScore),
		"debt_to_income_ratio":   rec.DebtToIncomeRatio,
	}

	val, _, err := c.program.Eval(activation)
	if err != nil {
		return "", fmt.Errorf("reclassify expression failed: %w", err)
	}

	str, ok := val.(types.String)
	if !ok {
		return "", fmt.Errorf("reclassify expression must yield a string, got %v", val.Type())
	}

	outcome := domain.Outcome(str)
	switch outcome {
	case domain.OutcomeRepaid, domain.OutcomeDefaulted, domain.OutcomeInProgress:
		return outcome, nil
	case domain.OutcomeFraud:
		return "", fmt.Errorf("reclassify expression yielded Fraud: fraud outcomes are carried, never derived")
	default:
		return "", fmt.Errorf("reclassify expression yielded unknown outcome %q", str)
	}
}

// ReferenceNow returns the corpus reference time.
func (c *Corrector) ReferenceNow() time.Time {
	return c.now
}
