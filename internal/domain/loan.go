// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"fmt"
	"time"
)

// Outcome is the observed terminal (or interim) state of a historical loan.
type Outcome string

const (
	OutcomeRepaid     Outcome = "Repaid"
	OutcomeDefaulted  Outcome = "Defaulted"
	OutcomeInProgress Outcome = "InProgress"
	OutcomeFraud      Outcome = "Fraud"
)

// Outcomes lists every label in a fixed order, used wherever a stable
// iteration over the outcome space is needed (distributions, reports).
var Outcomes = []Outcome{OutcomeRepaid, OutcomeDefaulted, OutcomeInProgress, OutcomeFraud}

// Valid reports whether o is a known outcome label.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeRepaid, OutcomeDefaulted, OutcomeInProgress, OutcomeFraud:
		return true
	}
	return false
}

// LoanRecord is one loan application. Historical records carry an ID and a
// non-empty Outcome; query records carry neither.
//
// Sensitive identifiers (applicant names, account numbers) are stripped at
// the schema boundary and never appear on this type.
type LoanRecord struct {
	ID       string `json:"id,omitempty"`
	TenantID string `json:"tenantId,omitempty"`

	// Numeric attributes
	MonthlyIncome     float64 `json:"monthlyIncome"`
	ExistingEMIs      float64 `json:"existingEmisMonthly"`
	DebtToIncomeRatio float64 `json:"debtToIncomeRatio"`
	LoanAmount        float64 `json:"loanAmountRequested"`
	TenureMonths      int     `json:"loanTenureMonths"`
	InterestRate      float64 `json:"interestRateOffered"`
	CreditScore       int     `json:"creditScore"`
	ApplicantAge      int     `json:"applicantAge"`
	Dependents        int     `json:"numberOfDependents"`

	// Categorical attributes (closed vocabularies fixed at encoder fit time)
	EmploymentStatus  string `json:"employmentStatus"`
	PropertyOwnership string `json:"propertyOwnership"`
	LoanType          string `json:"loanType"`
	Purpose           string `json:"purposeOfLoan"`

	ApplicationDate time.Time `json:"applicationDate"`

	// Historical-only fields
	Outcome   Outcome `json:"outcome,omitempty"`
	FraudFlag bool    `json:"fraudFlag"`
	FraudType string  `json:"fraudType,omitempty"`

	// Delinquency signals, present only when observed. Used by the
	// temporal corrector to re-derive outcomes for matured loans.
	TimeToDefaultMonths *int `json:"timeToDefaultMonths,omitempty"`
	MissedPayments      *int `json:"missedPayments,omitempty"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
}

// Numeric field names in encoding order. The order is part of the encoder
// contract: changing it changes every vector.
var NumericFields = []string{
	"monthly_income",
	"existing_emis_monthly",
	"debt_to_income_ratio",
	"loan_amount_requested",
	"loan_tenure_months",
	"interest_rate_offered",
	"credit_score",
	"applicant_age",
	"number_of_dependents",
}

// Categorical field names in encoding order.
var CategoricalFields = []string{
	"employment_status",
	"property_ownership",
	"loan_type",
	"purpose_of_loan",
}

// NumericValues returns the numeric attributes in NumericFields order.
func (r *LoanRecord) NumericValues() []float64 {
	return []float64{
		r.MonthlyIncome,
		r.ExistingEMIs,
		r.DebtToIncomeRatio,
		r.LoanAmount,
		float64(r.TenureMonths),
		r.InterestRate,
		float64(r.CreditScore),
		float64(r.ApplicantAge),
		float64(r.Dependents),
	}
}

// CategoricalValues returns the categorical attributes in CategoricalFields order.
func (r *LoanRecord) CategoricalValues() []string {
	return []string{
		r.EmploymentStatus,
		r.PropertyOwnership,
		r.LoanType,
		r.Purpose,
	}
}

// MaturityDate is the date the loan term elapses.
func (r *LoanRecord) MaturityDate() time.Time {
	return r.ApplicationDate.AddDate(0, r.TenureMonths, 0)
}

// Validate rejects malformed or out-of-domain records before encoding.
// Values are never clamped; a bad record is an error, not a guess.
func (r *LoanRecord) Validate() error {
	switch {
	case r.MonthlyIncome < 0:
		return fmt.Errorf("%w: monthly income must be non-negative, got %.2f", ErrValidation, r.MonthlyIncome)
	case r.ExistingEMIs < 0:
		return fmt.Errorf("%w: existing EMIs must be non-negative, got %.2f", ErrValidation, r.ExistingEMIs)
	case r.DebtToIncomeRatio < 0:
		return fmt.Errorf("%w: debt-to-income ratio must be non-negative, got %.2f", ErrValidation, r.DebtToIncomeRatio)
	case r.LoanAmount < 0:
		return fmt.Errorf("%w: loan amount must be non-negative, got %.2f", ErrValidation, r.LoanAmount)
	case r.TenureMonths <= 0:
		return fmt.Errorf("%w: tenure must be positive, got %d", ErrValidation, r.TenureMonths)
	case r.InterestRate < 0:
		return fmt.Errorf("%w: interest rate must be non-negative, got %.2f", ErrValidation, r.InterestRate)
	case r.CreditScore < 0:
		return fmt.Errorf("%w: credit score must be non-negative, got %d", ErrValidation, r.CreditScore)
	case r.ApplicantAge < 18 || r.ApplicantAge > 100:
		return fmt.Errorf("%w: applicant age must be in [18,100], got %d", ErrValidation, r.ApplicantAge)
	case r.Dependents < 0:
		return fmt.Errorf("%w: dependents must be non-negative, got %d", ErrValidation, r.Dependents)
	case r.ApplicationDate.IsZero():
		return fmt.Errorf("%w: application date is required", ErrValidation)
	}
	if r.Outcome != "" && !r.Outcome.Valid() {
		return fmt.Errorf("%w: unknown outcome %q", ErrValidation, r.Outcome)
	}
	return nil
}

// ValidateHistorical adds the historical-record invariants on top of Validate:
// an ID and a non-empty outcome.
func (r *LoanRecord) ValidateHistorical() error {
	if err := r.Validate(); err != nil {
		return err
	}
	if r.ID == "" {
		return fmt.Errorf("%w: historical record requires an id", ErrValidation)
	}
	if r.Outcome == "" {
		return fmt.Errorf("%w: historical record requires an outcome", ErrValidation)
	}
	return nil
}

// ValidateQuery adds the query-record invariants: no ID, no outcome.
func (r *LoanRecord) ValidateQuery() error {
	if err := r.Validate(); err != nil {
		return err
	}
	if r.ID != "" {
		return fmt.Errorf("%w: query record must not carry an id", ErrValidation)
	}
	if r.Outcome != "" {
		return fmt.Errorf("%w: query record must not carry an outcome", ErrValidation)
	}
	return nil
}

// Clone returns a deep copy. The corrector rewrites records and must never
// mutate the caller's copy.
func (r *LoanRecord) Clone() *LoanRecord {
	out := *r
	if r.TimeToDefaultMonths != nil {
		v := *r.TimeToDefaultMonths
		out.TimeToDefaultMonths = &v
	}
	if r.MissedPayments != nil {
		v := *r.MissedPayments
		out.MissedPayments = &v
	}
	return &out
}
