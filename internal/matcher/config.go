// Package matcher provides the invoice to payment matching engine.
//
// A run flows through four stages:
//  1. Candidate generation: inbound transactions are indexed by amount in
//     cents and each invoice looks up the transactions inside a small cent
//     band, filtered by a due date window.
//  2. Scoring: every surviving pair gets an additive evidence score from
//     amount closeness, reference and counterparty similarity and date
//     proximity.
//  3. Solving: a maximum-weight bipartite matching picks the conflict-free
//     set of pairs with the largest total score.
//  4. Exception derivation: every invoice and transaction left out of the
//     matching becomes an exception for follow-up.
//
// Example usage:
//
//	params := matcher.DefaultParams()
//	params.DateWindowDays = 3
//
//	engine, err := matcher.NewEngine(params, nil)
//	if err != nil {
//		return err
//	}
//	result := engine.Run(invoices, transactions)
package matcher

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"reconcileflow/pkg/errors"
)

// Params controls candidate generation. The same parameters always produce
// the same candidates for the same input.
//
// Use the factory functions for common scenarios:
//   - DefaultParams(): the defaults of the reconciliation pipeline
//   - StrictParams(): fewer, stronger candidates
//   - RelaxedParams(): wider windows for exploratory runs
type Params struct {
	// AmountTolerance widens the amount band to this fraction of the invoice
	// amount when that is wider than AmountBandCents. Zero disables it.
	AmountTolerance float64 `json:"amount_tolerance" yaml:"amount_tolerance"`

	// AmountBandCents is the fixed half-width of the amount band, in cents.
	AmountBandCents int64 `json:"amount_band_cents" yaml:"amount_band_cents"`

	// DateWindowDays keeps transactions dated within due date ± this many days.
	DateWindowDays int `json:"date_window_days" yaml:"date_window_days"`

	// MinScoreToKeep drops candidate edges scoring below it.
	MinScoreToKeep float64 `json:"min_score_to_keep" yaml:"min_score_to_keep"`

	// MaxCandidatesPerInvoice caps the edges kept for one invoice.
	MaxCandidatesPerInvoice int `json:"max_candidates_per_invoice" yaml:"max_candidates_per_invoice"`

	// Workers bounds the goroutines generating candidates. Zero uses GOMAXPROCS.
	Workers int `json:"workers" yaml:"workers"`
}

// DefaultParams returns the defaults used by the reconciliation pipeline
func DefaultParams() *Params {
	return &Params{
		AmountTolerance:         0,
		AmountBandCents:         3,
		DateWindowDays:          5,
		MinScoreToKeep:          35,
		MaxCandidatesPerInvoice: 30,
	}
}

// StrictParams returns parameters for high-confidence runs
func StrictParams() *Params {
	return &Params{
		AmountTolerance:         0,
		AmountBandCents:         1,
		DateWindowDays:          2,
		MinScoreToKeep:          60,
		MaxCandidatesPerInvoice: 10,
	}
}

// RelaxedParams returns parameters for exploratory runs on noisy data
func RelaxedParams() *Params {
	return &Params{
		AmountTolerance:         0.01,
		AmountBandCents:         3,
		DateWindowDays:          10,
		MinScoreToKeep:          20,
		MaxCandidatesPerInvoice: 50,
	}
}

// ParamsForPreset returns the parameters registered under name
func ParamsForPreset(name string) (*Params, error) {
	switch name {
	case "", "default":
		return DefaultParams(), nil
	case "strict":
		return StrictParams(), nil
	case "relaxed":
		return RelaxedParams(), nil
	default:
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "preset", name, nil).
			WithSuggestion("use one of: default, strict, relaxed")
	}
}

// Validate checks the parameters before any computation starts
func (p *Params) Validate() error {
	if p.DateWindowDays < 0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "date_window_days", p.DateWindowDays, nil).
			WithSuggestion("the date window must be zero or positive")
	}

	if p.MaxCandidatesPerInvoice <= 0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "max_candidates_per_invoice", p.MaxCandidatesPerInvoice, nil).
			WithSuggestion("keep at least one candidate per invoice")
	}

	if math.IsNaN(p.MinScoreToKeep) || math.IsInf(p.MinScoreToKeep, 0) {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "min_score_to_keep", p.MinScoreToKeep, nil).
			WithSuggestion("the minimum score must be a finite number")
	}

	if math.IsNaN(p.AmountTolerance) || p.AmountTolerance < 0 || p.AmountTolerance >= 1 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "amount_tolerance", p.AmountTolerance, nil).
			WithSuggestion("the amount tolerance is a fraction between 0 and 1, e.g. 0.01 for 1%")
	}

	if p.AmountBandCents < 0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "amount_band_cents", p.AmountBandCents, nil).
			WithSuggestion("the amount band must be zero or positive")
	}

	if p.Workers < 0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "workers", p.Workers, nil).
			WithSuggestion("use 0 for one worker per CPU")
	}

	return nil
}

// Clone creates a copy of the parameters
func (p *Params) Clone() *Params {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}

// BandCents returns the half-width of the cent band searched for an invoice
// of the given amount.
func (p *Params) BandCents(amount decimal.Decimal) int64 {
	band := p.AmountBandCents
	if p.AmountTolerance > 0 {
		rel := amount.Abs().Mul(decimal.NewFromFloat(p.AmountTolerance)).Shift(2).Round(0).IntPart()
		if rel > band {
			band = rel
		}
	}
	return band
}

// String returns a human-readable description of the parameters
func (p *Params) String() string {
	return fmt.Sprintf("Params{MinScore: %.1f, DateWindow: %d days, MaxCandidates: %d, Band: ±%d cents, Tolerance: %.2f%%}",
		p.MinScoreToKeep, p.DateWindowDays, p.MaxCandidatesPerInvoice, p.AmountBandCents, p.AmountTolerance*100)
}

// Cents rounds an amount to cents and returns it as an integer number of cents.
func Cents(amount decimal.Decimal) int64 {
	return amount.Round(2).Shift(2).IntPart()
}
