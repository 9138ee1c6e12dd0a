// Package extractor pulls loan numbers and financial facts out of call
// transcripts. Everything here is pure: no I/O and no shared mutable state,
// so the functions are safe to call from any goroutine.
package extractor

import (
	"cmp"
	"encoding/json"
	"slices"
)

// LoanTerms holds the first-match-wins loan classification fields.
// An empty field means no keyword was found.
type LoanTerms struct {
	LoanType     string `json:"loan_type,omitempty"`     // FHA, VA, Conventional, Jumbo
	TermLength   string `json:"term_length,omitempty"`   // "30 year"
	PropertyType string `json:"property_type,omitempty"` // Single Family, Condo, Multi-family
	Purpose      string `json:"purpose,omitempty"`       // Refinance, Purchase, Cash-out Refinance
}

// FactSet is everything extracted from one transcript. Collections are
// sorted and duplicate free.
type FactSet struct {
	LoanNumbers    []string  `json:"loan_numbers"`
	LoanAmounts    []int64   `json:"loan_amounts"`
	PaymentAmounts []int64   `json:"payment_amounts"`
	Rates          []string  `json:"rates"`
	CreditScores   []int     `json:"credit_scores"`
	LTVRatios      []int     `json:"ltv_ratios"`
	DTIRatios      []int     `json:"dti_ratios"`
	Incomes        []int64   `json:"incomes"`
	Dates          []string  `json:"dates"`
	Terms          LoanTerms `json:"terms"`
}

// Empty reports whether nothing at all was extracted.
func (f FactSet) Empty() bool {
	return len(f.LoanNumbers) == 0 && len(f.LoanAmounts) == 0 && len(f.PaymentAmounts) == 0 &&
		len(f.Rates) == 0 && len(f.CreditScores) == 0 && len(f.LTVRatios) == 0 &&
		len(f.DTIRatios) == 0 && len(f.Incomes) == 0 && len(f.Dates) == 0 &&
		f.Terms == LoanTerms{}
}

// JSON returns the key_facts column form of the set.
func (f FactSet) JSON() string {
	b, err := json.Marshal(f.normalized())
	if err != nil {
		return "{}"
	}
	return string(b)
}

// Merge unions several fact sets. Loan terms keep the first non-empty value
// per field in argument order.
func Merge(sets ...FactSet) FactSet {
	var out FactSet
	for _, s := range sets {
		out.LoanNumbers = append(out.LoanNumbers, s.LoanNumbers...)
		out.LoanAmounts = append(out.LoanAmounts, s.LoanAmounts...)
		out.PaymentAmounts = append(out.PaymentAmounts, s.PaymentAmounts...)
		out.Rates = append(out.Rates, s.Rates...)
		out.CreditScores = append(out.CreditScores, s.CreditScores...)
		out.LTVRatios = append(out.LTVRatios, s.LTVRatios...)
		out.DTIRatios = append(out.DTIRatios, s.DTIRatios...)
		out.Incomes = append(out.Incomes, s.Incomes...)
		out.Dates = append(out.Dates, s.Dates...)
		out.Terms = mergeTerms(out.Terms, s.Terms)
	}
	return out.normalized()
}

func mergeTerms(a, b LoanTerms) LoanTerms {
	if a.LoanType == "" {
		a.LoanType = b.LoanType
	}
	if a.TermLength == "" {
		a.TermLength = b.TermLength
	}
	if a.PropertyType == "" {
		a.PropertyType = b.PropertyType
	}
	if a.Purpose == "" {
		a.Purpose = b.Purpose
	}
	return a
}

func (f FactSet) normalized() FactSet {
	f.LoanNumbers = sortedUnique(f.LoanNumbers)
	f.LoanAmounts = sortedUnique(f.LoanAmounts)
	f.PaymentAmounts = sortedUnique(f.PaymentAmounts)
	f.Rates = sortedUnique(f.Rates)
	f.CreditScores = sortedUnique(f.CreditScores)
	f.LTVRatios = sortedUnique(f.LTVRatios)
	f.DTIRatios = sortedUnique(f.DTIRatios)
	f.Incomes = sortedUnique(f.Incomes)
	f.Dates = sortedUnique(f.Dates)
	return f
}

// sortedUnique never returns nil so JSON output carries [] rather than null.
func sortedUnique[T cmp.Ordered](in []T) []T {
	out := make([]T, len(in))
	copy(out, in)
	slices.Sort(out)
	return slices.Compact(out)
}
