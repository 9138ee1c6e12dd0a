package extractor

import (
	"regexp"
	"strconv"
	"strings"
)

// Separators between a number and its keyword are spaces or tabs only, so
// no pattern matches across a line break.
const gap = `[ \t]*`

var (
	bareLoanNumberPattern       = regexp.MustCompile(`\b\d{7,10}\b`)
	introducedLoanNumberPattern = regexp.MustCompile(`(?i)\b(?:loan|number)` + gap + `(?:#|no\.?)?` + gap + `(\d{7,10})\b`)
)

const groupedAmount = `(\d{1,3}(?:,\d{3}){1,2}|\d{6,7})`

var (
	loanAmountPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\$?\b` + groupedAmount + `\b` + gap + `(?:loan|mortgage|principal|balance|amount)`),
		regexp.MustCompile(`(?i)\b(?:loan|mortgage|principal|balance)(?:[ \t]+amount)?[ \t]+(?:(?:is|of|was|for|at)[ \t]+)?\$?` + groupedAmount + `\b`),
	}
	paymentPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\$?\b(\d{1,2},\d{3}|\d{3,5})(?:\.\d{2})?\b` + gap + `(?:payment|monthly|month|due)`),
		regexp.MustCompile(`(?i)\b(?:monthly[ \t]+)?payment[ \t]+(?:(?:is|of|was|will[ \t]+be)[ \t]+)?\$?(\d{1,2},\d{3}|\d{3,5})\b`),
	}
	ratePattern         = regexp.MustCompile(`(?i)\b(\d{1,2}(?:\.\d+)?)` + gap + `(?:%|(?:percent|percentage|rate|apr)\b)`)
	creditScorePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b([3-8]\d{2})\b` + gap + `(?:credit|fico|score)`),
		regexp.MustCompile(`(?i)\b(?:credit[ \t]+score|fico(?:[ \t]+score)?)[ \t]+(?:(?:is|of|was)[ \t]+)?([3-8]\d{2})\b`),
	}
	ltvPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(\d{2,3})` + gap + `(?:%|percent)?` + gap + `LTV\b`),
		regexp.MustCompile(`(?i)\bLTV` + gap + `(?:(?:of|is)` + gap + `)?(\d{2,3})\b`),
	}
	dtiPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bDTI` + gap + `(?:(?:of|is)` + gap + `)?(\d{2,3})\b`),
		regexp.MustCompile(`(?i)\b(\d{2,3})` + gap + `(?:%|percent)?` + gap + `DTI\b`),
	}
	incomePattern = regexp.MustCompile(`(?i)\$?\b(\d{1,3},\d{3}|\d{4,6})\b` + gap + `(?:income|salary|earn|make)`)
	datePatterns  = []*regexp.Regexp{
		regexp.MustCompile(`\b(\d{1,2}/\d{1,2}/(?:\d{4}|\d{2}))\b`),
		regexp.MustCompile(`(?i)\b((?:jan(?:uary)?|feb(?:ruary)?|mar(?:ch)?|apr(?:il)?|may|june?|july?|aug(?:ust)?|sept?(?:ember)?|oct(?:ober)?|nov(?:ember)?|dec(?:ember)?)\.?[ \t]+\d{1,2},[ \t]*\d{4})\b`),
		regexp.MustCompile(`\b(\d{1,2}-\d{1,2}-(?:\d{4}|\d{2}))\b`),
	}
)

// ExtractLoanNumbers returns every 7 to 10 digit run in text, including runs
// introduced by "loan" or "number". The result is sorted and deduplicated.
func ExtractLoanNumbers(text string) []string {
	var found []string
	found = append(found, bareLoanNumberPattern.FindAllString(text, -1)...)
	found = append(found, submatches(introducedLoanNumberPattern, text)...)
	return sortedUnique(found)
}

// ExtractFinancialFacts runs the full pattern battery over text. It never
// fails; text without matches yields an empty FactSet.
func ExtractFinancialFacts(text string) FactSet {
	facts := FactSet{
		LoanNumbers: ExtractLoanNumbers(text),
		Terms:       ExtractLoanTerms(text),
	}

	for _, p := range loanAmountPatterns {
		for _, m := range submatches(p, text) {
			if n, ok := parseAmount(m, 6, 7); ok {
				facts.LoanAmounts = append(facts.LoanAmounts, n)
			}
		}
	}
	for _, p := range paymentPatterns {
		for _, m := range submatches(p, text) {
			if n, ok := parseAmount(m, 3, 5); ok {
				facts.PaymentAmounts = append(facts.PaymentAmounts, n)
			}
		}
	}
	for _, m := range submatches(ratePattern, text) {
		facts.Rates = append(facts.Rates, m+"%")
	}
	for _, p := range creditScorePatterns {
		for _, m := range submatches(p, text) {
			if n, err := strconv.Atoi(m); err == nil && n >= 300 && n <= 850 {
				facts.CreditScores = append(facts.CreditScores, n)
			}
		}
	}
	for _, p := range ltvPatterns {
		facts.LTVRatios = append(facts.LTVRatios, atoiAll(submatches(p, text))...)
	}
	for _, p := range dtiPatterns {
		facts.DTIRatios = append(facts.DTIRatios, atoiAll(submatches(p, text))...)
	}
	for _, m := range submatches(incomePattern, text) {
		if n, ok := parseAmount(m, 4, 6); ok {
			facts.Incomes = append(facts.Incomes, n)
		}
	}
	for _, p := range datePatterns {
		facts.Dates = append(facts.Dates, submatches(p, text)...)
	}

	return facts.normalized()
}

type termRule struct {
	pattern *regexp.Regexp
	value   string
}

var (
	loanTypeRules = []termRule{
		{regexp.MustCompile(`(?i)\bFHA\b`), "FHA"},
		{regexp.MustCompile(`(?i)\bVA\b`), "VA"},
		{regexp.MustCompile(`(?i)\bconventional\b`), "Conventional"},
		{regexp.MustCompile(`(?i)\bjumbo\b`), "Jumbo"},
	}
	propertyTypeRules = []termRule{
		{regexp.MustCompile(`(?i)\bsingle[ \t-]*family`), "Single Family"},
		{regexp.MustCompile(`(?i)\bcondo`), "Condo"},
		{regexp.MustCompile(`(?i)\bmulti[ \t-]*family`), "Multi-family"},
	}
	purposeRules = []termRule{
		{regexp.MustCompile(`(?i)\brefi(?:nance)?`), "Refinance"},
		{regexp.MustCompile(`(?i)\bpurchase`), "Purchase"},
		{regexp.MustCompile(`(?i)\bcash[ \t-]*out`), "Cash-out Refinance"},
	}
	termLengthPattern = regexp.MustCompile(`(?i)\b(\d{2})[ \t-]*years?\b`)
)

// ExtractLoanTerms classifies loan type, term, property type and purpose.
// Each field takes the first rule that matches in priority order.
func ExtractLoanTerms(text string) LoanTerms {
	terms := LoanTerms{
		LoanType:     firstRule(loanTypeRules, text),
		PropertyType: firstRule(propertyTypeRules, text),
		Purpose:      firstRule(purposeRules, text),
	}
	if m := termLengthPattern.FindStringSubmatch(text); m != nil {
		terms.TermLength = m[1] + " year"
	}
	return terms
}

func firstRule(rules []termRule, text string) string {
	for _, r := range rules {
		if r.pattern.MatchString(text) {
			return r.value
		}
	}
	return ""
}

func submatches(p *regexp.Regexp, text string) []string {
	var out []string
	for _, m := range p.FindAllStringSubmatch(text, -1) {
		if len(m) > 1 && m[1] != "" {
			out = append(out, m[1])
		}
	}
	return out
}

// parseAmount strips grouping commas and checks the digit count.
func parseAmount(s string, minDigits, maxDigits int) (int64, bool) {
	digits := strings.ReplaceAll(s, ",", "")
	if len(digits) < minDigits || len(digits) > maxDigits {
		return 0, false
	}
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func atoiAll(in []string) []int {
	out := make([]int, 0, len(in))
	for _, s := range in {
		if n, err := strconv.Atoi(s); err == nil {
			out = append(out, n)
		}
	}
	return out
}
