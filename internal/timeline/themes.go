package timeline

import "regexp"

var themePatterns = map[string]*regexp.Regexp{
	"payment":       regexp.MustCompile(`(?i)\b(?:payment|pay|paid|paying|installment)\b`),
	"deferral":      regexp.MustCompile(`(?i)\b(?:defer|deferral|postpone|delay)\b`),
	"hardship":      regexp.MustCompile(`(?i)\b(?:hardship|difficult|struggle|unable)\b`),
	"documentation": regexp.MustCompile(`(?i)\b(?:document|paperwork|form|submit)\b`),
	"approval":      regexp.MustCompile(`(?i)\b(?:approve|approved|approval|accept)\b`),
	"modification":  regexp.MustCompile(`(?i)\b(?:modify|modification|change|adjust)\b`),
	"employment":    regexp.MustCompile(`(?i)\b(?:job|employment|work|income)\b`),
	"covid":         regexp.MustCompile(`(?i)\b(?:covid|pandemic|coronavirus)\b`),
}

// CountThemes counts whole-word theme keywords in text. Themes with no hits
// are left out.
func CountThemes(text string) map[string]int {
	counts := make(map[string]int)
	for theme, re := range themePatterns {
		if n := len(re.FindAllStringIndex(text, -1)); n > 0 {
			counts[theme] = n
		}
	}
	return counts
}
