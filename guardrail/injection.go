package guardrail

import (
	"regexp"
	"strings"
)

// Fixed local rules for instruction-override attempts. Stage three never
// calls out and never blocks on its own failure.
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bignore\s+(all\s+|any\s+)?(previous|prior|above|earlier)\s+(instructions|prompts|rules|directions)`),
	regexp.MustCompile(`(?i)\bdisregard\s+(all\s+|any\s+)?(previous|prior|above|earlier)\s+(instructions|prompts|rules|directions)`),
	regexp.MustCompile(`(?i)\bforget\s+(all\s+|any\s+)?(previous|prior|your)\s+(instructions|prompts|rules|directions)`),
	regexp.MustCompile(`(?i)\bpretend\s+(that\s+)?you\s+are\s+a\b`),
	regexp.MustCompile(`(?i)\byou\s+are\s+now\s+a\b`),
	regexp.MustCompile(`(?i)\bact\s+as\s+if\s+you\s+(are|were)\b`),
	regexp.MustCompile(`(?i)\breveal\s+(your\s+)?(system\s+)?prompt\b`),
	regexp.MustCompile(`(?i)\bnew\s+instructions\s*:`),
	regexp.MustCompile(`(?i)\[\s*system\s*\]`),
	regexp.MustCompile(`(?i)<\s*system\s*>`),
}

// matchInjection returns the source of the first matched rule, or "".
func matchInjection(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	for _, pattern := range injectionPatterns {
		if pattern.MatchString(text) {
			return pattern.String()
		}
	}
	return ""
}
