package parser

import (
	"fmt"
	"regexp"
	"strings"
)

// ValidationWarning represents a non-critical issue with the input text.
type ValidationWarning struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationResult is the structural assessment of pasted billing text.
// Warnings never block a session; they are surfaced next to the results so a
// reviewer can judge whether the paste was actually a billing email.
type ValidationResult struct {
	Valid    bool                `json:"valid"`
	Warnings []ValidationWarning `json:"warnings"`
}

var currencyTokenRe = regexp.MustCompile(`\$\s*\d+(?:,\d{3})*(?:\.\d{2})?`)

var billingKeywords = []string{
	"invoice", "bill", "charge", "cost", "price", "total", "amount",
	"materials", "labor", "work", "repair", "service", "unit",
}

// ValidateStructure checks that sanitized text looks like billing content.
func ValidateStructure(text string) ValidationResult {
	result := ValidationResult{Valid: true}
	warn := func(code, format string, args ...interface{}) {
		result.Warnings = append(result.Warnings, ValidationWarning{
			Code:    code,
			Message: fmt.Sprintf(format, args...),
		})
	}

	if !currencyTokenRe.MatchString(text) {
		warn("NO_CURRENCY", "no currency amounts detected - this may not be billing text")
	}

	lower := strings.ToLower(text)
	keywordCount := 0
	for _, kw := range billingKeywords {
		if strings.Contains(lower, kw) {
			keywordCount++
		}
	}
	if keywordCount < 2 {
		warn("FEW_KEYWORDS", "few billing-related keywords detected (%d)", keywordCount)
	}

	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) < 3 {
		warn("FEW_LINES", "text has only %d lines - typical billing emails have multiple line items", len(lines))
	}
	for _, line := range lines {
		if len(line) > 200 {
			warn("LONG_LINE", "line over 200 characters - possible formatting issue")
			break
		}
	}

	return result
}
