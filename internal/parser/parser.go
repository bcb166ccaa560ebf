// Package parser turns raw pasted billing text into an ordered sequence of
// structured line items. Parsing is deterministic and pure: the same text
// always yields the same items in the same order.
package parser

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/asmith81/MJM-Special-WOs/internal/models"
)

// Output carries the parsed items plus structural warnings. The expected
// count hint is informational: a mismatch produces a warning, never an error.
type Output struct {
	Items      []models.ParsedLineItem `json:"items"`
	Validation ValidationResult        `json:"validation"`
}

var (
	amountRe = regexp.MustCompile(`\$\s*(\d+(?:,\d{3})*(?:\.\d{1,2})?)`)
	unitRe   = regexp.MustCompile(`(?i)\b(?:unit|apt|apartment|suite|ste)\s*#?\s*(\d+[A-Za-z]?)\b|#\s*(\d{2,})\b`)
	sepTrim  = " \t:-–—.,;"
)

var totalKeywords = []string{"grand total", "subtotal", "sub-total", "amount due", "total due", "total:"}

// Parse sanitizes raw text and extracts billing line items. A segment that
// yields no amount is still emitted with a nil amount; dropping it silently
// is the failure mode this parser exists to avoid.
func Parse(raw string, expectedCount int) (Output, error) {
	text, err := Sanitize(raw)
	if err != nil {
		return Output{}, err
	}

	out := Output{Validation: ValidateStructure(text)}

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		segments := splitRunOn(line)
		for _, seg := range segments {
			item, ok := parseSegment(seg)
			if !ok {
				continue
			}
			// A trailing total line summarizes items already seen; keep it
			// only when it is the sole amount-bearing segment (run-on prose
			// with a single total).
			if isTotalLine(seg) && hasAmount(out.Items) {
				continue
			}
			item.LineIndex = len(out.Items)
			out.Items = append(out.Items, item)
		}
	}

	if len(out.Items) == 0 {
		return Output{}, fmt.Errorf("%w: no billing line items found", ErrParse)
	}
	if expectedCount > 0 && expectedCount != len(out.Items) {
		out.Validation.Warnings = append(out.Validation.Warnings, ValidationWarning{
			Code:    "COUNT_MISMATCH",
			Message: fmt.Sprintf("expected %d line items, parsed %d", expectedCount, len(out.Items)),
		})
	}
	return out, nil
}

// splitRunOn breaks a line holding several amounts into one segment per
// amount, so run-on prose like "drain repair $450 and painting $300" yields
// two items. A line with zero or one amount passes through unchanged.
func splitRunOn(line string) []string {
	locs := amountRe.FindAllStringIndex(line, -1)
	if len(locs) <= 1 {
		return []string{line}
	}
	var segs []string
	start := 0
	for _, loc := range locs {
		segs = append(segs, strings.TrimSpace(line[start:loc[1]]))
		start = loc[1]
	}
	if rest := strings.TrimSpace(line[start:]); rest != "" {
		// Trailing text without an amount belongs to the last segment.
		segs[len(segs)-1] += " " + rest
	}
	return segs
}

func parseSegment(seg string) (models.ParsedLineItem, bool) {
	item := models.ParsedLineItem{RawText: seg}

	if m := amountRe.FindStringSubmatch(seg); m != nil {
		amt := parseCurrency(m[1])
		item.Amount = &amt
	}

	if m := unitRe.FindStringSubmatch(seg); m != nil {
		if m[1] != "" {
			item.UnitID = strings.ToUpper(m[1])
		} else {
			item.UnitID = m[2]
		}
	}

	desc := amountRe.ReplaceAllString(seg, "")
	desc = unitRe.ReplaceAllString(desc, "")
	desc = strings.Trim(desc, sepTrim)
	item.Description = desc

	// Segments with neither an amount nor a meaningful description are
	// noise (salutations, sign-offs), not lost line items.
	if item.Amount == nil && (len(desc) < 10 || !strings.ContainsAny(desc, "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ")) {
		return models.ParsedLineItem{}, false
	}
	if item.Amount != nil && desc == "" && item.UnitID == "" {
		return models.ParsedLineItem{}, false
	}
	return item, true
}

func parseCurrency(s string) decimal.Decimal {
	cleaned := strings.ReplaceAll(s, ",", "")
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func isTotalLine(seg string) bool {
	lower := strings.ToLower(seg)
	for _, kw := range totalKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func hasAmount(items []models.ParsedLineItem) bool {
	for _, it := range items {
		if it.Amount != nil {
			return true
		}
	}
	return false
}
