package parser

import (
	"errors"
	"fmt"
	"html"
	"regexp"
	"strings"
)

const (
	// MaxTextLength bounds input so a single paste cannot blow the reasoner's
	// token budget.
	MaxTextLength = 10000

	// MinTextLength is the smallest input that can plausibly hold a line item.
	MinTextLength = 20
)

// ErrParse wraps all input rejection causes so callers can classify them with
// errors.Is without inspecting message text.
var ErrParse = errors.New("parse error")

var suspiciousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`),
	regexp.MustCompile(`(?i)javascript:`),
	regexp.MustCompile(`(?i)data:.*base64`),
	regexp.MustCompile(`(?is)<iframe[^>]*>.*?</iframe>`),
}

var (
	htmlTagRe    = regexp.MustCompile(`<[^>]+>`)
	htmlEntityRe = regexp.MustCompile(`&[a-zA-Z0-9#]+;`)
	multiSpaceRe = regexp.MustCompile(`[ \t]{2,}`)
	multiNewline = regexp.MustCompile(`\n{3,}`)
)

// Sanitize normalizes pasted email text and rejects input that is empty, out
// of bounds, or carries markup that has no business in a billing email.
func Sanitize(text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: input text is empty", ErrParse)
	}
	if len(text) > MaxTextLength {
		return "", fmt.Errorf("%w: text too long (%d chars, max %d)", ErrParse, len(text), MaxTextLength)
	}
	if len(text) < MinTextLength {
		return "", fmt.Errorf("%w: text too short (%d chars, min %d)", ErrParse, len(text), MinTextLength)
	}

	for _, p := range suspiciousPatterns {
		if p.MatchString(text) {
			return "", fmt.Errorf("%w: suspicious markup detected", ErrParse)
		}
	}

	// Normalize line endings before any line-oriented cleanup.
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	text = html.UnescapeString(text)
	text = htmlTagRe.ReplaceAllString(text, "")
	text = htmlEntityRe.ReplaceAllString(text, "")

	text = multiSpaceRe.ReplaceAllString(text, " ")
	text = multiNewline.ReplaceAllString(text, "\n\n")

	text = strings.TrimSpace(text)
	if len(text) < MinTextLength {
		return "", fmt.Errorf("%w: text became too short after sanitization", ErrParse)
	}
	return text, nil
}
