// Package reasoner adapts an external LLM reasoning service as an advisory
// matcher. Its proposals are suggestions only: every entry is validated
// field-by-field on the way in, and the reconciliation engine checks any
// surviving confidence against the deterministic baseline before use.
package reasoner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/asmith81/MJM-Special-WOs/internal/models"
)

// ErrUnavailable wraps every transport-level failure so the session can
// detect it and degrade to deterministic-only scoring.
var ErrUnavailable = errors.New("reasoner unavailable")

// Provider is one LLM backend capable of completing a matching prompt.
type Provider interface {
	Complete(ctx context.Context, prompt string) (string, error)
	Name() string
}

// Client sends a matching request to a provider and parses its proposals.
type Client struct {
	provider      Provider
	maxCandidates int
	log           *slog.Logger
}

// NewClient creates a reasoner client. maxCandidates caps how many work
// orders are included in one prompt; logger may be nil.
func NewClient(provider Provider, maxCandidates int, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if maxCandidates <= 0 {
		maxCandidates = 100
	}
	return &Client{provider: provider, maxCandidates: maxCandidates, log: logger}
}

// Propose sends the full item and candidate sets in one request and returns
// the validated proposals. Transport failures return ErrUnavailable; a
// malformed individual entry is dropped, never fatal to the batch.
func (c *Client) Propose(ctx context.Context, items []models.ParsedLineItem, candidates []models.WorkOrder) ([]models.ReasonerProposal, error) {
	rid := uuid.New().String()
	start := time.Now()

	prompt := buildMatchingPrompt(items, candidates, c.maxCandidates)
	c.log.Info("reasoner.propose.start",
		"req_id", rid,
		"provider", c.provider.Name(),
		"items", len(items),
		"candidates", len(candidates),
		"prompt_len", len(prompt),
	)

	raw, err := c.provider.Complete(ctx, prompt)
	if err != nil {
		c.log.Error("reasoner.propose.transport_error",
			"req_id", rid, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	proposals, dropped, err := parseProposals(raw, len(items))
	if err != nil {
		c.log.Error("reasoner.propose.parse_error",
			"req_id", rid, "error", err, "raw_len", len(raw),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	c.log.Info("reasoner.propose.done",
		"req_id", rid,
		"proposals", len(proposals),
		"dropped", dropped,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return proposals, nil
}

// parseProposals extracts the JSON object from a possibly fenced response and
// validates each proposed match. Entries failing validation are counted and
// dropped, not trusted.
func parseProposals(response string, itemCount int) ([]models.ReasonerProposal, int, error) {
	cleaned := stripFences(response)
	startIdx := strings.Index(cleaned, "{")
	endIdx := strings.LastIndex(cleaned, "}")
	if startIdx == -1 || endIdx <= startIdx {
		return nil, 0, fmt.Errorf("no JSON object in response")
	}
	cleaned = cleaned[startIdx : endIdx+1]

	// The response is duck-typed JSON from a generative service; every field
	// is parsed leniently and checked before use.
	var raw struct {
		Matches []struct {
			LineItemIndex interface{} `json:"lineItemIndex"`
			CandidateID   string      `json:"candidateId"`
			Confidence    interface{} `json:"confidence"`
			Evidence      string      `json:"evidence"`
		} `json:"matches"`
	}
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		return nil, 0, fmt.Errorf("JSON parse error: %w", err)
	}

	var proposals []models.ReasonerProposal
	dropped := 0
	for _, m := range raw.Matches {
		idx, ok := parseInt(m.LineItemIndex)
		if !ok || idx < 0 || idx >= itemCount {
			dropped++
			continue
		}
		conf, ok := parseInt(m.Confidence)
		if !ok || conf < 0 || conf > 100 {
			dropped++
			continue
		}
		id := strings.TrimSpace(strings.TrimPrefix(m.CandidateID, "WO#"))
		if id == "" {
			dropped++
			continue
		}
		proposals = append(proposals, models.ReasonerProposal{
			LineIndex:   idx,
			WorkOrderID: id,
			Confidence:  conf,
			Evidence:    strings.TrimSpace(m.Evidence),
		})
	}
	return proposals, dropped, nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	backticks := "```"
	s = strings.ReplaceAll(s, backticks+"json", "")
	s = strings.ReplaceAll(s, backticks, "")
	return strings.TrimSpace(s)
}

// parseInt handles flexible number parsing from interface{}: JSON numbers,
// strings, or quoted numbers.
func parseInt(v interface{}) (int, bool) {
	switch val := v.(type) {
	case float64:
		return int(val), true
	case int:
		return val, true
	case json.Number:
		i, err := val.Int64()
		if err != nil {
			return 0, false
		}
		return int(i), true
	case string:
		trimmed := strings.TrimSuffix(strings.TrimSpace(val), "%")
		var i int
		if _, err := fmt.Sscanf(trimmed, "%d", &i); err != nil {
			return 0, false
		}
		return i, true
	default:
		return 0, false
	}
}
