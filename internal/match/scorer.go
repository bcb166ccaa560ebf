package match

import (
	"strings"

	"github.com/asmith81/MJM-Special-WOs/internal/models"
)

// Score runs every signal extractor for one (item, work order) pair and
// blends the results into a single bounded score.
//
// Blending rules:
//   - structural signals (unit, address, building name) are mutually
//     exclusive; only the highest one counts,
//   - the amount, job-type, and location extractors each already return their
//     single best tier,
//   - the sum is clamped to [0, 100].
//
// The function is pure and order-independent: evidence is always assembled in
// the fixed precedence order structural, amount, job type, location, so
// re-running with the same inputs yields byte-identical evidence.
func Score(item models.ParsedLineItem, wo models.WorkOrder) models.MatchCandidate {
	cand := models.MatchCandidate{
		Item:      item,
		WorkOrder: wo,
		Source:    models.SourceDeterministic,
	}

	var structural *models.SignalScore
	for _, extract := range structuralExtractors {
		s := extract(item, wo)
		if s != nil && (structural == nil || s.Points > structural.Points) {
			structural = s
		}
	}
	if structural != nil {
		cand.Signals = append(cand.Signals, *structural)
	}
	if s := AmountSignal(item, wo); s != nil {
		cand.Signals = append(cand.Signals, *s)
	}
	if s := JobTypeSignal(item, wo); s != nil {
		cand.Signals = append(cand.Signals, *s)
	}
	if s := LocationSignal(item, wo); s != nil {
		cand.Signals = append(cand.Signals, *s)
	}

	total := 0
	for _, s := range cand.Signals {
		total += s.Points
	}
	if total > 100 {
		total = 100
	}
	if total < 0 {
		total = 0
	}
	cand.BlendedScore = total
	return cand
}

// Evidence renders a candidate's signal evidence in precedence order as one
// human-readable string.
func Evidence(cand models.MatchCandidate) string {
	if len(cand.Signals) == 0 {
		return "no matching signals"
	}
	parts := make([]string, 0, len(cand.Signals))
	for _, s := range cand.Signals {
		parts = append(parts, s.Evidence)
	}
	return strings.Join(parts, "; ")
}
