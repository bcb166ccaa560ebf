package match

import (
	"fmt"
	"sort"

	"github.com/asmith81/MJM-Special-WOs/internal/models"
)

// Reconcile merges deterministic candidate rankings with advisory proposals
// and resolves cross-item conflicts, producing exactly one MatchResult per
// line item (in line-item order). The policy, applied in order:
//
//  1. A proposal whose claimed confidence exceeds the deterministic score by
//     more than the configured margin (or references a candidate with no
//     deterministic score at all) is downgraded to the deterministic score
//     with a discrepancy note. Within the margin the proposal may lift a
//     candidate's confidence; the deterministic score is authoritative on
//     disagreement.
//  2. When two items claim the same work order, the higher blended score
//     wins; the loser falls to its next-best candidate at or above the
//     rescore floor, or to unmatched.
//  3. When an item's top two available candidates are within the ambiguity
//     epsilon, the item is ambiguous regardless of absolute score.
//  4. Otherwise the item is matched when its score reaches the match
//     threshold, else unmatched.
//
// No two matched results in the output reference the same work order.
func Reconcile(items []models.ParsedLineItem, rankings [][]models.MatchCandidate, proposals []models.ReasonerProposal, cfg models.MatchingConfig) []models.MatchResult {
	states := make([]*itemState, len(items))
	for i := range items {
		ranking := append([]models.MatchCandidate(nil), rankings[i]...)
		sortRanking(ranking)
		states[i] = &itemState{item: items[i], ranking: ranking}
	}

	applyProposals(states, proposals, cfg)

	results := make([]models.MatchResult, len(items))
	claimed := make(map[string]bool)
	assigned := make([]bool, len(items))

	// Rule 2: resolve items greedily by best available score, so the item
	// with the stronger claim on a contested work order is decided first and
	// weaker items fall through to their next candidates.
	for remaining := len(states); remaining > 0; remaining-- {
		next := -1
		nextScore := -1
		for i, st := range states {
			if assigned[i] {
				continue
			}
			best := st.bestAvailable(claimed)
			score := -1
			if best != nil {
				score = best.BlendedScore
			}
			if score > nextScore || (score == nextScore && next == -1) {
				next = i
				nextScore = score
			}
		}

		st := states[next]
		results[next] = resolveItem(st, claimed, cfg)
		if results[next].Status == models.StatusMatched {
			claimed[results[next].Best.WorkOrder.ID] = true
		}
		assigned[next] = true
	}

	return results
}

type itemState struct {
	item    models.ParsedLineItem
	ranking []models.MatchCandidate
	note    string // discrepancy / advisory annotation from rule 1
}

func (st *itemState) bestAvailable(claimed map[string]bool) *models.MatchCandidate {
	for i := range st.ranking {
		if !claimed[st.ranking[i].WorkOrder.ID] {
			return &st.ranking[i]
		}
	}
	return nil
}

func (st *itemState) secondAvailable(claimed map[string]bool) *models.MatchCandidate {
	seen := 0
	for i := range st.ranking {
		if claimed[st.ranking[i].WorkOrder.ID] {
			continue
		}
		seen++
		if seen == 2 {
			return &st.ranking[i]
		}
	}
	return nil
}

func resolveItem(st *itemState, claimed map[string]bool, cfg models.MatchingConfig) models.MatchResult {
	result := models.MatchResult{Item: st.item, Status: models.StatusUnmatched}

	// When the top-ranked candidate was claimed by a stronger item, the
	// fallback pick must clear the rescore floor, not just the threshold.
	floorApplies := len(st.ranking) > 0 && claimed[st.ranking[0].WorkOrder.ID]

	best := st.bestAvailable(claimed)
	if best == nil || best.BlendedScore == 0 {
		result.Evidence = appendNote("no candidate with matching signals", st.note)
		return result
	}

	second := st.secondAvailable(claimed)
	if second != nil && second.BlendedScore > 0 && best.BlendedScore-second.BlendedScore <= cfg.AmbiguityEpsilon {
		result.Status = models.StatusAmbiguous
		result.Confidence = best.BlendedScore
		result.Evidence = appendNote(fmt.Sprintf(
			"ambiguous: %s (%d) and %s (%d) are within %d points",
			best.WorkOrder.ID, best.BlendedScore, second.WorkOrder.ID, second.BlendedScore, cfg.AmbiguityEpsilon), st.note)
		return result
	}

	threshold := cfg.MatchThreshold
	if floorApplies && cfg.RescoreFloor > threshold {
		threshold = cfg.RescoreFloor
	}
	if best.BlendedScore < threshold {
		result.Confidence = best.BlendedScore
		result.Evidence = appendNote(fmt.Sprintf(
			"best candidate %s scored %d, below threshold %d",
			best.WorkOrder.ID, best.BlendedScore, threshold), st.note)
		return result
	}

	chosen := *best
	result.Status = models.StatusMatched
	result.Best = &chosen
	result.Confidence = chosen.BlendedScore
	result.Evidence = appendNote(Evidence(chosen), st.note)
	return result
}

// applyProposals folds validated advisory proposals into the deterministic
// rankings per rule 1. At most one proposal per line item is honored (the
// highest-confidence one).
func applyProposals(states []*itemState, proposals []models.ReasonerProposal, cfg models.MatchingConfig) {
	bestProposal := make(map[int]models.ReasonerProposal)
	for _, p := range proposals {
		if p.LineIndex < 0 || p.LineIndex >= len(states) {
			continue
		}
		if cur, ok := bestProposal[p.LineIndex]; !ok || p.Confidence > cur.Confidence {
			bestProposal[p.LineIndex] = p
		}
	}

	for idx, p := range bestProposal {
		st := states[idx]
		pos := -1
		for i := range st.ranking {
			if st.ranking[i].WorkOrder.ID == p.WorkOrderID {
				pos = i
				break
			}
		}
		if pos == -1 {
			// Unknown candidate: deterministic score is undefined, so the
			// proposal carries no weight beyond an audit note.
			st.note = fmt.Sprintf("reasoner proposed unknown candidate %s at %d%%; discarded", p.WorkOrderID, p.Confidence)
			continue
		}

		cand := &st.ranking[pos]
		detScore := cand.BlendedScore
		switch {
		case p.Confidence > detScore+cfg.DiscrepancyMargin:
			// Rule 1: deterministic evidence does not support the claimed
			// confidence; keep the deterministic score.
			st.note = fmt.Sprintf("reasoner claimed %d%% for %s but deterministic score is %d; using deterministic score", p.Confidence, p.WorkOrderID, detScore)
			cand.Source = models.SourceReconciled
		case p.Confidence > detScore:
			cand.BlendedScore = p.Confidence
			cand.Source = models.SourceReconciled
			st.note = fmt.Sprintf("advisory: %s", p.Evidence)
		default:
			cand.Source = models.SourceReconciled
			st.note = fmt.Sprintf("advisory agrees: %s", p.Evidence)
		}
		sortRanking(st.ranking)
	}
}

// sortRanking orders candidates by score descending, breaking ties by work
// order ID so reconciliation is deterministic.
func sortRanking(ranking []models.MatchCandidate) {
	sort.SliceStable(ranking, func(i, j int) bool {
		if ranking[i].BlendedScore != ranking[j].BlendedScore {
			return ranking[i].BlendedScore > ranking[j].BlendedScore
		}
		return ranking[i].WorkOrder.ID < ranking[j].WorkOrder.ID
	})
}

func appendNote(evidence, note string) string {
	if note == "" {
		return evidence
	}
	return evidence + " [" + note + "]"
}
