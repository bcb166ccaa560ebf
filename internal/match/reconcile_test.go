package match

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asmith81/MJM-Special-WOs/internal/models"
)

func testConfig() models.MatchingConfig {
	return models.MatchingConfig{
		MatchThreshold:    50,
		AmbiguityEpsilon:  5,
		DiscrepancyMargin: 25,
		RescoreFloor:      50,
	}
}

func cand(item models.ParsedLineItem, woID string, score int) models.MatchCandidate {
	return models.MatchCandidate{
		Item:         item,
		WorkOrder:    models.WorkOrder{ID: woID},
		BlendedScore: score,
		Source:       models.SourceDeterministic,
	}
}

func TestReconcile_SimpleMatch(t *testing.T) {
	items := []models.ParsedLineItem{{RawText: "drain repair $450", LineIndex: 0}}
	rankings := [][]models.MatchCandidate{
		{cand(items[0], "A100", 85), cand(items[0], "A200", 20)},
	}

	results := Reconcile(items, rankings, nil, testConfig())
	require.Len(t, results, 1)
	assert.Equal(t, models.StatusMatched, results[0].Status)
	assert.Equal(t, "A100", results[0].Best.WorkOrder.ID)
	assert.Equal(t, 85, results[0].Confidence)
}

func TestReconcile_NoDoubleBooking(t *testing.T) {
	items := []models.ParsedLineItem{
		{RawText: "drain repair $450", LineIndex: 0},
		{RawText: "more drain work $455", LineIndex: 1},
	}
	rankings := [][]models.MatchCandidate{
		{cand(items[0], "A100", 85), cand(items[0], "A300", 60)},
		{cand(items[1], "A100", 70), cand(items[1], "A300", 55)},
	}

	results := Reconcile(items, rankings, nil, testConfig())
	require.Len(t, results, 2)

	// The stronger claim keeps the contested work order; the weaker item
	// falls to its next-best candidate above the rescore floor.
	assert.Equal(t, models.StatusMatched, results[0].Status)
	assert.Equal(t, "A100", results[0].Best.WorkOrder.ID)
	assert.Equal(t, models.StatusMatched, results[1].Status)
	assert.Equal(t, "A300", results[1].Best.WorkOrder.ID)

	seen := make(map[string]bool)
	for _, r := range results {
		if r.Status == models.StatusMatched {
			assert.False(t, seen[r.Best.WorkOrder.ID], "work order matched twice")
			seen[r.Best.WorkOrder.ID] = true
		}
	}
}

func TestReconcile_LoserBelowFloorIsUnmatched(t *testing.T) {
	items := []models.ParsedLineItem{
		{RawText: "drain repair $450", LineIndex: 0},
		{RawText: "more drain work $455", LineIndex: 1},
	}
	rankings := [][]models.MatchCandidate{
		{cand(items[0], "A100", 85)},
		{cand(items[1], "A100", 70), cand(items[1], "A300", 40)},
	}

	results := Reconcile(items, rankings, nil, testConfig())
	assert.Equal(t, models.StatusMatched, results[0].Status)
	assert.Equal(t, models.StatusUnmatched, results[1].Status)
}

func TestReconcile_AmbiguousTopTwo(t *testing.T) {
	items := []models.ParsedLineItem{{RawText: "painting work $300", LineIndex: 0}}
	rankings := [][]models.MatchCandidate{
		{cand(items[0], "A100", 60), cand(items[0], "A200", 58)},
	}

	results := Reconcile(items, rankings, nil, testConfig())
	require.Len(t, results, 1)
	assert.Equal(t, models.StatusAmbiguous, results[0].Status)
	assert.Nil(t, results[0].Best)
	assert.Contains(t, results[0].Evidence, "A100")
	assert.Contains(t, results[0].Evidence, "A200")
}

func TestReconcile_AllZeroScoresIsUnmatched(t *testing.T) {
	items := []models.ParsedLineItem{{RawText: "mystery charge $999", LineIndex: 0}}
	rankings := [][]models.MatchCandidate{
		{cand(items[0], "A100", 0), cand(items[0], "A200", 0)},
	}

	results := Reconcile(items, rankings, nil, testConfig())
	assert.Equal(t, models.StatusUnmatched, results[0].Status)
	assert.Equal(t, 0, results[0].Confidence)
}

func TestReconcile_BelowThresholdIsUnmatched(t *testing.T) {
	items := []models.ParsedLineItem{{RawText: "small job $50", LineIndex: 0}}
	rankings := [][]models.MatchCandidate{
		{cand(items[0], "A100", 30)},
	}

	results := Reconcile(items, rankings, nil, testConfig())
	assert.Equal(t, models.StatusUnmatched, results[0].Status)
	assert.Equal(t, 30, results[0].Confidence)
}

func TestReconcile_ProposalOverMarginIsDowngraded(t *testing.T) {
	items := []models.ParsedLineItem{{RawText: "drain repair $450", LineIndex: 0}}
	rankings := [][]models.MatchCandidate{
		{cand(items[0], "A100", 40)},
	}
	proposals := []models.ReasonerProposal{
		{LineIndex: 0, WorkOrderID: "A100", Confidence: 90, Evidence: "certain match"},
	}

	results := Reconcile(items, rankings, proposals, testConfig())

	// 90 > 40+25: the claimed confidence is not honored, and 40 stays below
	// the match threshold.
	assert.Equal(t, models.StatusUnmatched, results[0].Status)
	assert.Equal(t, 40, results[0].Confidence)
	assert.Contains(t, results[0].Evidence, "using deterministic score")
}

func TestReconcile_ProposalWithinMarginLifts(t *testing.T) {
	items := []models.ParsedLineItem{{RawText: "drain repair $450", LineIndex: 0}}
	rankings := [][]models.MatchCandidate{
		{cand(items[0], "A100", 40)},
	}
	proposals := []models.ReasonerProposal{
		{LineIndex: 0, WorkOrderID: "A100", Confidence: 60, Evidence: "tenant name matches"},
	}

	results := Reconcile(items, rankings, proposals, testConfig())

	require.Equal(t, models.StatusMatched, results[0].Status)
	assert.Equal(t, 60, results[0].Confidence)
	assert.Equal(t, models.SourceReconciled, results[0].Best.Source)
}

func TestReconcile_UnknownCandidateIsDiscarded(t *testing.T) {
	items := []models.ParsedLineItem{{RawText: "drain repair $450", LineIndex: 0}}
	rankings := [][]models.MatchCandidate{
		{cand(items[0], "A100", 85)},
	}
	proposals := []models.ReasonerProposal{
		{LineIndex: 0, WorkOrderID: "Z999", Confidence: 95, Evidence: "hallucinated"},
	}

	results := Reconcile(items, rankings, proposals, testConfig())

	require.Equal(t, models.StatusMatched, results[0].Status)
	assert.Equal(t, "A100", results[0].Best.WorkOrder.ID)
	assert.Equal(t, 85, results[0].Confidence)
	assert.Contains(t, results[0].Evidence, "Z999")
}

func TestReconcile_ProposalOutOfRangeIgnored(t *testing.T) {
	items := []models.ParsedLineItem{{RawText: "drain repair $450", LineIndex: 0}}
	rankings := [][]models.MatchCandidate{
		{cand(items[0], "A100", 85)},
	}
	proposals := []models.ReasonerProposal{
		{LineIndex: 7, WorkOrderID: "A100", Confidence: 95},
	}

	results := Reconcile(items, rankings, proposals, testConfig())
	assert.Equal(t, models.StatusMatched, results[0].Status)
	assert.Equal(t, 85, results[0].Confidence)
}
