package staging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asmith81/MJM-Special-WOs/internal/models"
)

func matchedResult(woID string, score int) models.MatchResult {
	return models.MatchResult{
		Item:       models.ParsedLineItem{RawText: "drain repair $450"},
		Best:       &models.MatchCandidate{WorkOrder: models.WorkOrder{ID: woID}, BlendedScore: score},
		Confidence: score,
		Status:     models.StatusMatched,
	}
}

func TestSession_AcceptAndReject(t *testing.T) {
	s := NewSession()

	require.NoError(t, s.Accept("mjm", matchedResult("A100", 85)))
	require.NoError(t, s.Accept("mjm", matchedResult("B200", 70)))
	assert.Len(t, s.Accepted("mjm"), 2)

	t.Run("double claim rejected", func(t *testing.T) {
		err := s.Accept("mjm", matchedResult("A100", 90))
		assert.ErrorIs(t, err, ErrAlreadyClaimed)

		err = s.Accept("other", matchedResult("A100", 90))
		assert.ErrorIs(t, err, ErrAlreadyClaimed, "claims hold across clients")
	})

	t.Run("reject releases the claim", func(t *testing.T) {
		s.Reject("mjm", matchedResult("A100", 85))
		assert.Len(t, s.Accepted("mjm"), 1)
		assert.NoError(t, s.Accept("other", matchedResult("A100", 90)))
	})

	t.Run("rejecting someone else's claim is a no-op", func(t *testing.T) {
		s.Reject("mjm", matchedResult("A100", 90))
		assert.Len(t, s.Accepted("other"), 1)
	})
}

func TestSession_RejectsNonMatches(t *testing.T) {
	s := NewSession()

	err := s.Accept("mjm", models.MatchResult{Status: models.StatusAmbiguous})
	assert.ErrorIs(t, err, ErrNotMatched)

	err = s.Accept("mjm", models.MatchResult{Status: models.StatusUnmatched})
	assert.ErrorIs(t, err, ErrNotMatched)
}

func TestSession_BatchForInvoice(t *testing.T) {
	s := NewSession()

	t.Run("nothing staged", func(t *testing.T) {
		_, err := s.BatchForInvoice("mjm")
		assert.ErrorIs(t, err, ErrNothingStaged)
	})

	require.NoError(t, s.Accept("mjm", matchedResult("A100", 85)))
	require.NoError(t, s.Accept("mjm", matchedResult("B200", 70)))

	batch, err := s.BatchForInvoice("mjm")
	require.NoError(t, err)
	assert.Equal(t, models.BatchCreated, batch.State)
	assert.Equal(t, "mjm", batch.Client)
	assert.ElementsMatch(t, []string{"A100", "B200"}, batch.WorkOrderIDs())

	t.Run("repeated calls return the same batch", func(t *testing.T) {
		again, err := s.BatchForInvoice("mjm")
		require.NoError(t, err)
		assert.Same(t, batch, again)
	})
}

func TestSession_Clear(t *testing.T) {
	s := NewSession()
	require.NoError(t, s.Accept("mjm", matchedResult("A100", 85)))
	_, err := s.BatchForInvoice("mjm")
	require.NoError(t, err)

	s.Clear("mjm")

	assert.Empty(t, s.Accepted("mjm"))
	_, ok := s.Batch("mjm")
	assert.False(t, ok)
	assert.NoError(t, s.Accept("other", matchedResult("A100", 90)), "clear releases claims")
}
