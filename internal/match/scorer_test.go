package match

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asmith81/MJM-Special-WOs/internal/models"
)

func TestScore_BlendsSignals(t *testing.T) {
	item := models.ParsedLineItem{
		RawText:     "Unit 5966 - drain clearing and repair - $450.00",
		UnitID:      "5966",
		Description: "drain clearing and repair",
		Amount:      amt(450),
	}
	wo := models.WorkOrder{
		ID:          "A5966",
		Description: "Clear clogged drain line",
		Amount:      decimal.NewFromInt(450),
	}

	cand := Score(item, wo)

	// exact unit (50) + exact amount (30) + exact job (15)
	assert.Equal(t, 95, cand.BlendedScore)
	assert.Equal(t, models.SourceDeterministic, cand.Source)

	signals := make([]string, 0, len(cand.Signals))
	for _, s := range cand.Signals {
		signals = append(signals, s.Signal)
	}
	assert.Equal(t, []string{"exact_unit", "exact_amount", "exact_job"}, signals)
}

func TestScore_ClampsAt100(t *testing.T) {
	item := models.ParsedLineItem{
		RawText:     "unit 5966 drain clearing at girard street $450",
		UnitID:      "5966",
		Description: "drain clearing",
		Amount:      amt(450),
	}
	wo := models.WorkOrder{
		ID:          "A5966",
		Description: "Clear clogged drain line",
		Location:    "1234 Girard Street NW",
		Amount:      decimal.NewFromInt(450),
	}

	cand := Score(item, wo)
	assert.Equal(t, 100, cand.BlendedScore)
}

func TestScore_StructuralSignalsAreExclusive(t *testing.T) {
	// Both the unit and the address match; only the better structural signal
	// may count.
	item := models.ParsedLineItem{
		RawText: "unit 5966 at 123 Main Street",
		UnitID:  "5966",
	}
	wo := models.WorkOrder{
		ID:       "A5966",
		Location: "123 Main St",
	}

	cand := Score(item, wo)
	structural := 0
	for _, s := range cand.Signals {
		if s.Signal == "exact_unit" || s.Signal == "exact_address" || s.Signal == "building_name" {
			structural++
		}
	}
	assert.Equal(t, 1, structural)
}

func TestScore_NoSignalsIsZero(t *testing.T) {
	item := models.ParsedLineItem{RawText: "misc consulting", Description: "misc consulting"}
	wo := models.WorkOrder{ID: "A100", Description: "roof shingle repair", Amount: decimal.NewFromInt(5000)}

	cand := Score(item, wo)
	assert.Equal(t, 0, cand.BlendedScore)
	assert.Empty(t, cand.Signals)
	assert.Equal(t, "no matching signals", Evidence(cand))
}

func TestScore_Deterministic(t *testing.T) {
	item := models.ParsedLineItem{
		RawText:     "Unit 2178 toilet replacement $325",
		UnitID:      "2178",
		Description: "toilet replacement",
		Amount:      amt(325),
	}
	wo := models.WorkOrder{
		ID:          "B2178",
		Description: "plumbing service call",
		Amount:      decimal.NewFromFloat(330),
	}

	first := Score(item, wo)
	for i := 0; i < 20; i++ {
		again := Score(item, wo)
		require.Equal(t, first, again)
	}
}
