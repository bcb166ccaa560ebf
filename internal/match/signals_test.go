package match

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asmith81/MJM-Special-WOs/internal/models"
)

func amt(f float64) *decimal.Decimal {
	d := decimal.NewFromFloat(f)
	return &d
}

func TestExactUnit(t *testing.T) {
	wo := models.WorkOrder{ID: "A5966", Description: "Clear clogged drain"}

	t.Run("unit id matches work order digits", func(t *testing.T) {
		s := ExactUnit(models.ParsedLineItem{UnitID: "5966"}, wo)
		require.NotNil(t, s)
		assert.Equal(t, "exact_unit", s.Signal)
		assert.Equal(t, PointsExactUnit, s.Points)
	})

	t.Run("unit reference in description", func(t *testing.T) {
		wo := models.WorkOrder{ID: "B0012", Description: "Repairs at unit 14B"}
		s := ExactUnit(models.ParsedLineItem{UnitID: "14B"}, wo)
		require.NotNil(t, s)
	})

	t.Run("no unit id", func(t *testing.T) {
		assert.Nil(t, ExactUnit(models.ParsedLineItem{}, wo))
	})

	t.Run("different unit", func(t *testing.T) {
		assert.Nil(t, ExactUnit(models.ParsedLineItem{UnitID: "2178"}, wo))
	})
}

func TestExactAddress(t *testing.T) {
	wo := models.WorkOrder{ID: "A100", Location: "123 Main St"}

	t.Run("normalized suffix match", func(t *testing.T) {
		item := models.ParsedLineItem{RawText: "Work completed at 123 Main Street"}
		s := ExactAddress(item, wo)
		require.NotNil(t, s)
		assert.Equal(t, PointsExactAddress, s.Points)
	})

	t.Run("different street", func(t *testing.T) {
		item := models.ParsedLineItem{RawText: "Work completed at 456 Oak Avenue"}
		assert.Nil(t, ExactAddress(item, wo))
	})
}

func TestBuildingName(t *testing.T) {
	wo := models.WorkOrder{ID: "A200", Location: "New Endeavor Women's Shelter"}

	t.Run("consecutive name words", func(t *testing.T) {
		item := models.ParsedLineItem{RawText: "Repairs at New Endeavor shelter $500"}
		s := BuildingName(item, wo)
		require.NotNil(t, s)
		assert.Equal(t, PointsBuildingName, s.Points)
	})

	t.Run("single shared word is not enough", func(t *testing.T) {
		item := models.ParsedLineItem{RawText: "Repairs at the shelter downtown"}
		assert.Nil(t, BuildingName(item, wo))
	})
}

func TestAmountSignal(t *testing.T) {
	wo := models.WorkOrder{ID: "A100", Amount: decimal.NewFromInt(450)}

	cases := []struct {
		name   string
		amount *decimal.Decimal
		signal string
		points int
	}{
		{"exact", amt(450), "exact_amount", PointsExactAmount},
		{"within 15 percent", amt(500), "close_amount", PointsCloseAmount},
		{"within 30 percent", amt(560), "rough_amount", PointsRoughAmount},
		{"too far", amt(900), "", 0},
		{"no amount", nil, "", 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := AmountSignal(models.ParsedLineItem{Amount: tc.amount}, wo)
			if tc.signal == "" {
				assert.Nil(t, s)
				return
			}
			require.NotNil(t, s)
			assert.Equal(t, tc.signal, s.Signal)
			assert.Equal(t, tc.points, s.Points)
		})
	}
}

func TestJobTypeSignal(t *testing.T) {
	t.Run("exact job from shared specific tokens", func(t *testing.T) {
		item := models.ParsedLineItem{Description: "drain clearing"}
		wo := models.WorkOrder{Description: "Clear clogged drain line"}
		s := JobTypeSignal(item, wo)
		require.NotNil(t, s)
		assert.Equal(t, "exact_job", s.Signal)
		assert.Equal(t, PointsExactJob, s.Points)
	})

	t.Run("shared trade category", func(t *testing.T) {
		item := models.ParsedLineItem{Description: "toilet replacement"}
		wo := models.WorkOrder{Description: "plumbing service call"}
		s := JobTypeSignal(item, wo)
		require.NotNil(t, s)
		assert.Equal(t, "job_category", s.Signal)
		assert.Equal(t, PointsJobCategory, s.Points)
	})

	t.Run("general work verb only", func(t *testing.T) {
		item := models.ParsedLineItem{Description: "repair done"}
		wo := models.WorkOrder{Description: "Repaired fixtures"}
		s := JobTypeSignal(item, wo)
		require.NotNil(t, s)
		assert.Equal(t, "general_work", s.Signal)
		assert.Equal(t, PointsGeneralWork, s.Points)
	})

	t.Run("nothing shared", func(t *testing.T) {
		item := models.ParsedLineItem{Description: "landscaping estimate"}
		wo := models.WorkOrder{Description: "electrical panel swap"}
		assert.Nil(t, JobTypeSignal(item, wo))
	})
}

func TestLocationSignal(t *testing.T) {
	wo := models.WorkOrder{Location: "1234 Girard Street NW, Washington DC 20009"}

	t.Run("street name fragment", func(t *testing.T) {
		item := models.ParsedLineItem{RawText: "work at girard street property"}
		s := LocationSignal(item, wo)
		require.NotNil(t, s)
		assert.Equal(t, "address_fragment", s.Signal)
		assert.Equal(t, PointsAddressFragment, s.Points)
	})

	t.Run("shared zip is general area", func(t *testing.T) {
		item := models.ParsedLineItem{RawText: "somewhere in 20009 area"}
		s := LocationSignal(item, wo)
		require.NotNil(t, s)
		assert.Equal(t, "general_area", s.Signal)
		assert.Equal(t, PointsGeneralArea, s.Points)
	})

	t.Run("no location on work order", func(t *testing.T) {
		item := models.ParsedLineItem{RawText: "work at girard street"}
		assert.Nil(t, LocationSignal(item, models.WorkOrder{}))
	})
}
