package parser

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitize_RejectsBadInput(t *testing.T) {
	t.Run("empty input", func(t *testing.T) {
		_, err := Sanitize("   ")
		assert.ErrorIs(t, err, ErrParse)
	})

	t.Run("too short", func(t *testing.T) {
		_, err := Sanitize("short text")
		assert.ErrorIs(t, err, ErrParse)
	})

	t.Run("too long", func(t *testing.T) {
		_, err := Sanitize(strings.Repeat("a", MaxTextLength+1))
		assert.ErrorIs(t, err, ErrParse)
	})

	t.Run("script markup", func(t *testing.T) {
		_, err := Sanitize("please pay <script>alert('x')</script> for unit 12 $450")
		assert.ErrorIs(t, err, ErrParse)
	})
}

func TestSanitize_NormalizesText(t *testing.T) {
	out, err := Sanitize("Unit 12 repair&nbsp;work   done\r\nsecond line with more text")
	require.NoError(t, err)
	assert.NotContains(t, out, "\r")
	assert.NotContains(t, out, "&nbsp;")
	assert.NotContains(t, out, "   ")
}

func TestParse_LineItems(t *testing.T) {
	text := `Unit 5966 - drain clearing and repair - $450.00
Unit 2178 toilet replacement $325
Painting at 123 Main Street $1,200.50`

	out, err := Parse(text, 0)
	require.NoError(t, err)
	require.Len(t, out.Items, 3)

	assert.Equal(t, "5966", out.Items[0].UnitID)
	require.NotNil(t, out.Items[0].Amount)
	assert.Equal(t, "450", out.Items[0].Amount.String())
	assert.Equal(t, "drain clearing and repair", out.Items[0].Description)

	assert.Equal(t, "2178", out.Items[1].UnitID)
	require.NotNil(t, out.Items[1].Amount)
	assert.Equal(t, "325", out.Items[1].Amount.String())

	assert.Equal(t, "", out.Items[2].UnitID)
	require.NotNil(t, out.Items[2].Amount)
	assert.Equal(t, "1200.5", out.Items[2].Amount.String())

	// Line indices preserve input order.
	for i, item := range out.Items {
		assert.Equal(t, i, item.LineIndex)
	}
}

func TestParse_RunOnLine(t *testing.T) {
	text := "for unit 12 we did drain repair $450 and painting work $300 last week"

	out, err := Parse(text, 0)
	require.NoError(t, err)
	require.Len(t, out.Items, 2)
	assert.Equal(t, "450", out.Items[0].Amount.String())
	assert.Equal(t, "300", out.Items[1].Amount.String())
}

func TestParse_SuppressesTotalLine(t *testing.T) {
	text := `Unit 5966 drain clearing $450.00
Unit 2178 toilet replacement $325.00
Total: $775.00`

	out, err := Parse(text, 0)
	require.NoError(t, err)
	assert.Len(t, out.Items, 2)
}

func TestParse_KeepsItemWithoutAmount(t *testing.T) {
	text := `Unit 5966 drain clearing $450.00
Unit 2178 toilet replacement, invoice to follow`

	out, err := Parse(text, 0)
	require.NoError(t, err)
	require.Len(t, out.Items, 2)
	assert.Nil(t, out.Items[1].Amount)
	assert.Equal(t, "2178", out.Items[1].UnitID)
}

func TestParse_CountMismatchWarning(t *testing.T) {
	text := `Unit 5966 drain clearing $450.00
Unit 2178 toilet replacement $325.00`

	out, err := Parse(text, 5)
	require.NoError(t, err)

	var found bool
	for _, w := range out.Validation.Warnings {
		if w.Code == "COUNT_MISMATCH" {
			found = true
		}
	}
	assert.True(t, found, "expected a COUNT_MISMATCH warning")
}

func TestParse_NoItemsIsError(t *testing.T) {
	_, err := Parse("12345 67890 12345 67890", 0)
	assert.ErrorIs(t, err, ErrParse)
}

func TestParse_Deterministic(t *testing.T) {
	text := `Unit 5966 drain clearing $450.00
Painting at 123 Main Street $1,200.50`

	first, err := Parse(text, 0)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := Parse(text, 0)
		require.NoError(t, err)
		assert.Equal(t, first.Items, again.Items)
	}
}

func TestValidateStructure(t *testing.T) {
	t.Run("billing text is clean", func(t *testing.T) {
		res := ValidateStructure("invoice for repair work\nunit 12 total $450.00\nunit 14 labor $300.00")
		assert.True(t, res.Valid)
		assert.Empty(t, res.Warnings)
	})

	t.Run("non-billing text warns", func(t *testing.T) {
		res := ValidateStructure("see you at the meeting tomorrow")
		codes := make(map[string]bool)
		for _, w := range res.Warnings {
			codes[w.Code] = true
		}
		assert.True(t, codes["NO_CURRENCY"])
		assert.True(t, codes["FEW_KEYWORDS"])
		assert.True(t, codes["FEW_LINES"])
	})
}
