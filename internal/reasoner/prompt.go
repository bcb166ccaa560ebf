package reasoner

import (
	"fmt"
	"strings"

	"github.com/asmith81/MJM-Special-WOs/internal/models"
)

// buildMatchingPrompt constructs the advisory matching prompt. The scoring
// table mirrors the deterministic extractors so the service reasons with the
// same rubric the engine enforces; its output is still validated and
// reconciled before use.
func buildMatchingPrompt(items []models.ParsedLineItem, candidates []models.WorkOrder, maxCandidates int) string {
	var b strings.Builder

	b.WriteString(`You are an expert at matching construction billing line items to work order records for a general contractor.

TASK: For each billing line item below, find the best matching work order using the blended confidence scoring system.

BILLING LINE ITEMS:
`)
	for _, item := range items {
		amount := "no amount"
		if item.Amount != nil {
			amount = "$" + item.Amount.StringFixed(2)
		}
		unit := ""
		if item.UnitID != "" {
			unit = " | unit " + item.UnitID
		}
		fmt.Fprintf(&b, "[%d] %s | %s%s\n", item.LineIndex, item.Description, amount, unit)
	}

	fmt.Fprintf(&b, "\nAVAILABLE WORK ORDERS (%d alpha-numeric work orders for special clients):\n", len(candidates))
	b.WriteString(formatWorkOrders(candidates, maxCandidates))

	b.WriteString(`

CONFIDENCE SCORING SYSTEM:
Use these weighted signals to calculate blended confidence scores:

EXACT MATCH SIGNALS (Max 50 points, only highest applies):
- Exact unit match: 50 points ("Unit 5996" matches "Unit 5996")
- Exact address match: 50 points ("5878 Southern Ave" matches "5878 Southern Ave")
- Building/property name match: 45 points ("New Endeavor" matches "New Endeavor Women's Shelter")

AMOUNT SIGNALS (only best tier applies):
- Exact amount: +30 points ($450.00 = $450.00)
- Close amount (within 15%): +20 points
- Rough amount (within 30%): +10 points

JOB TYPE SIGNALS (only best tier applies):
- Exact job description: +15 points ("drain backup" matches "back up in the unit")
- Job category match: +10 points ("plumbing" matches "Plumbing There is a back up")
- General work type: +5 points ("repair" matches "repaired, plastered and painted")

LOCATION SIGNALS (only best tier applies):
- Address fragment: +15 points ("56th St" partially matches "5878 Southern Ave")
- General area: +5 points ("SE DC" matches "Washington DC 20019")

CONFIDENCE BANDS:
- 85-100: very high confidence
- 70-84: high confidence
- 50-69: medium confidence, review recommended
- below 50: do not propose the match

OUTPUT FORMAT:
Return ONLY a JSON object with this exact structure, no markdown fences, no commentary:

{
  "matches": [
    {
      "lineItemIndex": 0,
      "candidateId": "A5966",
      "confidence": 95,
      "evidence": "exact unit 5966, exact amount $450.00, job category plumbing"
    }
  ],
  "summary": "X confident matches found, Y items without a match"
}

IMPORTANT INSTRUCTIONS:
1. lineItemIndex refers to the bracketed index of the billing line item above
2. candidateId must be a work order ID exactly as listed
3. Calculate blended confidence by combining signals per the table; never exceed 100
4. Only propose matches with confidence >= 50; omit items with no good match
5. Never propose the same work order for two different line items
6. Be thorough but realistic with confidence scoring

Begin analysis:`)

	return b.String()
}

func formatWorkOrders(candidates []models.WorkOrder, maxCandidates int) string {
	if len(candidates) == 0 {
		return "No work orders available\n"
	}
	limit := len(candidates)
	if limit > maxCandidates {
		limit = maxCandidates
	}
	var b strings.Builder
	for _, wo := range candidates[:limit] {
		fmt.Fprintf(&b, "WO#%s | $%s | %s | %s\n",
			wo.ID, wo.Amount.StringFixed(2), truncate(wo.Location, 50), truncate(wo.Description, 80))
	}
	if len(candidates) > limit {
		fmt.Fprintf(&b, "... and %d more work orders available\n", len(candidates)-limit)
	}
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
