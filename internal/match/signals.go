// Package match implements the resolution engine: deterministic signal
// extraction, blended scoring, and reconciliation of advisory proposals
// against the deterministic baseline.
package match

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/asmith81/MJM-Special-WOs/internal/models"
)

// Signal point ceilings. Structural signals are mutually exclusive per pair;
// amount, job-type, and location signals each contribute their single best
// variant on top of the structural base.
const (
	PointsExactUnit    = 50
	PointsExactAddress = 50
	PointsBuildingName = 45

	PointsExactAmount = 30
	PointsCloseAmount = 20
	PointsRoughAmount = 10

	PointsExactJob    = 15
	PointsJobCategory = 10
	PointsGeneralWork = 5

	PointsAddressFragment = 15
	PointsGeneralArea     = 5
)

var (
	nonAlnumRe = regexp.MustCompile(`[^a-z0-9 ]+`)
	digitsRe   = regexp.MustCompile(`\d+`)
	unitHintRe = regexp.MustCompile(`(?i)\b(?:unit|apt|apartment|suite|ste)\s*#?\s*(\d+[A-Za-z]?)\b`)
	streetRe   = regexp.MustCompile(`(?i)\b(\d{2,6})\s+([A-Za-z][A-Za-z0-9 ]{1,30}?)\s+(st|street|ave|avenue|rd|road|blvd|boulevard|dr|drive|ln|lane|ct|court|pl|place|way|ter|terrace)\b`)
	zipRe      = regexp.MustCompile(`\b\d{5}\b`)
	quadrantRe = regexp.MustCompile(`(?i)\b(ne|nw|se|sw|northeast|northwest|southeast|southwest)\b`)
)

// jobCategories maps job keywords (stems) to their trade category. A shared
// category between item and work order is the job_category signal.
var jobCategories = map[string]string{
	"plumb": "plumbing", "drain": "plumbing", "leak": "plumbing", "pipe": "plumbing",
	"toilet": "plumbing", "faucet": "plumbing", "sewer": "plumbing", "backup": "plumbing",
	"clog": "plumbing", "water": "plumbing",

	"electric": "electrical", "outlet": "electrical", "breaker": "electrical",
	"wiring": "electrical", "panel": "electrical", "light": "electrical",

	"concret": "concrete", "sidewalk": "concrete", "asphalt": "concrete",
	"pavement": "concrete", "curb": "concrete", "masonry": "concrete",

	"paint": "painting", "plaster": "painting", "drywall": "painting",

	"roof": "roofing", "shingle": "roofing", "gutter": "roofing",

	"hvac": "hvac", "furnace": "hvac", "heating": "hvac", "cooling": "hvac",
	"thermostat": "hvac",

	"door": "carpentry", "window": "carpentry", "cabinet": "carpentry",
	"lock": "carpentry",

	"floor": "flooring", "tile": "flooring", "carpet": "flooring",
}

// generalWorkStems are verbs common to any trade; a shared one is the weakest
// job signal.
var generalWorkStems = []string{
	"repair", "replac", "install", "fix", "clean", "servic", "maintenance",
	"remov", "patch", "restor",
}

var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "of": true,
	"in": true, "on": true, "at": true, "to": true, "for": true, "with": true,
	"is": true, "was": true, "there": true, "unit": true, "work": true,
}

// Extractor computes one signal for an (item, work order) pair. A nil result
// means the signal does not apply and contributes zero.
type Extractor func(item models.ParsedLineItem, wo models.WorkOrder) *models.SignalScore

// Structural extractors in precedence order. Only the highest-scoring one
// counts toward a pair's base score.
var structuralExtractors = []Extractor{ExactUnit, ExactAddress, BuildingName}

// ExactUnit fires when the item's unit identifier equals a unit token of the
// work order (the digits of its alpha-numeric ID, or a unit reference in its
// description or location).
func ExactUnit(item models.ParsedLineItem, wo models.WorkOrder) *models.SignalScore {
	if item.UnitID == "" {
		return nil
	}
	want := strings.ToUpper(item.UnitID)
	for _, tok := range workOrderUnitTokens(wo) {
		if tok == want {
			return &models.SignalScore{
				Signal:   "exact_unit",
				Points:   PointsExactUnit,
				Evidence: fmt.Sprintf("exact unit match: %s", item.UnitID),
			}
		}
	}
	return nil
}

// ExactAddress fires when both texts carry a street address and the
// normalized addresses are equal.
func ExactAddress(item models.ParsedLineItem, wo models.WorkOrder) *models.SignalScore {
	itemAddr := firstStreetAddress(item.RawText)
	woAddr := firstStreetAddress(wo.Location)
	if itemAddr == "" || woAddr == "" || itemAddr != woAddr {
		return nil
	}
	return &models.SignalScore{
		Signal:   "exact_address",
		Points:   PointsExactAddress,
		Evidence: fmt.Sprintf("exact address match: %s", itemAddr),
	}
}

// BuildingName fires on fuzzy containment of a named property: two or more
// consecutive name words from the work order's location appearing in the item
// text ("New Endeavor" inside "New Endeavor Women's Shelter").
func BuildingName(item models.ParsedLineItem, wo models.WorkOrder) *models.SignalScore {
	woWords := nameWords(wo.Location)
	if len(woWords) < 2 {
		woWords = nameWords(wo.Description)
	}
	if len(woWords) < 2 {
		return nil
	}
	itemText := " " + normalizeText(item.RawText) + " "
	for i := 0; i+1 < len(woWords); i++ {
		pair := woWords[i] + " " + woWords[i+1]
		if strings.Contains(itemText, " "+pair+" ") {
			return &models.SignalScore{
				Signal:   "building_name",
				Points:   PointsBuildingName,
				Evidence: fmt.Sprintf("property name match: %s", pair),
			}
		}
	}
	return nil
}

// amountEpsilon covers rounding differences between pasted text and the
// record store.
var amountEpsilon = decimal.NewFromFloat(0.01)

// AmountSignal compares the item amount to the work-order amount and returns
// the best applicable tier: exact, close (<=15% relative difference), or
// rough (<=30%). Items without an extractable amount contribute nothing.
func AmountSignal(item models.ParsedLineItem, wo models.WorkOrder) *models.SignalScore {
	if item.Amount == nil || wo.Amount.IsZero() {
		return nil
	}
	diff := item.Amount.Sub(wo.Amount).Abs()
	if diff.LessThanOrEqual(amountEpsilon) {
		return &models.SignalScore{
			Signal:   "exact_amount",
			Points:   PointsExactAmount,
			Evidence: fmt.Sprintf("exact amount: $%s", wo.Amount.StringFixed(2)),
		}
	}
	relPct := diff.Div(wo.Amount.Abs()).Mul(decimal.NewFromInt(100))
	switch {
	case relPct.LessThanOrEqual(decimal.NewFromInt(15)):
		return &models.SignalScore{
			Signal:   "close_amount",
			Points:   PointsCloseAmount,
			Evidence: fmt.Sprintf("close amount: $%s vs $%s (%s%% diff)", item.Amount.StringFixed(2), wo.Amount.StringFixed(2), relPct.Round(1)),
		}
	case relPct.LessThanOrEqual(decimal.NewFromInt(30)):
		return &models.SignalScore{
			Signal:   "rough_amount",
			Points:   PointsRoughAmount,
			Evidence: fmt.Sprintf("rough amount: $%s vs $%s (%s%% diff)", item.Amount.StringFixed(2), wo.Amount.StringFixed(2), relPct.Round(1)),
		}
	}
	return nil
}

// JobTypeSignal returns the best applicable job signal: exact description
// overlap, shared trade category, or shared generic work verb.
func JobTypeSignal(item models.ParsedLineItem, wo models.WorkOrder) *models.SignalScore {
	itemToks := contentTokens(item.Description + " " + item.RawText)
	woToks := contentTokens(wo.Description)
	if len(itemToks) == 0 || len(woToks) == 0 {
		return nil
	}

	shared := sharedTokens(itemToks, woToks)
	specific := 0
	for _, tok := range shared {
		if !isGeneralWork(tok) {
			specific++
		}
	}
	if specific >= 2 {
		return &models.SignalScore{
			Signal:   "exact_job",
			Points:   PointsExactJob,
			Evidence: fmt.Sprintf("exact job description: %s", strings.Join(shared, ", ")),
		}
	}

	if cat := sharedCategory(itemToks, woToks); cat != "" {
		return &models.SignalScore{
			Signal:   "job_category",
			Points:   PointsJobCategory,
			Evidence: fmt.Sprintf("job category: %s", cat),
		}
	}

	for _, tok := range shared {
		if isGeneralWork(tok) {
			return &models.SignalScore{
				Signal:   "general_work",
				Points:   PointsGeneralWork,
				Evidence: fmt.Sprintf("general work type: %s", tok),
			}
		}
	}
	return nil
}

// LocationSignal returns the best applicable location signal: a shared street
// token, or a shared general-area token (quadrant or ZIP).
func LocationSignal(item models.ParsedLineItem, wo models.WorkOrder) *models.SignalScore {
	if wo.Location == "" {
		return nil
	}
	itemText := normalizeText(item.RawText)
	woLoc := normalizeText(wo.Location)

	for _, tok := range streetNameTokens(wo.Location) {
		if strings.Contains(" "+itemText+" ", " "+tok+" ") {
			return &models.SignalScore{
				Signal:   "address_fragment",
				Points:   PointsAddressFragment,
				Evidence: fmt.Sprintf("address fragment: %s", tok),
			}
		}
	}

	itemZips := zipRe.FindAllString(itemText, -1)
	for _, z := range itemZips {
		if strings.Contains(woLoc, z) {
			return &models.SignalScore{
				Signal:   "general_area",
				Points:   PointsGeneralArea,
				Evidence: fmt.Sprintf("general area: %s", z),
			}
		}
	}
	itemQuads := quadrantRe.FindAllString(itemText, -1)
	for _, q := range itemQuads {
		if quadrantRe.MatchString(woLoc) && strings.Contains(woLoc, strings.ToLower(q)) {
			return &models.SignalScore{
				Signal:   "general_area",
				Points:   PointsGeneralArea,
				Evidence: fmt.Sprintf("general area: %s", strings.ToUpper(q)),
			}
		}
	}
	return nil
}

// --- normalization helpers ---

func normalizeText(s string) string {
	s = strings.ToLower(s)
	s = nonAlnumRe.ReplaceAllString(s, " ")
	return strings.Join(strings.Fields(s), " ")
}

// workOrderUnitTokens collects every identifier the work order could be
// referenced by: the digits of its alpha-numeric ID ("A5966" -> "5966") and
// any explicit unit references in its description or location.
func workOrderUnitTokens(wo models.WorkOrder) []string {
	var toks []string
	if d := digitsRe.FindString(wo.ID); d != "" {
		toks = append(toks, d)
	}
	for _, text := range []string{wo.Description, wo.Location} {
		for _, m := range unitHintRe.FindAllStringSubmatch(text, -1) {
			toks = append(toks, strings.ToUpper(m[1]))
		}
	}
	return toks
}

func firstStreetAddress(s string) string {
	m := streetRe.FindStringSubmatch(s)
	if m == nil {
		return ""
	}
	street := normalizeText(m[2])
	return m[1] + " " + street + " " + normalizeStreetSuffix(m[3])
}

func normalizeStreetSuffix(s string) string {
	switch strings.ToLower(s) {
	case "street":
		return "st"
	case "avenue":
		return "ave"
	case "road":
		return "rd"
	case "boulevard":
		return "blvd"
	case "drive":
		return "dr"
	case "lane":
		return "ln"
	case "court":
		return "ct"
	case "place":
		return "pl"
	case "terrace":
		return "ter"
	default:
		return strings.ToLower(s)
	}
}

// streetNameTokens extracts the distinctive (non-numeric, non-suffix) words
// of a street address for fragment matching.
func streetNameTokens(location string) []string {
	m := streetRe.FindStringSubmatch(location)
	if m == nil {
		return nil
	}
	var toks []string
	for _, tok := range strings.Fields(normalizeText(m[2])) {
		if len(tok) >= 4 {
			toks = append(toks, tok)
		}
	}
	return toks
}

// nameWords returns the words of a location with numbers, suffixes, and
// stopwords removed; consecutive pairs of these approximate a property name.
func nameWords(s string) []string {
	var words []string
	for _, tok := range strings.Fields(normalizeText(s)) {
		if stopwords[tok] || digitsRe.MatchString(tok) || len(tok) < 3 {
			continue
		}
		words = append(words, tok)
	}
	return words
}

func contentTokens(s string) []string {
	seen := make(map[string]bool)
	var toks []string
	for _, tok := range strings.Fields(normalizeText(s)) {
		if stopwords[tok] || len(tok) < 3 || digitsRe.MatchString(tok) {
			continue
		}
		if !seen[tok] {
			seen[tok] = true
			toks = append(toks, tok)
		}
	}
	return toks
}

// sharedTokens matches by stem prefix so "repaired" meets "repair" and
// "plumbing" meets "plumber".
func sharedTokens(a, b []string) []string {
	var shared []string
	for _, ta := range a {
		for _, tb := range b {
			if stemEqual(ta, tb) {
				shared = append(shared, ta)
				break
			}
		}
	}
	return shared
}

func stemEqual(a, b string) bool {
	if a == b {
		return true
	}
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n < 4 {
		return false
	}
	return a[:n] == b[:n]
}

func categoryOf(tok string) string {
	// Longest matching stem wins so iteration order over the map never
	// affects the result.
	best := ""
	bestLen := 0
	for stem, cat := range jobCategories {
		if strings.HasPrefix(tok, stem) && len(stem) > bestLen {
			best = cat
			bestLen = len(stem)
		}
	}
	return best
}

func sharedCategory(a, b []string) string {
	catsA := make(map[string]bool)
	for _, tok := range a {
		if c := categoryOf(tok); c != "" {
			catsA[c] = true
		}
	}
	// Deterministic order: scan b in token order, return the first shared
	// category encountered.
	for _, tok := range b {
		if c := categoryOf(tok); c != "" && catsA[c] {
			return c
		}
	}
	return ""
}

func isGeneralWork(tok string) bool {
	for _, stem := range generalWorkStems {
		if strings.HasPrefix(tok, stem) {
			return true
		}
	}
	return false
}
