package models

import (
	"regexp"
	"time"

	"github.com/shopspring/decimal"
)

// WorkOrder represents one work-order record loaded from the record store.
// Matching only considers alpha-numeric work orders (IDs that start with a
// letter), which identify special-contract clients.
type WorkOrder struct {
	ID          string          `json:"id"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Location    string          `json:"location"`
	Date        time.Time       `json:"date"`
	Status      string          `json:"status"`
}

var alphaPrefix = regexp.MustCompile(`^[A-Za-z]`)

// IsAlphaNumeric reports whether the work order belongs to the
// special-contract subset (ID starts with a letter).
func (w WorkOrder) IsAlphaNumeric() bool {
	return alphaPrefix.MatchString(w.ID)
}

// ParsedLineItem is one billable unit extracted from pasted email text.
// Amount is nil when no currency token could be extracted from the segment;
// such items are still carried through matching and surface as low confidence
// rather than being dropped. LineIndex preserves the original order for
// tie-breaking and audit.
type ParsedLineItem struct {
	RawText     string           `json:"rawText"`
	UnitID      string           `json:"unitId,omitempty"`
	Description string           `json:"description"`
	Amount      *decimal.Decimal `json:"amount,omitempty"`
	LineIndex   int              `json:"lineIndex"`
}

// SignalScore is the result of one signal extractor applied to an
// (item, work order) pair.
type SignalScore struct {
	Signal   string `json:"signal"`
	Points   int    `json:"points"`
	Evidence string `json:"evidence"`
}

// CandidateSource records which path produced a match candidate's score.
type CandidateSource string

const (
	SourceDeterministic CandidateSource = "deterministic"
	SourceReasoner      CandidateSource = "reasoner"
	SourceReconciled    CandidateSource = "reconciled"
)

// MatchCandidate pairs a line item with one work order and the signals that
// fired for the pair. BlendedScore is the clamped sum per the scoring rules.
type MatchCandidate struct {
	Item         ParsedLineItem  `json:"item"`
	WorkOrder    WorkOrder       `json:"workOrder"`
	Signals      []SignalScore   `json:"signals"`
	BlendedScore int             `json:"blendedScore"`
	Source       CandidateSource `json:"source"`
}

// MatchStatus classifies the outcome of matching one line item.
type MatchStatus string

const (
	StatusMatched   MatchStatus = "matched"
	StatusAmbiguous MatchStatus = "ambiguous"
	StatusUnmatched MatchStatus = "unmatched"
)

// MatchResult is the final, reconciled outcome for one line item. There is at
// most one MatchResult per ParsedLineItem, and within one session no two
// matched results reference the same work order.
type MatchResult struct {
	Item       ParsedLineItem  `json:"item"`
	Best       *MatchCandidate `json:"best,omitempty"`
	Confidence int             `json:"confidence"`
	Evidence   string          `json:"evidence"`
	Status     MatchStatus     `json:"status"`
}

// ConfidenceLevel maps a confidence score to the band shown to reviewers.
func (r MatchResult) ConfidenceLevel() string {
	switch {
	case r.Confidence >= 85:
		return "Very High"
	case r.Confidence >= 70:
		return "High"
	case r.Confidence >= 50:
		return "Medium"
	default:
		return "Low"
	}
}

// BatchState is the documentation-workflow state of a staged batch.
type BatchState string

const (
	BatchCreated          BatchState = "created"
	BatchInvoiceRequested BatchState = "invoice_requested"
	BatchInvoiceCreated   BatchState = "invoice_created"
	BatchPDFPending       BatchState = "pdf_pending"
	BatchDocumented       BatchState = "documented"
	BatchComplete         BatchState = "complete"
	BatchFailed           BatchState = "failed"
	BatchAbandoned        BatchState = "abandoned"
)

// StagedBatch groups the accepted matches for one client as they move through
// the invoice documentation workflow. Mutated only by the batch coordinator.
type StagedBatch struct {
	ID           string        `json:"id"`
	Client       string        `json:"client"`
	Matches      []MatchResult `json:"matches"`
	State        BatchState    `json:"state"`
	InvoiceID    string        `json:"invoiceId,omitempty"`
	DocumentLink string        `json:"documentLink,omitempty"`
	FailureCause string        `json:"failureCause,omitempty"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
}

// WorkOrderIDs returns the distinct work-order IDs claimed by the batch.
func (b *StagedBatch) WorkOrderIDs() []string {
	seen := make(map[string]bool, len(b.Matches))
	var ids []string
	for _, m := range b.Matches {
		if m.Best == nil {
			continue
		}
		id := m.Best.WorkOrder.ID
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids
}
