package models

// ReasonerProposal is one advisory match suggested by the external reasoning
// service, already validated field-by-field by the reasoner adapter. Its
// confidence is never surfaced directly: reconciliation checks it against the
// deterministic blended score first.
type ReasonerProposal struct {
	LineIndex   int    `json:"lineItemIndex"`
	WorkOrderID string `json:"candidateId"`
	Confidence  int    `json:"confidence"`
	Evidence    string `json:"evidence"`
}
