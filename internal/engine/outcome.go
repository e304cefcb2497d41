package engine

// Outcome kinds returned by task evaluation.
const (
	OutcomeFinalized        = "finalized"
	OutcomeDeferred         = "deferred"
	OutcomeUndecidable      = "undecidable"
	OutcomeAlreadyFinalized = "already_finalized"
)

// Outcome is the result of one quorum evaluation. Deferred and
// AlreadyFinalized are expected outcomes, not errors: Deferred carries the
// participation counts for observability, AlreadyFinalized marks a benign
// race loss against a concurrent evaluation.
type Outcome struct {
	Kind      string  `json:"kind"`
	Response  *string `json:"response,omitempty"`
	Responses int     `json:"responses"`
	Operators int     `json:"operators"`
	Quorum    int     `json:"quorum"`
}
