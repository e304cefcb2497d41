package model

import "time"

// Task status constants.
const (
	StatusReady               = "ready"
	StatusCompleted           = "completed"
	StatusConsensusNotReached = "consensus_not_reached"
)

// validTransitions maps each status to the set of statuses it may transition to.
// Both terminal states have no outgoing edges.
var validTransitions = map[string]map[string]bool{
	StatusReady: {
		StatusCompleted:           true,
		StatusConsensusNotReached: true,
	},
}

// ValidTransition reports whether transitioning from one status to another is allowed.
func ValidTransition(from, to string) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// TerminalStatus reports whether a status admits no further transitions.
func TerminalStatus(status string) bool {
	return status == StatusCompleted || status == StatusConsensusNotReached
}

// Task represents a unit of work distributed to operators for quorum consensus.
// Input is opaque to the service; Response is set only once the task completes.
type Task struct {
	ID          string     `json:"id"`
	Status      string     `json:"status"`
	Input       []byte     `json:"input,omitempty"`
	Response    *string    `json:"response,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	FinalizedAt *time.Time `json:"finalized_at,omitempty"`
}

// TaskResponse is one operator's signed answer to a task. At most one
// response per (task, operator) pair is ever stored.
type TaskResponse struct {
	ID         string    `json:"id"`
	TaskID     string    `json:"task_id"`
	OperatorID string    `json:"operator_id"`
	Response   string    `json:"response"`
	Signature  string    `json:"signature"`
	CreatedAt  time.Time `json:"created_at"`
}
