// Package operator defines the collaborator interfaces the quorum engine
// depends on: the operator directory, which reports the current eligible
// operator pool, and the authenticator, which verifies response signatures
// against registered operator keys. Two implementations are provided: an
// HTTP client for an external registry service and a static in-process
// registry backed by an ed25519 key file.
package operator

import (
	"context"
	"errors"
)

// ErrUnavailable is returned when the registry cannot be reached or times
// out. It is distinct from a negative eligibility or verification answer so
// that callers can tell infrastructure failures apart from rejections.
var ErrUnavailable = errors.New("operator registry unavailable")

// Directory reports the current operator pool. The count is read fresh on
// every quorum check and may change between calls.
type Directory interface {
	CurrentOperatorCount(ctx context.Context) (int, error)
	IsEligible(ctx context.Context, operatorID string) (bool, error)
}

// Authenticator verifies that a signature was produced by an operator's
// registered key over the canonical (task, response) message.
type Authenticator interface {
	Verify(ctx context.Context, taskID, payload, operatorID, signature string) (bool, error)
}

// CanonicalMessage builds the byte string operators sign: the task
// identifier and the response payload joined by a newline.
func CanonicalMessage(taskID, payload string) []byte {
	return []byte(taskID + "\n" + payload)
}
