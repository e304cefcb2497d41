package operator

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
)

// Compile-time interface satisfaction checks.
var (
	_ Directory     = (*StaticRegistry)(nil)
	_ Authenticator = (*StaticRegistry)(nil)
)

// registryEntry is one operator record in the registry file.
type registryEntry struct {
	ID        string `json:"id"`
	PublicKey string `json:"public_key"`
}

// StaticRegistry is a fixed operator set with ed25519 public keys, loaded
// from a JSON file. It serves both as the directory and the authenticator
// for deployments without an external registry service.
type StaticRegistry struct {
	keys map[string]ed25519.PublicKey
}

// NewStaticRegistry builds a registry from operator IDs and their public keys.
func NewStaticRegistry(keys map[string]ed25519.PublicKey) *StaticRegistry {
	reg := &StaticRegistry{keys: make(map[string]ed25519.PublicKey, len(keys))}
	for id, key := range keys {
		reg.keys[id] = key
	}
	return reg
}

// LoadStaticRegistry reads a JSON array of {id, public_key} records, with
// public keys base64-encoded raw ed25519 keys.
func LoadStaticRegistry(path string) (*StaticRegistry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read operators file: %w", err)
	}

	var entries []registryEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse operators file: %w", err)
	}

	keys := make(map[string]ed25519.PublicKey, len(entries))
	for _, e := range entries {
		if e.ID == "" {
			return nil, fmt.Errorf("operators file: entry with empty id")
		}
		raw, err := base64.StdEncoding.DecodeString(e.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("operator %s: decode public key: %w", e.ID, err)
		}
		if len(raw) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("operator %s: public key is %d bytes, want %d", e.ID, len(raw), ed25519.PublicKeySize)
		}
		keys[e.ID] = ed25519.PublicKey(raw)
	}
	return NewStaticRegistry(keys), nil
}

// CurrentOperatorCount returns the number of registered operators.
func (s *StaticRegistry) CurrentOperatorCount(_ context.Context) (int, error) {
	return len(s.keys), nil
}

// IsEligible reports whether the operator is registered.
func (s *StaticRegistry) IsEligible(_ context.Context, operatorID string) (bool, error) {
	_, ok := s.keys[operatorID]
	return ok, nil
}

// Verify checks the base64 signature against the operator's registered key
// over the canonical (task, payload) message. Unknown operators and
// malformed signatures verify as false, not as errors.
func (s *StaticRegistry) Verify(_ context.Context, taskID, payload, operatorID, signature string) (bool, error) {
	key, ok := s.keys[operatorID]
	if !ok {
		return false, nil
	}
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false, nil
	}
	return ed25519.Verify(key, CanonicalMessage(taskID, payload), sig), nil
}
