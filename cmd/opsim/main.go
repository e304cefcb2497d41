// Command opsim simulates one operator: it polls arbiter for the next
// available task, computes a deterministic response, signs it with an
// ed25519 key, and submits it. Useful for demos and smoke testing a running
// arbiter instance.
package main

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/tburke/arbiter/internal/model"
	"github.com/tburke/arbiter/internal/operator"
)

func main() {
	serverURL := flag.String("server", "http://localhost:8080", "arbiter base URL")
	operatorID := flag.String("operator", "", "operator identifier (required)")
	keyFile := flag.String("key", "", "path to base64 ed25519 seed; generated if absent")
	interval := flag.Duration("interval", 2*time.Second, "poll interval")
	once := flag.Bool("once", false, "process at most one task and exit")
	flag.Parse()

	if *operatorID == "" {
		log.Fatal("-operator is required")
	}
	if *keyFile == "" {
		*keyFile = *operatorID + ".key"
	}

	priv, err := loadOrCreateKey(*keyFile)
	if err != nil {
		log.Fatalf("load key: %v", err)
	}
	pub := priv.Public().(ed25519.PublicKey)
	log.Printf("operator %s public key: %s", *operatorID, base64.StdEncoding.EncodeToString(pub))

	client := &http.Client{Timeout: 10 * time.Second}
	for {
		handled, err := pollOnce(client, *serverURL, *operatorID, priv)
		if err != nil {
			log.Printf("poll: %v", err)
		}
		if *once && handled {
			return
		}
		time.Sleep(*interval)
	}
}

// loadOrCreateKey reads a base64 ed25519 seed from path, generating and
// persisting a fresh one if the file does not exist.
func loadOrCreateKey(path string) (ed25519.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, err
		}
		encoded := base64.StdEncoding.EncodeToString(priv.Seed())
		if err := os.WriteFile(path, []byte(encoded+"\n"), 0o600); err != nil {
			return nil, err
		}
		return priv, nil
	}
	if err != nil {
		return nil, err
	}

	seed, err := base64.StdEncoding.DecodeString(string(bytes.TrimSpace(data)))
	if err != nil {
		return nil, fmt.Errorf("decode seed: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("seed is %d bytes, want %d", len(seed), ed25519.SeedSize)
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

// pollOnce fetches and answers at most one task. It reports whether a task
// was handled.
func pollOnce(client *http.Client, baseURL, operatorID string, priv ed25519.PrivateKey) (bool, error) {
	resp, err := client.Get(baseURL + "/v1/tasks/next?operator_id=" + operatorID)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNoContent:
		return false, nil
	case http.StatusOK:
	default:
		return false, fmt.Errorf("next task: status %d", resp.StatusCode)
	}

	var task model.Task
	if err := json.NewDecoder(resp.Body).Decode(&task); err != nil {
		return false, fmt.Errorf("decode task: %w", err)
	}

	// Deterministic response: all honest operators agree on the same digest
	// of the task input.
	digest := sha256.Sum256(task.Input)
	payload := hex.EncodeToString(digest[:])
	sig := ed25519.Sign(priv, operator.CanonicalMessage(task.ID, payload))

	body, err := json.Marshal(map[string]string{
		"operator_id": operatorID,
		"response":    payload,
		"signature":   base64.StdEncoding.EncodeToString(sig),
	})
	if err != nil {
		return false, err
	}

	submitResp, err := client.Post(
		baseURL+"/v1/tasks/"+task.ID+"/responses", "application/json", bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	defer submitResp.Body.Close()

	if submitResp.StatusCode != http.StatusCreated {
		return false, fmt.Errorf("submit response for task %s: status %d", task.ID, submitResp.StatusCode)
	}
	log.Printf("answered task %s", task.ID)
	return true, nil
}
