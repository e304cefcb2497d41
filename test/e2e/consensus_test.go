// Package e2e exercises the full service stack in-process: HTTP API, engine,
// static operator registry, and a real SQLite database.
package e2e

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/tburke/arbiter/internal/api"
	"github.com/tburke/arbiter/internal/engine"
	"github.com/tburke/arbiter/internal/model"
	"github.com/tburke/arbiter/internal/operator"
	"github.com/tburke/arbiter/internal/store"
)

// simOperator is an in-test operator identity with its signing key.
type simOperator struct {
	id   string
	priv ed25519.PrivateKey
}

func (o *simOperator) sign(taskID, payload string) string {
	return base64.StdEncoding.EncodeToString(
		ed25519.Sign(o.priv, operator.CanonicalMessage(taskID, payload)))
}

// startService brings up the whole stack with n registered operators.
func startService(t *testing.T, n int, cfg engine.Config) (*httptest.Server, []*simOperator) {
	t.Helper()

	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "e2e.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	ops := make([]*simOperator, n)
	pubs := make(map[string]ed25519.PublicKey, n)
	for i := range ops {
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			t.Fatalf("GenerateKey: %v", err)
		}
		id := fmt.Sprintf("op-%d", i+1)
		ops[i] = &simOperator{id: id, priv: priv}
		pubs[id] = pub
	}
	reg := operator.NewStaticRegistry(pubs)

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	eng := engine.NewEngine(s, reg, reg, cfg, logger)
	srv := api.NewServer(":0", s, eng, logger)

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, ops
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	resp, err := http.Post(url, "application/json", &buf)
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func decodeJSON[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

// admitEnvelope mirrors the admission response body.
type admitEnvelope struct {
	Response   *model.TaskResponse `json:"response"`
	Evaluation engine.Outcome      `json:"evaluation"`
}

func TestConsensusReached(t *testing.T) {
	// Five operators at the default 90% thresholds: all five must respond,
	// and at least ceil(0.9*5)=5 matching payloads are needed to win.
	ts, ops := startService(t, 5, engine.DefaultConfig())

	resp := postJSON(t, ts.URL+"/v1/tasks", map[string]any{"input": map[string]any{"query": "route"}})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create task status = %d, want 201", resp.StatusCode)
	}
	task := decodeJSON[model.Task](t, resp)

	for i, op := range ops {
		// Each operator polls for its next task first, like a real worker.
		pollResp, err := http.Get(ts.URL + "/v1/tasks/next?operator_id=" + op.id)
		if err != nil {
			t.Fatalf("GET next: %v", err)
		}
		if pollResp.StatusCode != http.StatusOK {
			t.Fatalf("poll status = %d, want 200", pollResp.StatusCode)
		}
		polled := decodeJSON[model.Task](t, pollResp)
		if polled.ID != task.ID {
			t.Fatalf("polled task = %q, want %q", polled.ID, task.ID)
		}

		resp := postJSON(t, ts.URL+"/v1/tasks/"+task.ID+"/responses", map[string]string{
			"operator_id": op.id,
			"response":    "answer-A",
			"signature":   op.sign(task.ID, "answer-A"),
		})
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("admit %s status = %d, want 201", op.id, resp.StatusCode)
		}
		env := decodeJSON[admitEnvelope](t, resp)

		if i < len(ops)-1 {
			if env.Evaluation.Kind != engine.OutcomeDeferred {
				t.Fatalf("after %d responses: outcome = %q, want deferred", i+1, env.Evaluation.Kind)
			}
		} else if env.Evaluation.Kind != engine.OutcomeFinalized {
			t.Fatalf("final outcome = %q, want finalized", env.Evaluation.Kind)
		}
	}

	getResp, err := http.Get(ts.URL + "/v1/tasks/" + task.ID)
	if err != nil {
		t.Fatalf("GET task: %v", err)
	}
	final := decodeJSON[model.Task](t, getResp)
	if final.Status != model.StatusCompleted {
		t.Errorf("status = %q, want completed", final.Status)
	}
	if final.Response == nil || *final.Response != "answer-A" {
		t.Errorf("response = %v, want answer-A", final.Response)
	}
	if final.FinalizedAt == nil {
		t.Errorf("finalized_at not set")
	}

	// Terminal tasks are no longer dispatched.
	pollResp, err := http.Get(ts.URL + "/v1/tasks/next?operator_id=" + ops[0].id)
	if err != nil {
		t.Fatalf("GET next: %v", err)
	}
	pollResp.Body.Close()
	if pollResp.StatusCode != http.StatusNoContent {
		t.Errorf("poll after finalization status = %d, want 204", pollResp.StatusCode)
	}
}

func TestConsensusNotReached(t *testing.T) {
	// Full participation required, 90% agreement needed: a 3-2 split over
	// five operators cannot produce a winner.
	cfg := engine.Config{ParticipationBps: 10000, ContentBps: 9000}
	ts, ops := startService(t, 5, cfg)

	resp := postJSON(t, ts.URL+"/v1/tasks", map[string]any{"input": map[string]any{"query": "split"}})
	task := decodeJSON[model.Task](t, resp)

	for i, op := range ops {
		payload := "answer-A"
		if i >= 3 {
			payload = "answer-B"
		}
		resp := postJSON(t, ts.URL+"/v1/tasks/"+task.ID+"/responses", map[string]string{
			"operator_id": op.id,
			"response":    payload,
			"signature":   op.sign(task.ID, payload),
		})
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("admit %s status = %d, want 201", op.id, resp.StatusCode)
		}
		resp.Body.Close()
	}

	getResp, err := http.Get(ts.URL + "/v1/tasks/" + task.ID)
	if err != nil {
		t.Fatalf("GET task: %v", err)
	}
	final := decodeJSON[model.Task](t, getResp)
	if final.Status != model.StatusConsensusNotReached {
		t.Errorf("status = %q, want consensus_not_reached", final.Status)
	}
	if final.Response != nil {
		t.Errorf("response = %q, want none", *final.Response)
	}
}

func TestDispatchOrderAcrossTasks(t *testing.T) {
	ts, ops := startService(t, 1, engine.DefaultConfig())
	op := ops[0]

	var taskIDs []string
	for i := 0; i < 3; i++ {
		resp := postJSON(t, ts.URL+"/v1/tasks", map[string]any{"input": map[string]int{"n": i}})
		task := decodeJSON[model.Task](t, resp)
		taskIDs = append(taskIDs, task.ID)
	}

	// The single operator drains the backlog oldest-first; each admission
	// finalizes the task immediately, so the next poll moves on.
	for _, want := range taskIDs {
		pollResp, err := http.Get(ts.URL + "/v1/tasks/next?operator_id=" + op.id)
		if err != nil {
			t.Fatalf("GET next: %v", err)
		}
		polled := decodeJSON[model.Task](t, pollResp)
		if polled.ID != want {
			t.Fatalf("polled = %q, want %q", polled.ID, want)
		}

		resp := postJSON(t, ts.URL+"/v1/tasks/"+polled.ID+"/responses", map[string]string{
			"operator_id": op.id,
			"response":    "done",
			"signature":   op.sign(polled.ID, "done"),
		})
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("admit status = %d, want 201", resp.StatusCode)
		}
		resp.Body.Close()
	}

	pollResp, err := http.Get(ts.URL + "/v1/tasks/next?operator_id=" + op.id)
	if err != nil {
		t.Fatalf("GET next: %v", err)
	}
	pollResp.Body.Close()
	if pollResp.StatusCode != http.StatusNoContent {
		t.Errorf("poll on drained backlog status = %d, want 204", pollResp.StatusCode)
	}
}

func TestForgedSignatureRejectedEndToEnd(t *testing.T) {
	ts, ops := startService(t, 2, engine.DefaultConfig())

	resp := postJSON(t, ts.URL+"/v1/tasks", map[string]any{"input": map[string]int{"n": 1}})
	task := decodeJSON[model.Task](t, resp)

	// op-2 signs, but the response claims to come from op-1.
	admitResp := postJSON(t, ts.URL+"/v1/tasks/"+task.ID+"/responses", map[string]string{
		"operator_id": ops[0].id,
		"response":    "forged",
		"signature":   ops[1].sign(task.ID, "forged"),
	})
	defer admitResp.Body.Close()
	if admitResp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", admitResp.StatusCode)
	}

	listResp, err := http.Get(ts.URL + "/v1/tasks/" + task.ID + "/responses")
	if err != nil {
		t.Fatalf("GET responses: %v", err)
	}
	var lr struct {
		Responses []*model.TaskResponse `json:"responses"`
	}
	json.NewDecoder(listResp.Body).Decode(&lr)
	listResp.Body.Close()
	if len(lr.Responses) != 0 {
		t.Errorf("stored responses = %d, want 0", len(lr.Responses))
	}
}
