package operator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newRegistryServer(t *testing.T, count int, eligible map[string]bool, valid bool) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/operators/count", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(countResponse{Count: count})
	})
	mux.HandleFunc("GET /v1/operators/{id}", func(w http.ResponseWriter, r *http.Request) {
		ok, known := eligible[r.PathValue("id")]
		if !known {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(eligibleResponse{Eligible: ok})
	})
	mux.HandleFunc("POST /v1/verify", func(w http.ResponseWriter, r *http.Request) {
		var req verifyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(verifyResponse{Valid: valid})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPRegistryCount(t *testing.T) {
	srv := newRegistryServer(t, 7, nil, true)
	reg := NewHTTPRegistry(srv.URL, time.Second)

	n, err := reg.CurrentOperatorCount(context.Background())
	if err != nil {
		t.Fatalf("CurrentOperatorCount: %v", err)
	}
	if n != 7 {
		t.Errorf("count = %d, want 7", n)
	}
}

func TestHTTPRegistryEligibility(t *testing.T) {
	srv := newRegistryServer(t, 2, map[string]bool{"op-1": true, "op-2": false}, true)
	reg := NewHTTPRegistry(srv.URL, time.Second)
	ctx := context.Background()

	tests := []struct {
		operatorID string
		want       bool
	}{
		{"op-1", true},
		{"op-2", false},
		{"op-unknown", false}, // registry 404 means unknown, not an outage
	}
	for _, tt := range tests {
		got, err := reg.IsEligible(ctx, tt.operatorID)
		if err != nil {
			t.Fatalf("IsEligible(%s): %v", tt.operatorID, err)
		}
		if got != tt.want {
			t.Errorf("IsEligible(%s) = %v, want %v", tt.operatorID, got, tt.want)
		}
	}
}

func TestHTTPRegistryVerify(t *testing.T) {
	srv := newRegistryServer(t, 2, nil, true)
	reg := NewHTTPRegistry(srv.URL, time.Second)

	ok, err := reg.Verify(context.Background(), "task-1", "42", "op-1", "c2ln")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !ok {
		t.Error("Verify = false, want true")
	}
}

func TestHTTPRegistryUnavailable(t *testing.T) {
	srv := newRegistryServer(t, 2, nil, true)
	srv.Close() // force connection failures
	reg := NewHTTPRegistry(srv.URL, time.Second)
	ctx := context.Background()

	if _, err := reg.CurrentOperatorCount(ctx); !errors.Is(err, ErrUnavailable) {
		t.Errorf("CurrentOperatorCount error = %v, want ErrUnavailable", err)
	}
	if _, err := reg.IsEligible(ctx, "op-1"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("IsEligible error = %v, want ErrUnavailable", err)
	}
	if _, err := reg.Verify(ctx, "t", "p", "op-1", "s"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Verify error = %v, want ErrUnavailable", err)
	}
}

func TestHTTPRegistryServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)
	reg := NewHTTPRegistry(srv.URL, time.Second)

	if _, err := reg.CurrentOperatorCount(context.Background()); !errors.Is(err, ErrUnavailable) {
		t.Errorf("CurrentOperatorCount error = %v, want ErrUnavailable", err)
	}
}
