package operator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultRequestTimeout = 5 * time.Second

// Compile-time interface satisfaction checks.
var (
	_ Directory     = (*HTTPRegistry)(nil)
	_ Authenticator = (*HTTPRegistry)(nil)
)

// HTTPRegistry talks to an external operator registry service over JSON.
// Transport failures and non-2xx statuses surface as ErrUnavailable so the
// engine never mistakes an outage for an ineligible operator.
type HTTPRegistry struct {
	baseURL string
	client  *http.Client
}

// NewHTTPRegistry creates a registry client for the given base URL. A zero
// timeout falls back to the default request timeout.
func NewHTTPRegistry(baseURL string, timeout time.Duration) *HTTPRegistry {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &HTTPRegistry{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type countResponse struct {
	Count int `json:"count"`
}

type eligibleResponse struct {
	Eligible bool `json:"eligible"`
}

type verifyRequest struct {
	TaskID     string `json:"task_id"`
	Payload    string `json:"payload"`
	OperatorID string `json:"operator_id"`
	Signature  string `json:"signature"`
}

type verifyResponse struct {
	Valid bool `json:"valid"`
}

// CurrentOperatorCount fetches the current eligible operator count.
func (h *HTTPRegistry) CurrentOperatorCount(ctx context.Context) (int, error) {
	var out countResponse
	if err := h.getJSON(ctx, "/v1/operators/count", &out); err != nil {
		return 0, err
	}
	if out.Count < 0 {
		return 0, fmt.Errorf("%w: negative operator count %d", ErrUnavailable, out.Count)
	}
	return out.Count, nil
}

// IsEligible asks the registry whether the operator is currently eligible.
// A 404 from the registry means the operator is unknown, not an outage.
func (h *HTTPRegistry) IsEligible(ctx context.Context, operatorID string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		h.baseURL+"/v1/operators/"+url.PathEscape(operatorID), nil)
	if err != nil {
		return false, fmt.Errorf("%w: build request: %v", ErrUnavailable, err)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	case resp.StatusCode >= 300:
		return false, fmt.Errorf("%w: registry returned %d", ErrUnavailable, resp.StatusCode)
	}

	var out eligibleResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	return out.Eligible, nil
}

// Verify submits the signature to the registry's verification endpoint.
func (h *HTTPRegistry) Verify(ctx context.Context, taskID, payload, operatorID, signature string) (bool, error) {
	body, err := json.Marshal(verifyRequest{
		TaskID:     taskID,
		Payload:    payload,
		OperatorID: operatorID,
		Signature:  signature,
	})
	if err != nil {
		return false, fmt.Errorf("%w: encode request: %v", ErrUnavailable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		h.baseURL+"/v1/verify", bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("%w: build request: %v", ErrUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return false, fmt.Errorf("%w: registry returned %d", ErrUnavailable, resp.StatusCode)
	}

	var out verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	return out.Valid, nil
}

// getJSON fetches a JSON document from the registry.
func (h *HTTPRegistry) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("%w: build request: %v", ErrUnavailable, err)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("%w: registry returned %d", ErrUnavailable, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	return nil
}
