// Package http probes a URL on every eligible window of a task, for
// recurring health checks and webhook-style pings. The run deadline
// comes from the worker's context; the client itself has no timeout.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// bodySnippet bounds how much of a failing response a report carries.
const bodySnippet = 512

type HTTP struct {
	// Client to probe with; nil means http.DefaultClient.
	Client *http.Client
}

// Probe is the payload bound to a task at start. ExpectStatus of zero
// accepts anything below 400.
type Probe struct {
	URL          string            `json:"url"`
	Method       string            `json:"method,omitempty"`
	Headers      map[string]string `json:"headers,omitempty"`
	Body         string            `json:"body,omitempty"`
	ExpectStatus int               `json:"expectStatus,omitempty"`
}

func (h HTTP) Handle(ctx context.Context, payload json.RawMessage) error {
	var p Probe
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode http payload: %w", err)
	}
	if p.URL == "" {
		return errors.New("http payload: url is required")
	}
	if p.Method == "" {
		p.Method = http.MethodGet
	}

	var body io.Reader
	if p.Body != "" {
		body = strings.NewReader(p.Body)
	}
	req, err := http.NewRequestWithContext(ctx, p.Method, p.URL, body)
	if err != nil {
		return fmt.Errorf("build probe request: %w", err)
	}
	for k, v := range p.Headers {
		req.Header.Set(k, v)
	}

	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("probe %s: %w", p.URL, err)
	}
	defer resp.Body.Close()

	if badStatus(resp.StatusCode, p.ExpectStatus) {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, bodySnippet))
		return fmt.Errorf("probe %s %s: status %d: %s", p.Method, p.URL, resp.StatusCode, snippet)
	}
	// Drain so the connection can be reused across windows.
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func badStatus(got, want int) bool {
	if want != 0 {
		return got != want
	}
	return got >= 400
}
