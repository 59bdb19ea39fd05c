// Package probe provides retrieval adapters that turn a rule's target
// descriptor into an observation the validation engine can check. The
// engine itself never performs I/O; these adapters are the boundary.
package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dstrachan/verdict/validation"
)

// HTTPRetriever executes a rule's target as an HTTP request and exposes the
// response as a map the engine's checks can select into:
//
//	status           int
//	headers          map[string]any (lowercased names, first value)
//	body             parsed JSON, or the raw string for non-JSON bodies
//	response_time_ms float64
//
// Recognized target keys: url (required), method (default GET), headers
// (map of request headers), body (request body string).
type HTTPRetriever struct {
	client *http.Client
}

// NewHTTPRetriever creates a retriever using the given client; pass nil for
// a default client. Per-rule timeouts arrive through the context.
func NewHTTPRetriever(client *http.Client) *HTTPRetriever {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPRetriever{client: client}
}

// Retrieve implements validation.Retriever.
func (p *HTTPRetriever) Retrieve(ctx context.Context, rule *validation.Rule) (any, error) {
	url, _ := rule.Target["url"].(string)
	if url == "" {
		return nil, fmt.Errorf("rule %s: target has no url", rule.ID)
	}

	method, _ := rule.Target["method"].(string)
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if raw, ok := rule.Target["body"].(string); ok && raw != "" {
		body = strings.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(method), url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if headers, ok := rule.Target["headers"].(map[string]any); ok {
		for name, value := range headers {
			req.Header.Set(name, fmt.Sprintf("%v", value))
		}
	}

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	elapsed := time.Since(start)

	headers := make(map[string]any, len(resp.Header))
	for name, values := range resp.Header {
		if len(values) > 0 {
			headers[strings.ToLower(name)] = values[0]
		}
	}

	var parsed any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		parsed = string(raw)
	}

	return map[string]any{
		"status":           resp.StatusCode,
		"headers":          headers,
		"body":             parsed,
		"response_time_ms": float64(elapsed.Microseconds()) / 1000.0,
	}, nil
}
