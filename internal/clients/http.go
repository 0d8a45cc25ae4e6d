// Package clients holds the HTTP clients for BrikPay's internal
// collaborator services: balances, payments, and refund approvals. All
// calls go through per-service circuit breakers.
package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/BrikPay/refunds-service/internal/config"
	"github.com/BrikPay/refunds-service/internal/metrics"
)

// httpClient is the shared transport wrapper for collaborator calls.
type httpClient struct {
	base     string
	apiKey   string
	client   *http.Client
	breakers *BreakerManager
	service  ServiceType
	metrics  *metrics.Metrics
}

func newHTTPClient(cfg config.CollaboratorConfig, service ServiceType, breakers *BreakerManager, collector *metrics.Metrics) *httpClient {
	timeout := cfg.Timeout.Duration
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &httpClient{
		base:     cfg.BaseURL,
		apiKey:   cfg.APIKey,
		client:   &http.Client{Timeout: timeout},
		breakers: breakers,
		service:  service,
		metrics:  collector,
	}
}

// statusError carries the collaborator's HTTP status and body for the
// caller to map into the taxonomy.
type statusError struct {
	Service    ServiceType
	StatusCode int
	Body       []byte
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%s: HTTP %d", e.Service, e.StatusCode)
}

// errorBody is the standard error payload shape across BrikPay services.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *statusError) decoded() errorBody {
	var body errorBody
	_ = json.Unmarshal(e.Body, &body)
	return body
}

// doJSON issues a request through the service breaker and decodes the
// response into out (when out is non-nil). Non-2xx responses come back as
// *statusError for the typed clients to map.
func (c *httpClient) doJSON(ctx context.Context, method, path string, headers map[string]string, body, out any) error {
	start := time.Now()
	_, err := c.breakers.Execute(c.service, func() (interface{}, error) {
		return nil, c.roundTrip(ctx, method, path, headers, body, out)
	})

	if c.metrics != nil {
		outcome := "success"
		if err != nil {
			outcome = "failure"
		}
		c.metrics.CollaboratorCallsTotal.WithLabelValues(string(c.service), outcome).Inc()
		c.metrics.CollaboratorCallDuration.WithLabelValues(string(c.service)).Observe(time.Since(start).Seconds())
	}
	return err
}

func (c *httpClient) roundTrip(ctx context.Context, method, path string, headers map[string]string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", c.service, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", c.service, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", c.service, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: read response: %w", c.service, err)
	}
	if resp.StatusCode >= 400 {
		return &statusError{Service: c.service, StatusCode: resp.StatusCode, Body: raw}
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("%s: decode response: %w", c.service, err)
		}
	}
	return nil
}
