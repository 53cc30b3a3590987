// Package finance provides the HTTP client for the finance service, consulted
// when a finance-target approval is created.
package finance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/haneul-labs/tripdesk/internal/config"
	"github.com/haneul-labs/tripdesk/internal/observability"
	"github.com/haneul-labs/tripdesk/model"
)

// Client implements model.FinanceLookup against the finance service's REST
// API. Lookups happen once per create and are never retried; a flaky finance
// service must not turn one approval into several.
type Client struct {
	baseURL string
	client  *http.Client
	metrics *observability.Metrics
}

// NewClient creates a finance client from config.
func NewClient(cfg config.FinanceConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxConnsPerHost:     50,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
	}
}

type recordResponse struct {
	Data model.FinanceRecord `json:"data"`
}

// WithMetrics enables lookup instrumentation and returns the client.
func (c *Client) WithMetrics(m *observability.Metrics) *Client {
	c.metrics = m
	return c
}

// FindByID fetches a single finance record. A 404 from the service maps to
// NOT_FOUND; transport failures and 5xx responses map to BACKEND_UNAVAILABLE.
func (c *Client) FindByID(ctx context.Context, id string) (model.FinanceRecord, error) {
	start := time.Now()
	record, err := c.findByID(ctx, id)

	if c.metrics != nil {
		outcome := "ok"
		if err != nil {
			outcome = "error"
			if env, ok := err.(*model.ErrorEnvelope); ok && env.Code == model.ErrNotFound {
				outcome = "not_found"
			}
		}
		c.metrics.RecordFinanceLookup(outcome, time.Since(start))
	}
	return record, err
}

func (c *Client) findByID(ctx context.Context, id string) (model.FinanceRecord, error) {
	reqURL := fmt.Sprintf("%s/finance/records/%s", c.baseURL, url.PathEscape(id))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return model.FinanceRecord{}, fmt.Errorf("finance: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return model.FinanceRecord{}, model.NewBackendUnavailableError()
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return model.FinanceRecord{}, model.NewNotFoundError(
			fmt.Sprintf("finance record %q not found", id))
	case resp.StatusCode >= 500:
		return model.FinanceRecord{}, model.NewBackendUnavailableError()
	case resp.StatusCode != http.StatusOK:
		return model.FinanceRecord{}, fmt.Errorf(
			"finance: unexpected status %d for record %q", resp.StatusCode, id)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return model.FinanceRecord{}, fmt.Errorf("finance: read response: %w", err)
	}

	var parsed recordResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return model.FinanceRecord{}, fmt.Errorf("finance: decode response: %w", err)
	}
	if parsed.Data.ID == "" {
		// Some deployments return the record at the top level.
		var record model.FinanceRecord
		if err := json.Unmarshal(body, &record); err != nil || record.ID == "" {
			return model.FinanceRecord{}, fmt.Errorf("finance: empty record for %q", id)
		}
		return record, nil
	}
	return parsed.Data, nil
}
