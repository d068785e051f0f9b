// Package iid calls the Instance ID batchImport endpoint that converts APNS
// registration ids into FCM-routable tokens.
package iid

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/tinywideclouds/go-push-registry/pkg/gateway"
)

// DefaultEndpoint is Google's production batch import URL.
const DefaultEndpoint = "https://iid.googleapis.com/iid/v1:batchImport"

// Config holds the import credentials.
type Config struct {
	// APIKey is the legacy server key, sent as the Authorization credential.
	APIKey string
	// Endpoint overrides DefaultEndpoint. Tests point it at a local server.
	Endpoint string
}

// Client implements the token importer contract over plain HTTP; the
// batchImport call is not covered by the Firebase Admin SDK.
type Client struct {
	apiKey     string
	endpoint   string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &Client{
		apiKey:     cfg.APIKey,
		endpoint:   endpoint,
		httpClient: &http.Client{},
		logger:     logger.With("component", "IIDClient"),
	}
}

// ImportAPNSTokens posts one batch import request and returns the per-token
// conversion results in the vendor's order.
func (c *Client) ImportAPNSTokens(ctx context.Context, req gateway.ImportRequest) ([]gateway.ImportResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal import request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build import request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	// The legacy server key scheme, not a Bearer token.
	httpReq.Header.Set("Authorization", "key="+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("token import request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token import rejected: status %d", resp.StatusCode)
	}

	var payload struct {
		Results []gateway.ImportResult `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode import response: %w", err)
	}

	c.logger.Debug("Token import complete.", "requested", len(req.APNSTokens), "returned", len(payload.Results))
	return payload.Results, nil
}
