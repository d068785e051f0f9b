// --- File: internal/platform/apns/gateway.go ---
// Package apns provides the native client for the Apple Push Notification
// service.
package apns

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"
	"github.com/tinywideclouds/go-push-registry/pkg/gateway"
)

// APNSClient defines the subset of the apns2.Client methods we use.
// This allows mocking for unit tests.
type APNSClient interface {
	Push(n *apns2.Notification) (*apns2.Response, error)
}

// Config holds the credentials required to sign APNs tokens.
type Config struct {
	KeyID    string
	TeamID   string
	BundleID string
	// P8KeyContent is the raw string content of the .p8 file
	P8KeyContent string
	// Host selects the Apple environment. Any host naming the sandbox routes
	// to the development gateway; everything else goes to production.
	Host string
}

// Gateway pushes alerts over Apple's unary HTTP/2 API and pools the
// registration ids Apple rejects as dead, for later collection.
type Gateway struct {
	client APNSClient
	topic  string // The App Bundle ID (e.g. com.tinywide.messenger)
	logger *slog.Logger

	mu       sync.Mutex
	inactive map[string]struct{}
}

// NewGateway creates a configured APNS gateway. It parses the P8 key
// immediately to fail fast on startup if credentials are bad.
func NewGateway(cfg Config, logger *slog.Logger) (*Gateway, error) {
	authKey, err := token.AuthKeyFromBytes([]byte(cfg.P8KeyContent))
	if err != nil {
		return nil, fmt.Errorf("failed to parse APNs P8 key: %w", err)
	}

	tokenSource := &token.Token{
		AuthKey: authKey,
		KeyID:   cfg.KeyID,
		TeamID:  cfg.TeamID,
	}

	client := apns2.NewTokenClient(tokenSource)
	if strings.Contains(cfg.Host, "sandbox") {
		client.Development()
	} else {
		client.Production()
	}

	return &Gateway{
		client:   client,
		topic:    cfg.BundleID,
		logger:   logger.With("component", "APNSGateway"),
		inactive: make(map[string]struct{}),
	}, nil
}

// newWithClient exists for unit tests that substitute the push client.
func newWithClient(client APNSClient, topic string, logger *slog.Logger) *Gateway {
	return &Gateway{
		client:   client,
		topic:    topic,
		logger:   logger.With("component", "APNSGateway"),
		inactive: make(map[string]struct{}),
	}
}

// Send pushes a plain-string alert to one registration id. A vendor
// rejection is returned as an error; dead tokens are additionally pooled for
// FetchInactiveIDs.
func (g *Gateway) Send(_ context.Context, registrationID, alert string, opts gateway.APNSOptions) error {
	res, err := g.client.Push(g.notification(registrationID, alert, opts))
	if err != nil {
		return fmt.Errorf("apns transport failed: %w", err)
	}
	if res.Sent() {
		return nil
	}
	g.recordIfDead(registrationID, res.Reason)
	return fmt.Errorf("apns rejected notification: %s (status %d)", res.Reason, res.StatusCode)
}

// SendBulk pushes the alert to each registration id in turn.
// Note: APNs HTTP/2 API is unary (one request per token). There is no
// "Multicast" endpoint. We iterate sequentially; given this runs inside a
// scaled pipeline worker, serial processing per-user is acceptable.
// Individual rejections are logged and pooled rather than aborting the batch.
func (g *Gateway) SendBulk(_ context.Context, registrationIDs []string, alert string, opts gateway.APNSOptions) error {
	successCount := 0
	failureCount := 0

	for _, registrationID := range registrationIDs {
		res, err := g.client.Push(g.notification(registrationID, alert, opts))
		if err != nil {
			// Network/Transport failure for this one token.
			g.logger.Error("APNs transport failed", "token", registrationID, "err", err)
			failureCount++
			continue
		}
		if res.Sent() {
			successCount++
			continue
		}
		failureCount++
		g.recordIfDead(registrationID, res.Reason)
		g.logger.Warn("APNs rejected notification", "reason", res.Reason, "status", res.StatusCode)
	}

	g.logger.Debug("Bulk push complete.", "success", successCount, "failure", failureCount)
	return nil
}

// FetchInactiveIDs drains the pool of registration ids Apple has rejected as
// unreachable since the last call. The HTTP/2 API replaced the old feedback
// service with per-push Unregistered responses, so this pool is where they
// accumulate.
func (g *Gateway) FetchInactiveIDs(_ context.Context) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	ids := make([]string, 0, len(g.inactive))
	for id := range g.inactive {
		ids = append(ids, id)
	}
	g.inactive = make(map[string]struct{})
	sort.Strings(ids)
	return ids, nil
}

func (g *Gateway) notification(registrationID, alert string, opts gateway.APNSOptions) *apns2.Notification {
	// A bare-string alert keeps the payload shape the installed clients
	// parse; the title/body dictionary form is a different schema.
	builder := payload.NewPayload().Alert(alert)
	if opts.Sound != "" {
		builder.Sound(opts.Sound)
	}
	if opts.Category != "" {
		builder.Category(opts.Category)
	}
	return &apns2.Notification{
		DeviceToken: registrationID,
		Topic:       g.topic,
		Payload:     builder,
	}
}

func (g *Gateway) recordIfDead(registrationID, reason string) {
	// See: https://developer.apple.com/documentation/usernotifications/setting_up_a_remote_notification_server/handling_notification_responses_from_apns
	switch reason {
	case apns2.ReasonBadDeviceToken, apns2.ReasonUnregistered, apns2.ReasonDeviceTokenNotForTopic:
		g.mu.Lock()
		g.inactive[registrationID] = struct{}{}
		g.mu.Unlock()
	}
}
