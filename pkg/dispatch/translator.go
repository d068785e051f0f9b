// --- File: pkg/dispatch/translator.go ---
package dispatch

import (
	"context"
	"log/slog"
	"strings"

	"github.com/tinywideclouds/go-push-registry/pkg/device"
	"github.com/tinywideclouds/go-push-registry/pkg/gateway"
)

// Translator resolves an FCM-routable token for an APNS device through the
// vendor's batch import endpoint and caches the answer on the device record.
type Translator struct {
	importer    gateway.TokenImporter
	repo        device.Repository
	application string
	sandbox     bool
	logger      *slog.Logger
}

// NewTranslator derives sandbox mode from the configured APNS host: any host
// naming the sandbox environment imports sandbox tokens.
func NewTranslator(cfg Config, importer gateway.TokenImporter, repo device.Repository, logger *slog.Logger) *Translator {
	return &Translator{
		importer:    importer,
		repo:        repo,
		application: cfg.Application,
		sandbox:     strings.Contains(cfg.APNSHost, "sandbox"),
		logger:      logger.With("component", "TokenTranslator"),
	}
}

// Resolve fills d.FCMToken from the conversion endpoint. It is idempotent: a
// cached token short-circuits without a network call. Failures are logged and
// swallowed so the caller can fall back to native delivery; the device is
// left untouched for the next attempt.
func (t *Translator) Resolve(ctx context.Context, d *device.Device) {
	if d.FCMToken != "" {
		return
	}
	if t.importer == nil {
		t.logger.Debug("No token importer configured; keeping native delivery.", "device_id", d.ID)
		return
	}

	results, err := t.importer.ImportAPNSTokens(ctx, gateway.ImportRequest{
		Application: t.application,
		Sandbox:     t.sandbox,
		APNSTokens:  []string{d.RegistrationID},
	})
	if err != nil {
		t.logger.Warn("Token import failed.", "device_id", d.ID, "err", err)
		return
	}

	var token string
	for _, r := range results {
		if r.APNSToken == d.RegistrationID && r.Status == gateway.ImportStatusOK {
			token = r.RegistrationToken
			break
		}
	}
	if token == "" {
		t.logger.Debug("Token import returned no usable token.", "device_id", d.ID)
		return
	}

	d.FCMToken = token
	if err := t.repo.UpdateFields(ctx, d, device.FieldFCMToken); err != nil {
		t.logger.Warn("Failed to persist translated token.", "device_id", d.ID, "err", err)
	}
}
