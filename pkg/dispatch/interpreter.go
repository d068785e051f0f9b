// --- File: pkg/dispatch/interpreter.go ---
package dispatch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tinywideclouds/go-push-registry/pkg/device"
	"github.com/tinywideclouds/go-push-registry/pkg/gateway"
)

// Outcome classifies a vendor's per-recipient error code.
type Outcome int

const (
	// OutcomeSuccess is an accepted message.
	OutcomeSuccess Outcome = iota

	// OutcomeUnrecoverable marks a token the vendor will never deliver to
	// again. The device behind it must stop receiving sends.
	OutcomeUnrecoverable

	// OutcomeConfiguration marks a credential or sender mismatch. Retrying
	// per device is pointless; the deployment itself is wrong.
	OutcomeConfiguration

	// OutcomeUnclassified covers transient and unknown vendor codes. No side
	// effect; callers inspect the raw result if they care.
	OutcomeUnclassified
)

// The vendor error strings live here and nowhere else; everything downstream
// works on Outcome values.
var (
	configurationCodes = map[string]struct{}{
		"MismatchSenderId": {},
	}
	unrecoverableCodes = map[string]struct{}{
		"MissingRegistration": {},
		"InvalidRegistration": {},
		"NotRegistered":       {},
	}
)

// Classify maps a vendor error code onto an Outcome. An empty code is a
// success.
func Classify(code string) Outcome {
	if code == "" {
		return OutcomeSuccess
	}
	if _, ok := configurationCodes[code]; ok {
		return OutcomeConfiguration
	}
	if _, ok := unrecoverableCodes[code]; ok {
		return OutcomeUnrecoverable
	}
	return OutcomeUnclassified
}

// ConfigurationError reports a vendor signal that the sender credentials are
// wrong for the whole deployment. It is never handled per device; callers
// must see it.
type ConfigurationError struct {
	DeviceID string
	Code     string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("push gateway misconfigured (device %s): %s", e.DeviceID, e.Code)
}

// ResultInterpreter turns per-recipient vendor outcomes into device state:
// unrecoverable rejections deactivate the device, configuration errors
// surface to the caller, everything else is left alone.
type ResultInterpreter struct {
	repo   device.Repository
	logger *slog.Logger
}

// NewResultInterpreter returns an interpreter writing deactivations through
// repo.
func NewResultInterpreter(repo device.Repository, logger *slog.Logger) *ResultInterpreter {
	return &ResultInterpreter{
		repo:   repo,
		logger: logger.With("component", "ResultInterpreter"),
	}
}

// Apply handles a single-device result. Only the first recipient entry is
// inspected, mirroring the single-device delivery path.
func (ri *ResultInterpreter) Apply(ctx context.Context, d *device.Device, res *gateway.Result) error {
	if !res.Failed() || len(res.Recipients) == 0 {
		return nil
	}
	return ri.applyOne(ctx, d, res.Recipients[0])
}

// ApplyBatch zips devices against the result's recipient list, one decision
// per device. The two lists share their order by contract. A configuration
// error found anywhere in the batch is returned after every entry has been
// processed.
func (ri *ResultInterpreter) ApplyBatch(ctx context.Context, devices []*device.Device, res *gateway.Result) error {
	if !res.Failed() {
		return nil
	}
	if len(devices) != len(res.Recipients) {
		ri.logger.Warn("Recipient count does not match the device batch.",
			"devices", len(devices), "recipients", len(res.Recipients))
	}

	var cfgErr error
	n := min(len(devices), len(res.Recipients))
	for i := 0; i < n; i++ {
		if err := ri.applyOne(ctx, devices[i], res.Recipients[i]); err != nil && cfgErr == nil {
			cfgErr = err
		}
	}
	return cfgErr
}

func (ri *ResultInterpreter) applyOne(ctx context.Context, d *device.Device, rec gateway.Recipient) error {
	switch Classify(rec.ErrorCode) {
	case OutcomeUnrecoverable:
		d.Active = false
		if err := ri.repo.UpdateFields(ctx, d, device.FieldActive); err != nil {
			// The vendor verdict stands even if the write misses; the next
			// delivery attempt will hit the same rejection.
			ri.logger.Warn("Failed to deactivate device.", "device_id", d.ID, "err", err)
			return nil
		}
		ri.logger.Info("Device deactivated after vendor rejection.",
			"device_id", d.ID, "code", rec.ErrorCode)
		return nil
	case OutcomeConfiguration:
		return &ConfigurationError{DeviceID: d.ID, Code: rec.ErrorCode}
	default:
		return nil
	}
}
