// --- File: pkg/dispatch/engine.go ---

// Package dispatch implements the push dispatch engine: per-platform routing,
// delivery result interpretation, and APNS-to-FCM token translation.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tinywideclouds/go-push-registry/pkg/device"
	"github.com/tinywideclouds/go-push-registry/pkg/gateway"
)

// ErrExpiredTokensUnsupported reports a platform with no expired-token
// feedback mechanism. Only APNS provides one.
var ErrExpiredTokensUnsupported = errors.New("expired-token feedback not available for platform")

// Config is the deployment configuration the engine depends on. It is passed
// in explicitly; the engine reads no ambient state.
type Config struct {
	// Application identifies this app installation in token import requests.
	Application string

	// APNSHost is the Apple gateway host. A host naming the sandbox
	// environment switches token imports to sandbox mode.
	APNSHost string

	// APNSUseFCM prefers FCM-bridged delivery for APNS devices that have, or
	// can obtain, a translated token.
	APNSUseFCM bool
}

// Gateways bundles the vendor clients the engine routes to. Vendors a
// deployment does not use may be left nil; dispatching to them fails with an
// explicit error.
type Gateways struct {
	GCM           gateway.GCMGateway
	FCM           gateway.FCMGateway
	APNS          gateway.APNSGateway
	WNS           gateway.WNSGateway
	Web           gateway.WebPushGateway
	TokenImporter gateway.TokenImporter
}

// Options are the optional send attributes a caller can attach.
type Options struct {
	// Extra is merged into the data payload on data-capable platforms.
	Extra map[string]string

	// Sound and Category apply to native APNS delivery only.
	Sound    string
	Category string
}

// Option mutates the send Options.
type Option func(*Options)

// WithExtra merges extra key/value pairs into the data payload.
func WithExtra(extra map[string]string) Option {
	return func(o *Options) { o.Extra = extra }
}

// WithSound sets the APNS notification sound.
func WithSound(sound string) Option {
	return func(o *Options) { o.Sound = sound }
}

// WithCategory sets the APNS notification category.
func WithCategory(category string) Option {
	return func(o *Options) { o.Category = category }
}

func buildOptions(opts []Option) Options {
	var o Options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Engine routes messages to the vendor gateway matching each device's
// platform and applies the delivery outcome back onto the device records.
type Engine struct {
	cfg        Config
	gateways   Gateways
	translator *Translator
	results    *ResultInterpreter
	logger     *slog.Logger
}

// NewEngine wires the engine with its translator and result interpreter.
func NewEngine(cfg Config, repo device.Repository, gw Gateways, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:        cfg,
		gateways:   gw,
		translator: NewTranslator(cfg, gw.TokenImporter, repo, logger),
		results:    NewResultInterpreter(repo, logger),
		logger:     logger.With("component", "DispatchEngine"),
	}
}

// Send makes one delivery attempt to a single device, active or not. The
// returned Result is non-nil only on paths that produce interpretable
// per-recipient outcomes (GCM, FCM-bridged APNS, web push); native APNS and
// WNS report errors only.
func (e *Engine) Send(ctx context.Context, d *device.Device, message string, opts ...Option) (*gateway.Result, error) {
	o := buildOptions(opts)
	switch d.Platform {
	case device.PlatformGCM:
		return e.sendGCM(ctx, []*device.Device{d}, message, o)
	case device.PlatformAPNS:
		return e.sendAPNS(ctx, d, message, o)
	case device.PlatformWNS:
		if e.gateways.WNS == nil {
			return nil, e.gatewayMissing("wns")
		}
		return nil, e.gateways.WNS.Send(ctx, d.RegistrationID, message)
	case device.PlatformWebPush:
		return e.sendWebPush(ctx, []*device.Device{d}, message, o)
	default:
		return nil, fmt.Errorf("unknown platform %q", d.Platform)
	}
}

// SendBatch makes one bulk delivery attempt to devices of a single platform.
// Inactive devices are skipped; when nothing is active no gateway call is
// made and both return values are nil.
func (e *Engine) SendBatch(ctx context.Context, devices []*device.Device, message string, opts ...Option) (*gateway.Result, error) {
	o := buildOptions(opts)

	var p device.Platform
	active := make([]*device.Device, 0, len(devices))
	for _, d := range devices {
		if p == "" {
			p = d.Platform
		}
		if d.Platform != p {
			return nil, fmt.Errorf("mixed platforms in batch: %s and %s", p, d.Platform)
		}
		if d.Active {
			active = append(active, d)
		}
	}
	if len(active) == 0 {
		return nil, nil
	}

	switch p {
	case device.PlatformGCM:
		return e.sendGCM(ctx, active, message, o)
	case device.PlatformAPNS:
		if e.gateways.APNS == nil {
			return nil, e.gatewayMissing("apns")
		}
		return nil, e.gateways.APNS.SendBulk(ctx, registrationIDs(active), message, apnsOptions(o))
	case device.PlatformWNS:
		if e.gateways.WNS == nil {
			return nil, e.gatewayMissing("wns")
		}
		return nil, e.gateways.WNS.SendBulk(ctx, registrationIDs(active), message)
	case device.PlatformWebPush:
		return e.sendWebPush(ctx, active, message, o)
	default:
		return nil, fmt.Errorf("unknown platform %q", p)
	}
}

// ExpiredTokens returns the registration ids the vendor has reported dead
// since the last call. APNS only; the other vendors expose no equivalent
// feed, their dead tokens surface through per-send delivery results.
func (e *Engine) ExpiredTokens(ctx context.Context, p device.Platform) ([]string, error) {
	if p != device.PlatformAPNS {
		return nil, fmt.Errorf("%w: %s", ErrExpiredTokensUnsupported, p)
	}
	if e.gateways.APNS == nil {
		return nil, e.gatewayMissing("apns")
	}
	return e.gateways.APNS.FetchInactiveIDs(ctx)
}

func (e *Engine) sendGCM(ctx context.Context, devices []*device.Device, message string, o Options) (*gateway.Result, error) {
	if e.gateways.GCM == nil {
		return nil, e.gatewayMissing("gcm")
	}
	res, err := e.gateways.GCM.Send(ctx, registrationIDs(devices), dataPayload(message, o))
	if err != nil {
		return nil, err
	}
	if err := e.results.ApplyBatch(ctx, devices, res); err != nil {
		return res, err
	}
	return res, nil
}

func (e *Engine) sendAPNS(ctx context.Context, d *device.Device, message string, o Options) (*gateway.Result, error) {
	if e.cfg.APNSUseFCM {
		e.translator.Resolve(ctx, d)
		if d.FCMToken != "" {
			if e.gateways.FCM == nil {
				return nil, e.gatewayMissing("fcm")
			}
			res, err := e.gateways.FCM.SendToDevice(ctx, d.FCMToken, message, o.Extra)
			if err != nil {
				return nil, err
			}
			if err := e.results.Apply(ctx, d, res); err != nil {
				return res, err
			}
			return res, nil
		}
		// No usable translation; fall back to the native gateway.
	}
	if e.gateways.APNS == nil {
		return nil, e.gatewayMissing("apns")
	}
	return nil, e.gateways.APNS.Send(ctx, d.RegistrationID, message, apnsOptions(o))
}

func (e *Engine) sendWebPush(ctx context.Context, devices []*device.Device, message string, o Options) (*gateway.Result, error) {
	if e.gateways.Web == nil {
		return nil, e.gatewayMissing("webpush")
	}
	payload, err := json.Marshal(dataPayload(message, o))
	if err != nil {
		return nil, fmt.Errorf("marshal web push payload: %w", err)
	}
	recs := make([]gateway.WebPushRecipient, len(devices))
	for i, d := range devices {
		recs[i] = gateway.WebPushRecipient{Endpoint: d.RegistrationID}
		if d.WebPush != nil {
			recs[i].P256dh = d.WebPush.P256dh
			recs[i].Auth = d.WebPush.Auth
		}
	}
	res, err := e.gateways.Web.SendBulk(ctx, recs, payload)
	if err != nil {
		return nil, err
	}
	if err := e.results.ApplyBatch(ctx, devices, res); err != nil {
		return res, err
	}
	return res, nil
}

func (e *Engine) gatewayMissing(name string) error {
	e.logger.Warn("Dispatch attempted against an unconfigured gateway.", "gateway", name)
	return fmt.Errorf("no %s gateway configured", name)
}

// dataPayload is the GCM-style data message shape: the caller's extra entries
// plus the message text under the "message" key when one is present.
func dataPayload(message string, o Options) map[string]string {
	data := make(map[string]string, len(o.Extra)+1)
	for k, v := range o.Extra {
		data[k] = v
	}
	if message != "" {
		data["message"] = message
	}
	return data
}

func apnsOptions(o Options) gateway.APNSOptions {
	return gateway.APNSOptions{Sound: o.Sound, Category: o.Category}
}

func registrationIDs(devices []*device.Device) []string {
	ids := make([]string, len(devices))
	for i, d := range devices {
		ids[i] = d.RegistrationID
	}
	return ids
}
