// --- File: internal/platform/fcm/gateway.go ---
package fcm

import (
	"context"
	"fmt"
	"log/slog"

	"firebase.google.com/go/v4/messaging"
	"github.com/tinywideclouds/go-push-registry/pkg/gateway"
)

// MessagingClient defines the subset of the Firebase Messaging API we use.
// This interface allows us to mock the client for unit testing.
// Note: *messaging.Client automatically satisfies it.
type MessagingClient interface {
	Send(ctx context.Context, msg *messaging.Message) (string, error)
	SendEachForMulticast(ctx context.Context, msg *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

// Gateway sends through Firebase on both delivery shapes: multicast data
// payloads for GCM registrations and single notification sends for bridged
// APNS tokens.
type Gateway struct {
	client MessagingClient
	logger *slog.Logger
}

func NewGateway(client MessagingClient, logger *slog.Logger) *Gateway {
	return &Gateway{
		client: client,
		logger: logger.With("component", "FCMGateway"),
	}
}

// Send delivers one data payload to a batch of registration ids in a single
// multicast round trip. The returned recipients keep the token order.
func (g *Gateway) Send(ctx context.Context, registrationIDs []string, data map[string]string) (*gateway.Result, error) {
	if len(registrationIDs) == 0 {
		return nil, nil
	}

	msg := &messaging.MulticastMessage{
		Tokens: registrationIDs,
		Data:   data,
	}

	br, err := g.client.SendEachForMulticast(ctx, msg)
	if err != nil {
		// Real network/auth failure -> the caller decides about retries.
		return nil, fmt.Errorf("fcm transport failed: %w", err)
	}

	res := &gateway.Result{
		SuccessCount: br.SuccessCount,
		FailureCount: br.FailureCount,
		Recipients:   make([]gateway.Recipient, len(br.Responses)),
	}
	for idx, resp := range br.Responses {
		if resp.Success {
			res.Recipients[idx] = gateway.Recipient{MessageID: resp.MessageID}
			continue
		}
		res.Recipients[idx] = gateway.Recipient{ErrorCode: errorCode(resp.Error)}
	}

	g.logger.Debug("Multicast dispatched.", "success", br.SuccessCount, "failure", br.FailureCount)
	return res, nil
}

// SendToDevice delivers through the single-device API used for bridged APNS
// traffic. The notification carries body text only; a title would flip the
// APNs alert from a plain string to a dictionary, which installed clients do
// not parse.
func (g *Gateway) SendToDevice(ctx context.Context, token, body string, data map[string]string) (*gateway.Result, error) {
	msg := &messaging.Message{
		Token: token,
		Data:  data,
		Notification: &messaging.Notification{
			Body: body,
		},
	}

	id, err := g.client.Send(ctx, msg)
	if err != nil {
		code := errorCode(err)
		if code == codeUnknown {
			return nil, fmt.Errorf("fcm transport failed: %w", err)
		}
		// A classified rejection is a delivery outcome, not a transport
		// failure; report it through the result.
		return &gateway.Result{
			FailureCount: 1,
			Recipients:   []gateway.Recipient{{ErrorCode: code}},
		}, nil
	}

	return &gateway.Result{
		SuccessCount: 1,
		Recipients:   []gateway.Recipient{{MessageID: id}},
	}, nil
}

// Legacy HTTP protocol error strings. Result interpretation is keyed on
// these, so the SDK's error classes are folded back onto them here.
const (
	codeNotRegistered       = "NotRegistered"
	codeInvalidRegistration = "InvalidRegistration"
	codeMismatchSenderID    = "MismatchSenderId"
	codeRateExceeded        = "DeviceMessageRateExceeded"
	codeUnavailable         = "Unavailable"
	codeInternal            = "InternalServerError"
	codeUnknown             = "Unknown"
)

func errorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case messaging.IsRegistrationTokenNotRegistered(err):
		return codeNotRegistered
	case messaging.IsSenderIDMismatch(err):
		return codeMismatchSenderID
	case messaging.IsInvalidArgument(err):
		return codeInvalidRegistration
	case messaging.IsQuotaExceeded(err):
		return codeRateExceeded
	case messaging.IsUnavailable(err):
		return codeUnavailable
	case messaging.IsInternal(err):
		return codeInternal
	default:
		return codeUnknown
	}
}
