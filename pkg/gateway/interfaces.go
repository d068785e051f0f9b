// --- File: pkg/gateway/interfaces.go ---
package gateway

import (
	"context"
)

// APNSOptions carries the optional payload attributes for native Apple
// delivery.
type APNSOptions struct {
	Sound    string
	Category string
}

// GCMGateway delivers data payloads to Google Cloud Messaging / Firebase.
// One call covers the whole batch in a single round trip.
type GCMGateway interface {
	// Send pushes data to each registration id. The returned Result lists
	// recipients in the same order as registrationIDs.
	Send(ctx context.Context, registrationIDs []string, data map[string]string) (*Result, error)
}

// FCMGateway delivers to a single FCM-routable token. Used for APNS devices
// bridged through Firebase.
type FCMGateway interface {
	// SendToDevice sends body as the notification text alongside data.
	// Implementations must leave the notification title unset: adding one
	// changes the APNs alert from a plain string to a dictionary, which the
	// installed clients do not parse.
	SendToDevice(ctx context.Context, token, body string, data map[string]string) (*Result, error)
}

// APNSGateway is the native Apple push path. Its responses carry no
// per-recipient result object; dead tokens surface through FetchInactiveIDs
// instead.
type APNSGateway interface {
	Send(ctx context.Context, registrationID, alert string, opts APNSOptions) error

	// SendBulk pushes the alert to every id, best effort.
	SendBulk(ctx context.Context, registrationIDs []string, alert string, opts APNSOptions) error

	// FetchInactiveIDs returns the registration ids Apple has reported
	// unreachable since the last call.
	FetchInactiveIDs(ctx context.Context) ([]string, error)
}

// WNSGateway posts toast notifications to Windows channel URIs.
type WNSGateway interface {
	Send(ctx context.Context, uri, message string) error
	SendBulk(ctx context.Context, uris []string, message string) error
}

// WebPushRecipient identifies one browser push subscription.
type WebPushRecipient struct {
	Endpoint string
	P256dh   string
	Auth     string
}

// WebPushGateway delivers VAPID-signed payloads to browser push endpoints.
type WebPushGateway interface {
	Send(ctx context.Context, rec WebPushRecipient, payload []byte) (*Result, error)

	// SendBulk delivers to each subscription; the combined Result keeps the
	// recipient order.
	SendBulk(ctx context.Context, recs []WebPushRecipient, payload []byte) (*Result, error)
}
