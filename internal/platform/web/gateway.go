// Package web delivers VAPID-signed payloads to browser push endpoints.
package web

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/tinywideclouds/go-push-registry/pkg/gateway"
)

// Vendor codes reported through the result. The push services speak HTTP
// status codes; these fold them onto the strings the interpreter knows.
const (
	codeNotRegistered = "NotRegistered"
	codeUnavailable   = "Unavailable"
)

// Config holds the VAPID signing material.
type Config struct {
	PublicKey       string
	PrivateKey      string
	SubscriberEmail string
}

type Gateway struct {
	subscriber string
	privateKey string
	publicKey  string
	logger     *slog.Logger
	httpClient *http.Client
}

func NewGateway(cfg Config, logger *slog.Logger) *Gateway {
	return &Gateway{
		privateKey: cfg.PrivateKey,
		publicKey:  cfg.PublicKey,
		subscriber: cfg.SubscriberEmail,
		logger:     logger.With("component", "WebPushGateway"),
		httpClient: &http.Client{},
	}
}

// Send delivers the payload to a single subscription.
func (g *Gateway) Send(ctx context.Context, rec gateway.WebPushRecipient, payload []byte) (*gateway.Result, error) {
	return g.SendBulk(ctx, []gateway.WebPushRecipient{rec}, payload)
}

// SendBulk delivers the payload to each subscription in turn; the push
// services expose no batch endpoint. The combined result keeps the recipient
// order so it can be interpreted against the device batch.
func (g *Gateway) SendBulk(_ context.Context, recs []gateway.WebPushRecipient, payload []byte) (*gateway.Result, error) {
	res := &gateway.Result{Recipients: make([]gateway.Recipient, len(recs))}

	for i, rec := range recs {
		// Build the VAPID subscription. Keys arrive already base64-encoded
		// from the browser's PushSubscription JSON.
		s := &webpush.Subscription{
			Endpoint: rec.Endpoint,
			Keys: webpush.Keys{
				P256dh: rec.P256dh,
				Auth:   rec.Auth,
			},
		}

		resp, err := webpush.SendNotification(payload, s, &webpush.Options{
			Subscriber:      g.subscriber,
			VAPIDPublicKey:  g.publicKey,
			VAPIDPrivateKey: g.privateKey,
			TTL:             60,
			HTTPClient:      g.httpClient,
		})
		if err != nil {
			// Transport error (DNS, timeout). The subscription may be fine,
			// so report it transient rather than dead.
			g.logger.Error("WebPush transport error", "endpoint", rec.Endpoint, "err", err)
			res.FailureCount++
			res.Recipients[i] = gateway.Recipient{ErrorCode: codeUnavailable}
			continue
		}

		switch resp.StatusCode {
		case http.StatusCreated:
			res.SuccessCount++
			res.Recipients[i] = gateway.Recipient{MessageID: resp.Header.Get("Location")}
		case http.StatusGone, http.StatusNotFound:
			// 410 Gone / 404 Not Found -> the subscription is dead; report it
			// the way FCM reports a dead token so it gets retired.
			res.FailureCount++
			res.Recipients[i] = gateway.Recipient{ErrorCode: codeNotRegistered}
		default:
			g.logger.Warn("WebPush rejected", "status", resp.StatusCode, "endpoint", rec.Endpoint)
			res.FailureCount++
			res.Recipients[i] = gateway.Recipient{ErrorCode: codeUnavailable}
		}
		_ = resp.Body.Close()
	}

	return res, nil
}
