// --- File: internal/platform/wns/gateway.go ---
// Package wns posts toast notifications to Windows Notification Service
// channel URIs.
package wns

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const defaultTokenURL = "https://login.live.com/accesstoken.srf"

// ErrChannelGone reports a channel URI Windows no longer recognises; the
// registration behind it is permanently dead.
var ErrChannelGone = errors.New("wns channel no longer valid")

// Config holds the package credentials issued by the Windows Dev Center.
type Config struct {
	// PackageSID is the package security identifier ("ms-app://...").
	PackageSID string
	// SecretKey is the matching client secret.
	SecretKey string
	// TokenURL overrides the OAuth endpoint. Tests point it at a local server.
	TokenURL string
}

// Gateway posts toasts to channel URIs, holding one OAuth access token that
// is refreshed when Windows reports it stale.
type Gateway struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

func NewGateway(cfg Config, logger *slog.Logger) *Gateway {
	if cfg.TokenURL == "" {
		cfg.TokenURL = defaultTokenURL
	}
	return &Gateway{
		cfg:        cfg,
		httpClient: &http.Client{},
		logger:     logger.With("component", "WNSGateway"),
	}
}

// Send posts the message as a toast to one channel URI.
func (g *Gateway) Send(ctx context.Context, uri, message string) error {
	body, err := toastXML(message)
	if err != nil {
		return fmt.Errorf("failed to build toast payload: %w", err)
	}
	return g.post(ctx, uri, body, true)
}

// SendBulk posts the message to each channel URI, best effort. Dead channels
// are logged and skipped so one stale registration cannot block the batch.
func (g *Gateway) SendBulk(ctx context.Context, uris []string, message string) error {
	body, err := toastXML(message)
	if err != nil {
		return fmt.Errorf("failed to build toast payload: %w", err)
	}

	successCount := 0
	failureCount := 0
	for _, uri := range uris {
		if err := g.post(ctx, uri, body, true); err != nil {
			g.logger.Warn("WNS delivery failed", "uri", uri, "err", err)
			failureCount++
			continue
		}
		successCount++
	}

	g.logger.Debug("Bulk toast complete.", "success", successCount, "failure", failureCount)
	return nil
}

// post sends one notification, refreshing the cached access token once if
// Windows rejects it as stale.
func (g *Gateway) post(ctx context.Context, uri string, body []byte, retryAuth bool) error {
	accessToken, err := g.token(ctx)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uri, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build wns request: %w", err)
	}
	req.Header.Set("Content-Type", "text/xml")
	req.Header.Set("X-WNS-Type", "wns/toast")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("wns transport failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusUnauthorized && retryAuth:
		// The token expired under us; fetch a fresh one and try again once.
		g.invalidateToken()
		return g.post(ctx, uri, body, false)
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return fmt.Errorf("%w: status %d", ErrChannelGone, resp.StatusCode)
	default:
		return fmt.Errorf("wns rejected notification: status %d", resp.StatusCode)
	}
}

// token returns the cached access token, fetching a new one through the
// client-credentials grant when missing or expired.
func (g *Gateway) token(ctx context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.accessToken != "" && time.Now().Before(g.tokenExpiry) {
		return g.accessToken, nil
	}

	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {g.cfg.PackageSID},
		"client_secret": {g.cfg.SecretKey},
		"scope":         {"notify.windows.com"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("wns token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("wns token request rejected: status %d", resp.StatusCode)
	}

	var grant struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&grant); err != nil {
		return "", fmt.Errorf("failed to decode wns token response: %w", err)
	}
	if grant.AccessToken == "" {
		return "", errors.New("wns token response missing access_token")
	}

	ttl := time.Duration(grant.ExpiresIn) * time.Second
	if ttl <= 0 {
		// Windows documents roughly 24h token lifetimes; stale tokens are
		// caught by the 401 retry anyway.
		ttl = 24 * time.Hour
	}
	g.accessToken = grant.AccessToken
	g.tokenExpiry = time.Now().Add(ttl - time.Minute)
	return g.accessToken, nil
}

func (g *Gateway) invalidateToken() {
	g.mu.Lock()
	g.accessToken = ""
	g.mu.Unlock()
}

// toast is the ToastText01 template: a single wrapping text line.
type toast struct {
	XMLName xml.Name    `xml:"toast"`
	Visual  toastVisual `xml:"visual"`
}

type toastVisual struct {
	Binding toastBinding `xml:"binding"`
}

type toastBinding struct {
	Template string      `xml:"template,attr"`
	Texts    []toastText `xml:"text"`
}

type toastText struct {
	ID   int    `xml:"id,attr"`
	Text string `xml:",chardata"`
}

func toastXML(message string) ([]byte, error) {
	return xml.Marshal(toast{
		Visual: toastVisual{
			Binding: toastBinding{
				Template: "ToastText01",
				Texts:    []toastText{{ID: 1, Text: message}},
			},
		},
	})
}
