// --- File: pkg/gateway/tokenimport.go ---
package gateway

import (
	"context"
)

// ImportStatusOK marks a successfully converted token in an import response.
const ImportStatusOK = "OK"

// ImportRequest is the body of a batch token conversion call.
type ImportRequest struct {
	// Application is the bundle id the tokens were issued for.
	Application string `json:"application"`

	// Sandbox selects Apple's development environment tokens.
	Sandbox bool `json:"sandbox"`

	APNSTokens []string `json:"apns_tokens"`
}

// ImportResult is one entry of a batch conversion response.
type ImportResult struct {
	APNSToken         string `json:"apns_token"`
	Status            string `json:"status"`
	RegistrationToken string `json:"registration_token,omitempty"`
}

// TokenImporter converts APNS registration ids into FCM-routable tokens.
type TokenImporter interface {
	ImportAPNSTokens(ctx context.Context, req ImportRequest) ([]ImportResult, error)
}
