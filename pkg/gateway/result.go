// --- File: pkg/gateway/result.go ---

// Package gateway defines the contracts between the dispatch engine and the
// vendor push networks, plus the per-recipient result shape their replies are
// normalized into.
package gateway

// Recipient is the outcome of one delivery attempt within a Result.
type Recipient struct {
	// MessageID is the vendor receipt for an accepted message.
	MessageID string `json:"message_id,omitempty"`

	// ErrorCode is the vendor error string for a rejected message, "" on
	// success. The dispatch engine classifies these; nothing else should
	// switch on the raw strings.
	ErrorCode string `json:"error,omitempty"`
}

// Result is what a vendor reports for one gateway call. Recipients keeps the
// order of the submitted registration ids; result interpretation depends on
// that correspondence.
type Result struct {
	SuccessCount int         `json:"success"`
	FailureCount int         `json:"failure"`
	Recipients   []Recipient `json:"results"`
}

// Failed reports whether any recipient in the batch was rejected.
func (r *Result) Failed() bool {
	return r != nil && r.FailureCount > 0
}
