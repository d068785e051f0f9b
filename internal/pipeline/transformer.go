// --- File: internal/pipeline/transformer.go ---
// Package pipeline contains the core message processing components for the service.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
	"github.com/tinywideclouds/go-push-registry/pkg/device"
)

// PushRequest is the inbound instruction to notify one user. Platforms may
// narrow the fan-out; when empty, every platform the user has devices on is
// tried.
type PushRequest struct {
	Recipient urn.URN
	Platforms []device.Platform
	Message   string
	Extra     map[string]string
	Sound     string
	Category  string
}

// pushRequestWire is the JSON shape. URNs travel as strings and platforms
// are validated on the way in.
type pushRequestWire struct {
	Recipient string            `json:"recipient"`
	Platforms []string          `json:"platforms,omitempty"`
	Message   string            `json:"message,omitempty"`
	Extra     map[string]string `json:"extra,omitempty"`
	Sound     string            `json:"sound,omitempty"`
	Category  string            `json:"category,omitempty"`
}

func (r PushRequest) MarshalJSON() ([]byte, error) {
	w := pushRequestWire{
		Recipient: r.Recipient.String(),
		Message:   r.Message,
		Extra:     r.Extra,
		Sound:     r.Sound,
		Category:  r.Category,
	}
	for _, p := range r.Platforms {
		w.Platforms = append(w.Platforms, string(p))
	}
	return json.Marshal(w)
}

func (r *PushRequest) UnmarshalJSON(data []byte) error {
	var w pushRequestWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	recipient, err := urn.Parse(w.Recipient)
	if err != nil {
		return fmt.Errorf("recipient is not a URN: %w", err)
	}

	platforms := make([]device.Platform, 0, len(w.Platforms))
	for _, raw := range w.Platforms {
		p, err := device.ParsePlatform(raw)
		if err != nil {
			return err
		}
		platforms = append(platforms, p)
	}

	*r = PushRequest{
		Recipient: recipient,
		Platforms: platforms,
		Message:   w.Message,
		Extra:     w.Extra,
		Sound:     w.Sound,
		Category:  w.Category,
	}
	return nil
}

// PushRequestTransformer is a dataflow Transformer that safely unmarshals
// and validates a raw message payload into a structured PushRequest.
//
// It uses standard encoding/json, relying on PushRequest's UnmarshalJSON to
// handle URN parsing and platform validation internally.
func PushRequestTransformer(
	_ context.Context,
	msg *messagepipeline.Message,
) (*PushRequest, bool, error) {
	var req PushRequest

	// If any step fails (malformed JSON, invalid URN, unknown platform), we
	// return an error and set skip=true so the StreamingService can handle
	// the Nack/DLQ logic.
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		return nil, true, fmt.Errorf("failed to unmarshal push request from message %s: %w", msg.ID, err)
	}

	// On success, we pass the structured request to the next stage.
	return &req, false, nil
}
