package pipeline_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
	"github.com/tinywideclouds/go-push-registry/internal/pipeline"
	"github.com/tinywideclouds/go-push-registry/pkg/device"
)

func TestPushRequestTransformer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	testCases := []struct {
		name                  string
		payload               string
		expectError           bool
		expectedErrorContains string
	}{
		{
			name:    "Happy Path - Full Request",
			payload: `{"recipient":"urn:sm:user:user-123","platforms":["gcm","apns"],"message":"hi","extra":{"k":"v"}}`,
		},
		{
			name:    "Happy Path - No Platform Filter",
			payload: `{"recipient":"urn:sm:user:user-123","message":"hi"}`,
		},
		{
			name:                  "Failure - Malformed JSON",
			payload:               `not-json`,
			expectError:           true,
			expectedErrorContains: "failed to unmarshal push request",
		},
		{
			name:                  "Failure - Invalid Recipient URN",
			payload:               `{"recipient":"not-a-valid-urn","message":"hi"}`,
			expectError:           true,
			expectedErrorContains: "recipient is not a URN",
		},
		{
			name:                  "Failure - Unknown Platform",
			payload:               `{"recipient":"urn:sm:user:user-123","platforms":["blackberry"]}`,
			expectError:           true,
			expectedErrorContains: "unknown platform",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			msg := &messagepipeline.Message{
				MessageData: messagepipeline.MessageData{ID: "msg-1", Payload: []byte(tc.payload)},
			}

			req, skip, err := pipeline.PushRequestTransformer(ctx, msg)

			if tc.expectError {
				require.Error(t, err)
				assert.True(t, skip)
				assert.Contains(t, err.Error(), tc.expectedErrorContains)
				return
			}

			require.NoError(t, err)
			assert.False(t, skip)
			assert.Equal(t, "urn:sm:user:user-123", req.Recipient.String())
			assert.Equal(t, "hi", req.Message)
		})
	}
}

func TestPushRequest_JSONRoundTrip(t *testing.T) {
	recipient, _ := urn.Parse("urn:sm:user:round-trip")
	original := pipeline.PushRequest{
		Recipient: recipient,
		Platforms: []device.Platform{device.PlatformWNS},
		Message:   "channel update",
		Sound:     "ding",
	}

	raw, err := json.Marshal(original)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"recipient":"urn:sm:user:round-trip"`)

	var back pipeline.PushRequest
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, recipient.String(), back.Recipient.String())
	assert.Equal(t, []device.Platform{device.PlatformWNS}, back.Platforms)
	assert.Equal(t, "ding", back.Sound)
}
