package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-push-registry/pkg/device"
	"github.com/tinywideclouds/go-push-registry/pkg/dispatch"
	"github.com/tinywideclouds/go-push-registry/pkg/gateway"
)

// Sender is the slice of the dispatch engine the processor drives.
type Sender interface {
	SendBatch(ctx context.Context, devices []*device.Device, message string, opts ...dispatch.Option) (*gateway.Result, error)
}

// defaultPlatforms is the fan-out order when a request does not narrow it.
var defaultPlatforms = []device.Platform{
	device.PlatformGCM,
	device.PlatformAPNS,
	device.PlatformWNS,
	device.PlatformWebPush,
}

// NewProcessor creates the logic that handles the "Fan-Out".
// The incoming request carries the content; the repository has the devices.
func NewProcessor(
	engine Sender,
	repo device.Repository,
	logger *slog.Logger,
) messagepipeline.StreamProcessor[PushRequest] {

	return func(ctx context.Context, original messagepipeline.Message, request *PushRequest) error {
		procLogger := logger.With(
			"recipient", request.Recipient.String(),
			"pubsub_msg_id", original.ID,
		)

		platforms := request.Platforms
		if len(platforms) == 0 {
			platforms = defaultPlatforms
		}

		opts := sendOptions(request)

		delivered := 0
		for _, p := range platforms {
			// 1. Fetch & Fan-Out (The Lookup)
			devices, err := repo.ActiveByUser(ctx, p, request.Recipient)
			if err != nil {
				procLogger.Error("Failed to fetch devices", "platform", p, "err", err)
				return err // Retryable
			}
			if len(devices) == 0 {
				continue
			}

			// 2. Dispatch. Unrecoverable tokens are deactivated inside the
			// engine, so a clean run here self-heals the registry.
			res, err := engine.SendBatch(ctx, devices, request.Message, opts...)

			var confErr *dispatch.ConfigurationError
			if errors.As(err, &confErr) {
				// Retrying cannot fix bad app credentials, and nacking would
				// re-send to the platforms that already succeeded.
				procLogger.Error("Dispatch rejected by platform configuration", "platform", p, "err", confErr)
				continue
			}
			if err != nil {
				procLogger.Error("Dispatch failed", "platform", p, "err", err)
				return err // Retryable
			}

			delivered += len(devices)
			if res != nil {
				procLogger.Info("Dispatched", "platform", p, "devices", len(devices),
					"success", res.SuccessCount, "failure", res.FailureCount)
			} else {
				procLogger.Info("Dispatched", "platform", p, "devices", len(devices))
			}
		}

		if delivered == 0 {
			procLogger.Info("No devices registered for user; dropping push request.")
		}

		return nil
	}
}

func sendOptions(request *PushRequest) []dispatch.Option {
	var opts []dispatch.Option
	if len(request.Extra) > 0 {
		opts = append(opts, dispatch.WithExtra(request.Extra))
	}
	if request.Sound != "" {
		opts = append(opts, dispatch.WithSound(request.Sound))
	}
	if request.Category != "" {
		opts = append(opts, dispatch.WithCategory(request.Category))
	}
	return opts
}
