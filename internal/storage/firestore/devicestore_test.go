// --- File: internal/storage/firestore/devicestore_test.go ---
//go:build integration

package firestore_test

import (
	"context"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/illmade-knight/go-test/emulators"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fs "github.com/tinywideclouds/go-push-registry/internal/storage/firestore"

	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
	"github.com/tinywideclouds/go-push-registry/pkg/device"
)

func setupSuite(t *testing.T) (context.Context, *fs.DeviceStore) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)

	projectID := "test-device-store"
	conn := emulators.SetupFirestoreEmulator(t, ctx, emulators.GetDefaultFirestoreConfig(projectID))
	client, err := firestore.NewClient(ctx, projectID, conn.ClientOptions...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return ctx, fs.NewDeviceStore(client)
}

func mustDevice(t *testing.T, p device.Platform, user urn.URN, registrationID string) *device.Device {
	t.Helper()
	d, err := device.New(p, user, registrationID)
	require.NoError(t, err)
	return d
}

func TestDeviceStore_Integration(t *testing.T) {
	ctx, store := setupSuite(t)
	userURN, _ := urn.Parse("urn:contacts:user:test-user")

	t.Run("Registration Lifecycle", func(t *testing.T) {
		d := mustDevice(t, device.PlatformGCM, userURN, "token-android-1")
		d.Name = "Pixel 8"

		// 1. Register
		require.NoError(t, store.Register(ctx, d))

		// 2. Find and verify
		found, err := store.Find(ctx, device.PlatformGCM, userURN, "token-android-1")
		require.NoError(t, err)
		assert.Equal(t, d.ID, found.ID)
		assert.Equal(t, "Pixel 8", found.Name)
		assert.True(t, found.Active)
		assert.Equal(t, userURN.String(), found.UserKey())

		// 3. Unregister
		require.NoError(t, store.Unregister(ctx, device.PlatformGCM, userURN, "token-android-1"))

		// 4. Verify gone
		_, err = store.Find(ctx, device.PlatformGCM, userURN, "token-android-1")
		require.ErrorIs(t, err, device.ErrNotFound)
	})

	t.Run("Duplicate registration is rejected", func(t *testing.T) {
		first := mustDevice(t, device.PlatformAPNS, userURN, "apns-token-dup")
		require.NoError(t, store.Register(ctx, first))

		second := mustDevice(t, device.PlatformAPNS, userURN, "apns-token-dup")
		err := store.Register(ctx, second)
		require.ErrorIs(t, err, device.ErrDuplicateRegistration)

		// The same registration id under another user is fine.
		otherURN, _ := urn.Parse("urn:contacts:user:other-user")
		other := mustDevice(t, device.PlatformAPNS, otherURN, "apns-token-dup")
		require.NoError(t, store.Register(ctx, other))
	})

	t.Run("Unregister is idempotent", func(t *testing.T) {
		err := store.Unregister(ctx, device.PlatformGCM, userURN, "never-registered")
		require.NoError(t, err)
	})

	t.Run("ActiveByUser filters and orders", func(t *testing.T) {
		fanoutURN, _ := urn.Parse("urn:contacts:user:fanout-user")

		oldest := mustDevice(t, device.PlatformWNS, fanoutURN, "uri-oldest")
		oldest.DateCreated = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		newest := mustDevice(t, device.PlatformWNS, fanoutURN, "uri-newest")
		newest.DateCreated = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
		dormant := mustDevice(t, device.PlatformWNS, fanoutURN, "uri-dormant")
		dormant.Active = false

		require.NoError(t, store.Register(ctx, newest))
		require.NoError(t, store.Register(ctx, oldest))
		require.NoError(t, store.Register(ctx, dormant))

		devices, err := store.ActiveByUser(ctx, device.PlatformWNS, fanoutURN)
		require.NoError(t, err)

		require.Len(t, devices, 2)
		assert.Equal(t, "uri-oldest", devices[0].RegistrationID)
		assert.Equal(t, "uri-newest", devices[1].RegistrationID)
	})

	t.Run("Platforms are isolated", func(t *testing.T) {
		isoURN, _ := urn.Parse("urn:contacts:user:iso-user")

		gcmDev := mustDevice(t, device.PlatformGCM, isoURN, "shared-registration-id")
		wnsDev := mustDevice(t, device.PlatformWNS, isoURN, "shared-registration-id")
		require.NoError(t, store.Register(ctx, gcmDev))
		require.NoError(t, store.Register(ctx, wnsDev))

		gcmDevices, err := store.ActiveByUser(ctx, device.PlatformGCM, isoURN)
		require.NoError(t, err)
		require.Len(t, gcmDevices, 1)
		assert.Equal(t, device.PlatformGCM, gcmDevices[0].Platform)
	})

	t.Run("UpdateFields persists only the named fields", func(t *testing.T) {
		updURN, _ := urn.Parse("urn:contacts:user:upd-user")
		d := mustDevice(t, device.PlatformAPNS, updURN, "apns-token-upd")
		d.Name = "original name"
		require.NoError(t, store.Register(ctx, d))

		// Mutate several fields locally, persist one.
		d.FCMToken = "translated-fcm-token"
		d.Name = "renamed locally only"
		require.NoError(t, store.UpdateFields(ctx, d, device.FieldFCMToken))

		found, err := store.Find(ctx, device.PlatformAPNS, updURN, "apns-token-upd")
		require.NoError(t, err)
		assert.Equal(t, "translated-fcm-token", found.FCMToken)
		assert.Equal(t, "original name", found.Name)

		// Deactivation path.
		d.Active = false
		require.NoError(t, store.UpdateFields(ctx, d, device.FieldActive))

		active, err := store.ActiveByUser(ctx, device.PlatformAPNS, updURN)
		require.NoError(t, err)
		assert.Empty(t, active)
	})

	t.Run("UpdateFields rejects unknown fields", func(t *testing.T) {
		d := mustDevice(t, device.PlatformGCM, userURN, "token-bad-field")
		err := store.UpdateFields(ctx, d, device.Field("registration_id"))
		require.ErrorIs(t, err, device.ErrUnknownField)
	})

	t.Run("UpdateFields on an absent device reports not found", func(t *testing.T) {
		ghost := mustDevice(t, device.PlatformGCM, userURN, "ghost-token")
		ghost.Active = false
		err := store.UpdateFields(ctx, ghost, device.FieldActive)
		require.ErrorIs(t, err, device.ErrNotFound)
	})

	t.Run("WebPush keys survive the round trip", func(t *testing.T) {
		webURN, _ := urn.Parse("urn:contacts:user:web-user")
		d := mustDevice(t, device.PlatformWebPush, webURN, "https://push.example.org/sub/42")
		d.WebPush = &device.WebPushKeys{P256dh: "p256-material", Auth: "auth-material"}
		require.NoError(t, store.Register(ctx, d))

		found, err := store.Find(ctx, device.PlatformWebPush, webURN, "https://push.example.org/sub/42")
		require.NoError(t, err)
		require.NotNil(t, found.WebPush)
		assert.Equal(t, "p256-material", found.WebPush.P256dh)
		assert.Equal(t, "auth-material", found.WebPush.Auth)
	})
}
