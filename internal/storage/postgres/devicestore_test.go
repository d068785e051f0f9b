// --- File: internal/storage/postgres/devicestore_test.go ---
package postgres_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	pg "github.com/tinywideclouds/go-push-registry/internal/storage/postgres"

	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
	"github.com/tinywideclouds/go-push-registry/pkg/device"
)

// newTestStore runs the store against SQLite. The store only uses portable
// GORM operations, so the dialect swap keeps the tests hermetic.
func newTestStore(t *testing.T) *pg.DeviceStore {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "devices.db")
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	store, err := pg.NewDeviceStore(db)
	require.NoError(t, err)
	return store
}

func mustDevice(t *testing.T, p device.Platform, user urn.URN, registrationID string) *device.Device {
	t.Helper()
	d, err := device.New(p, user, registrationID)
	require.NoError(t, err)
	return d
}

func TestDeviceStore(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	userURN, _ := urn.Parse("urn:contacts:user:test-user")

	t.Run("Registration Lifecycle", func(t *testing.T) {
		d := mustDevice(t, device.PlatformGCM, userURN, "token-android-1")
		d.Name = "Pixel 8"

		require.NoError(t, store.Register(ctx, d))

		found, err := store.Find(ctx, device.PlatformGCM, userURN, "token-android-1")
		require.NoError(t, err)
		assert.Equal(t, d.ID, found.ID)
		assert.Equal(t, "Pixel 8", found.Name)
		assert.True(t, found.Active)
		assert.Equal(t, userURN.String(), found.UserKey())

		require.NoError(t, store.Unregister(ctx, device.PlatformGCM, userURN, "token-android-1"))

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

		require.NoError(t, store.Register(ctx, mustDevice(t, device.PlatformGCM, isoURN, "shared-registration-id")))
		require.NoError(t, store.Register(ctx, mustDevice(t, device.PlatformWNS, isoURN, "shared-registration-id")))

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

		d.FCMToken = "translated-fcm-token"
		d.Name = "renamed locally only"
		require.NoError(t, store.UpdateFields(ctx, d, device.FieldFCMToken))

		found, err := store.Find(ctx, device.PlatformAPNS, updURN, "apns-token-upd")
		require.NoError(t, err)
		assert.Equal(t, "translated-fcm-token", found.FCMToken)
		assert.Equal(t, "original name", found.Name)

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
