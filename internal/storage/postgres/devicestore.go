// --- File: internal/storage/postgres/devicestore.go ---
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
	"github.com/tinywideclouds/go-push-registry/pkg/device"
)

// DeviceStore implements device.Repository on PostgreSQL via GORM. All
// platforms share one table; the composite unique index on (platform,
// user_ref, registration_id) enforces the registration invariant.
type DeviceStore struct {
	db *gorm.DB
}

// deviceRow is the table representation.
type deviceRow struct {
	ID             string    `gorm:"column:id;primaryKey"`
	Platform       string    `gorm:"column:platform;uniqueIndex:idx_devices_identity,priority:1"`
	UserRef        string    `gorm:"column:user_ref;uniqueIndex:idx_devices_identity,priority:2"`
	RegistrationID string    `gorm:"column:registration_id;uniqueIndex:idx_devices_identity,priority:3"`
	Name           string    `gorm:"column:name"`
	Active         bool      `gorm:"column:active"`
	DateCreated    time.Time `gorm:"column:date_created"`
	DeviceID       string    `gorm:"column:device_id"`
	FCMToken       string    `gorm:"column:fcm_token"`
	WebPushP256dh  string    `gorm:"column:webpush_p256dh"`
	WebPushAuth    string    `gorm:"column:webpush_auth"`
}

func (deviceRow) TableName() string { return "push_devices" }

// Open connects to Postgres and returns a migrated store. TranslateError is
// required so constraint violations surface as gorm.ErrDuplicatedKey.
func Open(dsn string) (*DeviceStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return NewDeviceStore(db)
}

// NewDeviceStore migrates the device table on the given connection. The
// connection must have been opened with gorm.Config.TranslateError set.
func NewDeviceStore(db *gorm.DB) (*DeviceStore, error) {
	if err := db.AutoMigrate(&deviceRow{}); err != nil {
		return nil, fmt.Errorf("failed to run device migrations: %w", err)
	}
	return &DeviceStore{db: db}, nil
}

func (s *DeviceStore) Register(ctx context.Context, d *device.Device) error {
	row := toRow(d)
	err := s.db.WithContext(ctx).Create(&row).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%s registration: %w", d.Platform, device.ErrDuplicateRegistration)
	}
	return err
}

// Unregister deletes the row if present. Deleting an absent row is not an
// error: unregister is idempotent.
func (s *DeviceStore) Unregister(ctx context.Context, p device.Platform, user urn.URN, registrationID string) error {
	return s.identity(ctx, p, user, registrationID).Delete(&deviceRow{}).Error
}

func (s *DeviceStore) Find(ctx context.Context, p device.Platform, user urn.URN, registrationID string) (*device.Device, error) {
	var row deviceRow
	err := s.identity(ctx, p, user, registrationID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, device.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return fromRow(row)
}

// ActiveByUser returns the user's active devices, oldest registration first.
func (s *DeviceStore) ActiveByUser(ctx context.Context, p device.Platform, user urn.URN) ([]*device.Device, error) {
	var rows []deviceRow
	err := s.db.WithContext(ctx).
		Where("platform = ? AND user_ref = ? AND active = ?", string(p), user.String(), true).
		Order("date_created ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query active devices: %w", err)
	}

	devices := make([]*device.Device, 0, len(rows))
	for _, row := range rows {
		d, err := fromRow(row)
		if err != nil {
			// Skip corrupt rows; one bad record must not block the fan-out.
			continue
		}
		devices = append(devices, d)
	}
	return devices, nil
}

// UpdateFields persists only the named fields, leaving the rest of the row
// untouched.
func (s *DeviceStore) UpdateFields(ctx context.Context, d *device.Device, fields ...device.Field) error {
	if len(fields) == 0 {
		return nil
	}

	updates := make(map[string]interface{}, len(fields))
	for _, f := range fields {
		switch f {
		case device.FieldActive:
			updates["active"] = d.Active
		case device.FieldFCMToken:
			updates["fcm_token"] = d.FCMToken
		case device.FieldName:
			updates["name"] = d.Name
		default:
			return fmt.Errorf("%w: %q", device.ErrUnknownField, f)
		}
	}

	res := s.identity(ctx, d.Platform, d.User, d.RegistrationID).
		Model(&deviceRow{}).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return device.ErrNotFound
	}
	return nil
}

// --- Helpers ---

func (s *DeviceStore) identity(ctx context.Context, p device.Platform, user urn.URN, registrationID string) *gorm.DB {
	return s.db.WithContext(ctx).
		Where("platform = ? AND user_ref = ? AND registration_id = ?", string(p), user.String(), registrationID)
}

func toRow(d *device.Device) deviceRow {
	row := deviceRow{
		ID:             d.ID,
		Platform:       string(d.Platform),
		UserRef:        d.User.String(),
		RegistrationID: d.RegistrationID,
		Name:           d.Name,
		Active:         d.Active,
		DateCreated:    d.DateCreated,
		DeviceID:       d.DeviceID,
		FCMToken:       d.FCMToken,
	}
	if d.WebPush != nil {
		row.WebPushP256dh = d.WebPush.P256dh
		row.WebPushAuth = d.WebPush.Auth
	}
	return row
}

func fromRow(row deviceRow) (*device.Device, error) {
	d := &device.Device{
		ID:             row.ID,
		Platform:       device.Platform(row.Platform),
		Name:           row.Name,
		Active:         row.Active,
		DateCreated:    row.DateCreated,
		DeviceID:       row.DeviceID,
		RegistrationID: row.RegistrationID,
		FCMToken:       row.FCMToken,
	}
	if row.UserRef != "" {
		u, err := urn.Parse(row.UserRef)
		if err != nil {
			return nil, fmt.Errorf("stored user reference is not a URN: %w", err)
		}
		d.User = u
	}
	if row.WebPushP256dh != "" || row.WebPushAuth != "" {
		d.WebPush = &device.WebPushKeys{P256dh: row.WebPushP256dh, Auth: row.WebPushAuth}
	}
	return d, nil
}
