package firestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
	"github.com/tinywideclouds/go-push-registry/pkg/device"
)

// DeviceStore implements device.Repository using Google Cloud Firestore.
// Each platform gets its own root collection ("gcm_devices", "apns_devices",
// ...), mirroring the per-platform tables this registry replaces.
type DeviceStore struct {
	client *firestore.Client
}

func NewDeviceStore(client *firestore.Client) *DeviceStore {
	return &DeviceStore{client: client}
}

// deviceRecord is the internal DB representation.
type deviceRecord struct {
	ID             string    `firestore:"id"`
	Name           string    `firestore:"name,omitempty"`
	Active         bool      `firestore:"active"`
	User           string    `firestore:"user"`
	DateCreated    time.Time `firestore:"date_created"`
	DeviceID       string    `firestore:"device_id,omitempty"`
	RegistrationID string    `firestore:"registration_id"`
	FCMToken       string    `firestore:"fcm_token,omitempty"`
	WebPushP256dh  string    `firestore:"webpush_p256dh,omitempty"`
	WebPushAuth    string    `firestore:"webpush_auth,omitempty"`
}

// Register inserts the device. The document id is derived from the (user,
// registration_id) pair, and Create (rather than Set) refuses to overwrite,
// which together enforce the uniqueness invariant.
func (s *DeviceStore) Register(ctx context.Context, d *device.Device) error {
	_, err := s.deviceRef(d.Platform, d.User, d.RegistrationID).Create(ctx, toRecord(d))
	if status.Code(err) == codes.AlreadyExists {
		return fmt.Errorf("%s registration: %w", d.Platform, device.ErrDuplicateRegistration)
	}
	return err
}

func (s *DeviceStore) Unregister(ctx context.Context, p device.Platform, user urn.URN, registrationID string) error {
	// Deleting an absent document is a no-op in Firestore, which matches the
	// contract: unregister is idempotent.
	_, err := s.deviceRef(p, user, registrationID).Delete(ctx)
	return err
}

func (s *DeviceStore) Find(ctx context.Context, p device.Platform, user urn.URN, registrationID string) (*device.Device, error) {
	snap, err := s.deviceRef(p, user, registrationID).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, device.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var record deviceRecord
	if err := snap.DataTo(&record); err != nil {
		return nil, fmt.Errorf("failed to decode device record: %w", err)
	}
	return fromRecord(p, record)
}

// ActiveByUser returns the user's active devices, oldest registration first.
// The query needs the composite (user, active, date_created) index.
func (s *DeviceStore) ActiveByUser(ctx context.Context, p device.Platform, user urn.URN) ([]*device.Device, error) {
	iter := s.platformCollection(p).
		Where("user", "==", user.String()).
		Where("active", "==", true).
		OrderBy("date_created", firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	devices := make([]*device.Device, 0)
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore iteration failed: %w", err)
		}

		var record deviceRecord
		if err := doc.DataTo(&record); err != nil {
			// Skip corrupt rows; one bad record must not block the fan-out.
			continue
		}
		d, err := fromRecord(p, record)
		if err != nil {
			continue
		}
		devices = append(devices, d)
	}

	return devices, nil
}

// UpdateFields persists only the named fields, leaving the rest of the
// document untouched.
func (s *DeviceStore) UpdateFields(ctx context.Context, d *device.Device, fields ...device.Field) error {
	if len(fields) == 0 {
		return nil
	}

	updates := make([]firestore.Update, 0, len(fields))
	for _, f := range fields {
		switch f {
		case device.FieldActive:
			updates = append(updates, firestore.Update{Path: "active", Value: d.Active})
		case device.FieldFCMToken:
			updates = append(updates, firestore.Update{Path: "fcm_token", Value: d.FCMToken})
		case device.FieldName:
			updates = append(updates, firestore.Update{Path: "name", Value: d.Name})
		default:
			return fmt.Errorf("%w: %q", device.ErrUnknownField, f)
		}
	}

	_, err := s.deviceRef(d.Platform, d.User, d.RegistrationID).Update(ctx, updates)
	if status.Code(err) == codes.NotFound {
		return device.ErrNotFound
	}
	return err
}

// --- Helpers ---

func (s *DeviceStore) deviceRef(p device.Platform, user urn.URN, registrationID string) *firestore.DocumentRef {
	return s.platformCollection(p).Doc(docID(user, registrationID))
}

func (s *DeviceStore) platformCollection(p device.Platform) *firestore.CollectionRef {
	return s.client.Collection(string(p) + "_devices")
}

// docID hashes the identifying pair to keep document ids opaque and evenly
// distributed (registration ids can exceed Firestore's id limits).
func docID(user urn.URN, registrationID string) string {
	sum := sha256.Sum256([]byte(user.String() + "#" + registrationID))
	return hex.EncodeToString(sum[:])
}

func toRecord(d *device.Device) deviceRecord {
	record := deviceRecord{
		ID:             d.ID,
		Name:           d.Name,
		Active:         d.Active,
		User:           d.User.String(),
		DateCreated:    d.DateCreated,
		DeviceID:       d.DeviceID,
		RegistrationID: d.RegistrationID,
		FCMToken:       d.FCMToken,
	}
	if d.WebPush != nil {
		record.WebPushP256dh = d.WebPush.P256dh
		record.WebPushAuth = d.WebPush.Auth
	}
	return record
}

func fromRecord(p device.Platform, record deviceRecord) (*device.Device, error) {
	d := &device.Device{
		ID:             record.ID,
		Platform:       p,
		Name:           record.Name,
		Active:         record.Active,
		DateCreated:    record.DateCreated,
		DeviceID:       record.DeviceID,
		RegistrationID: record.RegistrationID,
		FCMToken:       record.FCMToken,
	}
	if record.User != "" {
		u, err := urn.Parse(record.User)
		if err != nil {
			return nil, fmt.Errorf("stored user reference is not a URN: %w", err)
		}
		d.User = u
	}
	if record.WebPushP256dh != "" || record.WebPushAuth != "" {
		d.WebPush = &device.WebPushKeys{P256dh: record.WebPushP256dh, Auth: record.WebPushAuth}
	}
	return d, nil
}
