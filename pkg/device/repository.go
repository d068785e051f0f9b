package device

import (
	"context"
	"errors"

	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
)

// Field names a persistable device attribute for partial updates.
type Field string

const (
	FieldActive   Field = "active"
	FieldFCMToken Field = "fcm_token"
	FieldName     Field = "name"
)

var (
	// ErrDuplicateRegistration reports an insert that would violate the
	// (user, registration_id) uniqueness invariant within a platform.
	ErrDuplicateRegistration = errors.New("device already registered for this user")

	// ErrNotFound reports a lookup or update against an absent device.
	ErrNotFound = errors.New("device not found")

	// ErrBlankRegistrationID rejects registrations with no vendor token.
	ErrBlankRegistrationID = errors.New("registration id must not be blank")

	// ErrUnknownField reports a partial update naming a field no
	// implementation persists.
	ErrUnknownField = errors.New("unknown device field")
)

// Repository persists device registrations. Implementations keep (user,
// registration_id) unique within each platform and write only the fields
// named in UpdateFields, never the full record.
type Repository interface {
	// Register inserts a new device. It returns ErrDuplicateRegistration when
	// the (user, registration_id) pair already exists for the platform.
	Register(ctx context.Context, d *Device) error

	// Unregister removes a registration. Removing an absent device is not an
	// error.
	Unregister(ctx context.Context, p Platform, user urn.URN, registrationID string) error

	// Find returns the device stored for the exact (user, registration_id)
	// pair, or ErrNotFound.
	Find(ctx context.Context, p Platform, user urn.URN, registrationID string) (*Device, error)

	// ActiveByUser returns the user's active devices on one platform, oldest
	// registration first.
	ActiveByUser(ctx context.Context, p Platform, user urn.URN) ([]*Device, error)

	// UpdateFields persists only the named fields of d.
	UpdateFields(ctx context.Context, d *Device, fields ...Field) error
}
