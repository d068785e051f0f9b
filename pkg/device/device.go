// Package device contains the domain model for registered push devices and
// the repository contract used to persist them.
package device

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
)

// Platform identifies the vendor push network a device is registered with.
type Platform string

const (
	PlatformGCM     Platform = "gcm"
	PlatformAPNS    Platform = "apns"
	PlatformWNS     Platform = "wns"
	PlatformWebPush Platform = "webpush"
)

// ParsePlatform maps a wire string onto a known Platform.
func ParsePlatform(s string) (Platform, error) {
	p := Platform(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", fmt.Errorf("unknown platform %q", s)
	}
	return p, nil
}

// Valid reports whether p names a supported push network.
func (p Platform) Valid() bool {
	switch p {
	case PlatformGCM, PlatformAPNS, PlatformWNS, PlatformWebPush:
		return true
	}
	return false
}

func (p Platform) String() string {
	return string(p)
}

// WebPushKeys is the crypto material from a browser push subscription.
type WebPushKeys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

// Device is a single registered push target. A user may hold many devices
// across platforms; inactive devices are kept for audit but never sent to.
//
// JSON encoding goes through deviceWire so the owning URN travels as a
// string and is validated on the way back in.
type Device struct {
	// ID is an opaque identifier assigned at registration. It never changes.
	ID string

	Platform Platform

	// Name is an optional display label ("Pixel 8", "work laptop").
	Name string

	// Active devices are eligible for delivery. Delivery feedback flips this
	// to false when the vendor reports the token permanently dead; only an
	// explicit re-registration turns it back on.
	Active bool

	// User is the owning user. The relation is a weak reference used for
	// lookups only; no lifecycle is attached to it.
	User urn.URN

	DateCreated time.Time

	// DeviceID is the vendor-reported hardware or installation identifier
	// (hex ANDROID_ID on Android, a UUID elsewhere). It may be absent and can
	// collide across reinstalls, so it is never used as a key.
	DeviceID string

	// RegistrationID is the vendor push token, channel URI or subscription
	// endpoint. (User, RegistrationID) is unique within a platform.
	RegistrationID string

	// FCMToken caches the FCM-routable translation of an APNS registration
	// id. Once set it is reused for every send, never recomputed.
	FCMToken string

	// WebPush carries the subscription keys for webpush devices.
	WebPush *WebPushKeys
}

// deviceWire is the JSON shape of a Device.
type deviceWire struct {
	ID             string       `json:"id"`
	Platform       Platform     `json:"platform"`
	Name           string       `json:"name,omitempty"`
	Active         bool         `json:"active"`
	User           string       `json:"user,omitempty"`
	DateCreated    time.Time    `json:"date_created"`
	DeviceID       string       `json:"device_id,omitempty"`
	RegistrationID string       `json:"registration_id"`
	FCMToken       string       `json:"fcm_token,omitempty"`
	WebPush        *WebPushKeys `json:"webpush,omitempty"`
}

func (d Device) MarshalJSON() ([]byte, error) {
	return json.Marshal(deviceWire{
		ID:             d.ID,
		Platform:       d.Platform,
		Name:           d.Name,
		Active:         d.Active,
		User:           d.User.String(),
		DateCreated:    d.DateCreated,
		DeviceID:       d.DeviceID,
		RegistrationID: d.RegistrationID,
		FCMToken:       d.FCMToken,
		WebPush:        d.WebPush,
	})
}

func (d *Device) UnmarshalJSON(data []byte) error {
	var w deviceWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	var user urn.URN
	if w.User != "" {
		parsed, err := urn.Parse(w.User)
		if err != nil {
			return fmt.Errorf("device user is not a URN: %w", err)
		}
		user = parsed
	}

	*d = Device{
		ID:             w.ID,
		Platform:       w.Platform,
		Name:           w.Name,
		Active:         w.Active,
		User:           user,
		DateCreated:    w.DateCreated,
		DeviceID:       w.DeviceID,
		RegistrationID: w.RegistrationID,
		FCMToken:       w.FCMToken,
		WebPush:        w.WebPush,
	}
	return nil
}

// New builds an active device with a fresh ID.
func New(p Platform, user urn.URN, registrationID string) (*Device, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("unknown platform %q", p)
	}
	if strings.TrimSpace(registrationID) == "" {
		return nil, ErrBlankRegistrationID
	}
	return &Device{
		ID:             uuid.NewString(),
		Platform:       p,
		Active:         true,
		User:           user,
		DateCreated:    time.Now().UTC(),
		RegistrationID: registrationID,
	}, nil
}

// UserKey is the stable string form of the owning user ("" when unowned).
func (d *Device) UserKey() string {
	return d.User.String()
}

func (d *Device) String() string {
	if d.Name != "" {
		return d.Name
	}
	if d.DeviceID != "" {
		return d.DeviceID
	}
	owner := d.UserKey()
	if owner == "" {
		owner = "unknown user"
	}
	return fmt.Sprintf("%s device for %s", d.Platform, owner)
}
