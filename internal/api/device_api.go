package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"log/slog"

	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-microservice-base/pkg/response"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
	"github.com/tinywideclouds/go-push-registry/pkg/device"
)

type DeviceAPI struct {
	Repo   device.Repository
	Logger *slog.Logger
}

func NewDeviceAPI(repo device.Repository, logger *slog.Logger) *DeviceAPI {
	return &DeviceAPI{
		Repo:   repo,
		Logger: logger,
	}
}

// RegisterDeviceRequest is the single registration door for every platform.
// Web push subscriptions arrive flattened: the endpoint is the registration
// id and the crypto keys ride alongside.
type RegisterDeviceRequest struct {
	Platform       string `json:"platform"`
	RegistrationID string `json:"registration_id"`
	Name           string `json:"name,omitempty"`
	DeviceID       string `json:"device_id,omitempty"`
	WebPushP256dh  string `json:"webpush_p256dh,omitempty"`
	WebPushAuth    string `json:"webpush_auth,omitempty"`
}

func (api *DeviceAPI) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, ok := api.authedUser(w, r)
	if !ok {
		return
	}

	var req RegisterDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}

	platform, err := device.ParsePlatform(req.Platform)
	if err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "unknown platform")
		return
	}

	d, err := device.New(platform, user, req.RegistrationID)
	if err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "missing registration_id")
		return
	}
	d.Name = req.Name
	d.DeviceID = req.DeviceID

	if platform == device.PlatformWebPush {
		// Without both keys the subscription can never be encrypted for.
		if req.WebPushP256dh == "" || req.WebPushAuth == "" {
			api.Logger.Warn("RegisterDevice: Validation failed", "reason", "missing webpush keys")
			response.WriteJSONError(w, http.StatusBadRequest, "incomplete webpush subscription")
			return
		}
		d.WebPush = &device.WebPushKeys{P256dh: req.WebPushP256dh, Auth: req.WebPushAuth}
	}

	err = api.Repo.Register(ctx, d)
	if errors.Is(err, device.ErrDuplicateRegistration) {
		api.reactivate(w, r, platform, user, &req)
		return
	}
	if err != nil {
		api.Logger.Error("failed to register device", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}
	api.Logger.Info("RegisterDevice: Device registered", "user", user, "platform", platform, "device", d.ID)

	api.writeDevice(w, http.StatusCreated, d)
}

// reactivate folds a duplicate registration into a reactivation. Devices
// re-register on every app start or page load; treating that as a conflict
// would make clients flap.
func (api *DeviceAPI) reactivate(w http.ResponseWriter, r *http.Request, p device.Platform, user urn.URN, req *RegisterDeviceRequest) {
	ctx := r.Context()

	existing, err := api.Repo.Find(ctx, p, user, req.RegistrationID)
	if err != nil {
		api.Logger.Error("failed to load existing registration", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}

	existing.Active = true
	fields := []device.Field{device.FieldActive}
	if req.Name != "" && req.Name != existing.Name {
		existing.Name = req.Name
		fields = append(fields, device.FieldName)
	}

	if err := api.Repo.UpdateFields(ctx, existing, fields...); err != nil {
		api.Logger.Error("failed to reactivate device", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}
	api.Logger.Info("RegisterDevice: Device re-registered", "user", user, "platform", p, "device", existing.ID)

	api.writeDevice(w, http.StatusOK, existing)
}

type UnregisterDeviceRequest struct {
	Platform       string `json:"platform"`
	RegistrationID string `json:"registration_id"`
}

func (api *DeviceAPI) UnregisterDevice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, ok := api.authedUser(w, r)
	if !ok {
		return
	}

	var req UnregisterDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}

	platform, err := device.ParsePlatform(req.Platform)
	if err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "unknown platform")
		return
	}
	if req.RegistrationID == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "missing registration_id")
		return
	}

	// The repository treats an absent device as a no-op, so an error here is
	// a real storage failure.
	if err := api.Repo.Unregister(ctx, platform, user, req.RegistrationID); err != nil {
		api.Logger.Warn("failed to unregister device", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "failed to unregister device")
		return
	}
	api.Logger.Info("UnregisterDevice: Device unregistered", "user", user, "platform", platform)

	w.WriteHeader(http.StatusNoContent)
}

// --- Helpers ---

func (api *DeviceAPI) authedUser(w http.ResponseWriter, r *http.Request) (urn.URN, bool) {
	var zero urn.URN

	userID, ok := middleware.GetUserHandleFromContext(r.Context())
	if !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return zero, false
	}

	user, err := urn.Parse(userID)
	if err != nil {
		api.Logger.Warn("authenticated principal is not a URN", "user_id", userID)
		response.WriteJSONError(w, http.StatusUnauthorized, "malformed user identity")
		return zero, false
	}
	return user, true
}

func (api *DeviceAPI) writeDevice(w http.ResponseWriter, status int, d *device.Device) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(d); err != nil {
		api.Logger.Error("failed to encode device response", "err", err)
	}
}
