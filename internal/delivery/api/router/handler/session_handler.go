package handler

import (
	"net/http"
	"time"

	"keystone/internal/delivery/api/response"
	domainerrors "keystone/internal/domain/errors"
	"keystone/internal/usecase"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type SessionResponse struct {
	ID           uuid.UUID `json:"id"`
	DeviceID     string    `json:"device_id"`
	DeviceName   string    `json:"device_name,omitempty"`
	Platform     string    `json:"platform,omitempty"`
	AppVersion   string    `json:"app_version,omitempty"`
	IPAddress    string    `json:"ip_address,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	IsCurrent    bool      `json:"is_current"`
}

// SessionHandler lets a signed-in user inspect and end their sessions.
type SessionHandler struct {
	uc usecase.AuthUsecase
}

func NewSessionHandler(uc usecase.AuthUsecase) *SessionHandler {
	return &SessionHandler{uc: uc}
}

// ListSessions returns the caller's active sessions, most recently active first.
func (h *SessionHandler) ListSessions(c echo.Context) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}

	sessions, err := h.uc.ListActiveSessions(c.Request().Context(), principal.UserID)
	if err != nil {
		return err
	}

	out := make([]*SessionResponse, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, &SessionResponse{
			ID:           s.ID,
			DeviceID:     s.DeviceID,
			DeviceName:   s.DeviceName,
			Platform:     s.Platform,
			AppVersion:   s.AppVersion,
			IPAddress:    s.IPAddress,
			CreatedAt:    s.CreatedAt,
			LastActiveAt: s.LastActiveAt,
			ExpiresAt:    s.ExpiresAt,
			IsCurrent:    s.IsCurrent,
		})
	}

	return response.Success(c, http.StatusOK, out)
}

// RevokeSession ends one of the caller's sessions.
func (h *SessionHandler) RevokeSession(c echo.Context) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}

	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return domainerrors.ErrValidationFailed.WithDetails("id must be a valid UUID")
	}

	if err := h.uc.RevokeSession(c.Request().Context(), principal.UserID, sessionID); err != nil {
		return err
	}

	return response.NoContent(c)
}
