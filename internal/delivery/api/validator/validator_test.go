package validator

import (
	"testing"

	domainerrors "keystone/internal/domain/errors"
	"keystone/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type deviceBody struct {
	DeviceID string `json:"device_id" validate:"required,max=8"`
	Platform string `json:"platform" validate:"omitempty,oneof=ios android"`
}

type signInBody struct {
	IDToken string     `json:"id_token" validate:"required"`
	Device  deviceBody `json:"device"`
}

func TestValidator_Validate(t *testing.T) {
	v := New()

	require.NoError(t, v.Validate(&signInBody{IDToken: "t", Device: deviceBody{DeviceID: "phone"}}))

	err := v.Validate(&signInBody{Device: deviceBody{DeviceID: "much-too-long", Platform: "palm"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, domainerrors.ErrValidationFailed)

	var appErr domainerrors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, 400, appErr.HTTPCode())
	assert.Equal(t,
		"device.device_id must be at most 8 characters long; device.platform must be one of [ios android]; id_token is required",
		appErr.Details())
}
