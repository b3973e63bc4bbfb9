package capture

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestIdentityValidate(t *testing.T) {
	require.NoError(t, testIdentity.Validate())

	err := Identity{AuthToken: "token", TemplateId: " "}.Validate()
	require.ErrorIs(t, err, ErrMissingArguments)
	require.Contains(t, err.Error(), "template_id, verification_id")

	err = Identity{}.Validate()
	require.Contains(t, err.Error(), "auth_token")
}

func TestLicenseError(t *testing.T) {
	expiry := time.Date(2026, time.July, 13, 0, 0, 0, 0, time.UTC)

	require.NoError(t, LicenseError(time.Time{}, time.Now()))
	require.NoError(t, LicenseError(expiry, expiry.Add(-time.Hour)))

	err := LicenseError(expiry, expiry)
	require.Error(t, err)
	require.Contains(t, err.Error(), "2026-07-13")
}

func TestOptionsCheckLicense(t *testing.T) {
	now := time.Date(2026, time.October, 19, 12, 0, 0, 0, time.UTC)

	require.NoError(t, Options{}.CheckLicense(now))
	require.NoError(t, Options{LicenseExpiresAt: now.AddDate(0, 1, 0)}.CheckLicense(now))
	require.Error(t, Options{LicenseExpiresAt: now.AddDate(0, -1, 0)}.CheckLicense(now))

	hostErr := errors.New("license rejected by vendor library")
	require.Equal(t, hostErr, Options{LicenseErr: hostErr}.CheckLicense(now))
}
