package capture

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go-liveness-relay/images"
)

var ErrMissingArguments = errors.New("AuthToken, TemplateId, or VerificationId is missing")

// Identity correlates an attempt with a backend verification session.
// The values are opaque to the relay.
type Identity struct {
	AuthToken      string `json:"auth_token"`
	TemplateId     string `json:"template_id"`
	VerificationId string `json:"verification_id"`
}

// Validate checks that every identity field is present
func (i Identity) Validate() error {
	var missing []string
	if strings.TrimSpace(i.AuthToken) == "" {
		missing = append(missing, "auth_token")
	}
	if strings.TrimSpace(i.TemplateId) == "" {
		missing = append(missing, "template_id")
	}
	if strings.TrimSpace(i.VerificationId) == "" {
		missing = append(missing, "verification_id")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingArguments, strings.Join(missing, ", "))
	}
	return nil
}

// Options configure the capture on the device and the handling of its output
type Options struct {
	PreviewEnabled   bool
	PayloadSize      images.PayloadSize
	LicenseExpiresAt time.Time // zero when the licence does not expire
	LicenseErr       error     // set by the host when licence initialisation failed
}

// CheckLicense reports why no attempt may start at the given time, if anything
func (o Options) CheckLicense(now time.Time) error {
	if o.LicenseErr != nil {
		return o.LicenseErr
	}
	return LicenseError(o.LicenseExpiresAt, now)
}

// LicenseError returns a non-nil error once the licence expiry date has passed.
// A zero expiry means the licence does not expire.
func LicenseError(expiresAt time.Time, now time.Time) error {
	if expiresAt.IsZero() {
		return nil
	}
	if !now.Before(expiresAt) {
		return fmt.Errorf("license expired on %s", expiresAt.Format("2006-01-02"))
	}
	return nil
}
