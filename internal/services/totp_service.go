package services

import (
	"fmt"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// TOTPService wraps time-based one-time-password enrollment and
// verification for the optional second factor.
type TOTPService struct {
	Issuer string
}

func NewTOTPService(issuer string) *TOTPService {
	return &TOTPService{Issuer: issuer}
}

// GenerateSecret creates a fresh shared secret for the user and returns
// the secret plus the otpauth:// provisioning URL for authenticator
// apps.
func (t *TOTPService) GenerateSecret(email string) (secret, url string, err error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      t.Issuer,
		AccountName: email,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to generate totp secret: %w", err)
	}
	return key.Secret(), key.URL(), nil
}

// Verify checks a submitted code against the stored secret for the
// current time step.
func (t *TOTPService) Verify(code, secret string) bool {
	return totp.Validate(code, secret)
}
