package core

import "github.com/go-playground/validator/v10"

var validate = validator.New(validator.WithRequiredStructEnabled())

// Credential holds the API credentials for one venue account.
type Credential struct {
	// Venue is the exchange this credential authenticates against.
	Venue Venue `json:"venue"`
	// APIKey is the public API key identifier.
	APIKey string `json:"api_key" validate:"required"`
	// APISecret is the private signing secret.
	APISecret string `json:"api_secret" validate:"required"`
	// Passphrase is the additional secret required by KuCoin and Coinbase.
	Passphrase string `json:"passphrase,omitempty"`
	// Sandbox selects the venue's test environment where one exists.
	Sandbox bool `json:"sandbox"`
	// Enabled gates whether the credential may be used for signed calls.
	Enabled bool `json:"enabled"`
}

// Validate checks the credential is complete for its venue. A venue that
// requires a passphrase fails validation without one.
func (c Credential) Validate() error {
	if err := validate.Struct(c); err != nil {
		return NewError(c.Venue, KindValidation, err.Error())
	}
	if c.Venue.RequiresPassphrase() && c.Passphrase == "" {
		return NewError(c.Venue, KindValidation, "passphrase is required for this venue")
	}
	return nil
}

// Complete reports whether the credential carries every secret its venue needs.
func (c Credential) Complete() bool {
	if c.APIKey == "" || c.APISecret == "" {
		return false
	}
	if c.Venue.RequiresPassphrase() && c.Passphrase == "" {
		return false
	}
	return true
}
