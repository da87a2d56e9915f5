package api

import (
	"fmt"

	"github.com/typeshift/typeshift-go/config"
)

// Credential is an immutable app-id/token pair identifying the
// calling application. Both parts must be non-empty.
type Credential struct {
	app   string
	token string
}

// credentialModel exists to run struct validation on construction.
type credentialModel struct {
	App   string `json:"app" validate:"required"`
	Token string `json:"token" validate:"required"`
}

// NewCredential validates and builds a Credential.
func NewCredential(app, token string) (Credential, error) {
	if err := Validate(credentialModel{App: app, Token: token}); err != nil {
		return Credential{}, fmt.Errorf("invalid credential: %w", err)
	}

	return Credential{app: app, token: token}, nil
}

// CredentialFromConfig builds a Credential from the api.app and
// api.token settings keys.
func CredentialFromConfig(settings *config.Settings) (Credential, error) {
	return NewCredential(
		settings.Get(config.SectionAPI, config.KeyApp, ""),
		settings.Get(config.SectionAPI, config.KeyToken, ""),
	)
}

// App returns the application id.
func (c Credential) App() string {
	return c.app
}

// Token returns the access token.
func (c Credential) Token() string {
	return c.token
}
