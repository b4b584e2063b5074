package config

// AuthConfig holds the static auth token clients must present as their
// first command on a session (§4.6).
type AuthConfig struct {
	AuthToken string `mapstructure:"AUTH_TOKEN" json:"auth_token" validate:"required,min=16"`
}
