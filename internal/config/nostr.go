package config

import "time"

// NostrConfig describes the server's Nostr identity and the relay set it
// gossips through.
type NostrConfig struct {
	PrivateKey  string        `mapstructure:"PRIVATE_KEY"  json:"private_key"  validate:"required,len=64,hexadecimal"`
	Relays      []string      `mapstructure:"RELAYS"       json:"relays"       validate:"required,min=1,dive,url"`
	SubkeyProof string        `mapstructure:"SUBKEY_PROOF" json:"subkey_proof" validate:"omitempty"`
	DedupeSize  int           `mapstructure:"DEDUPE_SIZE"  json:"dedupe_size"  validate:"required,min=100,max=1000000"`
	PublishTimeout time.Duration `mapstructure:"PUBLISH_TIMEOUT" json:"publish_timeout" validate:"required,timeout_duration"`
	ReconnectBaseDelay time.Duration `mapstructure:"RECONNECT_BASE_DELAY" json:"reconnect_base_delay" validate:"required,timeout_duration"`
	ReconnectMaxDelay  time.Duration `mapstructure:"RECONNECT_MAX_DELAY"  json:"reconnect_max_delay"  validate:"required,timeout_duration"`
	ClockSkewWindow    time.Duration `mapstructure:"CLOCK_SKEW_WINDOW"    json:"clock_skew_window"    validate:"required,reasonable_duration"`
}
