package config

// WalletConfig selects and configures the Wallet capability adapter
// (§4.7). Kind "none" selects wallet.None, whose payment calls return
// WALLET_NOT_CONFIGURED; payment conversations do not check the kind.
type WalletConfig struct {
	Kind          string            `mapstructure:"KIND"           json:"kind"           validate:"required,oneof=none nwc breez"`
	NWCConnection string            `mapstructure:"NWC_CONNECTION" json:"nwc_connection" validate:"omitempty"`
	BreezAPIKey   string            `mapstructure:"BREEZ_API_KEY"  json:"breez_api_key"  validate:"omitempty"`
	BreezSeed     string            `mapstructure:"BREEZ_SEED"     json:"breez_seed"     validate:"omitempty"`
	BackendConfig map[string]string `mapstructure:"BACKEND_CONFIG" json:"backend_config" validate:"omitempty"`
}

// MintConfig supplies defaults for Cashu mint interactions (§4.7).
type MintConfig struct {
	DefaultMintURL string `mapstructure:"DEFAULT_MINT_URL" json:"default_mint_url" validate:"omitempty,url"`
	DefaultUnit    string `mapstructure:"DEFAULT_UNIT"     json:"default_unit"     validate:"omitempty"`
	RequestTimeout int    `mapstructure:"REQUEST_TIMEOUT_SECONDS" json:"request_timeout_seconds" validate:"required,min=1,max=300"`
}
