package config

// GeneralConfig holds process-wide settings.
type GeneralConfig struct {
	Environment string `mapstructure:"ENVIRONMENT" json:"environment" validate:"required,oneof=development staging production"`
	ShutdownGrace int  `mapstructure:"SHUTDOWN_GRACE_SECONDS" json:"shutdown_grace_seconds" validate:"required,min=1,max=300"`
}
