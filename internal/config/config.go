package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"net"
	"regexp"
	"strings"
	"time"

	"github.com/Shugur-Network/portal/internal/logger"
	validator "github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

//go:embed defaults.yaml
var defaultYAML []byte

// Version is set at runtime from build information.
var Version = "dev"

var validate = validator.New()

// Config is the typed config object the core is constructed with (§6):
// {listen, nostr{private_key, relays[], subkey_proof?}, auth{auth_token},
// wallet{kind, backend_config?}, mint_defaults?}, extended with the ambient
// sections logging/metrics/runtime need to exist in any real deployment.
type Config struct {
	General   GeneralConfig   `mapstructure:"general"   validate:"required"`
	Transport TransportConfig `mapstructure:"transport" validate:"required"`
	Logging   LoggingConfig   `mapstructure:"logging"   validate:"required"`
	Metrics   MetricsConfig   `mapstructure:"metrics"   validate:"required"`
	Nostr     NostrConfig     `mapstructure:"nostr"     validate:"required"`
	Auth      AuthConfig      `mapstructure:"auth"      validate:"required"`
	Wallet    WalletConfig    `mapstructure:"wallet"    validate:"required"`
	Mint      MintConfig      `mapstructure:"mint"      validate:"required"`
	Runtime   RuntimeConfig   `mapstructure:"runtime"   validate:"required"`
}

func init() {
	registerCustomValidators()

	validate.RegisterStructValidation(func(sl validator.StructLevel) {
		cfg := sl.Current().Interface().(Config)

		if err := validate.Struct(cfg.General); err != nil {
			sl.ReportError(cfg.General, "General", "General", "required", "")
		}
		if err := validate.Struct(cfg.Transport); err != nil {
			sl.ReportError(cfg.Transport, "Transport", "Transport", "required", "")
		}
		if err := validate.Struct(cfg.Logging); err != nil {
			sl.ReportError(cfg.Logging, "Logging", "Logging", "required", "")
		}
		if err := validate.Struct(cfg.Metrics); err != nil {
			sl.ReportError(cfg.Metrics, "Metrics", "Metrics", "required", "")
		}
		if err := validate.Struct(cfg.Nostr); err != nil {
			sl.ReportError(cfg.Nostr, "Nostr", "Nostr", "required", "")
		}
		if err := validate.Struct(cfg.Auth); err != nil {
			sl.ReportError(cfg.Auth, "Auth", "Auth", "required", "")
		}
		if err := validate.Struct(cfg.Wallet); err != nil {
			sl.ReportError(cfg.Wallet, "Wallet", "Wallet", "required", "")
		}
		if err := validate.Struct(cfg.Mint); err != nil {
			sl.ReportError(cfg.Mint, "Mint", "Mint", "required", "")
		}
		if err := validate.Struct(cfg.Runtime); err != nil {
			sl.ReportError(cfg.Runtime, "Runtime", "Runtime", "required", "")
		}

		performCrossFieldValidation(sl, cfg)
	}, Config{})
}

func registerCustomValidators() {
	if err := validate.RegisterValidation("wsaddr", func(fl validator.FieldLevel) bool {
		addr := fl.Field().String()
		if addr == "" {
			return false
		}
		if strings.HasPrefix(addr, ":") {
			port := addr[1:]
			if port == "" {
				return false
			}
			_, err := net.LookupPort("tcp", port)
			return err == nil
		}
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return false
		}
		if _, err := net.LookupPort("tcp", port); err != nil {
			return false
		}
		if host != "" {
			if ip := net.ParseIP(host); ip == nil {
				matched, _ := regexp.MatchString(`^[a-zA-Z0-9]([a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])?)*$`, host)
				if !matched {
					return false
				}
			}
		}
		return true
	}); err != nil {
		logger.Error("failed to register wsaddr validator", zap.Error(err))
	}

	if err := validate.RegisterValidation("pubkey", func(fl validator.FieldLevel) bool {
		key := fl.Field().String()
		if key == "" {
			return true
		}
		if len(key) != 64 {
			return false
		}
		matched, _ := regexp.MatchString(`^[a-fA-F0-9]{64}$`, key)
		return matched
	}); err != nil {
		logger.Error("failed to register pubkey validator", zap.Error(err))
	}

	if err := validate.RegisterValidation("reasonable_duration", func(fl validator.FieldLevel) bool {
		duration := fl.Field().Interface().(time.Duration)
		return duration >= time.Second && duration <= 24*time.Hour
	}); err != nil {
		logger.Error("failed to register reasonable_duration validator", zap.Error(err))
	}

	if err := validate.RegisterValidation("timeout_duration", func(fl validator.FieldLevel) bool {
		duration := fl.Field().Interface().(time.Duration)
		return duration >= time.Second && duration <= time.Hour
	}); err != nil {
		logger.Error("failed to register timeout_duration validator", zap.Error(err))
	}

	if err := validate.RegisterValidation("log_level", func(fl validator.FieldLevel) bool {
		level := fl.Field().String()
		switch level {
		case "debug", "info", "warn", "error", "fatal":
			return true
		}
		return false
	}); err != nil {
		logger.Error("failed to register log_level validator", zap.Error(err))
	}

	if err := validate.RegisterValidation("log_format", func(fl validator.FieldLevel) bool {
		format := fl.Field().String()
		return format == "console" || format == "json"
	}); err != nil {
		logger.Error("failed to register log_format validator", zap.Error(err))
	}

	if err := validate.RegisterValidation("buffer_size", func(fl validator.FieldLevel) bool {
		size := int(fl.Field().Int())
		if size < 1 || size > 1048576 {
			return false
		}
		return size&(size-1) == 0 || size < 1024
	}); err != nil {
		logger.Error("failed to register buffer_size validator", zap.Error(err))
	}

	if err := validate.RegisterValidation("host", func(fl validator.FieldLevel) bool {
		host := fl.Field().String()
		if host == "" {
			return false
		}
		if ip := net.ParseIP(host); ip != nil {
			return true
		}
		matched, _ := regexp.MatchString(`^[a-zA-Z0-9]([a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])?)*$`, host)
		return matched
	}); err != nil {
		logger.Error("failed to register host validator", zap.Error(err))
	}
}

// performCrossFieldValidation validates invariants spanning multiple
// sub-configs, the way the teacher cross-checks its relay/database/metrics
// fields against each other.
func performCrossFieldValidation(sl validator.StructLevel, cfg Config) {
	if cfg.Runtime.ConversationInboxSize < 1 {
		sl.ReportError(cfg.Runtime.ConversationInboxSize, "ConversationInboxSize", "ConversationInboxSize", "positive", "")
	}
	if cfg.Runtime.MaxConversations < cfg.Runtime.MaxStandingListenersPerKind {
		sl.ReportError(cfg.Runtime.MaxConversations, "MaxConversations", "MaxConversations", "conversation_cap_too_low", "")
	}
	if cfg.Nostr.ReconnectMaxDelay < cfg.Nostr.ReconnectBaseDelay {
		sl.ReportError(cfg.Nostr.ReconnectMaxDelay, "ReconnectMaxDelay", "ReconnectMaxDelay", "backoff_range_invalid", "")
	}
}

// SetVersion sets the version from build information.
func SetVersion(v string) {
	Version = v
}

// Load merges defaults → file (optional) → env vars, validates, and returns
// cfg. Mirrors the teacher's Load() shape: embedded defaults first, then an
// optional override file, then environment variables via viper.
func Load(path string, log *zap.Logger) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("PORTAL") // PORTAL_NOSTR_PRIVATE_KEY
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadConfig(bytes.NewReader(defaultYAML)); err != nil {
		return nil, fmt.Errorf("read defaults: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.MergeInConfig(); err != nil {
			if log != nil {
				log.Info("no config.yaml found, using defaults")
			}
		} else if log != nil {
			log.Info("loaded config.yaml from current directory")
		}
	}

	var cfg Config
	if err := v.UnmarshalExact(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := validate.Struct(cfg); err != nil {
		return nil, formatValidationError(err)
	}

	if log != nil {
		log.Info("configuration loaded", zap.String("version", Version))
	}
	if err := initializeLogger(cfg.Logging); err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	} else if log != nil {
		log.Info("logger initialized",
			zap.String("level", cfg.Logging.Level),
			zap.String("format", cfg.Logging.Format),
			zap.String("file", cfg.Logging.FilePath),
		)
	}
	return &cfg, nil
}

// MustLoad loads configuration and returns an error instead of panicking.
func MustLoad(path string, log *zap.Logger) (*Config, error) {
	return Load(path, log)
}

func initializeLogger(loggingConfig LoggingConfig) error {
	return logger.Init(
		logger.WithLevel(loggingConfig.Level),
		logger.WithFormat(loggingConfig.Format),
		logger.WithFile(loggingConfig.FilePath),
		logger.WithVersion(Version),
		logger.WithComponent("portal"),
		logger.WithRotation(loggingConfig.MaxSize, loggingConfig.MaxBackups, loggingConfig.MaxAge),
	)
}

func formatValidationError(err error) error {
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		var messages []string
		for _, fieldError := range validationErrors {
			messages = append(messages, getFieldErrorMessage(fieldError))
		}
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(messages, "\n  - "))
	}
	return fmt.Errorf("configuration validation failed: %w", err)
}

func getFieldErrorMessage(fe validator.FieldError) string {
	field := fe.Field()
	value := fe.Value()
	tag := fe.Tag()
	param := fe.Param()

	switch tag {
	case "required":
		return fmt.Sprintf("%s is required but not provided", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s (got: %v)", field, param, value)
	case "max":
		return fmt.Sprintf("%s must be at most %s (got: %v)", field, param, value)
	case "url":
		return fmt.Sprintf("%s must be a valid URL (got: %v)", field, value)
	case "len":
		return fmt.Sprintf("%s must be exactly %s characters long (got: %d)", field, param, len(fmt.Sprintf("%v", value)))
	case "hexadecimal":
		return fmt.Sprintf("%s must contain only hexadecimal characters (got: %v)", field, value)
	case "wsaddr":
		return fmt.Sprintf("%s must be a valid WebSocket address in format ':port' or 'host:port' (got: %v)", field, value)
	case "pubkey":
		return fmt.Sprintf("%s must be a 64-character hexadecimal string (got: %v)", field, value)
	case "reasonable_duration":
		return fmt.Sprintf("%s must be between 1 second and 24 hours (got: %v)", field, value)
	case "timeout_duration":
		return fmt.Sprintf("%s must be between 1 second and 1 hour (got: %v)", field, value)
	case "log_level":
		return fmt.Sprintf("%s must be one of: debug, info, warn, error, fatal (got: %v)", field, value)
	case "log_format":
		return fmt.Sprintf("%s must be either 'console' or 'json' (got: %v)", field, value)
	case "buffer_size":
		return fmt.Sprintf("%s must be below 1024 or a power of 2, and no larger than 1MB (got: %v)", field, value)
	case "host":
		return fmt.Sprintf("%s must be a valid hostname or IP address (got: %v)", field, value)
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s] (got: %v)", field, param, value)
	case "conversation_cap_too_low":
		return fmt.Sprintf("%s must be at least as large as max_standing_listeners_per_kind", field)
	case "backoff_range_invalid":
		return fmt.Sprintf("%s must be greater than or equal to reconnect_base_delay", field)
	default:
		return fmt.Sprintf("%s validation failed: %s (got: %v)", field, tag, value)
	}
}
