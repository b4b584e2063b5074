package config

import (
	"strings"
	"testing"
	"time"
)

// validConfig returns a Config satisfying every struct tag validate.Struct
// checks, so each test below can start from a known-good baseline and
// mutate exactly the field under test.
func validConfig() Config {
	return Config{
		General:   GeneralConfig{Environment: "development", ShutdownGrace: 5},
		Transport: TransportConfig{ListenAddr: ":8080", MaxSessions: 100, SessionSendBuffer: 256},
		Logging:   LoggingConfig{Level: "info", Format: "json", MaxSize: 10, MaxBackups: 3, MaxAge: 7},
		Metrics:   MetricsConfig{Enabled: true, Port: 9090},
		Nostr: NostrConfig{
			PrivateKey:         strings.Repeat("0", 63) + "1",
			Relays:             []string{"wss://relay.example.com"},
			DedupeSize:         1000,
			PublishTimeout:     10 * time.Second,
			ReconnectBaseDelay: time.Second,
			ReconnectMaxDelay:  time.Minute,
			ClockSkewWindow:    10 * time.Minute,
		},
		Auth:   AuthConfig{AuthToken: "0123456789abcdef"},
		Wallet: WalletConfig{Kind: "none"},
		Mint:   MintConfig{DefaultUnit: "sat", RequestTimeout: 30},
		Runtime: RuntimeConfig{
			MaxConversations:            64,
			MaxStandingListenersPerKind: 8,
			ConversationInboxSize:       16,
			SubscriptionQueueDepth:      8,
			DeadlineGrace:               time.Second,
		},
	}
}

func TestValidConfigPassesValidation(t *testing.T) {
	if err := validate.Struct(validConfig()); err != nil {
		t.Fatalf("expected a fully populated config to validate, got: %v", err)
	}
}

func TestWsaddrValidatorAcceptsPortOnlyAndHostPort(t *testing.T) {
	cfg := validConfig()
	cfg.Transport.ListenAddr = "localhost:8080"
	if err := validate.Struct(cfg); err != nil {
		t.Fatalf("expected host:port listen addr to validate, got: %v", err)
	}
}

func TestWsaddrValidatorRejectsMissingPort(t *testing.T) {
	cfg := validConfig()
	cfg.Transport.ListenAddr = ":"
	if err := validate.Struct(cfg); err == nil {
		t.Fatal("expected a bare ':' listen addr to fail validation")
	}
}

func TestNostrPrivateKeyRejectsWrongLength(t *testing.T) {
	cfg := validConfig()
	cfg.Nostr.PrivateKey = "abc123"
	if err := validate.Struct(cfg); err == nil {
		t.Fatal("expected a short private key to fail len=64 validation")
	}
}

func TestNostrPrivateKeyRejectsNonHex(t *testing.T) {
	cfg := validConfig()
	cfg.Nostr.PrivateKey = strings.Repeat("g", 64)
	if err := validate.Struct(cfg); err == nil {
		t.Fatal("expected a non-hexadecimal private key to fail validation")
	}
}

func TestNostrRelaysRequiresAtLeastOneValidURL(t *testing.T) {
	cfg := validConfig()
	cfg.Nostr.Relays = nil
	if err := validate.Struct(cfg); err == nil {
		t.Fatal("expected an empty relay list to fail required,min=1")
	}

	cfg2 := validConfig()
	cfg2.Nostr.Relays = []string{"not a url"}
	if err := validate.Struct(cfg2); err == nil {
		t.Fatal("expected a malformed relay URL to fail the dive,url validation")
	}
}

func TestBufferSizeValidatorRequiresPowerOfTwoAboveOneThousandTwentyFour(t *testing.T) {
	cfg := validConfig()
	cfg.Transport.SessionSendBuffer = 1500
	if err := validate.Struct(cfg); err == nil {
		t.Fatal("expected a non-power-of-2 buffer size above 1024 to fail validation")
	}

	cfg2 := validConfig()
	cfg2.Transport.SessionSendBuffer = 4096
	if err := validate.Struct(cfg2); err != nil {
		t.Fatalf("expected a power-of-2 buffer size to validate, got: %v", err)
	}
}

func TestLogLevelValidatorRejectsUnknownLevel(t *testing.T) {
	cfg := validConfig()
	cfg.Logging.Level = "verbose"
	if err := validate.Struct(cfg); err == nil {
		t.Fatal("expected an unrecognized log level to fail validation")
	}
}

func TestLogFormatValidatorRejectsUnknownFormat(t *testing.T) {
	cfg := validConfig()
	cfg.Logging.Format = "xml"
	if err := validate.Struct(cfg); err == nil {
		t.Fatal("expected an unrecognized log format to fail validation")
	}
}

func TestWalletKindRejectsUnknownValue(t *testing.T) {
	cfg := validConfig()
	cfg.Wallet.Kind = "lnbits"
	if err := validate.Struct(cfg); err == nil {
		t.Fatal("expected an unrecognized wallet kind to fail the oneof validation")
	}
}

func TestTimeoutDurationValidatorRejectsOutOfRangeDuration(t *testing.T) {
	cfg := validConfig()
	cfg.Nostr.PublishTimeout = 2 * time.Hour
	if err := validate.Struct(cfg); err == nil {
		t.Fatal("expected a publish timeout above 1 hour to fail timeout_duration validation")
	}
}

func TestCrossFieldValidationRejectsConversationCapBelowListenerCap(t *testing.T) {
	cfg := validConfig()
	cfg.Runtime.MaxConversations = 4
	cfg.Runtime.MaxStandingListenersPerKind = 8
	if err := validate.Struct(cfg); err == nil {
		t.Fatal("expected max_conversations below max_standing_listeners_per_kind to fail cross-field validation")
	}
}

func TestCrossFieldValidationRejectsInvertedBackoffRange(t *testing.T) {
	cfg := validConfig()
	cfg.Nostr.ReconnectBaseDelay = time.Minute
	cfg.Nostr.ReconnectMaxDelay = time.Second
	if err := validate.Struct(cfg); err == nil {
		t.Fatal("expected reconnect_max_delay below reconnect_base_delay to fail cross-field validation")
	}
}

func TestFormatValidationErrorProducesReadableMessages(t *testing.T) {
	cfg := validConfig()
	cfg.Wallet.Kind = "lnbits"
	err := validate.Struct(cfg)
	if err == nil {
		t.Fatal("expected validation to fail")
	}
	formatted := formatValidationError(err)
	if !strings.Contains(formatted.Error(), "must be one of") {
		t.Fatalf("expected a human-readable oneof message, got: %v", formatted)
	}
}
