package app

import (
	"github.com/breez/breez-sdk-go/breez_sdk"

	"github.com/Shugur-Network/portal/internal/config"
	"github.com/Shugur-Network/portal/internal/errors"
	"github.com/Shugur-Network/portal/internal/wallet"
)

// buildWallet selects and constructs the Wallet Adapter backend named by
// cfg.Kind (§4.7). Kind "none" (or unset) selects wallet.None, whose
// payment calls return WALLET_NOT_CONFIGURED.
func buildWallet(cfg config.WalletConfig) (wallet.Wallet, error) {
	switch cfg.Kind {
	case "", "none":
		return wallet.NewNone(), nil
	case "nwc":
		if cfg.NWCConnection == "" {
			return nil, errors.New(errors.ErrorTypeValidation, "MISSING_NWC_CONNECTION", "wallet.kind=nwc requires nwc_connection")
		}
		return wallet.ParseNWCURI(cfg.NWCConnection)
	case "breez":
		return buildBreezWallet(cfg)
	default:
		return nil, errors.New(errors.ErrorTypeValidation, "UNKNOWN_WALLET_KIND", "unrecognized wallet kind: "+cfg.Kind)
	}
}

// breezEventListener discards Breez SDK node events; Portal surfaces
// payment outcomes through its own conversation/subscription model, not
// the SDK's own event stream.
type breezEventListener struct{}

func (breezEventListener) OnEvent(e breez_sdk.BreezEvent) {}

// buildBreezWallet connects the Breez SDK's node service using the seed
// phrase and API key from configuration. environment (from
// backend_config["environment"], default "production") selects which
// Breez environment to target; working_dir (backend_config["working_dir"])
// overrides the SDK's default on-disk state directory.
func buildBreezWallet(cfg config.WalletConfig) (wallet.Wallet, error) {
	if cfg.BreezAPIKey == "" || cfg.BreezSeed == "" {
		return nil, errors.New(errors.ErrorTypeValidation, "MISSING_BREEZ_CREDENTIALS", "wallet.kind=breez requires breez_api_key and breez_seed")
	}

	seed, err := breez_sdk.MnemonicToSeed(cfg.BreezSeed)
	if err != nil {
		return nil, errors.CryptoError("failed to derive breez seed from mnemonic", err)
	}

	envType := breez_sdk.EnvironmentTypeProduction
	if cfg.BackendConfig["environment"] == "staging" {
		envType = breez_sdk.EnvironmentTypeStaging
	}

	nodeConfig := breez_sdk.NodeConfigGreenlight{Config: breez_sdk.GreenlightNodeConfig{}}
	breezConfig := breez_sdk.DefaultConfig(envType, cfg.BreezAPIKey, nodeConfig)
	if dir := cfg.BackendConfig["working_dir"]; dir != "" {
		breezConfig.WorkingDir = dir
	}

	services, err := breez_sdk.Connect(breez_sdk.ConnectRequest{Config: breezConfig, Seed: seed}, breezEventListener{})
	if err != nil {
		return nil, errors.BackendFailureError("breez", "connect", err)
	}
	return wallet.NewBreez(services), nil
}
