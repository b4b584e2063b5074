package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/Shugur-Network/portal/internal/app"
	"github.com/Shugur-Network/portal/internal/config"
	"github.com/Shugur-Network/portal/internal/logger"
	"github.com/Shugur-Network/portal/internal/metrics"
	"go.uber.org/zap"

	"github.com/spf13/cobra"
)

var (
	cfgFile string         // Path to custom config file (optional)
	cfg     *config.Config // Global reference to loaded configuration
)

// rootCmd defines the main CLI command for the portal node.
var rootCmd = &cobra.Command{
	Use:   "portal",
	Short: "Portal is a Nostr gossip participant for identity and payment conversations",
	Long:  `A node that speaks a one-envelope-kind Nostr gossip protocol to run identity and payment conversations over a client-facing transport.`,
	Example: `
  portal start --listen-addr :8181
  portal start --log-level debug --metrics-port 9090
  portal start --config /path/to/config.yaml`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" {
			return nil
		}

		var err error
		cfg, err = config.Load(cfgFile, nil)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %v", err)
		}

		flags := cmd.Flags()
		if flags.Changed("listen-addr") {
			cfg.Transport.ListenAddr, _ = flags.GetString("listen-addr")
		}
		if flags.Changed("metrics-port") {
			portStr, _ := flags.GetString("metrics-port")
			cfg.Metrics.Port, _ = strconv.Atoi(portStr)
		}

		return nil
	},
	Run: func(cmd *cobra.Command, args []string) {
		if err := cmd.Help(); err != nil {
			fmt.Fprintf(os.Stderr, "Error displaying help: %v\n", err)
		}
	},
}

// Execute runs the root command with the provided context
func Execute(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printWelcomeBanner() {
	fmt.Println("  ____            _        _ ")
	fmt.Println(" |  _ \\ ___  _ __| |_ __ _| |")
	fmt.Println(" | |_) / _ \\| '__| __/ _` | |")
	fmt.Println(" |  __/ (_) | |  | || (_| | |")
	fmt.Println(" |_|   \\___/|_|   \\__\\__,_|_|")
	fmt.Println()
	fmt.Println("Welcome to Portal - a Nostr gossip participant for identity and payment conversations!")
}

// init is automatically called before main(), sets up flags and subcommands;
// config is loaded later, in rootCmd's PersistentPreRunE
func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Path to custom config file (optional)")

	rootCmd.PersistentFlags().String("listen-addr", ":8080", "Address the client transport listens on")
	rootCmd.PersistentFlags().String("log-level", "info", "Logging level (debug, info, warn, error, fatal)")
	rootCmd.PersistentFlags().String("log-file", "", "Path to the log file")
	rootCmd.PersistentFlags().String("log-format", "console", "Log output format (console or json)")
	rootCmd.PersistentFlags().String("metrics-port", "9090", "Port for Prometheus metrics server")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number of portal",
		Long:  "Print the version number of portal along with build information",
		Run: func(cmd *cobra.Command, args []string) {
			if detailed, _ := cmd.Flags().GetBool("detailed"); detailed {
				fmt.Println(GetFullVersionInfo())
			} else {
				fmt.Println(GetVersionWithPrefix())
			}
		},
	})

	versionCmd := rootCmd.Commands()[len(rootCmd.Commands())-1]
	versionCmd.Flags().BoolP("detailed", "d", false, "Show detailed version information")

	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the portal node",
		Long:  "Start the portal node with the specified configuration",
		Run: func(cmd *cobra.Command, args []string) {
			printWelcomeBanner()

			cfgFile, _ = cmd.Flags().GetString("config")
			if cfgFile != "" {
				absPath, err := filepath.Abs(cfgFile)
				if err != nil {
					logger.Error("Failed to resolve absolute path for config", zap.Error(err))
					os.Exit(1)
				}
				cfgFile = absPath
			}
			logger.Info("Using config file", zap.String("config_file", cfgFile))

			ctx := cmd.Context()

			metrics.RegisterMetrics()

			logger.Info("Starting portal node...")
			node, err := app.New(ctx, cfg)
			if err != nil {
				logger.Error("Failed to initialize the node", zap.Error(err))
				os.Exit(1)
			}

			go func() {
				<-ctx.Done()
				logger.Info("Shutdown signal received, initiating graceful shutdown...")
				node.Shutdown()
			}()

			if err := node.Start(ctx); err != nil {
				logger.Error("Failed to start the node", zap.Error(err))
				os.Exit(1)
			}

			logger.Info("Portal node started successfully!")
		},
	}

	rootCmd.AddCommand(startCmd)
}
