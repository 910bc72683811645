package main

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version is overridden at build time with -ldflags "-X main.Version=..."
var Version = "1.0.0"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "flightsurety",
		Short:        "Flight delay insurance ledger node",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serveFunc(cmd, configPath)
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML or JSON config file")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Runs the ledger node HTTP API",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return serveFunc(cmd, configPath)
			},
		},
		&cobra.Command{
			Use:   "relay",
			Short: "Runs an oracle relay against a remote ledger node",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return relayFunc(cmd, configPath)
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Prints the build version",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintln(cmd.OutOrStdout(), Version)
			},
		},
	)
	return root
}

// loadRuntimeConfig loads .env, then the config file and environment, and sets up logging
func loadRuntimeConfig(configPath string) (*Config, error) {
	loadDotEnv()

	var cfg *Config
	if configPath != "" {
		fileCfg, err := LoadConfigFromFile(configPath)
		if err != nil {
			return nil, err
		}
		fileCfg.applyEnv()
		cfg = fileCfg
	} else {
		cfg = LoadConfig()
	}

	initLogger(cfg.LogLevel, &cfg.LogFile)
	return cfg, nil
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// indexSource returns a reproducible source for a non-zero seed
func indexSource(seed uint64) IndexSource {
	if seed == 0 {
		return nil
	}
	return rand.New(rand.NewPCG(seed, seed))
}

func serveFunc(cmd *cobra.Command, configPath string) error {
	cfg, err := loadRuntimeConfig(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	return runNode(ctx, cfg)
}

// runNode serves the ledger until ctx is cancelled
func runNode(ctx context.Context, cfg *Config) error {
	events := NewEventBus()
	defer events.Close()

	ledger := NewLedger(LedgerOptions{
		Owner:        cfg.Owner,
		FirstAirline: cfg.FirstAirline,
		Indexes:      indexSource(cfg.IndexSeed),
		Events:       events,
	})

	if cfg.Relay.Enabled {
		relay, err := NewOracleRelay(NewLocalBackend(ledger, cfg.EventBuffer), RelayOptions{
			Agents: cfg.Relay.Oracles,
			Status: FixedStatusOracle(cfg.Relay.Status),
		})
		if err != nil {
			return err
		}
		if err := relay.Start(ctx); err != nil {
			return fmt.Errorf("failed to start oracle relay: %w", err)
		}
		defer relay.Stop()
	}

	return NewAPIServer(ledger, cfg).Serve(ctx)
}

func relayFunc(cmd *cobra.Command, configPath string) error {
	cfg, err := loadRuntimeConfig(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	backend := NewHTTPBackend(cfg.Relay.NodeURL, cfg.HTTPClientTimeout, cfg.Relay.AuthSecret)
	relay, err := NewOracleRelay(backend, RelayOptions{
		Agents: cfg.Relay.Oracles,
		Status: FixedStatusOracle(cfg.Relay.Status),
		Seed:   cfg.Relay.NodeURL,
	})
	if err != nil {
		return err
	}
	if err := relay.Start(ctx); err != nil {
		return fmt.Errorf("failed to start oracle relay: %w", err)
	}

	logger.Info("Oracle relay connected", "node", cfg.Relay.NodeURL, "agents", cfg.Relay.Oracles)
	<-ctx.Done()
	relay.Stop()
	return nil
}
