package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/cobra"

	"blockfund/internal/domain"
)

// Config holds process settings. Environment variables provide the
// defaults and command-line flags override them.
type Config struct {
	RPCEndpoint  string        `env:"BLOCKFUND_RPC_ENDPOINT"`
	WSEndpoint   string        `env:"BLOCKFUND_WS_ENDPOINT"`
	Contract     string        `env:"BLOCKFUND_CONTRACT"`
	Identity     string        `env:"BLOCKFUND_IDENTITY"`
	IdentityFile string        `env:"BLOCKFUND_IDENTITY_FILE"`
	PostgresDSN  string        `env:"BLOCKFUND_POSTGRES_DSN"`
	MetricsAddr  string        `env:"BLOCKFUND_METRICS_ADDR" envDefault:":9090"`
	RPCTimeout   time.Duration `env:"BLOCKFUND_RPC_TIMEOUT" envDefault:"30s"`
	RPCRetries   int           `env:"BLOCKFUND_RPC_RETRIES" envDefault:"3"`
	Verbose      bool          `env:"BLOCKFUND_VERBOSE"`
}

// loadConfig parses the environment into a Config.
func loadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// bindFlags registers persistent flags whose defaults come from cfg.
func bindFlags(cmd *cobra.Command, cfg *Config) {
	f := cmd.PersistentFlags()
	f.StringVar(&cfg.RPCEndpoint, "rpc-endpoint", cfg.RPCEndpoint, "JSON-RPC HTTP endpoint")
	f.StringVar(&cfg.WSEndpoint, "ws-endpoint", cfg.WSEndpoint, "JSON-RPC websocket endpoint")
	f.StringVar(&cfg.Contract, "contract", cfg.Contract, "crowdfunding contract address")
	f.StringVar(&cfg.Identity, "identity", cfg.Identity, "acting identity address")
	f.StringVar(&cfg.IdentityFile, "identity-file", cfg.IdentityFile, "file holding the acting identity, watched for switches")
	f.StringVar(&cfg.PostgresDSN, "postgres-dsn", cfg.PostgresDSN, "PostgreSQL DSN for the journal (in-memory when empty)")
	f.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "Prometheus metrics HTTP address (empty to disable)")
	f.DurationVar(&cfg.RPCTimeout, "rpc-timeout", cfg.RPCTimeout, "HTTP request timeout")
	f.IntVar(&cfg.RPCRetries, "rpc-retries", cfg.RPCRetries, "max HTTP retries for reads")
	f.BoolVarP(&cfg.Verbose, "verbose", "v", cfg.Verbose, "enable debug logging")
}

// contract validates the endpoint settings and returns the contract address.
func (c Config) contract() (domain.Address, error) {
	if c.RPCEndpoint == "" {
		return domain.Address{}, errors.New("--rpc-endpoint is required")
	}
	if c.Contract == "" {
		return domain.Address{}, errors.New("--contract is required")
	}
	addr, err := domain.ParseAddress(c.Contract)
	if err != nil {
		return domain.Address{}, fmt.Errorf("--contract: %w", err)
	}
	return addr, nil
}
