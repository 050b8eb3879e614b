// Command blockfund runs a crowdfunding client session against the contract:
// it mirrors contract state, follows notifications and submits guarded
// actions on behalf of the acting identity.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// shutdownTimeout bounds graceful shutdown after the first signal.
const shutdownTimeout = 30 * time.Second

var (
	cfg    Config
	logger = zap.NewNop()
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "blockfund",
		Short:         "BlockFund crowdfunding client",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			config := zap.NewProductionConfig()
			if cfg.Verbose {
				config = zap.NewDevelopmentConfig()
				config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
			}
			l, err := config.Build()
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			logger = l
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = logger.Sync()
		},
	}

	bindFlags(root, &cfg)
	root.AddCommand(
		newWatchCmd(),
		newStatusCmd(),
		newJournalCmd(),
	)
	root.AddCommand(newActionCmds()...)
	return root
}

func main() {
	var err error
	if cfg, err = loadConfig(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go handleSignals(cancel, done)

	err = newRootCmd().ExecuteContext(ctx)
	close(done)
	cancel()

	if err != nil && err != context.Canceled {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// handleSignals cancels on the first SIGINT/SIGTERM and forces exit on a
// second signal or when shutdown takes too long.
func handleSignals(cancel context.CancelFunc, done <-chan struct{}) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		logger.Info("initiating graceful shutdown", zap.Stringer("signal", sig))
		cancel()
	case <-done:
		return
	}

	select {
	case sig := <-sigCh:
		logger.Error("forcing immediate shutdown", zap.Stringer("signal", sig))
		os.Exit(1)
	case <-time.After(shutdownTimeout):
		logger.Error("graceful shutdown timed out, forcing exit", zap.Duration("timeout", shutdownTimeout))
		os.Exit(1)
	case <-done:
	}
}
