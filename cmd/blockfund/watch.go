package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"blockfund/internal/observability"
)

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Mirror contract state and follow notifications until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd.Context())
		},
	}
}

func runWatch(ctx context.Context) error {
	s, err := openSession(ctx, cfg, logger, true)
	if err != nil {
		return err
	}
	defer s.Close()

	g, ctx := errgroup.WithContext(ctx)

	if cfg.MetricsAddr != "" {
		srv := metricsServer(cfg.MetricsAddr)
		g.Go(func() error {
			logger.Info("starting metrics server", zap.String("addr", cfg.MetricsAddr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		// Subscribe first so a failed bootstrap still heals from notifications
		if err := s.engine.Start(ctx); err != nil {
			return err
		}
		if err := s.engine.Bootstrap(ctx); err != nil {
			logger.Warn("continuing with partial state", zap.Error(err))
		}

		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-s.store.Changes():
				snap := s.store.Snapshot()
				logger.Info("snapshot updated",
					zap.String("identity", snap.ActingIdentity.String()),
					zap.String("balance", snap.ContractBalance.Ether()),
					zap.String("fees", snap.CollectedFees.Ether()),
					zap.Bool("terminated", snap.Terminated),
					zap.Int("live", len(snap.LiveRecords)),
					zap.Int("fulfilled", len(snap.FulfilledRecords)),
					zap.Int("canceled", len(snap.CanceledRecords)))
			}
		}
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func metricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
}
