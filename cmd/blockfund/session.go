package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"blockfund/internal/action"
	"blockfund/internal/domain"
	"blockfund/internal/identity"
	"blockfund/internal/journal"
	"blockfund/internal/ledger"
	"blockfund/internal/reconcile"
	"blockfund/internal/snapshot"
	"blockfund/internal/storage"
	"blockfund/internal/storage/memory"
	"blockfund/internal/storage/migrations"
	pgstore "blockfund/internal/storage/postgres"
)

// offline stands in for the websocket transport in one-shot commands.
type offline struct{}

func (offline) Subscribe(context.Context, domain.EventKind) (ledger.Subscription, error) {
	return nil, errors.New("notifications disabled: --ws-endpoint not set")
}

type remote struct {
	*ledger.HTTPClient
	ledger.Notifier
}

// session wires one client session: transport, identity, snapshot,
// reconciliation, actions and journal.
type session struct {
	logger  *zap.Logger
	store   *snapshot.Store
	tracker *identity.Tracker
	engine  *reconcile.Engine
	actions *action.Gateway
	journal *journal.Journal

	closers []func() error
}

// openSession builds a session. Notifications are only available when
// listen is set, which requires a websocket endpoint.
func openSession(ctx context.Context, cfg Config, logger *zap.Logger, listen bool) (s *session, err error) {
	contract, err := cfg.contract()
	if err != nil {
		return nil, err
	}

	s = &session{logger: logger}
	defer func() {
		if err != nil {
			s.Close()
		}
	}()

	rpc := ledger.NewHTTPClient(cfg.RPCEndpoint, contract,
		ledger.WithTimeout(cfg.RPCTimeout),
		ledger.WithMaxRetries(cfg.RPCRetries),
		ledger.WithLogger(logger))

	gw := remote{HTTPClient: rpc, Notifier: offline{}}
	if listen {
		if cfg.WSEndpoint == "" {
			return nil, errors.New("--ws-endpoint is required")
		}
		ws, err := ledger.NewWSClient(ctx, cfg.WSEndpoint, nil, logger)
		if err != nil {
			return nil, fmt.Errorf("connect websocket: %w", err)
		}
		s.closers = append(s.closers, ws.Close)
		gw.Notifier = ws
	}

	provider, err := s.identityProvider(cfg)
	if err != nil {
		return nil, err
	}

	journalStore, err := s.journalStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	s.tracker = identity.NewTracker(provider, logger)
	s.closers = append(s.closers, func() error {
		s.tracker.Close()
		return nil
	})

	s.journal = journal.New(journalStore, logger)
	s.store = snapshot.NewStore(logger)
	s.engine = reconcile.NewEngine(gw, s.store, s.tracker,
		reconcile.WithLogger(logger),
		reconcile.WithJournal(s.journal))
	// Engine teardown runs before the tracker and transports close
	s.closers = append(s.closers, s.engine.Close)
	s.actions = action.NewGateway(gw, s.store.View(),
		action.WithLogger(logger),
		action.WithJournal(s.journal))

	logger.Info("session opened",
		zap.String("session", s.journal.SessionID()),
		zap.String("contract", contract.Hex()),
		zap.Bool("notifications", listen))
	return s, nil
}

func (s *session) identityProvider(cfg Config) (identity.Provider, error) {
	if cfg.IdentityFile != "" {
		p, err := identity.NewFileProvider(cfg.IdentityFile, s.logger)
		if err != nil {
			return nil, fmt.Errorf("watch identity file: %w", err)
		}
		s.closers = append(s.closers, p.Close)
		return p, nil
	}

	var addr domain.Address
	if cfg.Identity != "" {
		var err error
		if addr, err = domain.ParseAddress(cfg.Identity); err != nil {
			return nil, fmt.Errorf("--identity: %w", err)
		}
	}
	return identity.NewStatic(addr), nil
}

func (s *session) journalStore(ctx context.Context, cfg Config) (storage.JournalStore, error) {
	if cfg.PostgresDSN == "" {
		return memory.NewJournalStore(), nil
	}

	pool, err := openJournalPool(ctx, cfg, s.logger)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, func() error {
		pool.Close()
		return nil
	})
	return pgstore.NewJournalStore(pool), nil
}

// openJournalPool connects to postgres and applies pending migrations.
func openJournalPool(ctx context.Context, cfg Config, logger *zap.Logger) (*pgstore.Pool, error) {
	pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}
	applied, err := migrations.RunPostgresMigrations(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	for _, file := range applied {
		logger.Info("applied migration", zap.String("file", file))
	}
	return pool, nil
}

// Close releases resources in reverse order of acquisition.
func (s *session) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
