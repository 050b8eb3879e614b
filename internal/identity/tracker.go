package identity

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"blockfund/internal/domain"
	"blockfund/internal/observability"
)

// Tracker holds the acting identity of a session and fans provider switches
// out to its own listeners.
type Tracker struct {
	provider Provider
	logger   *zap.Logger

	mu         sync.RWMutex
	current    domain.Address
	gen        uint64 // bumped on every switch
	unregister func()

	// switchMu serializes switch notifications so listeners observe
	// switches in the order the provider reported them.
	switchMu sync.Mutex
	ls       listeners
}

// NewTracker creates a tracker listening to provider.
func NewTracker(provider Provider, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Tracker{
		provider: provider,
		logger:   logger.Named("identity"),
	}
	t.unregister = provider.OnSwitch(t.handleSwitch)
	return t
}

// Current returns the acting identity and whether one is known.
func (t *Tracker) Current() (domain.Address, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.current, !t.current.IsZero()
}

// Resolve asks the provider for the identity and stores it. Resolution does
// not notify switch listeners; callers that resolve are expected to refresh
// whatever depends on the identity themselves. If a switch lands while the
// request is in flight, the switched identity wins and is returned.
func (t *Tracker) Resolve(ctx context.Context) (domain.Address, error) {
	t.mu.RLock()
	gen := t.gen
	t.mu.RUnlock()

	addr, err := t.provider.RequestIdentity(ctx)
	if err == nil && addr.IsZero() {
		err = ErrIdentityUnavailable
	}
	if err != nil {
		t.logger.Warn("identity unavailable", zap.Error(err))
		if !errors.Is(err, ErrIdentityUnavailable) {
			err = fmt.Errorf("%w: %w", ErrIdentityUnavailable, err)
		}
		return domain.Address{}, err
	}

	t.mu.Lock()
	if t.gen != gen {
		switched := t.current
		t.mu.Unlock()
		t.logger.Info("identity switched during resolve",
			zap.String("resolved", addr.Hex()),
			zap.String("current", switched.String()))
		if switched.IsZero() {
			return domain.Address{}, ErrIdentityUnavailable
		}
		return switched, nil
	}
	t.current = addr
	t.mu.Unlock()

	t.logger.Info("identity resolved", zap.String("identity", addr.Hex()))
	return addr, nil
}

// Pin runs fn with the current identity. Switches wait until fn returns.
func (t *Tracker) Pin(fn func(domain.Address)) {
	t.switchMu.Lock()
	defer t.switchMu.Unlock()

	addr, _ := t.Current()
	fn(addr)
}

// OnSwitch registers fn to run after every identity switch.
func (t *Tracker) OnSwitch(fn func(domain.Address)) func() {
	return t.ls.add(fn)
}

func (t *Tracker) handleSwitch(addr domain.Address) {
	t.switchMu.Lock()
	defer t.switchMu.Unlock()

	t.mu.Lock()
	if addr == t.current {
		t.mu.Unlock()
		return
	}
	prev := t.current
	t.current = addr
	t.gen++
	t.mu.Unlock()

	observability.RecordIdentitySwitch()
	t.logger.Info("identity switched",
		zap.String("from", prev.String()),
		zap.String("to", addr.String()))

	t.ls.notify(addr)
}

// Close unregisters from the provider.
func (t *Tracker) Close() {
	t.mu.Lock()
	unregister := t.unregister
	t.unregister = nil
	t.mu.Unlock()

	if unregister != nil {
		unregister()
	}
}
