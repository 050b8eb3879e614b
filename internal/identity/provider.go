// Package identity tracks the acting identity of a session.
package identity

import (
	"context"
	"errors"
	"slices"
	"sync"

	"blockfund/internal/domain"
)

// ErrIdentityUnavailable is returned when no acting identity can be resolved.
var ErrIdentityUnavailable = errors.New("identity unavailable")

// Provider supplies the acting identity, typically a wallet.
type Provider interface {
	// RequestIdentity returns the identity the wallet currently acts as.
	RequestIdentity(ctx context.Context) (domain.Address, error)

	// OnSwitch registers fn to be called with the new identity whenever the
	// wallet switches accounts. The returned func unregisters fn.
	OnSwitch(fn func(domain.Address)) (unregister func())
}

// Static always acts as one configured address and never switches.
type Static struct {
	addr domain.Address
}

// NewStatic creates a provider for addr. A zero addr makes every request fail.
func NewStatic(addr domain.Address) *Static {
	return &Static{addr: addr}
}

func (s *Static) RequestIdentity(ctx context.Context) (domain.Address, error) {
	if err := ctx.Err(); err != nil {
		return domain.Address{}, err
	}
	if s.addr.IsZero() {
		return domain.Address{}, ErrIdentityUnavailable
	}
	return s.addr, nil
}

func (s *Static) OnSwitch(func(domain.Address)) func() {
	return func() {}
}

// listeners is a registry of switch callbacks shared by providers.
type listeners struct {
	mu     sync.Mutex
	nextID uint64
	fns    map[uint64]func(domain.Address)
}

func (l *listeners) add(fn func(domain.Address)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.fns == nil {
		l.fns = make(map[uint64]func(domain.Address))
	}
	l.nextID++
	id := l.nextID
	l.fns[id] = fn

	return func() {
		l.mu.Lock()
		delete(l.fns, id)
		l.mu.Unlock()
	}
}

// notify calls every listener outside the lock in registration order.
func (l *listeners) notify(addr domain.Address) {
	l.mu.Lock()
	ids := make([]uint64, 0, len(l.fns))
	for id := range l.fns {
		ids = append(ids, id)
	}
	fns := make([]func(domain.Address), 0, len(ids))
	slices.Sort(ids)
	for _, id := range ids {
		fns = append(fns, l.fns[id])
	}
	l.mu.Unlock()

	for _, fn := range fns {
		fn(addr)
	}
}

// Manual is a Provider driven by explicit Switch calls, for embedding the
// core in a host that already owns the wallet connection.
type Manual struct {
	mu   sync.Mutex
	addr domain.Address
	err  error
	ls   listeners
}

// NewManual creates a provider acting as addr. A zero addr means no wallet.
func NewManual(addr domain.Address) *Manual {
	return &Manual{addr: addr}
}

func (m *Manual) RequestIdentity(ctx context.Context) (domain.Address, error) {
	if err := ctx.Err(); err != nil {
		return domain.Address{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return domain.Address{}, m.err
	}
	if m.addr.IsZero() {
		return domain.Address{}, ErrIdentityUnavailable
	}
	return m.addr, nil
}

func (m *Manual) OnSwitch(fn func(domain.Address)) func() {
	return m.ls.add(fn)
}

// Switch changes the identity and notifies listeners synchronously.
func (m *Manual) Switch(addr domain.Address) {
	m.mu.Lock()
	m.addr = addr
	m.mu.Unlock()
	m.ls.notify(addr)
}

// Fail makes subsequent requests return err; nil clears it.
func (m *Manual) Fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

var (
	_ Provider = (*Static)(nil)
	_ Provider = (*Manual)(nil)
)
