package identity

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"blockfund/internal/domain"
)

// FileProvider reads the acting identity from a file holding one address
// and reports a switch whenever the file changes to a different valid
// address. The parent directory is watched so editors that replace the
// file by rename are picked up.
type FileProvider struct {
	path    string
	logger  *zap.Logger
	watcher *fsnotify.Watcher
	ls      listeners

	mu   sync.Mutex
	last domain.Address

	stopCh chan struct{}
	doneCh chan struct{}
	once   sync.Once
}

// NewFileProvider starts watching path.
func NewFileProvider(path string, logger *zap.Logger) (*FileProvider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve identity file: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	p := &FileProvider{
		path:    abs,
		logger:  logger.Named("identity.file"),
		watcher: watcher,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	if addr, err := p.read(); err == nil {
		p.last = addr
	}

	go p.run()
	return p, nil
}

func (p *FileProvider) read() (domain.Address, error) {
	raw, err := os.ReadFile(p.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return domain.Address{}, ErrIdentityUnavailable
		}
		return domain.Address{}, fmt.Errorf("read identity file: %w", err)
	}

	s := strings.TrimSpace(string(raw))
	if s == "" {
		return domain.Address{}, ErrIdentityUnavailable
	}
	return domain.ParseAddress(s)
}

// RequestIdentity returns the address currently stored in the file.
func (p *FileProvider) RequestIdentity(ctx context.Context) (domain.Address, error) {
	if err := ctx.Err(); err != nil {
		return domain.Address{}, err
	}
	return p.read()
}

// OnSwitch registers a switch listener.
func (p *FileProvider) OnSwitch(fn func(domain.Address)) func() {
	return p.ls.add(fn)
}

// Close stops watching. It is safe to call more than once.
func (p *FileProvider) Close() error {
	var err error
	p.once.Do(func() {
		close(p.stopCh)
		<-p.doneCh
		err = p.watcher.Close()
	})
	return err
}

func (p *FileProvider) run() {
	defer close(p.doneCh)

	for {
		select {
		case <-p.stopCh:
			return

		case event, ok := <-p.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != p.path {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			p.reload()

		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			p.logger.Warn("watch error", zap.Error(err))
		}
	}
}

// reload re-reads the file and notifies listeners on a change of address.
// Unreadable or malformed contents keep the previous identity.
func (p *FileProvider) reload() {
	addr, err := p.read()
	if err != nil {
		p.logger.Debug("ignoring identity file change", zap.Error(err))
		return
	}

	p.mu.Lock()
	changed := addr != p.last
	p.last = addr
	p.mu.Unlock()

	if changed {
		p.logger.Info("identity switched", zap.String("identity", addr.Hex()))
		p.ls.notify(addr)
	}
}

var _ Provider = (*FileProvider)(nil)
