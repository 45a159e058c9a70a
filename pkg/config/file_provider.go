package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce coalesces bursts of file events into one reload.
const DefaultDebounce = 100 * time.Millisecond

// Snapshot is one successfully loaded configuration.
type Snapshot struct {
	Generation int64
	LoadedAt   time.Time
	Config     *Config
}

// FileProvider loads a configuration file and reloads it whenever it
// changes. A reload that fails to parse or validate keeps the previous
// snapshot.
type FileProvider struct {
	path     string
	debounce time.Duration
	logger   *slog.Logger
	onReload func(error)

	mu          sync.RWMutex
	snapshot    Snapshot
	subscribers []chan Snapshot

	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	done    chan struct{}
}

// ProviderOption configures a FileProvider.
type ProviderOption func(*FileProvider)

// WithProviderLogger sets the logger used for reload events.
func WithProviderLogger(l *slog.Logger) ProviderOption {
	return func(p *FileProvider) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithDebounce overrides DefaultDebounce.
func WithDebounce(d time.Duration) ProviderOption {
	return func(p *FileProvider) {
		if d > 0 {
			p.debounce = d
		}
	}
}

// WithReloadHook registers fn to observe the result of every reload.
func WithReloadHook(fn func(error)) ProviderOption {
	return func(p *FileProvider) { p.onReload = fn }
}

// NewFileProvider loads path and starts watching it. The initial load must
// succeed.
func NewFileProvider(path string, opts ...ProviderOption) (*FileProvider, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path: %w", err)
	}

	p := &FileProvider{
		path:     absPath,
		debounce: DefaultDebounce,
		logger:   slog.Default(),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}

	if err := p.load(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	// Editors replace files by rename, so watch the directory.
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to watch directory: %w", err)
	}
	p.watcher = watcher

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	go p.watchLoop(ctx)

	return p, nil
}

// Path returns the absolute path of the watched file.
func (p *FileProvider) Path() string { return p.path }

// Current returns the latest snapshot.
func (p *FileProvider) Current() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snapshot
}

// Subscribe returns a channel that receives every new snapshot, starting
// with the current one. Slow subscribers miss intermediate snapshots.
func (p *FileProvider) Subscribe() <-chan Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch := make(chan Snapshot, 1)
	p.subscribers = append(p.subscribers, ch)
	ch <- p.snapshot
	return ch
}

// Reload re-reads the file immediately.
func (p *FileProvider) Reload() error {
	err := p.load()
	if p.onReload != nil {
		p.onReload(err)
	}
	return err
}

// Close stops the watcher and closes every subscriber channel.
func (p *FileProvider) Close() error {
	p.cancel()
	err := p.watcher.Close()
	<-p.done

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ch := range p.subscribers {
		close(ch)
	}
	p.subscribers = nil
	return err
}

func (p *FileProvider) watchLoop(ctx context.Context) {
	defer close(p.done)
	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-p.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != p.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(p.debounce, func() {
				if ctx.Err() != nil {
					return
				}
				if err := p.Reload(); err != nil {
					p.logger.Error("config reload failed", "path", p.path, "error", err)
					return
				}
				p.logger.Info("configuration reloaded", "path", p.path, "generation", p.Current().Generation)
			})
		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			p.logger.Warn("config watcher error", "path", p.path, "error", err)
		}
	}
}

func (p *FileProvider) load() error {
	// #nosec G304 -- File path is configured at startup
	data, err := os.ReadFile(p.path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return fmt.Errorf("config file %s: %w", p.path, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.snapshot = Snapshot{
		Generation: p.snapshot.Generation + 1,
		LoadedAt:   time.Now(),
		Config:     cfg,
	}

	for _, ch := range p.subscribers {
		// Replace a pending snapshot so subscribers always see the latest.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- p.snapshot:
		default:
		}
	}
	return nil
}
