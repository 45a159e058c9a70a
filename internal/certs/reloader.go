package certs

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce coalesces the writes of one certificate rotation.
const DefaultDebounce = 100 * time.Millisecond

// Errors returned by certificate validation.
var (
	ErrExpired       = errors.New("certificate has expired")
	ErrNotYetValid   = errors.New("certificate is not yet valid")
	ErrKeyUsage      = errors.New("certificate lacks digital signature or key encipherment usage")
	ErrEmptyChain    = errors.New("certificate chain is empty")
	ErrClosed        = errors.New("certificate reloader is closed")
)

// Info describes the leaf of the active certificate.
type Info struct {
	Subject      string    `json:"subject"`
	DNSNames     []string  `json:"dns_names,omitempty"`
	SerialNumber string    `json:"serial_number"`
	NotBefore    time.Time `json:"not_before"`
	NotAfter     time.Time `json:"not_after"`
	LoadedAt     time.Time `json:"loaded_at"`
}

// Reloader serves a certificate/key pair through tls.Config.GetCertificate
// and swaps it when the files change. A pair that fails to load or validate
// leaves the previous certificate in place.
type Reloader struct {
	certFile string
	keyFile  string
	logger   *slog.Logger
	debounce time.Duration
	now      func() time.Time
	onReload func(error)

	mu     sync.RWMutex
	cert   *tls.Certificate
	info   Info
	closed bool

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// Option configures a Reloader.
type Option func(*Reloader)

// WithLogger sets the logger used for reload events.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reloader) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithDebounce overrides DefaultDebounce.
func WithDebounce(d time.Duration) Option {
	return func(r *Reloader) {
		if d > 0 {
			r.debounce = d
		}
	}
}

// WithClock replaces time.Now for validity checks.
func WithClock(now func() time.Time) Option {
	return func(r *Reloader) {
		if now != nil {
			r.now = now
		}
	}
}

// WithReloadHook registers fn to observe the result of every reload.
func WithReloadHook(fn func(error)) Option {
	return func(r *Reloader) { r.onReload = fn }
}

// NewReloader loads certFile and keyFile. The initial load must succeed.
func NewReloader(certFile, keyFile string, opts ...Option) (*Reloader, error) {
	r := &Reloader{
		certFile: filepath.Clean(certFile),
		keyFile:  filepath.Clean(keyFile),
		logger:   slog.Default(),
		debounce: DefaultDebounce,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload reads the pair from disk and installs it when valid.
func (r *Reloader) Reload() error {
	err := r.reload()
	if r.onReload != nil {
		r.onReload(err)
	}
	return err
}

func (r *Reloader) reload() error {
	cert, err := tls.LoadX509KeyPair(r.certFile, r.keyFile)
	if err != nil {
		return fmt.Errorf("load key pair %s: %w", r.certFile, err)
	}
	leaf, err := Validate(&cert, r.now())
	if err != nil {
		return fmt.Errorf("certificate %s: %w", r.certFile, err)
	}
	cert.Leaf = leaf

	info := Info{
		Subject:      leaf.Subject.String(),
		DNSNames:     leaf.DNSNames,
		SerialNumber: leaf.SerialNumber.String(),
		NotBefore:    leaf.NotBefore,
		NotAfter:     leaf.NotAfter,
		LoadedAt:     r.now(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	r.cert = &cert
	r.info = info

	r.logger.Info("Certificate loaded",
		"cert_file", r.certFile,
		"subject", info.Subject,
		"dns_names", info.DNSNames,
		"not_after", info.NotAfter,
	)
	if remaining := leaf.NotAfter.Sub(r.now()); remaining < 30*24*time.Hour {
		r.logger.Warn("Certificate expires soon", "cert_file", r.certFile, "expires_in", remaining.Round(time.Hour))
	}
	return nil
}

// GetCertificate implements tls.Config.GetCertificate.
func (r *Reloader) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cert, nil
}

// Info describes the active certificate.
func (r *Reloader) Info() Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.info
}

// Apply points cfg at the reloader instead of a fixed certificate list.
func (r *Reloader) Apply(cfg *tls.Config) {
	cfg.Certificates = nil
	cfg.GetCertificate = r.GetCertificate
}

// Watch reloads the pair whenever either file changes, until Close.
func (r *Reloader) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	// Rotation tools replace files by rename, so watch the directories.
	dirs := map[string]struct{}{filepath.Dir(r.certFile): {}, filepath.Dir(r.keyFile): {}}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			_ = watcher.Close()
			return fmt.Errorf("failed to watch directory %s: %w", dir, err)
		}
	}

	r.mu.Lock()
	if r.closed || r.watcher != nil {
		r.mu.Unlock()
		_ = watcher.Close()
		if r.closed {
			return ErrClosed
		}
		return nil
	}
	r.watcher = watcher
	r.done = make(chan struct{})
	r.mu.Unlock()

	go r.watchLoop(watcher, r.done)
	return nil
}

func (r *Reloader) watchLoop(watcher *fsnotify.Watcher, done chan struct{}) {
	defer close(done)
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			name := filepath.Clean(event.Name)
			if name != r.certFile && name != r.keyFile {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(r.debounce, func() {
				if err := r.Reload(); err != nil && !errors.Is(err, ErrClosed) {
					r.logger.Error("Failed to reload certificate, keeping previous", "error", err)
				}
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			r.logger.Error("Certificate watcher error", "error", err)
		}
	}
}

// Close stops watching. The last certificate stays available.
func (r *Reloader) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	watcher, done := r.watcher, r.done
	r.mu.Unlock()

	if watcher == nil {
		return nil
	}
	err := watcher.Close()
	<-done
	return err
}

// Validate checks the leaf of cert at now and returns it parsed.
func Validate(cert *tls.Certificate, now time.Time) (*x509.Certificate, error) {
	if cert == nil || len(cert.Certificate) == 0 {
		return nil, ErrEmptyChain
	}
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return nil, fmt.Errorf("parse leaf certificate: %w", err)
	}
	if now.Before(leaf.NotBefore) {
		return nil, fmt.Errorf("%w: valid from %s", ErrNotYetValid, leaf.NotBefore.Format(time.RFC3339))
	}
	if now.After(leaf.NotAfter) {
		return nil, fmt.Errorf("%w: expired %s", ErrExpired, leaf.NotAfter.Format(time.RFC3339))
	}
	if leaf.KeyUsage&(x509.KeyUsageDigitalSignature|x509.KeyUsageKeyEncipherment) == 0 {
		return nil, ErrKeyUsage
	}
	return leaf, nil
}
