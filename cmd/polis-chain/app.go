package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/polisai/polis-chain/internal/certs"
	"github.com/polisai/polis-chain/pkg/config"
	"github.com/polisai/polis-chain/pkg/engine"
	"github.com/polisai/polis-chain/pkg/intercept"
	"github.com/polisai/polis-chain/pkg/interceptors"
	"github.com/polisai/polis-chain/pkg/storage"
	"github.com/polisai/polis-chain/pkg/telemetry"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Reload result labels for the config reload counter.
const (
	reloadApplied = "applied"
	reloadFailed  = "failed"
)

// app owns the long-lived server state. Configuration snapshots are applied
// through apply; everything else survives reloads.
type app struct {
	logger   *slog.Logger
	metrics  *telemetry.Metrics
	sessions *storage.MemoryStore
	deps     interceptors.Deps
	chains   *engine.ChainRegistry
	executor *engine.Executor

	// certificate is set when the data listener serves TLS.
	certificate *certs.Reloader

	mu           sync.RWMutex
	defaultChain string
	applied      bool
}

func newApp(cfg *config.Config, logger *slog.Logger) *app {
	sessions := storage.NewMemoryStore(storage.WithIdleTimeout(cfg.Sessions.IdleTimeout))
	metrics := telemetry.NewMetrics(sessions.Len)
	chains := engine.NewChainRegistry(logger)

	a := &app{
		logger:   logger,
		metrics:  metrics,
		sessions: sessions,
		chains:   chains,
		deps: interceptors.Deps{
			Metrics:   metrics,
			Redaction: cfg.Telemetry.Redaction,
		}.WithDefaults(),
	}
	a.executor = engine.NewExecutor(engine.ExecutorConfig{
		Chains:  chains,
		Logger:  logger,
		Metrics: metrics,
	})
	return a
}

// newBuilder returns a builder whose interceptors share the app's breaker
// and limiter state. An empty order keeps each entry's declaration order.
func (a *app) newBuilder(order []string) *engine.Builder {
	reg := intercept.NewRegistry()
	interceptors.RegisterDefaults(reg, a.deps)
	reg.SetOrder(order...)
	return engine.NewBuilder(reg)
}

// apply builds every chain of cfg and installs them together. On error the
// active chains are left untouched.
func (a *app) apply(cfg *config.Config) error {
	built, err := a.newBuilder(cfg.Interceptors.Order).BuildAll(cfg.Chains)
	if err != nil {
		a.metrics.RecordConfigReload(reloadFailed)
		a.logger.Error("failed to build chains", "error", err)
		return err
	}

	gen := a.chains.Replace(built)

	a.mu.Lock()
	a.defaultChain = cfg.Server.DefaultChain
	a.applied = true
	a.mu.Unlock()

	a.metrics.SetChainsLoaded(len(built))
	a.metrics.RecordConfigReload(reloadApplied)
	a.logger.Info("configuration applied",
		"generation", gen,
		"chains", a.chains.Names(),
		"default_chain", cfg.Server.DefaultChain,
	)
	return nil
}

func (a *app) currentDefaultChain() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.defaultChain
}

func (a *app) ready() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.applied
}

// dataHandler serves chain runs.
func (a *app) dataHandler() http.Handler {
	h := engine.NewHTTPHandler(engine.HTTPHandlerConfig{
		Executor:     a.executor,
		Sessions:     a.sessions,
		DefaultChain: a.currentDefaultChain,
		Logger:       a.logger,
	})
	return otelhttp.NewHandler(a.metrics.Middleware(h), "polis.chain")
}

// adminHandler serves metrics, health and introspection endpoints.
func (a *app) adminHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if !a.ready() {
			http.Error(w, "no configuration applied", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ready"))
	})
	mux.HandleFunc("/chains", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, a.logger, map[string]any{
			"generation":    a.chains.Generation(),
			"default_chain": a.currentDefaultChain(),
			"chains":        a.chains.Names(),
		})
	})
	mux.HandleFunc("/certificate", func(w http.ResponseWriter, _ *http.Request) {
		if a.certificate == nil {
			http.Error(w, "tls is not enabled", http.StatusNotFound)
			return
		}
		writeJSON(w, a.logger, a.certificate.Info())
	})
	mux.HandleFunc("/breakers", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, a.logger, a.deps.Breakers.Stats())
	})
	return mux
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("failed to encode response", "error", err)
	}
}

func (a *app) close() error {
	return a.sessions.Close()
}
