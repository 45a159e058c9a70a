package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
server:
  address: ":8080"
  default_chain: orders
logging:
  level: debug
  format: text
telemetry:
  service_name: orders-api
  sample_ratio: 0.5
sessions:
  idle_timeout: 5m
interceptors:
  order: [recover, log, retry, timeout]
chains:
  - name: orders
    handlers:
      - type: passthrough
        path: /orders//
        markers:
          - name: log
      - type: status@v1
        name: lookup
        path: /orders/*
        markers:
          - name: retry
            params:
              max_retries: 3
              initial_backoff: 10
          - name: timeout
            params:
              after: 250ms
        config:
          status: 200
          message: found
`

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)

	assert.Equal(t, DefaultAddress, cfg.Server.Address)
	assert.Equal(t, DefaultAdminAddress, cfg.Server.AdminAddress)
	assert.Equal(t, DefaultShutdownTimeout, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, DefaultServiceName, cfg.Telemetry.ServiceName)
	assert.Equal(t, 1.0, cfg.Telemetry.SampleRatio)
	assert.Equal(t, DefaultIdleTimeout, cfg.Sessions.IdleTimeout)
	assert.Empty(t, cfg.Chains)
}

func TestParseDocument(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, DefaultAdminAddress, cfg.Server.AdminAddress, "unset fields keep defaults")
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, 5*time.Minute, cfg.Sessions.IdleTimeout)
	assert.Equal(t, []string{"recover", "log", "retry", "timeout"}, cfg.Interceptors.Order)

	chain, ok := cfg.Chain("orders")
	require.True(t, ok)
	require.Len(t, chain.Handlers, 2)

	lookup := chain.Handlers[1]
	assert.Equal(t, "status@v1", lookup.Type)
	assert.Equal(t, "lookup", lookup.DisplayName())
	assert.Equal(t, "passthrough", chain.Handlers[0].DisplayName())
	require.Len(t, lookup.Markers, 2)
	assert.Equal(t, "retry", lookup.Markers[0].Name)
	assert.Equal(t, 3, lookup.Markers[0].Params["max_retries"])
	assert.Equal(t, "250ms", lookup.Markers[1].Params["after"])
	assert.Equal(t, "found", lookup.Config["message"])

	_, ok = cfg.Chain("missing")
	assert.False(t, ok)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chains.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, cfg.Chains, 1)

	_, err = Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultAddress, cfg.Server.Address)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("POLIS_CHAIN_ADDR", ":9000")
	t.Setenv("POLIS_CHAIN_LOG_LEVEL", "warn")
	t.Setenv("POLIS_CHAIN_OTLP_ENDPOINT", "collector:4317")
	t.Setenv("POLIS_CHAIN_OTLP_INSECURE", "true")
	t.Setenv("POLIS_CHAIN_SAMPLE_RATIO", "0.25")
	t.Setenv("POLIS_CHAIN_SESSION_IDLE_TIMEOUT", "90s")
	t.Setenv("POLIS_CHAIN_INTERCEPTOR_ORDER", "recover, timeout")
	t.Setenv("POLIS_CHAIN_TLS_MIN_VERSION", "1.3")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Address)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "collector:4317", cfg.Telemetry.Endpoint)
	assert.True(t, cfg.Telemetry.Insecure)
	assert.Equal(t, 0.25, cfg.Telemetry.SampleRatio)
	assert.Equal(t, 90*time.Second, cfg.Sessions.IdleTimeout)
	assert.Equal(t, []string{"recover", "timeout"}, cfg.Interceptors.Order)
	require.NotNil(t, cfg.Server.TLS)
	assert.False(t, cfg.Server.TLS.Enabled)
	assert.Equal(t, "1.3", cfg.Server.TLS.MinVersion)
}

func TestEnvironmentOverrideErrors(t *testing.T) {
	t.Setenv("POLIS_CHAIN_SHUTDOWN_TIMEOUT", "soon")
	_, err := Load("")
	assert.ErrorContains(t, err, "POLIS_CHAIN_SHUTDOWN_TIMEOUT")
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr string
	}{
		{
			name:    "same address twice",
			doc:     "server: {address: ':9000', admin_address: ':9000'}",
			wantErr: "must differ",
		},
		{
			name:    "bad log level",
			doc:     "logging: {level: loud}",
			wantErr: "logging configuration",
		},
		{
			name:    "bad sample ratio",
			doc:     "telemetry: {sample_ratio: 2}",
			wantErr: "sample_ratio",
		},
		{
			name:    "negative idle timeout",
			doc:     "sessions: {idle_timeout: -1s}",
			wantErr: "idle_timeout",
		},
		{
			name:    "duplicate order entry",
			doc:     "interceptors: {order: [log, log]}",
			wantErr: "twice",
		},
		{
			name:    "chain without name",
			doc:     "chains: [{handlers: [{type: status}]}]",
			wantErr: "name is required",
		},
		{
			name:    "chain without handlers",
			doc:     "chains: [{name: a}]",
			wantErr: "no handlers",
		},
		{
			name:    "handler without type",
			doc:     "chains: [{name: a, handlers: [{name: x}]}]",
			wantErr: "type is required",
		},
		{
			name:    "marker attached twice",
			doc:     "chains: [{name: a, handlers: [{type: status, markers: [{name: log}, {name: log}]}]}]",
			wantErr: "attached twice",
		},
		{
			name:    "bad nested chain",
			doc:     "chains: [{name: a, handlers: [{type: multi, chains: [{name: b}]}]}]",
			wantErr: "nested chain 0",
		},
		{
			name:    "duplicate chain",
			doc:     "chains: [{name: a, handlers: [{type: status}]}, {name: a, handlers: [{type: status}]}]",
			wantErr: "duplicate chain name",
		},
		{
			name:    "unknown default chain",
			doc:     "server: {default_chain: nope}",
			wantErr: "default_chain",
		},
		{
			name:    "tls without certificate",
			doc:     "server: {tls: {enabled: true}}",
			wantErr: "cert_file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestTLSValidation(t *testing.T) {
	base := TLSConfig{Enabled: true, CertFile: "cert.pem", KeyFile: "key.pem"}

	assert.NoError(t, (&TLSConfig{}).Validate(), "disabled TLS is not checked")
	cfg := base
	assert.NoError(t, cfg.Validate())

	cfg = base
	cfg.KeyFile = ""
	var cerr *ConfigError
	require.True(t, errors.As(cfg.Validate(), &cerr))
	assert.Equal(t, "key_file", cerr.Field)
	assert.NotEmpty(t, cerr.Suggestions)

	cfg = base
	cfg.MinVersion = "1.0"
	require.True(t, errors.As(cfg.Validate(), &cerr))
	assert.Equal(t, "min_version", cerr.Field)

	cfg = base
	cfg.MinVersion, cfg.MaxVersion = "1.3", "1.2"
	require.True(t, errors.As(cfg.Validate(), &cerr))
	assert.Equal(t, "version_range", cerr.Field)
}

func TestTLSBuild(t *testing.T) {
	var nilCfg *TLSConfig
	out, err := nilCfg.Build()
	require.NoError(t, err)
	assert.Nil(t, out)

	_, err = (&TLSConfig{Enabled: true, CertFile: "missing.pem", KeyFile: "missing.key"}).Build()
	assert.ErrorContains(t, err, "load key pair")
}

func TestParseTLSVersion(t *testing.T) {
	v, err := ParseTLSVersion("")
	require.NoError(t, err)
	assert.Equal(t, TLSVersion12, v)

	v, err = ParseTLSVersion(" 1.3 ")
	require.NoError(t, err)
	assert.Equal(t, TLSVersion13, v)

	_, err = ParseTLSVersion("1.1")
	assert.Error(t, err)
}
