package engine

import (
	"context"
	"testing"

	"github.com/polisai/polis-chain/pkg/config"
	"github.com/polisai/polis-chain/pkg/intercept"
	"github.com/polisai/polis-chain/pkg/interceptors"
	"github.com/polisai/polis-chain/pkg/outcome"
	"github.com/polisai/polis-chain/pkg/pathmatch"
	"github.com/polisai/polis-chain/pkg/pipeline"
	"github.com/polisai/polis-chain/pkg/route"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBuilder(t *testing.T) *Builder {
	t.Helper()
	reg := intercept.NewRegistry()
	interceptors.RegisterDefaults(reg, interceptors.Deps{})
	return NewBuilder(reg)
}

func runHandlers(t *testing.T, input any, handlers ...pipeline.Handler) (any, error) {
	t.Helper()
	ec := pipeline.NewContext(pipeline.WithHandlers(handlers...))
	return ec.HandleNext(context.Background(), input)
}

func TestHandlerRegistryResolve(t *testing.T) {
	registry := newHandlerRegistry()
	v1 := func(BuildContext) (pipeline.Handler, error) { return &PassthroughHandler{name: "v1"}, nil }
	v2 := func(BuildContext) (pipeline.Handler, error) { return &PassthroughHandler{name: "v2"}, nil }
	registry.register("widget", "v1", v1, "gadget")
	registry.register("widget", "v2", v2)

	_, meta, ok := registry.resolve("widget@v2")
	require.True(t, ok)
	assert.Equal(t, "widget@v2", meta.Canonical)

	_, meta, ok = registry.resolve("widget")
	require.True(t, ok)
	assert.Equal(t, "widget@v1", meta.Canonical, "bare kind resolves to the first version")
	assert.Equal(t, "v1", meta.Version)

	_, meta, ok = registry.resolve(" gadget ")
	require.True(t, ok)
	assert.Equal(t, "widget@v1", meta.Canonical)

	_, _, ok = registry.resolve("widget@v3")
	assert.False(t, ok)
	_, _, ok = registry.resolve("sprocket")
	assert.False(t, ok)

	assert.Equal(t, []string{"widget@v1", "widget@v2"}, registry.types())
}

func TestBuilderRegistersBuiltins(t *testing.T) {
	b := NewBuilder(nil)
	assert.Contains(t, b.HandlerTypes(), "status@v1")
	assert.Contains(t, b.HandlerTypes(), "multi@v1")
	assert.NotNil(t, b.Interceptors())
}

func TestBuildChainWrapsEntries(t *testing.T) {
	b := newTestBuilder(t)
	chain, err := b.Build(config.ChainConfig{
		Name: "orders",
		Handlers: []config.HandlerSpec{
			{Type: "passthrough", Name: "entry"},
			{
				Type:    "status",
				Name:    "lookup",
				Path:    "/orders/*",
				Markers: []config.MarkerSpec{{Name: interceptors.NameLog}, {Name: interceptors.NameTimeout, Params: map[string]any{"after": "1s"}}},
				Config:  map[string]any{"message": "found"},
			},
			{Type: "not_found"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "orders", chain.Name())
	require.Equal(t, 3, chain.Len())

	handlers := chain.Handlers()
	assert.Equal(t, "entry", pipeline.NameOf(handlers[0]))
	entry, ok := handlers[1].(*route.Entry)
	require.True(t, ok)
	wrapped, ok := entry.Handler().(*intercept.Chain)
	require.True(t, ok)
	assert.ElementsMatch(t, []string{interceptors.NameLog, interceptors.NameTimeout}, wrapped.Interceptors())
	assert.Equal(t, "lookup", pipeline.NameOf(wrapped.Target()))

	result, err := runHandlers(t, pipeline.NewRequest("/orders/7", nil), handlers...)
	require.NoError(t, err)
	assert.Equal(t, outcome.OK("found"), result)

	_, err = runHandlers(t, pipeline.NewRequest("/users/7", nil), handlers...)
	assert.ErrorIs(t, err, outcome.ErrNotFound)
	assert.Contains(t, err.Error(), "/users/7")

	found, ok := pipeline.FindHandler[*StatusHandler](
		pipeline.NewContext(pipeline.WithHandlers(handlers...)),
		pipeline.NewRequest("/orders/1", nil),
		nil,
	)
	require.True(t, ok)
	assert.Equal(t, "lookup", found.HandlerName())
}

func TestBuildErrors(t *testing.T) {
	b := newTestBuilder(t)
	tests := []struct {
		name string
		spec config.HandlerSpec
		is   error
		text string
	}{
		{name: "unknown type", spec: config.HandlerSpec{Type: "teleport"}, is: ErrUnknownHandlerType},
		{name: "unknown marker", spec: config.HandlerSpec{Type: "status", Markers: []config.MarkerSpec{{Name: "audit"}}}, is: intercept.ErrNoFactory},
		{name: "bad marker param", spec: config.HandlerSpec{Type: "status", Markers: []config.MarkerSpec{{Name: interceptors.NameTimeout}}}, text: "after must be positive"},
		{name: "bad path", spec: config.HandlerSpec{Type: "status", Path: "/a//b/c"}, is: pathmatch.ErrInvalidPattern},
		{name: "bad status", spec: config.HandlerSpec{Type: "status", Config: map[string]any{"status": 302}}, text: "cannot be represented"},
		{name: "bad status type", spec: config.HandlerSpec{Type: "status", Config: map[string]any{"status": []int{1}}}, text: "unsupported type"},
		{name: "multi without chains", spec: config.HandlerSpec{Type: "multi"}, text: "nested chain"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := b.Build(config.ChainConfig{Name: "c", Handlers: []config.HandlerSpec{tt.spec}})
			require.Error(t, err)
			if tt.is != nil {
				assert.ErrorIs(t, err, tt.is)
			}
			if tt.text != "" {
				assert.Contains(t, err.Error(), tt.text)
			}
			assert.Contains(t, err.Error(), `chain "c" handler 0`)
		})
	}
}

func TestBuildAllJoinsErrors(t *testing.T) {
	b := newTestBuilder(t)
	_, err := b.BuildAll([]config.ChainConfig{
		{Name: "a", Handlers: []config.HandlerSpec{{Type: "nope"}}},
		{Name: "b", Handlers: []config.HandlerSpec{{Type: "status"}}},
		{Name: "c", Handlers: []config.HandlerSpec{{Type: "other"}}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `chain "a"`)
	assert.Contains(t, err.Error(), `chain "c"`)

	chains, err := b.BuildAll([]config.ChainConfig{{Name: "b", Handlers: []config.HandlerSpec{{Type: "status"}}}})
	require.NoError(t, err)
	assert.Contains(t, chains, "b")
}

func TestBuildAllValidatesOrder(t *testing.T) {
	b := newTestBuilder(t)
	b.Interceptors().SetOrder("recover", "audit")
	_, err := b.BuildAll(nil)
	assert.ErrorIs(t, err, intercept.ErrUnknownMarker)
}

func TestStatusHandlerOutcomes(t *testing.T) {
	b := newTestBuilder(t)
	tests := []struct {
		status int
		want   error
	}{
		{400, outcome.ErrBadRequest},
		{404, outcome.ErrNotFound},
		{429, outcome.ErrClientError},
		{500, outcome.ErrInternal},
		{503, outcome.ErrUnavailable},
	}
	for _, tt := range tests {
		chain, err := b.Build(config.ChainConfig{Name: "s", Handlers: []config.HandlerSpec{
			{Type: "respond", Config: map[string]any{"status": tt.status, "message": "m"}},
		}})
		require.NoError(t, err)
		_, err = runHandlers(t, nil, chain.Handlers()...)
		assert.ErrorIs(t, err, tt.want, "status %d", tt.status)
		assert.Equal(t, tt.status, outcome.StatusOf(err))
	}
}

func TestSessionCounter(t *testing.T) {
	b := newTestBuilder(t)
	chain, err := b.Build(config.ChainConfig{Name: "s", Handlers: []config.HandlerSpec{
		{Type: "session_counter", Config: map[string]any{"key": "hits", "next": true}},
		{Type: "status"},
	}})
	require.NoError(t, err)

	for _, scope := range []pipeline.Scope{pipeline.NewMapScope(), pipeline.NewSyncScope()} {
		for i := 1; i <= 3; i++ {
			ec := pipeline.NewContext(pipeline.WithHandlers(chain.Handlers()...), pipeline.WithSessionScope(scope))
			_, err := ec.HandleNext(context.Background(), nil)
			require.NoError(t, err)
			hits, ok := pipeline.Value[int](ec.RequestScope(), "hits")
			require.True(t, ok)
			assert.Equal(t, i, hits)
		}
	}

	terminal, err := b.Build(config.ChainConfig{Name: "t", Handlers: []config.HandlerSpec{{Type: "session_counter"}}})
	require.NoError(t, err)
	result, err := runHandlers(t, nil, terminal.Handlers()...)
	require.NoError(t, err)
	assert.Equal(t, "requests=1", result.(outcome.Outcome).Message())
}

func TestDrainReadsRecords(t *testing.T) {
	b := newTestBuilder(t)
	chain, err := b.Build(config.ChainConfig{Name: "d", Handlers: []config.HandlerSpec{{Type: "drain"}}})
	require.NoError(t, err)

	reader := pipeline.NewSliceReader("a", "b", "c")
	ec := pipeline.NewContext(pipeline.WithHandlers(chain.Handlers()...), pipeline.WithDataReader(reader))
	result, err := ec.HandleNext(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "read 3 records", result.(outcome.Outcome).Message())
	assert.Equal(t, "c", ec.LastReadData())
}

func TestMultiAggregatesBranches(t *testing.T) {
	b := newTestBuilder(t)
	chain, err := b.Build(config.ChainConfig{Name: "m", Handlers: []config.HandlerSpec{{
		Type: "fanout",
		Name: "both",
		Chains: []config.ChainConfig{
			{Name: "ok", Handlers: []config.HandlerSpec{{Type: "passthrough"}, {Type: "status", Config: map[string]any{"message": "fine"}}}},
			{Name: "missing", Handlers: []config.HandlerSpec{{Type: "not_found", Config: map[string]any{"message": "gone"}}}},
		},
	}}})
	require.NoError(t, err)

	result, err := runHandlers(t, nil, chain.Handlers()...)
	require.NoError(t, err)
	ms, ok := result.(*outcome.MultiStatus)
	require.True(t, ok)
	assert.Equal(t, 207, ms.StatusCode())
	assert.False(t, ms.IsSuccess())
	require.Len(t, ms.Results(), 2)
	assert.Equal(t, "fine", ms.Results()[0].Message())
	assert.Equal(t, 404, ms.Results()[1].StatusCode())
}

func TestMultiRecordsFirstBranchFailure(t *testing.T) {
	b := newTestBuilder(t)
	chain, err := b.Build(config.ChainConfig{Name: "m", Handlers: []config.HandlerSpec{{
		Type: "multi",
		Chains: []config.ChainConfig{
			{Name: "ok", Handlers: []config.HandlerSpec{{Type: "status"}}},
			{Name: "missing", Handlers: []config.HandlerSpec{{Type: "not_found", Config: map[string]any{"message": "gone"}}}},
			{Name: "down", Handlers: []config.HandlerSpec{{Type: "status", Config: map[string]any{"status": 503}}}},
		},
	}}})
	require.NoError(t, err)

	ec := pipeline.NewContext(pipeline.WithHandlers(chain.Handlers()...))
	_, err = ec.HandleNext(context.Background(), nil)
	require.NoError(t, err)

	require.Error(t, ec.Err())
	assert.ErrorIs(t, ec.Err(), outcome.ErrNotFound)
	assert.ErrorIs(t, ec.ClientErr(), outcome.ErrNotFound)
}

func TestMultiBranchesShareOneReader(t *testing.T) {
	b := newTestBuilder(t)
	chain, err := b.Build(config.ChainConfig{Name: "m", Handlers: []config.HandlerSpec{{
		Type: "multi",
		Chains: []config.ChainConfig{
			{Name: "first", Handlers: []config.HandlerSpec{{Type: "drain"}}},
			{Name: "second", Handlers: []config.HandlerSpec{{Type: "drain"}}},
		},
	}}})
	require.NoError(t, err)

	reader := pipeline.NewSliceReader("a", "b")
	calls := 0
	factory := pipeline.DataReaderFactoryFunc(func(context.Context, *pipeline.Context) (pipeline.DataReader, error) {
		calls++
		return reader, nil
	})
	ec := pipeline.NewContext(pipeline.WithHandlers(chain.Handlers()...), pipeline.WithDataReaderFactory(factory))
	result, err := ec.HandleNext(context.Background(), nil)
	require.NoError(t, err)
	ec.CloseReader()

	ms, ok := result.(*outcome.MultiStatus)
	require.True(t, ok)
	require.Len(t, ms.Results(), 2)
	assert.Equal(t, "read 2 records", ms.Results()[0].Message())
	assert.Equal(t, "read 0 records", ms.Results()[1].Message())
	assert.Equal(t, 1, calls)
	assert.True(t, reader.Closed())
}

func TestChainRegistry(t *testing.T) {
	r := NewChainRegistry(nil)
	assert.Zero(t, r.Generation())
	_, ok := r.Get("a")
	assert.False(t, ok)

	a := NewChain("a", &StatusHandler{status: 200})
	gen := r.Replace(map[string]*Chain{"a": a, "b": NewChain("b"), "nil": nil})
	assert.Equal(t, int64(1), gen)
	assert.Equal(t, []string{"a", "b"}, r.Names())
	assert.Equal(t, 2, r.Len())

	got, ok := r.Get("a")
	require.True(t, ok)
	assert.Same(t, a, got)

	r.Replace(nil)
	assert.Equal(t, int64(2), r.Generation())
	assert.Zero(t, r.Len())
	// A chain resolved earlier stays usable.
	assert.Equal(t, 1, got.Len())
}
