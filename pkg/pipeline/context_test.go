package pipeline

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/polisai/polis-chain/pkg/outcome"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder appends its name to a shared trace and delegates.
func recorder(name string, trace *[]string) Handler {
	return HandlerFunc(func(ctx context.Context, input any, ec *Context) (any, error) {
		*trace = append(*trace, name)
		return ec.HandleNext(ctx, input)
	})
}

func terminal(result any) Handler {
	return HandlerFunc(func(context.Context, any, *Context) (any, error) {
		return result, nil
	})
}

func TestHandleNextRunsQueueInOrder(t *testing.T) {
	var trace []string
	ec := NewContext(WithHandlers(
		recorder("first", &trace),
		recorder("second", &trace),
		terminal("done"),
	))

	result, err := ec.HandleNext(context.Background(), "in")

	require.NoError(t, err)
	assert.Equal(t, "done", result)
	assert.Equal(t, []string{"first", "second"}, trace)
	assert.True(t, ec.Queue().Empty())
}

func TestHandleNextOnEmptyQueue(t *testing.T) {
	ec := NewContext()

	_, err := ec.HandleNext(context.Background(), nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, outcome.ErrNoMoreHandlers)
	assert.Equal(t, 404, outcome.StatusOf(err))
	assert.True(t, ec.Queue().Empty())
	assert.ErrorIs(t, ec.Err(), outcome.ErrNoMoreHandlers)
}

func TestHandleNextDelegatingPastEnd(t *testing.T) {
	var trace []string
	ec := NewContext(WithHandlers(recorder("only", &trace)))

	_, err := ec.HandleNext(context.Background(), nil)

	assert.ErrorIs(t, err, outcome.ErrNoMoreHandlers)
	assert.Equal(t, []string{"only"}, trace)
}

func TestCurrentRequestIsScopedToCall(t *testing.T) {
	var seen []any
	inner := HandlerFunc(func(_ context.Context, _ any, ec *Context) (any, error) {
		seen = append(seen, ec.CurrentRequest())
		return nil, outcome.NotFound("inner failed")
	})
	outer := HandlerFunc(func(ctx context.Context, input any, ec *Context) (any, error) {
		seen = append(seen, ec.CurrentRequest())
		_, err := ec.HandleNext(ctx, "inner-input")
		seen = append(seen, ec.CurrentRequest())
		return nil, err
	})
	ec := NewContext(WithHandlers(outer, inner))

	_, err := ec.HandleNext(context.Background(), "outer-input")

	require.Error(t, err)
	assert.Equal(t, []any{"outer-input", "inner-input", "outer-input"}, seen)
	assert.Nil(t, ec.CurrentRequest())
}

func TestCurrentRequestRestoredOnPanic(t *testing.T) {
	ec := NewContext(WithHandlers(HandlerFunc(func(context.Context, any, *Context) (any, error) {
		panic("boom")
	})))

	assert.Panics(t, func() {
		_, _ = ec.HandleNext(context.Background(), "input")
	})
	assert.Nil(t, ec.CurrentRequest())
}

func TestErrorsAreRecordedAndPropagatedUnmodified(t *testing.T) {
	failure := outcome.BadRequest("bad id")
	ec := NewContext(WithHandlers(
		recorder("outer", new([]string)),
		HandlerFunc(func(context.Context, any, *Context) (any, error) { return nil, failure }),
	))

	_, err := ec.HandleNext(context.Background(), nil)

	assert.Same(t, failure, err)
	assert.Same(t, failure, ec.Err())
	assert.Same(t, failure, ec.ClientErr())
}

func TestServerErrorsDoNotTouchClientSlot(t *testing.T) {
	ec := NewContext()
	client := outcome.NotFound("missing")
	ec.SetErr(client)
	ec.SetErr(outcome.InternalError(errors.New("db"), "query failed"))

	assert.ErrorIs(t, ec.Err(), outcome.ErrInternal)
	assert.Same(t, client, ec.ClientErr())
}

func TestCopySharesSessionButNotRequestScope(t *testing.T) {
	ec := NewContext(WithHandlers(terminal("a"), terminal("b")), WithSessionScope(NewSyncScope()))
	ec.RequestScope().Set("req", 1)
	ec.SessionScope().Set("sess", 1)

	cp := ec.Copy()
	_, err := cp.HandleNext(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, 2, ec.Queue().Len(), "copy must not consume the original queue")
	assert.Equal(t, 1, cp.Queue().Len())
	_, ok := cp.RequestScope().Get("req")
	assert.False(t, ok)
	cp.SessionScope().Set("from-copy", true)
	_, ok = ec.SessionScope().Get("from-copy")
	assert.True(t, ok)
	cp.SessionStore().Set("store-key", 1)
	v, ok := ec.SessionStore().Get("store-key")
	assert.True(t, ok, "session store must be shared with the copy")
	assert.Equal(t, 1, v)
	assert.NotEqual(t, ec.ID(), cp.ID())
}

func TestInvalidateSession(t *testing.T) {
	ec := NewContext()
	ec.SessionScope().Set("a", 1)
	ec.SessionScope().Set("b", 2)

	ec.InvalidateSession()

	assert.Equal(t, 0, ec.SessionScope().Len())
}

type countingFactory struct {
	calls  int
	reader DataReader
}

func (f *countingFactory) CreateReader(context.Context, *Context) (DataReader, error) {
	f.calls++
	return f.reader, nil
}

func TestReaderFactoryResolvedOnce(t *testing.T) {
	factory := &countingFactory{reader: NewSliceReader("r1", "r2")}
	ec := NewContext(WithDataReaderFactory(factory))
	ctx := context.Background()

	first, err := ec.ReadNextData(ctx)
	require.NoError(t, err)
	second, err := ec.ReadNextData(ctx)
	require.NoError(t, err)
	third, err := ec.ReadNextData(ctx)
	require.NoError(t, err)

	assert.Equal(t, "r1", first)
	assert.Equal(t, "r2", second)
	assert.Nil(t, third)
	assert.False(t, ec.HasNextData(ctx))
	assert.Equal(t, "r2", ec.LastReadData())
	assert.Equal(t, 1, factory.calls)
}

func TestCopiesShareResolvedReader(t *testing.T) {
	reader := NewSliceReader("r1", "r2", "r3")
	factory := &countingFactory{reader: reader}
	ec := NewContext(WithDataReaderFactory(factory))
	ctx := context.Background()

	left, right := ec.Copy(), ec.Copy()
	first, err := left.ReadNextData(ctx)
	require.NoError(t, err)
	second, err := right.ReadNextData(ctx)
	require.NoError(t, err)
	third, err := ec.ReadNextData(ctx)
	require.NoError(t, err)

	assert.Equal(t, []any{"r1", "r2", "r3"}, []any{first, second, third})
	assert.Equal(t, 1, factory.calls)

	left.CloseReader()
	assert.False(t, reader.Closed(), "a copy must not close the shared reader")
	ec.CloseReader()
	assert.True(t, reader.Closed())
}

func TestCopyKeepsReaderAfterOriginalReplacesIt(t *testing.T) {
	shared := NewSliceReader("shared")
	ec := NewContext(WithDataReader(shared))
	cp := ec.Copy()

	ec.SetDataReader(NewSliceReader("replacement"))
	data, err := cp.ReadNextData(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "shared", data)
}

func TestReaderAndFactoryAreExclusive(t *testing.T) {
	direct := NewSliceReader("direct")
	factory := &countingFactory{reader: NewSliceReader("factory")}
	ctx := context.Background()

	ec := NewContext(WithDataReader(direct), WithDataReaderFactory(factory))
	data, err := ec.ReadNextData(ctx)
	require.NoError(t, err)
	assert.Equal(t, "factory", data)

	ec.SetDataReader(direct)
	data, err = ec.ReadNextData(ctx)
	require.NoError(t, err)
	assert.Equal(t, "direct", data)
	assert.Equal(t, 1, factory.calls)
}

func TestReaderFactoryFailure(t *testing.T) {
	boom := errors.New("no such file")
	ec := NewContext(WithDataReaderFactory(DataReaderFactoryFunc(func(context.Context, *Context) (DataReader, error) {
		return nil, boom
	})))

	_, err := ec.ReadNextData(context.Background())

	assert.ErrorIs(t, err, boom)
	assert.False(t, ec.HasNextData(context.Background()))
}

func TestReadWithoutReader(t *testing.T) {
	ec := NewContext()

	data, err := ec.ReadNextData(context.Background())

	assert.NoError(t, err)
	assert.Nil(t, data)
	ec.CloseReader()
}

type failingCloser struct {
	*SliceReader
}

func (failingCloser) Close(*Context) error { return errors.New("close failed") }

func TestCloseReaderSwallowsFailures(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	ec := NewContext(WithDataReader(failingCloser{NewSliceReader()}), WithLogger(logger))

	assert.NotPanics(t, ec.CloseReader)
	assert.Contains(t, buf.String(), "failed to close data reader")
	assert.Contains(t, buf.String(), "execution_id="+ec.ID())
}

func TestSettings(t *testing.T) {
	ec := NewContext(WithSettings(SettingsMap{"mode": "batch"}))

	v, ok := ec.Setting("mode")
	assert.True(t, ok)
	assert.Equal(t, "batch", v)
	_, ok = ec.Setting("missing")
	assert.False(t, ok)
}

func TestProcessSucceededFlag(t *testing.T) {
	ec := NewContext()
	assert.False(t, ec.ProcessSucceeded())
	ec.SetProcessSucceeded(true)
	assert.True(t, ec.ProcessSucceeded())
}
