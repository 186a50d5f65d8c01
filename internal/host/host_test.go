package host_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfrund/modular/internal/events"
	"github.com/nfrund/modular/internal/host"
	"github.com/nfrund/modular/internal/metrics"
	"github.com/nfrund/modular/internal/module"
	"github.com/nfrund/modular/internal/registry"
	"github.com/nfrund/modular/internal/topics"
)

func newHost(t *testing.T, opts ...host.Option) *host.Host {
	t.Helper()
	h := host.New(opts...)
	t.Cleanup(func() { _ = h.Shutdown(context.Background()) })
	return h
}

func TestSubscribe(t *testing.T) {
	t.Run("invalid pattern", func(t *testing.T) {
		h := newHost(t)
		_, err := h.Subscribe("a.>.b", events.NewChannelSink(1))

		assert.ErrorIs(t, err, host.ErrInvalidPattern)
		var perr *topics.ParseError
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, 2, perr.Offset)
	})

	t.Run("delivers matching events", func(t *testing.T) {
		h := newHost(t)
		sink := events.NewChannelSink(1)
		_, err := h.Subscribe("user.{id}.login", sink)
		require.NoError(t, err)

		h.Publish("user.42.login", []byte("ok"))

		select {
		case ev := <-sink.C():
			assert.Equal(t, "user.42.login", ev.Topic)
			assert.Equal(t, "ok", string(ev.Payload))
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	})
}

func TestReservedNamespace(t *testing.T) {
	m, err := metrics.New(nil)
	require.NoError(t, err)
	h := newHost(t, host.WithMetrics(m))

	sink := events.NewChannelSink(4)
	_, err = h.Subscribe(">", sink)
	require.NoError(t, err)

	h.Publish("$.sys.anything", []byte("secret"))
	h.Publish("$.sys.shutdown.now", nil)
	h.Publish("public", []byte("hello"))

	select {
	case ev := <-sink.C():
		assert.Equal(t, "public", ev.Topic, "reserved topics must never be delivered")
	case <-time.After(time.Second):
		t.Fatal("public event not delivered")
	}
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ReservedDropped))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Published))
}

func TestModules(t *testing.T) {
	h := newHost(t)
	version := func(v string) module.Handler {
		return module.HandlerFunc(func(context.Context, module.Request) (module.Response, error) {
			return module.Response{Data: []byte(v)}, nil
		})
	}

	require.NoError(t, h.RegisterModule("svc", version("v1")))
	err := h.RegisterModule("svc", version("dup"))
	assert.True(t, errors.Is(err, registry.ErrAlreadyExists))

	handle, ok := h.GetModule("svc")
	require.True(t, ok)

	resp, err := handle.Invoke(context.Background(), module.Request{})
	require.NoError(t, err)
	assert.Equal(t, "v1", string(resp.Data))

	h.RegisterOrReplaceModule("svc", version("v2"))
	resp, err = handle.Invoke(context.Background(), module.Request{})
	require.NoError(t, err)
	assert.Equal(t, "v2", string(resp.Data))

	resp, err = h.Invoke(context.Background(), "svc", module.Request{})
	require.NoError(t, err)
	assert.Equal(t, "v2", string(resp.Data))
	assert.Equal(t, []string{"svc"}, h.Modules())

	h.DeregisterModule("svc")
	_, err = handle.Invoke(context.Background(), module.Request{})
	assert.ErrorIs(t, err, module.ErrDestroyed)

	_, err = h.Invoke(context.Background(), "svc", module.Request{})
	assert.ErrorIs(t, err, module.ErrDestroyed)
}

func TestShutdown(t *testing.T) {
	h := host.New()
	sink := events.NewChannelSink(1)
	_, err := h.Subscribe(">", sink)
	require.NoError(t, err)
	require.NoError(t, h.RegisterModule("svc", module.Actions{}))
	handle, _ := h.GetModule("svc")

	require.NoError(t, h.Shutdown(context.Background()))

	_, open := <-sink.C()
	assert.False(t, open)
	assert.Empty(t, h.Modules())
	_, err = handle.Invoke(context.Background(), module.Request{})
	assert.ErrorIs(t, err, module.ErrDestroyed)
	assert.NotPanics(t, func() { h.Publish("late", nil) })
}
