package app

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/samber/do/v2"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfrund/modular/internal/config"
	"github.com/nfrund/modular/internal/events"
	"github.com/nfrund/modular/internal/metrics"
	"github.com/nfrund/modular/internal/module"
	"github.com/nfrund/modular/internal/pubsub"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Workers = 2
	cfg.ScriptsDir = "/scripts"
	cfg.HotReload = false
	return cfg
}

func TestApp_ScriptsBecomeModules(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/scripts/greet/hello.tengo",
		[]byte(`if action == "hi" { result = "hello " + payload }`), 0o644))

	reg := prometheus.NewRegistry()
	a := New(testConfig(), WithFs(fs), WithRegisterer(reg))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.Start(ctx))

	h, err := a.Host()
	require.NoError(t, err)
	assert.Equal(t, []string{"greet.hello"}, h.Modules())

	resp, err := h.Invoke(ctx, "greet.hello", module.Request{Action: "hi", Body: []byte("there")})
	require.NoError(t, err)
	assert.Equal(t, "hello there", string(resp.Data))

	_, err = h.Invoke(ctx, "greet.hello", module.Request{Action: "bye"})
	assert.ErrorIs(t, err, module.ErrUnknownMethod)

	m := do.MustInvoke[*metrics.Metrics](a.injector)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ScriptReloads.WithLabelValues("loaded")))

	require.NoError(t, a.Shutdown(ctx))
	assert.Empty(t, h.Modules())
}

func TestApp_BrokerLink(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.Export = "orders.>"
	cfg.Broker.Prefix = "out."
	cfg.Broker.Inbound = []string{"in.events"}

	a := New(cfg, WithFs(afero.NewMemMapFs()))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.Start(ctx))
	defer a.Shutdown(ctx)

	h, err := a.Host()
	require.NoError(t, err)
	bridge := do.MustInvoke[*pubsub.WatermillBridge](a.injector)

	t.Run("export", func(t *testing.T) {
		got := make(chan pubsub.Message, 1)
		require.NoError(t, bridge.Subscribe(ctx, "out.orders.placed", func(_ context.Context, msg pubsub.Message) error {
			got <- msg
			return nil
		}))

		h.Publish("orders.placed", []byte("42"))

		select {
		case msg := <-got:
			assert.Equal(t, []byte("42"), msg.Payload)
		case <-ctx.Done():
			t.Fatal("no exported message")
		}
	})

	t.Run("inbound", func(t *testing.T) {
		sink := events.NewChannelSink(1)
		_, err := h.Subscribe("billing.>", sink)
		require.NoError(t, err)

		require.NoError(t, bridge.Publish(ctx, pubsub.Message{
			Topic:    "in.events",
			Payload:  []byte("paid"),
			Metadata: map[string]string{pubsub.MetadataHostTopic: "billing.paid"},
		}))

		select {
		case ev := <-sink.C():
			assert.Equal(t, "billing.paid", ev.Topic)
		case <-ctx.Done():
			t.Fatal("no relayed event")
		}
	})
}

func TestApp_InvalidExportPattern(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.Export = "orders..>"

	a := New(cfg, WithFs(afero.NewMemMapFs()))
	err := a.Start(context.Background())
	assert.Error(t, err)
	assert.NoError(t, a.Shutdown(context.Background()))
}
