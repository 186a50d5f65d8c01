package pubsub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/nfrund/modular/internal/events"
	"github.com/nfrund/modular/internal/host"
)

func receive(t *testing.T, ch <-chan Message) Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return Message{}
	}
}

func TestWatermillBridge_PublishSubscribe(t *testing.T) {
	bridge := NewWatermillBridge()
	defer bridge.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan Message, 1)
	require.NoError(t, bridge.Subscribe(ctx, "test.topic", func(_ context.Context, msg Message) error {
		got <- msg
		return nil
	}))

	require.NoError(t, bridge.Publish(ctx, Message{
		Topic:    "test.topic",
		Payload:  []byte(`{"message": "hello world"}`),
		Metadata: map[string]string{"request_id": "req-123"},
	}))

	msg := receive(t, got)
	assert.Equal(t, "test.topic", msg.Topic)
	assert.JSONEq(t, `{"message": "hello world"}`, string(msg.Payload))
	assert.Equal(t, "req-123", msg.Metadata["request_id"])
	assert.NotContains(t, msg.Metadata, metaKeyTopic)
}

func TestSink_ForwardsHostEvents(t *testing.T) {
	bridge := NewWatermillBridge()
	defer bridge.Close()

	h := host.New()
	defer h.Shutdown(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan Message, 1)
	require.NoError(t, bridge.Subscribe(ctx, "out.orders.created", func(_ context.Context, msg Message) error {
		got <- msg
		return nil
	}))

	_, err := h.Subscribe("orders.>", NewSink(bridge, "out."))
	require.NoError(t, err)

	h.Publish("orders.created", []byte("order-1"))

	msg := receive(t, got)
	assert.Equal(t, "out.orders.created", msg.Topic)
	assert.Equal(t, "orders.created", msg.Metadata[MetadataHostTopic])
	assert.Equal(t, []byte("order-1"), msg.Payload)
}

func TestRelay_PublishesIntoHost(t *testing.T) {
	bridge := NewWatermillBridge()
	defer bridge.Close()

	h := host.New()
	defer h.Shutdown(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sink := events.NewChannelSink(4)
	_, err := h.Subscribe("inbound.>", sink)
	require.NoError(t, err)

	relay := NewRelay(bridge, h, nil)
	require.NoError(t, relay.Start(ctx, "in.events", "inbound.raw"))

	require.NoError(t, bridge.Publish(ctx, Message{
		Topic:    "in.events",
		Payload:  []byte("a"),
		Metadata: map[string]string{MetadataHostTopic: "inbound.orders"},
	}))
	require.NoError(t, bridge.Publish(ctx, Message{Topic: "inbound.raw", Payload: []byte("b")}))

	seen := map[string]string{}
	for len(seen) < 2 {
		select {
		case ev := <-sink.C():
			seen[ev.Topic] = string(ev.Payload)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out, got %v", seen)
		}
	}
	assert.Equal(t, map[string]string{"inbound.orders": "a", "inbound.raw": "b"}, seen)
}

func TestTracingMiddleware(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer tp.Shutdown(context.Background())

	bridge := NewWatermillBridge(WithTracer(tp.Tracer("test")))
	defer bridge.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan Message, 1)
	require.NoError(t, bridge.Subscribe(ctx, "traced", func(_ context.Context, msg Message) error {
		got <- msg
		return nil
	}))
	require.NoError(t, bridge.Publish(ctx, Message{Topic: "traced", Payload: []byte("x")}))
	receive(t, got)

	require.Eventually(t, func() bool {
		names := map[string]bool{}
		for _, s := range recorder.Ended() {
			names[s.Name()] = true
		}
		return names["pubsub.publish.traced"] && names["pubsub.process.traced"]
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSetupOTel(t *testing.T) {
	ctx := context.Background()

	t.Run("disabled tracing", func(t *testing.T) {
		tracer, shutdown, err := SetupOTel(ctx, TracingConfig{Enabled: false}, "test")
		require.NoError(t, err)
		require.NotNil(t, tracer)

		_, span := tracer.Start(ctx, "test")
		span.End()
		assert.NoError(t, shutdown(ctx))
	})

	t.Run("enabled tracing", func(t *testing.T) {
		config := DefaultTracingConfig()
		config.Enabled = true
		tracer, shutdown, err := SetupOTel(ctx, config, "test")
		require.NoError(t, err)
		require.NotNil(t, tracer)
		require.NotNil(t, shutdown)
		_ = shutdown(ctx)
	})
}
