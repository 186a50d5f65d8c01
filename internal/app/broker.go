package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/samber/do/v2"

	"github.com/nfrund/modular/internal/config"
	"github.com/nfrund/modular/internal/host"
	"github.com/nfrund/modular/internal/pubsub"
)

// brokerLink forwards host events to the broker and relays broker topics
// into the host.
type brokerLink struct {
	host   *host.Host
	cancel context.CancelFunc
	sinkID uuid.UUID
}

func newBrokerLink(i do.Injector) (*brokerLink, error) {
	cfg := do.MustInvoke[*config.Config](i)
	logger := do.MustInvoke[*slog.Logger](i)
	h := do.MustInvoke[*host.Host](i)
	bridge := do.MustInvoke[*pubsub.WatermillBridge](i)

	ctx, cancel := context.WithCancel(context.Background())
	link := &brokerLink{host: h, cancel: cancel}

	if cfg.Broker.Export != "" {
		id, err := h.Subscribe(cfg.Broker.Export, pubsub.NewSink(bridge, cfg.Broker.Prefix))
		if err != nil {
			cancel()
			return nil, fmt.Errorf("broker export: %w", err)
		}
		link.sinkID = id
		logger.Info("Exporting host topics to broker", "pattern", cfg.Broker.Export, "prefix", cfg.Broker.Prefix)
	}

	if len(cfg.Broker.Inbound) > 0 {
		if err := pubsub.NewRelay(bridge, h, logger).Start(ctx, cfg.Broker.Inbound...); err != nil {
			link.Shutdown(context.Background())
			return nil, err
		}
	}
	return link, nil
}

// Shutdown stops relaying and removes the export subscription.
func (l *brokerLink) Shutdown(context.Context) error {
	l.cancel()
	if l.sinkID != uuid.Nil {
		l.host.Unsubscribe(l.sinkID)
	}
	return nil
}
