package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"
)

// PubSubWake is a background delivery path that pulls pushes from a
// Pub/Sub subscription the backend publishes to.
type PubSubWake struct {
	client       *pubsub.Client
	subscription string
	logger       *slog.Logger
}

// NewPubSubWake connects to project. opts are passed to the client, e.g.
// option.WithCredentialsFile.
func NewPubSubWake(ctx context.Context, project, subscription string, logger *slog.Logger, opts ...option.ClientOption) (*PubSubWake, error) {
	client, err := pubsub.NewClient(ctx, project, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PubSubWake{
		client:       client,
		subscription: subscription,
		logger:       logger.With("component", "ingest", "path", PathBackground, "subscription", subscription),
	}, nil
}

// Path reports PathBackground.
func (p *PubSubWake) Path() Path { return PathBackground }

// Run receives until ctx is done. A message is acked once it is queued for
// ingestion; malformed payloads are acked too since redelivery would not
// fix them.
func (p *PubSubWake) Run(ctx context.Context, out chan<- Delivery) error {
	sub := p.client.Subscription(p.subscription)
	p.logger.Info("listening for wake messages")

	err := sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		d := Delivery{Path: PathBackground, Body: msg.Data, ReceivedAt: time.Now()}
		if err := send(ctx, out, d); err != nil {
			msg.Nack()
			return
		}
		msg.Ack()
	})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("receiving from %s: %w", p.subscription, err)
	}
	return ctx.Err()
}

// Close releases the client.
func (p *PubSubWake) Close() error {
	return p.client.Close()
}
