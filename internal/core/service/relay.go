package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/99minutos/estimate-sync/internal/core/domain"
	"github.com/99minutos/estimate-sync/internal/core/ports"
)

// EventPublisher forwards a change to a secondary feed.
type EventPublisher interface {
	Publish(ctx context.Context, ev domain.ChangeEvent) error
}

// Relay copies every change from an unrestricted source stream onto a
// publisher, so scoped subscribers can listen on a cheaper fan-out feed.
type Relay struct {
	source  ports.ChangeStream
	sink    EventPublisher
	backoff Backoff
	log     zerolog.Logger
}

func NewRelay(source ports.ChangeStream, sink EventPublisher, backoff Backoff, log zerolog.Logger) *Relay {
	return &Relay{
		source:  source,
		sink:    sink,
		backoff: backoff,
		log:     log.With().Str("component", "relay").Logger(),
	}
}

// Run relays until ctx is done or the reconnect budget is spent. A change
// that fails to publish is logged and skipped.
func (r *Relay) Run(ctx context.Context) error {
	failures := 0
	for {
		feed, err := r.source.Open(ctx, nil)
		if err == nil {
			failures = 0
			r.log.Info().Msg("relay subscribed")
			err = r.pump(ctx, feed)
			_ = feed.Close()
		}
		if ctx.Err() != nil {
			return nil
		}

		failures++
		if r.backoff.Exhausted(failures) {
			return fmt.Errorf("%w: relay gave up after %d attempts: %v", domain.ErrDisconnected, failures, err)
		}
		delay := r.backoff.Delay(failures)
		r.log.Warn().Err(err).Int("attempt", failures).Dur("retry_in", delay).Msg("relay source failed")
		if !sleepCtx(ctx, delay) {
			return nil
		}
	}
}

func (r *Relay) pump(ctx context.Context, feed ports.Feed) error {
	for {
		ev, err := feed.Next(ctx)
		if err != nil {
			return err
		}
		if err := r.sink.Publish(ctx, ev); err != nil {
			r.log.Error().Err(err).Str("estimate_id", ev.RecordID()).Msg("relay publish failed")
		}
	}
}
