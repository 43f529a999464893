package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/99minutos/estimate-sync/internal/core/domain"
	"github.com/99minutos/estimate-sync/internal/core/policy"
	"github.com/99minutos/estimate-sync/internal/core/ports"
	"github.com/99minutos/estimate-sync/internal/infrastructure/metrics"
)

// SubscriptionHandler receives everything a live subscription produces. Both
// methods run on the subscription goroutine and must return promptly once
// ctx is done.
type SubscriptionHandler interface {
	HandleEvent(ctx context.Context, ev domain.ChangeEvent)
	HandleState(ctx context.Context, state domain.FeedState, err error)
}

// SubscriptionManager owns at most one authorization-scoped change stream at
// a time. Opening a new subscription always tears down the previous one.
type SubscriptionManager struct {
	stream  ports.ChangeStream
	backoff Backoff
	log     zerolog.Logger

	mu    sync.Mutex
	state domain.FeedState
	sess  *subscription
}

type subscription struct {
	identity domain.Identity
	filter   *domain.Filter
	handler  SubscriptionHandler
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewSubscriptionManager returns an idle manager.
func NewSubscriptionManager(stream ports.ChangeStream, backoff Backoff, log zerolog.Logger) *SubscriptionManager {
	return &SubscriptionManager{
		stream:  stream,
		backoff: backoff,
		log:     log.With().Str("component", "subscription").Logger(),
		state:   domain.FeedIdle,
	}
}

// State returns the current subscription state.
func (m *SubscriptionManager) State() domain.FeedState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Open closes any existing subscription and starts a new one for id. It
// returns once the connect attempt is scheduled; progress is reported via
// h.HandleState. Identities that cannot be scoped are rejected.
func (m *SubscriptionManager) Open(ctx context.Context, id domain.Identity, h SubscriptionHandler) error {
	filter, err := policy.ServerFilter(id)
	if err != nil {
		return fmt.Errorf("open subscription: %w", err)
	}

	m.Close()

	sctx, cancel := context.WithCancel(ctx)
	sess := &subscription{
		identity: id,
		filter:   filter,
		handler:  h,
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	m.mu.Lock()
	m.sess = sess
	m.state = domain.FeedIdle
	m.mu.Unlock()

	go m.run(sctx, sess)
	return nil
}

// Close tears down the current subscription and cancels any pending
// reconnect. It is safe to call from any state and more than once.
func (m *SubscriptionManager) Close() {
	m.mu.Lock()
	sess := m.sess
	m.sess = nil
	if sess != nil || m.state != domain.FeedIdle {
		m.state = domain.FeedClosed
	}
	m.mu.Unlock()

	if sess == nil {
		return
	}
	sess.cancel()
	<-sess.done
	metrics.SetSubscriptionState(string(domain.FeedClosed))
	m.log.Debug().Str("identity_id", sess.identity.ID).Msg("subscription closed")
}

func (m *SubscriptionManager) run(ctx context.Context, sess *subscription) {
	defer close(sess.done)

	log := m.log.With().Str("identity_id", sess.identity.ID).Str("filter", sess.filter.String()).Logger()
	failures := 0

	for {
		if failures == 0 {
			m.transition(ctx, sess, domain.FeedConnecting, nil)
		} else {
			m.transition(ctx, sess, domain.FeedReconnecting, nil)
		}

		feed, err := m.stream.Open(ctx, sess.filter)
		if err == nil {
			if failures > 0 {
				metrics.ReconnectsTotal.WithLabelValues("ok").Inc()
			}
			failures = 0
			m.transition(ctx, sess, domain.FeedSubscribed, nil)
			log.Info().Msg("subscribed")

			err = m.consume(ctx, feed, sess.handler)
			_ = feed.Close()
		} else if failures > 0 {
			metrics.ReconnectsTotal.WithLabelValues("failed").Inc()
		}
		if ctx.Err() != nil {
			return
		}

		failures++
		streamErr := fmt.Errorf("%w: %v", domain.ErrStream, err)
		m.transition(ctx, sess, domain.FeedError, streamErr)

		if m.backoff.Exhausted(failures) {
			log.Error().Err(err).Int("attempts", failures).Msg("reconnect budget exhausted")
			m.transition(ctx, sess, domain.FeedDisconnected, fmt.Errorf("%w after %d attempts", domain.ErrDisconnected, failures))
			return
		}

		delay := m.backoff.Delay(failures)
		log.Warn().Err(err).Int("attempt", failures).Dur("retry_in", delay).Msg("change stream failed")
		if !sleepCtx(ctx, delay) {
			return
		}
	}
}

// consume hands every delivered event to h until the feed fails or ctx ends.
func (m *SubscriptionManager) consume(ctx context.Context, feed ports.Feed, h SubscriptionHandler) error {
	for {
		ev, err := feed.Next(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) && ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		metrics.EventsReceivedTotal.WithLabelValues(string(ev.Kind)).Inc()
		h.HandleEvent(ctx, ev)
	}
}

// transition records state for sess, provided it is still the live
// subscription, and reports it to the handler.
func (m *SubscriptionManager) transition(ctx context.Context, sess *subscription, state domain.FeedState, err error) {
	m.mu.Lock()
	if m.sess != sess || ctx.Err() != nil {
		m.mu.Unlock()
		return
	}
	m.state = state
	m.mu.Unlock()

	metrics.SetSubscriptionState(string(state))
	sess.handler.HandleState(ctx, state, err)
}
