package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/99minutos/estimate-sync/internal/core/domain"
	"github.com/99minutos/estimate-sync/internal/core/policy"
	"github.com/99minutos/estimate-sync/internal/core/ports"
	"github.com/99minutos/estimate-sync/internal/infrastructure/metrics"
)

const (
	defaultFetchTimeout = 15 * time.Second
	inboxBuffer         = 256
)

// SessionCache is the per-session cache the coordinator resets whenever the
// identity changes.
type SessionCache interface {
	Init()
	Teardown()
}

// Subscriber is the subscription side the coordinator drives.
type Subscriber interface {
	Open(ctx context.Context, id domain.Identity, h SubscriptionHandler) error
	Close()
}

// CoordinatorOptions tunes the coordinator.
type CoordinatorOptions struct {
	FetchTimeout time.Duration
	// ResyncOnReconnect re-fetches the snapshot after the stream recovers,
	// covering events missed while disconnected.
	ResyncOnReconnect bool
	Now               func() time.Time
}

type fetchReason string

const (
	fetchInitial fetchReason = "initial"
	fetchRefresh fetchReason = "refresh"
	fetchResync  fetchReason = "resync"
)

// pendingFetch is an in-flight snapshot query and the events that arrived
// while it was running.
type pendingFetch struct {
	seq     uint64
	reason  fetchReason
	buffer  []domain.ChangeEvent
	waiters []chan error
}

type (
	startMsg struct {
		id    domain.Identity
		reply chan error
	}
	stopMsg    struct{ reply chan struct{} }
	refreshMsg struct{ reply chan error }
	fetchedMsg struct {
		gen, seq uint64
		records  []domain.Estimate
		err      error
	}
	eventMsg struct {
		gen uint64
		ev  domain.ChangeEvent
	}
	stateMsg struct {
		gen   uint64
		state domain.FeedState
		err   error
	}
)

// Coordinator keeps one identity's snapshot in sync. All session state is
// owned by the Serve goroutine; fetch results, stream events and commands
// reach it through a single inbox so no two mutations interleave. Readers
// get immutable Views.
type Coordinator struct {
	repo     ports.EstimateRepository
	subs     Subscriber
	cache    SessionCache
	notifier ports.Notifier
	opts     CoordinatorOptions
	log      zerolog.Logger

	inbox chan any
	done  chan struct{}
	view  atomic.Pointer[domain.View]

	// Owned by Serve.
	ctx       context.Context
	gen       uint64
	seq       uint64
	identity  *domain.Identity
	snapshot  Snapshot
	fetch     *pendingFetch
	feedState domain.FeedState
	fetchErr  error
	streamErr error
}

// NewCoordinator wires a coordinator. Call Serve to run it.
func NewCoordinator(
	repo ports.EstimateRepository,
	subs Subscriber,
	cache SessionCache,
	notifier ports.Notifier,
	opts CoordinatorOptions,
	log zerolog.Logger,
) *Coordinator {
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = defaultFetchTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	c := &Coordinator{
		repo:      repo,
		subs:      subs,
		cache:     cache,
		notifier:  notifier,
		opts:      opts,
		log:       log.With().Str("component", "coordinator").Logger(),
		inbox:     make(chan any, inboxBuffer),
		done:      make(chan struct{}),
		feedState: domain.FeedIdle,
	}
	c.view.Store(&domain.View{Records: []domain.Estimate{}, FeedState: domain.FeedIdle})
	return c
}

// View returns the latest published view. It never blocks.
func (c *Coordinator) View() *domain.View {
	return c.view.Load()
}

// Start begins a session for id. It returns as soon as the fetch and the
// subscription are under way. Starting with the identity of a healthy
// session is a no-op; any other identity tears the current session down.
func (c *Coordinator) Start(ctx context.Context, id domain.Identity) error {
	reply := make(chan error, 1)
	if err := c.send(ctx, startMsg{id: id, reply: reply}); err != nil {
		return err
	}
	return c.await(ctx, reply)
}

// Stop ends the session, discards buffered events and clears the view. It is
// idempotent.
func (c *Coordinator) Stop(ctx context.Context) error {
	reply := make(chan struct{})
	if err := c.send(ctx, stopMsg{reply: reply}); err != nil {
		return err
	}
	select {
	case <-reply:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return nil
	}
}

// Refresh re-runs the snapshot query and waits for it to land. The live
// subscription is left alone unless it has given up, in which case it is
// reopened.
func (c *Coordinator) Refresh(ctx context.Context) error {
	reply := make(chan error, 1)
	if err := c.send(ctx, refreshMsg{reply: reply}); err != nil {
		return err
	}
	return c.await(ctx, reply)
}

// WatchIdentity restarts the session on every identity emission until ctx is
// done or updates is closed. A nil identity stops the session.
func (c *Coordinator) WatchIdentity(ctx context.Context, updates <-chan *domain.Identity) {
	for {
		select {
		case <-ctx.Done():
			return
		case id, ok := <-updates:
			if !ok {
				return
			}
			var err error
			if id == nil {
				err = c.Stop(ctx)
			} else {
				err = c.Start(ctx, *id)
			}
			if err != nil && ctx.Err() == nil {
				c.log.Warn().Err(err).Msg("identity change not applied")
			}
		}
	}
}

// Serve runs the coordinator loop until ctx is done.
func (c *Coordinator) Serve(ctx context.Context) error {
	c.ctx = ctx
	defer close(c.done)
	defer c.teardown()

	c.cache.Init()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-c.inbox:
			c.handle(msg)
		}
	}
}

func (c *Coordinator) send(ctx context.Context, msg any) error {
	select {
	case c.inbox <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return domain.ErrNoSession
	}
}

func (c *Coordinator) await(ctx context.Context, reply <-chan error) error {
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return domain.ErrNoSession
	}
}

func (c *Coordinator) handle(msg any) {
	switch m := msg.(type) {
	case startMsg:
		m.reply <- c.start(m.id)
	case stopMsg:
		c.teardown()
		c.cache.Init()
		c.publish()
		close(m.reply)
	case refreshMsg:
		c.refresh(m.reply)
	case fetchedMsg:
		if m.gen == c.gen {
			c.landFetch(m)
		}
	case eventMsg:
		if m.gen == c.gen {
			c.onEvent(m.ev)
		}
	case stateMsg:
		if m.gen == c.gen {
			c.onState(m.state, m.err)
		}
	}
}

func (c *Coordinator) start(id domain.Identity) error {
	if c.identity.Equal(&id) && c.healthy() {
		return nil
	}

	c.teardown()
	c.cache.Init()
	if err := policy.Validate(id); err != nil {
		c.fetchErr = err
		c.publish()
		return fmt.Errorf("start session: %w", err)
	}

	c.identity = &id
	c.beginFetch(fetchInitial)
	if err := c.subs.Open(c.ctx, id, &sessionHandler{c: c, gen: c.gen}); err != nil {
		c.streamErr = err
	}
	c.publish()

	c.log.Info().Str("identity_id", id.ID).Str("role", string(id.Role)).Msg("session started")
	return nil
}

func (c *Coordinator) healthy() bool {
	return c.fetchErr == nil && c.feedState != domain.FeedDisconnected && c.feedState != domain.FeedClosed
}

// teardown closes the subscription, fails pending waiters and drops the
// session cache. Events from the old session are ignored afterwards.
func (c *Coordinator) teardown() {
	c.subs.Close()
	if c.fetch != nil {
		for _, w := range c.fetch.waiters {
			w <- domain.ErrNoSession
		}
		metrics.EventsBuffered.Set(0)
	}
	c.cache.Teardown()

	c.gen++
	c.identity = nil
	c.snapshot = nil
	c.fetch = nil
	c.feedState = domain.FeedIdle
	c.fetchErr = nil
	c.streamErr = nil
}

func (c *Coordinator) refresh(reply chan error) {
	if c.identity == nil {
		reply <- domain.ErrNoSession
		return
	}
	if c.fetch == nil {
		c.beginFetch(fetchRefresh)
	}
	c.fetch.waiters = append(c.fetch.waiters, reply)

	if c.feedState == domain.FeedDisconnected {
		c.streamErr = nil
		if err := c.subs.Open(c.ctx, *c.identity, &sessionHandler{c: c, gen: c.gen}); err != nil {
			c.streamErr = err
		}
	}
	c.publish()
}

func (c *Coordinator) beginFetch(reason fetchReason) {
	c.seq++
	c.fetch = &pendingFetch{seq: c.seq, reason: reason}

	id := *c.identity
	gen, seq := c.gen, c.seq
	ctx := c.ctx
	go func() {
		start := time.Now()
		records, err := c.query(ctx, id)
		metrics.FetchDuration.WithLabelValues(string(reason)).Observe(time.Since(start).Seconds())

		select {
		case c.inbox <- fetchedMsg{gen: gen, seq: seq, records: records, err: err}:
		case <-ctx.Done():
		}
	}()
}

func (c *Coordinator) query(ctx context.Context, id domain.Identity) ([]domain.Estimate, error) {
	filter, err := policy.ServerFilter(id)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, c.opts.FetchTimeout)
	defer cancel()
	return c.repo.Fetch(ctx, filter)
}

func (c *Coordinator) landFetch(m fetchedMsg) {
	f := c.fetch
	if f == nil || f.seq != m.seq {
		return
	}
	c.fetch = nil
	metrics.EventsBuffered.Set(0)

	notify := f.reason == fetchInitial
	var result error

	if m.err != nil {
		metrics.FetchErrorsTotal.WithLabelValues(string(f.reason)).Inc()
		c.fetchErr = fmt.Errorf("%w: %v", domain.ErrFetch, m.err)
		result = c.fetchErr
		c.log.Error().Err(m.err).Str("reason", string(f.reason)).Msg("snapshot fetch failed")

		// Live events were not applied during the initial fetch, so they
		// still need to land somewhere.
		if f.reason == fetchInitial {
			c.snapshot = c.replay(Snapshot{}, f.buffer, notify)
		}
	} else {
		c.fetchErr = nil
		c.snapshot = c.replay(NewSnapshot(*c.identity, m.records), f.buffer, notify)
		c.log.Debug().
			Str("reason", string(f.reason)).
			Int("records", len(c.snapshot)).
			Int("replayed", len(f.buffer)).
			Msg("snapshot fetched")
	}

	for _, w := range f.waiters {
		w <- result
	}
	c.publish()
}

func (c *Coordinator) replay(base Snapshot, events []domain.ChangeEvent, notify bool) Snapshot {
	for _, ev := range events {
		base = c.apply(base, ev, notify)
	}
	return base
}

func (c *Coordinator) onEvent(ev domain.ChangeEvent) {
	if c.fetch != nil {
		c.fetch.buffer = append(c.fetch.buffer, ev)
		metrics.EventsBuffered.Set(float64(len(c.fetch.buffer)))
		if c.fetch.reason == fetchInitial {
			return
		}
	}
	c.snapshot = c.apply(c.snapshot, ev, true)
	c.publish()
}

func (c *Coordinator) apply(s Snapshot, ev domain.ChangeEvent, notify bool) Snapshot {
	id := *c.identity
	res := Reconcile(s, ev, id)
	metrics.EventsAppliedTotal.WithLabelValues(string(res.Effect)).Inc()

	switch res.Effect {
	case EffectFiltered:
		metrics.PolicyViolationsTotal.Inc()
		c.log.Warn().
			Err(domain.ErrPolicyViolation).
			Str("identity_id", id.ID).
			Str("estimate_id", ev.RecordID()).
			Msg("dropping out-of-scope event")
	case EffectStale:
		c.log.Debug().Str("estimate_id", ev.RecordID()).Msg("dropping stale update")
	}

	if notify && c.notifier != nil {
		if n, ok := NotificationFor(ev, id, res, c.opts.Now()); ok {
			c.notifier.Publish(n)
		}
	}
	return res.Snapshot
}

func (c *Coordinator) onState(state domain.FeedState, err error) {
	prev := c.feedState
	c.feedState = state

	switch state {
	case domain.FeedError, domain.FeedDisconnected:
		c.streamErr = err
	case domain.FeedSubscribed:
		c.streamErr = nil
		recovered := prev == domain.FeedError || prev == domain.FeedReconnecting
		if recovered && c.opts.ResyncOnReconnect && c.fetch == nil {
			c.log.Info().Msg("stream recovered, resyncing snapshot")
			c.beginFetch(fetchResync)
		}
	}
	c.publish()
}

// publish replaces the exposed view.
func (c *Coordinator) publish() {
	records := []domain.Estimate(c.snapshot)
	if records == nil {
		records = []domain.Estimate{}
	}
	v := &domain.View{
		Records:   records,
		IsLoading: c.fetch != nil,
		FeedState: c.feedState,
		Degraded:  c.feedState.Degraded(),
		UpdatedAt: c.opts.Now(),
	}
	if c.identity != nil {
		id := *c.identity
		v.Identity = &id
	}
	if err := errors.Join(c.fetchErr, c.streamErr); err != nil {
		v.Error = err.Error()
	}
	c.view.Store(v)
}

// sessionHandler forwards subscription output for one session generation.
type sessionHandler struct {
	c   *Coordinator
	gen uint64
}

func (h *sessionHandler) HandleEvent(ctx context.Context, ev domain.ChangeEvent) {
	select {
	case h.c.inbox <- eventMsg{gen: h.gen, ev: ev}:
	case <-ctx.Done():
	}
}

func (h *sessionHandler) HandleState(ctx context.Context, state domain.FeedState, err error) {
	select {
	case h.c.inbox <- stateMsg{gen: h.gen, state: state, err: err}:
	case <-ctx.Done():
	}
}
