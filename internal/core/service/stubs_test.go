package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/99minutos/estimate-sync/internal/core/domain"
	"github.com/99minutos/estimate-sync/internal/core/ports"
)

// ---------------------------------------------------------------------------
// Change stream
// ---------------------------------------------------------------------------

type fakeFeed struct {
	events chan domain.ChangeEvent
	errs   chan error
	once   sync.Once
	closed chan struct{}
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{
		events: make(chan domain.ChangeEvent, 16),
		errs:   make(chan error, 1),
		closed: make(chan struct{}),
	}
}

func (f *fakeFeed) Next(ctx context.Context) (domain.ChangeEvent, error) {
	select {
	case ev := <-f.events:
		return ev, nil
	case err := <-f.errs:
		return domain.ChangeEvent{}, err
	case <-ctx.Done():
		return domain.ChangeEvent{}, ctx.Err()
	}
}

func (f *fakeFeed) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

// fakeStream hands out a new feed on every successful Open. openErr, when
// set, fails every attempt.
type fakeStream struct {
	mu      sync.Mutex
	openErr error
	filters []*domain.Filter
	feeds   chan *fakeFeed
}

func newFakeStream() *fakeStream {
	return &fakeStream{feeds: make(chan *fakeFeed, 16)}
}

func (s *fakeStream) Open(ctx context.Context, filter *domain.Filter) (ports.Feed, error) {
	s.mu.Lock()
	s.filters = append(s.filters, filter)
	err := s.openErr
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	f := newFakeFeed()
	s.feeds <- f
	return f, nil
}

func (s *fakeStream) opens() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.filters)
}

func (s *fakeStream) nextFeed(t *testing.T) *fakeFeed {
	t.Helper()
	select {
	case f := <-s.feeds:
		return f
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for stream open")
		return nil
	}
}

// recordingHandler captures everything a subscription reports.
type recordingHandler struct {
	events chan domain.ChangeEvent
	states chan domain.FeedState
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		events: make(chan domain.ChangeEvent, 64),
		states: make(chan domain.FeedState, 64),
	}
}

func (h *recordingHandler) HandleEvent(_ context.Context, ev domain.ChangeEvent) {
	h.events <- ev
}

func (h *recordingHandler) HandleState(_ context.Context, state domain.FeedState, _ error) {
	h.states <- state
}

func (h *recordingHandler) waitState(t *testing.T, want domain.FeedState) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case got := <-h.states:
			if got == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %s", want)
		}
	}
}

// ---------------------------------------------------------------------------
// Estimate repository
// ---------------------------------------------------------------------------

type stubEstimateRepo struct {
	mu      sync.Mutex
	records []domain.Estimate
	err     error
	gate    chan struct{}
	filters []*domain.Filter
	summary *domain.EstimateSummary
	sumErr  error
	sums    int
}

func (r *stubEstimateRepo) Fetch(ctx context.Context, filter *domain.Filter) ([]domain.Estimate, error) {
	r.mu.Lock()
	r.filters = append(r.filters, filter)
	gate := r.gate
	r.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	out := make([]domain.Estimate, len(r.records))
	copy(out, r.records)
	return out, nil
}

func (r *stubEstimateRepo) Summarize(_ context.Context, _ *domain.Filter) (*domain.EstimateSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sums++
	return r.summary, r.sumErr
}

func (r *stubEstimateRepo) set(records []domain.Estimate, err error) {
	r.mu.Lock()
	r.records = records
	r.err = err
	r.mu.Unlock()
}

func (r *stubEstimateRepo) hold() chan struct{} {
	g := make(chan struct{})
	r.mu.Lock()
	r.gate = g
	r.mu.Unlock()
	return g
}

func (r *stubEstimateRepo) fetches() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.filters)
}

// ---------------------------------------------------------------------------
// Subscriber, cache, notifier
// ---------------------------------------------------------------------------

type stubSubscriber struct {
	mu       sync.Mutex
	handlers []SubscriptionHandler
	ids      []domain.Identity
	closes   int
}

func (s *stubSubscriber) Open(_ context.Context, id domain.Identity, h SubscriptionHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = append(s.ids, id)
	s.handlers = append(s.handlers, h)
	return nil
}

func (s *stubSubscriber) Close() {
	s.mu.Lock()
	s.closes++
	s.mu.Unlock()
}

func (s *stubSubscriber) handler(t *testing.T) SubscriptionHandler {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.handlers) == 0 {
		t.Fatalf("subscription was never opened")
	}
	return s.handlers[len(s.handlers)-1]
}

func (s *stubSubscriber) opens() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}

type stubCache struct {
	mu        sync.Mutex
	inits     int
	teardowns int
}

func (c *stubCache) Init() {
	c.mu.Lock()
	c.inits++
	c.mu.Unlock()
}

func (c *stubCache) Teardown() {
	c.mu.Lock()
	c.teardowns++
	c.mu.Unlock()
}

func (c *stubCache) counts() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inits, c.teardowns
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []domain.Notification
}

func (n *recordingNotifier) Publish(note domain.Notification) {
	n.mu.Lock()
	n.sent = append(n.sent, note)
	n.mu.Unlock()
}

func (n *recordingNotifier) all() []domain.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]domain.Notification, len(n.sent))
	copy(out, n.sent)
	return out
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

var errBoom = errors.New("boom")

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
