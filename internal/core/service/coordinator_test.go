package service

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/99minutos/estimate-sync/internal/core/domain"
)

type coordinatorFixture struct {
	c        *Coordinator
	repo     *stubEstimateRepo
	subs     *stubSubscriber
	cache    *stubCache
	notifier *recordingNotifier
}

func newCoordinatorFixture(t *testing.T, opts CoordinatorOptions) *coordinatorFixture {
	t.Helper()
	f := &coordinatorFixture{
		repo:     &stubEstimateRepo{},
		subs:     &stubSubscriber{},
		cache:    &stubCache{},
		notifier: &recordingNotifier{},
	}
	f.c = NewCoordinator(f.repo, f.subs, f.cache, f.notifier, opts, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan struct{})
	go func() {
		_ = f.c.Serve(ctx)
		close(served)
	}()
	t.Cleanup(func() {
		cancel()
		<-served
	})
	return f
}

func (f *coordinatorFixture) viewIDs() []string {
	v := f.c.View()
	out := make([]string, len(v.Records))
	for i := range v.Records {
		out[i] = v.Records[i].ID
	}
	return out
}

func (f *coordinatorFixture) waitLoaded(t *testing.T) {
	t.Helper()
	waitFor(t, "fetch to land", func() bool { return !f.c.View().IsLoading })
}

// ---------------------------------------------------------------------------
// Start
// ---------------------------------------------------------------------------

func TestCoordinator_StartExposesScopedSnapshot(t *testing.T) {
	f := newCoordinatorFixture(t, CoordinatorOptions{})
	f.repo.set([]domain.Estimate{
		estimate("mine-old", "U1", "", domain.EstimatePending, 0),
		estimate("theirs", "U2", "", domain.EstimatePending, 5),
		estimate("mine-new", "U1", "", domain.EstimatePending, 9),
	}, nil)

	if err := f.c.Start(context.Background(), rep); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	f.waitLoaded(t)

	if got := f.viewIDs(); !reflect.DeepEqual(got, []string{"mine-new", "mine-old"}) {
		t.Fatalf("expected [mine-new mine-old], got %v", got)
	}
	if f.subs.opens() != 1 {
		t.Fatalf("expected subscription opened once, got %d", f.subs.opens())
	}
	if got := f.repo.filters[0]; got == nil || got.Value != "U1" {
		t.Fatalf("expected fetch scoped to U1, got %s", got)
	}
	if v := f.c.View(); v.Identity == nil || v.Identity.ID != "U1" || v.Error != "" {
		t.Fatalf("unexpected view: %+v", v)
	}
}

func TestCoordinator_BuffersEventsUntilInitialFetchLands(t *testing.T) {
	f := newCoordinatorFixture(t, CoordinatorOptions{})
	f.repo.set([]domain.Estimate{estimate("a", "X", "T1", domain.EstimatePending, 0)}, nil)
	gate := f.repo.hold()

	if err := f.c.Start(context.Background(), manager); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !f.c.View().IsLoading {
		t.Fatalf("expected loading while fetch is in flight")
	}

	h := f.subs.handler(t)
	h.HandleEvent(context.Background(), domain.ChangeEvent{
		Kind:   domain.EventInsert,
		Record: ptr(estimate("b", "Y", "T1", domain.EstimatePending, 3)),
	})

	// Event must not be applied before the snapshot exists.
	time.Sleep(20 * time.Millisecond)
	if len(f.c.View().Records) != 0 {
		t.Fatalf("expected no records before fetch lands, got %v", f.viewIDs())
	}

	close(gate)
	f.waitLoaded(t)

	if got := f.viewIDs(); !reflect.DeepEqual(got, []string{"b", "a"}) {
		t.Fatalf("expected buffered event replayed, got %v", got)
	}
	if n := f.notifier.all(); len(n) != 1 || n[0].Kind != domain.NotifyNewEstimate {
		t.Fatalf("expected one new-estimate notification, got %+v", n)
	}
}

func TestCoordinator_StartSameIdentityIsNoop(t *testing.T) {
	f := newCoordinatorFixture(t, CoordinatorOptions{})

	for i := 0; i < 3; i++ {
		if err := f.c.Start(context.Background(), rep); err != nil {
			t.Fatalf("start %d: %v", i, err)
		}
	}
	f.waitLoaded(t)

	if f.subs.opens() != 1 || f.repo.fetches() != 1 {
		t.Fatalf("expected one open and one fetch, got %d/%d", f.subs.opens(), f.repo.fetches())
	}
}

func TestCoordinator_IdentityChangeResetsSession(t *testing.T) {
	f := newCoordinatorFixture(t, CoordinatorOptions{})
	f.repo.set([]domain.Estimate{
		estimate("a", "U1", "T1", domain.EstimatePending, 0),
		estimate("b", "U2", "T1", domain.EstimatePending, 1),
	}, nil)

	if err := f.c.Start(context.Background(), rep); err != nil {
		t.Fatalf("start: %v", err)
	}
	f.waitLoaded(t)
	oldHandler := f.subs.handler(t)
	_, teardownsBefore := f.cache.counts()

	other := domain.Identity{ID: "U2", Role: domain.RoleRep}
	if err := f.c.Start(context.Background(), other); err != nil {
		t.Fatalf("restart: %v", err)
	}
	f.waitLoaded(t)

	if got := f.viewIDs(); !reflect.DeepEqual(got, []string{"b"}) {
		t.Fatalf("expected [b] for U2, got %v", got)
	}
	if _, teardowns := f.cache.counts(); teardowns <= teardownsBefore {
		t.Fatalf("identity change must reset the cache")
	}
	if f.subs.closes == 0 || f.subs.opens() != 2 {
		t.Fatalf("expected previous subscription closed and a new one opened")
	}

	// Late delivery from the old session is ignored.
	oldHandler.HandleEvent(context.Background(), domain.ChangeEvent{
		Kind:   domain.EventInsert,
		Record: ptr(estimate("c", "U2", "", domain.EstimatePending, 9)),
	})
	f.subs.handler(t).HandleEvent(context.Background(), domain.ChangeEvent{
		Kind:   domain.EventInsert,
		Record: ptr(estimate("d", "U2", "", domain.EstimatePending, 8)),
	})
	waitFor(t, "live event", func() bool { return len(f.c.View().Records) == 2 })
	if got := f.viewIDs(); !reflect.DeepEqual(got, []string{"d", "b"}) {
		t.Fatalf("expected stale-session event dropped, got %v", got)
	}
}

func TestCoordinator_StartRejectsInvalidIdentity(t *testing.T) {
	f := newCoordinatorFixture(t, CoordinatorOptions{})

	err := f.c.Start(context.Background(), domain.Identity{ID: "M", Role: domain.RoleManager})
	if !errors.Is(err, domain.ErrInvalidIdentity) {
		t.Fatalf("expected ErrInvalidIdentity, got: %v", err)
	}
	if f.subs.opens() != 0 {
		t.Fatalf("invalid identity must not subscribe")
	}
	if f.c.View().Error == "" {
		t.Fatalf("expected error surfaced in view")
	}
}

// ---------------------------------------------------------------------------
// Live events
// ---------------------------------------------------------------------------

func TestCoordinator_LiveEventsReconcileAndNotify(t *testing.T) {
	f := newCoordinatorFixture(t, CoordinatorOptions{})
	f.repo.set([]domain.Estimate{
		estimate("R", "X", "T1", domain.EstimatePending, 0),
		estimate("S", "X", "T1", domain.EstimatePending, 1),
	}, nil)

	if err := f.c.Start(context.Background(), manager); err != nil {
		t.Fatalf("start: %v", err)
	}
	f.waitLoaded(t)
	h := f.subs.handler(t)

	prev := estimate("S", "X", "T1", domain.EstimatePending, 1)
	h.HandleEvent(context.Background(), domain.ChangeEvent{
		Kind:     domain.EventUpdate,
		Record:   ptr(estimate("S", "X", "T1", domain.EstimateApproved, 1)),
		Previous: &prev,
	})
	h.HandleEvent(context.Background(), domain.ChangeEvent{
		Kind:   domain.EventUpdate,
		Record: ptr(estimate("R", "X", "T2", domain.EstimatePending, 0)),
	})

	waitFor(t, "R removed", func() bool { return len(f.c.View().Records) == 1 })
	v := f.c.View()
	if v.Records[0].ID != "S" || v.Records[0].Status != domain.EstimateApproved {
		t.Fatalf("expected S approved, got %+v", v.Records[0])
	}

	notes := f.notifier.all()
	if len(notes) != 1 {
		t.Fatalf("expected exactly one notification, got %d", len(notes))
	}
	if notes[0].Kind != domain.NotifyStatusChanged || notes[0].OldStatus != domain.EstimatePending || notes[0].NewStatus != domain.EstimateApproved {
		t.Fatalf("unexpected notification: %+v", notes[0])
	}
}

func TestCoordinator_StreamErrorKeepsSnapshotReadable(t *testing.T) {
	f := newCoordinatorFixture(t, CoordinatorOptions{})
	f.repo.set([]domain.Estimate{estimate("a", "U1", "", domain.EstimatePending, 0)}, nil)

	if err := f.c.Start(context.Background(), rep); err != nil {
		t.Fatalf("start: %v", err)
	}
	f.waitLoaded(t)

	f.subs.handler(t).HandleState(context.Background(), domain.FeedError, domain.ErrStream)
	waitFor(t, "degraded view", func() bool { return f.c.View().Degraded })

	v := f.c.View()
	if len(v.Records) != 1 || v.Error == "" || v.FeedState != domain.FeedError {
		t.Fatalf("expected stale-but-available view with error, got %+v", v)
	}

	f.subs.handler(t).HandleState(context.Background(), domain.FeedSubscribed, nil)
	waitFor(t, "recovered view", func() bool { return !f.c.View().Degraded })
	if f.c.View().Error != "" {
		t.Fatalf("stream error must clear on recovery")
	}
}

// ---------------------------------------------------------------------------
// Refresh
// ---------------------------------------------------------------------------

func TestCoordinator_RefreshReplacesSnapshotAndReplaysLiveEvents(t *testing.T) {
	f := newCoordinatorFixture(t, CoordinatorOptions{})
	f.repo.set([]domain.Estimate{estimate("a", "Y", "T1", domain.EstimatePending, 0)}, nil)

	if err := f.c.Start(context.Background(), manager); err != nil {
		t.Fatalf("start: %v", err)
	}
	f.waitLoaded(t)

	f.repo.set([]domain.Estimate{
		estimate("a", "Y", "T1", domain.EstimateSold, 0),
		estimate("b", "Y", "T1", domain.EstimatePending, 1),
	}, nil)
	gate := f.repo.hold()

	refreshed := make(chan error, 1)
	go func() { refreshed <- f.c.Refresh(context.Background()) }()
	waitFor(t, "refresh in flight", func() bool { return f.c.View().IsLoading })

	f.subs.handler(t).HandleEvent(context.Background(), domain.ChangeEvent{
		Kind:   domain.EventInsert,
		Record: ptr(estimate("c", "Z", "T1", domain.EstimatePending, 2)),
	})
	waitFor(t, "live apply during refresh", func() bool { return len(f.c.View().Records) == 2 })

	close(gate)
	select {
	case err := <-refreshed:
		if err != nil {
			t.Fatalf("refresh: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("refresh did not return")
	}

	if got := f.viewIDs(); !reflect.DeepEqual(got, []string{"c", "b", "a"}) {
		t.Fatalf("expected [c b a], got %v", got)
	}
	if f.c.View().Records[2].Status != domain.EstimateSold {
		t.Fatalf("refresh must replace records wholesale")
	}
	if n := f.notifier.all(); len(n) != 1 {
		t.Fatalf("replay after refresh must not notify twice, got %d", len(n))
	}
	if f.subs.opens() != 1 {
		t.Fatalf("refresh must not disturb a live subscription")
	}
}

func TestCoordinator_RefreshFailureKeepsLastSnapshot(t *testing.T) {
	f := newCoordinatorFixture(t, CoordinatorOptions{})
	f.repo.set([]domain.Estimate{estimate("a", "U1", "", domain.EstimatePending, 0)}, nil)

	if err := f.c.Start(context.Background(), rep); err != nil {
		t.Fatalf("start: %v", err)
	}
	f.waitLoaded(t)

	f.repo.set(nil, errBoom)
	err := f.c.Refresh(context.Background())
	if !errors.Is(err, domain.ErrFetch) {
		t.Fatalf("expected ErrFetch, got: %v", err)
	}

	v := f.c.View()
	if len(v.Records) != 1 || !strings.Contains(v.Error, "boom") {
		t.Fatalf("expected last snapshot kept with error, got %+v", v)
	}

	f.repo.set([]domain.Estimate{estimate("a", "U1", "", domain.EstimatePending, 0)}, nil)
	if err := f.c.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if f.c.View().Error != "" {
		t.Fatalf("successful refresh must clear the error")
	}
}

func TestCoordinator_InitialFetchFailureStillReplaysEvents(t *testing.T) {
	f := newCoordinatorFixture(t, CoordinatorOptions{})
	f.repo.set(nil, errBoom)
	gate := f.repo.hold()

	if err := f.c.Start(context.Background(), rep); err != nil {
		t.Fatalf("start: %v", err)
	}
	f.subs.handler(t).HandleEvent(context.Background(), domain.ChangeEvent{
		Kind:   domain.EventInsert,
		Record: ptr(estimate("a", "U1", "", domain.EstimatePending, 0)),
	})
	close(gate)
	f.waitLoaded(t)

	v := f.c.View()
	if len(v.Records) != 1 || v.Error == "" {
		t.Fatalf("expected buffered event kept alongside fetch error, got %+v", v)
	}
}

func TestCoordinator_RefreshReopensDisconnectedFeed(t *testing.T) {
	f := newCoordinatorFixture(t, CoordinatorOptions{})

	if err := f.c.Start(context.Background(), rep); err != nil {
		t.Fatalf("start: %v", err)
	}
	f.waitLoaded(t)

	f.subs.handler(t).HandleState(context.Background(), domain.FeedDisconnected, domain.ErrDisconnected)
	waitFor(t, "disconnected", func() bool { return f.c.View().FeedState == domain.FeedDisconnected })

	if err := f.c.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if f.subs.opens() != 2 {
		t.Fatalf("expected subscription reopened, got %d opens", f.subs.opens())
	}
}

func TestCoordinator_RefreshWithoutSession(t *testing.T) {
	f := newCoordinatorFixture(t, CoordinatorOptions{})

	if err := f.c.Refresh(context.Background()); !errors.Is(err, domain.ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got: %v", err)
	}
}

func TestCoordinator_ResyncAfterReconnect(t *testing.T) {
	f := newCoordinatorFixture(t, CoordinatorOptions{ResyncOnReconnect: true})

	if err := f.c.Start(context.Background(), rep); err != nil {
		t.Fatalf("start: %v", err)
	}
	f.waitLoaded(t)
	h := f.subs.handler(t)

	h.HandleState(context.Background(), domain.FeedSubscribed, nil)
	h.HandleState(context.Background(), domain.FeedError, errBoom)
	h.HandleState(context.Background(), domain.FeedReconnecting, nil)
	f.repo.set([]domain.Estimate{estimate("missed", "U1", "", domain.EstimatePending, 0)}, nil)
	h.HandleState(context.Background(), domain.FeedSubscribed, nil)

	waitFor(t, "resync", func() bool { return len(f.c.View().Records) == 1 })
	if f.repo.fetches() != 2 {
		t.Fatalf("expected initial fetch plus one resync, got %d", f.repo.fetches())
	}
}

// ---------------------------------------------------------------------------
// Stop and identity watching
// ---------------------------------------------------------------------------

func TestCoordinator_StopClearsViewAndIsIdempotent(t *testing.T) {
	f := newCoordinatorFixture(t, CoordinatorOptions{})
	f.repo.set([]domain.Estimate{estimate("a", "U1", "", domain.EstimatePending, 0)}, nil)

	if err := f.c.Start(context.Background(), rep); err != nil {
		t.Fatalf("start: %v", err)
	}
	f.waitLoaded(t)

	for i := 0; i < 2; i++ {
		if err := f.c.Stop(context.Background()); err != nil {
			t.Fatalf("stop %d: %v", i, err)
		}
	}

	v := f.c.View()
	if len(v.Records) != 0 || v.Identity != nil || v.IsLoading {
		t.Fatalf("expected cleared view, got %+v", v)
	}
}

func TestCoordinator_WatchIdentity(t *testing.T) {
	f := newCoordinatorFixture(t, CoordinatorOptions{})
	f.repo.set([]domain.Estimate{
		estimate("a", "U1", "", domain.EstimatePending, 0),
		estimate("b", "U2", "", domain.EstimatePending, 1),
	}, nil)

	session := NewSessionIdentity()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.c.WatchIdentity(ctx, session.Updates())

	session.Set(&rep)
	waitFor(t, "session for U1", func() bool {
		v := f.c.View()
		return v.Identity != nil && v.Identity.ID == "U1" && !v.IsLoading
	})

	session.Set(nil)
	waitFor(t, "session stopped", func() bool { return f.c.View().Identity == nil })
}
