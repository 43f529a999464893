package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/99minutos/estimate-sync/internal/core/domain"
)

func fastBackoff(maxAttempts int) Backoff {
	return Backoff{Initial: time.Millisecond, Max: 5 * time.Millisecond, Multiplier: 2, MaxAttempts: maxAttempts}
}

func TestSubscriptionManager_DeliversEvents(t *testing.T) {
	stream := newFakeStream()
	m := NewSubscriptionManager(stream, fastBackoff(3), zerolog.Nop())
	h := newRecordingHandler()

	if err := m.Open(context.Background(), rep, h); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	defer m.Close()

	feed := stream.nextFeed(t)
	h.waitState(t, domain.FeedSubscribed)

	if got := stream.filters[0]; got == nil || got.Field != domain.FieldCreatedBy || got.Value != "U1" {
		t.Fatalf("expected created_by=U1 filter, got %s", got)
	}

	ev := domain.ChangeEvent{Kind: domain.EventInsert, Record: ptr(estimate("a", "U1", "", domain.EstimatePending, 0))}
	feed.events <- ev
	feed.events <- ev

	for i := 0; i < 2; i++ {
		select {
		case got := <-h.events:
			if got.RecordID() != "a" {
				t.Fatalf("expected event for a, got %s", got.RecordID())
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("duplicate deliveries must each reach the handler")
		}
	}
}

func TestSubscriptionManager_ReconnectsAfterStreamError(t *testing.T) {
	stream := newFakeStream()
	m := NewSubscriptionManager(stream, fastBackoff(3), zerolog.Nop())
	h := newRecordingHandler()

	if err := m.Open(context.Background(), manager, h); err != nil {
		t.Fatalf("open: %v", err)
	}
	defer m.Close()

	first := stream.nextFeed(t)
	h.waitState(t, domain.FeedSubscribed)

	first.errs <- errBoom
	h.waitState(t, domain.FeedError)
	h.waitState(t, domain.FeedReconnecting)

	second := stream.nextFeed(t)
	h.waitState(t, domain.FeedSubscribed)

	select {
	case <-first.closed:
	default:
		t.Fatalf("failed feed must be closed")
	}
	if m.State() != domain.FeedSubscribed {
		t.Fatalf("expected subscribed, got %s", m.State())
	}

	second.events <- domain.ChangeEvent{Kind: domain.EventDelete, Previous: &domain.Estimate{ID: "x"}}
	select {
	case <-h.events:
	case <-time.After(2 * time.Second):
		t.Fatalf("events must flow after reconnect")
	}
}

func TestSubscriptionManager_DisconnectsWhenBudgetExhausted(t *testing.T) {
	stream := newFakeStream()
	stream.openErr = errBoom
	m := NewSubscriptionManager(stream, fastBackoff(2), zerolog.Nop())
	h := newRecordingHandler()

	if err := m.Open(context.Background(), rep, h); err != nil {
		t.Fatalf("open: %v", err)
	}
	defer m.Close()

	h.waitState(t, domain.FeedDisconnected)
	if got := stream.opens(); got != 3 {
		t.Fatalf("expected 1 attempt plus 2 retries, got %d opens", got)
	}
	if m.State() != domain.FeedDisconnected {
		t.Fatalf("expected disconnected, got %s", m.State())
	}
}

func TestSubscriptionManager_OpenReplacesPrevious(t *testing.T) {
	stream := newFakeStream()
	m := NewSubscriptionManager(stream, fastBackoff(3), zerolog.Nop())

	h1 := newRecordingHandler()
	if err := m.Open(context.Background(), rep, h1); err != nil {
		t.Fatalf("open: %v", err)
	}
	first := stream.nextFeed(t)
	h1.waitState(t, domain.FeedSubscribed)

	h2 := newRecordingHandler()
	if err := m.Open(context.Background(), manager, h2); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer m.Close()

	select {
	case <-first.closed:
	case <-time.After(2 * time.Second):
		t.Fatalf("previous feed must be torn down")
	}
	stream.nextFeed(t)
	h2.waitState(t, domain.FeedSubscribed)
}

func TestSubscriptionManager_CloseIsIdempotent(t *testing.T) {
	stream := newFakeStream()
	m := NewSubscriptionManager(stream, fastBackoff(3), zerolog.Nop())

	m.Close()
	if m.State() != domain.FeedIdle {
		t.Fatalf("closing an idle manager keeps it idle, got %s", m.State())
	}

	h := newRecordingHandler()
	if err := m.Open(context.Background(), rep, h); err != nil {
		t.Fatalf("open: %v", err)
	}
	feed := stream.nextFeed(t)

	m.Close()
	m.Close()

	if m.State() != domain.FeedClosed {
		t.Fatalf("expected closed, got %s", m.State())
	}
	select {
	case <-feed.closed:
	default:
		t.Fatalf("feed must be closed")
	}
}

func TestSubscriptionManager_CloseCancelsPendingReconnect(t *testing.T) {
	stream := newFakeStream()
	stream.openErr = errBoom
	m := NewSubscriptionManager(stream, Backoff{Initial: time.Hour, Max: time.Hour, Multiplier: 2, MaxAttempts: 3}, zerolog.Nop())
	h := newRecordingHandler()

	if err := m.Open(context.Background(), rep, h); err != nil {
		t.Fatalf("open: %v", err)
	}
	h.waitState(t, domain.FeedError)

	done := make(chan struct{})
	go func() {
		m.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("close must not wait for the backoff timer")
	}
}

func TestSubscriptionManager_RejectsInvalidIdentity(t *testing.T) {
	m := NewSubscriptionManager(newFakeStream(), fastBackoff(3), zerolog.Nop())

	err := m.Open(context.Background(), domain.Identity{ID: "M", Role: domain.RoleManager}, newRecordingHandler())
	if !errors.Is(err, domain.ErrInvalidIdentity) {
		t.Fatalf("expected ErrInvalidIdentity, got: %v", err)
	}
}
