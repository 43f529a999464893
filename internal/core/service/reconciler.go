package service

import (
	"fmt"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/99minutos/estimate-sync/internal/core/domain"
	"github.com/99minutos/estimate-sync/internal/core/policy"
)

// Snapshot is an ordered, deduplicated view of the estimates visible to one
// identity, newest first. A Snapshot is never modified after it is built;
// every change produces a new slice.
type Snapshot []domain.Estimate

// Effect describes what applying one event did to a snapshot.
type Effect string

const (
	EffectInserted Effect = "inserted"
	EffectReplaced Effect = "replaced"
	EffectRemoved  Effect = "removed"
	EffectNoop     Effect = "noop"
	// EffectFiltered marks an insert the server filter should have excluded.
	EffectFiltered Effect = "filtered"
	// EffectStale marks an update older than the held version.
	EffectStale Effect = "stale"
)

// Changed reports whether the snapshot was replaced.
func (e Effect) Changed() bool {
	return e == EffectInserted || e == EffectReplaced || e == EffectRemoved
}

// Result is the outcome of reconciling one event.
type Result struct {
	Snapshot Snapshot
	Effect   Effect
	// Prior is the held record before the event, if any.
	Prior *domain.Estimate
}

// NewSnapshot builds a snapshot from a fetched result set: records invisible
// to id are dropped, duplicate ids keep their first occurrence, and the
// result is ordered newest first.
func NewSnapshot(id domain.Identity, records []domain.Estimate) Snapshot {
	seen := make(map[string]struct{}, len(records))
	out := make(Snapshot, 0, len(records))
	for i := range records {
		rec := records[i]
		if _, dup := seen[rec.ID]; dup {
			continue
		}
		if !policy.IsVisible(id, &rec) {
			continue
		}
		seen[rec.ID] = struct{}{}
		out = append(out, rec)
	}
	domain.SortNewestFirst(out)
	return out
}

// Apply returns the snapshot after ev has been reconciled for id.
func Apply(s Snapshot, ev domain.ChangeEvent, id domain.Identity) Snapshot {
	return Reconcile(s, ev, id).Snapshot
}

// Reconcile merges ev into s. It has no side effects; s is left untouched.
//
// Applying the same event twice yields the same snapshot as applying it once.
func Reconcile(s Snapshot, ev domain.ChangeEvent, id domain.Identity) Result {
	switch ev.Kind {
	case domain.EventInsert, domain.EventUpdate:
		if ev.Record == nil || ev.Record.ID == "" {
			return Result{Snapshot: s, Effect: EffectNoop}
		}
		rec := *ev.Record
		idx := s.index(rec.ID)
		var prior *domain.Estimate
		if idx >= 0 {
			held := s[idx]
			prior = &held
			if isStale(held, rec) {
				return Result{Snapshot: s, Effect: EffectStale, Prior: prior}
			}
		}

		// An insert never removes a held record; only an update can take one
		// out of scope.
		if !policy.IsVisible(id, &rec) {
			switch {
			case ev.Kind == domain.EventInsert:
				return Result{Snapshot: s, Effect: EffectFiltered}
			case idx >= 0:
				return Result{Snapshot: s.without(idx), Effect: EffectRemoved, Prior: prior}
			default:
				return Result{Snapshot: s, Effect: EffectNoop}
			}
		}

		if idx >= 0 {
			return Result{Snapshot: s.replaced(idx, rec), Effect: EffectReplaced, Prior: prior}
		}
		return Result{Snapshot: s.inserted(rec), Effect: EffectInserted}

	case domain.EventDelete:
		idx := s.index(ev.RecordID())
		if idx < 0 {
			return Result{Snapshot: s, Effect: EffectNoop}
		}
		held := s[idx]
		return Result{Snapshot: s.without(idx), Effect: EffectRemoved, Prior: &held}
	}
	return Result{Snapshot: s, Effect: EffectNoop}
}

// isStale reports whether incoming is older than held. Only applies when both
// carry a server version.
func isStale(held, incoming domain.Estimate) bool {
	return held.Version > 0 && incoming.Version > 0 && incoming.Version < held.Version
}

func (s Snapshot) index(id string) int {
	if id == "" {
		return -1
	}
	for i := range s {
		if s[i].ID == id {
			return i
		}
	}
	return -1
}

func (s Snapshot) without(idx int) Snapshot {
	out := make(Snapshot, 0, len(s)-1)
	out = append(out, s[:idx]...)
	return append(out, s[idx+1:]...)
}

// replaced swaps the record at idx. CreatedAt is immutable, so the record
// keeps its position; a source that changes it anyway gets re-sorted.
func (s Snapshot) replaced(idx int, rec domain.Estimate) Snapshot {
	if !s[idx].CreatedAt.Equal(rec.CreatedAt) {
		return s.without(idx).inserted(rec)
	}
	out := make(Snapshot, len(s))
	copy(out, s)
	out[idx] = rec
	return out
}

// inserted places rec ahead of every record that is not newer than it.
func (s Snapshot) inserted(rec domain.Estimate) Snapshot {
	pos := sort.Search(len(s), func(i int) bool {
		return !s[i].CreatedAt.After(rec.CreatedAt)
	})
	out := make(Snapshot, 0, len(s)+1)
	out = append(out, s[:pos]...)
	out = append(out, rec)
	return append(out, s[pos:]...)
}

// NotificationFor derives the user-facing notification for a reconciled event,
// if any. Inserts by someone other than id raise a new-estimate notification;
// updates that change status raise a status-changed notification. Events that
// did not land in the snapshot raise nothing.
func NotificationFor(ev domain.ChangeEvent, id domain.Identity, res Result, now time.Time) (domain.Notification, bool) {
	if res.Effect != EffectInserted && res.Effect != EffectReplaced {
		return domain.Notification{}, false
	}
	rec := ev.Record

	switch ev.Kind {
	case domain.EventInsert:
		if rec.CreatedBy == id.ID {
			return domain.Notification{}, false
		}
		return domain.Notification{
			ID:          ulid.Make().String(),
			Kind:        domain.NotifyNewEstimate,
			Title:       "New estimate",
			Description: fmt.Sprintf("A new estimate for %s was created", customerLabel(rec)),
			EstimateID:  rec.ID,
			NewStatus:   rec.Status,
			CreatedAt:   now,
			Revision:    domain.RevisionOf(rec),
			Audience:    id.CacheKey(),
		}, true

	case domain.EventUpdate:
		prev := ev.Previous
		if prev == nil {
			prev = res.Prior
		}
		if prev == nil || prev.Status == "" || prev.Status == rec.Status {
			return domain.Notification{}, false
		}
		return domain.Notification{
			ID:          ulid.Make().String(),
			Kind:        domain.NotifyStatusChanged,
			Title:       "Estimate status changed",
			Description: fmt.Sprintf("Estimate for %s moved from %s to %s", customerLabel(rec), prev.Status, rec.Status),
			EstimateID:  rec.ID,
			OldStatus:   prev.Status,
			NewStatus:   rec.Status,
			CreatedAt:   now,
			Revision:    domain.RevisionOf(rec),
			Audience:    id.CacheKey(),
		}, true
	}
	return domain.Notification{}, false
}

func customerLabel(rec *domain.Estimate) string {
	if rec.CustomerName != "" {
		return rec.CustomerName
	}
	return rec.ID
}
