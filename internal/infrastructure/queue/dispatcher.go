package queue

import (
	"context"
	"hash/fnv"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/99minutos/estimate-sync/internal/core/domain"
	"github.com/99minutos/estimate-sync/internal/core/ports"
	"github.com/99minutos/estimate-sync/internal/infrastructure/metrics"
)

const (
	defaultWorkers = 4
	channelBuffer  = 256
)

// Deduper reports whether a notification key was already delivered.
type Deduper interface {
	Seen(ctx context.Context, key string) (bool, error)
}

// Dispatcher delivers notifications to every sink through a fixed set of
// workers, sharded on the estimate ID so notifications for one estimate keep
// their order.
type Dispatcher struct {
	workers []chan domain.Notification
	sinks   []ports.NotificationSink
	dedup   Deduper
	log     zerolog.Logger
}

var _ ports.Notifier = (*Dispatcher)(nil)

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithDeduper drops notifications whose DedupKey was already seen.
func WithDeduper(d Deduper) Option {
	return func(disp *Dispatcher) { disp.dedup = d }
}

// WithBuffer sets the per-worker queue capacity.
func WithBuffer(n int) Option {
	return func(disp *Dispatcher) {
		if n <= 0 {
			return
		}
		for i := range disp.workers {
			disp.workers[i] = make(chan domain.Notification, n)
		}
	}
}

// NewDispatcher creates a Dispatcher with numWorkers sharded workers.
// If numWorkers <= 0, defaultWorkers is used.
func NewDispatcher(numWorkers int, sinks []ports.NotificationSink, log zerolog.Logger, opts ...Option) *Dispatcher {
	if numWorkers <= 0 {
		numWorkers = defaultWorkers
	}
	d := &Dispatcher{
		workers: make([]chan domain.Notification, numWorkers),
		sinks:   sinks,
		log:     log.With().Str("component", "notify").Logger(),
	}
	for i := range d.workers {
		d.workers[i] = make(chan domain.Notification, channelBuffer)
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start launches all worker goroutines. Workers stop when ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	for i, ch := range d.workers {
		go d.runWorker(ctx, i, ch)
	}
}

// Publish queues n on the worker responsible for its estimate. It never
// blocks: when that worker's queue is full the notification is dropped.
func (d *Dispatcher) Publish(n domain.Notification) {
	idx := d.shardIndex(n.EstimateID)
	select {
	case d.workers[idx] <- n:
		metrics.NotificationQueueDepth.WithLabelValues(strconv.Itoa(idx)).Set(float64(len(d.workers[idx])))
	default:
		metrics.NotificationsDroppedTotal.Inc()
		d.log.Warn().
			Str("estimate_id", n.EstimateID).
			Str("kind", string(n.Kind)).
			Int("worker_id", idx).
			Msg("notification queue full, dropping")
	}
}

// shardIndex maps an estimate ID deterministically to a worker index.
func (d *Dispatcher) shardIndex(estimateID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(estimateID))
	return int(h.Sum32() % uint32(len(d.workers)))
}

func (d *Dispatcher) runWorker(ctx context.Context, id int, ch <-chan domain.Notification) {
	depth := metrics.NotificationQueueDepth.WithLabelValues(strconv.Itoa(id))
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-ch:
			if !ok {
				return
			}
			depth.Set(float64(len(ch)))
			d.deliver(ctx, id, n)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, worker int, n domain.Notification) {
	log := d.log.With().
		Str("estimate_id", n.EstimateID).
		Str("kind", string(n.Kind)).
		Int("worker_id", worker).
		Logger()

	if d.dedup != nil {
		seen, err := d.dedup.Seen(ctx, n.DedupKey())
		switch {
		case err != nil:
			// Fail open.
			metrics.NotificationsDedupTotal.WithLabelValues("error").Inc()
			log.Warn().Err(err).Msg("dedup check failed")
		case seen:
			metrics.NotificationsDedupTotal.WithLabelValues("hit").Inc()
			log.Debug().Msg("duplicate notification skipped")
			return
		default:
			metrics.NotificationsDedupTotal.WithLabelValues("miss").Inc()
		}
	}

	for _, sink := range d.sinks {
		if err := sink.Deliver(ctx, n); err != nil {
			log.Error().Err(err).Msg("notification delivery failed")
		}
	}
	metrics.NotificationsTotal.WithLabelValues(string(n.Kind)).Inc()
}
