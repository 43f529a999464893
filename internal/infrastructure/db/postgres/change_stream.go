package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/99minutos/estimate-sync/internal/core/domain"
	"github.com/99minutos/estimate-sync/internal/core/ports"
	"github.com/99minutos/estimate-sync/internal/infrastructure/changefeed"
)

// ChangeStream listens on the NOTIFY channels raised by the estimates
// trigger installed with Migrate.
type ChangeStream struct {
	pool  *pgxpool.Pool
	table string
	log   zerolog.Logger
}

func NewChangeStream(pool *pgxpool.Pool, table string, log zerolog.Logger) *ChangeStream {
	if table == "" {
		table = tableEstimates
	}
	return &ChangeStream{
		pool:  pool,
		table: table,
		log:   log.With().Str("component", "postgres_stream").Logger(),
	}
}

// Open pins a pooled connection and issues LISTEN for the filter's channel.
// The subscription is acknowledged once LISTEN returns.
func (s *ChangeStream) Open(ctx context.Context, filter *domain.Filter) (ports.Feed, error) {
	if filter != nil {
		if _, ok := filterColumns[filter.Field]; !ok {
			return nil, fmt.Errorf("unsupported filter field %q", filter.Field)
		}
	}

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire listen conn: %w", err)
	}

	channel := Channel(s.table, filter)
	if _, err := conn.Exec(ctx, "LISTEN "+quote(channel)); err != nil {
		conn.Release()
		return nil, fmt.Errorf("listen %s: %w", channel, err)
	}

	return &changeFeed{
		conn: conn,
		log:  s.log.With().Str("channel", channel).Logger(),
	}, nil
}

type changeFeed struct {
	conn *pgxpool.Conn
	log  zerolog.Logger
	once sync.Once
}

// Next waits for the next well-formed notification. Malformed payloads are
// logged and skipped.
func (f *changeFeed) Next(ctx context.Context) (domain.ChangeEvent, error) {
	for {
		n, err := f.conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return domain.ChangeEvent{}, ctx.Err()
			}
			return domain.ChangeEvent{}, fmt.Errorf("wait for notification: %w", err)
		}
		ev, err := changefeed.Decode([]byte(n.Payload))
		if err != nil {
			if errors.Is(err, changefeed.ErrMalformed) {
				f.log.Warn().Err(err).Msg("skipping malformed change")
				continue
			}
			return domain.ChangeEvent{}, err
		}
		return ev, nil
	}
}

// Close drops every LISTEN and returns the connection to the pool.
func (f *changeFeed) Close() error {
	var err error
	f.once.Do(func() {
		if !f.conn.Conn().IsClosed() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			_, err = f.conn.Exec(ctx, "UNLISTEN *")
			cancel()
		}
		f.conn.Release()
	})
	return err
}
