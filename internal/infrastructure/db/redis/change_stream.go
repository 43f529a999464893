package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/99minutos/estimate-sync/internal/core/domain"
	"github.com/99minutos/estimate-sync/internal/core/ports"
	"github.com/99minutos/estimate-sync/internal/infrastructure/changefeed"
)

const channelPrefix = "estimates:changes:"

// Channel returns the pub/sub channel for a scope. Publishers fan every
// change out to the unrestricted channel and to each scope it touches.
func Channel(f *domain.Filter) string {
	if f == nil {
		return channelPrefix + "all"
	}
	return channelPrefix + string(f.Field) + ":" + f.Value
}

// ChangeStream subscribes to scoped estimate change channels.
type ChangeStream struct {
	client *redis.Client
	log    zerolog.Logger
}

func NewChangeStream(client *redis.Client, log zerolog.Logger) *ChangeStream {
	return &ChangeStream{
		client: client,
		log:    log.With().Str("component", "redis_stream").Logger(),
	}
}

// Open subscribes to the channel for filter and waits for the server's
// confirmation.
func (s *ChangeStream) Open(ctx context.Context, filter *domain.Filter) (ports.Feed, error) {
	channel := Channel(filter)
	ps := s.client.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}
	return &changeFeed{ps: ps, log: s.log.With().Str("channel", channel).Logger()}, nil
}

type changeFeed struct {
	ps  *redis.PubSub
	log zerolog.Logger
}

// Next waits for the next well-formed change. Malformed payloads are logged
// and skipped.
func (f *changeFeed) Next(ctx context.Context) (domain.ChangeEvent, error) {
	// Blocking pub/sub reads do not observe cancellation; closing the
	// subscription unblocks them.
	stop := context.AfterFunc(ctx, func() { _ = f.ps.Close() })
	defer stop()

	for {
		msg, err := f.ps.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return domain.ChangeEvent{}, ctx.Err()
			}
			return domain.ChangeEvent{}, err
		}
		ev, err := changefeed.Decode([]byte(msg.Payload))
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

func (f *changeFeed) Close() error {
	return f.ps.Close()
}
