package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/99minutos/estimate-sync/internal/core/domain"
	"github.com/99minutos/estimate-sync/internal/infrastructure/changefeed"
)

// Publisher fans estimate changes out to every scope channel they touch.
// Writers that own the source of truth call it after each commit.
type Publisher struct {
	client *redis.Client
}

func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client}
}

// Publish sends ev to the unrestricted channel and to the creator and
// territory channels of both the new and the previous state.
func (p *Publisher) Publish(ctx context.Context, ev domain.ChangeEvent) error {
	payload, err := changefeed.Encode(ev)
	if err != nil {
		return err
	}

	pipe := p.client.Pipeline()
	for _, ch := range Channels(ev) {
		pipe.Publish(ctx, ch, payload)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish change: %w", err)
	}
	return nil
}

// Channels lists the distinct channels ev must reach.
func Channels(ev domain.ChangeEvent) []string {
	seen := map[string]struct{}{}
	out := []string{Channel(nil)}
	add := func(f domain.Filter) {
		if f.Value == "" {
			return
		}
		ch := Channel(&f)
		if _, ok := seen[ch]; ok {
			return
		}
		seen[ch] = struct{}{}
		out = append(out, ch)
	}
	for _, rec := range []*domain.Estimate{ev.Record, ev.Previous} {
		if rec == nil {
			continue
		}
		add(domain.Filter{Field: domain.FieldCreatedBy, Value: rec.CreatedBy})
		add(domain.Filter{Field: domain.FieldTerritoryID, Value: rec.TerritoryID})
	}
	return out
}
