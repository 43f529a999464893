package mongo

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/99minutos/estimate-sync/internal/core/domain"
	"github.com/99minutos/estimate-sync/internal/core/ports"
)

// ChangeStream opens scoped MongoDB change streams on the estimates
// collection.
type ChangeStream struct {
	col       *mongo.Collection
	preImages bool
	log       zerolog.Logger
}

type StreamOption func(*ChangeStream)

// WithPreImages declares that the collection records pre-images (see
// EstimateRepository.EnablePreImages). Every update and delete then
// carries the previous document and scoped streams match on it.
func WithPreImages() StreamOption {
	return func(s *ChangeStream) { s.preImages = true }
}

func NewChangeStream(db *mongo.Database, name string, log zerolog.Logger, opts ...StreamOption) *ChangeStream {
	if name == "" {
		name = collectionEstimates
	}
	s := &ChangeStream{
		col: db.Collection(name),
		log: log.With().Str("component", "mongo_stream").Logger(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Open starts a change stream. The server acknowledges the stream before
// Watch returns.
func (s *ChangeStream) Open(ctx context.Context, filter *domain.Filter) (ports.Feed, error) {
	pipeline := mongo.Pipeline{{{Key: "$match", Value: watchMatch(filter, s.preImages)}}}

	cs, err := s.col.Watch(ctx, pipeline, streamOptions(s.preImages))
	if err != nil {
		return nil, fmt.Errorf("watch estimates: %w", err)
	}
	return &changeFeed{cs: cs, log: s.log}, nil
}

func streamOptions(preImages bool) *options.ChangeStreamOptions {
	opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)
	if preImages {
		opts.SetFullDocumentBeforeChange(options.Required)
	}
	return opts
}

type changeFeed struct {
	cs  *mongo.ChangeStream
	log zerolog.Logger
}

// changeDoc is the subset of a change event document the feed reads.
type changeDoc struct {
	OperationType            string           `bson:"operationType"`
	FullDocument             *domain.Estimate `bson:"fullDocument"`
	FullDocumentBeforeChange *domain.Estimate `bson:"fullDocumentBeforeChange"`
	DocumentKey              struct {
		ID string `bson:"_id"`
	} `bson:"documentKey"`
}

var errStreamClosed = errors.New("change stream closed")

func (f *changeFeed) Next(ctx context.Context) (domain.ChangeEvent, error) {
	for {
		if !f.cs.Next(ctx) {
			if err := f.cs.Err(); err != nil {
				return domain.ChangeEvent{}, err
			}
			if err := ctx.Err(); err != nil {
				return domain.ChangeEvent{}, err
			}
			return domain.ChangeEvent{}, errStreamClosed
		}

		var doc changeDoc
		if err := f.cs.Decode(&doc); err != nil {
			f.log.Warn().Err(err).Msg("skipping undecodable change")
			continue
		}
		if ev, ok := toEvent(doc); ok {
			return ev, nil
		}
	}
}

func (f *changeFeed) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()
	return f.cs.Close(ctx)
}

// toEvent maps a change document to a change event. Updates whose document
// is already gone by lookup time are skipped; the delete follows.
func toEvent(doc changeDoc) (domain.ChangeEvent, bool) {
	switch doc.OperationType {
	case "insert":
		if doc.FullDocument == nil {
			return domain.ChangeEvent{}, false
		}
		return domain.ChangeEvent{Kind: domain.EventInsert, Record: doc.FullDocument}, true
	case "update", "replace":
		if doc.FullDocument == nil {
			return domain.ChangeEvent{}, false
		}
		return domain.ChangeEvent{
			Kind:     domain.EventUpdate,
			Record:   doc.FullDocument,
			Previous: doc.FullDocumentBeforeChange,
		}, true
	case "delete":
		prev := doc.FullDocumentBeforeChange
		if prev == nil {
			prev = &domain.Estimate{ID: doc.DocumentKey.ID}
		}
		return domain.ChangeEvent{Kind: domain.EventDelete, Previous: prev}, true
	}
	return domain.ChangeEvent{}, false
}
