package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/99minutos/estimate-sync/internal/core/domain"
)

const collectionEstimates = "estimates"

// Server error codes handled when enabling pre-images.
const (
	codeNamespaceNotFound = 26
	codeNamespaceExists   = 48
)

type EstimateRepository struct {
	col *mongo.Collection
}

// NewEstimateRepository reads estimates from the named collection, or the
// default one when name is empty.
func NewEstimateRepository(db *mongo.Database, name string) *EstimateRepository {
	if name == "" {
		name = collectionEstimates
	}
	return &EstimateRepository{col: db.Collection(name)}
}

// Fetch returns every estimate matching filter, newest first.
func (r *EstimateRepository) Fetch(ctx context.Context, filter *domain.Filter) ([]domain.Estimate, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: 1}})
	cursor, err := r.col.Find(ctx, queryFilter(filter), opts)
	if err != nil {
		return nil, fmt.Errorf("find estimates: %w", err)
	}
	defer cursor.Close(ctx)

	out := make([]domain.Estimate, 0)
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode estimates: %w", err)
	}
	return out, nil
}

type statusBucket struct {
	Status domain.EstimateStatus `bson:"_id"`
	Count  int64                 `bson:"count"`
	Value  float64               `bson:"value"`
}

// Summarize aggregates matching estimates by status.
func (r *EstimateRepository) Summarize(ctx context.Context, filter *domain.Filter) (*domain.EstimateSummary, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: queryFilter(filter)}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$status"},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
			{Key: "value", Value: bson.D{{Key: "$sum", Value: "$total_price"}}},
		}}},
	}

	cursor, err := r.col.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("summarize estimates: %w", err)
	}
	defer cursor.Close(ctx)

	var buckets []statusBucket
	if err := cursor.All(ctx, &buckets); err != nil {
		return nil, fmt.Errorf("decode summary: %w", err)
	}
	return summarize(buckets), nil
}

func summarize(buckets []statusBucket) *domain.EstimateSummary {
	s := &domain.EstimateSummary{ByStatus: make(map[domain.EstimateStatus]int64, len(buckets))}
	for _, b := range buckets {
		s.ByStatus[b.Status] = b.Count
		s.Total += b.Count
		s.TotalValue += b.Value
	}
	return s
}

// EnsureIndexes creates the indexes scoped queries and streams rely on.
func (r *EstimateRepository) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "created_by", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "territory_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "created_at", Value: -1}}},
	}

	_, err := r.col.Indexes().CreateMany(ctx, indexes)
	return err
}

// EnablePreImages turns on change stream pre-images for the collection,
// creating it first when it does not exist yet. Scoped streams need the
// pre-image to see a record leave the scope. Requires MongoDB 6.0.
func (r *EstimateRepository) EnablePreImages(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	db := r.col.Database()
	err := db.RunCommand(ctx, preImagesCommand(r.col.Name())).Err()
	if hasCode(err, codeNamespaceNotFound) {
		err = db.CreateCollection(ctx, r.col.Name(), createWithPreImages())
		if hasCode(err, codeNamespaceExists) {
			err = db.RunCommand(ctx, preImagesCommand(r.col.Name())).Err()
		}
	}
	if err != nil {
		return fmt.Errorf("enable pre-images on %s: %w", r.col.Name(), err)
	}
	return nil
}

func preImagesCommand(collection string) bson.D {
	return bson.D{
		{Key: "collMod", Value: collection},
		{Key: "changeStreamPreAndPostImages", Value: bson.D{{Key: "enabled", Value: true}}},
	}
}

func createWithPreImages() *options.CreateCollectionOptions {
	return options.CreateCollection().
		SetChangeStreamPreAndPostImages(bson.D{{Key: "enabled", Value: true}})
}

func hasCode(err error, code int32) bool {
	var ce mongo.CommandError
	return errors.As(err, &ce) && ce.Code == code
}
