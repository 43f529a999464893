package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/99minutos/estimate-sync/internal/core/domain"
)

const (
	collectionTerritories      = "territories"
	collectionUserRoles        = "user_roles"
	collectionMaterialWaste    = "material_waste"
	collectionPricingTemplates = "pricing_templates"
)

type ReferenceRepository struct {
	db *mongo.Database
}

func NewReferenceRepository(db *mongo.Database) *ReferenceRepository {
	return &ReferenceRepository{db: db}
}

func (r *ReferenceRepository) Territories(ctx context.Context) ([]domain.Territory, error) {
	var out []domain.Territory
	if err := r.findAll(ctx, collectionTerritories, bson.D{{Key: "name", Value: 1}}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *ReferenceRepository) UserRole(ctx context.Context, userID string) (*domain.UserRole, error) {
	var ur domain.UserRole
	if err := r.findOne(ctx, collectionUserRoles, userID, &ur); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrUserNotFound
		}
		return nil, err
	}
	return &ur, nil
}

func (r *ReferenceRepository) MaterialWaste(ctx context.Context, material string) (*domain.MaterialWaste, error) {
	var mw domain.MaterialWaste
	if err := r.findOne(ctx, collectionMaterialWaste, material, &mw); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("material %q: %w", material, domain.ErrNotFound)
		}
		return nil, err
	}
	return &mw, nil
}

func (r *ReferenceRepository) PricingTemplates(ctx context.Context) ([]domain.PricingTemplate, error) {
	var out []domain.PricingTemplate
	if err := r.findAll(ctx, collectionPricingTemplates, bson.D{{Key: "name", Value: 1}}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *ReferenceRepository) findOne(ctx context.Context, collection, id string, into any) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	return r.db.Collection(collection).FindOne(ctx, bson.M{"_id": id}).Decode(into)
}

func (r *ReferenceRepository) findAll(ctx context.Context, collection string, sort bson.D, into any) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	cursor, err := r.db.Collection(collection).Find(ctx, bson.M{}, options.Find().SetSort(sort))
	if err != nil {
		return fmt.Errorf("find %s: %w", collection, err)
	}
	defer cursor.Close(ctx)

	if err := cursor.All(ctx, into); err != nil {
		return fmt.Errorf("decode %s: %w", collection, err)
	}
	return nil
}
