package mongo

import (
	"alcyxob/fitness-sessions/internal/domain"
	"alcyxob/fitness-sessions/internal/repository"
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

const packageCollectionName = "packages"

type mongoPackageRepository struct {
	collection *mongo.Collection
}

// NewMongoPackageRepository creates a read-only package entitlement source.
func NewMongoPackageRepository(db *mongo.Database) repository.PackageRepository {
	return &mongoPackageRepository{collection: db.Collection(packageCollectionName)}
}

func (r *mongoPackageRepository) GetByIDs(ctx context.Context, ids []primitive.ObjectID) ([]domain.Package, error) {
	if len(ids) == 0 {
		return []domain.Package{}, nil
	}
	cursor, err := r.collection.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	packages := []domain.Package{}
	if err = cursor.All(ctx, &packages); err != nil {
		return nil, err
	}
	return packages, cursor.Err()
}
