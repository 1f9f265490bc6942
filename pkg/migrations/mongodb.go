package migrations

import (
	"context"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func EnsureMongoCollection(ctx context.Context, db *mongo.Database) error {
	collection := db.Collection("blacklist_entries")

	collections, err := db.ListCollectionNames(ctx, map[string]interface{}{"name": "blacklist_entries"})
	if err != nil {
		return fmt.Errorf("failed to list collections: %w", err)
	}

	collectionExists := false
	for _, name := range collections {
		if name == "blacklist_entries" {
			collectionExists = true
			break
		}
	}

	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "type", Value: 1}, {Key: "value", Value: 1}},
			Options: options.Index().SetName("idx_blacklist_entries_type_value").SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetName("idx_blacklist_entries_expires_at"),
		},
		{
			Keys:    bson.D{{Key: "created_at", Value: -1}},
			Options: options.Index().SetName("idx_blacklist_entries_created_at"),
		},
	}

	_, err = collection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		if !strings.Contains(err.Error(), "already exists") {
			return fmt.Errorf("failed to create indexes: %w", err)
		}
	}

	if !collectionExists {
		// Collection will be created automatically on first insert
	}

	return nil
}
