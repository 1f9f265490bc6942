package moderation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// BlacklistChecker matches a submission against the shared blacklist.
type BlacklistChecker interface {
	Check(ctx context.Context, snapshot ListingSnapshot) ([]Violation, error)
}

// MongoBlacklist reads the externally managed blacklist collection. Entries
// with a past expires_at are ignored.
type MongoBlacklist struct {
	collection *mongo.Collection
}

func NewMongoBlacklist(client *mongo.Client, database, collection string) *MongoBlacklist {
	return &MongoBlacklist{
		collection: client.Database(database).Collection(collection),
	}
}

func (b *MongoBlacklist) Check(ctx context.Context, snapshot ListingSnapshot) ([]Violation, error) {
	filter := bson.M{
		"$or": []bson.M{
			{"expires_at": bson.M{"$exists": false}},
			{"expires_at": nil},
			{"expires_at": bson.M{"$gt": time.Now()}},
		},
	}

	cursor, err := b.collection.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to query blacklist: %w", err)
	}
	defer cursor.Close(ctx)

	text := strings.ToLower(snapshot.Title + " " + snapshot.Description)
	phone := normalizePhone(snapshot.ContactPhone)

	var violations []Violation
	for cursor.Next(ctx) {
		var entry BlacklistEntry
		if err := cursor.Decode(&entry); err != nil {
			return nil, fmt.Errorf("failed to decode blacklist entry: %w", err)
		}

		switch entry.Type {
		case BlacklistPhone:
			if phone != "" && phone == normalizePhone(entry.Value) {
				violations = append(violations, Violation{Type: BlacklistPhone, Value: entry.Value})
			}
		case BlacklistWord:
			if word := strings.ToLower(entry.Value); word != "" && strings.Contains(text, word) {
				violations = append(violations, Violation{Type: BlacklistWord, Value: entry.Value})
			}
		}
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("blacklist cursor failed: %w", err)
	}

	return violations, nil
}

// normalizePhone strips everything but digits so masked variants of the same
// number compare equal.
func normalizePhone(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
