package store

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// EnsureIndexes creates the unique indexes the stores rely on.
// Safe to call on every startup; existing indexes are left alone.
func (m *Mongo) EnsureIndexes(ctx context.Context) error {
	unique := options.Index().SetUnique(true)

	specs := map[string][]mongo.IndexModel{
		"users": {
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: unique},
			{Keys: bson.D{{Key: "schoolId", Value: 1}}, Options: unique},
			{Keys: bson.D{{Key: "role", Value: 1}}},
		},
		"classes": {
			{Keys: bson.D{{Key: "name", Value: 1}}, Options: unique},
			{Keys: bson.D{{Key: "teacher", Value: 1}}},
		},
		"sessions": {
			{Keys: bson.D{{Key: "name", Value: 1}}, Options: unique},
		},
		"settings": {
			{Keys: bson.D{{Key: "key", Value: 1}}, Options: unique},
		},
		"attendance": {
			// one record per (class, date, subject, session) tuple
			{Keys: bson.D{
				{Key: "class", Value: 1},
				{Key: "date", Value: 1},
				{Key: "subject", Value: 1},
				{Key: "session", Value: 1},
			}, Options: unique},
			{Keys: bson.D{{Key: "records.student", Value: 1}}},
			{Keys: bson.D{{Key: "date", Value: 1}}},
		},
	}

	for col, models := range specs {
		if _, err := m.DB.Collection(col).Indexes().CreateMany(ctx, models); err != nil {
			return err
		}
	}
	return nil
}
