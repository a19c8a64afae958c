package sessions

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"rollcall/internal/apperr"
)

// Session is a named teaching period, e.g. "Period 1" or "09:00 - 10:00".
type Session struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Name      string             `bson:"name" json:"name"`
	CreatedAt time.Time          `bson:"createdAt,omitempty" json:"created_at"`
}

// Registry persists session labels. Expects a unique index on name.
type Registry struct {
	col *mongo.Collection
}

// NewRegistry creates a registry over the given database.
func NewRegistry(db *mongo.Database) *Registry {
	return &Registry{col: db.Collection("sessions")}
}

// Create inserts a session label. A duplicate name surfaces as a conflict.
func (r *Registry) Create(ctx context.Context, name string) (Session, error) {
	sess := Session{Name: name, CreatedAt: time.Now().UTC()}
	res, err := r.col.InsertOne(ctx, sess)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return Session{}, fmt.Errorf("%w: session %q already exists", apperr.ErrConflict, name)
		}
		log.Printf("sessions: insert %q: %v", name, err)
		return Session{}, apperr.ErrStore
	}
	sess.ID = res.InsertedID.(primitive.ObjectID)
	return sess, nil
}

// List returns all session labels sorted by name.
func (r *Registry) List(ctx context.Context) ([]Session, error) {
	cur, err := r.col.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "name", Value: 1}}))
	if err != nil {
		log.Printf("sessions: find: %v", err)
		return nil, apperr.ErrStore
	}
	defer cur.Close(ctx)
	var out []Session
	if err := cur.All(ctx, &out); err != nil {
		log.Printf("sessions: decode: %v", err)
		return nil, apperr.ErrStore
	}
	return out, nil
}

// Delete removes a session label.
func (r *Registry) Delete(ctx context.Context, id primitive.ObjectID) error {
	res, err := r.col.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		log.Printf("sessions: delete %s: %v", id.Hex(), err)
		return apperr.ErrStore
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("%w: session %s", apperr.ErrNotFound, id.Hex())
	}
	return nil
}
