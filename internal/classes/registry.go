package classes

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"rollcall/internal/apperr"
)

// Class groups students under one teacher with a set of taught subjects.
type Class struct {
	ID         primitive.ObjectID   `bson:"_id,omitempty" json:"id"`
	Name       string               `bson:"name" json:"name"`
	TeacherID  primitive.ObjectID   `bson:"teacher" json:"teacher_id"`
	StudentIDs []primitive.ObjectID `bson:"students" json:"student_ids"`
	Subjects   []string             `bson:"subjects" json:"subjects"`
	CreatedAt  time.Time            `bson:"createdAt,omitempty" json:"created_at"`
	UpdatedAt  time.Time            `bson:"updatedAt,omitempty" json:"updated_at"`
}

// Registry persists classes. Expects a unique index on name.
type Registry struct {
	col *mongo.Collection
}

// NewRegistry creates a registry over the given database.
func NewRegistry(db *mongo.Database) *Registry {
	return &Registry{col: db.Collection("classes")}
}

// Create inserts a class. A duplicate name surfaces as a conflict.
func (r *Registry) Create(ctx context.Context, cl Class) (Class, error) {
	now := time.Now().UTC()
	cl.CreatedAt = now
	cl.UpdatedAt = now
	if cl.StudentIDs == nil {
		cl.StudentIDs = []primitive.ObjectID{}
	}
	res, err := r.col.InsertOne(ctx, cl)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return Class{}, fmt.Errorf("%w: class name %q already exists", apperr.ErrConflict, cl.Name)
		}
		log.Printf("classes: insert %q: %v", cl.Name, err)
		return Class{}, apperr.ErrStore
	}
	cl.ID = res.InsertedID.(primitive.ObjectID)
	return cl, nil
}

// Update rewrites a class's name, teacher, roster, and subjects.
func (r *Registry) Update(ctx context.Context, id primitive.ObjectID, name string, teacherID primitive.ObjectID, studentIDs []primitive.ObjectID, subjects []string) error {
	if studentIDs == nil {
		studentIDs = []primitive.ObjectID{}
	}
	res, err := r.col.UpdateByID(ctx, id, bson.M{"$set": bson.M{
		"name":      name,
		"teacher":   teacherID,
		"students":  studentIDs,
		"subjects":  subjects,
		"updatedAt": time.Now().UTC(),
	}})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: class name %q already exists", apperr.ErrConflict, name)
		}
		log.Printf("classes: update %s: %v", id.Hex(), err)
		return apperr.ErrStore
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: class %s", apperr.ErrNotFound, id.Hex())
	}
	return nil
}

// Delete removes a class. Attendance records for the class are cascaded by the caller.
func (r *Registry) Delete(ctx context.Context, id primitive.ObjectID) error {
	res, err := r.col.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		log.Printf("classes: delete %s: %v", id.Hex(), err)
		return apperr.ErrStore
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("%w: class %s", apperr.ErrNotFound, id.Hex())
	}
	return nil
}

// ByID returns a single class.
func (r *Registry) ByID(ctx context.Context, id primitive.ObjectID) (Class, error) {
	var cl Class
	err := r.col.FindOne(ctx, bson.M{"_id": id}).Decode(&cl)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return Class{}, fmt.Errorf("%w: class %s", apperr.ErrNotFound, id.Hex())
		}
		log.Printf("classes: find %s: %v", id.Hex(), err)
		return Class{}, apperr.ErrStore
	}
	return cl, nil
}

// ByTeacher returns the classes assigned to a teacher, sorted by name.
func (r *Registry) ByTeacher(ctx context.Context, teacherID primitive.ObjectID) ([]Class, error) {
	return r.find(ctx, bson.M{"teacher": teacherID})
}

// List returns all classes sorted by name.
func (r *Registry) List(ctx context.Context) ([]Class, error) {
	return r.find(ctx, bson.M{})
}

func (r *Registry) find(ctx context.Context, filter bson.M) ([]Class, error) {
	cur, err := r.col.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "name", Value: 1}}))
	if err != nil {
		log.Printf("classes: find: %v", err)
		return nil, apperr.ErrStore
	}
	defer cur.Close(ctx)
	var out []Class
	if err := cur.All(ctx, &out); err != nil {
		log.Printf("classes: decode: %v", err)
		return nil, apperr.ErrStore
	}
	return out, nil
}

// Count reports how many classes exist.
func (r *Registry) Count(ctx context.Context) (int64, error) {
	n, err := r.col.CountDocuments(ctx, bson.M{})
	if err != nil {
		log.Printf("classes: count: %v", err)
		return 0, apperr.ErrStore
	}
	return n, nil
}

// StudentUnion returns the distinct student ids across the given classes.
func StudentUnion(cls []Class) []primitive.ObjectID {
	seen := make(map[primitive.ObjectID]struct{})
	var out []primitive.ObjectID
	for _, cl := range cls {
		for _, id := range cl.StudentIDs {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}
