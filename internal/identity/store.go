package identity

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
	"golang.org/x/crypto/bcrypt"

	"rollcall/internal/apperr"
)

// User is a stored account: a student, teacher, or admin.
type User struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Name         string             `bson:"name" json:"name"`
	SchoolID     string             `bson:"schoolId" json:"school_id"`
	Email        string             `bson:"email" json:"email"`
	PasswordHash string             `bson:"password" json:"-"`
	Role         Role               `bson:"role" json:"role"`
	CreatedAt    time.Time          `bson:"createdAt,omitempty" json:"created_at"`
	UpdatedAt    time.Time          `bson:"updatedAt,omitempty" json:"updated_at"`
}

// ErrBadCredentials is returned when email or password do not match.
var ErrBadCredentials = errors.New("invalid email or password")

// Store persists users in the users collection.
// Expects unique indexes on email and schoolId.
type Store struct {
	col *mongo.Collection
}

// NewStore creates a store over the given database.
func NewStore(db *mongo.Database) *Store {
	return &Store{col: db.Collection("users")}
}

// Create hashes the password and inserts the user.
// Duplicate email or school id surfaces as a conflict.
func (s *Store) Create(ctx context.Context, u User, password string) (User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}
	u.PasswordHash = string(hash)
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now

	res, err := s.col.InsertOne(ctx, u)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return User{}, fmt.Errorf("%w: email or school id already in use", apperr.ErrConflict)
		}
		log.Printf("identity: insert user: %v", err)
		return User{}, apperr.ErrStore
	}
	u.ID = res.InsertedID.(primitive.ObjectID)
	return u, nil
}

// Authenticate looks a user up by email and checks the password.
func (s *Store) Authenticate(ctx context.Context, email, password string) (User, error) {
	var u User
	err := s.col.FindOne(ctx, bson.M{"email": email}).Decode(&u)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return User{}, ErrBadCredentials
		}
		log.Printf("identity: find by email: %v", err)
		return User{}, apperr.ErrStore
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return User{}, ErrBadCredentials
	}
	return u, nil
}

// SetPassword rehashes and stores a new password after verifying the current one.
func (s *Store) SetPassword(ctx context.Context, id primitive.ObjectID, current, next string) error {
	u, err := s.ByID(ctx, id)
	if err != nil {
		return err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(current)) != nil {
		return ErrBadCredentials
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(next), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	_, err = s.col.UpdateByID(ctx, id, bson.M{"$set": bson.M{"password": string(hash), "updatedAt": time.Now().UTC()}})
	if err != nil {
		log.Printf("identity: set password: %v", err)
		return apperr.ErrStore
	}
	return nil
}

// ByID returns a single user.
func (s *Store) ByID(ctx context.Context, id primitive.ObjectID) (User, error) {
	var u User
	err := s.col.FindOne(ctx, bson.M{"_id": id}).Decode(&u)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return User{}, fmt.Errorf("%w: user %s", apperr.ErrNotFound, id.Hex())
		}
		log.Printf("identity: find user %s: %v", id.Hex(), err)
		return User{}, apperr.ErrStore
	}
	return u, nil
}

// ByIDs returns the users whose ids appear in the set, sorted by name.
func (s *Store) ByIDs(ctx context.Context, ids []primitive.ObjectID) ([]User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return s.find(ctx, bson.M{"_id": bson.M{"$in": ids}})
}

// ByRole returns all users with the given role, sorted by name.
func (s *Store) ByRole(ctx context.Context, role Role) ([]User, error) {
	return s.find(ctx, bson.M{"role": role.String()})
}

func (s *Store) find(ctx context.Context, filter bson.M) ([]User, error) {
	cur, err := s.col.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "name", Value: 1}}))
	if err != nil {
		log.Printf("identity: find users: %v", err)
		return nil, apperr.ErrStore
	}
	defer cur.Close(ctx)
	var users []User
	if err := cur.All(ctx, &users); err != nil {
		log.Printf("identity: decode users: %v", err)
		return nil, apperr.ErrStore
	}
	return users, nil
}

// SearchPage is one page of the admin user listing.
type SearchPage struct {
	Users      []User `json:"users"`
	Total      int64  `json:"total"`
	Page       int    `json:"page"`
	TotalPages int    `json:"total_pages"`
}

// Search lists non-admin users matching the query against name, email,
// or school id, paginated and sorted by role then name.
func (s *Store) Search(ctx context.Context, query string, page, limit int) (SearchPage, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = 10
	}
	filter := bson.M{"role": bson.M{"$ne": RoleAdmin.String()}}
	if query != "" {
		rx := bson.M{"$regex": query, "$options": "i"}
		filter["$or"] = bson.A{bson.M{"name": rx}, bson.M{"email": rx}, bson.M{"schoolId": rx}}
	}

	total, err := s.col.CountDocuments(ctx, filter)
	if err != nil {
		log.Printf("identity: count users: %v", err)
		return SearchPage{}, apperr.ErrStore
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "role", Value: 1}, {Key: "name", Value: 1}}).
		SetSkip(int64((page - 1) * limit)).
		SetLimit(int64(limit))
	cur, err := s.col.Find(ctx, filter, opts)
	if err != nil {
		log.Printf("identity: search users: %v", err)
		return SearchPage{}, apperr.ErrStore
	}
	defer cur.Close(ctx)

	var users []User
	if err := cur.All(ctx, &users); err != nil {
		log.Printf("identity: decode users: %v", err)
		return SearchPage{}, apperr.ErrStore
	}

	totalPages := int((total + int64(limit) - 1) / int64(limit))
	return SearchPage{Users: users, Total: total, Page: page, TotalPages: totalPages}, nil
}

// Update rewrites the mutable profile fields.
func (s *Store) Update(ctx context.Context, id primitive.ObjectID, name, schoolID, email string, role Role) error {
	res, err := s.col.UpdateByID(ctx, id, bson.M{"$set": bson.M{
		"name":      name,
		"schoolId":  schoolID,
		"email":     email,
		"role":      role.String(),
		"updatedAt": time.Now().UTC(),
	}})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: email or school id already in use", apperr.ErrConflict)
		}
		log.Printf("identity: update user %s: %v", id.Hex(), err)
		return apperr.ErrStore
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: user %s", apperr.ErrNotFound, id.Hex())
	}
	return nil
}

// Delete removes a user.
func (s *Store) Delete(ctx context.Context, id primitive.ObjectID) error {
	res, err := s.col.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		log.Printf("identity: delete user %s: %v", id.Hex(), err)
		return apperr.ErrStore
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("%w: user %s", apperr.ErrNotFound, id.Hex())
	}
	return nil
}

// CountByRole reports how many users hold the role.
func (s *Store) CountByRole(ctx context.Context, role Role) (int64, error) {
	n, err := s.col.CountDocuments(ctx, bson.M{"role": role.String()})
	if err != nil {
		log.Printf("identity: count role %s: %v", role, err)
		return 0, apperr.ErrStore
	}
	return n, nil
}
