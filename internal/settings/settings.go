package settings

import (
	"context"
	"log"
	"strconv"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"rollcall/internal/apperr"
)

// KeyLowAttendanceThreshold names the percentage below which students are flagged.
const KeyLowAttendanceThreshold = "lowAttendanceThreshold"

// DefaultThreshold applies when the setting is absent or unparsable.
const DefaultThreshold = 75

type setting struct {
	Key   string `bson:"key"`
	Value string `bson:"value"`
}

// Service is a read-through cache over the settings collection.
// The whole cache is cleared on any write and repopulated on the next read.
type Service struct {
	col *mongo.Collection

	mu    sync.RWMutex
	cache map[string]string
}

// NewService creates a settings service over the given database.
func NewService(db *mongo.Database) *Service {
	return &Service{col: db.Collection("settings")}
}

// All returns every setting, populating the cache if empty.
func (s *Service) All(ctx context.Context) (map[string]string, error) {
	s.mu.RLock()
	if s.cache != nil {
		out := make(map[string]string, len(s.cache))
		for k, v := range s.cache {
			out[k] = v
		}
		s.mu.RUnlock()
		return out, nil
	}
	s.mu.RUnlock()

	cur, err := s.col.Find(ctx, bson.M{})
	if err != nil {
		log.Printf("settings: find: %v", err)
		return nil, apperr.ErrStore
	}
	defer cur.Close(ctx)
	var docs []setting
	if err := cur.All(ctx, &docs); err != nil {
		log.Printf("settings: decode: %v", err)
		return nil, apperr.ErrStore
	}

	fresh := make(map[string]string, len(docs))
	for _, d := range docs {
		fresh[d.Key] = d.Value
	}

	s.mu.Lock()
	s.cache = fresh
	s.mu.Unlock()

	out := make(map[string]string, len(fresh))
	for k, v := range fresh {
		out[k] = v
	}
	return out, nil
}

// Get returns one setting's value; ok is false when the key is absent.
func (s *Service) Get(ctx context.Context, key string) (string, bool, error) {
	all, err := s.All(ctx)
	if err != nil {
		return "", false, err
	}
	v, ok := all[key]
	return v, ok, nil
}

// Set upserts a setting and invalidates the cache.
func (s *Service) Set(ctx context.Context, key, value string) error {
	_, err := s.col.UpdateOne(ctx,
		bson.M{"key": key},
		bson.M{"$set": bson.M{"key": key, "value": value}},
		options.Update().SetUpsert(true))
	if err != nil {
		log.Printf("settings: upsert %q: %v", key, err)
		return apperr.ErrStore
	}
	s.Invalidate()
	return nil
}

// Invalidate clears the cache so the next read repopulates it.
func (s *Service) Invalidate() {
	s.mu.Lock()
	s.cache = nil
	s.mu.Unlock()
}

// Threshold returns the low-attendance percentage threshold, falling back to
// the default when unset or unparsable. A store failure is returned, not
// masked: an unreachable store must not look like a configured 75.
func (s *Service) Threshold(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	v, ok, err := s.Get(ctx, KeyLowAttendanceThreshold)
	if err != nil {
		return 0, err
	}
	if !ok {
		return DefaultThreshold, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return DefaultThreshold, nil
	}
	return n, nil
}
