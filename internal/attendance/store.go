package attendance

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

// Store persists attendance records in the attendance collection.
// Expects a unique index on (class, date, subject, session).
type Store struct {
	col *mongo.Collection
}

// NewStore creates a store over the given database.
func NewStore(db *mongo.Database) *Store {
	return &Store{col: db.Collection("attendance")}
}

// Upsert replaces the full entries list for the tuple, creating the record on
// first submission. Concurrent submissions for the same tuple are
// last-write-wins; the document update is the only atomicity relied on.
func (s *Store) Upsert(ctx context.Context, classID primitive.ObjectID, date time.Time, subject, session string, entries []Entry) error {
	now := time.Now().UTC()
	_, err := s.col.UpdateOne(ctx,
		bson.M{"class": classID, "date": date, "subject": subject, "session": session},
		bson.M{
			"$set":         bson.M{"records": entries, "updatedAt": now},
			"$setOnInsert": bson.M{"createdAt": now},
		},
		options.Update().SetUpsert(true))
	if err != nil {
		log.Printf("attendance: upsert %s %s %s %s: %v", classID.Hex(), date.Format(DateLayout), subject, session, err)
		return apperr.ErrStore
	}
	return nil
}

// ByID returns a single record.
func (s *Store) ByID(ctx context.Context, id primitive.ObjectID) (Record, error) {
	var rec Record
	err := s.col.FindOne(ctx, bson.M{"_id": id}).Decode(&rec)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return Record{}, fmt.Errorf("%w: attendance record %s", apperr.ErrNotFound, id.Hex())
		}
		log.Printf("attendance: find %s: %v", id.Hex(), err)
		return Record{}, apperr.ErrStore
	}
	return rec, nil
}

// ByTuple returns the record for a (class, date, subject, session) tuple, if any.
func (s *Store) ByTuple(ctx context.Context, classID primitive.ObjectID, date time.Time, subject, session string) (Record, bool, error) {
	var rec Record
	err := s.col.FindOne(ctx, bson.M{"class": classID, "date": date, "subject": subject, "session": session}).Decode(&rec)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return Record{}, false, nil
		}
		log.Printf("attendance: find tuple: %v", err)
		return Record{}, false, apperr.ErrStore
	}
	return rec, true, nil
}

// SetEntryStatus updates one entry's status in place and advances updatedAt.
func (s *Store) SetEntryStatus(ctx context.Context, recordID, entryID primitive.ObjectID, status Status) error {
	res, err := s.col.UpdateOne(ctx,
		bson.M{"_id": recordID, "records._id": entryID},
		bson.M{"$set": bson.M{"records.$.status": status, "updatedAt": time.Now().UTC()}})
	if err != nil {
		log.Printf("attendance: set entry status %s/%s: %v", recordID.Hex(), entryID.Hex(), err)
		return apperr.ErrStore
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: entry %s in record %s", apperr.ErrNotFound, entryID.Hex(), recordID.Hex())
	}
	return nil
}

// DeleteByClass removes every record for a class; used when a class is deleted.
func (s *Store) DeleteByClass(ctx context.Context, classID primitive.ObjectID) error {
	_, err := s.col.DeleteMany(ctx, bson.M{"class": classID})
	if err != nil {
		log.Printf("attendance: delete by class %s: %v", classID.Hex(), err)
		return apperr.ErrStore
	}
	return nil
}

// ByStudent returns every record containing the student, oldest first.
func (s *Store) ByStudent(ctx context.Context, studentID primitive.ObjectID) ([]Record, error) {
	cur, err := s.col.Find(ctx,
		bson.M{"records.student": studentID},
		options.Find().SetSort(bson.D{{Key: "date", Value: 1}}))
	if err != nil {
		log.Printf("attendance: find by student %s: %v", studentID.Hex(), err)
		return nil, apperr.ErrStore
	}
	defer cur.Close(ctx)
	var recs []Record
	if err := cur.All(ctx, &recs); err != nil {
		log.Printf("attendance: decode records: %v", err)
		return nil, apperr.ErrStore
	}
	return recs, nil
}

// ByDateRange returns the raw records between the bounds, start inclusive, end exclusive.
func (s *Store) ByDateRange(ctx context.Context, start, end time.Time) ([]Record, error) {
	cur, err := s.col.Find(ctx, bson.M{"date": bson.M{"$gte": start, "$lt": end}})
	if err != nil {
		log.Printf("attendance: find by date range: %v", err)
		return nil, apperr.ErrStore
	}
	defer cur.Close(ctx)
	var recs []Record
	if err := cur.All(ctx, &recs); err != nil {
		log.Printf("attendance: decode records: %v", err)
		return nil, apperr.ErrStore
	}
	return recs, nil
}

// rowDoc is the decoded shape of one report pipeline result.
type rowDoc struct {
	Date    time.Time `bson:"date"`
	Subject string    `bson:"subject"`
	Session string    `bson:"session"`
	Entry   struct {
		StudentID primitive.ObjectID `bson:"student"`
		Status    Status             `bson:"status"`
	} `bson:"records"`
	Student struct {
		Name     string `bson:"name"`
		SchoolID string `bson:"schoolId"`
	} `bson:"studentDetails"`
	Class struct {
		Name string `bson:"name"`
	} `bson:"classDetails"`
}

// RunReport executes a report pipeline and flattens the results to rows.
func (s *Store) RunReport(ctx context.Context, pipeline mongo.Pipeline) ([]Row, error) {
	cur, err := s.col.Aggregate(ctx, pipeline)
	if err != nil {
		log.Printf("attendance: report aggregation: %v", err)
		return nil, apperr.ErrStore
	}
	defer cur.Close(ctx)

	var docs []rowDoc
	if err := cur.All(ctx, &docs); err != nil {
		log.Printf("attendance: decode report rows: %v", err)
		return nil, apperr.ErrStore
	}

	rows := make([]Row, 0, len(docs))
	for _, d := range docs {
		rows = append(rows, Row{
			Date:            d.Date,
			StudentName:     d.Student.Name,
			StudentSchoolID: d.Student.SchoolID,
			ClassName:       d.Class.Name,
			Subject:         d.Subject,
			Session:         d.Session,
			Status:          d.Entry.Status,
		})
	}
	return rows, nil
}

// RunGroupCounts executes a low-attendance pipeline.
func (s *Store) RunGroupCounts(ctx context.Context, pipeline mongo.Pipeline) ([]studentCounts, error) {
	cur, err := s.col.Aggregate(ctx, pipeline)
	if err != nil {
		log.Printf("attendance: group aggregation: %v", err)
		return nil, apperr.ErrStore
	}
	defer cur.Close(ctx)

	var groups []studentCounts
	if err := cur.All(ctx, &groups); err != nil {
		log.Printf("attendance: decode groups: %v", err)
		return nil, apperr.ErrStore
	}
	return groups, nil
}
