package attendance

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"rollcall/internal/apperr"
)

// DateLayout is the wire format for attendance dates. Time of day is not significant.
const DateLayout = "2006-01-02"

// Status is a student's state in one attendance entry.
type Status string

const (
	StatusPresent Status = "Present"
	StatusAbsent  Status = "Absent"
)

// ParseStatus validates the wire form of a status.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusPresent, StatusAbsent:
		return Status(s), nil
	default:
		return "", apperr.Validationf("unknown status %q", s)
	}
}

// Entry is one student's status within a record.
type Entry struct {
	ID        primitive.ObjectID `bson:"_id" json:"id"`
	StudentID primitive.ObjectID `bson:"student" json:"student_id"`
	Status    Status             `bson:"status" json:"status"`
}

// Record is the attendance document for one (class, date, subject, session) tuple.
// At most one record exists per tuple; entries hold at most one entry per student.
type Record struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	ClassID   primitive.ObjectID `bson:"class" json:"class_id"`
	Date      time.Time          `bson:"date" json:"date"`
	Subject   string             `bson:"subject" json:"subject"`
	Session   string             `bson:"session" json:"session"`
	Entries   []Entry            `bson:"records" json:"entries"`
	CreatedAt time.Time          `bson:"createdAt,omitempty" json:"created_at"`
	UpdatedAt time.Time          `bson:"updatedAt,omitempty" json:"updated_at"`
}

// Row is one student's status in one record, joined with display data.
type Row struct {
	Date            time.Time `json:"date"`
	StudentName     string    `json:"student_name"`
	StudentSchoolID string    `json:"student_school_id"`
	ClassName       string    `json:"class_name"`
	Subject         string    `json:"subject"`
	Session         string    `json:"session"`
	Status          Status    `json:"status"`
}

// FlaggedStudent is a student whose attendance percentage sits below the threshold.
type FlaggedStudent struct {
	StudentID  primitive.ObjectID `json:"student_id"`
	Name       string             `json:"name"`
	SchoolID   string             `json:"school_id"`
	Total      int                `json:"total"`
	Present    int                `json:"present"`
	Percentage float64            `json:"percentage"`
}

// EntriesFromStatuses builds a full roster entry list from an explicit status map.
// Every roster student gets exactly one entry; students missing from the map are
// marked absent, so an omitted student never lingers as present.
func EntriesFromStatuses(roster []primitive.ObjectID, statuses map[primitive.ObjectID]Status) []Entry {
	entries := make([]Entry, 0, len(roster))
	seen := make(map[primitive.ObjectID]struct{}, len(roster))
	for _, studentID := range roster {
		if _, dup := seen[studentID]; dup {
			continue
		}
		seen[studentID] = struct{}{}
		status, ok := statuses[studentID]
		if !ok {
			status = StatusAbsent
		}
		entries = append(entries, Entry{ID: primitive.NewObjectID(), StudentID: studentID, Status: status})
	}
	return entries
}

// EntriesFromScan builds a full roster entry list from a scanned-present set.
// Roster students not in the set are marked absent.
func EntriesFromScan(roster, present []primitive.ObjectID) []Entry {
	statuses := make(map[primitive.ObjectID]Status, len(present))
	for _, id := range present {
		statuses[id] = StatusPresent
	}
	return EntriesFromStatuses(roster, statuses)
}

// Percentage computes present/total as a percentage, 0 when there is nothing recorded.
func Percentage(present, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(present) / float64(total) * 100
}

// CanEdit reports whether a record is still inside the single-entry edit window.
func CanEdit(updatedAt, now time.Time, window time.Duration) bool {
	return now.Sub(updatedAt) < window
}
