package attendance

import (
	"fmt"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"rollcall/internal/apperr"
	"rollcall/internal/identity"
)

// Viewer is the role context a report runs under.
type Viewer struct {
	Role identity.Role
	ID   primitive.ObjectID
}

// scope is the set of classes a viewer may see. Admins see everything;
// teachers see the classes assigned to them.
type scope struct {
	all      bool
	classIDs []primitive.ObjectID
}

// scopeFor maps a viewer to its visibility scope. ownedClassIDs is the set of
// classes assigned to a teacher viewer; admins ignore it. Students use their
// own summary path, never the report engine.
func scopeFor(v Viewer, ownedClassIDs []primitive.ObjectID) (scope, error) {
	switch v.Role {
	case identity.RoleAdmin:
		return scope{all: true}, nil
	case identity.RoleTeacher:
		return scope{classIDs: ownedClassIDs}, nil
	default:
		return scope{}, fmt.Errorf("%w: reports are not available to role %s", apperr.ErrForbidden, v.Role)
	}
}

func (s scope) empty() bool {
	return !s.all && len(s.classIDs) == 0
}

func (s scope) contains(id primitive.ObjectID) bool {
	if s.all {
		return true
	}
	for _, c := range s.classIDs {
		if c == id {
			return true
		}
	}
	return false
}

// Filters are the optional report filters as supplied on the wire.
type Filters struct {
	ClassID   string `form:"class_id" json:"class_id"`
	StudentID string `form:"student_id" json:"student_id"`
	StartDate string `form:"start_date" json:"start_date"`
	EndDate   string `form:"end_date" json:"end_date"`
}

// reportQuery composes the visibility scope with caller filters. The scope is
// fixed at construction, so a caller filter can only narrow it: an explicit
// class outside the scope empties the query instead of widening it.
type reportQuery struct {
	scope     scope
	none      bool
	classID   *primitive.ObjectID
	studentID *primitive.ObjectID
	start     *time.Time
	end       *time.Time
}

func newReportQuery(sc scope) *reportQuery {
	return &reportQuery{scope: sc}
}

func (q *reportQuery) withClass(id primitive.ObjectID) *reportQuery {
	if !q.scope.contains(id) {
		q.none = true
		return q
	}
	q.classID = &id
	return q
}

func (q *reportQuery) withStudent(id primitive.ObjectID) *reportQuery {
	q.studentID = &id
	return q
}

func (q *reportQuery) withDateRange(start, end *time.Time) *reportQuery {
	q.start = start
	q.end = end
	return q
}

// shortCircuit reports whether the query can match nothing, so the
// aggregation need not run at all.
func (q *reportQuery) shortCircuit() bool {
	return q.none || q.scope.empty()
}

// pipeline builds the aggregation: class scope first, then one row per entry,
// then caller filters, then display joins, then the report order. Entries whose
// student or class no longer exists are dropped by the joining unwinds.
func (q *reportQuery) pipeline() mongo.Pipeline {
	p := mongo.Pipeline{}

	classMatch := bson.M{}
	switch {
	case q.classID != nil:
		classMatch["class"] = *q.classID
	case !q.scope.all:
		classMatch["class"] = bson.M{"$in": q.scope.classIDs}
	}
	if q.start != nil && q.end != nil {
		classMatch["date"] = bson.M{"$gte": *q.start, "$lte": *q.end}
	} else if q.start != nil {
		classMatch["date"] = bson.M{"$gte": *q.start}
	} else if q.end != nil {
		classMatch["date"] = bson.M{"$lte": *q.end}
	}
	if len(classMatch) > 0 {
		p = append(p, bson.D{{Key: "$match", Value: classMatch}})
	}

	p = append(p, bson.D{{Key: "$unwind", Value: "$records"}})

	if q.studentID != nil {
		p = append(p, bson.D{{Key: "$match", Value: bson.M{"records.student": *q.studentID}}})
	}

	p = append(p,
		bson.D{{Key: "$lookup", Value: bson.M{
			"from":         "users",
			"localField":   "records.student",
			"foreignField": "_id",
			"as":           "studentDetails",
		}}},
		bson.D{{Key: "$lookup", Value: bson.M{
			"from":         "classes",
			"localField":   "class",
			"foreignField": "_id",
			"as":           "classDetails",
		}}},
		bson.D{{Key: "$unwind", Value: "$studentDetails"}},
		bson.D{{Key: "$unwind", Value: "$classDetails"}},
		bson.D{{Key: "$sort", Value: bson.D{
			{Key: "date", Value: -1},
			{Key: "studentDetails.name", Value: 1},
		}}},
	)
	return p
}

// lowAttendancePipeline groups every attendance entry for the scoped student
// population into per-student present/total counts, joined with display data.
// Percentage and threshold evaluation happen in Go; see flagBelow.
func lowAttendancePipeline(scopedStudents []primitive.ObjectID) mongo.Pipeline {
	p := mongo.Pipeline{
		bson.D{{Key: "$unwind", Value: "$records"}},
	}
	if scopedStudents != nil {
		p = append(p, bson.D{{Key: "$match", Value: bson.M{
			"records.student": bson.M{"$in": scopedStudents},
		}}})
	}
	p = append(p,
		bson.D{{Key: "$group", Value: bson.M{
			"_id":   "$records.student",
			"total": bson.M{"$sum": 1},
			"present": bson.M{"$sum": bson.M{
				"$cond": bson.A{bson.M{"$eq": bson.A{"$records.status", string(StatusPresent)}}, 1, 0},
			}},
		}}},
		bson.D{{Key: "$lookup", Value: bson.M{
			"from":         "users",
			"localField":   "_id",
			"foreignField": "_id",
			"as":           "studentDetails",
		}}},
		bson.D{{Key: "$unwind", Value: "$studentDetails"}},
	)
	return p
}

// studentCounts is the decoded shape of one low-attendance group.
type studentCounts struct {
	StudentID primitive.ObjectID `bson:"_id"`
	Total     int                `bson:"total"`
	Present   int                `bson:"present"`
	Student   struct {
		Name     string `bson:"name"`
		SchoolID string `bson:"schoolId"`
	} `bson:"studentDetails"`
}

// flagBelow keeps students strictly below the threshold, most at risk first.
// The sort is stable so equal percentages keep store order.
func flagBelow(groups []studentCounts, threshold int) []FlaggedStudent {
	flagged := make([]FlaggedStudent, 0)
	for _, g := range groups {
		pct := Percentage(g.Present, g.Total)
		if pct >= float64(threshold) {
			continue
		}
		flagged = append(flagged, FlaggedStudent{
			StudentID:  g.StudentID,
			Name:       g.Student.Name,
			SchoolID:   g.Student.SchoolID,
			Total:      g.Total,
			Present:    g.Present,
			Percentage: pct,
		})
	}
	sort.SliceStable(flagged, func(i, j int) bool {
		return flagged[i].Percentage < flagged[j].Percentage
	})
	return flagged
}

// parsedFilters is the validated form of Filters.
type parsedFilters struct {
	classID   *primitive.ObjectID
	studentID *primitive.ObjectID
	start     *time.Time
	end       *time.Time
}

// parseFilters validates ids and dates up front so malformed input is rejected
// before anything touches the store.
func parseFilters(f Filters) (parsedFilters, error) {
	var out parsedFilters
	if f.ClassID != "" {
		id, err := primitive.ObjectIDFromHex(f.ClassID)
		if err != nil {
			return out, apperr.Validationf("malformed class id %q", f.ClassID)
		}
		out.classID = &id
	}
	if f.StudentID != "" {
		id, err := primitive.ObjectIDFromHex(f.StudentID)
		if err != nil {
			return out, apperr.Validationf("malformed student id %q", f.StudentID)
		}
		out.studentID = &id
	}
	if f.StartDate != "" {
		t, err := time.Parse(DateLayout, f.StartDate)
		if err != nil {
			return out, apperr.Validationf("malformed start date %q", f.StartDate)
		}
		out.start = &t
	}
	if f.EndDate != "" {
		t, err := time.Parse(DateLayout, f.EndDate)
		if err != nil {
			return out, apperr.Validationf("malformed end date %q", f.EndDate)
		}
		out.end = &t
	}
	if out.start != nil && out.end != nil && out.end.Before(*out.start) {
		return out, fmt.Errorf("%w: end date before start date", apperr.ErrValidation)
	}
	return out, nil
}
