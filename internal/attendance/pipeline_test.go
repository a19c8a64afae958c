package attendance

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"rollcall/internal/apperr"
	"rollcall/internal/identity"
)

func stageName(stage bson.D) string {
	if len(stage) == 0 {
		return ""
	}
	return stage[0].Key
}

func TestScopeFor(t *testing.T) {
	owned := []primitive.ObjectID{primitive.NewObjectID()}

	t.Run("admin sees everything", func(t *testing.T) {
		sc, err := scopeFor(Viewer{Role: identity.RoleAdmin}, owned)
		require.NoError(t, err)
		assert.True(t, sc.all)
		assert.False(t, sc.empty())
	})

	t.Run("teacher is bound to owned classes", func(t *testing.T) {
		sc, err := scopeFor(Viewer{Role: identity.RoleTeacher}, owned)
		require.NoError(t, err)
		assert.False(t, sc.all)
		assert.Equal(t, owned, sc.classIDs)
	})

	t.Run("teacher with no classes has an empty scope", func(t *testing.T) {
		sc, err := scopeFor(Viewer{Role: identity.RoleTeacher}, nil)
		require.NoError(t, err)
		assert.True(t, sc.empty())
	})

	t.Run("student is forbidden", func(t *testing.T) {
		_, err := scopeFor(Viewer{Role: identity.RoleStudent}, nil)
		assert.True(t, errors.Is(err, apperr.ErrForbidden))
	})
}

func TestReportQueryScopeNarrowing(t *testing.T) {
	inScope := primitive.NewObjectID()
	outOfScope := primitive.NewObjectID()
	teacherScope := scope{classIDs: []primitive.ObjectID{inScope}}

	t.Run("empty scope short-circuits before any filter", func(t *testing.T) {
		q := newReportQuery(scope{})
		assert.True(t, q.shortCircuit())
	})

	t.Run("class outside scope empties the query", func(t *testing.T) {
		q := newReportQuery(teacherScope).withClass(outOfScope)
		assert.True(t, q.shortCircuit())
	})

	t.Run("class inside scope narrows to that class", func(t *testing.T) {
		q := newReportQuery(teacherScope).withClass(inScope)
		require.False(t, q.shortCircuit())

		p := q.pipeline()
		require.Equal(t, "$match", stageName(p[0]))
		match := p[0][0].Value.(bson.M)
		assert.Equal(t, inScope, match["class"])
	})

	t.Run("admin scope accepts any class", func(t *testing.T) {
		q := newReportQuery(scope{all: true}).withClass(outOfScope)
		assert.False(t, q.shortCircuit())
	})

	t.Run("unfiltered teacher query matches the class set", func(t *testing.T) {
		q := newReportQuery(teacherScope)
		p := q.pipeline()
		require.Equal(t, "$match", stageName(p[0]))
		match := p[0][0].Value.(bson.M)
		assert.Equal(t, bson.M{"$in": teacherScope.classIDs}, match["class"])
	})
}

func TestReportQueryPipelineShape(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)
	studentID := primitive.NewObjectID()

	q := newReportQuery(scope{all: true}).
		withStudent(studentID).
		withDateRange(&start, &end)
	p := q.pipeline()

	var names []string
	for _, stage := range p {
		names = append(names, stageName(stage))
	}
	assert.Equal(t, []string{
		"$match", "$unwind", "$match", "$lookup", "$lookup", "$unwind", "$unwind", "$sort",
	}, names)

	// date bounds are inclusive on both ends
	match := p[0][0].Value.(bson.M)
	assert.Equal(t, bson.M{"$gte": start, "$lte": end}, match["date"])

	// the student filter applies after the unwind, against unwound entries
	entryMatch := p[2][0].Value.(bson.M)
	assert.Equal(t, studentID, entryMatch["records.student"])

	// report order: newest date first, then student name
	sortDoc := p[len(p)-1][0].Value.(bson.D)
	require.Len(t, sortDoc, 2)
	assert.Equal(t, "date", sortDoc[0].Key)
	assert.Equal(t, -1, sortDoc[0].Value)
	assert.Equal(t, "studentDetails.name", sortDoc[1].Key)
	assert.Equal(t, 1, sortDoc[1].Value)
}

func TestReportQueryOpenDateRanges(t *testing.T) {
	start := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC)

	t.Run("start only", func(t *testing.T) {
		p := newReportQuery(scope{all: true}).withDateRange(&start, nil).pipeline()
		match := p[0][0].Value.(bson.M)
		assert.Equal(t, bson.M{"$gte": start}, match["date"])
	})

	t.Run("end only", func(t *testing.T) {
		p := newReportQuery(scope{all: true}).withDateRange(nil, &end).pipeline()
		match := p[0][0].Value.(bson.M)
		assert.Equal(t, bson.M{"$lte": end}, match["date"])
	})

	t.Run("no filters at all skips the match stage", func(t *testing.T) {
		p := newReportQuery(scope{all: true}).pipeline()
		assert.Equal(t, "$unwind", stageName(p[0]))
	})
}

func TestLowAttendancePipeline(t *testing.T) {
	t.Run("nil population groups everyone", func(t *testing.T) {
		p := lowAttendancePipeline(nil)
		var names []string
		for _, stage := range p {
			names = append(names, stageName(stage))
		}
		assert.Equal(t, []string{"$unwind", "$group", "$lookup", "$unwind"}, names)
	})

	t.Run("scoped population filters before grouping", func(t *testing.T) {
		students := []primitive.ObjectID{primitive.NewObjectID()}
		p := lowAttendancePipeline(students)
		require.Equal(t, "$match", stageName(p[1]))
		match := p[1][0].Value.(bson.M)
		assert.Equal(t, bson.M{"$in": students}, match["records.student"])
	})
}

func TestFlagBelow(t *testing.T) {
	mk := func(name string, present, total int) studentCounts {
		g := studentCounts{StudentID: primitive.NewObjectID(), Total: total, Present: present}
		g.Student.Name = name
		return g
	}

	groups := []studentCounts{
		mk("exactly at threshold", 3, 4),  // 75, not flagged
		mk("half", 2, 4),                  // 50
		mk("never present", 0, 3),         // 0
		mk("also half", 5, 10),            // 50, ties with "half"
		mk("no records", 0, 0),            // 0 percent, flagged
		mk("perfect", 6, 6),               // 100, not flagged
	}

	flagged := flagBelow(groups, 75)
	require.Len(t, flagged, 4)

	// ascending by percentage; stable for ties
	assert.Equal(t, "never present", flagged[0].Name)
	assert.Equal(t, "no records", flagged[1].Name)
	assert.Equal(t, "half", flagged[2].Name)
	assert.Equal(t, "also half", flagged[3].Name)

	assert.InDelta(t, 0, flagged[0].Percentage, 1e-9)
	assert.InDelta(t, 50, flagged[2].Percentage, 1e-9)
}

func TestFlagBelowStrictThreshold(t *testing.T) {
	at := studentCounts{StudentID: primitive.NewObjectID(), Total: 4, Present: 3}
	below := studentCounts{StudentID: primitive.NewObjectID(), Total: 100, Present: 74}

	flagged := flagBelow([]studentCounts{at, below}, 75)
	require.Len(t, flagged, 1)
	assert.Equal(t, below.StudentID, flagged[0].StudentID)
}

func TestParseFilters(t *testing.T) {
	valid := primitive.NewObjectID().Hex()

	tests := []struct {
		name    string
		in      Filters
		wantErr bool
	}{
		{name: "empty filters", in: Filters{}},
		{name: "full valid set", in: Filters{ClassID: valid, StudentID: valid, StartDate: "2026-01-01", EndDate: "2026-01-31"}},
		{name: "malformed class id", in: Filters{ClassID: "not-hex"}, wantErr: true},
		{name: "malformed student id", in: Filters{StudentID: "xyz"}, wantErr: true},
		{name: "malformed start date", in: Filters{StartDate: "01/02/2026"}, wantErr: true},
		{name: "malformed end date", in: Filters{EndDate: "2026-13-40"}, wantErr: true},
		{name: "end before start", in: Filters{StartDate: "2026-02-01", EndDate: "2026-01-01"}, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			parsed, err := parseFilters(tc.in)
			if tc.wantErr {
				assert.True(t, errors.Is(err, apperr.ErrValidation))
				return
			}
			require.NoError(t, err)
			if tc.in.ClassID != "" {
				require.NotNil(t, parsed.classID)
				assert.Equal(t, tc.in.ClassID, parsed.classID.Hex())
			}
			if tc.in.StartDate != "" {
				require.NotNil(t, parsed.start)
				assert.Equal(t, tc.in.StartDate, parsed.start.Format(DateLayout))
			}
		})
	}
}
