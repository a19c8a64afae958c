package attendance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"rollcall/internal/apperr"
	"rollcall/internal/identity"
)

// fakeRecordStore serves canned records and captures status writes.
type fakeRecordStore struct {
	records    map[primitive.ObjectID]Record
	statusSets []Status
}

func (f *fakeRecordStore) ByID(_ context.Context, id primitive.ObjectID) (Record, error) {
	rec, ok := f.records[id]
	if !ok {
		return Record{}, apperr.ErrNotFound
	}
	return rec, nil
}

func (f *fakeRecordStore) SetEntryStatus(_ context.Context, _, _ primitive.ObjectID, status Status) error {
	f.statusSets = append(f.statusSets, status)
	return nil
}

func (f *fakeRecordStore) Upsert(context.Context, primitive.ObjectID, time.Time, string, string, []Entry) error {
	return nil
}

func (f *fakeRecordStore) ByTuple(context.Context, primitive.ObjectID, time.Time, string, string) (Record, bool, error) {
	return Record{}, false, nil
}

func (f *fakeRecordStore) DeleteByClass(context.Context, primitive.ObjectID) error { return nil }

func (f *fakeRecordStore) ByStudent(context.Context, primitive.ObjectID) ([]Record, error) {
	return nil, nil
}

func (f *fakeRecordStore) ByDateRange(context.Context, time.Time, time.Time) ([]Record, error) {
	return nil, nil
}

func (f *fakeRecordStore) RunReport(context.Context, mongo.Pipeline) ([]Row, error) {
	return nil, nil
}

func (f *fakeRecordStore) RunGroupCounts(context.Context, mongo.Pipeline) ([]studentCounts, error) {
	return nil, nil
}

func TestEditEntryWindow(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	entry := Entry{ID: primitive.NewObjectID(), StudentID: primitive.NewObjectID(), Status: StatusAbsent}
	rec := Record{
		ID:      primitive.NewObjectID(),
		ClassID: primitive.NewObjectID(),
		Entries: []Entry{entry},
	}
	admin := Viewer{Role: identity.RoleAdmin, ID: primitive.NewObjectID()}

	newSvc := func(updatedAt time.Time) (*Service, *fakeRecordStore) {
		r := rec
		r.UpdatedAt = updatedAt
		store := &fakeRecordStore{records: map[primitive.ObjectID]Record{r.ID: r}}
		svc := NewService(store, nil, nil, 24*time.Hour)
		svc.now = func() time.Time { return now }
		return svc, store
	}

	t.Run("inside the window the status is written", func(t *testing.T) {
		svc, store := newSvc(now.Add(-time.Hour))
		err := svc.EditEntry(context.Background(), admin, rec.ID.Hex(), entry.ID.Hex(), "Present")
		require.NoError(t, err)
		assert.Equal(t, []Status{StatusPresent}, store.statusSets)
	})

	t.Run("past the window the record is immutable", func(t *testing.T) {
		svc, store := newSvc(now.Add(-25 * time.Hour))
		err := svc.EditEntry(context.Background(), admin, rec.ID.Hex(), entry.ID.Hex(), "Present")
		assert.True(t, errors.Is(err, apperr.ErrForbidden))
		assert.Empty(t, store.statusSets)
	})

	t.Run("exactly at the window boundary is too late", func(t *testing.T) {
		svc, store := newSvc(now.Add(-24 * time.Hour))
		err := svc.EditEntry(context.Background(), admin, rec.ID.Hex(), entry.ID.Hex(), "Present")
		assert.True(t, errors.Is(err, apperr.ErrForbidden))
		assert.Empty(t, store.statusSets)
	})

	t.Run("bad status never reaches the store", func(t *testing.T) {
		svc, store := newSvc(now.Add(-time.Hour))
		err := svc.EditEntry(context.Background(), admin, rec.ID.Hex(), entry.ID.Hex(), "Late")
		assert.True(t, errors.Is(err, apperr.ErrValidation))
		assert.Empty(t, store.statusSets)
	})
}

func dateUTC(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestSummarize(t *testing.T) {
	student := primitive.NewObjectID()
	other := primitive.NewObjectID()

	rec := func(date time.Time, subject, session string, status Status) Record {
		return Record{
			ClassID: primitive.NewObjectID(),
			Date:    date,
			Subject: subject,
			Session: session,
			Entries: []Entry{
				{ID: primitive.NewObjectID(), StudentID: other, Status: StatusPresent},
				{ID: primitive.NewObjectID(), StudentID: student, Status: status},
			},
		}
	}

	t.Run("no records", func(t *testing.T) {
		sum := summarize(nil, student)
		assert.Zero(t, sum.Total)
		assert.Zero(t, sum.Percentage)
		assert.Empty(t, sum.Subjects)
		assert.Empty(t, sum.Recent)
	})

	t.Run("per-subject breakdown", func(t *testing.T) {
		recs := []Record{
			rec(dateUTC(2026, 3, 1), "Math", "Morning", StatusPresent),
			rec(dateUTC(2026, 3, 2), "Math", "Morning", StatusAbsent),
			rec(dateUTC(2026, 3, 3), "Art", "Afternoon", StatusPresent),
		}
		sum := summarize(recs, student)

		assert.Equal(t, 3, sum.Total)
		assert.Equal(t, 2, sum.Present)
		assert.InDelta(t, 66.666, sum.Percentage, 0.01)

		require.Len(t, sum.Subjects, 2)
		assert.Equal(t, "Art", sum.Subjects[0].Subject)
		assert.InDelta(t, 100, sum.Subjects[0].Percentage, 1e-9)
		assert.Equal(t, "Math", sum.Subjects[1].Subject)
		assert.Equal(t, 2, sum.Subjects[1].Total)
		assert.Equal(t, 1, sum.Subjects[1].Present)
	})

	t.Run("recent keeps the last five, newest first", func(t *testing.T) {
		var recs []Record
		for day := 1; day <= 7; day++ {
			recs = append(recs, rec(dateUTC(2026, 3, day), "Math", "Morning", StatusPresent))
		}
		sum := summarize(recs, student)

		require.Len(t, sum.Recent, 5)
		assert.Equal(t, dateUTC(2026, 3, 7), sum.Recent[0].Date)
		assert.Equal(t, dateUTC(2026, 3, 3), sum.Recent[4].Date)
	})

	t.Run("other students' entries are ignored", func(t *testing.T) {
		recs := []Record{{
			Date:    dateUTC(2026, 3, 1),
			Subject: "Math",
			Entries: []Entry{{ID: primitive.NewObjectID(), StudentID: other, Status: StatusPresent}},
		}}
		sum := summarize(recs, student)
		assert.Zero(t, sum.Total)
	})
}

func TestTally(t *testing.T) {
	recs := []Record{
		{Entries: []Entry{
			{Status: StatusPresent},
			{Status: StatusAbsent},
			{Status: StatusPresent},
		}},
		{Entries: []Entry{
			{Status: StatusAbsent},
		}},
	}
	present, absent := tally(recs)
	assert.Equal(t, 2, present)
	assert.Equal(t, 2, absent)

	present, absent = tally(nil)
	assert.Zero(t, present)
	assert.Zero(t, absent)
}
