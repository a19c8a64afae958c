package attendance

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"rollcall/internal/apperr"
	"rollcall/internal/classes"
	"rollcall/internal/identity"
	"rollcall/internal/settings"
)

// RecordStore is the persistence surface the service runs against.
// *Store is the Mongo implementation.
type RecordStore interface {
	Upsert(ctx context.Context, classID primitive.ObjectID, date time.Time, subject, session string, entries []Entry) error
	ByID(ctx context.Context, id primitive.ObjectID) (Record, error)
	ByTuple(ctx context.Context, classID primitive.ObjectID, date time.Time, subject, session string) (Record, bool, error)
	SetEntryStatus(ctx context.Context, recordID, entryID primitive.ObjectID, status Status) error
	DeleteByClass(ctx context.Context, classID primitive.ObjectID) error
	ByStudent(ctx context.Context, studentID primitive.ObjectID) ([]Record, error)
	ByDateRange(ctx context.Context, start, end time.Time) ([]Record, error)
	RunReport(ctx context.Context, pipeline mongo.Pipeline) ([]Row, error)
	RunGroupCounts(ctx context.Context, pipeline mongo.Pipeline) ([]studentCounts, error)
}

// Service is the report engine and submission path over the attendance store.
type Service struct {
	store      RecordStore
	registry   *classes.Registry
	settings   *settings.Service
	editWindow time.Duration
	now        func() time.Time
}

// NewService wires the attendance core. editWindow bounds single-entry edits.
func NewService(store RecordStore, registry *classes.Registry, settings *settings.Service, editWindow time.Duration) *Service {
	if editWindow <= 0 {
		editWindow = 24 * time.Hour
	}
	return &Service{
		store:      store,
		registry:   registry,
		settings:   settings,
		editWindow: editWindow,
		now:        time.Now,
	}
}

// viewerScope resolves the viewer's visibility before any caller filter applies.
func (s *Service) viewerScope(ctx context.Context, viewer Viewer) (scope, error) {
	var owned []primitive.ObjectID
	if viewer.Role == identity.RoleTeacher {
		cls, err := s.registry.ByTeacher(ctx, viewer.ID)
		if err != nil {
			return scope{}, err
		}
		for _, cl := range cls {
			owned = append(owned, cl.ID)
		}
	}
	return scopeFor(viewer, owned)
}

// Report returns the attendance rows visible to the viewer under the filters,
// newest date first, then student name. A teacher with no classes gets an
// empty result without the aggregation running.
func (s *Service) Report(ctx context.Context, viewer Viewer, filters Filters) ([]Row, error) {
	parsed, err := parseFilters(filters)
	if err != nil {
		return nil, err
	}
	sc, err := s.viewerScope(ctx, viewer)
	if err != nil {
		return nil, err
	}

	q := newReportQuery(sc)
	if parsed.classID != nil {
		q.withClass(*parsed.classID)
	}
	if parsed.studentID != nil {
		q.withStudent(*parsed.studentID)
	}
	q.withDateRange(parsed.start, parsed.end)

	if q.shortCircuit() {
		return []Row{}, nil
	}
	return s.store.RunReport(ctx, q.pipeline())
}

// LowAttendance returns the viewer's students whose percentage is strictly
// below the configured threshold, most at risk first, plus the threshold used.
func (s *Service) LowAttendance(ctx context.Context, viewer Viewer) ([]FlaggedStudent, int, error) {
	threshold, err := s.settings.Threshold(ctx)
	if err != nil {
		return nil, 0, err
	}

	var scoped []primitive.ObjectID
	switch viewer.Role {
	case identity.RoleAdmin:
		// all students
	case identity.RoleTeacher:
		cls, err := s.registry.ByTeacher(ctx, viewer.ID)
		if err != nil {
			return nil, threshold, err
		}
		scoped = classes.StudentUnion(cls)
		if len(scoped) == 0 {
			return []FlaggedStudent{}, threshold, nil
		}
	default:
		return nil, threshold, fmt.Errorf("%w: low attendance is not available to role %s", apperr.ErrForbidden, viewer.Role)
	}

	groups, err := s.store.RunGroupCounts(ctx, lowAttendancePipeline(scoped))
	if err != nil {
		return nil, threshold, err
	}
	return flagBelow(groups, threshold), threshold, nil
}

// Submission targets one (class, date, subject, session) tuple.
type Submission struct {
	ClassID string `json:"class_id" binding:"required"`
	Date    string `json:"date" binding:"required"`
	Subject string `json:"subject" binding:"required"`
	Session string `json:"session" binding:"required"`
}

func (s *Service) submissionTarget(ctx context.Context, viewer Viewer, sub Submission) (classes.Class, time.Time, error) {
	classID, err := primitive.ObjectIDFromHex(sub.ClassID)
	if err != nil {
		return classes.Class{}, time.Time{}, apperr.Validationf("malformed class id %q", sub.ClassID)
	}
	date, err := time.Parse(DateLayout, sub.Date)
	if err != nil {
		return classes.Class{}, time.Time{}, apperr.Validationf("malformed date %q", sub.Date)
	}
	cl, err := s.registry.ByID(ctx, classID)
	if err != nil {
		return classes.Class{}, time.Time{}, err
	}
	if viewer.Role == identity.RoleTeacher && cl.TeacherID != viewer.ID {
		return classes.Class{}, time.Time{}, fmt.Errorf("%w: class %s is not assigned to you", apperr.ErrForbidden, classID.Hex())
	}
	return cl, date, nil
}

// Submit records attendance from an explicit per-student status map. The full
// entries list is replaced: roster students missing from the map are absent.
func (s *Service) Submit(ctx context.Context, viewer Viewer, sub Submission, statuses map[string]string) error {
	cl, date, err := s.submissionTarget(ctx, viewer, sub)
	if err != nil {
		return err
	}
	byStudent := make(map[primitive.ObjectID]Status, len(statuses))
	for idHex, statusStr := range statuses {
		id, err := primitive.ObjectIDFromHex(idHex)
		if err != nil {
			return apperr.Validationf("malformed student id %q", idHex)
		}
		status, err := ParseStatus(statusStr)
		if err != nil {
			return err
		}
		byStudent[id] = status
	}
	return s.store.Upsert(ctx, cl.ID, date, sub.Subject, sub.Session, EntriesFromStatuses(cl.StudentIDs, byStudent))
}

// SubmitScan records attendance from a scanned-present set: every roster
// student is included, absent unless scanned.
func (s *Service) SubmitScan(ctx context.Context, viewer Viewer, sub Submission, presentIDs []string) error {
	cl, date, err := s.submissionTarget(ctx, viewer, sub)
	if err != nil {
		return err
	}
	present := make([]primitive.ObjectID, 0, len(presentIDs))
	for _, idHex := range presentIDs {
		id, err := primitive.ObjectIDFromHex(idHex)
		if err != nil {
			return apperr.Validationf("malformed student id %q", idHex)
		}
		present = append(present, id)
	}
	return s.store.Upsert(ctx, cl.ID, date, sub.Subject, sub.Session, EntriesFromScan(cl.StudentIDs, present))
}

// Sheet returns the roster for a tuple plus any statuses already recorded,
// for the take-attendance form.
type Sheet struct {
	Class    classes.Class      `json:"class"`
	Date     string             `json:"date"`
	Subject  string             `json:"subject"`
	Session  string             `json:"session"`
	Existing []Entry            `json:"existing"`
	RecordID primitive.ObjectID `json:"record_id,omitempty"`
}

// SheetFor fetches the attendance sheet for a submission target.
func (s *Service) SheetFor(ctx context.Context, viewer Viewer, sub Submission) (Sheet, error) {
	cl, date, err := s.submissionTarget(ctx, viewer, sub)
	if err != nil {
		return Sheet{}, err
	}
	sheet := Sheet{Class: cl, Date: sub.Date, Subject: sub.Subject, Session: sub.Session, Existing: []Entry{}}
	rec, found, err := s.store.ByTuple(ctx, cl.ID, date, sub.Subject, sub.Session)
	if err != nil {
		return Sheet{}, err
	}
	if found {
		sheet.Existing = rec.Entries
		sheet.RecordID = rec.ID
	}
	return sheet, nil
}

// EditEntry corrects one entry's status while the record is still inside the
// edit window. Past the window the record is immutable.
func (s *Service) EditEntry(ctx context.Context, viewer Viewer, recordIDHex, entryIDHex, statusStr string) error {
	recordID, err := primitive.ObjectIDFromHex(recordIDHex)
	if err != nil {
		return apperr.Validationf("malformed record id %q", recordIDHex)
	}
	entryID, err := primitive.ObjectIDFromHex(entryIDHex)
	if err != nil {
		return apperr.Validationf("malformed entry id %q", entryIDHex)
	}
	status, err := ParseStatus(statusStr)
	if err != nil {
		return err
	}

	rec, err := s.store.ByID(ctx, recordID)
	if err != nil {
		return err
	}
	if viewer.Role == identity.RoleTeacher {
		cl, err := s.registry.ByID(ctx, rec.ClassID)
		if err != nil {
			return err
		}
		if cl.TeacherID != viewer.ID {
			return fmt.Errorf("%w: record %s is not in your classes", apperr.ErrForbidden, recordID.Hex())
		}
	}
	if !CanEdit(rec.UpdatedAt, s.now(), s.editWindow) {
		return fmt.Errorf("%w: edit window of %s has passed", apperr.ErrForbidden, s.editWindow)
	}
	return s.store.SetEntryStatus(ctx, recordID, entryID, status)
}

// SubjectStat is a student's attendance standing in one subject.
type SubjectStat struct {
	Subject    string  `json:"subject"`
	Total      int     `json:"total"`
	Present    int     `json:"present"`
	Percentage float64 `json:"percentage"`
}

// SelfRow is one of a student's own attendance entries.
type SelfRow struct {
	Date    time.Time `json:"date"`
	Subject string    `json:"subject"`
	Session string    `json:"session"`
	Status  Status    `json:"status"`
}

// Summary is a student's own aggregate view.
type Summary struct {
	Total      int           `json:"total"`
	Present    int           `json:"present"`
	Percentage float64       `json:"percentage"`
	Subjects   []SubjectStat `json:"subjects"`
	Recent     []SelfRow     `json:"recent"`
}

// StudentSummary computes a student's overall and per-subject percentages.
// This is the students' own read path; it never touches the report engine.
func (s *Service) StudentSummary(ctx context.Context, studentID primitive.ObjectID) (Summary, error) {
	recs, err := s.store.ByStudent(ctx, studentID)
	if err != nil {
		return Summary{}, err
	}
	return summarize(recs, studentID), nil
}

// summarize folds a student's records into their aggregate view.
func summarize(recs []Record, studentID primitive.ObjectID) Summary {
	sum := Summary{Subjects: []SubjectStat{}, Recent: []SelfRow{}}
	perSubject := make(map[string]*SubjectStat)
	var rows []SelfRow

	for _, rec := range recs {
		for _, e := range rec.Entries {
			if e.StudentID != studentID {
				continue
			}
			sum.Total++
			if e.Status == StatusPresent {
				sum.Present++
			}
			stat, ok := perSubject[rec.Subject]
			if !ok {
				stat = &SubjectStat{Subject: rec.Subject}
				perSubject[rec.Subject] = stat
			}
			stat.Total++
			if e.Status == StatusPresent {
				stat.Present++
			}
			rows = append(rows, SelfRow{Date: rec.Date, Subject: rec.Subject, Session: rec.Session, Status: e.Status})
			break
		}
	}

	sum.Percentage = Percentage(sum.Present, sum.Total)
	for _, stat := range perSubject {
		stat.Percentage = Percentage(stat.Present, stat.Total)
		sum.Subjects = append(sum.Subjects, *stat)
	}
	sort.Slice(sum.Subjects, func(i, j int) bool { return sum.Subjects[i].Subject < sum.Subjects[j].Subject })

	// last five entries, newest first
	for i := len(rows) - 1; i >= 0 && len(sum.Recent) < 5; i-- {
		sum.Recent = append(sum.Recent, rows[i])
	}
	return sum
}

// TodayCounts tallies present and absent entries across today's records.
func (s *Service) TodayCounts(ctx context.Context) (present, absent int, err error) {
	now := s.now().UTC()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	recs, err := s.store.ByDateRange(ctx, start, start.AddDate(0, 0, 1))
	if err != nil {
		return 0, 0, err
	}
	present, absent = tally(recs)
	return present, absent, nil
}

func tally(recs []Record) (present, absent int) {
	for _, rec := range recs {
		for _, e := range rec.Entries {
			switch e.Status {
			case StatusPresent:
				present++
			case StatusAbsent:
				absent++
			}
		}
	}
	return present, absent
}

// DeleteForClass cascades record deletion when a class is removed.
func (s *Service) DeleteForClass(ctx context.Context, classID primitive.ObjectID) error {
	return s.store.DeleteByClass(ctx, classID)
}
