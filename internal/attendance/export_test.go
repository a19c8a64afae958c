package attendance

import (
	"bytes"
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rollcall/internal/identity"
)

func TestWriteCSV(t *testing.T) {
	rows := []Row{
		{
			Date:            time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
			StudentName:     "Asha Rao",
			StudentSchoolID: "S-1041",
			ClassName:       "10A",
			Subject:         "Physics",
			Session:         "Morning",
			Status:          StatusPresent,
		},
		{
			Date:            time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
			StudentName:     "Ben Okafor",
			StudentSchoolID: "S-1042",
			ClassName:       "10A",
			Subject:         "Physics",
			Session:         "Morning",
			Status:          StatusAbsent,
		},
	}

	t.Run("word statuses", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, WriteCSV(&buf, rows, false))

		records, err := csv.NewReader(&buf).ReadAll()
		require.NoError(t, err)
		require.Len(t, records, 3)
		assert.Equal(t, []string{"Date", "Student Name", "Student ID", "Class", "Subject", "Session", "Status"}, records[0])
		assert.Equal(t, []string{"2026-03-02", "Asha Rao", "S-1041", "10A", "Physics", "Morning", "Present"}, records[1])
		assert.Equal(t, "Absent", records[2][6])
	})

	t.Run("numeric statuses", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, WriteCSV(&buf, rows, true))

		records, err := csv.NewReader(&buf).ReadAll()
		require.NoError(t, err)
		require.Len(t, records, 3)
		assert.Equal(t, "1", records[1][6])
		assert.Equal(t, "0", records[2][6])
	})

	t.Run("empty report still writes the header", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, WriteCSV(&buf, nil, false))
		assert.Equal(t, 1, strings.Count(buf.String(), "\n"))
		assert.True(t, strings.HasPrefix(buf.String(), "Date,"))
	})
}

func TestExportFilename(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	assert.Equal(t, "admin_report_2026-03-02.csv", ExportFilename(identity.RoleAdmin, now))
	assert.Equal(t, "teacher_report_2026-03-02.csv", ExportFilename(identity.RoleTeacher, now))
}
