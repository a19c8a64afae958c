package attendance

import (
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"rollcall/internal/identity"
)

var exportHeader = []string{"Date", "Student Name", "Student ID", "Class", "Subject", "Session", "Status"}

// WriteCSV flattens report rows to the fixed export columns. Admin exports
// carry the status word; teacher exports carry a 1/0 flag. Both forms are
// long-standing and preserved.
func WriteCSV(w io.Writer, rows []Row, numericStatus bool) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(exportHeader); err != nil {
		return err
	}
	for _, row := range rows {
		status := string(row.Status)
		if numericStatus {
			if row.Status == StatusPresent {
				status = "1"
			} else {
				status = "0"
			}
		}
		rec := []string{
			row.Date.Format(DateLayout),
			row.StudentName,
			row.StudentSchoolID,
			row.ClassName,
			row.Subject,
			row.Session,
			status,
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ExportFilename names a download after the viewer role and the current date.
func ExportFilename(role identity.Role, now time.Time) string {
	return fmt.Sprintf("%s_report_%s.csv", role, now.Format(DateLayout))
}
