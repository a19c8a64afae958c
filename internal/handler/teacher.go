package handler

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"rollcall/internal/attendance"
	"rollcall/internal/broadcast"
	"rollcall/internal/classes"
	"rollcall/internal/identity"
	"rollcall/internal/qr"
)

// Report runs the role-scoped attendance report. Shared by admin and teacher routes.
func (h *Handler) Report(c *gin.Context) {
	viewer, ok := h.viewer(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not logged in"})
		return
	}
	var filters attendance.Filters
	if err := c.ShouldBindQuery(&filters); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rows, err := h.attendance.Report(c.Request.Context(), viewer, filters)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": rows})
}

// ExportReport streams the same report as a CSV download.
func (h *Handler) ExportReport(c *gin.Context) {
	viewer, ok := h.viewer(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not logged in"})
		return
	}
	var filters attendance.Filters
	if err := c.ShouldBindQuery(&filters); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rows, err := h.attendance.Report(c.Request.Context(), viewer, filters)
	if err != nil {
		h.fail(c, err)
		return
	}

	filename := attendance.ExportFilename(viewer.Role, time.Now())
	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	// teacher exports carry the numeric status flag, admin exports the word
	numeric := viewer.Role == identity.RoleTeacher
	if err := attendance.WriteCSV(c.Writer, rows, numeric); err != nil {
		h.fail(c, err)
	}
}

// ReportFilters returns the class and student lists the report filter
// dropdowns offer, scoped the same way the report itself is.
func (h *Handler) ReportFilters(c *gin.Context) {
	viewer, ok := h.viewer(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not logged in"})
		return
	}

	var (
		cls      []classes.Class
		students []identity.User
		err      error
	)
	switch viewer.Role {
	case identity.RoleAdmin:
		cls, err = h.classes.List(c.Request.Context())
		if err == nil {
			students, err = h.users.ByRole(c.Request.Context(), identity.RoleStudent)
		}
	case identity.RoleTeacher:
		cls, err = h.classes.ByTeacher(c.Request.Context(), viewer.ID)
		if err == nil {
			students, err = h.users.ByIDs(c.Request.Context(), classes.StudentUnion(cls))
		}
	default:
		c.JSON(http.StatusForbidden, gin.H{"error": "reports are not available to this role"})
		return
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	if cls == nil {
		cls = []classes.Class{}
	}
	if students == nil {
		students = []identity.User{}
	}
	c.JSON(http.StatusOK, gin.H{"classes": cls, "students": students})
}

// LowAttendance returns flagged students for the viewer's scope.
func (h *Handler) LowAttendance(c *gin.Context) {
	viewer, ok := h.viewer(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not logged in"})
		return
	}
	flagged, threshold, err := h.attendance.LowAttendance(c.Request.Context(), viewer)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"students": flagged, "threshold": threshold})
}

// TeacherClasses lists the caller's assigned classes.
func (h *Handler) TeacherClasses(c *gin.Context) {
	viewer, ok := h.viewer(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not logged in"})
		return
	}
	out, err := h.classes.ByTeacher(c.Request.Context(), viewer.ID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"classes": out})
}

// AttendanceSheet returns the roster and any recorded statuses for a tuple.
func (h *Handler) AttendanceSheet(c *gin.Context) {
	viewer, ok := h.viewer(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not logged in"})
		return
	}
	var sub attendance.Submission
	if err := c.ShouldBindJSON(&sub); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sheet, err := h.attendance.SheetFor(c.Request.Context(), viewer, sub)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sheet)
}

type submitRequest struct {
	attendance.Submission
	Statuses map[string]string `json:"statuses" binding:"required"`
}

// SubmitAttendance records a manual full-roster submission.
func (h *Handler) SubmitAttendance(c *gin.Context) {
	viewer, ok := h.viewer(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not logged in"})
		return
	}
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.attendance.Submit(c.Request.Context(), viewer, req.Submission, req.Statuses); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "recorded"})
}

type scanSubmitRequest struct {
	attendance.Submission
	PresentStudents []string `json:"present_students"`
}

// SubmitScanAttendance records a scan submission: scanned students present,
// the rest of the roster absent.
func (h *Handler) SubmitScanAttendance(c *gin.Context) {
	viewer, ok := h.viewer(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not logged in"})
		return
	}
	var req scanSubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.attendance.SubmitScan(c.Request.Context(), viewer, req.Submission, req.PresentStudents); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "recorded"})
}

// EditEntry corrects one student's status inside the edit window.
func (h *Handler) EditEntry(c *gin.Context) {
	viewer, ok := h.viewer(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not logged in"})
		return
	}
	var req struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	err := h.attendance.EditEntry(c.Request.Context(), viewer, c.Param("recordId"), c.Param("entryId"), req.Status)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}

// OpenScannerSession issues a token for a live scanning session.
func (h *Handler) OpenScannerSession(c *gin.Context) {
	token := broadcast.NewSessionToken()
	c.JSON(http.StatusCreated, gin.H{
		"session_token": token,
		"ws_path":       "/ws/scans?session=" + token,
	})
}

// ScannerSessionQR renders the join code students scan to check in.
func (h *Handler) ScannerSessionQR(c *gin.Context) {
	token := c.Param("token")
	png, err := qr.PNG("rollcall:scan:"+token, qr.DefaultSize)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}
