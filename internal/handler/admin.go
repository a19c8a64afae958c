package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"rollcall/internal/apperr"
	"rollcall/internal/classes"
	"rollcall/internal/identity"
	"rollcall/internal/settings"
)

func pathID(c *gin.Context, name string) (primitive.ObjectID, error) {
	id, err := primitive.ObjectIDFromHex(c.Param(name))
	if err != nil {
		return primitive.NilObjectID, apperr.Validationf("malformed id %q", c.Param(name))
	}
	return id, nil
}

// AdminDashboard returns headcounts, today's totals, and the low-attendance list.
func (h *Handler) AdminDashboard(c *gin.Context) {
	ctx := c.Request.Context()
	viewer, ok := h.viewer(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not logged in"})
		return
	}

	studentCount, err := h.users.CountByRole(ctx, identity.RoleStudent)
	if err != nil {
		h.fail(c, err)
		return
	}
	teacherCount, err := h.users.CountByRole(ctx, identity.RoleTeacher)
	if err != nil {
		h.fail(c, err)
		return
	}
	classCount, err := h.classes.Count(ctx)
	if err != nil {
		h.fail(c, err)
		return
	}
	presentToday, absentToday, err := h.attendance.TodayCounts(ctx)
	if err != nil {
		h.fail(c, err)
		return
	}
	flagged, threshold, err := h.attendance.LowAttendance(ctx, viewer)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"students":                 studentCount,
		"teachers":                 teacherCount,
		"classes":                  classCount,
		"present_today":            presentToday,
		"absent_today":             absentToday,
		"low_attendance":           flagged,
		"low_attendance_threshold": threshold,
	})
}

// ListUsers serves the paginated, searchable user listing.
func (h *Handler) ListUsers(c *gin.Context) {
	page := 1
	if v := c.Query("page"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			page = parsed
		}
	}
	result, err := h.users.Search(c.Request.Context(), c.Query("search"), page, 10)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// CreateUser adds a user; same body as registration.
func (h *Handler) CreateUser(c *gin.Context) {
	h.RegisterUser(c)
}

type updateUserRequest struct {
	Name     string `json:"name" binding:"required"`
	SchoolID string `json:"school_id" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Role     string `json:"role" binding:"required"`
}

// UpdateUser rewrites a user's profile fields.
func (h *Handler) UpdateUser(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		h.fail(c, err)
		return
	}
	var req updateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	role, err := identity.ParseRole(req.Role)
	if err != nil {
		h.fail(c, err)
		return
	}
	if err := h.users.Update(c.Request.Context(), id, req.Name, req.SchoolID, req.Email, role); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}

// DeleteUser removes a user.
func (h *Handler) DeleteUser(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		h.fail(c, err)
		return
	}
	if err := h.users.Delete(c.Request.Context(), id); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// ListClasses returns all classes.
func (h *Handler) ListClasses(c *gin.Context) {
	out, err := h.classes.List(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"classes": out})
}

type classRequest struct {
	Name       string   `json:"name" binding:"required"`
	TeacherID  string   `json:"teacher_id" binding:"required"`
	StudentIDs []string `json:"student_ids"`
	Subjects   []string `json:"subjects"`
}

func (r classRequest) parse() (primitive.ObjectID, []primitive.ObjectID, error) {
	teacherID, err := primitive.ObjectIDFromHex(r.TeacherID)
	if err != nil {
		return primitive.NilObjectID, nil, apperr.Validationf("malformed teacher id %q", r.TeacherID)
	}
	studentIDs := make([]primitive.ObjectID, 0, len(r.StudentIDs))
	for _, s := range r.StudentIDs {
		id, err := primitive.ObjectIDFromHex(s)
		if err != nil {
			return primitive.NilObjectID, nil, apperr.Validationf("malformed student id %q", s)
		}
		studentIDs = append(studentIDs, id)
	}
	return teacherID, studentIDs, nil
}

// CreateClass adds a class.
func (h *Handler) CreateClass(c *gin.Context) {
	var req classRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	teacherID, studentIDs, err := req.parse()
	if err != nil {
		h.fail(c, err)
		return
	}
	created, err := h.classes.Create(c.Request.Context(), classes.Class{
		Name:       req.Name,
		TeacherID:  teacherID,
		StudentIDs: studentIDs,
		Subjects:   req.Subjects,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

// UpdateClass rewrites a class.
func (h *Handler) UpdateClass(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		h.fail(c, err)
		return
	}
	var req classRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	teacherID, studentIDs, err := req.parse()
	if err != nil {
		h.fail(c, err)
		return
	}
	if err := h.classes.Update(c.Request.Context(), id, req.Name, teacherID, studentIDs, req.Subjects); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}

// DeleteClass removes a class and its attendance records.
func (h *Handler) DeleteClass(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		h.fail(c, err)
		return
	}
	ctx := c.Request.Context()
	if err := h.classes.Delete(ctx, id); err != nil {
		h.fail(c, err)
		return
	}
	if err := h.attendance.DeleteForClass(ctx, id); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// ListSessions returns all session labels.
func (h *Handler) ListSessions(c *gin.Context) {
	out, err := h.sessions.List(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": out})
}

// CreateSession adds a session label.
func (h *Handler) CreateSession(c *gin.Context) {
	var req struct {
		Name string `json:"name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	created, err := h.sessions.Create(c.Request.Context(), req.Name)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

// DeleteSession removes a session label.
func (h *Handler) DeleteSession(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		h.fail(c, err)
		return
	}
	if err := h.sessions.Delete(c.Request.Context(), id); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// GetSettings returns all settings.
func (h *Handler) GetSettings(c *gin.Context) {
	all, err := h.settings.All(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"settings": all})
}

// UpdateSettings upserts the low-attendance threshold and clears the cache.
func (h *Handler) UpdateSettings(c *gin.Context) {
	var req struct {
		LowAttendanceThreshold string `json:"low_attendance_threshold" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if _, err := strconv.Atoi(req.LowAttendanceThreshold); err != nil {
		h.fail(c, apperr.Validationf("threshold must be an integer"))
		return
	}
	if err := h.settings.Set(c.Request.Context(), settings.KeyLowAttendanceThreshold, req.LowAttendanceThreshold); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}
