package handler

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"rollcall/internal/apperr"
	"rollcall/internal/attendance"
	"rollcall/internal/auth"
	"rollcall/internal/broadcast"
	"rollcall/internal/classes"
	"rollcall/internal/config"
	"rollcall/internal/identity"
	"rollcall/internal/sessions"
	"rollcall/internal/settings"
)

// Handler wires the HTTP surface to the services.
type Handler struct {
	cfg        config.App
	users      *identity.Store
	classes    *classes.Registry
	sessions   *sessions.Registry
	settings   *settings.Service
	attendance *attendance.Service
	hub        *broadcast.Hub
}

// New creates a handler.
func New(cfg config.App, users *identity.Store, registry *classes.Registry, sessionReg *sessions.Registry, settingsSvc *settings.Service, att *attendance.Service, hub *broadcast.Hub) *Handler {
	return &Handler{
		cfg:        cfg,
		users:      users,
		classes:    registry,
		sessions:   sessionReg,
		settings:   settingsSvc,
		attendance: att,
		hub:        hub,
	}
}

// Register mounts all routes on the engine.
func (h *Handler) Register(r *gin.Engine) {
	r.POST("/auth/register", h.RegisterUser)
	r.POST("/auth/login", h.Login)
	r.POST("/auth/logout", h.Logout)

	authed := r.Group("/", auth.Authenticate(h.cfg.JWTSigningKey, h.cfg.JWTIssuer))
	authed.GET("/ws/scans", h.hub.ServeWS)

	admin := authed.Group("/admin", auth.RequireRole(identity.RoleAdmin))
	admin.GET("/dashboard", h.AdminDashboard)
	admin.GET("/users", h.ListUsers)
	admin.POST("/users", h.CreateUser)
	admin.PUT("/users/:id", h.UpdateUser)
	admin.DELETE("/users/:id", h.DeleteUser)
	admin.GET("/classes", h.ListClasses)
	admin.POST("/classes", h.CreateClass)
	admin.PUT("/classes/:id", h.UpdateClass)
	admin.DELETE("/classes/:id", h.DeleteClass)
	admin.GET("/sessions", h.ListSessions)
	admin.POST("/sessions", h.CreateSession)
	admin.DELETE("/sessions/:id", h.DeleteSession)
	admin.GET("/settings", h.GetSettings)
	admin.PUT("/settings", h.UpdateSettings)
	admin.GET("/reports", h.Report)
	admin.GET("/reports/filters", h.ReportFilters)
	admin.GET("/reports/export", h.ExportReport)
	admin.GET("/low-attendance", h.LowAttendance)

	teacher := authed.Group("/teacher", auth.RequireRole(identity.RoleTeacher))
	teacher.GET("/classes", h.TeacherClasses)
	teacher.POST("/attendance/sheet", h.AttendanceSheet)
	teacher.POST("/attendance", h.SubmitAttendance)
	teacher.POST("/attendance/scan", h.SubmitScanAttendance)
	teacher.PATCH("/attendance/:recordId/entries/:entryId", h.EditEntry)
	teacher.GET("/reports", h.Report)
	teacher.GET("/reports/filters", h.ReportFilters)
	teacher.GET("/reports/export", h.ExportReport)
	teacher.GET("/low-attendance", h.LowAttendance)
	teacher.POST("/scanner-sessions", h.OpenScannerSession)
	teacher.GET("/scanner-sessions/:token/qr", h.ScannerSessionQR)

	student := authed.Group("/student", auth.RequireRole(identity.RoleStudent))
	student.GET("/summary", h.StudentSummary)
	student.GET("/badge", h.StudentBadge)
	student.PUT("/profile", h.StudentUpdateProfile)
	student.PUT("/password", h.StudentChangePassword)
	student.POST("/scan", h.StudentScan)
}

// fail renders an error with its mapped status. Internal failures are logged
// and kept opaque to the caller.
func (h *Handler) fail(c *gin.Context, err error) {
	if errors.Is(err, identity.ErrBadCredentials) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": identity.ErrBadCredentials.Error()})
		return
	}
	status := apperr.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		log.Printf("handler: %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// viewer builds the role context from the verified claims.
func (h *Handler) viewer(c *gin.Context) (attendance.Viewer, bool) {
	claims, ok := auth.ClaimsFrom(c)
	if !ok {
		return attendance.Viewer{}, false
	}
	role, err := identity.ParseRole(claims.Role)
	if err != nil {
		return attendance.Viewer{}, false
	}
	id, ok := auth.UserID(c)
	if !ok {
		return attendance.Viewer{}, false
	}
	return attendance.Viewer{Role: role, ID: id}, true
}

type registerRequest struct {
	Name     string `json:"name" binding:"required"`
	SchoolID string `json:"school_id" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
	Role     string `json:"role" binding:"required"`
}

// RegisterUser creates an account.
func (h *Handler) RegisterUser(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	role, err := identity.ParseRole(req.Role)
	if err != nil {
		h.fail(c, err)
		return
	}
	user, err := h.users.Create(c.Request.Context(), identity.User{
		Name:     req.Name,
		SchoolID: req.SchoolID,
		Email:    req.Email,
		Role:     role,
	}, req.Password)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, user)
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login checks credentials and sets the session cookie.
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	user, err := h.users.Authenticate(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		h.fail(c, err)
		return
	}
	token, exp, err := auth.Issue(user, h.cfg.JWTIssuer, h.cfg.JWTSigningKey, h.cfg.TokenTTL)
	if err != nil {
		h.fail(c, err)
		return
	}
	secure := h.cfg.Env == "production" || h.cfg.Env == "prod"
	c.SetCookie(auth.CookieName, token, int(h.cfg.TokenTTL.Seconds()), "/", "", secure, true)
	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"expires_at": exp.Unix(),
		"role":       user.Role,
		"user":       user,
	})
}

// Logout expires the session cookie.
func (h *Handler) Logout(c *gin.Context) {
	c.SetCookie(auth.CookieName, "", -1, "/", "", false, true)
	c.JSON(http.StatusOK, gin.H{"status": "logged out"})
}
