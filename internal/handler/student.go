package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"rollcall/internal/broadcast"
	"rollcall/internal/qr"
)

// StudentSummary returns the caller's own attendance aggregate.
func (h *Handler) StudentSummary(c *gin.Context) {
	viewer, ok := h.viewer(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not logged in"})
		return
	}
	summary, err := h.attendance.StudentSummary(c.Request.Context(), viewer.ID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// StudentBadge renders the caller's QR badge encoding their school id.
func (h *Handler) StudentBadge(c *gin.Context) {
	viewer, ok := h.viewer(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not logged in"})
		return
	}
	user, err := h.users.ByID(c.Request.Context(), viewer.ID)
	if err != nil {
		h.fail(c, err)
		return
	}
	png, err := qr.PNG(user.SchoolID, qr.DefaultSize)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}

// StudentUpdateProfile lets the caller change their own name and email.
// School id and role stay admin-managed.
func (h *Handler) StudentUpdateProfile(c *gin.Context) {
	viewer, ok := h.viewer(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not logged in"})
		return
	}
	var req struct {
		Name  string `json:"name" binding:"required"`
		Email string `json:"email" binding:"required,email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	user, err := h.users.ByID(c.Request.Context(), viewer.ID)
	if err != nil {
		h.fail(c, err)
		return
	}
	if err := h.users.Update(c.Request.Context(), viewer.ID, req.Name, user.SchoolID, req.Email, user.Role); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}

// StudentChangePassword rotates the caller's password after checking the current one.
func (h *Handler) StudentChangePassword(c *gin.Context) {
	viewer, ok := h.viewer(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not logged in"})
		return
	}
	var req struct {
		CurrentPassword string `json:"current_password" binding:"required"`
		NewPassword     string `json:"new_password" binding:"required,min=8"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.users.SetPassword(c.Request.Context(), viewer.ID, req.CurrentPassword, req.NewPassword); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "password changed"})
}

// StudentScan posts the caller's check-in to a scanner session; the teacher's
// scanner page sees it live over the websocket channel.
func (h *Handler) StudentScan(c *gin.Context) {
	viewer, ok := h.viewer(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not logged in"})
		return
	}
	var req struct {
		SessionToken string `json:"session_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	user, err := h.users.ByID(c.Request.Context(), viewer.ID)
	if err != nil {
		h.fail(c, err)
		return
	}
	scan := broadcast.Scan{
		SessionToken: req.SessionToken,
		StudentID:    user.ID.Hex(),
		StudentName:  user.Name,
		SchoolID:     user.SchoolID,
		At:           time.Now().UTC(),
	}
	if err := h.hub.Publish(c.Request.Context(), scan); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "scanned"})
}
