package api

import (
	"alcyxob/fitness-sessions/internal/admission"
	"alcyxob/fitness-sessions/internal/domain"
	"alcyxob/fitness-sessions/internal/service"
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type SessionHandler struct {
	schedulingService service.SchedulingService
}

func NewSessionHandler(schedulingService service.SchedulingService) *SessionHandler {
	return &SessionHandler{schedulingService: schedulingService}
}

// --- DTOs ---

type CreateSessionRequest struct {
	Title           string    `json:"title" binding:"required"`
	Description     string    `json:"description"`
	SessionType     string    `json:"sessionType"`
	ScheduledAt     time.Time `json:"scheduledAt" binding:"required"`
	DurationMinutes int       `json:"durationMinutes"`
	MaxCapacity     int       `json:"maxCapacity"`
	TrainerID       string    `json:"trainerId"`
	PackageIDs      []string  `json:"packageIds"`
}

func (r CreateSessionRequest) toSession() (domain.Session, error) {
	s := domain.Session{
		Title:           strings.TrimSpace(r.Title),
		Description:     r.Description,
		SessionType:     r.SessionType,
		ScheduledAt:     r.ScheduledAt.UTC(),
		DurationMinutes: r.DurationMinutes,
		MaxCapacity:     r.MaxCapacity,
	}
	if r.TrainerID != "" {
		id, err := primitive.ObjectIDFromHex(r.TrainerID)
		if err != nil {
			return s, domain.NewValidationError("trainerId", "must be a valid id")
		}
		s.TrainerID = &id
	}
	if len(r.PackageIDs) > 0 {
		ids, err := parseObjectIDs("packageIds", r.PackageIDs)
		if err != nil {
			return s, err
		}
		s.PackageIDs = ids
	}
	return s, nil
}

type CreateRecurringRequest struct {
	CreateSessionRequest
	Pattern  string    `json:"pattern" binding:"required"`
	Weekdays []string  `json:"weekdays" binding:"required"`
	EndDate  time.Time `json:"endDate" binding:"required"`
}

type AssignTrainerRequest struct {
	TrainerID string `json:"trainerId" binding:"required"`
}

type BatchAssignRequest struct {
	ClientIDs []string `json:"clientIds" binding:"required"`
}

type CoverUploadRequest struct {
	ContentType string `json:"contentType" binding:"required"`
}

// BatchAssignResponse carries the per-item outcome of a batch, with the call-level
// error set when the whole batch was refused.
type BatchAssignResponse struct {
	*admission.BatchResult
	Error string `json:"error,omitempty"`
	Code  string `json:"code,omitempty"`
}

var weekdayNames = map[string]time.Weekday{
	"sunday": time.Sunday, "sun": time.Sunday,
	"monday": time.Monday, "mon": time.Monday,
	"tuesday": time.Tuesday, "tue": time.Tuesday,
	"wednesday": time.Wednesday, "wed": time.Wednesday,
	"thursday": time.Thursday, "thu": time.Thursday,
	"friday": time.Friday, "fri": time.Friday,
	"saturday": time.Saturday, "sat": time.Saturday,
}

func parseWeekdays(raw []string) ([]time.Weekday, error) {
	out := make([]time.Weekday, 0, len(raw))
	for _, name := range raw {
		day, ok := weekdayNames[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return nil, domain.NewValidationError("weekdays", "unknown weekday "+name)
		}
		out = append(out, day)
	}
	return out, nil
}

func bindJSON(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		respondWithError(c, domain.NewValidationError("body", err.Error()))
		return false
	}
	return true
}

// --- Handler Methods ---

// CreateSession godoc
// @Summary Schedule a single live session
// @Tags Sessions
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param session body CreateSessionRequest true "Session template"
// @Success 201 {object} domain.Session
// @Failure 400 {object} ErrorResponse "Validation error"
// @Failure 404 {object} ErrorResponse "Trainer not found"
// @Router /sessions [post]
func (h *SessionHandler) CreateSession(c *gin.Context) {
	var req CreateSessionRequest
	if !bindJSON(c, &req) {
		return
	}
	template, err := req.toSession()
	if err != nil {
		respondWithError(c, err)
		return
	}

	session, err := h.schedulingService.CreateSession(c.Request.Context(), template)
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, session)
}

// CreateRecurringSeries godoc
// @Summary Schedule a weekly series of sessions
// @Description Creates every occurrence before endDate (exclusive) or nothing at all.
// @Tags Sessions
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param series body CreateRecurringRequest true "Template and recurrence"
// @Success 201 {array} domain.Session
// @Failure 400 {object} ErrorResponse "Validation error"
// @Router /sessions/recurring [post]
func (h *SessionHandler) CreateRecurringSeries(c *gin.Context) {
	var req CreateRecurringRequest
	if !bindJSON(c, &req) {
		return
	}
	template, err := req.toSession()
	if err != nil {
		respondWithError(c, err)
		return
	}
	weekdays, err := parseWeekdays(req.Weekdays)
	if err != nil {
		respondWithError(c, err)
		return
	}

	sessions, err := h.schedulingService.CreateRecurringSeries(c.Request.Context(), service.RecurringSeriesInput{
		Template: template,
		Pattern:  domain.RecurrencePattern(strings.ToLower(req.Pattern)),
		Weekdays: weekdays,
		EndDate:  req.EndDate.UTC(),
	})
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sessions)
}

// ListSessions godoc
// @Summary List sessions ordered by start time
// @Tags Sessions
// @Produce json
// @Security BearerAuth
// @Param status query string false "upcoming, live, completed or cancelled"
// @Param from query string false "RFC3339 lower bound (inclusive)"
// @Param to query string false "RFC3339 upper bound (exclusive)"
// @Success 200 {array} domain.Session
// @Router /sessions [get]
func (h *SessionHandler) ListSessions(c *gin.Context) {
	filter := service.ListFilter{Status: domain.SessionStatus(c.Query("status"))}
	for _, bound := range []struct {
		name   string
		target **time.Time
	}{{"from", &filter.From}, {"to", &filter.To}} {
		raw := c.Query(bound.name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			respondWithError(c, domain.NewValidationError(bound.name, "must be an RFC3339 timestamp"))
			return
		}
		*bound.target = &t
	}

	sessions, err := h.schedulingService.ListSessions(c.Request.Context(), filter)
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, sessions)
}

// GetSessionDetail godoc
// @Summary Get a session with its trainer and enrolled clients
// @Tags Sessions
// @Produce json
// @Security BearerAuth
// @Param sessionId path string true "Session ID"
// @Success 200 {object} service.SessionDetail
// @Failure 404 {object} ErrorResponse "Session not found"
// @Router /sessions/{sessionId} [get]
func (h *SessionHandler) GetSessionDetail(c *gin.Context) {
	sessionID, ok := parseObjectIDParam(c, "sessionId")
	if !ok {
		return
	}
	detail, err := h.schedulingService.GetSessionDetail(c.Request.Context(), sessionID)
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

// DeleteSession godoc
// @Summary Hard-delete a session and its enrollments (administrative)
// @Tags Sessions
// @Security BearerAuth
// @Param sessionId path string true "Session ID"
// @Success 204
// @Failure 404 {object} ErrorResponse "Session not found"
// @Router /sessions/{sessionId} [delete]
func (h *SessionHandler) DeleteSession(c *gin.Context) {
	sessionID, ok := parseObjectIDParam(c, "sessionId")
	if !ok {
		return
	}
	if err := h.schedulingService.DeleteSession(c.Request.Context(), sessionID); err != nil {
		respondWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// CancelSession godoc
// @Summary Cancel a session and release its clients
// @Description Idempotent: cancelling a cancelled session returns it unchanged.
// @Tags Sessions
// @Produce json
// @Security BearerAuth
// @Param sessionId path string true "Session ID"
// @Success 200 {object} domain.Session
// @Failure 409 {object} ErrorResponse "Session already completed"
// @Router /sessions/{sessionId}/cancel [post]
func (h *SessionHandler) CancelSession(c *gin.Context) {
	h.transition(c, h.schedulingService.CancelSession)
}

// MarkSessionLive godoc
// @Summary Mark an upcoming session as live
// @Tags Sessions
// @Produce json
// @Security BearerAuth
// @Param sessionId path string true "Session ID"
// @Success 200 {object} domain.Session
// @Failure 409 {object} ErrorResponse "Session is not upcoming"
// @Router /sessions/{sessionId}/live [post]
func (h *SessionHandler) MarkSessionLive(c *gin.Context) {
	h.transition(c, h.schedulingService.MarkSessionLive)
}

// CompleteSession godoc
// @Summary Complete a live session, keeping its attendance
// @Tags Sessions
// @Produce json
// @Security BearerAuth
// @Param sessionId path string true "Session ID"
// @Success 200 {object} domain.Session
// @Failure 409 {object} ErrorResponse "Session is not live"
// @Router /sessions/{sessionId}/complete [post]
func (h *SessionHandler) CompleteSession(c *gin.Context) {
	h.transition(c, h.schedulingService.CompleteSession)
}

func (h *SessionHandler) transition(c *gin.Context, op func(ctx context.Context, id primitive.ObjectID) (*domain.Session, error)) {
	sessionID, ok := parseObjectIDParam(c, "sessionId")
	if !ok {
		return
	}
	session, err := op(c.Request.Context(), sessionID)
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

// AssignTrainer godoc
// @Summary Assign or replace the session's trainer
// @Tags Sessions
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param sessionId path string true "Session ID"
// @Param trainer body AssignTrainerRequest true "Trainer"
// @Success 200 {object} domain.Session
// @Failure 404 {object} ErrorResponse "Session or trainer not found"
// @Failure 409 {object} ErrorResponse "Session is cancelled or completed"
// @Router /sessions/{sessionId}/trainer [put]
func (h *SessionHandler) AssignTrainer(c *gin.Context) {
	sessionID, ok := parseObjectIDParam(c, "sessionId")
	if !ok {
		return
	}
	var req AssignTrainerRequest
	if !bindJSON(c, &req) {
		return
	}
	trainerID, err := primitive.ObjectIDFromHex(req.TrainerID)
	if err != nil {
		respondWithError(c, domain.NewValidationError("trainerId", "must be a valid id"))
		return
	}

	session, err := h.schedulingService.AssignTrainer(c.Request.Context(), sessionID, trainerID)
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

// BatchAssignClients godoc
// @Summary Enroll up to 10 clients in a session
// @Description Partial success: rejected clients are listed in errors with a reason code.
// @Tags Sessions
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param sessionId path string true "Session ID"
// @Param clients body BatchAssignRequest true "Client IDs, in admission order"
// @Success 200 {object} BatchAssignResponse
// @Failure 409 {object} BatchAssignResponse "Session is cancelled or completed"
// @Failure 422 {object} ErrorResponse "More than 10 clients"
// @Router /sessions/{sessionId}/clients [post]
func (h *SessionHandler) BatchAssignClients(c *gin.Context) {
	sessionID, ok := parseObjectIDParam(c, "sessionId")
	if !ok {
		return
	}
	var req BatchAssignRequest
	if !bindJSON(c, &req) {
		return
	}
	clientIDs, err := parseObjectIDs("clientIds", req.ClientIDs)
	if err != nil {
		respondWithError(c, err)
		return
	}

	result, err := h.schedulingService.BatchAssignClients(c.Request.Context(), sessionID, clientIDs)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidState) && result != nil {
			c.JSON(http.StatusConflict, BatchAssignResponse{BatchResult: result, Error: err.Error(), Code: domain.Code(err)})
			return
		}
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, BatchAssignResponse{BatchResult: result})
}

// RemoveClient godoc
// @Summary Remove a client from a session
// @Tags Sessions
// @Security BearerAuth
// @Param sessionId path string true "Session ID"
// @Param clientId path string true "Client ID"
// @Success 204
// @Failure 404 {object} ErrorResponse "Client is not enrolled"
// @Router /sessions/{sessionId}/clients/{clientId} [delete]
func (h *SessionHandler) RemoveClient(c *gin.Context) {
	sessionID, ok := parseObjectIDParam(c, "sessionId")
	if !ok {
		return
	}
	clientID, ok := parseObjectIDParam(c, "clientId")
	if !ok {
		return
	}
	if err := h.schedulingService.RemoveClient(c.Request.Context(), sessionID, clientID); err != nil {
		respondWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListEligibleClients godoc
// @Summary Clients that may be offered for the session
// @Tags Sessions
// @Produce json
// @Security BearerAuth
// @Param sessionId path string true "Session ID"
// @Success 200 {array} eligibility.Candidate
// @Router /sessions/{sessionId}/eligible-clients [get]
func (h *SessionHandler) ListEligibleClients(c *gin.Context) {
	sessionID, ok := parseObjectIDParam(c, "sessionId")
	if !ok {
		return
	}
	candidates, err := h.schedulingService.ListEligibleClients(c.Request.Context(), sessionID)
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, candidates)
}

// CreateCoverUploadURL godoc
// @Summary Presigned URL for uploading a session cover image
// @Tags Sessions
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param sessionId path string true "Session ID"
// @Param upload body CoverUploadRequest true "Image content type"
// @Success 200 {object} service.CoverUpload
// @Failure 503 {object} ErrorResponse "Storage not configured"
// @Router /sessions/{sessionId}/cover-upload-url [post]
func (h *SessionHandler) CreateCoverUploadURL(c *gin.Context) {
	sessionID, ok := parseObjectIDParam(c, "sessionId")
	if !ok {
		return
	}
	var req CoverUploadRequest
	if !bindJSON(c, &req) {
		return
	}
	upload, err := h.schedulingService.CreateCoverUploadURL(c.Request.Context(), sessionID, req.ContentType)
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, upload)
}

// GetTrainerSessions godoc
// @Summary The authenticated trainer's schedule
// @Tags Trainer
// @Produce json
// @Security BearerAuth
// @Success 200 {array} domain.Session
// @Router /trainer/sessions [get]
func (h *SessionHandler) GetTrainerSessions(c *gin.Context) {
	trainerIDStr, err := getUserIDFromContext(c)
	if err != nil {
		abortWithError(c, http.StatusUnauthorized, "Unable to identify trainer from token.")
		return
	}
	trainerID, err := primitive.ObjectIDFromHex(trainerIDStr)
	if err != nil {
		abortWithError(c, http.StatusBadRequest, "Invalid trainer ID format in token.")
		return
	}

	sessions, err := h.schedulingService.ListTrainerSessions(c.Request.Context(), trainerID)
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, sessions)
}
