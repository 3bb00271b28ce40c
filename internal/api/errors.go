package api

import (
	"alcyxob/fitness-sessions/internal/domain"
	"alcyxob/fitness-sessions/internal/service"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ErrorResponse is the body of every non-2xx reply produced by a handler.
type ErrorResponse struct {
	Error  string            `json:"error"`
	Code   string            `json:"code"`
	Fields map[string]string `json:"fields,omitempty"`
}

// statusFor maps the scheduling error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidState),
		errors.Is(err, domain.ErrCapacityExceeded),
		errors.Is(err, domain.ErrAlreadyAssigned),
		errors.Is(err, domain.ErrExclusivityViolation):
		return http.StatusConflict
	case errors.Is(err, domain.ErrBatchLimitExceeded):
		return http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrCoverStorageDisabled):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func newErrorResponse(err error) (int, ErrorResponse) {
	status := statusFor(err)
	resp := ErrorResponse{Error: err.Error(), Code: domain.Code(err)}

	var validation *domain.ValidationError
	if errors.As(err, &validation) {
		resp.Fields = validation.FieldErrors
	}
	if status == http.StatusServiceUnavailable {
		resp.Code = "storage_disabled"
	}
	if status == http.StatusInternalServerError {
		resp.Error = "Internal server error"
	}
	return status, resp
}

// respondWithError writes the mapped error and logs anything unexpected.
func respondWithError(c *gin.Context, err error) {
	status, resp := newErrorResponse(err)
	if status == http.StatusInternalServerError {
		slog.ErrorContext(c.Request.Context(), "request failed",
			"method", c.Request.Method, "path", c.FullPath(), "request_id", c.GetString(ContextRequestIDKey), "error", err)
	}
	c.AbortWithStatusJSON(status, resp)
}

// parseObjectIDParam reads a hex ObjectID path parameter, replying 400 when malformed.
func parseObjectIDParam(c *gin.Context, name string) (primitive.ObjectID, bool) {
	id, err := primitive.ObjectIDFromHex(c.Param(name))
	if err != nil {
		respondWithError(c, domain.NewValidationError(name, "must be a valid id"))
		return primitive.NilObjectID, false
	}
	return id, true
}

func parseObjectIDs(field string, raw []string) ([]primitive.ObjectID, error) {
	ids := make([]primitive.ObjectID, len(raw))
	for i, s := range raw {
		id, err := primitive.ObjectIDFromHex(s)
		if err != nil {
			return nil, domain.NewValidationError(field, "contains an invalid id: "+s)
		}
		ids[i] = id
	}
	return ids, nil
}
