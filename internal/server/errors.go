package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/catalog/internal/catalog/domain"
)

// ErrRouteNotFound answers requests outside the catalog API.
var ErrRouteNotFound = errors.New("route_not_found")

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v *ValidationErrors) Error() string {
	if len(v.Errors) == 0 {
		return "validation error"
	}
	return "validation error: " + v.Errors[0].Field + " " + v.Errors[0].Code
}

func invalidExternalID() *ValidationErrors {
	return &ValidationErrors{Errors: []ValidationError{{
		Field:   "external_id",
		Code:    "invalid_external_id",
		Message: "external_id must be a positive integer",
	}}}
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

type errorMapping struct {
	target  error
	status  int
	payload errorPayload
}

// errorTable is checked in order with errors.Is. Anything unmatched is an
// internal error whose message never reaches the client.
var errorTable = []errorMapping{
	{domain.ErrNotFound, http.StatusNotFound, errorPayload{Type: "not_found", Message: "catalog item not found"}},
	{ErrRouteNotFound, http.StatusNotFound, errorPayload{Type: "not_found", Message: "not found"}},
}

var internalError = errorPayload{Type: "internal_error", Message: "internal server error"}

// ErrorHandlingMiddleware renders the last handler error unless a response
// was already written.
func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		last := c.Errors.Last()
		if last == nil || c.Writer.Written() {
			return
		}
		status, payload := mapError(last.Err)
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, internalError
	}
	if errors.Is(err, domain.ErrInvalidExternalID) {
		err = invalidExternalID()
	}
	var vErr *ValidationErrors
	if errors.As(err, &vErr) {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}
	for _, m := range errorTable {
		if errors.Is(err, m.target) {
			return m.status, m.payload
		}
	}
	return http.StatusInternalServerError, internalError
}

// classifyErrorForLog returns the error type and code logged per request.
func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	if len(payload.Errors) > 0 {
		return payload.Type, payload.Errors[0].Code
	}
	return payload.Type, payload.Type
}
