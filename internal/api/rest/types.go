package rest

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/nnipa/authz-service/internal/autherr"
)

// errorBody is the envelope every error response carries.
type errorBody struct {
	Error   string                 `json:"error"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// writeError renders a domain error with its mapped status code.
func writeError(c *gin.Context, err error) {
	c.JSON(autherr.HTTPStatus(err), errorBody{
		Error:   autherr.KindOf(err).String(),
		Message: err.Error(),
	})
}

// bindingError renders a request-body binding failure as a validation error.
func bindingError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, errorBody{
		Error:   autherr.KindValidation.String(),
		Message: fmt.Sprintf("invalid request: %v", err),
	})
}

// pathID parses a UUID path parameter, writing the error response itself
// when the value is malformed.
func pathID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		writeError(c, autherr.Validation("invalid %s: %v", name, err))
		return uuid.Nil, false
	}
	return id, true
}

// queryID parses a required UUID query parameter.
func queryID(c *gin.Context, name string) (uuid.UUID, bool) {
	raw := c.Query(name)
	if raw == "" {
		writeError(c, autherr.Validation("%s is required", name))
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		writeError(c, autherr.Validation("invalid %s: %v", name, err))
		return uuid.Nil, false
	}
	return id, true
}

// optionalQueryID parses a UUID query parameter when present. The bool is
// false only when a value is present and malformed.
func optionalQueryID(c *gin.Context, name string) (*uuid.UUID, bool) {
	raw := c.Query(name)
	if raw == "" {
		return nil, true
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		writeError(c, autherr.Validation("invalid %s: %v", name, err))
		return nil, false
	}
	return &id, true
}

func queryBool(c *gin.Context, name string) bool {
	v, _ := strconv.ParseBool(c.Query(name))
	return v
}

func queryInt(c *gin.Context, name string, def int) int {
	raw := c.Query(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

// actor resolves the audit attribution for a mutation: the authenticated
// caller when the guard established one, otherwise the value the request
// body supplied, otherwise "api".
func actor(c *gin.Context, fallback string) string {
	if uid, _, ok := identity(c); ok && uid != uuid.Nil {
		return uid.String()
	}
	if fallback != "" {
		return fallback
	}
	return "api"
}
