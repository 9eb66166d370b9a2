package middleware

import (
	"context"
	"errors"
	"regexp"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// DefaultRequestIDHeader is the HTTP header carrying the request identifier when no
// custom header name is provided.
const DefaultRequestIDHeader = "X-Request-Id"

// requestIDContextKey is an unexported key type to avoid collisions in the Gin context store.
type requestIDContextKey string

const requestIDKey requestIDContextKey = "requestID"

// requestIDRegex bounds caller supplied identifiers to a safe charset and length.
var requestIDRegex = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// RequestIDConfig captures the knobs for request id handling.
type RequestIDConfig struct {
	// HeaderName is the HTTP header inspected for the request identifier. Defaults
	// to DefaultRequestIDHeader when empty.
	HeaderName string
}

// RequestID returns a Gin middleware that reuses the caller's request identifier
// or generates one, echoes it on the response and stores it for downstream handlers.
// A malformed identifier is replaced rather than rejected.
func RequestID(cfg RequestIDConfig) gin.HandlerFunc {
	headerName := cfg.HeaderName
	if headerName == "" {
		headerName = DefaultRequestIDHeader
	}

	return func(c *gin.Context) {
		id := c.GetHeader(headerName)
		if !requestIDRegex.MatchString(id) {
			id = uuid.NewString()
		}

		c.Set(string(requestIDKey), id)
		c.Writer.Header().Set(headerName, id)
		ctx := context.WithValue(c.Request.Context(), requestIDKey, id)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RequestIDFromGinContext extracts the identifier previously stored by RequestID.
func RequestIDFromGinContext(c *gin.Context) (string, error) {
	if value, ok := c.Get(string(requestIDKey)); ok {
		if id, ok := value.(string); ok && id != "" {
			return id, nil
		}
	}
	return "", errors.New("request id not found in context")
}

// RequestIDFromContext extracts the identifier from a standard context. It is
// useful in service layers where only context.Context is available.
func RequestIDFromContext(ctx context.Context) (string, error) {
	if value := ctx.Value(requestIDKey); value != nil {
		if id, ok := value.(string); ok && id != "" {
			return id, nil
		}
	}
	return "", errors.New("request id not found in context")
}
