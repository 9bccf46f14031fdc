// Package envelope implements the single error response shape every
// non-2xx HTTP response from either process uses.
package envelope

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Error is the body of the "error" field in every failure response.
type Error struct {
	Code      int            `json:"code"`
	Message   string         `json:"message"`
	Timestamp string         `json:"timestamp"`
	Path      string         `json:"path"`
	Details   map[string]any `json:"details,omitempty"`
}

// Envelope wraps Error the way every failure response body must.
type Envelope struct {
	Error Error `json:"error"`
}

// New builds an Envelope with the current time stamped in ISO-8601.
func New(code int, message, path string, details map[string]any) Envelope {
	return Envelope{Error: Error{
		Code:      code,
		Message:   message,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Path:      path,
		Details:   details,
	}}
}

// Abort writes the envelope and stops the gin handler chain.
func Abort(c *gin.Context, code int, message string, details map[string]any) {
	c.AbortWithStatusJSON(code, New(code, message, c.Request.URL.Path, details))
}

// Kind enumerates the conceptual error kinds from the failure-surface
// design; each maps to a fixed HTTP status.
type Kind int

const (
	KindValidation Kind = iota
	KindSecurityRejection
	KindNotFound
	KindGone
	KindMethodNotAllowed
	KindAdmissionRefused
	KindRuntimeFailure
	KindDependencyUnavailable
	KindInternal
)

// StatusFor returns the HTTP status code bound to a Kind.
func StatusFor(k Kind) int {
	switch k {
	case KindValidation, KindSecurityRejection:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindGone:
		return http.StatusGone
	case KindMethodNotAllowed:
		return http.StatusMethodNotAllowed
	case KindAdmissionRefused, KindDependencyUnavailable:
		return http.StatusServiceUnavailable
	case KindRuntimeFailure, KindInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// APIError is a typed error that carries its own HTTP status and a
// client-safe message, kept separate from internal diagnostic detail.
type APIError struct {
	Err       error
	ClientMsg string
	Kind      Kind
	Details   map[string]any
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.ClientMsg
}

func (e *APIError) Unwrap() error { return e.Err }

// Respond writes the APIError as an envelope. In debug mode the
// underlying error message is exposed as details.error; otherwise only
// ClientMsg is surfaced.
func (e *APIError) Respond(c *gin.Context, debug bool) {
	details := e.Details
	if debug && e.Err != nil {
		if details == nil {
			details = map[string]any{}
		}
		details["error"] = e.Err.Error()
	}
	Abort(c, StatusFor(e.Kind), e.ClientMsg, details)
}
