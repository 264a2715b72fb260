package problems

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"
)

// Base returns the base URL for problem type identifiers.
// Order of precedence:
// 1. PROBLEM_BASE_URL (exact base, e.g. https://mydomain.com/problems)
// 2. BASE_PUBLIC_URL + "/problems" (if set)
// 3. https://example.com/problems (fallback)
func Base() string {
	if b := os.Getenv("PROBLEM_BASE_URL"); b != "" {
		return strings.TrimRight(b, "/")
	}
	if b := os.Getenv("BASE_PUBLIC_URL"); b != "" {
		return strings.TrimRight(b, "/") + "/problems"
	}
	return "https://example.com/problems"
}

// Type builds a full problem type URL for the given slug.
func Type(slug string) string { return Base() + "/" + slug }

// Kind classifies a failure; each kind maps to one HTTP status and one wire code.
type Kind string

const (
	InvalidRequest       Kind = "invalid_request"
	UnsupportedGrantType Kind = "unsupported_grant_type"
	InvalidClient        Kind = "invalid_client"
	Unauthorized         Kind = "unauthorized"
	InvalidToken         Kind = "invalid_token"
	Forbidden            Kind = "forbidden"
	NotFound             Kind = "not_found"
	MethodNotAllowed     Kind = "method_not_allowed"
	Conflict             Kind = "conflict"
	ServerError          Kind = "server_error"
	DeploymentFailed     Kind = "deployment_failed"
)

var statusByKind = map[Kind]int{
	InvalidRequest:       http.StatusBadRequest,
	UnsupportedGrantType: http.StatusBadRequest,
	InvalidClient:        http.StatusUnauthorized,
	Unauthorized:         http.StatusUnauthorized,
	InvalidToken:         http.StatusUnauthorized,
	Forbidden:            http.StatusForbidden,
	NotFound:             http.StatusNotFound,
	MethodNotAllowed:     http.StatusMethodNotAllowed,
	Conflict:             http.StatusConflict,
	ServerError:          http.StatusInternalServerError,
	DeploymentFailed:     http.StatusInternalServerError,
}

// Status returns the HTTP status for the kind (500 for unknown kinds).
func (k Kind) Status() int {
	if s, ok := statusByKind[k]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// Code is the OAuth-style error code written to clients. A missing bearer
// header is reported as invalid_request, matching RFC 6750.
func (k Kind) Code() string {
	if k == Unauthorized {
		return string(InvalidRequest)
	}
	return string(k)
}

// Error is a classified, client-safe failure. Cause is logged, never written.
type Error struct {
	Kind        Kind
	Description string
	Cause       error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Description, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Description)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a classified error.
func New(kind Kind, description string) *Error {
	return &Error{Kind: kind, Description: description}
}

// Wrap classifies an internal error while keeping it for logs.
func Wrap(kind Kind, description string, cause error) *Error {
	return &Error{Kind: kind, Description: description, Cause: cause}
}

// As extracts a classified error, treating anything else as a server error.
func As(err error) *Error {
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	return Wrap(ServerError, "internal server error", err)
}

// Envelope is the uniform JSON error body.
type Envelope struct {
	Error       string `json:"error"`
	Description string `json:"error_description"`
	Timestamp   string `json:"timestamp"`
	Type        string `json:"type"`
}

// Write renders err as the JSON error envelope with the kind's status.
func Write(w http.ResponseWriter, err error) *Error {
	pe := As(err)
	w.Header().Set("Content-Type", "application/json")
	switch pe.Kind {
	case Unauthorized:
		// no credentials were sent, so the challenge carries no error code
		w.Header().Set("WWW-Authenticate", "Bearer")
	case InvalidToken:
		w.Header().Set("WWW-Authenticate", `Bearer error="`+pe.Kind.Code()+`"`)
	}
	w.WriteHeader(pe.Kind.Status())
	_ = json.NewEncoder(w).Encode(Envelope{
		Error:       pe.Kind.Code(),
		Description: pe.Description,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		Type:        Type(strings.ReplaceAll(string(pe.Kind), "_", "-")),
	})
	return pe
}
