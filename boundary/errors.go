package boundary

import (
	"errors"
	"net/http"

	"github.com/railsync/railsync/docstore"
)

var (
	// ErrBoundaryViolation is returned when a caller attempts an operation
	// its role is not granted. Nothing is read or written in that case.
	ErrBoundaryViolation = errors.New("boundary violation")
	ErrInvalidPatch      = errors.New("invalid patch")
	ErrInvalidCaller     = errors.New("invalid caller")
	ErrUnknownDocument   = errors.New("unknown document")
	ErrRateLimited       = errors.New("rate limited")
)

// Headers used by the router.
const (
	ErrorHeader     = "X-Railsync-Error"
	RequestIDHeader = "X-Request-ID"
)

// Error codes carried in error responses.
const (
	CodeBoundaryViolation = "boundary_violation"
	CodeInvalidPatch      = "invalid_patch"
	CodeInvalidRequest    = "invalid_request"
	CodeUnknownDocument   = "unknown_document"
	CodeCorrupted         = "document_corrupted"
	CodeReadFailed        = "read_failed"
	CodeWriteFailed       = "write_failed"
	CodeRateLimited       = "rate_limited"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// classify maps an error returned by Service to its response status and code.
func classify(err error, write bool) (int, string) {
	switch {
	case errors.Is(err, ErrBoundaryViolation):
		return http.StatusForbidden, CodeBoundaryViolation
	case errors.Is(err, ErrInvalidPatch), errors.Is(err, docstore.ErrInvalidDocument):
		return http.StatusBadRequest, CodeInvalidPatch
	case errors.Is(err, ErrInvalidCaller), errors.Is(err, docstore.ErrInvalidName):
		return http.StatusBadRequest, CodeInvalidRequest
	case errors.Is(err, ErrUnknownDocument):
		return http.StatusNotFound, CodeUnknownDocument
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, CodeRateLimited
	case errors.Is(err, docstore.ErrCorrupted):
		return http.StatusInternalServerError, CodeCorrupted
	case write:
		return http.StatusInternalServerError, CodeWriteFailed
	}
	return http.StatusInternalServerError, CodeReadFailed
}

// CodeError returns the sentinel error matching an error code received from
// a router, or nil if the code does not name one.
func CodeError(code string) error {
	switch code {
	case CodeBoundaryViolation:
		return ErrBoundaryViolation
	case CodeInvalidPatch:
		return ErrInvalidPatch
	case CodeInvalidRequest:
		return ErrInvalidCaller
	case CodeUnknownDocument:
		return ErrUnknownDocument
	case CodeCorrupted:
		return docstore.ErrCorrupted
	case CodeRateLimited:
		return ErrRateLimited
	}
	return nil
}
