package serverops

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/js402/ollamagate/libs/libdb"
)

// Sentinel errors for the gateway's interception paths. Errors handed to Error
// get their status code from mapErrorToStatus. The gateway's 429 and 507
// responses and the 404 for a queue-delete miss carry extra fields, and their
// handlers write those status codes directly with Encode.
var (
	// ErrMissingModelName indicates a request body without a usable model name.
	ErrMissingModelName = errors.New("serverops: model name required")
	// ErrQuotaExceeded indicates the requester hit the daily per-IP cap.
	ErrQuotaExceeded = errors.New("serverops: rate limit exceeded")
	// ErrInsufficientStorage indicates the disk guard reported critical usage.
	ErrInsufficientStorage = errors.New("serverops: insufficient storage")
	// ErrBackendUnavailable indicates the proxied daemon could not be reached.
	ErrBackendUnavailable = errors.New("serverops: backend unavailable")
)

type Operation uint16

const (
	CreateOperation Operation = iota
	GetOperation
	UpdateOperation
	DeleteOperation
	ListOperation
	ProxyOperation
	ServerOperation
)

// mapErrorToStatus maps known error types to HTTP status codes.
func mapErrorToStatus(op Operation, err error) int {
	if errors.Is(err, ErrDecodeInvalidJSON) || errors.Is(err, ErrMissingModelName) {
		return http.StatusBadRequest // 400
	}
	if errors.Is(err, ErrQuotaExceeded) {
		return http.StatusTooManyRequests // 429
	}
	if errors.Is(err, ErrInsufficientStorage) {
		return http.StatusInsufficientStorage // 507
	}
	if errors.Is(err, ErrBackendUnavailable) {
		return http.StatusBadGateway // 502
	}

	if errors.Is(err, libdb.ErrNotFound) {
		return http.StatusNotFound // 404
	}
	// Constraint violations mean the client sent conflicting data.
	if errors.Is(err, libdb.ErrUniqueViolation) ||
		errors.Is(err, libdb.ErrForeignKeyViolation) ||
		errors.Is(err, libdb.ErrNotNullViolation) ||
		errors.Is(err, libdb.ErrCheckViolation) ||
		errors.Is(err, libdb.ErrConstraintViolation) {
		return http.StatusConflict // 409
	}
	if errors.Is(err, libdb.ErrLockNotAvailable) ||
		errors.Is(err, libdb.ErrQueryCanceled) {
		return http.StatusConflict // 409
	}
	if errors.Is(err, ErrEncodeInvalidJSON) {
		fmt.Printf("SERVER ERROR: Failed to encode JSON response: %v\n", err)
		return http.StatusInternalServerError
	}

	// Fallbacks when no specific error matched above.
	switch op {
	case GetOperation, ListOperation, DeleteOperation:
		return http.StatusNotFound // 404
	case ProxyOperation:
		return http.StatusBadGateway // 502
	default:
		return http.StatusInternalServerError // 500
	}
}

// Error sends a JSON-encoded error response with an appropriate status code.
func Error(w http.ResponseWriter, r *http.Request, err error, op Operation) error {
	status := mapErrorToStatus(op, err)

	if status == http.StatusNoContent {
		w.WriteHeader(status)
		return nil
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	response := map[string]string{"error": err.Error()}
	encodeErr := json.NewEncoder(w).Encode(response)
	if encodeErr != nil {
		fmt.Printf("SERVER ERROR: Failed to encode error JSON response after writing header: %v (Original error: %v)\n", encodeErr, err)
		return fmt.Errorf("encode json: %w (original error: %v)", encodeErr, err)
	}

	return nil
}
