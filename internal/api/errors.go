package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/medtwin-core/internal/devicecmd"
	"github.com/nerrad567/medtwin-core/internal/docstore"
	"github.com/nerrad567/medtwin-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/medtwin-core/internal/notify"
	"github.com/nerrad567/medtwin-core/internal/pairing"
	"github.com/nerrad567/medtwin-core/internal/replica"
	"github.com/nerrad567/medtwin-core/internal/service"
	"github.com/nerrad567/medtwin-core/internal/twin"
)

// Error codes.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeValidation   = "validation_error"
	ErrCodeNotFound     = "not_found"
	ErrCodeUnauthorized = "unauthorised"
	ErrCodeForbidden    = "forbidden"
	ErrCodeConflict     = "conflict"
	ErrCodeTimeout      = "timeout"
	ErrCodeTransport    = "transport_error"
	ErrCodeUnavailable  = "unavailable"
	ErrCodeInternal     = "internal_error"
)

// ErrorBody is the payload of every error response.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes one failure.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorBody{Error: ErrorDetail{Code: code, Message: message}})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// errorMapping pairs sentinel errors with an HTTP status and code.
var errorMapping = []struct {
	errs   []error
	status int
	code   string
}{
	{
		[]error{twin.ErrTwinNotFound, twin.ErrReplicaNotFound, twin.ErrServiceNotFound, replica.ErrNotFound, docstore.ErrNotFound},
		http.StatusNotFound, ErrCodeNotFound,
	},
	{
		[]error{twin.ErrUnauthorized},
		http.StatusForbidden, ErrCodeForbidden,
	},
	{
		[]error{twin.ErrNameConflict, pairing.ErrConflict, replica.ErrExists, docstore.ErrConflict},
		http.StatusConflict, ErrCodeConflict,
	},
	{
		[]error{pairing.ErrTimeout},
		http.StatusRequestTimeout, ErrCodeTimeout,
	},
	{
		[]error{
			twin.ErrInvalidName, twin.ErrNotExecutable, replica.ErrInvalidWindow, replica.ErrInvalidID,
			replica.ErrInvalidKind, replica.ErrInvalidReplica, service.ErrInvalidLimits,
			pairing.ErrInvalidRequest, devicecmd.ErrInvalidDevice, devicecmd.ErrInvalidText,
		},
		http.StatusBadRequest, ErrCodeValidation,
	},
	{
		[]error{notify.ErrDelivery, notify.ErrNoRecipients, mqtt.ErrPublishFailed, mqtt.ErrNotConnected},
		http.StatusBadGateway, ErrCodeTransport,
	},
}

// statusFor maps a domain error to its HTTP status and error code.
func statusFor(err error) (int, string) {
	for _, m := range errorMapping {
		for _, target := range m.errs {
			if errors.Is(err, target) {
				return m.status, m.code
			}
		}
	}
	return http.StatusInternalServerError, ErrCodeInternal
}

// writeDomainError writes err using statusFor. Internal errors are
// logged and reported without detail.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
			"request_id", requestIDFrom(r.Context()),
		)
		writeInternalError(w, "internal server error")
		return
	}
	writeError(w, status, code, err.Error())
}

// decodeJSON reads a JSON body into v, rejecting unknown fields.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
