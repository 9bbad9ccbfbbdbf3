package presenter

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/darmiel/trustbroker/internal/core"
	"github.com/darmiel/trustbroker/internal/logging"
)

type ErrorResponse struct {
	Error string `json:"error"`

	// Code is the gRPC status code name of the failure, e.g. "PermissionDenied".
	Code          string `json:"code,omitempty"`
	CorrelationID string `json:"correlation_id"`
}

func JSON(w http.ResponseWriter, r *http.Request, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("failed to write json response")
	}
}

// Error writes an error response with an explicit message and status.
func Error(w http.ResponseWriter, r *http.Request, msg string, status int) {
	JSON(w, r, ErrorResponse{
		Error:         msg,
		CorrelationID: logging.CorrelationID(r.Context()),
	}, status)
}

// Err writes a classified error. Only the caller-safe message of a core.Error is exposed,
// wrapped causes are never part of the response.
func Err(w http.ResponseWriter, r *http.Request, err error) {
	kind := core.KindOf(err)
	msg := "Internal error"
	var e *core.Error
	if errors.As(err, &e) {
		msg = e.Message
	}
	if kind == core.KindUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	JSON(w, r, ErrorResponse{
		Error:         msg,
		Code:          kind.GRPCCode().String(),
		CorrelationID: logging.CorrelationID(r.Context()),
	}, kind.HTTPStatus())
}
