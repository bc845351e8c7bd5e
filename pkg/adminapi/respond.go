package adminapi

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/cuemby/stark/pkg/starkerr"
)

// respond writes data as a JSON response with the given status code.
func respond(w http.ResponseWriter, logger zerolog.Logger, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error().Err(err).Msg("failed to encode response")
	}
}

// errorResponse is the standard JSON error envelope.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func respondError(w http.ResponseWriter, logger zerolog.Logger, status int, kind string, message string) {
	respond(w, logger, status, errorResponse{Error: kind, Message: message})
}

// respondErr maps a starkerr.Kind (or an untyped error) to the HTTP status
// §7's taxonomy implies and writes the error envelope.
func respondErr(w http.ResponseWriter, logger zerolog.Logger, op string, err error) {
	kind, ok := starkerr.KindOf(err)
	if !ok {
		respondError(w, logger, http.StatusInternalServerError, string(starkerr.KindInternal), err.Error())
		return
	}
	status := http.StatusInternalServerError
	switch kind {
	case starkerr.KindNotFound:
		status = http.StatusNotFound
	case starkerr.KindAuth:
		status = http.StatusUnauthorized
	case starkerr.KindPolicyDenied:
		status = http.StatusForbidden
	case starkerr.KindConflict:
		status = http.StatusConflict
	case starkerr.KindInvalid:
		status = http.StatusBadRequest
	case starkerr.KindResourceExhausted:
		status = http.StatusTooManyRequests
	case starkerr.KindTimeout, starkerr.KindCancelled:
		status = http.StatusGatewayTimeout
	}
	logger.Error().Str("op", op).Str("kind", string(kind)).Err(err).Msg("admin request failed")
	respondError(w, logger, status, string(kind), err.Error())
}

// notFound wraps a raw StateStore lookup error as a starkerr.NotFound, since
// the store itself reports misses as plain errors (it has no notion of the
// taxonomy its callers enforce).
func notFound(op, what string, err error) error {
	if err == nil {
		return nil
	}
	return starkerr.NotFound(op, what+" not found: "+err.Error())
}

func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return starkerr.Invalid("adminapi.decode", "empty request body")
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return starkerr.Invalid("adminapi.decode", "malformed request body: "+err.Error())
	}
	return nil
}
