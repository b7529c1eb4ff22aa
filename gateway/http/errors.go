package http

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/c360/certmgr/errors"
	"github.com/c360/certmgr/pkg/sslcerts"
)

const requestIDHeader = "X-Request-ID"

// requestID keeps a caller-supplied request ID or mints one.
func requestID(r *http.Request) string {
	if id := r.Header.Get(requestIDHeader); id != "" {
		return id
	}
	return uuid.NewString()
}

// knownErrors map manager sentinels to responses, first match wins.
var knownErrors = []struct {
	err    error
	status int
	msg    string
}{
	{errors.ErrNotInitialized, http.StatusServiceUnavailable, "certificate manager not initialized"},
	{errors.ErrSweepInProgress, http.StatusConflict, "certificate check already running"},
	{errors.ErrUnknownEntity, http.StatusNotFound, "unknown certificate or key name"},
	{errors.ErrMissingQualifier, http.StatusBadRequest, "target is required for this name"},
}

// apiError turns err into a status code and a message safe to show callers.
// Certificate validation failures describe the caller's own input and are
// passed through; store keys, subjects and wrapped internals never are.
func apiError(err error) (int, string) {
	if err == nil {
		return http.StatusInternalServerError, "internal server error"
	}

	var ve *sslcerts.ValidationError
	if errors.As(err, &ve) {
		return http.StatusBadRequest, "invalid certificate: " + ve.Error()
	}
	for _, k := range knownErrors {
		if errors.Is(err, k.err) {
			return k.status, k.msg
		}
	}

	msg := err.Error()
	switch {
	case errors.IsInvalid(err):
		return http.StatusBadRequest, "invalid request"
	case errors.IsFatal(err):
		return http.StatusInternalServerError, "internal server error"
	case errors.IsTransient(err) && strings.Contains(msg, "timeout"):
		return http.StatusGatewayTimeout, "request timeout"
	case errors.IsTransient(err):
		return http.StatusServiceUnavailable, "service temporarily unavailable"
	case strings.Contains(msg, "not found"):
		return http.StatusNotFound, "resource not found"
	}
	return http.StatusInternalServerError, "internal server error"
}

type errorBody struct {
	Error  string `json:"error"`
	Status int    `json:"status"`
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorBody{Error: message, Status: status})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		data, _ = json.Marshal(errorBody{Error: "internal server error", Status: status})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}
