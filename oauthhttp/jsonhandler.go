package oauthhttp

import (
	"encoding/json"
	"net/http"

	"github.com/rush86999/atomagent/errors"
	"github.com/rush86999/atomagent/logging"
	"github.com/rush86999/atomagent/providers"
	"github.com/rush86999/atomagent/tokenstore"
)

// JSONHandler returns a value that is encoded as the JSON response body.
type JSONHandler func(r *http.Request) (any, error)

// ErrorBody describes a failed request.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse is written for handler errors.
type ErrorResponse struct {
	OK    bool      `json:"ok"`
	Error ErrorBody `json:"error"`
}

func wrapJSONHandler(fn JSONHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp, err := fn(r)
		if err != nil {
			status := errors.HTTPStatusCode(err)
			if status >= http.StatusInternalServerError {
				logging.Errorw(r.Context(), "oauthhttp: handler error", "error", err,
					"req.method", r.Method, "req.url", r.URL.Path)
			} else {
				logging.Warnw(r.Context(), "oauthhttp: request rejected", "error", err,
					"req.method", r.Method, "req.url", r.URL.Path)
			}
			writeJSON(w, status, ErrorResponse{Error: ErrorBody{Code: errorCode(err), Message: errors.PublicMessage(err)}})
			return
		}
		writeJSON(w, http.StatusOK, resp)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "error encoding response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(b)
}

// errorCode names the error kind for clients.
func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrNoIdentity), errors.Is(err, ErrInvalidIdentity), errors.Is(err, tokenstore.ErrAuthRequired):
		return "AUTH_REQUIRED"
	case errors.Is(err, providers.ErrUnknownProvider):
		return "UNKNOWN_INTEGRATION"
	case errors.Is(err, tokenstore.ErrConfig), errors.Is(err, providers.ErrNotConfigured), errors.Is(err, ErrNoStateSecret):
		return "CONFIG_ERROR"
	case errors.Is(err, tokenstore.ErrNetwork):
		return "NETWORK_ERROR"
	case errors.Is(err, tokenstore.ErrBackend):
		return "BACKEND_ERROR"
	default:
		return "INTERNAL_ERROR"
	}
}
