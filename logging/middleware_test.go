package logging

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rush86999/atomagent/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/grpc/codes"
)

func observedMiddleware(h http.Handler) (http.Handler, *observer.ObservedLogs) {
	core, obs := observer.New(zap.DebugLevel)
	return Middleware(NewZapLogger(zap.New(core)))(h), obs
}

func TestMiddlewareLogsCompletion(t *testing.T) {
	h, obs := observedMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		Track(r.Context(), "user_id", "u1")
		w.WriteHeader(http.StatusAccepted)
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/status", nil))

	assert.Equal(t, http.StatusAccepted, rr.Code)
	require.Equal(t, 1, obs.Len())
	entry := obs.All()[0]
	assert.Equal(t, "request finished", entry.Message)
	assert.Equal(t, "http", entry.LoggerName)
	assert.Contains(t, entry.Context, zap.String("http.path", "/status"))
	assert.Contains(t, entry.Context, zap.String("user_id", "u1"))
	assert.Contains(t, entry.Context, zap.Int("http.status", http.StatusAccepted))
}

func TestMiddlewareLogsRoutePattern(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/atom/auth/{integration}/status", func(w http.ResponseWriter, r *http.Request) {
		Track(r.Context(), "integration", r.PathValue("integration"))
	})
	h, obs := observedMiddleware(mux)

	for _, name := range []string{"zoom", "gmail"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/atom/auth/"+name+"/status", nil))
	}

	require.Equal(t, 2, obs.Len())
	for i, name := range []string{"zoom", "gmail"} {
		entry := obs.All()[i]
		assert.Equal(t, "http", entry.LoggerName)
		assert.Contains(t, entry.Context, zap.String("http.route", "GET /api/atom/auth/{integration}/status"))
		assert.Contains(t, entry.Context, zap.String("http.path", "/api/atom/auth/"+name+"/status"))
		assert.Contains(t, entry.Context, zap.String("integration", name))
	}
}

func TestMiddlewareTracksErrors(t *testing.T) {
	h, obs := observedMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		TrackError(r.Context(), errors.NewC("nope", codes.Unauthenticated))
		w.WriteHeader(http.StatusUnauthorized)
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil))

	require.Equal(t, 1, obs.Len())
	entry := obs.All()[0]
	assert.Equal(t, "request rejected", entry.Message)
	assert.Contains(t, entry.Context, zap.String("error.message", "nope"))
	assert.Contains(t, entry.Context, zap.Int("error.http_status", http.StatusUnauthorized))
}

func TestMiddlewareRecoversPanics(t *testing.T) {
	h, obs := observedMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rr := httptest.NewRecorder()
	assert.NotPanics(t, func() {
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/panic", nil))
	})

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	require.Equal(t, 1, obs.Len())
	entry := obs.All()[0]
	assert.Equal(t, "request failed", entry.Message)
	assert.Contains(t, entry.Context, zap.Bool("error.panic", true))
	assert.Contains(t, entry.Context, zap.String("error.original_type", "panic"))
}
