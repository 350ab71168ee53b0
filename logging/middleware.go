package logging

import (
	"context"
	"net/http"
	"reflect"
	"time"

	"github.com/rush86999/atomagent/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const stackSize = 5

// Middleware returns HTTP middleware that gives every request its own logging
// scope, recovers panics and writes one log line when the request completes.
// Fields added with Track during the request show up on that line.
func Middleware(root Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger := root.Named("http").With("http.path", r.URL.Path)
			if z, ok := logger.(*ZapLogger); ok {
				// Only panics get zap's own stack, errors carry theirs as a field.
				logger = &ZapLogger{z: z.z.Desugar().WithOptions(
					zap.AddStacktrace(zapcore.PanicLevel),
				).Sugar()}
			}
			ctx := With(r.Context(), logger)
			// The mux records the matched pattern on this request.
			served := r.WithContext(ctx)

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()

			defer func() {
				if p := recover(); p != nil {
					err := errors.FromPanic(p, 2)
					Track(ctx, "error.panic", true)
					TrackError(ctx, err)
					if !rec.wroteHeader {
						http.Error(rec, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
					}
				}

				l := FromContext(ctx)
				fields := []interface{}{
					"http.method", r.Method,
					"http.route", served.Pattern,
					"http.status", rec.status,
					"http.duration", time.Since(start).String(),
				}
				switch {
				case rec.status >= 500:
					l.Errorw("request failed", fields...)
				case rec.status >= 400:
					l.Warnw("request rejected", fields...)
				default:
					l.Infow("request finished", fields...)
				}
			}()

			next.ServeHTTP(rec, served)
		})
	}
}

// TrackError attaches error details to the current logging scope.
func TrackError(ctx context.Context, err error) {
	c, ok := ctx.Value(ctxkey{}).(*ctxkey)
	if !ok || err == nil {
		return
	}
	c.logger = c.logger.
		With("error.type", reflect.TypeOf(err).String()).
		With("error.message", err.Error()).
		With("error.http_status", errors.HTTPStatusCode(err))

	var e *errors.Error
	if errors.As(err, &e) {
		c.logger = c.logger.
			With("error.stack_trace", e.MinimalStack(0, stackSize)).
			With("error.original_type", e.TypeName())
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (s *statusRecorder) WriteHeader(code int) {
	if !s.wroteHeader {
		s.status = code
		s.wroteHeader = true
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	s.wroteHeader = true
	return s.ResponseWriter.Write(b)
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}
