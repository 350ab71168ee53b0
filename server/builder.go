package server

import (
	"context"
	"crypto/tls"
	"net/http"
	"strings"

	"github.com/NYTimes/gziphandler"
	"github.com/rush86999/atomagent/logging"
)

// ServerOption customizes a Server.
type ServerOption func(*builder)

type handler struct {
	pattern string
	handler http.Handler
}

// WithHost sets the host or IP to bind to.
func WithHost(host string) ServerOption {
	return func(b *builder) {
		b.host = host
	}
}

// WithPort sets the port to listen on.
func WithPort(port int) ServerOption {
	return func(b *builder) {
		b.port = port
	}
}

// WithTLS serves HTTPS using the given certificate and key files.
func WithTLS(certFile, keyFile string) ServerOption {
	return func(b *builder) {
		b.certFile = certFile
		b.keyFile = keyFile
	}
}

// WithLogger sets the root logger. Every request gets a logger named after
// its path.
func WithLogger(l logging.Logger) ServerOption {
	return func(b *builder) {
		b.logger = l
	}
}

// WithCORSOrigins allows browser requests from the given origins.
func WithCORSOrigins(origins ...string) ServerOption {
	return func(b *builder) {
		b.corsOrigins = append(b.corsOrigins, trimOrigins(origins)...)
	}
}

// WithHTTPHandler registers h with a ServeMux pattern.
func WithHTTPHandler(pattern string, h http.Handler) ServerOption {
	return func(b *builder) {
		b.httpHandlers = append(b.httpHandlers, handler{pattern: pattern, handler: h})
	}
}

// WithMux calls fn with the server's mux, for packages that register their
// own routes.
func WithMux(fn func(mux *http.ServeMux)) ServerOption {
	return func(b *builder) {
		b.muxBuilders = append(b.muxBuilders, fn)
	}
}

// New returns a new server.
func New(opts ...ServerOption) *Server {
	b := &builder{
		host: "localhost",
		port: 8000,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b.build()
}

type builder struct {
	host         string
	port         int
	certFile     string
	keyFile      string
	corsOrigins  []string
	logger       logging.Logger
	httpHandlers []handler
	muxBuilders  []func(*http.ServeMux)
}

func (b *builder) build() *Server {
	logger := b.logger
	if logger == nil {
		logger = logging.NewDevLogger()
	}

	mux := http.NewServeMux()
	for _, fn := range b.muxBuilders {
		fn(mux)
	}
	for _, h := range b.httpHandlers {
		mux.Handle(h.pattern, h.handler)
	}

	return &Server{
		baseContext: logging.With(context.Background(), logger),
		host:        b.host,
		port:        b.port,
		certFile:    b.certFile,
		keyFile:     b.keyFile,
		httpMux:     mux,
		handler:     logging.Middleware(logger)(gziphandler.GzipHandler(b.wrapHandler(mux))),
	}
}

func (b *builder) wrapHandler(h http.Handler) http.Handler {
	if len(b.corsOrigins) == 0 {
		// If there are no allowed origins configured, disable CORS headers completely.
		return h
	}
	allowed := map[string]bool{}
	for _, origin := range b.corsOrigins {
		allowed[origin] = true
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if allowed[r.Header.Get("Origin")] {
			w.Header().Set("Access-Control-Allow-Origin", r.Header.Get("Origin"))
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		}
		if r.Method == http.MethodOptions {
			return // Just the headers.
		}
		h.ServeHTTP(w, r)
	})
}

// TLS1.2 min and support for HTTP2.
func safeTLSConfig() *tls.Config {
	return &tls.Config{
		NextProtos: []string{"h2", "http/1.1"},
		MinVersion: tls.VersionTLS12,
		MaxVersion: tls.VersionTLS13,
	}
}

func trimOrigins(origins []string) []string {
	var out []string
	for _, o := range origins {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
