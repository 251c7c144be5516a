// Package api exposes the Matrix-compatible login surface of the auth
// service: flow discovery, the login decision endpoint, and the TF
// Connect popup and callback resources.
package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/mik-tf/mycelium-chat/pkg/broker"
	"github.com/mik-tf/mycelium-chat/pkg/httputil"
	"github.com/mik-tf/mycelium-chat/pkg/observability"
	"github.com/mik-tf/mycelium-chat/pkg/verify"
)

// Config carries what the HTTP surface needs to render the login flow.
type Config struct {
	// ServerName is the homeserver name echoed in login responses.
	ServerName string
	// APIBaseURL is the TF Connect base used to build authorize URLs.
	APIBaseURL string
	// AppID identifies this deployment to the IdP.
	AppID string
	// RedirectURI is where the IdP popup posts the login result.
	RedirectURI string
	// Scope requested from the IdP. Default "user:email:verified".
	Scope string
	// CORSOrigins are origins allowed to call the callback endpoints.
	CORSOrigins []string
}

// Server is the login API server.
type Server struct {
	config   Config
	broker   *broker.Broker
	sessions *verify.Sessions
	router   *mux.Router
	metrics  *observability.Metrics
}

// NewServer creates the API server and sets up its routes.
func NewServer(config Config, b *broker.Broker, sessions *verify.Sessions, metrics *observability.Metrics) *Server {
	if config.Scope == "" {
		config.Scope = "user:email:verified"
	}

	s := &Server{
		config:   config,
		broker:   b,
		sessions: sessions,
		router:   mux.NewRouter(),
		metrics:  metrics,
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures the login surface.
func (s *Server) setupRoutes() {
	s.handle("/_matrix/client/r0/login", s.getLoginFlows, http.MethodGet)
	s.handle("/_matrix/client/r0/login", s.postLogin, http.MethodPost)
	s.handle("/_matrix/client/r0/login/tf_connect", s.getLoginPopup, http.MethodGet)
	s.handle("/_matrix/client/r0/login/tf_connect/callback", s.postCallback, http.MethodPost, http.MethodOptions)

	s.router.Use(s.requestLogging)
	if len(s.config.CORSOrigins) > 0 {
		s.router.Use(httputil.CORSMiddleware(s.config.CORSOrigins))
	}
	s.router.Use(httputil.RecoveryMiddleware)
}

// handle registers a route wrapped in per-route metrics.
func (s *Server) handle(path string, h http.HandlerFunc, methods ...string) {
	s.router.Handle(path, s.metrics.HTTPMiddleware(path, h)).Methods(methods...)
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// requestLogging logs each request with a generated request ID.
func (s *Server) requestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := uuid.NewString()
		ctx := observability.WithRequestID(r.Context(), requestID)

		rw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r.WithContext(ctx))

		logrus.WithFields(logrus.Fields{
			"request_id": requestID,
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     rw.status,
			"duration":   time.Since(start).String(),
			"client":     httputil.ClientIP(r),
		}).Info("request completed")
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
