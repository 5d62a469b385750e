// Package signaling serves the HTTP endpoints geckos clients use to
// negotiate a connection.
package signaling

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rudransh-shrivastava/geckos/internal/config"
	"github.com/rudransh-shrivastava/geckos/internal/logger"
	"github.com/rudransh-shrivastava/geckos/internal/manager"
	"github.com/sirupsen/logrus"
)

const (
	maxBodySize     = 64 << 10
	shutdownTimeout = 5 * time.Second
)

type Config struct {
	Addr string
	Root string
	CORS config.CORS

	// Metrics is mounted at MetricsPath when both are set.
	Metrics     http.Handler
	MetricsPath string
	// Feed is mounted at {root}/events when set.
	Feed *Feed

	Logger *logrus.Logger
}

type Server struct {
	config     Config
	manager    *manager.Manager
	logger     *logrus.Logger
	listener   net.Listener
	httpServer *http.Server
}

func NewServer(m *manager.Manager, cfg Config) (*Server, error) {
	if m == nil {
		return nil, errors.New("signaling: manager is required")
	}

	log := cfg.Logger
	if log == nil {
		log = logger.NewLogger()
	}
	if cfg.Root == "" {
		cfg.Root = config.DefaultRoot
	}
	if cfg.CORS.Origin == "" {
		cfg.CORS.Origin = "*"
	}

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, err
	}

	s := &Server{
		config:   cfg,
		manager:  m,
		logger:   log,
		listener: ln,
	}
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Handler returns the signaling routes wrapped in the CORS middleware.
func (s *Server) Handler() http.Handler {
	root := strings.TrimSuffix(s.config.Root, "/")

	mux := http.NewServeMux()
	mux.HandleFunc("POST "+root+"/connections", s.handleCreate)
	mux.HandleFunc("POST "+root+"/connections/{id}/remote-description", s.handleRemoteDescription)
	mux.HandleFunc("POST "+root+"/connections/{id}/remote-candidate", s.handleRemoteCandidate)
	mux.HandleFunc("GET "+root+"/connections/{id}/additional-candidates", s.handleAdditionalCandidates)
	mux.HandleFunc("POST "+root+"/connections/{id}/close", s.handleClose)

	if s.config.Feed != nil {
		mux.Handle("GET "+root+"/events", s.config.Feed)
	}
	if s.config.Metrics != nil && s.config.MetricsPath != "" {
		mux.Handle("GET "+s.config.MetricsPath, s.config.Metrics)
	}

	return s.cors(s.logRequests(mux))
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.logger.WithField("addr", s.Addr()).Info("Signaling server started")

	go func() {
		<-ctx.Done()
		_ = s.Shutdown()
	}()

	err := s.httpServer.Serve(s.listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown() error {
	s.logger.Info("Shutting down signaling server")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if s.config.Feed != nil {
		s.config.Feed.Close()
	}
	err := s.httpServer.Shutdown(ctx)
	// Shutdown only closes the listener once Serve has taken it.
	_ = s.listener.Close()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) cors(next http.Handler) http.Handler {
	allowHeaders := "Content-Type"
	if s.config.CORS.AllowAuthorization {
		allowHeaders = "Authorization, Content-Type"
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", s.config.CORS.Origin)
		h.Set("Access-Control-Request-Method", "*")
		h.Set("Access-Control-Allow-Methods", "OPTIONS, GET, POST")
		h.Set("Access-Control-Allow-Headers", allowHeaders)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.logger.WithField("remote", r.RemoteAddr).Debugf("%s %s", r.Method, r.URL.Path)
		next.ServeHTTP(w, r)
	})
}
