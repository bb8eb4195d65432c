// Package httpapi exposes capture submission and status over HTTP.
package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"replaycap/internal/capture"
	"replaycap/internal/eventbus"
	"replaycap/internal/runtime/supervisor"
	"replaycap/internal/scheduler"
	"replaycap/pkg/logx"
)

// Store is the part of the capture repository the API uses.
type Store interface {
	Create(ctx context.Context, c *capture.Capture) error
	Get(ctx context.Context, id int64) (*capture.Capture, error)
	List(ctx context.Context, limit int) ([]*capture.Capture, error)
}

// Status reports the scheduler's live state.
type Status interface {
	Active() []scheduler.ActiveInfo
	Snapshot() scheduler.Snapshot
}

type Deps struct {
	Store      Store
	Scheduler  Status
	Bus        eventbus.Bus
	Supervisor *supervisor.Supervisor
	Log        logx.Logger
	Pprof      Pprof
	// TLSCert and TLSKey, when both set, make Run serve HTTPS.
	TLSCert string
	TLSKey  string
}

type Server struct {
	deps Deps
	log  logx.Logger
	addr string
	srv  *http.Server
}

func New(addr string, deps Deps) *Server {
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	if deps.Bus == nil {
		deps.Bus = eventbus.Nop{}
	}
	s := &Server{deps: deps, log: log, addr: addr}
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.health).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/captures", s.createCapture).Methods(http.MethodPost)
	api.HandleFunc("/captures", s.listCaptures).Methods(http.MethodGet)
	api.HandleFunc("/captures/{id:[0-9]+}", s.getCapture).Methods(http.MethodGet)
	api.HandleFunc("/recordings", s.recordings).Methods(http.MethodGet)
	api.HandleFunc("/events", s.events).Methods(http.MethodGet)
	s.mountPprof(r, s.addr)
	r.Use(s.logRequests)
	return r
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener, which it takes ownership of.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	tls := s.deps.TLSCert != "" && s.deps.TLSKey != ""
	s.log.Info("http api listening", logx.String("addr", ln.Addr().String()), logx.Bool("tls", tls))

	errCh := make(chan error, 1)
	go func() {
		if tls {
			errCh <- s.srv.ServeTLS(ln, s.deps.TLSCert, s.deps.TLSKey)
			return
		}
		errCh <- s.srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(sctx); err != nil {
		s.log.Warn("http api shutdown", logx.Err(err))
		return err
	}
	s.log.Info("http api stopped")
	return nil
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug("http request",
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Duration("took", time.Since(start)))
	})
}
