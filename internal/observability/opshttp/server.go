// Package opshttp serves the operator endpoints: liveness, a status
// snapshot, per-target pending reports and pprof.
package opshttp

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"anomalyd/internal/model"
	logx "anomalyd/pkg/logx"
)

const DefaultAddr = "127.0.0.1:6060"

// Config controls the listener.
//
// Security: a non-loopback Addr requires Token.
type Config struct {
	Addr  string
	Token string
}

// Deps are the read-only views the endpoints render.
type Deps struct {
	Status  func(ctx context.Context) (any, error)
	Pending func(ctx context.Context, targetID string) ([]model.Report, error)
}

type Server struct {
	cfg  Config
	deps Deps
	log  logx.Logger
}

func New(cfg Config, deps Deps, log logx.Logger) *Server {
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = DefaultAddr
	}
	return &Server{cfg: cfg, deps: deps, log: log.With(logx.String("comp", "opshttp"))}
}

// CheckAddr rejects a public bind without a token.
func CheckAddr(addr, token string) error {
	if strings.TrimSpace(token) == "" && !isLoopbackAddr(addr) {
		return errors.New("non-loopback addr requires a token")
	}
	return nil
}

// Handler builds the router. It is exported for tests.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.withAuth)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/status", s.handleStatus)
	r.Get("/targets/{targetID}/pending", s.handlePending)
	r.Mount("/debug", middleware.Profiler())
	return r
}

// Run listens until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	if err := CheckAddr(s.cfg.Addr, s.cfg.Token); err != nil {
		return err
	}
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		<-ctx.Done()
		cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = srv.Shutdown(cctx)
		cancel()
	}()

	s.log.Info("ops listener started", logx.String("addr", ln.Addr().String()), logx.Bool("token_set", s.cfg.Token != ""))
	err = srv.Serve(ln)
	if ctx.Err() != nil {
		return context.Canceled
	}
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return errors.New("ops server exited unexpectedly")
	}
	return err
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.deps.Status == nil {
		http.Error(w, "status unavailable", http.StatusNotFound)
		return
	}
	st, err := s.deps.Status(r.Context())
	if err != nil {
		s.log.Warn("status failed", logx.Err(err))
		http.Error(w, "status failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, st)
}

type pendingReport struct {
	ID          string    `json:"id"`
	JobID       string    `json:"job_id"`
	Status      string    `json:"status"`
	NominalTime time.Time `json:"nominal_time"`
	Frequency   string    `json:"frequency"`
	TestName    string    `json:"test_name,omitempty"`
	Deviation   float64   `json:"deviation"`
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	if s.deps.Pending == nil {
		http.Error(w, "pending unavailable", http.StatusNotFound)
		return
	}
	id := chi.URLParam(r, "targetID")
	reports, err := s.deps.Pending(r.Context(), id)
	if err != nil {
		s.log.Warn("pending lookup failed", logx.String("target", id), logx.Err(err))
		http.Error(w, "pending lookup failed", http.StatusInternalServerError)
		return
	}
	out := make([]pendingReport, 0, len(reports))
	for _, rep := range reports {
		out = append(out, pendingReport{
			ID:          rep.ID,
			JobID:       rep.JobID,
			Status:      string(rep.Status),
			NominalTime: rep.NominalTime,
			Frequency:   string(rep.Frequency),
			TestName:    rep.TestName,
			Deviation:   rep.Deviation,
		})
	}
	writeJSON(w, out)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// withAuth accepts "Authorization: Bearer <token>" or ?token=<token>.
func (s *Server) withAuth(next http.Handler) http.Handler {
	tok := strings.TrimSpace(s.cfg.Token)
	if tok == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.URL.Query().Get("token")
		if got == "" {
			got = strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
		}
		if got != tok {
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if h == "" {
		// empty host means all interfaces
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
