package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"l10nboard/internal/api"
	"l10nboard/internal/logging"
	"l10nboard/internal/services"
)

const (
	requestIDHeader = "X-Request-ID"
	maxBodyBytes    = 8 << 20
)

type apiServer struct {
	bind    string
	logger  *slog.Logger
	daemon  *Daemon
	handler http.Handler

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
}

// ObsoleteRequest marks sign-offs of an app version as obsoleted.
type ObsoleteRequest struct {
	Locales []string `json:"locales,omitempty"`
	Author  string   `json:"author"`
}

// ObsoleteResponse reports how many sign-offs changed.
type ObsoleteResponse struct {
	AppVersion string `json:"appVersion"`
	Obsoleted  int    `json:"obsoleted"`
}

func newAPIServer(bind string, d *Daemon, logger *slog.Logger) *apiServer {
	srv := &apiServer{
		bind:   strings.TrimSpace(bind),
		logger: logging.NewComponentLogger(logger, "api-server"),
		daemon: d,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", srv.handleStatus)
	mux.HandleFunc("POST /api/repositories/{name...}", srv.handleIngest)
	mux.HandleFunc("GET /api/flags", srv.handleFlags)
	mux.HandleFunc("GET /api/pushes", srv.handlePushes)
	mux.HandleFunc("POST /api/signoffs", srv.handleAddSignoff)
	mux.HandleFunc("GET /api/signoffs/{id}", srv.handleSignoff)
	mux.HandleFunc("POST /api/signoffs/{id}/review", srv.handleReview)
	mux.HandleFunc("POST /api/signoffs/{id}/cancel", srv.handleCancel)
	mux.HandleFunc("POST /api/signoffs/{id}/reopen", srv.handleReopen)
	mux.HandleFunc("POST /api/appversions/{code}/obsolete", srv.handleObsolete)
	mux.HandleFunc("POST /api/runs", srv.handleRun)
	srv.handler = srv.withRequestID(mux)
	return srv
}

func (s *apiServer) start(ctx context.Context) error {
	if s.bind == "" {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	server := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.mu.Lock()
	s.listener = listener
	s.server = server
	s.mu.Unlock()

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	s.mu.Lock()
	server := s.server
	s.server = nil
	s.listener = nil
	s.mu.Unlock()
	if server == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("api server shutdown", logging.Error(err))
	}
}

func (s *apiServer) address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		ctx := services.WithRequestID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *apiServer) service() *api.Service {
	return s.daemon.service
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.daemon.Status(r.Context()))
}

func (s *apiServer) handleIngest(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSuffix(r.PathValue("name"), "/pushes")
	if name == r.PathValue("name") || name == "" {
		s.writeError(w, r, services.Wrap(services.ErrNotFound, "api", "route", r.URL.Path, nil))
		return
	}
	var req api.IngestRequest
	if !s.decode(w, r, &req) {
		return
	}
	ctx := services.WithRepository(r.Context(), name)
	resp, err := s.service().IngestPushes(ctx, name, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *apiServer) handleFlags(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	var upUntil *time.Time
	if value := strings.TrimSpace(query.Get("upUntil")); value != "" {
		t, err := api.ParseTime(value)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		upUntil = &t
	}
	resp, err := s.service().Flags(r.Context(), splitValues(query["appVersion"]), splitValues(query["locale"]), upUntil)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *apiServer) handlePushes(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	pageSize := 0
	if value := strings.TrimSpace(query.Get("pageSize")); value != "" {
		n, err := strconv.Atoi(value)
		if err != nil || n <= 0 {
			s.writeError(w, r, services.Wrap(services.ErrValidation, "api", "pushes", "pageSize must be a positive integer", err))
			return
		}
		pageSize = n
	}
	ctx := services.WithAppVersion(r.Context(), query.Get("appVersion"))
	page, err := s.service().Pushes(ctx, query.Get("locale"), query.Get("appVersion"), pageSize, query.Get("cursor"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, page)
}

func (s *apiServer) handleAddSignoff(w http.ResponseWriter, r *http.Request) {
	var req api.AddSignoffRequest
	if !s.decode(w, r, &req) {
		return
	}
	ctx := services.WithAppVersion(r.Context(), req.AppVersion)
	resp, err := s.service().AddSignoff(ctx, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if resp.Created {
		status = http.StatusCreated
	}
	s.writeJSON(w, status, resp)
}

func (s *apiServer) handleSignoff(w http.ResponseWriter, r *http.Request) {
	id, ok := s.signoffID(w, r)
	if !ok {
		return
	}
	resp, err := s.service().Signoff(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *apiServer) handleReview(w http.ResponseWriter, r *http.Request) {
	id, ok := s.signoffID(w, r)
	if !ok {
		return
	}
	var req api.ReviewRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.writeTransition(w, r, func(ctx context.Context) (api.TransitionResponse, error) {
		return s.service().Review(ctx, id, req)
	})
}

func (s *apiServer) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, ok := s.signoffID(w, r)
	if !ok {
		return
	}
	var req api.TransitionRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.writeTransition(w, r, func(ctx context.Context) (api.TransitionResponse, error) {
		return s.service().Cancel(ctx, id, req)
	})
}

func (s *apiServer) handleReopen(w http.ResponseWriter, r *http.Request) {
	id, ok := s.signoffID(w, r)
	if !ok {
		return
	}
	var req api.TransitionRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.writeTransition(w, r, func(ctx context.Context) (api.TransitionResponse, error) {
		return s.service().Reopen(ctx, id, req)
	})
}

func (s *apiServer) handleObsolete(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	var req ObsoleteRequest
	if !s.decode(w, r, &req) {
		return
	}
	ctx := services.WithAppVersion(r.Context(), code)
	n, err := s.service().Obsolete(ctx, code, req.Locales, req.Author)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ObsoleteResponse{AppVersion: code, Obsoleted: n})
}

func (s *apiServer) handleRun(w http.ResponseWriter, r *http.Request) {
	var req api.RunRequest
	if !s.decode(w, r, &req) {
		return
	}
	run, err := s.service().RecordRun(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, run)
}

func (s *apiServer) writeTransition(w http.ResponseWriter, r *http.Request, fn func(context.Context) (api.TransitionResponse, error)) {
	resp, err := fn(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *apiServer) signoffID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		s.writeError(w, r, services.Wrap(services.ErrValidation, "api", "signoff", "invalid sign-off id", err))
		return 0, false
	}
	return id, true
}

func (s *apiServer) decode(w http.ResponseWriter, r *http.Request, dest any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, r, services.Wrap(services.ErrValidation, "api", "decode", "invalid request body", err))
		return false
	}
	return true
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := services.HTTPStatus(err)
	logger := logging.WithContext(r.Context(), s.logger)
	if status >= http.StatusInternalServerError {
		logging.ErrorWithContext(logger, "request failed", "api_request_failed",
			logging.Error(err),
			logging.String("path", r.URL.Path),
		)
	} else {
		logger.Debug("request rejected", logging.Error(err), logging.String("path", r.URL.Path))
	}
	s.writeJSON(w, status, api.ErrorResponse{Error: err.Error(), Kind: api.ErrorKind(err)})
}

func splitValues(values []string) []string {
	var out []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
