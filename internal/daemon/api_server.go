package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"praxis/internal/config"
	"praxis/internal/logging"
	"praxis/internal/queue"
)

type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon

	listener net.Listener
	server   *http.Server
}

type submitRequest struct {
	Requester string `json:"requester"`
	Query     string `json:"query"`
	Origin    string `json:"origin"`
}

type submitResponse struct {
	Item     *queue.Item `json:"item"`
	Position int         `json:"position"`
	WaitSecs int         `json:"wait_seconds"`
}

type itemResponse struct {
	Item     *queue.Item `json:"item"`
	Position int         `json:"position"`
	WaitSecs int         `json:"wait_seconds"`
}

type cancelResponse struct {
	Removed bool `json:"removed"`
}

type listResponse struct {
	Items []*queue.Item `json:"items"`
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) (*apiServer, error) {
	if cfg == nil || d == nil {
		return nil, nil
	}
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil, nil
	}

	srv := &apiServer{
		bind:   bind,
		logger: logging.NewComponentLogger(logger, "api-server"),
		daemon: d,
	}

	token := strings.TrimSpace(cfg.Paths.APIToken)
	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", requireToken(token, srv.handleHealth))
	mux.HandleFunc("/api/status", requireToken(token, srv.handleStatus))
	mux.HandleFunc("/api/queue", requireToken(token, srv.handleQueue))
	mux.HandleFunc("/api/queue/", requireToken(token, srv.handleQueueItem))
	mux.HandleFunc("/api/ws", requireToken(token, srv.handleWebsocket))

	srv.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv, nil
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	health, err := s.daemon.store.CheckHealth(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	status := http.StatusOK
	if !health.Healthy() {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, health)
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, s.daemon.Status(r.Context()))
}

func (s *apiServer) handleQueue(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleQueueList(w, r)
	case http.MethodPost:
		s.handleQueueSubmit(w, r)
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *apiServer) handleQueueList(w http.ResponseWriter, r *http.Request) {
	var statuses []queue.Status
	for _, value := range r.URL.Query()["status"] {
		parsed, ok := queue.ParseStatus(value)
		if !ok {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", value))
			return
		}
		statuses = append(statuses, parsed)
	}
	items, err := s.daemon.store.List(r.Context(), statuses...)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, listResponse{Items: items})
}

func (s *apiServer) handleQueueSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	item, err := s.daemon.manager.Submit(r.Context(), req.Requester, req.Query, req.Origin)
	if err != nil {
		switch {
		case errors.Is(err, queue.ErrValidation):
			s.writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, queue.ErrCapacity):
			s.writeError(w, http.StatusTooManyRequests, err.Error())
		default:
			s.writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	position, err := s.daemon.manager.Position(r.Context(), item.ID)
	if err != nil {
		position = 0
	}
	s.writeJSON(w, http.StatusCreated, submitResponse{
		Item:     item,
		Position: position,
		WaitSecs: int(s.daemon.manager.EstimatedWait(position).Seconds()),
	})
}

func (s *apiServer) handleQueueItem(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/queue/")
	if id == "" || strings.Contains(id, "/") {
		s.writeError(w, http.StatusNotFound, "queue item not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		s.handleQueueItemGet(w, r, id)
	case http.MethodDelete:
		s.handleQueueItemCancel(w, r, id)
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *apiServer) handleQueueItemGet(w http.ResponseWriter, r *http.Request, id string) {
	item, err := s.daemon.store.GetByID(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if item == nil {
		s.writeError(w, http.StatusNotFound, "queue item not found")
		return
	}
	position, err := s.daemon.manager.Position(r.Context(), id)
	if err != nil {
		position = 0
	}
	s.writeJSON(w, http.StatusOK, itemResponse{
		Item:     item,
		Position: position,
		WaitSecs: int(s.daemon.manager.EstimatedWait(position).Seconds()),
	})
}

func (s *apiServer) handleQueueItemCancel(w http.ResponseWriter, r *http.Request, id string) {
	requester := strings.TrimSpace(r.URL.Query().Get("requester"))
	removed, err := s.daemon.manager.Cancel(r.Context(), id, requester)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, cancelResponse{Removed: removed})
}

func (s *apiServer) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	if s.daemon.hub == nil {
		s.writeError(w, http.StatusServiceUnavailable, "status stream unavailable")
		return
	}
	s.daemon.hub.ServeHTTP(w, r)
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

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// requireToken gates a handler behind the shared bearer token. An empty
// configured token leaves the endpoint open, the loopback-only default.
func requireToken(token string, next http.HandlerFunc) http.HandlerFunc {
	if token == "" {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		presented, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || presented != token {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"unauthorized"}` + "\n"))
			return
		}
		next(w, r)
	}
}
