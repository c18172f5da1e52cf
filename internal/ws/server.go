package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kiwi-scanner/sdk/internal/health"
	"github.com/kiwi-scanner/sdk/internal/logging"
	"github.com/kiwi-scanner/sdk/internal/loop"
	"github.com/kiwi-scanner/sdk/internal/scanner"
	"github.com/kiwi-scanner/sdk/internal/settings"
	"github.com/kiwi-scanner/sdk/internal/stats"
)

// Server exposes one session over HTTP and websocket.
type Server struct {
	session        *scanner.Session
	broadcaster    *Broadcaster
	allowedOrigins map[string]bool
	allowedHosts   map[string]bool
	authToken      string
	tracker        *stats.Tracker
	health         *health.Checker
	log            *logging.Logger
}

func NewServer(sess *scanner.Session, broadcaster *Broadcaster, allowedOrigins []string, authToken string, log *logging.Logger) *Server {
	if log == nil {
		log = logging.Nop()
	}
	s := &Server{
		session:        sess,
		broadcaster:    broadcaster,
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
		authToken:      authToken,
		log:            log.WithComponent("server"),
	}

	for _, origin := range allowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		s.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			s.allowedHosts[parsed.Host] = true
		}
	}

	return s
}

// SetStatsTracker configures the tracker behind /api/stats.
// Must be called before SetupRoutes.
func (s *Server) SetStatsTracker(tracker *stats.Tracker) {
	s.tracker = tracker
}

// SetHealthChecker configures the checker behind /api/health.
// Must be called before SetupRoutes.
func (s *Server) SetHealthChecker(checker *health.Checker) {
	s.health = checker
}

func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/state", s.handleState)
	mux.HandleFunc("/api/settings", s.handleSettings)
	mux.HandleFunc("/api/commands/", s.handleCommand)
	mux.HandleFunc("/api/stats", s.handleStats)
	mux.HandleFunc("/api/health", s.handleHealth)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("ws upgrade failed", "error", err)
		return
	}

	s.log.Info("ws client connected", "remote", r.RemoteAddr)
	c := s.broadcaster.AddClient(conn)

	go func() {
		defer func() {
			s.broadcaster.RemoveClient(c)
			s.log.Info("ws client disconnected", "remote", r.RemoteAddr)
		}()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			s.handleClientMessage(c, data)
		}
	}()
}

func (s *Server) handleClientMessage(c *client, data []byte) {
	var req CommandRequest
	if err := json.Unmarshal(data, &req); err != nil || req.Type != MsgCommand {
		s.broadcaster.SendTo(c, MsgCommandResult, CommandResultPayload{
			ID:    req.ID,
			Error: "expected {\"type\":\"command\",\"command\":...}",
			State: s.session.State(),
		})
		return
	}
	res, _ := s.exec(req.ID, req.Command)
	s.broadcaster.SendTo(c, MsgCommandResult, res)
}

// exec runs a named command. Session commands block until applied on the
// control context, so this must not be called from a bus handler.
func (s *Server) exec(id, name string) (CommandResultPayload, error) {
	res := CommandResultPayload{ID: id, Command: name}
	cmd, err := scanner.ParseCommand(name)
	if err == nil {
		err = s.session.Exec(cmd)
	}
	if err != nil {
		res.Error = err.Error()
	} else {
		res.OK = true
	}
	res.State = s.session.State()
	s.log.Debug("command", "command", name, "ok", res.OK, "error", res.Error)
	return res, err
}

// StateResponse is served at /api/state.
type StateResponse struct {
	SessionID string `json:"sessionId"`
	scanner.Snapshot
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, StateResponse{
		SessionID: s.session.ID(),
		Snapshot:  s.session.Bus().Snapshot(),
	})
}

// SettingsResponse is served at /api/settings. Warnings lists values outside
// their documented range; they are stored anyway.
type SettingsResponse struct {
	Settings settings.Settings `json:"settings"`
	Warnings []string          `json:"warnings,omitempty"`
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	store := s.session.Settings()
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, settingsResponse(store.Get()))
	case http.MethodPut:
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<16))
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid settings: %v", err), http.StatusBadRequest)
			return
		}
		// Fields missing from the body keep their current value. The merge
		// happens under the store lock so concurrent host updates survive.
		var decodeErr error
		next := store.Update(func(cur *settings.Settings) {
			merged := *cur
			if decodeErr = json.Unmarshal(body, &merged); decodeErr == nil {
				*cur = merged
			}
		})
		if decodeErr != nil {
			http.Error(w, fmt.Sprintf("invalid settings: %v", decodeErr), http.StatusBadRequest)
			return
		}
		resp := settingsResponse(next)
		if len(resp.Warnings) > 0 {
			s.log.Warn("settings outside documented range", "warnings", resp.Warnings)
		}
		writeJSON(w, http.StatusOK, resp)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func settingsResponse(st settings.Settings) SettingsResponse {
	resp := SettingsResponse{Settings: st}
	if err := st.Validate(); err != nil {
		var joined interface{ Unwrap() []error }
		if errors.As(err, &joined) {
			for _, e := range joined.Unwrap() {
				resp.Warnings = append(resp.Warnings, e.Error())
			}
		} else {
			resp.Warnings = append(resp.Warnings, err.Error())
		}
	}
	return resp
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	name, err := url.PathUnescape(strings.TrimPrefix(r.URL.Path, "/api/commands/"))
	if err != nil || name == "" || strings.Contains(name, "/") {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if _, err := scanner.ParseCommand(name); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	res, err := s.exec("", name)
	writeJSON(w, commandStatus(err), res)
}

func commandStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, scanner.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, loop.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusUnprocessableEntity
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	if s.tracker == nil {
		http.Error(w, "stats not available", http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, http.StatusOK, s.tracker.Stats())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	if s.health == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": health.StatusOK})
		return
	}
	writeJSON(w, http.StatusOK, s.health.Snapshot(r.Context()))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) authorize(r *http.Request) bool {
	if s.authToken == "" {
		return true
	}

	if r.URL.Query().Get("token") == s.authToken {
		return true
	}

	if r.Header.Get("X-Kiwiscan-Token") == s.authToken {
		return true
	}

	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.authToken {
		return true
	}

	return false
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	if len(s.allowedOrigins) > 0 {
		if s.allowedOrigins[origin] {
			return true
		}
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
			return s.allowedHosts[parsed.Host]
		}
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}

	host := parsed.Host
	if host == "" {
		return false
	}

	if host == r.Host {
		return true
	}

	hostname := parsed.Hostname()
	return hostname == "localhost" || hostname == "127.0.0.1" || hostname == "::1"
}

// ListenAndServe serves handler until ctx is canceled, then shuts down
// gracefully.
func ListenAndServe(ctx context.Context, host string, port int, handler http.Handler, log *logging.Logger) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
