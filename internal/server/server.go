package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ehrlich-b/perch/internal/auth"
	"github.com/ehrlich-b/perch/internal/files"
	"github.com/ehrlich-b/perch/internal/logger"
	"github.com/ehrlich-b/perch/internal/orchestrator"
	"github.com/ehrlich-b/perch/internal/permission"
	"github.com/ehrlich-b/perch/internal/registry"
	"github.com/ehrlich-b/perch/internal/store"
)

const tokenTTL = 30 * 24 * time.Hour

// Server is the daemon's local API: HTTP over a unix socket plus a
// WebSocket endpoint for live chat and permission traffic.
type Server struct {
	store        *store.Store
	registry     *registry.Registry
	orchestrator *orchestrator.Orchestrator
	gate         *permission.Gate
	files        *files.Store
	secret       []byte
	socketPath   string

	conns *connTable
}

func New(s *store.Store, reg *registry.Registry, o *orchestrator.Orchestrator, gate *permission.Gate, f *files.Store, secret []byte, socketPath string) *Server {
	srv := &Server{
		store:        s,
		registry:     reg,
		orchestrator: o,
		gate:         gate,
		files:        f,
		secret:       secret,
		socketPath:   socketPath,
		conns:        newConnTable(),
	}
	o.SetEmitter(srv)
	gate.SetAsker(srv)
	return srv
}

func (s *Server) ListenAndServe(ctx context.Context) error {
	// Clean up stale socket.
	os.Remove(s.socketPath)

	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listen unix %s: %w", s.socketPath, err)
	}

	srv := &http.Server{Handler: s.Handler()}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
		os.Remove(s.socketPath)
		return nil
	case err := <-errCh:
		os.Remove(s.socketPath)
		return err
	}
}

// Handler builds the route table. Split out so tests can drive the
// server through httptest without a socket.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("POST /auth/token", s.handleToken)

	mux.HandleFunc("POST /sessions", s.authed(s.handleCreateSession))
	mux.HandleFunc("GET /sessions", s.authed(s.handleListSessions))
	mux.HandleFunc("GET /sessions/{id}", s.authed(s.handleGetSession))
	mux.HandleFunc("DELETE /sessions/{id}", s.authed(s.handleDeleteSession))
	mux.HandleFunc("POST /sessions/{id}/rename", s.authed(s.handleRenameSession))
	mux.HandleFunc("POST /sessions/{id}/finalize", s.authed(s.handleFinalizeSession))
	mux.HandleFunc("POST /sessions/{id}/archive", s.authed(s.handleArchiveSession))
	mux.HandleFunc("POST /sessions/{id}/messages", s.authed(s.handleSendMessage))
	mux.HandleFunc("POST /sessions/{id}/interrupt", s.authed(s.handleInterrupt))

	mux.HandleFunc("GET /sessions/{id}/files", s.authed(s.handleListFiles))
	mux.HandleFunc("PUT /sessions/{id}/files/{name}", s.authed(s.handleUploadFile))
	mux.HandleFunc("DELETE /sessions/{id}/files/{name}", s.authed(s.handleDeleteFile))

	mux.HandleFunc("GET /permissions", s.authed(s.handleListPermissions))
	mux.HandleFunc("PUT /permissions/{tool}", s.authed(s.handlePutPermission))
	mux.HandleFunc("DELETE /permissions/{tool}", s.authed(s.handleDeletePermission))

	mux.HandleFunc("GET /ws", s.authed(s.handleWS))

	return mux
}

// authed validates the bearer token. Transport hygiene for the local
// socket, not account-level auth.
func (s *Server) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		if _, err := auth.ValidateToken(s.secret, token); err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next(w, r)
	}
}

func bearerToken(r *http.Request) string {
	// Browsers cannot set headers on WebSocket upgrades, so the token
	// may ride in the query string there.
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

// Request/response types

type SessionInfo struct {
	ID             string `json:"id"`
	DisplayName    string `json:"display_name"`
	State          string `json:"state"`
	MessageCount   int    `json:"message_count"`
	FileCount      int    `json:"file_count"`
	CreatedAt      string `json:"created_at"`
	LastActivityAt string `json:"last_activity_at"`
}

func sessionToResponse(sess *store.Session) SessionInfo {
	return SessionInfo{
		ID:             sess.ID,
		DisplayName:    sess.DisplayName,
		State:          sess.State,
		MessageCount:   sess.MessageCount,
		FileCount:      sess.FileCount,
		CreatedAt:      sess.CreatedAt.UTC().Format(time.RFC3339),
		LastActivityAt: sess.LastActivityAt.UTC().Format(time.RFC3339),
	}
}

// Handlers

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleToken mints a bearer token. Reaching the unix socket at all is
// the actual access control; the token keeps individual requests tied
// to a handshake.
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Client string `json:"client"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.Client == "" {
		req.Client = "unknown"
	}
	token, exp, err := auth.IssueToken(s.secret, req.Client, tokenTTL)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"token":      token,
		"expires_at": exp.UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.registry.Ensure(registry.NewID())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, sessionToResponse(sess))
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.registry.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	result := make([]SessionInfo, 0, len(sessions))
	for _, sess := range sessions {
		result = append(result, sessionToResponse(sess))
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.registry.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if sess == nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, sessionToResponse(sess))
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if s.conns.get(id) != nil {
		writeError(w, http.StatusConflict, "session has an open connection")
		return
	}
	s.gate.AbandonSession(id)
	s.gate.ClearSession(id)
	s.orchestrator.Forget(id)
	if err := s.files.RemoveAll(id); err != nil {
		logger.Warn("delete session files", "session", id, "error", err)
	}
	if err := s.registry.Delete(id); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleRenameSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	id := r.PathValue("id")
	if err := s.registry.Rename(id, req.Name); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	sess, err := s.registry.Get(id)
	if err != nil || sess == nil {
		writeError(w, http.StatusInternalServerError, "rename applied but session unreadable")
		return
	}
	writeJSON(w, http.StatusOK, sessionToResponse(sess))
}

func (s *Server) handleFinalizeSession(w http.ResponseWriter, r *http.Request) {
	s.transitionSession(w, r, s.registry.Finalize)
}

func (s *Server) handleArchiveSession(w http.ResponseWriter, r *http.Request) {
	s.transitionSession(w, r, s.registry.Archive)
}

func (s *Server) transitionSession(w http.ResponseWriter, r *http.Request, fn func(string) error) {
	id := r.PathValue("id")
	if err := fn(id); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	sess, err := s.registry.Get(id)
	if err != nil || sess == nil {
		writeError(w, http.StatusInternalServerError, "transition applied but session unreadable")
		return
	}
	writeJSON(w, http.StatusOK, sessionToResponse(sess))
}

// handleSendMessage is the synchronous REST path. Interactive clients
// use the WebSocket instead, which also carries permission traffic.
func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	reply, err := s.orchestrator.HandleMessage(r.Context(), r.PathValue("id"), req.Text)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"reply": reply})
}

func (s *Server) handleInterrupt(w http.ResponseWriter, r *http.Request) {
	s.orchestrator.Interrupt(r.PathValue("id"))
	writeJSON(w, http.StatusOK, map[string]string{"status": "interrupted"})
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	names, err := s.files.List(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, names)
}

func (s *Server) handleUploadFile(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.registry.Ensure(id); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	n, err := s.files.Save(id, r.PathValue("name"), r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.registry.SetFileCount(id, n); err != nil {
		logger.Warn("file count update failed", "session", id, "error", err)
	}
	writeJSON(w, http.StatusCreated, map[string]int{"file_count": n})
}

func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	n, err := s.files.Remove(id, r.PathValue("name"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.registry.SetFileCount(id, n); err != nil {
		logger.Warn("file count update failed", "session", id, "error", err)
	}
	writeJSON(w, http.StatusOK, map[string]int{"file_count": n})
}

func (s *Server) handleListPermissions(w http.ResponseWriter, r *http.Request) {
	rules, err := s.store.ListPermissionRules()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	type ruleResp struct {
		Tool      string `json:"tool"`
		Verdict   string `json:"verdict"`
		UpdatedAt string `json:"updated_at"`
	}
	result := make([]ruleResp, 0, len(rules))
	for _, rule := range rules {
		result = append(result, ruleResp{
			Tool:      rule.Tool,
			Verdict:   rule.Verdict,
			UpdatedAt: rule.UpdatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handlePutPermission(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Verdict string `json:"verdict"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	verdict := permission.Verdict(req.Verdict)
	if verdict != permission.Allow && verdict != permission.Deny {
		writeError(w, http.StatusBadRequest, "verdict must be allow or deny")
		return
	}
	if err := s.gate.GrantPersistent(r.PathValue("tool"), verdict); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDeletePermission(w http.ResponseWriter, r *http.Request) {
	if err := s.gate.ForgetPersistent(r.PathValue("tool")); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// Helpers

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
