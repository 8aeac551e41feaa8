package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/ehrlich-b/perch/internal/logger"
	"github.com/ehrlich-b/perch/internal/orchestrator"
	"github.com/ehrlich-b/perch/internal/permission"
)

const writeTimeout = 10 * time.Second

type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) write(frame Frame) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, c.conn, frame)
}

// connTable maps session ids to their live WebSocket connection. At
// most one connection owns a session; a newer one replaces the older.
type connTable struct {
	mu    sync.Mutex
	conns map[string]*wsConn
}

func newConnTable() *connTable {
	return &connTable{conns: make(map[string]*wsConn)}
}

func (t *connTable) put(sessionID string, c *wsConn) *wsConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	old := t.conns[sessionID]
	t.conns[sessionID] = c
	return old
}

func (t *connTable) get(sessionID string) *wsConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conns[sessionID]
}

// remove drops the mapping only if it still points at c.
func (t *connTable) remove(sessionID string, c *wsConn) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conns[sessionID] != c {
		return false
	}
	delete(t.conns, sessionID)
	return true
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "session query parameter is required")
		return
	}
	if _, err := s.registry.Ensure(sessionID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	c := &wsConn{conn: conn}
	if old := s.conns.put(sessionID, c); old != nil {
		old.conn.Close(websocket.StatusPolicyViolation, "replaced by newer connection")
	}
	logger.Info("ws: client connected", "session", sessionID)

	defer func() {
		// Abandon only if this connection still owns the session;
		// a replacement connection keeps its pending requests alive.
		if s.conns.remove(sessionID, c) {
			s.gate.AbandonSession(sessionID)
		}
		logger.Info("ws: client disconnected", "session", sessionID)
		conn.Close(websocket.StatusNormalClosure, "bye")
	}()

	for {
		var frame Frame
		if err := wsjson.Read(r.Context(), conn, &frame); err != nil {
			return
		}
		s.handleFrame(r.Context(), sessionID, c, frame)
	}
}

// handleFrame dispatches one inbound frame. chat.send runs in its own
// goroutine so the read loop keeps consuming permission decisions while
// the agent call is in flight.
func (s *Server) handleFrame(ctx context.Context, sessionID string, c *wsConn, frame Frame) {
	switch frame.Type {
	case FrameChatSend:
		if frame.Content == "" {
			c.write(Frame{Type: FrameError, SessionID: sessionID, Error: "empty message"})
			return
		}
		go func() {
			if _, err := s.orchestrator.HandleMessage(ctx, sessionID, frame.Content); err != nil {
				logger.Warn("ws: message failed", "session", sessionID, "error", err)
			}
		}()
	case FrameChatInterrupt:
		s.orchestrator.Interrupt(sessionID)
	case FramePermissionDecision:
		verdict := permission.Verdict(frame.Verdict)
		if verdict != permission.Allow && verdict != permission.Deny {
			c.write(Frame{Type: FrameError, SessionID: sessionID, Error: "verdict must be allow or deny"})
			return
		}
		scope := permission.Scope(frame.Scope)
		switch scope {
		case permission.ScopeOnce, permission.ScopeSession, permission.ScopePersistent:
		case "":
			scope = permission.ScopeOnce
		default:
			c.write(Frame{Type: FrameError, SessionID: sessionID, Error: "unknown scope"})
			return
		}
		if err := s.gate.Resolve(frame.RequestID, verdict, scope); err != nil {
			c.write(Frame{Type: FrameError, SessionID: sessionID, Error: err.Error()})
		}
	default:
		c.write(Frame{Type: FrameError, SessionID: sessionID, Error: "unknown frame type " + frame.Type})
	}
}

// Ask implements the gate's Asker: push the request to the connection
// owning the session.
func (s *Server) Ask(ctx context.Context, req permission.Request) error {
	c := s.conns.get(req.SessionID)
	if c == nil {
		return fmt.Errorf("no connection for session %s", req.SessionID)
	}
	return c.write(Frame{
		Type:      FramePermissionRequest,
		SessionID: req.SessionID,
		RequestID: req.ID,
		Tool:      req.Tool,
		Input:     req.Input,
	})
}

// Emit implements the orchestrator's Emitter: forward progress events
// to the session's connection, best effort.
func (s *Server) Emit(ev orchestrator.Event) {
	c := s.conns.get(ev.SessionID)
	if c == nil {
		return
	}
	if err := c.write(Frame{
		Type:      FrameChatEvent,
		SessionID: ev.SessionID,
		Event:     ev.Type,
		Tool:      ev.Tool,
		Content:   ev.Content,
	}); err != nil {
		logger.Debug("ws: event dropped", "session", ev.SessionID, "error", err)
	}
}
