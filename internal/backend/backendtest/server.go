// ABOUTME: In-memory fake of an ADK-style agent backend for tests and local E2E runs.
// ABOUTME: Supports forgetting sessions and injecting failures to exercise recovery paths.

package backendtest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"google.golang.org/genai"

	"github.com/2389/relay-gateway/internal/backend"
)

// ReplyFunc produces the events an agent emits in response to a user message.
type ReplyFunc func(agent, message string) []backend.Event

// EchoReply emits a tool call, its response, and a final text answer that
// echoes the message. It mimics a reasoning loop that used one capability.
func EchoReply(agent, message string) []backend.Event {
	return []backend.Event{
		{
			Author: agent,
			Content: genai.NewContentFromParts([]*genai.Part{
				genai.NewPartFromFunctionCall("lookup", map[string]any{"q": message}),
			}, genai.RoleModel),
		},
		{
			Author: agent,
			Content: genai.NewContentFromParts([]*genai.Part{
				genai.NewPartFromFunctionResponse("lookup", map[string]any{"ok": true}),
			}, genai.RoleUser),
		},
		{
			Author:  agent,
			Content: genai.NewContentFromText("echo: "+message, genai.RoleModel),
		},
	}
}

// Server is a fake backend. The zero value is not usable; call New.
type Server struct {
	mu       sync.Mutex
	sessions map[string][]backend.Event
	reply    ReplyFunc
	failures map[string]int // op -> remaining injected 500s
	creates  int
	runs     int
	mux      *http.ServeMux
}

// New creates a fake backend that answers with reply, or EchoReply when nil.
func New(reply ReplyFunc) *Server {
	if reply == nil {
		reply = EchoReply
	}
	s := &Server{
		sessions: make(map[string][]backend.Event),
		reply:    reply,
		failures: make(map[string]int),
		mux:      http.NewServeMux(),
	}
	s.mux.HandleFunc("POST /apps/{app}/users/{user}/sessions/{id}", s.handleCreate)
	s.mux.HandleFunc("GET /apps/{app}/users/{user}/sessions/{id}", s.handleGet)
	s.mux.HandleFunc("POST /run", s.handleRun)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Forget drops a session, as a backend restart or TTL expiry would.
func (s *Server) Forget(agent, user, sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, key(agent, user, sessionID))
}

// ForgetAll drops every session.
func (s *Server) ForgetAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = make(map[string][]backend.Event)
}

// Seed creates a session with a prepared event log.
func (s *Server) Seed(agent, user, sessionID string, events []backend.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[key(agent, user, sessionID)] = append([]backend.Event(nil), events...)
}

// FailNext makes the next n calls of op ("create", "run", "get") return 500.
func (s *Server) FailNext(op string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = n
}

// HasSession reports whether the session exists.
func (s *Server) HasSession(agent, user, sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[key(agent, user, sessionID)]
	return ok
}

// Creates returns the number of successful session creations.
func (s *Server) Creates() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creates
}

// Runs returns the number of turn requests received, including failed ones.
func (s *Server) Runs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs
}

func key(agent, user, sessionID string) string {
	return agent + "\x00" + user + "\x00" + sessionID
}

// injectFailure consumes one injected failure for op. Must be called with mu held.
func (s *Server) injectFailure(op string) bool {
	if s.failures[op] <= 0 {
		return false
	}
	s.failures[op]--
	return true
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	app, user, id := r.PathValue("app"), r.PathValue("user"), r.PathValue("id")

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.injectFailure("create") {
		writeDetail(w, http.StatusInternalServerError, "injected failure")
		return
	}
	k := key(app, user, id)
	if _, exists := s.sessions[k]; exists {
		writeDetail(w, http.StatusBadRequest, fmt.Sprintf("Session already exists: %s", id))
		return
	}
	s.sessions[k] = []backend.Event{}
	s.creates++

	writeJSON(w, http.StatusOK, backend.Session{ID: id, AppName: app, UserID: user, Events: []backend.Event{}})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	app, user, id := r.PathValue("app"), r.PathValue("user"), r.PathValue("id")

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.injectFailure("get") {
		writeDetail(w, http.StatusInternalServerError, "injected failure")
		return
	}
	events, ok := s.sessions[key(app, user, id)]
	if !ok {
		writeDetail(w, http.StatusNotFound, "Session not found")
		return
	}
	writeJSON(w, http.StatusOK, backend.Session{
		ID:             id,
		AppName:        app,
		UserID:         user,
		Events:         events,
		LastUpdateTime: float64(time.Now().Unix()),
	})
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var req backend.RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid request body")
		return
	}

	s.mu.Lock()
	s.runs++
	if s.injectFailure("run") {
		s.mu.Unlock()
		writeDetail(w, http.StatusInternalServerError, "injected failure")
		return
	}
	k := key(req.AppName, req.UserID, req.SessionID)
	if _, ok := s.sessions[k]; !ok {
		s.mu.Unlock()
		writeDetail(w, http.StatusNotFound, "Session not found")
		return
	}
	s.mu.Unlock()

	var text strings.Builder
	if req.NewMessage != nil {
		for _, p := range req.NewMessage.Parts {
			if p != nil {
				text.WriteString(p.Text)
			}
		}
	}

	produced := s.reply(req.AppName, text.String())

	s.mu.Lock()
	userEvent := backend.Event{Author: "user", Content: req.NewMessage}
	if log, ok := s.sessions[k]; ok {
		s.sessions[k] = append(append(log, userEvent), produced...)
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, produced)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
