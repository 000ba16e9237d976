package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

const sessionCookie = "coedit_session"

// replyTimeout bounds how long a handler waits on a worker-resolved
// future. Tasks execute within a handful of cycles, so this is generous.
const replyTimeout = 5 * time.Second

// Server is the HTTP front door: it validates payloads, resolves the
// caller identity, and forwards everything else to the core. It holds no
// editing state of its own.
type Server struct {
	core *Core
	hub  *Hub
	mux  *http.ServeMux
}

// NewServer wires the REST surface and the websocket endpoint.
func NewServer(core *Core, hub *Hub) *Server {
	s := &Server{core: core, hub: hub}

	mux := http.NewServeMux()
	mux.HandleFunc("/open", s.handleOpen)
	mux.HandleFunc("/close", s.handleClose)
	mux.HandleFunc("/save", s.handleSave)
	mux.HandleFunc("/dump", s.handleDump)
	mux.HandleFunc("/tree", s.handleTree)
	mux.HandleFunc("/archive", s.handleArchive)
	mux.HandleFunc("/ws", s.handleWS)
	mux.Handle("/metrics", promhttp.Handler())

	s.mux = mux
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// sessionUser returns the caller's opaque identity from the session
// cookie, minting one when absent. Identity lives entirely at this
// boundary; the core never manufactures it.
func (s *Server) sessionUser(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(sessionCookie); err == nil && c.Value != "" {
		return c.Value
	}
	user := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    user,
		Path:     "/",
		HttpOnly: true,
	})
	return user
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(errorPayload{Code: code, Message: fmt.Sprintf(format, args...)})
}

// writeCoreError maps enqueue failures to the boundary: a full queue is
// overload, reported as 503.
func writeCoreError(w http.ResponseWriter, err error) {
	if err == errQueueFull {
		writeError(w, http.StatusServiceUnavailable, "server overloaded, retry later")
		return
	}
	writeError(w, http.StatusInternalServerError, "internal error")
}

// handleOpen subscribes the caller to a file and triggers a content dump.
// The dump itself arrives on the caller's websocket via onFileContent, so
// a client that buffers pushes from the moment it calls open misses no
// update.
//
// POST /open {"file": "/path"}
func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	user := s.sessionUser(w, r)

	var body struct {
		File string `json:"file"`
	}
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !ValidPath(body.File) {
		writeError(w, http.StatusBadRequest, "invalid argument provided: %s", body.File)
		return
	}

	log.WithFields(log.Fields{"user": user, "file": body.File}).Info("open requested")
	if err := s.core.OpenFile(user, body.File); err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

// handleClose unsubscribes the caller from a file.
//
// PUT /close {"file": "/path"}
func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	user := s.sessionUser(w, r)

	var body struct {
		File string `json:"file"`
	}
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !ValidPath(body.File) {
		writeError(w, http.StatusBadRequest, "invalid argument provided: %s", body.File)
		return
	}

	log.WithFields(log.Fields{"user": user, "file": body.File}).Info("close requested")
	if err := s.core.UnregisterUserToFile(user, body.File); err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

// handleSave queues a batch of changes against a file. The changes are
// applied by the next critical sweep and pushed to every subscriber,
// including the author.
//
// PUT /save {"file": "/path", "vers": 3, "changes": [{"type": 1, "pos": 0, "content": "hi"}]}
func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	user := s.sessionUser(w, r)

	var body struct {
		File    string       `json:"file"`
		Vers    int          `json:"vers"`
		Changes []wireChange `json:"changes"`
	}
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20) // 10MB
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !ValidPath(body.File) {
		writeError(w, http.StatusBadRequest, "invalid argument provided: %s", body.File)
		return
	}
	changes, err := fromWireChanges(body.Changes)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid argument provided: %v", err)
		return
	}

	log.WithFields(log.Fields{"user": user, "file": body.File, "changes": len(changes)}).Info("save requested")
	if err := s.core.FileEdit(body.File, changes, user); err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

// fromWireChanges validates and converts a wire change list.
func fromWireChanges(wire []wireChange) ([]Change, error) {
	changes := make([]Change, len(wire))
	for i, c := range wire {
		if c.Pos < 0 {
			return nil, fmt.Errorf("change %d: negative position", i)
		}
		switch c.Type {
		case changeAddType:
			if c.Content == nil {
				return nil, fmt.Errorf("change %d: insertion without content", i)
			}
			changes[i] = Change{Pos: c.Pos, IsAdd: true, Text: []byte(*c.Content)}
		case changeRemoveType:
			if c.Count == nil || *c.Count < 0 {
				return nil, fmt.Errorf("change %d: deletion without a valid count", i)
			}
			changes[i] = Change{Pos: c.Pos, Count: *c.Count}
		default:
			return nil, fmt.Errorf("change %d: unknown type %d", i, c.Type)
		}
	}
	return changes, nil
}

// handleDump returns the committed content and version of one file. The
// read runs as a worker task and the handler waits on its future, so it
// never races the scheduler.
//
// GET /dump?filename=/path
func (s *Server) handleDump(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	filename := r.URL.Query().Get("filename")
	if !ValidPath(filename) {
		writeError(w, http.StatusBadRequest, "invalid argument provided: %s", filename)
		return
	}

	future, err := s.core.DumpFile(filename)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	select {
	case result := <-future:
		if result == nil {
			writeError(w, http.StatusNotFound, "file not found: %s", filename)
			return
		}
		writeJSON(w, dumpPayload{File: result.Path, Vers: result.Version, Content: string(result.Content)})
	case <-time.After(replyTimeout):
		writeError(w, http.StatusServiceUnavailable, "timed out waiting for scheduler")
	}
}

// handleTree returns the sorted project tree.
//
// GET /tree
func (s *Server) handleTree(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	future, err := s.core.ProjectTree()
	if err != nil {
		writeCoreError(w, err)
		return
	}
	select {
	case nodes := <-future:
		writeJSON(w, treePayload{Nodes: nodes})
	case <-time.After(replyTimeout):
		writeError(w, http.StatusServiceUnavailable, "timed out waiting for scheduler")
	}
}

// handleArchive builds a ZIP of the committed project state under a prefix
// and reports where it was written.
//
// GET /archive?path=/subtree (path defaults to "/")
func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	user := s.sessionUser(w, r)

	prefix := r.URL.Query().Get("path")
	if prefix == "" {
		prefix = "/"
	}
	if !ValidPath(prefix) {
		writeError(w, http.StatusBadRequest, "invalid argument provided: %s", prefix)
		return
	}

	future, err := s.core.CreateArchive(prefix, user)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	select {
	case result := <-future:
		if result.Err != nil {
			writeError(w, http.StatusNotFound, "archive failed: %v", result.Err)
			return
		}
		writeJSON(w, map[string]string{"archive": result.Path})
	case <-time.After(replyTimeout):
		writeError(w, http.StatusServiceUnavailable, "timed out waiting for scheduler")
	}
}

// handleWS upgrades to the bidirectional push channel.
//
// GET /ws
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	user := s.sessionUser(w, r)
	s.hub.HandleWS(w, r, user)
}
