package main

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/puzpuzpuz/xsync/v3"
	log "github.com/sirupsen/logrus"
)

// Wire change types, mirrored by the browser client.
const (
	changeAddType    = 1
	changeRemoveType = -1
)

// wireChange is the JSON form of a Change: insertions carry content,
// deletions carry count.
type wireChange struct {
	Type    int     `json:"type"`
	Pos     int     `json:"pos"`
	Content *string `json:"content,omitempty"`
	Count   *int    `json:"count,omitempty"`
}

func toWireChanges(changes []Change) []wireChange {
	out := make([]wireChange, len(changes))
	for i, c := range changes {
		if c.IsAdd {
			content := string(c.Text)
			out[i] = wireChange{Type: changeAddType, Pos: c.Pos, Content: &content}
		} else {
			count := c.Count
			out[i] = wireChange{Type: changeRemoveType, Pos: c.Pos, Count: &count}
		}
	}
	return out
}

// editPush is the server-to-client payload for a flushed batch of edits.
type editPush struct {
	File    string       `json:"file"`
	Vers    int          `json:"vers"`
	Changes []wireChange `json:"changes"`
}

// dumpPayload is the server-to-client payload for file content replies.
type dumpPayload struct {
	File    string `json:"file"`
	Vers    int    `json:"vers"`
	Content string `json:"content"`
}

// treePayload is the server-to-client payload for the project tree.
type treePayload struct {
	Nodes []Node `json:"nodes"`
}

// errorPayload is the error shape shared by the WS and REST boundaries.
type errorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Hub owns every connected websocket and is the production core listener:
// it fans onFileEdit payloads out to the subscribers named in the event and
// delivers addressed replies to single users. A user has at most one live
// connection; a failed transfer drops the connection and unsubscribes the
// user from all files.
type Hub struct {
	core    *Core
	clients *xsync.MapOf[string, *wsClient]
}

type wsClient struct {
	user string
	conn *websocket.Conn
	send chan []byte
	quit chan struct{}
	once sync.Once
}

// close tears the connection down exactly once. The send channel is never
// closed; writers race-free against teardown by checking quit instead.
func (c *wsClient) close() {
	c.once.Do(func() {
		close(c.quit)
		c.conn.Close()
	})
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// NewHub returns a hub bound to core. The caller registers it as the
// application listener.
func NewHub(core *Core) *Hub {
	return &Hub{
		core:    core,
		clients: xsync.NewMapOf[string, *wsClient](),
	}
}

// HandleWS upgrades an HTTP request to the push channel for user. A second
// connection for the same user replaces the first.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request, user string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithField("user", user).Warnf("websocket upgrade failed: %v", err)
		return
	}

	client := &wsClient{user: user, conn: conn, send: make(chan []byte, 64), quit: make(chan struct{})}
	if old, loaded := h.clients.LoadAndStore(user, client); loaded {
		old.close()
	}
	log.WithField("user", user).Info("websocket connected")

	go client.writePump()
	go h.readPump(client)
}

// writePump serializes all writes to one connection.
func (c *wsClient) writePump() {
	for {
		select {
		case msg := <-c.send:
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.close()
				return
			}
			metricEditsPushed.Inc()
		case <-c.quit:
			return
		}
	}
}

// readPump discards inbound frames (the push channel is one-way; edits
// arrive over REST) and tears the client down when the peer goes away.
func (h *Hub) readPump(c *wsClient) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
	h.drop(c)
}

// removeIfCurrent deletes c from the registry unless the user has already
// reconnected with a newer client.
func (h *Hub) removeIfCurrent(c *wsClient) bool {
	removed := false
	h.clients.Compute(c.user, func(cur *wsClient, loaded bool) (*wsClient, bool) {
		if loaded && cur == c {
			removed = true
			return nil, true
		}
		return cur, !loaded
	})
	return removed
}

// drop disconnects a client and unsubscribes the user everywhere, so the
// sweep stops addressing a peer that cannot be reached. A client that was
// already replaced by a reconnect is torn down without touching the
// subscriptions, which now belong to the new connection.
func (h *Hub) drop(c *wsClient) {
	current := h.removeIfCurrent(c)
	c.close()
	if !current {
		return
	}
	log.WithField("user", c.user).Info("websocket disconnected")
	if err := h.core.UnregisterUserToAllFiles(c.user); err != nil {
		log.WithField("user", c.user).Warnf("unsubscribe after disconnect failed: %v", err)
	}
}

// Close tears down every connection, e.g. at shutdown.
func (h *Hub) Close() {
	h.clients.Range(func(user string, c *wsClient) bool {
		h.removeIfCurrent(c)
		c.close()
		return true
	})
}

// sendTo queues a payload on one user's connection. Unknown users are
// reported false; a connection with a full send buffer is dropped rather
// than allowed to block the caller.
func (h *Hub) sendTo(user string, payload []byte) bool {
	c, ok := h.clients.Load(user)
	if !ok {
		return false
	}
	select {
	case <-c.quit:
		return false
	default:
	}
	select {
	case c.send <- payload:
		return true
	default:
		log.WithField("user", user).Warn("websocket send buffer full, dropping connection")
		h.drop(c)
		return false
	}
}

// OnFileEdit pushes a flushed batch to every subscriber of the file. Users
// without a live connection are unsubscribed, matching the contract that a
// subscriber is a reachable peer.
func (h *Hub) OnFileEdit(path string, changes []Change, version int, subscribers []string) {
	payload, err := json.Marshal(editPush{
		File:    path,
		Vers:    version,
		Changes: toWireChanges(changes),
	})
	if err != nil {
		log.WithField("path", path).Errorf("marshaling edit push: %v", err)
		return
	}
	for _, user := range subscribers {
		if !h.sendTo(user, payload) {
			log.WithFields(log.Fields{"user": user, "path": path}).Warn("subscriber unreachable, unsubscribing")
			if err := h.core.UnregisterUserToFile(user, path); err != nil {
				log.WithField("user", user).Warnf("unsubscribe failed: %v", err)
			}
		}
	}
}

// OnProjectNodes delivers a tree reply to a single caller.
func (h *Hub) OnProjectNodes(nodes []Node, caller string) {
	payload, err := json.Marshal(treePayload{Nodes: nodes})
	if err != nil {
		log.Errorf("marshaling tree payload: %v", err)
		return
	}
	h.sendTo(caller, payload)
}

// OnFileContent delivers a content reply to a single caller. A nil result
// becomes a 404-shaped payload.
func (h *Hub) OnFileContent(result *FileContent, caller string) {
	var payload []byte
	var err error
	if result == nil {
		payload, err = json.Marshal(errorPayload{Code: http.StatusNotFound, Message: "file not found"})
	} else {
		payload, err = json.Marshal(dumpPayload{
			File:    result.Path,
			Vers:    result.Version,
			Content: string(result.Content),
		})
	}
	if err != nil {
		log.Errorf("marshaling content payload: %v", err)
		return
	}
	h.sendTo(caller, payload)
}
