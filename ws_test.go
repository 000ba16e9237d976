package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dialWS(t *testing.T, srv *httptest.Server, user string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	header := http.Header{}
	header.Set("Cookie", sessionCookie+"="+user)
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("unmarshal %q: %v", data, err)
	}
}

func TestWireChangesRoundTrip(t *testing.T) {
	changes := []Change{
		{Pos: 0, IsAdd: true, Text: []byte("hello")},
		{Pos: 5, Count: 3},
	}
	wire := toWireChanges(changes)

	if wire[0].Type != changeAddType || *wire[0].Content != "hello" || wire[0].Count != nil {
		t.Errorf("insert wire form = %+v", wire[0])
	}
	if wire[1].Type != changeRemoveType || *wire[1].Count != 3 || wire[1].Content != nil {
		t.Errorf("delete wire form = %+v", wire[1])
	}

	back, err := fromWireChanges(wire)
	if err != nil {
		t.Fatal(err)
	}
	if string(back[0].Text) != "hello" || !back[0].IsAdd || back[1].Count != 3 || back[1].IsAdd {
		t.Errorf("round trip = %+v", back)
	}
}

func TestHubDeliversContentReply(t *testing.T) {
	s, core := newTestHTTP(t)
	core.RegisterApplicationListener(s.hub)
	srv := httptest.NewServer(s)
	defer srv.Close()

	conn := dialWS(t, srv, "alice")
	doRequest(s, "POST", "/open", `{"file":"/a.txt"}`, "alice")

	var reply dumpPayload
	readJSON(t, conn, &reply)
	if reply.File != "/a.txt" || reply.Content != "seed" {
		t.Errorf("reply = %+v", reply)
	}
}

func TestHubBroadcastsEditsToSubscribers(t *testing.T) {
	s, core := newTestHTTP(t)
	core.RegisterApplicationListener(s.hub)
	srv := httptest.NewServer(s)
	defer srv.Close()

	alice := dialWS(t, srv, "alice")
	bob := dialWS(t, srv, "bob")
	doRequest(s, "POST", "/open", `{"file":"/a.txt"}`, "alice")
	doRequest(s, "POST", "/open", `{"file":"/a.txt"}`, "bob")

	// Drain the content replies triggered by open.
	var skip dumpPayload
	readJSON(t, alice, &skip)
	readJSON(t, bob, &skip)

	body := `{"file":"/a.txt","vers":0,"changes":[{"type":1,"pos":4,"content":"!"}]}`
	if w := doRequest(s, "PUT", "/save", body, "alice"); w.Code != 200 {
		t.Fatalf("save status = %d", w.Code)
	}

	for _, conn := range []*websocket.Conn{alice, bob} {
		var push editPush
		readJSON(t, conn, &push)
		if push.File != "/a.txt" || push.Vers != 1 || len(push.Changes) != 1 {
			t.Errorf("push = %+v", push)
		}
		if push.Changes[0].Type != changeAddType || *push.Changes[0].Content != "!" {
			t.Errorf("pushed change = %+v", push.Changes[0])
		}
	}
}

func TestHubSendToUnknownUser(t *testing.T) {
	core := newTestCore(t)
	hub := NewHub(core)
	if hub.sendTo("ghost", []byte("{}")) {
		t.Error("sendTo succeeded for a user with no connection")
	}
}

func TestHubReconnectReplacesConnection(t *testing.T) {
	s, core := newTestHTTP(t)
	core.RegisterApplicationListener(s.hub)
	srv := httptest.NewServer(s)
	defer srv.Close()

	first := dialWS(t, srv, "alice")
	second := dialWS(t, srv, "alice")

	// The first connection is closed by the hub; reads on it fail.
	_ = first.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := first.ReadMessage(); err == nil {
		t.Error("first connection still alive after reconnect")
	}

	// The replacement connection receives replies addressed to alice.
	doRequest(s, "POST", "/open", `{"file":"/a.txt"}`, "alice")
	var reply dumpPayload
	readJSON(t, second, &reply)
	if reply.File != "/a.txt" {
		t.Errorf("reply = %+v", reply)
	}
}
