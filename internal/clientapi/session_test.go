package clientapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// newSessionServer starts an httptest server that upgrades every request to
// a WebSocket and hands it to a fresh Session wired to real services, the
// same construction testServices(t) already uses for Dispatch-level tests.
func newSessionServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	services := testServices(t)

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Fatalf("upgrade: %v", err)
		}
		s := NewSession(context.Background(), conn, services, 16, r.RemoteAddr)
		go s.Run()
	}))
}

func dialSession(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) ServerFrame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var f ServerFrame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	return f
}

func sendCommand(t *testing.T, conn *websocket.Conn, id, command string, params any) {
	t.Helper()
	var raw json.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			t.Fatalf("marshal params: %v", err)
		}
		raw = b
	}
	cmd := ClientCommand{Type: FrameCommand, ID: id, Command: command, Params: raw}
	if err := conn.WriteJSON(cmd); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
}

func TestSessionRejectsCommandsBeforeAuth(t *testing.T) {
	srv := newSessionServer(t)
	defer srv.Close()
	conn := dialSession(t, srv)
	defer conn.Close()

	sendCommand(t, conn, "1", CmdKeyHandshakeStart, nil)

	frame := readFrame(t, conn)
	if frame.Type != FrameError || frame.Error == nil || frame.Error.Code != "NOT_AUTHENTICATED" {
		t.Fatalf("expected NOT_AUTHENTICATED before auth, got %+v", frame)
	}
}

func TestSessionAuthThenCommandSucceeds(t *testing.T) {
	srv := newSessionServer(t)
	defer srv.Close()
	conn := dialSession(t, srv)
	defer conn.Close()

	sendCommand(t, conn, "1", CmdAuth, authParams{Token: "test-auth-token"})
	authFrame := readFrame(t, conn)
	if authFrame.Type != FrameSuccess {
		t.Fatalf("expected auth to succeed, got %+v", authFrame)
	}

	sendCommand(t, conn, "2", CmdKeyHandshakeStart, nil)
	cmdFrame := readFrame(t, conn)
	if cmdFrame.Type != FrameSuccess || cmdFrame.SubscriptionID == "" {
		t.Fatalf("expected key_handshake.start to succeed with a subscription id, got %+v", cmdFrame)
	}
}

func TestSessionRejectsWrongAuthToken(t *testing.T) {
	srv := newSessionServer(t)
	defer srv.Close()
	conn := dialSession(t, srv)
	defer conn.Close()

	sendCommand(t, conn, "1", CmdAuth, authParams{Token: "wrong-token"})
	frame := readFrame(t, conn)
	if frame.Type != FrameError || frame.Error == nil || frame.Error.Code != "INVALID_AUTH_TOKEN" {
		t.Fatalf("expected INVALID_AUTH_TOKEN, got %+v", frame)
	}
}

func TestSessionMalformedFrameReturnsClientFault(t *testing.T) {
	srv := newSessionServer(t)
	defer srv.Close()
	conn := dialSession(t, srv)
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	frame := readFrame(t, conn)
	if frame.Type != FrameError || frame.Error == nil || frame.Error.Code != "MALFORMED_FRAME" {
		t.Fatalf("expected MALFORMED_FRAME, got %+v", frame)
	}
}

func TestSessionUnknownCommandAfterAuthReturnsUnknownCommand(t *testing.T) {
	srv := newSessionServer(t)
	defer srv.Close()
	conn := dialSession(t, srv)
	defer conn.Close()

	sendCommand(t, conn, "1", CmdAuth, authParams{Token: "test-auth-token"})
	_ = readFrame(t, conn)

	sendCommand(t, conn, "2", "no.such.command", nil)
	frame := readFrame(t, conn)
	if frame.Type != FrameError || frame.Error == nil || frame.Error.Code != "UNKNOWN_COMMAND" {
		t.Fatalf("expected UNKNOWN_COMMAND, got %+v", frame)
	}
}

func TestSessionUnsubscribeDetachesSubscription(t *testing.T) {
	srv := newSessionServer(t)
	defer srv.Close()
	conn := dialSession(t, srv)
	defer conn.Close()

	sendCommand(t, conn, "1", CmdAuth, authParams{Token: "test-auth-token"})
	_ = readFrame(t, conn)

	sendCommand(t, conn, "2", CmdKeyHandshakeStart, nil)
	startFrame := readFrame(t, conn)
	if startFrame.SubscriptionID == "" {
		t.Fatalf("expected a subscription id, got %+v", startFrame)
	}

	sendCommand(t, conn, "3", CmdSubscriptionUnsubscribe, unsubscribeParams{SubscriptionID: startFrame.SubscriptionID})
	unsubFrame := readFrame(t, conn)
	if unsubFrame.Type != FrameSuccess {
		t.Fatalf("expected unsubscribe to succeed, got %+v", unsubFrame)
	}
}
