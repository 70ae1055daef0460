package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// wsTestServer runs a WebSocket endpoint driving each connection with fn.
func wsTestServer(t *testing.T, fn func(*websocket.Conn)) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		fn(ws)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWSDialerEcho(t *testing.T) {
	addr := wsTestServer(t, func(ws *websocket.Conn) {
		for {
			mt, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			if err := ws.WriteMessage(mt, data); err != nil {
				return
			}
		}
	})

	received := make(chan []byte, 1)
	dialer := &WSDialer{}
	conn, err := dialer.Dial(context.Background(), addr, Events{
		OnMessage: func(data []byte) { received <- data },
	})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	if err := conn.Send([]byte("hello")); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case data := <-received:
		if string(data) != "hello" {
			t.Errorf("received %q, want %q", data, "hello")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for echo")
	}
}

func TestWSDialerRemoteClose(t *testing.T) {
	addr := wsTestServer(t, func(ws *websocket.Conn) {
		deadline := time.Now().Add(time.Second)
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "maintenance"), deadline)
		_ = ws.Close()
	})

	type closeInfo struct {
		code   int
		reason string
	}
	closed := make(chan closeInfo, 1)

	dialer := &WSDialer{}
	conn, err := dialer.Dial(context.Background(), addr, Events{
		OnClose: func(code int, reason string) { closed <- closeInfo{code, reason} },
	})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	select {
	case info := <-closed:
		if info.code != CloseGoingAway {
			t.Errorf("close code = %d, want %d", info.code, CloseGoingAway)
		}
		if info.reason != "maintenance" {
			t.Errorf("close reason = %q, want %q", info.reason, "maintenance")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for close event")
	}
}

func TestWSDialerLocalClose(t *testing.T) {
	addr := wsTestServer(t, func(ws *websocket.Conn) {
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	})

	closed := make(chan int, 1)
	dialer := &WSDialer{}
	conn, err := dialer.Dial(context.Background(), addr, Events{
		OnClose: func(code int, _ string) { closed <- code },
	})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	if err := conn.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// Idempotent
	if err := conn.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}

	select {
	case code := <-closed:
		if code != CloseNormal {
			t.Errorf("close code = %d, want %d", code, CloseNormal)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for close event")
	}

	if err := conn.Send([]byte("late")); err != ErrConnectionClosed {
		t.Errorf("Send after close = %v, want ErrConnectionClosed", err)
	}
}

func TestWSDialerDialFailure(t *testing.T) {
	dialer := &WSDialer{HandshakeTimeout: 500 * time.Millisecond}
	_, err := dialer.Dial(context.Background(), "ws://127.0.0.1:1/ws", Events{})
	if err == nil {
		t.Fatal("expected dial error for unreachable address")
	}
}
