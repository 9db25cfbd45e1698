// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package tunnel

import (
	"context"
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorillaws "github.com/gorilla/websocket"

	"github.com/nishisan-dev/guac-go/internal/protocol"
)

func newEchoWebsocketServer(t *testing.T, onMessage func(*gorillaws.Conn, []byte)) *httptest.Server {
	t.Helper()
	upgrader := gorillaws.Upgrader{
		Subprotocols: []string{wsSubprotocol},
		CheckOrigin:  func(r *http.Request) bool { return true },
	}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if onMessage != nil {
				onMessage(conn, msg)
			}
		}
	}))
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func TestWebsocketTunnel_ConnectAndReceiveInstruction(t *testing.T) {
	srv := newEchoWebsocketServer(t, func(conn *gorillaws.Conn, msg []byte) {
		conn.WriteMessage(gorillaws.TextMessage, []byte("4.name,2.ok;"))
	})
	defer srv.Close()

	tun := NewWebsocketTunnel(wsURL(srv.URL), nil)

	gotCh := make(chan string, 1)
	tun.OnInstruction(func(opcode string, elements []string) { gotCh <- opcode })

	if err := tun.Connect(context.Background(), "token=x"); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer tun.Disconnect()

	if err := tun.Send("sync", "123"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	select {
	case opcode := <-gotCh:
		if opcode != "name" {
			t.Fatalf("opcode = %q, want %q", opcode, "name")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for instruction")
	}

	if tun.State() != StateOpen {
		t.Fatalf("state = %v, want OPEN", tun.State())
	}
}

func TestWebsocketTunnel_DialFailureClosesAndErrors(t *testing.T) {
	tun := NewWebsocketTunnel("ws://127.0.0.1:1/nonexistent", nil)

	var gotCode protocol.Status
	tun.OnError(func(code protocol.Status) { gotCode = code })

	if err := tun.Connect(context.Background(), ""); err == nil {
		t.Fatal("Connect() expected dial error")
	}
	if tun.State() != StateClosed {
		t.Fatalf("state = %v, want CLOSED", tun.State())
	}
	if gotCode == protocol.StatusSuccess {
		t.Fatal("expected a non-success error status for a failed dial")
	}
}

func TestWebsocketTunnel_SendNoopWhenNotOpen(t *testing.T) {
	tun := NewWebsocketTunnel("ws://example.invalid/", nil)
	if err := tun.Send("sync", "0"); err != nil {
		t.Fatalf("Send() before open error = %v", err)
	}
}

func TestWebsocketTunnel_SetTLSConfigInstallsOnDialer(t *testing.T) {
	tun := NewWebsocketTunnel("wss://example.invalid/", nil)
	cfg := &tls.Config{ServerName: "example.invalid"}
	tun.SetTLSConfig(cfg)
	if tun.dialer.TLSClientConfig != cfg {
		t.Fatal("SetTLSConfig() did not install the config on the dialer")
	}
}
