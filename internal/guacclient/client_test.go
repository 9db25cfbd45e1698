// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package guacclient

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/nishisan-dev/guac-go/internal/display"
	"github.com/nishisan-dev/guac-go/internal/protocol"
	"github.com/nishisan-dev/guac-go/internal/surface"
	"github.com/nishisan-dev/guac-go/internal/tunnel"
)

// fakeTunnel is a minimal, test-only tunnel.Tunnel whose Connect and Send
// behaviour is scripted per test, mirroring the fakeTunnel used by the
// tunnel package's own tests.
type fakeTunnel struct {
	connectFn func(ctx context.Context, data string) error
	sent      [][]string
	state     tunnel.State

	onState       func(tunnel.State)
	onError       func(protocol.Status)
	onInstruction func(opcode string, elements []string)
}

func (f *fakeTunnel) Connect(ctx context.Context, data string) error {
	if f.connectFn != nil {
		return f.connectFn(ctx, data)
	}
	return nil
}
func (f *fakeTunnel) Disconnect() error {
	f.state = tunnel.StateClosed
	if f.onState != nil {
		f.onState(tunnel.StateClosed)
	}
	return nil
}
func (f *fakeTunnel) Send(opcode string, elements ...string) error {
	f.sent = append(f.sent, append([]string{opcode}, elements...))
	return nil
}
func (f *fakeTunnel) State() tunnel.State                                     { return f.state }
func (f *fakeTunnel) OnState(fn func(tunnel.State))                           { f.onState = fn }
func (f *fakeTunnel) OnError(fn func(protocol.Status))                        { f.onError = fn }
func (f *fakeTunnel) OnInstruction(fn func(opcode string, elements []string)) { f.onInstruction = fn }

func newTestClient() (*Client, *fakeTunnel) {
	ft := &fakeTunnel{}
	disp := display.New(func(w, h int) surface.Canvas { return surface.NewRasterCanvas(w, h) }, 100, 100)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := New(ft, disp, logger)
	return c, ft
}

func TestClient_ConnectTransitionsToWaitingOnOpen(t *testing.T) {
	c, ft := newTestClient()
	ft.connectFn = func(ctx context.Context, data string) error {
		ft.state = tunnel.StateOpen
		ft.onState(tunnel.StateOpen)
		return nil
	}

	if err := c.Connect(context.Background(), "token"); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if c.State() != StateWaiting {
		t.Fatalf("State() = %v, want WAITING", c.State())
	}
	c.stopKeepAlive()
}

func TestClient_FirstSyncTransitionsToConnected(t *testing.T) {
	c, ft := newTestClient()
	ft.connectFn = func(ctx context.Context, data string) error {
		ft.state = tunnel.StateOpen
		ft.onState(tunnel.StateOpen)
		return nil
	}
	if err := c.Connect(context.Background(), "token"); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	c.handleInstruction("sync", []string{"1000"})

	if c.State() != StateConnected {
		t.Fatalf("State() = %v, want CONNECTED", c.State())
	}
	c.stopKeepAlive()
}

func TestClient_SyncEchoesTimestampOnlyWhenChanged(t *testing.T) {
	c, ft := newTestClient()
	ft.connectFn = func(ctx context.Context, data string) error {
		ft.state = tunnel.StateOpen
		ft.onState(tunnel.StateOpen)
		return nil
	}
	if err := c.Connect(context.Background(), "token"); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	c.handleInstruction("sync", []string{"1000"})
	c.handleInstruction("sync", []string{"1000"})
	c.handleInstruction("sync", []string{"2000"})

	var echoed []string
	for _, s := range ft.sent {
		if s[0] == "sync" {
			echoed = append(echoed, s[1])
		}
	}
	if len(echoed) != 2 || echoed[0] != "1000" || echoed[1] != "2000" {
		t.Fatalf("echoed syncs = %v, want [1000 2000]", echoed)
	}
	c.stopKeepAlive()
}

func TestClient_TunnelCloseTransitionsToDisconnected(t *testing.T) {
	c, ft := newTestClient()
	ft.connectFn = func(ctx context.Context, data string) error {
		ft.state = tunnel.StateOpen
		ft.onState(tunnel.StateOpen)
		return nil
	}
	if err := c.Connect(context.Background(), "token"); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	ft.onState(tunnel.StateClosed)

	deadline := time.After(time.Second)
	for c.State() != StateDisconnected {
		select {
		case <-deadline:
			t.Fatalf("State() = %v, want DISCONNECTED", c.State())
		default:
		}
	}
}

func TestClient_UnknownOpcodeIsIgnored(t *testing.T) {
	c, _ := newTestClient()
	// Must not panic and must not touch any handler state.
	c.handleInstruction("frobnicate", []string{"a", "b"})
}

func TestClient_OnInstructionFiresForEveryOpcodeIncludingUnknown(t *testing.T) {
	c, _ := newTestClient()
	var seen []string
	c.SetOnInstruction(func(opcode string, elements []string) { seen = append(seen, opcode) })

	c.handleInstruction("frobnicate", []string{"a"})
	c.handleInstruction("sync", []string{"1"})

	if len(seen) != 2 || seen[0] != "frobnicate" || seen[1] != "sync" {
		t.Fatalf("seen = %v, want [frobnicate sync]", seen)
	}
}

func TestClient_ErrorOpcodeFiresOnErrorAndDisconnects(t *testing.T) {
	c, ft := newTestClient()
	ft.connectFn = func(ctx context.Context, data string) error {
		ft.state = tunnel.StateOpen
		ft.onState(tunnel.StateOpen)
		return nil
	}
	if err := c.Connect(context.Background(), "token"); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	var gotStatus protocol.Status
	c.SetOnError(func(status protocol.Status) { gotStatus = status })

	c.handleInstruction("error", []string{"failed", "773"})

	if gotStatus != protocol.Status(773) {
		t.Fatalf("onError status = %v, want 773", gotStatus)
	}
	if c.State() != StateDisconnected {
		t.Fatalf("State() = %v, want DISCONNECTED", c.State())
	}
}

func TestClient_NameOpcodeFiresOnName(t *testing.T) {
	c, _ := newTestClient()
	var got string
	c.SetOnName(func(name string) { got = name })

	c.handleInstruction("name", []string{"my-desktop"})

	if got != "my-desktop" {
		t.Fatalf("onName = %q, want %q", got, "my-desktop")
	}
}

func TestClient_MouseSendsButtonMask(t *testing.T) {
	c, ft := newTestClient()
	if err := c.Mouse(10, 20, MouseButtonLeft|MouseButtonRight); err != nil {
		t.Fatalf("Mouse() error = %v", err)
	}
	if len(ft.sent) != 1 || ft.sent[0][0] != "mouse" {
		t.Fatalf("sent = %v, want one mouse instruction", ft.sent)
	}
	if ft.sent[0][3] != "5" {
		t.Fatalf("button mask = %s, want 5", ft.sent[0][3])
	}
}

func TestClient_KeyEncodesPressedAsOneOrZero(t *testing.T) {
	c, ft := newTestClient()
	_ = c.Key(0xFF0D, true)
	_ = c.Key(0xFF0D, false)

	if ft.sent[0][2] != "1" || ft.sent[1][2] != "0" {
		t.Fatalf("sent = %v, want pressed=1 then pressed=0", ft.sent)
	}
}
