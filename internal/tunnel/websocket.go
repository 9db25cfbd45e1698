// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package tunnel

import (
	"context"
	"crypto/tls"
	"log/slog"
	"sync"
	"time"

	gorillaws "github.com/gorilla/websocket"

	"github.com/nishisan-dev/guac-go/internal/protocol"
)

// wsSubprotocol is the single Websocket subprotocol this transport speaks
// (§4.D.1/§6).
const wsSubprotocol = "guacamole"

// WebsocketTunnel carries the instruction stream over a single persistent
// Websocket connection (§4.D.1). The handshake payload travels in the
// upgrade request's query string; every text message is fed through
// protocol.Parser, and the receive timer resets on each inbound message.
type WebsocketTunnel struct {
	callbacks

	url            string
	receiveTimeout time.Duration
	logger         *slog.Logger
	dialer         *gorillaws.Dialer

	mu    sync.Mutex
	conn  *gorillaws.Conn
	state State

	writeMu sync.Mutex

	watchdogReset chan struct{}
	stopCh        chan struct{}
	stopOnce      sync.Once
}

// NewWebsocketTunnel constructs a tunnel dialing rawURL, which must not
// already carry a query string reserved for the handshake payload.
func NewWebsocketTunnel(rawURL string, logger *slog.Logger) *WebsocketTunnel {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebsocketTunnel{
		url:            rawURL,
		receiveTimeout: DefaultReceiveTimeout,
		logger:         logger.With("component", "websocket_tunnel"),
		dialer: &gorillaws.Dialer{
			Subprotocols:     []string{wsSubprotocol},
			HandshakeTimeout: 10 * time.Second,
		},
		state:         StateConnecting,
		stopCh:        make(chan struct{}),
		watchdogReset: make(chan struct{}, 1),
	}
}

// SetReceiveTimeout overrides the default 15 s receive timeout. Must be
// called before Connect.
func (t *WebsocketTunnel) SetReceiveTimeout(d time.Duration) { t.receiveTimeout = d }

// SetTLSConfig installs the TLS configuration used for wss:// dials (see
// internal/pki.NewClientTLSConfig). Must be called before Connect.
func (t *WebsocketTunnel) SetTLSConfig(cfg *tls.Config) { t.dialer.TLSClientConfig = cfg }

// State reports the tunnel's current lifecycle state.
func (t *WebsocketTunnel) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *WebsocketTunnel) setState(s State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
	t.fireState(s)
}

// Connect dials the Websocket, appending data as the query string of the
// upgrade request.
func (t *WebsocketTunnel) Connect(ctx context.Context, data string) error {
	dialURL := t.url
	if data != "" {
		dialURL = dialURL + "?" + data
	}

	conn, _, err := t.dialer.DialContext(ctx, dialURL, nil)
	if err != nil {
		t.logger.Warn("websocket dial failed", "error", err)
		t.setState(StateClosed)
		t.fireError(protocol.StatusUpstreamError)
		return err
	}

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()

	t.setState(StateOpen)

	go t.readLoop()
	go t.watchdog()

	return nil
}

// Disconnect closes the underlying connection and transitions to CLOSED
// with success. Safe to call more than once.
func (t *WebsocketTunnel) Disconnect() error {
	t.stopOnce.Do(func() { close(t.stopCh) })

	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()

	if conn != nil {
		_ = conn.WriteControl(gorillaws.CloseMessage,
			gorillaws.FormatCloseMessage(gorillaws.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = conn.Close()
	}

	t.setState(StateClosed)
	return nil
}

// Send transmits opcode/elements as one text message, a no-op if the
// tunnel is not OPEN.
func (t *WebsocketTunnel) Send(opcode string, elements ...string) error {
	if t.State() != StateOpen {
		return nil
	}

	wire, err := protocol.Encode(opcode, elements...)
	if err != nil {
		return err
	}

	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return nil
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return conn.WriteMessage(gorillaws.TextMessage, []byte(wire))
}

func (t *WebsocketTunnel) readLoop() {
	parser := protocol.NewParser()

	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			t.handleClose(err)
			return
		}

		select {
		case t.watchdogReset <- struct{}{}:
		default:
		}

		instructions, perr := parser.Feed(message)
		if perr != nil {
			t.logger.Error("websocket tunnel protocol error", "error", perr)
			t.fireError(protocol.StatusServerError)
			t.forceClose()
			return
		}
		for _, ins := range instructions {
			t.fireInstruction(ins)
		}
	}
}

func (t *WebsocketTunnel) handleClose(err error) {
	select {
	case <-t.stopCh:
		// Disconnect already in progress; Disconnect owns the state
		// transition.
		return
	default:
	}

	code := protocol.StatusServerError
	if gorillaws.IsCloseError(err, gorillaws.CloseNormalClosure, gorillaws.CloseGoingAway) {
		code = protocol.StatusSuccess
	}
	t.logger.Warn("websocket tunnel closed", "error", err)
	if protocol.IsError(code) {
		t.fireError(code)
	}
	t.forceClose()
}

func (t *WebsocketTunnel) forceClose() {
	t.stopOnce.Do(func() { close(t.stopCh) })
	t.mu.Lock()
	if t.conn != nil {
		t.conn.Close()
	}
	t.mu.Unlock()
	t.setState(StateClosed)
}

// watchdog closes the tunnel with UPSTREAM_TIMEOUT if no message arrives
// within receiveTimeout (§4.D).
func (t *WebsocketTunnel) watchdog() {
	timer := time.NewTimer(t.receiveTimeout)
	defer timer.Stop()

	for {
		select {
		case <-t.stopCh:
			return
		case <-t.watchdogReset:
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(t.receiveTimeout)
		case <-timer.C:
			t.logger.Warn("websocket tunnel receive timeout")
			t.fireError(protocol.StatusUpstreamTimeout)
			t.forceClose()
			return
		}
	}
}
