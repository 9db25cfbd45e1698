// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package tunnel

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nishisan-dev/guac-go/internal/protocol"
)

// pollingFallbackInterval is the delay readLoop waits before each read while
// the polling fallback is active: from the first read until one read has
// delivered its body in two or more chunks (§4.D.2/§5).
const pollingFallbackInterval = 30 * time.Millisecond

// HTTPPollTunnel carries the instruction stream over three HTTP endpoints
// derived from a base URL: ?connect, ?read:<uuid>:<seq>, ?write:<uuid>
// (§4.D.2/§6).
type HTTPPollTunnel struct {
	callbacks

	baseURL        string
	client         *http.Client
	receiveTimeout time.Duration
	logger         *slog.Logger

	mu         sync.Mutex
	state      State
	sessionID  string
	readSeq    int
	progressed int // partial-body events on the most recent read

	writeMu       sync.Mutex
	writeBuf      bytes.Buffer
	writeInFlight bool

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewHTTPPollTunnel constructs a tunnel against baseURL, e.g.
// "https://host/guacamole/tunnel".
func NewHTTPPollTunnel(baseURL string, logger *slog.Logger) *HTTPPollTunnel {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPPollTunnel{
		baseURL:        strings.TrimRight(baseURL, "/"),
		client:         &http.Client{Timeout: 0},
		receiveTimeout: DefaultReceiveTimeout,
		logger:         logger.With("component", "http_poll_tunnel"),
		state:          StateConnecting,
		stopCh:         make(chan struct{}),
	}
}

// SetReceiveTimeout overrides the default 15 s receive timeout.
func (t *HTTPPollTunnel) SetReceiveTimeout(d time.Duration) { t.receiveTimeout = d }

// SetTLSConfig installs the TLS configuration used for https:// requests
// (see internal/pki.NewClientTLSConfig). Must be called before Connect.
func (t *HTTPPollTunnel) SetTLSConfig(cfg *tls.Config) {
	t.client.Transport = &http.Transport{TLSClientConfig: cfg}
}

func (t *HTTPPollTunnel) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *HTTPPollTunnel) setState(s State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
	t.fireState(s)
}

// Connect POSTs the handshake to ?connect and starts the read loop once a
// session UUID comes back.
func (t *HTTPPollTunnel) Connect(ctx context.Context, data string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"?connect",
		strings.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")

	resp, err := t.client.Do(req)
	if err != nil {
		t.setState(StateClosed)
		t.fireError(protocol.StatusUpstreamError)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		code := synthesizeStatus(resp)
		t.setState(StateClosed)
		t.fireError(code)
		return fmt.Errorf("tunnel: connect failed: %s", code)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.setState(StateClosed)
		t.fireError(protocol.StatusUpstreamError)
		return err
	}

	t.mu.Lock()
	t.sessionID = strings.TrimSpace(string(body))
	t.mu.Unlock()

	t.setState(StateOpen)
	go t.readLoop(ctx)
	return nil
}

// Disconnect marks the tunnel CLOSED; no further reads or writes are
// issued.
func (t *HTTPPollTunnel) Disconnect() error {
	t.stopOnce.Do(func() { close(t.stopCh) })
	t.setState(StateClosed)
	return nil
}

// Send coalesces opcode/elements into the pending write buffer; if no POST
// is currently in flight, it flushes immediately (§4.D.2).
func (t *HTTPPollTunnel) Send(opcode string, elements ...string) error {
	if t.State() != StateOpen {
		return nil
	}

	wire, err := protocol.Encode(opcode, elements...)
	if err != nil {
		return err
	}

	t.writeMu.Lock()
	t.writeBuf.WriteString(wire)
	inFlight := t.writeInFlight
	t.writeMu.Unlock()

	if !inFlight {
		go t.flushWrites(context.Background())
	}
	return nil
}

// flushWrites drains the pending write buffer as a single POST, recursing
// if more data accumulated while the request was in flight.
func (t *HTTPPollTunnel) flushWrites(ctx context.Context) {
	for {
		t.writeMu.Lock()
		if t.writeBuf.Len() == 0 {
			t.writeInFlight = false
			t.writeMu.Unlock()
			return
		}
		t.writeInFlight = true
		body := t.writeBuf.String()
		t.writeBuf.Reset()
		t.writeMu.Unlock()

		t.mu.Lock()
		sessionID := t.sessionID
		t.mu.Unlock()

		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			fmt.Sprintf("%s?write:%s", t.baseURL, sessionID), strings.NewReader(body))
		if err != nil {
			t.logger.Warn("http poll tunnel: building write request", "error", err)
			continue
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")

		resp, err := t.client.Do(req)
		if err != nil {
			t.logger.Warn("http poll tunnel: write failed", "error", err)
			t.fireError(protocol.StatusUpstreamError)
			t.forceClose()
			return
		}
		resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			code := synthesizeStatus(resp)
			t.fireError(code)
			t.forceClose()
			return
		}
	}
}

// readLoop issues successive long-poll GETs against ?read:<uuid>:<seq>,
// parsing each response body incrementally as it arrives (§4.D.2).
func (t *HTTPPollTunnel) readLoop(ctx context.Context) {
	parser := protocol.NewParser()
	interval := pollingFallbackInterval // delay between reads until the long-poll proves itself

	for {
		select {
		case <-t.stopCh:
			return
		default:
		}

		if interval > 0 {
			select {
			case <-t.stopCh:
				return
			case <-time.After(interval):
			}
		}

		if err := t.readOnce(ctx, parser); err != nil {
			if err != errReadTerminated {
				t.logger.Warn("http poll tunnel: read failed", "error", err)
				t.forceClose()
				return
			}
		}

		t.mu.Lock()
		progressed := t.progressed
		t.mu.Unlock()
		if progressed >= 2 {
			interval = 0
		}
	}
}

// errReadTerminated signals that the server answered a read with
// RESOURCE_NOT_FOUND after OPEN (end of stream). readOnce has already closed
// the tunnel by then, so readLoop stops at its next stopCh check.
var errReadTerminated = errors.New("tunnel: read terminated")

func (t *HTTPPollTunnel) readOnce(ctx context.Context, parser *protocol.Parser) error {
	t.mu.Lock()
	sessionID := t.sessionID
	seq := t.readSeq
	t.readSeq++
	t.mu.Unlock()

	readURL := fmt.Sprintf("%s?read:%s:%d", t.baseURL, sessionID, seq)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, readURL, nil)
	if err != nil {
		return err
	}

	resp, err := t.client.Do(req)
	if err != nil {
		t.fireError(protocol.StatusUpstreamError)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		code := synthesizeStatus(resp)
		// After OPEN, RESOURCE_NOT_FOUND means end-of-stream and must not
		// surface (§4.D.2).
		if t.State() == StateOpen && code == protocol.StatusResourceNotFound {
			t.forceClose()
			return errReadTerminated
		}
		t.fireError(code)
		return fmt.Errorf("tunnel: read failed: %s", code)
	}

	buf := make([]byte, 4096)
	partialEvents := 0
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			partialEvents++
			chunk := buf[:n]

			// A length-0 element ("0.") signals the end of this read;
			// scan for it without disturbing the parser's own state.
			if idx := bytes.Index(chunk, []byte("0.")); idx >= 0 {
				chunk = chunk[:idx]
			}

			instructions, perr := parser.Feed(chunk)
			if perr != nil {
				t.fireError(protocol.StatusServerError)
				return perr
			}
			for _, ins := range instructions {
				t.fireInstruction(ins)
			}
		}
		if rerr != nil {
			break
		}
	}

	t.mu.Lock()
	t.progressed = partialEvents
	t.mu.Unlock()

	return nil
}

func (t *HTTPPollTunnel) forceClose() {
	t.stopOnce.Do(func() { close(t.stopCh) })
	t.setState(StateClosed)
}

// synthesizeStatus builds a protocol.Status from the non-200 response
// headers Guacamole-Status-Code / Guacamole-Error-Message (§4.D.2/§6).
func synthesizeStatus(resp *http.Response) protocol.Status {
	raw := resp.Header.Get("Guacamole-Status-Code")
	code, err := strconv.Atoi(raw)
	if err != nil {
		return protocol.StatusServerError
	}
	return protocol.Status(code)
}
