// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package guacclient wires together the Tunnel, Display, and stream
// multiplexer into the top-level Client (§4.K): the opcode dispatch table
// that turns an inbound instruction stream into scene-graph mutations and
// stream deliveries, plus the outbound API callers use to send input and
// data back to the server.
package guacclient

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nishisan-dev/guac-go/internal/display"
	"github.com/nishisan-dev/guac-go/internal/muxstream"
	"github.com/nishisan-dev/guac-go/internal/protocol"
	"github.com/nishisan-dev/guac-go/internal/surface"
	"github.com/nishisan-dev/guac-go/internal/tunnel"
)

// State is the client's connection lifecycle (§4.K).
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateWaiting
	StateConnected
	StateDisconnecting
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateConnecting:
		return "CONNECTING"
	case StateWaiting:
		return "WAITING"
	case StateConnected:
		return "CONNECTED"
	case StateDisconnecting:
		return "DISCONNECTING"
	case StateDisconnected:
		return "DISCONNECTED"
	default:
		return "UNKNOWN"
	}
}

// KeepAliveInterval is the period at which Client echoes a sync back to
// the server; the keep-alive loop starts as soon as the tunnel's Connect
// returns successfully (§4.K, §5).
const KeepAliveInterval = 5 * time.Second

// AudioPlayer receives a decoded audio stream's raw payload (§6's built-in
// PCM players implement this; callers may register their own for other
// mimetypes via SetAudioFactory).
type AudioPlayer interface {
	// ReceiveData is called once per reassembled blob chunk.
	ReceiveData(data []byte)
	// Sync is called on every sync instruction, for clock alignment.
	Sync()
}

// VideoPlayer receives a decoded video stream's raw payload, drawn into
// the layer it was opened against. No built-in implementation ships (§1:
// video decoding is out of scope) — callers register one via
// SetVideoFactory.
type VideoPlayer interface {
	ReceiveData(data []byte)
	Sync()
}

// Client owns the Tunnel, the Display, the stream/object tables, the
// index pool, and the registered audio/video backends (§3 Ownership,
// §4.K).
type Client struct {
	tun     tunnel.Tunnel
	display *display.Display
	pool    *muxstream.IndexPool
	logger  *slog.Logger

	mu            sync.Mutex
	inputStreams  map[int]*muxstream.InputStream
	outputStreams map[int]*muxstream.OutputStream
	objects       map[int]*muxstream.GObject
	audioPlayers  map[int]AudioPlayer
	videoPlayers  map[int]VideoPlayer
	nestParsers   map[int]*protocol.Parser

	state               atomic.Value // State
	lastSyncTimestamp   atomic.Int64
	lastEchoedTimestamp atomic.Int64

	keepAliveStop chan struct{}
	keepAliveOnce sync.Once
	wg            sync.WaitGroup

	onName        func(name string)
	onError       func(status protocol.Status)
	onStateChange func(state State)
	onSync        func(timestamp int64)
	onInstruction func(opcode string, elements []string)

	audioSink         io.Writer
	audioFactory      func(mimetype string) AudioPlayer
	videoFactory      func(mimetype string, layer *surface.Layer) VideoPlayer
	clipboardHandler  func(stream *muxstream.InputStream, mimetype string)
	fileHandler       func(stream *muxstream.InputStream, mimetype, name string)
	pipeHandler       func(stream *muxstream.InputStream, mimetype, name string)
	filesystemHandler func(object *muxstream.GObject, name string)
}

// New wires a Client around tun and disp. Callers must register any
// handlers they want (SetOnName, SetAudioFactory, ...) before Connect.
func New(tun tunnel.Tunnel, disp *display.Display, logger *slog.Logger) *Client {
	c := &Client{
		tun:           tun,
		display:       disp,
		pool:          muxstream.NewIndexPool(),
		logger:        logger.With("component", "guacclient"),
		inputStreams:  make(map[int]*muxstream.InputStream),
		outputStreams: make(map[int]*muxstream.OutputStream),
		objects:       make(map[int]*muxstream.GObject),
		audioPlayers:  make(map[int]AudioPlayer),
		videoPlayers:  make(map[int]VideoPlayer),
		nestParsers:   make(map[int]*protocol.Parser),
	}
	c.state.Store(StateIdle)

	tun.OnInstruction(c.handleInstruction)
	tun.OnState(c.handleTunnelState)
	tun.OnError(c.handleTunnelError)

	return c
}

// State reports the client's current lifecycle state.
func (c *Client) State() State { return c.state.Load().(State) }

func (c *Client) setState(s State) {
	c.state.Store(s)
	if c.onStateChange != nil {
		c.onStateChange(s)
	}
}

// Display returns the owned scene graph, for callers that need to render
// a flattened frame or inspect layers directly.
func (c *Client) Display() *display.Display { return c.display }

// SetOnName registers the callback for the server's "name" opcode.
func (c *Client) SetOnName(fn func(name string)) { c.onName = fn }

// SetOnError registers the callback fired on a fatal protocol/transport/
// timeout error or an explicit server "error" opcode (§7).
func (c *Client) SetOnError(fn func(status protocol.Status)) { c.onError = fn }

// SetOnStateChange registers the callback fired on every state transition.
func (c *Client) SetOnStateChange(fn func(state State)) { c.onStateChange = fn }

// SetOnSync registers the callback fired once per inbound sync, after the
// display has flushed and every registered audio player has synced.
func (c *Client) SetOnSync(fn func(timestamp int64)) { c.onSync = fn }

// SetOnInstruction registers a callback fired for every inbound
// instruction before it is dispatched, opcodes the opcode table has no
// handler for included. Intended for logging/tracing, not control flow.
func (c *Client) SetOnInstruction(fn func(opcode string, elements []string)) { c.onInstruction = fn }

// SetAudioFactory registers the function used to build a player when the
// server opens an audio stream. The built-in PCM players (§6) are tried
// only when no factory is registered or the factory returns nil.
func (c *Client) SetAudioFactory(fn func(mimetype string) AudioPlayer) { c.audioFactory = fn }

// SetVideoFactory registers the function used to build a player when the
// server opens a video stream. No built-in video player exists (§1).
func (c *Client) SetVideoFactory(fn func(mimetype string, layer *surface.Layer) VideoPlayer) {
	c.videoFactory = fn
}

// SetClipboardHandler, SetFileHandler, SetPipeHandler, and
// SetFilesystemHandler register the user callbacks for the corresponding
// inbound channel-opening opcodes (§4.K).
func (c *Client) SetClipboardHandler(fn func(stream *muxstream.InputStream, mimetype string)) {
	c.clipboardHandler = fn
}
func (c *Client) SetFileHandler(fn func(stream *muxstream.InputStream, mimetype, name string)) {
	c.fileHandler = fn
}
func (c *Client) SetPipeHandler(fn func(stream *muxstream.InputStream, mimetype, name string)) {
	c.pipeHandler = fn
}
func (c *Client) SetFilesystemHandler(fn func(object *muxstream.GObject, name string)) {
	c.filesystemHandler = fn
}

// Connect starts the handshake: transitions to CONNECTING, delegates to
// the tunnel, and starts the keep-alive loop (§4.K).
func (c *Client) Connect(ctx context.Context, data string) error {
	c.setState(StateConnecting)
	c.keepAliveStop = make(chan struct{})
	c.keepAliveOnce = sync.Once{}

	if err := c.tun.Connect(ctx, data); err != nil {
		c.setState(StateDisconnected)
		return err
	}

	c.wg.Add(1)
	go c.keepAliveLoop()
	return nil
}

// Disconnect sends the disconnect opcode, closes the tunnel, and
// transitions to DISCONNECTED (§4.K). Safe to call more than once.
func (c *Client) Disconnect() error {
	c.setState(StateDisconnecting)
	c.stopKeepAlive()
	_ = c.tun.Send("disconnect")
	err := c.tun.Disconnect()
	c.setState(StateDisconnected)
	return err
}

func (c *Client) stopKeepAlive() {
	c.keepAliveOnce.Do(func() {
		if c.keepAliveStop != nil {
			close(c.keepAliveStop)
		}
	})
	c.wg.Wait()
}

// keepAliveLoop echoes a sync with the last-received timestamp every
// KeepAliveInterval (§4.K, §5 Timeouts).
func (c *Client) keepAliveLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(KeepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.keepAliveStop:
			return
		case <-ticker.C:
			ts := c.lastSyncTimestamp.Load()
			if err := c.tun.Send("sync", strconv.FormatInt(ts, 10)); err != nil {
				c.logger.Warn("keep-alive sync send failed", "error", err)
			}
		}
	}
}

func (c *Client) handleTunnelState(s tunnel.State) {
	switch s {
	case tunnel.StateOpen:
		if c.State() == StateConnecting {
			c.setState(StateWaiting)
		}
	case tunnel.StateClosed:
		c.stopKeepAliveAsync()
		if c.State() != StateDisconnected {
			c.setState(StateDisconnected)
		}
	}
}

// stopKeepAliveAsync stops the keep-alive loop without blocking the
// tunnel's own callback-delivery goroutine on Client.wg.Wait (the tunnel
// fires OnState from its own read loop; waiting there would deadlock a
// tunnel whose read loop also needs to exit to let Wait return).
func (c *Client) stopKeepAliveAsync() {
	go c.stopKeepAlive()
}

func (c *Client) handleTunnelError(status protocol.Status) {
	if c.onError != nil {
		c.onError(status)
	}
}

// Send transmits one instruction through the owned tunnel. Client itself
// satisfies muxstream.Sender so streams and objects it allocates route
// their acks/blobs/ends through the same tunnel.
func (c *Client) Send(opcode string, elements ...string) error {
	return c.tun.Send(opcode, elements...)
}

// handleInstruction is the entry point the tunnel invokes for every
// inbound instruction, in wire order (§4.K).
func (c *Client) handleInstruction(opcode string, elements []string) {
	if c.onInstruction != nil {
		c.onInstruction(opcode, elements)
	}

	handler, ok := opcodeHandlers[opcode]
	if !ok {
		// Unknown opcodes are silently ignored for forward compatibility (§7).
		c.logger.Debug("unknown opcode ignored", "opcode", opcode)
		return
	}
	handler(c, elements)
}
