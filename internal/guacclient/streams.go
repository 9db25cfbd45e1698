// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package guacclient

import (
	"encoding/base64"
	"encoding/json"

	"github.com/nishisan-dev/guac-go/internal/muxstream"
	"github.com/nishisan-dev/guac-go/internal/protocol"
)

func decodeBase64(s string) []byte {
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil
	}
	return data
}

// registerInputStream allocates (or returns the existing) input stream
// for idx, bound to this Client as its ack sender.
func (c *Client) registerInputStream(idx int) *muxstream.InputStream {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.inputStreams[idx]; ok {
		return s
	}
	s := muxstream.NewInputStream(idx, c)
	c.inputStreams[idx] = s
	return s
}

func (c *Client) unregisterInputStream(idx int) {
	c.mu.Lock()
	delete(c.inputStreams, idx)
	c.mu.Unlock()
}

func (c *Client) lookupInputStream(idx int) (*muxstream.InputStream, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.inputStreams[idx]
	return s, ok
}

func (c *Client) lookupOutputStream(idx int) (*muxstream.OutputStream, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.outputStreams[idx]
	return s, ok
}

func (c *Client) unregisterOutputStream(idx int) {
	c.mu.Lock()
	delete(c.outputStreams, idx)
	c.mu.Unlock()
	c.pool.Free(idx)
}

// --- Stream opcodes (inbound) ---

// handleAck routes an inbound ack to its output stream's on_ack; an
// error-class code frees the stream (§4.F, §4.K).
func handleAck(c *Client, e []string) {
	if len(e) < 3 {
		return
	}
	idx := atoiOr0(e[0])
	message := e[1]
	code := protocol.Status(atoiOr0(e[2]))

	stream, ok := c.lookupOutputStream(idx)
	if !ok {
		return
	}
	if stream.HandleAck(code, message) {
		c.unregisterOutputStream(idx)
	}
}

func handleBlob(c *Client, e []string) {
	if len(e) < 2 {
		return
	}
	idx := atoiOr0(e[0])
	data := e[1]
	if stream, ok := c.lookupInputStream(idx); ok {
		stream.HandleBlob(data)
	}
}

func handleEnd(c *Client, e []string) {
	if len(e) < 1 {
		return
	}
	idx := atoiOr0(e[0])
	if stream, ok := c.lookupInputStream(idx); ok {
		stream.HandleEnd()
		c.unregisterInputStream(idx)
		c.pool.Free(idx)
	}
}

// handleAudio allocates an input stream and tries the user's audio
// factory, then the built-in PCM players; acks BAD_TYPE if nothing
// accepts the mimetype (§4.K, §6).
func handleAudio(c *Client, e []string) {
	if len(e) < 2 {
		return
	}
	idx := atoiOr0(e[0])
	mimetype := e[1]

	stream := c.registerInputStream(idx)

	var player AudioPlayer
	if c.audioFactory != nil {
		player = c.audioFactory(mimetype)
	}
	if player == nil {
		player = c.newBuiltinAudioPlayer(mimetype)
	}
	if player == nil {
		_ = stream.Ack("BAD TYPE", protocol.StatusClientBadType)
		c.unregisterInputStream(idx)
		return
	}

	c.mu.Lock()
	c.audioPlayers[idx] = player
	c.mu.Unlock()

	reader := muxstream.NewArrayBufferReader(stream)
	reader.OnData(player.ReceiveData)
	reader.OnEnd(func() {
		c.mu.Lock()
		delete(c.audioPlayers, idx)
		c.mu.Unlock()
		c.unregisterInputStream(idx)
	})

	_ = stream.Ack("OK", protocol.StatusSuccess)
}

// handleVideo allocates an input stream tied to a visible layer; only a
// user-registered factory can accept it (§1: no built-in video decoder).
func handleVideo(c *Client, e []string) {
	if len(e) < 3 {
		return
	}
	idx := atoiOr0(e[0])
	layerIdx := atoiOr0(e[1])
	mimetype := e[2]

	stream := c.registerInputStream(idx)

	if c.videoFactory == nil {
		_ = stream.Ack("BAD TYPE", protocol.StatusClientBadType)
		c.unregisterInputStream(idx)
		return
	}
	layer := c.display.GetLayer(layerIdx)
	player := c.videoFactory(mimetype, layer)
	if player == nil {
		_ = stream.Ack("BAD TYPE", protocol.StatusClientBadType)
		c.unregisterInputStream(idx)
		return
	}

	c.mu.Lock()
	c.videoPlayers[idx] = player
	c.mu.Unlock()

	reader := muxstream.NewArrayBufferReader(stream)
	reader.OnData(player.ReceiveData)
	reader.OnEnd(func() {
		c.mu.Lock()
		delete(c.videoPlayers, idx)
		c.mu.Unlock()
		c.unregisterInputStream(idx)
	})

	_ = stream.Ack("OK", protocol.StatusSuccess)
}

// handleClipboard, handleFile, and handlePipe dispatch to the matching
// user handler; with none registered, ack unsupported (§4.K).
func handleClipboard(c *Client, e []string) {
	if len(e) < 2 {
		return
	}
	idx := atoiOr0(e[0])
	mimetype := e[1]
	stream := c.registerInputStream(idx)

	if c.clipboardHandler == nil {
		_ = stream.Ack("unsupported", protocol.StatusUnsupported)
		c.unregisterInputStream(idx)
		return
	}
	c.clipboardHandler(stream, mimetype)
}

func handleFile(c *Client, e []string) {
	if len(e) < 3 {
		return
	}
	idx := atoiOr0(e[0])
	mimetype := e[1]
	name := e[2]
	stream := c.registerInputStream(idx)

	if c.fileHandler == nil {
		_ = stream.Ack("unsupported", protocol.StatusUnsupported)
		c.unregisterInputStream(idx)
		return
	}
	c.fileHandler(stream, mimetype, name)
}

func handlePipe(c *Client, e []string) {
	if len(e) < 3 {
		return
	}
	idx := atoiOr0(e[0])
	mimetype := e[1]
	name := e[2]
	stream := c.registerInputStream(idx)

	if c.pipeHandler == nil {
		_ = stream.Ack("unsupported", protocol.StatusUnsupported)
		c.unregisterInputStream(idx)
		return
	}
	c.pipeHandler(stream, mimetype, name)
}

// --- Named objects ---

func (c *Client) registerObject(idx int) *muxstream.GObject {
	c.mu.Lock()
	defer c.mu.Unlock()
	if o, ok := c.objects[idx]; ok {
		return o
	}
	o := muxstream.NewGObject(idx, c)
	c.objects[idx] = o
	return o
}

func (c *Client) lookupObject(idx int) (*muxstream.GObject, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.objects[idx]
	return o, ok
}

func handleFilesystem(c *Client, e []string) {
	if len(e) < 2 {
		return
	}
	idx := atoiOr0(e[0])
	name := e[1]
	object := c.registerObject(idx)
	if c.filesystemHandler != nil {
		c.filesystemHandler(object, name)
	}
}

// handleBody allocates an input stream and routes it to the named
// object's pending Get callback (default FIFO-per-name dequeue, §4.K).
func handleBody(c *Client, e []string) {
	if len(e) < 4 {
		return
	}
	objIdx := atoiOr0(e[0])
	streamIdx := atoiOr0(e[1])
	mimetype := e[2]
	name := e[3]

	object, ok := c.lookupObject(objIdx)
	if !ok {
		return
	}
	stream := c.registerInputStream(streamIdx)
	object.HandleBody(name, stream, mimetype)
}

func handleUndefine(c *Client, e []string) {
	if len(e) < 1 {
		return
	}
	idx := atoiOr0(e[0])
	if object, ok := c.lookupObject(idx); ok {
		object.HandleUndefine()
		c.mu.Lock()
		delete(c.objects, idx)
		c.mu.Unlock()
	}
}

// rootStreamIndexJSON builds the RootStreamName body payload mapping
// stream name to mimetype, used by callers exposing a filesystem-backed
// named object's directory listing (§3, §6).
func rootStreamIndexJSON(entries map[string]string) string {
	raw, err := json.Marshal(entries)
	if err != nil {
		// entries is a map[string]string; Marshal only fails on cyclic or
		// unsupported types, neither possible here.
		return "{}"
	}
	return string(raw)
}
