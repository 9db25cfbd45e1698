// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package guacclient

import (
	"strconv"

	"github.com/nishisan-dev/guac-go/internal/muxstream"
	"github.com/nishisan-dev/guac-go/internal/protocol"
)

// Mouse button bits for the Mouse outbound call (§6).
const (
	MouseButtonLeft   = 1
	MouseButtonMiddle = 2
	MouseButtonRight  = 4
	MouseButtonUp     = 8
	MouseButtonDown   = 16
)

// Size requests a screen resize (§6).
func (c *Client) Size(width, height int) error {
	return c.Send("size", strconv.Itoa(width), strconv.Itoa(height))
}

// Key reports a keysym press or release (§6).
func (c *Client) Key(keysym int, pressed bool) error {
	p := "0"
	if pressed {
		p = "1"
	}
	return c.Send("key", strconv.Itoa(keysym), p)
}

// Mouse reports pointer motion and button state; buttonMask is the OR of
// the MouseButton* bits (§6).
func (c *Client) Mouse(x, y, buttonMask int) error {
	return c.Send("mouse", strconv.Itoa(x), strconv.Itoa(y), strconv.Itoa(buttonMask))
}

// newOutputStream allocates a fresh index and binds an OutputStream to it.
func (c *Client) newOutputStream() (*muxstream.OutputStream, int) {
	idx := c.pool.Next()
	stream := muxstream.NewOutputStream(idx, c)
	c.mu.Lock()
	c.outputStreams[idx] = stream
	c.mu.Unlock()
	return stream, idx
}

// File opens an outbound file transfer stream (§6).
func (c *Client) File(mimetype, name string) (*muxstream.OutputStream, error) {
	stream, idx := c.newOutputStream()
	if err := c.Send("file", strconv.Itoa(idx), mimetype, name); err != nil {
		c.unregisterOutputStream(idx)
		return nil, err
	}
	return stream, nil
}

// Pipe opens an outbound named pipe stream (§6).
func (c *Client) Pipe(mimetype, name string) (*muxstream.OutputStream, error) {
	stream, idx := c.newOutputStream()
	if err := c.Send("pipe", strconv.Itoa(idx), mimetype, name); err != nil {
		c.unregisterOutputStream(idx)
		return nil, err
	}
	return stream, nil
}

// Clipboard opens an outbound clipboard stream (§6).
func (c *Client) Clipboard(mimetype string) (*muxstream.OutputStream, error) {
	stream, idx := c.newOutputStream()
	if err := c.Send("clipboard", strconv.Itoa(idx), mimetype); err != nil {
		c.unregisterOutputStream(idx)
		return nil, err
	}
	return stream, nil
}

// Put opens an outbound stream into a named object under name, carrying
// mimetype (§4.F, §4.K).
func (c *Client) Put(object *muxstream.GObject, name, mimetype string) *muxstream.OutputStream {
	idx := c.pool.Next()
	stream := object.Put(name, mimetype, idx)
	c.mu.Lock()
	c.outputStreams[idx] = stream
	c.mu.Unlock()
	return stream
}

// Get requests a named stream's body from a named object (§4.F, §4.K).
func (c *Client) Get(object *muxstream.GObject, name string, cb muxstream.BodyCallback) error {
	return object.Get(name, cb)
}

// Ack manually acknowledges an inbound stream by index (§6). Most callers
// go through the stream's own Reader, which acks automatically; this is
// for protocols (clipboard, custom channels) that ack without a Reader.
func (c *Client) Ack(streamIndex int, message string, code protocol.Status) error {
	return c.Send("ack", strconv.Itoa(streamIndex), message, strconv.Itoa(int(code)))
}

// Sync explicitly echoes a timestamp back to the server, outside the
// regular keep-alive cadence (§6).
func (c *Client) Sync(timestamp int64) error {
	return c.Send("sync", strconv.FormatInt(timestamp, 10))
}

// PublishFilesystemIndex sends the distinguished root-stream body for a
// filesystem-backed named object, mapping each exposed stream name to its
// mimetype (§3, §6's "Named object stream-index JSON").
func (c *Client) PublishFilesystemIndex(object *muxstream.GObject, entries map[string]string) error {
	stream := c.Put(object, muxstream.RootStreamName, muxstream.RootStreamMimetype)
	writer := muxstream.NewStringWriter(stream)
	if err := writer.SendText(rootStreamIndexJSON(entries)); err != nil {
		return err
	}
	return writer.SendEnd()
}
