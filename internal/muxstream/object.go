// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package muxstream

import (
	"strconv"
	"sync"
)

// RootStreamName is the distinguished stream name ("/") whose body is a
// JSON object mapping name to mimetype for every other stream the object
// exposes (§3/§6).
const RootStreamName = "/"

// RootStreamMimetype is the mimetype of the root stream's body.
const RootStreamMimetype = "application/vnd.glyptodon.guacamole.stream-index+json"

// BodyCallback receives an inbound named-object body stream and its
// mimetype.
type BodyCallback func(stream *InputStream, mimetype string)

// GObject is a named object (§3): a higher-level container addressing
// multiple streams by name rather than by a single numeric index. The
// client requests a stream with Get, queuing a BodyCallback that is
// dequeued (FIFO, per name) when the matching "body" instruction arrives.
type GObject struct {
	Index int

	sender Sender

	mu      sync.Mutex
	pending map[string][]BodyCallback

	onUndefine func()
}

// NewGObject allocates a named object bound to idx.
func NewGObject(idx int, sender Sender) *GObject {
	return &GObject{Index: idx, sender: sender, pending: make(map[string][]BodyCallback)}
}

// OnUndefine registers the callback fired when the server undefines this
// object.
func (o *GObject) OnUndefine(fn func()) { o.onUndefine = fn }

// HandleUndefine dispatches the object's undefine signal.
func (o *GObject) HandleUndefine() {
	if o.onUndefine != nil {
		o.onUndefine()
	}
}

// Get requests the named stream's body from the server, queuing cb to run
// when the corresponding "body" instruction arrives.
func (o *GObject) Get(name string, cb BodyCallback) error {
	o.mu.Lock()
	o.pending[name] = append(o.pending[name], cb)
	o.mu.Unlock()

	if o.sender == nil {
		return nil
	}
	return o.sender.Send("get", strconv.Itoa(o.Index), name)
}

// HandleBody dequeues the next pending callback registered for name (FIFO)
// and invokes it with the inbound stream. If nothing was queued for name,
// the body is silently dropped — the default behaviour the spec describes
// for unrequested bodies.
func (o *GObject) HandleBody(name string, stream *InputStream, mimetype string) {
	o.mu.Lock()
	cbs := o.pending[name]
	var cb BodyCallback
	if len(cbs) > 0 {
		cb = cbs[0]
		o.pending[name] = cbs[1:]
	}
	o.mu.Unlock()

	if cb != nil {
		cb(stream, mimetype)
	}
}

// Put opens an output stream under name, carrying mimetype, to send data
// into the object.
func (o *GObject) Put(name, mimetype string, idx int) *OutputStream {
	out := NewOutputStream(idx, o.sender)
	if o.sender != nil {
		o.sender.Send("put", strconv.Itoa(o.Index), strconv.Itoa(idx), mimetype, name)
	}
	return out
}
