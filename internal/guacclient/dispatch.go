// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package guacclient

import (
	"strconv"

	"github.com/nishisan-dev/guac-go/internal/muxstream"
	"github.com/nishisan-dev/guac-go/internal/protocol"
	"github.com/nishisan-dev/guac-go/internal/surface"
)

type handlerFunc func(c *Client, elements []string)

// opcodeHandlers is the required-handler table (§4.K): every opcode the
// server may send. An opcode missing from this table is silently ignored
// (§7: forward compatibility).
var opcodeHandlers = map[string]handlerFunc{
	// Drawing.
	"arc":       handleArc,
	"cfill":     handleCFill,
	"clip":      handleClip,
	"close":     handleClose,
	"copy":      handleCopy,
	"cstroke":   handleCStroke,
	"curve":     handleCurve,
	"identity":  handleIdentity,
	"img":       handleImg,
	"jpeg":      handleJPEG,
	"lfill":     handleLFill,
	"line":      handleLine,
	"lstroke":   handleLStroke,
	"png":       handlePNG,
	"pop":       handlePop,
	"push":      handlePush,
	"rect":      handleRect,
	"reset":     handleReset,
	"size":      handleSize,
	"start":     handleStart,
	"transfer":  handleTransfer,
	"transform": handleTransform,

	// Scene graph.
	"dispose": handleDispose,
	"distort": handleDistort,
	"move":    handleMove,
	"shade":   handleShade,
	"set":     handleSet,

	// Control.
	"name":  handleName,
	"error": handleError,
	"sync":  handleSync,

	// Streams.
	"ack":       handleAck,
	"blob":      handleBlob,
	"end":       handleEnd,
	"audio":     handleAudio,
	"video":     handleVideo,
	"clipboard": handleClipboard,
	"file":      handleFile,
	"pipe":      handlePipe,

	// Named objects.
	"filesystem": handleFilesystem,
	"body":       handleBody,
	"undefine":   handleUndefine,

	// Nesting.
	"nest": handleNest,
}

// atoiOr0 parses s as a base-10 int, returning 0 on failure. Wire elements
// for these opcodes are always server-supplied numeric fields; a malformed
// one is a logic error local to the instruction, not a framing error, so
// it is tolerated rather than killing the tunnel (§7: "logic" errors are
// silently tolerated).
func atoiOr0(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

func atofOr0(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

func atoi64Or0(s string) int64 {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// schedule submits fn as a task against the display's render queue,
// unblocked, so it runs as part of the current frame in submission order
// (§4.I/§4.K: "submit a task to the Display").
func schedule(c *Client, fn func()) {
	c.display.Queue().Schedule(fn, false)
}

// --- Drawing ---

func handleArc(c *Client, e []string) {
	if len(e) < 7 {
		return
	}
	layer := c.display.GetLayer(atoiOr0(e[0]))
	cx, cy, radius := atofOr0(e[1]), atofOr0(e[2]), atofOr0(e[3])
	start, end := atofOr0(e[4]), atofOr0(e[5])
	ccw := e[6] == "1"
	schedule(c, func() { layer.Arc(cx, cy, radius, start, end, ccw) })
}

func handleCFill(c *Client, e []string) {
	if len(e) < 6 {
		return
	}
	mask := surface.ChannelMask(atoiOr0(e[0]))
	layer := c.display.GetLayer(atoiOr0(e[1]))
	r, g, b, a := byte(atoiOr0(e[2])), byte(atoiOr0(e[3])), byte(atoiOr0(e[4])), byte(atoiOr0(e[5]))
	schedule(c, func() {
		layer.SetChannelMask(mask)
		layer.FillColor(r, g, b, a)
	})
}

// handleClip is a no-op: the reference canvas has no clip-region support,
// so the current path is simply left in place for the next draw op rather
// than constraining it.
func handleClip(c *Client, e []string) {
	if len(e) < 1 {
		return
	}
	layer := c.display.GetLayer(atoiOr0(e[0]))
	_ = layer
}

func handleClose(c *Client, e []string) {
	if len(e) < 1 {
		return
	}
	layer := c.display.GetLayer(atoiOr0(e[0]))
	schedule(c, func() { layer.Close() })
}

func handleCopy(c *Client, e []string) {
	if len(e) < 9 {
		return
	}
	src := c.display.GetLayer(atoiOr0(e[0]))
	srcX, srcY, w, h := atoiOr0(e[1]), atoiOr0(e[2]), atoiOr0(e[3]), atoiOr0(e[4])
	mask := surface.ChannelMask(atoiOr0(e[5]))
	dst := c.display.GetLayer(atoiOr0(e[6]))
	dstX, dstY := atoiOr0(e[7]), atoiOr0(e[8])
	schedule(c, func() {
		dst.SetChannelMask(mask)
		dst.Copy(src, srcX, srcY, w, h, dstX, dstY)
	})
}

func handleCStroke(c *Client, e []string) {
	if len(e) < 10 {
		return
	}
	mask := surface.ChannelMask(atoiOr0(e[0]))
	layer := c.display.GetLayer(atoiOr0(e[1]))
	cap := surface.LineCap(atoiOr0(e[2]))
	join := surface.LineJoin(atoiOr0(e[3]))
	thickness := atofOr0(e[4])
	r, g, b, a := byte(atoiOr0(e[5])), byte(atoiOr0(e[6])), byte(atoiOr0(e[7])), byte(atoiOr0(e[8]))
	_ = e[9] // reserved element kept for wire-compat, unused by the reference backend
	schedule(c, func() {
		layer.SetChannelMask(mask)
		layer.StrokeColor(cap, join, thickness, r, g, b, a)
	})
}

func handleCurve(c *Client, e []string) {
	if len(e) < 7 {
		return
	}
	layer := c.display.GetLayer(atoiOr0(e[0]))
	c1x, c1y := atofOr0(e[1]), atofOr0(e[2])
	c2x, c2y := atofOr0(e[3]), atofOr0(e[4])
	x, y := atofOr0(e[5]), atofOr0(e[6])
	schedule(c, func() { layer.CurveTo(c1x, c1y, c2x, c2y, x, y) })
}

func handleIdentity(c *Client, e []string) {
	if len(e) < 1 {
		return
	}
	layer := c.display.GetLayer(atoiOr0(e[0]))
	schedule(c, func() { layer.SetTransform(1, 0, 0, 1, 0, 0) })
}

// handleImg allocates an input stream carrying an image, accumulates its
// raw bytes, and draws it once the stream ends (§4.K: "allocates an input
// stream, accumulates the image, draws at end"). The draw task is
// submitted blocked and only unblocked once accumulation completes.
func handleImg(c *Client, e []string) {
	if len(e) < 6 {
		return
	}
	streamIdx := atoiOr0(e[0])
	mask := surface.ChannelMask(atoiOr0(e[1]))
	layer := c.display.GetLayer(atoiOr0(e[2]))
	_ = e[3] // mimetype: the reference backend sniffs the image format from its bytes
	x, y := atoiOr0(e[4]), atoiOr0(e[5])

	stream := c.registerInputStream(streamIdx)
	var imageData []byte
	task := c.display.Queue().Schedule(func() {
		layer.SetChannelMask(mask)
		_ = layer.DrawImage(x, y, imageData)
	}, true)

	reader := muxstream.NewArrayBufferReader(stream)
	reader.OnData(func(b []byte) { imageData = append(imageData, b...) })
	reader.OnEnd(func() {
		c.unregisterInputStream(streamIdx)
		task.Unblock()
	})
}

func handleJPEG(c *Client, e []string) { drawInlineImage(c, e) }
func handlePNG(c *Client, e []string)  { drawInlineImage(c, e) }

// drawInlineImage handles the legacy single-instruction image opcodes
// (png/jpeg): layer, x, y, base64 data — no stream involved.
func drawInlineImage(c *Client, e []string) {
	if len(e) < 4 {
		return
	}
	layer := c.display.GetLayer(atoiOr0(e[0]))
	x, y := atoiOr0(e[1]), atoiOr0(e[2])
	data := decodeBase64(e[3])
	schedule(c, func() { _ = layer.DrawImage(x, y, data) })
}

func handleLFill(c *Client, e []string) {
	if len(e) < 3 {
		return
	}
	mask := surface.ChannelMask(atoiOr0(e[0]))
	layer := c.display.GetLayer(atoiOr0(e[1]))
	src := c.display.GetLayer(atoiOr0(e[2]))
	schedule(c, func() {
		layer.SetChannelMask(mask)
		layer.FillLayer(src)
	})
}

func handleLine(c *Client, e []string) {
	if len(e) < 3 {
		return
	}
	layer := c.display.GetLayer(atoiOr0(e[0]))
	x, y := atofOr0(e[1]), atofOr0(e[2])
	schedule(c, func() { layer.LineTo(x, y) })
}

func handleLStroke(c *Client, e []string) {
	if len(e) < 6 {
		return
	}
	mask := surface.ChannelMask(atoiOr0(e[0]))
	layer := c.display.GetLayer(atoiOr0(e[1]))
	cap := surface.LineCap(atoiOr0(e[2]))
	join := surface.LineJoin(atoiOr0(e[3]))
	thickness := atofOr0(e[4])
	src := c.display.GetLayer(atoiOr0(e[5]))
	schedule(c, func() {
		layer.SetChannelMask(mask)
		layer.StrokeLayer(cap, join, thickness, src)
	})
}

func handlePop(c *Client, e []string) {
	if len(e) < 1 {
		return
	}
	layer := c.display.GetLayer(atoiOr0(e[0]))
	schedule(c, func() { layer.Pop() })
}

func handlePush(c *Client, e []string) {
	if len(e) < 1 {
		return
	}
	layer := c.display.GetLayer(atoiOr0(e[0]))
	schedule(c, func() { layer.Push() })
}

func handleRect(c *Client, e []string) {
	if len(e) < 5 {
		return
	}
	layer := c.display.GetLayer(atoiOr0(e[0]))
	x, y, w, h := atofOr0(e[1]), atofOr0(e[2]), atofOr0(e[3]), atofOr0(e[4])
	schedule(c, func() { layer.Rect(x, y, w, h) })
}

func handleReset(c *Client, e []string) {
	if len(e) < 1 {
		return
	}
	layer := c.display.GetLayer(atoiOr0(e[0]))
	schedule(c, func() { layer.Reset() })
}

// handleSize resizes a buffer or the root layer; for the root it is
// equivalent to Display.Resize, for any other layer it resizes (grows or
// shrinks) that layer's canvas (§4.H).
func handleSize(c *Client, e []string) {
	if len(e) < 3 {
		return
	}
	idx := atoiOr0(e[0])
	w, h := atoiOr0(e[1]), atoiOr0(e[2])
	if idx == 0 {
		c.display.Resize(w, h)
		return
	}
	layer := c.display.GetLayer(idx)
	schedule(c, func() { layer.Resize(w, h) })
}

func handleStart(c *Client, e []string) {
	if len(e) < 3 {
		return
	}
	layer := c.display.GetLayer(atoiOr0(e[0]))
	x, y := atofOr0(e[1]), atofOr0(e[2])
	schedule(c, func() { layer.MoveTo(x, y) })
}

func handleTransfer(c *Client, e []string) {
	if len(e) < 9 {
		return
	}
	src := c.display.GetLayer(atoiOr0(e[0]))
	srcX, srcY, w, h := atoiOr0(e[1]), atoiOr0(e[2]), atoiOr0(e[3]), atoiOr0(e[4])
	fn := surface.TransferFunction(atoiOr0(e[5]))
	dst := c.display.GetLayer(atoiOr0(e[6]))
	dstX, dstY := atoiOr0(e[7]), atoiOr0(e[8])
	schedule(c, func() { dst.Transfer(src, srcX, srcY, w, h, dstX, dstY, fn) })
}

func handleTransform(c *Client, e []string) {
	if len(e) < 7 {
		return
	}
	layer := c.display.GetLayer(atoiOr0(e[0]))
	a, b, cc, d, ee, f := atofOr0(e[1]), atofOr0(e[2]), atofOr0(e[3]), atofOr0(e[4]), atofOr0(e[5]), atofOr0(e[6])
	schedule(c, func() { layer.Transform(a, b, cc, d, ee, f) })
}

// --- Scene graph ---

// handleDispose drops a layer from the scene graph: a positive index is
// detached and dropped, a negative (buffer) index is simply dropped (§4.K).
func handleDispose(c *Client, e []string) {
	if len(e) < 1 {
		return
	}
	idx := atoiOr0(e[0])
	schedule(c, func() { c.display.Dispose(idx) })
}

func handleDistort(c *Client, e []string) {
	if len(e) < 7 {
		return
	}
	idx := atoiOr0(e[0])
	if idx <= 0 {
		return // visible layers only (§4.K)
	}
	a, b, cc, d, ee, f := atofOr0(e[1]), atofOr0(e[2]), atofOr0(e[3]), atofOr0(e[4]), atofOr0(e[5]), atofOr0(e[6])
	schedule(c, func() { c.display.Distort(idx, a, b, cc, d, ee, f) })
}

func handleMove(c *Client, e []string) {
	if len(e) < 5 {
		return
	}
	idx := atoiOr0(e[0])
	if idx <= 0 {
		return // non-root, non-buffer only (§4.K)
	}
	parent, x, y, z := atoiOr0(e[1]), atoiOr0(e[2]), atoiOr0(e[3]), atoiOr0(e[4])
	schedule(c, func() { c.display.Move(idx, parent, x, y, z) })
}

func handleShade(c *Client, e []string) {
	if len(e) < 2 {
		return
	}
	idx := atoiOr0(e[0])
	if idx <= 0 {
		return // visible layers only (§4.K)
	}
	opacity := byte(atoiOr0(e[1]))
	schedule(c, func() { c.display.Shade(idx, opacity) })
}

// handleSet currently supports only "miter-limit" (§4.K).
func handleSet(c *Client, e []string) {
	if len(e) < 3 {
		return
	}
	layer := c.display.GetLayer(atoiOr0(e[0]))
	name := e[1]
	if name != "miter-limit" {
		return
	}
	limit := atofOr0(e[2])
	schedule(c, func() { layer.SetMiterLimit(limit) })
}

// --- Control ---

func handleName(c *Client, e []string) {
	if len(e) < 1 {
		return
	}
	if c.onName != nil {
		c.onName(e[0])
	}
}

// handleError fires on_error then disconnects (§4.K, §7).
func handleError(c *Client, e []string) {
	code := protocol.StatusServerError
	if len(e) >= 2 {
		code = protocol.Status(atoiOr0(e[1]))
	}
	if c.onError != nil {
		c.onError(code)
	}
	_ = c.Disconnect()
}

// handleSync flushes the display, syncs every audio player, and echoes
// the timestamp back if it changed since the last echo; transitions
// WAITING -> CONNECTED on the first sync (§4.K).
func handleSync(c *Client, e []string) {
	if len(e) < 1 {
		return
	}
	ts := atoi64Or0(e[0])
	c.lastSyncTimestamp.Store(ts)

	c.display.Queue().Flush(func() {
		c.mu.Lock()
		players := make([]AudioPlayer, 0, len(c.audioPlayers))
		for _, p := range c.audioPlayers {
			players = append(players, p)
		}
		c.mu.Unlock()

		for _, p := range players {
			p.Sync()
		}

		if c.lastEchoedTimestamp.Swap(ts) != ts {
			_ = c.tun.Send("sync", strconv.FormatInt(ts, 10))
		}

		if c.onSync != nil {
			c.onSync(ts)
		}
		if c.State() == StateWaiting {
			c.setState(StateConnected)
		}
	})
}

// --- Nesting ---

// handleNest routes data through a sub-parser keyed by index, dispatching
// every resulting instruction through the same handler table as top-level
// instructions (§4.K, Open Question #2: nested instructions are
// indistinguishable from top-level ones).
func handleNest(c *Client, e []string) {
	if len(e) < 2 {
		return
	}
	idx := atoiOr0(e[0])
	data := e[1]

	c.mu.Lock()
	parser, ok := c.nestParsers[idx]
	if !ok {
		parser = protocol.NewParser()
		c.nestParsers[idx] = parser
	}
	c.mu.Unlock()

	instructions, err := parser.Feed([]byte(data))
	if err != nil {
		// A malformed nested instruction is local to this sub-parser, not
		// the outer tunnel; drop the sub-parser rather than disconnecting.
		c.mu.Lock()
		delete(c.nestParsers, idx)
		c.mu.Unlock()
		return
	}
	for _, ins := range instructions {
		c.handleInstruction(ins.Opcode, ins.Elements)
	}
}
