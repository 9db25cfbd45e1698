// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package surface implements the Layer/Surface drawing API (§4.H): a thin,
// autosize-aware forwarding layer over a pluggable raster Canvas. Concrete
// rasterization is explicitly out of scope for the protocol core (§1); this
// package ships exactly one reference Canvas, built on stdlib image/draw,
// so the rest of the tree has something real to render into and test
// against.
package surface

import (
	"bytes"
	"image"
)

// LineCap selects how an open stroke's endpoints are rendered (§4.H).
type LineCap int

const (
	CapButt LineCap = iota
	CapRound
	CapSquare
)

// LineJoin selects how a stroke's path segments meet (§4.H).
type LineJoin int

const (
	JoinBevel LineJoin = iota
	JoinMiter
	JoinRound
)

// Canvas is the pluggable raster target every Layer forwards its drawing
// operations to (§1, §4.H: "opaque drawing target with a fixed set of
// operations"). Implementations need not be thread-safe; the render queue
// (§4.I) guarantees single-threaded access.
type Canvas interface {
	Width() int
	Height() int
	Resize(width, height int)

	MoveTo(x, y float64)
	LineTo(x, y float64)
	Arc(cx, cy, radius, startAngle, endAngle float64, counterclockwise bool)
	CurveTo(c1x, c1y, c2x, c2y, x, y float64)
	Rect(x, y, w, h float64)
	ClosePath()

	FillColor(r, g, b, a uint8)
	FillLayer(src Canvas)
	StrokeColor(cap LineCap, join LineJoin, thickness float64, r, g, b, a uint8)
	StrokeLayer(cap LineCap, join LineJoin, thickness float64, src Canvas)

	DrawImage(x, y int, data []byte) error
	Transfer(src Canvas, srcX, srcY, w, h, dstX, dstY int, fn TransferFunction)
	Put(src Canvas, srcX, srcY, w, h, dstX, dstY int)
	Copy(src Canvas, srcX, srcY, w, h, dstX, dstY int)

	Push()
	Pop()
	Reset()
	SetTransform(a, b, c, d, e, f float64)
	Transform(a, b, c, d, e, f float64)
	SetChannelMask(mask ChannelMask)
	SetMiterLimit(limit float64)
}

// Layer is a raster surface identified by a signed index (§3): 0 is the
// root visible layer, positive indices are visible layers parented beneath
// root, negative indices are off-screen buffers. Layer adds autosize
// bookkeeping on top of a Canvas — every operation here is a pure forward
// plus, when Autosize is set, growing the canvas to contain the affected
// rectangle first.
type Layer struct {
	Index int

	// Autosize is true for freshly-created buffers (negative index); false
	// for the root and for visible layers (§3).
	Autosize bool

	canvas Canvas
}

// NewLayer wraps canvas as a layer with the given index. autosize should
// be true for buffers, false for the root and visible layers.
func NewLayer(index int, canvas Canvas, autosize bool) *Layer {
	return &Layer{Index: index, Autosize: autosize, canvas: canvas}
}

// Canvas exposes the underlying raster target, e.g. for Display.flatten.
func (l *Layer) Canvas() Canvas { return l.canvas }

func (l *Layer) Width() int  { return l.canvas.Width() }
func (l *Layer) Height() int { return l.canvas.Height() }

// grow implements the autosize invariant (§4.H): any operation writing to
// (x, y, w, h) grows the layer to contain that rectangle, when enabled.
func (l *Layer) grow(x, y, w, h int) {
	if !l.Autosize {
		return
	}
	right := x + w
	bottom := y + h
	newW, newH := l.canvas.Width(), l.canvas.Height()
	grown := false
	if right > newW {
		newW = right
		grown = true
	}
	if bottom > newH {
		newH = bottom
		grown = true
	}
	if x < 0 || y < 0 {
		// A negative origin would require shifting existing content; the
		// reference canvas does not support that, so autosize only grows
		// rightward/downward, matching every caller in this codebase
		// (draw coordinates are always non-negative on the wire).
		return
	}
	if grown {
		l.Resize(newW, newH)
	}
}

// --- Path operations (§4.H) ---

func (l *Layer) MoveTo(x, y float64) { l.canvas.MoveTo(x, y) }
func (l *Layer) LineTo(x, y float64) { l.canvas.LineTo(x, y) }
func (l *Layer) Arc(cx, cy, radius, startAngle, endAngle float64, ccw bool) {
	l.canvas.Arc(cx, cy, radius, startAngle, endAngle, ccw)
}
func (l *Layer) CurveTo(c1x, c1y, c2x, c2y, x, y float64) {
	l.canvas.CurveTo(c1x, c1y, c2x, c2y, x, y)
}
func (l *Layer) Rect(x, y, w, h float64) {
	l.grow(int(x), int(y), int(w), int(h))
	l.canvas.Rect(x, y, w, h)
}
func (l *Layer) Close() { l.canvas.ClosePath() }

// --- Paint operations (§4.H) ---

func (l *Layer) FillColor(r, g, b, a uint8) { l.canvas.FillColor(r, g, b, a) }
func (l *Layer) FillLayer(src *Layer)       { l.canvas.FillLayer(src.canvas) }
func (l *Layer) StrokeColor(cap LineCap, join LineJoin, thickness float64, r, g, b, a uint8) {
	l.canvas.StrokeColor(cap, join, thickness, r, g, b, a)
}
func (l *Layer) StrokeLayer(cap LineCap, join LineJoin, thickness float64, src *Layer) {
	l.canvas.StrokeLayer(cap, join, thickness, src.canvas)
}

// --- Raster operations (§4.H) ---

func (l *Layer) DrawImage(x, y int, data []byte) error {
	// Grow before drawing (growing afterwards would clip): the image's
	// dimensions come from its header, decoded without the pixel data.
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		l.grow(x, y, cfg.Width, cfg.Height)
	}
	return l.canvas.DrawImage(x, y, data)
}

// Transfer applies fn over the (src, dst) region, fast-pathing the two
// codes the raster-op table degenerates to a plain copy for: SRC (0x3)
// becomes Put, overwriting dst's alpha with src's rather than preserving
// it the way every other code does; DST (0x5) is a no-op (§4.H).
func (l *Layer) Transfer(src *Layer, srcX, srcY, w, h, dstX, dstY int, fn TransferFunction) {
	switch fn {
	case TransferDST:
		return
	case TransferSRC:
		l.Put(src, srcX, srcY, w, h, dstX, dstY)
		return
	}
	l.grow(dstX, dstY, w, h)
	l.canvas.Transfer(src.canvas, srcX, srcY, w, h, dstX, dstY, fn)
}

func (l *Layer) Put(src *Layer, srcX, srcY, w, h, dstX, dstY int) {
	l.grow(dstX, dstY, w, h)
	l.canvas.Put(src.canvas, srcX, srcY, w, h, dstX, dstY)
}

func (l *Layer) Copy(src *Layer, srcX, srcY, w, h, dstX, dstY int) {
	l.grow(dstX, dstY, w, h)
	l.canvas.Copy(src.canvas, srcX, srcY, w, h, dstX, dstY)
}

// --- State operations (§4.H) ---

func (l *Layer) Push()                                 { l.canvas.Push() }
func (l *Layer) Pop()                                  { l.canvas.Pop() } // no-op on empty stack (canvas's responsibility)
func (l *Layer) Reset()                                { l.canvas.Reset() }
func (l *Layer) SetTransform(a, b, c, d, e, f float64) { l.canvas.SetTransform(a, b, c, d, e, f) }
func (l *Layer) Transform(a, b, c, d, e, f float64)    { l.canvas.Transform(a, b, c, d, e, f) }

// SetChannelMask applies mask if it has a defined composite mapping;
// invalid masks are silently rejected (§4.H).
func (l *Layer) SetChannelMask(mask ChannelMask) {
	if !ValidChannelMask(mask) {
		return
	}
	l.canvas.SetChannelMask(mask)
}

func (l *Layer) SetMiterLimit(limit float64) { l.canvas.SetMiterLimit(limit) }

// --- Resize (§4.H) ---

// Resize grows or shrinks the canvas, redrawing existing pixels into the
// resized target, resetting the saved-state stack, and restoring the
// composite operation across the resize.
func (l *Layer) Resize(width, height int) {
	l.canvas.Resize(width, height)
}
