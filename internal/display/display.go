// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package display implements the scene graph owned by a client connection
// (§4.J): a root layer, a stable map of visible layers and off-screen
// buffers keyed by their wire identifier, a cursor layer composited on top
// outside the render queue, and flatten — a snapshot compositor sorted by
// (z ascending, document order).
//
// A Display owns the render.Queue that serializes drawing (§5), but it
// does not wrap the Layer API itself: GetLayer hands out the Layer, and
// the client's opcode dispatcher schedules each drawing and scene-graph
// call as a Task on Queue(). Resize is the only Display method that
// schedules itself; the others, and direct Layer calls, run immediately.
package display

import (
	"sort"
	"sync"

	"github.com/nishisan-dev/guac-go/internal/render"
	"github.com/nishisan-dev/guac-go/internal/surface"
)

// CanvasFactory allocates a fresh raster backend for a new layer or buffer.
// Supplied by the caller so Display stays decoupled from any one Canvas
// implementation (§4.H: rasterization is pluggable).
type CanvasFactory func(width, height int) surface.Canvas

// node is one entry of the scene graph: a Layer plus the placement
// attributes a visible (non-buffer, non-root) layer carries (§3's "scene
// graph" paragraph).
type node struct {
	layer *surface.Layer

	parent    int
	x, y      int
	z         int
	opacity   uint8
	transform [6]float64 // a,b,c,d,e,f; identity transform when unset
	seq       int        // insertion order, breaks z-order ties
}

// Display owns the root layer, the cursor layer, and every other layer and
// buffer a connection has allocated (§4.J).
type Display struct {
	mu      sync.Mutex
	queue   *render.Queue
	factory CanvasFactory

	width, height int
	onResize      func(width, height int)

	root                   *node
	cursor                 *surface.Layer
	cursorX, cursorY       int
	cursorHotX, cursorHotY int

	nodes   map[int]*node
	nextSeq int
}

// New allocates a Display with the given initial root dimensions. factory
// is used to create the root layer, the cursor layer, and every layer or
// buffer created later via CreateLayer/CreateBuffer.
func New(factory CanvasFactory, width, height int) *Display {
	d := &Display{
		queue:   render.New(),
		factory: factory,
		width:   width,
		height:  height,
		nodes:   make(map[int]*node),
	}
	d.root = &node{layer: surface.NewLayer(0, factory(width, height), false), opacity: 255}
	d.cursor = surface.NewLayer(-1, factory(0, 0), true)
	return d
}

// Queue exposes the underlying render queue so a client's opcode dispatcher
// can schedule work and call Flush once a frame's instructions are parsed.
func (d *Display) Queue() *render.Queue { return d.queue }

// Root returns the always-present root layer (index 0).
func (d *Display) Root() *surface.Layer {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.root.layer
}

// OnResize registers a callback fired whenever the root is resized.
func (d *Display) OnResize(fn func(width, height int)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onResize = fn
}

// Width and Height report the current display dimensions (the root
// layer's size).
func (d *Display) Width() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.width
}

func (d *Display) Height() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.height
}

// Resize schedules a resize of the root layer and fires on_resize once it
// has run (§4.J: "resize on the root updates display dimensions and fires
// on_resize").
func (d *Display) Resize(width, height int) *render.Task {
	return d.queue.Schedule(func() {
		d.mu.Lock()
		d.root.layer.Resize(width, height)
		d.width, d.height = width, height
		cb := d.onResize
		d.mu.Unlock()
		if cb != nil {
			cb(width, height)
		}
	}, false)
}

// GetLayer returns the layer or buffer registered under index, creating it
// on first reference. Positive indices are visible layers parented under
// root by default, autosize false, created at the current display size;
// negative indices are off-screen buffers, autosize true, created at 0x0
// (§3). The cursor layer is held separately and is
// never returned here, not even for index -1.
func (d *Display) GetLayer(index int) *surface.Layer {
	d.mu.Lock()
	defer d.mu.Unlock()

	if index == 0 {
		return d.root.layer
	}
	if n, ok := d.nodes[index]; ok {
		return n.layer
	}

	autosize := index < 0
	width, height := 0, 0
	if !autosize {
		width, height = d.width, d.height
	}
	n := &node{
		layer:   surface.NewLayer(index, d.factory(width, height), autosize),
		parent:  0,
		opacity: 255,
		seq:     d.nextSeq,
	}
	d.nextSeq++
	d.nodes[index] = n
	return n.layer
}

// Dispose drops a layer from the scene graph (§4.K): a positive index is
// detached from its parent and dropped; a negative (buffer) index is
// simply dropped. The root layer is never disposable.
func (d *Display) Dispose(index int) {
	if index == 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.nodes, index)
}

// Move reparents a non-root, non-buffer layer, sets its translation, and
// its z-order (§4.K's move, §3's scene-graph paragraph). Buffers (negative
// index) and the root are not part of the scene graph and are ignored.
func (d *Display) Move(index, parent, x, y, z int) {
	if index <= 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	n, ok := d.nodes[index]
	if !ok {
		return
	}
	n.parent, n.x, n.y, n.z = parent, x, y, z
}

// Shade sets a visible layer's opacity (§4.K's shade). Buffers and the
// root are ignored.
func (d *Display) Shade(index int, opacity uint8) {
	if index <= 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if n, ok := d.nodes[index]; ok {
		n.opacity = opacity
	}
}

// Distort sets a visible layer's 2x3 affine matrix (§4.K's distort).
// Buffers and the root are ignored.
func (d *Display) Distort(index int, a, b, c, dd, e, f float64) {
	if index <= 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if n, ok := d.nodes[index]; ok {
		n.transform = [6]float64{a, b, c, dd, e, f}
	}
}

// MoveCursor repositions the cursor hotspot-relative to (x, y) immediately,
// bypassing the render queue for responsiveness (§4.J).
func (d *Display) MoveCursor(x, y int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cursorX, d.cursorY = x-d.cursorHotX, y-d.cursorHotY
}

// SetCursorLayer replaces the cursor's raster content and hotspot; called
// when the server sets a new cursor image.
func (d *Display) SetCursorLayer(layer *surface.Layer, hotX, hotY int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cursor = layer
	d.cursorHotX, d.cursorHotY = hotX, hotY
}

// Cursor returns the current cursor layer and its on-screen position
// (already hotspot-adjusted).
func (d *Display) Cursor() (layer *surface.Layer, x, y int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cursor, d.cursorX, d.cursorY
}

// Flatten composites the root, every visible layer sorted by (z ascending,
// document order), and the cursor (always last, source-over — §4.J) into a
// fresh raster snapshot. Flatten works against the reference canvas only;
// a visible layer backed by a different Canvas implementation is skipped,
// since only the reference raster type exposes pixel-level read access.
func (d *Display) Flatten() *surface.RasterCanvas {
	d.mu.Lock()
	ordered := d.orderedVisibleLocked()
	width, height := d.width, d.height
	rootCanvas, _ := d.root.layer.Canvas().(*surface.RasterCanvas)
	cursorLayer, cursorX, cursorY := d.cursor, d.cursorX, d.cursorY
	d.mu.Unlock()

	out := surface.NewRasterCanvas(width, height)
	if rootCanvas != nil {
		blendFull(out, rootCanvas, 255)
	}
	for _, n := range ordered {
		src, ok := n.layer.Canvas().(*surface.RasterCanvas)
		if !ok {
			continue
		}
		blendAt(out, src, n.x, n.y, n.opacity)
	}
	if cursorLayer != nil {
		if src, ok := cursorLayer.Canvas().(*surface.RasterCanvas); ok {
			blendAt(out, src, cursorX, cursorY, 255)
		}
	}
	return out
}

// orderedVisibleLocked returns every visible (positive-index) node sorted
// by (z ascending, insertion order ascending) — mu must be held.
func (d *Display) orderedVisibleLocked() []*node {
	var visible []*node
	for idx, n := range d.nodes {
		if idx > 0 {
			visible = append(visible, n)
		}
	}
	sort.Slice(visible, func(i, j int) bool {
		if visible[i].z != visible[j].z {
			return visible[i].z < visible[j].z
		}
		return visible[i].seq < visible[j].seq
	})
	return visible
}

func blendFull(dst, src *surface.RasterCanvas, opacity uint8) {
	blendAt(dst, src, 0, 0, opacity)
}

// blendAt source-over composites src onto dst at offset (x, y), scaling
// src's alpha by opacity/255.
func blendAt(dst, src *surface.RasterCanvas, x, y int, opacity uint8) {
	if opacity == 0 {
		return
	}
	for sy := 0; sy < src.Height(); sy++ {
		for sx := 0; sx < src.Width(); sx++ {
			r, g, b, a := src.At(sx, sy)
			if opacity != 255 {
				a = uint8(uint16(a) * uint16(opacity) / 255)
			}
			if a == 0 {
				continue
			}
			dx, dy := x+sx, y+sy
			dr, dg, db, da := dst.At(dx, dy)
			out := srcOver(r, g, b, a, dr, dg, db, da)
			dst.Set(dx, dy, out[0], out[1], out[2], out[3])
		}
	}
}

// srcOver computes Porter-Duff source-over for one straight-alpha pixel
// pair, the composite Flatten always uses regardless of any layer's own
// channel mask (channel masks are a per-operation raster-op concern, not a
// scene-graph one).
func srcOver(sr, sg, sb, sa, dr, dg, db, da byte) [4]byte {
	if sa == 255 {
		return [4]byte{sr, sg, sb, sa}
	}
	inv := 255 - uint16(sa)
	r := (uint16(sr)*uint16(sa) + uint16(dr)*inv) / 255
	g := (uint16(sg)*uint16(sa) + uint16(dg)*inv) / 255
	b := (uint16(sb)*uint16(sa) + uint16(db)*inv) / 255
	a := uint16(sa) + uint16(da)*inv/255
	if a > 255 {
		a = 255
	}
	return [4]byte{byte(r), byte(g), byte(b), byte(a)}
}
