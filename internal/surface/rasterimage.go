// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package surface

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"
)

// affine is a 2x3 matrix [a c e; b d f] applied as
// x' = a*x + c*y + e, y' = b*x + d*y + f (§3's scene-graph matrix shape).
type affine struct{ a, b, c, d, e, f float64 }

var identityAffine = affine{a: 1, d: 1}

func (m affine) apply(x, y float64) (float64, float64) {
	return m.a*x + m.c*y + m.e, m.b*x + m.d*y + m.f
}

func (m affine) multiply(n affine) affine {
	return affine{
		a: m.a*n.a + m.c*n.b,
		b: m.b*n.a + m.d*n.b,
		c: m.a*n.c + m.c*n.d,
		d: m.b*n.c + m.d*n.d,
		e: m.a*n.e + m.c*n.f + m.e,
		f: m.b*n.e + m.d*n.f + m.f,
	}
}

// rasterState is everything Push/Pop save and restore: the affine
// transform, channel mask, and miter limit (§4.H).
type rasterState struct {
	transform   affine
	channelMask ChannelMask
	miterLimit  float64
}

// RasterCanvas is the reference Canvas implementation (§4.H, out-of-scope
// rasterization made concrete): a straight-alpha image.RGBA buffer with a
// flattened-path fill/stroke rasterizer, an affine transform stack, and
// image/draw-backed blit operations.
type RasterCanvas struct {
	img *image.RGBA

	state   rasterState
	stack   []rasterState
	subpath []image.Point
	paths   [][]image.Point
}

// NewRasterCanvas allocates a width x height canvas, fully transparent.
func NewRasterCanvas(width, height int) *RasterCanvas {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	return &RasterCanvas{
		img:   image.NewRGBA(image.Rect(0, 0, width, height)),
		state: rasterState{transform: identityAffine, channelMask: ChannelMaskSrcOver, miterLimit: 10},
	}
}

func (c *RasterCanvas) Width() int  { return c.img.Rect.Dx() }
func (c *RasterCanvas) Height() int { return c.img.Rect.Dy() }

// Resize grows or shrinks the canvas, redrawing existing pixels into the
// resized target and resetting the saved-state stack, but restoring the
// composite operation across the resize (§4.H).
func (c *RasterCanvas) Resize(width, height int) {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	mask := c.state.channelMask
	next := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(next, next.Bounds(), c.img, image.Point{}, draw.Src)
	c.img = next
	c.stack = nil
	c.state = rasterState{transform: identityAffine, channelMask: mask, miterLimit: 10}
	c.subpath = nil
	c.paths = nil
}

// --- Path construction ---
//
// Arcs and cubic Béziers are flattened to line segments at construction
// time; the rasterizer below only ever walks straight edges.

func (c *RasterCanvas) point(x, y float64) image.Point {
	tx, ty := c.state.transform.apply(x, y)
	return image.Point{X: int(math.Round(tx)), Y: int(math.Round(ty))}
}

func (c *RasterCanvas) MoveTo(x, y float64) {
	c.flushSubpath()
	c.subpath = []image.Point{c.point(x, y)}
}

func (c *RasterCanvas) LineTo(x, y float64) {
	c.subpath = append(c.subpath, c.point(x, y))
}

func (c *RasterCanvas) Arc(cx, cy, radius, startAngle, endAngle float64, ccw bool) {
	const segments = 48
	delta := endAngle - startAngle
	if ccw && delta > 0 {
		delta -= 2 * math.Pi
	} else if !ccw && delta < 0 {
		delta += 2 * math.Pi
	}
	for i := 0; i <= segments; i++ {
		t := startAngle + delta*float64(i)/segments
		x := cx + radius*math.Cos(t)
		y := cy + radius*math.Sin(t)
		if i == 0 && len(c.subpath) == 0 {
			c.MoveTo(x, y)
		} else {
			c.LineTo(x, y)
		}
	}
}

func (c *RasterCanvas) CurveTo(c1x, c1y, c2x, c2y, x, y float64) {
	if len(c.subpath) == 0 {
		c.MoveTo(c1x, c1y)
	}
	start := c.subpath[len(c.subpath)-1]
	sx, sy := float64(start.X), float64(start.Y)

	const segments = 24
	for i := 1; i <= segments; i++ {
		t := float64(i) / segments
		mt := 1 - t
		px := mt*mt*mt*sx + 3*mt*mt*t*c1x + 3*mt*t*t*c2x + t*t*t*x
		py := mt*mt*mt*sy + 3*mt*mt*t*c1y + 3*mt*t*t*c2y + t*t*t*y
		c.subpath = append(c.subpath, image.Point{X: int(math.Round(px)), Y: int(math.Round(py))})
	}
}

func (c *RasterCanvas) Rect(x, y, w, h float64) {
	c.MoveTo(x, y)
	c.LineTo(x+w, y)
	c.LineTo(x+w, y+h)
	c.LineTo(x, y+h)
	c.ClosePath()
}

func (c *RasterCanvas) ClosePath() {
	c.flushSubpath()
}

func (c *RasterCanvas) flushSubpath() {
	if len(c.subpath) > 0 {
		c.paths = append(c.paths, c.subpath)
		c.subpath = nil
	}
}

func (c *RasterCanvas) takePaths() [][]image.Point {
	c.flushSubpath()
	paths := c.paths
	c.paths = nil
	return paths
}

// --- Paint ---

func (c *RasterCanvas) FillColor(r, g, b, a uint8) {
	c.fillPaths(rgba{r, g, b, a})
}

func (c *RasterCanvas) FillLayer(src Canvas) {
	s, ok := src.(*RasterCanvas)
	if !ok {
		return
	}
	draw.Draw(c.img, c.img.Bounds(), s.img, image.Point{}, draw.Over)
}

func (c *RasterCanvas) StrokeColor(cap LineCap, join LineJoin, thickness float64, r, g, b, a uint8) {
	c.strokePaths(thickness, rgba{r, g, b, a})
}

func (c *RasterCanvas) StrokeLayer(cap LineCap, join LineJoin, thickness float64, src Canvas) {
	// Stroke-with-pattern is not meaningfully expressible on a binary
	// raster reference target; approximate by stroking with the source
	// layer's average color, which keeps the op total rather than
	// silently dropped.
	s, ok := src.(*RasterCanvas)
	if !ok {
		return
	}
	c.strokePaths(thickness, averageColor(s.img))
}

func averageColor(img *image.RGBA) rgba {
	bounds := img.Bounds()
	var rSum, gSum, bSum, aSum, n uint64
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			px := img.RGBAAt(x, y)
			rSum += uint64(px.R)
			gSum += uint64(px.G)
			bSum += uint64(px.B)
			aSum += uint64(px.A)
			n++
		}
	}
	if n == 0 {
		return rgba{}
	}
	return rgba{uint8(rSum / n), uint8(gSum / n), uint8(bSum / n), uint8(aSum / n)}
}

// fillPaths rasterizes the accumulated path with an even-odd scanline
// fill, compositing through the current channel mask.
func (c *RasterCanvas) fillPaths(color rgba) {
	paths := c.takePaths()
	bounds := c.img.Bounds()
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		xs := scanlineCrossings(paths, y)
		for i := 0; i+1 < len(xs); i += 2 {
			for x := xs[i]; x < xs[i+1]; x++ {
				if x < bounds.Min.X || x >= bounds.Max.X {
					continue
				}
				c.blendPixel(x, y, color)
			}
		}
	}
}

// strokePaths draws each path's edges as thickness-wide lines.
func (c *RasterCanvas) strokePaths(thickness float64, color rgba) {
	paths := c.takePaths()
	half := thickness / 2
	if half < 0.5 {
		half = 0.5
	}
	for _, path := range paths {
		for i := 0; i+1 < len(path); i++ {
			c.drawLine(path[i], path[i+1], half, color)
		}
	}
}

func (c *RasterCanvas) drawLine(p0, p1 image.Point, halfWidth float64, color rgba) {
	dx := float64(p1.X - p0.X)
	dy := float64(p1.Y - p0.Y)
	length := math.Hypot(dx, dy)
	if length == 0 {
		c.blendPixel(p0.X, p0.Y, color)
		return
	}
	steps := int(length) + 1
	for i := 0; i <= steps; i++ {
		t := float64(i) / float64(steps)
		cx := float64(p0.X) + dx*t
		cy := float64(p0.Y) + dy*t
		for oy := -halfWidth; oy <= halfWidth; oy++ {
			for ox := -halfWidth; ox <= halfWidth; ox++ {
				c.blendPixel(int(cx+ox), int(cy+oy), color)
			}
		}
	}
}

// scanlineCrossings returns the sorted x-crossings of every path's edges
// with horizontal line y, for an even-odd fill rule.
func scanlineCrossings(paths [][]image.Point, y int) []int {
	var xs []int
	for _, path := range paths {
		n := len(path)
		if n < 2 {
			continue
		}
		for i := 0; i < n; i++ {
			p0 := path[i]
			p1 := path[(i+1)%n]
			if p0.Y == p1.Y {
				continue
			}
			minY, maxY := p0.Y, p1.Y
			if minY > maxY {
				minY, maxY = maxY, minY
			}
			if y < minY || y >= maxY {
				continue
			}
			t := float64(y-p0.Y) / float64(p1.Y-p0.Y)
			x := float64(p0.X) + t*float64(p1.X-p0.X)
			xs = append(xs, int(math.Round(x)))
		}
	}
	for i := 1; i < len(xs); i++ {
		for j := i; j > 0 && xs[j-1] > xs[j]; j-- {
			xs[j-1], xs[j] = xs[j], xs[j-1]
		}
	}
	return xs
}

// At returns the straight-alpha pixel at (x, y), or fully transparent if
// out of bounds. Used by consumers (e.g. scene-graph compositing) that need
// read access beyond the Canvas interface's drawing operations.
func (c *RasterCanvas) At(x, y int) (r, g, b, a uint8) {
	if x < c.img.Rect.Min.X || x >= c.img.Rect.Max.X || y < c.img.Rect.Min.Y || y >= c.img.Rect.Max.Y {
		return 0, 0, 0, 0
	}
	px := c.img.RGBAAt(x, y)
	return px.R, px.G, px.B, px.A
}

// Set writes a straight-alpha pixel at (x, y) verbatim, with no
// compositing. Out-of-bounds writes are silently dropped.
func (c *RasterCanvas) Set(x, y int, r, g, b, a uint8) {
	if x < c.img.Rect.Min.X || x >= c.img.Rect.Max.X || y < c.img.Rect.Min.Y || y >= c.img.Rect.Max.Y {
		return
	}
	c.img.SetRGBA(x, y, color.RGBA{r, g, b, a})
}

func (c *RasterCanvas) blendPixel(x, y int, src rgba) {
	if x < c.img.Rect.Min.X || x >= c.img.Rect.Max.X || y < c.img.Rect.Min.Y || y >= c.img.Rect.Max.Y {
		return
	}
	dstColor := c.img.RGBAAt(x, y)
	dst := rgba{dstColor.R, dstColor.G, dstColor.B, dstColor.A}
	out := composite(c.state.channelMask, src, dst)
	c.img.SetRGBA(x, y, color.RGBA{out.R, out.G, out.B, out.A})
}

// --- Raster operations ---

// DrawImage decodes data (PNG, JPEG, or GIF — the three the built-in img/
// png/jpeg opcodes carry, §6) and blits it at (x, y).
func (c *RasterCanvas) DrawImage(x, y int, data []byte) error {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return err
	}
	bounds := img.Bounds()
	dstRect := image.Rect(x, y, x+bounds.Dx(), y+bounds.Dy())
	draw.Draw(c.img, dstRect, img, bounds.Min, draw.Over)
	return nil
}

func (c *RasterCanvas) Transfer(src Canvas, srcX, srcY, w, h, dstX, dstY int, fn TransferFunction) {
	s, ok := src.(*RasterCanvas)
	if !ok {
		return
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			sp := s.img.RGBAAt(srcX+x, srcY+y)
			dp := c.img.RGBAAt(dstX+x, dstY+y)
			out := fn.Apply(rgba{sp.R, sp.G, sp.B, sp.A}, rgba{dp.R, dp.G, dp.B, dp.A})
			c.img.SetRGBA(dstX+x, dstY+y, color.RGBA{out.R, out.G, out.B, out.A})
		}
	}
}

// Put copies src onto the canvas verbatim (raw copy, §4.H).
func (c *RasterCanvas) Put(src Canvas, srcX, srcY, w, h, dstX, dstY int) {
	s, ok := src.(*RasterCanvas)
	if !ok {
		return
	}
	srcRect := image.Rect(srcX, srcY, srcX+w, srcY+h)
	dstRect := image.Rect(dstX, dstY, dstX+w, dstY+h)
	draw.Draw(c.img, dstRect, s.img, srcRect.Min, draw.Src)
}

// Copy blits src onto the canvas, preserving destination alpha where the
// source is transparent (§4.H).
func (c *RasterCanvas) Copy(src Canvas, srcX, srcY, w, h, dstX, dstY int) {
	s, ok := src.(*RasterCanvas)
	if !ok {
		return
	}
	srcRect := image.Rect(srcX, srcY, srcX+w, srcY+h)
	dstRect := image.Rect(dstX, dstY, dstX+w, dstY+h)
	draw.Draw(c.img, dstRect, s.img, srcRect.Min, draw.Over)
}

// --- State ---

func (c *RasterCanvas) Push() {
	c.stack = append(c.stack, c.state)
}

func (c *RasterCanvas) Pop() {
	if len(c.stack) == 0 {
		return // no-op on empty stack (§4.H)
	}
	n := len(c.stack)
	c.state = c.stack[n-1]
	c.stack = c.stack[:n-1]
}

func (c *RasterCanvas) Reset() {
	c.stack = nil
	c.subpath = nil
	c.paths = nil
	mask := c.state.channelMask
	c.state = rasterState{transform: identityAffine, channelMask: mask, miterLimit: 10}
}

func (c *RasterCanvas) SetTransform(a, b, cc, d, e, f float64) {
	c.state.transform = affine{a: a, b: b, c: cc, d: d, e: e, f: f}
}

func (c *RasterCanvas) Transform(a, b, cc, d, e, f float64) {
	c.state.transform = c.state.transform.multiply(affine{a: a, b: b, c: cc, d: d, e: e, f: f})
}

func (c *RasterCanvas) SetChannelMask(mask ChannelMask) {
	c.state.channelMask = mask
}

func (c *RasterCanvas) SetMiterLimit(limit float64) {
	c.state.miterLimit = limit
}
