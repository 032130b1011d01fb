/*
Copyright © 2024 the CAMSMap authors.
This file is part of CAMSMap.

CAMSMap is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

CAMSMap is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with CAMSMap.  If not, see <http://www.gnu.org/licenses/>.
*/

package camsmap

import (
	"context"
	"fmt"
	"image/color"
	"io"
	"os"
	"sync"
	"time"

	"github.com/ctessum/geom"
	"github.com/jonboulle/clockwork"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
)

// DefaultAttribution is the second title line of every frame.
const DefaultAttribution = "Modelo CAMS - Observatorio de Amenazas - MARN"

// FramePath returns the path of frame i of the product with the given
// base name. The index is zero-padded so that frames sort lexically.
func FramePath(base string, i int) string {
	return fmt.Sprintf("%s_%03d.png", base, i)
}

// RenderJob holds everything needed to draw one frame. Jobs share
// read-only inputs and have no mutable state in common.
type RenderJob struct {
	// Values holds one time step of the field in row-major [lat, lon] order.
	Values []float64

	// Lat and Lon are the ascending cell-center coordinates.
	Lat, Lon []float64

	// Label is the local-time timestamp of the frame.
	Label string

	Scheme Scheme
	Assets *Assets

	// Name is the display name of the variable.
	Name string

	// Base is the output path without the frame index and extension.
	Base  string
	Index int

	// LegendShrink is the fraction of the frame width used by the color
	// legend. Zero means DefaultLegendShrink.
	LegendShrink float64

	// Created is the generation time stamped in the footer. If it is
	// zero the renderer clock is used.
	Created time.Time

	gate *frameGate
}

// frameGate decides, once, whether a frame is moved into place or
// abandoned. It is shared by a renderer and the batch waiting on it.
type frameGate struct {
	mu        sync.Mutex
	committed bool
	abandoned bool
}

// commit runs rename unless the frame has been abandoned.
func (g *frameGate) commit(rename func() error) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.abandoned {
		return false, nil
	}
	if err := rename(); err != nil {
		return false, err
	}
	g.committed = true
	return true, nil
}

// abandon stops a pending frame from being committed. It returns true if
// the frame was already committed.
func (g *frameGate) abandon() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.committed {
		return true
	}
	g.abandoned = true
	return false
}

// Path returns the file the job is written to.
func (j *RenderJob) Path() string { return FramePath(j.Base, j.Index) }

// DefaultLegendShrink is the default fraction of the frame width used
// by the color legend.
const DefaultLegendShrink = 0.4

// Renderer draws frames.
type Renderer struct {
	// Width is the width of each frame.
	Width vg.Length

	// DPI is the output resolution.
	DPI int

	// Attribution is the second line of each title.
	Attribution string

	// Clock supplies the generation time when a job does not have one.
	Clock clockwork.Clock
}

// NewRenderer returns a renderer with default settings.
func NewRenderer() *Renderer {
	return &Renderer{
		Width:       12 * vg.Inch,
		DPI:         100,
		Attribution: DefaultAttribution,
		Clock:       clockwork.NewRealClock(),
	}
}

const (
	legendStrip = 0.9 * vg.Inch
	footerStrip = 0.3 * vg.Inch
)

// Render draws job to job.Path(). The frame is written to a temporary
// file and renamed into place only if ctx has not been canceled, so an
// abandoned frame never leaves a partial image behind. Panics in the
// drawing code are returned as errors wrapping ErrFrameRender.
func (r *Renderer) Render(ctx context.Context, job *RenderJob) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %s: %v", ErrFrameRender, job.Path(), p)
		}
	}()
	path := job.Path()
	tmp := path + ".tmp"
	w, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFrameRender, err)
	}
	if err = r.draw(ctx, w, job); err != nil {
		w.Close()
		os.Remove(tmp)
		return err
	}
	if err = w.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: %v", ErrFrameRender, err)
	}
	if err = ctx.Err(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: %s: %v", ErrFrameRender, path, err)
	}
	gate := job.gate
	if gate == nil {
		gate = new(frameGate)
	}
	ok, err := gate.commit(func() error { return os.Rename(tmp, path) })
	if err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: %v", ErrFrameRender, err)
	}
	if !ok {
		os.Remove(tmp)
		return fmt.Errorf("%w: %s: abandoned", ErrFrameRender, path)
	}
	return nil
}

// Draw writes job to w as a PNG image.
func (r *Renderer) Draw(w io.Writer, job *RenderJob) error {
	return r.draw(context.Background(), w, job)
}

// draw is Draw that stops filling cells once ctx is done.
func (r *Renderer) draw(ctx context.Context, w io.Writer, job *RenderJob) error {
	ext, err := gridExtent(job.Lat, job.Lon)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrFrameRender, job.Path(), err)
	}
	if len(job.Values) != len(job.Lat)*len(job.Lon) {
		return fmt.Errorf("%w: %s: %d values for a %dx%d grid", ErrFrameRender, job.Path(),
			len(job.Values), len(job.Lat), len(job.Lon))
	}
	assets := job.Assets
	if assets == nil {
		assets = new(Assets)
	}

	aspect := (ext.E - ext.W) / (ext.N - ext.S)
	mapHeight := r.Width / vg.Length(aspect)
	height := mapHeight + legendStrip + footerStrip

	img := vgimg.NewWith(vgimg.UseWH(r.Width, height), vgimg.UseDPI(r.DPI))
	dc := draw.New(img)
	footerC := draw.Crop(dc, 0, 0, 0, footerStrip-height)
	shrink := job.LegendShrink
	if shrink <= 0 || shrink > 1 {
		shrink = DefaultLegendShrink
	}
	margin := r.Width * vg.Length(1-shrink) / 2
	legendC := draw.Crop(dc, margin, -margin, footerStrip, footerStrip+legendStrip-height)
	mapC := draw.Crop(dc, 0, 0, footerStrip+legendStrip, 0)

	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s - %s (hora local)\n%s", job.Name, job.Label, r.Attribution)
	p.X.Label.Text = "Longitud"
	p.Y.Label.Text = "Latitud"

	p.Add(&cellPlotter{ctx: ctx, job: job, colors: job.Scheme.Colors()})
	grid := plotter.NewGrid()
	grid.Vertical.Color = color.Gray{Y: 128}
	grid.Vertical.Dashes = []vg.Length{vg.Points(3), vg.Points(3)}
	grid.Horizontal = grid.Vertical
	p.Add(grid)
	p.Add(&boundaryPlotter{layers: assets.Boundaries})
	if assets.Logo != nil {
		x0, y0, x1, y1 := assets.Logo.bounds(ext)
		p.Add(plotter.NewImage(assets.Logo.Image, x0, y0, x1, y1))
	}
	if _, categorical := job.Scheme.(*Categorical); categorical && assets.Legend != nil {
		x0, y0, x1, y1 := assets.Legend.bounds(ext)
		p.Add(plotter.NewImage(assets.Legend.Image, x0, y0, x1, y1))
	}
	p.X.Min, p.X.Max = ext.W, ext.E
	p.Y.Min, p.Y.Max = ext.S, ext.N
	p.Draw(mapC)
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrFrameRender, job.Path(), err)
	}

	drawLegend(legendC, job.Scheme)

	created := job.Created
	if created.IsZero() {
		created = r.Clock.Now()
	}
	sty := p.Title.TextStyle
	sty.Font.Size = vg.Points(8)
	sty.XAlign = draw.XRight
	sty.YAlign = draw.YCenter
	footerC.FillText(sty, vg.Point{X: footerC.Max.X - vg.Points(6), Y: (footerC.Min.Y + footerC.Max.Y) / 2},
		"Hora de creación: "+created.Format("02/01/2006 15:04:05")+" (hora local)")

	png := vgimg.PngCanvas{Canvas: img}
	if _, err := png.WriteTo(w); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrFrameRender, job.Path(), err)
	}
	return nil
}

// gridExtent returns the area covered by cells centered on lat and lon.
func gridExtent(lat, lon []float64) (Extent, error) {
	if len(lat) < 2 || len(lon) < 2 {
		return Extent{}, fmt.Errorf("grid must have at least 2 latitudes and longitudes")
	}
	y0, y1 := cellEdges(lat, 0), cellEdges(lat, len(lat)-1)
	x0, x1 := cellEdges(lon, 0), cellEdges(lon, len(lon)-1)
	e := Extent{W: x0[0], E: x1[1], S: y0[0], N: y1[1]}
	if !(e.E > e.W) || !(e.N > e.S) {
		return Extent{}, fmt.Errorf("coordinates must be ascending")
	}
	return e, nil
}

// cellEdges returns the lower and upper edges of cell i, halfway between
// neighboring centers.
func cellEdges(c []float64, i int) [2]float64 {
	var lo, hi float64
	if i > 0 {
		lo = (c[i-1] + c[i]) / 2
	} else {
		lo = c[0] - (c[1]-c[0])/2
	}
	if i < len(c)-1 {
		hi = (c[i] + c[i+1]) / 2
	} else {
		n := len(c) - 1
		hi = c[n] + (c[n]-c[n-1])/2
	}
	return [2]float64{lo, hi}
}

// cellPlotter fills each grid cell with the color of its class.
// Missing values are left transparent.
type cellPlotter struct {
	ctx    context.Context
	job    *RenderJob
	colors []color.Color
}

func (cp *cellPlotter) Plot(c draw.Canvas, plt *plot.Plot) {
	trX, trY := plt.Transforms(&c)
	nx := len(cp.job.Lon)
	for j := range cp.job.Lat {
		if cp.ctx.Err() != nil {
			return
		}
		y := cellEdges(cp.job.Lat, j)
		for i := range cp.job.Lon {
			k := cp.job.Scheme.Class(cp.job.Values[j*nx+i])
			if k < 0 {
				continue
			}
			x := cellEdges(cp.job.Lon, i)
			pts := []vg.Point{
				{X: trX(x[0]), Y: trY(y[0])},
				{X: trX(x[1]), Y: trY(y[0])},
				{X: trX(x[1]), Y: trY(y[1])},
				{X: trX(x[0]), Y: trY(y[1])},
			}
			c.FillPolygon(cp.colors[k], c.ClipPolygonXY(pts))
		}
	}
}

func (cp *cellPlotter) DataRange() (xmin, xmax, ymin, ymax float64) {
	e, err := gridExtent(cp.job.Lat, cp.job.Lon)
	if err != nil {
		return 0, 1, 0, 1
	}
	return e.W, e.E, e.S, e.N
}

// boundaryPlotter draws boundary layers as unfilled outlines.
type boundaryPlotter struct {
	layers []BoundaryLayer
}

func (b *boundaryPlotter) Plot(c draw.Canvas, plt *plot.Plot) {
	trX, trY := plt.Transforms(&c)
	for _, l := range b.layers {
		for _, g := range l.Shapes {
			for _, path := range outlines(g) {
				pts := make([]vg.Point, len(path))
				for i, p := range path {
					pts[i] = vg.Point{X: trX(p.X), Y: trY(p.Y)}
				}
				c.StrokeLines(l.Style, c.ClipLinesXY(pts)...)
			}
		}
	}
}

// outlines returns the lines that make up g. Polygon rings are closed.
// Geometry types without an outline, such as points, are skipped.
func outlines(g geom.Geom) [][]geom.Point {
	switch t := g.(type) {
	case geom.LineString:
		return [][]geom.Point{[]geom.Point(t)}
	case geom.MultiLineString:
		o := make([][]geom.Point, len(t))
		for i, l := range t {
			o[i] = []geom.Point(l)
		}
		return o
	case geom.Polygon:
		o := make([][]geom.Point, 0, len(t))
		for _, ring := range t {
			r := []geom.Point(ring)
			if len(r) == 0 {
				continue
			}
			if r[0] != r[len(r)-1] {
				r = append(append([]geom.Point(nil), r...), r[0])
			}
			o = append(o, r)
		}
		return o
	case geom.MultiPolygon:
		var o [][]geom.Point
		for _, p := range t {
			o = append(o, outlines(p)...)
		}
		return o
	}
	return nil
}

// colorBar draws one swatch per class, with optional extensions at
// both ends for saturating schemes.
type colorBar struct {
	colors   []color.Color
	extended bool
}

// extendFraction is the length of each legend extension relative to the
// length of the color bar.
const extendFraction = 0.05

func (cb *colorBar) extension() float64 {
	if !cb.extended {
		return 0
	}
	return extendFraction * float64(len(cb.colors))
}

func (cb *colorBar) Plot(c draw.Canvas, plt *plot.Plot) {
	trX, trY := plt.Transforms(&c)
	rect := func(x0, x1 float64, col color.Color) {
		pts := []vg.Point{
			{X: trX(x0), Y: trY(0)},
			{X: trX(x1), Y: trY(0)},
			{X: trX(x1), Y: trY(1)},
			{X: trX(x0), Y: trY(1)},
		}
		c.FillPolygon(col, c.ClipPolygonXY(pts))
	}
	for i, col := range cb.colors {
		rect(float64(i), float64(i+1), col)
	}
	if e := cb.extension(); e > 0 {
		n := float64(len(cb.colors))
		rect(-e, 0, cb.colors[0])
		rect(n, n+e, cb.colors[len(cb.colors)-1])
	}
}

func (cb *colorBar) DataRange() (xmin, xmax, ymin, ymax float64) {
	e := cb.extension()
	return -e, float64(len(cb.colors)) + e, 0, 1
}

// drawLegend draws a horizontal color legend for s on c.
func drawLegend(c draw.Canvas, s Scheme) {
	p := plot.New()
	cb := &colorBar{colors: s.Colors(), extended: s.Extended()}
	p.Add(cb)
	p.HideY()
	p.X.Padding = 0
	p.X.Tick.Marker = plot.ConstantTicks(s.Ticks())
	p.X.Tick.Label.Font.Size = vg.Points(7)
	p.X.Min, p.X.Max, p.Y.Min, p.Y.Max = cb.DataRange()
	p.Draw(c)
}
