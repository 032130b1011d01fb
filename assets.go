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
	"image"
	"image/color"
	_ "image/jpeg" // Register the JPEG decoder.
	_ "image/png"  // Register the PNG decoder.
	"os"
	"sort"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/encoding/shp"
	"github.com/ctessum/geom/proj"
	"github.com/ctessum/requestcache"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

// lonLat is the spatial reference of the forecast grid.
const lonLat = "+proj=longlat +datum=WGS84 +no_defs"

// Extent is a geographic bounding box in degrees.
type Extent struct {
	W, E, S, N float64
}

func (e Extent) polygon() geom.Polygon {
	return geom.Polygon{{{X: e.W, Y: e.S}, {X: e.E, Y: e.S}, {X: e.E, Y: e.N}, {X: e.W, Y: e.N}}}
}

// BoundaryLayer is a set of outlines, such as a coastline or
// administrative borders, drawn over every frame.
type BoundaryLayer struct {
	Name   string
	Shapes []geom.Geom
	Style  draw.LineStyle
}

// DefaultBoundaryStyle is the line style used for boundary layers.
var DefaultBoundaryStyle = draw.LineStyle{
	Color: color.Black,
	Width: vg.Points(0.6),
}

// Corner identifies a corner of the map.
type Corner int

// Map corners.
const (
	LowerLeft Corner = iota
	LowerRight
	UpperLeft
	UpperRight
)

// Overlay is a raster image placed in a corner of the map. Its height
// is a fraction of the plotted latitude span, so it scales with
// the map.
type Overlay struct {
	Image  image.Image
	Corner Corner
	Height float64
}

// bounds returns the data-space rectangle covered by the overlay.
func (o *Overlay) bounds(e Extent) (xmin, ymin, xmax, ymax float64) {
	h := o.Height * (e.N - e.S)
	b := o.Image.Bounds()
	w := h * float64(b.Dx()) / float64(b.Dy())
	switch o.Corner {
	case LowerLeft:
		return e.W, e.S, e.W + w, e.S + h
	case LowerRight:
		return e.E - w, e.S, e.E, e.S + h
	case UpperLeft:
		return e.W, e.N - h, e.W + w, e.N
	default:
		return e.E - w, e.N - h, e.E, e.N
	}
}

// Default overlay sizes as fractions of the latitude span.
const (
	LogoHeight   = 0.12
	LegendHeight = 0.4
)

// Assets holds the decorative elements drawn on each frame.
// Assets are shared read-only between frames.
type Assets struct {
	// Boundaries are drawn in order as unfilled outlines.
	Boundaries []BoundaryLayer

	// Logo is placed on every frame when it is not nil.
	Logo *Overlay

	// Legend is placed on frames of categorical products when it is
	// not nil.
	Legend *Overlay
}

// Select returns the assets to use for one product: the named boundary
// layers (all layers if names is empty) clipped to e, the logo, and the
// legend overlay if legend is true. Names of layers that were not loaded
// are ignored.
func (a *Assets) Select(names []string, legend bool, e Extent) *Assets {
	o := &Assets{Logo: a.Logo}
	if legend {
		o.Legend = a.Legend
	}
	byName := make(map[string]BoundaryLayer)
	for _, l := range a.Boundaries {
		byName[l.Name] = l
	}
	var layers []BoundaryLayer
	if len(names) == 0 {
		layers = a.Boundaries
	} else {
		for _, n := range names {
			if l, ok := byName[n]; ok {
				layers = append(layers, l)
			}
		}
	}
	clip := e.polygon()
	cb := clip.Bounds()
	for _, l := range layers {
		cl := BoundaryLayer{Name: l.Name, Style: l.Style}
		for _, s := range l.Shapes {
			if !s.Bounds().Overlaps(cb) {
				continue
			}
			switch g := s.(type) {
			case geom.Polygonal:
				if p := g.Intersection(clip); p != nil && len(p.Polygons()) > 0 {
					cl.Shapes = append(cl.Shapes, p)
				}
			case geom.Linear:
				if c := g.Clip(clip); c != nil {
					cl.Shapes = append(cl.Shapes, c)
				}
			}
		}
		o.Boundaries = append(o.Boundaries, cl)
	}
	return o
}

// AssetLoader reads decorative asset files, loading each file at most once.
type AssetLoader struct {
	cache *requestcache.Cache
}

type assetKind int

const (
	shapefileAsset assetKind = iota
	imageAsset
)

type assetRequest struct {
	kind assetKind
	path string
}

// NewAssetLoader returns an AssetLoader that caches up to maxEntries files
// in memory.
func NewAssetLoader(maxEntries int) *AssetLoader {
	return &AssetLoader{
		cache: requestcache.NewCache(loadAsset, 1, requestcache.Deduplicate(), requestcache.Memory(maxEntries)),
	}
}

func loadAsset(_ context.Context, payload interface{}) (interface{}, error) {
	r := payload.(assetRequest)
	switch r.kind {
	case shapefileAsset:
		return readShapes(r.path)
	case imageAsset:
		return readImage(r.path)
	}
	return nil, fmt.Errorf("camsmap: invalid asset kind %d", r.kind)
}

// Shapes returns the geometry in the shapefile at path, in longitude
// and latitude.
func (l *AssetLoader) Shapes(ctx context.Context, path string) ([]geom.Geom, error) {
	r, err := l.cache.NewRequest(ctx, assetRequest{kind: shapefileAsset, path: path}, "shp_"+path).Result()
	if err != nil {
		return nil, err
	}
	return r.([]geom.Geom), nil
}

// Image returns the decoded image at path.
func (l *AssetLoader) Image(ctx context.Context, path string) (image.Image, error) {
	r, err := l.cache.NewRequest(ctx, assetRequest{kind: imageAsset, path: path}, "img_"+path).Result()
	if err != nil {
		return nil, err
	}
	return r.(image.Image), nil
}

// Load reads all of the given decorative assets. boundaries maps layer
// names to shapefile paths; layers are kept in name order. Empty logo
// or legend paths are skipped.
func (l *AssetLoader) Load(ctx context.Context, boundaries map[string]string, logo, legend string) (*Assets, error) {
	names := make([]string, 0, len(boundaries))
	for n := range boundaries {
		names = append(names, n)
	}
	sort.Strings(names)
	a := new(Assets)
	for _, n := range names {
		g, err := l.Shapes(ctx, boundaries[n])
		if err != nil {
			return nil, err
		}
		a.Boundaries = append(a.Boundaries, BoundaryLayer{Name: n, Shapes: g, Style: DefaultBoundaryStyle})
	}
	if logo != "" {
		img, err := l.Image(ctx, logo)
		if err != nil {
			return nil, err
		}
		a.Logo = &Overlay{Image: img, Corner: LowerRight, Height: LogoHeight}
	}
	if legend != "" {
		img, err := l.Image(ctx, legend)
		if err != nil {
			return nil, err
		}
		a.Legend = &Overlay{Image: img, Corner: LowerLeft, Height: LegendHeight}
	}
	return a, nil
}

// readShapes reads a shapefile, reprojecting it to longitude and latitude
// if it has a projection file. Files without one are assumed to already
// be in longitude and latitude.
func readShapes(path string) ([]geom.Geom, error) {
	s, err := shp.NewDecoder(path)
	if err != nil {
		return nil, fmt.Errorf("camsmap: opening boundary file: %v", err)
	}
	defer s.Close()

	var ct proj.Transformer
	if src, err := s.SR(); err == nil {
		dst, err := proj.Parse(lonLat)
		if err != nil {
			return nil, fmt.Errorf("camsmap: boundary file %s: %v", path, err)
		}
		if ct, err = src.NewTransform(dst); err != nil {
			return nil, fmt.Errorf("camsmap: boundary file %s: %v", path, err)
		}
	}

	type gg struct {
		geom.Geom
	}
	var o []geom.Geom
	for {
		var rec gg
		if !s.DecodeRow(&rec) {
			break
		}
		if rec.Geom == nil {
			continue
		}
		g := rec.Geom
		if ct != nil {
			if g, err = g.Transform(ct); err != nil {
				return nil, fmt.Errorf("camsmap: boundary file %s: %v", path, err)
			}
		}
		o = append(o, g)
	}
	if err := s.Error(); err != nil {
		return nil, fmt.Errorf("camsmap: boundary file %s: %v", path, err)
	}
	return o, nil
}

func readImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("camsmap: opening image: %v", err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("camsmap: decoding image %s: %v", path, err)
	}
	return img, nil
}
