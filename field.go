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
	"fmt"
	"time"

	"github.com/ctessum/sparse"
)

// LabelLayout is the layout used for frame timestamp labels.
const LabelLayout = "2006-01-02T15:04"

// DefaultUTCOffset is the offset between UTC and the local time used for
// frame labels.
const DefaultUTCOffset = -6 * time.Hour

// GriddedField holds one forecast variable on a regular latitude-longitude
// grid. Data is indexed by [step, lat, lon]. A GriddedField is not modified
// after it has been loaded and converted, so it can be shared between
// rendering workers.
type GriddedField struct {
	// Data holds the field values, with dimensions [step, lat, lon].
	Data *sparse.DenseArray

	// Lat and Lon are the cell-center coordinates in degrees. Lat is
	// always in ascending order.
	Lat, Lon []float64

	// Times holds the UTC valid time of each step.
	Times []time.Time
}

// NewGriddedField creates a zero-valued field with the given number of
// steps and the given coordinates.
func NewGriddedField(steps int, lat, lon []float64) *GriddedField {
	return &GriddedField{
		Data: sparse.ZerosDense(steps, len(lat), len(lon)),
		Lat:  lat,
		Lon:  lon,
	}
}

// Steps returns the number of time steps held in the field.
func (f *GriddedField) Steps() int {
	if f.Data == nil || len(f.Data.Shape) == 0 {
		return 0
	}
	return f.Data.Shape[0]
}

// FrameCount returns the number of frames that can be rendered for
// a field when the given number of timestamp labels is available.
// Mismatches between the two are resolved by truncation.
func (f *GriddedField) FrameCount(labels int) int {
	n := f.Steps()
	if labels < n {
		return labels
	}
	return n
}

// Step returns the values of time step i in row-major [lat, lon] order.
// The returned slice shares memory with f and must not be modified.
func (f *GriddedField) Step(i int) []float64 {
	n := len(f.Lat) * len(f.Lon)
	return f.Data.Elements[i*n : (i+1)*n]
}

// Labels returns a timestamp label for each step, shifted from UTC
// by offset.
func (f *GriddedField) Labels(offset time.Duration) []string {
	o := make([]string, len(f.Times))
	for i, t := range f.Times {
		o[i] = t.UTC().Add(offset).Format(LabelLayout)
	}
	return o
}

// check returns an error if the dimensions of the field are inconsistent.
func (f *GriddedField) check() error {
	if f.Data == nil || len(f.Data.Shape) != 3 {
		return fmt.Errorf("camsmap: field must have dimensions [step, lat, lon]")
	}
	if f.Data.Shape[1] != len(f.Lat) || f.Data.Shape[2] != len(f.Lon) {
		return fmt.Errorf("camsmap: field shape %v does not match %d latitudes and %d longitudes",
			f.Data.Shape, len(f.Lat), len(f.Lon))
	}
	return nil
}

// ensureAscending flips the latitude axis of f in place if it is stored
// north to south.
func (f *GriddedField) ensureAscending() {
	ny, nx := len(f.Lat), len(f.Lon)
	if ny < 2 || f.Lat[0] < f.Lat[ny-1] {
		return
	}
	for i, j := 0, ny-1; i < j; i, j = i+1, j-1 {
		f.Lat[i], f.Lat[j] = f.Lat[j], f.Lat[i]
	}
	for s := 0; s < f.Steps(); s++ {
		v := f.Step(s)
		for i, j := 0, ny-1; i < j; i, j = i+1, j-1 {
			for k := 0; k < nx; k++ {
				v[i*nx+k], v[j*nx+k] = v[j*nx+k], v[i*nx+k]
			}
		}
	}
}

// Extent returns the area covered by the grid cells of f.
func (f *GriddedField) Extent() (Extent, error) { return gridExtent(f.Lat, f.Lon) }
