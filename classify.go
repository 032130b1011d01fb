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
	"image/color"
	"math"
	"sort"
	"strconv"

	"gonum.org/v1/plot"
)

// A Scheme assigns field values to discrete color bins. It is
// implemented by *Continuous and *Categorical.
//
// Binning is left-closed: bin i holds values v with
// bounds[i] <= v < bounds[i+1], so a value exactly on a boundary
// belongs to the higher bin. Values outside the bounds saturate into
// the first or last bin.
type Scheme interface {
	// Class returns the bin index for v, or -1 if v is NaN.
	Class(v float64) int

	// Colors returns the fill color of each bin.
	Colors() []color.Color

	// Ticks returns the legend tick marks. Tick values are in legend
	// coordinates, where bin i spans [i, i+1].
	Ticks() []plot.Tick

	// Extended reports whether the legend should show saturating
	// extensions beyond the first and last bins.
	Extended() bool
}

// classify returns the left-closed bin of v within bounds.
func classify(bounds []float64, v float64) int {
	if math.IsNaN(v) {
		return -1
	}
	i := sort.Search(len(bounds), func(i int) bool { return bounds[i] > v }) - 1
	if i < 0 {
		return 0
	}
	if last := len(bounds) - 2; i > last {
		return last
	}
	return i
}

func checkBounds(bounds []float64) error {
	if len(bounds) < 2 {
		return fmt.Errorf("camsmap: classification needs at least 2 boundaries, got %d", len(bounds))
	}
	for i := 1; i < len(bounds); i++ {
		if !(bounds[i] > bounds[i-1]) {
			return fmt.Errorf("camsmap: classification boundaries must be strictly increasing: %v", bounds)
		}
	}
	return nil
}

// Continuous is a Scheme with evenly spaced numeric levels colored from
// a named color ramp.
type Continuous struct {
	// Levels are the bin boundaries.
	Levels []float64

	// Ramp is the name of the color ramp. See RampColors.
	Ramp string

	colors []color.Color
}

// NewContinuous returns a continuous scheme with the given levels and
// color ramp.
func NewContinuous(levels []float64, ramp string) (*Continuous, error) {
	if err := checkBounds(levels); err != nil {
		return nil, err
	}
	c, err := RampColors(ramp, len(levels)-1)
	if err != nil {
		return nil, err
	}
	return &Continuous{Levels: levels, Ramp: ramp, colors: c}, nil
}

// Arange returns evenly spaced values in the half-open interval
// [start, stop).
func Arange(start, stop, step float64) []float64 {
	if step <= 0 || stop <= start {
		return nil
	}
	n := int(math.Ceil((stop - start) / step))
	o := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		v := start + float64(i)*step
		if v >= stop {
			break
		}
		o = append(o, v)
	}
	return o
}

// Class implements Scheme.
func (c *Continuous) Class(v float64) int { return classify(c.Levels, v) }

// Colors implements Scheme.
func (c *Continuous) Colors() []color.Color { return c.colors }

// Extended implements Scheme.
func (c *Continuous) Extended() bool { return true }

// maxTickIntervals is the largest number of intervals between labeled
// continuous legend ticks.
const maxTickIntervals = 10

// Ticks implements Scheme. Labels are placed on the level boundaries,
// thinned so that at most maxTickIntervals+1 are shown.
func (c *Continuous) Ticks() []plot.Tick {
	every := int(math.Ceil(float64(len(c.Levels)-1) / maxTickIntervals))
	if every < 1 {
		every = 1
	}
	var t []plot.Tick
	for i := 0; i < len(c.Levels); i += every {
		t = append(t, plot.Tick{Value: float64(i), Label: strconv.FormatFloat(c.Levels[i], 'g', 4, 64)})
	}
	return t
}

// Categorical is a Scheme with a fixed set of labeled categories.
type Categorical struct {
	// Bounds holds the N+1 category boundaries.
	Bounds []float64

	// Palette holds one color per category.
	Palette []color.Color

	// Labels holds one label per category.
	Labels []string
}

// NewCategorical returns a categorical scheme, checking that len(bounds)
// is one greater than the number of colors and labels.
func NewCategorical(bounds []float64, colors []color.Color, labels []string) (*Categorical, error) {
	if err := checkBounds(bounds); err != nil {
		return nil, err
	}
	n := len(bounds) - 1
	if len(colors) != n || len(labels) != n {
		return nil, fmt.Errorf("camsmap: %d categorical boundaries need %d colors and labels; got %d and %d",
			len(bounds), n, len(colors), len(labels))
	}
	return &Categorical{Bounds: bounds, Palette: colors, Labels: labels}, nil
}

// Class implements Scheme.
func (c *Categorical) Class(v float64) int { return classify(c.Bounds, v) }

// Label returns the category label for v, or an empty string if v is NaN.
func (c *Categorical) Label(v float64) string {
	i := c.Class(v)
	if i < 0 {
		return ""
	}
	return c.Labels[i]
}

// Colors implements Scheme.
func (c *Categorical) Colors() []color.Color { return c.Palette }

// Extended implements Scheme.
func (c *Categorical) Extended() bool { return false }

// Ticks implements Scheme. Labels are centered on each category.
func (c *Categorical) Ticks() []plot.Tick {
	t := make([]plot.Tick, len(c.Labels))
	for i, l := range c.Labels {
		t[i] = plot.Tick{Value: float64(i) + 0.5, Label: l}
	}
	return t
}

// Air-quality (ICCA) categories.
var (
	// HealthCategories are the English ICCA category labels.
	HealthCategories = []string{
		"Good",
		"Moderate",
		"Unhealthy for sensitive groups",
		"Unhealthy",
		"Very unhealthy",
		"Hazardous",
	}

	// HealthCategoriesES are the Spanish ICCA category labels.
	HealthCategoriesES = []string{
		"Buena",
		"Moderada",
		"Dañina sensibles",
		"Dañina salud",
		"Muy dañina",
		"Peligroso",
	}

	// HealthColors are the ICCA category colors.
	HealthColors = []string{"#92d14f", "#ffff01", "#ffc000", "#fe0000", "#7030a0", "#000000"}

	// PM10Bounds are the ICCA PM10 breakpoints [µg/m³]. The "Good"
	// category starts at 0 so that the table has one more boundary than
	// it has categories.
	PM10Bounds = []float64{0, 56, 155, 255, 355, 424, 604}

	// PM25Bounds are the ICCA PM2.5 breakpoints [µg/m³], starting at 0
	// for the same reason as PM10Bounds.
	PM25Bounds = []float64{0, 15.5, 40.5, 66, 160, 251, 500}
)

// ICCA returns the categorical air-quality scheme with the given
// breakpoints and labels.
func ICCA(bounds []float64, labels []string) (*Categorical, error) {
	colors := make([]color.Color, len(HealthColors))
	for i, h := range HealthColors {
		c, err := ParseHexColor(h)
		if err != nil {
			return nil, err
		}
		colors[i] = c
	}
	return NewCategorical(bounds, colors, labels)
}
