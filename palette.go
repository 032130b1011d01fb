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
	"strconv"
	"strings"

	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/palette/brewer"
	"gonum.org/v1/plot/palette/moreland"
)

// DefaultRamp is the color ramp used for continuous products.
const DefaultRamp = "YlOrBr"

// RampColors returns n colors sampled evenly from the named color ramp.
// The name may be any sequential ColorBrewer palette (for example "YlOrBr"
// or "Reds"), "blackbody" (alias "inferno") or "kindlmann" (alias "plasma").
func RampColors(name string, n int) ([]color.Color, error) {
	if n <= 0 {
		return nil, fmt.Errorf("camsmap: ramp %s: invalid number of colors %d", name, n)
	}
	var cm palette.ColorMap
	switch strings.ToLower(name) {
	case "blackbody", "inferno":
		cm = moreland.ExtendedBlackBody()
	case "kindlmann", "plasma":
		cm = moreland.ExtendedKindlmann()
	default:
		stops, err := brewerStops(name)
		if err != nil {
			return nil, err
		}
		cm, err = moreland.NewLuminance(stops)
		if err != nil {
			// Not every palette has monotonic luminance.
			return interpolate(stops, n), nil
		}
	}
	cm.SetMin(0)
	cm.SetMax(1)
	o := make([]color.Color, n)
	for i := range o {
		c, err := cm.At((float64(i) + 0.5) / float64(n))
		if err != nil {
			return nil, fmt.Errorf("camsmap: ramp %s: %v", name, err)
		}
		o[i] = c
	}
	return o, nil
}

// brewerStops returns the largest available version of the named
// sequential ColorBrewer palette.
func brewerStops(name string) ([]color.Color, error) {
	var err error
	for n := 9; n >= 3; n-- {
		p, perr := brewer.GetPalette(brewer.TypeSequential, name, n)
		if perr == nil {
			return p.Colors(), nil
		}
		err = perr
	}
	return nil, fmt.Errorf("camsmap: unknown color ramp %q: %v", name, err)
}

// interpolate linearly interpolates n colors between the given stops
// in RGB space.
func interpolate(stops []color.Color, n int) []color.Color {
	o := make([]color.Color, n)
	for i := range o {
		x := (float64(i) + 0.5) / float64(n) * float64(len(stops)-1)
		j := int(x)
		if j >= len(stops)-1 {
			j = len(stops) - 2
		}
		f := x - float64(j)
		a := color.NRGBAModel.Convert(stops[j]).(color.NRGBA)
		b := color.NRGBAModel.Convert(stops[j+1]).(color.NRGBA)
		mix := func(p, q uint8) uint8 { return uint8(float64(p)*(1-f) + float64(q)*f + 0.5) }
		o[i] = color.NRGBA{R: mix(a.R, b.R), G: mix(a.G, b.G), B: mix(a.B, b.B), A: mix(a.A, b.A)}
	}
	return o
}

// ParseHexColor parses a color in the form "#rrggbb" or "#rrggbbaa".
func ParseHexColor(s string) (color.NRGBA, error) {
	h := strings.TrimPrefix(s, "#")
	if len(h) != 6 && len(h) != 8 {
		return color.NRGBA{}, fmt.Errorf("camsmap: invalid color %q", s)
	}
	v, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("camsmap: invalid color %q: %v", s, err)
	}
	if len(h) == 6 {
		v = v<<8 | 0xff
	}
	return color.NRGBA{R: uint8(v >> 24), G: uint8(v >> 16), B: uint8(v >> 8), A: uint8(v)}, nil
}
