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
	"math"
	"reflect"

	"github.com/ctessum/unit"
	"gonum.org/v1/gonum/floats"
)

// AirDensity is the density of air used to turn dust mixing ratios
// into concentrations.
var AirDensity = unit.New(1.225, unit.KilogramPerMeter3)

// microgramsPerKilogram converts kg to µg.
const microgramsPerKilogram = 1.0e9

// Conversion is a named rule for turning raw model output into
// display units.
type Conversion int

const (
	// NoConversion leaves the field unchanged. It is used for
	// dimensionless quantities such as aerosol optical depth.
	NoConversion Conversion = iota

	// MassConcentration converts a mass concentration in kg/m³ to µg/m³.
	MassConcentration

	// DustMixingRatio sums one or more dust size-bin mixing ratios
	// [kg/kg] and converts the total to a concentration in µg/m³
	// using AirDensity.
	DustMixingRatio
)

var conversionNames = map[Conversion]string{
	NoConversion:      "none",
	MassConcentration: "pm",
	DustMixingRatio:   "dust",
}

func (c Conversion) String() string {
	if s, ok := conversionNames[c]; ok {
		return s
	}
	return fmt.Sprintf("Conversion(%d)", int(c))
}

// MarshalText implements encoding.TextMarshaler.
func (c Conversion) MarshalText() ([]byte, error) {
	if _, ok := conversionNames[c]; !ok {
		return nil, fmt.Errorf("camsmap: invalid conversion %d", int(c))
	}
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Conversion) UnmarshalText(text []byte) error {
	for k, v := range conversionNames {
		if v == string(text) {
			*c = k
			return nil
		}
	}
	return fmt.Errorf("camsmap: unknown conversion %q", text)
}

// factor returns the multiplier applied by c.
func (c Conversion) factor() (float64, error) {
	switch c {
	case NoConversion:
		return 1, nil
	case MassConcentration:
		return microgramsPerKilogram, nil
	case DustMixingRatio:
		// The mixing ratio is mass per mass of air, so multiplying by
		// air density has to give a density.
		d := unit.Mul(unit.New(1, unit.Dimless), AirDensity)
		if err := d.Check(unit.KilogramPerMeter3); err != nil {
			return 0, fmt.Errorf("camsmap: dust conversion: %v", err)
		}
		return d.Value() * microgramsPerKilogram, nil
	default:
		return 0, fmt.Errorf("camsmap: invalid conversion %d", int(c))
	}
}

// Convert applies conversion c to the given raw fields and returns a new
// field in display units. Only DustMixingRatio accepts more than one input;
// the inputs are summed before scaling. The inputs are not modified.
func Convert(c Conversion, raw ...*GriddedField) (*GriddedField, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("camsmap: convert %s: no input fields", c)
	}
	if len(raw) > 1 && c != DustMixingRatio {
		return nil, fmt.Errorf("camsmap: convert %s: expected 1 input field but got %d", c, len(raw))
	}
	factor, err := c.factor()
	if err != nil {
		return nil, err
	}
	first := raw[0]
	out := &GriddedField{
		Data:  first.Data.Copy(),
		Lat:   first.Lat,
		Lon:   first.Lon,
		Times: first.Times,
	}
	for _, r := range raw[1:] {
		if !reflect.DeepEqual(r.Data.Shape, first.Data.Shape) {
			return nil, fmt.Errorf("camsmap: convert %s: field shape %v does not match %v",
				c, r.Data.Shape, first.Data.Shape)
		}
		if !floats.Equal(r.Lat, first.Lat) || !floats.Equal(r.Lon, first.Lon) {
			return nil, fmt.Errorf("camsmap: convert %s: input fields are on different grids", c)
		}
		floats.Add(out.Data.Elements, r.Data.Elements)
	}
	floats.Scale(factor, out.Data.Elements)
	return out, nil
}

// ClampNonPositive replaces every value that is less than or equal to
// zero with NaN, which is rendered as missing.
func ClampNonPositive(v []float64) {
	for i, x := range v {
		if x <= 0 {
			v[i] = math.NaN()
		}
	}
}
