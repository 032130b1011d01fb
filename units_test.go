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
	"math"
	"testing"
	"time"
)

func testField(steps int, lat, lon []float64, vals ...float64) *GriddedField {
	f := NewGriddedField(steps, lat, lon)
	copy(f.Data.Elements, vals)
	for i := 0; i < steps; i++ {
		f.Times = append(f.Times, time.Date(2024, 3, 1, i, 0, 0, 0, time.UTC))
	}
	return f
}

func approxEqual(a, b float64) bool {
	return math.Abs(a-b) <= 1e-9*math.Max(math.Abs(a), math.Abs(b))
}

func TestConvert(t *testing.T) {
	lat, lon := []float64{10, 11}, []float64{-90}
	t.Run("pm", func(t *testing.T) {
		raw := testField(1, lat, lon, 5e-8, 1e-9)
		f, err := Convert(MassConcentration, raw)
		if err != nil {
			t.Fatal(err)
		}
		if !approxEqual(f.Data.Elements[0], 50) || !approxEqual(f.Data.Elements[1], 1) {
			t.Errorf("got %v", f.Data.Elements)
		}
		if raw.Data.Elements[0] != 5e-8 {
			t.Error("input was modified")
		}
	})
	t.Run("dust", func(t *testing.T) {
		a := testField(1, lat, lon, 1e-8, 0)
		b := testField(1, lat, lon, 2e-8, 0)
		c := testField(1, lat, lon, 3e-8, 1e-9)
		f, err := Convert(DustMixingRatio, a, b, c)
		if err != nil {
			t.Fatal(err)
		}
		if want := 6e-8 * 1.225e9; !approxEqual(f.Data.Elements[0], want) {
			t.Errorf("got %g, want %g", f.Data.Elements[0], want)
		}
		if want := 1.225; !approxEqual(f.Data.Elements[1], want) {
			t.Errorf("got %g, want %g", f.Data.Elements[1], want)
		}
	})
	t.Run("none", func(t *testing.T) {
		f, err := Convert(NoConversion, testField(1, lat, lon, 0.3, 0.7))
		if err != nil {
			t.Fatal(err)
		}
		if f.Data.Elements[0] != 0.3 || f.Data.Elements[1] != 0.7 {
			t.Errorf("got %v", f.Data.Elements)
		}
	})
	t.Run("errors", func(t *testing.T) {
		if _, err := Convert(MassConcentration); err == nil {
			t.Error("no inputs should fail")
		}
		if _, err := Convert(MassConcentration, testField(1, lat, lon), testField(1, lat, lon)); err == nil {
			t.Error("pm with two inputs should fail")
		}
		if _, err := Convert(DustMixingRatio, testField(1, lat, lon), testField(2, lat, lon)); err == nil {
			t.Error("mismatched shapes should fail")
		}
		if _, err := Convert(DustMixingRatio, testField(1, lat, lon), testField(1, []float64{10, 12}, lon)); err == nil {
			t.Error("fields on different latitudes should fail")
		}
		if _, err := Convert(DustMixingRatio, testField(1, lat, lon), testField(1, lat, []float64{-89})); err == nil {
			t.Error("fields on different longitudes should fail")
		}
		if _, err := Convert(Conversion(42), testField(1, lat, lon)); err == nil {
			t.Error("invalid conversion should fail")
		}
	})
}

func TestClampNonPositive(t *testing.T) {
	v := []float64{-5, 0, 10}
	ClampNonPositive(v)
	if !math.IsNaN(v[0]) || !math.IsNaN(v[1]) || v[2] != 10 {
		t.Errorf("got %v", v)
	}
}

func TestConversionText(t *testing.T) {
	for _, c := range []Conversion{NoConversion, MassConcentration, DustMixingRatio} {
		b, err := c.MarshalText()
		if err != nil {
			t.Fatal(err)
		}
		var c2 Conversion
		if err := c2.UnmarshalText(b); err != nil {
			t.Fatal(err)
		}
		if c2 != c {
			t.Errorf("%s became %s", c, c2)
		}
	}
	var c Conversion
	if err := c.UnmarshalText([]byte("kelvin")); err == nil {
		t.Error("unknown conversion should fail")
	}
}
