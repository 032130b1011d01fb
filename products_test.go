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
	"path/filepath"
	"testing"

	"github.com/spatialmodel/camsmap/internal/cdftest"
)

func TestDefaultProducts(t *testing.T) {
	names := make(map[string]bool)
	for _, p := range DefaultProducts() {
		p := p
		if err := p.Validate(); err != nil {
			t.Errorf("%s: %v", p.Name, err)
		}
		if names[p.Name] {
			t.Errorf("duplicate product %s", p.Name)
		}
		names[p.Name] = true
		if !p.Packaged() {
			t.Errorf("%s should be packaged by default", p.Name)
		}
	}
	if len(names) != 6 {
		t.Errorf("got %d default products", len(names))
	}
}

func TestProductScheme(t *testing.T) {
	p := &Product{Name: "pm25_icca", Scheme: "categorical", Table: "pm25"}
	s, err := p.NewScheme()
	if err != nil {
		t.Fatal(err)
	}
	c, ok := s.(*Categorical)
	if !ok {
		t.Fatalf("got %T", s)
	}
	if c.Label(50) != HealthCategories[2] {
		t.Errorf("PM2.5 50 µg/m³ is %q", c.Label(50))
	}

	p = &Product{Name: "aod", Scheme: "continuous", Range: []float64{0, 1.1, 0.1}}
	s, err = p.NewScheme()
	if err != nil {
		t.Fatal(err)
	}
	if n := len(s.(*Continuous).Levels); n != 11 {
		t.Errorf("got %d levels", n)
	}

	off := false
	p.Package = &off
	if p.Packaged() {
		t.Error("package = false was ignored")
	}

	for _, bad := range []Product{
		{Name: "a", Scheme: "continuous"},
		{Name: "b", Scheme: "continuous", Range: []float64{0, 1, 0.1}, Ramp: "NoSuchRamp"},
		{Name: "c", Scheme: "categorical", Table: "o3"},
		{Name: "d", Scheme: "categorical", Table: "pm10", Colors: []string{"#ffffff"}},
		{Name: "e", Scheme: "categorical", Table: "pm10", Colors: append(append([]string(nil), HealthColors[:5]...), "blue")},
		{Name: "f", Scheme: "contour"},
	} {
		bad := bad
		if _, err := bad.NewScheme(); err == nil {
			t.Errorf("product %s: expected an error", bad.Name)
		}
	}
}

func TestProductValidate(t *testing.T) {
	ok := Product{Name: "x", Base: "cams_x", Source: "a.nc", Variables: []string{"v"},
		Scheme: "continuous", Levels: []float64{0, 1, 2}}
	if err := ok.Validate(); err != nil {
		t.Fatal(err)
	}
	for _, mod := range []func(*Product){
		func(p *Product) { p.Name = "" },
		func(p *Product) { p.Base = "" },
		func(p *Product) { p.Base = filepath.Join("a", "b") },
		func(p *Product) { p.Source = "" },
		func(p *Product) { p.Variables = nil },
		func(p *Product) { p.Levels = []float64{2, 1} },
	} {
		p := ok
		mod(&p)
		if err := p.Validate(); err == nil {
			t.Errorf("%+v should be invalid", p)
		}
	}
}

func TestProductLoad(t *testing.T) {
	dir := t.TempDir()
	writeTestDataset(t, filepath.Join(dir, "data_sfc_polvo.nc"))

	p := &Product{Name: "pm10", Source: "data_sfc_polvo.nc", Variables: []string{"pm10"},
		Conversion: MassConcentration, ClampNonPositive: true}
	f, err := p.Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	// Row 0 after flipping holds file indices 15 to 19.
	if v := f.Data.Get(0, 0, 1); math.Abs(v-16) > 1e-4 {
		t.Errorf("converted value %g; want 16", v)
	}
	if v := f.Data.Get(0, 3, 0); !math.IsNaN(v) {
		t.Errorf("zero concentration should be missing, got %g", v)
	}

	p.Source = "missing.nc"
	if _, err := p.Load(dir); err == nil {
		t.Error("missing source should be an error")
	}
	p.Source = "data_sfc_polvo.nc"
	p.Variables = []string{"pm2p5"}
	if _, err := p.Load(dir); err == nil {
		t.Error("missing variable should be an error")
	}
}

func TestProductLoadDust(t *testing.T) {
	dir := t.TempDir()
	n := 2 * 2 * 2 * 2
	vars := make(map[string][]float64)
	for _, v := range []string{"aermr04", "aermr05", "aermr06"} {
		vars[v] = make([]float64, n)
		for i := range vars[v] {
			vars[v][i] = 1e-9
		}
	}
	f := &cdftest.File{
		Lat:       []float64{10, 11},
		Lon:       []float64{-90, -89},
		Reference: testReference,
		Periods:   []float64{0, 3},
		Levels:    []float64{925, 1000},
		Vars:      vars,
	}
	if err := f.Write(filepath.Join(dir, "data_plev_polvo.nc")); err != nil {
		t.Fatal(err)
	}
	var p *Product
	for _, d := range DefaultProducts() {
		if d.Name == "dust_total" {
			d := d
			p = &d
		}
	}
	g, err := p.Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if g.Steps() != 2 {
		t.Errorf("got %d steps", g.Steps())
	}
	want := 3e-9 * 1.225 * 1e9
	for i, v := range g.Data.Elements {
		if math.Abs(v-want) > 1e-6 {
			t.Errorf("value %d: got %g, want %g", i, v, want)
		}
	}
}
