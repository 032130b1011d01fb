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
	"path/filepath"
	"strings"
)

// Product describes one rendered forecast product: where its data comes
// from, how it is converted and classified, and how it is decorated and
// packaged.
type Product struct {
	// Name identifies the product in configuration and logs.
	Name string `toml:"name"`

	// Title is the display name drawn in frame titles.
	Title string `toml:"title"`

	// Base is the output file name prefix.
	Base string `toml:"base"`

	// Source is the NetCDF file, relative to the data directory.
	Source string `toml:"source"`

	// Variables are read from Source and combined by Conversion.
	Variables []string `toml:"variables"`

	// Level selects a pressure level [hPa] along LevelDim. Zero means
	// no selection.
	Level    float64 `toml:"level"`
	LevelDim string  `toml:"level_dim"`

	Conversion Conversion `toml:"conversion"`

	// ClampNonPositive replaces non-positive values with missing values
	// after conversion.
	ClampNonPositive bool `toml:"clamp_nonpositive"`

	// Scheme is "continuous" or "categorical".
	Scheme string `toml:"scheme"`

	// Range gives continuous levels as [start, stop, step], with stop
	// excluded. Levels, if set, is used instead.
	Range  []float64 `toml:"range"`
	Levels []float64 `toml:"levels"`
	Ramp   string    `toml:"ramp"`

	// Table names a built-in ICCA table ("pm10" or "pm25") for
	// categorical products. Bounds, Colors and Labels override it.
	Table  string    `toml:"table"`
	Bounds []float64 `toml:"bounds"`
	Colors []string  `toml:"colors"`
	Labels []string  `toml:"labels"`

	// Boundaries names the boundary layers to draw. Empty means all.
	Boundaries []string `toml:"boundaries"`

	// LegendImage places the category legend image on categorical frames.
	LegendImage bool `toml:"legend_image"`

	// LegendShrink is the fraction of the frame width used by the
	// color legend.
	LegendShrink float64 `toml:"legend_shrink"`

	// Package turns GIF and zip packaging on or off. Nil means on.
	Package *bool `toml:"package"`
}

// Packaged reports whether the product's frames should be packaged.
func (p *Product) Packaged() bool { return p.Package == nil || *p.Package }

// Validate checks that p is complete.
func (p *Product) Validate() error {
	switch {
	case p.Name == "":
		return fmt.Errorf("camsmap: product is missing a name")
	case p.Base == "" || strings.ContainsRune(p.Base, filepath.Separator):
		return fmt.Errorf("camsmap: product %s: invalid base name %q", p.Name, p.Base)
	case p.Source == "":
		return fmt.Errorf("camsmap: product %s: missing source", p.Name)
	case len(p.Variables) == 0:
		return fmt.Errorf("camsmap: product %s: no variables", p.Name)
	}
	_, err := p.NewScheme()
	return err
}

// NewScheme returns the classification scheme of p.
func (p *Product) NewScheme() (Scheme, error) {
	switch p.Scheme {
	case "continuous":
		levels := p.Levels
		if len(levels) == 0 {
			if len(p.Range) != 3 {
				return nil, fmt.Errorf("camsmap: product %s: range must be [start, stop, step]", p.Name)
			}
			levels = Arange(p.Range[0], p.Range[1], p.Range[2])
		}
		ramp := p.Ramp
		if ramp == "" {
			ramp = DefaultRamp
		}
		s, err := NewContinuous(levels, ramp)
		if err != nil {
			return nil, fmt.Errorf("camsmap: product %s: %w", p.Name, err)
		}
		return s, nil
	case "categorical":
		bounds, labels := p.Bounds, p.Labels
		switch strings.ToLower(p.Table) {
		case "":
		case "pm10":
			bounds = orDefault(bounds, PM10Bounds)
		case "pm25", "pm2.5":
			bounds = orDefault(bounds, PM25Bounds)
		default:
			return nil, fmt.Errorf("camsmap: product %s: unknown table %q", p.Name, p.Table)
		}
		if labels == nil {
			labels = HealthCategories
		}
		hex := p.Colors
		if hex == nil {
			hex = HealthColors
		}
		colors := make([]color.Color, len(hex))
		for i, h := range hex {
			c, err := ParseHexColor(h)
			if err != nil {
				return nil, fmt.Errorf("camsmap: product %s: %w", p.Name, err)
			}
			colors[i] = c
		}
		s, err := NewCategorical(bounds, colors, labels)
		if err != nil {
			return nil, fmt.Errorf("camsmap: product %s: %w", p.Name, err)
		}
		return s, nil
	}
	return nil, fmt.Errorf("camsmap: product %s: invalid scheme %q", p.Name, p.Scheme)
}

func orDefault(v, def []float64) []float64 {
	if v != nil {
		return v
	}
	return def
}

// Load reads the product's variables from dataDir and converts them to
// display units.
func (p *Product) Load(dataDir string) (*GriddedField, error) {
	ds, err := OpenDataset(filepath.Join(dataDir, p.Source))
	if err != nil {
		return nil, err
	}
	defer ds.Close()
	var sel map[string]float64
	if p.Level != 0 {
		dim := p.LevelDim
		if dim == "" {
			dim = "pressure_level"
		}
		sel = map[string]float64{dim: p.Level}
	}
	raw := make([]*GriddedField, len(p.Variables))
	for i, v := range p.Variables {
		if raw[i], err = ds.Field(v, sel); err != nil {
			return nil, err
		}
	}
	f, err := Convert(p.Conversion, raw...)
	if err != nil {
		return nil, err
	}
	if p.ClampNonPositive {
		ClampNonPositive(f.Data.Elements)
	}
	return f, nil
}

// DefaultProducts returns the standard set of CAMS dust and particulate
// matter products for Central America.
func DefaultProducts() []Product {
	return []Product{
		{
			Name: "aod_dust", Title: "AOD polvo 550nm", Base: "cams_aod_dust",
			Source: "data_sfc_aod.nc", Variables: []string{"duaod550"},
			Conversion: NoConversion, Scheme: "continuous", Range: []float64{0, 1.1, 0.1},
			Ramp: DefaultRamp, Boundaries: []string{"coast", "region"}, LegendShrink: 0.25,
		},
		{
			Name: "pm10_icca", Title: "PM10 ICCA", Base: "cams_pm10_icca",
			Source: "data_sfc_polvo.nc", Variables: []string{"pm10"},
			Conversion: MassConcentration, Scheme: "categorical", Table: "pm10",
			Labels: HealthCategoriesES, LegendImage: true,
		},
		{
			Name: "pm25_icca", Title: "PM2.5 ICCA", Base: "cams_pm25_icca",
			Source: "data_sfc_polvo.nc", Variables: []string{"pm2p5"},
			Conversion: MassConcentration, Scheme: "categorical", Table: "pm25",
			Labels: HealthCategoriesES, LegendImage: true,
		},
		{
			Name: "pm10", Title: "PM10 (µg/m³)", Base: "cams_pm10",
			Source: "data_sfc_polvo.nc", Variables: []string{"pm10"},
			Conversion: MassConcentration, Scheme: "continuous", Range: []float64{0, 200, 1},
			Ramp: DefaultRamp,
		},
		{
			Name: "pm25", Title: "PM2.5 (µg/m³)", Base: "cams_pm25",
			Source: "data_sfc_polvo.nc", Variables: []string{"pm2p5"},
			Conversion: MassConcentration, Scheme: "continuous", Range: []float64{0, 100, 1},
			Ramp: DefaultRamp,
		},
		{
			Name: "dust_total", Title: "Concentración de polvo (µg/m³)", Base: "cams_dust_total",
			Source: "data_plev_polvo.nc", Variables: []string{"aermr04", "aermr05", "aermr06"},
			Level: 1000, Conversion: DustMixingRatio, Scheme: "continuous", Range: []float64{0, 100, 10},
			Ramp: DefaultRamp,
		},
	}
}
