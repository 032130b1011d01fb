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

// Package cdftest writes small NetCDF forecast files for tests.
package cdftest

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/ctessum/cdf"
)

// File describes a forecast file with dimensions
// [forecast_period, (pressure_level), latitude, longitude].
type File struct {
	Lat, Lon []float64

	// Reference is the forecast reference time.
	Reference time.Time

	// Periods are the forecast periods in hours.
	Periods []float64

	// Levels are the pressure levels. The pressure_level dimension is
	// omitted when Levels is empty.
	Levels []float64

	// Vars holds the values of each data variable in row-major order.
	Vars map[string][]float64

	// Attributes holds extra attributes of data variables, such as
	// scale_factor or _FillValue.
	Attributes map[string]map[string]interface{}
}

func (f *File) dims() ([]string, []int) {
	names := []string{"forecast_period"}
	lengths := []int{len(f.Periods)}
	if len(f.Levels) > 0 {
		names = append(names, "pressure_level")
		lengths = append(lengths, len(f.Levels))
	}
	return append(names, "latitude", "longitude"), append(lengths, len(f.Lat), len(f.Lon))
}

// Write writes f to path.
func (f *File) Write(path string) error {
	dims, lengths := f.dims()
	h := cdf.NewHeader(append(dims, "forecast_reference_time"), append(lengths, 1))
	h.AddAttribute("", "Conventions", "CF-1.7")

	coords := map[string][]float64{
		"forecast_period":         f.Periods,
		"latitude":                f.Lat,
		"longitude":               f.Lon,
		"forecast_reference_time": {float64(f.Reference.Unix()) / 3600},
	}
	if len(f.Levels) > 0 {
		coords["pressure_level"] = f.Levels
	}
	for name := range coords {
		h.AddVariable(name, []string{name}, []float64{0})
	}
	h.AddAttribute("forecast_period", "units", "hours")
	h.AddAttribute("forecast_reference_time", "units", "hours since 1970-01-01 00:00:00")
	h.AddAttribute("latitude", "units", "degrees_north")
	h.AddAttribute("longitude", "units", "degrees_east")

	var names []string
	for name := range f.Vars {
		names = append(names, name)
	}
	sort.Strings(names)
	n := 1
	for _, l := range lengths {
		n *= l
	}
	for _, name := range names {
		if len(f.Vars[name]) != n {
			return fmt.Errorf("cdftest: variable %s has %d values, want %d", name, len(f.Vars[name]), n)
		}
		h.AddVariable(name, dims, []float32{0})
		var attrs []string
		for a := range f.Attributes[name] {
			attrs = append(attrs, a)
		}
		sort.Strings(attrs)
		for _, a := range attrs {
			h.AddAttribute(name, a, f.Attributes[name][a])
		}
	}
	h.Define()

	ff, err := os.Create(path)
	if err != nil {
		return err
	}
	file, err := cdf.Create(ff, h)
	if err != nil {
		ff.Close()
		return err
	}
	for name, v := range coords {
		if err := write(file, name, v, false); err != nil {
			ff.Close()
			return err
		}
	}
	for _, name := range names {
		if err := write(file, name, f.Vars[name], true); err != nil {
			ff.Close()
			return err
		}
	}
	return ff.Close()
}

func write(f *cdf.File, name string, data []float64, single bool) error {
	end := f.Header.Lengths(name)
	start := make([]int, len(end))
	w := f.Writer(name, start, end)
	var buf interface{} = data
	if single {
		data32 := make([]float32, len(data))
		for i, e := range data {
			data32[i] = float32(e)
		}
		buf = data32
	}
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("cdftest: writing %s: %v", name, err)
	}
	return nil
}
