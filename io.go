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
	"bytes"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"time"

	"github.com/ctessum/cdf"
	"github.com/ctessum/sparse"
)

// Dataset is an open NetCDF file holding CAMS forecast fields.
// Only the classic (CDF-1) and 64-bit offset (CDF-2) encodings can be read.
type Dataset struct {
	Path string

	f  *os.File
	ff *cdf.File
}

var hdf5Magic = []byte("\x89HDF")

// OpenDataset opens the NetCDF file at path.
func OpenDataset(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("camsmap: opening dataset: %v", err)
	}
	magic := make([]byte, 4)
	if _, err := io.ReadFull(f, magic); err != nil {
		f.Close()
		return nil, fmt.Errorf("camsmap: reading dataset %s: %v", path, err)
	}
	if bytes.Equal(magic, hdf5Magic) {
		f.Close()
		return nil, fmt.Errorf("camsmap: %s is NetCDF-4; convert it to the classic format first "+
			"(for example with `nccopy -k classic`)", path)
	}
	ff, err := cdf.Open(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("camsmap: opening dataset %s: %v", path, err)
	}
	return &Dataset{Path: path, f: f, ff: ff}, nil
}

// Close closes the underlying file.
func (d *Dataset) Close() error { return d.f.Close() }

// Variables returns the names of the variables in the dataset.
func (d *Dataset) Variables() []string { return d.ff.Header.Variables() }

func (d *Dataset) has(name string) bool { return len(d.ff.Header.Lengths(name)) > 0 }

// read returns all values of variable name along with its dimension
// names and lengths. Packed values are unpacked and fill values are
// replaced with NaN.
func (d *Dataset) read(name string) (vals []float64, dims []string, lengths []int, err error) {
	l := d.ff.Header.Lengths(name)
	if len(l) == 0 {
		return nil, nil, nil, fmt.Errorf("camsmap: variable %s not in %s", name, d.Path)
	}
	// The header's slice must not be modified.
	lengths = append([]int(nil), l...)
	dims = d.ff.Header.Dimensions(name)
	if d.ff.Header.IsRecordVariable(name) {
		fi, err := d.f.Stat()
		if err != nil {
			return nil, nil, nil, fmt.Errorf("camsmap: reading %s: %v", name, err)
		}
		lengths[0] = int(d.ff.Header.NumRecs(fi.Size()))
		recSize := 1
		for _, l := range lengths[1:] {
			recSize *= l
		}
		for rec := 0; rec < lengths[0]; rec++ {
			start, end := make([]int, len(lengths)), make([]int, len(lengths))
			start[0], end[0] = rec, rec+1
			r := d.ff.Reader(name, start, end)
			buf := r.Zero(recSize)
			if _, err := r.Read(buf); err != nil {
				return nil, nil, nil, fmt.Errorf("camsmap: reading %s record %d: %v", name, rec, err)
			}
			vals = append(vals, toFloat64(buf)...)
		}
	} else {
		r := d.ff.Reader(name, nil, nil)
		buf := r.Zero(-1)
		if _, err := r.Read(buf); err != nil {
			return nil, nil, nil, fmt.Errorf("camsmap: reading %s: %v", name, err)
		}
		vals = toFloat64(buf)
	}
	d.unpack(name, vals)
	return vals, dims, lengths, nil
}

// unpack applies the CF packing and missing-value attributes of
// variable name to vals in place.
func (d *Dataset) unpack(name string, vals []float64) {
	var fills []float64
	for _, a := range []string{"_FillValue", "missing_value"} {
		if v, ok := d.attrFloat(name, a); ok {
			fills = append(fills, v)
		}
	}
	scale, hasScale := d.attrFloat(name, "scale_factor")
	offset, hasOffset := d.attrFloat(name, "add_offset")
	if !hasScale {
		scale = 1
	}
	if !hasOffset {
		offset = 0
	}
	for i, v := range vals {
		for _, f := range fills {
			if v == f {
				v = math.NaN()
				break
			}
		}
		vals[i] = v*scale + offset
	}
}

// attrFloat returns the first value of a numeric attribute.
func (d *Dataset) attrFloat(v, a string) (float64, bool) {
	x := toFloat64(d.ff.Header.GetAttribute(v, a))
	if len(x) == 0 {
		return 0, false
	}
	return x[0], true
}

func (d *Dataset) attrString(v, a string) string {
	s, _ := d.ff.Header.GetAttribute(v, a).(string)
	return s
}

func toFloat64(buf interface{}) []float64 {
	var o []float64
	switch b := buf.(type) {
	case []float64:
		o = make([]float64, len(b))
		copy(o, b)
	case []float32:
		o = make([]float64, len(b))
		for i, v := range b {
			o[i] = float64(v)
		}
	case []int32:
		o = make([]float64, len(b))
		for i, v := range b {
			o[i] = float64(v)
		}
	case []int16:
		o = make([]float64, len(b))
		for i, v := range b {
			o[i] = float64(v)
		}
	case []uint8:
		o = make([]float64, len(b))
		for i, v := range b {
			o[i] = float64(v)
		}
	}
	return o
}

// Coordinate returns the values of a one-dimensional coordinate variable.
func (d *Dataset) Coordinate(name string) ([]float64, error) {
	v, dims, _, err := d.read(name)
	if err != nil {
		return nil, err
	}
	if len(dims) != 1 {
		return nil, fmt.Errorf("camsmap: coordinate %s has %d dimensions", name, len(dims))
	}
	return v, nil
}

var (
	latNames = []string{"latitude", "lat"}
	lonNames = []string{"longitude", "lon"}
)

func isOneOf(s string, names []string) bool {
	for _, n := range names {
		if s == n {
			return true
		}
	}
	return false
}

// Field reads variable name as a GriddedField. Selectors pick a single
// coordinate value along the named dimensions; for example
// {"pressure_level": 1000} picks the 1000 hPa level. Any other dimension
// of length one is dropped. The remaining dimensions must be
// [time, lat, lon] or [lat, lon].
func (d *Dataset) Field(name string, selectors map[string]float64) (*GriddedField, error) {
	vals, dims, lengths, err := d.read(name)
	if err != nil {
		return nil, err
	}
	for dim, want := range selectors {
		k := -1
		for i, dd := range dims {
			if dd == dim {
				k = i
			}
		}
		if k < 0 {
			return nil, fmt.Errorf("camsmap: variable %s has no dimension %s", name, dim)
		}
		coord, err := d.Coordinate(dim)
		if err != nil {
			return nil, err
		}
		idx := -1
		for i, c := range coord {
			if math.Abs(c-want) < 1e-6 {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, fmt.Errorf("camsmap: %s=%g not found in %v", dim, want, coord)
		}
		vals, lengths = take(vals, lengths, k, idx)
		dims = append(dims[:k:k], dims[k+1:]...)
	}
	for k := 0; k < len(dims); {
		if lengths[k] == 1 && !isOneOf(dims[k], latNames) && !isOneOf(dims[k], lonNames) {
			dims = append(dims[:k:k], dims[k+1:]...)
			lengths = append(lengths[:k:k], lengths[k+1:]...)
			continue
		}
		k++
	}
	n := len(dims)
	if n != 2 && n != 3 {
		return nil, fmt.Errorf("camsmap: variable %s has dimensions %v after selection; "+
			"want [time, lat, lon]", name, dims)
	}
	if !isOneOf(dims[n-2], latNames) || !isOneOf(dims[n-1], lonNames) {
		return nil, fmt.Errorf("camsmap: variable %s: the last dimensions must be latitude and longitude, not %v",
			name, dims[n-2:])
	}
	steps := 1
	if n == 3 {
		steps = lengths[0]
	}
	lat, err := d.Coordinate(dims[n-2])
	if err != nil {
		return nil, err
	}
	lon, err := d.Coordinate(dims[n-1])
	if err != nil {
		return nil, err
	}
	times, err := d.Times()
	if err != nil {
		return nil, err
	}
	f := &GriddedField{
		Data:  sparse.ZerosDense(steps, len(lat), len(lon)),
		Lat:   lat,
		Lon:   lon,
		Times: times,
	}
	copy(f.Data.Elements, vals)
	f.ensureAscending()
	return f, nil
}

// take returns the slab of vals at index idx along dimension k.
func take(vals []float64, lengths []int, k, idx int) ([]float64, []int) {
	outer, inner := 1, 1
	for _, l := range lengths[:k] {
		outer *= l
	}
	for _, l := range lengths[k+1:] {
		inner *= l
	}
	o := make([]float64, 0, outer*inner)
	for i := 0; i < outer; i++ {
		b := (i*lengths[k] + idx) * inner
		o = append(o, vals[b:b+inner]...)
	}
	return o, append(lengths[:k:k], lengths[k+1:]...)
}

// Times returns the valid time of each forecast step. The forecast
// reference time plus the forecast period is preferred, followed by a
// valid_time variable and then a time variable.
func (d *Dataset) Times() ([]time.Time, error) {
	switch {
	case d.has("forecast_reference_time") && d.has("forecast_period"):
		ref, err := d.cfTimes("forecast_reference_time")
		if err != nil {
			return nil, err
		}
		if len(ref) == 0 {
			return nil, fmt.Errorf("camsmap: empty forecast_reference_time in %s", d.Path)
		}
		period, err := d.cfDurations("forecast_period")
		if err != nil {
			return nil, err
		}
		o := make([]time.Time, len(period))
		for i, p := range period {
			o[i] = ref[0].Add(p)
		}
		return o, nil
	case d.has("valid_time"):
		return d.cfTimes("valid_time")
	case d.has("time"):
		return d.cfTimes("time")
	}
	return nil, fmt.Errorf("camsmap: no time coordinate in %s", d.Path)
}

// cfTimes reads a variable with CF units of the form "<unit> since <epoch>".
func (d *Dataset) cfTimes(name string) ([]time.Time, error) {
	units := d.attrString(name, "units")
	parts := strings.SplitN(units, " since ", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("camsmap: %s has invalid time units %q", name, units)
	}
	step, err := cfUnit(parts[0])
	if err != nil {
		return nil, fmt.Errorf("camsmap: %s: %v", name, err)
	}
	epoch, err := parseEpoch(parts[1])
	if err != nil {
		return nil, fmt.Errorf("camsmap: %s: %v", name, err)
	}
	vals, _, _, err := d.read(name)
	if err != nil {
		return nil, err
	}
	o := make([]time.Time, len(vals))
	for i, v := range vals {
		o[i] = epoch.Add(time.Duration(v * float64(step)))
	}
	return o, nil
}

// cfDurations reads a variable holding time offsets, such as a
// forecast period in hours.
func (d *Dataset) cfDurations(name string) ([]time.Duration, error) {
	step, err := cfUnit(d.attrString(name, "units"))
	if err != nil {
		return nil, fmt.Errorf("camsmap: %s: %v", name, err)
	}
	vals, _, _, err := d.read(name)
	if err != nil {
		return nil, err
	}
	o := make([]time.Duration, len(vals))
	for i, v := range vals {
		o[i] = time.Duration(v * float64(step))
	}
	return o, nil
}

func cfUnit(u string) (time.Duration, error) {
	switch strings.ToLower(strings.TrimSpace(u)) {
	case "seconds", "second", "secs", "sec", "s":
		return time.Second, nil
	case "minutes", "minute", "mins", "min":
		return time.Minute, nil
	case "hours", "hour", "hrs", "hr", "h":
		return time.Hour, nil
	case "days", "day", "d":
		return 24 * time.Hour, nil
	}
	return 0, fmt.Errorf("unsupported time unit %q", u)
}

var epochLayouts = []string{
	"2006-01-02 15:04:05.0",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04",
	"2006-01-02",
}

func parseEpoch(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "Z")
	s = strings.TrimSuffix(s, " UTC")
	for _, l := range epochLayouts {
		if t, err := time.Parse(l, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported time epoch %q", s)
}
