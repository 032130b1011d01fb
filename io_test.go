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
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/spatialmodel/camsmap/internal/cdftest"
)

var testReference = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

// writeTestDataset writes a forecast file with 3 steps on a 4 x 5 grid
// stored north to south, as the data store delivers it.
func writeTestDataset(t *testing.T, path string) {
	t.Helper()
	n := 3 * 4 * 5
	pm10 := make([]float64, n)
	packed := make([]float64, n)
	for i := range pm10 {
		pm10[i] = float64(i) * 1e-9
		packed[i] = float64(i)
	}
	packed[1] = -999
	f := &cdftest.File{
		Lat:       []float64{14, 13, 12, 11},
		Lon:       []float64{-92, -91, -90, -89, -88},
		Reference: testReference,
		Periods:   []float64{0, 1, 2},
		Vars:      map[string][]float64{"pm10": pm10, "packed": packed},
		Attributes: map[string]map[string]interface{}{
			"packed": {
				"scale_factor": []float64{0.5},
				"add_offset":   []float64{1},
				"_FillValue":   []float32{-999},
			},
		},
	}
	if err := f.Write(path); err != nil {
		t.Fatal(err)
	}
}

func writeTestLevels(t *testing.T, path string) {
	t.Helper()
	n := 2 * 2 * 2 * 2
	vars := map[string][]float64{"aermr04": make([]float64, n)}
	for i := range vars["aermr04"] {
		vars["aermr04"][i] = float64(i)
	}
	f := &cdftest.File{
		Lat:       []float64{10, 11},
		Lon:       []float64{-90, -89},
		Reference: testReference,
		Periods:   []float64{0, 3},
		Levels:    []float64{925, 1000},
		Vars:      vars,
	}
	if err := f.Write(path); err != nil {
		t.Fatal(err)
	}
}

func TestDatasetField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data_sfc_polvo.nc")
	writeTestDataset(t, path)
	d, err := OpenDataset(path)
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	f, err := d.Field("pm10", nil)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(f.Data.Shape, []int{3, 4, 5}) {
		t.Fatalf("shape %v", f.Data.Shape)
	}
	if !reflect.DeepEqual(f.Lat, []float64{11, 12, 13, 14}) {
		t.Errorf("latitudes should be ascending: %v", f.Lat)
	}
	// The first row after flipping was the last row in the file.
	if v := f.Data.Get(0, 0, 0); math.Abs(v-15e-9) > 1e-12 {
		t.Errorf("value at [0, 0, 0] = %g, want 15e-9", v)
	}
	want := []time.Time{testReference, testReference.Add(time.Hour), testReference.Add(2 * time.Hour)}
	if len(f.Times) != 3 {
		t.Fatalf("got %d times", len(f.Times))
	}
	for i := range want {
		if !f.Times[i].Equal(want[i]) {
			t.Errorf("time %d: got %v, want %v", i, f.Times[i], want[i])
		}
	}
}

func TestDatasetUnpack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "packed.nc")
	writeTestDataset(t, path)
	d, err := OpenDataset(path)
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()
	vals, _, _, err := d.read("packed")
	if err != nil {
		t.Fatal(err)
	}
	if vals[0] != 1 || vals[2] != 2 {
		t.Errorf("unpacked values %v", vals[:3])
	}
	if !math.IsNaN(vals[1]) {
		t.Errorf("fill value should be NaN, got %g", vals[1])
	}
}

func TestDatasetSelectLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data_plev_polvo.nc")
	writeTestLevels(t, path)
	d, err := OpenDataset(path)
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	f, err := d.Field("aermr04", map[string]float64{"pressure_level": 1000})
	if err != nil {
		t.Fatal(err)
	}
	// Values are [period, level, lat, lon]; level 1000 is the second.
	want := []float64{4, 5, 6, 7, 12, 13, 14, 15}
	if !reflect.DeepEqual(f.Data.Elements, want) {
		t.Errorf("got %v, want %v", f.Data.Elements, want)
	}
	if !f.Times[1].Equal(testReference.Add(3 * time.Hour)) {
		t.Errorf("time 1: %v", f.Times[1])
	}

	if _, err := d.Field("aermr04", map[string]float64{"pressure_level": 850}); err == nil {
		t.Error("missing level should fail")
	}
	if _, err := d.Field("aermr04", nil); err == nil {
		t.Error("unselected level dimension should fail")
	}
	if _, err := d.Field("nothing", nil); err == nil {
		t.Error("missing variable should fail")
	}
}

func TestOpenDatasetNetCDF4(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nc4.nc")
	if err := os.WriteFile(path, []byte("\x89HDF\r\n\x1a\n"), 0644); err != nil {
		t.Fatal(err)
	}
	_, err := OpenDataset(path)
	if err == nil || !strings.Contains(err.Error(), "nccopy") {
		t.Errorf("expected a conversion hint, got %v", err)
	}
}

func TestParseEpoch(t *testing.T) {
	for _, s := range []string{"1970-01-01 00:00:00", "1970-01-01T00:00:00Z", "1970-01-01", "1970-01-01 00:00:00.0"} {
		e, err := parseEpoch(s)
		if err != nil {
			t.Errorf("%s: %v", s, err)
			continue
		}
		if e.Unix() != 0 {
			t.Errorf("%s: got %v", s, e)
		}
	}
	if _, err := cfUnit("fortnights"); err == nil {
		t.Error("unknown unit should fail")
	}
}
