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
	"image/color"
	"image/gif"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/sirupsen/logrus/hooks/test"
)

func writeFrames(t *testing.T, base string, n int) []string {
	t.Helper()
	var o []string
	for i := 0; i < n; i++ {
		path := FramePath(base, i)
		f, err := os.Create(path)
		if err != nil {
			t.Fatal(err)
		}
		if err := png.Encode(f, testImage(8, 6, color.RGBA{R: uint8(40 * i), A: 255})); err != nil {
			t.Fatal(err)
		}
		f.Close()
		o = append(o, path)
	}
	return o
}

func TestPackage(t *testing.T) {
	base := filepath.Join(t.TempDir(), "cams_pm10")
	frames := writeFrames(t, base, 3)
	log, _ := test.NewNullLogger()
	p := NewPackager()
	p.Log = log

	// Out of order on purpose.
	set := &ArtifactSet{Base: base, Frames: []string{frames[2], frames[0], frames[1]}}
	if err := p.Package(set); err != nil {
		t.Fatal(err)
	}
	if set.Animation != base+".gif" || set.Archive != base+".zip" {
		t.Errorf("artifact paths: %+v", set)
	}

	t.Run("gif", func(t *testing.T) {
		f, err := os.Open(set.Animation)
		if err != nil {
			t.Fatal(err)
		}
		defer f.Close()
		g, err := gif.DecodeAll(f)
		if err != nil {
			t.Fatal(err)
		}
		if len(g.Image) != 3 {
			t.Errorf("animation has %d frames; want 3", len(g.Image))
		}
		for i, d := range g.Delay {
			if d != DefaultGIFDelay {
				t.Errorf("frame %d delay %d", i, d)
			}
		}
		if g.LoopCount != 0 {
			t.Errorf("loop count %d", g.LoopCount)
		}
	})

	t.Run("zip", func(t *testing.T) {
		z, err := zip.OpenReader(set.Archive)
		if err != nil {
			t.Fatal(err)
		}
		defer z.Close()
		var names []string
		for _, zf := range z.File {
			names = append(names, zf.Name)
			r, err := zf.Open()
			if err != nil {
				t.Fatal(err)
			}
			have, err := io.ReadAll(r)
			r.Close()
			if err != nil {
				t.Fatal(err)
			}
			want, err := os.ReadFile(filepath.Join(filepath.Dir(base), zf.Name))
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(have, want) {
				t.Errorf("%s: archived bytes differ from frame", zf.Name)
			}
		}
		want := []string{"cams_pm10_000.png", "cams_pm10_001.png", "cams_pm10_002.png"}
		if !reflect.DeepEqual(names, want) {
			t.Errorf("entries: got %v, want %v", names, want)
		}
	})

	if _, err := os.Stat(base + ".gif.tmp"); !os.IsNotExist(err) {
		t.Error("temporary file left behind")
	}
}

func TestPackageNoFrames(t *testing.T) {
	base := filepath.Join(t.TempDir(), "cams_pm10")
	log, hook := test.NewNullLogger()
	p := NewPackager()
	p.Log = log
	set := &ArtifactSet{Base: base}
	if err := p.Package(set); err != nil {
		t.Fatal(err)
	}
	if set.Animation != "" {
		t.Error("animation should be skipped without frames")
	}
	if _, err := os.Stat(base + ".gif"); !os.IsNotExist(err) {
		t.Error("gif was written")
	}
	z, err := zip.OpenReader(base + ".zip")
	if err != nil {
		t.Fatal(err)
	}
	defer z.Close()
	if len(z.File) != 0 {
		t.Errorf("empty archive has %d entries", len(z.File))
	}
	if hook.Entries[0].Data["status"] != "warn" {
		t.Errorf("expected a warning, got %v", hook.Entries[0].Data)
	}
}

func TestPackageDisabled(t *testing.T) {
	base := filepath.Join(t.TempDir(), "cams_pm10")
	writeFrames(t, base, 1)
	log, _ := test.NewNullLogger()
	p := &Packager{Delay: 10, Archive: true, Log: log}
	frames, err := ExistingFrames(base)
	if err != nil {
		t.Fatal(err)
	}
	set := &ArtifactSet{Base: base, Frames: frames}
	if err := p.Package(set); err != nil {
		t.Fatal(err)
	}
	if set.Animation != "" || set.Archive == "" {
		t.Errorf("got %+v", set)
	}
}

func TestWriteGIFMissingFrame(t *testing.T) {
	dir := t.TempDir()
	if err := WriteGIF(filepath.Join(dir, "a.gif"), []string{filepath.Join(dir, "missing.png")}, 10); err == nil {
		t.Error("expected an error")
	}
	if _, err := os.Stat(filepath.Join(dir, "a.gif")); !os.IsNotExist(err) {
		t.Error("partial animation was written")
	}
}

func TestExistingFrames(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "cams_pm10")
	writeFrames(t, base, 2)
	writeFrames(t, filepath.Join(dir, "cams_pm10_icca"), 2)
	os.WriteFile(base+"_002.png.tmp", nil, 0644)
	os.WriteFile(base+".gif", nil, 0644)

	have, err := ExistingFrames(base)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{base + "_000.png", base + "_001.png"}
	if !reflect.DeepEqual(have, want) {
		t.Errorf("got %v, want %v", have, want)
	}
	if _, err := ExistingFrames(filepath.Join(dir, "nope", "x")); err == nil {
		t.Error("missing directory should be an error")
	}
}
