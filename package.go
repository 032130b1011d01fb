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
	"image"
	"image/color/palette"
	"image/draw"
	"image/gif"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/klauspost/compress/zip"
	"github.com/sirupsen/logrus"
)

// DefaultGIFDelay is the time each frame of an animation is shown,
// in hundredths of a second.
const DefaultGIFDelay = 50

// Packager assembles the frames of a product into an animated GIF and a
// zip archive written next to the frames.
type Packager struct {
	// Delay is the per-frame delay of the animation in hundredths of
	// a second.
	Delay int

	// Animate and Archive turn the two outputs on or off.
	Animate, Archive bool

	Log logrus.FieldLogger
}

// NewPackager returns a Packager that creates both outputs.
func NewPackager() *Packager {
	return &Packager{
		Delay:   DefaultGIFDelay,
		Animate: true,
		Archive: true,
		Log:     logrus.StandardLogger(),
	}
}

// Package writes set.Base+".gif" and set.Base+".zip" from set.Frames and
// records their paths in set. Frames are taken in sorted order. The
// animation is skipped when there are no frames.
func (p *Packager) Package(set *ArtifactSet) error {
	frames := append([]string(nil), set.Frames...)
	sort.Strings(frames)
	log := p.Log.WithFields(logrus.Fields{"stage": "package", "product": filepath.Base(set.Base)})
	if p.Animate {
		if len(frames) == 0 {
			log.WithField("status", "warn").Warn("no frames; skipping animation")
		} else {
			path := set.Base + ".gif"
			if err := WriteGIF(path, frames, p.Delay); err != nil {
				return err
			}
			set.Animation = path
		}
	}
	if p.Archive {
		path := set.Base + ".zip"
		if err := WriteArchive(path, frames); err != nil {
			return err
		}
		set.Archive = path
	}
	log.WithFields(logrus.Fields{"frames": len(frames), "status": "ok"}).Info("packaged frames")
	return nil
}

// ExistingFrames returns the frames for base that are present on disk,
// in frame order.
func ExistingFrames(base string) ([]string, error) {
	dir, prefix := filepath.Split(base)
	if dir == "" {
		dir = "."
	}
	re := regexp.MustCompile(`^` + regexp.QuoteMeta(prefix) + `_\d+\.png$`)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("camsmap: listing frames: %v", err)
	}
	var o []string
	for _, e := range entries {
		if !e.IsDir() && re.MatchString(e.Name()) {
			o = append(o, filepath.Join(filepath.Dir(base), e.Name()))
		}
	}
	sort.Strings(o)
	return o, nil
}

// WriteGIF writes frames to path as a looping animation. Frames are
// quantized to the Plan 9 palette with Floyd-Steinberg dithering.
func WriteGIF(path string, frames []string, delay int) error {
	anim := &gif.GIF{LoopCount: 0}
	for _, f := range frames {
		img, err := readImage(f)
		if err != nil {
			return err
		}
		b := img.Bounds()
		pm := image.NewPaletted(b, palette.Plan9)
		draw.FloydSteinberg.Draw(pm, b, img, b.Min)
		anim.Image = append(anim.Image, pm)
		anim.Delay = append(anim.Delay, delay)
	}
	return writeAtomic(path, func(w io.Writer) error {
		if err := gif.EncodeAll(w, anim); err != nil {
			return fmt.Errorf("camsmap: encoding animation: %v", err)
		}
		return nil
	})
}

// WriteArchive writes files to a zip archive at path. Entries are named
// by the base name of each file.
func WriteArchive(path string, files []string) error {
	return writeAtomic(path, func(w io.Writer) error {
		z := zip.NewWriter(w)
		for _, f := range files {
			if err := addToArchive(z, f); err != nil {
				return err
			}
		}
		if err := z.Close(); err != nil {
			return fmt.Errorf("camsmap: closing archive: %v", err)
		}
		return nil
	})
}

func addToArchive(z *zip.Writer, path string) error {
	r, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("camsmap: adding to archive: %v", err)
	}
	defer r.Close()
	info, err := r.Stat()
	if err != nil {
		return fmt.Errorf("camsmap: adding to archive: %v", err)
	}
	h, err := zip.FileInfoHeader(info)
	if err != nil {
		return fmt.Errorf("camsmap: adding to archive: %v", err)
	}
	h.Name = filepath.Base(path)
	h.Method = zip.Deflate
	w, err := z.CreateHeader(h)
	if err != nil {
		return fmt.Errorf("camsmap: adding %s to archive: %v", path, err)
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("camsmap: adding %s to archive: %v", path, err)
	}
	return nil
}

// writeAtomic writes to a temporary file that is renamed to path once
// write succeeds.
func writeAtomic(path string, write func(io.Writer) error) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("camsmap: %v", err)
	}
	if err := write(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("camsmap: %v", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("camsmap: %v", err)
	}
	return nil
}
