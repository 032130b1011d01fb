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
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/camsmap/internal/metrics"
	"golang.org/x/sync/errgroup"
)

// ArtifactSet holds the files produced for one product.
type ArtifactSet struct {
	// Base is the output path prefix shared by all files.
	Base string

	// Frames holds the frames that were written, in frame order.
	Frames []string

	// Animation and Archive are set by Package when they are created.
	Animation, Archive string
}

// FrameSet describes the frames to render for one product.
type FrameSet struct {
	Field  *GriddedField
	Labels []string
	Scheme Scheme
	Assets *Assets

	// Name is the display name used in frame titles.
	Name string

	// Base is the output path prefix, for example "imagery/cams_pm10".
	Base string

	// LegendShrink is passed to each RenderJob.
	LegendShrink float64
}

// Batch renders every frame of a product across a bounded pool of workers.
type Batch struct {
	Renderer *Renderer

	// Workers is the maximum number of frames rendered at once.
	// Zero means runtime.GOMAXPROCS(0).
	Workers int

	// FrameTimeout limits the time spent on one frame. Zero means
	// no limit.
	FrameTimeout time.Duration

	Log     logrus.FieldLogger
	Metrics *metrics.Metrics
	Clock   clockwork.Clock
}

// NewBatch returns a Batch using r and the default settings.
func NewBatch(r *Renderer) *Batch {
	return &Batch{
		Renderer:     r,
		FrameTimeout: 2 * time.Minute,
		Log:          logrus.StandardLogger(),
		Clock:        clockwork.NewRealClock(),
	}
}

// RenderAll renders one frame per time step of field and returns the
// frames that were written.
func (b *Batch) RenderAll(ctx context.Context, field *GriddedField, labels []string, scheme Scheme,
	assets *Assets, name, base string) (*ArtifactSet, error) {
	return b.Run(ctx, FrameSet{
		Field:  field,
		Labels: labels,
		Scheme: scheme,
		Assets: assets,
		Name:   name,
		Base:   base,
	})
}

// Run renders fs. The number of frames is the smaller of the number of
// field steps and the number of labels. Frames left over from an earlier
// run with the same base are removed first. A frame that fails or times
// out is logged and skipped; Run only returns an error if the output
// directory cannot be prepared or ctx is canceled.
func (b *Batch) Run(ctx context.Context, fs FrameSet) (*ArtifactSet, error) {
	if err := fs.Field.check(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(fs.Base), os.ModePerm); err != nil {
		return nil, fmt.Errorf("camsmap: creating output directory: %v", err)
	}
	removed, err := RemoveFrames(fs.Base)
	if err != nil {
		return nil, err
	}
	product := filepath.Base(fs.Base)
	log := b.Log.WithFields(logrus.Fields{"stage": "render", "product": product})
	if removed > 0 {
		log.WithField("removed", removed).Debug("removed stale frames")
	}

	n := fs.Field.FrameCount(len(fs.Labels))
	workers := b.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	created := b.Clock.Now()

	written := make([]bool, n)
	// A slot is held until the drawing goroutine returns, including
	// after its frame has timed out.
	slots := make(chan struct{}, workers)
	var g errgroup.Group
	g.SetLimit(workers)
	for i := 0; i < n; i++ {
		i := i
		job := &RenderJob{
			Values:       fs.Field.Step(i),
			Lat:          fs.Field.Lat,
			Lon:          fs.Field.Lon,
			Label:        fs.Labels[i],
			Scheme:       fs.Scheme,
			Assets:       fs.Assets,
			Name:         fs.Name,
			Base:         fs.Base,
			Index:        i,
			LegendShrink: fs.LegendShrink,
			Created:      created,
			gate:         new(frameGate),
		}
		g.Go(func() error {
			select {
			case slots <- struct{}{}:
			case <-ctx.Done():
				return ctx.Err()
			}
			if err := ctx.Err(); err != nil {
				<-slots
				return err
			}
			start := time.Now()
			if err := b.render(ctx, job, func() { <-slots }); err != nil {
				log.WithFields(logrus.Fields{"frame": i, "status": "warn"}).Warnf("skipping frame: %v", err)
				b.Metrics.FrameFailed(product)
				return nil
			}
			written[i] = true
			b.Metrics.FrameRendered(product, time.Since(start))
			return nil
		})
	}
	err = g.Wait()

	set := &ArtifactSet{Base: fs.Base}
	for i, ok := range written {
		if ok {
			set.Frames = append(set.Frames, FramePath(fs.Base, i))
		}
	}
	if err != nil {
		return set, fmt.Errorf("camsmap: rendering %s: %w", product, err)
	}
	status := "ok"
	if len(set.Frames) < n {
		status = "warn"
	}
	log.WithFields(logrus.Fields{"frames": len(set.Frames), "expected": n, "status": status}).Info("rendered frames")
	return set, nil
}

// render runs one job, giving up after FrameTimeout, and calls release
// once the drawing goroutine has returned. A job that is given up on
// stops at the next row of cells and never writes its frame. A job that
// was written before the timeout was noticed counts as written.
func (b *Batch) render(ctx context.Context, job *RenderJob, release func()) error {
	if b.FrameTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.FrameTimeout)
		defer cancel()
	}
	done := make(chan error, 1)
	go func() {
		defer release()
		done <- b.Renderer.Render(ctx, job)
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		if job.gate.abandon() {
			return <-done
		}
		return fmt.Errorf("%w: %s: %w", ErrFrameRender, job.Path(), ctx.Err())
	}
}

// RemoveFrames deletes the frames, including unfinished ones, written by
// an earlier run for base. Files that share the prefix but belong to
// another product, such as base+"_icca_000.png", are kept. It returns
// the number of files removed.
func RemoveFrames(base string) (int, error) {
	dir, prefix := filepath.Split(base)
	if dir == "" {
		dir = "."
	}
	re := regexp.MustCompile(`^` + regexp.QuoteMeta(prefix) + `_\d+\.png(\.tmp)?$`)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("camsmap: listing old frames: %v", err)
	}
	n := 0
	for _, e := range entries {
		if e.IsDir() || !re.MatchString(e.Name()) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
			return n, fmt.Errorf("camsmap: removing old frame: %v", err)
		}
		n++
	}
	return n, nil
}
