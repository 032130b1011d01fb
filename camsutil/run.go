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

package camsutil

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/camsmap"
	"github.com/spatialmodel/camsmap/cdsapi"
	"github.com/spatialmodel/camsmap/internal/metrics"
	"github.com/spatialmodel/camsmap/publish"
)

// Fetcher downloads the archive for a forecast request.
type Fetcher interface {
	Fetch(ctx context.Context, dataDir string, r *cdsapi.NamedRequest, useCache bool) (string, error)
}

// Pipeline runs the stages of a forecast imagery update.
type Pipeline struct {
	Config  *Config
	Fetcher Fetcher
	Log     logrus.FieldLogger
	Metrics *metrics.Metrics
	Clock   clockwork.Clock

	assets *camsmap.AssetLoader
}

// NewPipeline returns a pipeline for c. The fetcher is created from the
// configured credentials when it is first needed.
func NewPipeline(c *Config, log logrus.FieldLogger) *Pipeline {
	return &Pipeline{
		Config:  c,
		Log:     log,
		Metrics: metrics.New(),
		Clock:   clockwork.NewRealClock(),
		assets:  camsmap.NewAssetLoader(32),
	}
}

func (p *Pipeline) fetcher() (Fetcher, error) {
	if p.Fetcher != nil {
		return p.Fetcher, nil
	}
	url, key, err := cdsapi.Credentials(p.Config.FetchRCFile, p.Config.FetchURL, p.Config.FetchKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", camsmap.ErrFetch, err)
	}
	c := cdsapi.NewClient(url, key)
	c.Log = p.Log
	if p.Config.FetchPollInterval > 0 {
		c.PollInterval = p.Config.FetchPollInterval
	}
	p.Fetcher = c
	return c, nil
}

// stage logs the outcome and records the duration of a pipeline stage.
func (p *Pipeline) stage(name string, f func() error) error {
	start := p.Clock.Now()
	err := f()
	p.Metrics.ObserveStage(name, p.Clock.Since(start))
	if err != nil {
		p.Log.WithFields(logrus.Fields{"stage": name, "status": "fail"}).Error(err)
	}
	return err
}

// Fetch removes stale input files if configured to, then downloads and
// extracts every request in the catalog. Any error is fatal.
func (p *Pipeline) Fetch(ctx context.Context) error {
	c := p.Config
	if c.FetchClean {
		removed, err := cdsapi.CleanDir(c.DataDir)
		if err != nil {
			return err
		}
		p.Log.WithFields(logrus.Fields{"stage": "fetch", "removed": len(removed)}).Debug("cleaned data directory")
	}
	f, err := p.fetcher()
	if err != nil {
		return err
	}
	archives := make([]string, len(c.Catalog.Requests))
	err = p.stage("fetch", func() error {
		for i := range c.Catalog.Requests {
			r := &c.Catalog.Requests[i]
			if archives[i], err = f.Fetch(ctx, c.DataDir, r, c.FetchCache); err != nil {
				return fmt.Errorf("request %s: %w", r.Name, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	return p.stage("extract", func() error {
		for i, r := range c.Catalog.Requests {
			if _, err := cdsapi.Extract(archives[i], c.DataDir, r.Name, p.Log); err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadAssets reads the configured boundary layers, logo and legend
// image, downloading any that are given as URLs.
func (p *Pipeline) LoadAssets(ctx context.Context) (*camsmap.Assets, error) {
	c := p.Config
	dir := filepath.Join(c.DataDir, "assets")
	boundaries := make(map[string]string, len(c.Boundaries))
	for name, path := range c.Boundaries {
		local, err := maybeDownload(ctx, path, dir)
		if err != nil {
			return nil, err
		}
		boundaries[name] = local
	}
	logo, err := maybeDownload(ctx, c.Logo, dir)
	if err != nil {
		return nil, err
	}
	legend, err := maybeDownload(ctx, c.LegendImage, dir)
	if err != nil {
		return nil, err
	}
	return p.assets.Load(ctx, boundaries, logo, legend)
}

// Render loads, converts and renders every frame of product.
func (p *Pipeline) Render(ctx context.Context, product *camsmap.Product, assets *camsmap.Assets) (*camsmap.ArtifactSet, error) {
	c := p.Config
	log := p.Log.WithFields(logrus.Fields{"stage": "load", "product": product.Name})
	var field *camsmap.GriddedField
	err := p.stage("load", func() error {
		var err error
		if field, err = product.Load(c.DataDir); err != nil {
			return fmt.Errorf("product %s: %w", product.Name, err)
		}
		if c.ClampNonPositive && !product.ClampNonPositive {
			camsmap.ClampNonPositive(field.Data.Elements)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.WithFields(logrus.Fields{"steps": field.Steps(), "status": "ok"}).Info("loaded field")

	scheme, err := product.NewScheme()
	if err != nil {
		return nil, err
	}
	extent, err := field.Extent()
	if err != nil {
		return nil, fmt.Errorf("product %s: %w", product.Name, err)
	}
	shrink := product.LegendShrink
	if shrink == 0 {
		shrink = camsmap.DefaultLegendShrink
	}

	r := camsmap.NewRenderer()
	r.Width = c.FrameWidth
	r.DPI = c.DPI
	if c.Attribution != "" {
		r.Attribution = c.Attribution
	}
	r.Clock = p.Clock
	b := camsmap.NewBatch(r)
	b.Workers = c.Workers
	b.FrameTimeout = c.FrameTimeout
	b.Log = p.Log
	b.Metrics = p.Metrics
	b.Clock = p.Clock

	var set *camsmap.ArtifactSet
	err = p.stage("render", func() error {
		var err error
		set, err = b.Run(ctx, camsmap.FrameSet{
			Field:        field,
			Labels:       field.Labels(c.UTCOffset),
			Scheme:       scheme,
			Assets:       assets.Select(product.Boundaries, product.LegendImage, extent),
			Name:         product.Title,
			Base:         c.base(product),
			LegendShrink: shrink,
		})
		return err
	})
	return set, err
}

// Package writes the animation and archive for set.
func (p *Pipeline) Package(set *camsmap.ArtifactSet) error {
	pk := camsmap.NewPackager()
	pk.Log = p.Log
	if p.Config.GIFDelay > 0 {
		pk.Delay = p.Config.GIFDelay
	}
	return p.stage("package", func() error { return pk.Package(set) })
}

// Publish copies the artifacts of product to the configured destination.
// Failures are logged and counted but not returned, so that one
// unreachable destination does not stop the remaining products.
func (p *Pipeline) Publish(ctx context.Context, product *camsmap.Product) {
	c := p.Config
	if c.PublishDestination == "" {
		return
	}
	log := p.Log.WithFields(logrus.Fields{"stage": "publish", "product": product.Name})
	start := p.Clock.Now()
	defer func() { p.Metrics.ObserveStage("publish", p.Clock.Since(start)) }()
	d, err := publish.ParseDestination(c.PublishDestination)
	if err == nil {
		if c.PublishTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.PublishTimeout)
			defer cancel()
		}
		pub := publish.NewPublisher()
		pub.Log = p.Log
		err = pub.Artifacts(ctx, d, product.Name, c.base(product))
	}
	if err != nil {
		p.Metrics.PublishFailed(product.Name)
		log.WithField("status", "warn").Warnf("publishing failed: %v", err)
		return
	}
	log.WithFields(logrus.Fields{"destination": d.Join(product.Name).String(), "status": "ok"}).Info("published")
}

// Run executes the full pipeline: fetch and extract, then for each
// selected product render, package and publish, and finally push metrics.
func (p *Pipeline) Run(ctx context.Context) error {
	c := p.Config
	products, err := c.Catalog.Select(c.Products)
	if err != nil {
		return err
	}
	if _, err := checkOutputDir(c.OutputDir); err != nil {
		return err
	}
	if err := p.Fetch(ctx); err != nil {
		return err
	}
	if err := p.RenderProducts(ctx, products); err != nil {
		return err
	}
	p.Metrics.Succeeded(p.Clock.Now())
	p.pushMetrics(ctx)
	p.Log.WithFields(logrus.Fields{"products": len(products), "status": "ok"}).Info("run complete")
	return nil
}

// RenderProducts renders, packages and publishes products from files
// already present in the data directory.
func (p *Pipeline) RenderProducts(ctx context.Context, products []camsmap.Product) error {
	assets, err := p.LoadAssets(ctx)
	if err != nil {
		return err
	}
	for i := range products {
		product := &products[i]
		set, err := p.Render(ctx, product, assets)
		if err != nil {
			return err
		}
		if c := p.Config; c.Package && product.Packaged() {
			if err := p.Package(set); err != nil {
				return err
			}
		}
		p.Publish(ctx, product)
	}
	return nil
}

func (p *Pipeline) pushMetrics(ctx context.Context) {
	if p.Config.MetricsPushGateway == "" {
		return
	}
	if err := p.Metrics.Push(ctx, p.Config.MetricsPushGateway, "camsmap"); err != nil {
		p.Log.WithFields(logrus.Fields{"stage": "metrics", "status": "warn"}).Warnf("pushing metrics: %v", err)
	}
}

