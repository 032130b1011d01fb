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

// Package metrics holds the Prometheus collectors for a rendering run.
// A run is a batch job, so the collectors are pushed to a Pushgateway
// when it finishes rather than scraped.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

const namespace = "camsmap"

// Metrics holds the collectors for one run. All methods may be called on
// a nil *Metrics, in which case they do nothing.
type Metrics struct {
	Registry *prometheus.Registry

	FramesRendered  *prometheus.CounterVec   // labels: product
	FrameFailures   *prometheus.CounterVec   // labels: product
	FrameDuration   *prometheus.HistogramVec // labels: product
	PublishFailures *prometheus.CounterVec   // labels: product
	StageDuration   *prometheus.HistogramVec // labels: stage
	LastSuccess     prometheus.Gauge
}

// New creates the collectors and registers them with a new registry.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		FramesRendered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_rendered_total",
			Help:      "Frames written, by product.",
		}, []string{"product"}),
		FrameFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frame_failures_total",
			Help:      "Frames skipped because drawing failed or timed out, by product.",
		}, []string{"product"}),
		FrameDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "frame_render_seconds",
			Help:      "Time spent drawing one frame.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"product"}),
		PublishFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_failures_total",
			Help:      "Failed artifact transfers, by product.",
		}, []string{"product"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_seconds",
			Help:      "Duration of each pipeline stage.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		}, []string{"stage"}),
		LastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time at which the last run finished successfully.",
		}),
	}
	m.Registry.MustRegister(
		m.FramesRendered,
		m.FrameFailures,
		m.FrameDuration,
		m.PublishFailures,
		m.StageDuration,
		m.LastSuccess,
	)
	return m
}

// FrameRendered records a frame written for product in d.
func (m *Metrics) FrameRendered(product string, d time.Duration) {
	if m == nil {
		return
	}
	m.FramesRendered.WithLabelValues(product).Inc()
	m.FrameDuration.WithLabelValues(product).Observe(d.Seconds())
}

// FrameFailed records a skipped frame.
func (m *Metrics) FrameFailed(product string) {
	if m == nil {
		return
	}
	m.FrameFailures.WithLabelValues(product).Inc()
}

// PublishFailed records a failed transfer.
func (m *Metrics) PublishFailed(product string) {
	if m == nil {
		return
	}
	m.PublishFailures.WithLabelValues(product).Inc()
}

// ObserveStage records the duration of a pipeline stage.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// Succeeded records the end time of a successful run.
func (m *Metrics) Succeeded(t time.Time) {
	if m == nil {
		return
	}
	m.LastSuccess.Set(float64(t.Unix()))
}

// Push sends all collectors to the Pushgateway at url under the given
// job name.
func (m *Metrics) Push(ctx context.Context, url, job string) error {
	if m == nil {
		return nil
	}
	if err := push.New(url, job).Gatherer(m.Registry).PushContext(ctx); err != nil {
		return fmt.Errorf("metrics: pushing to %s: %v", url, err)
	}
	return nil
}
