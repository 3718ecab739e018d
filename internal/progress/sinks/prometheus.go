package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/catalog-archiver/internal/progress"
	"github.com/JakeFAU/catalog-archiver/internal/store"
)

// PrometheusSink exports run progress as Prometheus collectors.
type PrometheusSink struct {
	runs         *prometheus.CounterVec
	runtime      prometheus.Histogram
	pages        prometheus.Counter
	records      prometheus.Counter
	details      *prometheus.CounterVec
	assets       *prometheus.CounterVec
	nextPage     prometheus.Gauge
	watermark    prometheus.Gauge
	assetLatency prometheus.Histogram
}

// NewPrometheusSink registers the collectors against reg.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "archiver_runs_total",
			Help: "Crawl runs partitioned by lifecycle stage.",
		}, []string{"stage"}),
		runtime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "archiver_run_duration_seconds",
			Help:    "Wall time of finished runs.",
			Buckets: []float64{1, 10, 60, 300, 900, 3600, 4 * 3600, 12 * 3600},
		}),
		pages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "archiver_search_pages_total",
			Help: "Search pages ingested.",
		}),
		records: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "archiver_search_records_total",
			Help: "Records upserted from search pages.",
		}),
		details: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "archiver_details_total",
			Help: "Per-id detail lookups partitioned by result.",
		}, []string{"result"}),
		assets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "archiver_assets_total",
			Help: "Asset downloads partitioned by result.",
		}, []string{"result"}),
		nextPage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "archiver_checkpoint_next_page",
			Help: "First search page not yet ingested.",
		}),
		watermark: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "archiver_checkpoint_watermark",
			Help: "Lowest id confirmed by the full backfill, -1 when unconfirmed.",
		}),
		assetLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "archiver_asset_fetch_seconds",
			Help:    "Asset fetch latency.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	for _, c := range []prometheus.Collector{
		s.runs, s.runtime, s.pages, s.records, s.details, s.assets, s.nextPage, s.watermark, s.assetLatency,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	s.watermark.Set(-1)
	return s, nil
}

// Consume updates the collectors from batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageRunStart:
			s.runs.WithLabelValues("start").Inc()
		case progress.StageRunDone, progress.StageRunError:
			label := "done"
			if evt.Stage == progress.StageRunError {
				label = "error"
			}
			s.runs.WithLabelValues(label).Inc()
			if evt.Dur > 0 {
				s.runtime.Observe(evt.Dur.Seconds())
			}
		case progress.StagePageDone:
			s.pages.Inc()
			s.records.Add(float64(evt.Count))
		case progress.StageDetailDone:
			s.details.WithLabelValues("confirmed").Inc()
		case progress.StageDetailMiss:
			s.details.WithLabelValues("missed").Inc()
		case progress.StageCheckpoint:
			s.nextPage.Set(float64(evt.Page))
			if evt.Watermark == store.Unconfirmed {
				s.watermark.Set(-1)
			} else {
				s.watermark.Set(float64(evt.Watermark))
			}
		case progress.StageAssetDone:
			s.assets.WithLabelValues("written").Inc()
			if evt.Dur > 0 {
				s.assetLatency.Observe(evt.Dur.Seconds())
			}
		case progress.StageAssetSkipped:
			s.assets.WithLabelValues("skipped").Inc()
		case progress.StageAssetError:
			s.assets.WithLabelValues("failed").Inc()
		}
	}
	return nil
}

// Close implements progress.Sink.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
