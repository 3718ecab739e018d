// Package assets downloads record thumbnails on a fixed pool of workers fed
// by an unbounded queue.
package assets

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-archiver/internal/progress"
	"github.com/JakeFAU/catalog-archiver/internal/queue"
	"github.com/JakeFAU/catalog-archiver/internal/queue/memory"
	"github.com/JakeFAU/catalog-archiver/internal/storage"
	"github.com/JakeFAU/catalog-archiver/internal/store"
)

// DefaultTimeout bounds one asset download.
const DefaultTimeout = 60 * time.Second

// ErrFinalized is returned by Submit once Finalize has been called.
var ErrFinalized = errors.New("downloader finalized")

// Fetcher retrieves an asset body.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (body []byte, contentType string, err error)
}

// RecordLister provides the records whose assets should be downloaded.
type RecordLister interface {
	ListRecords(ctx context.Context) ([]store.Record, error)
}

// Config controls the worker pool.
type Config struct {
	// Workers <= 0 uses runtime.GOMAXPROCS(0).
	Workers int
	// Timeout <= 0 uses DefaultTimeout.
	Timeout time.Duration
	// Force re-downloads assets that already exist.
	Force    bool
	Logger   *zap.Logger
	Reporter progress.Reporter
}

// Stats counts task outcomes.
type Stats struct {
	Submitted int64
	Written   int64
	Skipped   int64
	Failed    int64
}

// Downloader runs download tasks in the background. Failures are logged and
// counted, never returned.
type Downloader struct {
	fetcher  Fetcher
	blobs    storage.BlobStore
	cfg      Config
	logger   *zap.Logger
	reporter progress.Reporter

	ctx    context.Context
	queue  queue.Queue[store.Record]
	wg     sync.WaitGroup
	active atomic.Int64

	submitted atomic.Int64
	written   atomic.Int64
	skipped   atomic.Int64
	failed    atomic.Int64

	finalizeOnce sync.Once
}

// New starts the workers. They stop when ctx ends or after Finalize drains
// the queue.
func New(ctx context.Context, fetcher Fetcher, blobs storage.BlobStore, cfg Config) (*Downloader, error) {
	if fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if blobs == nil {
		return nil, errors.New("blob store is required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Downloader{
		fetcher:  fetcher,
		blobs:    blobs,
		cfg:      cfg,
		logger:   logger,
		reporter: cfg.Reporter,
		ctx:      ctx,
		queue:    memory.NewQueue[store.Record](),
	}
	d.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go d.work(i)
	}
	return d, nil
}

// Submit enqueues one record without blocking.
func (d *Downloader) Submit(rec store.Record) error {
	if err := d.queue.Push(rec); err != nil {
		if errors.Is(err, queue.ErrClosed) {
			return ErrFinalized
		}
		return err
	}
	d.submitted.Add(1)
	return nil
}

// SubmitAll enqueues every record from lister, highest id first, and returns
// how many were submitted.
func (d *Downloader) SubmitAll(ctx context.Context, lister RecordLister) (int, error) {
	records, err := lister.ListRecords(ctx)
	if err != nil {
		return 0, fmt.Errorf("list records: %w", err)
	}
	for i, rec := range records {
		if err := d.Submit(rec); err != nil {
			return i, err
		}
	}
	d.logger.Debug("assets submitted",
		zap.Int("submitted", len(records)),
		zap.Int("queued", d.queue.Len()),
		zap.Int64("active", d.active.Load()),
	)
	return len(records), nil
}

// Finalize stops intake, waits for queued tasks to finish and returns the
// final counts. Later calls only wait.
func (d *Downloader) Finalize() Stats {
	d.finalizeOnce.Do(func() {
		d.logger.Debug("finalizing downloads",
			zap.Int("queued", d.queue.Len()),
			zap.Int64("active", d.active.Load()),
		)
		d.queue.Close()
	})
	d.wg.Wait()
	return d.Stats()
}

// Stats returns a snapshot of task outcomes.
func (d *Downloader) Stats() Stats {
	return Stats{
		Submitted: d.submitted.Load(),
		Written:   d.written.Load(),
		Skipped:   d.skipped.Load(),
		Failed:    d.failed.Load(),
	}
}

func (d *Downloader) work(worker int) {
	defer d.wg.Done()
	for {
		rec, err := d.queue.Pop(d.ctx)
		if err != nil {
			if !errors.Is(err, queue.ErrClosed) {
				d.logger.Debug("asset worker stopping", zap.Int("worker", worker), zap.Error(err))
			}
			return
		}
		d.active.Add(1)
		d.download(rec)
		d.active.Add(-1)
	}
}

func (d *Downloader) download(rec store.Record) {
	name := FileName(rec)
	log := d.logger.With(zap.Int64("id", rec.ID), zap.String("file", name))

	if rec.ThumbnailURL == "" {
		d.skip(rec, "no asset url")
		return
	}
	if !d.cfg.Force {
		exists, err := d.blobs.Exists(d.ctx, name)
		if err != nil {
			d.fail(rec, log, err)
			return
		}
		if exists {
			d.skip(rec, "already downloaded")
			return
		}
	}

	ctx, cancel := context.WithTimeout(d.ctx, d.cfg.Timeout)
	defer cancel()
	start := time.Now()
	body, contentType, err := d.fetcher.Fetch(ctx, rec.ThumbnailURL)
	if err != nil {
		d.fail(rec, log, err)
		return
	}
	if contentType == "" {
		contentType = "image/jpeg"
	}
	uri, err := d.blobs.PutObject(ctx, name, contentType, bytes.NewReader(body))
	if err != nil {
		d.fail(rec, log, err)
		return
	}
	d.written.Add(1)
	log.Debug("asset saved", zap.String("uri", uri), zap.Int("bytes", len(body)))
	d.reporter.Report(progress.Event{Stage: progress.StageAssetDone, RecordID: rec.ID, Dur: time.Since(start)})
}

func (d *Downloader) skip(rec store.Record, reason string) {
	d.skipped.Add(1)
	d.reporter.Report(progress.Event{Stage: progress.StageAssetSkipped, RecordID: rec.ID, Note: reason})
}

func (d *Downloader) fail(rec store.Record, log *zap.Logger, err error) {
	d.failed.Add(1)
	log.Warn("asset download failed", zap.String("url", rec.ThumbnailURL), zap.Error(err))
	d.reporter.Report(progress.Event{Stage: progress.StageAssetError, RecordID: rec.ID, Note: err.Error()})
}
