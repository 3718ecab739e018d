package archive

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-archiver/internal/progress"
	"github.com/JakeFAU/catalog-archiver/internal/store"
)

// DetailFetcher looks up one id and persists metadata and detail together.
type DetailFetcher struct {
	catalog  Catalog
	store    store.RecordStore
	logger   *zap.Logger
	reporter progress.Reporter

	// Announcements of new records go to out and, when set, to publisher.
	out       io.Writer
	verbose   bool
	publisher Publisher
	clock     Clock
}

// DetailOptions configures a DetailFetcher.
type DetailOptions struct {
	Logger    *zap.Logger
	Reporter  progress.Reporter
	Out       io.Writer
	Verbose   bool
	Publisher Publisher
	Clock     Clock
}

// NewDetailFetcher constructs a DetailFetcher.
func NewDetailFetcher(cat Catalog, rs store.RecordStore, opts DetailOptions) (*DetailFetcher, error) {
	if cat == nil {
		return nil, errors.New("catalog is required")
	}
	if rs == nil {
		return nil, errors.New("record store is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	out := opts.Out
	if out == nil {
		out = io.Discard
	}
	return &DetailFetcher{
		catalog:   cat,
		store:     rs,
		logger:    logger,
		reporter:  opts.Reporter,
		out:       out,
		verbose:   opts.Verbose,
		publisher: opts.Publisher,
		clock:     opts.Clock,
	}, nil
}

// FetchAndPersist returns true once the record and its detail are stored.
// A failed or non-success lookup returns false with a nil error so the caller
// decides whether to skip or stop. Persistence failures and cancellation are
// returned as errors.
func (d *DetailFetcher) FetchAndPersist(ctx context.Context, id int64) (bool, error) {
	_, ok, err := d.fetch(ctx, id)
	return ok, err
}

// DiscoverNew behaves like FetchAndPersist and announces the record.
func (d *DetailFetcher) DiscoverNew(ctx context.Context, id int64) (bool, error) {
	rec, ok, err := d.fetch(ctx, id)
	if err != nil || !ok {
		return ok, err
	}
	if d.verbose {
		fmt.Fprintf(d.out, "found new record #%d (%s by %s, %d CPU)\n", rec.ID, rec.Name, rec.AddedByDisplayName, rec.CPU)
	} else {
		fmt.Fprintf(d.out, "found new record #%d\n", rec.ID)
	}
	d.publish(ctx, rec)
	return true, nil
}

func (d *DetailFetcher) fetch(ctx context.Context, id int64) (store.Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return store.Record{}, false, err
	}
	resp, err := d.catalog.GetDetail(ctx, id)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return store.Record{}, false, ctxErr
		}
		d.logger.Debug("detail lookup failed", zap.Int64("id", id), zap.Error(err))
		d.reporter.Report(progress.Event{Stage: progress.StageDetailMiss, RecordID: id, Note: err.Error()})
		return store.Record{}, false, nil
	}
	if !resp.IsSuccess() {
		d.logger.Debug("detail lookup returned non-success status",
			zap.Int64("id", id), zap.Int("status", resp.StatusCode))
		d.reporter.Report(progress.Event{
			Stage:    progress.StageDetailMiss,
			RecordID: id,
			Note:     fmt.Sprintf("status %d", resp.StatusCode),
		})
		return store.Record{}, false, nil
	}

	rec := RecordFromDetailItem(resp.Item)
	detail := DetailFromDetailItem(resp.Item)
	// Some responses omit itemId.
	if rec.ID == 0 && id != 0 {
		rec.ID, detail.ID = id, id
	}
	if err := d.store.UpsertRecordWithDetail(ctx, rec, detail); err != nil {
		return store.Record{}, false, fmt.Errorf("persist record %d: %w", id, err)
	}
	d.reporter.Report(progress.Event{Stage: progress.StageDetailDone, RecordID: rec.ID})
	return rec, true, nil
}

func (d *DetailFetcher) publish(ctx context.Context, rec store.Record) {
	if d.publisher == nil {
		return
	}
	evt := RecordDiscovered{
		ID:      rec.ID,
		Name:    rec.Name,
		AddedBy: rec.AddedByDisplayName,
		CPU:     rec.CPU,
	}
	if d.clock != nil {
		evt.DiscoveredAt = d.clock.Now()
	}
	if _, err := d.publisher.Publish(ctx, DiscoveryKind, evt); err != nil {
		d.logger.Warn("publish discovery failed", zap.Int64("id", rec.ID), zap.Error(err))
	}
}
