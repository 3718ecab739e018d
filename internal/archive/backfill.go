package archive

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-archiver/internal/progress"
	"github.com/JakeFAU/catalog-archiver/internal/store"
)

// DefaultChunkSize is the watermark granularity of a full sweep.
const DefaultChunkSize int64 = 100

// BackfillResult summarises one sweep.
type BackfillResult struct {
	Attempted int64
	Confirmed int64
	Missed    int64
}

// BackfillOptions configures a BackfillDriver.
type BackfillOptions struct {
	ChunkSize int64
	Logger    *zap.Logger
	Reporter  progress.Reporter
}

// BackfillDriver walks the sequential id space to find records the search
// endpoint does not list.
type BackfillDriver struct {
	store     Store
	details   *DetailFetcher
	chunkSize int64
	logger    *zap.Logger
	reporter  progress.Reporter
}

// NewBackfillDriver constructs a BackfillDriver.
func NewBackfillDriver(st Store, details *DetailFetcher, opts BackfillOptions) (*BackfillDriver, error) {
	if st == nil {
		return nil, errors.New("store is required")
	}
	if details == nil {
		return nil, errors.New("detail fetcher is required")
	}
	chunk := opts.ChunkSize
	if chunk <= 0 {
		chunk = DefaultChunkSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BackfillDriver{
		store:     st,
		details:   details,
		chunkSize: chunk,
		logger:    logger,
		reporter:  opts.Reporter,
	}, nil
}

// RunNew fetches ids above the highest detail id in ascending order and
// stops at the first id the catalog cannot serve.
func (d *BackfillDriver) RunNew(ctx context.Context) (BackfillResult, error) {
	var res BackfillResult
	maxID, ok, err := d.store.MaxID(ctx)
	if err != nil {
		return res, fmt.Errorf("read max id: %w", err)
	}
	if !ok {
		d.logger.Error("no records in store, cannot sweep ids")
		return res, nil
	}
	maxDetail, ok, err := d.store.MaxDetailID(ctx)
	if err != nil {
		return res, fmt.Errorf("read max detail id: %w", err)
	}
	if !ok {
		d.logger.Error("no detail payloads in store, cannot locate the new-id frontier")
		return res, nil
	}

	d.logger.Debug("sweeping new ids", zap.Int64("from", maxDetail+1), zap.Int64("to", maxID))
	for id := maxDetail + 1; id <= maxID; id++ {
		res.Attempted++
		confirmed, err := d.details.DiscoverNew(ctx, id)
		if err != nil {
			return res, err
		}
		if !confirmed {
			res.Missed++
			d.logger.Debug("new-id frontier reached", zap.Int64("id", id))
			break
		}
		res.Confirmed++
	}
	return res, nil
}

// RunFull sweeps every id from the highest known one down to zero, skipping
// the range already covered by earlier sweeps. cp.Watermark only moves down,
// and only to a chunk boundary below which nothing has been attempted yet,
// so every id in [Watermark, SweepTop] has been attempted by some sweep.
// Checkpoints without a recorded SweepTop fall back to the highest stored
// detail as the top of that range.
func (d *BackfillDriver) RunFull(ctx context.Context, cp *store.Checkpoint) (BackfillResult, error) {
	var res BackfillResult
	if cp == nil {
		return res, errors.New("checkpoint is required")
	}
	maxID, ok, err := d.store.MaxID(ctx)
	if err != nil {
		return res, fmt.Errorf("read max id: %w", err)
	}
	if !ok {
		d.logger.Error("no records in store, cannot sweep ids")
		return res, nil
	}
	maxDetail, hasDetail, err := d.store.MaxDetailID(ctx)
	if err != nil {
		return res, fmt.Errorf("read max detail id: %w", err)
	}
	minDetail, _, err := d.store.MinDetailID(ctx)
	if err != nil {
		return res, fmt.Errorf("read min detail id: %w", err)
	}
	skipTop, canSkip := cp.SweepTop, cp.HasWatermark()
	if skipTop < cp.Watermark {
		skipTop, canSkip = maxDetail, canSkip && hasDetail
	}
	skip := func(id int64) bool {
		return canSkip && id >= cp.Watermark && id <= skipTop
	}
	sweptTop := maxID
	if canSkip {
		sweptTop = max(sweptTop, skipTop)
	}
	d.logger.Debug("sweeping all ids",
		zap.Int64("top", maxID),
		zap.Int64("watermark", cp.Watermark),
		zap.Int64("skip_top", skipTop),
		zap.Int64("lowest_detail", minDetail),
		zap.Int64("highest_detail", maxDetail),
	)

	var sinceSave int64
	for id := maxID; id >= 0; id-- {
		if skip(id) {
			continue
		}
		res.Attempted++
		confirmed, err := d.details.FetchAndPersist(ctx, id)
		if err != nil {
			return res, err
		}
		if confirmed {
			res.Confirmed++
			sinceSave++
		} else {
			res.Missed++
		}

		if id%d.chunkSize != 0 {
			continue
		}
		if sinceSave > 0 && id < cp.Watermark {
			next := *cp
			next.Watermark = id
			next.SweepTop = sweptTop
			if err := d.store.SaveCheckpoint(ctx, next); err != nil {
				return res, fmt.Errorf("save watermark %d: %w", id, err)
			}
			*cp = next
			sinceSave = 0
			d.reporter.Report(progress.Event{Stage: progress.StageCheckpoint, Page: next.NextPage, Watermark: next.Watermark})
		}
		d.logger.Debug("sweep progress", zap.Int64("done", id), zap.Int64("watermark", cp.Watermark))
	}
	return res, nil
}

// RunKnown fetches details for every stored record that lacks one.
func (d *BackfillDriver) RunKnown(ctx context.Context) (BackfillResult, error) {
	var res BackfillResult
	missing, err := d.store.RecordsMissingDetail(ctx)
	if err != nil {
		return res, fmt.Errorf("list records missing detail: %w", err)
	}
	d.logger.Debug("records needing detail", zap.Int("count", len(missing)))
	for _, rec := range missing {
		res.Attempted++
		confirmed, err := d.details.FetchAndPersist(ctx, rec.ID)
		if err != nil {
			return res, err
		}
		if confirmed {
			res.Confirmed++
		} else {
			res.Missed++
		}
	}
	return res, nil
}
