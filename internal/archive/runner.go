package archive

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-archiver/internal/checkpoint"
	"github.com/JakeFAU/catalog-archiver/internal/progress"
	"github.com/JakeFAU/catalog-archiver/internal/store"
)

// Options selects what a run does.
type Options struct {
	// PageSize <= 0 keeps the persisted page size.
	PageSize int64
	// Reset discards the checkpoint, including the watermark.
	Reset bool
	// NewOnly ingests the first search page and the ids above the last
	// detail payload.
	NewOnly bool
	// KnownOnly fetches details for stored records lacking them.
	KnownOnly    bool
	SkipSearch   bool
	SkipBackfill bool
}

// Validate rejects contradictory mode combinations.
func (o Options) Validate() error {
	if o.NewOnly && o.KnownOnly {
		return errors.New("new and known modes are mutually exclusive")
	}
	return nil
}

// Summary reports what a run accomplished.
type Summary struct {
	Search     SearchResult
	Backfill   BackfillResult
	Checkpoint store.Checkpoint
}

// RunnerConfig wires a Runner.
type RunnerConfig struct {
	Catalog   Catalog
	Store     Store
	ChunkSize int64
	Logger    *zap.Logger
	Reporter  progress.Reporter
	Clock     Clock
	// Detail announcements.
	Details DetailOptions
}

// Runner orchestrates one crawl run: checkpoint, search, then backfill.
// The phases never overlap.
type Runner struct {
	cfg         RunnerConfig
	checkpoints *checkpoint.Manager
	logger      *zap.Logger
}

// NewRunner constructs a Runner.
func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if cfg.Catalog == nil {
		return nil, errors.New("catalog is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("store is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	mgr, err := checkpoint.NewManager(cfg.Store, cfg.Logger.Named("checkpoint"))
	if err != nil {
		return nil, err
	}
	return &Runner{cfg: cfg, checkpoints: mgr, logger: cfg.Logger}, nil
}

// Run executes one crawl run according to opts.
func (r *Runner) Run(ctx context.Context, opts Options) (Summary, error) {
	var sum Summary
	if err := opts.Validate(); err != nil {
		return sum, err
	}
	start := r.now()
	r.cfg.Reporter.Report(progress.Event{Stage: progress.StageRunStart})

	err := r.run(ctx, opts, &sum)
	elapsed := r.now().Sub(start)
	if elapsed < 0 {
		elapsed = 0
	}
	if err != nil {
		r.cfg.Reporter.Report(progress.Event{Stage: progress.StageRunError, Dur: elapsed, Note: err.Error()})
		return sum, err
	}
	r.cfg.Reporter.Report(progress.Event{Stage: progress.StageRunDone, Dur: elapsed})
	return sum, nil
}

func (r *Runner) run(ctx context.Context, opts Options, sum *Summary) error {
	cp, err := r.checkpoints.Load(ctx, opts.PageSize, opts.Reset)
	if err != nil {
		return err
	}
	if opts.NewOnly || opts.KnownOnly {
		cp = checkpoint.ResetPagination(cp)
	}
	if cp.NextPage == 0 {
		r.logger.Debug("starting archival from the first page")
	} else {
		r.logger.Debug("resuming archival", zap.Int64("page", cp.NextPage))
	}
	if err := r.checkpoints.Save(ctx, cp); err != nil {
		return err
	}
	sum.Checkpoint = cp

	if !opts.SkipSearch {
		search, err := NewSearchDriver(r.cfg.Catalog, r.cfg.Store, SearchOptions{
			NewOnly:  opts.NewOnly,
			Logger:   r.logger.Named("search"),
			Reporter: r.cfg.Reporter,
		})
		if err != nil {
			return err
		}
		sum.Search, err = search.Run(ctx, &cp)
		sum.Checkpoint = cp
		if err != nil {
			return fmt.Errorf("search: %w", err)
		}
	}
	if opts.SkipBackfill {
		return nil
	}

	detailOpts := r.cfg.Details
	detailOpts.Logger = r.logger.Named("detail")
	detailOpts.Reporter = r.cfg.Reporter
	if detailOpts.Clock == nil {
		detailOpts.Clock = r.cfg.Clock
	}
	details, err := NewDetailFetcher(r.cfg.Catalog, r.cfg.Store, detailOpts)
	if err != nil {
		return err
	}
	backfill, err := NewBackfillDriver(r.cfg.Store, details, BackfillOptions{
		ChunkSize: r.cfg.ChunkSize,
		Logger:    r.logger.Named("backfill"),
		Reporter:  r.cfg.Reporter,
	})
	if err != nil {
		return err
	}

	switch {
	case opts.KnownOnly:
		sum.Backfill, err = backfill.RunKnown(ctx)
	case opts.NewOnly:
		sum.Backfill, err = backfill.RunNew(ctx)
	default:
		r.logger.Debug("looking for records search cannot reach")
		sum.Backfill, err = backfill.RunFull(ctx, &cp)
		sum.Checkpoint = cp
	}
	if err != nil {
		return fmt.Errorf("backfill: %w", err)
	}
	return nil
}

func (r *Runner) now() time.Time {
	if r.cfg.Clock != nil {
		return r.cfg.Clock.Now()
	}
	return time.Now()
}
