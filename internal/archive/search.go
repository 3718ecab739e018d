package archive

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-archiver/internal/catalog"
	"github.com/JakeFAU/catalog-archiver/internal/progress"
	"github.com/JakeFAU/catalog-archiver/internal/store"
)

// SearchResult summarises one search pass.
type SearchResult struct {
	Pages   int64
	Records int64
	// Exhausted is set when the catalog returned an empty page.
	Exhausted bool
}

// SearchOptions configures a SearchDriver.
type SearchOptions struct {
	// NewOnly stops after the first successful page.
	NewOnly  bool
	Logger   *zap.Logger
	Reporter progress.Reporter
}

// SearchDriver ingests search pages newest first, advancing the checkpoint
// after every page it commits.
type SearchDriver struct {
	catalog  Catalog
	store    Store
	newOnly  bool
	logger   *zap.Logger
	reporter progress.Reporter
}

// NewSearchDriver constructs a SearchDriver.
func NewSearchDriver(cat Catalog, st Store, opts SearchOptions) (*SearchDriver, error) {
	if cat == nil {
		return nil, errors.New("catalog is required")
	}
	if st == nil {
		return nil, errors.New("store is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SearchDriver{
		catalog:  cat,
		store:    st,
		newOnly:  opts.NewOnly,
		logger:   logger,
		reporter: opts.Reporter,
	}, nil
}

// Run pages from cp.NextPage until the catalog returns an empty page.
// cp is updated in place and is saved after each committed page; a failed
// page leaves it pointing at that page.
func (d *SearchDriver) Run(ctx context.Context, cp *store.Checkpoint) (SearchResult, error) {
	var res SearchResult
	if cp == nil {
		return res, errors.New("checkpoint is required")
	}
	if cp.PageSize <= 0 {
		return res, fmt.Errorf("invalid page size %d", cp.PageSize)
	}
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		page := cp.NextPage
		d.logger.Debug("retrieving page", zap.Int64("page", page), zap.Int64("page_size", cp.PageSize))

		resp, err := d.catalog.Search(ctx, catalog.NewestFirst(page, cp.PageSize))
		if err != nil {
			return res, fmt.Errorf("search page %d: %w", page, err)
		}
		if !resp.IsSuccess() {
			return res, &catalog.StatusError{Op: fmt.Sprintf("search page %d", page), StatusCode: resp.StatusCode}
		}
		if len(resp.Items) == 0 {
			d.logger.Debug("empty page, search exhausted", zap.Int64("page", page))
			res.Exhausted = true
			return res, nil
		}

		if err := d.store.UpsertRecords(ctx, recordsFromPage(resp.Items)); err != nil {
			return res, fmt.Errorf("store page %d: %w", page, err)
		}
		next := *cp
		next.NextPage = page + 1
		if err := d.store.SaveCheckpoint(ctx, next); err != nil {
			return res, fmt.Errorf("save checkpoint after page %d: %w", page, err)
		}
		*cp = next

		count := int64(len(resp.Items))
		res.Pages++
		res.Records += count
		d.logger.Debug("page stored", zap.Int64("page", page), zap.Int64("records", count))
		d.reporter.Report(progress.Event{Stage: progress.StagePageDone, Page: page, Count: count})
		d.reporter.Report(progress.Event{Stage: progress.StageCheckpoint, Page: next.NextPage, Watermark: next.Watermark})

		if d.newOnly {
			d.logger.Debug("stopping search before older records are reached")
			return res, nil
		}
	}
}
