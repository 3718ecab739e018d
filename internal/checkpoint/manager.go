// Package checkpoint loads, reconciles and persists the crawl cursor.
package checkpoint

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-archiver/internal/store"
)

// DefaultPageSize is used when neither the caller nor the store supplies one.
const DefaultPageSize int64 = 100

// Manager wraps a CheckpointStore with the resume rules of a crawl run.
type Manager struct {
	store  store.CheckpointStore
	logger *zap.Logger
}

// NewManager constructs a Manager.
func NewManager(cps store.CheckpointStore, logger *zap.Logger) (*Manager, error) {
	if cps == nil {
		return nil, errors.New("checkpoint store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{store: cps, logger: logger}, nil
}

// Fresh returns the checkpoint of a run that starts from nothing.
func Fresh(pageSize int64) store.Checkpoint {
	return store.Checkpoint{NextPage: 0, PageSize: pageSize, Watermark: store.Unconfirmed}
}

// ResetPagination rewinds the page cursor and keeps the watermark.
func ResetPagination(cp store.Checkpoint) store.Checkpoint {
	cp.NextPage = 0
	return cp
}

// Load returns the checkpoint a run should resume from.
// A requestedPageSize <= 0 keeps the persisted size, or DefaultPageSize.
// A page size different from the persisted one invalidates the page cursor
// but not the watermark.
func (m *Manager) Load(ctx context.Context, requestedPageSize int64, reset bool) (store.Checkpoint, error) {
	if reset {
		size := requestedPageSize
		if size <= 0 {
			size = DefaultPageSize
		}
		m.logger.Debug("checkpoint reset requested", zap.Int64("page_size", size))
		return Fresh(size), nil
	}

	persisted, err := m.store.LoadCheckpoint(ctx)
	if errors.Is(err, store.ErrNotFound) {
		size := requestedPageSize
		if size <= 0 {
			size = DefaultPageSize
		}
		m.logger.Debug("no checkpoint found, starting fresh", zap.Int64("page_size", size))
		return Fresh(size), nil
	}
	if err != nil {
		return store.Checkpoint{}, fmt.Errorf("load checkpoint: %w", err)
	}

	if persisted.PageSize <= 0 {
		persisted.PageSize = DefaultPageSize
		persisted.NextPage = 0
	}
	if requestedPageSize > 0 && requestedPageSize != persisted.PageSize {
		m.logger.Debug("page size changed, restarting pagination",
			zap.Int64("previous", persisted.PageSize),
			zap.Int64("requested", requestedPageSize),
		)
		persisted.PageSize = requestedPageSize
		persisted.NextPage = 0
	}
	m.logger.Debug("resuming from checkpoint",
		zap.Int64("next_page", persisted.NextPage),
		zap.Int64("page_size", persisted.PageSize),
		zap.Int64("watermark", persisted.Watermark),
	)
	return persisted, nil
}

// Save persists cp.
func (m *Manager) Save(ctx context.Context, cp store.Checkpoint) error {
	if err := m.store.SaveCheckpoint(ctx, cp); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}
