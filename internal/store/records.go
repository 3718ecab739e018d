package store

import (
	"context"
	"errors"
	"math"
)

// ErrNotFound signals that the requested row does not exist.
var ErrNotFound = errors.New("record not found")

// Unconfirmed is the watermark sentinel meaning no identifier has been
// confirmed by a full backfill sweep yet.
const Unconfirmed int64 = math.MaxInt64

// Record models one catalog entry's metadata row.
type Record struct {
	// ID is the catalog identifier and primary key.
	ID int64
	// Name is the display name as published.
	Name        string
	Description string
	// ThumbnailURL is the asset fetched by the asset downloader.
	ThumbnailURL       string
	AddedBy            string
	AddedByDisplayName string
	// AddedDate and ExpiryDate are kept verbatim; they are never parsed.
	AddedDate      string
	ExpiryDate     string
	CPU            int64
	TotalRanking   int64
	RentCount      int64
	BuyCount       int64
	Buyable        bool
	Featured       bool
	CombatRating   float64
	CosmeticRating float64
}

// Detail is the extended payload only available through a per-id lookup.
// Its presence marks the record as fully downloaded.
type Detail struct {
	ID          int64
	CubeData    string
	ColourData  string
	CubeAmounts string
}

// Checkpoint is the singleton crawl cursor.
type Checkpoint struct {
	// NextPage is the first search page not yet ingested.
	NextPage int64
	// PageSize is the page size NextPage was computed with.
	PageSize int64
	// Watermark is the lowest id of the top region already swept by a full
	// backfill, or Unconfirmed.
	Watermark int64
	// SweepTop is the highest id of that region. Values below Watermark mean
	// it was never recorded.
	SweepTop int64
}

// HasWatermark reports whether a full backfill confirmed anything yet.
func (c Checkpoint) HasWatermark() bool {
	return c.Watermark != Unconfirmed
}

// RecordStore persists catalog records and their detail payloads.
type RecordStore interface {
	// EnsureSchema creates tables when absent. It is idempotent.
	EnsureSchema(ctx context.Context) error
	// UpsertRecords replaces or inserts the batch inside one transaction.
	UpsertRecords(ctx context.Context, batch []Record) error
	// UpsertRecordWithDetail writes metadata and detail for one id atomically.
	UpsertRecordWithDetail(ctx context.Context, record Record, detail Detail) error
	// RecordsMissingDetail returns records that have no detail payload yet.
	RecordsMissingDetail(ctx context.Context) ([]Record, error)
	// ListRecords returns every record, highest id first.
	ListRecords(ctx context.Context) ([]Record, error)
	// MaxID returns the highest record id; ok is false for an empty store.
	MaxID(ctx context.Context) (id int64, ok bool, err error)
	// MinDetailID returns the lowest id with a detail payload.
	MinDetailID(ctx context.Context) (id int64, ok bool, err error)
	// MaxDetailID returns the highest id with a detail payload.
	MaxDetailID(ctx context.Context) (id int64, ok bool, err error)
}

// CheckpointStore persists the singleton checkpoint row.
type CheckpointStore interface {
	// LoadCheckpoint returns ErrNotFound when no checkpoint was saved yet.
	LoadCheckpoint(ctx context.Context) (Checkpoint, error)
	// SaveCheckpoint overwrites the singleton row.
	SaveCheckpoint(ctx context.Context, cp Checkpoint) error
}

// Repository is the full persistence surface used by a crawl run.
type Repository interface {
	RecordStore
	CheckpointStore
	Close() error
}
