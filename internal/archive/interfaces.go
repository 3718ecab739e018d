package archive

import (
	"context"
	"time"

	"github.com/JakeFAU/catalog-archiver/internal/catalog"
	"github.com/JakeFAU/catalog-archiver/internal/store"
)

// Catalog is the remote source of records.
type Catalog interface {
	Search(ctx context.Context, req catalog.SearchRequest) (catalog.SearchResponse, error)
	GetDetail(ctx context.Context, id int64) (catalog.DetailResponse, error)
}

// Store is the persistence surface the drivers need.
type Store interface {
	store.RecordStore
	store.CheckpointStore
}

// Publisher pushes notifications about newly discovered records.
type Publisher interface {
	Publish(ctx context.Context, kind string, payload any) (string, error)
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// DiscoveryKind labels RecordDiscovered notifications.
const DiscoveryKind = "record_discovered"

// RecordDiscovered is published for each record found by a new-ids sweep.
type RecordDiscovered struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	AddedBy      string    `json:"addedBy"`
	CPU          int64     `json:"cpu"`
	DiscoveredAt time.Time `json:"discoveredAt"`
}
