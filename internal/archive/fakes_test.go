package archive

import (
	"context"
	"errors"
	"maps"
	"net/http"
	"slices"
	"sort"
	"sync"

	"github.com/JakeFAU/catalog-archiver/internal/catalog"
	"github.com/JakeFAU/catalog-archiver/internal/store"
)

// fakeCatalog serves a fixed newest-first listing and per-id details.
type fakeCatalog struct {
	mu sync.Mutex

	// listing is the full newest-first search result.
	listing []catalog.ListItem
	// details maps id to its lookup result; absent ids answer 404.
	details map[int64]catalog.DetailItem

	searchStatus map[int64]int   // page -> status override
	searchErr    map[int64]error // page -> transport error
	detailErr    map[int64]error

	searched []catalog.SearchRequest
	looked   []int64
	// onDetail runs before each detail lookup.
	onDetail func(id int64)
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		details:      map[int64]catalog.DetailItem{},
		searchStatus: map[int64]int{},
		searchErr:    map[int64]error{},
		detailErr:    map[int64]error{},
	}
}

// addRecord makes id retrievable by lookup and, when listed, by search.
func (c *fakeCatalog) addRecord(id int64, listed bool) {
	item := catalog.DetailItem{
		ListItem: catalog.ListItem{
			ItemID:             id,
			ItemName:           "Bot " + string(rune('A'+id%26)),
			AddedByDisplayName: "Maker",
			CPU:                100 + id,
			Thumbnail:          "https://cdn.example/thumb.jpg",
		},
		CubeData:   "cubes",
		ColourData: "colours",
	}
	c.details[id] = item
	if listed {
		c.listing = append(c.listing, item.ListItem)
		sort.Slice(c.listing, func(i, j int) bool { return c.listing[i].ItemID > c.listing[j].ItemID })
	}
}

func (c *fakeCatalog) Search(_ context.Context, req catalog.SearchRequest) (catalog.SearchResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.searched = append(c.searched, req)
	if err := c.searchErr[req.Page]; err != nil {
		return catalog.SearchResponse{}, err
	}
	if status, ok := c.searchStatus[req.Page]; ok {
		return catalog.SearchResponse{StatusCode: status}, nil
	}
	start := req.Page * req.PageSize
	end := start + req.PageSize
	if start > int64(len(c.listing)) {
		start = int64(len(c.listing))
	}
	if end > int64(len(c.listing)) {
		end = int64(len(c.listing))
	}
	items := append([]catalog.ListItem(nil), c.listing[start:end]...)
	return catalog.SearchResponse{StatusCode: http.StatusOK, Items: items}, nil
}

func (c *fakeCatalog) GetDetail(_ context.Context, id int64) (catalog.DetailResponse, error) {
	c.mu.Lock()
	hook := c.onDetail
	c.looked = append(c.looked, id)
	err := c.detailErr[id]
	item, ok := c.details[id]
	c.mu.Unlock()
	if hook != nil {
		hook(id)
	}
	if err != nil {
		return catalog.DetailResponse{}, err
	}
	if !ok {
		return catalog.DetailResponse{StatusCode: http.StatusNotFound}, nil
	}
	return catalog.DetailResponse{StatusCode: http.StatusOK, Item: item}, nil
}

func (c *fakeCatalog) lookedUp() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int64(nil), c.looked...)
}

// memStore is an in-memory Store with failure injection.
type memStore struct {
	mu      sync.Mutex
	records map[int64]store.Record
	details map[int64]store.Detail
	cp      *store.Checkpoint
	saves   []store.Checkpoint

	failUpsert bool
	failDetail bool
}

func newMemStore() *memStore {
	return &memStore{records: map[int64]store.Record{}, details: map[int64]store.Detail{}}
}

var errInjected = errors.New("injected failure")

func (s *memStore) EnsureSchema(context.Context) error { return nil }

func (s *memStore) UpsertRecords(_ context.Context, batch []store.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failUpsert {
		return errInjected
	}
	for _, rec := range batch {
		s.records[rec.ID] = rec
	}
	return nil
}

func (s *memStore) UpsertRecordWithDetail(_ context.Context, rec store.Record, d store.Detail) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failDetail {
		return errInjected
	}
	s.records[rec.ID] = rec
	s.details[d.ID] = d
	return nil
}

func (s *memStore) RecordsMissingDetail(context.Context) ([]store.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.Record
	for id, rec := range s.records {
		if _, ok := s.details[id]; !ok {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) ListRecords(context.Context) ([]store.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (s *memStore) MaxID(context.Context) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := slices.Collect(maps.Keys(s.records))
	if len(ids) == 0 {
		return 0, false, nil
	}
	return slices.Max(ids), true, nil
}

func (s *memStore) MinDetailID(context.Context) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := slices.Collect(maps.Keys(s.details))
	if len(ids) == 0 {
		return 0, false, nil
	}
	return slices.Min(ids), true, nil
}

func (s *memStore) MaxDetailID(context.Context) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := slices.Collect(maps.Keys(s.details))
	if len(ids) == 0 {
		return 0, false, nil
	}
	return slices.Max(ids), true, nil
}

func (s *memStore) LoadCheckpoint(context.Context) (store.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cp == nil {
		return store.Checkpoint{}, store.ErrNotFound
	}
	return *s.cp, nil
}

func (s *memStore) SaveCheckpoint(_ context.Context, cp store.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cp = &cp
	s.saves = append(s.saves, cp)
	return nil
}

func (s *memStore) hasDetail(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.details[id]
	return ok
}

func (s *memStore) recordCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func (s *memStore) checkpoint() store.Checkpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cp == nil {
		return store.Checkpoint{}
	}
	return *s.cp
}

func (s *memStore) savedWatermarks() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []int64
	for _, cp := range s.saves {
		out = append(out, cp.Watermark)
	}
	return out
}
