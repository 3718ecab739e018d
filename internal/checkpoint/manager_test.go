package checkpoint

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-archiver/internal/store"
)

type fakeStore struct {
	cp      *store.Checkpoint
	loadErr error
	saves   int
}

func (f *fakeStore) LoadCheckpoint(context.Context) (store.Checkpoint, error) {
	if f.loadErr != nil {
		return store.Checkpoint{}, f.loadErr
	}
	if f.cp == nil {
		return store.Checkpoint{}, store.ErrNotFound
	}
	return *f.cp, nil
}

func (f *fakeStore) SaveCheckpoint(_ context.Context, cp store.Checkpoint) error {
	f.saves++
	f.cp = &cp
	return nil
}

func TestNewManagerRequiresStore(t *testing.T) {
	t.Parallel()

	_, err := NewManager(nil, nil)
	require.Error(t, err)
}

func TestLoadWithoutCheckpointStartsFresh(t *testing.T) {
	t.Parallel()

	m, err := NewManager(&fakeStore{}, nil)
	require.NoError(t, err)

	cp, err := m.Load(context.Background(), 0, false)
	require.NoError(t, err)
	assert.Equal(t, Fresh(DefaultPageSize), cp)
	assert.False(t, cp.HasWatermark())
}

func TestLoadResumesPersistedCheckpoint(t *testing.T) {
	t.Parallel()

	fs := &fakeStore{cp: &store.Checkpoint{NextPage: 7, PageSize: 100, Watermark: 900}}
	m, err := NewManager(fs, nil)
	require.NoError(t, err)

	cp, err := m.Load(context.Background(), 100, false)
	require.NoError(t, err)
	assert.Equal(t, store.Checkpoint{NextPage: 7, PageSize: 100, Watermark: 900}, cp)

	cp, err = m.Load(context.Background(), 0, false)
	require.NoError(t, err)
	assert.Equal(t, int64(7), cp.NextPage)
}

func TestLoadPageSizeChangeKeepsWatermark(t *testing.T) {
	t.Parallel()

	fs := &fakeStore{cp: &store.Checkpoint{NextPage: 7, PageSize: 100, Watermark: 900}}
	m, err := NewManager(fs, nil)
	require.NoError(t, err)

	cp, err := m.Load(context.Background(), 50, false)
	require.NoError(t, err)
	assert.Equal(t, store.Checkpoint{NextPage: 0, PageSize: 50, Watermark: 900}, cp)
}

func TestLoadResetIgnoresPersistedState(t *testing.T) {
	t.Parallel()

	fs := &fakeStore{cp: &store.Checkpoint{NextPage: 7, PageSize: 100, Watermark: 900}}
	m, err := NewManager(fs, nil)
	require.NoError(t, err)

	cp, err := m.Load(context.Background(), 25, true)
	require.NoError(t, err)
	assert.Equal(t, Fresh(25), cp)
}

func TestLoadPropagatesStoreErrors(t *testing.T) {
	t.Parallel()

	m, err := NewManager(&fakeStore{loadErr: errors.New("locked")}, nil)
	require.NoError(t, err)

	_, err = m.Load(context.Background(), 100, false)
	require.ErrorContains(t, err, "locked")
}

func TestResetPaginationKeepsWatermark(t *testing.T) {
	t.Parallel()

	cp := ResetPagination(store.Checkpoint{NextPage: 4, PageSize: 100, Watermark: 300})
	assert.Equal(t, store.Checkpoint{NextPage: 0, PageSize: 100, Watermark: 300}, cp)
}

func TestSaveWritesThrough(t *testing.T) {
	t.Parallel()

	fs := &fakeStore{}
	m, err := NewManager(fs, nil)
	require.NoError(t, err)

	want := store.Checkpoint{NextPage: 1, PageSize: 100, Watermark: store.Unconfirmed}
	require.NoError(t, m.Save(context.Background(), want))
	require.Equal(t, 1, fs.saves)
	require.Equal(t, want, *fs.cp)
}
