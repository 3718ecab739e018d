package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-archiver/internal/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(context.Background(), Config{Path: filepath.Join(t.TempDir(), "nested", "archive.db")})
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, s.Close())
	})
	return s
}

func sampleRecord(id int64, name string) store.Record {
	return store.Record{
		ID:                 id,
		Name:               name,
		Description:        "desc",
		ThumbnailURL:       "https://cdn.example.com/" + name + ".jpg",
		AddedBy:            "user-1",
		AddedByDisplayName: "User One",
		AddedDate:          "2019-01-02T03:04:05",
		ExpiryDate:         "2019-02-02T03:04:05",
		CPU:                1200,
		TotalRanking:       42,
		RentCount:          3,
		BuyCount:           7,
		Buyable:            true,
		Featured:           false,
		CombatRating:       2.5,
		CosmeticRating:     4.25,
	}
}

func TestNewRequiresPath(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{})
	assert.Error(t, err)
}

func TestEnsureSchemaIsIdempotent(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	require.NoError(t, s.EnsureSchema(context.Background()))
	require.NoError(t, s.EnsureSchema(context.Background()))
}

func TestUpsertRecordsIsIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)
	batch := []store.Record{sampleRecord(1, "alpha"), sampleRecord(2, "beta")}

	require.NoError(t, s.UpsertRecords(ctx, batch))
	first, err := s.ListRecords(ctx)
	require.NoError(t, err)

	require.NoError(t, s.UpsertRecords(ctx, batch))
	second, err := s.ListRecords(ctx)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	require.Len(t, second, 2)
	assert.Equal(t, int64(2), second[0].ID, "records are listed newest first")
	assert.Equal(t, batch[0], second[1])
}

func TestUpsertRecordsReplacesExistingRow(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.UpsertRecords(ctx, []store.Record{sampleRecord(5, "old")}))

	updated := sampleRecord(5, "new")
	updated.Featured = true
	require.NoError(t, s.UpsertRecords(ctx, []store.Record{updated}))

	got, err := s.ListRecords(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, updated, got[0])
}

func TestUpsertRecordWithDetailAndBounds(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)

	_, ok, err := s.MaxID(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = s.MinDetailID(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.UpsertRecords(ctx, []store.Record{
		sampleRecord(10, "a"), sampleRecord(20, "b"), sampleRecord(30, "c"),
	}))
	for _, id := range []int64{20, 25} {
		rec := sampleRecord(id, "detailed")
		require.NoError(t, s.UpsertRecordWithDetail(ctx, rec, store.Detail{
			ID: id, CubeData: "cubes", ColourData: "colours", CubeAmounts: "{}",
		}))
	}

	maxID, ok, err := s.MaxID(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(30), maxID)

	minDetail, ok, err := s.MinDetailID(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(20), minDetail)

	maxDetail, ok, err := s.MaxDetailID(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(25), maxDetail)

	missing, err := s.RecordsMissingDetail(ctx)
	require.NoError(t, err)
	require.Len(t, missing, 2)
	assert.Equal(t, int64(10), missing[0].ID)
	assert.Equal(t, int64(30), missing[1].ID)
}

func TestUpsertRecordWithDetailRollsBackOnFailure(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)
	_, err := s.db.ExecContext(ctx, `DROP TABLE record_details`)
	require.NoError(t, err)

	err = s.UpsertRecordWithDetail(ctx, sampleRecord(7, "x"), store.Detail{ID: 7})
	require.Error(t, err)

	_, ok, err := s.MaxID(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "metadata must not survive a failed detail write")
}

func TestUpsertRecordWithDetailRejectsMismatchedIDs(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	err := s.UpsertRecordWithDetail(context.Background(), sampleRecord(1, "x"), store.Detail{ID: 2})
	assert.Error(t, err)
}

func TestCheckpointRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.LoadCheckpoint(ctx)
	require.ErrorIs(t, err, store.ErrNotFound)

	want := store.Checkpoint{NextPage: 5, PageSize: 50, Watermark: store.Unconfirmed}
	require.NoError(t, s.SaveCheckpoint(ctx, want))
	got, err := s.LoadCheckpoint(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	want.Watermark, want.SweepTop = 900, 1200
	require.NoError(t, s.SaveCheckpoint(ctx, want))
	got, err = s.LoadCheckpoint(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
