package app_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-archiver/internal/app"
	"github.com/JakeFAU/catalog-archiver/internal/assets"
	"github.com/JakeFAU/catalog-archiver/internal/catalog"
	"github.com/JakeFAU/catalog-archiver/internal/config"
	"github.com/JakeFAU/catalog-archiver/internal/store"
)

// newCatalogServer serves ids 0..count-1 on the first search page and their
// details and thumbnails; everything else is empty or missing.
func newCatalogServer(t *testing.T, count int64) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	var srv *httptest.Server
	item := func(id int64) catalog.ListItem {
		return catalog.ListItem{
			ItemID:             id,
			ItemName:           fmt.Sprintf("Robot%d", id),
			AddedBy:            "builder",
			AddedByDisplayName: "Builder",
			Thumbnail:          fmt.Sprintf("%s/thumbs/%d.jpg", srv.URL, id),
			CPU:                100 + id,
		}
	}
	mux.HandleFunc("/api/roboShopItems/list", func(w http.ResponseWriter, r *http.Request) {
		var req catalog.SearchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		items := []catalog.ListItem{}
		if req.Page == 0 {
			for id := count - 1; id >= 0; id-- {
				items = append(items, item(id))
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"response":   map[string]any{"roboShopItems": items},
			"statusCode": http.StatusOK,
		})
	})
	mux.HandleFunc("/api/roboShopItems/get/", func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(strings.TrimPrefix(r.URL.Path, "/api/roboShopItems/get/"), 10, 64)
		if err != nil || id < 0 || id >= count {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"response": catalog.DetailItem{ListItem: item(id), CubeData: "cubes", ColourData: "colours"},
		})
	})
	mux.HandleFunc("/thumbs/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte("jpeg-bytes"))
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, baseURL string) config.Config {
	t.Helper()
	return config.Config{
		Store:   config.StoreConfig{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "archive.db")},
		Catalog: config.CatalogConfig{BaseURL: baseURL, TimeoutSeconds: 5},
		Crawl:   config.CrawlConfig{PageSize: 100, ChunkSize: 100},
		Assets:  config.AssetsConfig{Workers: 2, TimeoutSeconds: 5},
	}
}

func TestNew_RejectsUnknownDriver(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, "http://127.0.0.1:1")
	cfg.Store.Driver = "mysql"
	a, err := app.New(context.Background(), cfg, app.WithLogger(zap.NewNop()))
	require.Error(t, err)
	assert.Nil(t, a)
	assert.Contains(t, err.Error(), "unknown store driver")
}

func TestApp_CrawlArchivesEveryRecord(t *testing.T) {
	t.Parallel()

	srv := newCatalogServer(t, 3)
	ctx := context.Background()
	a, err := app.New(ctx, testConfig(t, srv.URL), app.WithLogger(zap.NewNop()), app.WithOutput(io.Discard))
	require.NoError(t, err)
	defer a.Close()

	sum, err := a.Crawl(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), sum.Search.Records)
	assert.True(t, sum.Search.Exhausted)
	assert.Equal(t, int64(3), sum.Backfill.Confirmed)

	missing, err := a.Store().RecordsMissingDetail(ctx)
	require.NoError(t, err)
	assert.Empty(t, missing)

	cp, err := a.Store().LoadCheckpoint(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(100), cp.PageSize)
	assert.Equal(t, int64(1), cp.NextPage)
}

func TestApp_CrawlWithoutSizeResumesSavedCursor(t *testing.T) {
	t.Parallel()

	srv := newCatalogServer(t, 3)
	ctx := context.Background()
	cfg := testConfig(t, srv.URL)
	cfg.Crawl.PageSize = 0
	cfg.Crawl.SkipBackfill = true
	a, err := app.New(ctx, cfg, app.WithLogger(zap.NewNop()), app.WithOutput(io.Discard))
	require.NoError(t, err)
	defer a.Close()

	saved := store.Checkpoint{NextPage: 5, PageSize: 50, Watermark: store.Unconfirmed}
	require.NoError(t, a.Store().SaveCheckpoint(ctx, saved))

	sum, err := a.Crawl(ctx)
	require.NoError(t, err)
	assert.Zero(t, sum.Search.Records)

	cp, err := a.Store().LoadCheckpoint(ctx)
	require.NoError(t, err)
	assert.Equal(t, saved, cp)
}

func TestApp_NewModeAnnouncesDiscoveries(t *testing.T) {
	t.Parallel()

	srv := newCatalogServer(t, 3)
	ctx := context.Background()
	var out bytes.Buffer
	cfg := testConfig(t, srv.URL)
	cfg.Crawl.New = true
	a, err := app.New(ctx, cfg, app.WithLogger(zap.NewNop()), app.WithOutput(&out))
	require.NoError(t, err)
	defer a.Close()

	// One fully downloaded record marks the frontier.
	require.NoError(t, a.Store().UpsertRecordWithDetail(ctx,
		store.Record{ID: 0, Name: "Robot0"}, store.Detail{ID: 0, CubeData: "cubes"}))

	sum, err := a.Crawl(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), sum.Search.Pages)
	assert.Equal(t, int64(2), sum.Backfill.Confirmed)
	assert.Equal(t, "found new record #1\nfound new record #2\n", out.String())
}

func TestApp_DownloadAssetsToLocalDir(t *testing.T) {
	t.Parallel()

	srv := newCatalogServer(t, 3)
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "thumbs")
	cfg := testConfig(t, srv.URL)
	cfg.Assets.Dir = dir
	a, err := app.New(ctx, cfg, app.WithLogger(zap.NewNop()), app.WithOutput(io.Discard))
	require.NoError(t, err)
	defer a.Close()

	_, err = a.Crawl(ctx)
	require.NoError(t, err)

	stats, err := a.DownloadAssets(ctx)
	require.NoError(t, err)
	assert.Equal(t, assets.Stats{Submitted: 3, Written: 3}, stats)

	records, err := a.Store().ListRecords(ctx)
	require.NoError(t, err)
	for _, rec := range records {
		data, err := os.ReadFile(filepath.Join(dir, assets.FileName(rec)))
		require.NoError(t, err)
		assert.Equal(t, "jpeg-bytes", string(data))
	}

	again, err := a.DownloadAssets(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), again.Skipped)
}

func TestApp_DownloadAssetsRequiresTarget(t *testing.T) {
	t.Parallel()

	a, err := app.New(context.Background(), testConfig(t, "http://127.0.0.1:1"), app.WithLogger(zap.NewNop()))
	require.NoError(t, err)
	defer a.Close()

	_, err = a.DownloadAssets(context.Background())
	require.Error(t, err)
}

func TestApp_MetricsEndpoint(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, "http://127.0.0.1:1")
	cfg.Metrics.Addr = "127.0.0.1:0"
	a, err := app.New(context.Background(), cfg, app.WithLogger(zap.NewNop()))
	require.NoError(t, err)
	defer a.Close()
	require.NotNil(t, a.MetricsAddr())

	resp, err := http.Get(fmt.Sprintf("http://%s/metrics", a.MetricsAddr()))
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "go_goroutines")

	resp, err = http.Get(fmt.Sprintf("http://%s/readyz", a.MetricsAddr()))
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestApp_CrawlWithTracing(t *testing.T) {
	t.Parallel()

	srv := newCatalogServer(t, 2)
	cfg := testConfig(t, srv.URL)
	cfg.Tracing = config.TracingConfig{Enabled: true, SampleRatio: 1}
	a, err := app.New(context.Background(), cfg, app.WithLogger(zap.NewNop()), app.WithOutput(io.Discard))
	require.NoError(t, err)
	defer a.Close()

	sum, err := a.Crawl(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), sum.Backfill.Confirmed)
}
