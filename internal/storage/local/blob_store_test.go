package local_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-archiver/internal/storage/local"
)

func TestNewValidatesBaseDir(t *testing.T) {
	t.Run("existing dir", func(t *testing.T) {
		store, err := local.New(local.Config{BaseDir: t.TempDir()})
		require.NoError(t, err)
		assert.NotNil(t, store)
	})

	t.Run("creates missing dir", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "thumbs", "nested")
		_, err := local.New(local.Config{BaseDir: dir})
		require.NoError(t, err)
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("empty base dir", func(t *testing.T) {
		_, err := local.New(local.Config{})
		assert.Error(t, err)
	})

	t.Run("base dir is a file", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
		_, err := local.New(local.Config{BaseDir: file})
		assert.Error(t, err)
	})

	t.Run("read-only base dir", func(t *testing.T) {
		if os.Geteuid() == 0 {
			t.Skip("root ignores directory permissions")
		}
		dir := t.TempDir()
		// #nosec G302 -- directory permissions adjusted intentionally for test coverage.
		require.NoError(t, os.Chmod(dir, 0o500))
		t.Cleanup(func() {
			// #nosec G302 -- reverting permissions to allow cleanup.
			_ = os.Chmod(dir, 0o700)
		})
		_, err := local.New(local.Config{BaseDir: dir})
		assert.Error(t, err)
	})
}

func TestPutObjectAndExists(t *testing.T) {
	dir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)
	ctx := context.Background()

	name := "42 - Tank.jpg"
	ok, err := store.Exists(ctx, name)
	require.NoError(t, err)
	assert.False(t, ok)

	uri, err := store.PutObject(ctx, name, "image/jpeg", bytes.NewReader([]byte("jpeg")))
	require.NoError(t, err)
	assert.Equal(t, "file://"+filepath.Join(dir, name), uri)

	ok, err = store.Exists(ctx, name)
	require.NoError(t, err)
	assert.True(t, ok)

	// #nosec G304 -- test reads from the controlled temp directory.
	data, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg"), data)

	_, err = store.PutObject(ctx, name, "image/jpeg", bytes.NewReader([]byte("newer")))
	require.NoError(t, err)
	// #nosec G304 -- test reads from the controlled temp directory.
	data, err = os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)
	assert.Equal(t, []byte("newer"), data)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("connection dropped") }

func TestPutObjectFailureLeavesNoFile(t *testing.T) {
	dir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)

	_, err = store.PutObject(context.Background(), "1 - A.jpg", "image/jpeg", failingReader{})
	require.Error(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPathValidation(t *testing.T) {
	store, err := local.New(local.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = store.PutObject(ctx, "", "image/jpeg", bytes.NewReader(nil))
	assert.Error(t, err)
	_, err = store.PutObject(ctx, "../escape.jpg", "image/jpeg", bytes.NewReader(nil))
	assert.Error(t, err)
	_, err = store.Exists(ctx, "../../etc/passwd")
	assert.Error(t, err)
}

func TestRelativeBaseDir(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	store, err := local.New(local.Config{BaseDir: "."})
	require.NoError(t, err)
	ctx := context.Background()

	uri, err := store.PutObject(ctx, "1 - Bot.jpg", "image/jpeg", bytes.NewReader([]byte("jpeg")))
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(strings.TrimPrefix(uri, "file://")))
	_, err = os.Stat(filepath.Join(dir, "1 - Bot.jpg"))
	require.NoError(t, err)

	ok, err := store.Exists(ctx, "1 - Bot.jpg")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = store.PutObject(ctx, "../1 - Bot.jpg", "image/jpeg", bytes.NewReader(nil))
	assert.Error(t, err)
	_, err = store.Exists(ctx, ".")
	assert.Error(t, err)
}
