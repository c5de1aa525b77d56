package cache

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFilesystemCreatesDirectory(t *testing.T) {
	cacheDir := filepath.Join(t.TempDir(), "new", "cache", "dir")

	f, err := NewFilesystem(cacheDir, "ns")
	require.NoError(t, err)

	info, err := os.Stat(cacheDir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, cacheDir, f.Dir())

	entries, err := os.ReadDir(cacheDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "the writability probe leaves nothing behind")
}

func TestNewFilesystemFailsOnUnusableDirectory(t *testing.T) {
	notADir := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(notADir, []byte("x"), 0644))

	tests := []struct {
		name string
		dir  string
	}{
		{name: "path is a file", dir: notADir},
		{name: "parent is a file", dir: filepath.Join(notADir, "sub")},
		{name: "empty path", dir: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewFilesystem(tt.dir, "ns")
			var cacheErr *Error
			require.ErrorAs(t, err, &cacheErr)
			assert.Equal(t, OpConnect, cacheErr.Op)
			assert.Equal(t, AdapterFilesystem, cacheErr.Adapter)
		})
	}
}

func TestFilesystemFileName(t *testing.T) {
	f, err := NewFilesystem(t.TempDir(), "ns")
	require.NoError(t, err)

	require.NoError(t, f.Save(NewItem("response:abc").Set([]byte("v"))))

	name := filepath.Base(f.path("response:abc"))
	assert.Regexp(t, regexp.MustCompile(`^[0-9a-f]{16}-[0-9a-f]{64}\.cache$`), name)
	assert.Equal(t, f.tag, name[:16])
	assert.NotEqual(t, f.path("response:abc"), f.path("response:abd"))

	_, err = os.Stat(f.path("response:abc"))
	assert.NoError(t, err)
}

func TestFilesystemEnvelope(t *testing.T) {
	clock := newFakeClock()
	f, err := NewFilesystem(t.TempDir(), "ns")
	require.NoError(t, err)
	f.now = clock.Now

	exp := clock.Now().Add(time.Minute)
	require.NoError(t, f.Save(NewItem("k").Set([]byte("payload")).ExpiresAt(exp)))

	data, err := os.ReadFile(f.path("k"))
	require.NoError(t, err)

	var rec record
	require.NoError(t, json.Unmarshal(data, &rec))
	assert.Equal(t, "k", rec.Key)
	assert.Equal(t, "ns", rec.Namespace)
	assert.Equal(t, []byte("payload"), rec.Value)
	require.NotNil(t, rec.Expiry)
	assert.True(t, exp.Equal(*rec.Expiry))
	assert.True(t, clock.Now().Equal(rec.Created))
}

func TestFilesystemSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	first, err := NewFilesystem(dir, "ns")
	require.NoError(t, err)
	require.NoError(t, first.Save(NewItem("k").Set([]byte("v")).ExpiresAfter(time.Hour)))

	second, err := NewFilesystem(dir, "ns")
	require.NoError(t, err)
	item, err := second.GetItem("k")
	require.NoError(t, err)
	assert.True(t, item.IsHit())
	assert.Equal(t, []byte("v"), item.Get())
}

func TestFilesystemInterruptedWriteKeepsPreviousRecord(t *testing.T) {
	f, err := NewFilesystem(t.TempDir(), "ns")
	require.NoError(t, err)
	require.NoError(t, f.Save(NewItem("k").Set([]byte("old"))))

	// A writer that crashed between creating its temp file and renaming it
	stray := f.path("k") + ".crashed.tmp"
	require.NoError(t, os.WriteFile(stray, []byte(`{"key":"k","val`), 0644))

	item, err := f.GetItem("k")
	require.NoError(t, err)
	assert.Equal(t, []byte("old"), item.Get())

	stats, err := f.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ItemsCount, "temporary files are not records")
}

func TestFilesystemFailedRenameCleansUp(t *testing.T) {
	dir := t.TempDir()
	f, err := NewFilesystem(dir, "ns")
	require.NoError(t, err)
	require.NoError(t, f.Save(NewItem("k").Set([]byte("old"))))

	renameErr := errors.New("rename refused")
	f.rename = func(oldpath, newpath string) error { return renameErr }

	err = f.Save(NewItem("k").Set([]byte("new")))
	var cacheErr *Error
	require.ErrorAs(t, err, &cacheErr)
	assert.Equal(t, OpWrite, cacheErr.Op)
	assert.Equal(t, "k", cacheErr.Key)
	assert.ErrorIs(t, err, renameErr)

	tmps, err := filepath.Glob(filepath.Join(dir, "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, tmps)

	item, err := f.GetItem("k")
	require.NoError(t, err)
	assert.Equal(t, []byte("old"), item.Get())
}

func TestFilesystemCommitContinuesAfterFailedSave(t *testing.T) {
	f, err := NewFilesystem(t.TempDir(), "ns")
	require.NoError(t, err)

	renameErr := errors.New("rename refused")
	renames := 0
	f.rename = func(oldpath, newpath string) error {
		renames++
		if renames == 1 {
			return renameErr
		}
		return os.Rename(oldpath, newpath)
	}

	require.NoError(t, f.SaveDeferred(NewItem("a").Set([]byte("1"))))
	require.NoError(t, f.SaveDeferred(NewItem("b").Set([]byte("2"))))

	result := f.Commit()
	assert.False(t, result.OK())
	assert.Equal(t, []string{"a"}, result.Failed())
	require.Len(t, result, 2)
	assert.ErrorIs(t, result[0].Err, renameErr)
	assert.NoError(t, result[1].Err)

	has, err := f.HasItem("a")
	require.NoError(t, err)
	assert.False(t, has, "a failed item is dropped")

	item, err := f.GetItem("b")
	require.NoError(t, err)
	assert.Equal(t, []byte("2"), item.Get())

	stats, err := f.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ItemsCount)
	assert.Equal(t, 0, stats.DeferredCount)

	assert.Empty(t, f.Commit(), "buffer is empty even after a failed commit")
}

func TestFilesystemEvictionKeepsNewerRecord(t *testing.T) {
	f, err := NewFilesystem(t.TempDir(), "ns")
	require.NoError(t, err)
	clock := newFakeClock()
	f.now = clock.Now
	cachePath := f.path("k")

	require.NoError(t, f.Save(NewItem("k").Set([]byte("old")).ExpiresAt(clock.Now().Add(time.Minute))))
	stale, err := readRecord(cachePath)
	require.NoError(t, err)

	// Another writer replaces the record between the expired read and the eviction
	clock.Advance(2 * time.Minute)
	require.NoError(t, f.Save(NewItem("k").Set([]byte("new")).ExpiresAt(clock.Now().Add(time.Hour))))
	f.evictExpired(cachePath, stale)

	item, err := f.GetItem("k")
	require.NoError(t, err)
	require.True(t, item.IsHit())
	assert.Equal(t, []byte("new"), item.Get())

	clock.Advance(2 * time.Hour)
	current, err := readRecord(cachePath)
	require.NoError(t, err)
	f.evictExpired(cachePath, current)
	assert.NoFileExists(t, cachePath)
}

func TestFilesystemCorruptedRecord(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "not json", content: "invalid-serialized-data"},
		{name: "no value", content: `{"key":"k","namespace":"ns"}`},
		{name: "no key", content: `{"value":"dg=="}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := NewFilesystem(t.TempDir(), "ns")
			require.NoError(t, err)
			require.NoError(t, os.WriteFile(f.path("k"), []byte(tt.content), 0644))

			_, err = f.GetItem("k")
			var cacheErr *Error
			require.ErrorAs(t, err, &cacheErr)
			assert.Equal(t, OpRead, cacheErr.Op)

			_, statErr := os.Stat(f.path("k"))
			assert.True(t, os.IsNotExist(statErr), "corrupted file is removed")

			item, err := f.GetItem("k")
			require.NoError(t, err)
			assert.False(t, item.IsHit())
		})
	}
}

func TestFilesystemSharedDirectory(t *testing.T) {
	dir := t.TempDir()
	one, err := NewFilesystem(dir, "one")
	require.NoError(t, err)
	two, err := NewFilesystem(dir, "two")
	require.NoError(t, err)

	require.NoError(t, one.Save(NewItem("foo").Set([]byte("1"))))
	require.NoError(t, two.Save(NewItem("foo").Set([]byte("2"))))
	require.NoError(t, two.Save(NewItem("bar").Set([]byte("2"))))

	cleared, err := one.ClearPattern("foo")
	require.NoError(t, err)
	assert.True(t, cleared)

	item, err := two.GetItem("foo")
	require.NoError(t, err)
	assert.Equal(t, []byte("2"), item.Get())

	require.NoError(t, two.Save(NewItem("foo").Set([]byte("2"))))
	require.NoError(t, one.Save(NewItem("foo").Set([]byte("1"))))
	require.NoError(t, one.Clear())

	stats, err := two.Stats()
	require.NoError(t, err)
	assert.Equal(t, 2, stats.ItemsCount)
	assert.Equal(t, dir, stats.Directory)
}

func TestFilesystemClearPatternSkipsCorruptedFiles(t *testing.T) {
	f, err := NewFilesystem(t.TempDir(), "ns")
	require.NoError(t, err)
	require.NoError(t, f.Save(NewItem("foo1").Set([]byte("v"))))
	require.NoError(t, os.WriteFile(f.path("foo2"), []byte("garbage"), 0644))

	cleared, err := f.ClearPattern("foo")
	require.NoError(t, err)
	assert.True(t, cleared)

	_, err = os.Stat(f.path("foo2"))
	assert.NoError(t, err, "unreadable files are left for GetItem to handle")
}

func TestFilesystemStatsSize(t *testing.T) {
	f, err := NewFilesystem(t.TempDir(), "ns")
	require.NoError(t, err)
	require.NoError(t, f.Save(NewItem("k").Set([]byte("v"))))

	info, err := os.Stat(f.path("k"))
	require.NoError(t, err)

	stats, err := f.Stats()
	require.NoError(t, err)
	assert.Equal(t, info.Size(), stats.TotalSize)
	assert.NotEmpty(t, stats.TotalSizeHuman)
}
