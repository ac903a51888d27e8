package hashcache

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func hashOf(s string) [HashSize]byte {
	return sha256.Sum256([]byte(s))
}

func TestMissingFileLoadsEmpty(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "does-not-exist.dat"), false)
	require.NoError(t, err)
	require.Equal(t, 0, c.Len())
}

func TestAddGetRemove(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "cache.dat"), false)
	require.NoError(t, err)

	require.NoError(t, c.AddHash("photos/a.jpg", hashOf("a")[:], 100, 1000))
	require.NoError(t, c.AddHash("photos/b.jpg", hashOf("b")[:], 200, 2000))

	entry, found := c.GetHash("photos/a.jpg")
	require.True(t, found)
	require.Equal(t, hashOf("a"), entry.Hash)
	require.Equal(t, uint64(100), entry.Length)

	c.RemoveHash("photos/a.jpg")
	_, found = c.GetHash("photos/a.jpg")
	require.False(t, found)
}

func TestPathNormalization(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "cache.dat"), false)
	require.NoError(t, err)

	require.NoError(t, c.AddHash(`\photos\a.jpg`, hashOf("a")[:], 1, 1))
	entry, found := c.GetHash("photos/a.jpg")
	require.True(t, found)
	require.Equal(t, "photos/a.jpg", entry.Path)
}

func TestSaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.dat")
	c, err := Load(path, false)
	require.NoError(t, err)

	const n = 1000
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("dir/file-%04d.jpg", i)
		require.NoError(t, c.AddHash(name, hashOf(name)[:], uint64(i), uint64(i*1000)))
	}
	require.NoError(t, c.Save())

	reloaded, err := Load(path, false)
	require.NoError(t, err)
	require.Equal(t, n, reloaded.Len())

	for i := 0; i < n; i++ {
		name := fmt.Sprintf("dir/file-%04d.jpg", i)
		entry, found := reloaded.GetHash(name)
		require.True(t, found)
		require.Equal(t, hashOf(name), entry.Hash)
		require.Equal(t, uint64(i), entry.Length)
	}
}

func TestSaveIsNoopWhenClean(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.dat")
	c, err := Load(path, false)
	require.NoError(t, err)
	require.NoError(t, c.Save())
	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err))
}

func TestReadOnlySaveIsNoop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.dat")
	c, err := Load(path, true)
	require.NoError(t, err)
	require.NoError(t, c.AddHash("a", hashOf("a")[:], 1, 1))
	require.NoError(t, c.Save())
	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err))
}

func TestTruncatedFileIsCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.dat")
	require.NoError(t, os.WriteFile(path, []byte{1, 2, 3}, 0o644))

	_, err := Load(path, false)
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestChecksumMismatchIsCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.dat")
	c, err := Load(path, false)
	require.NoError(t, err)
	require.NoError(t, c.AddHash("a", hashOf("a")[:], 1, 1))
	require.NoError(t, c.Save())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[len(data)-1] ^= 0xFF
	require.NoError(t, os.WriteFile(path, data, 0o644))

	_, err = Load(path, false)
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestNewerVersionIsFatal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.dat")
	c, err := Load(path, false)
	require.NoError(t, err)
	require.NoError(t, c.AddHash("a", hashOf("a")[:], 1, 1))
	require.NoError(t, c.Save())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[0] = byte(Version + 1)
	body := data[:len(data)-trailerSize]
	sum := sha256.Sum256(body)
	copy(data[len(data)-trailerSize:], sum[:])
	require.NoError(t, os.WriteFile(path, data, 0o644))

	_, err = Load(path, false)
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestAddHashRejectsWrongLength(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "cache.dat"), false)
	require.NoError(t, err)

	err = c.AddHash("a", []byte{1, 2, 3}, 1, 1)
	require.ErrorIs(t, err, ErrInvalidHash)
	require.Equal(t, 0, c.Len())
}

func TestHitMissStats(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "cache.dat"), false)
	require.NoError(t, err)
	require.NoError(t, c.AddHash("a", hashOf("a")[:], 1, 1))

	_, _ = c.GetHash("a")
	_, _ = c.GetHash("missing")

	stats := c.Stats()
	require.Equal(t, uint64(1), stats.Hits)
	require.Equal(t, uint64(1), stats.Misses)
	require.Equal(t, 1, stats.Entries)
}
