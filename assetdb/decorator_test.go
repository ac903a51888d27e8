package assetdb

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ashleydavis/photosphere-sub005/storage"
)

func TestDecoratorTracksNonMetadataWrites(t *testing.T) {
	s, err := storage.New(t.TempDir(), false)
	require.NoError(t, err)
	db := New(s, "device-1")
	require.NoError(t, db.Create())

	decorated := NewAssetDatabaseStorage(s, db, false)
	require.NoError(t, decorated.Write("asset/a.jpg", "image/jpeg", []byte("content")))

	tree, err := db.GetMerkleTree()
	require.NoError(t, err)
	require.Len(t, tree.GetActiveFiles(), 1)
}

func TestDecoratorSkipsMetadataPaths(t *testing.T) {
	s, err := storage.New(t.TempDir(), false)
	require.NoError(t, err)
	db := New(s, "device-1")
	require.NoError(t, db.Create())

	decorated := NewAssetDatabaseStorage(s, db, false)
	require.NoError(t, decorated.Write("metadata/config.json", "application/json", []byte("{}")))

	tree, err := db.GetMerkleTree()
	require.NoError(t, err)
	require.Empty(t, tree.GetActiveFiles())
}

func TestDecoratorReadOnlySuppressesTracking(t *testing.T) {
	s, err := storage.New(t.TempDir(), false)
	require.NoError(t, err)
	db := New(s, "device-1")
	require.NoError(t, db.Create())

	decorated := NewAssetDatabaseStorage(s, db, true)
	require.NoError(t, decorated.Write("asset/a.jpg", "image/jpeg", []byte("content")))

	tree, err := db.GetMerkleTree()
	require.NoError(t, err)
	require.Empty(t, tree.GetActiveFiles())
}

func TestDecoratorWriteStreamTracks(t *testing.T) {
	s, err := storage.New(t.TempDir(), false)
	require.NoError(t, err)
	db := New(s, "device-1")
	require.NoError(t, db.Create())

	decorated := NewAssetDatabaseStorage(s, db, false)
	r := strings.NewReader("streamed")
	require.NoError(t, decorated.WriteStream("asset/b.bin", "application/octet-stream", r, int64(r.Len())))

	tree, err := db.GetMerkleTree()
	require.NoError(t, err)
	require.Len(t, tree.GetActiveFiles(), 1)
}
