package pipeline

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/ashleydavis/photosphere-sub005/hashcache"
	"github.com/ashleydavis/photosphere-sub005/merkletree"
	"github.com/ashleydavis/photosphere-sub005/metastore"
	"github.com/ashleydavis/photosphere-sub005/storage"
)

// newTestPipeline wires a Pipeline over a plain in-memory tree and
// real filesystem-backed storage/metastore/hashcache, the way the
// assetdb facade would.
func newTestPipeline(t *testing.T) (*Pipeline, func() *merkletree.Tree) {
	t.Helper()

	dir := t.TempDir()
	assetStorage, err := storage.New(filepath.Join(dir, "assets"), false)
	require.NoError(t, err)

	meta := metastore.New()
	cache, err := hashcache.Load(filepath.Join(dir, "hash-cache-1.dat"), false)
	require.NoError(t, err)

	var mu sync.Mutex
	tree := merkletree.Create(uuid.New())

	loadTree := func() (*merkletree.Tree, error) {
		mu.Lock()
		defer mu.Unlock()
		return tree, nil
	}
	saveTree := func(t *merkletree.Tree) error {
		mu.Lock()
		defer mu.Unlock()
		tree = t
		return nil
	}

	p := New(assetStorage, meta, cache, loadTree, saveTree, nil, nil, "test-session", 2)
	return p, func() *merkletree.Tree {
		mu.Lock()
		defer mu.Unlock()
		return tree
	}
}

func writeSourceFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestImportSingleFile(t *testing.T) {
	p, getTree := newTestPipeline(t)

	srcDir := t.TempDir()
	writeSourceFile(t, srcDir, "photo.jpg", "fake jpeg bytes")

	scanner, err := NewScanner(t.TempDir())
	require.NoError(t, err)

	summary, err := p.Run([]string{srcDir}, scanner)
	require.NoError(t, err)

	require.Equal(t, 1, summary.FilesAdded)
	require.Equal(t, 1, summary.FilesProcessed)
	require.Equal(t, 0, summary.FilesFailed)

	tree := getTree()
	require.NotNil(t, tree.Root)
	active := tree.GetActiveFiles()
	require.Len(t, active, 1)
}

func TestImportDeduplicatesIdenticalContent(t *testing.T) {
	p, getTree := newTestPipeline(t)

	srcDir := t.TempDir()
	writeSourceFile(t, srcDir, "a.jpg", "identical content")
	writeSourceFile(t, srcDir, "b.jpg", "identical content")

	scanner, err := NewScanner(t.TempDir())
	require.NoError(t, err)

	summary, err := p.Run([]string{srcDir}, scanner)
	require.NoError(t, err)

	// Same content hash -> only one import-file task proceeds; the
	// second is deduped via hashesQueuedForImport (spec §4.5 step 3).
	require.Equal(t, 1, summary.FilesAdded)

	tree := getTree()
	require.Len(t, tree.GetActiveFiles(), 1)
}

func TestIgnoredFilesAreCounted(t *testing.T) {
	p, _ := newTestPipeline(t)

	srcDir := t.TempDir()
	// No recognized extension -> mime.TypeByExtension returns "" -> ignored.
	writeSourceFile(t, srcDir, "README", "not a media file")

	scanner, err := NewScanner(t.TempDir())
	require.NoError(t, err)

	summary, err := p.Run([]string{srcDir}, scanner)
	require.NoError(t, err)
	require.Equal(t, 1, summary.FilesIgnored)
	require.Equal(t, 0, summary.FilesAdded)
}
