package treecodec

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/ashleydavis/photosphere-sub005/merkletree"
)

func buildTestTree(t *testing.T) *merkletree.Tree {
	t.Helper()
	tr := merkletree.Create(uuid.New())
	for _, name := range []string{"a.jpg", "b.png", "c.mp4"} {
		require.NoError(t, tr.AddFile(merkletree.File{
			Name:         name,
			Hash:         merkletree.SumContent([]byte(name)),
			Length:       uint64(len(name)),
			LastModified: 123456,
		}))
	}
	return tr
}

func TestRoundTrip(t *testing.T) {
	tr := buildTestTree(t)
	tr.DatabaseMetadata = map[string]interface{}{"filesImported": int32(7)}

	data, err := Write(tr)
	require.NoError(t, err)

	loaded, err := Read(data)
	require.NoError(t, err)

	require.Equal(t, tr.Metadata.ID, loaded.Metadata.ID)
	require.Equal(t, tr.Metadata.TotalFiles, loaded.Metadata.TotalFiles)
	require.Equal(t, tr.Metadata.TotalSize, loaded.Metadata.TotalSize)
	require.Equal(t, tr.Root.Hash, loaded.Root.Hash)
	require.Equal(t, tr.SortedNodeRefs(), loaded.SortedNodeRefs())
}

func TestRoundTripIsFixedPoint(t *testing.T) {
	tr := buildTestTree(t)
	data1, err := Write(tr)
	require.NoError(t, err)

	loaded, err := Read(data1)
	require.NoError(t, err)

	data2, err := Write(loaded)
	require.NoError(t, err)
	require.Equal(t, data1, data2)
}

func TestEmptyTreeRoundTrip(t *testing.T) {
	tr := merkletree.Create(uuid.New())
	data, err := Write(tr)
	require.NoError(t, err)

	loaded, err := Read(data)
	require.NoError(t, err)
	require.Nil(t, loaded.Root)
	require.Equal(t, tr.Metadata.ID, loaded.Metadata.ID)
}

func TestUnsupportedVersion(t *testing.T) {
	data, err := Write(buildTestTree(t))
	require.NoError(t, err)
	data[0] = 99 // corrupt the version header's low byte

	_, err = Read(data)
	require.Error(t, err)
}

func TestTruncatedDataIsCorruption(t *testing.T) {
	_, err := Read([]byte{4, 0, 0})
	require.ErrorIs(t, err, ErrTruncated)
}
