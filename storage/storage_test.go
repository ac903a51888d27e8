package storage

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteReadRoundTrip(t *testing.T) {
	s, err := New(t.TempDir(), false)
	require.NoError(t, err)

	require.NoError(t, s.Write("asset/a.jpg", "image/jpeg", []byte("hello")))

	data, err := s.Read("asset/a.jpg")
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), data)

	info, err := s.Info("asset/a.jpg")
	require.NoError(t, err)
	require.NotNil(t, info)
	require.Equal(t, "image/jpeg", info.ContentType)
	require.Equal(t, int64(5), info.Length)
}

func TestReadMissingReturnsNilNoError(t *testing.T) {
	s, err := New(t.TempDir(), false)
	require.NoError(t, err)

	data, err := s.Read("missing.txt")
	require.NoError(t, err)
	require.Nil(t, data)
}

func TestWriteStreamRoundTrip(t *testing.T) {
	s, err := New(t.TempDir(), false)
	require.NoError(t, err)

	r := strings.NewReader("streamed content")
	require.NoError(t, s.WriteStream("asset/b.bin", "application/octet-stream", r, int64(r.Len())))

	rc, err := s.ReadStream("asset/b.bin")
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, "streamed content", string(data))
}

func TestFileExistsDirExists(t *testing.T) {
	s, err := New(t.TempDir(), false)
	require.NoError(t, err)
	require.NoError(t, s.Write("dir/file.txt", "", []byte("x")))

	exists, err := s.FileExists("dir/file.txt")
	require.NoError(t, err)
	require.True(t, exists)

	isDir, err := s.DirExists("dir")
	require.NoError(t, err)
	require.True(t, isDir)
}

func TestListFilesPaginated(t *testing.T) {
	s, err := New(t.TempDir(), false)
	require.NoError(t, err)
	for _, name := range []string{"a.txt", "b.txt", "c.txt", "d.txt", "e.txt"} {
		require.NoError(t, s.Write("files/"+name, "", []byte("x")))
	}

	var all []string
	next := ""
	for {
		page, err := s.ListFiles("files", 2, next)
		require.NoError(t, err)
		all = append(all, page.Names...)
		if page.Next == "" {
			break
		}
		next = page.Next
	}
	require.Equal(t, []string{"a.txt", "b.txt", "c.txt", "d.txt", "e.txt"}, all)
}

func TestDeleteFileAndDir(t *testing.T) {
	s, err := New(t.TempDir(), false)
	require.NoError(t, err)
	require.NoError(t, s.Write("dir/file.txt", "", []byte("x")))

	require.NoError(t, s.DeleteFile("dir/file.txt"))
	exists, err := s.FileExists("dir/file.txt")
	require.NoError(t, err)
	require.False(t, exists)

	require.NoError(t, s.Write("tree/a.txt", "", []byte("x")))
	require.NoError(t, s.DeleteDir("tree"))
	dirExists, err := s.DirExists("tree")
	require.NoError(t, err)
	require.False(t, dirExists)
}

func TestReadOnlyRejectsMutation(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, true)
	require.NoError(t, err)

	err = s.Write("a.txt", "", []byte("x"))
	require.ErrorIs(t, err, ErrReadOnly)
}

func TestWriteLockAcquireCheckReleaseRefresh(t *testing.T) {
	s, err := New(t.TempDir(), false)
	require.NoError(t, err)

	ok, err := s.AcquireWriteLock(".db/write.lock", "session-1")
	require.NoError(t, err)
	require.True(t, ok)

	info, err := s.CheckWriteLock(".db/write.lock")
	require.NoError(t, err)
	require.NotNil(t, info)
	require.Equal(t, "session-1", info.Owner)

	require.NoError(t, s.RefreshWriteLock(".db/write.lock", "session-1"))
	require.NoError(t, s.ReleaseWriteLock(".db/write.lock"))
}

func TestCopyTo(t *testing.T) {
	s, err := New(t.TempDir(), false)
	require.NoError(t, err)
	require.NoError(t, s.Write("src.txt", "text/plain", []byte("copy me")))
	require.NoError(t, s.CopyTo("src.txt", "dst.txt"))

	data, err := s.Read("dst.txt")
	require.NoError(t, err)
	require.Equal(t, []byte("copy me"), data)
}
