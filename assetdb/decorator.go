package assetdb

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/ashleydavis/photosphere-sub005/merkletree"
)

// metadataPrefix names the storage namespace exempt from hash tracking
// (spec §4.6 "Metadata paths (metadata/…) are passed through
// untouched").
const metadataPrefix = "metadata/"

// Storage is the subset of the storage contract AssetDatabaseStorage
// wraps.
type Storage interface {
	Write(path, contentType string, data []byte) error
	WriteStream(path, contentType string, r io.Reader, contentLength int64) error
	CopyTo(src, dst string) error
	DeleteFile(path string) error
	Read(path string) ([]byte, error)
}

// AssetDatabaseStorage wraps a Storage and keeps db's Merkle tree in
// sync with every write: each non-metadata write recomputes the
// uploaded content's hash and calls UpsertFile, so the tree stays
// current without every caller remembering to update it by hand (spec
// §4.6). In read-only mode, tree updates are suppressed.
type AssetDatabaseStorage struct {
	Storage
	db       *AssetDatabase
	readOnly bool
}

// NewAssetDatabaseStorage wraps inner, keeping db's tree up to date on
// every write unless readOnly is set.
func NewAssetDatabaseStorage(inner Storage, db *AssetDatabase, readOnly bool) *AssetDatabaseStorage {
	return &AssetDatabaseStorage{Storage: inner, db: db, readOnly: readOnly}
}

func (s *AssetDatabaseStorage) trackWrite(path string, data []byte) error {
	if s.readOnly || strings.HasPrefix(path, metadataPrefix) {
		return nil
	}
	hash := merkletree.SumContent(data)
	return s.db.UpsertFile(merkletree.File{
		Name:   path,
		Hash:   hash,
		Length: uint64(len(data)),
	})
}

// Write stores data at path, then (outside metadata/ and outside
// read-only mode) upserts its hash into the tree.
func (s *AssetDatabaseStorage) Write(path, contentType string, data []byte) error {
	if err := s.Storage.Write(path, contentType, data); err != nil {
		return err
	}
	return s.trackWrite(path, data)
}

// WriteStream drains r, writes it, then tracks the resulting content.
func (s *AssetDatabaseStorage) WriteStream(path, contentType string, r io.Reader, contentLength int64) error {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return fmt.Errorf("assetdb: buffer stream for %s: %w", path, err)
	}
	data := buf.Bytes()
	if err := s.Storage.WriteStream(path, contentType, bytes.NewReader(data), int64(len(data))); err != nil {
		return err
	}
	return s.trackWrite(path, data)
}

// CopyTo copies src to dst, then tracks dst's content the same as a
// direct Write would.
func (s *AssetDatabaseStorage) CopyTo(src, dst string) error {
	if err := s.Storage.CopyTo(src, dst); err != nil {
		return err
	}
	if s.readOnly || strings.HasPrefix(dst, metadataPrefix) {
		return nil
	}
	data, err := s.Storage.Read(dst)
	if err != nil {
		return fmt.Errorf("assetdb: reread %s after copy: %w", dst, err)
	}
	return s.trackWrite(dst, data)
}

// DeleteFile propagates the deletion to the tree before deleting from
// storage (spec §4.6 "Deletions propagate to the tree before the
// storage delete").
func (s *AssetDatabaseStorage) DeleteFile(path string) error {
	if !s.readOnly && !strings.HasPrefix(path, metadataPrefix) {
		_ = s.db.DeleteFile(path)
	}
	return s.Storage.DeleteFile(path)
}
