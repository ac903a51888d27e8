// Package storage implements the filesystem-backed asset/metadata
// storage contract described in spec §6. It is grounded directly on the
// teacher's core/rawdb/filedb.go: the atomic temp-file+rename write
// (writeDataFile) and the cross-process exclusive-lock idiom
// (acquireLock/releaseLock), generalized here from a flat hex-keyed
// key/value layout to an arbitrary path hierarchy, and from raw
// syscall.Flock to the github.com/gofrs/flock wrapper for portability.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/ashleydavis/photosphere-sub005/log"
)

// ErrReadOnly is returned by every mutating call on a Storage opened
// read-only (spec §4.6 "In read-only mode, tree updates are
// suppressed").
var ErrReadOnly = errors.New("storage: storage is read-only")

// Info describes a single file's metadata, per spec §6 `info`.
type Info struct {
	ContentType  string
	Length       int64
	LastModified time.Time
}

// Page is one page of a paginated listFiles/listDirs call.
type Page struct {
	Names []string
	Next  string // empty when there are no more pages
}

// LockInfo describes the holder of a write lock. It is declared here and
// re-exported by the writelock package as the alias writelock.Info, which
// keeps storage free of a dependency on its own consumer.
type LockInfo struct {
	Owner      string    `json:"owner"`
	AcquiredAt time.Time `json:"acquiredAt"`
}

// Storage is a filesystem-rooted implementation of the asset/metadata
// storage contract (spec §6).
type Storage struct {
	root     string
	readOnly bool
	logger   *log.Logger

	mu    sync.Mutex
	locks map[string]*flock.Flock
}

// New returns a Storage rooted at dir, creating the directory if it does
// not already exist.
func New(dir string, readOnly bool) (*Storage, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: mkdir: %w", err)
	}
	return &Storage{
		root:     dir,
		readOnly: readOnly,
		logger:   log.Default().Module("storage"),
		locks:    make(map[string]*flock.Flock),
	}, nil
}

// IsReadonly reports whether this Storage rejects mutating calls.
func (s *Storage) IsReadonly() bool { return s.readOnly }

// Location returns the filesystem root this Storage serves.
func (s *Storage) Location() string { return s.root }

func (s *Storage) abs(path string) string {
	clean := filepath.Clean(strings.TrimPrefix(path, "/"))
	return filepath.Join(s.root, clean)
}

// IsEmpty reports whether path (a directory, defaulting to the root)
// contains no entries.
func (s *Storage) IsEmpty(path string) (bool, error) {
	entries, err := os.ReadDir(s.abs(path))
	if errors.Is(err, os.ErrNotExist) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("storage: is-empty %s: %w", path, err)
	}
	return len(entries) == 0, nil
}

// FileExists reports whether path names a regular file.
func (s *Storage) FileExists(path string) (bool, error) {
	fi, err := os.Stat(s.abs(path))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("storage: stat %s: %w", path, err)
	}
	return !fi.IsDir(), nil
}

// DirExists reports whether path names a directory.
func (s *Storage) DirExists(path string) (bool, error) {
	fi, err := os.Stat(s.abs(path))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("storage: stat %s: %w", path, err)
	}
	return fi.IsDir(), nil
}

// Info returns metadata for path, or (nil, nil) if it does not exist.
func (s *Storage) Info(path string) (*Info, error) {
	fi, err := os.Stat(s.abs(path))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: stat %s: %w", path, err)
	}
	contentType, _ := readSidecarContentType(s.abs(path))
	return &Info{ContentType: contentType, Length: fi.Size(), LastModified: fi.ModTime()}, nil
}

// ListFiles lists regular files directly under path, paginated by max
// entries per page, resuming from an opaque next token.
func (s *Storage) ListFiles(path string, max int, next string) (Page, error) {
	return s.list(path, max, next, false)
}

// ListDirs lists subdirectories directly under path, paginated the same
// way as ListFiles.
func (s *Storage) ListDirs(path string, max int, next string) (Page, error) {
	return s.list(path, max, next, true)
}

func (s *Storage) list(path string, max int, next string, dirs bool) (Page, error) {
	entries, err := os.ReadDir(s.abs(path))
	if errors.Is(err, os.ErrNotExist) {
		return Page{}, nil
	}
	if err != nil {
		return Page{}, fmt.Errorf("storage: read dir %s: %w", path, err)
	}

	var names []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") || strings.HasSuffix(e.Name(), ".meta") {
			continue
		}
		if e.IsDir() == dirs {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	offset := 0
	if next != "" {
		offset, err = strconv.Atoi(next)
		if err != nil {
			return Page{}, fmt.Errorf("storage: invalid page token %q", next)
		}
	}
	if offset > len(names) {
		offset = len(names)
	}
	end := len(names)
	if max > 0 && offset+max < end {
		end = offset + max
	}

	page := Page{Names: names[offset:end]}
	if end < len(names) {
		page.Next = strconv.Itoa(end)
	}
	return page, nil
}

// Read returns the full contents of path, or (nil, nil) if it does not
// exist.
func (s *Storage) Read(path string) ([]byte, error) {
	data, err := os.ReadFile(s.abs(path))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", path, err)
	}
	return data, nil
}

// Write atomically stores data at path (spec §6 `write`), recording
// contentType in a sidecar file for later Info lookups.
func (s *Storage) Write(path string, contentType string, data []byte) error {
	if s.readOnly {
		return ErrReadOnly
	}
	abs := s.abs(path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fmt.Errorf("storage: mkdir: %w", err)
	}
	tmp := abs + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("storage: write tmp: %w", err)
	}
	if err := os.Rename(tmp, abs); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("storage: rename: %w", err)
	}
	if contentType != "" {
		_ = os.WriteFile(abs+".meta", []byte(contentType), 0o644)
	}
	return nil
}

// ReadStream opens path for streaming reads. Caller must Close it.
func (s *Storage) ReadStream(path string) (io.ReadCloser, error) {
	f, err := os.Open(s.abs(path))
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}
	return f, nil
}

// WriteStream consumes r and atomically stores it at path, the
// streaming counterpart of Write.
func (s *Storage) WriteStream(path string, contentType string, r io.Reader, contentLength int64) error {
	if s.readOnly {
		return ErrReadOnly
	}
	abs := s.abs(path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fmt.Errorf("storage: mkdir: %w", err)
	}
	tmp := abs + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("storage: create tmp: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("storage: copy stream: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("storage: close tmp: %w", err)
	}
	if err := os.Rename(tmp, abs); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("storage: rename: %w", err)
	}
	if contentType != "" {
		_ = os.WriteFile(abs+".meta", []byte(contentType), 0o644)
	}
	return nil
}

// CopyTo copies src to dst within this Storage.
func (s *Storage) CopyTo(src, dst string) error {
	if s.readOnly {
		return ErrReadOnly
	}
	data, err := os.ReadFile(s.abs(src))
	if err != nil {
		return fmt.Errorf("storage: read src %s: %w", src, err)
	}
	contentType, _ := readSidecarContentType(s.abs(src))
	return s.Write(dst, contentType, data)
}

// DeleteFile removes path. It is not an error for path to already be
// absent.
func (s *Storage) DeleteFile(path string) error {
	if s.readOnly {
		return ErrReadOnly
	}
	abs := s.abs(path)
	if err := os.Remove(abs); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("storage: delete %s: %w", path, err)
	}
	os.Remove(abs + ".meta")
	return nil
}

// DeleteDir removes path and everything beneath it.
func (s *Storage) DeleteDir(path string) error {
	if s.readOnly {
		return ErrReadOnly
	}
	if err := os.RemoveAll(s.abs(path)); err != nil {
		return fmt.Errorf("storage: delete dir %s: %w", path, err)
	}
	s.logger.Debug("deleted directory", "path", path)
	return nil
}

func readSidecarContentType(abs string) (string, error) {
	data, err := os.ReadFile(abs + ".meta")
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// --- Write-lock interface (spec §6, consumed by the writelock package) ---

// CheckWriteLock reports the current holder of path, if any. It reads
// the lock file's JSON-encoded owner/timestamp content directly — flock
// is advisory, so a plain read never blocks on another holder's
// exclusive lock (mirrors the teacher's acquireLock/releaseLock reliance
// on flock being orthogonal to regular file I/O).
func (s *Storage) CheckWriteLock(path string) (*LockInfo, error) {
	data, err := os.ReadFile(s.abs(path))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: read lock %s: %w", path, err)
	}
	var info LockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("storage: decode lock %s: %w", path, err)
	}
	return &info, nil
}

// AcquireWriteLock attempts to take the exclusive lock at path on
// behalf of owner, returning false (not an error) on contention.
func (s *Storage) AcquireWriteLock(path, owner string) (bool, error) {
	if s.readOnly {
		return false, ErrReadOnly
	}
	abs := s.abs(path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return false, fmt.Errorf("storage: mkdir: %w", err)
	}

	fl := flock.New(abs)
	ok, err := fl.TryLock()
	if err != nil {
		return false, fmt.Errorf("storage: flock %s: %w", path, err)
	}
	if !ok {
		s.logger.Debug("write lock contended", "path", path, "owner", owner)
		return false, nil
	}

	info := LockInfo{Owner: owner, AcquiredAt: time.Now().UTC()}
	buf, _ := json.Marshal(info)
	if _, err := fl.Fh().WriteAt(buf, 0); err != nil {
		fl.Unlock()
		return false, fmt.Errorf("storage: write lock metadata: %w", err)
	}

	s.mu.Lock()
	s.locks[path] = fl
	s.mu.Unlock()
	return true, nil
}

// ReleaseWriteLock drops the lock at path, if this process holds it.
func (s *Storage) ReleaseWriteLock(path string) error {
	s.mu.Lock()
	fl, ok := s.locks[path]
	delete(s.locks, path)
	s.mu.Unlock()
	if !ok {
		return nil
	}
	if err := fl.Unlock(); err != nil {
		return fmt.Errorf("storage: unlock %s: %w", path, err)
	}
	return nil
}

// RefreshWriteLock bumps the stored acquired-at timestamp for a lock
// this process holds at path.
func (s *Storage) RefreshWriteLock(path, owner string) error {
	s.mu.Lock()
	fl, ok := s.locks[path]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("storage: lock %s not held by this process", path)
	}
	info := LockInfo{Owner: owner, AcquiredAt: time.Now().UTC()}
	buf, err := json.Marshal(info)
	if err != nil {
		return err
	}
	if err := fl.Fh().Truncate(0); err != nil {
		return fmt.Errorf("storage: truncate lock %s: %w", path, err)
	}
	if _, err := fl.Fh().WriteAt(buf, 0); err != nil {
		return fmt.Errorf("storage: refresh lock %s: %w", path, err)
	}
	return nil
}
