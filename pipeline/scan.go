package pipeline

import (
	"archive/zip"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	kflate "github.com/klauspost/compress/flate"

	"github.com/google/uuid"
)

func init() {
	// Use klauspost/compress's faster flate implementation to decode
	// zip entries instead of the standard library's compress/flate,
	// per spec §4.5's "filesystem/zip-aware walker".
	zip.RegisterDecompressor(zip.Deflate, func(r io.Reader) io.ReadCloser {
		return kflate.NewReader(r)
	})
}

// EntryHandler is called once per accepted scan entry. Returning an
// error counts the entry as failed rather than stopping the scan.
type EntryHandler func(ScanEntry) error

// Scanner walks a filesystem root, transparently descending into zip
// archives, and forwards every accepted file through a handler (spec
// §4.5 step 1).
type Scanner struct {
	tempDir string
	State   ScannerState
}

// NewScanner returns a Scanner that extracts zip contents under a
// per-session temp directory rooted at tempDir (created if absent).
func NewScanner(tempDir string) (*Scanner, error) {
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return nil, fmt.Errorf("pipeline: scanner temp dir: %w", err)
	}
	return &Scanner{tempDir: tempDir}, nil
}

// Scan walks every path in paths (files or directories), calling handle
// for each accepted file. Zip archives found along the way are
// extracted to s.tempDir and their contents walked in turn; only the
// extracted, on-disk FilePath is ever handed to handle — LogicalPath
// carries the original (possibly nested-zip) name for logging.
func (s *Scanner) Scan(paths []string, handle EntryHandler) error {
	for _, p := range paths {
		if err := s.walk(p, p, handle); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scanner) walk(path, logicalPath string, handle EntryHandler) error {
	fi, err := os.Stat(path)
	if err != nil {
		s.State.Failed++
		return nil
	}

	if fi.IsDir() {
		entries, err := os.ReadDir(path)
		if err != nil {
			s.State.Failed++
			return nil
		}
		for _, e := range entries {
			if err := s.walk(filepath.Join(path, e.Name()), logicalPath+"/"+e.Name(), handle); err != nil {
				return err
			}
		}
		return nil
	}

	if strings.EqualFold(filepath.Ext(path), ".zip") {
		return s.walkZip(path, logicalPath, handle)
	}

	return s.accept(path, logicalPath, fi.Size(), fi.ModTime().Unix(), handle)
}

func (s *Scanner) walkZip(zipPath, logicalPath string, handle EntryHandler) error {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		s.State.Failed++
		return nil
	}
	defer r.Close()

	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		nestedLogical := logicalPath + "!/" + f.Name
		extracted, err := s.extractZipEntry(f)
		if err != nil {
			s.State.Failed++
			continue
		}
		if strings.EqualFold(filepath.Ext(f.Name), ".zip") {
			if err := s.walkZip(extracted, nestedLogical, handle); err != nil {
				return err
			}
			continue
		}
		if err := s.accept(extracted, nestedLogical, int64(f.UncompressedSize64), f.Modified.Unix(), handle); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scanner) extractZipEntry(f *zip.File) (string, error) {
	rc, err := f.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()

	dst := filepath.Join(s.tempDir, uuid.NewString()+"-"+filepath.Base(f.Name))
	out, err := os.Create(dst)
	if err != nil {
		return "", err
	}
	defer out.Close()

	if _, err := io.Copy(out, rc); err != nil {
		return "", err
	}
	return dst, nil
}

func (s *Scanner) accept(filePath, logicalPath string, length int64, modUnix int64, handle EntryHandler) error {
	contentType := mime.TypeByExtension(filepath.Ext(filePath))
	if contentType == "" {
		s.State.Ignored++
		return nil
	}

	entry := ScanEntry{
		AssetID:     uuid.NewString(),
		FilePath:    filePath,
		LogicalPath: logicalPath,
		ContentType: contentType,
		Length:      length,
		ModTime:     time.Unix(modUnix, 0),
		Labels:      labelsFor(logicalPath),
	}
	if err := handle(entry); err != nil {
		s.State.Failed++
	}
	return nil
}

// labelsFor returns the directory components of a logical path as labels
// (spec §4.5 step 4); the file name itself is not included.
func labelsFor(logicalPath string) []string {
	dir := filepath.Dir(logicalPath)
	if dir == "." || dir == "/" {
		return nil
	}
	parts := strings.Split(strings.Trim(dir, "/"), "/")
	var labels []string
	for _, p := range parts {
		if p != "" {
			labels = append(labels, p)
		}
	}
	return labels
}
