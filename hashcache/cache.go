// Package hashcache persists a path-sorted list of (path, hash, length,
// lastModified) entries for fast resumption of large file scans (spec
// §4.3). It is grounded on the teacher's core/rawdb/hash_cache.go (same
// domain name, same Hits/Misses/Stats shape) restructured from an
// in-memory LRU keyed by block number into a persisted, path-sorted
// cache, and on core/rawdb/filedb.go's atomic save pattern.
package hashcache

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/ashleydavis/photosphere-sub005/metrics"
)

// HashSize is the length in bytes of every stored hash.
const HashSize = 32

// Version is the on-disk layout version written by this package (spec §4.3
// "hash-cache-x.dat (V1 layout)").
const Version = 1

const (
	minFileSize = 40 // version(4) + count(4) + trailer(32)
	trailerSize = sha256.Size
	headerSize  = 8 // version(4) + count(4)
)

// ErrCorrupt is returned for any Corruption-class failure per spec §7:
// too-short files, checksum mismatch, or a version newer than supported.
var ErrCorrupt = errors.New("hashcache: corrupt cache file")

// ErrInvalidHash is returned by AddHash when the supplied hash is not
// exactly HashSize bytes.
var ErrInvalidHash = errors.New("hashcache: hash must be 32 bytes")

var comparer = collate.New(language.Und)

func compare(a, b string) int { return comparer.CompareString(a, b) }

// Entry is a single cached (path, hash, length, lastModified) record.
type Entry struct {
	Path         string
	Hash         [HashSize]byte
	Length       uint64 // stored as 48 bits on disk
	LastModified uint64 // epoch ms, stored as 48 bits on disk
}

// Stats is a point-in-time snapshot of cache activity, in the spirit of
// the teacher's HashCacheStats (core/rawdb/hash_cache.go).
type Stats struct {
	Entries int
	Hits    uint64
	Misses  uint64
}

// Cache holds a sorted, in-memory copy of the persisted hash cache. A
// growable ordered slice of Entry plays the role of spec §4.3's
// "growable byte buffer" + "offsetLookup" pair: entries stay contiguous
// in sorted order, and lookups binary-search this slice directly rather
// than a separate offset table, which is functionally equivalent for an
// in-process cache.
type Cache struct {
	path     string
	readOnly bool

	entries []Entry
	dirty   bool

	hits, misses uint64
}

// Load opens the cache file at path. A missing file yields an empty,
// initialized cache (spec §4.3 "Load policy"). readOnly mirrors the
// worker-process mode described in §4.3/§4.5.
func Load(path string, readOnly bool) (*Cache, error) {
	c := &Cache{path: path, readOnly: readOnly}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("hashcache: read %s: %w", path, err)
	}

	if len(data) < minFileSize {
		return nil, fmt.Errorf("%w: file too short (%d bytes)", ErrCorrupt, len(data))
	}

	body := data[:len(data)-trailerSize]
	trailer := data[len(data)-trailerSize:]
	sum := sha256.Sum256(body)
	if !bytes.Equal(sum[:], trailer) {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}

	version := binary.LittleEndian.Uint32(body[0:4])
	if version > Version {
		return nil, fmt.Errorf("%w: version %d newer than supported %d", ErrCorrupt, version, Version)
	}
	if version < Version {
		// "Version older than known -> delete the file and start empty."
		_ = os.Remove(path)
		return c, nil
	}

	count := binary.LittleEndian.Uint32(body[4:8])
	entries := make([]Entry, 0, count)
	pos := headerSize
	for i := uint32(0); i < count; i++ {
		if pos+4 > len(body) {
			return nil, fmt.Errorf("%w: truncated entry header", ErrCorrupt)
		}
		pathLen := int(binary.LittleEndian.Uint32(body[pos : pos+4]))
		pos += 4
		if pos+pathLen+HashSize+6+6 > len(body) {
			return nil, fmt.Errorf("%w: truncated entry body", ErrCorrupt)
		}
		path := string(body[pos : pos+pathLen])
		pos += pathLen
		var hash [HashSize]byte
		copy(hash[:], body[pos:pos+HashSize])
		pos += HashSize
		length := readUint48(body[pos : pos+6])
		pos += 6
		lastModified := readUint48(body[pos : pos+6])
		pos += 6
		entries = append(entries, Entry{Path: path, Hash: hash, Length: length, LastModified: lastModified})
	}

	c.entries = entries
	metrics.HashCacheEntries.Set(int64(len(c.entries)))
	return c, nil
}

// normalize converts backslashes to slashes and strips a single leading
// slash, per spec §4.3's getHash/addHash normalization rule.
func normalize(path string) string {
	p := strings.ReplaceAll(path, `\`, "/")
	return strings.TrimPrefix(p, "/")
}

func (c *Cache) search(path string) (pos int, found bool) {
	n := len(c.entries)
	pos = sort.Search(n, func(i int) bool {
		return compare(c.entries[i].Path, path) >= 0
	})
	if pos < n && compare(c.entries[pos].Path, path) == 0 {
		return pos, true
	}
	return pos, false
}

// GetHash looks up path, returning its cached hash/length/lastModified.
func (c *Cache) GetHash(path string) (Entry, bool) {
	norm := normalize(path)
	pos, found := c.search(norm)
	if !found {
		c.misses++
		metrics.HashCacheMisses.Inc()
		return Entry{}, false
	}
	c.hits++
	metrics.HashCacheHits.Inc()
	return c.entries[pos], true
}

// AddHash inserts or overwrites the cached entry for path. hash must be
// exactly HashSize bytes (spec §4.3 "validate hash length == 32; reject
// otherwise"); anything else is rejected with ErrInvalidHash.
func (c *Cache) AddHash(path string, hash []byte, length, lastModified uint64) error {
	if len(hash) != HashSize {
		return ErrInvalidHash
	}

	norm := normalize(path)
	pos, found := c.search(norm)
	var entry Entry
	entry.Path = norm
	copy(entry.Hash[:], hash)
	entry.Length = length
	entry.LastModified = lastModified
	if found {
		c.entries[pos] = entry
	} else {
		c.entries = append(c.entries, Entry{})
		copy(c.entries[pos+1:], c.entries[pos:])
		c.entries[pos] = entry
	}
	c.dirty = true
	metrics.HashCacheEntries.Set(int64(len(c.entries)))
	return nil
}

// RemoveHash removes path from the cache, if present.
func (c *Cache) RemoveHash(path string) {
	norm := normalize(path)
	pos, found := c.search(norm)
	if !found {
		return
	}
	c.entries = append(c.entries[:pos], c.entries[pos+1:]...)
	c.dirty = true
	metrics.HashCacheEntries.Set(int64(len(c.entries)))
}

// Len returns the number of cached entries.
func (c *Cache) Len() int { return len(c.entries) }

// Stats returns a snapshot of cache hit/miss activity.
func (c *Cache) Stats() Stats {
	return Stats{Entries: len(c.entries), Hits: c.hits, Misses: c.misses}
}

// Save persists the cache atomically (temp file + rename), per spec
// §4.3 and the teacher's core/rawdb/filedb.go writeDataFile idiom. It is
// a no-op when the cache is not dirty or was opened read-only.
func (c *Cache) Save() error {
	if !c.dirty || c.readOnly {
		return nil
	}
	timer := metrics.NewTimer(metrics.HashCacheSaveTime)
	defer timer.Stop()

	var body bytes.Buffer
	writeUint32(&body, Version)
	writeUint32(&body, uint32(len(c.entries)))
	for _, e := range c.entries {
		writeUint32(&body, uint32(len(e.Path)))
		body.WriteString(e.Path)
		body.Write(e.Hash[:])
		writeUint48(&body, e.Length)
		writeUint48(&body, e.LastModified)
	}
	sum := sha256.Sum256(body.Bytes())
	body.Write(sum[:])

	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, body.Bytes(), 0o644); err != nil {
		return fmt.Errorf("hashcache: write tmp: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("hashcache: rename: %w", err)
	}
	c.dirty = false
	return nil
}

func writeUint32(b *bytes.Buffer, v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	b.Write(buf[:])
}

func writeUint48(b *bytes.Buffer, v uint64) {
	var buf [6]byte
	buf[0] = byte(v)
	buf[1] = byte(v >> 8)
	buf[2] = byte(v >> 16)
	buf[3] = byte(v >> 24)
	buf[4] = byte(v >> 32)
	buf[5] = byte(v >> 40)
	b.Write(buf[:])
}

func readUint48(b []byte) uint64 {
	return uint64(b[0]) | uint64(b[1])<<8 | uint64(b[2])<<16 |
		uint64(b[3])<<24 | uint64(b[4])<<32 | uint64(b[5])<<40
}
