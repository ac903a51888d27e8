// Package assetdb implements the AssetDatabase facade from spec §4.6:
// it binds a MerkleTree (via treecodec) to a concrete asset Storage and
// metadata Store, choosing a device-scoped tree location with
// backward-compatible fallback.
package assetdb

import (
	"errors"
	"fmt"
	"path"

	"github.com/google/uuid"

	"github.com/ashleydavis/photosphere-sub005/merkletree"
	"github.com/ashleydavis/photosphere-sub005/metrics"
	"github.com/ashleydavis/photosphere-sub005/storage"
	"github.com/ashleydavis/photosphere-sub005/treecodec"
)

// legacyTreePath is the pre-device-scoping location kept for backward
// compatibility (spec §4.6 `load()`).
const legacyTreePath = "tree.dat"

// ErrNotLoaded is returned by GetMerkleTree before a tree has been
// created or loaded (spec §4.6 "fatal if not loaded").
var ErrNotLoaded = errors.New("assetdb: no tree loaded")

// ErrNotEmpty is returned by Create when the asset storage already
// contains data (spec §4.6 "require the asset storage to be empty, else
// fatal").
var ErrNotEmpty = errors.New("assetdb: asset storage is not empty")

// AssetDatabase is the facade binding a MerkleTree to its storage and
// metadata collaborators.
type AssetDatabase struct {
	storage  *storage.Storage
	deviceID string

	tree *merkletree.Tree
}

// New returns an AssetDatabase over storage, scoped to deviceID.
func New(store *storage.Storage, deviceID string) *AssetDatabase {
	return &AssetDatabase{storage: store, deviceID: deviceID}
}

func (db *AssetDatabase) devicePath() string {
	return path.Join("devices", db.deviceID, "tree.dat")
}

// Create initializes an empty tree with a fresh UUID. Fails if the
// asset storage already holds data (spec §4.6 `create()`).
func (db *AssetDatabase) Create() error {
	empty, err := db.storage.IsEmpty("")
	if err != nil {
		return fmt.Errorf("assetdb: check empty: %w", err)
	}
	if !empty {
		return ErrNotEmpty
	}
	db.tree = merkletree.Create(uuid.New())
	return nil
}

// Load tries the device-scoped tree path first, falling back to the
// legacy root-level tree.dat for backward compatibility (spec §4.6
// `load()`). Returns whether a tree was found.
func (db *AssetDatabase) Load() (bool, error) {
	timer := metrics.NewTimer(metrics.TreeLoadTime)
	defer timer.Stop()

	for _, p := range []string{db.devicePath(), legacyTreePath} {
		data, err := db.storage.Read(p)
		if err != nil {
			return false, fmt.Errorf("assetdb: read %s: %w", p, err)
		}
		if data == nil {
			continue
		}
		tree, err := treecodec.Read(data)
		if err != nil {
			return false, fmt.Errorf("assetdb: decode %s: %w", p, err)
		}
		db.tree = tree
		metrics.TreeActiveFiles.Set(int64(tree.Stats().ActiveFiles))
		return true, nil
	}
	return false, nil
}

// Save persists the tree to the device-specific path only (spec §4.6
// `save()` — "never writes the legacy path").
func (db *AssetDatabase) Save() error {
	if db.tree == nil {
		return ErrNotLoaded
	}
	timer := metrics.NewTimer(metrics.TreeSaveTime)
	defer timer.Stop()

	data, err := treecodec.Write(db.tree)
	if err != nil {
		return fmt.Errorf("assetdb: encode tree: %w", err)
	}
	if err := db.storage.Write(db.devicePath(), "application/octet-stream", data); err != nil {
		return fmt.Errorf("assetdb: write tree: %w", err)
	}
	metrics.TreeActiveFiles.Set(int64(db.tree.Stats().ActiveFiles))
	return nil
}

// GetMerkleTree returns the loaded tree, failing if none has been
// created or loaded yet (spec §4.6 `getMerkleTree()`).
func (db *AssetDatabase) GetMerkleTree() (*merkletree.Tree, error) {
	if db.tree == nil {
		return nil, ErrNotLoaded
	}
	return db.tree, nil
}

// AddFile thinly delegates to the Merkle tree (spec §4.6 `addFile`).
func (db *AssetDatabase) AddFile(f merkletree.File) error {
	if db.tree == nil {
		return ErrNotLoaded
	}
	return db.tree.AddFile(f)
}

// UpsertFile thinly delegates to the Merkle tree (spec §4.6
// `upsertFile`).
func (db *AssetDatabase) UpsertFile(f merkletree.File) error {
	if db.tree == nil {
		return ErrNotLoaded
	}
	return db.tree.UpsertFile(f)
}

// DeleteFile tombstones a single named file (spec §4.6 `deleteFile`).
func (db *AssetDatabase) DeleteFile(name string) error {
	if db.tree == nil {
		return ErrNotLoaded
	}
	if !db.tree.MarkFileAsDeleted(name) {
		return fmt.Errorf("assetdb: %w: %s", merkletree.ErrUnknownFile, name)
	}
	return nil
}

// DeleteDir walks the asset storage under prefix (listFiles/listDirs
// with pagination) and tombstones every leaf found beneath it (spec
// §4.6 `deleteDir`).
func (db *AssetDatabase) DeleteDir(prefix string) (int, error) {
	if db.tree == nil {
		return 0, ErrNotLoaded
	}

	count := 0
	next := ""
	for {
		page, err := db.storage.ListFiles(prefix, 256, next)
		if err != nil {
			return count, fmt.Errorf("assetdb: list %s: %w", prefix, err)
		}
		for _, name := range page.Names {
			full := path.Join(prefix, name)
			if db.tree.MarkFileAsDeleted(full) {
				count++
			}
		}
		if page.Next == "" {
			break
		}
		next = page.Next
	}

	next = ""
	for {
		page, err := db.storage.ListDirs(prefix, 256, next)
		if err != nil {
			return count, fmt.Errorf("assetdb: list dirs %s: %w", prefix, err)
		}
		for _, name := range page.Names {
			sub, err := db.DeleteDir(path.Join(prefix, name))
			if err != nil {
				return count, err
			}
			count += sub
		}
		if page.Next == "" {
			break
		}
		next = page.Next
	}
	return count, nil
}
