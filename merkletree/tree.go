package merkletree

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Current is the on-disk format version written by this package (TreeCodec
// V4, per spec §4.2). Older versions are still readable; see the treecodec
// package.
const Current = 4

var (
	// ErrEmptyTree is returned by operations that require a non-empty tree
	// (spec §4.1 "updateFile on empty tree -> fatal error").
	ErrEmptyTree = errors.New("merkletree: tree is empty")
	// ErrUnknownFile is returned when an operation names a file absent
	// from the sorted index.
	ErrUnknownFile = errors.New("merkletree: unknown file")
	// ErrDuplicateFile is returned by addFile when a name already exists
	// and duplicate-detection is enabled (spec §6, NODE_ENV=testing).
	ErrDuplicateFile = errors.New("merkletree: duplicate file name")
	// ErrNoNames is returned by DeleteFiles when called with an empty list.
	ErrNoNames = errors.New("merkletree: no file names given")
)

// Metadata mirrors spec §3 TreeMetadata. CreatedAt/ModifiedAt are retained
// only for V2 compatibility on load; V3+ trees leave them zero and never
// persist them (spec §4.2).
type Metadata struct {
	ID         uuid.UUID
	TotalNodes uint32
	TotalFiles uint32
	TotalSize  uint64
	CreatedAt  uint64 // V2 only
	ModifiedAt uint64 // V2 only
}

// File describes a single file to be added or updated in the tree.
type File struct {
	Name         string
	Hash         Hash
	Length       uint64
	LastModified uint64
}

// Tree is an in-memory Merkle tree of named files plus its sorted lookup
// index and metadata. Tree uniquely owns its node graph and index;
// serialization (see the treecodec package) is a pure read (spec §3).
type Tree struct {
	Root     *Node // nil for an empty tree
	Metadata Metadata
	Version  int

	// DatabaseMetadata is an opaque, BSON-round-tripping application
	// payload (spec §3, §9 "dynamic-typed payload"). nil means absent.
	DatabaseMetadata interface{}

	index    *sortedIndex
	nextSeq  uint32 // next fileIndex to assign on addFile
	strict   bool   // NODE_ENV=testing duplicate-name assertion
}

// Create returns a new, empty tree with the given id (spec §4.1 `create`).
func Create(id uuid.UUID) *Tree {
	return &Tree{
		Metadata: Metadata{ID: id},
		Version:  Current,
		index:    &sortedIndex{},
	}
}

// SetSortedNodeRefs replaces the tree's sorted index wholesale. It exists
// for the treecodec package to reattach the index it deserialized
// alongside the node array; callers outside this module's own packages
// should use AddFile/UpsertFile instead of constructing refs by hand.
func (t *Tree) SetSortedNodeRefs(refs []Ref) {
	cp := make([]Ref, len(refs))
	copy(cp, refs)
	t.index = &sortedIndex{refs: cp}

	var maxSeq uint32
	any := false
	for _, r := range cp {
		if !any || r.FileIndex >= maxSeq {
			maxSeq = r.FileIndex
			any = true
		}
	}
	if any {
		t.nextSeq = maxSeq + 1
	}
}

// SetStrict toggles the NODE_ENV=testing duplicate-filename assertion
// described in spec §6.
func (t *Tree) SetStrict(strict bool) { t.strict = strict }

// SortedNodeRefs returns the tree's sorted index, in locale order.
func (t *Tree) SortedNodeRefs() []Ref {
	out := make([]Ref, len(t.index.refs))
	copy(out, t.index.refs)
	return out
}

// AddFile inserts a new leaf for file and rebalances per the insertion
// algorithm in spec §4.1. Returns ErrDuplicateFile if name is already
// present and strict mode is enabled.
func (t *Tree) AddFile(f File) error {
	if _, found := t.index.get(f.Name); found {
		if t.strict {
			return fmt.Errorf("%w: %s", ErrDuplicateFile, f.Name)
		}
	}

	leaf := newLeaf(f.Name, f.Hash, f.Length, f.LastModified)
	t.Root = insertLeaf(t.Root, leaf)

	t.index.insert(Ref{FileName: f.Name, FileIndex: t.nextSeq})
	t.nextSeq++

	t.Metadata.TotalNodes = t.Root.NodeCount
	t.Metadata.TotalFiles = t.Root.LeafCount
	t.Metadata.TotalSize = t.Root.Size
	return nil
}

// insertLeaf implements the order-dependent insertion/balance rule of
// spec §4.1:
//
//  1. empty tree -> new leaf is root
//  2. root is a leaf -> new parent with old root on left, new leaf on right
//  3. interior with leftCount > rightCount -> recurse right, rebuild node
//  4. otherwise -> new parent with current tree on left, new leaf on right
func insertLeaf(root *Node, leaf *Node) *Node {
	if root == nil {
		return leaf
	}
	if root.IsLeaf() {
		return newInterior(root, leaf)
	}
	if root.Left.LeafCount > root.Right.LeafCount {
		root.Right = insertLeaf(root.Right, leaf)
		root.recompute()
		return root
	}
	return newInterior(root, leaf)
}

// UpsertFile adds f if its name is new, or updates it in place otherwise
// (spec §4.1 `upsertFile`).
func (t *Tree) UpsertFile(f File) error {
	if _, found := t.index.get(f.Name); found {
		_, err := t.UpdateFile(f)
		return err
	}
	return t.AddFile(f)
}

// UpdateFile replaces an existing leaf's hash/length/lastModified and
// propagates the change to the root. Returns false if name is unknown,
// ErrEmptyTree if the tree has no root.
func (t *Tree) UpdateFile(f File) (bool, error) {
	if t.Root == nil {
		return false, ErrEmptyTree
	}
	ref, found := t.index.get(f.Name)
	if !found {
		return false, nil
	}
	leaf := findLeaf(t.Root, f.Name)
	if leaf == nil {
		return false, nil
	}
	leaf.Hash = f.Hash
	leaf.Size = f.Length
	leaf.LastModified = f.LastModified
	leaf.IsDeleted = false
	propagate(t.Root, f.Name)

	ref.IsDeleted = false
	t.index.update(ref)

	t.Metadata.TotalSize = t.Root.Size
	return true, nil
}

// MarkFileAsDeleted tombstones the named leaf: sets IsDeleted, reassigns
// its hash to the well-known tombstone hash, zeroes its size, and
// propagates the change up to the root (spec §4.1 `markFileAsDeleted`).
// Returns false (no-op) if name is unknown or already tombstoned.
func (t *Tree) MarkFileAsDeleted(name string) bool {
	if t.Root == nil {
		return false
	}
	ref, found := t.index.get(name)
	if !found || ref.IsDeleted {
		return false
	}
	leaf := findLeaf(t.Root, name)
	if leaf == nil || leaf.IsDeleted {
		return false
	}
	leaf.tombstone()
	propagate(t.Root, name)

	ref.IsDeleted = true
	t.index.update(ref)

	t.Metadata.TotalSize = t.Root.Size
	return true
}

// propagate recomputes hash/size for every ancestor of the leaf named name,
// walking from the leaf back to root. Only the path is visited; siblings
// are untouched (spec §4.1 "Hash propagation").
func propagate(root *Node, name string) {
	path := pathTo(root, name)
	for i := len(path) - 1; i >= 0; i-- {
		path[i].recompute()
	}
}

// pathTo returns the chain of interior nodes from root down to (but not
// including) the leaf named name, in root-to-parent order.
func pathTo(root *Node, name string) []*Node {
	var path []*Node
	n := root
	for n != nil && !n.IsLeaf() {
		path = append(path, n)
		if leafNameUnder(n.Left, name) {
			n = n.Left
		} else {
			n = n.Right
		}
	}
	return path
}

// leafNameUnder reports whether a leaf named name exists in the subtree
// rooted at n.
func leafNameUnder(n *Node, name string) bool {
	return findLeaf(n, name) != nil
}

// findLeaf locates the leaf named name within the subtree rooted at n.
func findLeaf(n *Node, name string) *Node {
	if n == nil {
		return nil
	}
	if n.IsLeaf() {
		if n.FileName == name {
			return n
		}
		return nil
	}
	if l := findLeaf(n.Left, name); l != nil {
		return l
	}
	return findLeaf(n.Right, name)
}

// DeleteFiles hard-deletes the named files: the tree is rebuilt from the
// surviving active leaves (in their current sorted-index order),
// preserving Metadata.ID and DatabaseMetadata (spec §4.1 `deleteFiles`).
// Returns the number of files deleted. Fails if names is empty, if any
// name is unknown, or if the tree is empty.
func (t *Tree) DeleteFiles(names []string) (int, error) {
	if len(names) == 0 {
		return 0, ErrNoNames
	}
	if t.Root == nil {
		return 0, ErrEmptyTree
	}
	toDelete := make(map[string]bool, len(names))
	for _, n := range names {
		if _, found := t.index.get(n); !found {
			return 0, fmt.Errorf("%w: %s", ErrUnknownFile, n)
		}
		toDelete[n] = true
	}

	survivors := make([]File, 0, len(t.index.refs))
	for _, ref := range t.index.refs {
		if ref.IsDeleted || toDelete[ref.FileName] {
			continue
		}
		leaf := findLeaf(t.Root, ref.FileName)
		if leaf == nil {
			continue
		}
		survivors = append(survivors, File{
			Name:         leaf.FileName,
			Hash:         leaf.Hash,
			Length:       leaf.Size,
			LastModified: leaf.LastModified,
		})
	}

	rebuilt := &Tree{
		Metadata:          Metadata{ID: t.Metadata.ID},
		Version:           t.Version,
		DatabaseMetadata:  t.DatabaseMetadata,
		index:             &sortedIndex{},
		strict:            t.strict,
	}
	for _, f := range survivors {
		if err := rebuilt.AddFile(f); err != nil {
			return 0, err
		}
	}

	*t = *rebuilt
	return len(names), nil
}

// FindNodeRef returns the sorted-index entry for name, if present (spec
// §4.1 `findNodeRef`).
func (t *Tree) FindNodeRef(name string) (Ref, bool) {
	return t.index.get(name)
}

// FindFileNode resolves name to its leaf, including tombstoned leaves
// (spec §4.1 `findFileNode`).
func (t *Tree) FindFileNode(name string) *Node {
	return t.FindFileNodeWithDeletionStatus(name, true)
}

// FindFileNodeWithDeletionStatus resolves name to its leaf. If
// includeDeleted is false, tombstoned leaves are reported as absent.
func (t *Tree) FindFileNodeWithDeletionStatus(name string, includeDeleted bool) *Node {
	ref, found := t.index.get(name)
	if !found {
		return nil
	}
	if ref.IsDeleted && !includeDeleted {
		return nil
	}
	return findLeaf(t.Root, name)
}

// FileInfo is the subset of leaf fields exposed by GetFileInfo.
type FileInfo struct {
	Hash         Hash
	Length       uint64
	LastModified uint64
}

// GetFileInfo returns file metadata for an active (non-tombstoned) leaf
// only (spec §4.1 `getFileInfo`).
func (t *Tree) GetFileInfo(name string) (FileInfo, bool) {
	leaf := t.FindFileNodeWithDeletionStatus(name, false)
	if leaf == nil {
		return FileInfo{}, false
	}
	return FileInfo{Hash: leaf.Hash, Length: leaf.Size, LastModified: leaf.LastModified}, true
}

// GetActiveFiles returns the names of every non-tombstoned leaf, in
// locale-sorted order (spec §4.1 `getActiveFiles`).
func (t *Tree) GetActiveFiles() []string {
	return t.index.activeNames()
}

// Stats is a point-in-time snapshot of tree size, in the spirit of the
// hashcache package's Stats.
type Stats struct {
	ActiveFiles int
	TotalNodes  uint32
	TotalFiles  uint32
	TotalSize   uint64
}

// Stats returns a snapshot of the tree's current size.
func (t *Tree) Stats() Stats {
	return Stats{
		ActiveFiles: len(t.index.activeNames()),
		TotalNodes:  t.Metadata.TotalNodes,
		TotalFiles:  t.Metadata.TotalFiles,
		TotalSize:   t.Metadata.TotalSize,
	}
}

// VisitFunc is called once per node during a pre-order traversal. Return
// false to stop the traversal early.
type VisitFunc func(n *Node) bool

// Traverse performs a pre-order traversal of the tree, stopping early if
// visit returns false (spec §4.1 `traverseTree`).
func (t *Tree) Traverse(visit VisitFunc) {
	traverse(t.Root, visit)
}

func traverse(n *Node, visit VisitFunc) bool {
	if n == nil {
		return true
	}
	if !visit(n) {
		return false
	}
	if !n.IsLeaf() {
		if !traverse(n.Left, visit) {
			return false
		}
		if !traverse(n.Right, visit) {
			return false
		}
	}
	return true
}
