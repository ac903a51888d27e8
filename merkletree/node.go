// Package merkletree implements an incrementally maintained Merkle tree
// over a set of named files. Leaves hold the SHA-256 hash of a file's
// content; interior nodes hold the SHA-256 hash of their children's
// hashes concatenated. A parallel sorted index gives O(log n) lookup by
// file name independent of the tree's shape.
package merkletree

import (
	"crypto/sha256"

	"github.com/google/uuid"
)

// HashSize is the length in bytes of every hash stored in the tree.
const HashSize = 32

// Hash is a SHA-256 digest.
type Hash [HashSize]byte

// Bytes returns the hash as a byte slice.
func (h Hash) Bytes() []byte { return h[:] }

// IsZero reports whether h is the zero hash.
func (h Hash) IsZero() bool { return h == Hash{} }

// BytesToHash copies b (which must have length HashSize) into a Hash.
func BytesToHash(b []byte) Hash {
	var h Hash
	copy(h[:], b)
	return h
}

// SumContent returns the SHA-256 hash of data.
func SumContent(data []byte) Hash {
	return BytesToHash(sum(data))
}

// tombstonePrefix is prepended to a deleted file's name before hashing to
// produce its tombstone hash.
const tombstonePrefix = "DELETED:"

// TombstoneHash returns the well-known hash assigned to a deleted leaf.
func TombstoneHash(fileName string) Hash {
	return BytesToHash(sum([]byte(tombstonePrefix + fileName)))
}

func sum(b []byte) []byte {
	s := sha256.Sum256(b)
	return s[:]
}

func interiorHash(left, right Hash) Hash {
	h := sha256.New()
	h.Write(left.Bytes())
	h.Write(right.Bytes())
	return BytesToHash(h.Sum(nil))
}

// Node is a binary-tree node. A leaf has FileName set and no children; an
// interior node has both Left and Right set and no FileName.
type Node struct {
	Hash         Hash
	FileName     string // leaves only
	NodeCount    uint32 // total nodes in subtree including self
	LeafCount    uint32 // total leaves in subtree
	Size         uint64 // sum of file lengths below
	LastModified uint64 // epoch ms, leaves only
	IsDeleted    bool   // tombstone flag, leaves only

	Left, Right *Node // interior nodes only
}

// IsLeaf reports whether n has no children.
func (n *Node) IsLeaf() bool {
	return n.Left == nil && n.Right == nil
}

// newLeaf builds a fresh, active leaf node for the given file.
func newLeaf(name string, hash Hash, length, lastModified uint64) *Node {
	return &Node{
		Hash:         hash,
		FileName:     name,
		NodeCount:    1,
		LeafCount:    1,
		Size:         length,
		LastModified: lastModified,
	}
}

// newInterior composes a parent node from two children, recomputing its
// hash, size, and counts.
func newInterior(left, right *Node) *Node {
	n := &Node{Left: left, Right: right}
	n.recompute()
	return n
}

// recompute refreshes an interior node's Hash/Size/NodeCount/LeafCount
// from its children. Caller must ensure Left and Right are both set.
func (n *Node) recompute() {
	n.Hash = interiorHash(n.Left.Hash, n.Right.Hash)
	n.Size = n.Left.Size + n.Right.Size
	n.NodeCount = 1 + n.Left.NodeCount + n.Right.NodeCount
	n.LeafCount = n.Left.LeafCount + n.Right.LeafCount
}

// tombstone marks a leaf deleted in place, per spec §3.
func (n *Node) tombstone() {
	n.IsDeleted = true
	n.Hash = TombstoneHash(n.FileName)
	n.Size = 0
}

// NewTreeID generates a fresh tree identifier, stable across the tree's
// lifetime (spec §3 TreeMetadata.id).
func NewTreeID() uuid.UUID {
	return uuid.New()
}
