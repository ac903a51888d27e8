package treecodec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/ashleydavis/photosphere-sub005/merkletree"
)

// ErrUnsupportedVersion is returned when the version header names a
// layout newer than this codec understands.
var ErrUnsupportedVersion = errors.New("treecodec: unsupported version")

// ErrTruncated is returned when a read runs off the end of the buffer —
// a Corruption-class error per spec §7.
var ErrTruncated = errors.New("treecodec: truncated data")

// Read deserializes data (as produced by Write, or by an older V2/V3
// writer) into a Tree. The version header selects the decoder (spec
// §4.2 "Read — version dispatch").
func Read(data []byte) (*merkletree.Tree, error) {
	r := &reader{buf: data}
	version := r.readUint32()
	if r.err != nil {
		return nil, r.err
	}

	switch version {
	case V2:
		return r.readV2()
	case V3, V4:
		return r.readV3OrV4(int(version))
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}
}

// ProbeVersion reads only the first 4 bytes of a tree stream to support
// cheap compatibility checks without loading the whole file (spec §4.2
// "Streaming version probe"). The stream is closed immediately after.
func ProbeVersion(r io.ReadCloser) (int, error) {
	defer r.Close()
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrTruncated, err)
	}
	return int(binary.LittleEndian.Uint32(buf[:])), nil
}

// readV2 decodes the V2 layout: no databaseMetadata, an extra
// createdAt/modifiedAt timestamp pair that is kept in Metadata.CreatedAt/
// ModifiedAt and never written back by Write (spec §4.2).
func (r *reader) readV2() (*merkletree.Tree, error) {
	tr := &merkletree.Tree{Version: V2}

	var id uuid.UUID
	copy(id[:], r.readBytes(16))
	tr.Metadata.ID = id
	tr.Metadata.TotalNodes = r.readUint32()
	tr.Metadata.TotalFiles = r.readUint32()
	tr.Metadata.TotalSize = r.readUint64()
	tr.Metadata.CreatedAt = r.readUint64()
	tr.Metadata.ModifiedAt = r.readUint64()

	if err := r.finish(tr); err != nil {
		return nil, err
	}
	return tr, nil
}

// readV3OrV4 decodes the V3/V4 layout, which is "structurally identical"
// per spec §4.2 (both carry databaseMetadata and no created/modified
// timestamps).
func (r *reader) readV3OrV4(version int) (*merkletree.Tree, error) {
	tr := &merkletree.Tree{Version: version}

	metaLen := r.readUint32()
	metaBytes := r.readBytes(int(metaLen))
	if r.err != nil {
		return nil, r.err
	}
	var env metadataEnvelope
	if len(metaBytes) > 0 {
		if err := bson.Unmarshal(metaBytes, &env); err != nil {
			return nil, fmt.Errorf("treecodec: unmarshal database metadata: %w", err)
		}
	}
	tr.DatabaseMetadata = unwrapMetadata(env)

	var id uuid.UUID
	copy(id[:], r.readBytes(16))
	tr.Metadata.ID = id
	tr.Metadata.TotalNodes = r.readUint32()
	tr.Metadata.TotalFiles = r.readUint32()
	tr.Metadata.TotalSize = r.readUint64()

	if err := r.finish(tr); err != nil {
		return nil, err
	}
	return tr, nil
}

// finish reads the flattened node array and the sorted-ref array shared
// by every version, reconstructs the tree, and reattaches it to tr.
func (r *reader) finish(tr *merkletree.Tree) error {
	nodeCount := r.readUint32()
	nodes := make([]*nodeRecord, nodeCount)
	for i := range nodes {
		nodes[i] = r.readNode()
	}
	if r.err != nil {
		return r.err
	}

	pos := 0
	root, err := buildTree(nodes, &pos)
	if err != nil {
		return err
	}
	if pos != len(nodes) {
		return fmt.Errorf("%w: leftover node records", ErrTruncated)
	}
	tr.Root = root

	refCount := r.readUint32()
	refs := make([]merkletree.Ref, refCount)
	for i := range refs {
		nameLen := r.readUint32()
		name := string(r.readBytes(int(nameLen)))
		idx := r.readUint32()
		deleted := r.readBool()
		refs[i] = merkletree.Ref{FileName: name, FileIndex: idx, IsDeleted: deleted}
	}
	if r.err != nil {
		return r.err
	}
	tr.SetSortedNodeRefs(refs)
	return nil
}

// nodeRecord is the raw, pre-reconstruction form of a flattened node.
type nodeRecord struct {
	hash         merkletree.Hash
	nodeCount    uint32
	leafCount    uint32
	size         uint64
	fileName     string
	lastModified uint64
	isDeleted    bool
}

// buildTree consumes the pre-order array starting at *pos, reading the
// next node and, if it is not a leaf (NodeCount != 1), recursively
// building its left then right subtrees (spec §4.2 "Array -> tree
// reconstruction").
func buildTree(nodes []*nodeRecord, pos *int) (*merkletree.Node, error) {
	if len(nodes) == 0 {
		return nil, nil
	}
	if *pos >= len(nodes) {
		return nil, fmt.Errorf("%w: missing node record", ErrTruncated)
	}
	rec := nodes[*pos]
	*pos++

	n := &merkletree.Node{
		Hash:         rec.hash,
		FileName:     rec.fileName,
		NodeCount:    rec.nodeCount,
		LeafCount:    rec.leafCount,
		Size:         rec.size,
		LastModified: rec.lastModified,
		IsDeleted:    rec.isDeleted,
	}
	if rec.nodeCount == 1 {
		return n, nil
	}

	left, err := buildTree(nodes, pos)
	if err != nil {
		return nil, err
	}
	right, err := buildTree(nodes, pos)
	if err != nil {
		return nil, err
	}
	n.Left = left
	n.Right = right
	return n, nil
}

type reader struct {
	buf []byte
	pos int
	err error
}

func (r *reader) readBytes(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.pos+n > len(r.buf) {
		r.err = ErrTruncated
		return nil
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b
}

func (r *reader) readUint32() uint32 {
	b := r.readBytes(4)
	if r.err != nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

// readUint64 reads two little-endian 32-bit halves, low word first.
func (r *reader) readUint64() uint64 {
	lo := r.readUint32()
	hi := r.readUint32()
	return uint64(lo) | uint64(hi)<<32
}

func (r *reader) readBool() bool {
	b := r.readBytes(1)
	if r.err != nil || len(b) == 0 {
		return false
	}
	return b[0] != 0
}

func (r *reader) readNode() *nodeRecord {
	rec := &nodeRecord{}
	copy(rec.hash[:], r.readBytes(merkletree.HashSize))
	rec.nodeCount = r.readUint32()
	rec.leafCount = r.readUint32()
	rec.size = r.readUint64()
	nameLen := r.readUint32()
	if nameLen > 0 {
		rec.fileName = string(r.readBytes(int(nameLen)))
		rec.lastModified = r.readUint64()
	}
	rec.isDeleted = r.readBool()
	return rec
}
