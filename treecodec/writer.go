// Package treecodec implements the versioned binary serialization of a
// merkletree.Tree (spec §4.2). All multi-byte integers are little-endian;
// 64-bit values are written as two little-endian 32-bit halves (low then
// high), matching the teacher's core/rawdb fixed-width record idiom
// (freezer_table.go's ftIndexEntry.encode/decode) generalized to this
// tree's variable-length node records.
package treecodec

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/ashleydavis/photosphere-sub005/merkletree"
)

// V2, V3, V4 are the historical on-disk layouts this codec understands
// (spec §4.2). V4 is current; see Write.
const (
	V2 = 2
	V3 = 3
	V4 = 4
)

// Write serializes tr in the current (V4) layout, per spec §4.2's
// "Write layout (V4, current)".
func Write(tr *merkletree.Tree) ([]byte, error) {
	var buf bytes.Buffer
	w := &writer{buf: &buf}

	w.writeUint32(V4)

	meta, err := bson.Marshal(wrapMetadata(tr.DatabaseMetadata))
	if err != nil {
		return nil, fmt.Errorf("treecodec: marshal database metadata: %w", err)
	}
	w.writeUint32(uint32(len(meta)))
	w.buf.Write(meta)

	idBytes, _ := tr.Metadata.ID.MarshalBinary()
	w.buf.Write(idBytes)
	w.writeUint32(tr.Metadata.TotalNodes)
	w.writeUint32(tr.Metadata.TotalFiles)
	w.writeUint64(tr.Metadata.TotalSize)

	nodes := flatten(tr.Root)
	w.writeUint32(uint32(len(nodes)))
	for _, n := range nodes {
		w.writeNode(n)
	}

	refs := tr.SortedNodeRefs()
	w.writeUint32(uint32(len(refs)))
	for _, r := range refs {
		w.writeUint32(uint32(len(r.FileName)))
		w.buf.WriteString(r.FileName)
		w.writeUint32(r.FileIndex)
		w.writeBool(r.IsDeleted)
	}

	if w.err != nil {
		return nil, w.err
	}
	return buf.Bytes(), nil
}

// metadataEnvelope lets a nil DatabaseMetadata round-trip as an empty BSON
// document rather than failing to marshal.
type metadataEnvelope struct {
	Present bool        `bson:"present"`
	Value   interface{} `bson:"value,omitempty"`
}

func wrapMetadata(v interface{}) metadataEnvelope {
	if v == nil {
		return metadataEnvelope{Present: false}
	}
	return metadataEnvelope{Present: true, Value: v}
}

func unwrapMetadata(e metadataEnvelope) interface{} {
	if !e.Present {
		return nil
	}
	return e.Value
}

// flatten produces the pre-order node array described in spec §4.2
// ("Flattened node array in pre-order (left subtree before right)").
func flatten(root *merkletree.Node) []*merkletree.Node {
	if root == nil {
		return nil
	}
	var out []*merkletree.Node
	var visit func(n *merkletree.Node)
	visit = func(n *merkletree.Node) {
		out = append(out, n)
		if !n.IsLeaf() {
			visit(n.Left)
			visit(n.Right)
		}
	}
	visit(root)
	return out
}

type writer struct {
	buf *bytes.Buffer
	err error
}

func (w *writer) writeUint8(v uint8) {
	if w.err != nil {
		return
	}
	w.buf.WriteByte(v)
}

func (w *writer) writeBool(v bool) {
	if v {
		w.writeUint8(1)
	} else {
		w.writeUint8(0)
	}
}

func (w *writer) writeUint32(v uint32) {
	if w.err != nil {
		return
	}
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf.Write(b[:])
}

// writeUint64 writes v as two little-endian 32-bit halves, low word
// first, matching spec §4.2's framing rule for 64-bit fields.
func (w *writer) writeUint64(v uint64) {
	w.writeUint32(uint32(v))
	w.writeUint32(uint32(v >> 32))
}

func (w *writer) writeNode(n *merkletree.Node) {
	w.buf.Write(n.Hash.Bytes())
	w.writeUint32(n.NodeCount)
	w.writeUint32(n.LeafCount)
	w.writeUint64(n.Size)
	w.writeUint32(uint32(len(n.FileName)))
	if len(n.FileName) > 0 {
		w.buf.WriteString(n.FileName)
		w.writeUint64(n.LastModified)
	}
	w.writeBool(n.IsDeleted)
}
