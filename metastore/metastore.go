// Package metastore implements the in-process metadata store contract
// from spec §6: insertOne plus an indexed findByIndex lookup, with the
// `hash` field always indexed so the import pipeline can deduplicate
// already-imported assets (spec §4.5 step 2).
//
// It is grounded on the teacher's core/rawdb/memorydb.go — the same
// mutex-guarded map-of-documents shape, generalized from a flat
// key/value store to a document store with a secondary index, and
// BSON-backed (go.mongodb.org/mongo-driver/bson) so records round-trip
// the same way the tree's opaque databaseMetadata payload does.
package metastore

import (
	"fmt"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
)

// Store is an in-memory, BSON-document metadata store with one or more
// indexed fields.
type Store struct {
	mu      sync.RWMutex
	docs    []bson.M
	indexed map[string]bool
	index   map[string]map[interface{}][]int // field -> value -> doc positions
}

// New returns an empty Store. indexedFields names the fields eligible
// for FindByIndex; "hash" is always included per spec §6.
func New(indexedFields ...string) *Store {
	indexed := map[string]bool{"hash": true}
	for _, f := range indexedFields {
		indexed[f] = true
	}
	idx := make(map[string]map[interface{}][]int, len(indexed))
	for f := range indexed {
		idx[f] = make(map[interface{}][]int)
	}
	return &Store{indexed: indexed, index: idx}
}

// InsertOne stores doc (any BSON-marshalable value, typically an
// AssetRecord) and updates the secondary indexes.
func (s *Store) InsertOne(doc interface{}) error {
	raw, err := bson.Marshal(doc)
	if err != nil {
		return fmt.Errorf("metastore: marshal: %w", err)
	}
	var m bson.M
	if err := bson.Unmarshal(raw, &m); err != nil {
		return fmt.Errorf("metastore: unmarshal: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pos := len(s.docs)
	s.docs = append(s.docs, m)

	for field := range s.indexed {
		value, ok := m[field]
		if !ok {
			continue
		}
		s.index[field][value] = append(s.index[field][value], pos)
	}
	return nil
}

// FindByIndex returns every document whose field equals value. field
// must be one of the store's indexed fields.
func (s *Store) FindByIndex(field string, value interface{}) ([]bson.M, error) {
	if !s.indexed[field] {
		return nil, fmt.Errorf("metastore: field %q is not indexed", field)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	positions := s.index[field][value]
	out := make([]bson.M, 0, len(positions))
	for _, pos := range positions {
		out = append(out, s.docs[pos])
	}
	return out, nil
}

// Len returns the number of stored documents.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}
