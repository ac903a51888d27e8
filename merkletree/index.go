package merkletree

import (
	"sort"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// comparer drives every locale-aware filename comparison in the tree
// (sortedNodeRefs ordering, binary search) per spec §3's requirement that
// the index be ordered "by locale-aware filename comparison."
var comparer = collate.New(language.Und)

// compareNames returns a negative, zero, or positive value following the
// same convention as strings.Compare, but using locale-aware collation.
func compareNames(a, b string) int {
	return comparer.CompareString(a, b)
}

// Ref is a sorted-index entry: a lightweight pointer to a leaf by name,
// independent of the tree's physical shape (spec §3 MerkleNodeRef).
type Ref struct {
	FileName  string
	FileIndex uint32 // insertion-order sequence number among all leaves ever added
	IsDeleted bool
}

// sortedIndex is a locale-ordered, duplicate-free slice of Refs supporting
// O(log n) lookup by file name.
type sortedIndex struct {
	refs []Ref
}

// search returns the position at which name either is found (found=true,
// pos is its index) or would be inserted (found=false, pos is the
// insertion point preserving sort order).
func (s *sortedIndex) search(name string) (pos int, found bool) {
	n := len(s.refs)
	pos = sort.Search(n, func(i int) bool {
		return compareNames(s.refs[i].FileName, name) >= 0
	})
	if pos < n && compareNames(s.refs[pos].FileName, name) == 0 {
		return pos, true
	}
	return pos, false
}

// get returns the Ref for name, if present.
func (s *sortedIndex) get(name string) (Ref, bool) {
	pos, found := s.search(name)
	if !found {
		return Ref{}, false
	}
	return s.refs[pos], true
}

// insert adds a new Ref in sorted position. Caller must have verified name
// is not already present.
func (s *sortedIndex) insert(ref Ref) {
	pos, _ := s.search(ref.FileName)
	s.refs = append(s.refs, Ref{})
	copy(s.refs[pos+1:], s.refs[pos:])
	s.refs[pos] = ref
}

// update replaces the Ref stored for name, preserving sort position (the
// name itself never changes on update).
func (s *sortedIndex) update(ref Ref) {
	pos, found := s.search(ref.FileName)
	if !found {
		s.insert(ref)
		return
	}
	s.refs[pos] = ref
}

// clone returns an independent copy of the index.
func (s *sortedIndex) clone() *sortedIndex {
	cp := make([]Ref, len(s.refs))
	copy(cp, s.refs)
	return &sortedIndex{refs: cp}
}

// activeNames returns every active (non-tombstoned) file name, in sorted order.
func (s *sortedIndex) activeNames() []string {
	out := make([]string, 0, len(s.refs))
	for _, r := range s.refs {
		if !r.IsDeleted {
			out = append(out, r.FileName)
		}
	}
	return out
}
