package merkletree

// Comparison holds the result of comparing two trees by file name and
// hash (spec §4.1 `compareTrees`).
type Comparison struct {
	OnlyInA  []string // active in A, absent from B
	OnlyInB  []string // active in B, absent from A
	Modified []string // active in both, hashes differ
	Deleted  []string // tombstoned in A, active in B
}

// ProgressFunc is called after each name is processed, allowing callers to
// report progress over large trees.
type ProgressFunc func(processed, total int)

// CompareTrees diffs a and b by file name. Tombstoned entries in b are
// always skipped, matching spec §4.1's scenario 3.
func CompareTrees(a, b *Tree, progress ProgressFunc) Comparison {
	var cmp Comparison

	bRefs := make(map[string]Ref, len(b.index.refs))
	for _, r := range b.index.refs {
		bRefs[r.FileName] = r
	}

	total := len(a.index.refs) + len(b.index.refs)
	processed := 0
	report := func() {
		processed++
		if progress != nil {
			progress(processed, total)
		}
	}

	for _, ra := range a.index.refs {
		rb, inB := bRefs[ra.FileName]
		switch {
		case ra.IsDeleted:
			if inB && !rb.IsDeleted {
				cmp.Deleted = append(cmp.Deleted, ra.FileName)
			}
		case !inB:
			cmp.OnlyInA = append(cmp.OnlyInA, ra.FileName)
		case rb.IsDeleted:
			cmp.OnlyInA = append(cmp.OnlyInA, ra.FileName)
		default:
			ha := findLeaf(a.Root, ra.FileName)
			hb := findLeaf(b.Root, ra.FileName)
			if ha != nil && hb != nil && ha.Hash != hb.Hash {
				cmp.Modified = append(cmp.Modified, ra.FileName)
			}
		}
		report()
	}

	aRefs := make(map[string]Ref, len(a.index.refs))
	for _, r := range a.index.refs {
		aRefs[r.FileName] = r
	}
	for _, rb := range b.index.refs {
		if rb.IsDeleted {
			report()
			continue
		}
		ra, inA := aRefs[rb.FileName]
		if !inA || ra.IsDeleted {
			cmp.OnlyInB = append(cmp.OnlyInB, rb.FileName)
		}
		report()
	}

	return cmp
}
