package relay

// RetentionPlan computes which basenames among all should be deleted,
// given a count-based retention limit and an additional set of pinned
// basenames that must never be deleted regardless of the count (spec.md
// §4.5). A count of zero or less means "no count-based retention" -- only
// pinning applies, and everything not pinned is pruned.
//
// Computation mirrors the spec directly: sort descending, mark the first
// count as retained-by-count, mark every basename in pinned as retained
// regardless of position, delete the rest in ascending order.
func RetentionPlan(all SnapshotSet, count int, pinned SnapshotSet) []Snapshot {
	descending := all.SortedDescending()

	retained := make(SnapshotSet, len(descending))
	if count > 0 {
		for i, b := range descending {
			if i >= count {
				break
			}
			retained.Add(b)
		}
	}
	for b := range pinned {
		retained.Add(b)
	}

	pruned := make([]Snapshot, 0, len(all)-len(retained))
	for _, b := range all.SortedAscending() {
		if !retained.Contains(b) {
			pruned = append(pruned, b)
		}
	}
	return pruned
}

// SourcePins computes the set of source basenames that must survive
// retention regardless of count: every basename that is a key in the
// lock journal, plus the live incremental parent (the greatest common
// basename between source and destination) for every destination
// (spec.md §4.2 invariant 3, §4.5).
func SourcePins(sourceSet SnapshotSet, journal *Journal, destinationSets map[string]SnapshotSet) SnapshotSet {
	pinned := journal.PinnedSnapshots()

	for _, destSet := range destinationSets {
		common := sourceSet.Intersect(destSet)
		if descending := common.SortedDescending(); len(descending) > 0 {
			pinned.Add(descending[0])
		}
	}
	return pinned
}

// DestinationPins computes the set of basenames that must survive
// retention at a single destination: its most recently received
// snapshot, so it always remains available as a future incremental
// parent (spec.md §4.5: "At each destination, pin the most recent
// snapshot at that destination").
func DestinationPins(destSet SnapshotSet) SnapshotSet {
	pinned := make(SnapshotSet)
	if descending := destSet.SortedDescending(); len(descending) > 0 {
		pinned.Add(descending[0])
	}
	return pinned
}
