package relay

import (
	"fmt"
	"regexp"
	"sort"
	"time"
)

// TimeFormat is the layout used to render/parse the timestamp portion of a
// snapshot basename (spec.md §3: "[PREFIX]YYYYMMDD-HHMMSS").
const TimeFormat = "20060102-150405"

// Snapshot is a snapshot basename, e.g. "daily-20240115-120000" for prefix
// "daily-". Textual ordering of basenames sharing a prefix equals their
// temporal ordering (spec.md §3).
type Snapshot string

// Name is part of the RetentionPolicySubject-like shape used throughout lib
// (teacher's lib/utils.go gives Snapshot/Backup the same Name()/Time()
// accessor pair for retention code to stay generic).
func (s Snapshot) Name() string {
	return string(s)
}

// Time parses the basename's timestamp, stripping the given prefix first.
// Returns an error if the basename does not carry the prefix or does not
// parse as a valid timestamp.
func (s Snapshot) Time(prefix string) (time.Time, error) {
	name := string(s)
	if len(name) < len(prefix) || name[:len(prefix)] != prefix {
		return time.Time{}, fmt.Errorf("snapshot %q does not carry prefix %q", name, prefix)
	}
	return time.Parse(TimeFormat, name[len(prefix):])
}

// BasenameRegexp returns a regexp matching valid basenames for the given
// prefix, anchored on both ends.
func BasenameRegexp(prefix string) *regexp.Regexp {
	return regexp.MustCompile(fmt.Sprintf("^%s\\d{8}-\\d{6}$", regexp.QuoteMeta(prefix)))
}

// NewSnapshot builds a basename from a prefix and a point in time.
func NewSnapshot(prefix string, t time.Time) Snapshot {
	return Snapshot(prefix + t.Format(TimeFormat))
}

// SnapshotSet is an unordered set of basenames, as exposed by
// Endpoint.List (spec.md §3: "Duplicates are impossible... order is
// derived on demand").
type SnapshotSet map[Snapshot]struct{}

// NewSnapshotSet builds a set from a slice, deduplicating.
func NewSnapshotSet(basenames ...Snapshot) SnapshotSet {
	s := make(SnapshotSet, len(basenames))
	for _, b := range basenames {
		s[b] = struct{}{}
	}
	return s
}

func (s SnapshotSet) Contains(b Snapshot) bool {
	_, ok := s[b]
	return ok
}

func (s SnapshotSet) Add(b Snapshot) {
	s[b] = struct{}{}
}

func (s SnapshotSet) Remove(b Snapshot) {
	delete(s, b)
}

// Intersect returns the set of basenames present in both s and other.
func (s SnapshotSet) Intersect(other SnapshotSet) SnapshotSet {
	res := make(SnapshotSet)
	for b := range s {
		if other.Contains(b) {
			res.Add(b)
		}
	}
	return res
}

// Difference returns the basenames in s that are not in other.
func (s SnapshotSet) Difference(other SnapshotSet) SnapshotSet {
	res := make(SnapshotSet)
	for b := range s {
		if !other.Contains(b) {
			res.Add(b)
		}
	}
	return res
}

// SortedAscending returns the set's basenames, lexicographically sorted.
func (s SnapshotSet) SortedAscending() []Snapshot {
	res := make([]Snapshot, 0, len(s))
	for b := range s {
		res = append(res, b)
	}
	sort.Slice(res, func(i, j int) bool { return res[i] < res[j] })
	return res
}

// SortedDescending returns the set's basenames, reverse lexicographically
// sorted (most recent first).
func (s SnapshotSet) SortedDescending() []Snapshot {
	res := s.SortedAscending()
	for i, j := 0, len(res)-1; i < j; i, j = i+1, j-1 {
		res[i], res[j] = res[j], res[i]
	}
	return res
}

// GreatestBelow returns the lexicographically greatest basename in s that
// is strictly less than cutoff, and whether one was found. Used by the
// coordinator to pick the incremental parent (spec.md §3: "the
// lexicographically greatest basename... that is strictly less than S").
func (s SnapshotSet) GreatestBelow(cutoff Snapshot) (Snapshot, bool) {
	var best Snapshot
	found := false
	for b := range s {
		if b < cutoff && (!found || b > best) {
			best = b
			found = true
		}
	}
	return best, found
}
