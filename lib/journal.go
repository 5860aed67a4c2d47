package relay

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// JournalFilename is the name of the persisted lock journal, stored in the
// source snapshot directory (spec.md §4.6).
const JournalFilename = ".outstanding_transfers"

// Journal is the persisted set of in-flight (snapshot, destination) locks.
// A lock entry exists iff a transfer of that snapshot to that destination
// was begun and has not been observed to complete successfully (spec.md
// §4.2 invariant 1). The source endpoint is the sole owner of a Journal;
// destinations never touch it.
type Journal struct {
	path    string
	entries map[Snapshot]map[string]struct{}
}

// OpenJournal reads path (typically <snap_dir>/.outstanding_transfers). A
// missing file is treated as an empty journal; a present-but-unparseable
// file returns an error wrapping ErrCorruptJournal.
func OpenJournal(path string) (*Journal, error) {
	j := &Journal{path: path, entries: make(map[Snapshot]map[string]struct{})}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return j, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading journal %s: %w", path, err)
	}
	if len(data) == 0 {
		return j, nil
	}

	var raw map[Snapshot][]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing journal %s: %w", path, ErrCorruptJournal)
	}

	for basename, dests := range raw {
		set := make(map[string]struct{}, len(dests))
		for _, d := range dests {
			set[d] = struct{}{}
		}
		if len(set) > 0 {
			j.entries[basename] = set
		}
	}
	return j, nil
}

// Lock records that a transfer of basename to destKey has begun.
func (j *Journal) Lock(basename Snapshot, destKey string) {
	set, ok := j.entries[basename]
	if !ok {
		set = make(map[string]struct{})
		j.entries[basename] = set
	}
	set[destKey] = struct{}{}
}

// Unlock records that the transfer of basename to destKey completed
// successfully. The entry for basename is removed entirely once its
// destination set is empty.
func (j *Journal) Unlock(basename Snapshot, destKey string) {
	set, ok := j.entries[basename]
	if !ok {
		return
	}
	delete(set, destKey)
	if len(set) == 0 {
		delete(j.entries, basename)
	}
}

// Locked reports whether basename has an open lock against destKey.
func (j *Journal) Locked(basename Snapshot, destKey string) bool {
	set, ok := j.entries[basename]
	if !ok {
		return false
	}
	_, ok = set[destKey]
	return ok
}

// Entries returns the journal's basename -> destination-key-set contents.
// Callers must not mutate the returned maps.
func (j *Journal) Entries() map[Snapshot]map[string]struct{} {
	return j.entries
}

// DestinationKeys returns every destination key that appears in any live
// lock entry, deduplicated, sorted for deterministic iteration. Used by
// the coordinator's --locked-dests expansion (spec.md §4.4 step 2).
func (j *Journal) DestinationKeys() []string {
	seen := make(map[string]struct{})
	for _, dests := range j.entries {
		for d := range dests {
			seen[d] = struct{}{}
		}
	}
	keys := make([]string, 0, len(seen))
	for d := range seen {
		keys = append(keys, d)
	}
	sort.Strings(keys)
	return keys
}

// PinnedSnapshots returns every basename that is a key in a live lock
// entry (spec.md §4.2 invariant 3 / §4.5 pinning rule).
func (j *Journal) PinnedSnapshots() SnapshotSet {
	pinned := make(SnapshotSet, len(j.entries))
	for basename := range j.entries {
		pinned.Add(basename)
	}
	return pinned
}

// Save persists the journal via the write-temp-then-rename pattern: a
// sibling file in the same directory is written and fsynced, then
// renamed over the final path, which is atomic within one directory
// (spec.md §4.6). A crash at any point leaves the file either as the
// pre-image or the post-image, never truncated.
func (j *Journal) Save() error {
	raw := make(map[Snapshot][]string, len(j.entries))
	for basename, set := range j.entries {
		dests := make([]string, 0, len(set))
		for d := range set {
			dests = append(dests, d)
		}
		sort.Strings(dests)
		raw[basename] = dests
	}

	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling journal: %w", err)
	}

	tmpPath := j.path + ".tmp"
	tmp, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("creating journal temp file: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing journal temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("syncing journal temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing journal temp file: %w", err)
	}
	if err := os.Rename(tmpPath, j.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming journal into place: %w", err)
	}
	return nil
}
