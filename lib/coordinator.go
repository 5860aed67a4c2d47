package relay

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// RunOptions bundles the per-run policy flags the coordinator is driven
// by (spec.md §4.4: "an explicit context object bundling policy flags,
// endpoints, and the opened journal; nothing persists in process-global
// storage").
type RunOptions struct {
	SnapshotPrefix string

	CreateSnapshot  bool
	DoTransfer      bool
	LockedDestsOnly bool
	RemoveLocks     bool

	RetainSourceCount      int
	RetainDestinationCount int

	// UsePV interposes a pv(1) process on every send stream for
	// progress reporting.
	UsePV bool
}

// Destination wraps a Receiver endpoint. It carries no retention setting
// of its own: every destination is pruned with
// RunOptions.RetainDestinationCount.
type Destination struct {
	Endpoint Receiver
}

// Result is the outcome of one coordinator run, used by the CLI to pick
// an exit code (spec.md §6: "0 success; 1 one or more transfers failed;
// ... 3 source snapshot creation failed").
type Result struct {
	SnapshotCreateFailed bool
	TransferFailures     int
	Timestamp            Snapshot
}

// Coordinator drives one run over a source endpoint and a fixed set of
// destinations, persisting the lock journal as it goes.
type Coordinator struct {
	Source       Source
	Destinations []Destination
	SnapshotDir  string // used only to build the journal path
	Log          *logrus.Entry
	NewTimestamp func() Snapshot // overridable for tests

	// ResolveDestination constructs a Receiver from a raw destination
	// key found in the lock journal but not among Destinations, for
	// --locked-dests expansion (spec.md §4.4 step 2). May be nil, in
	// which case unresolved keys are only ever warned about.
	ResolveDestination func(key string) (Receiver, error)
}

// Run executes steps 1-7 of spec.md §4.4 against opts. ctx is checked
// between transfers and inside every transfer's stream copy, closing the
// in-flight stream on cancellation (SPEC_FULL.md §5) so a SIGINT/SIGTERM
// leaves the journal's lock entry in place for the next run to retry
// rather than corrupting the destination mid-write.
func (c *Coordinator) Run(ctx context.Context, opts RunOptions) (*Result, error) {
	result := &Result{}
	log := c.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	// Step 1: load lock journal.
	journalPath := c.SnapshotDir + "/" + JournalFilename
	journal, err := OpenJournal(journalPath)
	if err != nil {
		return nil, err
	}

	// Step 2: expand destinations.
	destinations := c.Destinations
	if opts.LockedDestsOnly {
		destinations = c.expandLockedDestinations(journal, destinations, log)
	}

	// Step 3: clean corrupt snapshots.
	if err := c.cleanCorrupt(journal, destinations, opts.RemoveLocks, log); err != nil {
		return nil, err
	}
	if err := journal.Save(); err != nil {
		return nil, fmt.Errorf("persisting journal after cleanup: %w", err)
	}
	if opts.RemoveLocks {
		return result, nil
	}

	// Step 4: create snapshot.
	if opts.CreateSnapshot {
		basename := c.NewTimestamp()
		log.WithField("snapshot", basename).Info("creating snapshot")
		if err := c.Source.CreateSnapshot(basename); err != nil {
			result.SnapshotCreateFailed = true
			return result, fmt.Errorf("creating snapshot %s: %w", basename, err)
		}
		result.Timestamp = basename
	}

	// Steps 5-6: plan and execute transfers.
	if opts.DoTransfer {
		failures, err := c.transferAll(ctx, journal, destinations, opts, log)
		if err != nil {
			return result, err
		}
		result.TransferFailures = failures
	}

	// Step 7: retention.
	if err := c.applyRetention(journal, destinations, opts, log); err != nil {
		log.Warnf("retention pass failed: %v", err)
	}

	return result, nil
}

func (c *Coordinator) expandLockedDestinations(journal *Journal, explicit []Destination, log *logrus.Entry) []Destination {
	byKey := make(map[string]Destination, len(explicit))
	for _, d := range explicit {
		byKey[d.Endpoint.Key()] = d
	}

	expanded := append([]Destination{}, explicit...)
	for _, key := range journal.DestinationKeys() {
		if _, ok := byKey[key]; ok {
			continue
		}
		if c.ResolveDestination == nil {
			log.Warnf("lock journal references unknown destination %q, skipping", key)
			continue
		}
		endpoint, err := c.ResolveDestination(key)
		if err != nil {
			log.Warnf("lock journal references unresolvable destination %q: %v", key, err)
			continue
		}
		expanded = append(expanded, Destination{Endpoint: endpoint})
	}
	return expanded
}

// cleanCorrupt implements step 3: any (basename, destKey) still in the
// journal names a destination snapshot of unknown integrity. Only edges
// whose destKey resolves to one of the endpoints known to this run are
// touched -- an unresolvable destKey is left locked untouched, which is
// what makes --remove-locks against one named destination leave every
// other destination's entries alone (spec.md S6).
//
// removeLocks is true when this run is a plain --remove-locks request:
// the lock entry is always dropped, but the snapshot itself is left
// alone, since §6's flag table promises to "drop every matching lock
// entry without attempting cleanup or retransfer" for that flag.
func (c *Coordinator) cleanCorrupt(journal *Journal, destinations []Destination, removeLocks bool, log *logrus.Entry) error {
	byKey := make(map[string]Receiver, len(destinations))
	for _, d := range destinations {
		byKey[d.Endpoint.Key()] = d.Endpoint
	}

	type edge struct {
		basename Snapshot
		destKey  string
	}
	var edges []edge
	for basename, destKeys := range journal.Entries() {
		for destKey := range destKeys {
			if _, ok := byKey[destKey]; ok {
				edges = append(edges, edge{basename, destKey})
			}
		}
	}

	for _, e := range edges {
		endpoint := byKey[e.destKey]
		set, err := endpoint.List()
		if err != nil {
			log.Warnf("cannot list %s while cleaning corrupt snapshots: %v", e.destKey, err)
			journal.Unlock(e.basename, e.destKey)
			continue
		}
		if set.Contains(e.basename) && !removeLocks {
			log.WithFields(logrus.Fields{"snapshot": e.basename, "dest": e.destKey}).
				Info("deleting corrupt snapshot left by interrupted transfer")
			if err := endpoint.Delete(e.basename); err != nil {
				log.Warnf("cannot delete corrupt snapshot %s at %s: %v", e.basename, e.destKey, err)
			}
		}
		journal.Unlock(e.basename, e.destKey)
	}
	return nil
}

type plannedTransfer struct {
	basename Snapshot
	parent   *Snapshot
	dest     Destination
}

// transferAll implements steps 5-6: per destination, plan and execute
// one basename at a time, persisting the journal around every edge.
func (c *Coordinator) transferAll(ctx context.Context, journal *Journal, destinations []Destination, opts RunOptions, log *logrus.Entry) (int, error) {
	sourceSet, err := c.Source.List()
	if err != nil {
		return 0, fmt.Errorf("listing source: %w", err)
	}

	failures := 0
	for _, dest := range destinations {
		n, err := c.transferToDestination(ctx, journal, sourceSet, dest, opts, log)
		failures += n
		if err != nil {
			return failures, err
		}
	}
	return failures, nil
}

// transferToDestination implements step 5 and step 6 for a single
// destination, interleaved basename by basename: `common` is advanced
// only after a transfer actually succeeds, never while merely planning
// it (spec.md §4.4 step 5, italicized: "after each successful transfer,
// add basename to Common"). Planning the whole backlog up front and
// executing it afterward would instead chain a later send's parent off
// an *earlier planned* basename regardless of whether that earlier
// transfer succeeded -- a failed send in the middle of a backlog would
// then be selected as the parent for everything after it, and that
// parent is never present at the destination to receive against.
func (c *Coordinator) transferToDestination(ctx context.Context, journal *Journal, sourceSet SnapshotSet, dest Destination, opts RunOptions, log *logrus.Entry) (int, error) {
	destSet, err := dest.Endpoint.List()
	if err != nil {
		log.Warnf("cannot plan transfers to %s: %v", dest.Endpoint.Key(), err)
		return 0, nil
	}

	common := sourceSet.Intersect(destSet)
	toSend := sourceSet.Difference(destSet).SortedAscending()

	failures := 0
	for _, basename := range toSend {
		if ctx.Err() != nil {
			log.Warn("cancelled, leaving remaining transfers for the next run")
			return failures, ctx.Err()
		}

		var parent *Snapshot
		if p, ok := common.GreatestBelow(basename); ok {
			parent = &p
		}
		t := plannedTransfer{basename: basename, parent: parent, dest: dest}

		if err := c.executeTransfer(ctx, journal, t, opts.UsePV, log); err != nil {
			failures++
			log.WithFields(logrus.Fields{"snapshot": basename, "dest": dest.Endpoint.Key()}).
				Warnf("transfer failed: %v", err)
			continue
		}
		common.Add(basename)
	}
	return failures, nil
}

// executeTransfer implements step 6 for one (basename, parent, dest)
// edge: lock, stream, unlock.
func (c *Coordinator) executeTransfer(ctx context.Context, journal *Journal, t plannedTransfer, usePV bool, log *logrus.Entry) error {
	destKey := t.dest.Endpoint.Key()

	journal.Lock(t.basename, destKey)
	if err := journal.Save(); err != nil {
		return fmt.Errorf("persisting lock before transfer: %w", err)
	}

	stream, err := c.Source.Send(t.basename, t.parent)
	if err != nil {
		return fmt.Errorf("opening send stream: %w", err)
	}
	stream = InterposePV(log, stream, usePV)
	defer stream.Close()

	cancelled := make(chan struct{})
	defer close(cancelled)
	go func() {
		select {
		case <-ctx.Done():
			stream.Close()
		case <-cancelled:
		}
	}()

	var receiveErr error
	if pa, ok := t.dest.Endpoint.(ParentAwareReceiver); ok {
		receiveErr = pa.ReceiveIncremental(stream, t.basename, t.parent)
	} else {
		receiveErr = t.dest.Endpoint.Receive(stream, t.basename)
	}
	if receiveErr != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, receiveErr)
	}

	journal.Unlock(t.basename, destKey)
	if err := journal.Save(); err != nil {
		return fmt.Errorf("persisting unlock after transfer: %w", err)
	}

	log.WithFields(logrus.Fields{"snapshot": t.basename, "dest": destKey}).Info("transfer complete")
	return nil
}

// applyRetention implements step 7 against the source and every
// destination. A retention count of zero or less keeps every snapshot on
// that side (the CLI's "0 = keep all").
func (c *Coordinator) applyRetention(journal *Journal, destinations []Destination, opts RunOptions, log *logrus.Entry) error {
	sourceSet, err := c.Source.List()
	if err != nil {
		return fmt.Errorf("listing source for retention: %w", err)
	}

	destSets := make(map[string]SnapshotSet, len(destinations))
	for _, d := range destinations {
		set, err := d.Endpoint.List()
		if err != nil {
			log.Warnf("cannot list %s for retention: %v", d.Endpoint.Key(), err)
			continue
		}
		destSets[d.Endpoint.Key()] = set
	}

	sourcePins := SourcePins(sourceSet, journal, destSets)
	if opts.RetainSourceCount > 0 {
		for _, basename := range RetentionPlan(sourceSet, opts.RetainSourceCount, sourcePins) {
			log.WithField("snapshot", basename).Info("deleting source snapshot")
			if err := c.Source.Delete(basename); err != nil {
				log.Warnf("cannot prune source snapshot %s: %v", basename, err)
			}
		}
	}

	for _, d := range destinations {
		destSet, ok := destSets[d.Endpoint.Key()]
		if !ok || opts.RetainDestinationCount <= 0 {
			continue
		}
		pins := DestinationPins(destSet)
		for _, basename := range RetentionPlan(destSet, opts.RetainDestinationCount, pins) {
			log.WithFields(logrus.Fields{"snapshot": basename, "dest": d.Endpoint.Key()}).Info("deleting destination snapshot")
			if err := d.Endpoint.Delete(basename); err != nil {
				log.Warnf("cannot prune snapshot %s at %s: %v", basename, d.Endpoint.Key(), err)
			}
		}
	}
	return nil
}
