package relay

import (
	"context"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

type fakeSource struct {
	key       string
	snapshots SnapshotSet
	fail      map[Snapshot]bool
}

func newFakeSource(key string) *fakeSource {
	return &fakeSource{key: key, snapshots: NewSnapshotSet(), fail: map[Snapshot]bool{}}
}

func (s *fakeSource) List() (SnapshotSet, error) { return s.snapshots, nil }
func (s *fakeSource) Delete(b Snapshot) error {
	s.snapshots.Remove(b)
	return nil
}
func (s *fakeSource) Key() string { return s.key }
func (s *fakeSource) CreateSnapshot(b Snapshot) error {
	if s.snapshots.Contains(b) {
		return ErrSnapshotExists
	}
	s.snapshots.Add(b)
	return nil
}
func (s *fakeSource) Send(b Snapshot, parent *Snapshot) (io.ReadCloser, error) {
	payload := string(b)
	if parent != nil {
		payload = string(*parent) + ">" + payload
	}
	return io.NopCloser(strings.NewReader(payload)), nil
}

type fakeReceiver struct {
	key       string
	snapshots SnapshotSet
	failNext  bool
}

func newFakeReceiver(key string) *fakeReceiver {
	return &fakeReceiver{key: key, snapshots: NewSnapshotSet()}
}

func (d *fakeReceiver) List() (SnapshotSet, error) { return d.snapshots, nil }
func (d *fakeReceiver) Delete(b Snapshot) error {
	d.snapshots.Remove(b)
	return nil
}
func (d *fakeReceiver) Key() string { return d.key }
func (d *fakeReceiver) Receive(r io.Reader, expected Snapshot) error {
	if d.failNext {
		d.failNext = false
		return fmt.Errorf("simulated transport failure")
	}
	if _, err := io.ReadAll(r); err != nil {
		return err
	}
	d.snapshots.Add(expected)
	return nil
}

func testLog() *logrus.Entry {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(log)
}

func TestCoordinatorFirstRunSingleDestination(t *testing.T) {
	// spec.md S1.
	src := newFakeSource("/home")
	dst := newFakeReceiver("/backup")

	seq := 0
	ts := []Snapshot{"20240115-120000"}

	c := &Coordinator{
		Source:       src,
		Destinations: []Destination{{Endpoint: dst}},
		SnapshotDir:  t.TempDir(),
		Log:          testLog(),
		NewTimestamp: func() Snapshot { s := ts[seq]; seq++; return s },
	}

	result, err := c.Run(context.Background(), RunOptions{CreateSnapshot: true, DoTransfer: true})
	if err != nil {
		t.Fatal(err)
	}
	if result.TransferFailures != 0 {
		t.Errorf("expected no failures, got %d", result.TransferFailures)
	}
	if !dst.snapshots.Contains("20240115-120000") {
		t.Errorf("expected the snapshot to land at the destination, got %v", dst.snapshots)
	}
}

func TestCoordinatorIncrementalRunPicksGreatestParent(t *testing.T) {
	// spec.md S2.
	src := newFakeSource("/home")
	src.snapshots.Add("20240115-120000")
	dst := newFakeReceiver("/backup")
	dst.snapshots.Add("20240115-120000")

	var sent string
	src2 := &recordingSource{fakeSource: src, onSend: func(b Snapshot, parent *Snapshot) {
		if parent != nil {
			sent = string(*parent)
		}
	}}

	c := &Coordinator{
		Source:       src2,
		Destinations: []Destination{{Endpoint: dst}},
		SnapshotDir:  t.TempDir(),
		Log:          testLog(),
		NewTimestamp: func() Snapshot { return "20240115-120100" },
	}

	if _, err := c.Run(context.Background(), RunOptions{CreateSnapshot: true, DoTransfer: true}); err != nil {
		t.Fatal(err)
	}

	if sent != "20240115-120000" {
		t.Errorf("expected parent 20240115-120000, got %q", sent)
	}
	if !dst.snapshots.Contains("20240115-120100") {
		t.Error("expected the new snapshot at the destination")
	}
}

type recordingSource struct {
	*fakeSource
	onSend func(b Snapshot, parent *Snapshot)
}

func (s *recordingSource) Send(b Snapshot, parent *Snapshot) (io.ReadCloser, error) {
	s.onSend(b, parent)
	return s.fakeSource.Send(b, parent)
}

func TestCoordinatorTransferFailureLeavesLock(t *testing.T) {
	// spec.md S3: a destination aborts mid-stream, the lock survives the
	// run and is reported as a failure, but the run itself does not
	// abort early.
	src := newFakeSource("/home")
	dst := newFakeReceiver("ssh://nas/b")
	dst.failNext = true

	snapDir := t.TempDir()
	c := &Coordinator{
		Source:       src,
		Destinations: []Destination{{Endpoint: dst}},
		SnapshotDir:  snapDir,
		Log:          testLog(),
		NewTimestamp: func() Snapshot { return "20240115-120100" },
	}

	result, err := c.Run(context.Background(), RunOptions{CreateSnapshot: true, DoTransfer: true})
	if err != nil {
		t.Fatal(err)
	}
	if result.TransferFailures != 1 {
		t.Errorf("expected one failure, got %d", result.TransferFailures)
	}

	journal, err := OpenJournal(snapDir + "/" + JournalFilename)
	if err != nil {
		t.Fatal(err)
	}
	if !journal.Locked("20240115-120100", "ssh://nas/b") {
		t.Error("expected the failed transfer's lock to remain")
	}
}

func TestCoordinatorRemoveLocksTerminatesEarly(t *testing.T) {
	snapDir := t.TempDir()

	journal, err := OpenJournal(snapDir + "/" + JournalFilename)
	if err != nil {
		t.Fatal(err)
	}
	journal.Lock("X", "/b1")
	journal.Lock("X", "/b2")
	if err := journal.Save(); err != nil {
		t.Fatal(err)
	}

	src := newFakeSource("/home")
	b1 := newFakeReceiver("/b1")
	b1.snapshots.Add("X")

	c := &Coordinator{
		Source:       src,
		Destinations: []Destination{{Endpoint: b1}},
		SnapshotDir:  snapDir,
		Log:          testLog(),
		NewTimestamp: func() Snapshot { t.Fatal("should not create a snapshot"); return "" },
	}

	if _, err := c.Run(context.Background(), RunOptions{RemoveLocks: true}); err != nil {
		t.Fatal(err)
	}

	reloaded, err := OpenJournal(snapDir + "/" + JournalFilename)
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.Locked("X", "/b1") {
		t.Error("expected /b1's lock to be dropped")
	}
	if !reloaded.Locked("X", "/b2") {
		t.Error("expected /b2's lock to survive (not in the explicit destination set)")
	}
	if !b1.snapshots.Contains("X") {
		t.Error("expected the snapshot to survive --remove-locks (no cleanup attempted)")
	}
}
