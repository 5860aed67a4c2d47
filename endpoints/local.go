package endpoints

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	relay "github.com/sloonz/btrfs-relay/lib"
)

var localLog = logrus.WithFields(logrus.Fields{"endpoint": "local"})

// Local implements relay.Source (when used as the run's source argument)
// and relay.Receiver (when used as a destination) against a directory on
// a mounted btrfs filesystem (spec.md §4.2, §4.1).
type Local struct {
	// SubvolumePath is the tracked subvolume, required only when Local
	// is used as a Source.
	SubvolumePath string

	// SnapshotDir is where read-only snapshots are created/stored. It
	// must lie on the same btrfs filesystem as SubvolumePath (btrfs
	// requires this for snapshots).
	SnapshotDir string

	Prefix string

	SnapshotCommand []string
	SendCommand     []string
	ReceiveCommand  []string
	DeleteCommand   []string
}

// NewLocal builds a Local endpoint rooted at snapshotDir, defaulting its
// command wrappers to the plain btrfs(1) subcommands (teacher's
// sources/btrfs.go, destinations/btrfs.go GetCommand defaulting idiom).
func NewLocal(subvolumePath, snapshotDir, prefix string) *Local {
	return &Local{
		SubvolumePath:   subvolumePath,
		SnapshotDir:     snapshotDir,
		Prefix:          prefix,
		SnapshotCommand: []string{"btrfs", "subvolume", "snapshot"},
		SendCommand:     []string{"btrfs", "send"},
		ReceiveCommand:  []string{"btrfs", "receive"},
		DeleteCommand:   []string{"btrfs", "subvolume", "delete"},
	}
}

// Key is the endpoint's stable identity in the lock journal: its
// absolute snapshot directory path.
func (l *Local) Key() string {
	abs, err := filepath.Abs(l.SnapshotDir)
	if err != nil {
		return l.SnapshotDir
	}
	return abs
}

// List implements relay.Endpoint.
func (l *Local) List() (relay.SnapshotSet, error) {
	entries, err := os.ReadDir(l.SnapshotDir)
	if err != nil {
		if os.IsNotExist(err) {
			return relay.NewSnapshotSet(), nil
		}
		return nil, fmt.Errorf("%w: listing %s: %v", relay.ErrEndpointUnavailable, l.SnapshotDir, err)
	}

	re := relay.BasenameRegexp(l.Prefix)
	set := relay.NewSnapshotSet()
	for _, entry := range entries {
		if !entry.IsDir() || !re.MatchString(entry.Name()) {
			continue
		}
		set.Add(relay.Snapshot(entry.Name()))
	}
	return set, nil
}

// Delete implements relay.Endpoint. Silently succeeds if basename is
// already absent, per spec.md §4.1.
func (l *Local) Delete(basename relay.Snapshot) error {
	path := filepath.Join(l.SnapshotDir, basename.Name())
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	cmd := relay.BuildCommand(l.DeleteCommand, path)
	return relay.RunCommand(localLog, cmd)
}

// CreateSnapshot implements relay.Source.
func (l *Local) CreateSnapshot(basename relay.Snapshot) error {
	path := filepath.Join(l.SnapshotDir, basename.Name())
	if _, err := os.Stat(path); err == nil {
		return relay.ErrSnapshotExists
	}

	if err := os.MkdirAll(l.SnapshotDir, 0777); err != nil {
		return err
	}

	cmd := relay.BuildCommand(l.SnapshotCommand, "-r", l.SubvolumePath, path)
	return relay.RunCommand(localLog, cmd)
}

// Send implements relay.Source. A nil parent issues a full send.
func (l *Local) Send(basename relay.Snapshot, parent *relay.Snapshot) (io.ReadCloser, error) {
	args := append([]string{}, l.SendCommand...)
	if parent != nil {
		args = append(args, "-p", filepath.Join(l.SnapshotDir, parent.Name()))
	}
	args = append(args, filepath.Join(l.SnapshotDir, basename.Name()))

	cmd := relay.BuildCommand(args)
	pr, pw := io.Pipe()
	cmd.Stdout = pw
	if err := relay.StartCommand(localLog, cmd); err != nil {
		pw.Close()
		return nil, err
	}

	go func() {
		pw.CloseWithError(cmd.Wait())
	}()
	return pr, nil
}

// Receive implements relay.Receiver.
func (l *Local) Receive(r io.Reader, expected relay.Snapshot) error {
	if err := os.MkdirAll(l.SnapshotDir, 0777); err != nil {
		return err
	}

	cmd := relay.BuildCommand(l.ReceiveCommand, l.SnapshotDir)
	cmd.Stdin = r
	if err := relay.RunCommand(localLog, cmd); err != nil {
		return fmt.Errorf("%w: %v", relay.ErrTransferFailed, err)
	}
	return nil
}
