package endpoints

import (
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"

	relay "github.com/sloonz/btrfs-relay/lib"
)

// Config carries the run-wide settings that every constructed endpoint
// needs regardless of its kind (spec.md §6's -p flag, plus the
// SSH/shell additions from SPEC_FULL.md §4.9-4.10). The snapshot folder
// (-f) is not part of Config; it is passed to NewSource directly.
type Config struct {
	Prefix string

	SSHOpts     []string
	SSHIdentity string

	ShellCompress       bool
	ShellRecipientsFile string
}

// NewSource builds the relay.Source for the run's positional SOURCE
// argument: an absolute path to the tracked subvolume. snapshotDir is
// the directory (under the same filesystem) where snapshots are kept.
func NewSource(subvolumePath, snapshotDir string, cfg Config) (relay.Source, error) {
	if !path.IsAbs(subvolumePath) {
		return nil, fmt.Errorf("source must be an absolute path, got %q", subvolumePath)
	}
	return NewLocal(subvolumePath, snapshotDir, cfg.Prefix), nil
}

// NewDestination parses one positional DEST argument into a
// relay.Receiver, dispatching on its URI scheme per spec.md §6:
//
//	absolute path      -> Local
//	ssh://[user@]host[:port]/abs/path -> SSH
//	shell://<command>  -> Shell (write-only)
func NewDestination(dest string, cfg Config) (relay.Receiver, error) {
	switch {
	case strings.HasPrefix(dest, "shell://"):
		return &Shell{
			CommandTemplate: dest[len("shell://"):],
			Compress:        cfg.ShellCompress,
			RecipientsFile:  cfg.ShellRecipientsFile,
		}, nil

	case strings.HasPrefix(dest, "ssh://"):
		return newSSHFromURL(dest, cfg)

	default:
		if !path.IsAbs(dest) {
			return nil, fmt.Errorf("local destination must be an absolute path, got %q", dest)
		}
		local := &Local{SnapshotDir: dest, Prefix: cfg.Prefix}
		local.ReceiveCommand = []string{"btrfs", "receive"}
		local.DeleteCommand = []string{"btrfs", "subvolume", "delete"}
		return local, nil
	}
}

func newSSHFromURL(dest string, cfg Config) (relay.Receiver, error) {
	u, err := url.Parse(dest)
	if err != nil {
		return nil, fmt.Errorf("invalid ssh destination %q: %w", dest, err)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("ssh destination %q: missing hostname", dest)
	}

	port := 0
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("ssh destination %q: invalid port: %w", dest, err)
		}
	}

	remotePath := u.Path
	if remotePath == "" {
		remotePath = "/"
	}

	user := ""
	if u.User != nil {
		user = u.User.Username()
	}

	s := NewSSH(user, u.Hostname(), port, remotePath, cfg.Prefix)
	s.Opts = cfg.SSHOpts
	s.Identity = cfg.SSHIdentity
	return s, nil
}

// ResolveByKey reconstructs an endpoint from a destination key as found
// in the lock journal (the Key() of a previously constructed endpoint).
// Used by the coordinator's --locked-dests expansion. Local keys are
// recognized by being absolute paths without a recognized scheme
// prefix; SSH keys round-trip through ssh://; shell keys are always
// rejected, so a shell destination is never re-created from the journal
// and its entries are reported and skipped, as is any other key that
// matches none of these forms (spec.md §4.4 step 2's "unknown keys
// produce a warning and are skipped").
func ResolveByKey(key string, cfg Config) (relay.Receiver, error) {
	switch {
	case strings.HasPrefix(key, "ssh://"):
		return newSSHFromURL(key, cfg)
	case strings.HasPrefix(key, "shell://"):
		return nil, fmt.Errorf("shell destination keys cannot be resolved from the journal alone")
	case !path.IsAbs(key):
		return nil, fmt.Errorf("destination key %q is neither an ssh:// URL nor an absolute path", key)
	default:
		return &Local{SnapshotDir: key, Prefix: cfg.Prefix, ReceiveCommand: []string{"btrfs", "receive"}, DeleteCommand: []string{"btrfs", "subvolume", "delete"}}, nil
	}
}
