package relay

import "io"

// Endpoint is the capability set shared by every location that can hold
// snapshots: list what it has, delete a snapshot, and name itself stably
// for the lock journal (spec.md §4.1).
type Endpoint interface {
	// List enumerates basenames matching the endpoint's configured
	// prefix. Returns an error wrapping ErrEndpointUnavailable on I/O
	// failure.
	List() (SnapshotSet, error)

	// Delete removes a snapshot. Silently succeeds if already absent.
	Delete(basename Snapshot) error

	// Key is the stable identity used in the lock journal (e.g. an
	// absolute local path or a canonical ssh://user@host/path URL).
	Key() string
}

// Receiver is an Endpoint that can be a transfer destination.
type Receiver interface {
	Endpoint

	// Receive consumes a byte stream produced by Source.Send and
	// materializes a snapshot named expected. Returns an error wrapping
	// ErrTransferFailed on non-zero exit or closed stream.
	Receive(r io.Reader, expected Snapshot) error
}

// Source is an Endpoint that owns a tracked subvolume: it can create new
// snapshots and produce send streams from existing ones.
type Source interface {
	Endpoint

	// CreateSnapshot creates a read-only snapshot of the tracked
	// subvolume named basename. Returns an error wrapping
	// ErrSnapshotExists on basename collision.
	CreateSnapshot(basename Snapshot) error

	// Send produces a btrfs send stream for basename. A nil parent
	// requests a full (non-incremental) send.
	Send(basename Snapshot, parent *Snapshot) (io.ReadCloser, error)
}

// ParentAwareReceiver is an optional capability: a Receiver that wants
// to know which basename the coordinator picked as the incremental
// parent, even though the stream itself already encodes that
// relationship. The shell endpoint implements this to expose
// UBACK_RELAY_PARENT to its child process (SPEC_FULL.md §4.11). The
// coordinator type-asserts for it and falls back to plain Receive.
type ParentAwareReceiver interface {
	Receiver
	ReceiveIncremental(r io.Reader, expected Snapshot, parent *Snapshot) error
}

// WriteOnly is implemented by endpoints (shell://) whose List always
// returns the empty set and whose Delete is a no-op, so callers that need
// to special-case "this destination never tracks state" don't have to
// probe behavior (spec.md §4.1: "Shell endpoints are write-only... This is
// intentional").
type WriteOnly interface {
	Receiver
	WriteOnlyEndpoint()
}
