package relay

import "errors"

// Sentinel errors for the coordinator's error handling table. Call sites
// wrap these with fmt.Errorf("...: %w", ErrX) so callers can still
// errors.Is() against the sentinel while getting a useful message.
var (
	// ErrEndpointUnavailable is returned by Endpoint.List when the
	// underlying storage cannot be reached (network down, path missing).
	ErrEndpointUnavailable = errors.New("endpoint unavailable")

	// ErrTransferFailed is returned when a send/receive child process
	// pipeline exits non-zero or a stream closes early.
	ErrTransferFailed = errors.New("transfer failed")

	// ErrSnapshotExists is returned when CreateSnapshot collides with an
	// existing basename (two runs within the same second).
	ErrSnapshotExists = errors.New("snapshot already exists")

	// ErrCorruptJournal is returned when .outstanding_transfers cannot be
	// parsed as JSON.
	ErrCorruptJournal = errors.New("corrupt lock journal")
)
