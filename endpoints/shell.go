package endpoints

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"filippo.io/age"
	"github.com/gobuffalo/flect"
	"github.com/google/shlex"
	"github.com/klauspost/compress/zstd"
	"github.com/sirupsen/logrus"

	relay "github.com/sloonz/btrfs-relay/lib"
)

var shellLog = logrus.WithFields(logrus.Fields{"endpoint": "shell"})

// Shell implements relay.Receiver as a write-only endpoint piping
// btrfs send output to an arbitrary command (spec.md §4.1: "write-only:
// list() always returns empty, forcing full sends every run, and
// delete() is a no-op"). The destination string's "%DEST%" placeholder
// is expanded to the new basename before the command is tokenized with
// shlex, exactly as the teacher's Options.GetCommand tokenizes shell
// strings (lib/options.go GetCommand).
type Shell struct {
	// CommandTemplate is the raw command string, e.g.
	// "gzip > /mnt/archive/%DEST%.img". "%DEST%" is substituted with
	// the snapshot basename.
	CommandTemplate string

	// Compress, if true, wraps the stream through zstd before handing
	// it to the command's stdin (spec.md Non-goals carve-out:
	// "encryption (the custom-command endpoint may add it)" -- Compress
	// rides along the same opt-in pipeline).
	Compress bool

	// RecipientsFile, if non-empty, age-encrypts the (possibly
	// compressed) stream for the listed recipients before handing it to
	// the command's stdin.
	RecipientsFile string
}

// Key is the endpoint's stable identity: the raw, unexpanded command
// template, since a shell endpoint tracks no on-disk state to key by
// path.
func (s *Shell) Key() string {
	return "shell://" + s.CommandTemplate
}

// List always returns the empty set (spec.md §4.1).
func (s *Shell) List() (relay.SnapshotSet, error) {
	return relay.NewSnapshotSet(), nil
}

// Delete is a no-op (spec.md §4.1).
func (s *Shell) Delete(basename relay.Snapshot) error {
	return nil
}

// WriteOnlyEndpoint marks Shell as implementing relay.WriteOnly.
func (s *Shell) WriteOnlyEndpoint() {}

// Receive tokenizes CommandTemplate (after %DEST% substitution), runs
// it with the send stream as stdin -- optionally compressed and/or
// encrypted first -- and exposes the snapshot's identity to the child
// process via environment variables (spec.md's second Open Question,
// decided yes; SPEC_FULL.md §4.11).
func (s *Shell) Receive(r io.Reader, expected relay.Snapshot) error {
	return s.receive(r, expected, nil)
}

// ReceiveIncremental is the same as Receive but additionally exposes the
// incremental parent's basename (the coordinator calls this instead of
// Receive for every transfer to a ParentAwareReceiver; parent is nil for
// a full send).
func (s *Shell) ReceiveIncremental(r io.Reader, expected relay.Snapshot, parent *relay.Snapshot) error {
	return s.receive(r, expected, parent)
}

func (s *Shell) receive(r io.Reader, expected relay.Snapshot, parent *relay.Snapshot) error {
	expanded := strings.ReplaceAll(s.CommandTemplate, "%DEST%", expected.Name())
	tokens, err := shlex.Split(expanded)
	if err != nil {
		return fmt.Errorf("parsing shell command %q: %w", expanded, err)
	}
	if len(tokens) == 0 {
		return fmt.Errorf("shell endpoint: empty command")
	}

	stream, cleanup, err := s.wrapStream(r)
	if err != nil {
		return err
	}
	defer cleanup()

	cmd := exec.Command(tokens[0], tokens[1:]...)
	cmd.Stdin = stream
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	cmd.Env = append(os.Environ(), s.env(expected, parent)...)

	if err := relay.RunCommand(shellLog, cmd); err != nil {
		return fmt.Errorf("%w: %v", relay.ErrTransferFailed, err)
	}
	return nil
}

func (s *Shell) env(expected relay.Snapshot, parent *relay.Snapshot) []string {
	parentName := ""
	if parent != nil {
		parentName = parent.Name()
	}
	return []string{
		fmt.Sprintf("UBACK_RELAY_%s=%s", flect.New("snapshot").Underscore().ToUpper().String(), expected.Name()),
		fmt.Sprintf("UBACK_RELAY_%s=%s", flect.New("parent").Underscore().ToUpper().String(), parentName),
		fmt.Sprintf("UBACK_RELAY_%s=%s", flect.New("dest").Underscore().ToUpper().String(), s.Key()),
	}
}

// wrapStream applies the optional compress/encrypt pipeline stages in
// order, returning the final reader to hand to the child process and a
// cleanup function. The cleanup function is a no-op: nothing waits for
// the interposed goroutines, which finish once their output has been
// read to the end.
func (s *Shell) wrapStream(r io.Reader) (io.Reader, func(), error) {
	noop := func() {}

	if s.Compress {
		pr, pw := io.Pipe()
		enc, err := zstd.NewWriter(pw)
		if err != nil {
			return nil, noop, fmt.Errorf("initializing zstd writer: %w", err)
		}
		go func() {
			_, err := io.Copy(enc, r)
			if closeErr := enc.Close(); err == nil {
				err = closeErr
			}
			pw.CloseWithError(err)
		}()
		r = pr
	}

	if s.RecipientsFile != "" {
		recipients, err := relay.LoadRecipients(s.RecipientsFile, "")
		if err != nil {
			return nil, noop, fmt.Errorf("loading age recipients: %w", err)
		}

		pr, pw := io.Pipe()
		go func() {
			w, err := age.Encrypt(pw, recipients...)
			if err != nil {
				pw.CloseWithError(err)
				return
			}
			_, err = io.Copy(w, r)
			if closeErr := w.Close(); err == nil {
				err = closeErr
			}
			pw.CloseWithError(err)
		}()
		r = pr
	}

	return r, noop, nil
}
