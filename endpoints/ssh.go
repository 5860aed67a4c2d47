package endpoints

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	relay "github.com/sloonz/btrfs-relay/lib"
)

var sshLog = logrus.WithFields(logrus.Fields{"endpoint": "ssh"})

// SSH implements relay.Receiver over a remote host reached by invoking
// ssh(1) directly (spec.md §4.3). The system treats ssh as an external
// collaborator: no Go SSH client library is wired in, only process
// invocation, the way the teacher treats btrfs(1).
type SSH struct {
	User     string
	Host     string
	Port     int
	Path     string
	Prefix   string
	Identity string   // -i identity file, optional
	Opts     []string // repeated "-o KEY=VALUE" passthrough

	ReceiveCommand []string
	DeleteCommand  []string
}

// NewSSH builds an SSH endpoint, defaulting its remote command wrappers
// to plain btrfs(1)/ls(1) invocations.
func NewSSH(user, host string, port int, path, prefix string) *SSH {
	return &SSH{
		User:           user,
		Host:           host,
		Port:           port,
		Path:           path,
		Prefix:         prefix,
		ReceiveCommand: []string{"btrfs", "receive"},
		DeleteCommand:  []string{"btrfs", "subvolume", "delete"},
	}
}

func (s *SSH) connectString() string {
	if s.User != "" {
		return s.User + "@" + s.Host
	}
	return s.Host
}

// Key is the endpoint's stable identity: its canonical ssh:// URL
// (spec.md §3: "e.g. ... canonical ssh://user@host/path URL").
func (s *SSH) Key() string {
	userPart := ""
	if s.User != "" {
		userPart = s.User + "@"
	}
	portPart := ""
	if s.Port != 0 {
		portPart = fmt.Sprintf(":%d", s.Port)
	}
	return fmt.Sprintf("ssh://%s%s%s%s", userPart, s.Host, portPart, s.Path)
}

// sshCommand builds the base ssh(1) invocation shared by every
// operation, applying identity file/port/-o options uniformly (spec.md
// §4.3: "SSH options ... are applied uniformly to every invocation for
// a given endpoint"), grounded on original_source/endpoint.py's
// SSHEndpoint._build_ssh_cmd.
func (s *SSH) sshCommand(remoteCmd []string) *exec.Cmd {
	args := []string{}
	if s.Port != 0 {
		args = append(args, "-p", strconv.Itoa(s.Port))
	}
	if s.Identity != "" {
		args = append(args, "-i", s.Identity)
	}
	for _, opt := range s.Opts {
		args = append(args, "-o", opt)
	}
	args = append(args, s.connectString(), "--")
	args = append(args, remoteCmd...)

	cmd := exec.Command("ssh", args...)
	cmd.Stderr = os.Stderr
	return cmd
}

// List implements relay.Endpoint via "ls -1" on the remote path.
func (s *SSH) List() (relay.SnapshotSet, error) {
	cmd := s.sshCommand([]string{"ls", "-1", s.Path})
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%w: listing %s: %v", relay.ErrEndpointUnavailable, s.Key(), err)
	}

	re := relay.BasenameRegexp(s.Prefix)
	set := relay.NewSnapshotSet()
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line != "" && re.MatchString(line) {
			set.Add(relay.Snapshot(line))
		}
	}
	return set, nil
}

// Delete implements relay.Endpoint via a remote "btrfs subvolume
// delete".
func (s *SSH) Delete(basename relay.Snapshot) error {
	remote := append(append([]string{}, s.DeleteCommand...), path.Join(s.Path, basename.Name()))
	cmd := s.sshCommand(remote)
	return relay.RunCommand(sshLog, cmd)
}

// Receive implements relay.Receiver by piping the send stream into a
// remote "btrfs receive".
func (s *SSH) Receive(r io.Reader, expected relay.Snapshot) error {
	remote := append(append([]string{}, s.ReceiveCommand...), s.Path)
	cmd := s.sshCommand(remote)
	cmd.Stdin = r
	if err := relay.RunCommand(sshLog, cmd); err != nil {
		return fmt.Errorf("%w: %v", relay.ErrTransferFailed, err)
	}
	return nil
}
