package endpoints

import (
	"reflect"
	"testing"
)

func TestSSHKeyFormat(t *testing.T) {
	s := NewSSH("user", "nas", 2222, "/srv/backups", "")
	expected := "ssh://user@nas:2222/srv/backups"
	if s.Key() != expected {
		t.Errorf("expected %q, got %q", expected, s.Key())
	}
}

func TestSSHKeyWithoutUserOrPort(t *testing.T) {
	s := NewSSH("", "nas", 0, "/srv/backups", "")
	expected := "ssh://nas/srv/backups"
	if s.Key() != expected {
		t.Errorf("expected %q, got %q", expected, s.Key())
	}
}

func TestSSHCommandAppliesOptsUniformly(t *testing.T) {
	s := NewSSH("user", "nas", 2222, "/srv/backups", "")
	s.Identity = "/home/user/.ssh/id_ed25519"
	s.Opts = []string{"StrictHostKeyChecking=no", "Compression=yes"}

	cmd := s.sshCommand([]string{"btrfs", "receive", "/srv/backups"})

	expectedArgs := []string{
		"ssh",
		"-p", "2222",
		"-i", "/home/user/.ssh/id_ed25519",
		"-o", "StrictHostKeyChecking=no",
		"-o", "Compression=yes",
		"user@nas",
		"--",
		"btrfs", "receive", "/srv/backups",
	}

	if !reflect.DeepEqual(cmd.Args, expectedArgs) {
		t.Errorf("expected %v, got %v", expectedArgs, cmd.Args)
	}
}
