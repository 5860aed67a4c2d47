package endpoints

import (
	"testing"

	relay "github.com/sloonz/btrfs-relay/lib"
)

func TestShellIsWriteOnly(t *testing.T) {
	s := &Shell{CommandTemplate: "cat > /dev/null"}

	set, err := s.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(set) != 0 {
		t.Errorf("expected an empty list, got %v", set)
	}

	if err := s.Delete("anything"); err != nil {
		t.Errorf("expected Delete to be a no-op, got %v", err)
	}
}

func TestShellKeyIncludesCommandTemplate(t *testing.T) {
	s := &Shell{CommandTemplate: "gzip > /mnt/archive/%DEST%.img"}
	expected := "shell://gzip > /mnt/archive/%DEST%.img"
	if s.Key() != expected {
		t.Errorf("expected %q, got %q", expected, s.Key())
	}
}

func TestShellEnvNamesFollowFlectConvention(t *testing.T) {
	s := &Shell{}
	parent := relay.Snapshot("daily-20240115-120000")
	env := s.env("daily-20240115-120100", &parent)

	expected := []string{
		"UBACK_RELAY_SNAPSHOT=daily-20240115-120100",
		"UBACK_RELAY_PARENT=daily-20240115-120000",
		"UBACK_RELAY_DEST=shell://",
	}
	for i, e := range expected {
		if env[i] != e {
			t.Errorf("env[%d]: expected %q, got %q", i, e, env[i])
		}
	}
}

func TestShellEnvEmptyParentForFullSend(t *testing.T) {
	s := &Shell{}
	env := s.env("daily-20240115-120000", nil)

	if env[1] != "UBACK_RELAY_PARENT=" {
		t.Errorf("expected an empty parent variable, got %q", env[1])
	}
}

func TestShellReceiveRejectsEmptyCommand(t *testing.T) {
	s := &Shell{CommandTemplate: "   "}
	if err := s.Receive(nil, "X"); err == nil {
		t.Error("expected an error for an empty command template")
	}
}
