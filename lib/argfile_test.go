package relay

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestSpliceArgFilesStripsBlankAndCommentLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "args.txt")
	content := "--snapshot-prefix=daily-\n\n# a comment\n  --num-snapshots=5\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	args, err := SpliceArgFiles([]string{"run", "@" + path, "/home"})
	if err != nil {
		t.Fatal(err)
	}

	expected := []string{"run", "--snapshot-prefix=daily-", "--num-snapshots=5", "/home"}
	if !reflect.DeepEqual(args, expected) {
		t.Errorf("expected %v, got %v", expected, args)
	}
}

func TestSpliceArgFilesRecursive(t *testing.T) {
	dir := t.TempDir()
	inner := filepath.Join(dir, "inner.txt")
	outer := filepath.Join(dir, "outer.txt")

	if err := os.WriteFile(inner, []byte("--num-snapshots=5\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(outer, []byte("--snapshot-prefix=daily-\n@"+inner+"\n"), 0644); err != nil {
		t.Fatal(err)
	}

	args, err := SpliceArgFiles([]string{"@" + outer})
	if err != nil {
		t.Fatal(err)
	}

	expected := []string{"--snapshot-prefix=daily-", "--num-snapshots=5"}
	if !reflect.DeepEqual(args, expected) {
		t.Errorf("expected %v, got %v", expected, args)
	}
}

func TestSpliceArgFilesDetectsCycle(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "self.txt")
	if err := os.WriteFile(path, []byte("@"+path+"\n"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := SpliceArgFiles([]string{"@" + path}); err == nil {
		t.Error("expected a cycle error")
	}
}

func TestSpliceArgFilesTemplatesAgainstEnvironment(t *testing.T) {
	t.Setenv("BACKUP_HOST", "nas.example.com")

	dir := t.TempDir()
	path := filepath.Join(dir, "args.txt")
	if err := os.WriteFile(path, []byte("--dest=ssh://{{.BACKUP_HOST}}/srv/backups\n"), 0644); err != nil {
		t.Fatal(err)
	}

	args, err := SpliceArgFiles([]string{"@" + path})
	if err != nil {
		t.Fatal(err)
	}

	expected := []string{"--dest=ssh://nas.example.com/srv/backups"}
	if !reflect.DeepEqual(args, expected) {
		t.Errorf("expected %v, got %v", expected, args)
	}
}

func TestSpliceArgFilesPassesThroughPlainArgs(t *testing.T) {
	args, err := SpliceArgFiles([]string{"run", "--quiet", "/home"})
	if err != nil {
		t.Fatal(err)
	}
	expected := []string{"run", "--quiet", "/home"}
	if !reflect.DeepEqual(args, expected) {
		t.Errorf("expected %v, got %v", expected, args)
	}
}
