package relay

import (
	"reflect"
	"testing"
	"time"
)

func TestSnapshotTime(t *testing.T) {
	s := Snapshot("daily-20240115-120000")

	ts, err := s.Time("daily-")
	if err != nil {
		t.Fatal(err)
	}

	expected := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	if !ts.Equal(expected) {
		t.Errorf("expected %v, got %v", expected, ts)
	}
}

func TestSnapshotTimeWrongPrefix(t *testing.T) {
	s := Snapshot("daily-20240115-120000")
	if _, err := s.Time("weekly-"); err == nil {
		t.Error("expected an error for a mismatched prefix")
	}
}

func TestNewSnapshotOrderingMatchesTime(t *testing.T) {
	earlier := NewSnapshot("", time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC))
	later := NewSnapshot("", time.Date(2024, 1, 15, 12, 1, 0, 0, time.UTC))

	if !(earlier < later) {
		t.Errorf("expected %v < %v", earlier, later)
	}
}

func TestBasenameRegexp(t *testing.T) {
	re := BasenameRegexp("daily-")

	if !re.MatchString("daily-20240115-120000") {
		t.Error("expected a match")
	}
	if re.MatchString("weekly-20240115-120000") {
		t.Error("expected no match across prefixes")
	}
	if re.MatchString("daily-20240115-120000-extra") {
		t.Error("expected the regexp to be anchored")
	}
}

func TestSnapshotSetIntersectAndDifference(t *testing.T) {
	a := NewSnapshotSet("A", "B", "C")
	b := NewSnapshotSet("B", "C", "D")

	inter := a.Intersect(b)
	if !reflect.DeepEqual(inter, NewSnapshotSet("B", "C")) {
		t.Errorf("unexpected intersection: %v", inter)
	}

	diff := a.Difference(b)
	if !reflect.DeepEqual(diff, NewSnapshotSet("A")) {
		t.Errorf("unexpected difference: %v", diff)
	}
}

func TestSnapshotSetSorting(t *testing.T) {
	s := NewSnapshotSet("C", "A", "B")

	asc := s.SortedAscending()
	if !reflect.DeepEqual(asc, []Snapshot{"A", "B", "C"}) {
		t.Errorf("unexpected ascending order: %v", asc)
	}

	desc := s.SortedDescending()
	if !reflect.DeepEqual(desc, []Snapshot{"C", "B", "A"}) {
		t.Errorf("unexpected descending order: %v", desc)
	}
}

func TestSnapshotSetGreatestBelow(t *testing.T) {
	s := NewSnapshotSet("A", "B", "D")

	got, ok := s.GreatestBelow("C")
	if !ok || got != "B" {
		t.Errorf("expected B, got %v (ok=%v)", got, ok)
	}

	_, ok = s.GreatestBelow("A")
	if ok {
		t.Error("expected no basename strictly below the minimum")
	}
}
