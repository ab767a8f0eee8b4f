package idempotency

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "idem.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestReserveCompleteReplay(t *testing.T) {
	s := openTestStore(t)

	rec, reserved, err := s.Reserve("k1", "hash")
	if err != nil || !reserved || rec != nil {
		t.Fatalf("first Reserve = %v, %v, %v", rec, reserved, err)
	}

	rec, reserved, err = s.Reserve("k1", "hash")
	if err != nil || reserved || rec == nil || rec.State != StateInFlight {
		t.Fatalf("in-flight Reserve = %+v, %v, %v", rec, reserved, err)
	}

	if err := s.Complete("k1", 201, "application/json", []byte(`{"id":"x"}`)); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	rec, reserved, err = s.Reserve("k1", "hash")
	if err != nil || reserved {
		t.Fatalf("Reserve after complete = %v, %v", reserved, err)
	}
	if rec.State != StateCompleted || rec.Status != 201 || string(rec.Body) != `{"id":"x"}` || rec.RequestHash != "hash" {
		t.Errorf("record = %+v", rec)
	}
}

func TestRelease(t *testing.T) {
	s := openTestStore(t)
	s.Reserve("k", "h")
	if err := s.Release("k"); err != nil {
		t.Fatal(err)
	}
	if err := s.Release("k"); err != nil {
		t.Fatalf("second Release: %v", err)
	}
	if _, reserved, _ := s.Reserve("k", "h"); !reserved {
		t.Error("key not reservable after release")
	}
}

func TestComplete_Unreserved(t *testing.T) {
	s := openTestStore(t)
	if err := s.Complete("missing", 200, "", nil); !errors.Is(err, ErrNotReserved) {
		t.Errorf("err = %v", err)
	}
}

func TestPrune(t *testing.T) {
	s := openTestStore(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	s.Reserve("old", "h")
	now = now.Add(48 * time.Hour)
	s.Reserve("new", "h")

	n, err := s.Prune(24 * time.Hour)
	if err != nil || n != 1 {
		t.Fatalf("Prune = %d, %v", n, err)
	}
	if _, reserved, _ := s.Reserve("old", "h"); !reserved {
		t.Error("old key survived prune")
	}
	if _, reserved, _ := s.Reserve("new", "h"); reserved {
		t.Error("new key was pruned")
	}
}
