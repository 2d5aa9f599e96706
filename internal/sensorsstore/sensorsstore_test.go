package sensorsstore

import (
	"math"
	"testing"
	"time"
)

func TestAddAndAverage(t *testing.T) {
	s := New(3)
	now := time.Unix(0, 0)
	s.AddCurrentReading(1, now)
	s.AddCurrentReading(2, now)
	s.AddCurrentReading(3, now)

	if got := s.CurrentAverage(); math.Abs(got-2) > 1e-9 {
		t.Fatalf("CurrentAverage() = %v, want 2", got)
	}
}

func TestEvictsOldestOnOverflow(t *testing.T) {
	s := New(2)
	now := time.Unix(0, 0)
	s.AddCurrentReading(1, now)
	s.AddCurrentReading(2, now)
	s.AddCurrentReading(3, now) // evicts the 1

	if got := s.CurrentAverage(); math.Abs(got-2.5) > 1e-9 {
		t.Fatalf("CurrentAverage() after overflow = %v, want 2.5", got)
	}
	n, _ := s.Len()
	if n != 2 {
		t.Fatalf("Len() current = %d, want 2", n)
	}
}

func TestEmptyWindowAverageIsZero(t *testing.T) {
	s := New(5)
	if got := s.CurrentAverage(); got != 0 {
		t.Fatalf("CurrentAverage() on empty window = %v, want 0", got)
	}
	if got := s.MainsPeakAverage(); got != 0 {
		t.Fatalf("MainsPeakAverage() on empty window = %v, want 0", got)
	}
}

func TestLastUpdateRefreshed(t *testing.T) {
	s := New(5)
	t1 := time.Unix(100, 0)
	s.AddMainsPeakReading(230, t1)
	if got := s.LastUpdate(); !got.Equal(t1) {
		t.Fatalf("LastUpdate() = %v, want %v", got, t1)
	}

	t2 := time.Unix(200, 0)
	s.AddCurrentReading(5, t2)
	if got := s.LastUpdate(); !got.Equal(t2) {
		t.Fatalf("LastUpdate() after second add = %v, want %v", got, t2)
	}
}

func TestWindowsIndependent(t *testing.T) {
	s := New(2)
	now := time.Unix(0, 0)
	s.AddCurrentReading(1, now)
	cLen, mLen := s.Len()
	if cLen != 1 || mLen != 0 {
		t.Fatalf("Len() = (%d, %d), want (1, 0)", cLen, mLen)
	}
}
