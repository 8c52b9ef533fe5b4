package scheduler

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestAddJob_RunsOnInterval(t *testing.T) {
	s, err := New(nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	var runs atomic.Int32
	if err := s.AddJob("tick", 10*time.Millisecond, func() { runs.Add(1) }); err != nil {
		t.Fatalf("AddJob: %v", err)
	}
	s.Start()
	defer s.Stop()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if runs.Load() >= 2 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job ran %d times, want at least 2", runs.Load())
}

func TestAddJob_DuplicateNameFails(t *testing.T) {
	s, _ := New(nil)
	if err := s.AddJob("dup", time.Minute, func() {}); err != nil {
		t.Fatalf("AddJob: %v", err)
	}
	if err := s.AddJob("dup", time.Minute, func() {}); err == nil {
		t.Fatal("AddJob() with duplicate name should fail")
	}
}

func TestRunNow_TriggersOutOfBandRun(t *testing.T) {
	s, _ := New(nil)
	var runs atomic.Int32
	if err := s.AddJob("refresh", time.Hour, func() { runs.Add(1) }); err != nil {
		t.Fatalf("AddJob: %v", err)
	}
	s.Start()
	defer s.Stop()

	if err := s.RunNow("refresh"); err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if runs.Load() >= 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("RunNow did not trigger a run within 1s")
}

func TestRunNow_UnknownJobFails(t *testing.T) {
	s, _ := New(nil)
	if err := s.RunNow("nope"); err == nil {
		t.Fatal("RunNow() for unknown job should fail")
	}
}

func TestRemoveJob_StopsFutureRuns(t *testing.T) {
	s, _ := New(nil)
	if err := s.AddJob("once", 5*time.Millisecond, func() {}); err != nil {
		t.Fatalf("AddJob: %v", err)
	}
	s.RemoveJob("once")
	if s.HasJob("once") {
		t.Fatal("HasJob() true after RemoveJob")
	}
}
