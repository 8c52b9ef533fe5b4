package dedup

import (
	"sync"
	"testing"
	"time"

	"tagbridge/internal/tagevent"
)

func event(tid string) tagevent.TagEvent {
	return tagevent.TagEvent{Tid: tid}
}

// reportCollector gathers delayed reports for assertion, safe for
// concurrent use from timer goroutines.
type reportCollector struct {
	mu      sync.Mutex
	reports []tagevent.TagEvent
	keys    []string
}

func (c *reportCollector) onReport(key string, e tagevent.TagEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keys = append(c.keys, key)
	c.reports = append(c.reports, e)
}

func (c *reportCollector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.reports)
}

func (c *reportCollector) last() tagevent.TagEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reports[len(c.reports)-1]
}

func waitForCount(t *testing.T, c *reportCollector, n int, within time.Duration) {
	t.Helper()
	deadline := time.Now().Add(within)
	for time.Now().Before(deadline) {
		if c.count() >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d reports, got %d", n, c.count())
}

// S1 — first detection: miss path admits immediately, one active key.
func TestAdmit_MissPathForwardsImmediately(t *testing.T) {
	d := New()
	d.SetInterval(50 * time.Millisecond)

	ok := d.Admit("g:ABC123", event("abc123"), time.Now())
	if !ok {
		t.Fatal("first admission of a key must return true")
	}
	if s := d.Stats(); s.ActiveKeys != 1 || s.ActiveTimers != 1 {
		t.Fatalf("stats = %+v, want 1 active key and timer", s)
	}
	d.Cleanup()
}

// S2 — suppression inside window, followed by exactly one delayed
// report carrying the most recent event.
func TestAdmit_HitPathSuppressesAndReportsLatest(t *testing.T) {
	d := New()
	d.SetInterval(20 * time.Millisecond)
	var c reportCollector
	d.SetOnDelayedReport(c.onReport)

	now := time.Now()
	if !d.Admit("g:abc", event("abc"), now) {
		t.Fatal("first admit should forward")
	}
	if d.Admit("g:abc", event("abc"), now.Add(5*time.Millisecond)) {
		t.Fatal("second admit within window must suppress")
	}
	latest := event("abc")
	latest.Epc = "second"
	if d.Admit("g:abc", latest, now.Add(8*time.Millisecond)) {
		t.Fatal("third admit within window must suppress")
	}

	waitForCount(t, &c, 1, time.Second)
	if c.last().Epc != "second" {
		t.Errorf("delayed report carried %+v, want the most recent event", c.last())
	}
	if s := d.Stats(); s.ActiveKeys != 0 {
		t.Errorf("stats = %+v, want entry removed after fire", s)
	}
}

// S3 — two consecutive windows for the same key each produce their own
// delayed report.
func TestAdmit_TwoWindowsEachReportOnce(t *testing.T) {
	d := New()
	d.SetInterval(15 * time.Millisecond)
	var c reportCollector
	d.SetOnDelayedReport(c.onReport)

	now := time.Now()
	d.Admit("g:xyz", event("xyz"), now) // window 1 opens

	waitForCount(t, &c, 1, time.Second) // window 1 closes

	last := event("xyz")
	last.Epc = "window2"
	if !d.Admit("g:xyz", last, time.Now()) {
		t.Fatal("admit after previous window closed is a fresh miss and must forward")
	}
	waitForCount(t, &c, 2, time.Second)
	if c.last().Epc != "window2" {
		t.Errorf("second window report = %+v", c.last())
	}
}

// Invariant 2: a key's window is fixed at creation; hits never extend it.
func TestAdmit_WindowNotExtendedByHits(t *testing.T) {
	d := New()
	d.SetInterval(30 * time.Millisecond)
	var c reportCollector
	d.SetOnDelayedReport(c.onReport)

	start := time.Now()
	d.Admit("g:k", event("k"), start)

	stop := time.NewTimer(25 * time.Millisecond)
	tick := time.NewTicker(5 * time.Millisecond)
	defer tick.Stop()
loop:
	for {
		select {
		case <-stop.C:
			break loop
		case <-tick.C:
			d.Admit("g:k", event("k"), time.Now())
		}
	}

	waitForCount(t, &c, 1, 200*time.Millisecond)
	elapsed := time.Since(start)
	if elapsed > 80*time.Millisecond {
		t.Errorf("report fired after %v, window should have closed near the original 30ms", elapsed)
	}
}

// SetInterval affects only keys created after the change (Open Question
// 2, resolved): an in-flight entry keeps its original, longer interval.
func TestSetInterval_AffectsOnlyNewKeys(t *testing.T) {
	d := New()
	d.SetInterval(200 * time.Millisecond)
	var c reportCollector
	d.SetOnDelayedReport(c.onReport)

	d.Admit("g:old", event("old"), time.Now())
	d.SetInterval(10 * time.Millisecond)
	d.Admit("g:new", event("new"), time.Now())

	waitForCount(t, &c, 1, time.Second)
	if c.last().Tid != "new" {
		t.Fatalf("expected the short-interval key to fire first, got %q", c.last().Tid)
	}
	if n := c.count(); n != 1 {
		t.Fatalf("old key fired too early: report count = %d", n)
	}

	waitForCount(t, &c, 2, time.Second)
	if c.last().Tid != "old" {
		t.Errorf("expected old key's eventual report, got %q", c.last().Tid)
	}
}

// Invariant 4: Cleanup cancels every timer and no callback fires after
// it returns.
func TestCleanup_NoCallbackAfterReturn(t *testing.T) {
	d := New()
	d.SetInterval(5 * time.Millisecond)
	var c reportCollector
	d.SetOnDelayedReport(c.onReport)

	d.Admit("g:a", event("a"), time.Now())
	d.Admit("g:b", event("b"), time.Now())
	d.Cleanup()

	if s := d.Stats(); s.ActiveKeys != 0 || s.ActiveTimers != 0 {
		t.Fatalf("stats = %+v, want empty after Cleanup", s)
	}

	time.Sleep(50 * time.Millisecond)
	if n := c.count(); n != 0 {
		t.Errorf("report fired %d times after Cleanup, want 0", n)
	}
}

func TestStats_TracksActiveCounts(t *testing.T) {
	d := New()
	d.SetInterval(time.Hour)

	d.Admit("g:1", event("1"), time.Now())
	d.Admit("g:2", event("2"), time.Now())
	if s := d.Stats(); s.ActiveKeys != 2 || s.ActiveTimers != 2 {
		t.Fatalf("stats = %+v, want 2/2", s)
	}
	d.Cleanup()
}
