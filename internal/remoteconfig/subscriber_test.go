package remoteconfig

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type fakeSource struct {
	calls   atomic.Int32
	snap    Snapshot
	failing atomic.Bool
}

func (f *fakeSource) FetchLocationConfig(ctx context.Context, companyID, location string) (Snapshot, error) {
	f.calls.Add(1)
	if f.failing.Load() {
		return Snapshot{}, errors.New("unreachable")
	}
	return f.snap, nil
}

func TestSubscriber_AppliesSuccessfulFetches(t *testing.T) {
	src := &fakeSource{snap: Snapshot{Deduplicate: true}}
	store := NewStore()
	sub := NewSubscriber(src, store, "co", "loc", 5*time.Millisecond, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	sub.Run(ctx)

	if !store.Current().Deduplicate {
		t.Error("store should reflect the fetched snapshot")
	}
	if src.calls.Load() == 0 {
		t.Error("source should have been polled at least once")
	}
}

func TestSubscriber_KeepsLastKnownGoodOnFetchError(t *testing.T) {
	src := &fakeSource{snap: Snapshot{Reporting: true}}
	store := NewStore()
	sub := NewSubscriber(src, store, "co", "loc", 5*time.Millisecond, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	sub.Run(ctx)
	cancel()

	if !store.Current().Reporting {
		t.Fatal("setup: expected the first good snapshot to be applied")
	}

	src.failing.Store(true)
	ctx2, cancel2 := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel2()
	sub.Run(ctx2)

	if !store.Current().Reporting {
		t.Error("store should still report the last known good snapshot despite fetch errors")
	}
}
