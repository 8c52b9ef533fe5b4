package remoteconfig

import "testing"

func TestStore_ApplyChangesOnRelevantFieldOnly(t *testing.T) {
	s := NewStore()

	if s.Current().Deduplicate {
		t.Fatal("new store should start with Deduplicate=false")
	}

	changed := s.Apply(Snapshot{Deduplicate: true, DeduplicateIntervalMinutes: 5, Reporting: true})
	if !changed {
		t.Fatal("first Apply with different fields should report changed")
	}
	if !s.Current().Deduplicate {
		t.Error("Current() should reflect the applied snapshot")
	}

	changed = s.Apply(Snapshot{Deduplicate: true, DeduplicateIntervalMinutes: 5, Reporting: true})
	if changed {
		t.Error("re-applying an identical snapshot should report unchanged")
	}
}

func TestStore_ListenWakesOnChange(t *testing.T) {
	s := NewStore()
	waiter := s.Listen()

	select {
	case <-waiter:
		t.Fatal("listener should not be woken before Apply")
	default:
	}

	s.Apply(Snapshot{Reporting: true})

	select {
	case <-waiter:
	default:
		t.Fatal("listener should be woken after a changed Apply")
	}
}

func TestStore_ListenNotWokenByNoopApply(t *testing.T) {
	s := NewStore()
	s.Apply(Snapshot{Reporting: true})
	waiter := s.Listen()

	s.Apply(Snapshot{Reporting: true}) // identical, no change

	select {
	case <-waiter:
		t.Fatal("listener should not wake on a no-op Apply")
	default:
	}
}

func TestSnapshot_EffectiveFlagsRespectMobileOverride(t *testing.T) {
	mobileOff := false
	s := Snapshot{Deduplicate: true, Reporting: true, MobileDeduplicate: &mobileOff}

	if !s.EffectiveDeduplicate(false) {
		t.Error("non-mobile should use Deduplicate")
	}
	if s.EffectiveDeduplicate(true) {
		t.Error("mobile should use the override, false")
	}
	if !s.EffectiveReporting(true) {
		t.Error("mobile reporting has no override, should fall back to Reporting")
	}
}
