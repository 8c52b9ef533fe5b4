package tagevent

import (
	"testing"
	"time"
)

func TestEventType(t *testing.T) {
	et, err := EventType([]byte(`{"event_type":"tagInventory","tag":{"tid":"ABCD"}}`))
	if err != nil {
		t.Fatalf("EventType: %v", err)
	}
	if et != EventTypeTagInventory {
		t.Errorf("got %q, want %q", et, EventTypeTagInventory)
	}
}

func TestParseTagInventory(t *testing.T) {
	t.Run("lowercases tid and fills defaults", func(t *testing.T) {
		raw := []byte(`{
			"event_type": "tagInventory",
			"hostname": "reader-1",
			"tag": {"tid": "ABCDEF", "host_timestamp": "2026-08-03T10:00:00Z"}
		}`)
		event, err := ParseTagInventory(raw, "readers/reader-1/tags")
		if err != nil {
			t.Fatalf("ParseTagInventory: %v", err)
		}
		if event.Tid != "abcdef" {
			t.Errorf("Tid = %q, want lower-cased", event.Tid)
		}
		if event.Epc != "" {
			t.Errorf("Epc = %q, want empty (defaulted later in BuildTagDocument)", event.Epc)
		}
		if event.Hostname != "reader-1" {
			t.Errorf("Hostname = %q", event.Hostname)
		}
		if event.Antenna != 1 {
			t.Errorf("Antenna = %d, want default 1", event.Antenna)
		}
		if event.HasRSSI {
			t.Error("HasRSSI should be false when rssi absent")
		}
		wantTS := time.Date(2026, 8, 3, 10, 0, 0, 0, time.UTC)
		if !event.HostTimestamp.Equal(wantTS) {
			t.Errorf("HostTimestamp = %v, want %v", event.HostTimestamp, wantTS)
		}
	})

	t.Run("missing hostname substitutes placeholder", func(t *testing.T) {
		raw := []byte(`{"event_type":"tagInventory","tag":{"tid":"1234"}}`)
		event, err := ParseTagInventory(raw, "topic")
		if err != nil {
			t.Fatalf("ParseTagInventory: %v", err)
		}
		if event.Hostname != PlaceholderHostname {
			t.Errorf("Hostname = %q, want placeholder", event.Hostname)
		}
	})

	t.Run("missing tag record is dropped", func(t *testing.T) {
		raw := []byte(`{"event_type":"tagInventory","hostname":"reader-1"}`)
		if _, err := ParseTagInventory(raw, "topic"); err != ErrMissingTid {
			t.Errorf("err = %v, want ErrMissingTid", err)
		}
	})

	t.Run("blank tid is dropped", func(t *testing.T) {
		raw := []byte(`{"event_type":"tagInventory","tag":{"tid":"   "}}`)
		if _, err := ParseTagInventory(raw, "topic"); err != ErrMissingTid {
			t.Errorf("err = %v, want ErrMissingTid", err)
		}
	})

	t.Run("antenna below 1 falls back to default", func(t *testing.T) {
		raw := []byte(`{"event_type":"tagInventory","tag":{"tid":"aa","antenna":0}}`)
		event, err := ParseTagInventory(raw, "topic")
		if err != nil {
			t.Fatalf("ParseTagInventory: %v", err)
		}
		if event.Antenna != 1 {
			t.Errorf("Antenna = %d, want 1", event.Antenna)
		}
	})

	t.Run("rssi present is tracked", func(t *testing.T) {
		raw := []byte(`{"event_type":"tagInventory","tag":{"tid":"aa","rssi":-42.5}}`)
		event, err := ParseTagInventory(raw, "topic")
		if err != nil {
			t.Fatalf("ParseTagInventory: %v", err)
		}
		if !event.HasRSSI || event.RSSI != -42.5 {
			t.Errorf("RSSI = %v HasRSSI = %v, want -42.5/true", event.RSSI, event.HasRSSI)
		}
	})
}

func TestBuildGenericEvent(t *testing.T) {
	now := time.Date(2026, 8, 3, 12, 0, 0, 0, time.UTC)

	t.Run("preserves payload and marks unread", func(t *testing.T) {
		raw := []byte(`{"event_type":"heartbeat","hostname":"reader-2","uptime":123}`)
		ge, err := BuildGenericEvent(raw, now)
		if err != nil {
			t.Fatalf("BuildGenericEvent: %v", err)
		}
		if ge.Hostname != "reader-2" {
			t.Errorf("Hostname = %q", ge.Hostname)
		}
		if ge.Read {
			t.Error("Read should default false")
		}
		if !ge.ServerTimestamp.Equal(now) {
			t.Errorf("ServerTimestamp = %v, want %v", ge.ServerTimestamp, now)
		}
		if string(ge.Payload) != string(raw) {
			t.Error("Payload should retain the original bytes")
		}
	})

	t.Run("missing hostname substitutes placeholder", func(t *testing.T) {
		raw := []byte(`{"event_type":"heartbeat"}`)
		ge, err := BuildGenericEvent(raw, now)
		if err != nil {
			t.Fatalf("BuildGenericEvent: %v", err)
		}
		if ge.Hostname != PlaceholderHostname {
			t.Errorf("Hostname = %q, want placeholder", ge.Hostname)
		}
	})
}
