package mqtt

import "testing"

func TestConfig_ClientIDFixed(t *testing.T) {
	cfg := Config{ClientIDPrefix: "abc123", Mobile: false}
	if got, want := cfg.clientID(), "abc123-fixed"; got != want {
		t.Errorf("clientID() = %q, want %q", got, want)
	}
}

func TestConfig_ClientIDMobile(t *testing.T) {
	cfg := Config{ClientIDPrefix: "abc123", Mobile: true}
	if got, want := cfg.clientID(), "abc123-mobile"; got != want {
		t.Errorf("clientID() = %q, want %q", got, want)
	}
}

func TestNew_ReturnsNonNilSubscriber(t *testing.T) {
	s := New(Config{
		Host:           "localhost",
		Port:           1883,
		Topic:          "rfid/#",
		ClientIDPrefix: "aaaaaa",
	})
	if s == nil {
		t.Fatal("New returned nil")
	}
	if s.cfg.Topic != "rfid/#" {
		t.Errorf("Topic = %q", s.cfg.Topic)
	}
}
