package tagevent

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// EventTypeTagInventory is the discriminator value for a reader's tag
// observation. Every other value follows the generic path.
const EventTypeTagInventory = "tagInventory"

// ErrMissingTid is returned when a tagInventory message has no tag ID.
// Callers must drop the message and increment a counter, never crash.
var ErrMissingTid = errors.New("tagevent: tagInventory message missing tid")

type envelope struct {
	EventType string          `json:"event_type"`
	Hostname  *string         `json:"hostname"`
	Tag       json.RawMessage `json:"tag"`
}

type rawTag struct {
	Tid           string   `json:"tid"`
	Epc           string   `json:"epc"`
	Antenna       *int     `json:"antenna"`
	RSSI          *float64 `json:"rssi"`
	HostTimestamp string   `json:"host_timestamp"`
	Lat           *float64 `json:"lat"`
	Lon           *float64 `json:"lon"`
}

// EventType returns the message's discriminator without fully decoding
// the payload, so the Ingestor can route to the tagInventory or generic
// path before doing the more expensive parse.
func EventType(raw []byte) (string, error) {
	var e struct {
		EventType string `json:"event_type"`
	}
	if err := json.Unmarshal(raw, &e); err != nil {
		return "", fmt.Errorf("tagevent: decode envelope: %w", err)
	}
	return e.EventType, nil
}

// ParseTagInventory extracts the nested tag record and outer hostname
// from a tagInventory message. Hostname absence is substituted with
// PlaceholderHostname; tid absence is a hard drop (ErrMissingTid).
func ParseTagInventory(raw []byte, topic string) (TagEvent, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return TagEvent{}, fmt.Errorf("tagevent: decode tagInventory: %w", err)
	}
	if len(env.Tag) == 0 {
		return TagEvent{}, ErrMissingTid
	}

	var tag rawTag
	if err := json.Unmarshal(env.Tag, &tag); err != nil {
		return TagEvent{}, fmt.Errorf("tagevent: decode tag record: %w", err)
	}
	tid := strings.ToLower(strings.TrimSpace(tag.Tid))
	if tid == "" {
		return TagEvent{}, ErrMissingTid
	}

	hostname := PlaceholderHostname
	if env.Hostname != nil && strings.TrimSpace(*env.Hostname) != "" {
		hostname = *env.Hostname
	}

	antenna := 1
	if tag.Antenna != nil && *tag.Antenna >= 1 {
		antenna = *tag.Antenna
	}

	var hostTS time.Time
	if tag.HostTimestamp != "" {
		if ts, err := time.Parse(time.RFC3339Nano, tag.HostTimestamp); err == nil {
			hostTS = ts
		}
	}

	return TagEvent{
		Tid:           tid,
		Epc:           strings.ToLower(strings.TrimSpace(tag.Epc)),
		Hostname:      hostname,
		Antenna:       antenna,
		RSSI:          derefFloat(tag.RSSI),
		HasRSSI:       tag.RSSI != nil,
		HostTimestamp: hostTS,
		Lat:           tag.Lat,
		Lon:           tag.Lon,
		Topic:         topic,
	}, nil
}

// GenericEvent is the fallback normalisation for any event_type other
// than tagInventory: the original payload plus outer hostname, receipt
// instant, and an unread flag.
type GenericEvent struct {
	Hostname        string
	ServerTimestamp time.Time
	Read            bool
	Payload         json.RawMessage
}

// BuildGenericEvent wraps a non-tagInventory message per spec.md §4.E.
func BuildGenericEvent(raw []byte, now time.Time) (GenericEvent, error) {
	var env struct {
		Hostname *string `json:"hostname"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return GenericEvent{}, fmt.Errorf("tagevent: decode generic envelope: %w", err)
	}
	hostname := PlaceholderHostname
	if env.Hostname != nil && strings.TrimSpace(*env.Hostname) != "" {
		hostname = *env.Hostname
	}
	return GenericEvent{
		Hostname:        hostname,
		ServerTimestamp: now,
		Read:            false,
		Payload:         append(json.RawMessage(nil), raw...),
	}, nil
}

func derefFloat(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}
