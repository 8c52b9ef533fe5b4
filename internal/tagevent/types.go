// Package tagevent defines the normalised tag-read data model shared by
// the Ingestor and Forwarder: the wire event, the derived document, and
// the deduplication key.
package tagevent

import (
	"strconv"
	"time"
)

// PlaceholderHostname is substituted when a message's outer hostname
// field is absent. Readers predating firmware version 8 do not stamp
// their hostname; the literal string is intentional and matched by
// downstream reporting.
const PlaceholderHostname = "NoHostUpgradeToVersion8"

// DefaultRetention is the default time a tag document is kept before its
// TTL sentinel expires it in the remote store.
const DefaultRetention = 30 * 24 * time.Hour

// TagEvent is a single normalised observation produced by a reader.
type TagEvent struct {
	Tid           string // hex string, lower-cased, required
	Epc           string // hex string; empty when absent (BuildTagDocument defaults the document's Epc to Tid)
	Hostname      string // reader hostname; placeholder substituted when absent
	Antenna       int    // >= 1, default 1
	RSSI          float64
	HasRSSI       bool
	HostTimestamp time.Time
	Lat           *float64
	Lon           *float64
	Topic         string
}

// Copy returns a deep copy of the event, safe to retain independently of
// the original (the Deduplicator caches the latest event by value and
// must not alias caller-owned pointers).
func (e TagEvent) Copy() TagEvent {
	c := e
	if e.Lat != nil {
		v := *e.Lat
		c.Lat = &v
	}
	if e.Lon != nil {
		v := *e.Lon
		c.Lon = &v
	}
	return c
}

// ProcessContext is process-wide metadata attached to every document
// produced by this Ingestor instance.
type ProcessContext struct {
	Location      string
	CompanyID     string
	FrequencyHz   int64
	TxPowerCdbm   int
	MobileFlag    bool
	RetentionDays int // 0 means DefaultRetention
}

func (c ProcessContext) retention() time.Duration {
	if c.RetentionDays <= 0 {
		return DefaultRetention
	}
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// TagDocument is the normalised record written downstream to the remote
// document store.
type TagDocument struct {
	Tid             string
	Epc             string
	Hostname        string
	AntennaPort     int
	AntennaName     string
	RSSI            float64
	HasRSSI         bool
	HostTimestamp   time.Time
	Lat             *float64
	Lon             *float64
	Topic           string
	Location        string
	CompanyID       string
	FrequencyHz     int64
	TxPowerCdbm     int
	MobileFlag      bool
	ServerTimestamp time.Time
	TTL             time.Time
}

// BuildTagDocument derives a TagDocument from a normalised event, the
// broker topic it arrived on, process-wide context, and the server-side
// receipt instant.
func BuildTagDocument(event TagEvent, topic string, ctx ProcessContext, now time.Time) TagDocument {
	antenna := event.Antenna
	if antenna < 1 {
		antenna = 1
	}

	epc := event.Epc
	if epc == "" {
		epc = event.Tid
	}

	return TagDocument{
		Tid:             event.Tid,
		Epc:             epc,
		Hostname:        event.Hostname,
		AntennaPort:     antenna,
		AntennaName:     strconv.Itoa(antenna),
		RSSI:            event.RSSI,
		HasRSSI:         event.HasRSSI,
		HostTimestamp:   event.HostTimestamp,
		Lat:             event.Lat,
		Lon:             event.Lon,
		Topic:           topic,
		Location:        ctx.Location,
		CompanyID:       ctx.CompanyID,
		FrequencyHz:     ctx.FrequencyHz,
		TxPowerCdbm:     ctx.TxPowerCdbm,
		MobileFlag:      ctx.MobileFlag,
		ServerTimestamp: now,
		TTL:             now.Add(ctx.retention()),
	}
}

// DocumentID returns the idempotency identity of a document: the tuple
// (company_id, tid, host_timestamp, hostname). Two documents with the
// same identity are the same observation and a repeated write to the
// remote store must be a no-op merge, never a duplicate.
func (d TagDocument) DocumentID() string {
	return d.CompanyID + "/" + d.Tid + "/" + d.HostTimestamp.UTC().Format(time.RFC3339Nano) + "/" + d.Hostname
}
