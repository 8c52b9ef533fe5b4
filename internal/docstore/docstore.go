// Package docstore talks to the remote document store over its REST
// interface: create, update (with merge), get, and a location-config
// accessor the Config Subscriber polls. It breaks the Forwarder's
// dependency on a concrete HTTP client by defining the interface the
// client satisfies, per spec.md §9's design note.
package docstore

import "context"

// ServerTimestamp is the sentinel value a document field is set to in
// order to ask the remote store to fill in its own server-side clock
// reading, per spec.md §6 ("must accept server-side timestamp sentinel
// values"). MarshalJSON encodes it as the literal the store recognises.
type ServerTimestamp struct{}

// MarshalJSON implements json.Marshaler.
func (ServerTimestamp) MarshalJSON() ([]byte, error) {
	return []byte(`{"__type__":"server_timestamp"}`), nil
}

// Document is a fetched document: its path and decoded field map.
type Document struct {
	Path   string
	Fields map[string]any
}

// DocumentStore is the remote document store's client-facing contract.
// Satisfied by httpStore.
type DocumentStore interface {
	// Create writes a new document at path. ErrAlreadyExists if one is
	// already there.
	Create(ctx context.Context, path string, doc any) error
	// Update applies patch to the document at path. merge=true leaves
	// unspecified fields untouched; merge=false replaces the document.
	Update(ctx context.Context, path string, patch map[string]any, merge bool) error
	// Get fetches the document at path.
	Get(ctx context.Context, path string) (Document, error)
}
