package docstore

import (
	"context"
	"encoding/json"
	"fmt"

	"tagbridge/internal/remoteconfig"
)

// ConfigSource adapts a DocumentStore into remoteconfig.Source, fetching
// the location configuration document the Config Subscriber polls.
type ConfigSource struct {
	store DocumentStore
}

// NewConfigSource returns a remoteconfig.Source backed by store.
func NewConfigSource(store DocumentStore) *ConfigSource {
	return &ConfigSource{store: store}
}

// FetchLocationConfig implements remoteconfig.Source.
func (c *ConfigSource) FetchLocationConfig(ctx context.Context, companyID, location string) (remoteconfig.Snapshot, error) {
	path := fmt.Sprintf("companies/%s/locations/%s", companyID, location)
	doc, err := c.store.Get(ctx, path)
	if err != nil {
		return remoteconfig.Snapshot{}, fmt.Errorf("docstore: fetch location config: %w", err)
	}

	raw, err := json.Marshal(doc.Fields)
	if err != nil {
		return remoteconfig.Snapshot{}, fmt.Errorf("docstore: re-encode location config: %w", err)
	}
	var snap remoteconfig.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return remoteconfig.Snapshot{}, fmt.Errorf("docstore: decode location config: %w", err)
	}
	return snap, nil
}
