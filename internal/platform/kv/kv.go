// Package kv provides the key-value persistence collaborator used by the
// ledger store, the sync queue and the notification bus for durability.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrKeyNotFound indicates the key has never been written.
var ErrKeyNotFound = errors.New("kv: key not found")

// Store is the durability contract. Values are opaque JSON blobs.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// LoadJSON reads a key and unmarshals it into dest. A missing key leaves dest
// untouched and returns nil, so callers can start from an empty state.
func LoadJSON(ctx context.Context, s Store, key string, dest any) error {
	raw, err := s.Get(ctx, key)
	if errors.Is(err, ErrKeyNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("kv: load %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("kv: decode %s: %w", key, err)
	}
	return nil
}

// SaveJSON marshals value and writes it under key.
func SaveJSON(ctx context.Context, s Store, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("kv: encode %s: %w", key, err)
	}
	if err := s.Set(ctx, key, raw); err != nil {
		return fmt.Errorf("kv: save %s: %w", key, err)
	}
	return nil
}
