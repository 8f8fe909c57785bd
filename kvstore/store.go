// Package kvstore provides the narrow key-value surface the tournament state
// lives behind: single-key reads and writes, no transactions. Consistency
// across keys is the caller's responsibility and is validated at startup.
package kvstore

import "context"

type Store interface {
	// Get returns the raw value and whether the key exists at all.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, keys ...string) error
}
