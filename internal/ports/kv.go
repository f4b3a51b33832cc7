package ports

import "context"

// KV is a small durable key-value capability used for the sync journal
// (last drain time, lifetime counters). Adapters may back it with SQLite
// or any other store.
type KV interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key string, value string) error
	Delete(ctx context.Context, key string) error
}
