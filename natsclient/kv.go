package natsclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// KV errors returned by KVStore.
var (
	ErrKVKeyExists     = errors.New("kv: key already exists")
	ErrKVValueTooLarge = errors.New("kv: value too large")
)

// KVOptions bounds KVStore writes.
type KVOptions struct {
	Timeout      time.Duration // per write; zero uses the caller's context as is
	MaxValueSize int           // bytes; zero disables the check
}

// DefaultKVOptions returns the limits NewKVStore starts from.
func DefaultKVOptions() KVOptions {
	return KVOptions{Timeout: 5 * time.Second, MaxValueSize: 1 << 20}
}

// KVStore writes to one bucket with a per-write timeout and a value size limit.
type KVStore struct {
	bucket  jetstream.KeyValue
	options KVOptions
	logger  *slog.Logger
}

// NewKVStore wraps bucket. Each opt adjusts the defaults.
func (m *Client) NewKVStore(bucket jetstream.KeyValue, opts ...func(*KVOptions)) *KVStore {
	o := DefaultKVOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &KVStore{bucket: bucket, options: o, logger: m.logger.With("bucket", bucket.Bucket())}
}

// Put stores value under key, replacing any earlier value.
func (kv *KVStore) Put(ctx context.Context, key string, value []byte) (uint64, error) {
	return kv.write(ctx, "put", key, value, kv.bucket.Put)
}

// Create stores value only if key has no live value. An existing key is
// reported as ErrKVKeyExists.
func (kv *KVStore) Create(ctx context.Context, key string, value []byte) (uint64, error) {
	rev, err := kv.write(ctx, "create", key, value, kv.bucket.Create)
	if err != nil && IsKVConflictError(err) {
		return 0, ErrKVKeyExists
	}
	return rev, err
}

type kvWrite func(ctx context.Context, key string, value []byte) (uint64, error)

func (kv *KVStore) write(ctx context.Context, op, key string, value []byte, fn kvWrite) (uint64, error) {
	if limit := kv.options.MaxValueSize; limit > 0 && len(value) > limit {
		return 0, fmt.Errorf("kv %s %s: %d bytes over the %d byte limit: %w", op, key, len(value), limit, ErrKVValueTooLarge)
	}
	if kv.options.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, kv.options.Timeout)
		defer cancel()
	}
	rev, err := fn(ctx, key, value)
	if err != nil {
		return 0, fmt.Errorf("kv %s %s: %w", op, key, err)
	}
	kv.logger.Debug("KV write", "op", op, "key", key, "revision", rev)
	return rev, nil
}

// IsKVConflictError reports whether err means the key already exists or the
// expected revision did not match. Server errors are matched by code as well
// as by sentinel.
func IsKVConflictError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrKVKeyExists) || errors.Is(err, jetstream.ErrKeyExists) {
		return true
	}
	msg := err.Error()
	for _, marker := range []string{"wrong last sequence", "key exists", "10071", "10058"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
