package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Collection names one logical keyspace in the ledger.
type Collection string

const (
	CollectionWishes Collection = "wishes"
	CollectionLikes  Collection = "likes"
)

var (
	// ErrNotFound reports that no record exists for the key.
	ErrNotFound = errors.New("ledger: record not found")
	// ErrConflict reports that a concurrent commit touched the read set. The
	// transaction had no effect and may be replayed.
	ErrConflict = errors.New("ledger: conflicting concurrent commit")
	// ErrUnavailable reports an infrastructure failure that may clear on retry.
	ErrUnavailable = errors.New("ledger: backing store unavailable")
	// ErrFatal reports a non-retryable failure.
	ErrFatal = errors.New("ledger: fatal store error")
)

// Record is one stored document together with its commit version.
// Version starts at 1 and grows by one on every committed write.
type Record struct {
	Collection Collection
	Key        string
	Version    int64
	Payload    json.RawMessage
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Decode unmarshals the payload into dst.
func (r Record) Decode(dst any) error {
	if err := json.Unmarshal(r.Payload, dst); err != nil {
		return fmt.Errorf("%w: decode %s/%s: %w", ErrFatal, r.Collection, r.Key, err)
	}
	return nil
}

// Reader covers the non-transactional lookups.
type Reader interface {
	Get(ctx context.Context, collection Collection, key string) (Record, error)
	Scan(ctx context.Context, collection Collection) ([]Record, error)
}

// Store is the durable document store with atomic multi-key transactions.
type Store interface {
	Reader
	// Put is an unconditional upsert.
	Put(ctx context.Context, collection Collection, key string, value any) (Record, error)
	// Transact runs fn and commits its writes atomically. Errors returned by fn
	// abort the transaction and are returned unchanged.
	Transact(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the view a transaction function gets of the store. A Put on a key
// previously read through the same Tx only commits if that key is unchanged.
type Tx interface {
	Get(collection Collection, key string) (Record, error)
	Put(collection Collection, key string, value any) error
	// CreateIfAbsent writes value only when the key does not exist and reports
	// whether it did.
	CreateIfAbsent(collection Collection, key string, value any) (bool, error)
}

func encode(collection Collection, key string, value any) ([]byte, error) {
	if key == "" {
		return nil, fmt.Errorf("%w: empty key in %s", ErrFatal, collection)
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("%w: encode %s/%s: %w", ErrFatal, collection, key, err)
	}
	return payload, nil
}

// IsRetryable reports whether err is a Conflict or Unavailable failure.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict) || errors.Is(err, ErrUnavailable)
}
