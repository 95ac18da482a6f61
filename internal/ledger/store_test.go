package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/wishspace-backend/pkg/db"
	"github.com/angelmondragon/wishspace-backend/pkg/db/models"
)

type counterDoc struct {
	Count int `json:"count"`
}

func newSQLiteStore(t *testing.T) *GormStore {
	t.Helper()
	dsn := fmt.Sprintf("file:ledger_%s?mode=memory&cache=shared", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, conn.AutoMigrate(&models.LedgerRecord{}))
	return NewGormStore(db.NewFromGorm(conn))
}

func storeFactories() map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemoryStore() },
		"sqlite": func(t *testing.T) Store { return newSQLiteStore(t) },
	}
}

func TestStoreGetPutScan(t *testing.T) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := factory(t)

			_, err := store.Get(ctx, CollectionWishes, "w1")
			require.ErrorIs(t, err, ErrNotFound)

			rec, err := store.Put(ctx, CollectionWishes, "w1", counterDoc{Count: 1})
			require.NoError(t, err)
			assert.Equal(t, int64(1), rec.Version)
			assert.Equal(t, "w1", rec.Key)

			rec, err = store.Put(ctx, CollectionWishes, "w1", counterDoc{Count: 2})
			require.NoError(t, err)
			assert.Equal(t, int64(2), rec.Version)

			got, err := store.Get(ctx, CollectionWishes, "w1")
			require.NoError(t, err)
			var doc counterDoc
			require.NoError(t, got.Decode(&doc))
			assert.Equal(t, 2, doc.Count)
			assert.Equal(t, int64(2), got.Version)

			_, err = store.Put(ctx, CollectionLikes, "w1_u1", counterDoc{})
			require.NoError(t, err)
			_, err = store.Put(ctx, CollectionWishes, "w0", counterDoc{})
			require.NoError(t, err)

			wishes, err := store.Scan(ctx, CollectionWishes)
			require.NoError(t, err)
			require.Len(t, wishes, 2)
			assert.Equal(t, "w0", wishes[0].Key)
			assert.Equal(t, "w1", wishes[1].Key)

			likes, err := store.Scan(ctx, CollectionLikes)
			require.NoError(t, err)
			require.Len(t, likes, 1)
		})
	}
}

func TestStoreTransactCommitsAtomically(t *testing.T) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := factory(t)
			_, err := store.Put(ctx, CollectionWishes, "w1", counterDoc{})
			require.NoError(t, err)

			err = store.Transact(ctx, func(tx Tx) error {
				rec, err := tx.Get(CollectionWishes, "w1")
				if err != nil {
					return err
				}
				var doc counterDoc
				if err := rec.Decode(&doc); err != nil {
					return err
				}
				created, err := tx.CreateIfAbsent(CollectionLikes, "w1_u1", map[string]string{"userId": "u1"})
				if err != nil {
					return err
				}
				if !created {
					return errors.New("expected create")
				}
				doc.Count++
				return tx.Put(CollectionWishes, "w1", doc)
			})
			require.NoError(t, err)

			rec, err := store.Get(ctx, CollectionWishes, "w1")
			require.NoError(t, err)
			assert.Equal(t, int64(2), rec.Version)
			var doc counterDoc
			require.NoError(t, rec.Decode(&doc))
			assert.Equal(t, 1, doc.Count)

			like, err := store.Get(ctx, CollectionLikes, "w1_u1")
			require.NoError(t, err)
			assert.Equal(t, int64(1), like.Version)
		})
	}
}

func TestStoreTransactRollsBackOnError(t *testing.T) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := factory(t)
			boom := errors.New("boom")

			err := store.Transact(ctx, func(tx Tx) error {
				if _, err := tx.CreateIfAbsent(CollectionLikes, "w1_u1", counterDoc{}); err != nil {
					return err
				}
				if err := tx.Put(CollectionWishes, "w1", counterDoc{Count: 9}); err != nil {
					return err
				}
				return boom
			})
			require.ErrorIs(t, err, boom)

			_, err = store.Get(ctx, CollectionLikes, "w1_u1")
			require.ErrorIs(t, err, ErrNotFound)
			_, err = store.Get(ctx, CollectionWishes, "w1")
			require.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStoreCreateIfAbsentReportsExisting(t *testing.T) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := factory(t)
			_, err := store.Put(ctx, CollectionLikes, "w1_u1", counterDoc{})
			require.NoError(t, err)

			var created bool
			err = store.Transact(ctx, func(tx Tx) error {
				var err error
				created, err = tx.CreateIfAbsent(CollectionLikes, "w1_u1", counterDoc{Count: 5})
				return err
			})
			require.NoError(t, err)
			assert.False(t, created)

			rec, err := store.Get(ctx, CollectionLikes, "w1_u1")
			require.NoError(t, err)
			assert.Equal(t, int64(1), rec.Version)
		})
	}
}

func TestStoreConcurrentIncrementsNeverLoseUpdates(t *testing.T) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := factory(t)
			_, err := store.Put(ctx, CollectionWishes, "w1", counterDoc{})
			require.NoError(t, err)

			const workers = 16
			var wg sync.WaitGroup
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for {
						err := store.Transact(ctx, func(tx Tx) error {
							rec, err := tx.Get(CollectionWishes, "w1")
							if err != nil {
								return err
							}
							var doc counterDoc
							if err := rec.Decode(&doc); err != nil {
								return err
							}
							doc.Count++
							return tx.Put(CollectionWishes, "w1", doc)
						})
						if errors.Is(err, ErrConflict) {
							continue
						}
						assert.NoError(t, err)
						return
					}
				}()
			}
			wg.Wait()

			rec, err := store.Get(ctx, CollectionWishes, "w1")
			require.NoError(t, err)
			var doc counterDoc
			require.NoError(t, rec.Decode(&doc))
			assert.Equal(t, workers, doc.Count)
			assert.Equal(t, int64(workers+1), rec.Version)
		})
	}
}

func TestMemoryStoreDetectsConcurrentWrite(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	_, err := store.Put(ctx, CollectionWishes, "w1", counterDoc{})
	require.NoError(t, err)

	err = store.Transact(ctx, func(tx Tx) error {
		if _, err := tx.Get(CollectionWishes, "w1"); err != nil {
			return err
		}
		if _, err := store.Put(ctx, CollectionWishes, "w1", counterDoc{Count: 100}); err != nil {
			return err
		}
		return tx.Put(CollectionWishes, "w1", counterDoc{Count: 1})
	})
	require.ErrorIs(t, err, ErrConflict)

	rec, err := store.Get(ctx, CollectionWishes, "w1")
	require.NoError(t, err)
	var doc counterDoc
	require.NoError(t, rec.Decode(&doc))
	assert.Equal(t, 100, doc.Count)
}

func TestMemoryStoreDetectsConcurrentCreate(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	err := store.Transact(ctx, func(tx Tx) error {
		created, err := tx.CreateIfAbsent(CollectionLikes, "w1_u1", counterDoc{})
		if err != nil || !created {
			return fmt.Errorf("create: %v %v", created, err)
		}
		_, err = store.Put(ctx, CollectionLikes, "w1_u1", counterDoc{Count: 1})
		return err
	})
	require.ErrorIs(t, err, ErrConflict)
}

func TestMemoryTxReadsOwnWrites(t *testing.T) {
	store := NewMemoryStore()
	err := store.Transact(context.Background(), func(tx Tx) error {
		if err := tx.Put(CollectionWishes, "w1", counterDoc{Count: 3}); err != nil {
			return err
		}
		rec, err := tx.Get(CollectionWishes, "w1")
		if err != nil {
			return err
		}
		var doc counterDoc
		if err := rec.Decode(&doc); err != nil {
			return err
		}
		if doc.Count != 3 {
			return fmt.Errorf("expected own write, got %d", doc.Count)
		}
		return nil
	})
	require.NoError(t, err)
}

func TestGormTxStaleVersionConflicts(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteStore(t)
	_, err := store.Put(ctx, CollectionWishes, "w1", counterDoc{})
	require.NoError(t, err)
	_, err = store.Put(ctx, CollectionWishes, "w1", counterDoc{Count: 1})
	require.NoError(t, err)

	err = store.Transact(ctx, func(tx Tx) error {
		gtx := tx.(*gormTx)
		gtx.reads[recordKey{CollectionWishes, "w1"}] = 1
		return tx.Put(CollectionWishes, "w1", counterDoc{Count: 50})
	})
	require.ErrorIs(t, err, ErrConflict)

	err = store.Transact(ctx, func(tx Tx) error {
		gtx := tx.(*gormTx)
		gtx.reads[recordKey{CollectionWishes, "w1"}] = 0
		return tx.Put(CollectionWishes, "w1", counterDoc{Count: 50})
	})
	require.ErrorIs(t, err, ErrConflict)

	rec, err := store.Get(ctx, CollectionWishes, "w1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), rec.Version)
}

func TestEncodeRejectsBadInput(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.Put(context.Background(), CollectionWishes, "", counterDoc{})
	require.ErrorIs(t, err, ErrFatal)

	_, err = store.Put(context.Background(), CollectionWishes, "w1", map[string]any{"bad": make(chan int)})
	require.ErrorIs(t, err, ErrFatal)
}

func TestClassify(t *testing.T) {
	assert.NoError(t, classify(nil))
	assert.ErrorIs(t, classify(gorm.ErrRecordNotFound), ErrNotFound)
	assert.ErrorIs(t, classify(errors.New("database is locked")), ErrConflict)
	assert.ErrorIs(t, classify(fmt.Errorf("dial: %w", context.DeadlineExceeded)), ErrUnavailable)
	assert.ErrorIs(t, classify(errors.New("syntax error")), ErrFatal)
	assert.Equal(t, context.Canceled, classify(context.Canceled))

	wrapped := fmt.Errorf("%w: x", ErrConflict)
	assert.Equal(t, wrapped, classify(wrapped))
}
