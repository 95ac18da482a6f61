package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/wishspace-backend/pkg/db"
	"github.com/angelmondragon/wishspace-backend/pkg/db/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type txRunner interface {
	DB() *gorm.DB
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// GormStore persists records in the ledger_records table. Conditional writes
// compare the version read earlier in the same transaction.
type GormStore struct {
	db  txRunner
	now func() time.Time
}

// NewGormStore returns a store bound to the provided database client.
func NewGormStore(client txRunner) *GormStore {
	return &GormStore{
		db:  client,
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (s *GormStore) Get(ctx context.Context, collection Collection, key string) (Record, error) {
	return getRecord(s.db.DB().WithContext(ctx), collection, key)
}

func (s *GormStore) Scan(ctx context.Context, collection Collection) ([]Record, error) {
	var rows []models.LedgerRecord
	if err := s.db.DB().WithContext(ctx).
		Where("collection = ?", string(collection)).
		Order("record_key ASC").
		Find(&rows).Error; err != nil {
		return nil, classify(err)
	}
	out := make([]Record, 0, len(rows))
	for _, row := range rows {
		out = append(out, fromModel(row))
	}
	return out, nil
}

func (s *GormStore) Put(ctx context.Context, collection Collection, key string, value any) (Record, error) {
	payload, err := encode(collection, key, value)
	if err != nil {
		return Record{}, err
	}
	var rec Record
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		if err := upsert(tx, collection, key, payload, s.now()); err != nil {
			return err
		}
		var getErr error
		rec, getErr = getRecord(tx, collection, key)
		return getErr
	})
	if err != nil {
		return Record{}, classify(err)
	}
	return rec, nil
}

func (s *GormStore) Transact(ctx context.Context, fn func(tx Tx) error) error {
	var fnErr error
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		fnErr = fn(&gormTx{db: tx, reads: make(map[recordKey]int64), now: s.now()})
		return fnErr
	})
	if fnErr != nil {
		return fnErr
	}
	return classify(err)
}

type gormTx struct {
	db    *gorm.DB
	reads map[recordKey]int64
	now   time.Time
}

func (t *gormTx) Get(collection Collection, key string) (Record, error) {
	k := recordKey{collection, key}
	rec, err := getRecord(t.db, collection, key)
	switch {
	case err == nil:
		if _, seen := t.reads[k]; !seen {
			t.reads[k] = rec.Version
		}
	case errors.Is(err, ErrNotFound):
		if _, seen := t.reads[k]; !seen {
			t.reads[k] = 0
		}
	}
	return rec, err
}

func (t *gormTx) Put(collection Collection, key string, value any) error {
	payload, err := encode(collection, key, value)
	if err != nil {
		return err
	}
	k := recordKey{collection, key}
	seen, tracked := t.reads[k]
	switch {
	case !tracked:
		return classify(upsert(t.db, collection, key, payload, t.now))
	case seen == 0:
		inserted, err := insertIfAbsent(t.db, collection, key, payload, t.now)
		if err != nil {
			return err
		}
		if !inserted {
			return ErrConflict
		}
		t.reads[k] = 1
		return nil
	default:
		res := t.db.Model(&models.LedgerRecord{}).
			Where("collection = ? AND record_key = ? AND version = ?", string(collection), key, seen).
			Updates(map[string]any{
				"payload":    string(payload),
				"version":    gorm.Expr("version + 1"),
				"updated_at": t.now,
			})
		if res.Error != nil {
			return classify(res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrConflict
		}
		t.reads[k] = seen + 1
		return nil
	}
}

func (t *gormTx) CreateIfAbsent(collection Collection, key string, value any) (bool, error) {
	payload, err := encode(collection, key, value)
	if err != nil {
		return false, err
	}
	inserted, err := insertIfAbsent(t.db, collection, key, payload, t.now)
	if err != nil {
		return false, err
	}
	if inserted {
		t.reads[recordKey{collection, key}] = 1
	}
	return inserted, nil
}

func getRecord(tx *gorm.DB, collection Collection, key string) (Record, error) {
	var row models.LedgerRecord
	err := tx.Where("collection = ? AND record_key = ?", string(collection), key).Take(&row).Error
	if err != nil {
		return Record{}, classify(err)
	}
	return fromModel(row), nil
}

func insertIfAbsent(tx *gorm.DB, collection Collection, key string, payload []byte, now time.Time) (bool, error) {
	row := newModel(collection, key, payload, now)
	res := tx.Clauses(clause.OnConflict{
		Columns:   conflictColumns,
		DoNothing: true,
	}).Create(&row)
	if res.Error != nil {
		return false, classify(res.Error)
	}
	return res.RowsAffected == 1, nil
}

func upsert(tx *gorm.DB, collection Collection, key string, payload []byte, now time.Time) error {
	row := newModel(collection, key, payload, now)
	return tx.Clauses(clause.OnConflict{
		Columns: conflictColumns,
		DoUpdates: clause.Assignments(map[string]any{
			"payload":    string(payload),
			"version":    gorm.Expr("ledger_records.version + 1"),
			"updated_at": now,
		}),
	}).Create(&row).Error
}

var conflictColumns = []clause.Column{{Name: "collection"}, {Name: "record_key"}}

func newModel(collection Collection, key string, payload []byte, now time.Time) models.LedgerRecord {
	return models.LedgerRecord{
		Collection: string(collection),
		RecordKey:  key,
		Version:    1,
		Payload:    string(payload),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func fromModel(row models.LedgerRecord) Record {
	return Record{
		Collection: Collection(row.Collection),
		Key:        row.RecordKey,
		Version:    row.Version,
		Payload:    []byte(row.Payload),
		CreatedAt:  row.CreatedAt,
		UpdatedAt:  row.UpdatedAt,
	}
}

// classify maps driver errors onto the ledger error classes. Errors that are
// already classified, and context errors, pass through unchanged.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrConflict),
		errors.Is(err, ErrUnavailable), errors.Is(err, ErrFatal):
		return err
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case db.IsConflict(err):
		return fmt.Errorf("%w: %w", ErrConflict, err)
	case db.IsUnavailable(err):
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	default:
		return fmt.Errorf("%w: %w", ErrFatal, err)
	}
}
