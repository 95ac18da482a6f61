package models

import "time"

// LedgerRecord is one versioned document stored in the ledger.
type LedgerRecord struct {
	Collection string    `gorm:"column:collection;type:text;primaryKey"`
	RecordKey  string    `gorm:"column:record_key;type:text;primaryKey"`
	Version    int64     `gorm:"column:version;not null"`
	Payload    string    `gorm:"column:payload;type:jsonb;not null"`
	CreatedAt  time.Time `gorm:"column:created_at;not null"`
	UpdatedAt  time.Time `gorm:"column:updated_at;not null"`
}

func (LedgerRecord) TableName() string {
	return "ledger_records"
}
