package archive

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// EventRecord is the gorm model for the development archive
type EventRecord struct {
	OrderbookID string `gorm:"primaryKey"`
	Sequence    uint64 `gorm:"primaryKey;autoIncrement:false"`
	EventType   string `gorm:"index"`
	ClockSeq    uint64
	EngineTs    int64
	Payload     []byte
	Hash        string
	PrevHash    string
	ArchivedAt  time.Time `gorm:"autoCreateTime"`
}

func (EventRecord) TableName() string { return "archived_events" }

// SQLiteWriter is a single-file archive for local runs
type SQLiteWriter struct {
	db *gorm.DB
}

// OpenSQLite opens (or creates) the database at path and migrates the schema.
func OpenSQLite(path string) (*SQLiteWriter, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	if err := db.AutoMigrate(&EventRecord{}); err != nil {
		return nil, fmt.Errorf("migrate sqlite archive: %w", err)
	}
	return &SQLiteWriter{db: db}, nil
}

func (w *SQLiteWriter) WriteBatch(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	rows := make([]EventRecord, len(records))
	for i, r := range records {
		rows[i] = EventRecord{
			OrderbookID: r.OrderbookID,
			Sequence:    r.Sequence,
			EventType:   r.EventType,
			ClockSeq:    r.ClockSeq,
			EngineTs:    r.Timestamp,
			Payload:     r.Payload,
			Hash:        r.Hash,
			PrevHash:    r.PrevHash,
		}
	}
	return w.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(rows, 500).Error
}

// Count returns archived rows for one orderbook
func (w *SQLiteWriter) Count(ctx context.Context, orderbookID string) (int64, error) {
	var n int64
	err := w.db.WithContext(ctx).Model(&EventRecord{}).Where("orderbook_id = ?", orderbookID).Count(&n).Error
	return n, err
}

func (w *SQLiteWriter) Close() error {
	sqlDB, err := w.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
