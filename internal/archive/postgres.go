package archive

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

const recordColumns = 8

// PostgresWriter writes records to event_archive.events using multi-row INSERT
// inside one transaction per batch.
type PostgresWriter struct {
	db *sql.DB
}

func NewPostgresWriter(db *sql.DB) *PostgresWriter {
	return &PostgresWriter{db: db}
}

func (w *PostgresWriter) WriteBatch(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	query, args := buildInsert(records)
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert events: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (w *PostgresWriter) Close() error {
	return w.db.Close()
}

func buildInsert(records []Record) (string, []interface{}) {
	var sb strings.Builder
	sb.WriteString(`INSERT INTO event_archive.events
		(orderbook_id, sequence, event_type, clock_seq, engine_ts, payload, hash, prev_hash)
		VALUES `)

	args := make([]interface{}, 0, len(records)*recordColumns)
	for i, r := range records {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * recordColumns
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8)
		args = append(args,
			r.OrderbookID, int64(r.Sequence), r.EventType, int64(r.ClockSeq),
			r.Timestamp, string(r.Payload), r.Hash, r.PrevHash,
		)
	}
	sb.WriteString(" ON CONFLICT (orderbook_id, sequence) DO NOTHING")
	return sb.String(), args
}
