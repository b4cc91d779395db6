// Package sqlite implements storage.RecordStore for SQLite via
// modernc.org/sqlite.
//
// SQLite has no native timestamp type; extracted_at is stored as an
// RFC3339Nano string for reliable round trips and easy debugging.
package sqlite

import (
	"context"
	"database/sql"
	"strings"

	_ "modernc.org/sqlite"

	"lienharvest/internal/assemble"
	"lienharvest/internal/storage"
)

type Store struct {
	db *sql.DB
}

func init() {
	storage.Register("sqlite", New)
}

func New(ctx context.Context, cfg storage.Config) (storage.RecordStore, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() { _ = s.db.Close() }

func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, createTableSQL())
	return err
}

func (s *Store) UpsertRecords(ctx context.Context, tenantID string, records []assemble.Record) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	// Per-row upserts inside one transaction: SQLite gains nothing from a
	// giant multi-row VALUES list, and the per-row form keeps the statement
	// under the parameter limit regardless of max_records.
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, upsertSQL())
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	var affected int64
	for _, rec := range records {
		vals, err := storage.RowValues(tenantID, rec)
		if err != nil {
			return 0, err
		}
		res, err := stmt.ExecContext(ctx, vals...)
		if err != nil {
			return 0, err
		}
		n, _ := res.RowsAffected()
		affected += n
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return affected, nil
}

func createTableSQL() string {
	return `CREATE TABLE IF NOT EXISTS ` + storage.TableName + ` (
	tenant_id     TEXT NOT NULL,
	case_number   TEXT NOT NULL,
	document_type TEXT,
	file_date     TEXT,
	fields        TEXT NOT NULL,
	extracted_at  TEXT NOT NULL,
	PRIMARY KEY (tenant_id, case_number)
)`
}

// upsertSQL is the single-row upsert. Pure so the dialect can be unit
// tested without a database.
func upsertSQL() string {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(storage.Columns)), ", ")
	return "INSERT INTO " + storage.TableName +
		" (" + strings.Join(storage.Columns, ", ") + ") VALUES (" + placeholders + ")" +
		" ON CONFLICT (tenant_id, case_number) DO UPDATE SET" +
		" document_type = excluded.document_type," +
		" file_date = excluded.file_date," +
		" fields = excluded.fields," +
		" extracted_at = excluded.extracted_at"
}
