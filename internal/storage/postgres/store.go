// Package postgres implements storage.RecordStore for Postgres via pgx.
package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"lienharvest/internal/assemble"
	"lienharvest/internal/storage"
)

type Store struct {
	pool *pgxpool.Pool
}

func init() {
	storage.Register("postgres", New)
}

// New opens a pgx pool against cfg.DSN.
func New(ctx context.Context, cfg storage.Config) (storage.RecordStore, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() { s.pool.Close() }

func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, createTableSQL())
	return err
}

// UpsertRecords writes records in one multi-row INSERT ... ON CONFLICT
// statement. Mutable columns take the incoming values (last write wins per
// column across runs).
func (s *Store) UpsertRecords(ctx context.Context, tenantID string, records []assemble.Record) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	sql, args, err := buildUpsertSQL(tenantID, records)
	if err != nil {
		return 0, err
	}

	cmd, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

func createTableSQL() string {
	return `CREATE TABLE IF NOT EXISTS ` + storage.TableName + ` (
	tenant_id     TEXT NOT NULL,
	case_number   TEXT NOT NULL,
	document_type TEXT,
	file_date     TEXT,
	fields        JSONB NOT NULL,
	extracted_at  TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (tenant_id, case_number)
)`
}

// buildUpsertSQL constructs one INSERT statement and its args.
//
// It is pure and deterministic so placeholder numbering and the ON CONFLICT
// clause can be unit tested without a database.
func buildUpsertSQL(tenantID string, records []assemble.Record) (string, []any, error) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(storage.TableName)
	b.WriteString(" (")
	b.WriteString(strings.Join(storage.Columns, ", "))
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(records)*len(storage.Columns))
	p := 1
	for i, rec := range records {
		vals, err := storage.RowValues(tenantID, rec)
		if err != nil {
			return "", nil, err
		}
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range vals {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", p)
			p++
		}
		b.WriteString(")")
		args = append(args, vals...)
	}

	b.WriteString(" ON CONFLICT (tenant_id, case_number) DO UPDATE SET ")
	b.WriteString("document_type = EXCLUDED.document_type, ")
	b.WriteString("file_date = EXCLUDED.file_date, ")
	b.WriteString("fields = EXCLUDED.fields, ")
	b.WriteString("extracted_at = EXCLUDED.extracted_at")

	return b.String(), args, nil
}
