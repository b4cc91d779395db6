// Package mssql implements storage.RecordStore for Microsoft SQL Server.
//
// SQL Server has no ON CONFLICT clause; the upsert is a per-row MERGE inside
// one transaction, which serializes cleanly when multiple jurisdictions
// finish at the same time.
package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/microsoft/go-mssqldb"

	"lienharvest/internal/assemble"
	"lienharvest/internal/storage"
)

type Store struct {
	db *sql.DB
}

func init() {
	storage.Register("mssql", New)
}

func New(ctx context.Context, cfg storage.Config) (storage.RecordStore, error) {
	db, err := sql.Open("sqlserver", cfg.DSN)
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

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var affected int64
	for _, rec := range records {
		vals, err := storage.RowValues(tenantID, rec)
		if err != nil {
			return 0, err
		}
		res, err := tx.ExecContext(ctx, mergeSQL(), namedArgs(vals)...)
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
	return `IF OBJECT_ID(N'` + storage.TableName + `', N'U') IS NULL
CREATE TABLE ` + storage.TableName + ` (
	tenant_id     NVARCHAR(128)  NOT NULL,
	case_number   NVARCHAR(128)  NOT NULL,
	document_type NVARCHAR(256)  NULL,
	file_date     NVARCHAR(64)   NULL,
	fields        NVARCHAR(MAX)  NOT NULL,
	extracted_at  NVARCHAR(64)   NOT NULL,
	CONSTRAINT pk_` + storage.TableName + ` PRIMARY KEY (tenant_id, case_number)
)`
}

// mergeSQL is the single-row MERGE upsert. Pure so the dialect can be unit
// tested without a database.
func mergeSQL() string {
	srcCols := make([]string, len(storage.Columns))
	params := make([]string, len(storage.Columns))
	for i, c := range storage.Columns {
		srcCols[i] = c
		params[i] = "@" + c
	}

	return "MERGE INTO " + storage.TableName + " AS t" +
		" USING (VALUES (" + strings.Join(params, ", ") + "))" +
		" AS s (" + strings.Join(srcCols, ", ") + ")" +
		" ON t.tenant_id = s.tenant_id AND t.case_number = s.case_number" +
		" WHEN MATCHED THEN UPDATE SET" +
		" t.document_type = s.document_type," +
		" t.file_date = s.file_date," +
		" t.fields = s.fields," +
		" t.extracted_at = s.extracted_at" +
		" WHEN NOT MATCHED THEN INSERT (" + strings.Join(storage.Columns, ", ") + ")" +
		" VALUES (" + strings.Join(params, ", ") + ");"
}

// namedArgs binds Columns-ordered values to the @column parameters mergeSQL
// declares.
func namedArgs(vals []any) []any {
	if len(vals) != len(storage.Columns) {
		panic(fmt.Sprintf("mssql: %d values for %d columns", len(vals), len(storage.Columns)))
	}
	out := make([]any, len(vals))
	for i, c := range storage.Columns {
		out[i] = sql.Named(c, vals[i])
	}
	return out
}
