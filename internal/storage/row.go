package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"lienharvest/internal/assemble"
)

// TableName is the shared record table across backends.
const TableName = "legal_filings"

// Columns is the fixed column order every backend's upsert uses. case_number
// and tenant_id form the identity key; document_type and file_date are
// promoted out of the field map because downstream queries filter on them;
// fields carries the full extracted map as JSON.
var Columns = []string{
	"tenant_id",
	"case_number",
	"document_type",
	"file_date",
	"fields",
	"extracted_at",
}

// RowValues flattens one record into values matching Columns.
//
// Records without a case number cannot be upsert-keyed and are a caller bug:
// the assembler only emits keyed records when the config requires
// case_number, so this returns an error instead of writing an unkeyed row.
func RowValues(tenantID string, rec assemble.Record) ([]any, error) {
	caseNumber := assemble.NormalizeKey(rec.Data[assemble.DefaultIdentityField])
	if caseNumber == "" {
		return nil, fmt.Errorf("record has no %s; cannot upsert", assemble.DefaultIdentityField)
	}

	fields, err := json.Marshal(rec.Data)
	if err != nil {
		return nil, fmt.Errorf("encode fields: %w", err)
	}

	return []any{
		tenantID,
		caseNumber,
		rec.Data["document_type"],
		rec.Data["file_date"],
		string(fields),
		rec.ExtractedAt.UTC().Format(time.RFC3339Nano),
	}, nil
}
