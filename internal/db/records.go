package db

import (
	"context"
	"fmt"
	"time"
)

// RecordWriter applies the single record-store write a completed batch
// produces: linking the invoice and captured document back to the work
// orders. It is handed only to the batch coordinator; the matching path sees
// the read-only repository instead.
type RecordWriter struct{}

// NewRecordWriter returns a writer bound to the global pool.
func NewRecordWriter() *RecordWriter {
	return &RecordWriter{}
}

// MarkDocumented records the invoice ID and document link on every work order
// of a batch in one statement. Called exactly once per batch, on reaching the
// documented state.
func (w *RecordWriter) MarkDocumented(ctx context.Context, workOrderIDs []string, invoiceID, documentLink string, completedAt time.Time) error {
	if Pool == nil {
		return fmt.Errorf("record store not available")
	}
	if len(workOrderIDs) == 0 {
		return fmt.Errorf("no work orders to mark")
	}

	tag, err := Pool.Exec(ctx, `
		UPDATE work_orders
		SET invoice_id = $1, document_link = $2, completed_at = $3, status = 'documented'
		WHERE wo_id = ANY($4)
	`, invoiceID, documentLink, completedAt, workOrderIDs)
	if err != nil {
		return fmt.Errorf("failed to mark work orders documented: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("no work orders updated for invoice %s", invoiceID)
	}
	return nil
}
