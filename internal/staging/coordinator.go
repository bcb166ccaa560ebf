package staging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/asmith81/MJM-Special-WOs/internal/models"
)

// ErrInvalidTransition is returned when an operation is attempted in a state
// that does not allow it. The workflow is strictly forward; the only reset is
// the explicit failure retry.
var ErrInvalidTransition = errors.New("invalid batch state transition")

// InvoiceAPI creates an invoice for a staged batch in the external billing
// system.
type InvoiceAPI interface {
	CreateInvoice(ctx context.Context, batch *models.StagedBatch) (invoiceID string, err error)
}

// DocumentStore captures the invoice PDF and returns a durable link.
type DocumentStore interface {
	StoreDocument(ctx context.Context, batch *models.StagedBatch, pdf io.Reader, size int64) (link string, err error)
}

// RecordStore applies the link-back write to the work-order record store.
type RecordStore interface {
	MarkDocumented(ctx context.Context, workOrderIDs []string, invoiceID, documentLink string, completedAt time.Time) error
}

// Coordinator drives staged batches through the documentation workflow:
//
//	created -> invoice_requested -> invoice_created -> pdf_pending -> documented -> complete
//
// failed is reachable from invoice_requested and pdf_pending; Retry resets a
// failed batch to created with the cause attached; Abandon is terminal.
// Each external side effect is attempted at most once per state entry; the
// coordinator never retries on its own.
//
// Different clients' batches progress independently: exclusivity is per
// batch, not global.
type Coordinator struct {
	invoices InvoiceAPI
	docs     DocumentStore
	records  RecordStore

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewCoordinator wires the three external collaborators.
func NewCoordinator(invoices InvoiceAPI, docs DocumentStore, records RecordStore) *Coordinator {
	return &Coordinator{
		invoices: invoices,
		docs:     docs,
		records:  records,
		locks:    make(map[string]*sync.Mutex),
	}
}

// batchLock returns the per-batch mutex, creating it on first use. Within one
// batch all transitions are sequential.
func (c *Coordinator) batchLock(batch *models.StagedBatch) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	lock, ok := c.locks[batch.ID]
	if !ok {
		lock = &sync.Mutex{}
		c.locks[batch.ID] = lock
	}
	return lock
}

// RequestInvoice advances created -> invoice_requested -> invoice_created,
// calling the invoice API once. Re-invoking on a batch that already holds an
// invoice is a no-op returning the existing ID.
func (c *Coordinator) RequestInvoice(ctx context.Context, batch *models.StagedBatch) (string, error) {
	lock := c.batchLock(batch)
	lock.Lock()
	defer lock.Unlock()

	switch batch.State {
	case models.BatchInvoiceCreated, models.BatchPDFPending, models.BatchDocumented, models.BatchComplete:
		// Idempotent per state: the invoice already exists.
		return batch.InvoiceID, nil
	case models.BatchCreated:
		// proceed
	default:
		return "", fmt.Errorf("%w: cannot request invoice in state %s", ErrInvalidTransition, batch.State)
	}

	transition(batch, models.BatchInvoiceRequested)

	// A batch re-entering after a retry may already carry an invoice ID from
	// an attempt whose outcome was lost; do not create a duplicate.
	if batch.InvoiceID == "" {
		invoiceID, err := c.invoices.CreateInvoice(ctx, batch)
		if err != nil {
			fail(batch, fmt.Sprintf("invoice creation failed: %v", err))
			return "", fmt.Errorf("invoice creation failed: %w", err)
		}
		batch.InvoiceID = invoiceID
	}

	batch.FailureCause = ""
	transition(batch, models.BatchInvoiceCreated)
	return batch.InvoiceID, nil
}

// RecordDocument advances invoice_created -> pdf_pending and captures the
// invoice PDF. On success the batch reaches documented, the record-store
// link-back is written, and the batch completes. A document-store failure
// leaves the batch in pdf_pending (retryable); a record-store failure leaves
// it documented, retryable via Finalize.
func (c *Coordinator) RecordDocument(ctx context.Context, batch *models.StagedBatch, pdf io.Reader, size int64) (string, error) {
	lock := c.batchLock(batch)
	lock.Lock()
	defer lock.Unlock()

	switch batch.State {
	case models.BatchInvoiceCreated:
		transition(batch, models.BatchPDFPending)
	case models.BatchPDFPending:
		// retry after a document-store failure
	case models.BatchDocumented, models.BatchComplete:
		return batch.DocumentLink, nil
	default:
		return "", fmt.Errorf("%w: cannot record document in state %s", ErrInvalidTransition, batch.State)
	}

	link, err := c.docs.StoreDocument(ctx, batch, pdf, size)
	if err != nil {
		// Non-fatal: stay in pdf_pending and wait for an explicit retry.
		batch.FailureCause = fmt.Sprintf("document capture failed: %v", err)
		batch.UpdatedAt = time.Now()
		return "", fmt.Errorf("document capture failed: %w", err)
	}
	batch.DocumentLink = link
	batch.FailureCause = ""
	transition(batch, models.BatchDocumented)

	if err := c.finalizeLocked(ctx, batch); err != nil {
		return link, err
	}
	return link, nil
}

// Finalize retries the record-store link-back for a batch stuck in
// documented. Completing an already complete batch is a no-op.
func (c *Coordinator) Finalize(ctx context.Context, batch *models.StagedBatch) error {
	lock := c.batchLock(batch)
	lock.Lock()
	defer lock.Unlock()

	switch batch.State {
	case models.BatchComplete:
		return nil
	case models.BatchDocumented:
		return c.finalizeLocked(ctx, batch)
	default:
		return fmt.Errorf("%w: cannot finalize in state %s", ErrInvalidTransition, batch.State)
	}
}

func (c *Coordinator) finalizeLocked(ctx context.Context, batch *models.StagedBatch) error {
	err := c.records.MarkDocumented(ctx, batch.WorkOrderIDs(), batch.InvoiceID, batch.DocumentLink, time.Now())
	if err != nil {
		batch.FailureCause = fmt.Sprintf("record store update failed: %v", err)
		batch.UpdatedAt = time.Now()
		return fmt.Errorf("record store update failed: %w", err)
	}
	batch.FailureCause = ""
	transition(batch, models.BatchComplete)
	return nil
}

// Retry resets a failed batch to created, keeping the failure cause attached
// for audit. Only failed batches can be retried.
func (c *Coordinator) Retry(batch *models.StagedBatch) error {
	lock := c.batchLock(batch)
	lock.Lock()
	defer lock.Unlock()

	if batch.State != models.BatchFailed {
		return fmt.Errorf("%w: cannot retry in state %s", ErrInvalidTransition, batch.State)
	}
	transition(batch, models.BatchCreated)
	return nil
}

// Abandon terminally discards a failed batch. A batch stuck in pdf_pending
// after repeated capture failures can also be abandoned; retrying the upload
// is otherwise its only way forward.
func (c *Coordinator) Abandon(batch *models.StagedBatch) error {
	lock := c.batchLock(batch)
	lock.Lock()
	defer lock.Unlock()

	switch batch.State {
	case models.BatchFailed, models.BatchPDFPending:
		transition(batch, models.BatchAbandoned)
		return nil
	default:
		return fmt.Errorf("%w: cannot abandon in state %s", ErrInvalidTransition, batch.State)
	}
}

func transition(batch *models.StagedBatch, to models.BatchState) {
	batch.State = to
	batch.UpdatedAt = time.Now()
}

func fail(batch *models.StagedBatch, cause string) {
	batch.State = models.BatchFailed
	batch.FailureCause = cause
	batch.UpdatedAt = time.Now()
}
