package staging

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asmith81/MJM-Special-WOs/internal/models"
)

type fakeInvoiceAPI struct {
	id    string
	err   error
	calls int
}

func (f *fakeInvoiceAPI) CreateInvoice(ctx context.Context, batch *models.StagedBatch) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.id, nil
}

type fakeDocStore struct {
	link  string
	err   error
	calls int
}

func (f *fakeDocStore) StoreDocument(ctx context.Context, batch *models.StagedBatch, pdf io.Reader, size int64) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.link, nil
}

type fakeRecordStore struct {
	err   error
	calls int
	ids   []string
}

func (f *fakeRecordStore) MarkDocumented(ctx context.Context, workOrderIDs []string, invoiceID, documentLink string, completedAt time.Time) error {
	f.calls++
	f.ids = workOrderIDs
	return f.err
}

func stagedBatch() *models.StagedBatch {
	return &models.StagedBatch{
		ID:     "batch-1",
		Client: "mjm",
		Matches: []models.MatchResult{
			{Best: &models.MatchCandidate{WorkOrder: models.WorkOrder{ID: "A100"}}, Status: models.StatusMatched},
			{Best: &models.MatchCandidate{WorkOrder: models.WorkOrder{ID: "B200"}}, Status: models.StatusMatched},
		},
		State:     models.BatchCreated,
		CreatedAt: time.Now(),
	}
}

func pdf() io.Reader { return strings.NewReader("%PDF-1.4 test") }

func TestCoordinator_HappyPath(t *testing.T) {
	invoices := &fakeInvoiceAPI{id: "INV-77"}
	docs := &fakeDocStore{link: "invoice-documents/mjm/INV-77.pdf"}
	records := &fakeRecordStore{}
	c := NewCoordinator(invoices, docs, records)
	batch := stagedBatch()

	invoiceID, err := c.RequestInvoice(context.Background(), batch)
	require.NoError(t, err)
	assert.Equal(t, "INV-77", invoiceID)
	assert.Equal(t, models.BatchInvoiceCreated, batch.State)

	link, err := c.RecordDocument(context.Background(), batch, pdf(), 13)
	require.NoError(t, err)
	assert.Equal(t, docs.link, link)
	assert.Equal(t, models.BatchComplete, batch.State)
	assert.Equal(t, docs.link, batch.DocumentLink)

	// One external call each, one record write covering both work orders.
	assert.Equal(t, 1, invoices.calls)
	assert.Equal(t, 1, docs.calls)
	assert.Equal(t, 1, records.calls)
	assert.ElementsMatch(t, []string{"A100", "B200"}, records.ids)
}

func TestCoordinator_RequestInvoiceIdempotent(t *testing.T) {
	invoices := &fakeInvoiceAPI{id: "INV-77"}
	c := NewCoordinator(invoices, &fakeDocStore{}, &fakeRecordStore{})
	batch := stagedBatch()

	_, err := c.RequestInvoice(context.Background(), batch)
	require.NoError(t, err)

	again, err := c.RequestInvoice(context.Background(), batch)
	require.NoError(t, err)
	assert.Equal(t, "INV-77", again)
	assert.Equal(t, 1, invoices.calls, "no duplicate invoice call")
}

func TestCoordinator_InvoiceFailureAndRetry(t *testing.T) {
	invoices := &fakeInvoiceAPI{err: errors.New("billing api down")}
	c := NewCoordinator(invoices, &fakeDocStore{}, &fakeRecordStore{})
	batch := stagedBatch()

	_, err := c.RequestInvoice(context.Background(), batch)
	require.Error(t, err)
	assert.Equal(t, models.BatchFailed, batch.State)
	assert.Contains(t, batch.FailureCause, "billing api down")

	t.Run("only failed batches can be retried", func(t *testing.T) {
		healthy := stagedBatch()
		assert.ErrorIs(t, c.Retry(healthy), ErrInvalidTransition)
	})

	require.NoError(t, c.Retry(batch))
	assert.Equal(t, models.BatchCreated, batch.State)
	assert.NotEmpty(t, batch.FailureCause, "retry keeps the cause for audit")

	invoices.err = nil
	invoices.id = "INV-78"
	invoiceID, err := c.RequestInvoice(context.Background(), batch)
	require.NoError(t, err)
	assert.Equal(t, "INV-78", invoiceID)
	assert.Equal(t, models.BatchInvoiceCreated, batch.State)
}

func TestCoordinator_DocumentFailureStaysPending(t *testing.T) {
	docs := &fakeDocStore{err: errors.New("bucket unavailable")}
	records := &fakeRecordStore{}
	c := NewCoordinator(&fakeInvoiceAPI{id: "INV-77"}, docs, records)
	batch := stagedBatch()

	_, err := c.RequestInvoice(context.Background(), batch)
	require.NoError(t, err)

	_, err = c.RecordDocument(context.Background(), batch, pdf(), 13)
	require.Error(t, err)
	assert.Equal(t, models.BatchPDFPending, batch.State)
	assert.Equal(t, 0, records.calls)

	// Retrying the upload from pdf_pending succeeds.
	docs.err = nil
	docs.link = "invoice-documents/mjm/INV-77.pdf"
	link, err := c.RecordDocument(context.Background(), batch, pdf(), 13)
	require.NoError(t, err)
	assert.Equal(t, docs.link, link)
	assert.Equal(t, models.BatchComplete, batch.State)
	assert.Empty(t, batch.FailureCause)
}

func TestCoordinator_RecordFailureThenFinalize(t *testing.T) {
	records := &fakeRecordStore{err: errors.New("deadlock detected")}
	c := NewCoordinator(&fakeInvoiceAPI{id: "INV-77"}, &fakeDocStore{link: "docs/x.pdf"}, records)
	batch := stagedBatch()

	_, err := c.RequestInvoice(context.Background(), batch)
	require.NoError(t, err)

	_, err = c.RecordDocument(context.Background(), batch, pdf(), 13)
	require.Error(t, err)
	assert.Equal(t, models.BatchDocumented, batch.State)
	assert.Equal(t, "docs/x.pdf", batch.DocumentLink, "document link survives the record failure")

	records.err = nil
	require.NoError(t, c.Finalize(context.Background(), batch))
	assert.Equal(t, models.BatchComplete, batch.State)
	assert.Equal(t, 2, records.calls)

	t.Run("finalizing a complete batch is a no-op", func(t *testing.T) {
		require.NoError(t, c.Finalize(context.Background(), batch))
		assert.Equal(t, 2, records.calls)
	})
}

func TestCoordinator_OrderingEnforced(t *testing.T) {
	c := NewCoordinator(&fakeInvoiceAPI{id: "INV-77"}, &fakeDocStore{}, &fakeRecordStore{})
	batch := stagedBatch()

	t.Run("document before invoice", func(t *testing.T) {
		_, err := c.RecordDocument(context.Background(), batch, pdf(), 13)
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("finalize before documented", func(t *testing.T) {
		assert.ErrorIs(t, c.Finalize(context.Background(), batch), ErrInvalidTransition)
	})

	t.Run("abandon from created", func(t *testing.T) {
		assert.ErrorIs(t, c.Abandon(batch), ErrInvalidTransition)
	})
}

func TestCoordinator_Abandon(t *testing.T) {
	invoices := &fakeInvoiceAPI{err: errors.New("billing api down")}
	c := NewCoordinator(invoices, &fakeDocStore{}, &fakeRecordStore{})
	batch := stagedBatch()

	_, err := c.RequestInvoice(context.Background(), batch)
	require.Error(t, err)

	require.NoError(t, c.Abandon(batch))
	assert.Equal(t, models.BatchAbandoned, batch.State)

	_, err = c.RequestInvoice(context.Background(), batch)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestCoordinator_AbandonStuckPDFPending(t *testing.T) {
	docs := &fakeDocStore{err: errors.New("object store unreachable")}
	c := NewCoordinator(&fakeInvoiceAPI{id: "INV-77"}, docs, &fakeRecordStore{})
	batch := stagedBatch()

	_, err := c.RequestInvoice(context.Background(), batch)
	require.NoError(t, err)

	_, err = c.RecordDocument(context.Background(), batch, pdf(), 13)
	require.Error(t, err)
	require.Equal(t, models.BatchPDFPending, batch.State)

	// The upload keeps failing; the operator gives up on the batch.
	require.NoError(t, c.Abandon(batch))
	assert.Equal(t, models.BatchAbandoned, batch.State)

	_, err = c.RecordDocument(context.Background(), batch, pdf(), 13)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}
