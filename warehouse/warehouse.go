// Package warehouse defines the analytical sink port and the row shapes
// the loader persists. The BigQuery backend lives in the bigquery
// subpackage; Memory backs tests and local runs.
package warehouse

import (
	"context"
	"time"

	"github.com/pithecene-io/smelter/fault"
)

// Insert budget per spec: five bounded attempts, base 1s; each attempt
// capped at 30s.
const (
	InsertTimeout = 30 * time.Second
	MaxAttempts   = 5
	RetryBase     = 1 * time.Second
	RetryJitter   = 250 * time.Millisecond
)

// Backoff returns the loader's retry budget for warehouse inserts.
func Backoff() fault.Backoff {
	return fault.Backoff{Attempts: MaxAttempts, Base: RetryBase, Jitter: RetryJitter}
}

// Warehouse is the analytical sink port.
//
// Insert batches per table and may leave a header row behind when a
// later batch fails. The loader undoes that with DeleteInvoice before
// letting the bus redeliver, so a retried insert never sees its own
// partial header as a duplicate.
type Warehouse interface {
	// HasInvoice reports whether a header row exists. The loader's dedup
	// gate; keeps redelivered extractions from inserting twice.
	HasInvoice(ctx context.Context, invoiceID string) (bool, error)
	// Insert lands one extraction: header, line items, metrics.
	Insert(ctx context.Context, rows *Rows) error
	// DeleteInvoice removes the header row. Recovery path for partial
	// inserts; deleting an absent row is not an error.
	DeleteInvoice(ctx context.Context, invoiceID string) error
}
