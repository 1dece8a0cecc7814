package warehouse

import (
	"context"
	"sync"

	"github.com/pithecene-io/smelter/fault"
)

// Memory is an in-process Warehouse for tests and local runs. Safe for
// concurrent use; supports per-operation failure injection and a
// partial-insert mode that exercises the loader's recovery path.
type Memory struct {
	mu       sync.Mutex
	invoices map[string]*Rows
	failures map[string][]error

	// failAfterHeader makes the next n Inserts land the header and then
	// fail with err, simulating a partial batch.
	partial    int
	partialErr error
}

// NewMemory returns an empty in-memory warehouse.
func NewMemory() *Memory {
	return &Memory{
		invoices: make(map[string]*Rows),
		failures: make(map[string][]error),
	}
}

// Fail arranges for the next n calls of op ("has", "insert", "delete")
// to return err.
func (m *Memory) Fail(op string, n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := 0; i < n; i++ {
		m.failures[op] = append(m.failures[op], err)
	}
}

// FailAfterHeader arranges for the next n Inserts to land the header row
// and then fail with err. The loader must delete the header and retry.
func (m *Memory) FailAfterHeader(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.partial = n
	m.partialErr = err
}

func (m *Memory) takeFailure(op string) error {
	queue := m.failures[op]
	if len(queue) == 0 {
		return nil
	}
	err := queue[0]
	m.failures[op] = queue[1:]
	return err
}

// HasInvoice implements Warehouse.
func (m *Memory) HasInvoice(ctx context.Context, invoiceID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure("has"); err != nil {
		return false, fault.Classify("warehouse.has", err)
	}
	_, ok := m.invoices[invoiceID]
	return ok, nil
}

// Insert implements Warehouse.
func (m *Memory) Insert(ctx context.Context, rows *Rows) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure("insert"); err != nil {
		return fault.Classify("warehouse.insert", err)
	}
	if m.partial > 0 {
		m.partial--
		header := *rows
		header.LineItems = nil
		m.invoices[rows.Invoice.InvoiceID] = &header
		return fault.Classify("warehouse.insert", m.partialErr)
	}
	cp := *rows
	cp.LineItems = append([]LineItemRow(nil), rows.LineItems...)
	m.invoices[rows.Invoice.InvoiceID] = &cp
	return nil
}

// DeleteInvoice implements Warehouse.
func (m *Memory) DeleteInvoice(ctx context.Context, invoiceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure("delete"); err != nil {
		return fault.Classify("warehouse.delete", err)
	}
	delete(m.invoices, invoiceID)
	return nil
}

// Rows returns the landed rows for an invoice, or nil. Test helper.
func (m *Memory) Rows(invoiceID string) *Rows {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.invoices[invoiceID]
}

// Count returns the number of landed invoices. Test helper.
func (m *Memory) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.invoices)
}

var _ Warehouse = (*Memory)(nil)
