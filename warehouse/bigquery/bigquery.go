// Package bigquery implements the warehouse port on Google BigQuery
// using streaming inserts, one batch per table.
package bigquery

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/pithecene-io/smelter/fault"
	"github.com/pithecene-io/smelter/warehouse"
)

// Tables names the three destination tables inside the dataset.
type Tables struct {
	Invoices  string
	LineItems string
	Metrics   string
}

func (t Tables) withDefaults() Tables {
	if t.Invoices == "" {
		t.Invoices = warehouse.TableInvoices
	}
	if t.LineItems == "" {
		t.LineItems = warehouse.TableLineItems
	}
	if t.Metrics == "" {
		t.Metrics = warehouse.TableMetrics
	}
	return t
}

// Warehouse streams rows into a BigQuery dataset.
type Warehouse struct {
	client  *bigquery.Client
	dataset string
	tables  Tables

	invoiceSchema bigquery.Schema
	lineSchema    bigquery.Schema
	metricsSchema bigquery.Schema
}

// New builds a Warehouse for the project/dataset using application
// default credentials.
func New(ctx context.Context, projectID, dataset string, tables Tables, opts ...option.ClientOption) (*Warehouse, error) {
	client, err := bigquery.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("building bigquery client: %w", err)
	}
	invoiceSchema, err := bigquery.InferSchema(warehouse.InvoiceRow{})
	if err != nil {
		return nil, fmt.Errorf("inferring invoices schema: %w", err)
	}
	lineSchema, err := bigquery.InferSchema(warehouse.LineItemRow{})
	if err != nil {
		return nil, fmt.Errorf("inferring line_items schema: %w", err)
	}
	metricsSchema, err := bigquery.InferSchema(warehouse.MetricsRow{})
	if err != nil {
		return nil, fmt.Errorf("inferring metrics schema: %w", err)
	}
	return &Warehouse{
		client:        client,
		dataset:       dataset,
		tables:        tables.withDefaults(),
		invoiceSchema: invoiceSchema,
		lineSchema:    lineSchema,
		metricsSchema: metricsSchema,
	}, nil
}

// HasInvoice implements warehouse.Warehouse with a keyed lookup query.
func (w *Warehouse) HasInvoice(ctx context.Context, invoiceID string) (bool, error) {
	const op = "warehouse.has"
	q := w.client.Query(fmt.Sprintf(
		"SELECT 1 FROM `%s.%s` WHERE invoice_id = @invoice_id LIMIT 1",
		w.dataset, w.tables.Invoices,
	))
	q.Parameters = []bigquery.QueryParameter{{Name: "invoice_id", Value: invoiceID}}

	it, err := q.Read(ctx)
	if err != nil {
		return false, classify(op, err)
	}
	var row []bigquery.Value
	switch err := it.Next(&row); {
	case err == nil:
		return true, nil
	case errors.Is(err, iterator.Done):
		return false, nil
	default:
		return false, classify(op, err)
	}
}

// Insert implements warehouse.Warehouse. Each table gets one streaming
// batch; insert ids are derived from the invoice id so a replayed batch
// dedups inside the streaming window. A failure after the header batch
// leaves an orphan header; the loader recovers with DeleteInvoice.
func (w *Warehouse) Insert(ctx context.Context, rows *warehouse.Rows) error {
	const op = "warehouse.insert"
	id := rows.Invoice.InvoiceID

	header := &bigquery.StructSaver{
		Schema:   w.invoiceSchema,
		InsertID: id,
		Struct:   rows.Invoice,
	}
	if err := w.table(w.tables.Invoices).Inserter().Put(ctx, header); err != nil {
		return classify(op, err)
	}

	lines := make([]*bigquery.StructSaver, 0, len(rows.LineItems))
	for _, li := range rows.LineItems {
		lines = append(lines, &bigquery.StructSaver{
			Schema:   w.lineSchema,
			InsertID: fmt.Sprintf("%s#%d", id, li.LineNumber),
			Struct:   li,
		})
	}
	if err := w.table(w.tables.LineItems).Inserter().Put(ctx, lines); err != nil {
		return classify(op, err)
	}

	metrics := &bigquery.StructSaver{
		Schema:   w.metricsSchema,
		InsertID: id + "#metrics",
		Struct:   rows.Metrics,
	}
	if err := w.table(w.tables.Metrics).Inserter().Put(ctx, metrics); err != nil {
		return classify(op, err)
	}
	return nil
}

// DeleteInvoice implements warehouse.Warehouse via DML. Rows still in
// the streaming buffer cannot be deleted; that surfaces as a transient
// error and the loader's retry tries again once the buffer flushes.
func (w *Warehouse) DeleteInvoice(ctx context.Context, invoiceID string) error {
	const op = "warehouse.delete"
	q := w.client.Query(fmt.Sprintf(
		"DELETE FROM `%s.%s` WHERE invoice_id = @invoice_id",
		w.dataset, w.tables.Invoices,
	))
	q.Parameters = []bigquery.QueryParameter{{Name: "invoice_id", Value: invoiceID}}

	job, err := q.Run(ctx)
	if err != nil {
		return classify(op, err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return classify(op, err)
	}
	if status.Err() != nil {
		return classify(op, status.Err())
	}
	return nil
}

// Close releases the client.
func (w *Warehouse) Close() error {
	return w.client.Close()
}

func (w *Warehouse) table(name string) *bigquery.Table {
	return w.client.Dataset(w.dataset).Table(name)
}

// classify maps BigQuery failures onto the fault taxonomy. Row-level
// insert errors mean the payload does not fit the table schema and no
// retry will change that; service-level 5xx/429 mean throttling or
// capacity and clear on their own.
func classify(op string, err error) error {
	var rowErrs bigquery.PutMultiError
	if errors.As(err, &rowErrs) {
		return fault.Permanent(op, err)
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == 429 || apiErr.Code >= 500:
			return fault.Transient(op, err)
		case apiErr.Code >= 400:
			return fault.Permanent(op, err)
		}
	}
	return fault.Classify(op, err)
}

var _ warehouse.Warehouse = (*Warehouse)(nil)
