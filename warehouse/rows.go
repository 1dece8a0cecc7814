package warehouse

import (
	"fmt"
	"math/big"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/pithecene-io/smelter/types"
)

// Table names reported in the loaded event and used by the BigQuery
// backend within its configured dataset.
const (
	TableInvoices  = "invoices"
	TableLineItems = "line_items"
	TableMetrics   = "metrics"
)

// InvoiceRow is one header row in the invoices table.
type InvoiceRow struct {
	InvoiceID           string     `bigquery:"invoice_id"`
	VendorName          string     `bigquery:"vendor_name"`
	VendorType          string     `bigquery:"vendor_type"`
	InvoiceDate         civil.Date `bigquery:"invoice_date"`
	DueDate             civil.Date `bigquery:"due_date"`
	Currency            string     `bigquery:"currency"`
	Subtotal            *big.Rat   `bigquery:"subtotal"`
	TaxAmount           *big.Rat   `bigquery:"tax_amount"`
	CommissionRate      *big.Rat   `bigquery:"commission_rate"`
	CommissionAmount    *big.Rat   `bigquery:"commission_amount"`
	TotalAmount         *big.Rat   `bigquery:"total_amount"`
	LineItemsCount      int64      `bigquery:"line_items_count"`
	SourceFile          string     `bigquery:"source_file"`
	ExtractionModel     string     `bigquery:"extraction_model"`
	ExtractionLatencyMS int64      `bigquery:"extraction_latency_ms"`
	ConfidenceScore     *big.Rat   `bigquery:"confidence_score"`
	CreatedAt           time.Time  `bigquery:"created_at"`
	UpdatedAt           time.Time  `bigquery:"updated_at"`
}

// LineItemRow is one row in the line_items table. Primary key is
// (invoice_id, line_number).
type LineItemRow struct {
	InvoiceID   string    `bigquery:"invoice_id"`
	LineNumber  int64     `bigquery:"line_number"`
	Description string    `bigquery:"description"`
	Quantity    int64     `bigquery:"quantity"`
	UnitPrice   *big.Rat  `bigquery:"unit_price"`
	Amount      *big.Rat  `bigquery:"amount"`
	CreatedAt   time.Time `bigquery:"created_at"`
}

// MetricsRow is one row in the metrics table, recording how the
// extraction went.
type MetricsRow struct {
	InvoiceID           string    `bigquery:"invoice_id"`
	VendorType          string    `bigquery:"vendor_type"`
	SourceFile          string    `bigquery:"source_file"`
	ExtractionModel     string    `bigquery:"extraction_model"`
	ExtractionLatencyMS int64     `bigquery:"extraction_latency_ms"`
	ConfidenceScore     *big.Rat  `bigquery:"confidence_score"`
	Success             bool      `bigquery:"success"`
	ErrorMessage        string    `bigquery:"error_message"`
	CreatedAt           time.Time `bigquery:"created_at"`
}

// Rows is the full set of rows one extraction lands as.
type Rows struct {
	Invoice   InvoiceRow
	LineItems []LineItemRow
	Metrics   MetricsRow
}

// BuildRows shapes a validated extracted event into warehouse rows.
// The event must already have passed validation; date parsing repeats
// here only to convert representation.
func BuildRows(ev *types.ExtractedEvent, now time.Time) (*Rows, error) {
	inv := ev.Extraction

	invoiceDate, err := civil.ParseDate(inv.InvoiceDate)
	if err != nil {
		return nil, fmt.Errorf("invoice %s: invoice_date: %w", ev.InvoiceID, err)
	}
	dueDate, err := civil.ParseDate(inv.DueDate)
	if err != nil {
		return nil, fmt.Errorf("invoice %s: due_date: %w", ev.InvoiceID, err)
	}

	var model string
	var latencyMS int64
	var confidence *big.Rat
	if ev.Meta != nil {
		model = ev.Meta.Model
		latencyMS = ev.Meta.LatencyMS
		confidence = optRat(ev.Meta.ConfidenceScore)
	}

	now = now.UTC()
	rows := &Rows{
		Invoice: InvoiceRow{
			InvoiceID:           ev.InvoiceID,
			VendorName:          inv.VendorName,
			VendorType:          inv.VendorType.String(),
			InvoiceDate:         invoiceDate,
			DueDate:             dueDate,
			Currency:            inv.Currency,
			Subtotal:            inv.Subtotal.Rat(),
			TaxAmount:           inv.TaxAmount.Rat(),
			CommissionRate:      optRat(inv.CommissionRate),
			CommissionAmount:    optRat(inv.CommissionAmount),
			TotalAmount:         inv.TotalAmount.Rat(),
			LineItemsCount:      int64(len(inv.LineItems)),
			SourceFile:          ev.Source.Name,
			ExtractionModel:     model,
			ExtractionLatencyMS: latencyMS,
			ConfidenceScore:     confidence,
			CreatedAt:           now,
			UpdatedAt:           now,
		},
		Metrics: MetricsRow{
			InvoiceID:           ev.InvoiceID,
			VendorType:          inv.VendorType.String(),
			SourceFile:          ev.Source.Name,
			ExtractionModel:     model,
			ExtractionLatencyMS: latencyMS,
			ConfidenceScore:     confidence,
			Success:             true,
			CreatedAt:           now,
		},
	}
	for _, li := range inv.LineItems {
		rows.LineItems = append(rows.LineItems, LineItemRow{
			InvoiceID:   ev.InvoiceID,
			LineNumber:  int64(li.LineNumber),
			Description: li.Description,
			Quantity:    int64(li.Quantity),
			UnitPrice:   li.UnitPrice.Rat(),
			Amount:      li.Amount.Rat(),
			CreatedAt:   now,
		})
	}
	return rows, nil
}

func optRat(d *decimal.Decimal) *big.Rat {
	if d == nil {
		return nil
	}
	return d.Rat()
}
