package warehouse

import (
	"math/big"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pithecene-io/smelter/types"
)

func sampleEvent() *types.ExtractedEvent {
	rate := decimal.RequireFromString("0.15")
	conf := decimal.RequireFromString("0.92")
	return &types.ExtractedEvent{
		InvoiceID: "UE-2026-000001",
		Vendor:    types.VendorUberEats,
		Source:    types.ObjectRef{Bucket: "smelter-input", Name: "UE-2026-000001.tiff"},
		Extraction: types.Invoice{
			InvoiceID:      "UE-2026-000001",
			VendorName:     "Uber Eats",
			VendorType:     types.VendorUberEats,
			InvoiceDate:    "2026-08-01",
			DueDate:        "2026-08-31",
			Currency:       "USD",
			Subtotal:       decimal.RequireFromString("100.00"),
			TaxAmount:      decimal.RequireFromString("10.00"),
			CommissionRate: &rate,
			TotalAmount:    decimal.RequireFromString("110.00"),
			LineItems: []types.LineItem{
				{LineNumber: 1, Description: "Delivery fees", Quantity: 2, UnitPrice: decimal.RequireFromString("25.00"), Amount: decimal.RequireFromString("50.00")},
				{LineNumber: 2, Description: "Service fees", Quantity: 1, UnitPrice: decimal.RequireFromString("50.00"), Amount: decimal.RequireFromString("50.00")},
			},
		},
		Meta: &types.ExtractionMeta{Model: "gemini-2.0-flash", LatencyMS: 4200, ConfidenceScore: &conf},
	}
}

func TestBuildRows(t *testing.T) {
	ev := sampleEvent()
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)

	rows, err := BuildRows(ev, now)
	if err != nil {
		t.Fatalf("BuildRows: %v", err)
	}

	inv := rows.Invoice
	if inv.InvoiceID != "UE-2026-000001" || inv.VendorType != "ubereats" {
		t.Fatalf("header identity = %s/%s", inv.InvoiceID, inv.VendorType)
	}
	if got := inv.InvoiceDate.String(); got != "2026-08-01" {
		t.Errorf("invoice_date = %s", got)
	}
	if got := inv.DueDate.String(); got != "2026-08-31" {
		t.Errorf("due_date = %s", got)
	}
	if inv.Subtotal.Cmp(big.NewRat(100, 1)) != 0 {
		t.Errorf("subtotal = %s", inv.Subtotal)
	}
	if inv.CommissionRate == nil || inv.CommissionRate.Cmp(big.NewRat(15, 100)) != 0 {
		t.Errorf("commission_rate = %v", inv.CommissionRate)
	}
	if inv.CommissionAmount != nil {
		t.Errorf("commission_amount = %v, want nil", inv.CommissionAmount)
	}
	if inv.LineItemsCount != 2 {
		t.Errorf("line_items_count = %d", inv.LineItemsCount)
	}
	if inv.SourceFile != "UE-2026-000001.tiff" {
		t.Errorf("source_file = %s", inv.SourceFile)
	}
	if inv.ExtractionModel != "gemini-2.0-flash" || inv.ExtractionLatencyMS != 4200 {
		t.Errorf("extraction meta = %s/%d", inv.ExtractionModel, inv.ExtractionLatencyMS)
	}
	if inv.CreatedAt != now || inv.UpdatedAt != now {
		t.Errorf("timestamps = %v/%v", inv.CreatedAt, inv.UpdatedAt)
	}

	if len(rows.LineItems) != 2 {
		t.Fatalf("line rows = %d", len(rows.LineItems))
	}
	li := rows.LineItems[0]
	if li.InvoiceID != "UE-2026-000001" || li.LineNumber != 1 || li.Quantity != 2 {
		t.Errorf("line 1 = %+v", li)
	}
	if li.Amount.Cmp(big.NewRat(50, 1)) != 0 {
		t.Errorf("line 1 amount = %s", li.Amount)
	}

	met := rows.Metrics
	if !met.Success || met.ErrorMessage != "" {
		t.Errorf("metrics success row = %+v", met)
	}
	if met.ConfidenceScore == nil || met.ConfidenceScore.Cmp(big.NewRat(92, 100)) != 0 {
		t.Errorf("confidence_score = %v", met.ConfidenceScore)
	}
}

func TestBuildRowsWithoutMeta(t *testing.T) {
	ev := sampleEvent()
	ev.Meta = nil

	rows, err := BuildRows(ev, time.Now())
	if err != nil {
		t.Fatalf("BuildRows: %v", err)
	}
	if rows.Invoice.ExtractionModel != "" || rows.Invoice.ExtractionLatencyMS != 0 {
		t.Errorf("meta columns = %q/%d, want zero", rows.Invoice.ExtractionModel, rows.Invoice.ExtractionLatencyMS)
	}
	if rows.Invoice.ConfidenceScore != nil {
		t.Errorf("confidence_score = %v, want nil", rows.Invoice.ConfidenceScore)
	}
}

func TestBuildRowsRejectsBadDate(t *testing.T) {
	ev := sampleEvent()
	ev.Extraction.InvoiceDate = "08/01/2026"
	if _, err := BuildRows(ev, time.Now()); err == nil {
		t.Fatal("BuildRows accepted a non-ISO date")
	}
}
