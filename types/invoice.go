package types

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Cross-field arithmetic tolerances. Totals may drift from their parts by
// at most two cents; a single line item by at most one.
var (
	totalTolerance = decimal.New(2, -2)
	lineTolerance  = decimal.New(1, -2)
)

// dateLayout is the calendar-date wire format (ISO-8601, date only).
const dateLayout = "2006-01-02"

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

// LineItem is a single billed line of an invoice.
type LineItem struct {
	LineNumber  int             `json:"line_number"`
	Description string          `json:"description"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Amount      decimal.Decimal `json:"amount"`
}

func (li *LineItem) normalize() {
	li.UnitPrice = li.UnitPrice.RoundBank(2)
	li.Amount = li.Amount.RoundBank(2)
}

// Validate checks per-line constraints, including the line arithmetic
// invariant: amount must equal quantity times unit_price within 0.01.
func (li LineItem) Validate() error {
	if li.LineNumber < 1 {
		return fmt.Errorf("line item: line_number %d is less than 1", li.LineNumber)
	}
	if strings.TrimSpace(li.Description) == "" {
		return fmt.Errorf("line %d: description is empty", li.LineNumber)
	}
	if li.Quantity < 1 {
		return fmt.Errorf("line %d: quantity %d is less than 1", li.LineNumber, li.Quantity)
	}
	if li.UnitPrice.IsNegative() {
		return fmt.Errorf("line %d: negative unit_price %s", li.LineNumber, li.UnitPrice)
	}
	if li.Amount.IsNegative() {
		return fmt.Errorf("line %d: negative amount %s", li.LineNumber, li.Amount)
	}
	expected := li.UnitPrice.Mul(decimal.NewFromInt(int64(li.Quantity)))
	if li.Amount.Sub(expected).Abs().GreaterThan(lineTolerance) {
		return fmt.Errorf("line %d: amount %s does not match quantity * unit_price = %s within %s",
			li.LineNumber, li.Amount, expected, lineTolerance)
	}
	return nil
}

// Invoice is the structured extraction of one invoice document.
// Monetary amounts are fixed-point decimals with two fractional digits;
// dates are ISO-8601 calendar dates.
type Invoice struct {
	InvoiceID        string           `json:"invoice_id"`
	VendorName       string           `json:"vendor_name"`
	VendorType       VendorType       `json:"vendor_type"`
	InvoiceDate      string           `json:"invoice_date"`
	DueDate          string           `json:"due_date"`
	Currency         string           `json:"currency"`
	Subtotal         decimal.Decimal  `json:"subtotal"`
	TaxAmount        decimal.Decimal  `json:"tax_amount"`
	CommissionRate   *decimal.Decimal `json:"commission_rate,omitempty"`
	CommissionAmount *decimal.Decimal `json:"commission_amount,omitempty"`
	TotalAmount      decimal.Decimal  `json:"total_amount"`
	LineItems        []LineItem       `json:"line_items"`
}

// ExtractionMeta records how an extraction was produced. It rides beside
// the Invoice in the extracted event and lands in the warehouse columns.
type ExtractionMeta struct {
	Model           string           `json:"model"`
	LatencyMS       int64            `json:"latency_ms"`
	ConfidenceScore *decimal.Decimal `json:"confidence_score,omitempty"`
}

// Normalize rounds every monetary amount to two fractional digits with
// banker's rounding. Models occasionally return more precision than the
// fixed-point contract allows; rounding runs before cross-field checks.
// CommissionRate is a ratio, not an amount, and keeps its precision.
func (inv *Invoice) Normalize() {
	inv.Subtotal = inv.Subtotal.RoundBank(2)
	inv.TaxAmount = inv.TaxAmount.RoundBank(2)
	inv.TotalAmount = inv.TotalAmount.RoundBank(2)
	if inv.CommissionAmount != nil {
		r := inv.CommissionAmount.RoundBank(2)
		inv.CommissionAmount = &r
	}
	for i := range inv.LineItems {
		inv.LineItems[i].normalize()
	}
}

// Validate checks field constraints and the cross-field arithmetic
// invariants: total must equal subtotal plus tax within 0.02, and the
// line amounts must sum to the subtotal within 0.02. Callers normalize
// first so comparisons see two-decimal amounts.
func (inv *Invoice) Validate() error {
	if inv.InvoiceID == "" {
		return fmt.Errorf("invoice: invoice_id is empty")
	}
	if strings.TrimSpace(inv.VendorName) == "" {
		return fmt.Errorf("invoice %s: vendor_name is empty", inv.InvoiceID)
	}
	if !inv.VendorType.Valid() {
		return fmt.Errorf("invoice %s: unknown vendor_type %q", inv.InvoiceID, inv.VendorType)
	}
	invoiceDate, err := time.Parse(dateLayout, inv.InvoiceDate)
	if err != nil {
		return fmt.Errorf("invoice %s: invoice_date %q is not YYYY-MM-DD", inv.InvoiceID, inv.InvoiceDate)
	}
	dueDate, err := time.Parse(dateLayout, inv.DueDate)
	if err != nil {
		return fmt.Errorf("invoice %s: due_date %q is not YYYY-MM-DD", inv.InvoiceID, inv.DueDate)
	}
	if dueDate.Before(invoiceDate) {
		return fmt.Errorf("invoice %s: due_date %s precedes invoice_date %s",
			inv.InvoiceID, inv.DueDate, inv.InvoiceDate)
	}
	if !currencyPattern.MatchString(inv.Currency) {
		return fmt.Errorf("invoice %s: currency %q is not an ISO-4217 code", inv.InvoiceID, inv.Currency)
	}
	if inv.Subtotal.IsNegative() {
		return fmt.Errorf("invoice %s: negative subtotal %s", inv.InvoiceID, inv.Subtotal)
	}
	if inv.TaxAmount.IsNegative() {
		return fmt.Errorf("invoice %s: negative tax_amount %s", inv.InvoiceID, inv.TaxAmount)
	}
	if inv.TotalAmount.IsNegative() {
		return fmt.Errorf("invoice %s: negative total_amount %s", inv.InvoiceID, inv.TotalAmount)
	}
	if inv.CommissionRate != nil {
		if inv.CommissionRate.IsNegative() || inv.CommissionRate.GreaterThan(decimal.NewFromInt(1)) {
			return fmt.Errorf("invoice %s: commission_rate %s outside [0,1]", inv.InvoiceID, inv.CommissionRate)
		}
	}
	if inv.CommissionAmount != nil && inv.CommissionAmount.IsNegative() {
		return fmt.Errorf("invoice %s: negative commission_amount %s", inv.InvoiceID, inv.CommissionAmount)
	}
	if len(inv.LineItems) == 0 {
		return fmt.Errorf("invoice %s: no line items", inv.InvoiceID)
	}

	seen := make(map[int]bool, len(inv.LineItems))
	lineSum := decimal.Zero
	for _, li := range inv.LineItems {
		if err := li.Validate(); err != nil {
			return fmt.Errorf("invoice %s: %w", inv.InvoiceID, err)
		}
		if seen[li.LineNumber] {
			return fmt.Errorf("invoice %s: duplicate line_number %d", inv.InvoiceID, li.LineNumber)
		}
		seen[li.LineNumber] = true
		lineSum = lineSum.Add(li.Amount)
	}

	expectedTotal := inv.Subtotal.Add(inv.TaxAmount)
	if inv.TotalAmount.Sub(expectedTotal).Abs().GreaterThan(totalTolerance) {
		return fmt.Errorf("invoice %s: total_amount %s does not match subtotal + tax_amount = %s within %s",
			inv.InvoiceID, inv.TotalAmount, expectedTotal, totalTolerance)
	}
	if lineSum.Sub(inv.Subtotal).Abs().GreaterThan(totalTolerance) {
		return fmt.Errorf("invoice %s: line item sum %s does not match subtotal %s within %s",
			inv.InvoiceID, lineSum, inv.Subtotal, totalTolerance)
	}
	return nil
}
