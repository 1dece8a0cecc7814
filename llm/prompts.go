package llm

import (
	"fmt"

	"github.com/pithecene-io/smelter/types"
)

// vendorContext carries the per-platform lines spliced into the base
// prompt: the display name the platform prints on its invoices, the
// invoice-id pattern the model should expect, and billing quirks worth
// calling out.
type vendorContext struct {
	displayName string
	idPattern   string
	hints       string
}

var vendorContexts = map[types.VendorType]vendorContext{
	types.VendorUberEats: {
		displayName: "Uber Eats",
		idPattern:   "UE-YYYY-NNNNNN (e.g. UE-2026-000001)",
		hints: "Uber Eats invoices list a marketplace fee as a separate line item " +
			"and state the commission rate as a percentage near the subtotal.",
	},
	types.VendorDoorDash: {
		displayName: "DoorDash",
		idPattern:   "DD-YYYY-NNNNNN (e.g. DD-2026-000042)",
		hints: "DoorDash invoices group commission and processing fees under " +
			"\"DoorDash services\"; tax appears per line and as a summary amount.",
	},
	types.VendorGrubhub: {
		displayName: "Grubhub",
		idPattern:   "GH-YYYY-NNNNNN (e.g. GH-2026-000007)",
		hints: "Grubhub invoices show marketing and delivery commissions as " +
			"separate percentages; use the combined amount for commission_amount.",
	},
	types.VendorIFood: {
		displayName: "iFood",
		idPattern:   "IF-YYYY-NNNNNN (e.g. IF-2026-000315)",
		hints: "iFood invoices are commonly in Portuguese and amounts use BRL. " +
			"Translate field labels, keep descriptions in the original language.",
	},
	types.VendorRappi: {
		displayName: "Rappi",
		idPattern:   "RP-YYYY-NNNNNN (e.g. RP-2026-000128)",
		hints: "Rappi invoices are commonly in Spanish with COP or MXN amounts. " +
			"Translate field labels, keep descriptions in the original language.",
	},
	types.VendorOther: {
		displayName: "an unrecognized delivery platform",
		idPattern:   "whatever identifier is printed on the document",
		hints: "The platform is not one of the known integrations; extract " +
			"conservatively and prefer null over guessing.",
	},
}

const basePrompt = `You are an invoice data extraction service. The attached image is one
page of a %s restaurant invoice.

Extract the invoice data and return ONLY a JSON object conforming to the
response schema. Rules:

- Dates are ISO-8601 calendar dates: YYYY-MM-DD.
- Monetary amounts are plain decimal numbers with at most two fractional
  digits. No currency symbols, no thousands separators.
- currency is the ISO-4217 code printed on the invoice.
- invoice_id follows the pattern %s.
- commission_rate is a ratio between 0 and 1, not a percentage.
- line_items must contain every billed line, numbered from 1 in document
  order. For each line, amount = quantity x unit_price.
- subtotal is the sum of line item amounts; total_amount = subtotal +
  tax_amount.
- Use null for optional fields that are not present on the invoice.
  Never invent values.

%s`

// Prompt returns the extraction prompt for a vendor. Unknown vendors get
// the conservative generic prompt.
func Prompt(vendor types.VendorType) string {
	vc, ok := vendorContexts[vendor]
	if !ok {
		vc = vendorContexts[types.VendorOther]
	}
	return fmt.Sprintf(basePrompt, vc.displayName, vc.idPattern, vc.hints)
}
