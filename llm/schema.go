package llm

import "github.com/google/generative-ai-go/genai"

// invoiceSchema is the response schema the model is constrained to in
// JSON mode. It mirrors types.Invoice field for field; cross-field
// arithmetic cannot be expressed here and is enforced by the validator
// after parsing.
func invoiceSchema() *genai.Schema {
	money := func(desc string) *genai.Schema {
		return &genai.Schema{
			Type:        genai.TypeString,
			Description: desc + " Decimal number with at most two fractional digits, as a string.",
		}
	}
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"invoice_id": {
				Type:        genai.TypeString,
				Description: "Invoice identifier as printed on the document.",
			},
			"vendor_name": {
				Type:        genai.TypeString,
				Description: "Issuing platform name as printed on the document.",
			},
			"vendor_type": {
				Type: genai.TypeString,
				Enum: []string{"ubereats", "doordash", "grubhub", "ifood", "rappi", "other"},
			},
			"invoice_date": {
				Type:        genai.TypeString,
				Description: "Issue date, YYYY-MM-DD.",
			},
			"due_date": {
				Type:        genai.TypeString,
				Description: "Payment due date, YYYY-MM-DD. Not before invoice_date.",
			},
			"currency": {
				Type:        genai.TypeString,
				Description: "ISO-4217 currency code, three uppercase letters.",
			},
			"subtotal":   money("Sum of line item amounts before tax."),
			"tax_amount": money("Total tax."),
			"commission_rate": {
				Type:        genai.TypeString,
				Nullable:    true,
				Description: "Platform commission as a ratio in [0,1], or null.",
			},
			"commission_amount": func() *genai.Schema {
				s := money("Platform commission amount, or null.")
				s.Nullable = true
				return s
			}(),
			"total_amount": money("Grand total: subtotal + tax_amount."),
			"line_items": {
				Type: genai.TypeArray,
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"line_number": {
							Type:        genai.TypeInteger,
							Description: "1-based position in document order.",
						},
						"description": {Type: genai.TypeString},
						"quantity":    {Type: genai.TypeInteger},
						"unit_price":  money("Price per unit."),
						"amount":      money("quantity x unit_price."),
					},
					Required: []string{"line_number", "description", "quantity", "unit_price", "amount"},
				},
			},
		},
		Required: []string{
			"invoice_id", "vendor_name", "vendor_type", "invoice_date", "due_date",
			"currency", "subtotal", "tax_amount", "total_amount", "line_items",
		},
	}
}
