package bigquery

import (
	"errors"
	"testing"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"

	"github.com/pithecene-io/smelter/fault"
	"github.com/pithecene-io/smelter/warehouse"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		permanent bool
	}{
		{"row-level schema mismatch", bigquery.PutMultiError{bigquery.RowInsertionError{InsertID: "x"}}, true},
		{"api 400", &googleapi.Error{Code: 400, Message: "Invalid field"}, true},
		{"api 404", &googleapi.Error{Code: 404, Message: "Table not found"}, true},
		{"api 429", &googleapi.Error{Code: 429, Message: "Quota exceeded"}, false},
		{"api 500", &googleapi.Error{Code: 500, Message: "Backend error"}, false},
		{"api 503", &googleapi.Error{Code: 503, Message: "Service unavailable"}, false},
		{"plain network", errors.New("dial tcp: i/o timeout"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := classify("warehouse.insert", tc.err)
			if fault.IsPermanent(got) != tc.permanent {
				t.Errorf("permanent = %v, want %v (%v)", fault.IsPermanent(got), tc.permanent, got)
			}
		})
	}
}

func TestTablesDefaults(t *testing.T) {
	got := Tables{}.withDefaults()
	if got.Invoices != warehouse.TableInvoices || got.LineItems != warehouse.TableLineItems || got.Metrics != warehouse.TableMetrics {
		t.Fatalf("defaults = %+v", got)
	}

	custom := Tables{Invoices: "inv", LineItems: "li", Metrics: "m"}.withDefaults()
	if custom.Invoices != "inv" || custom.LineItems != "li" || custom.Metrics != "m" {
		t.Fatalf("custom names overwritten: %+v", custom)
	}
}

// The row structs must stay inferable or New fails at startup.
func TestRowSchemasInfer(t *testing.T) {
	for name, v := range map[string]any{
		"invoices":   warehouse.InvoiceRow{},
		"line_items": warehouse.LineItemRow{},
		"metrics":    warehouse.MetricsRow{},
	} {
		if _, err := bigquery.InferSchema(v); err != nil {
			t.Errorf("InferSchema(%s): %v", name, err)
		}
	}
}
