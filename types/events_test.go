package types

import (
	"bytes"
	"errors"
	"testing"
)

func validConverted() *ConvertedEvent {
	return &ConvertedEvent{
		InvoiceID: "UE-2024-001",
		Source:    ObjectRef{Bucket: "inv-input", Name: "landing/UE-2024-001.tiff"},
		Pages: []PageRef{
			{Bucket: "inv-processed", Name: "processed/UE-2024-001/page-000.png", PageIndex: 0},
			{Bucket: "inv-processed", Name: "processed/UE-2024-001/page-001.png", PageIndex: 1},
		},
	}
}

func TestConvertedRoundTrip(t *testing.T) {
	ev := validConverted()
	raw, err := ev.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	back, err := DecodeConverted(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	again, err := back.Encode()
	if err != nil {
		t.Fatalf("re-encode: %v", err)
	}
	if !bytes.Equal(raw, again) {
		t.Errorf("encoding not stable:\n  %s\n  %s", raw, again)
	}
}

func TestConvertedValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(ev *ConvertedEvent)
	}{
		{"empty invoice id", func(ev *ConvertedEvent) { ev.InvoiceID = "" }},
		{"no pages", func(ev *ConvertedEvent) { ev.Pages = nil }},
		{"negative page index", func(ev *ConvertedEvent) { ev.Pages[0].PageIndex = -1 }},
		{"duplicate page name", func(ev *ConvertedEvent) { ev.Pages[1].Name = ev.Pages[0].Name }},
		{"duplicate page index", func(ev *ConvertedEvent) { ev.Pages[1].PageIndex = 0 }},
		{"source missing bucket", func(ev *ConvertedEvent) { ev.Source.Bucket = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ev := validConverted()
			tc.mutate(ev)
			if err := ev.Validate(); err == nil {
				t.Error("expected validation error")
			}
			if _, err := ev.Encode(); err == nil {
				t.Error("encode accepted invalid event")
			}
		})
	}
}

func TestDecodeConvertedGarbage(t *testing.T) {
	_, err := DecodeConverted([]byte(`{"invoice_id": 7}`))
	if err == nil {
		t.Fatal("expected decode error")
	}
	if !errors.Is(err, ErrSchema) {
		t.Errorf("decode error %v is not ErrSchema", err)
	}
}

func TestClassifiedValidate(t *testing.T) {
	ev := &ClassifiedEvent{
		InvoiceID: "DD-77",
		Vendor:    VendorDoorDash,
		Source:    ObjectRef{Bucket: "inv-input", Name: "landing/DD-77.tiff"},
		Pages: []PageRef{
			{Bucket: "inv-classified", Name: "classified/doordash/DD-77/page-000.png", PageIndex: 0},
		},
	}
	raw, err := ev.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	back, err := DecodeClassified(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if back.Vendor != VendorDoorDash {
		t.Errorf("vendor = %q, want doordash", back.Vendor)
	}

	ev.Vendor = "postmates"
	if err := ev.Validate(); err == nil {
		t.Error("unknown vendor accepted")
	}
}

func validExtracted(t *testing.T) *ExtractedEvent {
	t.Helper()
	return &ExtractedEvent{
		InvoiceID:  "UE-2024-001",
		Vendor:     VendorUberEats,
		Source:     ObjectRef{Bucket: "inv-input", Name: "landing/UE-2024-001.tiff"},
		Extraction: *validInvoice(t),
		Meta: &ExtractionMeta{
			Model:     "gemini-2.0-flash",
			LatencyMS: 1840,
		},
	}
}

func TestExtractedRoundTrip(t *testing.T) {
	ev := validExtracted(t)
	raw, err := ev.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	back, err := DecodeExtracted(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !back.Extraction.TotalAmount.Equal(ev.Extraction.TotalAmount) {
		t.Errorf("total_amount changed: %s vs %s", back.Extraction.TotalAmount, ev.Extraction.TotalAmount)
	}
	if back.Meta == nil || back.Meta.Model != "gemini-2.0-flash" {
		t.Errorf("metadata lost: %+v", back.Meta)
	}
}

func TestExtractedVendorAgreement(t *testing.T) {
	ev := validExtracted(t)
	ev.Extraction.VendorType = VendorRappi
	if err := ev.Validate(); err == nil {
		t.Error("vendor disagreement accepted")
	}

	ev = validExtracted(t)
	ev.Extraction.InvoiceID = "UE-2024-999"
	if err := ev.Validate(); err == nil {
		t.Error("invoice_id disagreement accepted")
	}
}

func TestExtractedRejectsBadArithmetic(t *testing.T) {
	ev := validExtracted(t)
	ev.Extraction.TotalAmount = dec(t, "999.99")
	raw, err := ev.Encode()
	if err == nil {
		// Encode validates, so this only runs if encoding were permissive.
		if _, err := DecodeExtracted(raw); err == nil {
			t.Error("arithmetic violation survived decode")
		}
		t.Error("encode accepted arithmetic violation")
	}
}

func TestLoadedRoundTrip(t *testing.T) {
	ev := &LoadedEvent{InvoiceID: "GH-12", RowID: "0190f2a4-40dd-7cc3-b7a8-0b9ed1a0c0de", Table: "invoices"}
	raw, err := ev.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	back, err := DecodeLoaded(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if back.RowID != ev.RowID {
		t.Errorf("row_id changed: %q", back.RowID)
	}
	if err := (&LoadedEvent{InvoiceID: "GH-12"}).Validate(); err == nil {
		t.Error("missing row_id accepted")
	}
}

func TestDeadLetterRecordRoundTrip(t *testing.T) {
	body := []byte(`{"invoice_id":"UE-1","pages":[]}`)
	rec := &DeadLetterRecord{
		MessageID:        "m-123",
		OriginTopic:      "invoice-classified",
		OriginStage:      "extractor",
		DeliveryCount:    5,
		LastErrorMessage: "model output rejected",
		Attributes:       map[string]string{"CloudPubSubDeadLetterSourceDeliveryCount": "5"},
		Body:             body,
		ReceivedAt:       "2024-01-05T12:00:00Z",
	}
	raw, err := rec.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	back, err := DecodeDeadLetterRecord(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(back.Body, body) {
		t.Errorf("body not preserved verbatim: %s", back.Body)
	}
	if back.DeliveryCount != 5 {
		t.Errorf("delivery_count = %d, want 5", back.DeliveryCount)
	}

	if _, err := (&DeadLetterRecord{}).Encode(); err == nil {
		t.Error("record without message_id accepted")
	}
}

func TestDecodeSourceObject(t *testing.T) {
	raw := []byte(`{
		"bucket": "inv-input",
		"name": "landing/UE-2024-001.tiff",
		"contentType": "image/tiff",
		"size": "48211",
		"timeCreated": "2024-01-05T11:58:03.412Z"
	}`)
	src, err := DecodeSourceObject(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if src.Bucket != "inv-input" || src.Name != "landing/UE-2024-001.tiff" {
		t.Errorf("unexpected ref: %+v", src)
	}

	if _, err := DecodeSourceObject([]byte(`{"bucket":"b"}`)); err == nil {
		t.Error("notification without name accepted")
	}
	if _, err := DecodeSourceObject([]byte(`not json`)); err == nil {
		t.Error("garbage accepted")
	}
}
