// Package types defines the shared kernel of the pipeline: stage event
// payloads, the invoice extraction schema, vendor classification, and
// object references. It is pure and performs no I/O.
package types

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrSchema marks payloads that fail structural or field validation.
// Schema violations are permanent: redelivery cannot repair them.
// Use errors.Is(err, ErrSchema) for classification.
var ErrSchema = errors.New("schema violation")

func schemaErr(what string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrSchema, what, err)
}

// DecodeSourceObject decodes the storage notification payload consumed by
// the normalizer.
func DecodeSourceObject(data []byte) (*SourceObject, error) {
	var src SourceObject
	if err := json.Unmarshal(data, &src); err != nil {
		return nil, schemaErr("source object", err)
	}
	if err := src.Validate(); err != nil {
		return nil, schemaErr("source object", err)
	}
	return &src, nil
}

// ConvertedEvent announces that a source object was rendered into one
// image per page.
type ConvertedEvent struct {
	InvoiceID string    `json:"invoice_id"`
	Source    ObjectRef `json:"source"`
	Pages     []PageRef `json:"pages"`
}

// Validate checks the converted-event field constraints.
func (e *ConvertedEvent) Validate() error {
	if e.InvoiceID == "" {
		return errors.New("converted event: invoice_id is empty")
	}
	if err := e.Source.Validate(); err != nil {
		return fmt.Errorf("converted event %s: %w", e.InvoiceID, err)
	}
	if len(e.Pages) == 0 {
		return fmt.Errorf("converted event %s: no pages", e.InvoiceID)
	}
	names := make(map[string]bool, len(e.Pages))
	indexes := make(map[int]bool, len(e.Pages))
	for _, p := range e.Pages {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("converted event %s: %w", e.InvoiceID, err)
		}
		if names[p.Name] {
			return fmt.Errorf("converted event %s: duplicate page name %s", e.InvoiceID, p.Name)
		}
		if indexes[p.PageIndex] {
			return fmt.Errorf("converted event %s: duplicate page_index %d", e.InvoiceID, p.PageIndex)
		}
		names[p.Name] = true
		indexes[p.PageIndex] = true
	}
	return nil
}

// Encode serializes the event, validating first so malformed events are
// never published.
func (e *ConvertedEvent) Encode() ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(e)
}

// DecodeConverted decodes and validates a converted event.
func DecodeConverted(data []byte) (*ConvertedEvent, error) {
	var ev ConvertedEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, schemaErr("converted event", err)
	}
	if err := ev.Validate(); err != nil {
		return nil, schemaErr("converted event", err)
	}
	return &ev, nil
}

// ClassifiedEvent announces the vendor category decided for an invoice
// and the vendor-partitioned copies of its pages. Source is the original
// landing object, carried forward so the loader can archive it.
type ClassifiedEvent struct {
	InvoiceID string     `json:"invoice_id"`
	Vendor    VendorType `json:"vendor"`
	Source    ObjectRef  `json:"source"`
	Pages     []PageRef  `json:"pages"`
}

// Validate checks the classified-event field constraints.
func (e *ClassifiedEvent) Validate() error {
	if e.InvoiceID == "" {
		return errors.New("classified event: invoice_id is empty")
	}
	if !e.Vendor.Valid() {
		return fmt.Errorf("classified event %s: unknown vendor %q", e.InvoiceID, e.Vendor)
	}
	if err := e.Source.Validate(); err != nil {
		return fmt.Errorf("classified event %s: %w", e.InvoiceID, err)
	}
	if len(e.Pages) == 0 {
		return fmt.Errorf("classified event %s: no pages", e.InvoiceID)
	}
	for _, p := range e.Pages {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("classified event %s: %w", e.InvoiceID, err)
		}
	}
	return nil
}

// Encode serializes the event, validating first.
func (e *ClassifiedEvent) Encode() ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(e)
}

// DecodeClassified decodes and validates a classified event.
func DecodeClassified(data []byte) (*ClassifiedEvent, error) {
	var ev ClassifiedEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, schemaErr("classified event", err)
	}
	if err := ev.Validate(); err != nil {
		return nil, schemaErr("classified event", err)
	}
	return &ev, nil
}

// ExtractedEvent carries a validated extraction toward the warehouse
// writer. Meta records how the extraction was produced.
type ExtractedEvent struct {
	InvoiceID  string          `json:"invoice_id"`
	Vendor     VendorType      `json:"vendor"`
	Source     ObjectRef       `json:"source"`
	Extraction Invoice         `json:"extraction"`
	Meta       *ExtractionMeta `json:"metadata,omitempty"`
}

// Validate checks the extracted-event field constraints, including the
// full extraction schema and the vendor-override invariant: the event
// vendor (decided by the classifier) is authoritative, and the extraction
// must agree with it.
func (e *ExtractedEvent) Validate() error {
	if e.InvoiceID == "" {
		return errors.New("extracted event: invoice_id is empty")
	}
	if !e.Vendor.Valid() {
		return fmt.Errorf("extracted event %s: unknown vendor %q", e.InvoiceID, e.Vendor)
	}
	if err := e.Source.Validate(); err != nil {
		return fmt.Errorf("extracted event %s: %w", e.InvoiceID, err)
	}
	if err := e.Extraction.Validate(); err != nil {
		return fmt.Errorf("extracted event: %w", err)
	}
	if e.Extraction.VendorType != e.Vendor {
		return fmt.Errorf("extracted event %s: extraction vendor_type %q disagrees with classified vendor %q",
			e.InvoiceID, e.Extraction.VendorType, e.Vendor)
	}
	if e.Extraction.InvoiceID != e.InvoiceID {
		return fmt.Errorf("extracted event %s: extraction invoice_id %q disagrees",
			e.InvoiceID, e.Extraction.InvoiceID)
	}
	return nil
}

// Encode serializes the event, validating first.
func (e *ExtractedEvent) Encode() ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(e)
}

// DecodeExtracted decodes and validates an extracted event.
func DecodeExtracted(data []byte) (*ExtractedEvent, error) {
	var ev ExtractedEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, schemaErr("extracted event", err)
	}
	if err := ev.Validate(); err != nil {
		return nil, schemaErr("extracted event", err)
	}
	return &ev, nil
}

// LoadedEvent announces that an invoice landed in the warehouse.
type LoadedEvent struct {
	InvoiceID string `json:"invoice_id"`
	RowID     string `json:"row_id"`
	Table     string `json:"table"`
}

// Validate checks the loaded-event field constraints.
func (e *LoadedEvent) Validate() error {
	if e.InvoiceID == "" {
		return errors.New("loaded event: invoice_id is empty")
	}
	if e.RowID == "" {
		return fmt.Errorf("loaded event %s: row_id is empty", e.InvoiceID)
	}
	if e.Table == "" {
		return fmt.Errorf("loaded event %s: table is empty", e.InvoiceID)
	}
	return nil
}

// Encode serializes the event, validating first.
func (e *LoadedEvent) Encode() ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(e)
}

// DecodeLoaded decodes and validates a loaded event.
func DecodeLoaded(data []byte) (*LoadedEvent, error) {
	var ev LoadedEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, schemaErr("loaded event", err)
	}
	if err := ev.Validate(); err != nil {
		return nil, schemaErr("loaded event", err)
	}
	return &ev, nil
}

// DeadLetterRecord is the quarantine document written for one
// dead-lettered message. Body is the original payload, verbatim; JSON
// encodes it as base64.
type DeadLetterRecord struct {
	MessageID        string            `json:"message_id"`
	OriginTopic      string            `json:"origin_topic"`
	OriginStage      string            `json:"origin_stage"`
	DeliveryCount    int               `json:"delivery_count"`
	FirstFailureAt   string            `json:"first_failure_at,omitempty"`
	LastErrorMessage string            `json:"last_error_message,omitempty"`
	Attributes       map[string]string `json:"attributes,omitempty"`
	Body             []byte            `json:"body"`
	ReceivedAt       string            `json:"received_at"`
}

// Encode serializes the record.
func (r *DeadLetterRecord) Encode() ([]byte, error) {
	if r.MessageID == "" {
		return nil, errors.New("dead letter record: message_id is empty")
	}
	return json.Marshal(r)
}

// DecodeDeadLetterRecord decodes a quarantined dead-letter record.
func DecodeDeadLetterRecord(data []byte) (*DeadLetterRecord, error) {
	var rec DeadLetterRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, schemaErr("dead letter record", err)
	}
	if rec.MessageID == "" {
		return nil, schemaErr("dead letter record", errors.New("message_id is empty"))
	}
	return &rec, nil
}
