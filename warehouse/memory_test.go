package warehouse

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pithecene-io/smelter/fault"
)

func TestMemoryInsertAndDedup(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	ok, err := m.HasInvoice(ctx, "UE-2026-000001")
	if err != nil || ok {
		t.Fatalf("HasInvoice on empty = %v, %v", ok, err)
	}

	rows, err := BuildRows(sampleEvent(), time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Insert(ctx, rows); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	ok, err = m.HasInvoice(ctx, "UE-2026-000001")
	if err != nil || !ok {
		t.Fatalf("HasInvoice after insert = %v, %v", ok, err)
	}
	if got := m.Rows("UE-2026-000001"); got == nil || len(got.LineItems) != 2 {
		t.Fatalf("stored rows = %+v", got)
	}
}

func TestMemoryDelete(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	rows, _ := BuildRows(sampleEvent(), time.Now())
	if err := m.Insert(ctx, rows); err != nil {
		t.Fatal(err)
	}
	if err := m.DeleteInvoice(ctx, "UE-2026-000001"); err != nil {
		t.Fatalf("DeleteInvoice: %v", err)
	}
	if ok, _ := m.HasInvoice(ctx, "UE-2026-000001"); ok {
		t.Fatal("invoice survived delete")
	}
	// Absent rows delete cleanly.
	if err := m.DeleteInvoice(ctx, "UE-2026-000001"); err != nil {
		t.Fatalf("second delete: %v", err)
	}
}

func TestMemoryFailureInjection(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.Fail("insert", 1, errors.New("quota exceeded"))

	rows, _ := BuildRows(sampleEvent(), time.Now())
	err := m.Insert(ctx, rows)
	if err == nil || !fault.IsTransient(err) {
		t.Fatalf("injected insert error = %v, want transient", err)
	}
	// Failure consumed; the retry lands.
	if err := m.Insert(ctx, rows); err != nil {
		t.Fatalf("retry: %v", err)
	}
}

func TestMemoryPartialInsert(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.FailAfterHeader(1, errors.New("streaming insert: backend error"))

	rows, _ := BuildRows(sampleEvent(), time.Now())
	err := m.Insert(ctx, rows)
	if err == nil || !fault.IsTransient(err) {
		t.Fatalf("partial insert error = %v, want transient", err)
	}
	// The orphan header is visible until recovery deletes it.
	if ok, _ := m.HasInvoice(ctx, "UE-2026-000001"); !ok {
		t.Fatal("partial insert left no header")
	}
	got := m.Rows("UE-2026-000001")
	if len(got.LineItems) != 0 {
		t.Fatalf("partial insert landed %d line rows", len(got.LineItems))
	}
}
