package classify

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pithecene-io/smelter/bus"
	"github.com/pithecene-io/smelter/fault"
	"github.com/pithecene-io/smelter/runtime"
	"github.com/pithecene-io/smelter/store"
	"github.com/pithecene-io/smelter/types"
)

var frozen = time.Date(2026, 8, 25, 9, 0, 0, 0, time.UTC)

func newHandler() (*Handler, *store.Memory, *bus.Memory) {
	st := store.NewMemory()
	b := bus.NewMemory()
	h := New(st, b, nil, Config{
		ClassifiedBucket: "inv-classified",
		FailedBucket:     "inv-failed",
		ClassifiedTopic:  "invoice-classified",
	})
	h.now = func() time.Time { return frozen }
	return h, st, b
}

func convertedEvent(t *testing.T, st *store.Memory, invoiceID string, pages int) runtime.Delivery {
	t.Helper()
	ctx := context.Background()
	ev := &types.ConvertedEvent{
		InvoiceID: invoiceID,
		Source:    types.ObjectRef{Bucket: "inv-input", Name: invoiceID + ".tiff"},
	}
	for i := 0; i < pages; i++ {
		name := store.PageName(invoiceID, i)
		if _, err := st.Put(ctx, "inv-processed", name, []byte("png-"+invoiceID), "image/png"); err != nil {
			t.Fatal(err)
		}
		ev.Pages = append(ev.Pages, types.PageRef{Bucket: "inv-processed", Name: name, PageIndex: i})
	}
	data, err := ev.Encode()
	if err != nil {
		t.Fatal(err)
	}
	return runtime.Delivery{MessageID: "m-1", Attempt: 1, Data: data}
}

func TestHandleClassifiesByPattern(t *testing.T) {
	cases := []struct {
		invoiceID string
		vendor    types.VendorType
	}{
		{"UE-2026-000001", types.VendorUberEats},
		{"DD-2026-000042", types.VendorDoorDash},
		{"GH-2026-000007", types.VendorGrubhub},
		{"IF-2026-000315", types.VendorIFood},
		{"RP-2026-000128", types.VendorRappi},
		{"unknown-53a1b2c3d4e5f607", types.VendorOther},
	}
	for _, tc := range cases {
		t.Run(tc.invoiceID, func(t *testing.T) {
			h, st, b := newHandler()
			ctx := context.Background()

			if err := h.Handle(ctx, convertedEvent(t, st, tc.invoiceID, 2)); err != nil {
				t.Fatalf("Handle: %v", err)
			}

			msgs := b.ByTopic("invoice-classified")
			if len(msgs) != 1 {
				t.Fatalf("published = %d", len(msgs))
			}
			ev, err := types.DecodeClassified(msgs[0].Data)
			if err != nil {
				t.Fatal(err)
			}
			if ev.Vendor != tc.vendor {
				t.Fatalf("vendor = %s, want %s", ev.Vendor, tc.vendor)
			}

			want := store.ClassifiedPageName(tc.vendor, tc.invoiceID, 0)
			if !st.Exists("inv-classified", want) {
				t.Fatalf("missing partitioned copy %s", want)
			}
			// Copied, not re-rendered.
			if !bytes.Equal(st.Data("inv-classified", want), []byte("png-"+tc.invoiceID)) {
				t.Fatal("page bytes changed during copy")
			}
		})
	}
}

func TestHandleIsIdempotent(t *testing.T) {
	h, st, b := newHandler()
	ctx := context.Background()
	d := convertedEvent(t, st, "RP-2026-000128", 1)

	if err := h.Handle(ctx, d); err != nil {
		t.Fatal(err)
	}
	if err := h.Handle(ctx, d); err != nil {
		t.Fatal(err)
	}

	name := store.ClassifiedPageName(types.VendorRappi, "RP-2026-000128", 0)
	if !bytes.Equal(st.Data("inv-classified", name), []byte("png-RP-2026-000128")) {
		t.Fatal("replay changed the partitioned copy")
	}
	if got := len(b.ByTopic("invoice-classified")); got != 2 {
		t.Fatalf("events = %d, want 2", got)
	}
}

func TestHandleCopyFailureIsTransient(t *testing.T) {
	h, st, b := newHandler()
	ctx := context.Background()
	d := convertedEvent(t, st, "UE-2026-000002", 1)
	st.Fail("copy", 1, errors.New("unavailable"))

	err := h.Handle(ctx, d)
	if err == nil || fault.IsPermanent(err) {
		t.Fatalf("err = %v, want transient", err)
	}
	if got := len(b.ByTopic("invoice-classified")); got != 0 {
		t.Fatalf("event published despite copy failure: %d", got)
	}
}

func TestHandleMissingSourcePageIsTransient(t *testing.T) {
	h, _, _ := newHandler()
	ctx := context.Background()

	ev := &types.ConvertedEvent{
		InvoiceID: "DD-2026-000043",
		Source:    types.ObjectRef{Bucket: "inv-input", Name: "DD-2026-000043.tiff"},
		Pages:     []types.PageRef{{Bucket: "inv-processed", Name: store.PageName("DD-2026-000043", 0), PageIndex: 0}},
	}
	data, err := ev.Encode()
	if err != nil {
		t.Fatal(err)
	}

	err = h.Handle(ctx, runtime.Delivery{MessageID: "m-2", Data: data})
	if err == nil || fault.IsPermanent(err) {
		t.Fatalf("err = %v, want transient", err)
	}
}

func TestHandleUndecodablePayload(t *testing.T) {
	h, st, _ := newHandler()
	ctx := context.Background()

	err := h.Handle(ctx, runtime.Delivery{MessageID: "m-3", Data: []byte(`{"invoice_id":""}`)})
	if !fault.IsPermanent(err) {
		t.Fatalf("err = %v, want permanent", err)
	}
	if !st.Exists("inv-failed", "failed/schema/2026-08-25/m-3.json") {
		t.Fatal("undecodable payload not quarantined")
	}
}
