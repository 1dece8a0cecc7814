package normalize

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/gif"
	"image/png"
	"strings"
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
		ProcessedBucket: "inv-processed",
		FailedBucket:    "inv-failed",
		ConvertedTopic:  "invoice-converted",
	})
	h.now = func() time.Time { return frozen }
	return h, st, b
}

func multiPageGIF(t *testing.T, pages int) []byte {
	t.Helper()
	g := &gif.GIF{}
	for i := 0; i < pages; i++ {
		frame := image.NewPaletted(image.Rect(0, 0, 8, 8), color.Palette{color.White, color.Black})
		frame.SetColorIndex(i%8, i%8, 1)
		g.Image = append(g.Image, frame)
		g.Delay = append(g.Delay, 0)
	}
	var buf bytes.Buffer
	if err := gif.EncodeAll(&buf, g); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func notification(bucket, name, contentType string) []byte {
	src := types.SourceObject{Bucket: bucket, Name: name, ContentType: contentType}
	data, _ := json.Marshal(src)
	return data
}

func delivery(data []byte) runtime.Delivery {
	return runtime.Delivery{MessageID: "m-1", Attempt: 1, Data: data}
}

func TestHandleMultiPage(t *testing.T) {
	h, st, b := newHandler()
	ctx := context.Background()

	if _, err := st.Put(ctx, "inv-input", "UE-2026-000001.gif", multiPageGIF(t, 2), "image/gif"); err != nil {
		t.Fatal(err)
	}

	err := h.Handle(ctx, delivery(notification("inv-input", "UE-2026-000001.gif", "image/gif")))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}

	for _, name := range []string{
		"processed/UE-2026-000001/page-000.png",
		"processed/UE-2026-000001/page-001.png",
	} {
		if !st.Exists("inv-processed", name) {
			t.Errorf("missing page object %s", name)
		}
		if _, err := png.Decode(bytes.NewReader(st.Data("inv-processed", name))); err != nil {
			t.Errorf("page %s is not PNG: %v", name, err)
		}
	}

	msgs := b.ByTopic("invoice-converted")
	if len(msgs) != 1 {
		t.Fatalf("published = %d, want 1", len(msgs))
	}
	ev, err := types.DecodeConverted(msgs[0].Data)
	if err != nil {
		t.Fatalf("decode converted: %v", err)
	}
	if ev.InvoiceID != "UE-2026-000001" || len(ev.Pages) != 2 {
		t.Fatalf("event = %+v", ev)
	}
	if ev.Pages[0].PageIndex != 0 || ev.Pages[1].PageIndex != 1 {
		t.Fatalf("page indexes = %+v", ev.Pages)
	}
	if ev.Source.Name != "UE-2026-000001.gif" {
		t.Fatalf("source = %+v", ev.Source)
	}
}

func TestHandleIsIdempotent(t *testing.T) {
	h, st, b := newHandler()
	ctx := context.Background()

	if _, err := st.Put(ctx, "inv-input", "DD-2026-000042.gif", multiPageGIF(t, 1), "image/gif"); err != nil {
		t.Fatal(err)
	}
	d := delivery(notification("inv-input", "DD-2026-000042.gif", "image/gif"))

	if err := h.Handle(ctx, d); err != nil {
		t.Fatal(err)
	}
	first := st.Data("inv-processed", "processed/DD-2026-000042/page-000.png")

	if err := h.Handle(ctx, d); err != nil {
		t.Fatal(err)
	}
	second := st.Data("inv-processed", "processed/DD-2026-000042/page-000.png")

	if !bytes.Equal(first, second) {
		t.Fatal("replayed delivery produced different page bytes")
	}
	if got := len(b.ByTopic("invoice-converted")); got != 2 {
		t.Fatalf("events = %d, want 2 (one per delivery)", got)
	}
}

func TestHandleUnsupportedContentType(t *testing.T) {
	h, st, _ := newHandler()
	ctx := context.Background()

	if _, err := st.Put(ctx, "inv-input", "report.xlsx", []byte("spreadsheet"), "application/vnd.ms-excel"); err != nil {
		t.Fatal(err)
	}

	err := h.Handle(ctx, delivery(notification("inv-input", "report.xlsx", "application/vnd.ms-excel")))
	if !fault.IsPermanent(err) {
		t.Fatalf("err = %v, want permanent", err)
	}
	if !st.Exists("inv-failed", "failed/unsupported/2026-08-25/report.xlsx") {
		t.Fatal("unsupported object not quarantined")
	}
	// The landing object stays.
	if !st.Exists("inv-input", "report.xlsx") {
		t.Fatal("landing object deleted")
	}
}

func TestHandleMalformedImage(t *testing.T) {
	h, st, b := newHandler()
	ctx := context.Background()

	if _, err := st.Put(ctx, "inv-input", "GH-2026-000007.tiff", []byte("not a tiff"), "image/tiff"); err != nil {
		t.Fatal(err)
	}

	err := h.Handle(ctx, delivery(notification("inv-input", "GH-2026-000007.tiff", "image/tiff")))
	if !fault.IsPermanent(err) {
		t.Fatalf("err = %v, want permanent", err)
	}
	if !st.Exists("inv-failed", "failed/convert/2026-08-25/GH-2026-000007.tiff") {
		t.Fatal("malformed object not quarantined")
	}
	if got := len(b.ByTopic("invoice-converted")); got != 0 {
		t.Fatalf("events published on failure: %d", got)
	}
}

func TestHandleQuarantineFailureStaysTransient(t *testing.T) {
	h, st, _ := newHandler()
	ctx := context.Background()

	if _, err := st.Put(ctx, "inv-input", "bad.tiff", []byte("junk"), "image/tiff"); err != nil {
		t.Fatal(err)
	}
	st.Fail("copy", 1, errors.New("unavailable"))

	err := h.Handle(ctx, delivery(notification("inv-input", "bad.tiff", "image/tiff")))
	if err == nil || fault.IsPermanent(err) {
		t.Fatalf("err = %v, want transient (quarantine must land before ack)", err)
	}
}

func TestHandleTransientGet(t *testing.T) {
	h, st, _ := newHandler()
	ctx := context.Background()

	if _, err := st.Put(ctx, "inv-input", "IF-2026-000315.gif", multiPageGIF(t, 1), "image/gif"); err != nil {
		t.Fatal(err)
	}
	st.Fail("get", 1, errors.New("connection reset"))

	err := h.Handle(ctx, delivery(notification("inv-input", "IF-2026-000315.gif", "image/gif")))
	if err == nil || fault.IsPermanent(err) {
		t.Fatalf("err = %v, want transient", err)
	}
}

func TestHandlePoisonPayloadQuarantined(t *testing.T) {
	h, st, _ := newHandler()
	ctx := context.Background()

	err := h.Handle(ctx, delivery([]byte("not json at all")))
	if !fault.IsPermanent(err) {
		t.Fatalf("err = %v, want permanent", err)
	}
	if !st.Exists("inv-failed", "failed/schema/2026-08-25/m-1.json") {
		t.Fatal("undecodable payload not quarantined")
	}
}

func TestDeriveUnknownInvoiceID(t *testing.T) {
	h, st, b := newHandler()
	ctx := context.Background()

	if _, err := st.Put(ctx, "inv-input", "XX-zzz.gif", multiPageGIF(t, 1), "image/gif"); err != nil {
		t.Fatal(err)
	}
	if err := h.Handle(ctx, delivery(notification("inv-input", "XX-zzz.gif", "image/gif"))); err != nil {
		t.Fatal(err)
	}

	msgs := b.ByTopic("invoice-converted")
	ev, err := types.DecodeConverted(msgs[0].Data)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(ev.InvoiceID, "unknown-") {
		t.Fatalf("invoice id = %q, want unknown- prefix", ev.InvoiceID)
	}
}
