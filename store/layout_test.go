package store

import (
	"context"
	"testing"
	"time"

	"github.com/pithecene-io/smelter/types"
)

func TestCanonicalNames(t *testing.T) {
	at := time.Date(2024, 1, 5, 13, 45, 0, 0, time.UTC)

	cases := []struct {
		got, want string
	}{
		{PageName("UE-2024-001", 0), "processed/UE-2024-001/page-000.png"},
		{PageName("UE-2024-001", 12), "processed/UE-2024-001/page-012.png"},
		{ClassifiedPageName(types.VendorUberEats, "UE-2024-001", 1), "classified/ubereats/UE-2024-001/page-001.png"},
		{ExtractionName(types.VendorRappi, "RP-55"), "extracted/rappi/RP-55.json"},
		{ArchiveName(at, "landing/UE-2024-001.tiff"), "archive/2024/01/05/UE-2024-001.tiff"},
		{FailedName("unsupported", at, "landing/report.xlsx"), "failed/unsupported/2024-01-05/report.xlsx"},
		{FailedName("extract", at, "UE-2024-001.error.json"), "failed/extract/2024-01-05/UE-2024-001.error.json"},
		{DLQRecordName("extractor", at, "m-991"), "failed/dlq/extractor/2024-01-05/m-991.json"},
	}
	for _, tc := range cases {
		if tc.got != tc.want {
			t.Errorf("got %q, want %q", tc.got, tc.want)
		}
	}
}

func TestQuarantineHelpers(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2024, 1, 5, 13, 45, 0, 0, time.UTC)
	m := NewMemory()

	uri, err := Quarantine(ctx, m, "inv-failed", "schema", at, "m-17.json", []byte(`{"bad":true}`), "application/json")
	if err != nil {
		t.Fatalf("Quarantine: %v", err)
	}
	if uri == "" || !m.Exists("inv-failed", "failed/schema/2024-01-05/m-17.json") {
		t.Fatalf("quarantined payload missing (uri %q)", uri)
	}

	if _, err := m.Put(ctx, "inv-input", "landing/XX-zzz.tiff", []byte("bytes"), "image/tiff"); err != nil {
		t.Fatal(err)
	}
	src := types.ObjectRef{Bucket: "inv-input", Name: "landing/XX-zzz.tiff"}
	if _, err := QuarantineCopy(ctx, m, src, "inv-failed", "convert", at); err != nil {
		t.Fatalf("QuarantineCopy: %v", err)
	}
	if !m.Exists("inv-failed", "failed/convert/2024-01-05/XX-zzz.tiff") {
		t.Fatal("quarantined copy missing")
	}
	// The landing object survives quarantine.
	if !m.Exists("inv-input", "landing/XX-zzz.tiff") {
		t.Fatal("landing object deleted by quarantine")
	}
}

func TestNamesAreReplayStable(t *testing.T) {
	// Identical inputs must produce identical keys; replays overwrite
	// instead of accumulating.
	at := time.Date(2024, 1, 5, 13, 45, 0, 0, time.UTC)
	if PageName("DD-1", 3) != PageName("DD-1", 3) {
		t.Error("page name not stable")
	}
	if DLQRecordName("loader", at, "m-1") != DLQRecordName("loader", at, "m-1") {
		t.Error("dlq record name not stable")
	}
}
