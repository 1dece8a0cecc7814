package store

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/pithecene-io/smelter/types"
)

// Canonical object names. Every stage builds names through these helpers
// so replays land on identical keys, which is what makes overwrite-style
// idempotency work.

// PageName is the normalized page image location:
// processed/<invoice_id>/page-NNN.png
func PageName(invoiceID string, pageIndex int) string {
	return fmt.Sprintf("processed/%s/page-%03d.png", invoiceID, pageIndex)
}

// ClassifiedPageName is the vendor-partitioned page copy:
// classified/<vendor>/<invoice_id>/page-NNN.png
func ClassifiedPageName(vendor types.VendorType, invoiceID string, pageIndex int) string {
	return fmt.Sprintf("classified/%s/%s/page-%03d.png", vendor, invoiceID, pageIndex)
}

// ExtractionName is the raw extraction document:
// extracted/<vendor>/<invoice_id>.json
func ExtractionName(vendor types.VendorType, invoiceID string) string {
	return fmt.Sprintf("extracted/%s/%s.json", vendor, invoiceID)
}

// ArchiveName dates a loaded source object:
// archive/YYYY/MM/DD/<source-name>
func ArchiveName(t time.Time, sourceName string) string {
	return fmt.Sprintf("archive/%s/%s", t.UTC().Format("2006/01/02"), path.Base(sourceName))
}

// FailedName quarantines an object under its failure reason:
// failed/<reason>/<yyyy-mm-dd>/<name>
func FailedName(reason string, t time.Time, name string) string {
	return fmt.Sprintf("failed/%s/%s/%s", reason, t.UTC().Format("2006-01-02"), path.Base(name))
}

// DLQRecordName keys a dead-letter record by message id:
// failed/dlq/<origin_stage>/<yyyy-mm-dd>/<message_id>.json
func DLQRecordName(originStage string, t time.Time, messageID string) string {
	return fmt.Sprintf("failed/dlq/%s/%s/%s.json", originStage, t.UTC().Format("2006-01-02"), messageID)
}

// Quarantine writes a failed payload under the canonical failed layout
// and returns its URI. Stages call this before acking a permanent
// failure; the write is overwrite-safe so replays are idempotent.
func Quarantine(ctx context.Context, s Store, bucket, reason string, t time.Time, name string, data []byte, contentType string) (string, error) {
	return s.Put(ctx, bucket, FailedName(reason, t, name), data, contentType)
}

// QuarantineCopy copies a failed source object under the canonical
// failed layout. The landing object itself is never deleted.
func QuarantineCopy(ctx context.Context, s Store, src types.ObjectRef, bucket, reason string, t time.Time) (string, error) {
	return s.Copy(ctx, src.Bucket, src.Name, bucket, FailedName(reason, t, src.Name))
}
