package types

import (
	"crypto/sha256"
	"encoding/hex"
	"path"
	"regexp"
	"strings"
)

// VendorType is the delivery-platform category of an invoice.
type VendorType string

// Known vendor categories. VendorOther marks invoices whose identifier
// matched no platform pattern.
const (
	VendorUberEats VendorType = "ubereats"
	VendorDoorDash VendorType = "doordash"
	VendorGrubhub  VendorType = "grubhub"
	VendorIFood    VendorType = "ifood"
	VendorRappi    VendorType = "rappi"
	VendorOther    VendorType = "other"
)

// Valid reports whether v is a known vendor category.
func (v VendorType) Valid() bool {
	switch v {
	case VendorUberEats, VendorDoorDash, VendorGrubhub, VendorIFood, VendorRappi, VendorOther:
		return true
	}
	return false
}

func (v VendorType) String() string { return string(v) }

// ParseVendor returns the VendorType for s, or false when s is not a
// known category.
func ParseVendor(s string) (VendorType, bool) {
	v := VendorType(strings.ToLower(s))
	if v.Valid() {
		return v, true
	}
	return "", false
}

// vendorPatterns maps invoice-id prefixes to vendor categories.
// The remainder after the prefix is dash-separated alphanumeric groups,
// e.g. UE-2026-000001.
var vendorPatterns = []struct {
	vendor VendorType
	re     *regexp.Regexp
}{
	{VendorUberEats, regexp.MustCompile(`^UE-[A-Za-z0-9][A-Za-z0-9-]*$`)},
	{VendorDoorDash, regexp.MustCompile(`^DD-[A-Za-z0-9][A-Za-z0-9-]*$`)},
	{VendorGrubhub, regexp.MustCompile(`^GH-[A-Za-z0-9][A-Za-z0-9-]*$`)},
	{VendorIFood, regexp.MustCompile(`^IF-[A-Za-z0-9][A-Za-z0-9-]*$`)},
	{VendorRappi, regexp.MustCompile(`^RP-[A-Za-z0-9][A-Za-z0-9-]*$`)},
}

// ClassifyInvoiceID returns the vendor category for an invoice identifier.
// Identifiers that match no platform pattern classify as VendorOther;
// classification never fails.
func ClassifyInvoiceID(invoiceID string) VendorType {
	for _, p := range vendorPatterns {
		if p.re.MatchString(invoiceID) {
			return p.vendor
		}
	}
	return VendorOther
}

// MatchesVendorPattern reports whether s matches any platform invoice-id
// pattern.
func MatchesVendorPattern(s string) bool {
	return ClassifyInvoiceID(s) != VendorOther
}

// DeriveInvoiceID derives the stable invoice identifier from a source
// object name. The file stem is used verbatim when it matches a platform
// pattern; otherwise the id is unknown-<sha16(name)>, which is stable
// across redeliveries of the same object.
func DeriveInvoiceID(objectName string) string {
	stem := path.Base(objectName)
	if ext := path.Ext(stem); ext != "" {
		stem = strings.TrimSuffix(stem, ext)
	}
	if MatchesVendorPattern(stem) {
		return stem
	}
	sum := sha256.Sum256([]byte(objectName))
	return "unknown-" + hex.EncodeToString(sum[:])[:16]
}
