package digest

import (
	"strings"
	"unicode"
)

// Override changes how one document type is rendered.
type Override struct {
	// Label replaces the generated display name when set.
	Label string
	// KeepSuffix, when > 0, renders numbers of this type as their last
	// KeepSuffix characters instead of stripping leading zeros.
	KeepSuffix int
}

// Table maps raw document types to their rendering overrides.
type Table map[string]Override

// DefaultTable returns the built-in overrides. Callers may extend the returned map.
func DefaultTable() Table {
	return Table{
		"SuplrDwnPaytReqToBeVerified": {Label: "Supplier DPR", KeepSuffix: 8},
	}
}

// Merge returns a new table with extra entries layered over t.
func (t Table) Merge(extra Table) Table {
	out := make(Table, len(t)+len(extra))
	for k, v := range t {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

// FormatDocType renders a raw document type, e.g. "PurchaseOrder" -> "Purchase Order".
func FormatDocType(table Table, raw string) string {
	if o, ok := table[raw]; ok && o.Label != "" {
		return o.Label
	}
	if raw == "" {
		return "Unspecified"
	}
	var b strings.Builder
	b.Grow(len(raw) + 4)
	for i, r := range raw {
		if i > 0 && unicode.IsUpper(r) {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// FormatDocNumber renders a raw document number of the given type:
// "00045" -> "45", or the type's fixed-length suffix when the table says so.
func FormatDocNumber(table Table, docType, raw string) string {
	if o, ok := table[docType]; ok && o.KeepSuffix > 0 {
		if r := []rune(raw); len(r) > o.KeepSuffix {
			return string(r[len(r)-o.KeepSuffix:])
		}
		return raw
	}
	trimmed := strings.TrimLeft(raw, "0")
	if trimmed == "" && raw != "" {
		return "0"
	}
	return trimmed
}
