// Package memory implements fact-record logic for the dialog: missing-field
// computation, sanitize/merge semantics, and the per-session fact store.
package memory

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/iteaky/carbot/internal/domain"
)

// Names of the required fact fields.
const (
	FieldBudget   = "budget"
	FieldCountry  = "country"
	FieldPurpose  = "purpose"
	FieldBodyType = "body_type"
)

// RequiredFields lists the required fact fields in ask order. The order is
// load-bearing: the first missing field is the next question the bot asks.
var RequiredFields = []string{FieldBudget, FieldCountry, FieldPurpose, FieldBodyType}

// MissingFields returns the required fields that are still absent or blank,
// in ask order. A nil record is missing all four.
func MissingFields(m *domain.Memory) []string {
	missing := make([]string, 0, len(RequiredFields))
	for _, field := range RequiredFields {
		if m == nil || isBlank(fieldValue(*m, field)) {
			missing = append(missing, field)
		}
	}
	return missing
}

// Sanitize normalizes a freshly produced record: blank values become absent,
// surviving values are trimmed and canonicalized per field, and the summary
// defaults to "". Sanitize is idempotent.
func Sanitize(m *domain.Memory) domain.Memory {
	if m == nil {
		return domain.Memory{}
	}
	return domain.Memory{
		Budget:   normalizeField(FieldBudget, m.Budget),
		Country:  normalizeField(FieldCountry, m.Country),
		Purpose:  normalizeField(FieldPurpose, m.Purpose),
		BodyType: normalizeField(FieldBodyType, m.BodyType),
		Summary:  strings.TrimSpace(m.Summary),
	}
}

// Merge combines a previously stored record with a newly extracted one.
// Field-wise, the sanitized incoming value wins when non-blank, otherwise
// the old value survives. A known fact is never downgraded to absent, even
// when the incoming record clears it explicitly. The summary follows the
// same preference rule. A nil old record degenerates to Sanitize(incoming).
func Merge(old, incoming *domain.Memory) domain.Memory {
	if old == nil {
		return Sanitize(incoming)
	}
	if incoming == nil {
		return *old
	}
	return domain.Memory{
		Budget:   firstNonBlank(FieldBudget, incoming.Budget, old.Budget),
		Country:  firstNonBlank(FieldCountry, incoming.Country, old.Country),
		Purpose:  firstNonBlank(FieldPurpose, incoming.Purpose, old.Purpose),
		BodyType: firstNonBlank(FieldBodyType, incoming.BodyType, old.BodyType),
		Summary:  firstNonBlankSummary(incoming.Summary, old.Summary),
	}
}

func fieldValue(m domain.Memory, field string) string {
	switch field {
	case FieldBudget:
		return m.Budget
	case FieldCountry:
		return m.Country
	case FieldPurpose:
		return m.Purpose
	case FieldBodyType:
		return m.BodyType
	default:
		return ""
	}
}

// normalizeField trims a value and applies the per-field casing policy:
// country is title-cased, body_type is lowercased, everything else is
// kept as entered.
func normalizeField(field, value string) string {
	v := strings.TrimSpace(value)
	if v == "" {
		return ""
	}
	switch field {
	case FieldCountry:
		return titleCase(v)
	case FieldBodyType:
		return strings.ToLower(v)
	default:
		return v
	}
}

func firstNonBlank(field, preferred, fallback string) string {
	if v := normalizeField(field, preferred); v != "" {
		return v
	}
	return normalizeField(field, fallback)
}

func firstNonBlankSummary(preferred, fallback string) string {
	if v := strings.TrimSpace(preferred); v != "" {
		return v
	}
	return strings.TrimSpace(fallback)
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}

func titleCase(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError && size <= 1 {
		return s
	}
	return string(unicode.ToUpper(r)) + strings.ToLower(s[size:])
}
