package shared

import (
	"cmp"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"q360/internal/transport/http/api"
)

// ValidationIssue is one entry of the "fields" detail in a validation_error envelope.
type ValidationIssue struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// Validator collects payload issues so a handler can report all of them in one response.
type Validator struct {
	issues []ValidationIssue
}

func NewValidator() *Validator {
	return &Validator{}
}

func (v *Validator) Add(field, reason string) {
	reason = strings.TrimSpace(reason)
	if v == nil || reason == "" {
		return
	}
	v.issues = append(v.issues, ValidationIssue{Field: strings.TrimSpace(field), Reason: reason})
}

func (v *Validator) Required(field, value, reason string) {
	if strings.TrimSpace(value) == "" {
		v.Add(field, reason)
	}
}

// OneOf accepts an empty value; pair it with Required when the field is mandatory.
func (v *Validator) OneOf(field, value string, allowed []string) {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" || slices.Contains(allowed, value) {
		return
	}
	v.Add(field, "must be one of "+strings.Join(allowed, ", "))
}

// UUID rejects ids the database would fail to cast.
func (v *Validator) UUID(field, value string) {
	if _, err := uuid.Parse(strings.TrimSpace(value)); err != nil {
		v.Add(field, "must be a valid uuid")
	}
}

// UUIDs requires a non-empty list of distinct ids and reports bad entries by index.
func (v *Validator) UUIDs(field string, values []string) {
	if len(values) == 0 {
		v.Add(field, "must contain at least one id")
		return
	}
	seen := make(map[string]bool, len(values))
	for i, value := range values {
		entry := fmt.Sprintf("%s[%d]", field, i)
		parsed, err := uuid.Parse(strings.TrimSpace(value))
		if err != nil {
			v.Add(entry, "must be a valid uuid")
			continue
		}
		if seen[parsed.String()] {
			v.Add(entry, "is a duplicate")
		}
		seen[parsed.String()] = true
	}
}

// Score requires a non-negative value with at most two fractional digits. Upper bounds
// depend on the campaign and are checked by the service.
func (v *Validator) Score(field string, value *decimal.Decimal) (decimal.Decimal, bool) {
	switch {
	case value == nil:
		v.Add(field, "is required")
	case value.IsNegative():
		v.Add(field, "must not be negative")
	case !value.Equal(value.Truncate(2)):
		v.Add(field, "must have at most 2 decimal places")
	default:
		return *value, true
	}
	return decimal.Decimal{}, false
}

func (v *Validator) Date(field, raw string) (time.Time, bool) {
	parsed, err := ParseDate(raw)
	if err != nil || parsed.IsZero() {
		v.Add(field, "must be a valid date in YYYY-MM-DD format")
		return time.Time{}, false
	}
	return parsed, true
}

func (v *Validator) DateOrder(startField string, start time.Time, endField string, end time.Time) {
	if start.IsZero() || end.IsZero() || !end.Before(start) {
		return
	}
	v.Add(startField, "must be on or before "+endField)
	v.Add(endField, "must be on or after "+startField)
}

func (v *Validator) HasIssues() bool {
	return v != nil && len(v.issues) > 0
}

// Issues returns a copy ordered by field, then reason, so responses are stable.
func (v *Validator) Issues() []ValidationIssue {
	if !v.HasIssues() {
		return nil
	}
	out := slices.Clone(v.issues)
	slices.SortStableFunc(out, func(a, b ValidationIssue) int {
		return cmp.Or(cmp.Compare(a.Field, b.Field), cmp.Compare(a.Reason, b.Reason))
	})
	return out
}

// Reject writes the validation_error envelope and reports whether it did.
func (v *Validator) Reject(w http.ResponseWriter, requestID string) bool {
	if !v.HasIssues() {
		return false
	}
	FailValidation(w, requestID, v.Issues())
	return true
}

func FailValidation(w http.ResponseWriter, requestID string, issues []ValidationIssue) {
	api.FailWithDetails(w, http.StatusBadRequest, "validation_error", "payload validation failed",
		map[string]any{"fields": issues}, requestID)
}
