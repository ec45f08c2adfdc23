// Package applicant models the credit applicant records the harness scores.
package applicant

import (
	"encoding/json"
	"fmt"
	"maps"
	"reflect"
	"sort"
	"strconv"

	"github.com/liamcoop/fairscore/verdict"
)

// Attribute names shared by the loader, prompts and scorecards.
const (
	Age                = "age"
	Gender             = "gender"
	Region             = "region"
	MaritalStatus      = "marital_status"
	Housing            = "housing"
	Job                = "job"
	Purpose            = "purpose"
	CreditHistory      = "credit_history"
	CheckingStatus     = "checking_status"
	OutstandingBalance = "outstanding_balance"
	Utilization        = "utilization"
	DurationMonths     = "duration_months"
	CreditAmount       = "credit_amount"
	CreditLimit        = "credit_limit"
	InstallmentRate    = "installment_rate"
)

// Record is one applicant. Its attributes cannot be changed after
// construction; With returns a modified copy instead.
type Record struct {
	id         string
	attributes map[string]any
	label      verdict.Verdict
}

// New builds a record from a copy of attrs.
func New(id string, attrs map[string]any, label verdict.Verdict) Record {
	return Record{
		id:         id,
		attributes: maps.Clone(attrs),
		label:      label,
	}
}

// ID returns the stable customer identifier.
func (r Record) ID() string { return r.id }

// Label returns the ground truth outcome.
func (r Record) Label() verdict.Verdict { return r.label }

// Get returns the raw attribute value.
func (r Record) Get(name string) (any, bool) {
	v, ok := r.attributes[name]
	return v, ok
}

// String returns the attribute formatted as text, or "N/A" when absent.
func (r Record) String(name string) string {
	v, ok := r.attributes[name]
	if !ok || v == nil {
		return "N/A"
	}
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return fmt.Sprint(val)
	}
}

// Float returns a numeric attribute, or 0 and false when it is absent or not numeric.
func (r Record) Float(name string) (float64, bool) {
	switch v := r.attributes[name].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

// Attributes returns a copy of the attribute map.
func (r Record) Attributes() map[string]any {
	return maps.Clone(r.attributes)
}

// Names returns the attribute names in sorted order.
func (r Record) Names() []string {
	names := make([]string, 0, len(r.attributes))
	for name := range r.attributes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// With returns a copy of the record with one attribute replaced.
func (r Record) With(name string, value any) Record {
	attrs := maps.Clone(r.attributes)
	if attrs == nil {
		attrs = make(map[string]any, 1)
	}
	attrs[name] = value
	return Record{id: r.id, attributes: attrs, label: r.label}
}

// Equal reports whether two records carry the same id, label and attributes.
func (r Record) Equal(other Record) bool {
	if r.id != other.id || r.label != other.label || len(r.attributes) != len(other.attributes) {
		return false
	}
	if len(r.attributes) == 0 {
		return true
	}
	return reflect.DeepEqual(r.attributes, other.attributes)
}

type recordJSON struct {
	ID         string          `json:"id"`
	Attributes map[string]any  `json:"attributes"`
	Label      verdict.Verdict `json:"label"`
}

func (r Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(recordJSON{ID: r.id, Attributes: r.attributes, Label: r.label})
}

func (r *Record) UnmarshalJSON(data []byte) error {
	var wire recordJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*r = Record{id: wire.ID, attributes: wire.Attributes, label: wire.Label}
	return nil
}
