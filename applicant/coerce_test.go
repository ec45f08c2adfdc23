package applicant

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/liamcoop/fairscore/verdict"
)

func TestFromValues(t *testing.T) {
	schema := Schema{
		Age:             TypeFloat,
		Gender:          TypeString,
		DurationMonths:  TypeInt,
		"has_guarantor": TypeBool,
	}

	rec, err := FromValues("c-9", map[string]any{
		Age:             json.Number("31"),
		Gender:          "female",
		DurationMonths:  24.0,
		"has_guarantor": "true",
		"ignored":       "x",
	}, verdict.Good, schema)
	if err != nil {
		t.Fatalf("FromValues failed: %v", err)
	}

	if v, _ := rec.Get(Age); v != 31.0 {
		t.Errorf("age = %#v", v)
	}
	if v, _ := rec.Get(DurationMonths); v != int64(24) {
		t.Errorf("duration = %#v", v)
	}
	if v, _ := rec.Get("has_guarantor"); v != true {
		t.Errorf("has_guarantor = %#v", v)
	}
	if _, ok := rec.Get("ignored"); ok {
		t.Error("attribute outside the schema was kept")
	}
	if rec.Label() != verdict.Good || rec.ID() != "c-9" {
		t.Errorf("record = %v %v", rec.ID(), rec.Label())
	}
}

func TestFromValuesErrors(t *testing.T) {
	schema := Schema{Age: TypeFloat, DurationMonths: TypeInt, Gender: TypeString}
	valid := func() map[string]any {
		return map[string]any{Age: 40.0, DurationMonths: 12.0, Gender: "male"}
	}

	testCases := []struct {
		name    string
		id      string
		mutate  func(map[string]any)
		wantErr string
	}{
		{name: "missing id", id: "", mutate: func(map[string]any) {}, wantErr: "id is required"},
		{name: "missing attribute", id: "a", mutate: func(m map[string]any) { delete(m, Gender) }, wantErr: `missing attribute "gender"`},
		{name: "null attribute", id: "a", mutate: func(m map[string]any) { m[Age] = nil }, wantErr: `missing attribute "age"`},
		{name: "fractional int", id: "a", mutate: func(m map[string]any) { m[DurationMonths] = 12.5 }, wantErr: "not an integer"},
		{name: "wrong type", id: "a", mutate: func(m map[string]any) { m[Age] = true }, wantErr: "cannot use bool"},
		{name: "unparsable string", id: "a", mutate: func(m map[string]any) { m[Age] = "old" }, wantErr: `attribute "age"`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			values := valid()
			tc.mutate(values)
			_, err := FromValues(tc.id, values, verdict.Unknown, schema)
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("FromValues() error = %v, want %q", err, tc.wantErr)
			}
		})
	}
}
