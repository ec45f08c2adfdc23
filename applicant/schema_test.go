package applicant

import (
	"fmt"
	"strings"
	"testing"
)

func TestValidateSchema_EmptySchema(t *testing.T) {
	err := ValidateSchema(Schema{})
	if err == nil {
		t.Error("Expected error for empty schema, got nil")
	}
	if err != nil && !strings.Contains(err.Error(), "empty") {
		t.Errorf("Expected error message about empty schema, got: %v", err)
	}
}

func TestValidateSchema_TooManyAttributes(t *testing.T) {
	schema := Schema{}
	for i := 0; i < 201; i++ {
		schema[fmt.Sprintf("attr_%d", i)] = TypeFloat
	}

	err := ValidateSchema(schema)
	if err == nil {
		t.Error("Expected error for too many attributes (201), got nil")
	}
	if err != nil && !strings.Contains(err.Error(), "200") {
		t.Errorf("Expected error message about max 200 attributes, got: %v", err)
	}
}

func TestValidateSchema_Types(t *testing.T) {
	testCases := []struct {
		typeName string
		valid    bool
	}{
		{"float64", true},
		{"int", true},
		{"string", true},
		{"bool", true},
		{"timestamp", false},
		{"Float64", false},
		{" string", false},
		{"", false},
	}

	for _, tc := range testCases {
		t.Run(fmt.Sprintf("type %q", tc.typeName), func(t *testing.T) {
			err := ValidateSchema(Schema{"age": tc.typeName})
			if tc.valid && err != nil {
				t.Errorf("Expected %q to be valid, got: %v", tc.typeName, err)
			}
			if !tc.valid && err == nil {
				t.Errorf("Expected %q to be rejected", tc.typeName)
			}
		})
	}
}

func TestValidateSchema_Identifiers(t *testing.T) {
	testCases := []struct {
		name  string
		valid bool
	}{
		{"age", true},
		{"_private", true},
		{"credit_amount2", true},
		{"2fast", false},
		{"credit-amount", false},
		{"credit amount", false},
		{"in", false},
		{"true", false},
		{strings.Repeat("a", 101), false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateSchema(Schema{tc.name: TypeString})
			if tc.valid && err != nil {
				t.Errorf("Expected %q to be valid, got: %v", tc.name, err)
			}
			if !tc.valid && err == nil {
				t.Errorf("Expected %q to be rejected", tc.name)
			}
		})
	}
}

func TestDefaultSchemaIsValid(t *testing.T) {
	if err := ValidateSchema(DefaultSchema()); err != nil {
		t.Fatalf("DefaultSchema() is invalid: %v", err)
	}
}
