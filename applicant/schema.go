package applicant

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Schema maps attribute names to their column type.
type Schema map[string]string

// Column types accepted by the loader.
const (
	TypeFloat  = "float64"
	TypeInt    = "int"
	TypeString = "string"
	TypeBool   = "bool"
)

var identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// DefaultSchema is the applicant layout used by the bundled datasets.
func DefaultSchema() Schema {
	return Schema{
		Age:                TypeFloat,
		Gender:             TypeString,
		Region:             TypeString,
		MaritalStatus:      TypeString,
		Housing:            TypeString,
		Job:                TypeString,
		Purpose:            TypeString,
		CreditHistory:      TypeString,
		CheckingStatus:     TypeString,
		OutstandingBalance: TypeFloat,
		Utilization:        TypeFloat,
		DurationMonths:     TypeFloat,
		CreditAmount:       TypeFloat,
		CreditLimit:        TypeFloat,
		InstallmentRate:    TypeFloat,
	}
}

// Names returns the attribute names in sorted order.
func (s Schema) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateSchema checks attribute names and types.
func ValidateSchema(schema Schema) error {
	if len(schema) == 0 {
		return fmt.Errorf("schema cannot be empty, must declare at least one attribute")
	}

	if len(schema) > 200 {
		return fmt.Errorf("schema declares %d attributes, maximum allowed is 200", len(schema))
	}

	for name, typeName := range schema {
		if err := validateIdentifier(name); err != nil {
			return fmt.Errorf("invalid attribute name %q: %w", name, err)
		}

		if typeName == "" {
			return fmt.Errorf("attribute %q has empty type name", name)
		}

		if strings.TrimSpace(typeName) != typeName {
			return fmt.Errorf("attribute %q has type with leading/trailing whitespace: %q", name, typeName)
		}

		if !isValidType(typeName) {
			return fmt.Errorf("attribute %q has invalid type %q (must be one of: float64, int, string, bool)", name, typeName)
		}
	}

	return nil
}

// validateIdentifier keeps attribute names usable as CEL map keys and CSV headers
func validateIdentifier(name string) error {
	if len(name) == 0 {
		return fmt.Errorf("identifier cannot be empty")
	}
	if len(name) > 100 {
		return fmt.Errorf("identifier length %d exceeds maximum of 100 characters", len(name))
	}

	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("must match pattern ^[a-zA-Z_][a-zA-Z0-9_]*$ (start with letter or underscore, followed by letters, digits, or underscores)")
	}

	if isReservedKeyword(name) {
		return fmt.Errorf("cannot use reserved keyword %q as identifier", name)
	}

	return nil
}

func isValidType(typeName string) bool {
	switch typeName {
	case TypeFloat, TypeInt, TypeString, TypeBool:
		return true
	default:
		return false
	}
}

// isReservedKeyword rejects CEL literals and keywords
func isReservedKeyword(name string) bool {
	reservedKeywords := map[string]bool{
		"true":      true,
		"false":     true,
		"null":      true,
		"in":        true,
		"as":        true,
		"break":     true,
		"const":     true,
		"continue":  true,
		"else":      true,
		"for":       true,
		"function":  true,
		"if":        true,
		"import":    true,
		"let":       true,
		"loop":      true,
		"package":   true,
		"namespace": true,
		"return":    true,
		"var":       true,
		"void":      true,
		"while":     true,
	}

	return reservedKeywords[name]
}
