package applicant

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/liamcoop/fairscore/verdict"
)

// FromValues builds a record from loosely typed values, such as a decoded JSON
// object, converting each schema attribute to its declared type. Every schema
// attribute must be present; values outside the schema are dropped.
func FromValues(id string, values map[string]any, label verdict.Verdict, schema Schema) (Record, error) {
	if id == "" {
		return Record{}, fmt.Errorf("applicant id is required")
	}

	attrs := make(map[string]any, len(schema))
	for _, name := range schema.Names() {
		raw, ok := values[name]
		if !ok || raw == nil {
			return Record{}, fmt.Errorf("missing attribute %q", name)
		}
		v, err := coerce(raw, schema[name])
		if err != nil {
			return Record{}, fmt.Errorf("attribute %q: %w", name, err)
		}
		attrs[name] = v
	}

	return New(id, attrs, label), nil
}

func coerce(raw any, typeName string) (any, error) {
	if n, ok := raw.(json.Number); ok {
		f, err := n.Float64()
		if err != nil {
			return nil, err
		}
		raw = f
	}

	switch typeName {
	case TypeFloat:
		switch v := raw.(type) {
		case float64:
			return v, nil
		case int:
			return float64(v), nil
		case int64:
			return float64(v), nil
		case string:
			return parseValue(v, typeName)
		}
	case TypeInt:
		switch v := raw.(type) {
		case float64:
			if v != math.Trunc(v) {
				return nil, fmt.Errorf("%v is not an integer", v)
			}
			return int64(v), nil
		case int:
			return int64(v), nil
		case int64:
			return v, nil
		case string:
			return parseValue(v, typeName)
		}
	case TypeBool:
		switch v := raw.(type) {
		case bool:
			return v, nil
		case string:
			return parseValue(v, typeName)
		}
	case TypeString:
		if v, ok := raw.(string); ok {
			return v, nil
		}
		return fmt.Sprint(raw), nil
	}
	return nil, fmt.Errorf("cannot use %T as %s", raw, typeName)
}
