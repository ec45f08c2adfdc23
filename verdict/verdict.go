// Package verdict holds the canonical credit decision and the parser that
// reduces free-text model output to it.
package verdict

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Verdict is the closed set of scoring outcomes.
type Verdict int

const (
	// Unknown means no decision could be extracted. It is a real outcome,
	// never folded into Good or Bad.
	Unknown Verdict = iota
	Good
	Bad
)

const marker = "verdict:"

func (v Verdict) String() string {
	switch v {
	case Good:
		return "Good"
	case Bad:
		return "Bad"
	default:
		return "Unknown"
	}
}

// Known reports whether v is a decision rather than Unknown.
func (v Verdict) Known() bool {
	return v == Good || v == Bad
}

// FromLabel maps a delinquency label to the ground truth verdict.
func FromLabel(delinquent bool) Verdict {
	if delinquent {
		return Bad
	}
	return Good
}

// Lookup converts a canonical name ("Good", "bad", "UNKNOWN") back to a Verdict.
func Lookup(name string) (Verdict, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "good":
		return Good, nil
	case "bad":
		return Bad, nil
	case "unknown":
		return Unknown, nil
	default:
		return Unknown, fmt.Errorf("unknown verdict name %q", name)
	}
}

func (v Verdict) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.String())
}

func (v *Verdict) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := Lookup(s)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// Parse extracts a verdict from model output.
//
// The text after the last "verdict:" marker is checked first; if it holds no
// decision the whole text is scanned. In both places "bad" is checked before
// "good", since justifications routinely mention both words.
func Parse(text string) Verdict {
	normalized := strings.ToLower(strings.TrimSpace(text))

	if idx := strings.LastIndex(normalized, marker); idx >= 0 {
		if v := scan(normalized[idx+len(marker):]); v != Unknown {
			return v
		}
	}

	return scan(normalized)
}

func scan(s string) Verdict {
	if strings.Contains(s, "bad") {
		return Bad
	}
	if strings.Contains(s, "good") {
		return Good
	}
	return Unknown
}
