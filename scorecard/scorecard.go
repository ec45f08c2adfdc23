// Package scorecard loads and evaluates the persisted benchmark classifier: a
// logistic scorecard whose features are CEL expressions over applicant
// attributes.
package scorecard

import (
	"errors"
	"fmt"
	"math"
	"os"
	"sync"

	"github.com/google/cel-go/cel"
	"gopkg.in/yaml.v3"

	"github.com/liamcoop/fairscore/applicant"
	"github.com/liamcoop/fairscore/verdict"
)

// ErrArtifactNotFound is returned when no scorecard exists at the given path.
var ErrArtifactNotFound = errors.New("scorecard artifact not found")

const defaultThreshold = 0.5

// Feature is one input column of the scorecard.
type Feature struct {
	Name       string  `yaml:"name"`
	Expression string  `yaml:"expr"`
	Weight     float64 `yaml:"weight"`
}

// Card is the serialized scorecard.
type Card struct {
	Name      string           `yaml:"name"`
	Version   string           `yaml:"version"`
	Schema    applicant.Schema `yaml:"schema"`
	Intercept float64          `yaml:"intercept"`
	// Threshold is the minimum probability of delinquency for a Bad verdict.
	Threshold float64   `yaml:"threshold"`
	Features  []Feature `yaml:"features"`
}

// Prediction is the result of scoring one applicant.
type Prediction struct {
	Probability float64
	Verdict     verdict.Verdict
	Features    []float64
}

// Model is a compiled Card. It is safe for concurrent use.
type Model struct {
	card     Card
	env      *cel.Env
	programs map[string]cel.Program // feature name -> compiled program
	mu       sync.RWMutex
}

// LoadFile reads and compiles a scorecard from a YAML file.
func LoadFile(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read scorecard: %w", err)
	}

	var card Card
	if err := yaml.Unmarshal(data, &card); err != nil {
		return nil, fmt.Errorf("failed to parse scorecard %s: %w", path, err)
	}

	return Compile(card)
}

// NewEnv creates a CEL environment with one typed variable per schema attribute.
func NewEnv(schema applicant.Schema) (*cel.Env, error) {
	if err := applicant.ValidateSchema(schema); err != nil {
		return nil, err
	}

	opts := make([]cel.EnvOption, 0, len(schema))
	for _, name := range schema.Names() {
		opts = append(opts, cel.Variable(name, celType(schema[name])))
	}

	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return env, nil
}

func celType(typeName string) *cel.Type {
	switch typeName {
	case applicant.TypeFloat:
		return cel.DoubleType
	case applicant.TypeInt:
		return cel.IntType
	case applicant.TypeBool:
		return cel.BoolType
	default:
		return cel.StringType
	}
}

// Compile type-checks every feature expression of card.
func Compile(card Card) (*Model, error) {
	if len(card.Features) == 0 {
		return nil, fmt.Errorf("scorecard %q has no features", card.Name)
	}
	if card.Schema == nil {
		card.Schema = applicant.DefaultSchema()
	}
	if card.Threshold <= 0 || card.Threshold >= 1 {
		card.Threshold = defaultThreshold
	}

	env, err := NewEnv(card.Schema)
	if err != nil {
		return nil, err
	}

	m := &Model{
		card:     card,
		env:      env,
		programs: make(map[string]cel.Program, len(card.Features)),
	}

	for _, f := range card.Features {
		if _, dup := m.programs[f.Name]; dup {
			return nil, fmt.Errorf("duplicate feature %q", f.Name)
		}
		if err := m.compileFeature(f.Name, f.Expression); err != nil {
			return nil, fmt.Errorf("failed to compile feature %s: %w", f.Name, err)
		}
	}

	return m, nil
}

// compileFeature applies a cost limit so a bad artifact cannot run away.
func (m *Model) compileFeature(name, expression string) error {
	ast, issues := m.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("compile error: %w", issues.Err())
	}

	if !numericOutput(ast.OutputType()) {
		return fmt.Errorf("feature must be numeric or boolean, got %s", ast.OutputType())
	}

	prog, err := m.env.Program(ast, cel.CostLimit(1000000))
	if err != nil {
		return fmt.Errorf("program creation error: %w", err)
	}

	m.mu.Lock()
	m.programs[name] = prog
	m.mu.Unlock()

	return nil
}

// Name returns the scorecard name and version.
func (m *Model) Name() string {
	if m.card.Version == "" {
		return m.card.Name
	}
	return m.card.Name + "@" + m.card.Version
}

// Schema returns the attribute schema the scorecard was trained on.
func (m *Model) Schema() applicant.Schema {
	return m.card.Schema
}

// FeatureVector evaluates every feature against rec, in card order.
func (m *Model) FeatureVector(rec applicant.Record) ([]float64, error) {
	activation := rec.Attributes()
	vector := make([]float64, len(m.card.Features))

	for i, f := range m.card.Features {
		m.mu.RLock()
		prog, exists := m.programs[f.Name]
		m.mu.RUnlock()

		if !exists {
			return nil, fmt.Errorf("feature %s is not compiled", f.Name)
		}

		out, _, err := prog.Eval(activation)
		if err != nil {
			return nil, fmt.Errorf("feature %s: %w", f.Name, err)
		}

		value, err := toFloat(out.Value())
		if err != nil {
			return nil, fmt.Errorf("feature %s: %w", f.Name, err)
		}
		vector[i] = value
	}

	return vector, nil
}

// Predict scores rec.
func (m *Model) Predict(rec applicant.Record) (Prediction, error) {
	vector, err := m.FeatureVector(rec)
	if err != nil {
		return Prediction{}, err
	}

	z := m.card.Intercept
	for i, f := range m.card.Features {
		z += f.Weight * vector[i]
	}
	p := 1 / (1 + math.Exp(-z))

	v := verdict.Good
	if p >= m.card.Threshold {
		v = verdict.Bad
	}

	return Prediction{Probability: p, Verdict: v, Features: vector}, nil
}

func numericOutput(t *cel.Type) bool {
	for _, ok := range []*cel.Type{cel.DoubleType, cel.IntType, cel.UintType, cel.BoolType, cel.DynType} {
		if t.IsExactType(ok) {
			return true
		}
	}
	return false
}

func toFloat(v any) (float64, error) {
	switch val := v.(type) {
	case float64:
		return val, nil
	case int64:
		return float64(val), nil
	case uint64:
		return float64(val), nil
	case bool:
		if val {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("non-numeric feature value %T", v)
	}
}
