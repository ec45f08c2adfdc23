// Package counterfactual builds applicant variants that differ from the
// source in exactly one protected attribute.
package counterfactual

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"
	"sync"

	"github.com/liamcoop/fairscore/applicant"
)

var (
	// ErrInvalidAttribute is returned for attributes the generator cannot perturb.
	ErrInvalidAttribute = errors.New("invalid protected attribute")

	// ErrNoSubstitute is returned when neither the candidate regions nor the
	// default region differ from the applicant's region.
	ErrNoSubstitute = errors.New("no substitute region")
)

// Attribute names a protected attribute.
type Attribute string

const (
	Age    Attribute = "age"
	Gender Attribute = "gender"
	Region Attribute = "region"
)

const (
	DefaultYoungAge = 25
	DefaultRegion   = "Lagos"

	genderPrimary   = "male"
	genderSecondary = "female"
)

// DefaultRegions are the major states used as substitution candidates.
var DefaultRegions = []string{
	"Lagos", "Abuja FCT", "Kano", "Rivers", "Oyo", "Kaduna", "Enugu", "Anambra", "Delta", "Ogun",
}

// ParseAttribute normalises a configured attribute name; "state" is an alias of region.
func ParseAttribute(name string) (Attribute, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "age":
		return Age, nil
	case "gender", "sex":
		return Gender, nil
	case "region", "state":
		return Region, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidAttribute, name)
	}
}

// Field returns the applicant attribute the protected attribute lives in.
func (a Attribute) Field() string {
	switch a {
	case Age:
		return applicant.Age
	case Gender:
		return applicant.Gender
	case Region:
		return applicant.Region
	default:
		return string(a)
	}
}

// Record is a perturbed copy of an applicant.
type Record struct {
	Applicant applicant.Record
	Attribute Attribute
	// Original is the source value of the perturbed attribute, nil when the
	// source did not carry it.
	Original  any
	hadOrigin bool
}

// Restore rebuilds the source applicant by undoing the perturbation.
func (r Record) Restore() applicant.Record {
	field := r.Attribute.Field()
	if !r.hadOrigin {
		attrs := r.Applicant.Attributes()
		delete(attrs, field)
		return applicant.New(r.Applicant.ID(), attrs, r.Applicant.Label())
	}
	return r.Applicant.With(field, r.Original)
}

// Config configures a Generator.
type Config struct {
	YoungAge      float64
	Regions       []string
	DefaultRegion string
	Seed          uint64
}

// Generator produces counterfactual records. Region draws come from a seeded
// source so a run is reproducible.
type Generator struct {
	youngAge      float64
	regions       []string
	defaultRegion string

	mu  sync.Mutex
	rng *rand.Rand
}

// NewGenerator creates a generator, filling unset fields with defaults.
func NewGenerator(cfg Config) *Generator {
	if cfg.YoungAge <= 0 {
		cfg.YoungAge = DefaultYoungAge
	}
	if len(cfg.Regions) == 0 {
		cfg.Regions = DefaultRegions
	}
	if cfg.DefaultRegion == "" {
		cfg.DefaultRegion = DefaultRegion
	}

	return &Generator{
		youngAge:      cfg.YoungAge,
		regions:       slices.Clone(cfg.Regions),
		defaultRegion: cfg.DefaultRegion,
		rng:           rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
	}
}

// Counterfactual returns a copy of rec with attr perturbed. rec is never modified.
func (g *Generator) Counterfactual(rec applicant.Record, attr Attribute) (Record, error) {
	field := attr.Field()
	original, ok := rec.Get(field)

	var value any
	switch attr {
	case Age:
		value = g.youngAgeLike(original)
	case Gender:
		value = g.flipGender(rec.String(field))
	case Region:
		region, err := g.pickRegion(rec.String(field))
		if err != nil {
			return Record{}, err
		}
		value = region
	default:
		return Record{}, fmt.Errorf("%w: %q", ErrInvalidAttribute, attr)
	}

	return Record{
		Applicant: rec.With(field, value),
		Attribute: attr,
		Original:  original,
		hadOrigin: ok,
	}, nil
}

// youngAgeLike keeps the numeric type of the source value so typed consumers
// see the same column type on both records.
func (g *Generator) youngAgeLike(original any) any {
	switch original.(type) {
	case int64:
		return int64(g.youngAge)
	case int:
		return int(g.youngAge)
	default:
		return g.youngAge
	}
}

func (g *Generator) flipGender(current string) string {
	if strings.EqualFold(strings.TrimSpace(current), genderPrimary) {
		return genderSecondary
	}
	return genderPrimary
}

func (g *Generator) pickRegion(current string) (string, error) {
	candidates := make([]string, 0, len(g.regions))
	for _, region := range g.regions {
		if !strings.EqualFold(region, current) {
			candidates = append(candidates, region)
		}
	}
	if len(candidates) == 0 {
		if strings.EqualFold(g.defaultRegion, current) {
			return "", fmt.Errorf("%w: every candidate equals %q", ErrNoSubstitute, current)
		}
		return g.defaultRegion, nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	return candidates[g.rng.IntN(len(candidates))], nil
}
