// Package config loads the harness configuration from YAML with environment
// overrides and validates it before anything is built from it.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/liamcoop/fairscore/applicant"
	"github.com/liamcoop/fairscore/backend"
	"github.com/liamcoop/fairscore/counterfactual"
	"github.com/liamcoop/fairscore/report"
)

// Backend kinds.
const (
	KindClassifier = "classifier"
	KindText       = "text"
)

// LLM providers.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// Config is the full harness configuration.
type Config struct {
	Data           DataConfig           `yaml:"data"`
	Attributes     []string             `yaml:"attributes" validate:"required,min=1,dive,required"`
	// Spacing is the minimum gap between remote generation requests. Zero
	// uses the default; negative disables it.
	Spacing        time.Duration        `yaml:"spacing"`
	Counterfactual CounterfactualConfig `yaml:"counterfactual"`
	Backends       []BackendConfig      `yaml:"backends" validate:"required,min=1,dive"`
	LLM            LLMConfig            `yaml:"llm"`
	Output         OutputConfig         `yaml:"output"`
	Store          StoreConfig          `yaml:"store"`
	Server         ServerConfig         `yaml:"server"`
}

// DataConfig describes the applicant table.
type DataConfig struct {
	Path        string `yaml:"path"`
	IDColumn    string `yaml:"id_column" validate:"required"`
	LabelColumn string `yaml:"label_column" validate:"required"`
	// Limit caps the applicants evaluated; 0 evaluates all.
	Limit int `yaml:"limit" validate:"gte=0"`
	// Schema overrides the default applicant schema.
	Schema applicant.Schema `yaml:"schema"`
}

// CounterfactualConfig tunes the counterfactual generator.
type CounterfactualConfig struct {
	YoungAge      float64  `yaml:"young_age" validate:"gt=0"`
	Regions       []string `yaml:"regions" validate:"required,min=1,dive,required"`
	DefaultRegion string   `yaml:"default_region" validate:"required"`
	Seed          uint64   `yaml:"seed"`
}

// BackendConfig declares one scoring backend.
type BackendConfig struct {
	Name string `yaml:"name"`
	Kind string `yaml:"kind" validate:"required,oneof=classifier text"`
	// Artifact is the scorecard file of a classifier backend.
	Artifact string `yaml:"artifact" validate:"required_if=Kind classifier"`
	// Variant is the prompt variant of a text backend.
	Variant string `yaml:"variant" validate:"required_if=Kind text,omitempty,oneof=baseline zero_shot debiased fine_tuned"`
}

// DisplayName returns Name, or the standard report name of the backend.
func (b BackendConfig) DisplayName() string {
	if b.Name != "" {
		return b.Name
	}
	if b.Kind == KindClassifier {
		return backend.BenchmarkName
	}
	if v, err := backend.ParseVariant(b.Variant); err == nil {
		return v.DisplayName()
	}
	return b.Variant
}

// LLMConfig selects and configures the text-generation provider.
type LLMConfig struct {
	Provider    string       `yaml:"provider" validate:"oneof=gemini openai"`
	Temperature *float32     `yaml:"temperature" validate:"omitempty,gte=0,lte=2"`
	Gemini      GeminiConfig `yaml:"gemini"`
	OpenAI      OpenAIConfig `yaml:"openai"`
	Retry       RetryConfig  `yaml:"retry"`
	Cache       CacheConfig  `yaml:"cache"`
}

type GeminiConfig struct {
	APIKey        string `yaml:"api_key"`
	Project       string `yaml:"project"`
	Location      string `yaml:"location"`
	BaseModel     string `yaml:"base_model"`
	TunedEndpoint string `yaml:"tuned_endpoint"`
	BaseURL       string `yaml:"base_url" validate:"omitempty,url"`
}

type OpenAIConfig struct {
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url" validate:"omitempty,url"`
	BaseModel  string `yaml:"base_model"`
	TunedModel string `yaml:"tuned_model"`
}

type RetryConfig struct {
	MaxRetries      uint64        `yaml:"max_retries" validate:"lte=10"`
	InitialInterval time.Duration `yaml:"initial_interval" validate:"gt=0"`
	MaxInterval     time.Duration `yaml:"max_interval" validate:"gtefield=InitialInterval"`
}

type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	TTL     time.Duration `yaml:"ttl" validate:"gte=0"`
}

// OutputConfig controls where summaries go.
type OutputConfig struct {
	Path     string    `yaml:"path" validate:"required"`
	Markdown bool      `yaml:"markdown"`
	GCS      GCSConfig `yaml:"gcs"`
}

type GCSConfig struct {
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	CredentialsFile string `yaml:"credentials_file"`
}

// StoreConfig selects run persistence; an empty DatabaseURL keeps runs in memory.
type StoreConfig struct {
	DatabaseURL string `yaml:"database_url"`
}

type ServerConfig struct {
	Port string `yaml:"port" validate:"required,numeric"`
}

// Default returns the standard four-model roster over the bundled scorecard.
func Default() Config {
	return Config{
		Data: DataConfig{
			Path:        "credit_data.csv",
			IDColumn:    "id",
			LabelColumn: "label",
			Limit:       1000,
		},
		Attributes: []string{string(counterfactual.Age), string(counterfactual.Gender), string(counterfactual.Region)},
		Spacing:    1500 * time.Millisecond,
		Counterfactual: CounterfactualConfig{
			YoungAge:      counterfactual.DefaultYoungAge,
			Regions:       append([]string(nil), counterfactual.DefaultRegions...),
			DefaultRegion: counterfactual.DefaultRegion,
			Seed:          42,
		},
		Backends: []BackendConfig{
			{Kind: KindClassifier, Artifact: "models/benchmark_scorecard.yaml"},
			{Kind: KindText, Variant: "baseline"},
			{Kind: KindText, Variant: "debiased"},
			{Kind: KindText, Variant: "fine_tuned"},
		},
		LLM: LLMConfig{
			Provider: ProviderGemini,
			Gemini: GeminiConfig{
				Location: "us-central1",
			},
			Retry: RetryConfig{
				MaxRetries:      2,
				InitialInterval: time.Second,
				MaxInterval:     10 * time.Second,
			},
			Cache: CacheConfig{TTL: time.Hour},
		},
		Output: OutputConfig{Path: report.DefaultFileName},
		Server: ServerConfig{Port: "8080"},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path uses the defaults alone.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.ApplyEnv(os.LookupEnv)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides credentials and endpoints from the environment.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	set := func(dst *string, key string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	set(&c.LLM.Gemini.Project, "GOOGLE_CLOUD_PROJECT_ID")
	set(&c.LLM.Gemini.Location, "GOOGLE_CLOUD_LOCATION")
	set(&c.LLM.Gemini.APIKey, "GEMINI_API_KEY")
	set(&c.LLM.Gemini.TunedEndpoint, "FAIRSCORE_TUNED_ENDPOINT")
	set(&c.LLM.OpenAI.APIKey, "OPENAI_API_KEY")
	set(&c.LLM.OpenAI.BaseURL, "OPENAI_BASE_URL")
	set(&c.Store.DatabaseURL, "DATABASE_URL")
	set(&c.Server.Port, "PORT")
	set(&c.Output.GCS.Bucket, "FAIRSCORE_GCS_BUCKET")
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct constraints, then the cross-field rules the tags
// cannot express.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	seenAttr := make(map[counterfactual.Attribute]bool, len(c.Attributes))
	for _, name := range c.Attributes {
		attr, err := counterfactual.ParseAttribute(name)
		if err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
		if seenAttr[attr] {
			return fmt.Errorf("invalid config: duplicate attribute %q", attr)
		}
		seenAttr[attr] = true
	}

	// A region counterfactual needs a value other than the applicant's own,
	// which only exists when regions and the default name two places.
	distinct := make(map[string]bool, len(c.Counterfactual.Regions)+1)
	for _, r := range append(slices.Clone(c.Counterfactual.Regions), c.Counterfactual.DefaultRegion) {
		distinct[strings.ToLower(strings.TrimSpace(r))] = true
	}
	if seenAttr[counterfactual.Region] && len(distinct) < 2 {
		return fmt.Errorf("invalid config: counterfactual regions and default_region must name at least two regions")
	}

	if c.Data.Schema != nil {
		if err := applicant.ValidateSchema(c.Data.Schema); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
	}

	seenName := make(map[string]bool, len(c.Backends))
	for _, b := range c.Backends {
		name := b.DisplayName()
		if seenName[name] {
			return fmt.Errorf("invalid config: duplicate backend %q", name)
		}
		seenName[name] = true
	}

	return nil
}

// Schema returns the configured applicant schema or the default.
func (c Config) Schema() applicant.Schema {
	if c.Data.Schema != nil {
		return c.Data.Schema
	}
	return applicant.DefaultSchema()
}

// ParsedAttributes returns the normalized protected attributes. Call after Validate.
func (c Config) ParsedAttributes() []counterfactual.Attribute {
	attrs := make([]counterfactual.Attribute, 0, len(c.Attributes))
	for _, name := range c.Attributes {
		if attr, err := counterfactual.ParseAttribute(name); err == nil {
			attrs = append(attrs, attr)
		}
	}
	return attrs
}

// UsesText reports whether any backend needs a text generator.
func (c Config) UsesText() bool {
	for _, b := range c.Backends {
		if b.Kind == KindText {
			return true
		}
	}
	return false
}
