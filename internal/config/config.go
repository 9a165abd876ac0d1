package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	dserrors "github.com/systmms/keyrot/internal/errors"
	"github.com/systmms/keyrot/internal/logging"
)

//go:embed schema.json
var schemaJSON []byte

// Defaults applied when keyrot.yaml leaves a value unset.
const (
	DefaultInterval           = 24 * time.Hour
	DefaultGracePeriod        = 10 * time.Second
	DefaultConsistencyTimeout = 30 * time.Second
	DefaultLockType           = "local"
	DefaultLockPrefix         = "/keyrot/locks"
	DefaultLockTTL            = 15 * time.Minute
	DefaultMetricsListen      = ":9090"
)

// Config holds the runtime configuration
type Config struct {
	Path       string
	Logger     *logging.Logger
	Definition *Definition
}

// Definition represents the keyrot.yaml structure
type Definition struct {
	Version            int                          `yaml:"version"`
	Interval           Duration                     `yaml:"interval,omitempty"`
	GracePeriod        Duration                     `yaml:"grace_period,omitempty"`
	ConsistencyTimeout Duration                     `yaml:"consistency_timeout,omitempty"`
	AWS                AWSConfig                    `yaml:"aws,omitempty"`
	Lock               LockConfig                   `yaml:"lock,omitempty"`
	Metrics            MetricsConfig                `yaml:"metrics,omitempty"`
	Notifications      *NotificationConfig          `yaml:"notifications,omitempty"`
	Principals         []PrincipalConfig            `yaml:"principals"`
	Distributors       map[string]DistributorConfig `yaml:"distributors"`
}

// AWSConfig selects the account and region holding the IAM principals
type AWSConfig struct {
	Region   string `yaml:"region,omitempty"`
	Profile  string `yaml:"profile,omitempty"`
	Endpoint string `yaml:"endpoint,omitempty"`
}

// LockConfig selects how concurrent rotations of one principal are excluded
type LockConfig struct {
	Type   string   `yaml:"type,omitempty"`
	Prefix string   `yaml:"prefix,omitempty"`
	TTL    Duration `yaml:"ttl,omitempty"`
}

// MetricsConfig controls Prometheus exposition
type MetricsConfig struct {
	Listen      string `yaml:"listen,omitempty"`
	Pushgateway string `yaml:"pushgateway,omitempty"`
}

// PrincipalConfig names an IAM user and the distributors its new keys go to
type PrincipalConfig struct {
	Name         string   `yaml:"name"`
	Distributors []string `yaml:"distributors"`
}

// DistributorConfig is one named distribution target
type DistributorConfig struct {
	Type     string                 `yaml:"type"`
	Auth     string                 `yaml:"auth"`
	Projects []ProjectConfig        `yaml:"projects"`
	Options  map[string]interface{} `yaml:",inline"`
}

// ProjectConfig names the locations at a target that hold the key id and secret
type ProjectConfig struct {
	Target     string `yaml:"target"`
	KeyIDName  string `yaml:"key_id_name"`
	SecretName string `yaml:"secret_name"`
}

// Duration is a time.Duration written as "10s", "24h" in YAML
type Duration time.Duration

// UnmarshalYAML parses a Go duration string
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML writes the duration back in its string form
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Load reads, schema-checks, parses and validates keyrot.yaml
func (c *Config) Load() error {
	data, err := os.ReadFile(c.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return dserrors.ConfigError{
				Field:      "path",
				Value:      c.Path,
				Message:    "configuration file not found",
				Suggestion: "Pass --config or create keyrot.yaml in the working directory",
			}
		}
		return dserrors.UserError{
			Message:    "Failed to read configuration file",
			Details:    err.Error(),
			Suggestion: "Check file permissions and path",
			Err:        err,
		}
	}

	def, err := Parse(data)
	if err != nil {
		return err
	}

	c.Definition = def
	if c.Logger != nil {
		c.Logger.Debug("Loaded %d principal(s) and %d distributor(s) from %s", len(def.Principals), len(def.Distributors), c.Path)
	}
	return nil
}

// Parse validates raw YAML against the schema, decodes it, applies defaults
// and runs semantic validation.
func Parse(data []byte) (*Definition, error) {
	var raw interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, dserrors.ConfigError{
			Message:    "invalid YAML syntax in configuration file",
			Suggestion: "Check for indentation errors, missing quotes, or invalid characters. Use a YAML validator",
		}
	}
	if raw == nil {
		return nil, dserrors.ConfigError{
			Message:    "configuration file is empty",
			Suggestion: "Add 'version: 1', principals and distributors",
		}
	}

	if err := validateSchema(raw); err != nil {
		return nil, err
	}

	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, dserrors.ConfigError{
			Message:    err.Error(),
			Suggestion: "Durations use Go syntax such as 10s, 15m or 24h",
		}
	}

	def.applyDefaults()
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

func validateSchema(raw interface{}) error {
	doc, err := json.Marshal(raw)
	if err != nil {
		return dserrors.ConfigError{
			Message:    fmt.Sprintf("configuration cannot be represented as JSON: %v", err),
			Suggestion: "Use string keys for every mapping",
		}
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(schemaJSON),
		gojsonschema.NewBytesLoader(doc),
	)
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}

	if !result.Valid() {
		var messages []string
		for _, desc := range result.Errors() {
			messages = append(messages, desc.String())
		}
		return dserrors.ConfigError{
			Field:      result.Errors()[0].Field(),
			Message:    "schema validation failed:\n  - " + strings.Join(messages, "\n  - "),
			Suggestion: "Compare keyrot.yaml against the documented layout",
		}
	}
	return nil
}

func (d *Definition) applyDefaults() {
	if d.Interval == 0 {
		d.Interval = Duration(DefaultInterval)
	}
	if d.GracePeriod == 0 {
		d.GracePeriod = Duration(DefaultGracePeriod)
	}
	if d.ConsistencyTimeout == 0 {
		d.ConsistencyTimeout = Duration(DefaultConsistencyTimeout)
	}
	if d.Lock.Type == "" {
		d.Lock.Type = DefaultLockType
	}
	if d.Lock.Prefix == "" {
		d.Lock.Prefix = DefaultLockPrefix
	}
	if d.Lock.TTL == 0 {
		d.Lock.TTL = Duration(DefaultLockTTL)
	}
	if d.Metrics.Listen == "" {
		d.Metrics.Listen = DefaultMetricsListen
	}
}

// Validate checks relationships the schema cannot express
func (d *Definition) Validate() error {
	if d.Version != 1 {
		return dserrors.ConfigError{
			Field:      "version",
			Value:      d.Version,
			Message:    "unsupported configuration version",
			Suggestion: "Set 'version: 1' at the top of keyrot.yaml",
		}
	}

	if d.GracePeriod.Std() >= d.Interval.Std() {
		return dserrors.ConfigError{
			Field:      "grace_period",
			Value:      d.GracePeriod.Std(),
			Message:    "grace period must be shorter than the rotation interval",
			Suggestion: fmt.Sprintf("Use a grace period well below %s", d.Interval.Std()),
		}
	}

	if d.Lock.Type != "none" && d.Lock.TTL.Std() <= d.GracePeriod.Std()+d.ConsistencyTimeout.Std() {
		return dserrors.ConfigError{
			Field:      "lock.ttl",
			Value:      d.Lock.TTL.Std(),
			Message:    "lock TTL must exceed grace_period plus consistency_timeout",
			Suggestion: "Raise lock.ttl so a lease outlives one rotation step",
		}
	}

	if len(d.Principals) == 0 {
		return dserrors.ConfigError{
			Field:      "principals",
			Message:    "at least one principal is required",
			Suggestion: "Add a principal with the IAM user name whose keys are rotated",
		}
	}

	seen := make(map[string]bool)
	for i, p := range d.Principals {
		if seen[p.Name] {
			return dserrors.ConfigError{
				Field:      fmt.Sprintf("principals[%d].name", i),
				Value:      p.Name,
				Message:    "duplicate principal",
				Suggestion: "Each principal may appear only once",
			}
		}
		seen[p.Name] = true

		if len(p.Distributors) == 0 {
			return dserrors.ConfigError{
				Field:      fmt.Sprintf("principals[%d].distributors", i),
				Value:      p.Name,
				Message:    "principal has no distributors",
				Suggestion: "A created key must be pushed somewhere. List at least one distributor",
			}
		}

		for _, name := range p.Distributors {
			if _, ok := d.Distributors[name]; !ok {
				return dserrors.ConfigError{
					Field:      fmt.Sprintf("principals[%d].distributors", i),
					Value:      name,
					Message:    "distributor not defined",
					Suggestion: availableSuggestion("Defined distributors", d.DistributorNames()),
				}
			}
		}
	}

	for name, dist := range d.Distributors {
		for j, project := range dist.Projects {
			if project.KeyIDName == project.SecretName {
				return dserrors.ConfigError{
					Field:      fmt.Sprintf("distributors.%s.projects[%d]", name, j),
					Value:      project.KeyIDName,
					Message:    "key_id_name and secret_name must differ",
					Suggestion: "Store the key id and the secret in separate locations",
				}
			}
		}
	}

	return nil
}

// DistributorNames returns the configured distributor names in sorted order
func (d *Definition) DistributorNames() []string {
	names := make([]string, 0, len(d.Distributors))
	for name := range d.Distributors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Principal returns the named principal
func (d *Definition) Principal(name string) (PrincipalConfig, error) {
	for _, p := range d.Principals {
		if p.Name == name {
			return p, nil
		}
	}

	names := make([]string, 0, len(d.Principals))
	for _, p := range d.Principals {
		names = append(names, p.Name)
	}
	return PrincipalConfig{}, dserrors.ConfigError{
		Field:      "principal",
		Value:      name,
		Message:    "principal not found",
		Suggestion: availableSuggestion("Configured principals", names),
	}
}

func availableSuggestion(label string, names []string) string {
	if len(names) == 0 {
		return "Check keyrot.yaml"
	}
	return fmt.Sprintf("%s: %s", label, strings.Join(names, ", "))
}
