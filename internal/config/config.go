package config

import (
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"time"

	"embedlsp/internal/backend"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration written as a Go duration string ("300ms").
// Bare numbers are read as milliseconds.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	return d.set(v)
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var v any
	if err := node.Decode(&v); err != nil {
		return err
	}
	return d.set(v)
}

func (d *Duration) set(v any) error {
	switch v := v.(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", v, err)
		}
		*d = Duration(parsed)
	case float64:
		*d = Duration(time.Duration(v * float64(time.Millisecond)))
	case int:
		*d = Duration(time.Duration(v) * time.Millisecond)
	default:
		return fmt.Errorf("invalid duration %v", v)
	}
	return nil
}

type Backend struct {
	Command backend.Command `json:"command" yaml:"command"`
	// InitializationOptions are passed through in the backend's initialize request.
	InitializationOptions any `json:"initialization_options,omitempty" yaml:"initialization_options,omitempty"`
}

type Triggers struct {
	PrimaryOnly   []string `json:"primary_only" yaml:"primary_only"`
	SecondaryOnly []string `json:"secondary_only" yaml:"secondary_only"`
}

type Config struct {
	Primary           Backend `json:"primary" yaml:"primary"`
	Secondary         Backend `json:"secondary" yaml:"secondary"`
	PrimaryLanguage   string  `json:"primary_language" yaml:"primary_language"`
	SecondaryLanguage string  `json:"secondary_language" yaml:"secondary_language"`
	RangesMethod      string  `json:"ranges_method" yaml:"ranges_method"`
	// Partitioner is "backend" or "local".
	Partitioner    string `json:"partitioner" yaml:"partitioner"`
	PartitionCache string `json:"partition_cache" yaml:"partition_cache"`
	// SynthMode is "blank" or "delimiters".
	SynthMode        string   `json:"synth_mode" yaml:"synth_mode"`
	TriggerFilter    bool     `json:"trigger_filter" yaml:"trigger_filter"`
	Triggers         Triggers `json:"triggers" yaml:"triggers"`
	Debounce         Duration `json:"debounce" yaml:"debounce"`
	StaleWaitTimeout Duration `json:"stale_wait_timeout" yaml:"stale_wait_timeout"`
	IdleClose        Duration `json:"idle_close" yaml:"idle_close"`
	IdleSweep        Duration `json:"idle_sweep" yaml:"idle_sweep"`
}

var defaultConfig = Config{
	Primary: Backend{Command: backend.Command{
		Path: "intelephense",
		Args: []string{"--stdio"},
	}},
	Secondary: Backend{Command: backend.Command{
		Path: "vscode-html-language-server",
		Args: []string{"--stdio"},
	}},
	PrimaryLanguage:   "php",
	SecondaryLanguage: "html",
	RangesMethod:      backend.DefaultRangesMethod,
	Partitioner:       "backend",
	SynthMode:         "blank",
	TriggerFilter:     true,
	Triggers: Triggers{
		PrimaryOnly:   []string{"$", ">", ":", "\\"},
		SecondaryOnly: []string{"<", "\"", "'", "=", "/"},
	},
	Debounce:         Duration(300 * time.Millisecond),
	StaleWaitTimeout: Duration(2 * time.Second),
	IdleClose:        Duration(3 * time.Minute),
	IdleSweep:        Duration(30 * time.Second),
}

// Default returns the built-in configuration.
func Default() Config {
	return defaultConfig.clone()
}

// clone copies everything a decode could write through.
func (cfg Config) clone() Config {
	cfg.Primary = cfg.Primary.clone()
	cfg.Secondary = cfg.Secondary.clone()
	cfg.Triggers.PrimaryOnly = slices.Clone(cfg.Triggers.PrimaryOnly)
	cfg.Triggers.SecondaryOnly = slices.Clone(cfg.Triggers.SecondaryOnly)
	return cfg
}

func (b Backend) clone() Backend {
	b.Command.Args = slices.Clone(b.Command.Args)
	b.Command.Env = slices.Clone(b.Command.Env)
	if b.InitializationOptions != nil {
		// Plain JSON values only, so a round trip is a deep copy.
		if data, err := json.Marshal(b.InitializationOptions); err == nil {
			var v any
			if json.Unmarshal(data, &v) == nil {
				b.InitializationOptions = v
			}
		}
	}
	return b
}

// Load overlays v on the defaults.
func Load(v any) (Config, error) {
	return Default().Merge(v)
}

// Merge returns cfg with the fields present in v overwritten.
func (cfg Config) Merge(v any) (Config, error) {
	if v == nil {
		return cfg, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return Config{}, fmt.Errorf("failed to marshal source: %w", err)
	}

	// only fields present in src will overwrite.
	cfg = cfg.clone()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal into Config: %w", err)
	}
	return cfg, cfg.Validate()
}

// LoadFile reads a YAML (or JSON) file over the defaults.
func LoadFile(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func (cfg Config) Validate() error {
	switch cfg.Partitioner {
	case "backend", "local":
	default:
		return fmt.Errorf("unknown partitioner %q", cfg.Partitioner)
	}
	switch cfg.SynthMode {
	case "", "blank", "delimiters":
	default:
		return fmt.Errorf("unknown synth_mode %q", cfg.SynthMode)
	}
	if cfg.PrimaryLanguage == "" || cfg.SecondaryLanguage == "" {
		return fmt.Errorf("primary_language and secondary_language are required")
	}
	if cfg.PrimaryLanguage == cfg.SecondaryLanguage {
		return fmt.Errorf("primary and secondary language are both %q", cfg.PrimaryLanguage)
	}
	return nil
}
