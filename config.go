package leaf

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Default output file names, relative to the output directory.
const (
	DefaultOutputDir   = "leaf_out"
	DefaultTraceFile   = "trace.jsonl"
	DefaultAnswersFile = "answers.jsonl"
	DefaultTypesFile   = "types.jsonl"
)

// ExternalCallStrategy determines how the result of a call into
// uninstrumented code is modeled.
type ExternalCallStrategy int

// External call strategies.
const (
	ExternalCallPanic = ExternalCallStrategy(iota)
	ExternalCallConcretization
	ExternalCallOverApproximation
	ExternalCallOptimisticConcretization
)

var externalCallStrategies = [...]string{
	ExternalCallPanic:                    "panic",
	ExternalCallConcretization:           "conc",
	ExternalCallOverApproximation:        "overapprox",
	ExternalCallOptimisticConcretization: "opt_conc",
}

// String returns the canonical name of the strategy.
func (s ExternalCallStrategy) String() string {
	if s >= 0 && int(s) < len(externalCallStrategies) {
		return externalCallStrategies[s]
	}
	return fmt.Sprintf("ExternalCallStrategy<%d>", s)
}

// MarshalText implements encoding.TextMarshaler.
func (s ExternalCallStrategy) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *ExternalCallStrategy) UnmarshalText(text []byte) error {
	switch string(text) {
	case "panic":
		*s = ExternalCallPanic
	case "conc", "concretize", "underapprox":
		*s = ExternalCallConcretization
	case "overapprox", "overapproximate":
		*s = ExternalCallOverApproximation
	case "opt_conc":
		*s = ExternalCallOptimisticConcretization
	default:
		return errors.Errorf("invalid external call strategy: %q", text)
	}
	return nil
}

// SymPlaceStrategy determines how a symbolic index or pointer is handled
// when a place is resolved.
type SymPlaceStrategy int

// Symbolic place strategies.
const (
	StrategyProjExpression = SymPlaceStrategy(iota)
	StrategyConcretization
	StrategyStamping
)

var symPlaceStrategies = [...]string{
	StrategyProjExpression: "proj",
	StrategyConcretization: "conc",
	StrategyStamping:       "stamp",
}

// String returns the canonical name of the strategy.
func (s SymPlaceStrategy) String() string {
	if s >= 0 && int(s) < len(symPlaceStrategies) {
		return symPlaceStrategies[s]
	}
	return fmt.Sprintf("SymPlaceStrategy<%d>", s)
}

// MarshalText implements encoding.TextMarshaler.
func (s SymPlaceStrategy) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *SymPlaceStrategy) UnmarshalText(text []byte) error {
	switch string(text) {
	case "proj", "expr":
		*s = StrategyProjExpression
	case "conc", "concretize", "underapprox":
		*s = StrategyConcretization
	case "stamp":
		*s = StrategyStamping
	default:
		return errors.Errorf("invalid symbolic place strategy: %q", text)
	}
	return nil
}

// Config represents the configuration of an engine instance.
type Config struct {
	Call     CallConfig     `yaml:"call"`
	SymPlace SymPlaceConfig `yaml:"sym_place"`
	Trace    TraceConfig    `yaml:"trace"`
	Outputs  OutputConfig   `yaml:"outputs"`

	// Path to a JSON lines file of type layouts to preload.
	Types string `yaml:"types,omitempty"`
}

// CallConfig configures the call stack manager.
type CallConfig struct {
	ExternalCall ExternalCallStrategy `yaml:"external_call"`
}

// SymPlaceConfig holds the symbolic place strategy per usage.
type SymPlaceConfig struct {
	Read  SymPlaceStrategy `yaml:"read"`
	Write SymPlaceStrategy `yaml:"write"`
	Ref   SymPlaceStrategy `yaml:"ref"`
}

// TraceConfig selects the trace layers.
type TraceConfig struct {
	Dedup       bool `yaml:"dedup"`
	SanityCheck bool `yaml:"sanity_check"`
	Coverage    bool `yaml:"coverage"`
	Solve       bool `yaml:"solve"`
}

// OutputConfig configures the files written at shutdown.
// An empty file name disables the output.
type OutputConfig struct {
	Dir     string `yaml:"dir"`
	Trace   string `yaml:"trace"`
	Answers string `yaml:"answers"`
	Types   string `yaml:"types"`
}

// Path returns the path of name inside the output directory.
func (c *OutputConfig) Path(name string) string {
	if name == "" {
		return ""
	}
	return filepath.Join(c.Dir, name)
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Call: CallConfig{ExternalCall: ExternalCallConcretization},
		SymPlace: SymPlaceConfig{
			Read:  StrategyStamping,
			Write: StrategyStamping,
			Ref:   StrategyStamping,
		},
		Trace: TraceConfig{
			Coverage: true,
			Solve:    true,
		},
		Outputs: OutputConfig{
			Dir:     DefaultOutputDir,
			Trace:   DefaultTraceFile,
			Answers: DefaultAnswersFile,
			Types:   DefaultTypesFile,
		},
	}
}

// LoadConfig reads the configuration at path on top of the defaults and
// applies environment overrides. An empty path only applies the overrides.
func LoadConfig(path string) (Config, error) {
	config := DefaultConfig()
	if path != "" {
		buf, err := os.ReadFile(path)
		if err != nil {
			return config, errors.Wrap(err, "read config")
		} else if err := yaml.Unmarshal(buf, &config); err != nil {
			return config, errors.Wrapf(err, "parse config %s", path)
		}
	}
	if err := config.ApplyEnv(os.LookupEnv); err != nil {
		return config, err
	}
	return config, nil
}

// LoadConfigFromEnv loads the file named by LEAF_CONFIG, if set.
func LoadConfigFromEnv() (Config, error) {
	return LoadConfig(os.Getenv("LEAF_CONFIG"))
}

// ApplyEnv overrides fields of c from environment variables, typically
// looked up with os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	for _, env := range []struct {
		name string
		v    interface{ UnmarshalText([]byte) error }
	}{
		{"LEAF_EXTERNAL_CALL", &c.Call.ExternalCall},
		{"LEAF_SYM_PLACE_READ", &c.SymPlace.Read},
		{"LEAF_SYM_PLACE_WRITE", &c.SymPlace.Write},
		{"LEAF_SYM_PLACE_REF", &c.SymPlace.Ref},
	} {
		if s, ok := lookup(env.name); ok {
			if err := env.v.UnmarshalText([]byte(s)); err != nil {
				return errors.Wrap(err, env.name)
			}
		}
	}
	if s, ok := lookup("LEAF_OUTPUT_DIR"); ok {
		c.Outputs.Dir = s
	}
	return nil
}

// Marshal returns the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
