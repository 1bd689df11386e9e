package leaf_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/benbjohnson/leaf"
	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

func TestLoadConfig(t *testing.T) {
	t.Run("Default", func(t *testing.T) {
		config, err := leaf.LoadConfig("")
		if err != nil {
			t.Fatal(err)
		} else if diff := cmp.Diff(leaf.DefaultConfig(), config); diff != "" {
			t.Fatalf("unexpected config (-want +got):\n%s", diff)
		}
	})

	t.Run("File", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "leaf.yaml")
		if err := os.WriteFile(path, []byte(`
call:
  external_call: opt_conc
sym_place:
  read: proj
  write: conc
trace:
  dedup: true
outputs:
  dir: out
`), 0666); err != nil {
			t.Fatal(err)
		}

		config, err := leaf.LoadConfig(path)
		if err != nil {
			t.Fatal(err)
		}

		want := leaf.DefaultConfig()
		want.Call.ExternalCall = leaf.ExternalCallOptimisticConcretization
		want.SymPlace.Read = leaf.StrategyProjExpression
		want.SymPlace.Write = leaf.StrategyConcretization
		want.Trace.Dedup = true
		want.Outputs.Dir = "out"
		if diff := cmp.Diff(want, config); diff != "" {
			t.Fatalf("unexpected config (-want +got):\n%s", diff)
		}
	})

	t.Run("Env", func(t *testing.T) {
		t.Setenv("LEAF_SYM_PLACE_REF", "proj")
		t.Setenv("LEAF_OUTPUT_DIR", "/tmp/leaf")

		config, err := leaf.LoadConfig("")
		if err != nil {
			t.Fatal(err)
		} else if config.SymPlace.Ref != leaf.StrategyProjExpression {
			t.Fatalf("unexpected ref strategy: %s", config.SymPlace.Ref)
		} else if config.Outputs.Dir != "/tmp/leaf" {
			t.Fatalf("unexpected output dir: %s", config.Outputs.Dir)
		}
	})

	t.Run("ErrNotFound", func(t *testing.T) {
		if _, err := leaf.LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); !os.IsNotExist(errors.Cause(err)) {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("ErrInvalidStrategy", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "leaf.yaml")
		if err := os.WriteFile(path, []byte("call:\n  external_call: maybe\n"), 0666); err != nil {
			t.Fatal(err)
		}
		if _, err := leaf.LoadConfig(path); err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestConfig_ApplyEnv(t *testing.T) {
	lookup := func(env map[string]string) func(string) (string, bool) {
		return func(name string) (string, bool) {
			v, ok := env[name]
			return v, ok
		}
	}

	t.Run("Aliases", func(t *testing.T) {
		for _, tt := range []struct {
			s    string
			want leaf.ExternalCallStrategy
		}{
			{"panic", leaf.ExternalCallPanic},
			{"conc", leaf.ExternalCallConcretization},
			{"concretize", leaf.ExternalCallConcretization},
			{"underapprox", leaf.ExternalCallConcretization},
			{"overapprox", leaf.ExternalCallOverApproximation},
			{"overapproximate", leaf.ExternalCallOverApproximation},
			{"opt_conc", leaf.ExternalCallOptimisticConcretization},
		} {
			config := leaf.DefaultConfig()
			if err := config.ApplyEnv(lookup(map[string]string{"LEAF_EXTERNAL_CALL": tt.s})); err != nil {
				t.Fatalf("%s: %s", tt.s, err)
			} else if got := config.Call.ExternalCall; got != tt.want {
				t.Fatalf("%s: got %s, want %s", tt.s, got, tt.want)
			}
		}
	})

	t.Run("SymPlace", func(t *testing.T) {
		config := leaf.DefaultConfig()
		if err := config.ApplyEnv(lookup(map[string]string{
			"LEAF_SYM_PLACE_READ":  "expr",
			"LEAF_SYM_PLACE_WRITE": "concretize",
		})); err != nil {
			t.Fatal(err)
		}

		want := leaf.SymPlaceConfig{
			Read:  leaf.StrategyProjExpression,
			Write: leaf.StrategyConcretization,
			Ref:   leaf.StrategyStamping,
		}
		if diff := cmp.Diff(want, config.SymPlace); diff != "" {
			t.Fatalf("unexpected strategies (-want +got):\n%s", diff)
		}
	})

	t.Run("ErrInvalid", func(t *testing.T) {
		config := leaf.DefaultConfig()
		if err := config.ApplyEnv(lookup(map[string]string{"LEAF_SYM_PLACE_READ": "guess"})); err == nil {
			t.Fatal("expected error")
		} else if config.SymPlace.Read != leaf.StrategyStamping {
			t.Fatalf("strategy changed on error: %s", config.SymPlace.Read)
		}
	})
}

func TestConfig_Marshal(t *testing.T) {
	config := leaf.DefaultConfig()
	config.Call.ExternalCall = leaf.ExternalCallOverApproximation

	buf, err := config.Marshal()
	if err != nil {
		t.Fatal(err)
	}

	var raw struct {
		Call struct {
			ExternalCall string `yaml:"external_call"`
		} `yaml:"call"`
	}
	if err := yaml.Unmarshal(buf, &raw); err != nil {
		t.Fatal(err)
	} else if raw.Call.ExternalCall != "overapprox" {
		t.Fatalf("unexpected external call strategy: %q", raw.Call.ExternalCall)
	}

	var other leaf.Config
	if err := yaml.Unmarshal(buf, &other); err != nil {
		t.Fatal(err)
	} else if diff := cmp.Diff(config, other); diff != "" {
		t.Fatalf("unexpected config (-want +got):\n%s", diff)
	}
}

func TestExternalCallStrategy_String(t *testing.T) {
	if s := leaf.ExternalCallStrategy(9).String(); s != "ExternalCallStrategy<9>" {
		t.Fatalf("unexpected string: %s", s)
	} else if s := leaf.StrategyStamping.String(); s != "stamp" {
		t.Fatalf("unexpected string: %s", s)
	}
}
