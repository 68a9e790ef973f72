// Package config holds the user-facing configuration of the optimizer and
// its yaml binding. CLI flags are merged over a loaded file; validation
// runs once at binding time and every violation is fatal.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/slothy-optimizer/slothy-go/pkg/arch"
	"github.com/slothy-optimizer/slothy-go/pkg/dfg"
)

// SwPipelining configures software pipelining (loop mode)
type SwPipelining struct {
	Enabled             bool `yaml:"enabled"`
	Unroll              int  `yaml:"unroll"`
	MinimizeOverlapping bool `yaml:"minimize_overlapping"`
}

// Stalls configures the stall-budget search
type Stalls struct {
	Initial int `yaml:"initial"`
	Cap     int `yaml:"cap"`
}

// Constraints configures the model constraints
type Constraints struct {
	Stalls                 Stalls `yaml:"stalls"`
	AllowReorderingOfLoads bool   `yaml:"allow_reordering_of_loads"`
	AliasPolicy            string `yaml:"alias_policy"`
}

// Config is the full optimizer configuration
type Config struct {
	SwPipelining SwPipelining      `yaml:"sw_pipelining"`
	Constraints  Constraints       `yaml:"constraints"`
	TypingHints  map[string]string `yaml:"typing_hints"`
	// Inputs declares live-in registers: symbolic name to architectural
	// pin; an empty pin leaves the choice to the allocator
	Inputs map[string]string `yaml:"inputs"`
	// Outputs declares required output registers: name to pin
	Outputs map[string]string `yaml:"outputs"`
	SelfCheck bool `yaml:"selfcheck"`
	// SolverTimeoutSeconds bounds one solver invocation; 0 means no limit
	SolverTimeoutSeconds int `yaml:"solver_timeout_seconds"`
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		SwPipelining: SwPipelining{Enabled: false, Unroll: 1, MinimizeOverlapping: true},
		Constraints: Constraints{
			Stalls:                 Stalls{Initial: 0, Cap: 64},
			AllowReorderingOfLoads: true,
			AliasPolicy:            "conservative",
		},
		SelfCheck: true,
	}
}

// Load reads a yaml config file over the defaults
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration; every violation is fatal
func (c *Config) Validate() error {
	if c.SwPipelining.Unroll < 1 {
		return fmt.Errorf("sw_pipelining.unroll must be >= 1, got %d", c.SwPipelining.Unroll)
	}
	if c.Constraints.Stalls.Initial < 0 {
		return fmt.Errorf("constraints.stalls.initial must be >= 0, got %d", c.Constraints.Stalls.Initial)
	}
	if c.Constraints.Stalls.Cap < c.Constraints.Stalls.Initial {
		return fmt.Errorf("constraints.stalls.cap (%d) must be >= constraints.stalls.initial (%d)",
			c.Constraints.Stalls.Cap, c.Constraints.Stalls.Initial)
	}
	if _, ok := dfg.PolicyByName(c.Constraints.AliasPolicy); !ok {
		return fmt.Errorf("unknown constraints.alias_policy %q", c.Constraints.AliasPolicy)
	}
	for name, class := range c.TypingHints {
		if _, err := arch.ParseClass(class); err != nil {
			return fmt.Errorf("typing hint for %q: %w", name, err)
		}
	}
	return nil
}

// Hints converts the typing hints to register classes. Validate must have
// passed.
func (c *Config) Hints() map[string]arch.RegClass {
	out := make(map[string]arch.RegClass, len(c.TypingHints))
	for name, class := range c.TypingHints {
		rc, _ := arch.ParseClass(class)
		out[name] = rc
	}
	return out
}

// AliasPolicy resolves the configured alias policy. Validate must have
// passed.
func (c *Config) AliasPolicy() dfg.AliasPolicy {
	p, _ := dfg.PolicyByName(c.Constraints.AliasPolicy)
	return p
}
