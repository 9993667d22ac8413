// Package config holds the memory-manager configuration: generation sizes,
// the large-object threshold, and debugging knobs. Sizes are written as
// human-readable byte strings in YAML ("1MB", "64KB").
package config

import (
	"fmt"
	"io"

	"github.com/inhies/go-bytesize"
	"gopkg.in/yaml.v2"
)

// Size is a byte count that unmarshals from strings like "512KB".
type Size uint64

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *Size) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw string
	if err := unmarshal(&raw); err != nil {
		return err
	}
	bs, err := bytesize.Parse(raw)
	if err != nil {
		return fmt.Errorf("config: bad size %q: %w", raw, err)
	}
	*s = Size(bs)
	return nil
}

// String returns the size in human-readable form.
func (s Size) String() string {
	return bytesize.New(float64(s)).String()
}

// Config is the process-wide memory configuration. The zero value is not
// usable; start from Default().
type Config struct {
	// YoungSize is the byte size of each young-generation semispace.
	YoungSize Size `yaml:"young_size"`

	// SlabSize is the byte size of the chunk a thread-local slab carves out of
	// the young generation on each refill.
	SlabSize Size `yaml:"slab_size"`

	// LargeObjectThreshold is the byte size above which an allocation bypasses
	// the young generation entirely.
	LargeObjectThreshold Size `yaml:"large_object_threshold"`

	// YoungLifetime is the number of collections an object survives before it
	// is promoted to the mature generation.
	YoungLifetime int `yaml:"young_lifetime"`

	// MatureSize is the byte budget of the mature generation. Allocations past
	// this budget report an out-of-memory condition.
	MatureSize Size `yaml:"mature_size"`

	// GCStress requests a collection after every allocation. Testing hook.
	GCStress bool `yaml:"gc_stress"`

	// Trace enables colored heap tracing on stderr.
	Trace bool `yaml:"trace"`
}

// Default returns the configuration used when no file overrides it. The
// numbers mirror the historical defaults: 1MiB semispaces, 4KiB slabs, a 2700
// byte large-object threshold, promotion after 6 cycles.
func Default() *Config {
	return &Config{
		YoungSize:            1 << 20,
		SlabSize:             4096,
		LargeObjectThreshold: 2700,
		YoungLifetime:        6,
		MatureSize:           16 << 20,
	}
}

// Load reads a YAML configuration, applying it on top of the defaults.
func Load(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes a YAML configuration, applying it on top of the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the internal consistency of the configuration. The young
// spaces must be able to hold any allocation under the large-object
// threshold, including one that spills: spillover assumes the next space
// always has room for a request that fits one generation.
func (c *Config) Validate() error {
	if c.YoungSize == 0 {
		return fmt.Errorf("config: young_size must be positive")
	}
	if c.SlabSize == 0 || c.SlabSize > c.YoungSize {
		return fmt.Errorf("config: slab_size %s must be positive and fit the young space %s",
			c.SlabSize, c.YoungSize)
	}
	if c.LargeObjectThreshold == 0 || c.LargeObjectThreshold > c.YoungSize {
		return fmt.Errorf("config: large_object_threshold %s must be positive and fit the young space %s",
			c.LargeObjectThreshold, c.YoungSize)
	}
	if c.YoungLifetime <= 0 {
		return fmt.Errorf("config: young_lifetime must be positive")
	}
	if c.MatureSize < c.YoungSize {
		return fmt.Errorf("config: mature_size %s smaller than one young semispace %s",
			c.MatureSize, c.YoungSize)
	}
	return nil
}
