package config

import (
	"strings"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default configuration invalid: %v", err)
	}
}

func TestParseOverridesDefaults(t *testing.T) {
	cfg, err := Parse([]byte("young_size: 512KB\nyoung_lifetime: 3\ngc_stress: true\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.YoungSize != 512<<10 {
		t.Errorf("YoungSize = %d, want %d", cfg.YoungSize, 512<<10)
	}
	if cfg.YoungLifetime != 3 {
		t.Errorf("YoungLifetime = %d, want 3", cfg.YoungLifetime)
	}
	if !cfg.GCStress {
		t.Error("GCStress not set")
	}
	// Untouched keys keep their defaults.
	if cfg.SlabSize != Default().SlabSize {
		t.Errorf("SlabSize = %d, want the default %d", cfg.SlabSize, Default().SlabSize)
	}
}

func TestLoadReader(t *testing.T) {
	cfg, err := Load(strings.NewReader("slab_size: 8KB\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.SlabSize != 8<<10 {
		t.Errorf("SlabSize = %d, want %d", cfg.SlabSize, 8<<10)
	}
}

func TestParseRejectsBadInput(t *testing.T) {
	cases := []struct {
		name string
		in   string
	}{
		{"bad size string", "young_size: lots\n"},
		{"unknown key", "young_szie: 1MB\n"},
		{"slab larger than young", "young_size: 8KB\nslab_size: 16KB\n"},
		{"threshold larger than young", "young_size: 8KB\nlarge_object_threshold: 16KB\nslab_size: 4KB\n"},
		{"zero lifetime", "young_lifetime: 0\n"},
		{"mature below young", "mature_size: 512KB\n"},
	}
	for _, tc := range cases {
		if _, err := Parse([]byte(tc.in)); err == nil {
			t.Errorf("%s: accepted %q", tc.name, tc.in)
		}
	}
}

func TestSizeString(t *testing.T) {
	if got := Size(1 << 20).String(); got != "1.00MB" {
		t.Errorf("String() = %q, want %q", got, "1.00MB")
	}
}
