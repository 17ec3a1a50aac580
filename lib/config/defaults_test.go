package config

import (
	"path/filepath"
	"testing"
	"time"
)

// TestDefaults verifies that Defaults() returns a complete configuration
// with all expected default values set.
func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.Node.BaseDir == "" {
		t.Error("Node.BaseDir should not be empty")
	}
	if cfg.Node.NodeID != 1 {
		t.Errorf("Node.NodeID = %d, want 1", cfg.Node.NodeID)
	}
	if cfg.Node.TransmitOptions != 0x25 {
		t.Errorf("Node.TransmitOptions = 0x%02x, want 0x25", cfg.Node.TransmitOptions)
	}
	if filepath.Dir(cfg.Node.NetworkKeyFile) != cfg.Node.BaseDir {
		t.Errorf("Node.NetworkKeyFile should live in BaseDir, got: %s", cfg.Node.NetworkKeyFile)
	}

	if cfg.Security.Strategy != "essential" {
		t.Errorf("Security.Strategy = %q, want essential", cfg.Security.Strategy)
	}
	if cfg.Security.CustomSecuredCC != "0x62,0x4c,0x63" {
		t.Errorf("Security.CustomSecuredCC = %q", cfg.Security.CustomSecuredCC)
	}
	if cfg.Security.NonceTTL != 10*time.Second {
		t.Errorf("Security.NonceTTL = %v, want 10s", cfg.Security.NonceTTL)
	}
	if cfg.Security.NonceRate != 10 || cfg.Security.NonceBurst != 10 {
		t.Errorf("nonce rate = %v burst = %d, want 10/10", cfg.Security.NonceRate, cfg.Security.NonceBurst)
	}
}

// TestDefaults_PathsAreAbsolute verifies every default path is absolute
func TestDefaults_PathsAreAbsolute(t *testing.T) {
	cfg := Defaults()
	for name, p := range map[string]string{
		"Node.BaseDir":        cfg.Node.BaseDir,
		"Node.NetworkKeyFile": cfg.Node.NetworkKeyFile,
		"Security.StateFile":  cfg.Security.StateFile,
	} {
		if !filepath.IsAbs(p) {
			t.Errorf("%s should be absolute, got: %s", name, p)
		}
	}
}

// TestValidate_ValidConfig verifies that the defaults pass validation
func TestValidate_ValidConfig(t *testing.T) {
	if err := Validate(Defaults()); err != nil {
		t.Errorf("Validate() failed for default config: %v", err)
	}
}

func TestValidate_InvalidValues(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*ConfigDefaults)
	}{
		{"node id zero", func(c *ConfigDefaults) { c.Node.NodeID = 0 }},
		{"node id reserved", func(c *ConfigDefaults) { c.Node.NodeID = 233 }},
		{"no key file", func(c *ConfigDefaults) { c.Node.NetworkKeyFile = "" }},
		{"key file escapes base dir", func(c *ConfigDefaults) { c.Node.NetworkKeyFile = "../network.key" }},
		{"no state file", func(c *ConfigDefaults) { c.Security.StateFile = "" }},
		{"unknown strategy", func(c *ConfigDefaults) { c.Security.Strategy = "always" }},
		{"bad custom list", func(c *ConfigDefaults) { c.Security.CustomSecuredCC = "0x62,lock" }},
		{"nonce ttl too short", func(c *ConfigDefaults) { c.Security.NonceTTL = time.Second }},
		{"nonce ttl too long", func(c *ConfigDefaults) { c.Security.NonceTTL = time.Minute }},
		{"nonce rate zero", func(c *ConfigDefaults) { c.Security.NonceRate = 0 }},
		{"nonce burst zero", func(c *ConfigDefaults) { c.Security.NonceBurst = 0 }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Defaults()
			tc.mutate(&cfg)

			err := Validate(cfg)
			if err == nil {
				t.Fatal("Validate() should fail")
			}
			if _, ok := err.(*validationError); !ok {
				t.Errorf("Validate() should return validationError, got %T", err)
			}
		})
	}
}

func TestValidate_StrategyIgnoresCase(t *testing.T) {
	cfg := Defaults()
	cfg.Security.Strategy = "Supported"
	if err := Validate(cfg); err != nil {
		t.Errorf("Validate() rejected a mixed case strategy: %v", err)
	}
}

func TestValidationError_Error(t *testing.T) {
	err := newValidationError("test message")
	want := "configuration validation failed: test message"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func BenchmarkDefaults(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_ = Defaults()
	}
}
