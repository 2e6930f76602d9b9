package config

import (
	"fmt"
	"slices"
	"strings"

	"github.com/leapstack-labs/leapmesh/internal/cli/output"
)

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if !slices.Contains(output.ValidModes, c.OutputFormat) {
		return fmt.Errorf("output: unknown format %q (valid: %s)", c.OutputFormat, strings.Join(output.ValidModes, ", "))
	}
	if c.Env == "" {
		return fmt.Errorf("env is required")
	}
	if strings.ContainsAny(c.Env, `/\`) {
		return fmt.Errorf("env %q may not contain path separators", c.Env)
	}
	if c.Registry.Retry.Attempts < 1 {
		return fmt.Errorf("registry.retry.attempts must be at least 1, got %d", c.Registry.Retry.Attempts)
	}
	if c.Validation.Concurrency < 1 {
		return fmt.Errorf("validate.concurrency must be at least 1, got %d", c.Validation.Concurrency)
	}
	if c.Registry.Retry.InitialBackoff < 0 {
		return fmt.Errorf("registry.retry.initial_backoff may not be negative")
	}
	if c.Registry.Timeout < 0 {
		return fmt.Errorf("registry.timeout may not be negative")
	}
	return nil
}

// ValidateRegistry checks that the selected backend is addressable.
// Commands that never touch the registry skip this.
func (c *Config) ValidateRegistry() error {
	if c.Registry.Local {
		if c.Registry.Path == "" {
			return fmt.Errorf("registry.path is required with --local")
		}
		return nil
	}
	if c.Registry.Bucket == "" {
		return fmt.Errorf("registry.bucket is required for the object-storage backend (pass --bucket or set %s, or use --local)", BucketEnvVar)
	}
	return nil
}
