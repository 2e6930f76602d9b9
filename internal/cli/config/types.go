// Package config loads leapmesh CLI configuration.
//
// Values are layered, lowest to highest: built-in defaults, leapmesh.yaml,
// MANIFEST_BUCKET, LEAPMESH_* environment variables, then flags the user
// set explicitly.
package config

import "time"

// Config holds all CLI configuration options.
type Config struct {
	Env          string           `koanf:"env"`
	Verbose      bool             `koanf:"verbose"`
	OutputFormat string           `koanf:"output"`
	StatePath    string           `koanf:"state_path"`
	Project      string           `koanf:"project"`
	Registry     RegistryConfig   `koanf:"registry"`
	Sync         SyncConfig       `koanf:"sync"`
	Validation   ValidationConfig `koanf:"validate"`

	// ProjectRoot is the directory relative paths resolve against.
	ProjectRoot string `koanf:"-"`
}

// RegistryConfig selects and configures the registry backend.
type RegistryConfig struct {
	// Local selects the filesystem backend rooted at Path. Otherwise the
	// object-storage backend is used.
	Local bool   `koanf:"local"`
	Path  string `koanf:"path"`

	Bucket          string        `koanf:"bucket"`
	Prefix          string        `koanf:"prefix"`
	Endpoint        string        `koanf:"endpoint"`
	Region          string        `koanf:"region"`
	UseSSL          bool          `koanf:"use_ssl"`
	AccessKeyID     string        `koanf:"access_key_id"`
	SecretAccessKey string        `koanf:"secret_access_key"`
	SessionToken    string        `koanf:"session_token"`
	Timeout         time.Duration `koanf:"timeout"`

	Retry RetryConfig `koanf:"retry"`
}

// RetryConfig bounds retries of transient storage errors.
type RetryConfig struct {
	Attempts       int           `koanf:"attempts"`
	InitialBackoff time.Duration `koanf:"initial_backoff"`
}

// SyncConfig holds source synchronizer settings.
type SyncConfig struct {
	// Upstreams are synced when --upstream is not given.
	Upstreams []string `koanf:"upstreams"`
	// OutputDir holds generated stubs, one {upstream}_sources.yml per upstream.
	OutputDir string `koanf:"output_dir"`
}

// ValidationConfig holds lineage validator settings.
type ValidationConfig struct {
	// DownstreamProjects are the projects checked by validate --all.
	DownstreamProjects []string `koanf:"downstream_projects"`
	// Concurrency bounds how many manifests are loaded at once.
	Concurrency int `koanf:"concurrency"`
}

// Default configuration values.
const (
	DefaultConfigFile     = "leapmesh.yaml"
	DefaultStateFile      = ".leapmesh/state.db"
	DefaultEnv            = "dev"
	DefaultOutput         = "auto" // Auto-detect: TTY=text, non-TTY=markdown
	DefaultRegistryPath   = "."
	DefaultSyncOutputDir  = "models/sources"
	DefaultRetryAttempts  = 3
	DefaultInitialBackoff = time.Second
	DefaultStorageTimeout = 30 * time.Second
	DefaultConcurrency    = 4

	// BucketEnvVar names the bucket when neither config nor flags do.
	BucketEnvVar = "MANIFEST_BUCKET"
)
