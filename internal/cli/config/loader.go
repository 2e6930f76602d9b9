package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// loggerKey is used to store logger in context.
type loggerKey struct{}

// maxUpwardSearchLevels limits how far up the directory tree to search for config files.
const maxUpwardSearchLevels = 10

const envPrefix = "LEAPMESH_"

// Package-level koanf instance and config file tracking
var (
	k              = koanf.New(".")
	configFileUsed string
	currentConfig  *Config
)

// flagKeys maps CLI flag names onto config keys. Flags not listed here are
// command arguments, not configuration.
var flagKeys = map[string]string{
	"env":           "env",
	"verbose":       "verbose",
	"output":        "output",
	"state":         "state_path",
	"local":         "registry.local",
	"registry-path": "registry.path",
	"bucket":        "registry.bucket",
	"prefix":        "registry.prefix",
	"endpoint":      "registry.endpoint",
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

func configNames() []string {
	return []string{DefaultConfigFile, "leapmesh.yml"}
}

// configIn returns the config file in dir, or "" if there is none.
func configIn(dir string) string {
	for _, name := range configNames() {
		candidate := filepath.Join(dir, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

// findProjectRootUpward searches upward from startDir for a leapmesh config file.
// Returns empty string if not found within maxUpwardSearchLevels.
func findProjectRootUpward(startDir string) string {
	dir := startDir
	for i := 0; i < maxUpwardSearchLevels; i++ {
		if configIn(dir) != "" {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}

// resolvePathRelativeTo resolves a path relative to baseDir if it's not absolute.
// Returns the path unchanged if it's empty or already absolute.
func resolvePathRelativeTo(path, baseDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

// ResetConfig resets the koanf instance. Used for testing.
func ResetConfig() {
	k = koanf.New(".")
	configFileUsed = ""
	currentConfig = nil
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"env":                            DefaultEnv,
		"verbose":                        false,
		"output":                         DefaultOutput,
		"state_path":                     DefaultStateFile,
		"registry.local":                 false,
		"registry.path":                  DefaultRegistryPath,
		"registry.use_ssl":               true,
		"registry.timeout":               DefaultStorageTimeout.String(),
		"registry.retry.attempts":        DefaultRetryAttempts,
		"registry.retry.initial_backoff": DefaultInitialBackoff.String(),
		"sync.output_dir":                DefaultSyncOutputDir,
		"validate.concurrency":           DefaultConcurrency,
	}
}

// LoadConfig loads configuration from file, environment variables, and flags.
// Precedence (highest to lowest): flags > env vars > config file > defaults
func LoadConfig(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	k = koanf.New(".")

	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}

	// An explicit config file anchors the project root; otherwise search
	// upward so commands work from any subdirectory.
	projectRoot := cwd
	if cfgFile != "" {
		if abs, err := filepath.Abs(cfgFile); err == nil {
			projectRoot = filepath.Dir(abs)
		}
	} else if root := findProjectRootUpward(cwd); root != "" {
		projectRoot = root
		cfgFile = configIn(root)
	}

	// 1. Defaults
	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Config file
	configFileUsed = cfgFile
	if configFileUsed != "" {
		if err := k.Load(file.Provider(configFileUsed), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", configFileUsed, err)
		}
	}

	// 3. Bare bucket variable used by CI pipelines
	if bucket := os.Getenv(BucketEnvVar); bucket != "" {
		if err := k.Load(confmap.Provider(map[string]interface{}{"registry.bucket": bucket}, "."), nil); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", BucketEnvVar, err)
		}
	}

	// 4. LEAPMESH_ env vars. Transform: LEAPMESH_REGISTRY__BUCKET -> registry.bucket
	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 5. Flags the user set explicitly
	var flagStatePath, flagRegistryPath string
	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			key, ok := flagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
		// Flag paths are relative to the CWD, not the project root.
		flagStatePath = changedAbsPath(flags, "state")
		flagRegistryPath = changedAbsPath(flags, "registry-path")
	}

	// 6. Decode
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			),
			WeaklyTypedInput: true,
			Result:           &cfg,
		},
	}); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	cfg.ProjectRoot = projectRoot
	if flagStatePath != "" {
		cfg.StatePath = flagStatePath
	} else if cfg.StatePath != ":memory:" {
		cfg.StatePath = resolvePathRelativeTo(cfg.StatePath, projectRoot)
	}
	if flagRegistryPath != "" {
		cfg.Registry.Path = flagRegistryPath
	} else {
		cfg.Registry.Path = resolvePathRelativeTo(cfg.Registry.Path, projectRoot)
	}
	cfg.Sync.OutputDir = resolvePathRelativeTo(cfg.Sync.OutputDir, projectRoot)

	expandRegistryEnvVars(&cfg.Registry)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	currentConfig = &cfg
	return &cfg, nil
}

func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

func changedAbsPath(flags *pflag.FlagSet, name string) string {
	if flags.Lookup(name) == nil || !flags.Changed(name) {
		return ""
	}
	v, _ := flags.GetString(name)
	if v == "" || v == ":memory:" {
		return v
	}
	abs, err := filepath.Abs(v)
	if err != nil {
		return v
	}
	return abs
}

// GetConfigFileUsed returns the path to the config file being used, if any.
func GetConfigFileUsed() string {
	return configFileUsed
}

// GetCurrentConfig returns the configuration from the last successful LoadConfig.
func GetCurrentConfig() *Config {
	return currentConfig
}

// WithLogger returns a copy of ctx carrying logger.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// GetLogger retrieves the logger from the command context.
func GetLogger(ctx context.Context) *slog.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
			return l
		}
	}
	return slog.New(slog.DiscardHandler)
}

// expandEnvVars expands ${VAR} patterns in a string with environment variable values.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val := os.Getenv(varName); val != "" {
			return val
		}
		return match
	})
}

// expandRegistryEnvVars expands environment variables in credential fields.
func expandRegistryEnvVars(r *RegistryConfig) {
	r.Bucket = expandEnvVars(r.Bucket)
	r.Endpoint = expandEnvVars(r.Endpoint)
	r.AccessKeyID = expandEnvVars(r.AccessKeyID)
	r.SecretAccessKey = expandEnvVars(r.SecretAccessKey)
	r.SessionToken = expandEnvVars(r.SessionToken)
}
