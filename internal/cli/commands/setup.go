package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapmesh/internal/cli/config"
	"github.com/leapstack-labs/leapmesh/internal/cli/output"
	"github.com/leapstack-labs/leapmesh/internal/registry"
	"github.com/leapstack-labs/leapmesh/internal/state"
)

// CommandContext holds common dependencies for CLI commands.
type CommandContext struct {
	Cfg      *config.Config
	Logger   *slog.Logger
	Renderer *output.Renderer
}

// NewCommandContext creates a CommandContext from the loaded configuration.
func NewCommandContext(cmd *cobra.Command) *CommandContext {
	cfg := getConfig()
	logger := config.GetLogger(cmd.Context())
	r := output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), output.Mode(cfg.OutputFormat))

	return &CommandContext{
		Cfg:      cfg,
		Logger:   logger,
		Renderer: r,
	}
}

// getConfig returns the current configuration, or defaults when none was
// loaded (commands constructed outside a root command).
func getConfig() *config.Config {
	if cfg := config.GetCurrentConfig(); cfg != nil {
		return cfg
	}
	return &config.Config{
		Env:          config.DefaultEnv,
		OutputFormat: config.DefaultOutput,
		StatePath:    config.DefaultStateFile,
		Registry: config.RegistryConfig{
			Path:    config.DefaultRegistryPath,
			Timeout: config.DefaultStorageTimeout,
			Retry: config.RetryConfig{
				Attempts:       config.DefaultRetryAttempts,
				InitialBackoff: config.DefaultInitialBackoff,
			},
		},
		Sync:       config.SyncConfig{OutputDir: config.DefaultSyncOutputDir},
		Validation: config.ValidationConfig{Concurrency: config.DefaultConcurrency},
	}
}

// Registry builds the registry selected by the configuration.
func (c *CommandContext) Registry() (*registry.Registry, error) {
	if err := c.Cfg.ValidateRegistry(); err != nil {
		return nil, err
	}

	rc := c.Cfg.Registry
	var backend registry.Backend
	if rc.Local {
		backend = registry.NewLocalBackend(rc.Path)
	} else {
		ob, err := registry.NewObjectBackend(registry.ObjectConfig{
			Endpoint:        rc.Endpoint,
			Bucket:          rc.Bucket,
			Prefix:          rc.Prefix,
			Region:          rc.Region,
			UseSSL:          rc.UseSSL,
			AccessKeyID:     rc.AccessKeyID,
			SecretAccessKey: rc.SecretAccessKey,
			SessionToken:    rc.SessionToken,
			Timeout:         rc.Timeout,
		})
		if err != nil {
			return nil, err
		}
		backend = ob
	}

	c.Logger.Debug("registry selected", slog.String("location", backend.Location()))
	return registry.New(backend,
		registry.WithRetryPolicy(registry.RetryPolicy{
			Attempts:       rc.Retry.Attempts,
			InitialBackoff: rc.Retry.InitialBackoff,
		}),
		registry.WithLogger(c.Logger),
	), nil
}

// OpenLedger opens the local state ledger. The ledger is optional: when it
// cannot be opened a warning is logged and nil is returned. The cleanup
// function is always safe to call.
func (c *CommandContext) OpenLedger(ctx context.Context) (*state.SQLiteStore, func()) {
	if c.Cfg.StatePath == "" {
		return nil, func() {}
	}
	store := state.NewSQLiteStore(c.Logger)
	if err := store.Open(ctx, c.Cfg.StatePath); err != nil {
		c.Logger.Warn("state ledger unavailable", slog.String("path", c.Cfg.StatePath), slog.Any("error", err))
		return nil, func() {}
	}
	return store, func() { _ = store.Close() }
}

// RequireLedger opens the state ledger or fails.
func (c *CommandContext) RequireLedger(ctx context.Context) (*state.SQLiteStore, func(), error) {
	if c.Cfg.StatePath == "" {
		return nil, nil, fmt.Errorf("state_path is not configured")
	}
	store := state.NewSQLiteStore(c.Logger)
	if err := store.Open(ctx, c.Cfg.StatePath); err != nil {
		return nil, nil, err
	}
	return store, func() { _ = store.Close() }, nil
}
