// Package cli provides the command-line interface for leapmesh.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapmesh/internal/cli/commands"
	"github.com/leapstack-labs/leapmesh/internal/cli/config"
	"github.com/leapstack-labs/leapmesh/internal/cli/output"
)

// Version information (set at build time).
var (
	Version   = "0.1.0"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

// NewRootCmd creates and returns the root command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "leapmesh",
		Short: "leapmesh - cross-project lineage for analytics projects",
		Long: `leapmesh keeps lineage working across independently deployed transformation
projects.

Upstream projects publish their build manifests to a shared registry.
Downstream projects generate source stubs from the upstream public models,
build against them, and validate that their manifests carry cross-project
dependency edges.`,
		Version: Version,
	}
	setupRoot(rootCmd)

	rootCmd.SetVersionTemplate(fmt.Sprintf("{{.Name}} {{.Version}} (commit %s, built %s)\n", GitCommit, BuildDate))

	rootCmd.AddCommand(commands.NewPublishCommand())
	rootCmd.AddCommand(commands.NewSyncCommand())
	rootCmd.AddCommand(commands.NewValidateCommand())
	rootCmd.AddCommand(commands.NewHistoryCommand())
	rootCmd.AddCommand(commands.NewRunsCommand())
	rootCmd.AddCommand(commands.NewLineageCommand())
	rootCmd.AddCommand(commands.NewVersionCommand(Version))
	rootCmd.AddCommand(NewCompletionCommand())

	return rootCmd
}

// NewPublishRootCmd returns the publish command as a standalone root.
func NewPublishRootCmd() *cobra.Command {
	return standalone("mesh-publish", commands.NewPublishCommand())
}

// NewSyncRootCmd returns the sync command as a standalone root.
func NewSyncRootCmd() *cobra.Command {
	return standalone("mesh-sync", commands.NewSyncCommand())
}

// NewValidateRootCmd returns the validate command as a standalone root.
func NewValidateRootCmd() *cobra.Command {
	return standalone("mesh-validate", commands.NewValidateCommand())
}

// standalone turns a subcommand into a root command named name.
func standalone(name string, cmd *cobra.Command) *cobra.Command {
	sub := cmd.Name()
	use := name
	if _, rest, ok := strings.Cut(cmd.Use, " "); ok {
		use += " " + rest
	}
	cmd.Use = use
	cmd.Version = Version
	cmd.Example = strings.ReplaceAll(cmd.Example, "leapmesh "+sub, name)
	setupRoot(cmd)
	return cmd
}

// setupRoot installs the global flags and configuration loading on a root
// command.
func setupRoot(root *cobra.Command) {
	root.SilenceUsage = true
	root.SilenceErrors = true
	root.PersistentPreRunE = loadConfig

	flags := root.PersistentFlags()
	flags.String("config", "", "config file (default: leapmesh.yaml in this or a parent directory)")
	flags.String("env", "", "Environment name (default: dev)")
	flags.Bool("local", false, "Use the filesystem registry backend")
	flags.String("registry-path", "", "Root directory of the filesystem registry")
	flags.String("bucket", "", "Object-storage bucket (default: $MANIFEST_BUCKET)")
	flags.String("prefix", "", "Key prefix inside the bucket")
	flags.String("endpoint", "", "S3-compatible endpoint (default: s3.amazonaws.com)")
	flags.String("state", "", "Path to the local state ledger")
	flags.BoolP("verbose", "v", false, "Verbose output")
	flags.StringP("output", "o", "", "Output format (auto|text|markdown|json)")

	_ = root.RegisterFlagCompletionFunc("output", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return output.ValidModes, cobra.ShellCompDirectiveNoFileComp
	})
	_ = root.RegisterFlagCompletionFunc("env", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"dev", "staging", "prod"}, cobra.ShellCompDirectiveNoFileComp
	})
}

func loadConfig(cmd *cobra.Command, _ []string) error {
	// Skip config loading for help, completion and version
	switch cmd.Name() {
	case "help", "completion", "__complete", "version":
		return nil
	}

	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadConfig(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger := newLogger(cmd.ErrOrStderr(), cfg.Verbose)
	cmd.SetContext(config.WithLogger(cmd.Context(), logger))

	if f := config.GetConfigFileUsed(); f != "" {
		logger.Debug("using config file", slog.String("path", f))
	}
	logger.Debug("configuration loaded",
		slog.String("env", cfg.Env),
		slog.Bool("local", cfg.Registry.Local),
		slog.String("state", cfg.StatePath))
	return nil
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// Execute runs the leapmesh root command.
func Execute() error {
	return ExecuteCmd(NewRootCmd())
}

// ExecuteCmd runs cmd and prints any error as a single line.
func ExecuteCmd(cmd *cobra.Command) error {
	if err := cmd.Execute(); err != nil {
		_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Error: %s\n", oneLine(err))
		return err
	}
	return nil
}

func oneLine(err error) string {
	return strings.Join(strings.Fields(strings.ReplaceAll(err.Error(), "\n", "; ")), " ")
}

// NewCompletionCommand creates the completion command.
func NewCompletionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Long: `Generate shell completion scripts for leapmesh.

To load completions:

Bash:
  $ source <(leapmesh completion bash)

Zsh:
  $ leapmesh completion zsh > "${fpath[1]}/_leapmesh"

Fish:
  $ leapmesh completion fish | source

PowerShell:
  PS> leapmesh completion powershell | Out-String | Invoke-Expression
`,
		DisableFlagsInUseLine: true,
		ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
		Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletion(out)
			case "zsh":
				return cmd.Root().GenZshCompletion(out)
			case "fish":
				return cmd.Root().GenFishCompletion(out, true)
			case "powershell":
				return cmd.Root().GenPowerShellCompletionWithDesc(out)
			}
			return nil
		},
	}
}
