package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	if err := buildRoot().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds minimal global/persistent flags for CLI commands
type GlobalFlags struct {
	ConfigPath string
}

// APIFlags selects a remote server instead of the local config.
type APIFlags struct {
	APIUrl     string
	APITimeout time.Duration
}

// ExecFlags holds flags for the exec command
type ExecFlags struct {
	APIFlags
	Timeout time.Duration
}

// SlotsFlags holds flags for slots subcommands
type SlotsFlags struct {
	APIFlags
}

// buildRoot creates the root command with its subcommands.
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	cmdr := command{global: globalFlags}

	root := createRootCommand(globalFlags)
	root.AddCommand(
		createServeCommand(globalFlags),
		createExecCommand(cmdr, &ExecFlags{}),
		createSlotsCommand(cmdr, &SlotsFlags{}),
		createTemplateCommand(cmdr, &TemplateCreateFlags{}),
	)
	return root
}

// createRootCommand creates the root command with minimal persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "slotexec",
		Short: "Bounded dynamic statement execution",
		Long: `slotexec runs runtime-constructed statements on a fixed pool of
execution slots. Statements may call back into slotexec; when every slot
is busy the call fails immediately with code 53400.

Examples:
  slotexec serve --config=slotexec.toml
  slotexec exec "SELECT 1"
  slotexec exec "SELECT 1" --api-url=http://db-proxy:8480/api
  slotexec slots list
  slotexec slots reset
  slotexec template --type=postgres --output=slotexec.toml`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	return root
}

func addAPIFlags(cmd *cobra.Command, f *APIFlags) {
	cmd.Flags().StringVar(&f.APIUrl, "api-url", "", "remote server URL (e.g. http://host:8480/api)")
	cmd.Flags().DurationVar(&f.APITimeout, "api-timeout", 30*time.Second, "request timeout")
}

// createExecCommand creates the exec subcommand
func createExecCommand(cmdr command, flags *ExecFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exec <statement>",
		Short: "Execute one statement",
		Long: `Execute one statement and print its result as JSON.
Without --api-url the statement runs against the engine and slot table
from the config file.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmdr.Exec(cmd.Context(), cmd.OutOrStdout(), args[0], *flags)
		},
	}
	addAPIFlags(cmd, &flags.APIFlags)
	cmd.Flags().DurationVar(&flags.Timeout, "timeout", 0, "statement timeout for local execution (0 uses config)")
	return cmd
}

// createSlotsCommand creates the slots command with list and reset
func createSlotsCommand(cmdr command, flags *SlotsFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "slots",
		Short: "Inspect or reset the execution slot table",
	}
	list := &cobra.Command{
		Use:   "list",
		Short: "List execution slots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmdr.SlotsList(cmd.Context(), cmd.OutOrStdout(), *flags)
		},
	}
	reset := &cobra.Command{
		Use:   "reset",
		Short: "Free every execution slot",
		Long: `Free every execution slot. Use only to recover a persistent slot table
after a crashed process left slots busy; statements still running lose
their slot.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmdr.SlotsReset(cmd.Context(), cmd.OutOrStdout(), *flags)
		},
	}
	addAPIFlags(list, &flags.APIFlags)
	addAPIFlags(reset, &flags.APIFlags)
	cmd.AddCommand(list, reset)
	return cmd
}

// createServeCommand creates the serve subcommand
func createServeCommand(globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Start the HTTP API server",
		Long: `Start the HTTP API server. Configuration is loaded from --config or the
positional argument; SLOTEXEC_* environment variables override it.

Examples:
  slotexec serve
  slotexec serve slotexec.toml`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := globalFlags.ConfigPath
			if len(args) > 0 {
				path = args[0]
			}
			return runServe(cmd.Context(), cmd.OutOrStdout(), path, nil)
		},
	}
}

// createTemplateCommand creates the template command
func createTemplateCommand(cmdr command, flags *TemplateCreateFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "template",
		Short: "Create a starter configuration",
		Long: `Create a slotexec.toml for a common deployment layout.

Supported template types:
  memory      - in-process slot table, sqlite engine
  sqlite      - sqlite slot table, engine and history
  postgres    - postgres for everything, metrics and rate limiting on
  redis       - redis slot table shared by several servers
  clickhouse  - clickhouse engine and history

DSN passwords are written as ${VAR} references and resolved from the
environment when the config is loaded.

Examples:
  slotexec template --type=sqlite
  slotexec template --type=postgres --slots=10 --output=slotexec.toml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmdr.TemplateCreate(cmd.OutOrStdout(), *flags)
		},
	}
	cmd.Flags().StringVar(&flags.Type, "type", "sqlite", "template type (memory, sqlite, postgres, redis, clickhouse)")
	cmd.Flags().IntVar(&flags.Slots, "slots", 5, "number of execution slots")
	cmd.Flags().StringVar(&flags.Output, "output", "", "output file (default stdout)")
	cmd.Flags().BoolVar(&flags.Force, "force", false, "overwrite an existing output file")
	return cmd
}
