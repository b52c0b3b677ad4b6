package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds minimal global/persistent flags for CLI commands
type GlobalFlags struct {
	ConfigPath string
}

// buildRoot creates the root command with all subcommands attached
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	apiFlags := &APIFlags{}
	gwCommand := command{}

	root := createRootCommand(globalFlags)
	root.AddCommand(
		createServeCommand(globalFlags),
		createStatusCommand(gwCommand, apiFlags),
		createEnsureCommand(gwCommand, apiFlags),
		createRestartCommand(gwCommand, apiFlags),
		createSyncCommand(gwCommand, apiFlags),
		createBackupCommand(gwCommand, apiFlags),
		createRestoreCommand(gwCommand, apiFlags),
	)
	return root
}

// createRootCommand creates the root command with minimal persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "gatewarden",
		Short: "Agent gateway supervision and durable-state backup tool",
		Long: `Gatewarden keeps the agent gateway process alive inside its container
and syncs its mutable state to a durable object-storage volume.

Examples:
  gatewarden serve --config=config.toml   # Start daemon
  gatewarden status                       # Gateway and state health
  gatewarden sync                         # Trigger a health-gated sync
  gatewarden restore --name=20250101-120000`,
	}

	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	return root
}

func addAPIFlags(cmd *cobra.Command, flags *APIFlags) {
	cmd.Flags().StringVar(&flags.APIUrl, "api-url", "", "daemon URL (e.g. http://127.0.0.1:8481/api)")
	cmd.Flags().StringVar(&flags.APIToken, "api-token", "", "bearer token for the daemon API")
	cmd.Flags().DurationVar(&flags.APITimeout, "api-timeout", 30*time.Second, "request timeout")
}

// createServeCommand creates the serve subcommand
func createServeCommand(globalFlags *GlobalFlags) *cobra.Command {
	serveFlags := &ServeFlags{}

	cmd := &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Start the gatewarden daemon",
		Long: `Start the gatewarden daemon: mount the durable volume, restore state
if the durable copy is fresher, ensure the gateway is running, and serve
the control API.

Examples:
  gatewarden serve --config=config.toml
  gatewarden serve config.toml
  gatewarden serve config.toml --daemonize`,
		RunE: func(cmd *cobra.Command, args []string) error {
			serveFlags.ConfigPath = globalFlags.ConfigPath
			return runServeCommand(serveFlags, args)
		},
	}

	cmd.Flags().BoolVar(&serveFlags.Daemonize, "daemonize", false, "run as daemon in background")
	cmd.Flags().StringVar(&serveFlags.LogFile, "logfile", "", "redirect daemon logs to file")
	cmd.Flags().DurationVar(&serveFlags.SyncEvery, "sync-every", 0, "periodic sync interval (overrides config)")
	return cmd
}

// createStatusCommand creates the status subcommand
func createStatusCommand(gwCommand command, apiFlags *APIFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show gateway and state health",
		Long: `Show the discovered gateway process and the state health gate view.

Examples:
  gatewarden status
  gatewarden status --api-url=http://remote:8481/api`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return gwCommand.Status(*apiFlags)
		},
	}
	addAPIFlags(cmd, apiFlags)
	return cmd
}

// createEnsureCommand creates the ensure subcommand
func createEnsureCommand(gwCommand command, apiFlags *APIFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ensure",
		Short: "Start the gateway if it is not running",
		Long: `Ask the daemon to start the gateway process unless a live one is found.
The command blocks until the gateway's port answers or startup times out.

Examples:
  gatewarden ensure`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return gwCommand.Ensure(*apiFlags)
		},
	}
	addAPIFlags(cmd, apiFlags)
	return cmd
}

// createRestartCommand creates the restart subcommand
func createRestartCommand(gwCommand command, apiFlags *APIFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restart",
		Short: "Kill and relaunch the gateway",
		Long: `Kill any running gateway process and relaunch it in the background.
The response reports whether a previous process was found and killed.

Examples:
  gatewarden restart`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return gwCommand.Restart(*apiFlags)
		},
	}
	addAPIFlags(cmd, apiFlags)
	return cmd
}

// createSyncCommand creates the sync subcommand
func createSyncCommand(gwCommand command, apiFlags *APIFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync state to the durable volume",
		Long: `Trigger a health-gated sync of the local state directory to the durable
volume. The sync is refused while the state directory fails the health gate.

Examples:
  gatewarden sync`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return gwCommand.Sync(*apiFlags)
		},
	}
	addAPIFlags(cmd, apiFlags)
	return cmd
}

// createBackupCommand creates the backup subcommand with list/golden
func createBackupCommand(gwCommand command, apiFlags *APIFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Backup management commands",
		Long: `List snapshots or take a manual golden backup of the durable state.

Examples:
  gatewarden backup list
  gatewarden backup golden`,
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List versioned and golden backups",
		RunE: func(cmd *cobra.Command, args []string) error {
			return gwCommand.Backups(*apiFlags)
		},
	}
	golden := &cobra.Command{
		Use:   "golden",
		Short: "Take a manual golden backup",
		RunE: func(cmd *cobra.Command, args []string) error {
			return gwCommand.GoldenBackup(*apiFlags)
		},
	}
	addAPIFlags(list, apiFlags)
	addAPIFlags(golden, apiFlags)
	cmd.AddCommand(list, golden)
	return cmd
}

// createRestoreCommand creates the restore subcommand
func createRestoreCommand(gwCommand command, apiFlags *APIFlags) *cobra.Command {
	var kind string
	var name string
	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Restore the live state from a backup",
		Long: `Replace the live state directory with the named snapshot from the
versioned or golden namespace.

Examples:
  gatewarden restore --name=20250101-120000
  gatewarden restore --kind=golden --name=20250101-120000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return gwCommand.Restore(*apiFlags, kind, name)
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "versioned", "backup namespace: versioned or golden")
	cmd.Flags().StringVar(&name, "name", "", "backup name (required)")
	addAPIFlags(cmd, apiFlags)
	if err := cmd.MarkFlagRequired("name"); err != nil {
		panic(err)
	}
	return cmd
}
