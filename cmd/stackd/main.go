package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/stackd/pkg/client"
)

func main() {
	root := buildRoot(os.Stdout)
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot creates the root command with every subcommand writing to out.
func buildRoot(out io.Writer) *cobra.Command {
	globalFlags := &GlobalFlags{}
	stackdCommand := command{out: out, global: globalFlags}

	root := createRootCommand(globalFlags)
	root.SetOut(out)
	root.AddCommand(
		createServeCommand(globalFlags),
		createListCommand(stackdCommand),
		createStartCommand(stackdCommand),
		createStopCommand(stackdCommand),
		createRestartCommand(stackdCommand),
		createApplyCommand(stackdCommand),
		createHealthCommand(stackdCommand),
		createLogsCommand(stackdCommand),
		createExportLogsCommand(stackdCommand),
		createClearLogsCommand(stackdCommand),
		createUsageCommand(stackdCommand),
		createSnapshotCommand(stackdCommand),
		createTickCommand(stackdCommand),
		createOverrideCommand(stackdCommand),
		createTemplateCommand(stackdCommand),
		createInitCommand(stackdCommand),
		createAuthCommand(stackdCommand),
	)
	return root
}

// createRootCommand creates the root command with minimal persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "stackd",
		Short: "Local service supervisor",
		Long: `stackd supervises a small stack of local services (databases, caches, web servers).

It starts services in dependency order, verifies their health, restarts crashed
services within a retry budget and captures their output.

Run 'stackd serve' to start the daemon; every other command talks to it over HTTP.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to config file (stackd.toml)")
	root.PersistentFlags().StringVarP(&flags.Output, "output", "o", outputTable, "output format: table, json or yaml")
	return root
}

func addClientFlags(cmd *cobra.Command, f *ClientFlags) {
	cmd.Flags().StringVar(&f.APIUrl, "api-url", client.DefaultBaseURL, "stackd daemon API URL")
	cmd.Flags().DurationVar(&f.APITimeout, "api-timeout", 2*time.Minute, "API request timeout")
	cmd.Flags().StringVar(&f.CACert, "ca-cert", "", "CA certificate to trust for an https daemon")
	cmd.Flags().BoolVar(&f.Insecure, "insecure", false, "skip TLS certificate verification")
	cmd.Flags().StringVar(&f.Token, "token", os.Getenv("STACKD_TOKEN"), "bearer token (default $STACKD_TOKEN)")
	cmd.Flags().StringVar(&f.Username, "username", os.Getenv("STACKD_USERNAME"), "basic auth user (default $STACKD_USERNAME)")
	cmd.Flags().StringVar(&f.Password, "password", os.Getenv("STACKD_PASSWORD"), "basic auth password (default $STACKD_PASSWORD)")
}

func addOverrideFlags(cmd *cobra.Command, f *StartFlags) {
	cmd.Flags().BoolVar(&f.Disabled, "disabled", false, "mark the service disabled")
	cmd.Flags().StringVar(&f.Version, "version", "", "service version to run")
	cmd.Flags().StringSliceVar(&f.Ports, "port", nil, "port override as name=port (bare port means main)")
	cmd.Flags().StringArrayVar(&f.Env, "env", nil, "environment override as KEY=VALUE")
	cmd.Flags().StringArrayVar(&f.Args, "arg", nil, "replacement argument (repeatable)")
}

func createServeCommand(globalFlags *GlobalFlags) *cobra.Command {
	serveFlags := &ServeFlags{}

	cmd := &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Start the stackd daemon",
		Long: `Start the stackd daemon: the supervision loop, the HTTP control API,
the override watcher and, when enabled, the metrics endpoint.

Examples:
  stackd serve                          # Built-in defaults under ~/.stackd
  stackd serve stackd.toml              # Start with specific config file
  stackd serve --start postgres,redis   # Start services once the daemon is up`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			serveFlags.ConfigPath = globalFlags.ConfigPath
			return runServe(serveFlags, args)
		},
	}
	cmd.Flags().StringVar(&serveFlags.Listen, "listen", "", "override [server].listen")
	cmd.Flags().StringSliceVar(&serveFlags.Start, "start", nil, "services to start after boot")
	return cmd
}

func createListCommand(c command) *cobra.Command {
	f := &ClientFlags{}
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls", "status"},
		Short:   "Show the state of every service",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.List(cmd.Context(), *f)
		},
	}
	addClientFlags(cmd, f)
	return cmd
}

func createStartCommand(c command) *cobra.Command {
	f := &StartFlags{}
	cmd := &cobra.Command{
		Use:   "start <id>",
		Short: "Start a service and its dependencies",
		Long: `Start a service after its dependencies, waiting for its health check.

Without override flags the daemon uses the persisted override of the service.

Examples:
  stackd start postgres
  stackd start postgres --version 16.2 --port 5433
  stackd start web --env MODE=dev --arg --verbose`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Start(cmd.Context(), args[0], *f)
		},
	}
	addClientFlags(cmd, &f.ClientFlags)
	addOverrideFlags(cmd, f)
	return cmd
}

func createStopCommand(c command) *cobra.Command {
	f := &ClientFlags{}
	cmd := &cobra.Command{
		Use:   "stop <id>",
		Short: "Stop a service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Stop(cmd.Context(), args[0], *f)
		},
	}
	addClientFlags(cmd, f)
	return cmd
}

func createRestartCommand(c command) *cobra.Command {
	f := &StartFlags{}
	cmd := &cobra.Command{
		Use:   "restart <id>",
		Short: "Stop and start a service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Restart(cmd.Context(), args[0], *f)
		},
	}
	addClientFlags(cmd, &f.ClientFlags)
	addOverrideFlags(cmd, f)
	return cmd
}

func createApplyCommand(c command) *cobra.Command {
	f := &StartFlags{}
	cmd := &cobra.Command{
		Use:   "apply <id>",
		Short: "Record an override without restarting the service",
		Long: `Record an override on the daemon without restarting the service.
The service keeps running with its current configuration.

Examples:
  stackd apply redis --port 6380`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Apply(cmd.Context(), args[0], *f)
		},
	}
	addClientFlags(cmd, &f.ClientFlags)
	addOverrideFlags(cmd, f)
	return cmd
}

func createHealthCommand(c command) *cobra.Command {
	f := &ClientFlags{}
	cmd := &cobra.Command{
		Use:   "health <id>",
		Short: "Run the health check of a service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Health(cmd.Context(), args[0], *f)
		},
	}
	addClientFlags(cmd, f)
	return cmd
}

func createLogsCommand(c command) *cobra.Command {
	f := &LogsFlags{}
	cmd := &cobra.Command{
		Use:   "logs <id>",
		Short: "Show captured output of a service",
		Long: `Show the most recent captured log entries of a service.

Examples:
  stackd logs postgres --tail 50
  stackd logs postgres --path       # Print the log file location`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Logs(cmd.Context(), args[0], *f)
		},
	}
	addClientFlags(cmd, &f.ClientFlags)
	cmd.Flags().IntVarP(&f.Tail, "tail", "n", 100, "number of entries")
	cmd.Flags().BoolVar(&f.Path, "path", false, "print the log file path instead")
	return cmd
}

func createExportLogsCommand(c command) *cobra.Command {
	f := &ExportFlags{}
	cmd := &cobra.Command{
		Use:   "export-logs",
		Short: "Write a filtered log export on the daemon host",
		Long: `Write the newest buffered entries, filtered by service and level, to a
timestamped file in the export directory and print its path.

Examples:
  stackd export-logs
  stackd export-logs --service postgres --level error --limit 500`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.ExportLogs(cmd.Context(), *f)
		},
	}
	addClientFlags(cmd, &f.ClientFlags)
	cmd.Flags().StringVar(&f.Service, "service", "", "only this service")
	cmd.Flags().StringVar(&f.Level, "level", "", "only this level")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "maximum entries (daemon default when 0)")
	return cmd
}

func createClearLogsCommand(c command) *cobra.Command {
	f := &ExportFlags{}
	cmd := &cobra.Command{
		Use:   "clear-logs",
		Short: "Empty log buffers and files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.ClearLogs(cmd.Context(), *f)
		},
	}
	addClientFlags(cmd, &f.ClientFlags)
	cmd.Flags().StringVar(&f.Service, "service", "", "only this service (default all)")
	return cmd
}

func createUsageCommand(c command) *cobra.Command {
	f := &ClientFlags{}
	cmd := &cobra.Command{
		Use:   "usage <id>",
		Short: "Show CPU and memory usage of a running service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Usage(cmd.Context(), args[0], *f)
		},
	}
	addClientFlags(cmd, f)
	return cmd
}

func createSnapshotCommand(c command) *cobra.Command {
	f := &ClientFlags{}
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Show host usage and ports in use",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Snapshot(cmd.Context(), *f)
		},
	}
	addClientFlags(cmd, f)
	return cmd
}

func createTickCommand(c command) *cobra.Command {
	f := &ClientFlags{}
	cmd := &cobra.Command{
		Use:   "tick",
		Short: "Run one supervision pass now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Tick(cmd.Context(), *f)
		},
	}
	addClientFlags(cmd, f)
	return cmd
}

func createOverrideCommand(c command) *cobra.Command {
	f := &OverrideFlags{}
	cmd := &cobra.Command{
		Use:   "override",
		Short: "Inspect and edit persisted per-service overrides",
		Long: `Inspect and edit the override files under <root>/config/services.
These commands work on the filesystem directly; a running daemon picks up
changes through its override watcher.

Examples:
  stackd override show postgres
  stackd override set postgres --version 16.2 --env PGTZ=UTC
  stackd override range postgres --from 5432 --to 5440
  stackd override reset postgres`,
	}
	cmd.PersistentFlags().StringVar(&f.Root, "root", "", "stackd root (default from config)")

	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Print the override, allocating a main port on first use",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.OverrideShow(args[0], *f)
		},
	}

	sf := &StartFlags{}
	set := &cobra.Command{
		Use:   "set <id>",
		Short: "Merge flags into the override",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.OverrideSet(args[0], *f, *sf, cmd.Flags().Changed("disabled"))
		},
	}
	addOverrideFlags(set, sf)

	reset := &cobra.Command{
		Use:   "reset <id>",
		Short: "Restore the default override",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.OverrideReset(args[0], *f)
		},
	}

	rng := &cobra.Command{
		Use:   "range <id>",
		Short: "Restrict main port allocation to a range",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.OverrideRange(args[0], *f)
		},
	}
	rng.Flags().IntVar(&f.From, "from", 0, "first port of the range")
	rng.Flags().IntVar(&f.To, "to", 0, "last port of the range")
	if err := rng.MarkFlagRequired("from"); err != nil {
		panic(err)
	}
	if err := rng.MarkFlagRequired("to"); err != nil {
		panic(err)
	}

	cmd.AddCommand(show, set, reset, rng)
	return cmd
}
