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

// buildRoot assembles the CLI. A bare `respawn` performs the one-shot
// kill-and-relaunch cycle; subcommands act locally by default and through a
// running daemon when --api-url is given.
func buildRoot() *cobra.Command {
	global := &GlobalFlags{}
	respawnCommand := command{}

	root := createRootCommand(respawnCommand, global)
	root.AddCommand(
		createRestartCommand(respawnCommand, global),
		createStopCommand(respawnCommand, global),
		createStatusCommand(respawnCommand, global),
		createHistoryCommand(respawnCommand, global),
		createServeCommand(global),
		createConfigCommand(respawnCommand, global),
	)
	return root
}

func createRootCommand(respawnCommand command, global *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "respawn",
		Short: "Kill-and-relaunch supervisor for crawler worker scripts",
		Long: `Respawn replaces the usual restart shell script: it terminates every
running instance of each configured worker, waits out a grace period, then
relaunches the worker detached from the terminal with output appended to the
worker's log file.

Run it bare to cycle all workers once:

  respawn                            # kill + relaunch everything, print pids
  respawn restart --name=weibo-crawler
  respawn serve --daemonize          # supervising daemon with REST API
  respawn status --api-url=http://host:8080/api`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(*cobra.Command, []string) error {
			return respawnCommand.OneShot(global.ConfigPath)
		},
	}
	root.PersistentFlags().StringVar(&global.ConfigPath, "config", "", "path to TOML config file (default: respawn.toml next to the executable)")
	return root
}

func createRestartCommand(respawnCommand command, global *GlobalFlags) *cobra.Command {
	flags := &RestartFlags{}
	cmd := &cobra.Command{
		Use:   "restart",
		Short: "Kill and relaunch workers",
		Long: `Restart the named worker, or every configured worker when --name is
omitted. With --api-url the restart is carried out by a running daemon.`,
		RunE: func(*cobra.Command, []string) error {
			flags.ConfigPath = global.ConfigPath
			return respawnCommand.Restart(*flags)
		},
	}
	cmd.Flags().StringVar(&flags.Name, "name", "", "worker name (empty: all workers)")
	cmd.Flags().StringVar(&flags.APIUrl, "api-url", "", "daemon URL (e.g. http://127.0.0.1:8080/api)")
	cmd.Flags().DurationVar(&flags.APITimeout, "api-timeout", 10*time.Second, "request timeout")
	cmd.Flags().BoolVar(&flags.APIInsecure, "api-insecure", false, "skip TLS certificate verification")
	return cmd
}

func createStopCommand(respawnCommand command, global *GlobalFlags) *cobra.Command {
	flags := &StopFlags{}
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Terminate workers without relaunching",
		Long: `Stop every running instance of the named worker, or of all configured
workers when --name is omitted. Instances that ignore the termination signal
for longer than --wait are killed.`,
		RunE: func(*cobra.Command, []string) error {
			flags.ConfigPath = global.ConfigPath
			return respawnCommand.Stop(*flags)
		},
	}
	cmd.Flags().StringVar(&flags.Name, "name", "", "worker name (empty: all workers; required with --api-url)")
	cmd.Flags().DurationVar(&flags.Wait, "wait", 3*time.Second, "grace before escalating to SIGKILL")
	cmd.Flags().StringVar(&flags.APIUrl, "api-url", "", "daemon URL (e.g. http://127.0.0.1:8080/api)")
	cmd.Flags().DurationVar(&flags.APITimeout, "api-timeout", 10*time.Second, "request timeout")
	cmd.Flags().BoolVar(&flags.APIInsecure, "api-insecure", false, "skip TLS certificate verification")
	return cmd
}

func createStatusCommand(respawnCommand command, global *GlobalFlags) *cobra.Command {
	flags := &StatusFlags{}
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show which workers are running",
		RunE: func(*cobra.Command, []string) error {
			flags.ConfigPath = global.ConfigPath
			return respawnCommand.Status(*flags)
		},
	}
	cmd.Flags().StringVar(&flags.Name, "name", "", "worker name (empty: all workers)")
	cmd.Flags().StringVar(&flags.APIUrl, "api-url", "", "daemon URL (e.g. http://127.0.0.1:8080/api)")
	cmd.Flags().DurationVar(&flags.APITimeout, "api-timeout", 10*time.Second, "request timeout")
	cmd.Flags().BoolVar(&flags.APIInsecure, "api-insecure", false, "skip TLS certificate verification")
	return cmd
}

func createHistoryCommand(respawnCommand command, global *GlobalFlags) *cobra.Command {
	flags := &HistoryFlags{}
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent launches of a worker",
		Long: `History lists the most recent launch records of a worker, newest first.
Locally this needs a [store] dsn in the config; against a daemon the daemon's
store is queried.`,
		RunE: func(*cobra.Command, []string) error {
			flags.ConfigPath = global.ConfigPath
			return respawnCommand.History(*flags)
		},
	}
	cmd.Flags().StringVar(&flags.Name, "name", "", "worker name (required)")
	cmd.Flags().IntVar(&flags.Limit, "limit", 20, "maximum records to list")
	cmd.Flags().StringVar(&flags.APIUrl, "api-url", "", "daemon URL (e.g. http://127.0.0.1:8080/api)")
	cmd.Flags().DurationVar(&flags.APITimeout, "api-timeout", 10*time.Second, "request timeout")
	cmd.Flags().BoolVar(&flags.APIInsecure, "api-insecure", false, "skip TLS certificate verification")
	if err := cmd.MarkFlagRequired("name"); err != nil {
		panic(err)
	}
	return cmd
}

func createServeCommand(global *GlobalFlags) *cobra.Command {
	flags := &ServeFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the supervising daemon",
		Long: `Serve keeps respawn resident: workers are relaunched on their cron
schedules, exits are reaped into the launch history, the REST API and
Prometheus metrics are served, and the config file is re-applied when it
changes on disk.`,
		RunE: func(*cobra.Command, []string) error {
			flags.ConfigPath = global.ConfigPath
			return runServe(*flags)
		},
	}
	cmd.Flags().BoolVar(&flags.Daemonize, "daemonize", false, "detach from the terminal and run in the background")
	cmd.Flags().StringVar(&flags.PIDFile, "pidfile", "", "write the daemon pid to this file")
	cmd.Flags().StringVar(&flags.LogFile, "logfile", "", "append daemon output to this file when daemonized")
	return cmd
}

func createConfigCommand(respawnCommand command, global *GlobalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration helpers",
	}

	flags := &ConfigInitFlags{}
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter config file",
		Long: `Write a commented starter respawn.toml. The default location is next to
the executable, where a bare respawn run picks it up.`,
		RunE: func(*cobra.Command, []string) error {
			if flags.Path == "" {
				flags.Path = global.ConfigPath
			}
			return respawnCommand.ConfigInit(flags.Path)
		},
	}
	initCmd.Flags().StringVar(&flags.Path, "path", "", "target file (default: respawn.toml next to the executable)")
	cmd.AddCommand(initCmd)
	return cmd
}
