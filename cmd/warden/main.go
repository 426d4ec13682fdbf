package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/warden-project/warden/pkg/client"
)

// Exit codes for control commands. Scripts can tell "daemon not running"
// apart from "request failed".
const (
	exitFailure       = 1
	exitSocketMissing = 2
	exitConnRefused   = 3
	exitNoResponse    = 4
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, client.ErrSocketMissing):
		return exitSocketMissing
	case errors.Is(err, client.ErrConnectionRefused):
		return exitConnRefused
	case errors.Is(err, client.ErrNoResponse):
		return exitNoResponse
	default:
		return exitFailure
	}
}

// GlobalFlags holds persistent flags shared by all control commands.
type GlobalFlags struct {
	SocketPath string
	Timeout    time.Duration
}

// ServeFlags holds flags for the serve command.
type ServeFlags struct {
	ConfigPath string
}

func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	serveFlags := &ServeFlags{}

	root := createRootCommand(globalFlags)
	root.AddCommand(
		createServeCommand(serveFlags),
		createStatusCommand(globalFlags),
		createStartCommand(globalFlags),
		createStopCommand(globalFlags),
		createRestartCommand(globalFlags),
		createApplyCommand(globalFlags),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "warden",
		Short: "Single-host process supervisor",
		Long: `Warden supervises long-running processes on a single host: it spawns
them, captures their output, restarts them when they die and answers
control requests over a unix socket.

Examples:
  warden serve --config warden.toml   # Start the daemon
  warden status                       # Show the process table
  warden restart web                  # Restart one process
  warden apply                        # Re-read the program list`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&flags.SocketPath, "socket", client.DefaultConfig().SocketPath, "path to the daemon control socket")
	root.PersistentFlags().DurationVar(&flags.Timeout, "timeout", 10*time.Second, "control request timeout")

	return root
}

func createServeCommand(flags *ServeFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Start the warden daemon",
		Long: `Start the warden daemon. Configuration is read from the TOML file given
via --config or as an argument; without one, built-in defaults apply and
programs are read from warden.conf in the working directory.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath := flags.ConfigPath
			if len(args) > 0 {
				configPath = args[0]
			}
			return runServe(configPath)
		},
	}
	cmd.Flags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file")
	return cmd
}
