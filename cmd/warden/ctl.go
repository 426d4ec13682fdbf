package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/warden-project/warden/pkg/client"
)

func newControlClient(flags *GlobalFlags) *client.Client {
	return client.New(client.Config{
		SocketPath: flags.SocketPath,
		Timeout:    flags.Timeout,
	})
}

func createStatusCommand(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the daemon's process table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			table, err := newControlClient(flags).Status(context.Background())
			if err != nil {
				return err
			}
			printStatusTable(table)
			return nil
		},
	}
}

func printStatusTable(table []client.ProcessStatus) {
	if len(table) == 0 {
		fmt.Println("no processes")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSTATE\tPID\tUPTIME\tRESTARTS\tLAST EXIT\tCOMMAND")
	for _, st := range table {
		pid := "-"
		if st.PID != 0 {
			pid = fmt.Sprintf("%d", st.PID)
		}
		uptime := st.Uptime
		if uptime == "" {
			uptime = "-"
		}
		lastExit := st.LastExit
		if lastExit == "" {
			lastExit = "-"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			st.ID, st.State, pid, uptime, st.Restarts, lastExit, st.Command)
	}
	_ = w.Flush()
}

func createStartCommand(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "start <id>",
		Short: "Start a process by id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			msg, err := newControlClient(flags).Start(context.Background(), args[0])
			if err != nil {
				return err
			}
			fmt.Println(msg)
			return nil
		},
	}
}

func createStopCommand(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stop <id>",
		Short: "Stop a process by id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			msg, err := newControlClient(flags).Stop(context.Background(), args[0])
			if err != nil {
				return err
			}
			fmt.Println(msg)
			return nil
		},
	}
}

func createRestartCommand(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "restart <id>",
		Short: "Restart a process by id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			msg, err := newControlClient(flags).Restart(context.Background(), args[0])
			if err != nil {
				return err
			}
			fmt.Println(msg)
			return nil
		},
	}
}

func createApplyCommand(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "apply",
		Short: "Make the daemon re-read its program list",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			msg, err := newControlClient(flags).Apply(context.Background())
			if err != nil {
				return err
			}
			fmt.Println(msg)
			return nil
		},
	}
}
