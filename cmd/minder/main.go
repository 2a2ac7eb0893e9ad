// Package main is the entry point for the minder CLI.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/minderhq/minder/internal/daemon"
	"github.com/minderhq/minder/pkg/app"
	"github.com/minderhq/minder/pkg/client"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "minder",
		Short:         "A background job agent: runs scripts, tracks their scalars, notifies on conditions",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().String("addr", client.DefaultAddr, "agent address (host:port)")
	root.PersistentFlags().String("token", os.Getenv("MINDER_TOKEN"), "agent bearer token")

	root.AddCommand(
		versionCmd(),
		startCmd(),
		submitCmd(),
		listCmd(),
		statusCmd(),
		logsCmd(),
		notificationsCmd(),
		reportCmd(),
		cancelCmd(),
		stopCmd(),
		serviceCmd(),
	)
	return root
}

// clientFor builds a client from the persistent flags.
func clientFor(cmd *cobra.Command) *client.Client {
	addr, _ := cmd.Flags().GetString("addr")
	token, _ := cmd.Flags().GetString("token")
	return client.New(addr, token)
}

func cmdContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("minder %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func startCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Run the agent in the foreground",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfgPath, _ := cmd.Flags().GetString("config")
			logLevel, _ := cmd.Flags().GetString("log-level")
			return app.Run(app.RunParams{
				ConfigPath: cfgPath,
				Version:    version,
				Commit:     commit,
				Date:       date,
				LogLevel:   logLevel,
			})
		},
	}
	cmd.Flags().String("config", "", "path to minder.yaml")
	cmd.Flags().String("log-level", "", "debug, info, warn, or error")
	return cmd
}

func submitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submit <script> [args...]",
		Short: "Queue a script for execution",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := client.SubmitRequest{Args: args}
			req.Name, _ = cmd.Flags().GetString("name")
			req.WorkDir, _ = cmd.Flags().GetString("workdir")

			if disable, _ := cmd.Flags().GetBool("no-interval"); disable {
				req.DisableInterval = true
			} else if cmd.Flags().Changed("interval") {
				secs, _ := cmd.Flags().GetFloat64("interval")
				req.ReportInterval = &secs
			}

			ctx, cancel := cmdContext()
			defer cancel()
			j, err := clientFor(cmd).Submit(ctx, req)
			if err != nil {
				return err
			}
			fmt.Printf("Queued #%d %s (%s)\n", j.Seq, j.Name, j.ID)
			return nil
		},
	}
	cmd.Flags().String("name", "", "job name (default \"Job #<seq>\")")
	cmd.Flags().Float64("interval", 0, "seconds between progress notifications")
	cmd.Flags().Bool("no-interval", false, "disable progress notifications")
	cmd.Flags().String("workdir", "", "directory relative script paths resolve against")
	return cmd
}

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all jobs in submission order",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := cmdContext()
			defer cancel()
			jobs, err := clientFor(cmd).List(ctx)
			if err != nil {
				return err
			}
			if len(jobs) == 0 {
				fmt.Println("No jobs.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "#\tNAME\tSTATUS\tCREATED\tID")
			for _, j := range jobs {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
					j.Seq, j.Name, j.Status,
					j.CreatedAt.Local().Format(time.DateTime), j.ID)
			}
			return w.Flush()
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the agent status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := cmdContext()
			defer cancel()
			st, err := clientFor(cmd).Status(ctx)
			if err != nil {
				return err
			}
			if st.Running != nil {
				fmt.Printf("Running: #%d %s\n", st.Running.Seq, st.Running.Name)
			} else {
				fmt.Println("Running: none")
			}
			fmt.Printf("Queued:  %d\nTotal:   %d\n", st.Queued, st.Total)
			return nil
		},
	}
}

func logsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logs <job>",
		Short: "Show a job's captured stdout and stderr",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := cmdContext()
			defer cancel()
			logs, err := clientFor(cmd).Logs(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("== #%d %s (%s)\n", logs.Job.Seq, logs.Job.Name, logs.Job.Status)
			if logs.Stdout != "" {
				fmt.Println("-- stdout --")
				fmt.Print(ensureNewline(logs.Stdout))
			}
			if logs.Stderr != "" {
				fmt.Println("-- stderr --")
				fmt.Print(ensureNewline(logs.Stderr))
			}
			return nil
		},
	}
}

func notificationsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "notifications <job>",
		Short: "Show a job's notification history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := cmdContext()
			defer cancel()
			ns, err := clientFor(cmd).Notifications(ctx, args[0])
			if err != nil {
				return err
			}
			if len(ns) == 0 {
				fmt.Println("No notifications.")
				return nil
			}
			for _, n := range ns {
				line := fmt.Sprintf("%s  %s", n.Time.Local().Format(time.DateTime), n.Kind)
				if n.Title != "" {
					line += "  " + n.Title
				}
				if len(n.Payload) > 0 {
					line += "  " + formatPayload(n.Payload)
				}
				fmt.Println(line)
			}
			return nil
		},
	}
}

func reportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "report <job>",
		Short: "Show a job's latest scalar values",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := cmdContext()
			defer cancel()
			snapshot, err := clientFor(cmd).Report(ctx, args[0])
			if err != nil {
				return err
			}
			if len(snapshot) == 0 {
				fmt.Println("No scalars reported.")
				return nil
			}
			fmt.Println(formatPayload(snapshot))
			return nil
		},
	}
}

func cancelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel <job>",
		Short: "Cancel a queued or running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			confirmed, _ := cmd.Flags().GetBool("yes")
			c := clientFor(cmd)

			ctx, cancel := cmdContext()
			defer cancel()
			j, err := c.Cancel(ctx, args[0], confirmed)
			if errors.Is(err, client.ErrConfirmationRequired) {
				ok, promptErr := confirmCancel(args[0])
				if promptErr != nil {
					return promptErr
				}
				if !ok {
					fmt.Println("Aborted.")
					return nil
				}
				j, err = c.Cancel(ctx, args[0], true)
			}
			if err != nil {
				return err
			}
			fmt.Printf("Canceled #%d %s\n", j.Seq, j.Name)
			return nil
		},
	}
	cmd.Flags().Bool("yes", false, "skip the running-job confirmation prompt")
	return cmd
}

// confirmCancel prompts before killing a running job.
func confirmCancel(identifier string) (bool, error) {
	var ok bool
	err := huh.NewConfirm().
		Title(fmt.Sprintf("Job %q is running. Terminate it?", identifier)).
		Affirmative("Terminate").
		Negative("Keep running").
		Value(&ok).
		Run()
	if err != nil {
		return false, fmt.Errorf("confirmation prompt: %w", err)
	}
	return ok, nil
}

func stopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Ask the agent to shut down",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := cmdContext()
			defer cancel()
			if err := clientFor(cmd).Stop(ctx); err != nil {
				return err
			}
			fmt.Println("Stop requested.")
			return nil
		},
	}
}

func serviceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:       "service <install|uninstall|start|stop|restart>",
		Short:     "Manage the agent as an OS service",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"install", "uninstall", "start", "stop", "restart"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath, _ := cmd.Flags().GetString("config")
			svcArgs := []string{"start"}
			if cfgPath != "" {
				svcArgs = append(svcArgs, "--config", cfgPath)
			}
			return daemon.Control(daemon.Config{Arguments: svcArgs}, args[0])
		},
	}
	cmd.Flags().String("config", "", "config path baked into the installed service")
	return cmd
}

func formatPayload(payload map[string]float64) string {
	names := make([]string, 0, len(payload))
	for name := range payload {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("%s=%g", name, payload[name])
	}
	return strings.Join(parts, " ")
}

func ensureNewline(s string) string {
	if strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}
