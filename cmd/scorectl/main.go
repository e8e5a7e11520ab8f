// Package main provides scorectl, the operator CLI for the Agent Score API.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/agentscore/internal/client"
	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type globalFlags struct {
	server  string
	apiKey  string
	timeout time.Duration
}

func (g *globalFlags) client() (*client.Client, error) {
	if g.apiKey == "" {
		return nil, fmt.Errorf("an API key is required (--api-key or AGENTSCORE_API_KEY)")
	}
	return client.New(g.server, g.apiKey, g.timeout), nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func rootCmd() *cobra.Command {
	g := &globalFlags{}

	cmd := &cobra.Command{
		Use:           "scorectl",
		Short:         "Operate Agent Score batch scoring jobs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&g.server, "server", envOr("AGENTSCORE_URL", "http://localhost:8080"), "API base URL")
	cmd.PersistentFlags().StringVar(&g.apiKey, "api-key", os.Getenv("AGENTSCORE_API_KEY"), "API key with read and write scope")
	cmd.PersistentFlags().DurationVar(&g.timeout, "timeout", 30*time.Minute, "Per-request timeout; must cover one run call")

	cmd.AddCommand(
		createCmd(g),
		runCmd(g),
		statusCmd(g),
		cancelCmd(g),
		drainCmd(g),
	)
	return cmd
}

func parseJobID(args []string) (uuid.UUID, error) {
	id, err := uuid.Parse(args[0])
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid job id %q: %w", args[0], err)
	}
	return id, nil
}

func createCmd(g *globalFlags) *cobra.Command {
	var (
		scope      string
		ref        string
		windowSize int
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a scoring job for every agent in a team or organization",
		RunE: func(cmd *cobra.Command, args []string) error {
			refID, err := uuid.Parse(ref)
			if err != nil {
				return fmt.Errorf("invalid --ref %q: %w", ref, err)
			}
			c, err := g.client()
			if err != nil {
				return err
			}

			job, err := c.CreateJob(cmd.Context(), client.CreateJobRequest{
				Scope:      scope,
				RefID:      refID,
				WindowSize: windowSize,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "job %s created: %d tasks, %s\n", job.JobID, job.Total, job.Status)
			return nil
		},
	}

	cmd.Flags().StringVar(&scope, "scope", "team", "Entity selection: team or org")
	cmd.Flags().StringVar(&ref, "ref", "", "Team or organization id")
	cmd.Flags().IntVar(&windowSize, "window", 20, "Conversations per agent (10-100)")
	_ = cmd.MarkFlagRequired("ref")
	return cmd
}

func runCmd(g *globalFlags) *cobra.Command {
	var take int

	cmd := &cobra.Command{
		Use:   "run JOB_ID",
		Short: "Process one bounded batch of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID, err := parseJobID(args)
			if err != nil {
				return err
			}
			c, err := g.client()
			if err != nil {
				return err
			}

			res, err := c.Run(cmd.Context(), jobID, take)
			if err != nil {
				return err
			}
			printRun(cmd.OutOrStdout(), res)
			return nil
		},
	}

	cmd.Flags().IntVar(&take, "take", 0, "Tasks to claim; 0 uses the server default")
	return cmd
}

func statusCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status JOB_ID",
		Short: "Show job progress and recent failures",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID, err := parseJobID(args)
			if err != nil {
				return err
			}
			c, err := g.client()
			if err != nil {
				return err
			}

			st, err := c.Status(cmd.Context(), jobID)
			if err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), st)
			return nil
		},
	}
}

func cancelCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel JOB_ID",
		Short: "Cancel a job's remaining tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID, err := parseJobID(args)
			if err != nil {
				return err
			}
			c, err := g.client()
			if err != nil {
				return err
			}

			st, err := c.Cancel(cmd.Context(), jobID)
			if err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), st)
			return nil
		},
	}
}

func drainCmd(g *globalFlags) *cobra.Command {
	var (
		take    int
		maxRuns int
		pause   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "drain JOB_ID",
		Short: "Call run repeatedly until the job is done",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID, err := parseJobID(args)
			if err != nil {
				return err
			}
			c, err := g.client()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			_, err = c.Drain(cmd.Context(), jobID, take, maxRuns, pause, func(r *client.RunResult) {
				printRun(out, r)
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "job %s drained\n", jobID)
			return nil
		},
	}

	cmd.Flags().IntVar(&take, "take", 0, "Tasks to claim per run; 0 uses the server default")
	cmd.Flags().IntVar(&maxRuns, "max-runs", 1000, "Give up after this many run calls")
	cmd.Flags().DurationVar(&pause, "pause", time.Second, "Wait between run calls")
	return cmd
}

func printRun(w io.Writer, r *client.RunResult) {
	fmt.Fprintf(w, "processed=%d queued=%d running=%d done=%d failed=%d cancelled=%d\n",
		r.Processed, r.Queued, r.Running, r.Done, r.Failed, r.Cancelled)
}

func printStatus(w io.Writer, st *client.JobStatus) {
	c := st.Counts
	fmt.Fprintf(w, "job %s: %s %d%% (queued=%d running=%d done=%d failed=%d cancelled=%d of %d)\n",
		st.Job.ID, st.Job.Status, st.Job.Percent,
		c.Queued, c.Running, c.Done, c.Failed, c.Cancelled, st.Job.Total)
	if st.Job.CancelRequested {
		fmt.Fprintln(w, "cancel requested")
	}
	if len(st.FailureGroups) > 0 {
		fmt.Fprintln(w, "failure patterns:")
		for _, g := range st.FailureGroups {
			fmt.Fprintf(w, "  %4d  %s\n", g.Count, strings.TrimSpace(g.Sample))
		}
	}
	if len(st.LastFailedSample) > 0 {
		fmt.Fprintln(w, "recent failures:")
		for _, f := range st.LastFailedSample {
			fmt.Fprintf(w, "  %s  %s\n", f.EntityID, strings.TrimSpace(f.Error))
		}
	}
}
