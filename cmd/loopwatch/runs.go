package main

import (
	"fmt"
	"strings"

	"github.com/haikalr/loopwatch/internal/config"
	"github.com/haikalr/loopwatch/internal/engine"

	"github.com/spf13/cobra"
)

func newEngineClient() (*engine.Client, error) {
	timeout, err := config.DurationOrDefault(cfg.Engine.RequestTimeout, config.DefaultEngineTimeout)
	if err != nil {
		return nil, err
	}
	return engine.New(cfg.Engine.BaseURL, engine.Options{Timeout: timeout}), nil
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Manage pipeline runs and jobs",
}

var runsStartCmd = &cobra.Command{
	Use:   "start <issue-id>...",
	Short: "Start runs for the given issues",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newEngineClient()
		if err != nil {
			return err
		}
		concurrency, _ := cmd.Flags().GetInt("concurrency")

		res, err := client.StartRuns(cmd.Context(), args, concurrency)
		if err != nil {
			return err
		}
		fmt.Printf("job %s (%s): started %s\n", res.JobID, res.Mode, strings.Join(res.Started, ", "))
		for _, issueID := range res.Rejected {
			fmt.Printf("rejected %s: %s\n", issueID, res.ReasonByIssue[issueID])
		}
		return nil
	},
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List engine jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newEngineClient()
		if err != nil {
			return err
		}
		jobs, err := client.ListJobs(cmd.Context())
		if err != nil {
			return err
		}
		if len(jobs) == 0 {
			fmt.Println("no jobs")
			return nil
		}
		for _, j := range jobs {
			fmt.Printf("%s  %-9s  issues=%s\n", j.JobID, j.Status, strings.Join(j.Issues, ","))
		}
		return nil
	},
}

var runsStopCmd = &cobra.Command{
	Use:   "stop <job-id>",
	Short: "Request a graceful stop",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newEngineClient()
		if err != nil {
			return err
		}
		sig, err := client.StopJob(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("job %s: %s\n", sig.JobID, sig.Status)
		return nil
	},
}

var runsKillCmd = &cobra.Command{
	Use:   "kill <job-id>",
	Short: "Force-kill a job (stop must be requested first)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newEngineClient()
		if err != nil {
			return err
		}
		// One-shot invocation has no stop history; request a stop first so
		// the interlock holds on both sides.
		if _, err := client.StopJob(cmd.Context(), args[0]); err != nil {
			return err
		}
		sig, err := client.KillJob(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("job %s killed\n", sig.JobID)
		return nil
	},
}

var runsStopAllCmd = &cobra.Command{
	Use:   "stop-all",
	Short: "Request a graceful stop for all running jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newEngineClient()
		if err != nil {
			return err
		}
		res, err := client.StopAllJobs(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("stop requested for %d job(s): %s\n", res.Count, strings.Join(res.Stopped, ", "))
		return nil
	},
}

var runsHideCmd = &cobra.Command{
	Use:   "hide <run-id>",
	Short: "Hide a run from the default view",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newEngineClient()
		if err != nil {
			return err
		}
		return client.HideRun(cmd.Context(), args[0])
	},
}

var runsUnhideCmd = &cobra.Command{
	Use:   "unhide <run-id>",
	Short: "Restore a hidden run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newEngineClient()
		if err != nil {
			return err
		}
		return client.UnhideRun(cmd.Context(), args[0])
	},
}

func init() {
	runsStartCmd.Flags().IntP("concurrency", "c", 3, "worker concurrency for the batch")
	runsCmd.AddCommand(runsStartCmd, runsListCmd, runsStopCmd, runsKillCmd, runsStopAllCmd, runsHideCmd, runsUnhideCmd)
	rootCmd.AddCommand(runsCmd)
}
