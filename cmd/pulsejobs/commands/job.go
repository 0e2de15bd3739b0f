package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/pulsejobs/errors"
	"github.com/teranos/pulsejobs/logger"
	"github.com/teranos/pulsejobs/pulse/orchestrator"
	"github.com/teranos/pulsejobs/pulse/schedule"
)

// JobCmd groups the job lifecycle commands
var JobCmd = &cobra.Command{
	Use:   "job",
	Short: logger.Pulse + " Create and manage scheduled jobs",
	Long: logger.Pulse + ` Create and manage scheduled jobs.

Jobs are written to the configured database and armed on the configured
dispatch backend; a running daemon (pulsejobs serve) executes them.

Times are RFC3339 (2026-01-02T15:04:05Z) or relative to now (+10m, +2h).

Examples:
  pulsejobs job create --name report --at +10m --payload '{"to":"ops"}'
  pulsejobs job create --name rollup --recurring daily --at 2026-01-01T09:00:00Z
  pulsejobs job ls --status pending
  pulsejobs job reschedule JB... +1h
  pulsejobs job history JB...`,
}

var jobOwner string

var jobCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a job",
	RunE:  runJobCreate,
}

var jobGetCmd = &cobra.Command{
	Use:   "get <job-id>",
	Short: "Show a job as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobGet,
}

var jobListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List jobs",
	RunE:    runJobList,
}

var jobUpdateCmd = &cobra.Command{
	Use:   "update <job-id>",
	Short: "Update a pending or running job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobUpdate,
}

var jobRescheduleCmd = &cobra.Command{
	Use:   "reschedule <job-id> <time>",
	Short: "Move a job's scheduled time",
	Args:  cobra.ExactArgs(2),
	RunE:  runJobReschedule,
}

var jobCancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobCancel,
}

var jobDeleteCmd = &cobra.Command{
	Use:     "delete <job-id>",
	Aliases: []string{"rm"},
	Short:   "Delete a job and its execution history",
	Args:    cobra.ExactArgs(1),
	RunE:    runJobDelete,
}

var jobHistoryCmd = &cobra.Command{
	Use:   "history <job-id>",
	Short: "Show a job's execution attempts, most recent first",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobHistory,
}

func init() {
	defaultOwner := os.Getenv("USER")
	if defaultOwner == "" {
		defaultOwner = "local"
	}
	JobCmd.PersistentFlags().StringVar(&jobOwner, "owner", defaultOwner, "Owner the job belongs to")

	addSpecFlags := func(cmd *cobra.Command) {
		cmd.Flags().String("name", "", "Job name")
		cmd.Flags().String("description", "", "Job description")
		cmd.Flags().String("payload", "", "JSON payload passed to the executor")
		cmd.Flags().StringToString("metadata", nil, "Metadata key=value pairs (handler=<name> selects a handler)")
		cmd.Flags().String("recurring", "", "Recurrence pattern: hourly, daily, weekly, monthly")
		cmd.Flags().String("at", "", "Scheduled time (RFC3339 or +duration)")
		cmd.Flags().Int("max-retries", -1, "Retries after the first attempt (default: retry.default_max_retries)")
		cmd.Flags().Int("timeout", 0, "Per-attempt timeout in seconds (0 = configured default)")
	}
	addSpecFlags(jobCreateCmd)
	addSpecFlags(jobUpdateCmd)
	jobUpdateCmd.Flags().Bool("one-time", false, "Turn a recurring job into a one-time job")

	jobListCmd.Flags().String("status", "", "Filter by status")
	jobListCmd.Flags().String("type", "", "Filter by type (one-time, recurring)")
	jobListCmd.Flags().String("from", "", "Only jobs scheduled at or after this time")
	jobListCmd.Flags().String("to", "", "Only jobs scheduled at or before this time")
	jobListCmd.Flags().Int("page", 1, "Page number (1-based)")
	jobListCmd.Flags().Int("limit", schedule.DefaultPageSize, "Jobs per page (max 100)")

	jobHistoryCmd.Flags().Int("limit", schedule.DefaultHistoryLimit, "Maximum attempts to show")

	JobCmd.AddCommand(jobCreateCmd, jobGetCmd, jobListCmd, jobUpdateCmd,
		jobRescheduleCmd, jobCancelCmd, jobDeleteCmd, jobHistoryCmd)
}

// withOrchestrator opens the database and dispatch backend for a one-shot command
func withOrchestrator(fn func(ctx context.Context, orch *orchestrator.Orchestrator) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	database, err := openDatabase(cfg, "")
	if err != nil {
		return err
	}
	defer database.Close()

	rt, err := newRuntime(cfg, database, false, logger.ComponentLogger("cli"))
	if err != nil {
		return err
	}
	defer rt.Close()

	return fn(context.Background(), rt.orch)
}

// parseTime accepts RFC3339 or a +duration relative to now
func parseTime(s string, now time.Time) (time.Time, error) {
	if strings.HasPrefix(s, "+") {
		d, err := time.ParseDuration(s[1:])
		if err != nil {
			return time.Time{}, errors.NewValidationError("invalid relative time %q", s)
		}
		return now.Add(d), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, errors.NewValidationError("invalid time %q, want RFC3339 or +duration", s)
	}
	return t, nil
}

// patchFromFlags builds a patch from the flags the user actually set
func patchFromFlags(cmd *cobra.Command) (schedule.Patch, error) {
	var patch schedule.Patch
	flags := cmd.Flags()

	if flags.Changed("name") {
		name, _ := flags.GetString("name")
		patch.Name = &name
	}
	if flags.Changed("description") {
		description, _ := flags.GetString("description")
		patch.Description = &description
	}
	if flags.Changed("payload") {
		raw, _ := flags.GetString("payload")
		payload, err := schedule.ParseValue([]byte(raw))
		if err != nil {
			return patch, errors.NewValidationError("invalid payload: %s", err)
		}
		patch.Payload = &payload
	}
	if flags.Changed("metadata") {
		metadata, _ := flags.GetStringToString("metadata")
		patch.Metadata = metadata
	}
	if flags.Changed("recurring") {
		raw, _ := flags.GetString("recurring")
		pattern := schedule.Pattern(raw)
		recurring := schedule.TypeRecurring
		patch.RecurrencePattern = &pattern
		patch.Type = &recurring
	}
	if oneTime, _ := flags.GetBool("one-time"); oneTime {
		t := schedule.TypeOneTime
		patch.Type = &t
		patch.ClearRecurrence = true
	}
	if flags.Changed("at") {
		raw, _ := flags.GetString("at")
		at, err := parseTime(raw, time.Now())
		if err != nil {
			return patch, err
		}
		patch.ScheduledAt = &at
	}
	if flags.Changed("max-retries") {
		maxRetries, _ := flags.GetInt("max-retries")
		patch.MaxRetries = &maxRetries
	}
	if flags.Changed("timeout") {
		timeout, _ := flags.GetInt("timeout")
		patch.TimeoutSeconds = &timeout
	}
	return patch, nil
}

// specFromFlags builds a new job spec; scheduled time defaults to now
func specFromFlags(cmd *cobra.Command) (schedule.Spec, error) {
	patch, err := patchFromFlags(cmd)
	if err != nil {
		return schedule.Spec{}, err
	}

	spec := schedule.Spec{
		Type:              schedule.TypeOneTime,
		Metadata:          patch.Metadata,
		RecurrencePattern: patch.RecurrencePattern,
		ScheduledAt:       time.Now(),
		MaxRetries:        patch.MaxRetries,
	}
	if patch.Name != nil {
		spec.Name = *patch.Name
	}
	if patch.Description != nil {
		spec.Description = *patch.Description
	}
	if patch.Payload != nil {
		spec.Payload = *patch.Payload
	}
	if patch.Type != nil {
		spec.Type = *patch.Type
	}
	if patch.ScheduledAt != nil {
		spec.ScheduledAt = *patch.ScheduledAt
	}
	if patch.TimeoutSeconds != nil {
		spec.TimeoutSeconds = *patch.TimeoutSeconds
	}
	return spec, nil
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal output")
	}
	fmt.Println(string(data))
	return nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func runJobCreate(cmd *cobra.Command, args []string) error {
	spec, err := specFromFlags(cmd)
	if err != nil {
		return err
	}
	return withOrchestrator(func(ctx context.Context, orch *orchestrator.Orchestrator) error {
		job, err := orch.CreateJob(ctx, jobOwner, spec)
		if err != nil {
			return err
		}
		pterm.Success.Printf("Created job %s, next run %s\n", job.ID, formatTime(&job.NextRunAt))
		return nil
	})
}

func runJobGet(cmd *cobra.Command, args []string) error {
	return withOrchestrator(func(ctx context.Context, orch *orchestrator.Orchestrator) error {
		job, err := orch.GetJob(ctx, args[0], jobOwner)
		if err != nil {
			return err
		}
		return printJSON(job)
	})
}

func runJobList(cmd *cobra.Command, args []string) error {
	var filter schedule.Filter
	if raw, _ := cmd.Flags().GetString("status"); raw != "" {
		status := schedule.Status(raw)
		filter.Status = &status
	}
	if raw, _ := cmd.Flags().GetString("type"); raw != "" {
		jobType := schedule.JobType(raw)
		filter.Type = &jobType
	}
	for flag, dst := range map[string]**time.Time{"from": &filter.From, "to": &filter.To} {
		raw, _ := cmd.Flags().GetString(flag)
		if raw == "" {
			continue
		}
		t, err := parseTime(raw, time.Now())
		if err != nil {
			return err
		}
		*dst = &t
	}
	page, _ := cmd.Flags().GetInt("page")
	limit, _ := cmd.Flags().GetInt("limit")

	return withOrchestrator(func(ctx context.Context, orch *orchestrator.Orchestrator) error {
		jobs, total, err := orch.ListJobs(ctx, jobOwner, filter, page, limit)
		if err != nil {
			return err
		}
		if len(jobs) == 0 {
			pterm.Info.Println("No jobs found")
			return nil
		}

		data := pterm.TableData{{"ID", "NAME", "TYPE", "STATUS", "NEXT RUN", "RETRIES"}}
		for _, job := range jobs {
			jobType := string(job.Type)
			if job.Type == schedule.TypeRecurring {
				jobType += " (" + string(job.Pattern()) + ")"
			}
			data = append(data, []string{
				job.ID,
				job.Name,
				jobType,
				string(job.Status),
				formatTime(&job.NextRunAt),
				fmt.Sprintf("%d/%d", job.RetryCount, job.MaxRetries),
			})
		}
		if err := pterm.DefaultTable.WithHasHeader().WithData(data).Render(); err != nil {
			return err
		}
		pterm.Printf("Showing %d of %d job(s), page %d\n", len(jobs), total, page)
		return nil
	})
}

func runJobUpdate(cmd *cobra.Command, args []string) error {
	patch, err := patchFromFlags(cmd)
	if err != nil {
		return err
	}
	return withOrchestrator(func(ctx context.Context, orch *orchestrator.Orchestrator) error {
		job, err := orch.UpdateJob(ctx, args[0], jobOwner, patch)
		if err != nil {
			return err
		}
		pterm.Success.Printf("Updated job %s\n", job.ID)
		return nil
	})
}

func runJobReschedule(cmd *cobra.Command, args []string) error {
	at, err := parseTime(args[1], time.Now())
	if err != nil {
		return err
	}
	return withOrchestrator(func(ctx context.Context, orch *orchestrator.Orchestrator) error {
		job, err := orch.RescheduleJob(ctx, args[0], jobOwner, at)
		if err != nil {
			return err
		}
		pterm.Success.Printf("Rescheduled job %s to %s\n", job.ID, formatTime(&job.NextRunAt))
		return nil
	})
}

func runJobCancel(cmd *cobra.Command, args []string) error {
	return withOrchestrator(func(ctx context.Context, orch *orchestrator.Orchestrator) error {
		job, err := orch.CancelJob(ctx, args[0], jobOwner)
		if err != nil {
			return err
		}
		pterm.Success.Printf("Cancelled job %s\n", job.ID)
		return nil
	})
}

func runJobDelete(cmd *cobra.Command, args []string) error {
	return withOrchestrator(func(ctx context.Context, orch *orchestrator.Orchestrator) error {
		if err := orch.DeleteJob(ctx, args[0], jobOwner); err != nil {
			return err
		}
		pterm.Success.Printf("Deleted job %s\n", args[0])
		return nil
	})
}

func runJobHistory(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	return withOrchestrator(func(ctx context.Context, orch *orchestrator.Orchestrator) error {
		executions, err := orch.GetExecutionHistory(ctx, args[0], jobOwner, limit)
		if err != nil {
			return err
		}
		if len(executions) == 0 {
			pterm.Info.Println("No executions yet")
			return nil
		}

		data := pterm.TableData{{"ATTEMPT", "OUTCOME", "STARTED", "DURATION", "ERROR"}}
		for _, exec := range executions {
			duration, errMsg := "-", ""
			if exec.DurationMs != nil {
				duration = strconv.Itoa(*exec.DurationMs) + "ms"
			}
			if exec.ErrorMessage != nil {
				errMsg = *exec.ErrorMessage
			}
			outcome := string(exec.Outcome)
			if !exec.Finished() {
				outcome = "in flight"
			}
			data = append(data, []string{
				strconv.Itoa(exec.AttemptNumber),
				outcome,
				formatTime(&exec.StartedAt),
				duration,
				errMsg,
			})
		}
		return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
	})
}
