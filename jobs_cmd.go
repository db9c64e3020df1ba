package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/calbridge/internal/calendar"
	"github.com/tonimelisma/calbridge/internal/config"
	"github.com/tonimelisma/calbridge/internal/jobs"
)

// pollInterval is how often a waiting command checks for a result.
const pollInterval = 500 * time.Millisecond

// errJobFailed is returned when a waited-for job finished unsuccessfully.
var errJobFailed = errors.New("job failed")

// errForeignKey is returned by poll for a key submitted by another user.
var errForeignKey = errors.New("job key belongs to another user")

func newImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <file.csv>",
		Short: "Create events from a CSV file in the background",
		Long: `Submit an import job that creates one event per CSV row.

The CSV needs Title, Start Time and End Time columns; see "events template".
With the local queue the command waits for the job. With the asynq queue it
prints the job key; use "poll" to collect the result.`,
		Args: cobra.ExactArgs(1),
		RunE: runImport,
	}

	cmd.Flags().Bool("wait", false, "wait for the result even with the asynq queue")

	return cmd
}

func newExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Email a CSV or PDF export of events in the background",
		RunE:  runExport,
	}

	cmd.Flags().String("filter", string(calendar.FilterAll), "all, past, ongoing or upcoming")
	cmd.Flags().String("format", string(calendar.FormatCSV), "csv or pdf")
	cmd.Flags().StringSlice("to", nil, "recipient email address (repeatable)")
	cmd.Flags().Bool("wait", false, "wait for the result even with the asynq queue")
	_ = cmd.MarkFlagRequired("to")

	return cmd
}

func newPollCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "poll <job-key>",
		Short: "Collect the result of a background job",
		Long: `Report whether a job has finished. A finished result is returned once
and then deleted; polling the same key again reports it as pending.`,
		Args: cobra.ExactArgs(1),
		RunE: runPoll,
	}
}

func runImport(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading %s: %w", args[0], err)
	}

	// Reject malformed files before anything is queued.
	if _, err := calendar.ParseImport(bytes.NewReader(data)); err != nil {
		return err
	}

	wait, _ := cmd.Flags().GetBool("wait")

	return submit(cmd.Context(), calendar.KindImport, calendar.ImportPayload{CSV: string(data)}, wait)
}

func runExport(cmd *cobra.Command, _ []string) error {
	payload, err := exportPayload(cmd)
	if err != nil {
		return err
	}

	wait, _ := cmd.Flags().GetBool("wait")

	return submit(cmd.Context(), calendar.KindExport, payload, wait)
}

// exportPayload validates the export flags before anything is queued.
func exportPayload(cmd *cobra.Command) (calendar.ExportPayload, error) {
	filterName, _ := cmd.Flags().GetString("filter")
	formatName, _ := cmd.Flags().GetString("format")
	to, _ := cmd.Flags().GetStringSlice("to")

	f, err := calendar.ParseFilter(filterName)
	if err != nil {
		return calendar.ExportPayload{}, err
	}

	fm, err := calendar.ParseFormat(formatName)
	if err != nil {
		return calendar.ExportPayload{}, err
	}

	return calendar.ExportPayload{Filter: string(f), Format: string(fm), To: to}, nil
}

// submit queues a job for the current user. The local queue lives in this
// process, so its jobs are always waited for.
func submit(parent context.Context, kind string, payload any, wait bool) error {
	ctx := shutdownContext(parent, buildLogger())

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if resolvedCfg.Jobs.Queue == config.QueueAsynq {
		if err := a.useAsynqQueue(ctx); err != nil {
			return err
		}
	} else {
		stop := a.useLocalQueue(ctx)
		defer stop()

		wait = true
	}

	key, err := a.runner.Submit(ctx, currentUser(), kind, payload)
	if err != nil {
		return err
	}

	if !wait {
		if flagJSON {
			return printJSON(os.Stdout, map[string]string{"key": key})
		}

		fmt.Println(key)

		return nil
	}

	statusf("Submitted %s job %s, waiting for result...\n", kind, key)

	res, err := waitForResult(ctx, a.runner, key, pollInterval)
	if err != nil {
		return err
	}

	return printResult(key, res)
}

// pollSource is the part of jobs.Runner waitForResult needs.
type pollSource interface {
	Poll(ctx context.Context, key string) (jobs.Poll, error)
}

// waitForResult polls key until its result is stored or ctx ends.
func waitForResult(ctx context.Context, src pollSource, key string, interval time.Duration) (*jobs.Result, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		p, err := src.Poll(ctx, key)
		if err != nil {
			return nil, err
		}

		if p.Done {
			return p.Result, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for %s: %w", key, ctx.Err())
		case <-ticker.C:
		}
	}
}

func runPoll(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	if err := checkKeyOwner(args[0], currentUser()); err != nil {
		return err
	}

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	p, err := a.runner.Poll(ctx, args[0])
	if err != nil {
		return err
	}

	if !p.Done {
		if flagJSON {
			return printJSON(os.Stdout, map[string]string{"key": args[0], "status": "pending"})
		}

		fmt.Println("pending")

		return nil
	}

	return printResult(args[0], p.Result)
}

// checkKeyOwner rejects a key whose embedded user is not user. Polling
// consumes the result, so another user's key must not be touched. Keys of
// an unknown shape are left to the store, which reports them as pending.
func checkKeyOwner(key, user string) error {
	owner, ok := jobs.KeyUser(key)
	if !ok || owner == user {
		return nil
	}

	return fmt.Errorf("%w: %s is not %q's job", errForeignKey, key, user)
}

// resultOutput is the JSON schema for a finished job.
type resultOutput struct {
	Key         string          `json:"key"`
	Status      string          `json:"status"`
	Kind        string          `json:"kind"`
	Error       string          `json:"error,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
	CompletedAt time.Time       `json:"completed_at"`
}

// printResult shows a finished job. A failed job is also returned as an
// error so the exit status reflects it.
func printResult(key string, res *jobs.Result) error {
	status := "success"
	if !res.Success {
		status = "failure"
	}

	if flagJSON {
		if err := printJSON(os.Stdout, resultOutput{
			Key:         key,
			Status:      status,
			Kind:        res.Kind,
			Error:       res.Error,
			Data:        res.Data,
			CompletedAt: res.CompletedAt,
		}); err != nil {
			return err
		}
	} else {
		printResultText(res)
	}

	if !res.Success {
		return fmt.Errorf("%w: %s", errJobFailed, res.Error)
	}

	return nil
}

func printResultText(res *jobs.Result) {
	switch res.Kind {
	case calendar.KindImport:
		var ir calendar.ImportResult
		if json.Unmarshal(res.Data, &ir) == nil {
			fmt.Printf("Created %d events.\n", ir.CreatedCount)

			if len(ir.Failed) > 0 {
				rows := make([][]string, 0, len(ir.Failed))
				for _, f := range ir.Failed {
					rows = append(rows, []string{strconv.Itoa(f.Line), truncate(f.Title, titleWidth), f.Error})
				}

				printTable(os.Stdout, []string{"LINE", "TITLE", "ERROR"}, rows)
			}

			return
		}
	case calendar.KindExport:
		var er calendar.ExportResult
		if json.Unmarshal(res.Data, &er) == nil {
			fmt.Printf("Exported %d %s events as %s to %d recipients.\n",
				er.Events, er.Filter, er.Filename, len(er.Recipients))

			return
		}
	}

	if len(res.Data) > 0 {
		fmt.Println(string(res.Data))
	}
}
