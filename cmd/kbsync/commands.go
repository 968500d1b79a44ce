package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/poiesic/kbsync/core"
	"github.com/poiesic/kbsync/orchestrator"
	"github.com/urfave/cli/v2"
)

func statusCommand(c *cli.Context) error {
	ws, err := openWorkspace(c)
	if err != nil {
		return err
	}
	defer ws.Close()

	status, err := ws.Orchestrator().Status(c.Context)
	if err != nil {
		return fmt.Errorf("status failed: %w", err)
	}

	w := c.App.Writer
	fmt.Fprintf(w, "staging: intake=%d prepared_batches=%d archived=%d\n",
		status.Staging.Intake, status.Staging.Prepared, status.Staging.Archived)
	fmt.Fprintf(w, "documents: prepared=%d staged=%d locally_synced=%d fully_synced=%d with_errors=%d\n",
		status.Prepared, status.Staged, status.LocallySynced, status.FullySynced, status.WithErrors)
	fmt.Fprintf(w, "ingested: local=%d remote=%d\n", status.IngestedLocal, status.IngestedRemote)
	for _, ts := range status.Targets {
		vectors := "n/a"
		if ts.Vectors >= 0 {
			vectors = fmt.Sprint(ts.Vectors)
		}
		fmt.Fprintf(w, "target %s (%s %s): registered=%d dimension=%d vectors=%s\n",
			ts.Target.ID, ts.Target.Driver, ts.Target.Collection, ts.Registered, ts.Dimension, vectors)
	}
	fmt.Fprintf(w, "jobs: pending=%d running=%d succeeded=%d failed=%d\n",
		status.Jobs[core.JobPending], status.Jobs[core.JobRunning],
		status.Jobs[core.JobSucceeded], status.Jobs[core.JobFailed])

	if c.Bool("verbose") && len(status.Pending) > 0 {
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "PATH\tSTATE\tCHUNKS\tERROR")
		for _, st := range status.Pending {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", st.OriginPath, st.State, len(st.ChunkIDs), documentError(st))
		}
		tw.Flush()
	}
	return nil
}

func documentError(st *core.DocumentState) string {
	if st.LastError != "" {
		return st.LastError
	}
	parts := make([]string, 0, len(st.SyncFailures))
	for target, msg := range st.SyncFailures {
		parts = append(parts, target+": "+msg)
	}
	return strings.Join(parts, "; ")
}

func prepCommand(c *cli.Context) error {
	ws, err := openWorkspace(c)
	if err != nil {
		return err
	}
	defer ws.Close()

	report, err := ws.Orchestrator().Prep(c.Context)
	return finish(c, report, err)
}

func ingestLocalCommand(c *cli.Context) error {
	ws, err := openWorkspace(c)
	if err != nil {
		return err
	}
	defer ws.Close()

	report, err := ws.Orchestrator().IngestLocal(c.Context, runOptions(c))
	return finish(c, report, err)
}

func ingestRemoteCommand(c *cli.Context) error {
	ws, err := openWorkspace(c)
	if err != nil {
		return err
	}
	defer ws.Close()

	report, err := ws.Orchestrator().IngestRemote(c.Context, runOptions(c))
	return finish(c, report, err)
}

func syncAllCommand(c *cli.Context) error {
	ws, err := openWorkspace(c)
	if err != nil {
		return err
	}
	defer ws.Close()

	report, err := ws.Orchestrator().SyncAll(c.Context, runOptions(c))
	return finish(c, report, err)
}

func reconcileCommand(c *cli.Context) error {
	ws, err := openWorkspace(c)
	if err != nil {
		return err
	}
	defer ws.Close()

	report, err := ws.Orchestrator().Reconcile(c.Context)
	return finish(c, report, err)
}

func runOptions(c *cli.Context) orchestrator.RunOptions {
	return orchestrator.RunOptions{Force: c.Bool("force")}
}

// finish prints the report and maps its outcome to the exit code.
func finish(c *cli.Context, report *orchestrator.Report, err error) error {
	if report == nil {
		return err
	}
	if err != nil && report.Fatal == nil {
		report.Fatal = err
	}
	printReport(c.App.Writer, report)

	code := report.Outcome().ExitCode()
	if code != 0 {
		return cli.Exit(report.StatusLine(), code)
	}
	fmt.Fprintln(c.App.Writer, report.StatusLine())
	return nil
}

func printReport(w io.Writer, r *orchestrator.Report) {
	if r.Prep.Scanned > 0 || r.Prep.BatchID != "" {
		fmt.Fprintf(w, "prep: scanned=%d prepared=%d unchanged=%d empty=%d chunks=%d",
			r.Prep.Scanned, r.Prep.Prepared, r.Prep.Unchanged, r.Prep.Empty, r.Prep.Chunks)
		if r.Prep.BatchID != "" {
			fmt.Fprintf(w, " batch=%s", r.Prep.BatchID)
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintf(w, "processed=%d skipped_duplicate=%d embedded=%d reused=%d upserted_local=%d upserted_remote=%d promoted=%d failed=%d\n",
		r.Local.Processed+r.Remote.Processed,
		r.Local.SkippedDuplicate+r.Remote.SkippedDuplicate,
		r.Local.Embedded+r.Remote.Embedded,
		r.Local.Reused+r.Remote.Reused,
		r.Local.Upserted,
		r.Remote.Upserted,
		r.Promoted,
		len(r.Failures))
	for _, f := range r.Failures {
		fmt.Fprintf(w, "  %s\n", f)
	}
	for _, t := range r.Targets {
		fmt.Fprintf(w, "target %s: reachable=%t\n", t.ID, t.Reachable)
	}
	if r.RemoteErr != nil {
		fmt.Fprintf(w, "remote: %v\n", r.RemoteErr)
	}
}

func queryCommand(c *cli.Context) error {
	query := strings.Join(c.Args().Slice(), " ")
	if strings.TrimSpace(query) == "" {
		return fmt.Errorf("query is required")
	}

	ws, err := openWorkspace(c)
	if err != nil {
		return err
	}
	defer ws.Close()

	retriever, err := ws.NewRetriever()
	if err != nil {
		return err
	}
	hits, err := retriever.Retrieve(c.Context, query, c.Int("k"))
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}

	w := c.App.Writer
	fmt.Fprintf(w, "Found %d hits\n", len(hits))
	for i, hit := range hits {
		fmt.Fprintf(w, "%d: [%0.3f] %s (%s)\n", i, hit.Score, snippet(hit.Text, 120), hit.Metadata["source"])
	}
	return nil
}

func snippet(text string, limit int) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "..."
}

func jobsCommand(c *cli.Context) error {
	ws, err := openWorkspace(c)
	if err != nil {
		return err
	}
	defer ws.Close()

	jobs, err := ws.Jobs(c.Context, c.Int("limit"))
	if err != nil {
		return fmt.Errorf("failed to list jobs: %w", err)
	}

	tw := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "JOB\tTARGET\tDOCUMENT\tCHUNKS\tSTATUS\tSTARTED\tDURATION\tERROR")
	for _, job := range jobs {
		duration := "-"
		if job.Done() {
			duration = job.CompletedAt.Sub(job.StartedAt).Round(time.Millisecond).String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%.12s\t%d\t%s\t%s\t%s\t%s\n",
			job.ID, job.TargetID, job.DocumentID, len(job.ChunkIDs), job.Status,
			job.StartedAt.Local().Format(time.DateTime), duration, job.Error)
	}
	return tw.Flush()
}
