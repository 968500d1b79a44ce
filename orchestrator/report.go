package orchestrator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/poiesic/kbsync/core"
	"github.com/poiesic/kbsync/ingestion"
	"github.com/poiesic/kbsync/tunnel"
)

// RemoteState summarises what happened to the remote target in a run.
type RemoteState string

const (
	RemoteNotRun        RemoteState = "not run"
	RemoteNotConfigured RemoteState = "skipped(not configured)"
	RemoteUpToDate      RemoteState = "up to date"
	RemoteUpdated       RemoteState = "updated"
	RemotePartial       RemoteState = "partial"
	RemoteUnreachable   RemoteState = "skipped(unreachable)"
	RemoteBusy          RemoteState = "skipped(port in use)"
	RemoteFailed        RemoteState = "failed"
)

// Outcome classifies a run for the operator.
type Outcome int

const (
	// OutcomeFullSuccess means every target holds every prepared document.
	OutcomeFullSuccess Outcome = iota
	// OutcomeLocalOnly means local is consistent but the remote lags behind.
	OutcomeLocalOnly
	// OutcomeFailed means local ingestion or a run-wide step failed.
	OutcomeFailed
	// OutcomeBusy means another run holds the tunnel port.
	OutcomeBusy
)

func (o Outcome) String() string {
	switch o {
	case OutcomeFullSuccess:
		return "full success"
	case OutcomeLocalOnly:
		return "local-only success"
	case OutcomeBusy:
		return "busy"
	default:
		return "failed"
	}
}

// ExitCode maps the outcome to the CLI exit status.
func (o Outcome) ExitCode() int {
	switch o {
	case OutcomeFullSuccess, OutcomeLocalOnly:
		return 0
	case OutcomeBusy:
		return 2
	default:
		return 1
	}
}

// Failure is a document that did not advance, and why.
type Failure struct {
	DocumentID string
	Path       string
	Stage      string // prep, local, remote, promote
	Err        error
}

func (f Failure) String() string {
	return fmt.Sprintf("%s [%s]: %v", f.Path, f.Stage, f.Err)
}

// PrepStats count what a chunking pass did.
type PrepStats struct {
	Scanned   int
	Prepared  int
	Unchanged int
	Empty     int
	Chunks    int
	BatchID   string
}

// Report is the result of an operator command.
type Report struct {
	RunID string

	Prep        PrepStats
	LocalRan    bool
	Local       ingestion.Stats
	Remote      ingestion.Stats
	RemoteState RemoteState
	RemoteErr   error
	Promoted    int
	Failures    []Failure

	// Targets are the targets this run connected to or tried to, with
	// Reachable as found by this run.
	Targets []core.SyncTarget

	// Fatal aborted the command: provider unavailable, dimension mismatch,
	// a state DB failure or a concurrent run.
	Fatal error

	localFatal bool
}

func newReport(runID string) *Report {
	return &Report{RunID: runID, RemoteState: RemoteNotRun}
}

func (r *Report) reached(target core.SyncTarget, reachable bool) {
	target.Reachable = reachable
	r.Targets = append(r.Targets, target)
}

func (r *Report) fail(f Failure) {
	r.Failures = append(r.Failures, f)
}

// LocalFailures returns failures that keep documents from reaching local.
func (r *Report) LocalFailures() []Failure {
	var out []Failure
	for _, f := range r.Failures {
		if f.Stage == StagePrep || f.Stage == StageLocal {
			out = append(out, f)
		}
	}
	return out
}

// Outcome classifies the run.
func (r *Report) Outcome() Outcome {
	if errors.Is(r.Fatal, tunnel.ErrPortInUse) {
		return OutcomeBusy
	}
	if r.Fatal != nil || len(r.LocalFailures()) > 0 {
		return OutcomeFailed
	}
	switch r.RemoteState {
	case RemoteUnreachable, RemoteFailed, RemotePartial:
		return OutcomeLocalOnly
	}
	for _, f := range r.Failures {
		if f.Stage == StageRemote || f.Stage == StagePromote {
			return OutcomeLocalOnly
		}
	}
	return OutcomeFullSuccess
}

// LocalState is "updated", "unchanged", "failed" or "not run".
func (r *Report) LocalState() string {
	switch {
	case !r.LocalRan:
		return "not run"
	case r.localFatal, len(r.LocalFailures()) > 0:
		return "failed"
	case r.Local.Upserted > 0:
		return "updated"
	default:
		return "unchanged"
	}
}

// StatusLine is the one-line summary printed at the end of a command.
func (r *Report) StatusLine() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: local=%s, remote=%s, promoted=%d",
		strings.ToUpper(r.Outcome().String()), r.LocalState(), r.RemoteState, r.Promoted)
	if n := len(r.Failures); n > 0 {
		fmt.Fprintf(&b, ", failed=%d", n)
	}
	if r.Fatal != nil {
		fmt.Fprintf(&b, " (%v)", r.Fatal)
	}
	return b.String()
}

const (
	StagePrep    = "prep"
	StageLocal   = "local"
	StageRemote  = "remote"
	StagePromote = "promote"
)
