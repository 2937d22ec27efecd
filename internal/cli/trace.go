package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/hgpeer/internal/journal"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	Peer     string
	Activity string
	Type     string
	State    string
	Limit    int
}

// ActivityTrace is the journaled history of one activity at one peer.
type ActivityTrace struct {
	Activity journal.ActivityRecord  `json:"activity"`
	Timeline []journal.TimelineEntry `json:"timeline"`
}

// TraceResult is the output of the trace command. Activities is set when
// listing, Traces when a single activity was requested.
type TraceResult struct {
	Activities []journal.ActivityRecord `json:"activities,omitempty"`
	Traces     []ActivityTrace          `json:"traces,omitempty"`
	Stats      TraceStats               `json:"stats"`
}

// TraceStats summarizes the listed activities.
type TraceStats struct {
	Total    int `json:"total"`
	Live     int `json:"live"`
	Failed   int `json:"failed"`
	Canceled int `json:"canceled"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Inspect journaled activities",
		Long: `Query the activity journal written by "hgpeer run".

Without --activity, lists the journaled activities matching the filters.
With --activity, prints the merged timeline of that activity (creation,
state changes, messages, actions, completion) at every peer that saw it,
or only at --peer.

Examples:
  hgpeer trace --db ./journal.db
  hgpeer trace --db ./journal.db --peer alice --state Failed
  hgpeer trace --db ./journal.db --activity 0192a3b4-... --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to the journal database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Peer, "peer", "", "only this peer")
	cmd.Flags().StringVar(&opts.Activity, "activity", "", "trace one activity id")
	cmd.Flags().StringVar(&opts.Type, "type", "", "only activities of this type")
	cmd.Flags().StringVar(&opts.State, "state", "", `only activities in this final state, or "live"`)
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "at most this many activities (0 for all)")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	// Open would create an empty journal.
	if _, err := os.Stat(opts.Database); err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("journal not found: %s", opts.Database), nil)
	}
	jnl, err := journal.Open(opts.Database)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeJournal, "cannot open journal", err.Error())
	}
	defer jnl.Close()

	var result TraceResult
	if opts.Activity != "" {
		result, err = traceActivity(ctx, jnl, opts)
	} else {
		result, err = listActivities(ctx, jnl, opts)
	}
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeJournal, "journal query failed", err.Error())
	}

	if formatter.IsJSON() {
		return formatter.Success(result)
	}
	writeTraceText(formatter.Writer, opts, result)
	return nil
}

func listActivities(ctx context.Context, jnl *journal.Journal, opts *TraceOptions) (TraceResult, error) {
	recs, err := jnl.ListActivities(ctx, journal.ActivityFilter{
		Peer:  opts.Peer,
		Type:  opts.Type,
		State: opts.State,
		Limit: opts.Limit,
	})
	if err != nil {
		return TraceResult{}, err
	}
	result := TraceResult{Activities: recs}
	for _, rec := range recs {
		result.Stats.add(rec)
	}
	return result, nil
}

func traceActivity(ctx context.Context, jnl *journal.Journal, opts *TraceOptions) (TraceResult, error) {
	peers := []string{opts.Peer}
	if opts.Peer == "" {
		var err error
		if peers, err = jnl.Peers(ctx); err != nil {
			return TraceResult{}, err
		}
	}

	result := TraceResult{Traces: []ActivityTrace{}}
	for _, p := range peers {
		rec, err := jnl.Activity(ctx, p, opts.Activity)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return TraceResult{}, err
		}
		timeline, err := jnl.Timeline(ctx, p, opts.Activity)
		if err != nil {
			return TraceResult{}, err
		}
		result.Traces = append(result.Traces, ActivityTrace{Activity: rec, Timeline: timeline})
		result.Stats.add(rec)
	}
	return result, nil
}

func (s *TraceStats) add(rec journal.ActivityRecord) {
	s.Total++
	switch {
	case !rec.Finished():
		s.Live++
	case rec.FinalState == "Failed":
		s.Failed++
	case rec.FinalState == "Canceled":
		s.Canceled++
	}
}

func writeTraceText(w io.Writer, opts *TraceOptions, result TraceResult) {
	if opts.Activity != "" {
		if len(result.Traces) == 0 {
			fmt.Fprintf(w, "No journal entries for activity: %s\n", opts.Activity)
			return
		}
		for _, tr := range result.Traces {
			a := tr.Activity
			fmt.Fprintf(w, "Activity %s (%s) at %s\n", a.ID, a.Type, a.Peer)
			if a.ParentID != "" {
				fmt.Fprintf(w, "  parent: %s\n", a.ParentID)
			}
			for _, e := range tr.Timeline {
				fmt.Fprintf(w, "  [%d] %-12s %s\n", e.Seq, e.Kind, e.Detail)
			}
		}
		return
	}

	if len(result.Activities) == 0 {
		fmt.Fprintln(w, "No activities journaled.")
		return
	}
	for _, a := range result.Activities {
		state := a.FinalState
		if !a.Finished() {
			state = journal.StateLive
		}
		line := fmt.Sprintf("%-8s %-36s %-10s %-9s %s", a.Peer, a.ID, a.Type, a.Origin, state)
		if a.Error != "" {
			line += ": " + a.Error
		}
		fmt.Fprintln(w, line)
	}
	fmt.Fprintf(w, "\n%d activities (%d live, %d failed, %d canceled)\n",
		result.Stats.Total, result.Stats.Live, result.Stats.Failed, result.Stats.Canceled)
}
