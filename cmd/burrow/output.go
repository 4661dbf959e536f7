package main

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/cuemby/burrow/pkg/credentials"
	"github.com/cuemby/burrow/pkg/fanout"
	"github.com/cuemby/burrow/pkg/types"
)

// printResults writes the per-node breakdown of a fan-out and returns an
// error if any node failed
func printResults(w io.Writer, results fanout.Results) error {
	for _, out := range results {
		printNodeOutput(w, out)
	}
	failed := len(results.Errors())
	fmt.Fprintf(w, "\n%d node(s), %d failed\n", len(results), failed)
	if failed > 0 {
		return fmt.Errorf("%d of %d nodes failed", failed, len(results))
	}
	return nil
}

func printNodeOutput(w io.Writer, out types.NodeOutput) {
	fmt.Fprintf(w, "---------------------------[%s]---------------------------\n", out.NodeID)
	if out.Err != nil {
		fmt.Fprintf(w, "✗ %v\n", out.Err)
		return
	}
	if out.Output != "" {
		fmt.Fprintln(w, strings.TrimRight(out.Output, "\n"))
	}
	if out.Stderr != "" {
		fmt.Fprintln(w, strings.TrimRight(out.Stderr, "\n"))
	}
	if out.ExitStatus != 0 {
		fmt.Fprintf(w, "exit status %d\n", out.ExitStatus)
	}
}

func printReport(w io.Writer, action string, report credentials.Report) error {
	ids := make([]string, 0, len(report))
	for id := range report {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if err := report[id]; err != nil {
			fmt.Fprintf(w, "✗ %s: %v\n", id, err)
		} else {
			fmt.Fprintf(w, "✓ %s: %s\n", id, action)
		}
	}
	return report.Err()
}

func printTasks(w io.Writer, tasks []*types.Task) {
	fmt.Fprintf(w, "%-24s %-10s %-16s %-5s %s\n", "ID", "STATE", "NODE", "EXIT", "TRANSITION")
	for _, t := range tasks {
		exit := "-"
		if t.ExitCode != nil {
			exit = fmt.Sprint(*t.ExitCode)
		}
		transition := "-"
		if !t.StateTransitionTime.IsZero() {
			transition = t.StateTransitionTime.Format("2006-01-02T15:04:05Z07:00")
		}
		fmt.Fprintf(w, "%-24s %-10s %-16s %-5s %s\n", t.ID, t.State, t.NodeID, exit, transition)
	}
}
