// Package report renders cleanup plans and execution results for the
// operator, enforces the pre-execution confirmation gate, and writes the
// machine-readable run report.
package report

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/datalift/janitor/pkg/model"
)

var groupNames = map[model.SequenceGroup]string{
	model.GroupTerminalWorkloads: "terminal workloads",
	model.GroupDisposableConfig:  "disposable config",
	model.GroupEmptyNamespaces:   "empty namespaces",
	model.GroupUnboundPVCs:       "unbound claims",
	model.GroupOrphanedCRDs:      "orphaned CRDs",
	model.GroupOrphanedReleases:  "orphaned releases",
}

// WritePlan renders a cleanup plan grouped by sequence group, followed by
// the advisory NeedsReview set.
func WritePlan(w io.Writer, plan model.CleanupPlan) {
	if plan.Empty() && len(plan.NeedsReview) == 0 {
		fmt.Fprintln(w, "Nothing to clean up: cluster matches the baseline.")
		return
	}

	if !plan.Empty() {
		fmt.Fprintf(w, "Cleanup plan: %d deletions\n\n", len(plan.Items))
		tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
		for _, group := range model.AllGroups {
			items := plan.ItemsInGroup(group)
			if len(items) == 0 {
				continue
			}
			fmt.Fprintf(tw, "group %d: %s (%d)\n", int(group), groupNames[group], len(items))
			for _, item := range items {
				fmt.Fprintf(tw, "\t%s\t%s\t%s\n",
					item.Descriptor.Kind, qualified(item.Descriptor), item.Reason)
			}
		}
		tw.Flush()
	}

	if len(plan.NeedsReview) > 0 {
		fmt.Fprintf(w, "\nNeeds review (never auto-deleted): %d\n", len(plan.NeedsReview))
		tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
		for _, c := range plan.NeedsReview {
			fmt.Fprintf(tw, "\t%s\t%s\t%s\n",
				c.Descriptor.Kind, qualified(c.Descriptor), c.Verdict.Reason)
		}
		tw.Flush()
	}
}

// WriteResult renders an execution result with per-kind counts and the
// detail lines for failures.
func WriteResult(w io.Writer, result model.ExecutionResult) {
	verb := "deleted"
	if result.Mode == model.DryRun {
		verb = "would delete"
	}

	fmt.Fprintf(w, "Execution %s (%s): %d items, %d failed\n",
		result.Outcome, result.Mode, len(result.Items), result.FailureCount())

	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	for _, kc := range sortedCounts(result) {
		fmt.Fprintf(tw, "\t%s\t%s %d\tfailed %d\n", kc.kind, verb, kc.counts.Succeeded, kc.counts.Failed)
	}
	tw.Flush()

	for _, item := range result.Items {
		if item.Succeeded {
			continue
		}
		fmt.Fprintf(w, "  FAILED %s %s: %s\n",
			item.Descriptor.Kind, qualified(item.Descriptor), item.ErrorMessage)
	}
}

type kindCounts struct {
	kind   model.Kind
	counts model.OutcomeCounts
}

func sortedCounts(result model.ExecutionResult) []kindCounts {
	byKind := result.CountsByKind()
	out := make([]kindCounts, 0, len(byKind))
	for _, k := range model.AllKinds {
		if c, ok := byKind[k]; ok {
			out = append(out, kindCounts{kind: k, counts: c})
		}
	}
	return out
}

func qualified(d model.Descriptor) string {
	if d.Namespace == "" {
		return d.Name
	}
	return d.Namespace + "/" + d.Name
}
