// Package plan turns classification verdicts into an ordered cleanup plan.
// Only Orphaned verdicts are planned; NeedsReview is carried through as
// advisory output and never executed.
package plan

import (
	"sort"

	"github.com/datalift/janitor/pkg/model"
)

// Build converts verdicts into a CleanupPlan. Deletions are bucketed into
// the six sequence groups and ordered by (group, namespace, name) so the
// same cluster state always produces the same plan.
func Build(verdicts []model.Classified) model.CleanupPlan {
	var plan model.CleanupPlan
	for _, v := range verdicts {
		switch v.Verdict.Ownership {
		case model.Orphaned:
			plan.Items = append(plan.Items, model.PlannedDeletion{
				Descriptor: v.Descriptor,
				Reason:     v.Verdict.Reason,
				Group:      model.GroupFor(v.Descriptor.Kind),
			})
		case model.NeedsReview:
			plan.NeedsReview = append(plan.NeedsReview, v)
		}
	}

	sort.Slice(plan.Items, func(i, j int) bool {
		a, b := plan.Items[i], plan.Items[j]
		if a.Group != b.Group {
			return a.Group < b.Group
		}
		if a.Descriptor.Namespace != b.Descriptor.Namespace {
			return a.Descriptor.Namespace < b.Descriptor.Namespace
		}
		return a.Descriptor.Name < b.Descriptor.Name
	})

	sort.Slice(plan.NeedsReview, func(i, j int) bool {
		a, b := plan.NeedsReview[i].Descriptor, plan.NeedsReview[j].Descriptor
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		if a.Namespace != b.Namespace {
			return a.Namespace < b.Namespace
		}
		return a.Name < b.Name
	})

	return plan
}
