// Package classify decides, for every scanned descriptor, whether it is
// managed by the platform baseline, orphaned leftover state, or something a
// human has to look at. The classifier is a pure function over the
// descriptor, the baseline registry, and the namespace child counts taken
// from the same scan; it performs no cluster calls.
package classify

import (
	"sort"
	"strings"
	"time"

	"github.com/datalift/janitor/internal/baseline"
	"github.com/datalift/janitor/internal/store"
	"github.com/datalift/janitor/pkg/model"
)

// Verdict reasons. These strings appear verbatim in reports.
const (
	ReasonSystemReserved    = "system-reserved"
	ReasonManagedNamespace  = "managed-namespace"
	ReasonUnmanagedEmpty    = "unmanaged-and-empty"
	ReasonUnmanagedOccupied = "unmanaged-but-occupied"
	ReasonCompletedJob      = "completed-job"
	ReasonFailedJob         = "failed-job"
	ReasonTerminalPod       = "terminal-pod"
	ReasonUnboundPVC        = "unbound-pvc"
	ReasonUnrecognizedCRD   = "unrecognized-crd"
	ReasonUnrecognizedRel   = "unrecognized-release"
	ReasonDisposableName    = "disposable-name-pattern"
	ReasonBelowAgeThreshold = "below-age-threshold"
	ReasonDefaultManaged    = "conservative-default"
)

// disposable name patterns for ConfigMaps and Secrets: artifacts the
// platform's demo and test tooling creates under reserved names.
var (
	disposablePrefixes   = []string{"temp-", "test-"}
	disposableSubstrings = []string{"-demo-"}
	disposableLiterals   = []string{"demo-scripts"}
)

// protectedNames are never classified as orphaned regardless of pattern
// overlap. The API server projects kube-root-ca.crt into every namespace.
var protectedNames = []string{"kube-root-ca.crt"}

// Classifier evaluates the ownership rules against one baseline registry.
type Classifier struct {
	registry *baseline.Registry
	// minWorkloadAge, when non-zero, keeps terminal Jobs/Pods younger than
	// the threshold out of the orphan set. Zero means phase-only
	// classification.
	minWorkloadAge time.Duration
}

// New creates a Classifier over the given registry.
func New(registry *baseline.Registry, minWorkloadAge time.Duration) *Classifier {
	return &Classifier{registry: registry, minWorkloadAge: minWorkloadAge}
}

// Classify applies the ordered ownership rules to one descriptor.
// children is the number of child objects observed in the descriptor's
// namespace at scan time (only consulted for Namespace descriptors).
// First matching rule wins; anything unmatched defaults to Managed.
func (c *Classifier) Classify(d model.Descriptor, children int) model.Verdict {
	switch d.Kind {
	case model.KindNamespace:
		return c.classifyNamespace(d, children)

	case model.KindJob:
		if v, ok := c.classifyTerminal(d, ReasonCompletedJob, ReasonFailedJob); ok {
			return v
		}

	case model.KindPod:
		if v, ok := c.classifyTerminal(d, ReasonTerminalPod, ReasonTerminalPod); ok {
			return v
		}

	case model.KindPVC:
		if d.Phase != model.PhaseBound {
			// An unbound claim may simply be waiting for its consuming
			// pod to restart, so it is flagged, never auto-deleted.
			return model.Verdict{Ownership: model.NeedsReview, Reason: ReasonUnboundPVC}
		}

	case model.KindCRD:
		if !c.registry.MatchesManagedCRDPattern(d.Name) {
			return model.Verdict{Ownership: model.Orphaned, Reason: ReasonUnrecognizedCRD}
		}

	case model.KindRelease:
		if !c.registry.IsManagedRelease(d.Name) {
			return model.Verdict{Ownership: model.Orphaned, Reason: ReasonUnrecognizedRel}
		}

	case model.KindConfigMap, model.KindSecret:
		if isDisposableName(d.Name) && !c.registry.IsSystemNamespace(d.Namespace) {
			return model.Verdict{Ownership: model.Orphaned, Reason: ReasonDisposableName}
		}
	}

	// Absence of evidence is not evidence of being disposable.
	return model.Verdict{Ownership: model.Managed, Reason: ReasonDefaultManaged}
}

func (c *Classifier) classifyNamespace(d model.Descriptor, children int) model.Verdict {
	if c.registry.IsSystemNamespace(d.Name) {
		return model.Verdict{Ownership: model.Managed, Reason: ReasonSystemReserved}
	}
	if c.registry.IsManagedNamespace(d.Name) {
		return model.Verdict{Ownership: model.Managed, Reason: ReasonManagedNamespace}
	}
	if children == 0 {
		return model.Verdict{Ownership: model.Orphaned, Reason: ReasonUnmanagedEmpty}
	}
	return model.Verdict{Ownership: model.NeedsReview, Reason: ReasonUnmanagedOccupied}
}

// classifyTerminal handles the terminal-phase rules shared by Jobs and
// Pods, including the optional age threshold policy.
func (c *Classifier) classifyTerminal(d model.Descriptor, succeededReason, failedReason string) (model.Verdict, bool) {
	if d.Phase != model.PhaseSucceeded && d.Phase != model.PhaseFailed {
		return model.Verdict{}, false
	}
	if c.minWorkloadAge > 0 && time.Duration(d.AgeSeconds)*time.Second < c.minWorkloadAge {
		return model.Verdict{Ownership: model.Managed, Reason: ReasonBelowAgeThreshold}, true
	}
	reason := succeededReason
	if d.Phase == model.PhaseFailed {
		reason = failedReason
	}
	return model.Verdict{Ownership: model.Orphaned, Reason: reason}, true
}

func isDisposableName(name string) bool {
	for _, protected := range protectedNames {
		if name == protected {
			return false
		}
	}
	for _, lit := range disposableLiterals {
		if name == lit {
			return true
		}
	}
	for _, p := range disposablePrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	for _, sub := range disposableSubstrings {
		if strings.Contains(name, sub) {
			return true
		}
	}
	return false
}

// Inventory classifies every descriptor in the inventory and returns the
// results sorted by (kind, namespace, name) so downstream output is
// deterministic.
func (c *Classifier) Inventory(inv *store.Inventory) []model.Classified {
	descriptors := inv.Descriptors.Values()
	sort.Slice(descriptors, func(i, j int) bool {
		a, b := descriptors[i], descriptors[j]
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		if a.Namespace != b.Namespace {
			return a.Namespace < b.Namespace
		}
		return a.Name < b.Name
	})

	out := make([]model.Classified, 0, len(descriptors))
	for _, d := range descriptors {
		children := 0
		if d.Kind == model.KindNamespace {
			children = inv.ChildCount(d.Name)
		}
		out = append(out, model.Classified{
			Descriptor: d,
			Verdict:    c.Classify(d, children),
		})
	}
	return out
}
