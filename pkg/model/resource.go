// Package model defines the value types shared across the janitor pipeline:
// scanned resource descriptors, classification verdicts, cleanup plans, and
// execution results. All types are plain data; stages produce new values
// rather than mutating their inputs.
package model

import "time"

// Kind identifies the resource kinds the scanner inventories.
type Kind string

// Scanned resource kinds.
const (
	KindNamespace Kind = "Namespace"
	KindPVC       Kind = "PersistentVolumeClaim"
	KindCRD       Kind = "CustomResourceDefinition"
	KindRelease   Kind = "PackageRelease"
	KindJob       Kind = "Job"
	KindPod       Kind = "Pod"
	KindConfigMap Kind = "ConfigMap"
	KindSecret    Kind = "Secret"
)

// AllKinds lists every kind the scanner covers, in scan order.
var AllKinds = []Kind{
	KindNamespace, KindPod, KindJob, KindPVC,
	KindConfigMap, KindSecret, KindCRD, KindRelease,
}

// Namespaced reports whether the kind lives inside a namespace.
func (k Kind) Namespaced() bool {
	switch k {
	case KindNamespace, KindCRD:
		return false
	}
	return true
}

// Phase is the kind-specific lifecycle phase observed at scan time.
type Phase string

// Observed phases. Meaning is kind-specific: Bound applies to PVCs,
// Succeeded/Failed to Jobs and Pods, Terminating/Active to Namespaces.
const (
	PhaseActive      Phase = "Active"
	PhaseSucceeded   Phase = "Succeeded"
	PhaseFailed      Phase = "Failed"
	PhaseTerminating Phase = "Terminating"
	PhaseBound       Phase = "Bound"
	PhasePending     Phase = "Pending"
	PhaseUnknown     Phase = "Unknown"
)

// OwnerHints carries derived signals the classifier uses alongside the
// baseline registry.
type OwnerHints struct {
	// ChildResources is the number of child objects observed inside a
	// namespace (only meaningful for Kind == Namespace).
	ChildResources int `json:"childResources,omitempty"`
	// CRDGroup is the API group of a CustomResourceDefinition.
	CRDGroup string `json:"crdGroup,omitempty"`
	// ReleaseChart is the chart name backing a PackageRelease.
	ReleaseChart string `json:"releaseChart,omitempty"`
}

// Descriptor is a point-in-time snapshot of one live cluster object.
// It is never mutated after the scan; classification and planning produce
// derived structures instead.
type Descriptor struct {
	Kind       Kind              `json:"kind"`
	Namespace  string            `json:"namespace,omitempty"`
	Name       string            `json:"name"`
	Labels     map[string]string `json:"labels,omitempty"`
	Phase      Phase             `json:"phase"`
	OwnerHints OwnerHints        `json:"ownerHints,omitempty"`
	AgeSeconds int64             `json:"ageSeconds"`
}

// Key returns the descriptor's identity as "kind/namespace/name"
// ("kind//name" for cluster-scoped kinds).
func (d Descriptor) Key() string {
	return string(d.Kind) + "/" + d.Namespace + "/" + d.Name
}

// Ownership is the classification outcome for one descriptor.
type Ownership string

// Classification outcomes. NeedsReview is a first-class result: reported,
// never acted upon automatically.
const (
	Managed     Ownership = "Managed"
	Orphaned    Ownership = "Orphaned"
	NeedsReview Ownership = "NeedsReview"
)

// Verdict pairs an ownership decision with its human-readable reason.
type Verdict struct {
	Ownership Ownership `json:"ownership"`
	Reason    string    `json:"reason"`
}

// Classified binds a descriptor to its verdict.
type Classified struct {
	Descriptor Descriptor `json:"descriptor"`
	Verdict    Verdict    `json:"verdict"`
}

// SequenceGroup orders deletions so dependents go before the objects whose
// finalizers would otherwise block on them.
type SequenceGroup int

// Deletion sequence groups, processed strictly in ascending order.
const (
	GroupTerminalWorkloads SequenceGroup = iota + 1 // completed/failed Jobs, terminal Pods
	GroupDisposableConfig                           // temp ConfigMaps/Secrets
	GroupEmptyNamespaces                            // empty orphaned Namespaces
	GroupUnboundPVCs                                // unbound orphaned PVCs
	GroupOrphanedCRDs                               // unrecognized CRDs
	GroupOrphanedReleases                           // unrecognized package releases
)

// AllGroups lists the sequence groups in execution order.
var AllGroups = []SequenceGroup{
	GroupTerminalWorkloads, GroupDisposableConfig, GroupEmptyNamespaces,
	GroupUnboundPVCs, GroupOrphanedCRDs, GroupOrphanedReleases,
}

// GroupFor maps a descriptor kind to its deletion sequence group.
func GroupFor(k Kind) SequenceGroup {
	switch k {
	case KindJob, KindPod:
		return GroupTerminalWorkloads
	case KindConfigMap, KindSecret:
		return GroupDisposableConfig
	case KindNamespace:
		return GroupEmptyNamespaces
	case KindPVC:
		return GroupUnboundPVCs
	case KindCRD:
		return GroupOrphanedCRDs
	default:
		return GroupOrphanedReleases
	}
}

// PlannedDeletion is one item of a cleanup plan.
type PlannedDeletion struct {
	Descriptor Descriptor    `json:"descriptor"`
	Reason     string        `json:"reason"`
	Group      SequenceGroup `json:"group"`
}

// CleanupPlan is the ordered set of deletions plus the advisory
// NeedsReview set, which is surfaced but never executed.
type CleanupPlan struct {
	Items       []PlannedDeletion `json:"items"`
	NeedsReview []Classified      `json:"needsReview,omitempty"`
}

// Empty reports whether the plan contains no deletions.
func (p CleanupPlan) Empty() bool { return len(p.Items) == 0 }

// ItemsInGroup returns the plan items belonging to the given group,
// preserving plan order.
func (p CleanupPlan) ItemsInGroup(g SequenceGroup) []PlannedDeletion {
	var items []PlannedDeletion
	for _, it := range p.Items {
		if it.Group == g {
			items = append(items, it)
		}
	}
	return items
}

// Mode selects how the execution engine applies a plan.
type Mode string

// Execution modes.
const (
	DryRun Mode = "DryRun"
	Live   Mode = "Live"
)

// Outcome is the terminal state of one engine invocation.
type Outcome string

// Engine outcomes. Completed means every group was processed, regardless of
// individual item failures. AbortedPartial means the run was interrupted
// between items or groups.
const (
	Completed      Outcome = "Completed"
	AbortedPartial Outcome = "Aborted-Partial"
)

// ItemResult records the outcome of one planned deletion.
type ItemResult struct {
	Descriptor      Descriptor    `json:"descriptor"`
	Reason          string        `json:"reason"`
	Group           SequenceGroup `json:"group"`
	Attempted       bool          `json:"attempted"`
	Succeeded       bool          `json:"succeeded"`
	ErrorMessage    string        `json:"errorMessage,omitempty"`
	RecoveryApplied bool          `json:"recoveryApplied,omitempty"`
	FinishedAt      time.Time     `json:"finishedAt"`
}

// ExecutionResult aggregates per-item results for one engine run.
type ExecutionResult struct {
	Mode    Mode         `json:"mode"`
	Outcome Outcome      `json:"outcome"`
	Items   []ItemResult `json:"items"`
}

// FailureCount returns the number of attempted items that did not succeed.
func (r ExecutionResult) FailureCount() int {
	n := 0
	for _, it := range r.Items {
		if it.Attempted && !it.Succeeded {
			n++
		}
	}
	return n
}

// CountsByKind returns attempted/succeeded/failed counts per kind.
func (r ExecutionResult) CountsByKind() map[Kind]OutcomeCounts {
	counts := make(map[Kind]OutcomeCounts)
	for _, it := range r.Items {
		c := counts[it.Descriptor.Kind]
		if it.Attempted {
			c.Attempted++
		}
		if it.Succeeded {
			c.Succeeded++
		} else if it.Attempted {
			c.Failed++
		}
		counts[it.Descriptor.Kind] = c
	}
	return counts
}

// OutcomeCounts is a per-kind tally of execution outcomes.
type OutcomeCounts struct {
	Attempted int `json:"attempted"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// StageTimings records wall-clock duration of each pipeline stage.
type StageTimings struct {
	ScanMillis     int64 `json:"scanMillis"`
	ClassifyMillis int64 `json:"classifyMillis"`
	PlanMillis     int64 `json:"planMillis"`
	ExecuteMillis  int64 `json:"executeMillis,omitempty"`
}

// Report is the machine-readable run document written to the report file.
type Report struct {
	RunID      string           `json:"runId"`
	StartedAt  time.Time        `json:"startedAt"`
	FinishedAt time.Time        `json:"finishedAt"`
	Scanned    int              `json:"scanned"`
	Verdicts   map[string]int   `json:"verdicts"`
	Plan       *CleanupPlan     `json:"plan,omitempty"`
	Execution  *ExecutionResult `json:"execution,omitempty"`
	Timings    StageTimings     `json:"timings"`
	ScanErrors []string         `json:"scanErrors,omitempty"`
}
