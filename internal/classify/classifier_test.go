package classify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datalift/janitor/internal/baseline"
	"github.com/datalift/janitor/internal/store"
	"github.com/datalift/janitor/pkg/model"
)

func newRegistry(t *testing.T) *baseline.Registry {
	t.Helper()
	r, err := baseline.New(
		[]string{"mlops", "data-platform"},
		[]string{"kafka", "airflow"},
		[]string{"*.argoproj.io"},
	)
	require.NoError(t, err)
	return r
}

func TestClassify_Namespaces(t *testing.T) {
	c := New(newRegistry(t), 0)

	tests := []struct {
		name      string
		ns        string
		children  int
		ownership model.Ownership
		reason    string
	}{
		{"system reserved", "kube-system", 12, model.Managed, ReasonSystemReserved},
		{"managed baseline member", "mlops", 40, model.Managed, ReasonManagedNamespace},
		{"unmanaged and empty", "leftover-test", 0, model.Orphaned, ReasonUnmanagedEmpty},
		{"unmanaged but occupied", "mlops-demo", 3, model.NeedsReview, ReasonUnmanagedOccupied},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := c.Classify(model.Descriptor{Kind: model.KindNamespace, Name: tt.ns}, tt.children)
			assert.Equal(t, tt.ownership, v.Ownership)
			assert.Equal(t, tt.reason, v.Reason)
		})
	}
}

func TestClassify_TerminalWorkloads(t *testing.T) {
	c := New(newRegistry(t), 0)

	v := c.Classify(model.Descriptor{Kind: model.KindJob, Namespace: "mlops", Name: "train", Phase: model.PhaseSucceeded}, 0)
	assert.Equal(t, model.Verdict{Ownership: model.Orphaned, Reason: ReasonCompletedJob}, v)

	v = c.Classify(model.Descriptor{Kind: model.KindJob, Namespace: "mlops", Name: "train", Phase: model.PhaseFailed}, 0)
	assert.Equal(t, model.Verdict{Ownership: model.Orphaned, Reason: ReasonFailedJob}, v)

	v = c.Classify(model.Descriptor{Kind: model.KindJob, Namespace: "mlops", Name: "train", Phase: model.PhaseActive}, 0)
	assert.Equal(t, model.Managed, v.Ownership, "running job is never orphaned")

	for _, phase := range []model.Phase{model.PhaseSucceeded, model.PhaseFailed} {
		v = c.Classify(model.Descriptor{Kind: model.KindPod, Namespace: "mlops", Name: "p", Phase: phase}, 0)
		assert.Equal(t, model.Verdict{Ownership: model.Orphaned, Reason: ReasonTerminalPod}, v, phase)
	}

	v = c.Classify(model.Descriptor{Kind: model.KindPod, Namespace: "mlops", Name: "p", Phase: model.PhaseActive}, 0)
	assert.Equal(t, model.Managed, v.Ownership, "running pod is never orphaned")
}

func TestClassify_AgeThresholdPolicy(t *testing.T) {
	c := New(newRegistry(t), time.Hour)

	young := model.Descriptor{Kind: model.KindJob, Namespace: "mlops", Name: "j", Phase: model.PhaseSucceeded, AgeSeconds: 120}
	v := c.Classify(young, 0)
	assert.Equal(t, model.Verdict{Ownership: model.Managed, Reason: ReasonBelowAgeThreshold}, v)

	old := young
	old.AgeSeconds = 7200
	v = c.Classify(old, 0)
	assert.Equal(t, model.Verdict{Ownership: model.Orphaned, Reason: ReasonCompletedJob}, v)
}

func TestClassify_PVC(t *testing.T) {
	c := New(newRegistry(t), 0)

	v := c.Classify(model.Descriptor{Kind: model.KindPVC, Namespace: "mlops", Name: "data", Phase: model.PhasePending}, 0)
	assert.Equal(t, model.Verdict{Ownership: model.NeedsReview, Reason: ReasonUnboundPVC}, v)

	v = c.Classify(model.Descriptor{Kind: model.KindPVC, Namespace: "mlops", Name: "data", Phase: model.PhaseBound}, 0)
	assert.Equal(t, model.Managed, v.Ownership)
}

func TestClassify_CRDAndRelease(t *testing.T) {
	c := New(newRegistry(t), 0)

	v := c.Classify(model.Descriptor{Kind: model.KindCRD, Name: "workflows.argoproj.io"}, 0)
	assert.Equal(t, model.Managed, v.Ownership)

	v = c.Classify(model.Descriptor{Kind: model.KindCRD, Name: "widgets.example.com"}, 0)
	assert.Equal(t, model.Verdict{Ownership: model.Orphaned, Reason: ReasonUnrecognizedCRD}, v)

	v = c.Classify(model.Descriptor{Kind: model.KindRelease, Namespace: "mlops", Name: "kafka"}, 0)
	assert.Equal(t, model.Managed, v.Ownership)

	v = c.Classify(model.Descriptor{Kind: model.KindRelease, Namespace: "mlops", Name: "my-experiment"}, 0)
	assert.Equal(t, model.Verdict{Ownership: model.Orphaned, Reason: ReasonUnrecognizedRel}, v)
}

func TestClassify_DisposableNames(t *testing.T) {
	c := New(newRegistry(t), 0)

	orphaned := []string{"temp-cache-config", "test-fixture", "load-demo-data", "demo-scripts"}
	for _, name := range orphaned {
		v := c.Classify(model.Descriptor{Kind: model.KindConfigMap, Namespace: "mlops", Name: name}, 0)
		assert.Equal(t, model.Verdict{Ownership: model.Orphaned, Reason: ReasonDisposableName}, v, name)
	}

	v := c.Classify(model.Descriptor{Kind: model.KindSecret, Namespace: "mlops", Name: "temp-token"}, 0)
	assert.Equal(t, model.Verdict{Ownership: model.Orphaned, Reason: ReasonDisposableName}, v)

	// Pattern matches are suppressed inside system namespaces.
	v = c.Classify(model.Descriptor{Kind: model.KindConfigMap, Namespace: "kube-system", Name: "temp-cache-config"}, 0)
	assert.Equal(t, model.Managed, v.Ownership)

	// kube-root-ca.crt is never orphaned, in any namespace.
	v = c.Classify(model.Descriptor{Kind: model.KindConfigMap, Namespace: "mlops-demo", Name: "kube-root-ca.crt"}, 0)
	assert.Equal(t, model.Managed, v.Ownership)

	v = c.Classify(model.Descriptor{Kind: model.KindConfigMap, Namespace: "mlops", Name: "feature-flags"}, 0)
	assert.Equal(t, model.Verdict{Ownership: model.Managed, Reason: ReasonDefaultManaged}, v)
}

// Scenario: namespace mlops-demo holds three pods (one Succeeded, one
// Failed, one Running). The namespace needs review, the terminal pods are
// orphaned, the running pod stays managed.
func TestInventory_OccupiedDemoNamespace(t *testing.T) {
	inv := store.NewInventory()
	inv.Add(model.Descriptor{Kind: model.KindNamespace, Name: "mlops-demo", Phase: model.PhaseActive})
	inv.Add(model.Descriptor{Kind: model.KindPod, Namespace: "mlops-demo", Name: "done", Phase: model.PhaseSucceeded})
	inv.Add(model.Descriptor{Kind: model.KindPod, Namespace: "mlops-demo", Name: "crashed", Phase: model.PhaseFailed})
	inv.Add(model.Descriptor{Kind: model.KindPod, Namespace: "mlops-demo", Name: "serving", Phase: model.PhaseActive})

	c := New(newRegistry(t), 0)
	verdicts := c.Inventory(inv)
	require.Len(t, verdicts, 4)

	byName := map[string]model.Verdict{}
	for _, v := range verdicts {
		byName[string(v.Descriptor.Kind)+"/"+v.Descriptor.Name] = v.Verdict
	}

	assert.Equal(t, model.NeedsReview, byName["Namespace/mlops-demo"].Ownership)
	assert.Equal(t, ReasonUnmanagedOccupied, byName["Namespace/mlops-demo"].Reason)
	assert.Equal(t, model.Orphaned, byName["Pod/done"].Ownership)
	assert.Equal(t, model.Orphaned, byName["Pod/crashed"].Ownership)
	assert.Equal(t, model.Managed, byName["Pod/serving"].Ownership)
}

func TestInventory_EmptyUnmanagedNamespace(t *testing.T) {
	inv := store.NewInventory()
	inv.Add(model.Descriptor{Kind: model.KindNamespace, Name: "leftover-test", Phase: model.PhaseActive})

	c := New(newRegistry(t), 0)
	verdicts := c.Inventory(inv)
	require.Len(t, verdicts, 1)
	assert.Equal(t, model.Orphaned, verdicts[0].Verdict.Ownership)
	assert.Equal(t, ReasonUnmanagedEmpty, verdicts[0].Verdict.Reason)
}

func TestInventory_DeterministicOrder(t *testing.T) {
	build := func() []model.Classified {
		inv := store.NewInventory()
		inv.Add(model.Descriptor{Kind: model.KindPod, Namespace: "b", Name: "z", Phase: model.PhaseFailed})
		inv.Add(model.Descriptor{Kind: model.KindPod, Namespace: "a", Name: "y", Phase: model.PhaseFailed})
		inv.Add(model.Descriptor{Kind: model.KindNamespace, Name: "a", Phase: model.PhaseActive})
		return New(newRegistry(t), 0).Inventory(inv)
	}

	first := build()
	second := build()
	assert.Equal(t, first, second)
}
