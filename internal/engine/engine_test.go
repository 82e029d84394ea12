package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/runtime/schema"

	"github.com/datalift/janitor/internal/errors"
	"github.com/datalift/janitor/internal/observability"
	"github.com/datalift/janitor/pkg/model"
)

// fakeCluster is a scripted Cluster implementation. Keys are
// model.Descriptor.Key().
type fakeCluster struct {
	mu          sync.Mutex
	deleted     []string
	deleteTimes map[string]time.Time
	cleared     []string
	failDelete  map[string]error
	stuck       map[string]bool // stays Terminating until finalizers cleared
}

func newFakeCluster() *fakeCluster {
	return &fakeCluster{
		deleteTimes: make(map[string]time.Time),
		failDelete:  make(map[string]error),
		stuck:       make(map[string]bool),
	}
}

func (f *fakeCluster) Delete(_ context.Context, d model.Descriptor) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failDelete[d.Key()]; ok {
		return err
	}
	f.deleted = append(f.deleted, d.Key())
	f.deleteTimes[d.Key()] = time.Now()
	return nil
}

func (f *fakeCluster) WaitGone(ctx context.Context, d model.Descriptor) error {
	f.mu.Lock()
	blocked := f.stuck[d.Key()] && !contains(f.cleared, d.Key())
	f.mu.Unlock()
	if !blocked {
		return nil
	}
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeCluster) Phase(_ context.Context, d model.Descriptor) (model.Phase, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stuck[d.Key()] {
		return model.PhaseTerminating, nil
	}
	return model.PhaseActive, nil
}

func (f *fakeCluster) ClearFinalizers(_ context.Context, d model.Descriptor) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared = append(f.cleared, d.Key())
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func fastOpts() Options {
	return Options{
		Workers:          4,
		DeleteTimeout:    200 * time.Millisecond,
		NamespaceTimeout: 200 * time.Millisecond,
		ConfirmWait:      100 * time.Millisecond,
	}
}

func testEngine(cluster Cluster) *Engine {
	return New(cluster, fastOpts(), observability.NewMetrics(), errors.NewCollector(errors.RealClock{}), errors.RealClock{})
}

func planned(kind model.Kind, ns, name, reason string) model.PlannedDeletion {
	return model.PlannedDeletion{
		Descriptor: model.Descriptor{Kind: kind, Namespace: ns, Name: name},
		Reason:     reason,
		Group:      model.GroupFor(kind),
	}
}

func TestExecute_DryRunMakesNoCalls(t *testing.T) {
	cluster := newFakeCluster()
	eng := testEngine(cluster)

	plan := model.CleanupPlan{Items: []model.PlannedDeletion{
		planned(model.KindPod, "mlops-demo", "done", "terminal-pod"),
		planned(model.KindNamespace, "", "leftover-test", "unmanaged-and-empty"),
	}}

	result := eng.Execute(context.Background(), plan, model.DryRun)

	assert.Empty(t, cluster.deleted, "dry-run must not mutate")
	assert.Equal(t, model.Completed, result.Outcome)
	require.Len(t, result.Items, 2)
	for _, item := range result.Items {
		assert.False(t, item.Attempted)
		assert.True(t, item.Succeeded)
	}
}

func TestExecute_LiveDeletesEverything(t *testing.T) {
	cluster := newFakeCluster()
	eng := testEngine(cluster)

	plan := model.CleanupPlan{Items: []model.PlannedDeletion{
		planned(model.KindJob, "mlops", "train-1", "completed-job"),
		planned(model.KindPod, "mlops-demo", "done", "terminal-pod"),
		planned(model.KindConfigMap, "mlops", "temp-cache-config", "disposable-name-pattern"),
		planned(model.KindNamespace, "", "leftover-test", "unmanaged-and-empty"),
	}}

	result := eng.Execute(context.Background(), plan, model.Live)

	assert.Equal(t, model.Completed, result.Outcome)
	assert.Equal(t, 0, result.FailureCount())
	assert.Len(t, cluster.deleted, 4)
	for _, item := range result.Items {
		assert.True(t, item.Attempted)
		assert.True(t, item.Succeeded)
	}
}

func TestExecute_GroupOrdering(t *testing.T) {
	cluster := newFakeCluster()
	eng := testEngine(cluster)

	job := planned(model.KindJob, "leftover-test", "old-job", "completed-job")
	ns := planned(model.KindNamespace, "", "leftover-test", "unmanaged-and-empty")
	plan := model.CleanupPlan{Items: []model.PlannedDeletion{job, ns}}

	result := eng.Execute(context.Background(), plan, model.Live)
	require.Equal(t, model.Completed, result.Outcome)

	jobTime := cluster.deleteTimes[job.Descriptor.Key()]
	nsTime := cluster.deleteTimes[ns.Descriptor.Key()]
	assert.True(t, jobTime.Before(nsTime) || jobTime.Equal(nsTime),
		"group 1 job must be deleted before its group 3 namespace")
}

func TestExecute_PerItemErrorIsolation(t *testing.T) {
	cluster := newFakeCluster()
	bad := planned(model.KindPod, "mlops", "wedged", "terminal-pod")
	cluster.failDelete[bad.Descriptor.Key()] = fmt.Errorf("admission webhook denied")
	eng := testEngine(cluster)

	plan := model.CleanupPlan{Items: []model.PlannedDeletion{
		bad,
		planned(model.KindPod, "mlops", "done", "terminal-pod"),
	}}

	result := eng.Execute(context.Background(), plan, model.Live)

	assert.Equal(t, model.Completed, result.Outcome, "one failure must not halt the run")
	assert.Equal(t, 1, result.FailureCount())

	byKey := map[string]model.ItemResult{}
	for _, item := range result.Items {
		byKey[item.Descriptor.Key()] = item
	}
	assert.False(t, byKey[bad.Descriptor.Key()].Succeeded)
	assert.Contains(t, byKey[bad.Descriptor.Key()].ErrorMessage, "admission webhook")
	assert.True(t, byKey["Pod/mlops/done"].Succeeded)
}

func TestExecute_StuckNamespaceRecovered(t *testing.T) {
	cluster := newFakeCluster()
	ns := planned(model.KindNamespace, "", "leftover-test", "unmanaged-and-empty")
	cluster.stuck[ns.Descriptor.Key()] = true
	eng := testEngine(cluster)

	result := eng.Execute(context.Background(), model.CleanupPlan{Items: []model.PlannedDeletion{ns}}, model.Live)

	require.Len(t, result.Items, 1)
	item := result.Items[0]
	assert.True(t, item.Succeeded)
	assert.True(t, item.RecoveryApplied)
	assert.Equal(t, []string{ns.Descriptor.Key()}, cluster.cleared, "exactly one finalizer clear")
}

// stuckForeverCluster keeps the namespace Terminating even after its
// finalizers are cleared, simulating a dependent controller holding it.
type stuckForeverCluster struct {
	fakeCluster
}

func (f *stuckForeverCluster) WaitGone(ctx context.Context, d model.Descriptor) error {
	f.mu.Lock()
	blocked := f.stuck[d.Key()]
	f.mu.Unlock()
	if !blocked {
		return nil
	}
	<-ctx.Done()
	return ctx.Err()
}

func TestExecute_StuckNamespaceSingleShotRecovery(t *testing.T) {
	cluster := &stuckForeverCluster{}
	cluster.deleteTimes = make(map[string]time.Time)
	cluster.failDelete = make(map[string]error)
	ns := planned(model.KindNamespace, "", "leftover-test", "unmanaged-and-empty")
	cluster.stuck = map[string]bool{ns.Descriptor.Key(): true}
	eng := testEngine(cluster)

	result := eng.Execute(context.Background(), model.CleanupPlan{Items: []model.PlannedDeletion{ns}}, model.Live)

	require.Len(t, result.Items, 1)
	item := result.Items[0]
	assert.False(t, item.Succeeded)
	assert.True(t, item.RecoveryApplied)
	assert.Equal(t, "stuck-terminating-requires-manual-intervention", item.ErrorMessage)
	assert.Len(t, cluster.cleared, 1, "recovery is single-shot, never a retry loop")
}

// vanishedCluster simulates a namespace whose deletion outlives the item
// timeout but completes before the recovery phase check.
type vanishedCluster struct {
	fakeCluster
}

func (f *vanishedCluster) WaitGone(ctx context.Context, _ model.Descriptor) error {
	<-ctx.Done()
	return ctx.Err()
}

func (f *vanishedCluster) Phase(_ context.Context, d model.Descriptor) (model.Phase, error) {
	return model.PhaseUnknown, apierrors.NewNotFound(schema.GroupResource{Resource: "namespaces"}, d.Name)
}

func TestExecute_NamespaceGoneAfterTimeoutIsSuccess(t *testing.T) {
	cluster := &vanishedCluster{}
	cluster.deleteTimes = make(map[string]time.Time)
	cluster.failDelete = make(map[string]error)
	ns := planned(model.KindNamespace, "", "leftover-test", "unmanaged-and-empty")
	eng := testEngine(cluster)

	result := eng.Execute(context.Background(), model.CleanupPlan{Items: []model.PlannedDeletion{ns}}, model.Live)

	require.Len(t, result.Items, 1)
	item := result.Items[0]
	assert.True(t, item.Succeeded, "namespace absent at the recovery check means the deletion worked")
	assert.False(t, item.RecoveryApplied)
	assert.Empty(t, item.ErrorMessage)
	assert.Empty(t, cluster.cleared)
}

func TestExecute_TimeoutReportsTypedCode(t *testing.T) {
	cluster := newFakeCluster()
	pod := planned(model.KindPod, "mlops", "wedged", "terminal-pod")
	cluster.stuck[pod.Descriptor.Key()] = true
	errs := errors.NewCollector(errors.RealClock{})
	eng := New(cluster, fastOpts(), observability.NewMetrics(), errs, errors.RealClock{})

	eng.Execute(context.Background(), model.CleanupPlan{Items: []model.PlannedDeletion{pod}}, model.Live)

	assert.Contains(t, errs.ActiveCodes(), string(errors.ErrDeleteTimeout))
}

func TestExecute_ReleaseFailureReportsTypedCode(t *testing.T) {
	cluster := newFakeCluster()
	rel := planned(model.KindRelease, "data-platform", "kafka", "unrecognized-release")
	cluster.failDelete[rel.Descriptor.Key()] = fmt.Errorf("uninstall hooks failed")
	errs := errors.NewCollector(errors.RealClock{})
	eng := New(cluster, fastOpts(), observability.NewMetrics(), errs, errors.RealClock{})

	eng.Execute(context.Background(), model.CleanupPlan{Items: []model.PlannedDeletion{rel}}, model.Live)

	assert.Contains(t, errs.ActiveCodes(), string(errors.ErrReleaseUninstall))
}

func TestExecute_NonNamespaceTimeoutGetsNoRecovery(t *testing.T) {
	cluster := newFakeCluster()
	pod := planned(model.KindPod, "mlops", "wedged", "terminal-pod")
	cluster.stuck[pod.Descriptor.Key()] = true
	eng := testEngine(cluster)

	result := eng.Execute(context.Background(), model.CleanupPlan{Items: []model.PlannedDeletion{pod}}, model.Live)

	require.Len(t, result.Items, 1)
	assert.False(t, result.Items[0].Succeeded)
	assert.False(t, result.Items[0].RecoveryApplied)
	assert.Empty(t, cluster.cleared)
}

func TestExecute_CancelledContextAbortsPartial(t *testing.T) {
	cluster := newFakeCluster()
	eng := testEngine(cluster)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	plan := model.CleanupPlan{Items: []model.PlannedDeletion{
		planned(model.KindPod, "mlops", "done", "terminal-pod"),
		planned(model.KindNamespace, "", "leftover-test", "unmanaged-and-empty"),
	}}

	result := eng.Execute(ctx, plan, model.Live)

	assert.Equal(t, model.AbortedPartial, result.Outcome)
	require.Len(t, result.Items, 2, "every plan item appears in the result")
	for _, item := range result.Items {
		assert.False(t, item.Attempted)
		assert.False(t, item.Succeeded)
	}
}

func TestExecute_ResultsInPlanOrder(t *testing.T) {
	cluster := newFakeCluster()
	eng := testEngine(cluster)

	plan := model.CleanupPlan{Items: []model.PlannedDeletion{
		planned(model.KindPod, "a", "p1", "terminal-pod"),
		planned(model.KindPod, "b", "p2", "terminal-pod"),
		planned(model.KindNamespace, "", "c", "unmanaged-and-empty"),
	}}

	result := eng.Execute(context.Background(), plan, model.Live)
	require.Len(t, result.Items, 3)
	for i, item := range plan.Items {
		assert.Equal(t, item.Descriptor.Key(), result.Items[i].Descriptor.Key())
	}
}
