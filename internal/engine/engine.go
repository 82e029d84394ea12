// Package engine applies a cleanup plan against the cluster. Sequence
// groups run strictly in order; inside a group, deletions fan out over a
// bounded worker pool. Every item produces a result; failures are data,
// not discarded side effects.
package engine

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	apierrors "k8s.io/apimachinery/pkg/api/errors"

	"github.com/datalift/janitor/internal/errors"
	"github.com/datalift/janitor/internal/observability"
	"github.com/datalift/janitor/internal/store"
	"github.com/datalift/janitor/pkg/model"
)

// stuckReason marks a namespace that survived both its deletion timeout and
// the single finalizer-clear recovery.
const stuckReason = "stuck-terminating-requires-manual-intervention"

// Options tune one engine instance.
type Options struct {
	// Workers bounds concurrent deletions inside one sequence group.
	Workers int
	// DeleteTimeout is the per-item deadline for every kind except
	// namespaces.
	DeleteTimeout time.Duration
	// NamespaceTimeout is the per-item deadline for namespace deletions.
	NamespaceTimeout time.Duration
	// ConfirmWait bounds the single post-recovery delete confirmation.
	ConfirmWait time.Duration
}

func (o *Options) defaults() {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.DeleteTimeout <= 0 {
		o.DeleteTimeout = 60 * time.Second
	}
	if o.NamespaceTimeout <= 0 {
		o.NamespaceTimeout = 300 * time.Second
	}
	if o.ConfirmWait <= 0 {
		o.ConfirmWait = 10 * time.Second
	}
}

// Engine executes cleanup plans.
type Engine struct {
	cluster Cluster
	opts    Options
	metrics *observability.Metrics
	errs    *errors.Collector
	clock   errors.Clock
}

// New creates an Engine.
func New(cluster Cluster, opts Options, metrics *observability.Metrics, errs *errors.Collector, clock errors.Clock) *Engine {
	opts.defaults()
	return &Engine{
		cluster: cluster,
		opts:    opts,
		metrics: metrics,
		errs:    errs,
		clock:   clock,
	}
}

// Execute applies the plan in the given mode. In DryRun no mutating call is
// made. The returned result always contains one entry per plan item, in
// plan order; Outcome is AbortedPartial when the context was canceled
// before every group finished.
func (e *Engine) Execute(ctx context.Context, plan model.CleanupPlan, mode model.Mode) model.ExecutionResult {
	if mode == model.DryRun {
		return e.dryRun(plan)
	}

	results := store.NewTypedStore[model.ItemResult]()
	aborted := false

groups:
	for _, group := range model.AllGroups {
		items := plan.ItemsInGroup(group)
		if len(items) == 0 {
			continue
		}
		if ctx.Err() != nil {
			aborted = true
			break groups
		}

		slog.Info("executing sequence group", "group", int(group), "items", len(items))
		e.metrics.GroupsInFlight.Set(float64(group))
		e.runGroup(ctx, items, results)
		if ctx.Err() != nil {
			// In-flight items were allowed to finish; no new groups start.
			aborted = true
			break groups
		}
	}
	e.metrics.GroupsInFlight.Set(0)

	outcome := model.Completed
	if aborted {
		outcome = model.AbortedPartial
	}

	// Results assemble in plan order. Items never dispatched (run was
	// interrupted) appear unattempted.
	out := model.ExecutionResult{Mode: model.Live, Outcome: outcome}
	for _, item := range plan.Items {
		if res, ok := results.Get(item.Descriptor.Key()); ok {
			out.Items = append(out.Items, res)
			continue
		}
		out.Items = append(out.Items, model.ItemResult{
			Descriptor:   item.Descriptor,
			Reason:       item.Reason,
			Group:        item.Group,
			Attempted:    false,
			Succeeded:    false,
			ErrorMessage: "skipped: run interrupted",
			FinishedAt:   e.clock.Now(),
		})
	}
	return out
}

func (e *Engine) dryRun(plan model.CleanupPlan) model.ExecutionResult {
	out := model.ExecutionResult{Mode: model.DryRun, Outcome: model.Completed}
	for _, item := range plan.Items {
		out.Items = append(out.Items, model.ItemResult{
			Descriptor: item.Descriptor,
			Reason:     item.Reason,
			Group:      item.Group,
			Attempted:  false,
			Succeeded:  true,
			FinishedAt: e.clock.Now(),
		})
	}
	return out
}

// runGroup fans the group's items out over the worker pool and waits for
// every one to reach a terminal per-item state before returning. Group
// ordering exists to avoid racing a namespace deletion against still-running
// workload cleanup inside it, so no overlap between groups is permitted.
func (e *Engine) runGroup(ctx context.Context, items []model.PlannedDeletion, results *store.TypedStore[model.ItemResult]) {
	work := make(chan model.PlannedDeletion)
	var wg sync.WaitGroup

	for i := 0; i < e.opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range work {
				res := e.deleteItem(ctx, item)
				results.Set(item.Descriptor.Key(), res)
				e.record(res)
			}
		}()
	}

dispatch:
	for _, item := range items {
		select {
		case work <- item:
		case <-ctx.Done():
			break dispatch
		}
	}
	close(work)
	wg.Wait()
}

func (e *Engine) record(res model.ItemResult) {
	outcome := "succeeded"
	if !res.Succeeded {
		outcome = "failed"
	}
	e.metrics.DeletionsTotal.WithLabelValues(string(res.Descriptor.Kind), outcome).Inc()
	if res.Succeeded {
		return
	}
	code := errors.ErrDeleteFailed
	switch {
	case res.ErrorMessage == stuckReason:
		code = errors.ErrStuckTerminating
	case strings.HasPrefix(res.ErrorMessage, "deletion timed out"):
		code = errors.ErrDeleteTimeout
	case res.Descriptor.Kind == model.KindRelease:
		code = errors.ErrReleaseUninstall
	}
	e.errs.Report(errors.RunError{
		Code:      code,
		Message:   fmt.Sprintf("%s: %s", res.Descriptor.Key(), res.ErrorMessage),
		Component: "engine",
		Timestamp: e.clock.Now().UnixMilli(),
	})
}

// deleteItem deletes one resource with a bounded timeout and, for
// namespaces wedged in Terminating, one finalizer-clear recovery.
func (e *Engine) deleteItem(ctx context.Context, item model.PlannedDeletion) model.ItemResult {
	d := item.Descriptor
	res := model.ItemResult{
		Descriptor: d,
		Reason:     item.Reason,
		Group:      item.Group,
		Attempted:  true,
	}

	timeout := e.opts.DeleteTimeout
	if d.Kind == model.KindNamespace {
		timeout = e.opts.NamespaceTimeout
	}
	start := e.clock.Now()
	tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	err := e.cluster.Delete(tctx, d)
	if err == nil {
		err = e.cluster.WaitGone(tctx, d)
	}

	if err != nil && d.Kind == model.KindNamespace && isDeadline(err) {
		res = e.recoverNamespace(ctx, res)
	} else if err != nil {
		res.Succeeded = false
		res.ErrorMessage = errText(err)
	} else {
		res.Succeeded = true
	}

	res.FinishedAt = e.clock.Now()
	e.metrics.DeleteDuration.WithLabelValues(string(d.Kind)).Observe(res.FinishedAt.Sub(start).Seconds())

	if res.Succeeded {
		slog.Info("deleted", "kind", d.Kind, "namespace", d.Namespace, "name", d.Name,
			"reason", item.Reason, "recovered", res.RecoveryApplied)
	} else {
		slog.Warn("delete failed", "kind", d.Kind, "namespace", d.Namespace, "name", d.Name,
			"error", res.ErrorMessage)
	}
	return res
}

// recoverNamespace performs the single-shot stuck-terminating recovery:
// if the namespace still reports Terminating, clear its finalizers and
// confirm the delete once. This is not a retry loop: a namespace that
// survives this is legitimately waiting on something and goes to a human.
func (e *Engine) recoverNamespace(ctx context.Context, res model.ItemResult) model.ItemResult {
	d := res.Descriptor

	checkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.opts.ConfirmWait)
	defer cancel()

	phase, err := e.cluster.Phase(checkCtx, d)
	if apierrors.IsNotFound(err) {
		// The namespace finished deleting between the timeout and this
		// check. Gone is the desired end state.
		res.Succeeded = true
		return res
	}
	if err != nil || phase != model.PhaseTerminating {
		res.Succeeded = false
		res.ErrorMessage = fmt.Sprintf("deletion timed out after %s", e.opts.NamespaceTimeout)
		return res
	}

	slog.Warn("namespace stuck terminating, clearing finalizers", "namespace", d.Name)
	e.metrics.RecoveriesTotal.Inc()
	res.RecoveryApplied = true

	if err := e.cluster.ClearFinalizers(checkCtx, d); err != nil {
		res.Succeeded = false
		res.ErrorMessage = stuckReason
		return res
	}

	confirmCtx, cancelConfirm := context.WithTimeout(context.WithoutCancel(ctx), e.opts.ConfirmWait)
	defer cancelConfirm()
	if err := e.cluster.WaitGone(confirmCtx, d); err != nil {
		res.Succeeded = false
		res.ErrorMessage = stuckReason
		return res
	}

	res.Succeeded = true
	return res
}

func isDeadline(err error) bool {
	return stderrors.Is(err, context.DeadlineExceeded)
}

func errText(err error) string {
	if isDeadline(err) {
		return "deletion timed out"
	}
	return err.Error()
}
