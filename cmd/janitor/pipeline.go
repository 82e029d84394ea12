package main

import (
	"context"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	apiextclientset "k8s.io/apiextensions-apiserver/pkg/client/clientset/clientset"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/datalift/janitor/internal/baseline"
	"github.com/datalift/janitor/internal/classify"
	"github.com/datalift/janitor/internal/config"
	"github.com/datalift/janitor/internal/engine"
	"github.com/datalift/janitor/internal/errors"
	"github.com/datalift/janitor/internal/health"
	"github.com/datalift/janitor/internal/helm"
	"github.com/datalift/janitor/internal/inventory"
	"github.com/datalift/janitor/internal/observability"
	"github.com/datalift/janitor/internal/plan"
	"github.com/datalift/janitor/internal/report"
	"github.com/datalift/janitor/pkg/model"
)

type runMode int

const (
	modeCheck runMode = iota
	modePlan
	modeCleanup
)

// pipeline holds the wired collaborators for one invocation and the
// progress state the status server reads.
type pipeline struct {
	cfg     config.Config
	metrics *observability.Metrics
	errs    *errors.Collector
	clock   errors.Clock

	stage     atomic.Value // string
	planSize  atomic.Int64
	doneItems atomic.Int64
}

// Progress implements health.ProgressProvider.
func (p *pipeline) Progress() map[string]interface{} {
	stage, _ := p.stage.Load().(string)
	return map[string]interface{}{
		"runId": p.cfg.RunID,
		"stage": stage,
		"plan":  p.planSize.Load(),
		"done":  p.doneItems.Load(),
	}
}

// runPipeline executes the scan, classify, plan, gate, execute, report
// sequence and returns the process exit code.
func runPipeline(ctx context.Context, cfg config.Config, mode runMode) int {
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		return exitAborted
	}

	p := &pipeline{
		cfg:     cfg,
		metrics: observability.NewMetrics(),
		errs:    errors.NewCollector(errors.RealClock{}),
		clock:   errors.RealClock{},
	}
	p.stage.Store("starting")

	slog.Info("janitor starting", "run_id", cfg.RunID, "mode", modeName(mode),
		"namespace_filter", cfg.NamespaceFilter, "dry_run", cfg.DryRun)

	// Baseline loads before any cluster query; a malformed baseline
	// aborts with nothing touched.
	registry, err := loadBaseline(cfg, p.clock)
	if err != nil {
		slog.Error("baseline registry failed to load", "error", err)
		return exitAborted
	}

	restCfg, err := buildKubeConfig(cfg.Kubeconfig)
	if err != nil {
		slog.Error("failed to build kubernetes config", "error", err)
		return exitAborted
	}
	kubeClient, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		slog.Error("failed to create kubernetes client", "error", err)
		return exitAborted
	}
	extClient, err := apiextclientset.NewForConfig(restCfg)
	if err != nil {
		slog.Error("failed to create apiextensions client", "error", err)
		return exitAborted
	}
	helmClient := helm.NewClient(cfg.Kubeconfig)

	if cfg.StatusPort > 0 {
		srv := health.NewServer(cfg.StatusPort, p.metrics, p)
		if err := srv.Start(); err != nil {
			slog.Error("failed to start status server", "error", err)
			return exitAborted
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Stop(shutdownCtx)
		}()
	}

	rep := model.Report{RunID: cfg.RunID, StartedAt: p.clock.Now()}
	defer func() {
		rep.FinishedAt = p.clock.Now()
		for _, e := range p.errs.Active() {
			rep.ScanErrors = append(rep.ScanErrors, e.Message)
		}
		if cfg.ReportFile != "" {
			if err := report.WriteFile(cfg.ReportFile, rep); err != nil {
				p.errs.Report(errors.RunError{
					Code:      errors.ErrReportWrite,
					Message:   err.Error(),
					Component: "report",
					Timestamp: p.clock.Now().UnixMilli(),
					Err:       err,
				})
				slog.Error("failed to write report file", "error", err)
			}
		}
	}()

	// Scan.
	p.stage.Store("scan")
	scanStart := p.clock.Now()
	scanner := inventory.NewScanner(kubeClient, extClient, helmClient, p.metrics, p.errs,
		p.clock, inventory.NewFilter(cfg.NamespaceFilter), cfg.ListPageSize)
	inv, err := scanner.Scan(ctx)
	if err != nil {
		p.errs.Report(errors.RunError{
			Code:      errors.ErrClusterUnreachable,
			Message:   err.Error(),
			Component: "inventory",
			Timestamp: p.clock.Now().UnixMilli(),
			Err:       err,
		})
		slog.Error("inventory scan failed", "error", err)
		return exitAborted
	}
	rep.Scanned = inv.Descriptors.Len()
	rep.Timings.ScanMillis = p.sinceMillis(scanStart, "scan")

	// Classify.
	p.stage.Store("classify")
	classifyStart := p.clock.Now()
	classifier := classify.New(registry, cfg.MinJobAge)
	verdicts := classifier.Inventory(inv)
	rep.Verdicts = countVerdicts(p.metrics, verdicts)
	rep.Timings.ClassifyMillis = p.sinceMillis(classifyStart, "classify")

	// Plan.
	p.stage.Store("plan")
	planStart := p.clock.Now()
	cleanupPlan := plan.Build(verdicts)
	rep.Plan = &cleanupPlan
	rep.Timings.PlanMillis = p.sinceMillis(planStart, "plan")
	p.planSize.Store(int64(len(cleanupPlan.Items)))

	switch mode {
	case modeCheck:
		report.WritePlan(os.Stdout, cleanupPlan)
		if cleanupPlan.Empty() && len(cleanupPlan.NeedsReview) == 0 {
			return exitOK
		}
		return exitIssuesFound

	case modePlan:
		report.WritePlan(os.Stdout, cleanupPlan)
		if cleanupPlan.Empty() {
			return exitOK
		}
		return exitIssuesFound
	}

	// Cleanup: report, gate, execute.
	report.WritePlan(os.Stdout, cleanupPlan)
	if cleanupPlan.Empty() {
		return exitOK
	}

	execMode := model.Live
	if cfg.DryRun {
		execMode = model.DryRun
	}

	if execMode == model.Live {
		gate := report.NewGate(os.Stdin, os.Stdout, cfg.NonInteractive)
		ok, err := gate.Confirm(len(cleanupPlan.Items))
		if err != nil {
			slog.Error("confirmation failed", "error", err)
			return exitAborted
		}
		if !ok {
			slog.Info("cancelled by user")
			return exitCancelled
		}
	}

	p.stage.Store("execute")
	execStart := p.clock.Now()
	cluster := engine.NewClusterClient(kubeClient, extClient, helmClient)
	eng := engine.New(cluster, engine.Options{
		Workers:          cfg.Workers,
		DeleteTimeout:    cfg.DeleteTimeout,
		NamespaceTimeout: cfg.NamespaceTimeout,
	}, p.metrics, p.errs, p.clock)

	result := eng.Execute(ctx, cleanupPlan, execMode)
	rep.Execution = &result
	rep.Timings.ExecuteMillis = p.sinceMillis(execStart, "execute")
	p.doneItems.Store(int64(len(result.Items)))

	p.stage.Store("report")
	report.WriteResult(os.Stdout, result)

	if result.FailureCount() > 0 || result.Outcome == model.AbortedPartial {
		return exitExecFailed
	}
	return exitOK
}

func (p *pipeline) sinceMillis(start time.Time, stage string) int64 {
	d := p.clock.Now().Sub(start)
	p.metrics.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
	return d.Milliseconds()
}

// loadBaseline loads the baseline file, or an empty registry (system
// namespaces only) when no file is configured.
func loadBaseline(cfg config.Config, clock errors.Clock) (*baseline.Registry, error) {
	if cfg.BaselinePath == "" {
		slog.Warn("no baseline file configured, only system namespaces are managed")
		return baseline.New(nil, nil, nil)
	}
	registry, err := baseline.Load(cfg.BaselinePath)
	if err != nil {
		return nil, &errors.RunError{
			Code:      errors.ErrBaselineInvalid,
			Message:   err.Error(),
			Component: "baseline",
			Timestamp: clock.Now().UnixMilli(),
			Err:       err,
		}
	}
	return registry, nil
}

func countVerdicts(metrics *observability.Metrics, verdicts []model.Classified) map[string]int {
	counts := make(map[string]int)
	for _, v := range verdicts {
		counts[string(v.Verdict.Ownership)]++
		metrics.VerdictsTotal.WithLabelValues(string(v.Verdict.Ownership), v.Verdict.Reason).Inc()
	}
	return counts
}

func modeName(mode runMode) string {
	switch mode {
	case modeCheck:
		return "check"
	case modePlan:
		return "plan"
	default:
		return "cleanup"
	}
}

// buildKubeConfig creates a Kubernetes REST config. It tries in-cluster
// config first, then falls back to the given kubeconfig path (or
// $KUBECONFIG, or the default ~/.kube/config).
func buildKubeConfig(kubeconfig string) (*rest.Config, error) {
	if cfg, err := rest.InClusterConfig(); err == nil {
		slog.Info("using in-cluster kubernetes config")
		return cfg, nil
	}

	if kubeconfig == "" {
		kubeconfig = os.Getenv("KUBECONFIG")
	}
	if kubeconfig == "" {
		kubeconfig = clientcmd.RecommendedHomeFile
	}

	cfg, err := clientcmd.BuildConfigFromFlags("", kubeconfig)
	if err != nil {
		return nil, err
	}
	slog.Info("using kubeconfig file", "path", kubeconfig)
	return cfg, nil
}
