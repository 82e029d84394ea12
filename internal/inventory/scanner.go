// Package inventory queries the cluster for every object of interest and
// produces the flat descriptor set the classifier works from. The scan is
// read-only and failure-tolerant: a kind that cannot be listed is logged,
// reported, and treated as empty, and only a total failure (the namespace
// listing itself) aborts the run.
package inventory

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	corev1 "k8s.io/api/core/v1"
	apiextclientset "k8s.io/apiextensions-apiserver/pkg/client/clientset/clientset"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/datalift/janitor/internal/errors"
	"github.com/datalift/janitor/internal/observability"
	"github.com/datalift/janitor/internal/store"
	"github.com/datalift/janitor/pkg/model"
)

// Release is one installed package release as reported by the package
// manager.
type Release struct {
	Name      string
	Namespace string
	Chart     string
	Status    string
	Updated   time.Time
}

// ReleaseLister lists installed package releases. Implemented by the helm
// package for live clusters and by fakes in tests.
type ReleaseLister interface {
	ListReleases(ctx context.Context) ([]Release, error)
}

// Scanner inventories a running cluster into descriptors.
type Scanner struct {
	kube     kubernetes.Interface
	ext      apiextclientset.Interface
	releases ReleaseLister
	metrics  *observability.Metrics
	errs     *errors.Collector
	clock    errors.Clock
	filter   *Filter
	pageSize int64
}

// NewScanner creates a Scanner. ext and releases may be nil when the
// cluster has no CRD support or no package manager; the corresponding kinds
// then scan as empty.
func NewScanner(
	kube kubernetes.Interface,
	ext apiextclientset.Interface,
	releases ReleaseLister,
	metrics *observability.Metrics,
	errs *errors.Collector,
	clock errors.Clock,
	filter *Filter,
	pageSize int64,
) *Scanner {
	return &Scanner{
		kube:     kube,
		ext:      ext,
		releases: releases,
		metrics:  metrics,
		errs:     errs,
		clock:    clock,
		filter:   filter,
		pageSize: pageSize,
	}
}

// Scan lists all kinds and returns the populated inventory. The returned
// error is non-nil only when the scan failed entirely.
func (s *Scanner) Scan(ctx context.Context) (*store.Inventory, error) {
	inv := store.NewInventory()

	// Namespaces anchor everything else; if they cannot be listed the
	// cluster is effectively unreachable and the run aborts.
	nsCount, err := s.scanNamespaces(ctx, inv)
	if err != nil {
		return nil, fmt.Errorf("inventory: list namespaces: %w", err)
	}

	counts := map[model.Kind]int{model.KindNamespace: nsCount}
	scanners := []struct {
		kind model.Kind
		fn   func(context.Context, *store.Inventory) (int, error)
	}{
		{model.KindPod, s.scanPods},
		{model.KindJob, s.scanJobs},
		{model.KindPVC, s.scanPVCs},
		{model.KindConfigMap, s.scanConfigMaps},
		{model.KindSecret, s.scanSecrets},
		{model.KindCRD, s.scanCRDs},
		{model.KindRelease, s.scanReleases},
	}
	for _, sc := range scanners {
		n, err := sc.fn(ctx, inv)
		if err != nil {
			s.tolerate(sc.kind, err)
			continue
		}
		counts[sc.kind] = n
		s.metrics.ResourcesScanned.WithLabelValues(string(sc.kind)).Set(float64(n))
	}

	// Workload kinds outside the cleanup set still count toward namespace
	// occupancy, so an "empty" verdict is not fooled by a Deployment.
	s.countOccupants(ctx, inv)

	slog.Info("scan complete",
		"descriptors", inv.Descriptors.Len(),
		"namespaces", counts[model.KindNamespace],
		"pods", counts[model.KindPod],
		"jobs", counts[model.KindJob],
		"releases", counts[model.KindRelease],
	)
	return inv, nil
}

// tolerate records a per-kind listing failure without failing the scan.
func (s *Scanner) tolerate(kind model.Kind, err error) {
	slog.Warn("kind unavailable, treating as empty", "kind", kind, "error", err)
	s.metrics.ScanErrorsTotal.WithLabelValues(string(kind)).Inc()
	s.errs.Report(errors.RunError{
		Code:      errors.ErrScanPartial,
		Message:   fmt.Sprintf("list %s: %v", kind, err),
		Component: "inventory",
		Timestamp: s.clock.Now().UnixMilli(),
		Err:       err,
	})
}

func (s *Scanner) age(created metav1.Time) int64 {
	if created.IsZero() {
		return 0
	}
	return int64(s.clock.Now().Sub(created.Time).Seconds())
}

func (s *Scanner) scanNamespaces(ctx context.Context, inv *store.Inventory) (int, error) {
	list, err := s.kube.CoreV1().Namespaces().List(ctx, metav1.ListOptions{})
	if err != nil {
		return 0, err
	}
	n := 0
	for _, ns := range list.Items {
		if !s.filter.Matches(ns.Name) {
			continue
		}
		phase := model.PhaseActive
		if ns.Status.Phase == corev1.NamespaceTerminating {
			phase = model.PhaseTerminating
		}
		inv.Add(model.Descriptor{
			Kind:       model.KindNamespace,
			Name:       ns.Name,
			Labels:     ns.Labels,
			Phase:      phase,
			AgeSeconds: s.age(ns.CreationTimestamp),
		})
		n++
	}
	s.metrics.ResourcesScanned.WithLabelValues(string(model.KindNamespace)).Set(float64(n))
	return n, nil
}

func (s *Scanner) scanPods(ctx context.Context, inv *store.Inventory) (int, error) {
	n := 0
	err := s.paged(ctx, func(opts metav1.ListOptions) (string, error) {
		list, err := s.kube.CoreV1().Pods(metav1.NamespaceAll).List(ctx, opts)
		if err != nil {
			return "", err
		}
		for _, pod := range list.Items {
			if !s.filter.Matches(pod.Namespace) {
				continue
			}
			inv.Add(model.Descriptor{
				Kind:       model.KindPod,
				Namespace:  pod.Namespace,
				Name:       pod.Name,
				Labels:     pod.Labels,
				Phase:      podPhase(&pod),
				AgeSeconds: s.age(pod.CreationTimestamp),
			})
			n++
		}
		return list.Continue, nil
	})
	return n, err
}

func (s *Scanner) scanJobs(ctx context.Context, inv *store.Inventory) (int, error) {
	n := 0
	err := s.paged(ctx, func(opts metav1.ListOptions) (string, error) {
		list, err := s.kube.BatchV1().Jobs(metav1.NamespaceAll).List(ctx, opts)
		if err != nil {
			return "", err
		}
		for _, job := range list.Items {
			if !s.filter.Matches(job.Namespace) {
				continue
			}
			phase := model.PhaseActive
			for _, cond := range job.Status.Conditions {
				if cond.Status != corev1.ConditionTrue {
					continue
				}
				switch cond.Type {
				case "Complete":
					phase = model.PhaseSucceeded
				case "Failed":
					phase = model.PhaseFailed
				}
			}
			inv.Add(model.Descriptor{
				Kind:       model.KindJob,
				Namespace:  job.Namespace,
				Name:       job.Name,
				Labels:     job.Labels,
				Phase:      phase,
				AgeSeconds: s.age(job.CreationTimestamp),
			})
			n++
		}
		return list.Continue, nil
	})
	return n, err
}

func (s *Scanner) scanPVCs(ctx context.Context, inv *store.Inventory) (int, error) {
	list, err := s.kube.CoreV1().PersistentVolumeClaims(metav1.NamespaceAll).List(ctx, metav1.ListOptions{})
	if err != nil {
		return 0, err
	}
	n := 0
	for _, pvc := range list.Items {
		if !s.filter.Matches(pvc.Namespace) {
			continue
		}
		var phase model.Phase
		switch pvc.Status.Phase {
		case corev1.ClaimBound:
			phase = model.PhaseBound
		case corev1.ClaimPending:
			phase = model.PhasePending
		default:
			phase = model.PhaseUnknown
		}
		inv.Add(model.Descriptor{
			Kind:       model.KindPVC,
			Namespace:  pvc.Namespace,
			Name:       pvc.Name,
			Labels:     pvc.Labels,
			Phase:      phase,
			AgeSeconds: s.age(pvc.CreationTimestamp),
		})
		n++
	}
	return n, nil
}

func (s *Scanner) scanConfigMaps(ctx context.Context, inv *store.Inventory) (int, error) {
	n := 0
	err := s.paged(ctx, func(opts metav1.ListOptions) (string, error) {
		list, err := s.kube.CoreV1().ConfigMaps(metav1.NamespaceAll).List(ctx, opts)
		if err != nil {
			return "", err
		}
		for _, cm := range list.Items {
			if !s.filter.Matches(cm.Namespace) {
				continue
			}
			inv.Add(model.Descriptor{
				Kind:       model.KindConfigMap,
				Namespace:  cm.Namespace,
				Name:       cm.Name,
				Labels:     cm.Labels,
				Phase:      model.PhaseActive,
				AgeSeconds: s.age(cm.CreationTimestamp),
			})
			n++
		}
		return list.Continue, nil
	})
	return n, err
}

func (s *Scanner) scanSecrets(ctx context.Context, inv *store.Inventory) (int, error) {
	n := 0
	err := s.paged(ctx, func(opts metav1.ListOptions) (string, error) {
		list, err := s.kube.CoreV1().Secrets(metav1.NamespaceAll).List(ctx, opts)
		if err != nil {
			return "", err
		}
		for _, sec := range list.Items {
			if !s.filter.Matches(sec.Namespace) {
				continue
			}
			inv.Add(model.Descriptor{
				Kind:       model.KindSecret,
				Namespace:  sec.Namespace,
				Name:       sec.Name,
				Labels:     sec.Labels,
				Phase:      model.PhaseActive,
				AgeSeconds: s.age(sec.CreationTimestamp),
			})
			n++
		}
		return list.Continue, nil
	})
	return n, err
}

func (s *Scanner) scanCRDs(ctx context.Context, inv *store.Inventory) (int, error) {
	if s.ext == nil {
		return 0, nil
	}
	list, err := s.ext.ApiextensionsV1().CustomResourceDefinitions().List(ctx, metav1.ListOptions{})
	if err != nil {
		return 0, err
	}
	n := 0
	for _, crd := range list.Items {
		phase := model.PhaseActive
		if crd.DeletionTimestamp != nil {
			phase = model.PhaseTerminating
		}
		inv.Add(model.Descriptor{
			Kind:       model.KindCRD,
			Name:       crd.Name,
			Labels:     crd.Labels,
			Phase:      phase,
			OwnerHints: model.OwnerHints{CRDGroup: crd.Spec.Group},
			AgeSeconds: s.age(crd.CreationTimestamp),
		})
		n++
	}
	return n, nil
}

func (s *Scanner) scanReleases(ctx context.Context, inv *store.Inventory) (int, error) {
	if s.releases == nil {
		return 0, nil
	}
	rels, err := s.releases.ListReleases(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, rel := range rels {
		if !s.filter.Matches(rel.Namespace) {
			continue
		}
		phase := model.PhaseActive
		switch rel.Status {
		case "failed":
			phase = model.PhaseFailed
		case "pending-install", "pending-upgrade", "pending-rollback":
			phase = model.PhasePending
		case "uninstalling":
			phase = model.PhaseTerminating
		}
		age := int64(0)
		if !rel.Updated.IsZero() {
			age = int64(s.clock.Now().Sub(rel.Updated).Seconds())
		}
		inv.Add(model.Descriptor{
			Kind:       model.KindRelease,
			Namespace:  rel.Namespace,
			Name:       rel.Name,
			Phase:      phase,
			OwnerHints: model.OwnerHints{ReleaseChart: rel.Chart},
			AgeSeconds: age,
		})
		n++
	}
	return n, nil
}

// countOccupants bumps namespace child counts for workload kinds that are
// never cleanup candidates themselves. Failures here are tolerated the same
// way as primary kinds; an uncounted Deployment can only make the
// classifier more conservative, never less.
func (s *Scanner) countOccupants(ctx context.Context, inv *store.Inventory) {
	bump := func(namespace string) {
		if !s.filter.Matches(namespace) {
			return
		}
		n := inv.ChildCount(namespace)
		inv.ChildCounts.Set(namespace, n+1)
	}

	if list, err := s.kube.AppsV1().Deployments(metav1.NamespaceAll).List(ctx, metav1.ListOptions{}); err != nil {
		s.tolerate("Deployment", err)
	} else {
		for _, d := range list.Items {
			bump(d.Namespace)
		}
	}
	if list, err := s.kube.AppsV1().StatefulSets(metav1.NamespaceAll).List(ctx, metav1.ListOptions{}); err != nil {
		s.tolerate("StatefulSet", err)
	} else {
		for _, ss := range list.Items {
			bump(ss.Namespace)
		}
	}
	if list, err := s.kube.AppsV1().DaemonSets(metav1.NamespaceAll).List(ctx, metav1.ListOptions{}); err != nil {
		s.tolerate("DaemonSet", err)
	} else {
		for _, ds := range list.Items {
			bump(ds.Namespace)
		}
	}
	if list, err := s.kube.CoreV1().Services(metav1.NamespaceAll).List(ctx, metav1.ListOptions{}); err != nil {
		s.tolerate("Service", err)
	} else {
		for _, svc := range list.Items {
			// The API server's own Service would make the default
			// namespace look occupied on every cluster.
			if svc.Namespace == "default" && svc.Name == "kubernetes" {
				continue
			}
			bump(svc.Namespace)
		}
	}
}

// paged drives a limit/continue list loop until the server stops returning
// a continue token.
func (s *Scanner) paged(ctx context.Context, page func(metav1.ListOptions) (string, error)) error {
	opts := metav1.ListOptions{Limit: s.pageSize}
	for {
		cont, err := page(opts)
		if err != nil {
			return err
		}
		if cont == "" {
			return nil
		}
		opts.Continue = cont
	}
}

// podPhase maps a Pod's status to the janitor phase enum. A pod stuck
// deleting reports Terminating regardless of its container states.
func podPhase(pod *corev1.Pod) model.Phase {
	if pod.DeletionTimestamp != nil {
		return model.PhaseTerminating
	}
	switch pod.Status.Phase {
	case corev1.PodSucceeded:
		return model.PhaseSucceeded
	case corev1.PodFailed:
		return model.PhaseFailed
	case corev1.PodPending:
		return model.PhasePending
	case corev1.PodRunning:
		return model.PhaseActive
	default:
		return model.PhaseUnknown
	}
}
