package engine

import (
	"context"
	"fmt"
	"time"

	corev1 "k8s.io/api/core/v1"
	apiextclientset "k8s.io/apiextensions-apiserver/pkg/client/clientset/clientset"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/kubernetes"
	"k8s.io/utils/ptr"

	"github.com/datalift/janitor/pkg/model"
)

// ReleaseUninstaller removes one package release, waiting up to timeout for
// its resources to go away. Implemented by the helm package.
type ReleaseUninstaller interface {
	UninstallRelease(ctx context.Context, name, namespace string, timeout time.Duration) error
}

// Cluster is the mutating capability surface the engine needs. The live
// implementation is ClusterClient; tests substitute fakes.
type Cluster interface {
	// Delete issues the delete call for a descriptor. Deleting an
	// already-absent resource is success, not an error.
	Delete(ctx context.Context, d model.Descriptor) error
	// WaitGone blocks until the resource is no longer present or the
	// context expires.
	WaitGone(ctx context.Context, d model.Descriptor) error
	// Phase re-reads the resource's current phase. An absent resource
	// yields a NotFound API error, which callers treat as deleted.
	Phase(ctx context.Context, d model.Descriptor) (model.Phase, error)
	// ClearFinalizers removes the resource's finalizer list so a wedged
	// deletion can complete.
	ClearFinalizers(ctx context.Context, d model.Descriptor) error
}

// ClusterClient implements Cluster over the typed Kubernetes clientsets and
// the package manager.
type ClusterClient struct {
	kube         kubernetes.Interface
	ext          apiextclientset.Interface
	releases     ReleaseUninstaller
	pollInterval time.Duration
}

// NewClusterClient creates a ClusterClient. ext and releases may be nil
// when the corresponding kinds cannot occur in a plan.
func NewClusterClient(kube kubernetes.Interface, ext apiextclientset.Interface, releases ReleaseUninstaller) *ClusterClient {
	return &ClusterClient{
		kube:         kube,
		ext:          ext,
		releases:     releases,
		pollInterval: 500 * time.Millisecond,
	}
}

// ignoreNotFound maps IsNotFound to success: the resource being gone is the
// desired end state.
func ignoreNotFound(err error) error {
	if err == nil || apierrors.IsNotFound(err) {
		return nil
	}
	return err
}

// Delete implements Cluster.
func (c *ClusterClient) Delete(ctx context.Context, d model.Descriptor) error {
	opts := metav1.DeleteOptions{
		PropagationPolicy: ptr.To(metav1.DeletePropagationBackground),
	}
	switch d.Kind {
	case model.KindNamespace:
		return ignoreNotFound(c.kube.CoreV1().Namespaces().Delete(ctx, d.Name, opts))
	case model.KindPod:
		return ignoreNotFound(c.kube.CoreV1().Pods(d.Namespace).Delete(ctx, d.Name, opts))
	case model.KindJob:
		return ignoreNotFound(c.kube.BatchV1().Jobs(d.Namespace).Delete(ctx, d.Name, opts))
	case model.KindPVC:
		return ignoreNotFound(c.kube.CoreV1().PersistentVolumeClaims(d.Namespace).Delete(ctx, d.Name, opts))
	case model.KindConfigMap:
		return ignoreNotFound(c.kube.CoreV1().ConfigMaps(d.Namespace).Delete(ctx, d.Name, opts))
	case model.KindSecret:
		return ignoreNotFound(c.kube.CoreV1().Secrets(d.Namespace).Delete(ctx, d.Name, opts))
	case model.KindCRD:
		if c.ext == nil {
			return fmt.Errorf("no apiextensions client configured")
		}
		return ignoreNotFound(c.ext.ApiextensionsV1().CustomResourceDefinitions().Delete(ctx, d.Name, opts))
	case model.KindRelease:
		if c.releases == nil {
			return fmt.Errorf("no package manager client configured")
		}
		timeout := time.Minute
		if deadline, ok := ctx.Deadline(); ok {
			timeout = time.Until(deadline)
		}
		return c.releases.UninstallRelease(ctx, d.Name, d.Namespace, timeout)
	default:
		return fmt.Errorf("unsupported kind %q", d.Kind)
	}
}

// WaitGone implements Cluster.
func (c *ClusterClient) WaitGone(ctx context.Context, d model.Descriptor) error {
	// Helm's uninstall already waits; there is nothing to poll.
	if d.Kind == model.KindRelease {
		return nil
	}
	return wait.PollUntilContextCancel(ctx, c.pollInterval, true, func(ctx context.Context) (bool, error) {
		_, err := c.get(ctx, d)
		if apierrors.IsNotFound(err) {
			return true, nil
		}
		// Transient read errors keep polling until the deadline.
		return false, nil
	})
}

// Phase implements Cluster.
func (c *ClusterClient) Phase(ctx context.Context, d model.Descriptor) (model.Phase, error) {
	obj, err := c.get(ctx, d)
	if err != nil {
		return model.PhaseUnknown, err
	}
	if ns, ok := obj.(*corev1.Namespace); ok && ns.Status.Phase == corev1.NamespaceTerminating {
		return model.PhaseTerminating, nil
	}
	return model.PhaseActive, nil
}

// ClearFinalizers implements Cluster. Namespaces use the finalize
// subresource; everything else gets a metadata merge patch.
func (c *ClusterClient) ClearFinalizers(ctx context.Context, d model.Descriptor) error {
	if d.Kind == model.KindNamespace {
		ns, err := c.kube.CoreV1().Namespaces().Get(ctx, d.Name, metav1.GetOptions{})
		if err != nil {
			return ignoreNotFound(err)
		}
		ns.Spec.Finalizers = nil
		ns.ObjectMeta.Finalizers = nil
		_, err = c.kube.CoreV1().Namespaces().Finalize(ctx, ns, metav1.UpdateOptions{})
		return ignoreNotFound(err)
	}
	return fmt.Errorf("finalizer recovery not supported for kind %q", d.Kind)
}

func (c *ClusterClient) get(ctx context.Context, d model.Descriptor) (interface{}, error) {
	switch d.Kind {
	case model.KindNamespace:
		return c.kube.CoreV1().Namespaces().Get(ctx, d.Name, metav1.GetOptions{})
	case model.KindPod:
		return c.kube.CoreV1().Pods(d.Namespace).Get(ctx, d.Name, metav1.GetOptions{})
	case model.KindJob:
		return c.kube.BatchV1().Jobs(d.Namespace).Get(ctx, d.Name, metav1.GetOptions{})
	case model.KindPVC:
		return c.kube.CoreV1().PersistentVolumeClaims(d.Namespace).Get(ctx, d.Name, metav1.GetOptions{})
	case model.KindConfigMap:
		return c.kube.CoreV1().ConfigMaps(d.Namespace).Get(ctx, d.Name, metav1.GetOptions{})
	case model.KindSecret:
		return c.kube.CoreV1().Secrets(d.Namespace).Get(ctx, d.Name, metav1.GetOptions{})
	case model.KindCRD:
		if c.ext == nil {
			return nil, apierrors.NewNotFound(schema.GroupResource{Group: "apiextensions.k8s.io", Resource: "customresourcedefinitions"}, d.Name)
		}
		return c.ext.ApiextensionsV1().CustomResourceDefinitions().Get(ctx, d.Name, metav1.GetOptions{})
	default:
		return nil, fmt.Errorf("unsupported kind %q", d.Kind)
	}
}
