// Package helm wraps the Helm SDK behind the small interfaces the scanner
// and execution engine consume, so the rest of the pipeline never touches
// helm types directly and tests run against fakes.
package helm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"helm.sh/helm/v3/pkg/action"
	"helm.sh/helm/v3/pkg/cli"
	"helm.sh/helm/v3/pkg/release"
	"helm.sh/helm/v3/pkg/storage/driver"
	"k8s.io/cli-runtime/pkg/genericclioptions"

	"github.com/datalift/janitor/internal/inventory"
)

// Client performs Helm release operations against one cluster.
type Client struct {
	settings *cli.EnvSettings
}

// NewClient creates a Client. An empty kubeconfig path falls back to the
// standard resolution order (in-cluster, $KUBECONFIG, ~/.kube/config).
func NewClient(kubeconfig string) *Client {
	settings := cli.New()
	if kubeconfig != "" {
		settings.KubeConfig = kubeconfig
	}
	return &Client{settings: settings}
}

// ListReleases lists all releases across all namespaces, including failed
// and pending ones. Implements inventory.ReleaseLister.
func (c *Client) ListReleases(_ context.Context) ([]inventory.Release, error) {
	cfg, err := c.actionConfig("")
	if err != nil {
		return nil, err
	}

	list := action.NewList(cfg)
	list.AllNamespaces = true
	list.All = true

	results, err := list.Run()
	if err != nil {
		return nil, fmt.Errorf("helm: list releases: %w", err)
	}
	return convert(results), nil
}

// UninstallRelease removes a release and waits up to timeout for its
// resources to be deleted. A release that is already gone is success, the
// same as every Kubernetes kind. Implements the engine's ReleaseUninstaller.
func (c *Client) UninstallRelease(_ context.Context, name, namespace string, timeout time.Duration) error {
	cfg, err := c.actionConfig(namespace)
	if err != nil {
		return err
	}

	uninstall := action.NewUninstall(cfg)
	uninstall.Wait = true
	uninstall.Timeout = timeout

	if _, err := uninstall.Run(name); err != nil {
		if releaseAbsent(err) {
			return nil
		}
		return fmt.Errorf("helm: uninstall %s/%s: %w", namespace, name, err)
	}
	return nil
}

// releaseAbsent reports whether an uninstall error means the release was
// already removed from the storage backend.
func releaseAbsent(err error) bool {
	return errors.Is(err, driver.ErrReleaseNotFound)
}

// actionConfig initializes a Helm action configuration scoped to one
// namespace (empty for the settings default).
func (c *Client) actionConfig(namespace string) (*action.Configuration, error) {
	cfg := new(action.Configuration)
	if namespace == "" {
		namespace = c.settings.Namespace()
	}

	flags := &genericclioptions.ConfigFlags{
		Namespace:  &namespace,
		KubeConfig: &c.settings.KubeConfig,
	}

	logf := func(format string, args ...interface{}) {
		slog.Debug(fmt.Sprintf(format, args...), "component", "helm")
	}
	if err := cfg.Init(flags, namespace, "secret", logf); err != nil {
		return nil, fmt.Errorf("helm: init action config: %w", err)
	}
	return cfg, nil
}

func convert(releases []*release.Release) []inventory.Release {
	out := make([]inventory.Release, 0, len(releases))
	for _, rel := range releases {
		chart := ""
		if rel.Chart != nil && rel.Chart.Metadata != nil {
			chart = rel.Chart.Metadata.Name
		}
		status := ""
		updated := time.Time{}
		if rel.Info != nil {
			status = rel.Info.Status.String()
			updated = rel.Info.LastDeployed.Time
		}
		out = append(out, inventory.Release{
			Name:      rel.Name,
			Namespace: rel.Namespace,
			Chart:     chart,
			Status:    status,
			Updated:   updated,
		})
	}
	return out
}
