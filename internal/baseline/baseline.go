// Package baseline holds the static, declared description of what the
// platform expects to exist. The registry is loaded once at process start
// and is immutable for the lifetime of the run; membership in it is the
// sole authority for "managed" status.
package baseline

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v2"
)

// systemNamespaces are the orchestrator's own reserved namespaces. They are
// always managed, independent of the loaded configuration.
var systemNamespaces = []string{
	"default",
	"kube-system",
	"kube-public",
	"kube-node-lease",
}

// file is the on-disk YAML shape of a baseline configuration.
type file struct {
	ManagedNamespaces  []string `yaml:"managedNamespaces"`
	ManagedReleases    []string `yaml:"managedReleases"`
	ManagedCRDPatterns []string `yaml:"managedCRDPatterns"`
}

// Registry is the compiled, immutable baseline. Construct it with Load or
// New; the zero value is not usable.
type Registry struct {
	namespaces map[string]struct{}
	releases   map[string]struct{}
	crdExact   map[string]struct{}
	crdPrefix  []string
	crdSuffix  []string
	crdContain []string
}

// Load reads a baseline YAML file and compiles it into a Registry.
func Load(path string) (*Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("baseline: read %s: %w", path, err)
	}

	var f file
	if err := yaml.UnmarshalStrict(raw, &f); err != nil {
		return nil, fmt.Errorf("baseline: parse %s: %w", path, err)
	}
	return New(f.ManagedNamespaces, f.ManagedReleases, f.ManagedCRDPatterns)
}

// New compiles a Registry from the three managed-identifier lists.
// Empty or duplicate identifiers fail construction: a registry is never
// partially initialized.
func New(namespaces, releases, crdPatterns []string) (*Registry, error) {
	r := &Registry{
		namespaces: make(map[string]struct{}),
		releases:   make(map[string]struct{}),
		crdExact:   make(map[string]struct{}),
	}

	for _, ns := range systemNamespaces {
		r.namespaces[ns] = struct{}{}
	}
	for _, ns := range namespaces {
		if err := addIdentifier(r.namespaces, ns, "managedNamespaces"); err != nil {
			return nil, err
		}
	}
	for _, rel := range releases {
		if err := addIdentifier(r.releases, rel, "managedReleases"); err != nil {
			return nil, err
		}
	}

	seen := make(map[string]struct{})
	for _, p := range crdPatterns {
		p = strings.TrimSpace(p)
		if p == "" {
			return nil, fmt.Errorf("baseline: empty identifier in managedCRDPatterns")
		}
		if _, dup := seen[p]; dup {
			return nil, fmt.Errorf("baseline: duplicate identifier %q in managedCRDPatterns", p)
		}
		seen[p] = struct{}{}

		// A pattern is compiled once into one of four matcher classes:
		// "foo*" prefix, "*foo" suffix, "*foo*" substring, otherwise exact.
		switch {
		case strings.HasPrefix(p, "*") && strings.HasSuffix(p, "*") && len(p) > 2:
			r.crdContain = append(r.crdContain, p[1:len(p)-1])
		case strings.HasSuffix(p, "*"):
			r.crdPrefix = append(r.crdPrefix, p[:len(p)-1])
		case strings.HasPrefix(p, "*"):
			r.crdSuffix = append(r.crdSuffix, p[1:])
		default:
			r.crdExact[p] = struct{}{}
		}
	}

	return r, nil
}

func addIdentifier(set map[string]struct{}, v, field string) error {
	v = strings.TrimSpace(v)
	if v == "" {
		return fmt.Errorf("baseline: empty identifier in %s", field)
	}
	if _, dup := set[v]; dup {
		return fmt.Errorf("baseline: duplicate identifier %q in %s", v, field)
	}
	set[v] = struct{}{}
	return nil
}

// IsSystemNamespace reports whether the namespace is reserved by the
// orchestrator itself.
func (r *Registry) IsSystemNamespace(name string) bool {
	for _, ns := range systemNamespaces {
		if name == ns {
			return true
		}
	}
	return strings.HasPrefix(name, "kube-")
}

// IsManagedNamespace reports whether the namespace belongs to the declared
// platform baseline (system namespaces included).
func (r *Registry) IsManagedNamespace(name string) bool {
	_, ok := r.namespaces[name]
	return ok || r.IsSystemNamespace(name)
}

// IsManagedRelease reports whether the package release is expected to exist.
func (r *Registry) IsManagedRelease(name string) bool {
	_, ok := r.releases[name]
	return ok
}

// MatchesManagedCRDPattern reports whether a CRD name matches any compiled
// managed pattern.
func (r *Registry) MatchesManagedCRDPattern(name string) bool {
	if _, ok := r.crdExact[name]; ok {
		return true
	}
	for _, p := range r.crdPrefix {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	for _, s := range r.crdSuffix {
		if strings.HasSuffix(name, s) {
			return true
		}
	}
	for _, c := range r.crdContain {
		if strings.Contains(name, c) {
			return true
		}
	}
	return false
}
