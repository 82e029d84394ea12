package store

import "github.com/datalift/janitor/pkg/model"

// Inventory is the composite store the scanner fills during a scan pass.
// Descriptors are keyed by model.Descriptor.Key(). ChildCounts tracks the
// number of child objects seen per namespace, which the classifier needs
// for the namespace-emptiness rules.
type Inventory struct {
	Descriptors *TypedStore[model.Descriptor]
	ChildCounts *TypedStore[int]
}

// NewInventory creates an empty Inventory.
func NewInventory() *Inventory {
	return &Inventory{
		Descriptors: NewTypedStore[model.Descriptor](),
		ChildCounts: NewTypedStore[int](),
	}
}

// Add records a descriptor and, for namespaced kinds, bumps the owning
// namespace's child count. The kube-root-ca.crt ConfigMap is excluded from
// the count: the API server projects one into every namespace, so it would
// make every namespace look occupied.
func (inv *Inventory) Add(d model.Descriptor) {
	inv.Descriptors.Set(d.Key(), d)
	if d.Kind == model.KindConfigMap && d.Name == "kube-root-ca.crt" {
		return
	}
	if d.Kind.Namespaced() && d.Namespace != "" {
		n, _ := inv.ChildCounts.Get(d.Namespace)
		inv.ChildCounts.Set(d.Namespace, n+1)
	}
}

// ChildCount returns the number of child objects observed in a namespace.
func (inv *Inventory) ChildCount(namespace string) int {
	n, _ := inv.ChildCounts.Get(namespace)
	return n
}
