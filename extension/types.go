// Package extension registers externally supplied collaborator types —
// task variants, custom mappers — so launchers can refer to them by
// name.
package extension

import (
	"github.com/viant/x"
)

// Types is the registry of extension types available to the runtime.
type Types struct {
	*x.Registry
}

// NewTypes creates a registry seeded with the given types.
func NewTypes(types ...*x.Type) *Types {
	ret := &Types{Registry: x.NewRegistry()}
	for _, t := range types {
		ret.Registry.Register(t)
	}
	return ret
}

// Register adds a type to the registry.
func (t *Types) Register(dataType *x.Type) {
	t.Registry.Register(dataType)
}

// Lookup returns a registered type by name, or nil.
func (t *Types) Lookup(name string) *x.Type {
	return t.Registry.Lookup(name)
}
