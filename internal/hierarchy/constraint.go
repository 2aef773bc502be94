package hierarchy

// Constraint governs an edge field's arity and bidirectionality
// (spec.md §3). Two built-ins are always registered; the rest are
// dynamic, keyed by (source type, forward field name).
type Constraint struct {
	Name           string
	SingleRef      bool
	Bidirectional  bool
	Dynamic        bool
	BackFieldName  string // only meaningful when Bidirectional
}

// Built-in constraint names (spec.md §3).
const (
	ConstraintDefault   = "default"
	ConstraintSingleRef = "single_ref"
)

func builtinConstraints() map[string]*Constraint {
	return map[string]*Constraint{
		ConstraintDefault:   {Name: ConstraintDefault},
		ConstraintSingleRef: {Name: ConstraintSingleRef, SingleRef: true},
	}
}

// constraintKey identifies a dynamic constraint registration.
type constraintKey struct {
	SourceType     [2]byte
	ForwardField   string
}

// ConstraintRegistry is the edge-field constraint registry spec.md §3
// attaches to Hierarchy: "edge-field constraint registry (name→constraint
// spec...)".
type ConstraintRegistry struct {
	builtin map[string]*Constraint
	dynamic map[constraintKey]*Constraint
}

func newConstraintRegistry() *ConstraintRegistry {
	return &ConstraintRegistry{
		builtin: builtinConstraints(),
		dynamic: make(map[constraintKey]*Constraint),
	}
}

// Register adds (or replaces) a dynamic constraint for
// (sourceType, forwardField).
func (r *ConstraintRegistry) Register(sourceType [2]byte, forwardField string, c *Constraint) {
	c.Dynamic = true
	r.dynamic[constraintKey{sourceType, forwardField}] = c
}

// Lookup resolves the governing constraint for (sourceType, fieldName),
// falling back to the "default" built-in when no dynamic registration
// exists, matching spec.md: "Either one of two built-ins... or a dynamic
// one registered by (source_type, forward_field_name)."
func (r *ConstraintRegistry) Lookup(sourceType [2]byte, fieldName string) *Constraint {
	if c, ok := r.dynamic[constraintKey{sourceType, fieldName}]; ok {
		return c
	}
	return r.builtin[ConstraintDefault]
}
