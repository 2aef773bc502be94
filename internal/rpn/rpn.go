// Package rpn implements the Selva RPN expression engine (spec.md §4.7):
// a small stack-based postfix language used by filters, traversal
// expressions, and edge filters.
//
// Grounded on original_source/server/modules/selva/module/rpn.{c,h}: the
// same register bank, operand-prefix grammar (@/$/&/#), and single-letter
// operator table, re-expressed idiomatically — a Go []Value operand
// stack and switch-dispatched operators instead of a fixed-size C array
// and a function-pointer table indexed by byte value.
package rpn

import (
	"github.com/selvadb/selva/internal/object"
	"github.com/selvadb/selva/internal/selvaerr"
)

// NodeID mirrors hierarchy.NodeID's byte layout without importing the
// hierarchy package, which would create an import cycle (hierarchy
// compiles RPN programs and evaluates them against its own nodes).
type NodeID [10]byte

// Kind tags an operand/result Value.
type Kind uint8

const (
	KindDouble Kind = iota
	KindString
	KindSet
	KindNodeID
)

// Value is the RPN engine's runtime operand/result type.
type Value struct {
	Kind Kind
	Num  float64
	Str  string
	Set  *object.Set
	ID   NodeID
}

func Double(v float64) Value { return Value{Kind: KindDouble, Num: v} }
func Str(v string) Value     { return Value{Kind: KindString, Str: v} }
func SetVal(v *object.Set) Value { return Value{Kind: KindSet, Set: v} }
func IDVal(v NodeID) Value   { return Value{Kind: KindNodeID, ID: v} }

func (v Value) Bool() bool {
	switch v.Kind {
	case KindDouble:
		return v.Num != 0
	case KindString:
		return v.Str != ""
	case KindSet:
		return v.Set != nil && v.Set.Len() > 0
	default:
		return true
	}
}

// Context is the evaluation environment for one RPN run (spec.md §4.7:
// "rpn_ctx"). Regs holds caller-populated registers; Object and ID are
// the "current node" the field-access and id-comparison operators read.
// When Object is nil, the field-access operators fail with RPN_NPE.
type Context struct {
	Regs   []Value
	Object *object.Object
	ID     NodeID
}

func (c *Context) reg(i int) (Value, error) {
	if i < 0 || i >= len(c.Regs) {
		return Value{}, selvaerr.New(selvaerr.RPNBNDS, "register %d out of bounds", i)
	}
	return c.Regs[i], nil
}
