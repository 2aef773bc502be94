package rpn

import (
	"github.com/selvadb/selva/internal/object"
	"github.com/selvadb/selva/internal/selvaerr"
)

// RPNMaxDepth is RPN_MAX_D (spec.md §4.7): the fixed operand stack
// depth.
const RPNMaxDepth = 64

type machine struct {
	stack []Value
	ctx   *Context
	prog  *Program
}

func (m *machine) push(v Value) error {
	if len(m.stack) >= RPNMaxDepth {
		return selvaerr.New(selvaerr.RPNBADSTK, "operand stack overflow")
	}
	m.stack = append(m.stack, v)
	return nil
}

func (m *machine) pop() (Value, error) {
	if len(m.stack) == 0 {
		return Value{}, selvaerr.New(selvaerr.RPNBADSTK, "operand stack underflow")
	}
	v := m.stack[len(m.stack)-1]
	m.stack = m.stack[:len(m.stack)-1]
	return v, nil
}

func (m *machine) popDouble() (float64, error) {
	v, err := m.pop()
	if err != nil {
		return 0, err
	}
	if v.Kind != KindDouble {
		return 0, selvaerr.New(selvaerr.RPNTYPE, "expected a double operand")
	}
	return v.Num, nil
}

func (m *machine) popString() (string, error) {
	v, err := m.pop()
	if err != nil {
		return "", err
	}
	if v.Kind != KindString {
		return "", selvaerr.New(selvaerr.RPNTYPE, "expected a string operand")
	}
	return v.Str, nil
}

func (m *machine) popSet() (*Value, error) {
	v, err := m.pop()
	if err != nil {
		return nil, err
	}
	if v.Kind != KindSet {
		return nil, selvaerr.New(selvaerr.RPNTYPE, "expected a set operand")
	}
	return &v, nil
}

// run executes prog against ctx and returns the final top-of-stack
// Value. A modal operator (P/Q) that short-circuits ends execution early
// via selvaerr.Break(), which run treats as success, not failure (spec.md
// §4.7: "the internal non-error sentinel BREAK").
func run(prog *Program, ctx *Context) (Value, error) {
	m := &machine{ctx: ctx, prog: prog}
	for _, t := range prog.tokens {
		switch t.kind {
		case tokRegDouble:
			v, err := ctx.reg(t.idx)
			if err != nil {
				return Value{}, err
			}
			if err := m.push(Double(v.Num)); err != nil {
				return Value{}, err
			}
		case tokRegString:
			v, err := ctx.reg(t.idx)
			if err != nil {
				return Value{}, err
			}
			if err := m.push(Str(v.Str)); err != nil {
				return Value{}, err
			}
		case tokRegSet:
			v, err := ctx.reg(t.idx)
			if err != nil {
				return Value{}, err
			}
			if err := m.push(v); err != nil {
				return Value{}, err
			}
		case tokLiteral:
			if t.idx < 0 || t.idx >= len(prog.literals) {
				return Value{}, selvaerr.New(selvaerr.RPNBNDS, "literal index %d out of bounds", t.idx)
			}
			if err := m.push(prog.literals[t.idx]); err != nil {
				return Value{}, err
			}
		case tokOperator:
			if err := m.exec(t.op); err != nil {
				if code := selvaerr.CodeOf(err); code.IsBreak() {
					return m.top(), nil
				}
				return Value{}, err
			}
		}
	}
	return m.top(), nil
}

func (m *machine) top() Value {
	if len(m.stack) == 0 {
		return Value{}
	}
	return m.stack[len(m.stack)-1]
}

func boolNum(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func (m *machine) exec(op byte) error {
	switch op {
	case 'A', 'B', 'C', 'D', 'E':
		return m.arith(op)
	case 'F', 'G', 'H', 'I', 'J', 'K':
		return m.compare(op)
	case 'L':
		v, err := m.popDouble()
		if err != nil {
			return err
		}
		return m.push(Double(boolNum(v == 0)))
	case 'M', 'N', 'O':
		return m.logical(op)
	case 'P':
		return m.necess()
	case 'Q':
		return m.possib()
	case 'a':
		return m.has()
	case 'b':
		return m.typeOf()
	case 'c':
		return m.strcmp()
	case 'd':
		return m.idcmp(false)
	case 'e':
		return m.idcmp(true)
	case 'f':
		return m.getField(false)
	case 'g':
		return m.getField(true)
	case 'h':
		return m.exists()
	case 'i':
		return m.rangeOp()
	case 'j':
		return m.ffirst()
	case 'k':
		return m.aon()
	case 'z':
		return m.union()
	default:
		return selvaerr.New(selvaerr.RPNILLOPC, "illegal opcode %q", op)
	}
}

func (m *machine) arith(op byte) error {
	b, err := m.popDouble()
	if err != nil {
		return err
	}
	a, err := m.popDouble()
	if err != nil {
		return err
	}
	var r float64
	switch op {
	case 'A':
		r = a + b
	case 'B':
		r = a - b
	case 'C':
		if b == 0 {
			return selvaerr.New(selvaerr.RPNDIV, "division by zero")
		}
		r = a / b
	case 'D':
		r = a * b
	case 'E':
		bi := int64(b)
		if bi == 0 {
			return selvaerr.New(selvaerr.RPNDIV, "modulo by zero")
		}
		r = float64(int64(a) % bi)
	}
	return m.push(Double(r))
}

func (m *machine) compare(op byte) error {
	b, err := m.popDouble()
	if err != nil {
		return err
	}
	a, err := m.popDouble()
	if err != nil {
		return err
	}
	var r bool
	switch op {
	case 'F':
		r = a == b
	case 'G':
		r = a != b
	case 'H':
		r = a < b
	case 'I':
		r = a > b
	case 'J':
		r = a <= b
	case 'K':
		r = a >= b
	}
	return m.push(Double(boolNum(r)))
}

func (m *machine) logical(op byte) error {
	b, err := m.popDouble()
	if err != nil {
		return err
	}
	a, err := m.popDouble()
	if err != nil {
		return err
	}
	ab, bb := a != 0, b != 0
	var r bool
	switch op {
	case 'M':
		r = ab && bb
	case 'N':
		r = ab || bb
	case 'O':
		r = ab != bb
	}
	return m.push(Double(boolNum(r)))
}

// necess implements 'P': pop, if false push 0 and abort with success
// (spec.md §4.7).
func (m *machine) necess() error {
	v, err := m.popDouble()
	if err != nil {
		return err
	}
	if v == 0 {
		if err := m.push(Double(0)); err != nil {
			return err
		}
		return selvaerr.Break()
	}
	return nil
}

// possib implements 'Q': pop, if true push 1 and abort with success.
func (m *machine) possib() error {
	v, err := m.popDouble()
	if err != nil {
		return err
	}
	if v != 0 {
		if err := m.push(Double(1)); err != nil {
			return err
		}
		return selvaerr.Break()
	}
	return nil
}

func (m *machine) has() error {
	needle, err := m.pop()
	if err != nil {
		return err
	}
	s, err := m.popSet()
	if err != nil {
		return err
	}
	var found bool
	switch needle.Kind {
	case KindString:
		found = s.Set.HasString(needle.Str)
	case KindDouble:
		found = s.Set.HasDouble(needle.Num)
	case KindNodeID:
		found = s.Set.HasNodeID(needle.ID)
	}
	return m.push(Double(boolNum(found)))
}

func (m *machine) typeOf() error {
	v, err := m.pop()
	if err != nil {
		return err
	}
	if v.Kind != KindNodeID {
		return selvaerr.New(selvaerr.RPNTYPE, "typeof expects a node id operand")
	}
	return m.push(Str(string(v.ID[:2])))
}

func (m *machine) strcmp() error {
	b, err := m.popString()
	if err != nil {
		return err
	}
	a, err := m.popString()
	if err != nil {
		return err
	}
	var r float64
	switch {
	case a < b:
		r = -1
	case a > b:
		r = 1
	}
	return m.push(Double(r))
}

func (m *machine) idcmp(typeOnly bool) error {
	b, err := m.pop()
	if err != nil {
		return err
	}
	var a NodeID
	if typeOnly {
		a = m.ctx.ID
	} else {
		v, err := m.pop()
		if err != nil {
			return err
		}
		if v.Kind != KindNodeID {
			return selvaerr.New(selvaerr.RPNTYPE, "idcmp expects two node id operands")
		}
		a = v.ID
	}
	if b.Kind != KindNodeID {
		return selvaerr.New(selvaerr.RPNTYPE, "idcmp expects a node id operand")
	}
	var eq bool
	if typeOnly {
		eq = a[0] == b.ID[0] && a[1] == b.ID[1]
	} else {
		eq = a == b.ID
	}
	return m.push(Double(boolNum(eq)))
}

func (m *machine) currentObject() (*object.Object, error) {
	if m.ctx.Object == nil {
		return nil, selvaerr.New(selvaerr.RPNNPE, "no current object bound to this expression")
	}
	return m.ctx.Object, nil
}

func (m *machine) getField(asDouble bool) error {
	field, err := m.popString()
	if err != nil {
		return err
	}
	o, err := m.currentObject()
	if err != nil {
		return err
	}
	v, err := o.Get(field)
	if err != nil {
		if asDouble {
			return m.push(Double(0))
		}
		return m.push(Str(""))
	}
	if asDouble {
		switch v.Tag {
		case object.TagLL:
			return m.push(Double(float64(v.LL)))
		case object.TagDouble:
			return m.push(Double(v.Dbl))
		default:
			return selvaerr.New(selvaerr.RPNTYPE, "field %q is not numeric", field)
		}
	}
	if v.Tag != object.TagString {
		return selvaerr.New(selvaerr.RPNTYPE, "field %q is not a string", field)
	}
	return m.push(Str(string(v.Str)))
}

func (m *machine) exists() error {
	field, err := m.popString()
	if err != nil {
		return err
	}
	o, err := m.currentObject()
	if err != nil {
		return err
	}
	return m.push(Double(boolNum(o.Exists(field))))
}

func (m *machine) rangeOp() error {
	c, err := m.popDouble()
	if err != nil {
		return err
	}
	b, err := m.popDouble()
	if err != nil {
		return err
	}
	a, err := m.popDouble()
	if err != nil {
		return err
	}
	return m.push(Double(boolNum(a <= b && b <= c)))
}

func fieldNonEmpty(o *object.Object, field string) bool {
	v, err := o.Get(field)
	if err != nil {
		return false
	}
	switch v.Tag {
	case object.TagNull:
		return false
	case object.TagString:
		return len(v.Str) > 0
	case object.TagSet:
		return v.Set != nil && v.Set.Len() > 0
	case object.TagArray:
		return len(v.Arr) > 0
	default:
		return true
	}
}

// ffirst implements 'j': given a set of candidate field names, yields a
// single-element set containing the name of the first one that is
// non-empty on the current object (spec.md §4.7).
func (m *machine) ffirst() error {
	names, err := m.popSet()
	if err != nil {
		return err
	}
	o, err := m.currentObject()
	if err != nil {
		return err
	}
	out := object.NewSet(object.SetString)
	for _, name := range names.Set.Strings() {
		if fieldNonEmpty(o, name) {
			out.AddString(name)
			break
		}
	}
	return m.push(SetVal(out))
}

// aon implements 'k': returns the input set unchanged if every candidate
// field is non-empty, else an empty set (spec.md §4.7).
func (m *machine) aon() error {
	names, err := m.popSet()
	if err != nil {
		return err
	}
	o, err := m.currentObject()
	if err != nil {
		return err
	}
	all := true
	for _, name := range names.Set.Strings() {
		if !fieldNonEmpty(o, name) {
			all = false
			break
		}
	}
	if all {
		return m.push(*names)
	}
	return m.push(SetVal(object.NewSet(object.SetString)))
}

func (m *machine) union() error {
	b, err := m.popSet()
	if err != nil {
		return err
	}
	a, err := m.popSet()
	if err != nil {
		return err
	}
	out := a.Set.Clone()
	if err := out.Union(b.Set); err != nil {
		return selvaerr.New(selvaerr.RPNTYPE, "union: %v", err)
	}
	return m.push(SetVal(out))
}
