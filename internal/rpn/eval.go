package rpn

import (
	"math"

	"github.com/selvadb/selva/internal/object"
	"github.com/selvadb/selva/internal/selvaerr"
)

// EvalBool runs prog against ctx and coerces the result to bool (spec.md
// §4.7's "bool" entry point).
func EvalBool(prog *Program, ctx *Context) (bool, error) {
	v, err := run(prog, ctx)
	if err != nil {
		return false, err
	}
	return v.Bool(), nil
}

// EvalDouble runs prog and coerces the result to a double.
func EvalDouble(prog *Program, ctx *Context) (float64, error) {
	v, err := run(prog, ctx)
	if err != nil {
		return 0, err
	}
	switch v.Kind {
	case KindDouble:
		return v.Num, nil
	case KindString:
		return 0, selvaerr.New(selvaerr.RPNTYPE, "result is a string, not a double")
	default:
		return 0, selvaerr.New(selvaerr.RPNTYPE, "result is not coercible to double")
	}
}

// EvalString runs prog and coerces the result to a string (spec.md §6's
// rpn.evalString command). Only a KindString result coerces cleanly;
// numeric results have no canonical textual form in the reference
// implementation's rpn_getset/rpn_getdbl/rpn_getstr trio, so it is an
// error rather than an implicit float-to-string conversion.
func EvalString(prog *Program, ctx *Context) (string, error) {
	v, err := run(prog, ctx)
	if err != nil {
		return "", err
	}
	if v.Kind != KindString {
		return "", selvaerr.New(selvaerr.RPNTYPE, "result is not a string")
	}
	return v.Str, nil
}

// EvalInt runs prog and coerces the result to a rounded integer.
func EvalInt(prog *Program, ctx *Context) (int64, error) {
	d, err := EvalDouble(prog, ctx)
	if err != nil {
		return 0, err
	}
	return int64(math.Round(d)), nil
}

// EvalSet runs prog and merges the resulting set into into (spec.md
// §4.7's "set" entry point).
func EvalSet(prog *Program, ctx *Context, into *object.Set) error {
	v, err := run(prog, ctx)
	if err != nil {
		return err
	}
	if v.Kind != KindSet {
		return selvaerr.New(selvaerr.RPNTYPE, "result is not a set")
	}
	if v.Set == nil {
		return nil
	}
	return into.Union(v.Set)
}

// EvalSetResult runs prog and returns the resulting set directly,
// without requiring the caller to already know its element kind (spec.md
// §6's rpn.evalSet command has no pre-existing destination set to merge
// into, unlike EvalSet's in-object-mutation callers).
func EvalSetResult(prog *Program, ctx *Context) (*object.Set, error) {
	v, err := run(prog, ctx)
	if err != nil {
		return nil, err
	}
	if v.Kind != KindSet {
		return nil, selvaerr.New(selvaerr.RPNTYPE, "result is not a set")
	}
	return v.Set, nil
}
