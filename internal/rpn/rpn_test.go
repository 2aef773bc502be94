package rpn

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/selvadb/selva/internal/object"
)

func TestArithmeticAndComparison(t *testing.T) {
	prog, err := Compile("#2 #3 A #5 F")
	require.NoError(t, err)
	ok, err := EvalBool(prog, &Context{})
	require.NoError(t, err)
	require.True(t, ok)
}

func TestDivisionByZeroIsError(t *testing.T) {
	prog, err := Compile("#1 #0 C")
	require.NoError(t, err)
	_, err = EvalDouble(prog, &Context{})
	require.Error(t, err)
}

func TestFieldAccessReadsCurrentObject(t *testing.T) {
	o := object.New()
	require.NoError(t, o.Set("name", object.Str([]byte("selva"))))

	prog, err := Compile(`"name" f`)
	require.NoError(t, err)
	s, err := EvalDouble(prog, &Context{Object: o})
	require.Error(t, err) // string result isn't double-coercible
	_ = s

	boolProg, err := Compile(`"name" h`)
	require.NoError(t, err)
	exists, err := EvalBool(boolProg, &Context{Object: o})
	require.NoError(t, err)
	require.True(t, exists)
}

func TestModalNecessaryShortCircuits(t *testing.T) {
	prog, err := Compile("#0 P #99")
	require.NoError(t, err)
	d, err := EvalDouble(prog, &Context{})
	require.NoError(t, err)
	require.Equal(t, float64(0), d)
}

func TestModalPossibleShortCircuits(t *testing.T) {
	prog, err := Compile("#1 Q #99")
	require.NoError(t, err)
	d, err := EvalDouble(prog, &Context{})
	require.NoError(t, err)
	require.Equal(t, float64(1), d)
}

func TestSetLiteralAndHas(t *testing.T) {
	prog, err := Compile(`{"red","green"} "red" a`)
	require.NoError(t, err)
	ok, err := EvalBool(prog, &Context{})
	require.NoError(t, err)
	require.True(t, ok)
}

func TestRangeOperator(t *testing.T) {
	prog, err := Compile("#1 #5 #10 i")
	require.NoError(t, err)
	ok, err := EvalBool(prog, &Context{})
	require.NoError(t, err)
	require.True(t, ok)
}

func TestUnionOperator(t *testing.T) {
	a := object.NewSet(object.SetString)
	a.AddString("x")
	b := object.NewSet(object.SetString)
	b.AddString("y")

	prog, err := Compile("&0 &1 z")
	require.NoError(t, err)
	out := object.NewSet(object.SetString)
	require.NoError(t, EvalSet(prog, &Context{Regs: []Value{SetVal(a), SetVal(b)}}, out))
	require.True(t, out.HasString("x"))
	require.True(t, out.HasString("y"))
}

func TestIllegalOperatorTokenFails(t *testing.T) {
	_, err := Compile("#1 #2 @@")
	require.Error(t, err)
}
