package expr

import (
	"strings"

	"strata/internal/errs"
	"strata/internal/value"
)

// OpFunc implements an operator over already-evaluated arguments.
type OpFunc func(args []value.Value) (value.Value, error)

// OpDef declares an operator's arity shape.
type OpDef struct {
	MinArity int
	Variadic bool
	Fn       OpFunc
}

// Registry is the operator table consulted by the bytecode evaluator.
var Registry = map[string]OpDef{
	"eq":  {MinArity: 2, Fn: binBool(func(a, b value.Value) bool { return value.Equal(a, b) })},
	"neq": {MinArity: 2, Fn: binBool(func(a, b value.Value) bool { return !value.Equal(a, b) })},
	"lt":  {MinArity: 2, Fn: binBool(func(a, b value.Value) bool { return value.Compare(a, b) < 0 })},
	"lte": {MinArity: 2, Fn: binBool(func(a, b value.Value) bool { return value.Compare(a, b) <= 0 })},
	"gt":  {MinArity: 2, Fn: binBool(func(a, b value.Value) bool { return value.Compare(a, b) > 0 })},
	"gte": {MinArity: 2, Fn: binBool(func(a, b value.Value) bool { return value.Compare(a, b) >= 0 })},

	"add": {MinArity: 1, Variadic: true, Fn: numFold(0, func(a, b float64) float64 { return a + b }, func(a, b int64) int64 { return a + b })},
	"mul": {MinArity: 1, Variadic: true, Fn: numFoldMul()},
	"sub": {MinArity: 2, Fn: numBin(func(a, b float64) float64 { return a - b }, func(a, b int64) int64 { return a - b })},
	"div": {MinArity: 2, Fn: divOp},
	"neg": {MinArity: 1, Fn: negOp},

	"and": {MinArity: 1, Variadic: true, Fn: boolFold(true, func(a, b bool) bool { return a && b })},
	"or":  {MinArity: 1, Variadic: true, Fn: boolFold(false, func(a, b bool) bool { return a || b })},
	"not": {MinArity: 1, Fn: notOp},

	"is_null": {MinArity: 1, Fn: func(args []value.Value) (value.Value, error) {
		_, ok := args[0].(value.Null)
		return value.Bool(ok), nil
	}},

	"concat": {MinArity: 1, Variadic: true, Fn: concatOp},
	"length": {MinArity: 1, Fn: lengthOp},

	"list": {MinArity: 0, Variadic: true, Fn: func(args []value.Value) (value.Value, error) {
		return value.List(append([]value.Value(nil), args...)), nil
	}},
	"get": {MinArity: 2, Fn: getOp},
}

func binBool(f func(a, b value.Value) bool) OpFunc {
	return func(args []value.Value) (value.Value, error) {
		return value.Bool(f(args[0], args[1])), nil
	}
}

func notOp(args []value.Value) (value.Value, error) {
	b, err := asBool(args[0])
	if err != nil {
		return nil, err
	}
	return value.Bool(!b), nil
}

func boolFold(init bool, f func(a, b bool) bool) OpFunc {
	return func(args []value.Value) (value.Value, error) {
		acc := init
		for _, a := range args {
			b, err := asBool(a)
			if err != nil {
				return nil, err
			}
			acc = f(acc, b)
		}
		return value.Bool(acc), nil
	}
}

func asBool(v value.Value) (bool, error) {
	b, ok := v.(value.Bool)
	if !ok {
		return false, errs.New(errs.Type, "bad-operand: expected bool, got %s", v.Kind())
	}
	return bool(b), nil
}

func asNum(v value.Value) (value.Num, error) {
	n, ok := v.(value.Num)
	if !ok {
		return value.Num{}, errs.New(errs.Type, "bad-operand: expected number, got %s", v.Kind())
	}
	return n, nil
}

func numFold(init float64, ff func(a, b float64) float64, fi func(a, b int64) int64) OpFunc {
	return func(args []value.Value) (value.Value, error) {
		allInt := true
		var accI int64
		accF := init
		for i, a := range args {
			n, err := asNum(a)
			if err != nil {
				return nil, err
			}
			if n.IsFloat {
				allInt = false
			}
			accF = ff(accF, n.AsFloat())
			if i == 0 {
				accI = n.I
				if n.IsFloat {
					allInt = false
				}
			} else if allInt {
				accI = fi(accI, n.I)
			}
		}
		if allInt {
			return value.Int(accI), nil
		}
		return value.Float(accF), nil
	}
}

func numFoldMul() OpFunc {
	return func(args []value.Value) (value.Value, error) {
		allInt := true
		accI := int64(1)
		accF := 1.0
		for _, a := range args {
			n, err := asNum(a)
			if err != nil {
				return nil, err
			}
			accF *= n.AsFloat()
			if n.IsFloat {
				allInt = false
			} else {
				accI *= n.I
			}
		}
		if allInt {
			return value.Int(accI), nil
		}
		return value.Float(accF), nil
	}
}

func numBin(ff func(a, b float64) float64, fi func(a, b int64) int64) OpFunc {
	return func(args []value.Value) (value.Value, error) {
		a, err := asNum(args[0])
		if err != nil {
			return nil, err
		}
		b, err := asNum(args[1])
		if err != nil {
			return nil, err
		}
		if a.IsFloat || b.IsFloat {
			return value.Float(ff(a.AsFloat(), b.AsFloat())), nil
		}
		return value.Int(fi(a.I, b.I)), nil
	}
}

func divOp(args []value.Value) (value.Value, error) {
	a, err := asNum(args[0])
	if err != nil {
		return nil, err
	}
	b, err := asNum(args[1])
	if err != nil {
		return nil, err
	}
	return value.Float(a.AsFloat() / b.AsFloat()), nil
}

func negOp(args []value.Value) (value.Value, error) {
	n, err := asNum(args[0])
	if err != nil {
		return nil, err
	}
	if n.IsFloat {
		return value.Float(-n.F), nil
	}
	return value.Int(-n.I), nil
}

func concatOp(args []value.Value) (value.Value, error) {
	var sb strings.Builder
	for _, a := range args {
		s, ok := a.(value.String)
		if !ok {
			return nil, errs.New(errs.Type, "bad-operand: concat expects strings")
		}
		sb.WriteString(string(s))
	}
	return value.String(sb.String()), nil
}

func lengthOp(args []value.Value) (value.Value, error) {
	switch x := args[0].(type) {
	case value.String:
		return value.Int(int64(len(x))), nil
	case value.Bytes:
		return value.Int(int64(len(x))), nil
	case value.List:
		return value.Int(int64(len(x))), nil
	case value.Set:
		return value.Int(int64(len(x))), nil
	default:
		return nil, errs.New(errs.Type, "bad-operand: length expects string/bytes/list/set, got %s", x.Kind())
	}
}

func getOp(args []value.Value) (value.Value, error) {
	idxN, err := asNum(args[1])
	if err != nil {
		return nil, err
	}
	idx := int(idxN.I)
	switch x := args[0].(type) {
	case value.List:
		if idx < 0 || idx >= len(x) {
			return nil, errs.New(errs.Invariant, "index %d out of range for list of length %d", idx, len(x))
		}
		return x[idx], nil
	default:
		return nil, errs.New(errs.Type, "bad-operand: get expects a list, got %s", x.Kind())
	}
}

// Lookup resolves an operator by name, returning its arity rule.
func Lookup(name string) (OpDef, bool) {
	d, ok := Registry[name]
	return d, ok
}
