package vm

import (
	"bytes"
	"cmp"
	"fmt"
	"math"
	"strconv"
)

// Kind is the dynamic type of a Value.
type Kind uint8

const (
	KindNone Kind = iota
	KindInt
	KindFloat
	KindString
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindObject:
		return "object"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ObjectHandle is an opaque reference to a world object. Zero is the null object.
type ObjectHandle uint64

// NullObject is the null object reference.
const NullObject ObjectHandle = 0

// Value is a tagged union over the VM's data types. The zero Value is None.
//
// String literals pushed by const_string are kept as an offset into the
// owning program's string table until an instruction needs their text.
// Values leaving the program (external variables, return values) are
// always resolved.
type Value struct {
	kind     Kind
	i        int32 // Int value, or table offset of an unresolved string
	f        float32
	s        string
	indirect bool
	obj      ObjectHandle
}

// Int returns an Int value.
func Int(v int32) Value { return Value{kind: KindInt, i: v} }

// Float returns a Float value.
func Float(v float32) Value { return Value{kind: KindFloat, f: v} }

// String returns a String value holding s.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Object returns an Object value. NullObject gives the null reference.
func Object(h ObjectHandle) Value { return Value{kind: KindObject, obj: h} }

// None returns the empty value.
func None() Value { return Value{} }

// Bool returns Int(1) for true and Int(0) for false.
func Bool(b bool) Value {
	if b {
		return Int(1)
	}
	return Int(0)
}

// StringRef returns an unresolved string referring to a table offset.
func StringRef(offset int32) Value {
	return Value{kind: KindString, i: offset, indirect: true}
}

// Kind returns the dynamic type of v.
func (v Value) Kind() Kind { return v.kind }

// IsNone reports whether v is None.
func (v Value) IsNone() bool { return v.kind == KindNone }

// IsResolved reports whether v carries its own text (always true for non-strings).
func (v Value) IsResolved() bool { return !v.indirect }

// StringOffset returns the table offset of an unresolved string.
func (v Value) StringOffset() (int32, bool) {
	return v.i, v.kind == KindString && v.indirect
}

// AsInt returns the integer held by v.
func (v Value) AsInt() (int32, error) {
	if v.kind != KindInt {
		return 0, errExpected(KindInt, v)
	}
	return v.i, nil
}

// AsFloat returns the float held by v.
func (v Value) AsFloat() (float32, error) {
	if v.kind != KindFloat {
		return 0, errExpected(KindFloat, v)
	}
	return v.f, nil
}

// AsString returns the text of a resolved string.
func (v Value) AsString() (string, error) {
	if v.kind != KindString {
		return "", errExpected(KindString, v)
	}
	if v.indirect {
		return "", NewError(ErrorBadValue, "unresolved string at offset %d", v.i)
	}
	return v.s, nil
}

// AsObject returns the object handle held by v. Int(0) converts to the
// null object, which scripts use as a literal for "no object".
func (v Value) AsObject() (ObjectHandle, error) {
	switch {
	case v.kind == KindObject:
		return v.obj, nil
	case v.kind == KindInt && v.i == 0:
		return NullObject, nil
	default:
		return 0, errExpected(KindObject, v)
	}
}

// CoerceInt converts Int and Float (truncating) to int32.
func (v Value) CoerceInt() (int32, error) {
	switch v.kind {
	case KindInt:
		return v.i, nil
	case KindFloat:
		return int32(v.f), nil
	default:
		return 0, errExpected(KindInt, v)
	}
}

// CoerceFloat converts Int and Float to float32.
func (v Value) CoerceFloat() (float32, error) {
	switch v.kind {
	case KindInt:
		return float32(v.i), nil
	case KindFloat:
		return v.f, nil
	default:
		return 0, errExpected(KindFloat, v)
	}
}

// CoerceString converts numbers and resolved strings to text. Floats use five
// decimal places.
func (v Value) CoerceString() (string, error) {
	switch v.kind {
	case KindInt:
		return strconv.Itoa(int(v.i)), nil
	case KindFloat:
		return strconv.FormatFloat(float64(v.f), 'f', 5, 32), nil
	case KindString:
		return v.AsString()
	default:
		return "", errExpected(KindString, v)
	}
}

// Test returns the truth value of v.
func (v Value) Test() bool {
	switch v.kind {
	case KindInt:
		return v.i != 0
	case KindFloat:
		return v.f != 0
	case KindString:
		return true
	case KindObject:
		return v.obj != NullObject
	default:
		return false
	}
}

// Equal reports whether v and o are identical, including representation.
func (v Value) Equal(o Value) bool {
	return v == o
}

func (v Value) String() string {
	switch v.kind {
	case KindNone:
		return "None"
	case KindInt:
		return fmt.Sprintf("Int(%d)", v.i)
	case KindFloat:
		return fmt.Sprintf("Float(%g)", v.f)
	case KindString:
		if v.indirect {
			return fmt.Sprintf("String(@%d)", v.i)
		}
		return fmt.Sprintf("String(%q)", v.s)
	case KindObject:
		if v.obj == NullObject {
			return "Object(null)"
		}
		return fmt.Sprintf("Object(%d)", v.obj)
	default:
		return v.kind.String()
	}
}

// sameKind coerces l and r into one kind. Strings win over objects, objects
// over floats, floats over ints.
func sameKind(op string, l, r Value) (Value, Value, error) {
	if l.kind == r.kind {
		return l, r, nil
	}
	if l.kind == KindNone || r.kind == KindNone {
		return l, r, errTypeMismatch(op, l, r)
	}
	switch {
	case l.kind == KindString || r.kind == KindString:
		ls, err := l.CoerceString()
		if err != nil {
			return l, r, errTypeMismatch(op, l, r)
		}
		rs, err := r.CoerceString()
		if err != nil {
			return l, r, errTypeMismatch(op, l, r)
		}
		return String(ls), String(rs), nil
	case l.kind == KindObject || r.kind == KindObject:
		lo, err := l.AsObject()
		if err != nil {
			return l, r, errTypeMismatch(op, l, r)
		}
		ro, err := r.AsObject()
		if err != nil {
			return l, r, errTypeMismatch(op, l, r)
		}
		return Object(lo), Object(ro), nil
	default:
		lf, _ := l.CoerceFloat()
		rf, _ := r.CoerceFloat()
		return Float(lf), Float(rf), nil
	}
}

// Compare orders two resolved values. ok is false when the values are not
// comparable, in which case every ordered comparison is false. None is never
// comparable.
func Compare(l, r Value) (c int, ok bool) {
	l, r, err := sameKind("compare", l, r)
	if err != nil {
		return 0, false
	}
	switch l.kind {
	case KindInt:
		return cmp.Compare(l.i, r.i), true
	case KindFloat:
		if math.IsNaN(float64(l.f)) || math.IsNaN(float64(r.f)) {
			return 0, false
		}
		return cmp.Compare(l.f, r.f), true
	case KindString:
		if l.indirect || r.indirect {
			return 0, false
		}
		return bytes.Compare([]byte(l.s), []byte(r.s)), true
	case KindObject:
		return cmp.Compare(l.obj, r.obj), true
	}
	return 0, false
}

func checkedInt(op string, v int64) (Value, error) {
	if v < math.MinInt32 || v > math.MaxInt32 {
		return Value{}, NewError(ErrorBadValue, "%s: integer overflow", op)
	}
	return Int(int32(v)), nil
}

// Add adds numbers or concatenates strings.
func Add(l, r Value) (Value, error) {
	l, r, err := sameKind("add", l, r)
	if err != nil {
		return Value{}, err
	}
	switch l.kind {
	case KindInt:
		return checkedInt("add", int64(l.i)+int64(r.i))
	case KindFloat:
		return Float(l.f + r.f), nil
	case KindString:
		ls, err := l.AsString()
		if err != nil {
			return Value{}, err
		}
		rs, err := r.AsString()
		if err != nil {
			return Value{}, err
		}
		return String(ls + rs), nil
	default:
		return Value{}, errTypeMismatch("add", l, r)
	}
}

func numeric(op string, l, r Value) (Value, Value, error) {
	if !isNumber(l) || !isNumber(r) {
		return l, r, errTypeMismatch(op, l, r)
	}
	return sameKind(op, l, r)
}

func isNumber(v Value) bool {
	return v.kind == KindInt || v.kind == KindFloat
}

// Sub subtracts numbers.
func Sub(l, r Value) (Value, error) {
	l, r, err := numeric("sub", l, r)
	if err != nil {
		return Value{}, err
	}
	if l.kind == KindInt {
		return checkedInt("sub", int64(l.i)-int64(r.i))
	}
	return Float(l.f - r.f), nil
}

// Mul multiplies numbers.
func Mul(l, r Value) (Value, error) {
	l, r, err := numeric("mul", l, r)
	if err != nil {
		return Value{}, err
	}
	if l.kind == KindInt {
		return checkedInt("mul", int64(l.i)*int64(r.i))
	}
	return Float(l.f * r.f), nil
}

// Div divides numbers. Division by zero is a BadValue error for both kinds.
func Div(l, r Value) (Value, error) {
	l, r, err := numeric("div", l, r)
	if err != nil {
		return Value{}, err
	}
	if l.kind == KindInt {
		if r.i == 0 {
			return Value{}, NewError(ErrorBadValue, "div: division by zero")
		}
		return checkedInt("div", int64(l.i)/int64(r.i))
	}
	if r.f == 0 {
		return Value{}, NewError(ErrorBadValue, "div: division by zero")
	}
	return Float(l.f / r.f), nil
}

// Mod is the integer remainder. Both operands must be Int.
func Mod(l, r Value) (Value, error) {
	if l.kind != KindInt || r.kind != KindInt {
		return Value{}, errTypeMismatch("mod", l, r)
	}
	if r.i == 0 {
		return Value{}, NewError(ErrorBadValue, "mod: division by zero")
	}
	if l.i == math.MinInt32 && r.i == -1 {
		return Value{}, NewError(ErrorBadValue, "mod: integer overflow")
	}
	return Int(l.i % r.i), nil
}

func bitwise(op string, l, r Value, f func(a, b int32) int32) (Value, error) {
	a, err := l.CoerceInt()
	if err != nil {
		return Value{}, errTypeMismatch(op, l, r)
	}
	b, err := r.CoerceInt()
	if err != nil {
		return Value{}, errTypeMismatch(op, l, r)
	}
	return Int(f(a, b)), nil
}

// BwAnd is bitwise and over integer-coerced operands.
func BwAnd(l, r Value) (Value, error) {
	return bitwise("bwand", l, r, func(a, b int32) int32 { return a & b })
}

// BwOr is bitwise or over integer-coerced operands.
func BwOr(l, r Value) (Value, error) {
	return bitwise("bwor", l, r, func(a, b int32) int32 { return a | b })
}

// BwXor is bitwise xor over integer-coerced operands.
func BwXor(l, r Value) (Value, error) {
	return bitwise("bwxor", l, r, func(a, b int32) int32 { return a ^ b })
}

// BwNot is bitwise complement.
func BwNot(v Value) (Value, error) {
	a, err := v.CoerceInt()
	if err != nil {
		return Value{}, errUnsupported("bwnot", v)
	}
	return Int(^a), nil
}

// Negate flips the sign of a number.
func Negate(v Value) (Value, error) {
	switch v.kind {
	case KindInt:
		if v.i == math.MinInt32 {
			return Value{}, NewError(ErrorBadValue, "negate: integer overflow")
		}
		return Int(-v.i), nil
	case KindFloat:
		return Float(-v.f), nil
	default:
		return Value{}, errUnsupported("negate", v)
	}
}

// Floor rounds a float down to an Int. Ints pass through.
func Floor(v Value) (Value, error) {
	switch v.kind {
	case KindInt:
		return v, nil
	case KindFloat:
		f := math.Floor(float64(v.f))
		if f < math.MinInt32 || f > math.MaxInt32 || math.IsNaN(f) {
			return Value{}, NewError(ErrorBadValue, "floor: %g out of range", v.f)
		}
		return Int(int32(f)), nil
	default:
		return Value{}, errUnsupported("floor", v)
	}
}
