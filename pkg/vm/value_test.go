package vm

import (
	"math"
	"testing"
)

func TestValue_String(t *testing.T) {
	tests := []struct {
		v    Value
		want string
	}{
		{None(), "None"},
		{Int(7), "Int(7)"},
		{Float(1.5), "Float(1.5)"},
		{String("hi"), `String("hi")`},
		{StringRef(6), "String(@6)"},
		{Object(NullObject), "Object(null)"},
		{Object(42), "Object(42)"},
	}
	for _, tt := range tests {
		if got := tt.v.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestValue_Test(t *testing.T) {
	tests := []struct {
		v    Value
		want bool
	}{
		{None(), false},
		{Int(0), false},
		{Int(-1), true},
		{Float(0), false},
		{Float(0.1), true},
		{String(""), true},
		{Object(NullObject), false},
		{Object(3), true},
	}
	for _, tt := range tests {
		if got := tt.v.Test(); got != tt.want {
			t.Errorf("%s.Test() = %v, want %v", tt.v, got, tt.want)
		}
	}
}

func TestValue_Accessors(t *testing.T) {
	if _, err := Float(1).AsInt(); KindOf(err) != ErrorTypeMismatch {
		t.Errorf("AsInt on float: expected TypeMismatch, got %v", err)
	}
	if _, err := StringRef(6).AsString(); KindOf(err) != ErrorBadValue {
		t.Errorf("AsString on unresolved string: expected BadValue, got %v", err)
	}
	if obj, err := Int(0).AsObject(); err != nil || obj != NullObject {
		t.Errorf("Int(0) must convert to the null object, got %v %v", obj, err)
	}
	if _, err := Int(1).AsObject(); KindOf(err) != ErrorTypeMismatch {
		t.Errorf("AsObject on Int(1): expected TypeMismatch, got %v", err)
	}
	if i, _ := Float(-2.7).CoerceInt(); i != -2 {
		t.Errorf("CoerceInt truncates, got %d", i)
	}
	if s, _ := Float(1.5).CoerceString(); s != "1.50000" {
		t.Errorf("CoerceString(1.5) = %q", s)
	}
	if off, ok := StringRef(12).StringOffset(); !ok || off != 12 {
		t.Errorf("StringOffset = %d %v", off, ok)
	}
	if _, ok := String("x").StringOffset(); ok {
		t.Error("resolved string has no offset")
	}
}

func TestArithmetic(t *testing.T) {
	tests := []struct {
		name string
		f    func(l, r Value) (Value, error)
		l, r Value
		want Value
		err  ErrorKind
	}{
		{"int add", Add, Int(3), Int(4), Int(7), ""},
		{"int/float add promotes", Add, Int(1), Float(0.5), Float(1.5), ""},
		{"string concat", Add, String("a"), String("b"), String("ab"), ""},
		{"string and int concat", Add, String("n="), Int(4), String("n=4"), ""},
		{"add overflow", Add, Int(math.MaxInt32), Int(1), Value{}, ErrorBadValue},
		{"add none", Add, None(), Int(1), Value{}, ErrorTypeMismatch},
		{"sub", Sub, Int(3), Int(10), Int(-7), ""},
		{"sub string", Sub, String("a"), Int(1), Value{}, ErrorTypeMismatch},
		{"mul", Mul, Int(6), Int(7), Int(42), ""},
		{"mul float", Mul, Float(2), Int(3), Float(6), ""},
		{"div truncates", Div, Int(-7), Int(2), Int(-3), ""},
		{"div by zero", Div, Int(1), Int(0), Value{}, ErrorBadValue},
		{"float div by zero", Div, Float(1), Float(0), Value{}, ErrorBadValue},
		{"div overflow", Div, Int(math.MinInt32), Int(-1), Value{}, ErrorBadValue},
		{"mod", Mod, Int(7), Int(3), Int(1), ""},
		{"mod float", Mod, Float(7), Int(3), Value{}, ErrorTypeMismatch},
		{"mod by zero", Mod, Int(7), Int(0), Value{}, ErrorBadValue},
		{"bwand", BwAnd, Int(0b1100), Int(0b1010), Int(0b1000), ""},
		{"bwor float coerces", BwOr, Float(4.9), Int(1), Int(5), ""},
		{"bwxor", BwXor, Int(5), Int(1), Int(4), ""},
		{"bwand string", BwAnd, String("a"), Int(1), Value{}, ErrorTypeMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.f(tt.l, tt.r)
			if tt.err != "" {
				if KindOf(err) != tt.err {
					t.Fatalf("expected %s, got %v (%s)", tt.err, err, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestUnary(t *testing.T) {
	if v, _ := Negate(Int(5)); !v.Equal(Int(-5)) {
		t.Errorf("Negate(5) = %s", v)
	}
	if _, err := Negate(Int(math.MinInt32)); KindOf(err) != ErrorBadValue {
		t.Errorf("Negate(MinInt32): expected BadValue, got %v", err)
	}
	if _, err := Negate(String("x")); KindOf(err) != ErrorTypeMismatch {
		t.Errorf("Negate(string): expected TypeMismatch, got %v", err)
	}
	if v, _ := BwNot(Int(0)); !v.Equal(Int(-1)) {
		t.Errorf("BwNot(0) = %s", v)
	}
	if v, _ := Floor(Float(-1.5)); !v.Equal(Int(-2)) {
		t.Errorf("Floor(-1.5) = %s", v)
	}
	if _, err := Floor(Float(1e20)); KindOf(err) != ErrorBadValue {
		t.Errorf("Floor(1e20): expected BadValue, got %v", err)
	}
}

func TestCompare(t *testing.T) {
	tests := []struct {
		name string
		l, r Value
		c    int
		ok   bool
	}{
		{"ints", Int(1), Int(2), -1, true},
		{"int and float", Int(2), Float(1.5), 1, true},
		{"strings", String("b"), String("a"), 1, true},
		{"number and string compare as text", Int(10), String("10"), 0, true},
		{"objects", Object(3), Object(3), 0, true},
		{"null object and zero", Object(NullObject), Int(0), 0, true},
		{"object and float", Object(1), Float(1), 0, false},
		{"nan", Float(float32(math.NaN())), Float(1), 0, false},
		{"none and int", None(), Int(0), 0, false},
		{"nones", None(), None(), 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, ok := Compare(tt.l, tt.r)
			if ok != tt.ok || (ok && c != tt.c) {
				t.Errorf("Compare(%s, %s) = %d, %v; want %d, %v", tt.l, tt.r, c, ok, tt.c, tt.ok)
			}
		})
	}
}
