package models

import (
	"fmt"
	"slices"
)

// Kind is the wire type of a telemetry value.
type Kind uint8

const (
	KindUnassigned Kind = iota
	KindBoolean
	KindInteger
	KindDouble
	KindString
	KindBooleanArray
	KindIntegerArray
	KindDoubleArray
	KindStringArray
	KindRaw
)

var kindNames = map[Kind]string{
	KindUnassigned:   "",
	KindBoolean:      "boolean",
	KindInteger:      "int",
	KindDouble:       "double",
	KindString:       "string",
	KindBooleanArray: "boolean[]",
	KindIntegerArray: "int[]",
	KindDoubleArray:  "double[]",
	KindStringArray:  "string[]",
	KindRaw:          "raw",
}

// String returns the type tag the bus uses when announcing a topic of this kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// KindFromType maps a topic type tag back to a Kind. Tags outside the
// supported set map to KindUnassigned.
func KindFromType(typeStr string) Kind {
	for k, name := range kindNames {
		if name == typeStr && k != KindUnassigned {
			return k
		}
	}
	return KindUnassigned
}

/*
	Value is the closed set of payloads the bus can carry. Exactly one of the
	fields is meaningful, selected by the kind. Values are built with the
	constructors below so an invalid combination cannot be expressed outside
	this package.
*/
type Value struct {
	kind Kind

	b   bool
	i   int64
	d   float64
	s   string
	ba  []bool
	ia  []int64
	da  []float64
	sa  []string
	raw []byte
}

func BooleanValue(v bool) Value          { return Value{kind: KindBoolean, b: v} }
func IntegerValue(v int64) Value         { return Value{kind: KindInteger, i: v} }
func DoubleValue(v float64) Value        { return Value{kind: KindDouble, d: v} }
func StringValue(v string) Value         { return Value{kind: KindString, s: v} }
func BooleanArrayValue(v []bool) Value   { return Value{kind: KindBooleanArray, ba: slices.Clone(nonNil(v))} }
func IntegerArrayValue(v []int64) Value  { return Value{kind: KindIntegerArray, ia: slices.Clone(nonNil(v))} }
func DoubleArrayValue(v []float64) Value { return Value{kind: KindDoubleArray, da: slices.Clone(nonNil(v))} }
func StringArrayValue(v []string) Value  { return Value{kind: KindStringArray, sa: slices.Clone(nonNil(v))} }
func RawValue(v []byte) Value            { return Value{kind: KindRaw, raw: slices.Clone(nonNil(v))} }

func nonNil[T any](v []T) []T {
	if v == nil {
		return []T{}
	}
	return v
}

func (v Value) Kind() Kind { return v.kind }

// Type is the type tag of the value's kind.
func (v Value) Type() string { return v.kind.String() }

// IsValid is false only for the zero Value.
func (v Value) IsValid() bool { return v.kind != KindUnassigned }

// Native returns the payload as a plain Go value. Slices are copies.
func (v Value) Native() any {
	switch v.kind {
	case KindBoolean:
		return v.b
	case KindInteger:
		return v.i
	case KindDouble:
		return v.d
	case KindString:
		return v.s
	case KindBooleanArray:
		return slices.Clone(v.ba)
	case KindIntegerArray:
		return slices.Clone(v.ia)
	case KindDoubleArray:
		return slices.Clone(v.da)
	case KindStringArray:
		return slices.Clone(v.sa)
	case KindRaw:
		return slices.Clone(v.raw)
	}
	return nil
}

// Size is the payload size in bytes.
func (v Value) Size() int {
	switch v.kind {
	case KindBoolean:
		return 1
	case KindInteger, KindDouble:
		return 8
	case KindString:
		return len(v.s)
	case KindBooleanArray:
		return len(v.ba)
	case KindIntegerArray:
		return 8 * len(v.ia)
	case KindDoubleArray:
		return 8 * len(v.da)
	case KindStringArray:
		n := 0
		for _, s := range v.sa {
			n += len(s)
		}
		return n
	case KindRaw:
		return len(v.raw)
	}
	return 0
}

// Equal compares kind and payload.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindBoolean:
		return v.b == o.b
	case KindInteger:
		return v.i == o.i
	case KindDouble:
		return v.d == o.d
	case KindString:
		return v.s == o.s
	case KindBooleanArray:
		return slices.Equal(v.ba, o.ba)
	case KindIntegerArray:
		return slices.Equal(v.ia, o.ia)
	case KindDoubleArray:
		return slices.Equal(v.da, o.da)
	case KindStringArray:
		return slices.Equal(v.sa, o.sa)
	case KindRaw:
		return slices.Equal(v.raw, o.raw)
	}
	return true
}

func (v Value) String() string {
	if v.kind == KindUnassigned {
		return "<unassigned>"
	}
	return fmt.Sprintf("%s(%v)", v.kind, v.Native())
}
