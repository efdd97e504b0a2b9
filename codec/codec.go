// Package codec converts between loosely typed Go values and the bus's
// closed set of value kinds.
package codec

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/InsulaLabs/ntmirror/models"
	"github.com/pkg/errors"
)

// TimeLayout is how record timestamps are rendered.
const TimeLayout = "2006-01-02 15:04:05.000000"

// Encode picks the wire kind for v. Arrays must be homogeneous.
func Encode(v any) (models.Value, error) {
	switch x := v.(type) {
	case models.Value:
		if !x.IsValid() {
			return models.Value{}, errors.Wrap(ErrTypeMismatch, "unassigned value")
		}
		return x, nil
	case []byte:
		return models.RawValue(x), nil
	case json.RawMessage:
		return models.RawValue(x), nil
	case []bool:
		return models.BooleanArrayValue(x), nil
	case []int64:
		return models.IntegerArrayValue(x), nil
	case []int:
		out := make([]int64, len(x))
		for i, n := range x {
			out[i] = int64(n)
		}
		return models.IntegerArrayValue(out), nil
	case []int32:
		out := make([]int64, len(x))
		for i, n := range x {
			out[i] = int64(n)
		}
		return models.IntegerArrayValue(out), nil
	case []float64:
		return models.DoubleArrayValue(x), nil
	case []float32:
		out := make([]float64, len(x))
		for i, f := range x {
			out[i] = float64(f)
		}
		return models.DoubleArrayValue(out), nil
	case []string:
		return models.StringArrayValue(x), nil
	case []any:
		return encodeArray(x)
	}

	s, err := encodeScalar(v)
	if err != nil {
		return models.Value{}, err
	}
	return s.value(), nil
}

type scalar struct {
	kind models.Kind
	b    bool
	i    int64
	d    float64
	s    string
}

func (s scalar) value() models.Value {
	switch s.kind {
	case models.KindBoolean:
		return models.BooleanValue(s.b)
	case models.KindInteger:
		return models.IntegerValue(s.i)
	case models.KindDouble:
		return models.DoubleValue(s.d)
	}
	return models.StringValue(s.s)
}

func encodeScalar(v any) (scalar, error) {
	switch x := v.(type) {
	case bool:
		return scalar{kind: models.KindBoolean, b: x}, nil
	case int:
		return scalar{kind: models.KindInteger, i: int64(x)}, nil
	case int8:
		return scalar{kind: models.KindInteger, i: int64(x)}, nil
	case int16:
		return scalar{kind: models.KindInteger, i: int64(x)}, nil
	case int32:
		return scalar{kind: models.KindInteger, i: int64(x)}, nil
	case int64:
		return scalar{kind: models.KindInteger, i: x}, nil
	case uint:
		return unsigned(uint64(x))
	case uint8:
		return scalar{kind: models.KindInteger, i: int64(x)}, nil
	case uint16:
		return scalar{kind: models.KindInteger, i: int64(x)}, nil
	case uint32:
		return scalar{kind: models.KindInteger, i: int64(x)}, nil
	case uint64:
		return unsigned(x)
	case float32:
		return scalar{kind: models.KindDouble, d: float64(x)}, nil
	case float64:
		return scalar{kind: models.KindDouble, d: x}, nil
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return scalar{kind: models.KindInteger, i: n}, nil
		}
		f, err := x.Float64()
		if err != nil {
			return scalar{}, errors.Wrapf(ErrTypeMismatch, "number %q", x.String())
		}
		return scalar{kind: models.KindDouble, d: f}, nil
	case string:
		return scalar{kind: models.KindString, s: x}, nil
	}
	return scalar{}, errors.Wrapf(ErrTypeMismatch, "unsupported type %T", v)
}

func unsigned(u uint64) (scalar, error) {
	if u > math.MaxInt64 {
		return scalar{}, errors.Wrapf(ErrTypeMismatch, "%d overflows int64", u)
	}
	return scalar{kind: models.KindInteger, i: int64(u)}, nil
}

// An empty []any becomes a boolean array, the first kind that vacuously fits.
func encodeArray(items []any) (models.Value, error) {
	if len(items) == 0 {
		return models.BooleanArrayValue(nil), nil
	}

	elems := make([]scalar, len(items))
	for i, item := range items {
		s, err := encodeScalar(item)
		if err != nil {
			return models.Value{}, errors.Wrapf(ErrTypeMismatch, "array element %d: unsupported type %T", i, item)
		}
		if i > 0 && s.kind != elems[0].kind {
			return models.Value{}, errors.Wrapf(ErrTypeMismatch,
				"array is not homogeneous: element %d is %s, element 0 is %s", i, s.kind, elems[0].kind)
		}
		elems[i] = s
	}

	switch elems[0].kind {
	case models.KindBoolean:
		out := make([]bool, len(elems))
		for i, e := range elems {
			out[i] = e.b
		}
		return models.BooleanArrayValue(out), nil
	case models.KindInteger:
		out := make([]int64, len(elems))
		for i, e := range elems {
			out[i] = e.i
		}
		return models.IntegerArrayValue(out), nil
	case models.KindDouble:
		out := make([]float64, len(elems))
		for i, e := range elems {
			out[i] = e.d
		}
		return models.DoubleArrayValue(out), nil
	default:
		out := make([]string, len(elems))
		for i, e := range elems {
			out[i] = e.s
		}
		return models.StringArrayValue(out), nil
	}
}

// Decode renders a delivered value event as a record.
func Decode(ev models.ValueEvent) models.ValueRecord {
	typ := ev.Type
	if typ == "" {
		typ = ev.Value.Type()
	}
	return models.ValueRecord{
		Valid:      ev.Value.IsValid(),
		LastChange: FormatMicros(ev.LastChange),
		ServerTime: FormatMicros(ev.ServerTime),
		LocalTime:  FormatMicros(ev.Received),
		Type:       typ,
		Size:       ev.Value.Size(),
		Value:      ev.Value.Native(),
	}
}

// FormatMicros renders a microsecond unix timestamp in local time.
func FormatMicros(us int64) string {
	return time.UnixMicro(us).Local().Format(TimeLayout)
}

// MustEncode is Encode for values known to be supported, such as literals in
// tests and simulators.
func MustEncode(v any) models.Value {
	val, err := Encode(v)
	if err != nil {
		panic(fmt.Sprintf("codec: %v", err))
	}
	return val
}
