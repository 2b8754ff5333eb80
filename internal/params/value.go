// Package params rewrites named-parameter SQL into dialect positional form
// and guards parameter values before any connection is touched.
package params

import (
	"time"

	"github.com/LeonAdeoye/query-service/internal/errcode"
)

type Kind int

const (
	KindText Kind = iota
	KindInt
	KindFloat
	KindBool
	KindTime
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindTime:
		return "time"
	default:
		return "unknown"
	}
}

// Value is the closed set of bindable parameter values. Each variant has
// exactly one conversion rule to its wire representation.
type Value struct {
	Kind  Kind
	Text  string
	Int   int64
	Float float64
	Bool  bool
	Time  time.Time
}

// Bind classifies a raw parameter value into a variant, rejecting anything
// outside {text, numeric, boolean, temporal}.
func Bind(raw any) (Value, error) {
	switch v := raw.(type) {
	case string:
		return Value{Kind: KindText, Text: v}, nil
	case bool:
		return Value{Kind: KindBool, Bool: v}, nil
	case int:
		return Value{Kind: KindInt, Int: int64(v)}, nil
	case int32:
		return Value{Kind: KindInt, Int: int64(v)}, nil
	case int64:
		return Value{Kind: KindInt, Int: v}, nil
	case float32:
		return Value{Kind: KindFloat, Float: float64(v)}, nil
	case float64:
		return Value{Kind: KindFloat, Float: v}, nil
	case time.Time:
		return Value{Kind: KindTime, Time: v}, nil
	default:
		return Value{}, errcode.New(errcode.ParameterValidation,
			"unsupported parameter type: %T", raw)
	}
}

// Wire converts the variant to the value handed to the driver. Temporal
// values are normalized to UTC; everything else passes through unchanged.
func (v Value) Wire() any {
	switch v.Kind {
	case KindText:
		return v.Text
	case KindInt:
		return v.Int
	case KindFloat:
		return v.Float
	case KindBool:
		return v.Bool
	case KindTime:
		return v.Time.UTC()
	default:
		return nil
	}
}
