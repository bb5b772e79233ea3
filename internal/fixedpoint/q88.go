// Package fixedpoint implements Q8.8 signed fixed-point arithmetic.
//
// All ML math in the autonomy tick (inference, policy thresholds, dispatch
// hysteresis) uses this representation instead of floating point, so that
// inference is bit-identical across platforms and has a bounded worst-case
// execution time — floating point's variable-latency denormals and
// platform-dependent rounding are exactly what the tick cannot tolerate.
//
// A Q88 value is a plain int32: the high 24 bits are the signed integer
// part, the low 8 bits are the fractional part (1/256 units).
package fixedpoint

import "fmt"

// Q88 is a signed Q8.8 fixed-point scalar.
type Q88 int32

const (
	fracBits = 8
	one      = Q88(1 << fracBits)

	// Max and Min bound the representable range; arithmetic saturates at
	// these instead of wrapping, matching the telemetry counters' saturate-
	// not-wrap failure model.
	Max = Q88(1<<31 - 1)
	Min = Q88(-1 << 31)
)

// FromInt converts a plain integer to Q8.8.
func FromInt(v int32) Q88 { return Q88(v) << fracBits }

// FromFloat64 converts a float64 to Q8.8. Only used at configuration-load
// boundaries (weight deserialization, threshold parsing) — never inside the
// autonomy tick itself.
func FromFloat64(v float64) Q88 {
	return Q88(v * float64(one))
}

// Float64 converts back to float64, for logging/JSON serialization only.
func (q Q88) Float64() float64 {
	return float64(q) / float64(one)
}

// Int rounds toward negative infinity (floor) to a plain integer part.
func (q Q88) Int() int32 {
	return int32(q) >> fracBits
}

// Add saturates on overflow.
func Add(a, b Q88) Q88 {
	sum := int64(a) + int64(b)
	return saturate(sum)
}

// Sub saturates on overflow.
func Sub(a, b Q88) Q88 {
	diff := int64(a) - int64(b)
	return saturate(diff)
}

// Mul multiplies two Q8.8 values, saturating on overflow. The intermediate
// product is computed in 64-bit before rescaling to avoid the 32-bit
// overflow a naive (a*b)>>8 would hit.
func Mul(a, b Q88) Q88 {
	product := (int64(a) * int64(b)) >> fracBits
	return saturate(product)
}

// Div divides a by b, saturating on overflow. Division by zero returns Max
// (positive a) or Min (negative a) or 0 (a == 0) rather than panicking —
// the autonomy tick must never panic on malformed telemetry.
func Div(a, b Q88) Q88 {
	if b == 0 {
		switch {
		case a > 0:
			return Max
		case a < 0:
			return Min
		default:
			return 0
		}
	}
	quotient := (int64(a) << fracBits) / int64(b)
	return saturate(quotient)
}

// Clamp restricts q to [lo, hi].
func Clamp(q, lo, hi Q88) Q88 {
	if q < lo {
		return lo
	}
	if q > hi {
		return hi
	}
	return q
}

func saturate(v int64) Q88 {
	if v > int64(Max) {
		return Max
	}
	if v < int64(Min) {
		return Min
	}
	return Q88(v)
}

// String renders the value as a decimal, e.g. "12.750000" — decision traces
// serialize Q8.8 values as decimal strings to avoid precision drift across
// re-parsing (spec for decision-trace JSON fields).
func (q Q88) String() string {
	return fmt.Sprintf("%.6f", q.Float64())
}

// MarshalJSON serializes as a decimal string.
func (q Q88) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%q", q.String())), nil
}
