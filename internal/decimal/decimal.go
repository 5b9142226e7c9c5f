// Package decimal wraps apd with a value type suited to money and energy amounts.
package decimal

import (
	"database/sql/driver"
	"encoding/json"
	"strconv"

	"github.com/cockroachdb/apd/v3"
	"github.com/pkg/errors"
)

const precision = 34

type Decimal struct {
	value apd.Decimal
}

// ErrNotFinite rejects NaN and infinities, which have no JSON or SQL form.
var ErrNotFinite = errors.New("decimal is not finite")

func New(s string) (Decimal, error) {
	var d apd.Decimal
	if _, _, err := d.SetString(s); err != nil {
		return Decimal{}, errors.Wrapf(err, "invalid decimal %q", s)
	}
	if d.Form != apd.Finite {
		return Decimal{}, errors.Wrapf(ErrNotFinite, "%q", s)
	}
	return Decimal{value: d}, nil
}

// MustNew is New for constants; it panics on malformed input.
func MustNew(s string) Decimal {
	d, err := New(s)
	if err != nil {
		panic(err)
	}
	return d
}

func FromInt64(i int64) Decimal {
	var d apd.Decimal
	d.SetInt64(i)
	return Decimal{value: d}
}

func FromFloat(f float64) Decimal {
	d, err := New(strconv.FormatFloat(f, 'f', -1, 64))
	if err != nil {
		return Decimal{}
	}
	return d
}

func Zero() Decimal { return Decimal{} }

func newContext() *apd.Context {
	return apd.BaseContext.WithPrecision(precision)
}

func (d Decimal) Add(other Decimal) Decimal {
	var result apd.Decimal
	_, _ = newContext().Add(&result, &d.value, &other.value)
	return Decimal{value: result}
}

func (d Decimal) Sub(other Decimal) Decimal {
	var result apd.Decimal
	_, _ = newContext().Sub(&result, &d.value, &other.value)
	return Decimal{value: result}
}

func (d Decimal) Mul(other Decimal) Decimal {
	var result apd.Decimal
	_, _ = newContext().Mul(&result, &d.value, &other.value)
	return Decimal{value: result}
}

// Div returns d / other, or zero when other is zero.
func (d Decimal) Div(other Decimal) Decimal {
	if other.IsZero() {
		return Decimal{}
	}
	var result apd.Decimal
	_, _ = newContext().Quo(&result, &d.value, &other.value)
	return Decimal{value: result}
}

// Round quantizes to the given number of decimal places, half away from zero.
func (d Decimal) Round(places int32) Decimal {
	var result apd.Decimal
	ctx := newContext()
	ctx.Rounding = apd.RoundHalfUp
	if _, err := ctx.Quantize(&result, &d.value, -places); err != nil {
		return d
	}
	return Decimal{value: result}
}

func (d Decimal) Cmp(other Decimal) int { return d.value.Cmp(&other.value) }

func (d Decimal) Equal(other Decimal) bool { return d.Cmp(other) == 0 }

func (d Decimal) IsZero() bool { return d.value.IsZero() }

func (d Decimal) Sign() int { return d.value.Sign() }

func (d Decimal) LessThan(other Decimal) bool { return d.Cmp(other) < 0 }

func Min(a, b Decimal) Decimal {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}

func Max(a, b Decimal) Decimal {
	if a.Cmp(b) >= 0 {
		return a
	}
	return b
}

func (d Decimal) Float64() float64 {
	f, err := d.value.Float64()
	if err != nil {
		return 0
	}
	return f
}

// IntPart truncates toward zero.
func (d Decimal) IntPart() int64 {
	var result apd.Decimal
	ctx := newContext()
	ctx.Rounding = apd.RoundDown
	if _, err := ctx.Quantize(&result, &d.value, 0); err != nil {
		return 0
	}
	i, err := result.Int64()
	if err != nil {
		return 0
	}
	return i
}

// Int64 converts an integral value. It fails on fractions and on values
// outside the int64 range.
func (d Decimal) Int64() (int64, error) {
	i, err := d.value.Int64()
	if err != nil {
		return 0, errors.Wrapf(err, "decimal %s to int64", d)
	}
	return i, nil
}

func (d Decimal) String() string { return d.value.Text('f') }

func (d Decimal) MarshalJSON() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Decimal) UnmarshalJSON(b []byte) error {
	s := string(b)
	if s == "null" {
		*d = Decimal{}
		return nil
	}
	if unquoted, err := strconv.Unquote(s); err == nil {
		s = unquoted
	}
	v, err := New(s)
	if err != nil {
		return err
	}
	*d = v
	return nil
}

func (d *Decimal) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	v, err := New(s)
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// Value stores the decimal as text; queries cast it with ::numeric.
func (d Decimal) Value() (driver.Value, error) {
	return d.String(), nil
}

func (d *Decimal) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*d = Decimal{}
		return nil
	case string:
		return d.set(v)
	case []byte:
		return d.set(string(v))
	case int64:
		*d = FromInt64(v)
		return nil
	case float64:
		*d = FromFloat(v)
		return nil
	default:
		return errors.Errorf("cannot scan %T into decimal", src)
	}
}

func (d *Decimal) set(s string) error {
	v, err := New(s)
	if err != nil {
		return err
	}
	*d = v
	return nil
}

var _ json.Marshaler = Decimal{}
