package decimal_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zdex/evcpms/internal/decimal"
)

func TestArithmetic(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		got  decimal.Decimal
		want string
	}{
		{name: "add", got: decimal.MustNew("0.1").Add(decimal.MustNew("0.2")), want: "0.3"},
		{name: "sub", got: decimal.MustNew("5").Sub(decimal.MustNew("7.5")), want: "-2.5"},
		{name: "mul", got: decimal.MustNew("4").Mul(decimal.MustNew("800")), want: "3200"},
		{name: "div", got: decimal.MustNew("8000").Div(decimal.MustNew("800")), want: "10"},
		{name: "div by zero", got: decimal.MustNew("1").Div(decimal.Zero()), want: "0"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.True(t, tt.got.Equal(decimal.MustNew(tt.want)), "got %s, want %s", tt.got, tt.want)
		})
	}
}

func TestRound(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "1.24", decimal.MustNew("1.235").Round(2).String())
	assert.Equal(t, "1.23", decimal.MustNew("1.2349").Round(2).String())
	assert.Equal(t, "3200.00", decimal.MustNew("3200").Round(2).String())
}

func TestIntPart(t *testing.T) {
	t.Parallel()

	assert.Equal(t, int64(4), decimal.MustNew("4.99").IntPart())
	assert.Equal(t, int64(15000), decimal.MustNew("15").Mul(decimal.FromInt64(1000)).IntPart())
}

func TestJSON(t *testing.T) {
	t.Parallel()

	b, err := json.Marshal(struct {
		Cost decimal.Decimal `json:"cost"`
	}{Cost: decimal.MustNew("12.50")})
	require.NoError(t, err)
	assert.JSONEq(t, `{"cost":12.50}`, string(b))

	var in struct {
		A decimal.Decimal `json:"a"`
		B decimal.Decimal `json:"b"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":"8000","b":0.5}`), &in))
	assert.True(t, in.A.Equal(decimal.FromInt64(8000)))
	assert.True(t, in.B.Equal(decimal.MustNew("0.5")))
}

func TestScan(t *testing.T) {
	t.Parallel()

	var d decimal.Decimal
	require.NoError(t, d.Scan("42.10"))
	assert.True(t, d.Equal(decimal.MustNew("42.1")))
	require.NoError(t, d.Scan([]byte("7")))
	assert.True(t, d.Equal(decimal.FromInt64(7)))
	require.Error(t, d.Scan(true))
}

func TestRejectsNonFinite(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"NaN", "sNaN", "Infinity", "-Inf"} {
		_, err := decimal.New(in)
		assert.ErrorIs(t, err, decimal.ErrNotFinite, in)
	}

	var d decimal.Decimal
	assert.Error(t, json.Unmarshal([]byte(`"NaN"`), &d))
	assert.Error(t, d.Scan("Infinity"))
}

func TestInt64(t *testing.T) {
	t.Parallel()

	i, err := decimal.MustNew("1235").Int64()
	require.NoError(t, err)
	assert.Equal(t, int64(1235), i)

	_, err = decimal.MustNew("1e30").Int64()
	assert.Error(t, err)
	_, err = decimal.MustNew("1.5").Int64()
	assert.Error(t, err)
}
