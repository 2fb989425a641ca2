package main

import (
	"math/big"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScale_Identity(t *testing.T) {
	v, err := Scale(Identity{}, big.NewInt(4))
	require.NoError(t, err)
	assert.Equal(t, ValueInteger, v.Kind)
	assert.Equal(t, "4", v.String())
}

func TestScale_Linear(t *testing.T) {
	tests := []struct {
		name     string
		rule     Linear
		raw      int64
		expected float64
	}{
		{"cell voltage", Linear{Factor: 0.1, Precision: 2}, 33, 3.3},
		{"pack voltage", Linear{Factor: 0.1, Precision: 2}, 375, 37.5},
		{"remaining charge", Linear{Factor: 0.001, Precision: 2}, 80123, 80.12},
		{"unit factor", Linear{Factor: 1, Precision: 0}, 42, 42},
		{"offset", Linear{Factor: 0.1, Offset: -40, Precision: 1}, 650, 25},
		{"no rounding", Linear{Factor: 0.001, Precision: -1}, 100000, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := Scale(tt.rule, big.NewInt(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, ValueFloat, v.Kind)
			assert.InDelta(t, tt.expected, v.Float, 1e-9)
		})
	}
}

func TestScale_LinearRoundsToPrecision(t *testing.T) {
	v, err := Scale(Linear{Factor: 0.001, Precision: 2}, big.NewInt(12346))
	require.NoError(t, err)
	assert.Equal(t, 12.35, v.Float)
	assert.Equal(t, "12.35", v.String())
}

func TestScale_LinearRoundsExactBinaryValue(t *testing.T) {
	tests := []struct {
		raw      int64
		expected float64
	}{
		{15, 0.01},
		{125, 0.12},
		{80125, 80.12},
		{80135, 80.14},
		{12346, 12.35},
	}

	for _, tt := range tests {
		t.Run(strconv.FormatInt(tt.raw, 10), func(t *testing.T) {
			v, err := Scale(Linear{Factor: 0.001, Precision: 2}, big.NewInt(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, v.Float)
		})
	}
}

func TestScale_AsciiPacked(t *testing.T) {
	words := BytesToRegisters([]byte("RBT100\x00\x00"))
	raw, err := Assemble(words, Unsigned)
	require.NoError(t, err)

	v, err := Scale(AsciiPacked{}, raw)
	require.NoError(t, err)
	assert.Equal(t, ValueText, v.Kind)
	assert.Equal(t, "RBT100", v.Text)
}

func TestScale_AsciiPackedStripsEmbeddedNul(t *testing.T) {
	raw, err := Assemble(BytesToRegisters([]byte("\x00AB\x00CD\x00\x00")), Unsigned)
	require.NoError(t, err)

	v, err := Scale(AsciiPacked{}, raw)
	require.NoError(t, err)
	assert.Equal(t, "ABCD", v.Text)
}

func TestScale_AsciiPackedZero(t *testing.T) {
	v, err := Scale(AsciiPacked{}, big.NewInt(0))
	require.NoError(t, err)
	assert.Equal(t, "", v.Text)
}

func TestScale_AsciiPackedLatin1(t *testing.T) {
	v, err := Scale(AsciiPacked{}, big.NewInt(0xE9))
	require.NoError(t, err)
	assert.Equal(t, "é", v.Text)
}

func TestScale_AsciiPackedNegative(t *testing.T) {
	_, err := Scale(AsciiPacked{}, big.NewInt(-1))
	assert.ErrorIs(t, err, ErrNegativeText)
}

func TestScalingRule_String(t *testing.T) {
	assert.Equal(t, "identical", Identity{}.String())
	assert.Equal(t, "linear(0.1,0,2)", Linear{Factor: 0.1, Precision: 2}.String())
	assert.Equal(t, "linear(0.001,0,-1)", Linear{Factor: 0.001, Precision: -1}.String())
	assert.Equal(t, "ascii(0)", AsciiPacked{}.String())
}

func TestDecodedValue_MarshalJSON(t *testing.T) {
	tests := []struct {
		name     string
		value    DecodedValue
		expected string
	}{
		{"integer", IntegerValue(big.NewInt(4)), `4`},
		{"float", FloatValue(37.5), `37.5`},
		{"whole float", FloatValue(100), `100`},
		{"text", TextValue(`RBT"100`), `"RBT\"100"`},
		{"large integer", IntegerValue(new(big.Int).Lsh(big.NewInt(1), 100)), `1267650600228229401496703205376`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := tt.value.MarshalJSON()
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(data))
		})
	}
}

func TestDecodedValue_Equal(t *testing.T) {
	assert.True(t, IntegerValue(big.NewInt(5)).Equal(IntegerValue(big.NewInt(5))))
	assert.False(t, IntegerValue(big.NewInt(5)).Equal(FloatValue(5)))
	assert.True(t, TextValue("a").Equal(TextValue("a")))
	assert.False(t, FloatValue(1.5).Equal(FloatValue(1.25)))
}

func TestDecodedValue_Numeric(t *testing.T) {
	f, ok := IntegerValue(big.NewInt(12)).Numeric()
	assert.True(t, ok)
	assert.Equal(t, 12.0, f)

	_, ok = TextValue("x").Numeric()
	assert.False(t, ok)
}
