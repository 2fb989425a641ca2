package main

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"

	"golang.org/x/text/encoding/charmap"
)

// ScalingRule 原始整數到工程值的轉換規則
//
// 實作僅限本檔案中的 Identity、Linear 與 AsciiPacked。
type ScalingRule interface {
	String() string
	scalingRule()
}

// Identity 原值輸出
type Identity struct{}

// Linear value*Factor + Offset，Precision >= 0 時四捨五入到指定小數位數
type Linear struct {
	Factor    float64
	Offset    float64
	Precision int
}

// AsciiPacked 以 Big Endian 位元組解讀為字串，並移除 NUL
type AsciiPacked struct {
	Pad int // 保留欄位，目前未使用
}

func (Identity) scalingRule()    {}
func (Linear) scalingRule()      {}
func (AsciiPacked) scalingRule() {}

func (Identity) String() string { return "identical" }

func (l Linear) String() string {
	return fmt.Sprintf("linear(%s,%s,%d)",
		strconv.FormatFloat(l.Factor, 'g', -1, 64),
		strconv.FormatFloat(l.Offset, 'g', -1, 64),
		l.Precision,
	)
}

func (a AsciiPacked) String() string { return fmt.Sprintf("ascii(%d)", a.Pad) }

// ValueKind 解碼值類型
type ValueKind int

const (
	ValueInteger ValueKind = iota
	ValueFloat
	ValueText
)

func (k ValueKind) String() string {
	switch k {
	case ValueInteger:
		return "integer"
	case ValueFloat:
		return "float"
	case ValueText:
		return "text"
	default:
		return "unknown"
	}
}

// DecodedValue 已縮放的欄位值
type DecodedValue struct {
	Kind  ValueKind
	Int   *big.Int
	Float float64
	Text  string
}

// IntegerValue 建立整數值
func IntegerValue(v *big.Int) DecodedValue {
	return DecodedValue{Kind: ValueInteger, Int: new(big.Int).Set(v)}
}

// FloatValue 建立浮點值
func FloatValue(f float64) DecodedValue {
	return DecodedValue{Kind: ValueFloat, Float: f}
}

// TextValue 建立文字值
func TextValue(s string) DecodedValue {
	return DecodedValue{Kind: ValueText, Text: s}
}

// Numeric 取得數值 (文字值回傳 false)
func (v DecodedValue) Numeric() (float64, bool) {
	switch v.Kind {
	case ValueInteger:
		if v.Int == nil {
			return 0, false
		}
		f, _ := new(big.Float).SetInt(v.Int).Float64()
		return f, true
	case ValueFloat:
		return v.Float, true
	default:
		return 0, false
	}
}

// Equal 比較兩個解碼值
func (v DecodedValue) Equal(other DecodedValue) bool {
	if v.Kind != other.Kind {
		return false
	}
	switch v.Kind {
	case ValueInteger:
		if v.Int == nil || other.Int == nil {
			return v.Int == other.Int
		}
		return v.Int.Cmp(other.Int) == 0
	case ValueFloat:
		return v.Float == other.Float
	default:
		return v.Text == other.Text
	}
}

func (v DecodedValue) String() string {
	switch v.Kind {
	case ValueInteger:
		if v.Int == nil {
			return "0"
		}
		return v.Int.String()
	case ValueFloat:
		return strconv.FormatFloat(v.Float, 'f', -1, 64)
	default:
		return v.Text
	}
}

// MarshalJSON 整數與浮點輸出為 JSON 數字，文字輸出為字串
func (v DecodedValue) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case ValueInteger, ValueFloat:
		if v.Kind == ValueFloat && (math.IsNaN(v.Float) || math.IsInf(v.Float, 0)) {
			return nil, fmt.Errorf("無法序列化非有限數值: %v", v.Float)
		}
		return []byte(v.String()), nil
	default:
		return json.Marshal(v.Text)
	}
}

// Scale 依規則轉換解碼後的整數
func Scale(rule ScalingRule, value *big.Int) (DecodedValue, error) {
	switch r := rule.(type) {
	case Identity:
		return IntegerValue(value), nil
	case Linear:
		return FloatValue(r.apply(value)), nil
	case AsciiPacked:
		text, err := r.apply(value)
		if err != nil {
			return DecodedValue{}, err
		}
		return TextValue(text), nil
	default:
		return DecodedValue{}, fmt.Errorf("不支援的縮放規則: %T", rule)
	}
}

func (l Linear) apply(value *big.Int) float64 {
	f, _ := new(big.Float).SetInt(value).Float64()
	result := f*l.Factor + l.Offset
	if l.Precision < 0 {
		return result
	}
	return roundTo(result, l.Precision)
}

// roundTo 以浮點數的精確二進位值四捨六入五成雙 (與設備原讀值工具一致)，
// 例如 0.015 實際略小於 0.015，因此得到 0.01。
func roundTo(x float64, precision int) float64 {
	if math.IsInf(x, 0) || math.IsNaN(x) {
		return x
	}
	rounded, err := strconv.ParseFloat(strconv.FormatFloat(x, 'f', precision, 64), 64)
	if err != nil {
		return x
	}
	return rounded
}

func (AsciiPacked) apply(value *big.Int) (string, error) {
	if value.Sign() < 0 {
		return "", ErrNegativeText
	}

	// big.Int.Bytes 即最小長度的 Big Endian 表示，已對齊位元組邊界
	raw := value.Bytes()
	decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(raw)
	if err != nil {
		return "", fmt.Errorf("文字解碼失敗: %w", err)
	}
	return strings.ReplaceAll(string(decoded), "\x00", ""), nil
}
