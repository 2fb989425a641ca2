package main

import (
	"fmt"
)

// RegisterField 單一暫存器欄位定義
type RegisterField struct {
	Name       string
	Address    uint16
	Words      int
	Signedness Signedness
	Scaling    ScalingRule
	Unit       string
}

// Validate 驗證欄位定義
func (f RegisterField) Validate() error {
	if f.Name == "" {
		return fmt.Errorf("欄位名稱不可為空 (位址 0x%04x)", f.Address)
	}
	if f.Words < 1 || f.Words > MaxFieldWords {
		return fmt.Errorf("欄位 %s 字數無效: %d (範圍 1-%d)", f.Name, f.Words, MaxFieldWords)
	}
	if int(f.Address)+f.Words > 0x10000 {
		return fmt.Errorf("欄位 %s 位址超出範圍: 0x%04x+%d", f.Name, f.Address, f.Words)
	}
	if !f.Signedness.Valid() {
		return fmt.Errorf("欄位 %s: %w: %d", f.Name, ErrUnsupportedSignedness, f.Signedness)
	}
	switch f.Scaling.(type) {
	case Identity, Linear, AsciiPacked:
	default:
		return fmt.Errorf("欄位 %s 縮放規則無效: %T", f.Name, f.Scaling)
	}
	return nil
}

// Schema 依宣告順序排列的唯讀暫存器表
type Schema struct {
	fields []RegisterField
	index  map[string]int
}

// NewSchema 建立暫存器表，名稱重複或定義無效時回傳錯誤
func NewSchema(fields ...RegisterField) (*Schema, error) {
	s := &Schema{
		fields: make([]RegisterField, 0, len(fields)),
		index:  make(map[string]int, len(fields)),
	}

	for _, f := range fields {
		if err := f.Validate(); err != nil {
			return nil, err
		}
		if _, dup := s.index[f.Name]; dup {
			return nil, fmt.Errorf("欄位名稱重複: %s", f.Name)
		}
		s.index[f.Name] = len(s.fields)
		s.fields = append(s.fields, f)
	}

	return s, nil
}

// MustSchema 同 NewSchema，失敗時 panic (僅用於靜態定義)
func MustSchema(fields ...RegisterField) *Schema {
	s, err := NewSchema(fields...)
	if err != nil {
		panic(err)
	}
	return s
}

// Len 欄位數量
func (s *Schema) Len() int {
	return len(s.fields)
}

// Fields 依宣告順序回傳所有欄位的副本
func (s *Schema) Fields() []RegisterField {
	out := make([]RegisterField, len(s.fields))
	copy(out, s.fields)
	return out
}

// Field 依名稱取得欄位
func (s *Schema) Field(name string) (RegisterField, bool) {
	i, ok := s.index[name]
	if !ok {
		return RegisterField{}, false
	}
	return s.fields[i], true
}

// Names 依宣告順序回傳欄位名稱
func (s *Schema) Names() []string {
	names := make([]string, len(s.fields))
	for i, f := range s.fields {
		names[i] = f.Name
	}
	return names
}

// 探測時使用的欄位
const (
	FieldModel  = "model"
	FieldSerial = "serial"
)

func uintField(name string, address uint16, words int, rule ScalingRule, unit string) RegisterField {
	return RegisterField{Name: name, Address: address, Words: words, Signedness: Unsigned, Scaling: rule, Unit: unit}
}

func unknownField(address uint16) RegisterField {
	return uintField(fmt.Sprintf("unknown_0x%04x", address), address, 1, Identity{}, "")
}

func unknownFields(addresses ...uint16) []RegisterField {
	fields := make([]RegisterField, len(addresses))
	for i, a := range addresses {
		fields[i] = unknownField(a)
	}
	return fields
}

func addressRange(from, to uint16) []uint16 {
	out := make([]uint16, 0, int(to-from)+1)
	for a := from; a <= to; a++ {
		out = append(out, a)
	}
	return out
}

// DefaultSchema 鋰鐵智慧電池 BMS 的暫存器表
//
// 欄位順序即輸出順序。名稱為 unknown_0x.... 的欄位用途尚未確認，保留原值輸出。
func DefaultSchema() *Schema {
	var fields []RegisterField
	add := func(f ...RegisterField) { fields = append(fields, f...) }

	volt := Linear{Factor: 0.1, Offset: 0, Precision: 2}
	temp := Linear{Factor: 0.1, Offset: 0, Precision: -1}

	add(uintField("cell_count", 0x1388, 1, Identity{}, "cells"))
	add(
		uintField("cellvoltage_1", 0x1389, 1, volt, "V"),
		uintField("cellvoltage_2", 0x138a, 1, volt, "V"),
		uintField("cellvoltage_3", 0x138b, 1, volt, "V"),
		uintField("cellvoltage_4", 0x138c, 1, volt, "V"),
	)
	add(unknownFields(addressRange(0x138d, 0x1390)...)...)
	add(
		uintField("celltemp_1", 0x139a, 1, temp, "°c"),
		uintField("celltemp_2", 0x139b, 1, temp, "°c"),
		uintField("celltemp_3", 0x139c, 1, temp, "°c"),
		uintField("celltemp_4", 0x139d, 1, temp, "°c"),
	)
	add(unknownFields(addressRange(0x1391, 0x1399)...)...)
	add(unknownFields(addressRange(0x139e, 0x13a9)...)...)
	add(unknownFields(addressRange(0x13ab, 0x13b1)...)...)
	add(
		RegisterField{Name: "current", Address: 0x13b2, Words: 1, Signedness: Signed, Scaling: volt, Unit: "A"},
		uintField("voltage", 0x13b3, 1, volt, "V"),
		uintField("remaining_charge", 0x13b4, 2, Linear{Factor: 0.001, Offset: 0, Precision: 2}, "Ah"),
		uintField("charge_capacity", 0x13b6, 2, Linear{Factor: 0.001, Offset: 0, Precision: -1}, "Ah"),
	)
	add(unknownFields(0x13b7, 0x13b8)...)
	add(
		uintField("maximum_voltage?", 0x13b9, 1, Linear{Factor: 0.1, Offset: 0, Precision: 1}, "V"),
		uintField("minimum_voltage?", 0x13ba, 1, Linear{Factor: 0.1, Offset: 0, Precision: 1}, "V"),
	)
	add(unknownFields(0x13bb, 0x13bc, 0x13ec, 0x13ed, 0x13ee)...)
	add(uintField("heater_level", 0x13ef, 1, Linear{Factor: 1, Offset: 0, Precision: 0}, "%"))
	add(unknownFields(addressRange(0x13f0, 0x13f5)...)...)
	add(uintField(FieldSerial, 0x13f6, 8, AsciiPacked{}, ""))
	add(unknownFields(addressRange(0x13fe, 0x1401)...)...)
	add(
		uintField(FieldModel, 0x1402, 8, AsciiPacked{}, ""),
		uintField("firmware_version", 0x140a, 2, AsciiPacked{}, ""),
		uintField("manufacturer", 0x140c, 4, AsciiPacked{}, ""),
	)
	add(unknownFields(addressRange(0x1410, 0x1415)...)...)
	add(unknownFields(addressRange(0x1450, 0x1466)...)...)
	add(uintField("device_address_echo", 0x1467, 1, Identity{}, ""))

	return MustSchema(fields...)
}
