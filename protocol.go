package main

import (
	"fmt"
	"strings"
)

// Modbus 協議常數
const (
	// Modbus 功能碼 (僅使用讀取保持暫存器)
	FuncCodeReadHoldingRegisters = 0x03

	// Modbus 異常碼
	ExceptionCodeIllegalDataAddress = 0x02
	ExceptionCodeIllegalDataValue   = 0x03

	// 暫存器限制
	MaxRegistersPerRead = 125

	// 單一欄位最多 8 個字 (128 位元整數或 16 字元字串)
	MaxFieldWords = 8

	// Slave 位址
	DefaultSlaveAddress = 0xF7 // 電池出廠預設位址
	MinSlaveAddress     = 0x00
	MaxSlaveAddress     = 0xF7 // 0xF8-0xFF 保留

	// RS-485 預設序列參數
	DefaultBaudRate = 9600
	DefaultDataBits = 8
	DefaultParity   = "N"
	DefaultStopBits = 1

	ModbusTCPDefaultPort = 502
)

// Signedness 整數正負號解讀方式
type Signedness int

const (
	Unsigned Signedness = iota
	Signed
)

func (s Signedness) String() string {
	switch s {
	case Unsigned:
		return "uint"
	case Signed:
		return "sint"
	default:
		return "unknown"
	}
}

// Valid 是否為支援的正負號類型
func (s Signedness) Valid() bool {
	return s == Unsigned || s == Signed
}

// ParseSignedness 解析正負號類型
func ParseSignedness(s string) (Signedness, error) {
	switch strings.ToLower(s) {
	case "uint", "unsigned":
		return Unsigned, nil
	case "sint", "signed":
		return Signed, nil
	default:
		return Unsigned, fmt.Errorf("%w: %q", ErrUnsupportedSignedness, s)
	}
}

// BytesToRegisters 將位元組陣列轉換為暫存器值 (Big Endian)
func BytesToRegisters(data []byte) []uint16 {
	registers := make([]uint16, len(data)/2)
	for i := range registers {
		registers[i] = uint16(data[i*2])<<8 | uint16(data[i*2+1])
	}
	return registers
}

// RegistersToBytes 將暫存器值轉換為位元組陣列 (Big Endian)
func RegistersToBytes(registers []uint16) []byte {
	bytes := make([]byte, len(registers)*2)
	for i, reg := range registers {
		bytes[i*2] = byte(reg >> 8)
		bytes[i*2+1] = byte(reg)
	}
	return bytes
}
