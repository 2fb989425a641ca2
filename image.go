package main

import (
	"fmt"
	"math"
	"sync"

	"golang.org/x/text/encoding/charmap"
)

// RegisterImage 線程安全的保持暫存器映像 (模擬電池使用)
type RegisterImage struct {
	mu sync.RWMutex

	holding []uint16
	schema  *Schema
}

// NewRegisterImage 建立涵蓋完整 16 位元位址空間的映像
func NewRegisterImage(schema *Schema) *RegisterImage {
	return &RegisterImage{
		holding: make([]uint16, 0x10000),
		schema:  schema,
	}
}

// ReadHoldingRegisters 讀取多個保持暫存器
func (ri *RegisterImage) ReadHoldingRegisters(address, quantity uint16) ([]uint16, error) {
	ri.mu.RLock()
	defer ri.mu.RUnlock()

	end := int(address) + int(quantity)
	if end > len(ri.holding) {
		return nil, fmt.Errorf("保持暫存器位址超出範圍: %d-%d", address, end-1)
	}

	result := make([]uint16, quantity)
	copy(result, ri.holding[address:end])
	return result, nil
}

// WriteHoldingRegisters 寫入多個保持暫存器
func (ri *RegisterImage) WriteHoldingRegisters(address uint16, values []uint16) error {
	ri.mu.Lock()
	defer ri.mu.Unlock()

	end := int(address) + len(values)
	if end > len(ri.holding) {
		return fmt.Errorf("保持暫存器位址超出範圍: %d-%d", address, end-1)
	}

	copy(ri.holding[address:end], values)
	return nil
}

// Snapshot 取得完整暫存器陣列的副本 (供 mbserver 使用)
func (ri *RegisterImage) Snapshot() []uint16 {
	ri.mu.RLock()
	defer ri.mu.RUnlock()

	result := make([]uint16, len(ri.holding))
	copy(result, ri.holding)
	return result
}

// SetValue 以工程值寫入欄位 (套用反向縮放)
func (ri *RegisterImage) SetValue(name string, value float64) error {
	f, ok := ri.schema.Field(name)
	if !ok {
		return fmt.Errorf("未定義的欄位: %s", name)
	}
	words, err := EncodeNumeric(f, value)
	if err != nil {
		return err
	}
	return ri.WriteHoldingRegisters(f.Address, words)
}

// SetText 寫入文字欄位
func (ri *RegisterImage) SetText(name, text string) error {
	f, ok := ri.schema.Field(name)
	if !ok {
		return fmt.Errorf("未定義的欄位: %s", name)
	}
	words, err := EncodeText(f, text)
	if err != nil {
		return err
	}
	return ri.WriteHoldingRegisters(f.Address, words)
}

// EncodeNumeric 將工程值轉回設備端的暫存器字
//
// 有號欄位以設備的二補數格式寫入，讀回時會套用解碼端的有號修正。
func EncodeNumeric(f RegisterField, value float64) ([]uint16, error) {
	raw := value
	switch r := f.Scaling.(type) {
	case Identity:
	case Linear:
		if r.Factor == 0 {
			return nil, fmt.Errorf("欄位 %s 縮放係數為 0", f.Name)
		}
		raw = (value - r.Offset) / r.Factor
	default:
		return nil, fmt.Errorf("欄位 %s 不是數值欄位", f.Name)
	}

	bits := uint(16 * f.Words)
	if bits > 64 {
		return nil, fmt.Errorf("欄位 %s 超過 64 位元，無法以數值寫入", f.Name)
	}

	n := int64(math.Round(raw))
	var u uint64
	if n < 0 {
		if f.Signedness != Signed {
			n = 0
		}
		u = uint64(n)
		if bits < 64 {
			u &= (uint64(1) << bits) - 1
		}
	} else {
		u = uint64(n)
		if bits < 64 && u >= uint64(1)<<bits {
			u = (uint64(1) << bits) - 1
		}
	}

	words := make([]uint16, f.Words)
	for i := range words {
		shift := uint(16 * (f.Words - i - 1))
		words[i] = uint16(u >> shift)
	}
	return words, nil
}

// EncodeText 將字串轉為暫存器字，不足部分補 NUL
func EncodeText(f RegisterField, text string) ([]uint16, error) {
	if _, ok := f.Scaling.(AsciiPacked); !ok {
		return nil, fmt.Errorf("欄位 %s 不是文字欄位", f.Name)
	}

	encoded, err := charmap.ISO8859_1.NewEncoder().String(text)
	if err != nil {
		return nil, fmt.Errorf("欄位 %s 文字編碼失敗: %w", f.Name, err)
	}

	buf := make([]byte, f.Words*2)
	copy(buf, encoded)
	return BytesToRegisters(buf), nil
}
