package main

import (
	"fmt"
	"math/big"
)

// signBitThreshold 最高位字超過此值時視為負數
const signBitThreshold = 32768

// Assemble 將多個 16 位元字組合為一個整數
//
// 第一個字為最高有效位 (Big Endian)。有號數的修正方式沿用設備既有讀值：
// 最高位字大於 32768 時，只從組合後的數值減去 32768，並非完整的二補數換算。
// 例如單字 40000 會得到 7232 而不是 -25536。
func Assemble(words []uint16, signedness Signedness) (*big.Int, error) {
	if !signedness.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedSignedness, signedness)
	}

	value := new(big.Int)
	word := new(big.Int)
	for i, w := range words {
		shift := uint(16 * (len(words) - i - 1))
		word.SetUint64(uint64(w))
		value.Or(value, word.Lsh(word, shift))
	}

	if signedness == Signed && len(words) > 0 && words[0] > signBitThreshold {
		value.Sub(value, big.NewInt(signBitThreshold))
	}

	return value, nil
}
