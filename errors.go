package main

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedSignedness 不支援的正負號類型
	ErrUnsupportedSignedness = errors.New("不支援的暫存器類型")

	// ErrNegativeText 負數無法解讀為文字
	ErrNegativeText = errors.New("負數無法轉換為 ASCII")

	// ErrShortResponse 回應的暫存器數量不足
	ErrShortResponse = errors.New("回應暫存器數量不足")

	// ErrNoTransport 未設定傳輸層
	ErrNoTransport = errors.New("未設定傳輸層")
)

// ErrorKind 欄位錯誤分類
type ErrorKind int

const (
	// KindCommunication 逾時、框架錯誤或無回應
	KindCommunication ErrorKind = iota
	// KindDecode 暫存器定義無法解碼
	KindDecode
)

func (k ErrorKind) String() string {
	switch k {
	case KindCommunication:
		return "communication"
	case KindDecode:
		return "decode"
	default:
		return "unknown"
	}
}

// FieldError 單一欄位讀取失敗
type FieldError struct {
	Field   string
	Address uint16
	Kind    ErrorKind
	Err     error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s 錯誤 (%s @ 0x%04x): %v", e.Kind, e.Field, e.Address, e.Err)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

// IsCommunication 判斷錯誤是否為通訊錯誤
func IsCommunication(err error) bool {
	var fe *FieldError
	return errors.As(err, &fe) && fe.Kind == KindCommunication
}

// IsDecode 判斷錯誤是否為解碼錯誤
func IsDecode(err error) bool {
	var fe *FieldError
	return errors.As(err, &fe) && fe.Kind == KindDecode
}
