package main

import (
	"bytes"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
)

// FieldResult 單一欄位的讀取結果，Err 非 nil 時 Value 無效
type FieldResult struct {
	Field RegisterField
	Value DecodedValue
	Err   error
}

// OK 是否讀取成功
func (r FieldResult) OK() bool {
	return r.Err == nil
}

// BatchResult 一次完整讀取的結果，順序與暫存器表相同
type BatchResult struct {
	Results []FieldResult
	index   map[string]int
}

func newBatchResult(capacity int) *BatchResult {
	return &BatchResult{
		Results: make([]FieldResult, 0, capacity),
		index:   make(map[string]int, capacity),
	}
}

func (b *BatchResult) add(r FieldResult) {
	b.index[r.Field.Name] = len(b.Results)
	b.Results = append(b.Results, r)
}

// Len 結果數量 (恆等於暫存器表欄位數)
func (b *BatchResult) Len() int {
	return len(b.Results)
}

// Get 依名稱取得結果
func (b *BatchResult) Get(name string) (FieldResult, bool) {
	i, ok := b.index[name]
	if !ok {
		return FieldResult{}, false
	}
	return b.Results[i], true
}

// Failed 失敗的欄位數量
func (b *BatchResult) Failed() int {
	n := 0
	for _, r := range b.Results {
		if r.Err != nil {
			n++
		}
	}
	return n
}

// Equal 比較兩次讀取結果
func (b *BatchResult) Equal(other *BatchResult) bool {
	if b.Len() != other.Len() {
		return false
	}
	for i, r := range b.Results {
		o := other.Results[i]
		if r.Field.Name != o.Field.Name || (r.Err == nil) != (o.Err == nil) {
			return false
		}
		if r.Err != nil {
			if r.Err.Error() != o.Err.Error() {
				return false
			}
			continue
		}
		if !r.Value.Equal(o.Value) {
			return false
		}
	}
	return true
}

type fieldErrorJSON struct {
	Error string `json:"error"`
}

// MarshalJSON 依暫存器表順序輸出物件，失敗欄位輸出為 {"error": "..."}
func (b *BatchResult) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, r := range b.Results {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(r.Field.Name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')

		var val []byte
		if r.Err != nil {
			val, err = json.Marshal(fieldErrorJSON{Error: r.Err.Error()})
		} else {
			val, err = r.Value.MarshalJSON()
		}
		if err != nil {
			return nil, fmt.Errorf("序列化欄位 %s 失敗: %w", r.Field.Name, err)
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Reader 依暫存器表讀取並解碼欄位
type Reader struct {
	transport Transport
	schema    *Schema
	logger    *zap.Logger
}

// ReaderOption Reader 選項
type ReaderOption func(*Reader)

// WithReaderLogger 設定日誌
func WithReaderLogger(logger *zap.Logger) ReaderOption {
	return func(r *Reader) {
		r.logger = logger
	}
}

// NewReader 建立 Reader
func NewReader(transport Transport, schema *Schema, opts ...ReaderOption) *Reader {
	r := &Reader{
		transport: transport,
		schema:    schema,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Schema 取得暫存器表
func (r *Reader) Schema() *Schema {
	return r.schema
}

// ReadField 讀取單一欄位，不重試
func (r *Reader) ReadField(field RegisterField) (DecodedValue, error) {
	if r.transport == nil {
		return DecodedValue{}, &FieldError{Field: field.Name, Address: field.Address, Kind: KindCommunication, Err: ErrNoTransport}
	}

	words, err := r.transport.ReadHoldingRegisters(field.Address, uint16(field.Words))
	if err != nil {
		return DecodedValue{}, &FieldError{Field: field.Name, Address: field.Address, Kind: KindCommunication, Err: err}
	}
	if len(words) < field.Words {
		return DecodedValue{}, &FieldError{
			Field:   field.Name,
			Address: field.Address,
			Kind:    KindCommunication,
			Err:     fmt.Errorf("%w: 預期 %d，收到 %d", ErrShortResponse, field.Words, len(words)),
		}
	}

	return decodeField(field, words[:field.Words])
}

func decodeField(field RegisterField, words []uint16) (DecodedValue, error) {
	raw, err := Assemble(words, field.Signedness)
	if err != nil {
		return DecodedValue{}, &FieldError{Field: field.Name, Address: field.Address, Kind: KindDecode, Err: err}
	}

	value, err := Scale(field.Scaling, raw)
	if err != nil {
		return DecodedValue{}, &FieldError{Field: field.Name, Address: field.Address, Kind: KindDecode, Err: err}
	}
	return value, nil
}

// ReadAll 依序讀取暫存器表中所有欄位
//
// 欄位失敗只記錄在結果中，不中斷整批讀取，結果數量恆等於欄位數量。
func (r *Reader) ReadAll() *BatchResult {
	fields := r.schema.Fields()
	batch := newBatchResult(len(fields))

	for _, f := range fields {
		value, err := r.ReadField(f)
		if err != nil {
			r.logger.Debug("讀取欄位失敗",
				zap.String("field", f.Name),
				zap.Uint16("address", f.Address),
				zap.Error(err),
			)
		}
		batch.add(FieldResult{Field: f, Value: value, Err: err})
	}

	if failed := batch.Failed(); failed > 0 {
		r.logger.Warn("部分欄位讀取失敗",
			zap.Int("failed", failed),
			zap.Int("total", batch.Len()),
		)
	}

	return batch
}
