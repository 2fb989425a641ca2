package main

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errFakeTimeout = errors.New("逾時")

// fakeTransport 依 slave 位址保存暫存器內容，可指定特定位址失敗
type fakeTransport struct {
	mu       sync.Mutex
	devices  map[uint8]map[uint16]uint16
	failAt   map[uint16]error
	selected uint8
	timeout  time.Duration
	reads    int
	selects  []uint8
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		devices: make(map[uint8]map[uint16]uint16),
		failAt:  make(map[uint16]error),
		timeout: time.Second,
	}
}

func (f *fakeTransport) setWords(slave uint8, address uint16, words ...uint16) {
	regs, ok := f.devices[slave]
	if !ok {
		regs = make(map[uint16]uint16)
		f.devices[slave] = regs
	}
	for i, w := range words {
		regs[address+uint16(i)] = w
	}
}

func (f *fakeTransport) setText(slave uint8, address uint16, words int, text string) {
	buf := make([]byte, words*2)
	copy(buf, text)
	f.setWords(slave, address, BytesToRegisters(buf)...)
}

func (f *fakeTransport) Select(address uint8) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.selected = address
	f.selects = append(f.selects, address)
}

func (f *fakeTransport) ReadHoldingRegisters(start, count uint16) ([]uint16, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++

	regs, ok := f.devices[f.selected]
	if !ok {
		return nil, errFakeTimeout
	}
	if err, ok := f.failAt[start]; ok {
		return nil, err
	}
	out := make([]uint16, count)
	for i := range out {
		out[i] = regs[start+uint16(i)]
	}
	return out, nil
}

func (f *fakeTransport) SetTimeout(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.timeout = d
}

func (f *fakeTransport) Timeout() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.timeout
}

// shortTransport 回傳比要求少的暫存器
type shortTransport struct{}

func (shortTransport) Select(uint8) {}

func (shortTransport) ReadHoldingRegisters(start, count uint16) ([]uint16, error) {
	return make([]uint16, count-1), nil
}

func TestReader_ReadField(t *testing.T) {
	ft := newFakeTransport()
	ft.setWords(DefaultSlaveAddress, 0x13b3, 133)
	ft.setWords(DefaultSlaveAddress, 0x13b4, 0x0001, 0x3880) // 80000
	ft.setText(DefaultSlaveAddress, 0x1402, 8, "RBT100LFP12S-G")
	ft.selected = DefaultSlaveAddress

	s := DefaultSchema()
	r := NewReader(ft, s)

	voltage, _ := s.Field("voltage")
	v, err := r.ReadField(voltage)
	require.NoError(t, err)
	assert.Equal(t, 13.3, v.Float)

	rc, _ := s.Field("remaining_charge")
	v, err = r.ReadField(rc)
	require.NoError(t, err)
	assert.Equal(t, 80.0, v.Float)

	model, _ := s.Field(FieldModel)
	v, err = r.ReadField(model)
	require.NoError(t, err)
	assert.Equal(t, "RBT100LFP12S-G", v.Text)
}

func TestReader_ReadFieldCommunicationError(t *testing.T) {
	ft := newFakeTransport()
	ft.selected = 0x10

	r := NewReader(ft, DefaultSchema())
	f, _ := r.Schema().Field("voltage")

	_, err := r.ReadField(f)
	require.Error(t, err)
	assert.True(t, IsCommunication(err))
	assert.False(t, IsDecode(err))
	assert.ErrorIs(t, err, errFakeTimeout)

	var fe *FieldError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "voltage", fe.Field)
	assert.Equal(t, uint16(0x13b3), fe.Address)
}

func TestReader_ReadFieldDecodeError(t *testing.T) {
	ft := newFakeTransport()
	ft.setWords(1, 0x10, 1)
	ft.selected = 1

	field := RegisterField{Name: "bad", Address: 0x10, Words: 1, Signedness: Signedness(9), Scaling: Identity{}}
	r := NewReader(ft, MustSchema())

	_, err := r.ReadField(field)
	require.Error(t, err)
	assert.True(t, IsDecode(err))
	assert.ErrorIs(t, err, ErrUnsupportedSignedness)
}

func TestReader_ReadFieldShortResponse(t *testing.T) {
	r := NewReader(shortTransport{}, DefaultSchema())
	f, _ := r.Schema().Field(FieldModel)

	_, err := r.ReadField(f)
	require.Error(t, err)
	assert.True(t, IsCommunication(err))
	assert.ErrorIs(t, err, ErrShortResponse)
}

func TestReader_ReadFieldNoTransport(t *testing.T) {
	r := NewReader(nil, DefaultSchema())
	f, _ := r.Schema().Field("voltage")

	_, err := r.ReadField(f)
	assert.ErrorIs(t, err, ErrNoTransport)
	assert.True(t, IsCommunication(err))
}

func TestReader_ReadAllPartialFailure(t *testing.T) {
	ft := newFakeTransport()
	ft.setWords(DefaultSlaveAddress, 0x1388, 4)
	ft.selected = DefaultSlaveAddress
	ft.failAt[0x13b3] = errFakeTimeout
	ft.failAt[0x1402] = errFakeTimeout
	ft.failAt[0x1467] = errFakeTimeout

	s := DefaultSchema()
	batch := NewReader(ft, s).ReadAll()

	assert.Equal(t, s.Len(), batch.Len())
	assert.Equal(t, 3, batch.Failed())
	assert.Equal(t, s.Len(), ft.reads, "每個欄位只讀取一次，不重試")

	for i, name := range s.Names() {
		assert.Equal(t, name, batch.Results[i].Field.Name)
	}

	voltage, ok := batch.Get("voltage")
	require.True(t, ok)
	assert.False(t, voltage.OK())
	assert.True(t, IsCommunication(voltage.Err))

	count, ok := batch.Get("cell_count")
	require.True(t, ok)
	assert.True(t, count.OK())
	assert.Equal(t, "4", count.Value.String())
}

func TestReader_ReadAllNoDevice(t *testing.T) {
	ft := newFakeTransport()
	ft.selected = 0x01

	s := DefaultSchema()
	batch := NewReader(ft, s).ReadAll()

	assert.Equal(t, s.Len(), batch.Len())
	assert.Equal(t, s.Len(), batch.Failed())
}

func TestReader_ReadAllIdempotent(t *testing.T) {
	ft := newFakeTransport()
	ft.setWords(DefaultSlaveAddress, 0x1388, 4, 33, 33, 33, 33)
	ft.setWords(DefaultSlaveAddress, 0x13b2, 40000, 133)
	ft.setText(DefaultSlaveAddress, 0x13f6, 8, "2104A0000001")
	ft.selected = DefaultSlaveAddress
	ft.failAt[0x140a] = errFakeTimeout

	r := NewReader(ft, DefaultSchema())
	first := r.ReadAll()
	second := r.ReadAll()

	assert.True(t, first.Equal(second))
}

func TestBatchResult_MarshalJSON(t *testing.T) {
	ft := newFakeTransport()
	ft.setWords(1, 0x20, 375)
	ft.setText(1, 0x30, 2, "AB")
	ft.selected = 1

	s := MustSchema(
		uintField("zeta", 0x20, 1, Linear{Factor: 0.1, Precision: 2}, "V"),
		uintField("alpha", 0x30, 2, AsciiPacked{}, ""),
		uintField("mid", 0x40, 1, Identity{}, ""),
	)
	ft.failAt[0x40] = errFakeTimeout

	batch := NewReader(ft, s).ReadAll()
	data, err := json.Marshal(batch)
	require.NoError(t, err)

	out := string(data)
	assert.True(t, strings.HasPrefix(out, `{"zeta":37.5,"alpha":"AB","mid":{"error":`), out)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Len(t, decoded, 3)
}
