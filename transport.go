package main

import (
	"fmt"
	"sync"
	"time"

	"github.com/goburrow/modbus"
	"go.uber.org/zap"
)

// Transport 讀取保持暫存器的傳輸層
//
// Select 只切換目前的 slave 位址，不進行 I/O。
type Transport interface {
	Select(address uint8)
	ReadHoldingRegisters(start, count uint16) ([]uint16, error)
}

// TimeoutSetter 可調整逾時的傳輸層 (探測時使用較短逾時)
type TimeoutSetter interface {
	SetTimeout(d time.Duration)
	Timeout() time.Duration
}

// ModbusTransport 以 goburrow/modbus 實作的 RTU/TCP 傳輸層
//
// 匯流排為半雙工單主站。ReadFrom 在同一把鎖下切換位址並讀取；
// 分開呼叫 Select 與 ReadHoldingRegisters 時，呼叫端須為唯一使用者。
type ModbusTransport struct {
	mu sync.Mutex

	mode    string
	rtu     *modbus.RTUClientHandler
	tcp     *modbus.TCPClientHandler
	client  modbus.Client
	address uint8
	open    bool

	logger *zap.Logger
}

// TransportOption 傳輸層選項
type TransportOption func(*ModbusTransport)

// WithTransportLogger 設定日誌
func WithTransportLogger(logger *zap.Logger) TransportOption {
	return func(t *ModbusTransport) {
		t.logger = logger
	}
}

// NewModbusTransport 建立傳輸層 (尚未開啟連線)
func NewModbusTransport(cfg TransportConfig, opts ...TransportOption) (*ModbusTransport, error) {
	t := &ModbusTransport{
		mode:    cfg.Mode,
		address: DefaultSlaveAddress,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}

	switch cfg.Mode {
	case TransportModeRTU:
		h := modbus.NewRTUClientHandler(cfg.Device)
		h.BaudRate = cfg.BaudRate
		h.DataBits = cfg.DataBits
		h.Parity = cfg.Parity
		h.StopBits = cfg.StopBits
		h.Timeout = cfg.Timeout
		h.SlaveId = t.address
		if cfg.Trace {
			h.Logger = zap.NewStdLog(t.logger.Named("rtu"))
		}
		t.rtu = h
		t.client = modbus.NewClient(h)

	case TransportModeTCP:
		h := modbus.NewTCPClientHandler(cfg.TCPAddress)
		h.Timeout = cfg.Timeout
		h.SlaveId = t.address
		if cfg.Trace {
			h.Logger = zap.NewStdLog(t.logger.Named("tcp"))
		}
		t.tcp = h
		t.client = modbus.NewClient(h)

	default:
		return nil, fmt.Errorf("不支援的傳輸模式: %q", cfg.Mode)
	}

	return t, nil
}

// Open 開啟序列埠或 TCP 連線
func (t *ModbusTransport) Open() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var err error
	if t.rtu != nil {
		err = t.rtu.Connect()
	} else {
		err = t.tcp.Connect()
	}
	if err != nil {
		return fmt.Errorf("開啟 %s 傳輸層失敗: %w", t.mode, err)
	}
	t.open = true

	t.logger.Info("傳輸層已開啟", zap.String("mode", t.mode))
	return nil
}

// Close 關閉連線
func (t *ModbusTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.open = false
	if t.rtu != nil {
		return t.rtu.Close()
	}
	return t.tcp.Close()
}

// Select 切換目標 slave 位址
func (t *ModbusTransport) Select(address uint8) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.selectLocked(address)
}

func (t *ModbusTransport) selectLocked(address uint8) {
	t.address = address
	if t.rtu != nil {
		t.rtu.SlaveId = address
	} else {
		t.tcp.SlaveId = address
	}
}

// Address 目前的 slave 位址
func (t *ModbusTransport) Address() uint8 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.address
}

// SetTimeout 設定逾時
//
// 序列埠只在開啟時套用逾時，RTU 模式下已開啟的連線會重新開啟。
func (t *ModbusTransport) SetTimeout(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.tcp != nil {
		t.tcp.Timeout = d
		return
	}

	if t.rtu.Timeout == d {
		return
	}
	t.rtu.Timeout = d
	if !t.open {
		return
	}
	if err := t.rtu.Close(); err != nil {
		t.logger.Warn("關閉序列埠失敗", zap.Error(err))
	}
	if err := t.rtu.Connect(); err != nil {
		// 下一次讀取時 goburrow 會再嘗試開啟
		t.logger.Warn("以新逾時重新開啟序列埠失敗", zap.Duration("timeout", d), zap.Error(err))
	}
}

// Timeout 目前的逾時
func (t *ModbusTransport) Timeout() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.rtu != nil {
		return t.rtu.Timeout
	}
	return t.tcp.Timeout
}

// ReadHoldingRegisters 讀取目前位址的連續保持暫存器 (FC 03)
func (t *ModbusTransport) ReadHoldingRegisters(start, count uint16) ([]uint16, error) {
	if count == 0 || count > MaxRegistersPerRead {
		return nil, fmt.Errorf("暫存器數量無效: %d (範圍 1-%d)", count, MaxRegistersPerRead)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.readLocked(start, count)
}

// ReadFrom 在同一把鎖下切換到指定位址並讀取
func (t *ModbusTransport) ReadFrom(address uint8, start, count uint16) ([]uint16, error) {
	if count == 0 || count > MaxRegistersPerRead {
		return nil, fmt.Errorf("暫存器數量無效: %d (範圍 1-%d)", count, MaxRegistersPerRead)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.selectLocked(address)
	return t.readLocked(start, count)
}

func (t *ModbusTransport) readLocked(start, count uint16) ([]uint16, error) {
	data, err := t.client.ReadHoldingRegisters(start, count)
	if err != nil {
		return nil, err
	}
	if len(data) < int(count)*2 {
		return nil, fmt.Errorf("%w: 預期 %d 位元組，收到 %d", ErrShortResponse, int(count)*2, len(data))
	}
	return BytesToRegisters(data[:int(count)*2]), nil
}
