package main

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goburrow/serial"
	"github.com/tbrandon/mbserver"
	"go.uber.org/zap"
)

// SimulatorState 模擬器狀態
type SimulatorState int32

const (
	SimulatorStateStopped SimulatorState = iota
	SimulatorStateStarting
	SimulatorStateRunning
	SimulatorStateStopping
)

func (s SimulatorState) String() string {
	switch s {
	case SimulatorStateStopped:
		return "stopped"
	case SimulatorStateStarting:
		return "starting"
	case SimulatorStateRunning:
		return "running"
	case SimulatorStateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// SimulatorStats 模擬器統計資訊
type SimulatorStats struct {
	StartTime    time.Time
	RequestCount atomic.Uint64
	BusyCount    atomic.Uint64
}

// Simulator 以 mbserver 提供的模擬電池
type Simulator struct {
	mu sync.Mutex

	cfg     SimulatorConfig
	serial  TransportConfig
	state   atomic.Int32
	battery BatteryState
	image   *RegisterImage

	server *mbserver.Server

	scenario     ScenarioType
	scenarioStop context.CancelFunc
	lastUpdate   time.Time

	stats SimulatorStats

	logger *zap.Logger
}

// SimulatorOption 模擬器選項
type SimulatorOption func(*Simulator)

// WithSimulatorLogger 設定日誌
func WithSimulatorLogger(logger *zap.Logger) SimulatorOption {
	return func(s *Simulator) {
		s.logger = logger
	}
}

// WithBatteryState 設定初始電池狀態
func WithBatteryState(b BatteryState) SimulatorOption {
	return func(s *Simulator) {
		s.battery = b
	}
}

// WithSerialConfig 設定 RTU 模式的序列埠參數
func WithSerialConfig(t TransportConfig) SimulatorOption {
	return func(s *Simulator) {
		s.serial = t
	}
}

// NewSimulator 建立模擬電池
func NewSimulator(cfg SimulatorConfig, schema *Schema, opts ...SimulatorOption) (*Simulator, error) {
	scenario, ok := LookupScenarioType(cfg.Scenario)
	if !ok {
		return nil, fmt.Errorf("未知的場景: %q", cfg.Scenario)
	}

	s := &Simulator{
		cfg:        cfg,
		serial:     DefaultConfig().Transport,
		battery:    DefaultBatteryState(),
		image:      NewRegisterImage(schema),
		scenario:   scenario,
		lastUpdate: time.Now(),
		logger:     zap.NewNop(),
	}
	if cfg.Model != "" {
		s.battery.Model = cfg.Model
	}
	if cfg.Serial != "" {
		s.battery.Serial = cfg.Serial
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.battery.WriteTo(s.image); err != nil {
		return nil, fmt.Errorf("初始化暫存器映像失敗: %w", err)
	}
	return s, nil
}

// Image 取得暫存器映像
func (s *Simulator) Image() *RegisterImage {
	return s.image
}

// Battery 取得目前電池狀態
func (s *Simulator) Battery() BatteryState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.battery
}

// State 取得當前狀態
func (s *Simulator) State() SimulatorState {
	return SimulatorState(s.state.Load())
}

// GetStats 取得統計資訊
func (s *Simulator) GetStats() *SimulatorStats {
	return &s.stats
}

// ApplyScenario 套用場景
func (s *Simulator) ApplyScenario(scenario ScenarioType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scenario = scenario
}

// Start 啟動 Modbus 伺服器
func (s *Simulator) Start(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(SimulatorStateStopped), int32(SimulatorStateStarting)) {
		return fmt.Errorf("模擬器已經在運行中")
	}

	s.server = mbserver.NewServer()
	s.server.RegisterFunctionHandler(FuncCodeReadHoldingRegisters, s.handleReadHoldingRegisters)

	s.mu.Lock()
	s.syncRegistersToServer()
	s.mu.Unlock()

	s.stats.StartTime = time.Now()

	var err error
	switch s.cfg.Mode {
	case TransportModeRTU:
		err = s.server.ListenRTU(&serial.Config{
			Address:  s.cfg.Listen,
			BaudRate: s.serial.BaudRate,
			DataBits: s.serial.DataBits,
			StopBits: s.serial.StopBits,
			Parity:   s.serial.Parity,
			Timeout:  s.serial.Timeout,
		})
	default:
		err = s.server.ListenTCP(s.cfg.Listen)
	}
	if err != nil {
		s.state.Store(int32(SimulatorStateStopped))
		return fmt.Errorf("監聽 %s 失敗: %w", s.cfg.Listen, err)
	}

	var scenarioCtx context.Context
	scenarioCtx, s.scenarioStop = context.WithCancel(ctx)
	s.lastUpdate = time.Now()
	go s.runScenarioUpdater(scenarioCtx)

	s.state.Store(int32(SimulatorStateRunning))

	s.logger.Info("模擬電池已啟動",
		zap.String("mode", s.cfg.Mode),
		zap.String("listen", s.cfg.Listen),
		zap.String("scenario", s.scenario.String()),
		zap.String("model", s.battery.Model),
	)
	return nil
}

// Stop 停止模擬器
func (s *Simulator) Stop() error {
	if !s.state.CompareAndSwap(int32(SimulatorStateRunning), int32(SimulatorStateStopping)) {
		return nil
	}

	if s.scenarioStop != nil {
		s.scenarioStop()
	}
	if s.server != nil {
		s.server.Close()
	}

	s.state.Store(int32(SimulatorStateStopped))

	s.logger.Info("模擬電池已停止",
		zap.Duration("uptime", time.Since(s.stats.StartTime)),
		zap.Uint64("requests", s.stats.RequestCount.Load()),
		zap.Uint64("busy", s.stats.BusyCount.Load()),
	)
	return nil
}

// handleReadHoldingRegisters 處理讀取保持暫存器請求 (FC 03)，可依比例回覆忙碌異常
func (s *Simulator) handleReadHoldingRegisters(server *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	s.stats.RequestCount.Add(1)

	if s.cfg.BusyRate > 0 && rand.Float64() < s.cfg.BusyRate {
		s.stats.BusyCount.Add(1)
		return []byte{}, &mbserver.SlaveDeviceBusy
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return mbserver.ReadHoldingRegisters(server, frame)
}

// syncRegistersToServer 同步暫存器到 mbserver (呼叫端需持有 s.mu)
func (s *Simulator) syncRegistersToServer() {
	if s.server == nil {
		return
	}
	copy(s.server.HoldingRegisters, s.image.Snapshot())
}

// runScenarioUpdater 運行場景更新器
func (s *Simulator) runScenarioUpdater(ctx context.Context) {
	interval := s.cfg.UpdateInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Step(); err != nil {
				s.logger.Warn("更新模擬值失敗", zap.Error(err))
			}
		}
	}
}

// Step 依目前場景推進一次電池狀態並更新暫存器
func (s *Simulator) Step() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(s.lastUpdate)
	s.lastUpdate = now

	if handler := GetScenarioHandler(s.scenario); handler != nil {
		handler.Update(&s.battery, elapsed)
	}

	if err := s.battery.WriteTo(s.image); err != nil {
		return err
	}
	s.syncRegistersToServer()
	return nil
}

// ImageTransport 直接讀取暫存器映像的傳輸層，只回應指定的 slave 位址
type ImageTransport struct {
	mu       sync.Mutex
	image    *RegisterImage
	unitID   uint8
	selected uint8
}

// NewImageTransport 建立映像傳輸層
func NewImageTransport(image *RegisterImage, unitID uint8) *ImageTransport {
	return &ImageTransport{image: image, unitID: unitID, selected: unitID}
}

// Select 切換目標位址
func (t *ImageTransport) Select(address uint8) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.selected = address
}

// ReadHoldingRegisters 讀取映像，位址不符時視為逾時
func (t *ImageTransport) ReadHoldingRegisters(start, count uint16) ([]uint16, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.selected != t.unitID {
		return nil, fmt.Errorf("slave %#x 無回應: 逾時", t.selected)
	}
	if count == 0 || count > MaxRegistersPerRead {
		return nil, &ModbusError{Code: ExceptionCodeIllegalDataValue}
	}
	if int(start)+int(count) > 0x10000 {
		return nil, &ModbusError{Code: ExceptionCodeIllegalDataAddress}
	}
	return t.image.ReadHoldingRegisters(start, count)
}

// ModbusError Modbus 異常錯誤
type ModbusError struct {
	Code uint8
}

func (e *ModbusError) Error() string {
	switch e.Code {
	case ExceptionCodeIllegalDataAddress:
		return "非法資料位址"
	case ExceptionCodeIllegalDataValue:
		return "非法資料值"
	default:
		return fmt.Sprintf("未知異常碼: %#x", e.Code)
	}
}
