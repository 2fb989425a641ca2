package main

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// ScenarioType 模擬電池的運作場景
type ScenarioType int

const (
	ScenarioIdle ScenarioType = iota
	ScenarioCharging
	ScenarioDischarging
)

func (s ScenarioType) String() string {
	switch s {
	case ScenarioIdle:
		return "idle"
	case ScenarioCharging:
		return "charging"
	case ScenarioDischarging:
		return "discharging"
	default:
		return "unknown"
	}
}

// ParseScenarioType 解析場景類型，無法辨識時為 idle
func ParseScenarioType(s string) ScenarioType {
	scenario, _ := LookupScenarioType(s)
	return scenario
}

// LookupScenarioType 依名稱查詢場景，空字串視為 idle
func LookupScenarioType(s string) (ScenarioType, bool) {
	if s == "" {
		return ScenarioIdle, true
	}
	for _, scenario := range ListScenarioTypes() {
		if scenario.String() == s {
			return scenario, true
		}
	}
	return ScenarioIdle, false
}

// ListScenarioTypes 列出所有場景類型
func ListScenarioTypes() []ScenarioType {
	return []ScenarioType{ScenarioIdle, ScenarioCharging, ScenarioDischarging}
}

// BatteryState 模擬電池的工程值
type BatteryState struct {
	CellVoltages    [4]float64 // V
	CellTemps       [4]float64 // °C
	Current         float64    // A，放電為負
	RemainingCharge float64    // Ah
	ChargeCapacity  float64    // Ah
	MaxVoltage      float64
	MinVoltage      float64
	HeaterLevel     float64 // %
	DeviceAddress   uint8

	Model        string
	Serial       string
	Firmware     string
	Manufacturer string
}

// DefaultBatteryState 12V 100Ah 鋰鐵電池的初始狀態
func DefaultBatteryState() BatteryState {
	return BatteryState{
		CellVoltages:    [4]float64{3.3, 3.3, 3.3, 3.3},
		CellTemps:       [4]float64{25.0, 25.0, 25.0, 25.0},
		RemainingCharge: 80.0,
		ChargeCapacity:  100.0,
		MaxVoltage:      14.6,
		MinVoltage:      10.0,
		DeviceAddress:   DefaultSlaveAddress,
		Model:           "RBT100LFP12S-G",
		Serial:          "2104A0000001",
		Firmware:        "0100",
		Manufacturer:    "RNGY",
	}
}

// PackVoltage 串聯總電壓
func (b BatteryState) PackVoltage() float64 {
	sum := 0.0
	for _, v := range b.CellVoltages {
		sum += v
	}
	return sum
}

// WriteTo 將狀態寫入暫存器映像
func (b BatteryState) WriteTo(image *RegisterImage) error {
	numeric := map[string]float64{
		"cell_count":          float64(len(b.CellVoltages)),
		"current":             b.Current,
		"voltage":             b.PackVoltage(),
		"remaining_charge":    b.RemainingCharge,
		"charge_capacity":     b.ChargeCapacity,
		"maximum_voltage?":    b.MaxVoltage,
		"minimum_voltage?":    b.MinVoltage,
		"heater_level":        b.HeaterLevel,
		"device_address_echo": float64(b.DeviceAddress),
	}
	for i, v := range b.CellVoltages {
		numeric[cellField("cellvoltage_", i)] = v
	}
	for i, t := range b.CellTemps {
		numeric[cellField("celltemp_", i)] = t
	}

	for name, v := range numeric {
		if err := image.SetValue(name, v); err != nil {
			return err
		}
	}

	text := map[string]string{
		FieldModel:         b.Model,
		FieldSerial:        b.Serial,
		"firmware_version": b.Firmware,
		"manufacturer":     b.Manufacturer,
	}
	for name, s := range text {
		if err := image.SetText(name, s); err != nil {
			return err
		}
	}
	return nil
}

func cellField(prefix string, i int) string {
	return prefix + string(rune('1'+i))
}

// ScenarioHandler 場景處理介面
type ScenarioHandler interface {
	Type() ScenarioType
	Update(state *BatteryState, elapsed time.Duration)
}

// 場景處理器註冊表
var (
	scenarioHandlers   = make(map[ScenarioType]ScenarioHandler)
	scenarioHandlersMu sync.RWMutex
)

func init() {
	RegisterScenarioHandler(&IdleScenario{})
	RegisterScenarioHandler(&CurrentScenario{scenario: ScenarioCharging, current: 10.0})
	RegisterScenarioHandler(&CurrentScenario{scenario: ScenarioDischarging, current: -10.0})
}

// RegisterScenarioHandler 註冊場景處理器
func RegisterScenarioHandler(handler ScenarioHandler) {
	scenarioHandlersMu.Lock()
	defer scenarioHandlersMu.Unlock()
	scenarioHandlers[handler.Type()] = handler
}

// GetScenarioHandler 取得場景處理器
func GetScenarioHandler(scenarioType ScenarioType) ScenarioHandler {
	scenarioHandlersMu.RLock()
	defer scenarioHandlersMu.RUnlock()
	return scenarioHandlers[scenarioType]
}

// --- Idle Scenario ---

// IdleScenario 靜置 - 電流為 0，電壓小幅波動 (±0.5%)
type IdleScenario struct{}

func (s *IdleScenario) Type() ScenarioType {
	return ScenarioIdle
}

func (s *IdleScenario) Update(state *BatteryState, elapsed time.Duration) {
	state.Current = 0
	setCellVoltages(state, 0.005)
}

// --- Charging / Discharging Scenario ---

// CurrentScenario 以固定電流充電或放電
type CurrentScenario struct {
	scenario ScenarioType
	current  float64
}

func (s *CurrentScenario) Type() ScenarioType {
	return s.scenario
}

func (s *CurrentScenario) Update(state *BatteryState, elapsed time.Duration) {
	// 電流波動 (±2%)
	state.Current = s.current * (1 + (rand.Float64()*2-1)*0.02)

	charge := state.RemainingCharge + state.Current*elapsed.Hours()
	state.RemainingCharge = math.Max(0, math.Min(state.ChargeCapacity, charge))

	setCellVoltages(state, 0.002)

	// 充放電時溫度略升
	for i := range state.CellTemps {
		state.CellTemps[i] = math.Min(45.0, state.CellTemps[i]+0.01*elapsed.Seconds())
	}
}

// setCellVoltages 電芯電壓隨殘電量在 3.0V-3.45V 之間變化，再加上隨機波動
func setCellVoltages(state *BatteryState, variance float64) {
	soc := 0.0
	if state.ChargeCapacity > 0 {
		soc = state.RemainingCharge / state.ChargeCapacity
	}
	base := 3.0 + 0.45*soc
	for i := range state.CellVoltages {
		state.CellVoltages[i] = base * (1 + (rand.Float64()*2-1)*variance)
	}
}
