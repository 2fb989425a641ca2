package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScenarioType_String(t *testing.T) {
	tests := []struct {
		scenario ScenarioType
		expected string
	}{
		{ScenarioIdle, "idle"},
		{ScenarioCharging, "charging"},
		{ScenarioDischarging, "discharging"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.scenario.String())
		})
	}
}

func TestParseScenarioType(t *testing.T) {
	tests := []struct {
		input    string
		expected ScenarioType
	}{
		{"idle", ScenarioIdle},
		{"charging", ScenarioCharging},
		{"discharging", ScenarioDischarging},
		{"unknown", ScenarioIdle}, // 預設為 idle
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := ParseScenarioType(tt.input)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestLookupScenarioType(t *testing.T) {
	tests := []struct {
		input    string
		expected ScenarioType
		ok       bool
	}{
		{"", ScenarioIdle, true},
		{"idle", ScenarioIdle, true},
		{"discharging", ScenarioDischarging, true},
		{"chargin", ScenarioIdle, false},
		{"Charging", ScenarioIdle, false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			scenario, ok := LookupScenarioType(tt.input)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.expected, scenario)
		})
	}
}

func TestGetScenarioHandler(t *testing.T) {
	for _, scenarioType := range ListScenarioTypes() {
		handler := GetScenarioHandler(scenarioType)
		require.NotNil(t, handler, "handler for %s should not be nil", scenarioType)
		assert.Equal(t, scenarioType, handler.Type())
	}
}

func TestIdleScenario_Update(t *testing.T) {
	state := DefaultBatteryState()
	state.Current = 5
	handler := &IdleScenario{}

	for i := 0; i < 100; i++ {
		handler.Update(&state, time.Second)

		assert.Zero(t, state.Current)
		for _, v := range state.CellVoltages {
			// 80% 殘電量的基準電壓 3.36V，±0.5%
			assert.InDelta(t, 3.36, v, 3.36*0.005+1e-9)
		}
	}
	assert.Equal(t, 80.0, state.RemainingCharge)
}

func TestChargingScenario_Update(t *testing.T) {
	state := DefaultBatteryState()
	handler := GetScenarioHandler(ScenarioCharging)

	handler.Update(&state, time.Hour)

	assert.InDelta(t, 10.0, state.Current, 0.2)
	assert.InDelta(t, 90.0, state.RemainingCharge, 0.2)
	for _, temp := range state.CellTemps {
		assert.Greater(t, temp, 25.0)
		assert.LessOrEqual(t, temp, 45.0)
	}
}

func TestDischargingScenario_Update(t *testing.T) {
	state := DefaultBatteryState()
	handler := GetScenarioHandler(ScenarioDischarging)

	// 長時間放電不會低於 0
	for i := 0; i < 20; i++ {
		handler.Update(&state, time.Hour)
	}

	assert.Less(t, state.Current, 0.0)
	assert.Equal(t, 0.0, state.RemainingCharge)
	for _, v := range state.CellVoltages {
		assert.InDelta(t, 3.0, v, 3.0*0.002+1e-9)
	}
}

func TestChargingScenario_CapsAtCapacity(t *testing.T) {
	state := DefaultBatteryState()
	handler := GetScenarioHandler(ScenarioCharging)

	for i := 0; i < 10; i++ {
		handler.Update(&state, time.Hour)
	}
	assert.Equal(t, state.ChargeCapacity, state.RemainingCharge)
}

func TestBatteryState_PackVoltage(t *testing.T) {
	state := DefaultBatteryState()
	assert.InDelta(t, 13.2, state.PackVoltage(), 1e-9)
}

func TestBatteryState_WriteTo(t *testing.T) {
	s := DefaultSchema()
	ri := NewRegisterImage(s)
	require.NoError(t, DefaultBatteryState().WriteTo(ri))

	words, err := ri.ReadHoldingRegisters(0x1388, 5)
	require.NoError(t, err)
	assert.Equal(t, []uint16{4, 33, 33, 33, 33}, words)
}

func BenchmarkChargingScenario_Update(b *testing.B) {
	state := DefaultBatteryState()
	handler := GetScenarioHandler(ScenarioCharging)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		handler.Update(&state, time.Second)
	}
}
