package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// 傳輸模式
const (
	TransportModeRTU = "rtu"
	TransportModeTCP = "tcp"
)

// Config 全域配置
type Config struct {
	Transport TransportConfig `json:"transport" mapstructure:"transport"`
	Target    TargetConfig    `json:"target" mapstructure:"target"`
	Output    OutputConfig    `json:"output" mapstructure:"output"`
	Discovery DiscoveryConfig `json:"discovery" mapstructure:"discovery"`
	Logging   LoggingConfig   `json:"logging" mapstructure:"logging"`
	Metrics   MetricsConfig   `json:"metrics" mapstructure:"metrics"`
	Simulator SimulatorConfig `json:"simulator" mapstructure:"simulator"`
}

// TransportConfig 傳輸層配置
type TransportConfig struct {
	Mode         string        `json:"mode" mapstructure:"mode"`
	Device       string        `json:"device" mapstructure:"device"`
	BaudRate     int           `json:"baud_rate" mapstructure:"baud_rate"`
	DataBits     int           `json:"data_bits" mapstructure:"data_bits"`
	Parity       string        `json:"parity" mapstructure:"parity"`
	StopBits     int           `json:"stop_bits" mapstructure:"stop_bits"`
	Timeout      time.Duration `json:"timeout" mapstructure:"timeout"`
	ProbeTimeout time.Duration `json:"probe_timeout" mapstructure:"probe_timeout"`
	TCPAddress   string        `json:"tcp_address" mapstructure:"tcp_address"`
	Trace        bool          `json:"trace" mapstructure:"trace"`
}

// TargetConfig 讀取目標
type TargetConfig struct {
	Address int `json:"address" mapstructure:"address"`
}

// OutputConfig 輸出配置
type OutputConfig struct {
	Format   string        `json:"format" mapstructure:"format"`
	Interval time.Duration `json:"interval" mapstructure:"interval"`
}

// DiscoveryConfig 探測範圍
type DiscoveryConfig struct {
	Start int `json:"start" mapstructure:"start"`
	End   int `json:"end" mapstructure:"end"`
}

// LoggingConfig 日誌配置
type LoggingConfig struct {
	Level      string `json:"level" mapstructure:"level"`
	Format     string `json:"format" mapstructure:"format"`
	OutputPath string `json:"output_path" mapstructure:"output_path"`
}

// MetricsConfig 指標配置
type MetricsConfig struct {
	Enabled  bool   `json:"enabled" mapstructure:"enabled"`
	Endpoint string `json:"endpoint" mapstructure:"endpoint"`
	Port     int    `json:"port" mapstructure:"port"`
}

// SimulatorConfig 模擬電池配置
type SimulatorConfig struct {
	Mode           string        `json:"mode" mapstructure:"mode"`
	Listen         string        `json:"listen" mapstructure:"listen"`
	Scenario       string        `json:"scenario" mapstructure:"scenario"`
	UpdateInterval time.Duration `json:"update_interval" mapstructure:"update_interval"`
	BusyRate       float64       `json:"busy_rate" mapstructure:"busy_rate"`
	Model          string        `json:"model" mapstructure:"model"`
	Serial         string        `json:"serial" mapstructure:"serial"`
}

// DefaultConfig 返回預設配置
func DefaultConfig() *Config {
	return &Config{
		Transport: TransportConfig{
			Mode:         TransportModeRTU,
			Device:       "/dev/ttyUSB0",
			BaudRate:     DefaultBaudRate,
			DataBits:     DefaultDataBits,
			Parity:       DefaultParity,
			StopBits:     DefaultStopBits,
			Timeout:      200 * time.Millisecond,
			ProbeTimeout: 100 * time.Millisecond,
			TCPAddress:   fmt.Sprintf("127.0.0.1:%d", ModbusTCPDefaultPort),
		},
		Target: TargetConfig{
			Address: DefaultSlaveAddress,
		},
		Output: OutputConfig{
			Format: FormatTable,
		},
		Discovery: DiscoveryConfig{
			Start: MinSlaveAddress,
			End:   MaxSlaveAddress,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			OutputPath: "stderr",
		},
		Metrics: MetricsConfig{
			Enabled:  false,
			Endpoint: "/metrics",
			Port:     9090,
		},
		Simulator: SimulatorConfig{
			Mode:           TransportModeTCP,
			Listen:         fmt.Sprintf("0.0.0.0:%d", 5020),
			Scenario:       "idle",
			UpdateInterval: 1 * time.Second,
			Model:          "RBT100LFP12S-G",
			Serial:         "2104A0000001",
		},
	}
}

// LoadConfig 載入配置檔
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("json")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/bmsreader/")
		v.AddConfigPath("$HOME/.bmsreader/")
	}

	// 環境變數覆蓋，例如 BMSREADER_TRANSPORT_DEVICE
	// AutomaticEnv 只套用到已知的鍵，因此先註冊所有預設值
	if err := registerDefaults(v, "", cfg); err != nil {
		return nil, err
	}
	v.SetEnvPrefix("BMSREADER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("讀取配置檔失敗: %w", err)
		}
		// 配置檔不存在，使用預設值
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("解析配置失敗: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置驗證失敗: %w", err)
	}

	return cfg, nil
}

// registerDefaults 以 JSON 鍵名逐一註冊預設值
func registerDefaults(v *viper.Viper, prefix string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("序列化預設配置失敗: %w", err)
	}
	var tree map[string]any
	if err := json.Unmarshal(data, &tree); err != nil {
		return fmt.Errorf("解析預設配置失敗: %w", err)
	}
	setDefaults(v, prefix, tree)
	return nil
}

func setDefaults(v *viper.Viper, prefix string, tree map[string]any) {
	for k, val := range tree {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := val.(map[string]any); ok {
			setDefaults(v, key, sub)
			continue
		}
		v.SetDefault(key, val)
	}
}

// Validate 驗證配置
func (c *Config) Validate() error {
	if err := c.Transport.Validate(); err != nil {
		return err
	}

	if c.Target.Address < MinSlaveAddress || c.Target.Address > MaxSlaveAddress {
		return fmt.Errorf("無效的 slave 位址: %d", c.Target.Address)
	}

	if !ValidFormat(c.Output.Format) {
		return fmt.Errorf("無效的輸出格式: %q", c.Output.Format)
	}
	if c.Output.Interval < 0 {
		return fmt.Errorf("讀取間隔不可為負數: %v", c.Output.Interval)
	}

	if c.Discovery.Start < MinSlaveAddress || c.Discovery.End > MaxSlaveAddress || c.Discovery.Start > c.Discovery.End {
		return fmt.Errorf("無效的探測範圍: %d-%d", c.Discovery.Start, c.Discovery.End)
	}

	if c.Metrics.Enabled && (c.Metrics.Port < 1 || c.Metrics.Port > 65535) {
		return fmt.Errorf("無效的指標埠號: %d", c.Metrics.Port)
	}

	if c.Simulator.BusyRate < 0 || c.Simulator.BusyRate > 1 {
		return fmt.Errorf("無效的忙碌比例: %v", c.Simulator.BusyRate)
	}
	if _, ok := LookupScenarioType(c.Simulator.Scenario); !ok {
		return fmt.Errorf("未知的場景: %q", c.Simulator.Scenario)
	}

	return nil
}

// Validate 驗證傳輸層配置
func (t *TransportConfig) Validate() error {
	switch t.Mode {
	case TransportModeRTU:
		if t.Device == "" {
			return fmt.Errorf("RTU 模式必須指定序列埠")
		}
		if t.BaudRate <= 0 {
			return fmt.Errorf("無效的鮑率: %d", t.BaudRate)
		}
		switch t.Parity {
		case "N", "E", "O":
		default:
			return fmt.Errorf("無效的同位檢查: %q", t.Parity)
		}
	case TransportModeTCP:
		if t.TCPAddress == "" {
			return fmt.Errorf("TCP 模式必須指定位址")
		}
	default:
		return fmt.Errorf("不支援的傳輸模式: %q", t.Mode)
	}

	if t.Timeout <= 0 {
		return fmt.Errorf("逾時必須大於 0")
	}
	return nil
}

// SaveConfig 儲存配置到檔案
func (c *Config) SaveConfig(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化配置失敗: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("寫入配置檔失敗: %w", err)
	}

	return nil
}
