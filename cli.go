package main

import (
	"context"
	"fmt"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	cfgFile   string
	logger    *zap.Logger
	appConfig *Config
)

// rootCmd 根命令
var rootCmd = &cobra.Command{
	Use:   "bmsreader",
	Short: "鋰鐵智慧電池 RS-485 讀取工具",
	Long: `透過 Modbus RTU 讀取電池管理單元的保持暫存器，
解碼為工程值後以表格或 JSON 輸出，並可掃描匯流排尋找電池。`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var loadErr error
		if cmd.Name() != "version" && cmd.Name() != "help" && cmd.Name() != "generate" {
			appConfig, loadErr = LoadConfig(cfgFile)
		}
		if appConfig == nil {
			// 配置載入失敗時使用預設值
			appConfig = DefaultConfig()
		}

		var err error
		logger, err = initLogger(appConfig.Logging)
		if err != nil {
			return fmt.Errorf("初始化日誌失敗: %w", err)
		}
		if loadErr != nil && cfgFile != "" {
			logger.Warn("載入配置檔失敗，使用預設配置", zap.Error(loadErr))
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// readCmd 讀取命令
var readCmd = &cobra.Command{
	Use:   "read",
	Short: "讀取所有暫存器",
	Long:  "讀取整個暫存器表並輸出。指定 --interval 時持續讀取直到收到中斷信號。",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := applyTransportFlags(cmd); err != nil {
			return err
		}
		if cmd.Flags().Changed("address") {
			address, _ := cmd.Flags().GetString("address")
			a, err := parseSlaveAddress(address)
			if err != nil {
				return err
			}
			appConfig.Target.Address = int(a)
		}
		if format, _ := cmd.Flags().GetString("format"); format != "" {
			appConfig.Output.Format = format
		}
		if cmd.Flags().Changed("interval") {
			appConfig.Output.Interval, _ = cmd.Flags().GetDuration("interval")
		}
		if err := appConfig.Validate(); err != nil {
			return err
		}

		transport, err := openTransport(appConfig.Transport)
		if err != nil {
			return err
		}
		defer transport.Close()

		renderer, err := NewRenderer(cmd.OutOrStdout(), appConfig.Output.Format)
		if err != nil {
			return err
		}

		reader := NewReader(transport, DefaultSchema(), WithReaderLogger(logger))
		opts := []PollerOption{WithPollerLogger(logger)}

		if appConfig.Metrics.Enabled && appConfig.Output.Interval > 0 {
			metrics := NewPollMetrics(logger)
			if err := metrics.Start(appConfig.Metrics.Endpoint, appConfig.Metrics.Port); err != nil {
				logger.Warn("啟動指標伺服器失敗", zap.Error(err))
			} else {
				defer metrics.Stop()
				opts = append(opts, WithPollMetrics(metrics))
			}
		}

		poller := NewPoller(reader, renderer, uint8(appConfig.Target.Address), appConfig.Output.Interval, opts...)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		return poller.Run(ctx)
	},
}

// findCmd 探測命令
var findCmd = &cobra.Command{
	Use:   "find",
	Short: "掃描匯流排尋找電池",
	Long:  "依序探測每個 slave 位址，讀取型號與序號判斷是否有電池回應。",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := applyTransportFlags(cmd); err != nil {
			return err
		}
		for flag, target := range map[string]*int{"start": &appConfig.Discovery.Start, "end": &appConfig.Discovery.End} {
			if !cmd.Flags().Changed(flag) {
				continue
			}
			s, _ := cmd.Flags().GetString(flag)
			a, err := parseSlaveAddress(s)
			if err != nil {
				return err
			}
			*target = int(a)
		}
		if err := appConfig.Validate(); err != nil {
			return err
		}

		transport, err := openTransport(probeTransportConfig(appConfig.Transport))
		if err != nil {
			return err
		}
		defer transport.Close()

		probe, err := NewProbe(transport, DefaultSchema(),
			WithProbeTimeout(appConfig.Transport.ProbeTimeout),
			WithProbeLogger(logger),
		)
		if err != nil {
			return err
		}

		results := probe.Scan(uint8(appConfig.Discovery.Start), uint8(appConfig.Discovery.End))
		if err := RenderProbe(cmd.OutOrStdout(), results); err != nil {
			return err
		}

		found := Present(results)
		logger.Info("探測完成",
			zap.Int("scanned", len(results)),
			zap.Int("found", len(found)),
		)
		return nil
	},
}

// schemaCmd 暫存器表命令
var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "列出暫存器表",
	RunE: func(cmd *cobra.Command, args []string) error {
		return RenderSchema(cmd.OutOrStdout(), DefaultSchema())
	},
}

// simulateCmd 模擬電池命令
var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "啟動模擬電池",
	Long:  "以 Modbus TCP 或 RTU 提供一顆模擬電池，供開發與測試使用。",
	RunE: func(cmd *cobra.Command, args []string) error {
		if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
			appConfig.Simulator.Listen = listen
		}
		if mode, _ := cmd.Flags().GetString("mode"); mode != "" {
			appConfig.Simulator.Mode = mode
		}
		if scenario, _ := cmd.Flags().GetString("scenario"); scenario != "" {
			appConfig.Simulator.Scenario = scenario
		}
		if cmd.Flags().Changed("busy-rate") {
			appConfig.Simulator.BusyRate, _ = cmd.Flags().GetFloat64("busy-rate")
		}
		if err := appConfig.Validate(); err != nil {
			return err
		}

		sim, err := NewSimulator(appConfig.Simulator, DefaultSchema(),
			WithSerialConfig(appConfig.Transport),
			WithSimulatorLogger(logger),
		)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := sim.Start(ctx); err != nil {
			return fmt.Errorf("啟動模擬器失敗: %w", err)
		}

		<-ctx.Done()
		logger.Info("收到關閉信號")
		return sim.Stop()
	},
}

// configCmd 配置命令組
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "配置管理命令",
	Long:  "管理配置檔。",
}

// configValidateCmd 驗證配置
var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "驗證配置檔",
	Long:  "驗證指定的配置檔是否有效。",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := LoadConfig(cfgFile)
		if err != nil {
			return fmt.Errorf("配置驗證失敗: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "配置驗證通過")
		fmt.Fprintf(out, "  Mode: %s\n", cfg.Transport.Mode)
		fmt.Fprintf(out, "  Device: %s\n", cfg.Transport.Device)
		fmt.Fprintf(out, "  Address: %#x\n", cfg.Target.Address)
		fmt.Fprintf(out, "  Format: %s\n", cfg.Output.Format)
		return nil
	},
}

// configGenerateCmd 生成配置
var configGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "生成範例配置",
	Long:  "生成範例配置檔。",
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")
		if output == "" {
			output = "config.json"
		}

		if err := DefaultConfig().SaveConfig(output); err != nil {
			return fmt.Errorf("生成配置失敗: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "範例配置已生成: %s\n", output)
		return nil
	},
}

// versionCmd 版本命令
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "顯示版本資訊",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "bmsreader version %s\n", Version)
		fmt.Fprintf(out, "  Build: %s\n", BuildTime)
		fmt.Fprintf(out, "  Commit: %s\n", GitCommit)
	},
}

func init() {
	// 全域 flags
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "配置檔路徑")

	// 傳輸層 flags (read / find 共用)
	for _, cmd := range []*cobra.Command{readCmd, findCmd} {
		cmd.Flags().StringP("device", "d", "", "RS-485 序列埠")
		cmd.Flags().String("mode", "", "傳輸模式 (rtu|tcp)")
		cmd.Flags().String("tcp", "", "Modbus TCP 位址 (tcp 模式)")
		cmd.Flags().Bool("trace", false, "記錄 Modbus 封包")
	}

	// read 命令 flags
	readCmd.Flags().StringP("address", "a", "0xf7", "電池的 slave 位址")
	readCmd.Flags().StringP("format", "f", "", "輸出格式 (table|json|jsonl)")
	readCmd.Flags().DurationP("interval", "i", 0, "重複讀取間隔 (0 表示只讀取一次)")

	// find 命令 flags
	findCmd.Flags().String("start", "0x00", "起始位址")
	findCmd.Flags().String("end", "0xf7", "結束位址")

	// simulate 命令 flags
	simulateCmd.Flags().StringP("listen", "l", "", "監聽位址 (tcp) 或序列埠 (rtu)")
	simulateCmd.Flags().String("mode", "", "傳輸模式 (rtu|tcp)")
	simulateCmd.Flags().StringP("scenario", "s", "", "場景 (idle|charging|discharging)")
	simulateCmd.Flags().Float64("busy-rate", 0, "回覆忙碌異常的比例 (0-1)")

	// config 命令 flags
	configGenerateCmd.Flags().StringP("output", "o", "config.json", "輸出檔案路徑")

	// 組裝命令樹
	configCmd.AddCommand(configValidateCmd, configGenerateCmd)

	rootCmd.AddCommand(
		readCmd,
		findCmd,
		schemaCmd,
		simulateCmd,
		configCmd,
		versionCmd,
	)
}

// applyTransportFlags 以 CLI 參數覆蓋傳輸層配置
func applyTransportFlags(cmd *cobra.Command) error {
	if device, _ := cmd.Flags().GetString("device"); device != "" {
		appConfig.Transport.Device = device
	}
	if mode, _ := cmd.Flags().GetString("mode"); mode != "" {
		appConfig.Transport.Mode = mode
	}
	if addr, _ := cmd.Flags().GetString("tcp"); addr != "" {
		appConfig.Transport.TCPAddress = addr
		if !cmd.Flags().Changed("mode") {
			appConfig.Transport.Mode = TransportModeTCP
		}
	}
	if trace, _ := cmd.Flags().GetBool("trace"); trace {
		appConfig.Transport.Trace = true
	}
	return appConfig.Transport.Validate()
}

// openTransport 開啟傳輸層，失敗即結束程式
func openTransport(cfg TransportConfig) (*ModbusTransport, error) {
	transport, err := NewModbusTransport(cfg, WithTransportLogger(logger))
	if err != nil {
		return nil, err
	}
	if err := transport.Open(); err != nil {
		return nil, err
	}
	return transport, nil
}

// probeTransportConfig 探測用的傳輸層配置
//
// 序列埠只在開啟時套用逾時，因此探測時直接以探測逾時開啟。
func probeTransportConfig(cfg TransportConfig) TransportConfig {
	if cfg.ProbeTimeout > 0 {
		cfg.Timeout = cfg.ProbeTimeout
	}
	return cfg
}

// parseSlaveAddress 解析 slave 位址 (支援 0x 前綴)
func parseSlaveAddress(s string) (uint8, error) {
	v, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("無效的 slave 位址 %q: %w", s, err)
	}
	if v > MaxSlaveAddress {
		return 0, fmt.Errorf("slave 位址超出範圍: %#x (最大 %#x)", v, MaxSlaveAddress)
	}
	return uint8(v), nil
}

func initLogger(cfg LoggingConfig) (*zap.Logger, error) {
	var zcfg zap.Config
	if cfg.Format == "json" {
		zcfg = zap.NewProductionConfig()
	} else {
		zcfg = zap.NewDevelopmentConfig()
	}

	if cfg.Level != "" {
		level, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("無效的日誌等級 %q: %w", cfg.Level, err)
		}
		zcfg.Level = zap.NewAtomicLevelAt(level)
	}

	// 結果輸出在 stdout，日誌預設寫到 stderr
	output := cfg.OutputPath
	if output == "" {
		output = "stderr"
	}
	zcfg.OutputPaths = []string{output}
	zcfg.ErrorOutputPaths = []string{"stderr"}
	return zcfg.Build()
}

// Execute 執行 CLI
func Execute() error {
	return rootCmd.Execute()
}
