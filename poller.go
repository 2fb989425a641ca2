package main

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// PollerState 輪詢器狀態
type PollerState int32

const (
	PollerStateStopped PollerState = iota
	PollerStateRunning
	PollerStateStopping
)

func (s PollerState) String() string {
	switch s {
	case PollerStateStopped:
		return "stopped"
	case PollerStateRunning:
		return "running"
	case PollerStateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Poller 週期性讀取整個暫存器表並交給輸出
type Poller struct {
	state atomic.Int32

	reader   *Reader
	renderer *Renderer
	metrics  *PollMetrics
	slave    uint8
	interval time.Duration

	cycles atomic.Uint64

	logger *zap.Logger
}

// PollerOption 輪詢器選項
type PollerOption func(*Poller)

// WithPollMetrics 設定指標收集器
func WithPollMetrics(m *PollMetrics) PollerOption {
	return func(p *Poller) {
		p.metrics = m
	}
}

// WithPollerLogger 設定日誌
func WithPollerLogger(logger *zap.Logger) PollerOption {
	return func(p *Poller) {
		p.logger = logger
	}
}

// NewPoller 建立輪詢器，interval 為 0 時只讀取一次
func NewPoller(reader *Reader, renderer *Renderer, slave uint8, interval time.Duration, opts ...PollerOption) *Poller {
	p := &Poller{
		reader:   reader,
		renderer: renderer,
		slave:    slave,
		interval: interval,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// State 取得狀態
func (p *Poller) State() PollerState {
	return PollerState(p.state.Load())
}

// Cycles 已完成的讀取次數
func (p *Poller) Cycles() uint64 {
	return p.cycles.Load()
}

// PollOnce 執行一次完整讀取並輸出
func (p *Poller) PollOnce() (*BatchResult, error) {
	start := time.Now()
	if p.reader.transport != nil {
		p.reader.transport.Select(p.slave)
	}
	batch := p.reader.ReadAll()
	elapsed := time.Since(start)

	p.cycles.Add(1)
	if p.metrics != nil {
		p.metrics.Observe(p.slave, batch, elapsed)
	}

	p.logger.Debug("讀取循環完成",
		zap.Int("fields", batch.Len()),
		zap.Int("failed", batch.Failed()),
		zap.Duration("elapsed", elapsed),
	)

	if p.renderer != nil {
		if err := p.renderer.Render(batch); err != nil {
			return batch, fmt.Errorf("輸出結果失敗: %w", err)
		}
	}
	return batch, nil
}

// Run 依間隔重複讀取直到 context 取消
//
// 單次讀取不可中途取消，取消只在兩次讀取之間生效。
func (p *Poller) Run(ctx context.Context) error {
	if !p.state.CompareAndSwap(int32(PollerStateStopped), int32(PollerStateRunning)) {
		return fmt.Errorf("輪詢器已經在運行中")
	}
	defer p.state.Store(int32(PollerStateStopped))

	p.logger.Info("開始讀取",
		zap.String("slave", fmt.Sprintf("%#x", p.slave)),
		zap.Duration("interval", p.interval),
	)

	if _, err := p.PollOnce(); err != nil {
		return err
	}
	if p.interval <= 0 {
		return nil
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.state.Store(int32(PollerStateStopping))
			p.logger.Info("停止讀取", zap.Uint64("cycles", p.cycles.Load()))
			return nil
		case <-ticker.C:
			if _, err := p.PollOnce(); err != nil {
				return err
			}
		}
	}
}
