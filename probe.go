package main

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Outcome 探測結果分類
type Outcome int

const (
	OutcomeNoResponse Outcome = iota
	OutcomePresent
	OutcomeUnrecognized
)

func (o Outcome) String() string {
	switch o {
	case OutcomePresent:
		return "present"
	case OutcomeNoResponse:
		return "no_response"
	case OutcomeUnrecognized:
		return "unrecognized"
	default:
		return "unknown"
	}
}

// ProbeResult 單一位址的探測結果
type ProbeResult struct {
	Address uint8
	Outcome Outcome
	Model   string
	Serial  string
	Err     error
}

func (r ProbeResult) String() string {
	switch r.Outcome {
	case OutcomePresent:
		return fmt.Sprintf("%#x: model: %s, serial: %s", r.Address, r.Model, r.Serial)
	case OutcomeUnrecognized:
		return fmt.Sprintf("%#x: bad response (%v)", r.Address, r.Err)
	default:
		return fmt.Sprintf("%#x: unknown", r.Address)
	}
}

// Probe 掃描 slave 位址尋找電池
type Probe struct {
	transport Transport
	reader    *Reader
	model     RegisterField
	serial    RegisterField
	timeout   time.Duration
	logger    *zap.Logger
}

// ProbeOption Probe 選項
type ProbeOption func(*Probe)

// WithProbeTimeout 掃描期間使用的逾時 (傳輸層須支援 TimeoutSetter)
func WithProbeTimeout(d time.Duration) ProbeOption {
	return func(p *Probe) {
		p.timeout = d
	}
}

// WithProbeLogger 設定日誌
func WithProbeLogger(logger *zap.Logger) ProbeOption {
	return func(p *Probe) {
		p.logger = logger
	}
}

// NewProbe 建立探測器，型號與序號欄位取自暫存器表
func NewProbe(transport Transport, schema *Schema, opts ...ProbeOption) (*Probe, error) {
	model, ok := schema.Field(FieldModel)
	if !ok {
		return nil, fmt.Errorf("暫存器表缺少欄位: %s", FieldModel)
	}
	serial, ok := schema.Field(FieldSerial)
	if !ok {
		return nil, fmt.Errorf("暫存器表缺少欄位: %s", FieldSerial)
	}

	p := &Probe{
		transport: transport,
		model:     model,
		serial:    serial,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}

	p.reader = NewReader(transport, MustSchema(model, serial), WithReaderLogger(p.logger))
	return p, nil
}

// Scan 依位址遞增順序探測 [from, to] 內每個位址，不提前結束
func (p *Probe) Scan(from, to uint8) []ProbeResult {
	if from > to {
		return nil
	}

	if ts, ok := p.transport.(TimeoutSetter); ok && p.timeout > 0 {
		previous := ts.Timeout()
		ts.SetTimeout(p.timeout)
		defer ts.SetTimeout(previous)
	}

	results := make([]ProbeResult, 0, int(to)-int(from)+1)
	for a := int(from); a <= int(to); a++ {
		result := p.ProbeAddress(uint8(a))
		p.logger.Info("探測位址",
			zap.String("address", fmt.Sprintf("%#x", a)),
			zap.String("outcome", result.Outcome.String()),
			zap.String("model", result.Model),
			zap.String("serial", result.Serial),
		)
		results = append(results, result)
	}

	return results
}

// ProbeAddress 探測單一位址
func (p *Probe) ProbeAddress(address uint8) ProbeResult {
	p.transport.Select(address)
	result := ProbeResult{Address: address}

	model, err := p.reader.ReadField(p.model)
	if err != nil {
		result.Err = err
		if IsCommunication(err) {
			result.Outcome = OutcomeNoResponse
		} else {
			result.Outcome = OutcomeUnrecognized
		}
		return result
	}

	result.Model = model.String()
	if strings.TrimSpace(result.Model) == "" {
		result.Outcome = OutcomeUnrecognized
		result.Err = fmt.Errorf("型號為空")
		return result
	}

	// 序號讀取失敗不影響已確認的型號
	result.Outcome = OutcomePresent
	if serial, err := p.reader.ReadField(p.serial); err == nil {
		result.Serial = serial.String()
	} else {
		p.logger.Debug("讀取序號失敗",
			zap.String("address", fmt.Sprintf("%#x", address)),
			zap.Error(err),
		)
	}

	return result
}

// Present 篩選出找到的設備
func Present(results []ProbeResult) []ProbeResult {
	var out []ProbeResult
	for _, r := range results {
		if r.Outcome == OutcomePresent {
			out = append(out, r)
		}
	}
	return out
}
