package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// PollMetrics 讀取循環的 Prometheus 指標
type PollMetrics struct {
	mu sync.RWMutex

	registry *prometheus.Registry

	fieldValue   *prometheus.GaugeVec
	fieldReads   *prometheus.CounterVec
	cycles       prometheus.Counter
	cycleSeconds prometheus.Histogram
	lastSuccess  prometheus.Gauge

	lastCycle time.Time
	ready     bool

	server *http.Server
	logger *zap.Logger
}

// NewPollMetrics 建立指標收集器，使用獨立的 registry
func NewPollMetrics(logger *zap.Logger) *PollMetrics {
	m := &PollMetrics{
		registry: prometheus.NewRegistry(),
		fieldValue: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bmsreader_field_value",
			Help: "Last decoded numeric value per register field",
		}, []string{"field", "unit", "slave"}),
		fieldReads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bmsreader_field_reads_total",
			Help: "Register field reads by result",
		}, []string{"field", "result"}),
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bmsreader_poll_cycles_total",
			Help: "Completed read cycles",
		}),
		cycleSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bmsreader_poll_cycle_seconds",
			Help:    "Duration of a full register map read",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bmsreader_last_cycle_timestamp_seconds",
			Help: "Unix time of the last completed read cycle",
		}),
		logger: logger,
	}

	m.registry.MustRegister(m.fieldValue, m.fieldReads, m.cycles, m.cycleSeconds, m.lastSuccess)
	return m
}

// Registry 取得 registry
func (m *PollMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// Observe 記錄一次讀取循環
func (m *PollMetrics) Observe(slave uint8, batch *BatchResult, elapsed time.Duration) {
	slaveLabel := strconv.Itoa(int(slave))

	for _, r := range batch.Results {
		if r.Err != nil {
			kind := "error"
			if IsCommunication(r.Err) {
				kind = KindCommunication.String()
			} else if IsDecode(r.Err) {
				kind = KindDecode.String()
			}
			m.fieldReads.WithLabelValues(r.Field.Name, kind).Inc()
			m.fieldValue.DeleteLabelValues(r.Field.Name, r.Field.Unit, slaveLabel)
			continue
		}

		m.fieldReads.WithLabelValues(r.Field.Name, "ok").Inc()
		if f, ok := r.Value.Numeric(); ok {
			m.fieldValue.WithLabelValues(r.Field.Name, r.Field.Unit, slaveLabel).Set(f)
		}
	}

	m.cycles.Inc()
	m.cycleSeconds.Observe(elapsed.Seconds())

	now := time.Now()
	m.lastSuccess.Set(float64(now.Unix()))

	m.mu.Lock()
	m.lastCycle = now
	m.ready = true
	m.mu.Unlock()
}

// Start 啟動指標 HTTP 伺服器
func (m *PollMetrics) Start(endpoint string, port int) error {
	mux := http.NewServeMux()
	mux.Handle(endpoint, promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", m.handleHealth)
	mux.HandleFunc("/ready", m.handleReady)

	addr := fmt.Sprintf(":%d", port)
	m.server = &http.Server{Addr: addr, Handler: mux}
	m.logger.Info("啟動指標伺服器", zap.String("addr", addr))

	go func() {
		if err := m.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error("指標伺服器錯誤", zap.Error(err))
		}
	}()

	return nil
}

// Stop 關閉指標伺服器
func (m *PollMetrics) Stop() error {
	if m.server == nil {
		return nil
	}
	return m.server.Close()
}

// handleHealth 處理 /health 請求
func (m *PollMetrics) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
}

// handleReady 處理 /ready 請求 (完成第一次讀取後才就緒)
func (m *PollMetrics) handleReady(w http.ResponseWriter, r *http.Request) {
	m.mu.RLock()
	ready, last := m.ready, m.lastCycle
	m.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	if !ready {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"status": "not ready"})
		return
	}

	json.NewEncoder(w).Encode(map[string]string{
		"status":     "ready",
		"last_cycle": last.Format(time.RFC3339),
	})
}
