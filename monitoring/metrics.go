package monitoring

import (
	"sync"
	"time"

	"cvdrisk/predict"
)

// KindStats 单类结果统计
type KindStats struct {
	Count         int64         `json:"count"`
	TotalDuration time.Duration `json:"total_duration"`
	MaxDuration   time.Duration `json:"max_duration"`
}

// Snapshot 指标快照
type Snapshot struct {
	StartTime   time.Time                   `json:"start_time"`
	Uptime      string                      `json:"uptime"`
	Total       int64                       `json:"total"`
	HighRisk    int64                       `json:"high_risk"`
	LowRisk     int64                       `json:"low_risk"`
	ByKind      map[predict.Kind]*KindStats `json:"by_kind"`
	LastOutcome time.Time                   `json:"last_outcome,omitempty"`
}

// MetricsCollector 预测指标收集器
type MetricsCollector struct {
	mu sync.RWMutex

	startTime   time.Time
	total       int64
	highRisk    int64
	lowRisk     int64
	byKind      map[predict.Kind]*KindStats
	lastOutcome time.Time
}

// NewMetricsCollector 创建指标收集器
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		startTime: time.Now(),
		byKind:    make(map[predict.Kind]*KindStats),
	}
}

// Observe 记录一次预测结果，可直接作为 predict.Observer 使用
func (mc *MetricsCollector) Observe(outcome predict.Outcome) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.total++
	mc.lastOutcome = time.Now()
	switch outcome.Label {
	case predict.HighRisk:
		mc.highRisk++
	case predict.LowRisk:
		mc.lowRisk++
	}

	stats, ok := mc.byKind[outcome.Kind]
	if !ok {
		stats = &KindStats{}
		mc.byKind[outcome.Kind] = stats
	}
	stats.Count++
	stats.TotalDuration += outcome.Duration
	if outcome.Duration > stats.MaxDuration {
		stats.MaxDuration = outcome.Duration
	}
}

// Snapshot 返回当前指标副本
func (mc *MetricsCollector) Snapshot() Snapshot {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	byKind := make(map[predict.Kind]*KindStats, len(mc.byKind))
	for kind, stats := range mc.byKind {
		statsCopy := *stats
		byKind[kind] = &statsCopy
	}

	return Snapshot{
		StartTime:   mc.startTime,
		Uptime:      time.Since(mc.startTime).Round(time.Second).String(),
		Total:       mc.total,
		HighRisk:    mc.highRisk,
		LowRisk:     mc.lowRisk,
		ByKind:      byKind,
		LastOutcome: mc.lastOutcome,
	}
}
