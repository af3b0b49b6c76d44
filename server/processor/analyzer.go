// Package processor runs delivery analyses in the background. An analysis
// draws a fresh set of delivery metrics, synthesizes the matching
// trajectory and hands both to the session in one step.
package processor

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/san-kum/cricket-hawkeye/server/delivery"
	"github.com/san-kum/cricket-hawkeye/server/models"
	"github.com/san-kum/cricket-hawkeye/server/session"
	"github.com/san-kum/cricket-hawkeye/server/trajectory"
	"go.uber.org/zap"
)

var ErrQueueFull = errors.New("analysis queue full")

// Target is the session side of an analysis.
type Target interface {
	ID() string
	BeginAnalysis() bool
	AbortAnalysis()
	CompleteAnalysis(result models.AnalysisResult) session.View
}

type AnalyzerConfig struct {
	Frames          int
	Delay           time.Duration
	Workers         int
	QueueSize       int
	Params          trajectory.Params
	ShutdownTimeout time.Duration
}

func DefaultAnalyzerConfig() AnalyzerConfig {
	return AnalyzerConfig{
		Frames:          trajectory.DefaultFrames,
		Delay:           2 * time.Second,
		Workers:         4,
		QueueSize:       100,
		Params:          trajectory.DefaultParams(),
		ShutdownTimeout: 10 * time.Second,
	}
}

type Analyzer struct {
	config  AnalyzerConfig
	sampler *delivery.Sampler
	queue   *ProcessingQueue
	logger  *zap.Logger
	stats   *AnalyzerStats
	mutex   sync.RWMutex
}

type AnalyzerStats struct {
	StartTime      time.Time `json:"start_time"`
	Started        int64     `json:"started"`
	Completed      int64     `json:"completed"`
	Rejected       int64     `json:"rejected"`
	Failed         int64     `json:"failed"`
	AverageLatency float64   `json:"average_latency_ms"`
	QueueSize      int       `json:"queue_size"`
	ActiveWorkers  int       `json:"active_workers"`
}

func NewAnalyzer(cfg AnalyzerConfig, sampler *delivery.Sampler, logger *zap.Logger) *Analyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sampler == nil {
		sampler = delivery.NewSampler()
	}
	if cfg.Frames < 1 {
		cfg.Frames = trajectory.DefaultFrames
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}

	a := &Analyzer{
		config:  cfg,
		sampler: sampler,
		logger:  logger,
		stats:   &AnalyzerStats{StartTime: time.Now()},
	}
	a.queue = NewProcessingQueue(cfg.QueueSize, cfg.Workers, a.process, a.recoverJob)
	a.stats.ActiveWorkers = a.queue.Workers()
	return a
}

// Trigger starts an analysis on t. It reports false with a nil error when
// t is already analyzing or has no video. A full queue leaves t as it was
// and returns ErrQueueFull.
func (a *Analyzer) Trigger(t Target) (bool, error) {
	if !t.BeginAnalysis() {
		return false, nil
	}

	item := &QueueItem{Target: t, EnqueuedAt: time.Now()}
	if !a.queue.Enqueue(item) {
		t.AbortAnalysis()
		a.mutex.Lock()
		a.stats.Rejected++
		a.mutex.Unlock()
		a.logger.Warn("Analysis rejected", zap.String("session_id", t.ID()))
		return false, fmt.Errorf("trigger analysis for %s: %w", t.ID(), ErrQueueFull)
	}

	a.mutex.Lock()
	a.stats.Started++
	a.mutex.Unlock()
	a.logger.Debug("Analysis queued", zap.String("session_id", t.ID()))
	return true, nil
}

// Analyze produces one result synchronously, without the delay.
func (a *Analyzer) Analyze() models.AnalysisResult {
	return models.AnalysisResult{
		ID:         uuid.NewString(),
		Metrics:    a.sampler.Sample(),
		Trajectory: trajectory.Synthesize(a.config.Frames, a.config.Params),
		CreatedAt:  time.Now(),
	}
}

func (a *Analyzer) process(item *QueueItem) {
	if a.config.Delay > 0 {
		time.Sleep(a.config.Delay)
	}

	result := a.Analyze()
	item.Target.CompleteAnalysis(result)

	latency := time.Since(item.EnqueuedAt)
	a.mutex.Lock()
	a.stats.Completed++
	a.updateLatencyStats(latency)
	a.mutex.Unlock()

	a.logger.Debug("Analysis finished",
		zap.String("session_id", item.Target.ID()),
		zap.String("analysis_id", result.ID),
		zap.Duration("latency", latency))
}

func (a *Analyzer) recoverJob(item *QueueItem, r interface{}) {
	a.logger.Error("Analysis panic",
		zap.String("session_id", item.Target.ID()),
		zap.Any("panic", r))
	item.Target.AbortAnalysis()

	a.mutex.Lock()
	a.stats.Failed++
	a.mutex.Unlock()
}

func (a *Analyzer) updateLatencyStats(latency time.Duration) {
	current := float64(latency.Milliseconds())

	if a.stats.AverageLatency == 0 {
		a.stats.AverageLatency = current
	} else {
		alpha := 0.1
		a.stats.AverageLatency = alpha*current + (1-alpha)*a.stats.AverageLatency
	}
}

func (a *Analyzer) Params() trajectory.Params {
	return a.config.Params
}

func (a *Analyzer) GetStats() AnalyzerStats {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	stats := *a.stats
	stats.QueueSize = a.queue.Size()
	return stats
}

func (a *Analyzer) QueueStats() QueueStats {
	return a.queue.GetQueueStats()
}

// Shutdown stops accepting analyses and waits for the running ones.
func (a *Analyzer) Shutdown() error {
	a.logger.Info("Shutting down analyzer")
	if err := a.queue.Shutdown(a.config.ShutdownTimeout); err != nil {
		return fmt.Errorf("analyzer shutdown: %w", err)
	}
	return nil
}
