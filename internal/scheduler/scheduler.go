// Package scheduler 周期性运行来宾处理循环
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Hukum1020/shymkent-whatsapp/internal/processor"
)

// CycleRunner 单轮处理接口（*processor.Processor 实现）
type CycleRunner interface {
	RunCycle(ctx context.Context) (*processor.CycleReport, error)
}

// Stats 调度统计
type Stats struct {
	Cycles        int64     `json:"cycles"`
	AbortedCycles int64     `json:"aborted_cycles"`
	Delivered     int64     `json:"delivered"`
	SendFailures  int64     `json:"send_failures"`
	RowFailures   int64     `json:"row_failures"`
	MarkFailures  int64     `json:"mark_failures"`
	LastCycleID   string    `json:"last_cycle_id,omitempty"`
	LastCycleAt   time.Time `json:"last_cycle_at,omitempty"`
	LastError     string    `json:"last_error,omitempty"`
	Interval      string    `json:"interval"`
}

// Scheduler 无限轮询调度器
//
// 每轮都在独立的失败边界内运行：错误或 panic 只记录并计数，间隔之后开始新一轮。
// 没有退避与抖动，进程被终止前一直运行。
type Scheduler struct {
	runner   CycleRunner
	interval time.Duration
	logger   *zap.Logger

	mu    sync.RWMutex
	stats Stats
}

// New 创建调度器
func New(runner CycleRunner, interval time.Duration, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		runner:   runner,
		interval: interval,
		logger:   logger,
		stats:    Stats{Interval: interval.String()},
	}
}

// Run 循环执行，直到 ctx 被取消
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started", zap.Duration("interval", s.interval))

	for {
		s.RunOnce(ctx)

		timer := time.NewTimer(s.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// RunOnce 在失败边界内执行一轮
func (s *Scheduler) RunOnce(ctx context.Context) (report *processor.CycleReport, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("cycle panicked", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("cycle panic: %v", r)
		}
		s.record(ctx, report, err)
	}()

	return s.runner.RunCycle(ctx)
}

func (s *Scheduler) record(ctx context.Context, report *processor.CycleReport, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stats.Cycles++
	s.stats.LastCycleAt = time.Now()
	if report != nil {
		s.stats.LastCycleID = report.ID
		counts := report.Counts()
		s.stats.Delivered += int64(counts[processor.OutcomeDelivered])
		s.stats.SendFailures += int64(counts[processor.OutcomeSendFailed])
		s.stats.RowFailures += int64(counts[processor.OutcomeFailed])
		s.stats.MarkFailures += int64(counts[processor.OutcomeMarkFailed])
	}

	// 停机打断的一轮不算失败
	if err != nil && errors.Is(err, context.Canceled) && ctx.Err() != nil {
		s.logger.Info("cycle interrupted by shutdown")
		return
	}
	if err != nil {
		s.stats.AbortedCycles++
		s.stats.LastError = err.Error()
		s.logger.Error("cycle aborted",
			zap.Int64("aborted_cycles", s.stats.AbortedCycles),
			zap.Error(err))
		return
	}
	s.stats.LastError = ""
}

// Stats 当前统计快照
func (s *Scheduler) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}
