// Package processor 扫描报名表并为新来宾发送邀请函
package processor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Hukum1020/shymkent-whatsapp/internal/model"
	"github.com/Hukum1020/shymkent-whatsapp/internal/notify"
	"github.com/Hukum1020/shymkent-whatsapp/internal/render"
	"github.com/Hukum1020/shymkent-whatsapp/internal/store"
)

// ArtifactGenerator 图片生成接口（*render.Generator 实现）
type ArtifactGenerator interface {
	Generate(ctx context.Context, guest model.Guest) (render.Artifacts, error)
}

// Options 处理参数
type Options struct {
	PublicBaseURL string
	RowDelay      time.Duration
	StoreTimeout  time.Duration
	SendTimeout   time.Duration
	RenderTimeout time.Duration
}

// Processor 来宾处理循环（单轮）
type Processor struct {
	store     store.RowStore
	generator ArtifactGenerator
	sender    notify.Sender
	opts      Options
	logger    *zap.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// New 创建处理器
func New(rows store.RowStore, generator ArtifactGenerator, sender notify.Sender, opts Options, logger *zap.Logger) *Processor {
	return &Processor{
		store:     rows,
		generator: generator,
		sender:    sender,
		opts:      opts,
		logger:    logger,
		sleep:     sleepContext,
	}
}

// RunCycle 处理一轮
// 读取报名表失败时整轮中止并返回错误；单行失败只记录在该行的结果中
func (p *Processor) RunCycle(ctx context.Context) (*CycleReport, error) {
	report := &CycleReport{
		ID:        uuid.NewString(),
		StartedAt: time.Now(),
	}
	logger := p.logger.With(zap.String("cycle", report.ID))

	rows, err := p.fetch(ctx)
	if err != nil {
		report.FinishedAt = time.Now()
		return report, fmt.Errorf("fetch rows: %w", err)
	}

	// 下标 0 为表头
	for i := 1; i < len(rows); i++ {
		if err := ctx.Err(); err != nil {
			report.FinishedAt = time.Now()
			return report, err
		}

		result := p.processRowSafe(ctx, logger, i, rows[i])
		report.Rows = append(report.Rows, result)

		if result.Outcome.Attempted() && p.opts.RowDelay > 0 {
			if err := p.sleep(ctx, p.opts.RowDelay); err != nil {
				report.FinishedAt = time.Now()
				return report, err
			}
		}
	}

	report.FinishedAt = time.Now()
	counts := report.Counts()
	logger.Info("cycle finished",
		zap.Int("rows", len(report.Rows)),
		zap.Int("delivered", counts[OutcomeDelivered]),
		zap.Int("send_failed", counts[OutcomeSendFailed]),
		zap.Int("failed", counts[OutcomeFailed]),
		zap.Int("mark_failed", counts[OutcomeMarkFailed]),
		zap.Duration("took", report.Duration()))
	return report, nil
}

func (p *Processor) fetch(ctx context.Context) ([][]string, error) {
	ctx, cancel := withTimeout(ctx, p.opts.StoreTimeout)
	defer cancel()
	return p.store.FetchAllRows(ctx)
}

// processRowSafe 单行失败边界：错误和 panic 都只影响当前行
func (p *Processor) processRowSafe(ctx context.Context, logger *zap.Logger, index int, cells []string) (result RowResult) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("row processing panicked",
				zap.Int("row", index+1),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			result = RowResult{
				Row:     index,
				Outcome: OutcomeFailed,
				Err:     fmt.Errorf("panic: %v", r),
			}
		}
	}()

	return p.processRow(ctx, logger, index, cells)
}

func (p *Processor) processRow(ctx context.Context, logger *zap.Logger, index int, cells []string) RowResult {
	guest, err := model.DecodeRow(index, cells)
	if err != nil {
		if errors.Is(err, model.ErrMalformedRow) {
			logger.Debug("skip malformed row", zap.Int("row", index+1), zap.Int("cells", len(cells)))
			return RowResult{Row: index, Outcome: OutcomeMalformed, Err: err}
		}
		return RowResult{Row: index, Outcome: OutcomeFailed, Err: err}
	}

	result := RowResult{Row: index, Email: guest.Email}
	if reason := guest.SkipReason(); reason != "" {
		result.Reason = reason
		result.Outcome = OutcomeIncomplete
		if guest.IsDone() && guest.Name != "" && guest.Phone != "" && guest.Email != "" {
			result.Outcome = OutcomeDone
		}
		return result
	}

	rowLogger := logger.With(zap.Int("row", guest.SheetRow()), zap.String("email", guest.Email))

	arts, err := p.generate(ctx, guest)
	if err != nil {
		rowLogger.Error("generate artifacts failed", zap.Error(err))
		result.Outcome = OutcomeFailed
		result.Err = err
		return result
	}

	mediaURL, err := notify.MediaURL(p.opts.PublicBaseURL, arts.CompositeName)
	if err != nil {
		rowLogger.Error("build media url failed", zap.Error(err))
		result.Outcome = OutcomeFailed
		result.Err = err
		return result
	}

	// 发送与状态写入不受停机取消影响，只受各自超时限制；停机只在行与行之间检查
	deliverCtx := context.WithoutCancel(ctx)

	if !p.send(deliverCtx, notify.WhatsAppAddress(guest.Phone), mediaURL) {
		result.Outcome = OutcomeSendFailed
		return result
	}

	if err := p.markDone(deliverCtx, guest.Row); err != nil {
		// 消息已送达但状态未写入：下一轮会重复发送
		rowLogger.Error("mark done failed after successful send; guest will be notified again next cycle", zap.Error(err))
		result.Outcome = OutcomeMarkFailed
		result.Err = err
		return result
	}

	rowLogger.Info("guest delivered", zap.String("media_url", mediaURL))
	result.Outcome = OutcomeDelivered
	return result
}

func (p *Processor) generate(ctx context.Context, guest model.Guest) (render.Artifacts, error) {
	ctx, cancel := withTimeout(ctx, p.opts.RenderTimeout)
	defer cancel()
	return p.generator.Generate(ctx, guest)
}

func (p *Processor) send(ctx context.Context, to, mediaURL string) bool {
	ctx, cancel := withTimeout(ctx, p.opts.SendTimeout)
	defer cancel()
	return p.sender.Send(ctx, to, mediaURL)
}

func (p *Processor) markDone(ctx context.Context, row int) error {
	ctx, cancel := withTimeout(ctx, p.opts.StoreTimeout)
	defer cancel()
	return p.store.UpdateStatus(ctx, row, model.StatusDone)
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
