package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Hukum1020/shymkent-whatsapp/internal/config"
	"github.com/Hukum1020/shymkent-whatsapp/internal/notify"
	"github.com/Hukum1020/shymkent-whatsapp/internal/processor"
	"github.com/Hukum1020/shymkent-whatsapp/internal/render"
	"github.com/Hukum1020/shymkent-whatsapp/internal/scheduler"
	"github.com/Hukum1020/shymkent-whatsapp/internal/server"
	"github.com/Hukum1020/shymkent-whatsapp/internal/store"
)

// app 进程级依赖，启动时创建一次并显式传递
type app struct {
	artifactDir string
	rasterizer  *render.BrowserRasterizer
	processor   *processor.Processor
	scheduler   *scheduler.Scheduler
	server      *server.Server
}

func newRowStore(ctx context.Context, cfg *config.AppConfig) (store.RowStore, error) {
	switch cfg.Sheet.Backend {
	case config.BackendWorkbook:
		return store.NewWorkbookStore(cfg.Sheet.WorkbookPath, cfg.Sheet.SheetName)
	case config.BackendGoogle:
		// 凭证刷新沿用构造时的 ctx，不能带超时
		svc, err := store.NewSheetsService(context.WithoutCancel(ctx), store.SheetsOptions{
			SpreadsheetID:   cfg.Sheet.SpreadsheetID,
			SheetName:       cfg.Sheet.SheetName,
			CredentialsJSON: cfg.Sheet.CredentialsJSON,
			CredentialsFile: cfg.Sheet.CredentialsFile,
		})
		if err != nil {
			return nil, err
		}

		ctx, cancel := context.WithTimeout(ctx, cfg.Poll.StoreTimeout.Duration)
		defer cancel()
		return store.NewSheetsStore(ctx, svc, cfg.Sheet.SpreadsheetID, cfg.Sheet.SheetName)
	default:
		return nil, fmt.Errorf("unknown sheet backend %q", cfg.Sheet.Backend)
	}
}

func newSender(cfg *config.AppConfig, logger *zap.Logger) notify.Sender {
	if cfg.Twilio.DryRun {
		return notify.NewDryRunSender(logger)
	}
	return notify.NewTwilioSender(notify.TwilioConfig{
		AccountSID: cfg.Twilio.AccountSID,
		AuthToken:  cfg.Twilio.AuthToken,
		From:       cfg.Twilio.From,
		Body:       cfg.Twilio.Body,
		Timeout:    cfg.Poll.SendTimeout.Duration,
	}, logger)
}

func newApp(ctx context.Context, cfg *config.AppConfig, logger *zap.Logger) (*app, error) {
	artifactDir, err := config.EnsureArtifactDir(cfg)
	if err != nil {
		return nil, fmt.Errorf("创建二维码目录失败: %w", err)
	}

	rows, err := newRowStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("打开报名表失败: %w", err)
	}

	rasterizer := render.NewBrowserRasterizer(render.BrowserConfig{
		Bin:         cfg.Render.ChromeBin,
		DebuggerURL: cfg.Render.DebuggerURL,
		Width:       cfg.Render.Width,
		Height:      cfg.Render.Height,
	}, logger.Named("render"))

	generator := render.NewGenerator(artifactDir, cfg.Render.QRSize, render.Templates{
		Dir:     cfg.Data.TemplateDir,
		Pattern: cfg.Data.TemplatePattern,
	}, rasterizer)

	proc := processor.New(rows, generator, newSender(cfg, logger.Named("notify")), processor.Options{
		PublicBaseURL: cfg.Server.PublicBaseURL,
		RowDelay:      cfg.Poll.RowDelay.Duration,
		StoreTimeout:  cfg.Poll.StoreTimeout.Duration,
		SendTimeout:   cfg.Poll.SendTimeout.Duration,
		RenderTimeout: cfg.Poll.RenderTimeout.Duration,
	}, logger.Named("processor"))

	sched := scheduler.New(proc, cfg.Poll.Interval.Duration, logger.Named("scheduler"))

	return &app{
		artifactDir: artifactDir,
		rasterizer:  rasterizer,
		processor:   proc,
		scheduler:   sched,
		server:      server.NewServer(artifactDir, sched, cfg.Server.DevMode, logger.Named("server")),
	}, nil
}

// Close 释放浏览器等资源
func (a *app) Close() {
	if a.rasterizer != nil {
		_ = a.rasterizer.Close()
	}
}
