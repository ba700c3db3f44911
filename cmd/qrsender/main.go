package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Hukum1020/shymkent-whatsapp/internal/config"
	"github.com/Hukum1020/shymkent-whatsapp/internal/logging"
)

var (
	configPath string
	port       int
	devMode    bool
	dryRun     bool

	cfg    *config.AppConfig
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "qrsender",
	Short: "WhatsApp QR Code Sender - 报名表轮询与邀请函发送",
	Long: `qrsender 定期读取报名表，为新来宾生成二维码和邀请函图片，
通过 WhatsApp 发送后把该行状态标记为 Done。

不带子命令运行时启动文件服务和后台轮询。`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, info, err := config.LoadConfigWithInfo(configPath)
		if err != nil {
			return fmt.Errorf("加载配置失败: %w", err)
		}

		// 命令行参数覆盖配置
		if port > 0 && !info.PortSpecified {
			loaded.Server.Port = port
		}
		if devMode {
			loaded.Server.DevMode = true
		}
		if dryRun {
			loaded.Twilio.DryRun = true
		}

		l, err := logging.New(loaded.Log.Level, loaded.Server.DevMode)
		if err != nil {
			return err
		}
		cfg, logger = loaded, l

		if info.FileFound {
			logger.Info("config loaded", zap.String("path", info.Path))
		}
		// 各子命令按自身需要校验配置
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "配置文件路径 (默认为可执行文件同目录下的 config.toml)")
	rootCmd.PersistentFlags().IntVar(&port, "port", 0, "服务端口 (配置文件与 PORT 环境变量优先)")
	rootCmd.PersistentFlags().BoolVar(&devMode, "dev", false, "开发模式")
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "只记录日志，不真正发送 WhatsApp 消息")

	rootCmd.AddCommand(onceCmd, checkCmd)
}

// runServe 启动文件服务与后台轮询，直到收到退出信号
func runServe(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           a.server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("artifact server listening", zap.String("addr", addr), zap.String("dir", a.artifactDir))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("服务启动失败: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		// 轮询只在进程退出时停止
		_ = a.scheduler.Run(gctx)
		return nil
	})

	err = g.Wait()
	logger.Info("正在关闭服务...")
	return err
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
