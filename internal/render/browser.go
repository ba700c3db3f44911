package render

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"
)

// Rasterizer 把 HTML 文件渲染为 PNG
type Rasterizer interface {
	Rasterize(ctx context.Context, htmlPath, outPath string) error
}

// BrowserConfig 无头 Chrome 配置
type BrowserConfig struct {
	Bin         string // Chrome 可执行文件，为空时由 launcher 自动查找/下载
	DebuggerURL string // 已运行 Chrome 的 DevTools 地址，优先于 Bin
	Width       int
	Height      int
}

// BrowserRasterizer 基于 go-rod 的渲染器
//
// 页面按 A4（96dpi）视口排版，只截取第一页（视口）作为邀请函图片。
type BrowserRasterizer struct {
	cfg     BrowserConfig
	logger  *zap.Logger
	mu      sync.Mutex
	browser *rod.Browser
	launch  *launcher.Launcher
}

// NewBrowserRasterizer 创建渲染器；Chrome 在第一次渲染时才启动
func NewBrowserRasterizer(cfg BrowserConfig, logger *zap.Logger) *BrowserRasterizer {
	if cfg.Width <= 0 {
		cfg.Width = 794
	}
	if cfg.Height <= 0 {
		cfg.Height = 1123
	}
	return &BrowserRasterizer{cfg: cfg, logger: logger}
}

// pageCloseTimeout 关闭标签页的时限，独立于渲染超时
const pageCloseTimeout = 5 * time.Second

// ensureBrowser 启动或复用浏览器；启动（包括自动下载 Chromium）受 ctx 限制
func (r *BrowserRasterizer) ensureBrowser(ctx context.Context) (*rod.Browser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.browser != nil {
		if _, err := r.browser.Version(); err == nil {
			return r.browser, nil
		}
		r.logger.Warn("stale browser connection, relaunching")
		r.closeLocked()
	}

	controlURL := r.cfg.DebuggerURL
	if controlURL == "" {
		l := launcher.New().Context(ctx).Headless(true).Set("no-sandbox")
		if r.cfg.Bin != "" {
			l = l.Bin(r.cfg.Bin)
		}
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("launch chrome: %w", err)
		}
		controlURL = u
		r.launch = l
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}
	r.browser = browser
	r.logger.Info("browser connected", zap.String("control_url", controlURL))
	return browser, nil
}

// Rasterize 打开 htmlPath 并把第一页截图写入 outPath
func (r *BrowserRasterizer) Rasterize(ctx context.Context, htmlPath, outPath string) error {
	browser, err := r.ensureBrowser(ctx)
	if err != nil {
		return err
	}

	page, err := browser.Context(ctx).Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return fmt.Errorf("open page: %w", err)
	}
	// 渲染超时后 ctx 已失效，关闭标签页需要独立的 ctx
	defer r.closePage(page)

	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             r.cfg.Width,
		Height:            r.cfg.Height,
		DeviceScaleFactor: 1,
	}); err != nil {
		return fmt.Errorf("set viewport: %w", err)
	}

	if err := page.Navigate(fileURL(htmlPath)); err != nil {
		return fmt.Errorf("navigate %s: %w", htmlPath, err)
	}
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("wait load %s: %w", htmlPath, err)
	}

	png, err := page.Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return fmt.Errorf("screenshot %s: %w", htmlPath, err)
	}
	if err := os.WriteFile(outPath, png, 0644); err != nil {
		return fmt.Errorf("write %s: %w", outPath, err)
	}
	return nil
}

func (r *BrowserRasterizer) closePage(page *rod.Page) {
	ctx, cancel := context.WithTimeout(context.Background(), pageCloseTimeout)
	defer cancel()
	if err := page.Context(ctx).Close(); err != nil {
		r.logger.Warn("close page failed", zap.String("target", string(page.TargetID)), zap.Error(err))
	}
}

// Close 关闭浏览器
func (r *BrowserRasterizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closeLocked()
}

func (r *BrowserRasterizer) closeLocked() error {
	var err error
	if r.browser != nil {
		err = r.browser.Close()
		r.browser = nil
	}
	if r.launch != nil {
		r.launch.Kill()
		r.launch = nil
	}
	return err
}
