package server

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Hukum1020/shymkent-whatsapp/internal/scheduler"
)

// HealthMessage 首页存活提示
const HealthMessage = "WhatsApp QR Code Sender is running!"

// StatsProvider 调度统计来源（*scheduler.Scheduler 实现）
type StatsProvider interface {
	Stats() scheduler.Stats
}

// Server HTTP服务器
type Server struct {
	router      *gin.Engine
	artifactDir string
	stats       StatsProvider
	logger      *zap.Logger
}

// NewServer 创建服务器
// artifactDir 为二维码目录；stats 可为空，此时 /status 返回 404
func NewServer(artifactDir string, stats StatsProvider, devMode bool, logger *zap.Logger) *Server {
	if !devMode {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		router:      gin.New(),
		artifactDir: artifactDir,
		stats:       stats,
		logger:      logger,
	}
	s.router.Use(s.accessLog(), gin.Recovery())

	s.setupRoutes()

	return s
}

// setupRoutes 设置路由
func (s *Server) setupRoutes() {
	// 存活检查
	s.router.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, HealthMessage)
	})

	// 二维码与邀请函图片，仅按文件名读取，不提供目录列表
	s.router.GET("/qrcodes/:filename", s.serveArtifact)

	if s.stats != nil {
		s.router.GET("/status", func(c *gin.Context) {
			c.JSON(http.StatusOK, s.stats.Stats())
		})
	}
}

func (s *Server) serveArtifact(c *gin.Context) {
	name := c.Param("filename")
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") || strings.ContainsAny(name, `/\`) {
		c.Status(http.StatusNotFound)
		return
	}

	path := filepath.Join(s.artifactDir, name)
	st, err := os.Stat(path)
	if err != nil || !st.Mode().IsRegular() {
		c.Status(http.StatusNotFound)
		return
	}

	c.File(path)
}

// accessLog 使用 zap 记录请求
func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		s.logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.String("client_ip", c.ClientIP()))
	}
}

// Handler 返回 http.Handler（用于 http.Server / 测试）
func (s *Server) Handler() http.Handler {
	return s.router
}
