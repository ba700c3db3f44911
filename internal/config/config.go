package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// 行存储后端
const (
	BackendGoogle   = "google"
	BackendWorkbook = "workbook"
)

// AppConfig 应用配置
type AppConfig struct {
	Server ServerConfig `toml:"server"`
	Data   DataConfig   `toml:"data"`
	Sheet  SheetConfig  `toml:"sheet"`
	Twilio TwilioConfig `toml:"twilio"`
	Poll   PollConfig   `toml:"poll"`
	Render RenderConfig `toml:"render"`
	Log    LogConfig    `toml:"log"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Port          int    `toml:"port"`
	DevMode       bool   `toml:"dev_mode"`
	PublicBaseURL string `toml:"public_base_url"`
}

// DataConfig 文件目录配置
type DataConfig struct {
	ArtifactDir     string `toml:"artifact_dir"`
	TemplateDir     string `toml:"template_dir"`
	TemplatePattern string `toml:"template_pattern"`
}

// SheetConfig 报名表配置
type SheetConfig struct {
	Backend         string `toml:"backend"`
	SpreadsheetID   string `toml:"spreadsheet_id"`
	SheetName       string `toml:"sheet_name"`
	CredentialsJSON string `toml:"credentials_json"`
	CredentialsFile string `toml:"credentials_file"`
	WorkbookPath    string `toml:"workbook_path"`
}

// TwilioConfig WhatsApp 通道配置
type TwilioConfig struct {
	AccountSID string `toml:"account_sid"`
	AuthToken  string `toml:"auth_token"`
	From       string `toml:"from"`
	Body       string `toml:"body"`
	DryRun     bool   `toml:"dry_run"`
}

// PollConfig 轮询与超时配置
type PollConfig struct {
	Interval      Duration `toml:"interval"`
	RowDelay      Duration `toml:"row_delay"`
	StoreTimeout  Duration `toml:"store_timeout"`
	SendTimeout   Duration `toml:"send_timeout"`
	RenderTimeout Duration `toml:"render_timeout"`
}

// RenderConfig 邀请函渲染配置
type RenderConfig struct {
	Width       int    `toml:"width"`
	Height      int    `toml:"height"`
	QRSize      int    `toml:"qr_size"`
	ChromeBin   string `toml:"chrome_bin"`
	DebuggerURL string `toml:"debugger_url"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level string `toml:"level"`
}

// Duration 支持 "15s" 形式的 toml 字符串
type Duration struct {
	time.Duration
}

// UnmarshalText 实现 encoding.TextUnmarshaler
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = v
	return nil
}

// MarshalText 实现 encoding.TextMarshaler
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// DefaultConfig 默认配置
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Port:          5000,
			DevMode:       false,
			PublicBaseURL: "https://yourdomain.kz",
		},
		Data: DataConfig{
			ArtifactDir:     "qrcodes",
			TemplateDir:     "templates",
			TemplatePattern: "shym%s.html",
		},
		Sheet: SheetConfig{
			Backend: BackendGoogle,
		},
		Twilio: TwilioConfig{
			From: "whatsapp:+14155238886",
			Body: "Привет! Вот твой персональный QR-код для участия 🚁",
		},
		Poll: PollConfig{
			Interval:      Duration{15 * time.Second},
			RowDelay:      Duration{time.Second},
			StoreTimeout:  Duration{30 * time.Second},
			SendTimeout:   Duration{30 * time.Second},
			RenderTimeout: Duration{60 * time.Second},
		},
		Render: RenderConfig{
			Width:  794,
			Height: 1123,
			QRSize: 512,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// LoadConfigInfo 配置加载元信息
type LoadConfigInfo struct {
	Path          string
	FileFound     bool
	PortSpecified bool
}

func isPortSpecifiedInToml(data []byte) bool {
	var raw map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		return false
	}

	serverAny, ok := raw["server"]
	if !ok {
		return false
	}

	serverMap, ok := serverAny.(map[string]any)
	if !ok {
		return false
	}

	_, ok = serverMap["port"]
	return ok
}

// GetExeDir 获取可执行文件所在目录
func GetExeDir() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", err
	}
	return filepath.Dir(exe), nil
}

// DefaultConfigPath 默认配置文件路径（可执行文件同目录下的 config.toml）
func DefaultConfigPath() string {
	exeDir, err := GetExeDir()
	if err != nil {
		// 无法获取可执行文件目录，使用当前目录
		exeDir = "."
	}
	return filepath.Join(exeDir, "config.toml")
}

// LoadConfigWithInfo 从 toml 文件加载配置并应用环境变量覆盖
// configPath 为空时使用 DefaultConfigPath
func LoadConfigWithInfo(configPath string) (*AppConfig, LoadConfigInfo, error) {
	if configPath == "" {
		configPath = DefaultConfigPath()
	}
	info := LoadConfigInfo{Path: configPath}
	config := DefaultConfig()

	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		info.FileFound = true
		info.PortSpecified = isPortSpecifiedInToml(data)
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, info, fmt.Errorf("parse %s: %w", configPath, err)
		}
	case os.IsNotExist(err):
		// 配置文件不存在，使用默认配置
	default:
		return nil, info, err
	}

	if err := applyEnv(config, os.LookupEnv, &info); err != nil {
		return nil, info, err
	}

	return config, info, nil
}

// applyEnv 环境变量覆盖（部署平台只提供环境变量）
func applyEnv(config *AppConfig, lookup func(string) (string, bool), info *LoadConfigInfo) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = v
		}
	}

	if v, ok := lookup("PORT"); ok && v != "" {
		port, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", v, err)
		}
		config.Server.Port = port
		info.PortSpecified = true
	}
	str("PUBLIC_BASE_URL", &config.Server.PublicBaseURL)
	str("SPREADSHEET_ID", &config.Sheet.SpreadsheetID)
	str("GOOGLE_CREDENTIALS_JSON", &config.Sheet.CredentialsJSON)
	str("GOOGLE_CREDENTIALS_FILE", &config.Sheet.CredentialsFile)
	str("QRSENDER_WORKBOOK", &config.Sheet.WorkbookPath)
	str("TWILIO_ACCOUNT_SID", &config.Twilio.AccountSID)
	str("TWILIO_AUTH_TOKEN", &config.Twilio.AuthToken)
	str("TWILIO_FROM", &config.Twilio.From)
	str("QRSENDER_LOG_LEVEL", &config.Log.Level)
	str("CHROME_BIN", &config.Render.ChromeBin)

	// 只配置了本地工作簿时自动切换后端
	if _, ok := lookup("QRSENDER_WORKBOOK"); ok && config.Sheet.SpreadsheetID == "" {
		config.Sheet.Backend = BackendWorkbook
	}
	return nil
}

// Validate 检查必填项
func (c *AppConfig) Validate() error {
	errs := c.sheetErrors()

	if !c.Twilio.DryRun && (c.Twilio.AccountSID == "" || c.Twilio.AuthToken == "") {
		errs = append(errs, errors.New("TWILIO_ACCOUNT_SID and TWILIO_AUTH_TOKEN are required"))
	}
	if c.Server.PublicBaseURL == "" {
		errs = append(errs, errors.New("PUBLIC_BASE_URL is required"))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid port %d", c.Server.Port))
	}
	if c.Poll.Interval.Duration <= 0 {
		errs = append(errs, errors.New("poll.interval must be positive"))
	}
	if c.Poll.RowDelay.Duration < 0 {
		errs = append(errs, errors.New("poll.row_delay must not be negative"))
	}
	if !strings.Contains(c.Data.TemplatePattern, "%s") {
		errs = append(errs, fmt.Errorf("data.template_pattern %q must contain %%s", c.Data.TemplatePattern))
	}

	return errors.Join(errs...)
}

// ValidateSheet 只检查报名表相关配置（check 命令只读表）
func (c *AppConfig) ValidateSheet() error {
	return errors.Join(c.sheetErrors()...)
}

func (c *AppConfig) sheetErrors() []error {
	var errs []error
	switch c.Sheet.Backend {
	case BackendGoogle:
		if c.Sheet.SpreadsheetID == "" {
			errs = append(errs, errors.New("SPREADSHEET_ID is required"))
		}
		if c.Sheet.CredentialsJSON == "" && c.Sheet.CredentialsFile == "" {
			errs = append(errs, errors.New("GOOGLE_CREDENTIALS_JSON or GOOGLE_CREDENTIALS_FILE is required"))
		}
	case BackendWorkbook:
		if c.Sheet.WorkbookPath == "" {
			errs = append(errs, errors.New("sheet.workbook_path is required for the workbook backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown sheet backend %q", c.Sheet.Backend))
	}
	return errs
}

// EnsureArtifactDir 确保二维码目录存在
func EnsureArtifactDir(config *AppConfig) (string, error) {
	dir, err := filepath.Abs(config.Data.ArtifactDir)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	return dir, nil
}
