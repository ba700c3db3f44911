// Package notify 通过 WhatsApp 发送邀请函
package notify

import (
	"context"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

// Sender 通知发送接口
// Send 自行捕获并记录所有错误，只返回是否成功
type Sender interface {
	Send(ctx context.Context, to, mediaURL string) bool
}

// WhatsAppAddress 把手机号转换为 WhatsApp 地址
func WhatsAppAddress(phone string) string {
	phone = strings.TrimSpace(phone)
	if strings.HasPrefix(phone, "whatsapp:") {
		return phone
	}
	return "whatsapp:" + phone
}

// MediaURL 生成文件服务上的图片地址
func MediaURL(baseURL, filename string) (string, error) {
	return url.JoinPath(baseURL, "qrcodes", filename)
}

// DryRunSender 只记录日志的发送器，本地调试用
type DryRunSender struct {
	logger *zap.Logger
}

// NewDryRunSender 创建 DryRunSender
func NewDryRunSender(logger *zap.Logger) *DryRunSender {
	return &DryRunSender{logger: logger}
}

// Send 记录将要发送的消息并返回成功
func (s *DryRunSender) Send(_ context.Context, to, mediaURL string) bool {
	s.logger.Info("dry run: message not sent", zap.String("to", to), zap.String("media_url", mediaURL))
	return true
}
