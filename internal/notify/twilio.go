package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
	"go.uber.org/zap"
)

// DefaultFrom Twilio WhatsApp 沙箱号码
const DefaultFrom = "whatsapp:+14155238886"

// MessageCreator Twilio 消息接口（*openapi.ApiService 实现）
type MessageCreator interface {
	CreateMessage(params *openapi.CreateMessageParams) (*openapi.ApiV2010Message, error)
}

// TwilioConfig Twilio 发送参数
type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	From       string
	Body       string
	Timeout    time.Duration
}

// TwilioSender Twilio WhatsApp 发送器
type TwilioSender struct {
	api    MessageCreator
	from   string
	body   string
	logger *zap.Logger
}

// NewTwilioSender 使用账号凭据创建发送器
func NewTwilioSender(cfg TwilioConfig, logger *zap.Logger) *TwilioSender {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	if cfg.Timeout > 0 {
		client.SetTimeout(cfg.Timeout)
	}
	return NewTwilioSenderWithAPI(client.Api, cfg.From, cfg.Body, logger)
}

// NewTwilioSenderWithAPI 使用自定义 MessageCreator 创建发送器（测试用）
func NewTwilioSenderWithAPI(api MessageCreator, from, body string, logger *zap.Logger) *TwilioSender {
	if from == "" {
		from = DefaultFrom
	}
	return &TwilioSender{
		api:    api,
		from:   WhatsAppAddress(from),
		body:   body,
		logger: logger,
	}
}

// Send 发送带图片的 WhatsApp 消息
func (s *TwilioSender) Send(ctx context.Context, to, mediaURL string) bool {
	sid, err := s.create(ctx, to, mediaURL)
	if err != nil {
		s.logger.Error("whatsapp send failed",
			zap.String("to", to),
			zap.String("media_url", mediaURL),
			zap.Error(err))
		return false
	}

	s.logger.Info("whatsapp sent", zap.String("to", to), zap.String("sid", sid))
	return true
}

// create 在独立 goroutine 中调用 Twilio，使 ctx 的截止时间对阻塞调用生效
func (s *TwilioSender) create(ctx context.Context, to, mediaURL string) (string, error) {
	params := &openapi.CreateMessageParams{}
	params.SetFrom(s.from)
	params.SetTo(to)
	params.SetBody(s.body)
	params.SetMediaUrl([]string{mediaURL})

	type result struct {
		sid string
		err error
	}
	done := make(chan result, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("twilio client panic: %v", r)}
			}
		}()

		msg, err := s.api.CreateMessage(params)
		if err != nil {
			done <- result{err: err}
			return
		}
		if msg == nil {
			done <- result{err: errors.New("twilio returned no message")}
			return
		}
		sid := ""
		if msg.Sid != nil {
			sid = *msg.Sid
		}
		if msg.ErrorCode != nil {
			done <- result{sid: sid, err: fmt.Errorf("twilio error code %d", *msg.ErrorCode)}
			return
		}
		done <- result{sid: sid}
	}()

	select {
	case r := <-done:
		return r.sid, r.err
	case <-ctx.Done():
		return "", fmt.Errorf("twilio request: %w", ctx.Err())
	}
}
