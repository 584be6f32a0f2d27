package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"polymercado/internal/config"
)

// Channel delivers one formatted alert to a downstream sink.
type Channel interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

// LogChannel writes alerts to the structured log. Always available; the
// default sink when nothing else is configured.
type LogChannel struct {
	logger *slog.Logger
}

func NewLogChannel(logger *slog.Logger) *LogChannel {
	return &LogChannel{logger: logger.With("component", "alert_log_channel")}
}

func (c *LogChannel) Name() string { return "log" }

func (c *LogChannel) Send(_ context.Context, msg Message) error {
	c.logger.Info("ALERT",
		"type", msg.Type,
		"severity", msg.Severity,
		"subject", msg.Subject,
		"body", msg.Body,
		"link", msg.Link,
	)
	return nil
}

// SlackChannel posts alerts to a Slack incoming webhook.
type SlackChannel struct {
	http       *resty.Client
	webhookURL string
}

func NewSlackChannel(webhookURL string, timeout time.Duration) *SlackChannel {
	return &SlackChannel{
		http:       resty.New().SetTimeout(timeout),
		webhookURL: webhookURL,
	}
}

func (c *SlackChannel) Name() string { return "slack" }

func (c *SlackChannel) Send(ctx context.Context, msg Message) error {
	body := map[string]string{
		"text": fmt.Sprintf("*%s*\n%s\n<%s|details>", msg.Subject, msg.Body, msg.Link),
	}
	resp, err := c.http.R().SetContext(ctx).SetBody(body).Post(c.webhookURL)
	if err != nil {
		return fmt.Errorf("slack post: %w", err)
	}
	if resp.StatusCode() >= 300 {
		return fmt.Errorf("slack status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

// TelegramChannel sends alerts through the Telegram bot API.
type TelegramChannel struct {
	http   *resty.Client
	token  string
	chatID string
}

func NewTelegramChannel(token, chatID string, timeout time.Duration) *TelegramChannel {
	return &TelegramChannel{
		http:   resty.New().SetTimeout(timeout),
		token:  token,
		chatID: chatID,
	}
}

func (c *TelegramChannel) Name() string { return "telegram" }

func (c *TelegramChannel) Send(ctx context.Context, msg Message) error {
	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", c.token)
	body := map[string]string{
		"chat_id": c.chatID,
		"text":    fmt.Sprintf("%s\n%s\n%s", msg.Subject, msg.Body, msg.Link),
	}
	resp, err := c.http.R().SetContext(ctx).SetBody(body).Post(url)
	if err != nil {
		return fmt.Errorf("telegram post: %w", err)
	}
	if resp.StatusCode() >= 300 {
		return fmt.Errorf("telegram status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

// EmailChannel sends alerts over plain SMTP.
type EmailChannel struct {
	addr string
	from string
	to   []string
}

func NewEmailChannel(addr, from, to string) *EmailChannel {
	var recipients []string
	for _, r := range strings.Split(to, ",") {
		if r = strings.TrimSpace(r); r != "" {
			recipients = append(recipients, r)
		}
	}
	return &EmailChannel{addr: addr, from: from, to: recipients}
}

func (c *EmailChannel) Name() string { return "email" }

func (c *EmailChannel) Send(_ context.Context, msg Message) error {
	if len(c.to) == 0 {
		return fmt.Errorf("no email recipients configured")
	}
	data := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\n\n%s\r\n",
		c.from, strings.Join(c.to, ", "), msg.Subject, msg.Body, msg.Link)
	if err := smtp.SendMail(c.addr, nil, c.from, c.to, []byte(data)); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

// BuildChannels assembles the configured channel drivers. Unknown names
// and channels with missing credentials are skipped with a warning.
func BuildChannels(cfg *config.Settings, logger *slog.Logger) map[string]Channel {
	out := make(map[string]Channel)
	for _, name := range cfg.ChannelList() {
		switch name {
		case "log":
			out[name] = NewLogChannel(logger)
		case "slack":
			if cfg.AlertSlackWebhookURL == "" {
				logger.Warn("slack channel configured without webhook URL, skipping")
				continue
			}
			out[name] = NewSlackChannel(cfg.AlertSlackWebhookURL, cfg.HTTPTimeout())
		case "telegram":
			if cfg.AlertTelegramBotToken == "" || cfg.AlertTelegramChatID == "" {
				logger.Warn("telegram channel configured without credentials, skipping")
				continue
			}
			out[name] = NewTelegramChannel(cfg.AlertTelegramBotToken, cfg.AlertTelegramChatID, cfg.HTTPTimeout())
		case "email":
			if cfg.AlertEmailSMTPAddr == "" {
				logger.Warn("email channel configured without SMTP address, skipping")
				continue
			}
			out[name] = NewEmailChannel(cfg.AlertEmailSMTPAddr, cfg.AlertEmailFrom, cfg.AlertEmailTo)
		default:
			logger.Warn("unknown alert channel", "channel", name)
		}
	}
	return out
}
