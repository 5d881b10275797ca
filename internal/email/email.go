// Package email delivers live notifications to subscriber inboxes.
package email

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mailgun/mailgun-go/v4"

	"streamhook/internal/models"
)

// ErrMissingRecipient is returned when a subscriber has no email address.
var ErrMissingRecipient = errors.New("email: recipient is required")

// Subject renders the subject line for a notification.
func Subject(n models.Notification) string {
	if n.Body != "" {
		return n.Body
	}
	return n.Title
}

// Body renders the HTML body for a notification.
func Body(n models.Notification) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<h3>%s</h3>\n", html.EscapeString(n.Title))
	fmt.Fprintf(&b, "<p>%s</p>\n", html.EscapeString(n.Body))
	if n.URL != "" {
		url := html.EscapeString(n.URL)
		fmt.Fprintf(&b, `<p><a href="%s">%s</a></p>`+"\n", url, url)
	}
	return b.String()
}

// MailgunConfig configures a MailgunSender.
type MailgunConfig struct {
	Domain  string
	APIKey  string
	Sender  string
	APIBase string
	Timeout time.Duration
	Client  *http.Client
}

// MailgunSender sends notifications through the Mailgun messages API.
type MailgunSender struct {
	mg      *mailgun.MailgunImpl
	sender  string
	timeout time.Duration
}

func NewMailgunSender(cfg MailgunConfig) (*MailgunSender, error) {
	if strings.TrimSpace(cfg.Domain) == "" || strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("email: mailgun domain and api key are required")
	}
	if strings.TrimSpace(cfg.Sender) == "" {
		return nil, errors.New("email: mailgun sender is required")
	}
	mg := mailgun.NewMailgun(cfg.Domain, cfg.APIKey)
	if cfg.APIBase != "" {
		mg.SetAPIBase(cfg.APIBase)
	}
	if cfg.Client != nil {
		mg.SetClient(cfg.Client)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &MailgunSender{mg: mg, sender: cfg.Sender, timeout: timeout}, nil
}

// Send returns the Mailgun message id on success.
func (s *MailgunSender) Send(ctx context.Context, recipient string, n models.Notification) (string, error) {
	recipient = strings.TrimSpace(recipient)
	if recipient == "" {
		return "", ErrMissingRecipient
	}
	message := s.mg.NewMessage(s.sender, Subject(n), "", recipient)
	message.SetHtml(Body(n))
	if n.Tag != "" {
		if err := message.AddTag(n.Tag); err != nil {
			return "", fmt.Errorf("email: tag message: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, id, err := s.mg.Send(ctx, message)
	if err != nil {
		return "", fmt.Errorf("email: mailgun send: %w", err)
	}
	return id, nil
}

// LogSender logs notifications instead of sending them.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, recipient string, n models.Notification) (string, error) {
	if strings.TrimSpace(recipient) == "" {
		return "", ErrMissingRecipient
	}
	s.logger.InfoContext(ctx, "email notification", "recipient", recipient, "subject", Subject(n), "url", n.URL)
	return "", nil
}
