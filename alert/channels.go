package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/smtp"
	"net/url"
	"strings"
	"time"

	"github.com/hostwatch/hostwatch/model"
)

// LogChannel writes events to the structured log. Always available; the
// fallback channel when nothing else is configured.
type LogChannel struct {
	logger *slog.Logger
}

// NewLogChannel creates a log channel.
func NewLogChannel(logger *slog.Logger) *LogChannel {
	return &LogChannel{logger: logger}
}

func (l *LogChannel) Name() string { return ChannelLog }

func (l *LogChannel) Send(ctx context.Context, ev model.AlertEvent) error {
	level := slog.LevelWarn
	switch ev.Severity {
	case model.SeverityInfo:
		level = slog.LevelInfo
	case model.SeverityError, model.SeverityCritical:
		level = slog.LevelError
	}
	l.logger.Log(ctx, level, "ALERT "+ev.Message,
		"event", ev.ID, "key", ev.Key.String(), "severity", ev.Severity.String(),
		"value", ev.Value, "threshold", ev.Threshold)
	return nil
}

// validateWebhookURL checks that a webhook URL uses http/https and does not
// target localhost, link-local, or cloud metadata endpoints.
func validateWebhookURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid webhook URL: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("webhook URL must use http or https scheme, got %q", scheme)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return fmt.Errorf("webhook URL has no host")
	}
	blocked := []string{"169.254.169.254", "metadata.google.internal", "localhost", "127.0.0.1", "::1", "[::1]"}
	for _, b := range blocked {
		if host == b {
			return fmt.Errorf("webhook URL host %q is blocked", host)
		}
	}
	return nil
}

// WebhookChannel POSTs the event as JSON to a generic webhook.
type WebhookChannel struct {
	url    string
	client *http.Client
}

// NewWebhookChannel creates a webhook channel after validating the URL.
func NewWebhookChannel(rawURL string) (*WebhookChannel, error) {
	if rawURL == "" {
		return nil, fmt.Errorf("webhook URL not configured")
	}
	if err := validateWebhookURL(rawURL); err != nil {
		return nil, err
	}
	return &WebhookChannel{
		url:    rawURL,
		client: &http.Client{Timeout: 5 * time.Second},
	}, nil
}

func (w *WebhookChannel) Name() string { return ChannelWebhook }

func (w *WebhookChannel) Send(ctx context.Context, ev model.AlertEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	return nil
}

// slackMessage is the Slack incoming-webhook payload.
type slackMessage struct {
	Channel     string            `json:"channel,omitempty"`
	Username    string            `json:"username,omitempty"`
	Text        string            `json:"text,omitempty"`
	Attachments []slackAttachment `json:"attachments,omitempty"`
}

type slackAttachment struct {
	Fallback  string       `json:"fallback,omitempty"`
	Color     string       `json:"color,omitempty"`
	Title     string       `json:"title,omitempty"`
	Text      string       `json:"text,omitempty"`
	Fields    []slackField `json:"fields,omitempty"`
	Timestamp int64        `json:"ts,omitempty"`
}

type slackField struct {
	Title string `json:"title,omitempty"`
	Value string `json:"value,omitempty"`
	Short bool   `json:"short,omitempty"`
}

// SlackChannel posts events to a Slack incoming webhook.
type SlackChannel struct {
	webhookURL string
	channel    string
	client     *http.Client
}

// NewSlackChannel creates a Slack channel.
func NewSlackChannel(webhookURL, channel string) (*SlackChannel, error) {
	if webhookURL == "" {
		return nil, fmt.Errorf("slack webhook URL not configured")
	}
	if err := validateWebhookURL(webhookURL); err != nil {
		return nil, err
	}
	return &SlackChannel{
		webhookURL: webhookURL,
		channel:    channel,
		client:     &http.Client{Timeout: 10 * time.Second},
	}, nil
}

func (s *SlackChannel) Name() string { return ChannelSlack }

func (s *SlackChannel) Send(ctx context.Context, ev model.AlertEvent) error {
	msg := slackMessage{
		Channel:  s.channel,
		Username: "hostwatch",
		Attachments: []slackAttachment{{
			Fallback:  ev.Message,
			Color:     slackColor(ev.Severity),
			Title:     fmt.Sprintf("%s alert on %s", ev.Key.Metric, ev.Key.Hostname),
			Text:      ev.Message,
			Timestamp: ev.FiredAt.Unix(),
			Fields: []slackField{
				{Title: "Key", Value: ev.Key.String(), Short: true},
				{Title: "Severity", Value: ev.Severity.String(), Short: true},
				{Title: "Value", Value: fmt.Sprintf("%.1f%%", ev.Value), Short: true},
				{Title: "Threshold", Value: fmt.Sprintf("%.1f%%", ev.Threshold), Short: true},
			},
		}},
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal slack message: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post to slack: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack returned %s", resp.Status)
	}
	return nil
}

func slackColor(s model.Severity) string {
	switch s {
	case model.SeverityCritical:
		return "#FF0000"
	case model.SeverityError:
		return "#FFA500"
	case model.SeverityWarning:
		return "#FFCC00"
	}
	return "#36A64F"
}

// EmailChannel sends events as plain-text mail over SMTP.
type EmailChannel struct {
	smtpAddr string
	from     string
	to       []string
}

// NewEmailChannel creates an email channel.
func NewEmailChannel(smtpAddr, from string, to []string) (*EmailChannel, error) {
	if smtpAddr == "" || from == "" || len(to) == 0 {
		return nil, fmt.Errorf("email channel requires smtp_addr, from, and at least one recipient")
	}
	return &EmailChannel{smtpAddr: smtpAddr, from: from, to: to}, nil
}

func (e *EmailChannel) Name() string { return ChannelEmail }

func (e *EmailChannel) Send(ctx context.Context, ev model.AlertEvent) error {
	body := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: [%s] %s\r\n\r\n%s\r\n\r\nvalue=%.1f threshold=%.1f fired_at=%s\r\n",
		e.from, strings.Join(e.to, ", "),
		strings.ToUpper(ev.Severity.String()), ev.Key.String(),
		ev.Message, ev.Value, ev.Threshold, ev.FiredAt.Format(time.RFC3339))
	if err := smtp.SendMail(e.smtpAddr, nil, e.from, e.to, []byte(body)); err != nil {
		return fmt.Errorf("send mail via %s: %w", e.smtpAddr, err)
	}
	return nil
}
