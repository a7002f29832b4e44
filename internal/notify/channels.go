/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package notify implements notification delivery to external channels.
// The dispatcher routes alert messages to the console, files, generic
// webhooks, email, Slack, Teams, or Discord based on rule actions and
// per-channel filters.
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/smtp"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Channel is the interface for all notification backends.
type Channel interface {
	// Send delivers a notification. Returns an error if delivery fails.
	Send(ctx context.Context, msg Message) error

	// Type returns the channel type name.
	Type() string
}

// Message is a notification to be delivered.
type Message struct {
	AlertID   string            `json:"alert_id"`
	Title     string            `json:"title"`
	Body      string            `json:"body,omitempty"`
	Severity  string            `json:"severity"`
	Category  string            `json:"category,omitempty"`
	Source    string            `json:"source,omitempty"`
	Metric    string            `json:"metric,omitempty"`
	Value     float64           `json:"value"`
	Threshold float64           `json:"threshold"`
	Tags      []string          `json:"tags,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// --- Console ---

// ConsoleChannel writes notifications to the process log.
type ConsoleChannel struct {
	log *zap.Logger
}

// NewConsoleChannel creates a console notification channel.
func NewConsoleChannel(log *zap.Logger) *ConsoleChannel {
	if log == nil {
		log = zap.NewNop()
	}
	return &ConsoleChannel{log: log}
}

func (c *ConsoleChannel) Type() string { return "console" }

func (c *ConsoleChannel) Send(_ context.Context, msg Message) error {
	c.log.Info("alert notification",
		zap.String("alert_id", msg.AlertID),
		zap.String("severity", msg.Severity),
		zap.String("category", msg.Category),
		zap.String("source", msg.Source),
		zap.String("title", msg.Title),
		zap.Float64("value", msg.Value),
		zap.Float64("threshold", msg.Threshold),
	)
	return nil
}

// --- File ---

// FileChannel appends notifications to a file as JSON lines.
type FileChannel struct {
	Path string
	mu   sync.Mutex
}

// NewFileChannel creates a file notification channel.
func NewFileChannel(path string) *FileChannel {
	return &FileChannel{Path: path}
}

func (f *FileChannel) Type() string { return "file" }

func (f *FileChannel) Send(_ context.Context, msg Message) error {
	line, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("file encode: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	handle, err := os.OpenFile(f.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("file open: %w", err)
	}
	defer handle.Close()

	if _, err := handle.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("file write: %w", err)
	}
	return nil
}

// --- Webhook ---

// WebhookChannel sends JSON notifications to any HTTP endpoint. When a
// secret is set, the request carries an HMAC-SHA256 signature of the body.
type WebhookChannel struct {
	URL     string
	Secret  string
	Headers map[string]string // optional auth headers
	client  *http.Client
}

// NewWebhookChannel creates a generic webhook notification channel.
func NewWebhookChannel(url, secret string, headers map[string]string) *WebhookChannel {
	return &WebhookChannel{
		URL:     url,
		Secret:  secret,
		Headers: headers,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (w *WebhookChannel) Type() string { return "webhook" }

func (w *WebhookChannel) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("webhook encode: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if w.Secret != "" {
		req.Header.Set("X-Vigil-Signature", signature(w.Secret, body))
	}
	for k, v := range w.Headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func signature(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// --- Email ---

// EmailChannel sends notifications via SMTP.
type EmailChannel struct {
	Host     string
	Port     int
	From     string
	To       []string
	Username string
	Password string

	// sendMail is swapped in tests.
	sendMail func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error
}

// NewEmailChannel creates an email notification channel.
func NewEmailChannel(host string, port int, from string, to []string, username, password string) *EmailChannel {
	return &EmailChannel{
		Host:     host,
		Port:     port,
		From:     from,
		To:       to,
		Username: username,
		Password: password,
		sendMail: smtp.SendMail,
	}
}

func (e *EmailChannel) Type() string { return "email" }

func (e *EmailChannel) Send(_ context.Context, msg Message) error {
	subject := fmt.Sprintf("[Vigil %s] %s", strings.ToUpper(msg.Severity), msg.Title)
	body := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\n\nSource: %s\nMetric: %s\nValue: %g (threshold %g)\nTime: %s",
		e.From,
		strings.Join(e.To, ","),
		subject,
		msg.Body,
		msg.Source,
		msg.Metric,
		msg.Value,
		msg.Threshold,
		msg.Timestamp.Format(time.RFC3339),
	)

	addr := fmt.Sprintf("%s:%d", e.Host, e.Port)
	var auth smtp.Auth
	if e.Username != "" {
		auth = smtp.PlainAuth("", e.Username, e.Password, e.Host)
	}

	return e.sendMail(addr, auth, e.From, e.To, []byte(body))
}

// --- Slack ---

// SlackChannel sends notifications to Slack via incoming webhook.
type SlackChannel struct {
	WebhookURL string
	Channel    string // optional override
	client     *http.Client
}

// NewSlackChannel creates a Slack notification channel.
func NewSlackChannel(webhookURL, channel string) *SlackChannel {
	return &SlackChannel{
		WebhookURL: webhookURL,
		Channel:    channel,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *SlackChannel) Type() string { return "slack" }

func (s *SlackChannel) Send(ctx context.Context, msg Message) error {
	text := fmt.Sprintf("%s *[%s] %s*\n%s\nsource: `%s`  value: %g  threshold: %g",
		severityEmoji(msg.Severity), strings.ToUpper(msg.Severity), msg.Title, msg.Body, msg.Source, msg.Value, msg.Threshold)

	payload := map[string]interface{}{
		"text": text,
	}
	if s.Channel != "" {
		payload["channel"] = s.Channel
	}

	return postJSON(ctx, s.client, s.WebhookURL, payload, "slack")
}

// --- Teams ---

// TeamsChannel sends notifications to Microsoft Teams via incoming webhook.
type TeamsChannel struct {
	WebhookURL string
	client     *http.Client
}

// NewTeamsChannel creates a Teams notification channel.
func NewTeamsChannel(webhookURL string) *TeamsChannel {
	return &TeamsChannel{
		WebhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *TeamsChannel) Type() string { return "teams" }

func (t *TeamsChannel) Send(ctx context.Context, msg Message) error {
	payload := map[string]interface{}{
		"@type":      "MessageCard",
		"@context":   "https://schema.org/extensions",
		"summary":    msg.Title,
		"themeColor": severityColor(msg.Severity),
		"title":      fmt.Sprintf("[%s] %s", strings.ToUpper(msg.Severity), msg.Title),
		"text":       msg.Body,
		"sections": []map[string]interface{}{
			{
				"facts": []map[string]string{
					{"name": "Source", "value": msg.Source},
					{"name": "Metric", "value": msg.Metric},
					{"name": "Value", "value": fmt.Sprintf("%g", msg.Value)},
					{"name": "Threshold", "value": fmt.Sprintf("%g", msg.Threshold)},
				},
			},
		},
	}

	return postJSON(ctx, t.client, t.WebhookURL, payload, "teams")
}

// --- Discord ---

// DiscordChannel sends notifications to Discord via incoming webhook.
type DiscordChannel struct {
	WebhookURL string
	client     *http.Client
}

// NewDiscordChannel creates a Discord notification channel.
func NewDiscordChannel(webhookURL string) *DiscordChannel {
	return &DiscordChannel{
		WebhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (d *DiscordChannel) Type() string { return "discord" }

func (d *DiscordChannel) Send(ctx context.Context, msg Message) error {
	payload := map[string]interface{}{
		"content": fmt.Sprintf("%s **[%s] %s**\n%s\nsource: `%s`  value: %g  threshold: %g",
			severityEmoji(msg.Severity), strings.ToUpper(msg.Severity), msg.Title, msg.Body, msg.Source, msg.Value, msg.Threshold),
	}

	return postJSON(ctx, d.client, d.WebhookURL, payload, "discord")
}

// --- Helpers ---

func postJSON(ctx context.Context, client *http.Client, url string, payload interface{}, kind string) error {
	body, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s request: %w", kind, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s send: %w", kind, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s returned %d: %s", kind, resp.StatusCode, string(respBody))
	}
	return nil
}

func severityEmoji(severity string) string {
	switch severity {
	case "critical":
		return "\U0001F534"
	case "warning":
		return "\U0001F7E1"
	case "info":
		return "\U0001F535"
	default:
		return "\u26AA"
	}
}

func severityColor(severity string) string {
	switch severity {
	case "critical":
		return "E81123"
	case "warning":
		return "FFB900"
	default:
		return "0078D7"
	}
}
