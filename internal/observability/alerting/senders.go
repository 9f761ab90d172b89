package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/smtp"
	"strings"
	"time"
)

// SMTPMailer 通过 SMTP 投递告警邮件，实现 EmailSender。
type SMTPMailer struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

var _ EmailSender = (*SMTPMailer)(nil)

// Send 同步发送一封纯文本邮件。
func (m *SMTPMailer) Send(_ context.Context, subject, content string, to []string) error {
	if m == nil || m.Host == "" || m.From == "" {
		return errors.New("SMTP 发件配置不完整")
	}
	port := m.Port
	if port <= 0 {
		port = 25
	}

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\n", m.From)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n")
	msg.WriteString(content)

	var auth smtp.Auth
	if m.Username != "" {
		auth = smtp.PlainAuth("", m.Username, m.Password, m.Host)
	}
	addr := fmt.Sprintf("%s:%d", m.Host, port)
	if err := smtp.SendMail(addr, auth, m.From, to, msg.Bytes()); err != nil {
		return fmt.Errorf("发送告警邮件失败: %w", err)
	}
	return nil
}

// DingTalkWebhook 向钉钉机器人 webhook 投递文本消息，实现 DingTalkSender。
type DingTalkWebhook struct {
	URL    string
	Client *http.Client
}

var _ DingTalkSender = (*DingTalkWebhook)(nil)

func (w *DingTalkWebhook) Send(ctx context.Context, content string) error {
	if w == nil || w.URL == "" {
		return errors.New("钉钉 webhook 地址不能为空")
	}
	payload := map[string]any{
		"msgtype": "text",
		"text":    map[string]string{"content": content},
	}
	return postJSON(ctx, w.Client, w.URL, payload)
}

// SlackWebhook 向 Slack incoming webhook 投递消息，实现 SlackSender。
type SlackWebhook struct {
	URL    string
	Client *http.Client
}

var _ SlackSender = (*SlackWebhook)(nil)

func (w *SlackWebhook) Send(ctx context.Context, channel, content string) error {
	if w == nil || w.URL == "" {
		return errors.New("Slack webhook 地址不能为空")
	}
	payload := map[string]string{
		"channel": channel,
		"text":    content,
	}
	return postJSON(ctx, w.Client, w.URL, payload)
}

func postJSON(ctx context.Context, client *http.Client, url string, payload any) error {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("编码告警消息失败: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("构造告警请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("投递告警消息失败: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("告警服务返回 %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return nil
}
