package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Config points at a WeChat-work compatible webhook. An empty URL disables
// notification entirely.
type Config struct {
	WebhookURL string        `mapstructure:"webhook_url"`
	Timeout    time.Duration `mapstructure:"timeout"` // default 5s
}

// Notifier pushes restart notices as text messages: the payload is
// {"msgtype":"text","text":{"content":...}} and the endpoint answers with an
// errcode that is 0 on success.
type Notifier struct {
	url    string
	client *http.Client
}

func New(cfg Config) *Notifier {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Notifier{
		url:    strings.TrimSpace(cfg.WebhookURL),
		client: &http.Client{Timeout: timeout},
	}
}

// Enabled reports whether a webhook is configured.
func (n *Notifier) Enabled() bool {
	return n != nil && n.url != ""
}

// RestartNotice reports one completed restart. Callers treat the push as
// best-effort; a failure never undoes the restart.
func (n *Notifier) RestartNotice(ctx context.Context, workerName string, pid int, signaled []int) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%s restarted\n", workerName)
	fmt.Fprintf(&b, "time: %s\n", time.Now().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "pid: %d", pid)
	if len(signaled) > 0 {
		fmt.Fprintf(&b, "\nreplaced: %v", signaled)
	}
	return n.Push(ctx, b.String())
}

type textPayload struct {
	MsgType string `json:"msgtype"`
	Text    struct {
		Content string `json:"content"`
	} `json:"text"`
}

type pushResponse struct {
	ErrCode int    `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
}

// Push sends a raw text message to the configured webhook. Disabled
// notifiers accept everything silently.
func (n *Notifier) Push(ctx context.Context, content string) error {
	if !n.Enabled() {
		return nil
	}
	var p textPayload
	p.MsgType = "text"
	p.Text.Content = content
	body, err := json.Marshal(p)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook status %d", resp.StatusCode)
	}
	var pr pushResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		// Some webhook implementations answer with an empty body.
		return nil
	}
	if pr.ErrCode != 0 {
		return fmt.Errorf("webhook errcode %d: %s", pr.ErrCode, pr.ErrMsg)
	}
	return nil
}
