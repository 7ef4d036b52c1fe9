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
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	webhookSignatureHeader = "X-Casa-Signature"
	webhookEventHeader     = "X-Casa-Event"
	webhookMaxRetries      = 2
)

// WebhookDeliverer 以 JSON POST 事件；配置 secret 时对 body 做 HMAC-SHA256 签名。
// 临时失败按指数退避重试，除 429 外的 4xx 视为永久失败。
type WebhookDeliverer struct {
	URL        string
	Secret     string
	HTTPClient *http.Client
	// 重试退避初始间隔，零值为 500ms
	InitialInterval time.Duration
}

func NewWebhookDeliverer(url, secret string, timeout time.Duration) *WebhookDeliverer {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookDeliverer{URL: url, Secret: secret, HTTPClient: &http.Client{Timeout: timeout}}
}

func (w *WebhookDeliverer) Name() string { return "webhook" }

func (w *WebhookDeliverer) Deliver(ctx context.Context, e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return err
	}

	b := backoff.NewExponentialBackOff()
	if w.InitialInterval > 0 {
		b.InitialInterval = w.InitialInterval
	} else {
		b.InitialInterval = 500 * time.Millisecond
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(b, webhookMaxRetries), ctx)

	return backoff.Retry(func() error { return w.post(ctx, e, body) }, policy)
}

func (w *WebhookDeliverer) post(ctx context.Context, e Event, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(webhookEventHeader, "followup."+string(e.Kind))
	if w.Secret != "" {
		req.Header.Set(webhookSignatureHeader, "sha256="+Sign(w.Secret, body))
	}

	resp, err := w.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	err = fmt.Errorf("webhook: status=%d body=%s", resp.StatusCode, string(b))
	if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
		return backoff.Permanent(err)
	}
	return err
}

// Sign 返回 body 的十六进制 HMAC-SHA256，接收方与签名头比对
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
