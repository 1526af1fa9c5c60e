package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"
)

// WebhookSender posts notifications to a configured HTTP endpoint with
// an HMAC signature. Transient failures are retried with fibonacci
// backoff before the notification counts as failed.
type WebhookSender struct {
	client  *http.Client
	url     string
	secret  string
	timeout time.Duration
}

func NewWebhookSender(url, secret string, timeout time.Duration) *WebhookSender {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &WebhookSender{
		client:  &http.Client{},
		url:     url,
		secret:  secret,
		timeout: timeout,
	}
}

var _ Sender = (*WebhookSender)(nil)

const maxSendAttempts = 3

// Send posts the notification with HMAC signature.
// Headers: X-Autoloop-Execution-ID, X-Autoloop-Signature.
func (s *WebhookSender) Send(ctx context.Context, n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	signature := computeSignature(s.secret, body)

	backoff := retry.WithMaxRetries(maxSendAttempts-1, retry.NewFibonacci(500*time.Millisecond))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		return s.post(ctx, n, body, signature)
	})
}

func (s *WebhookSender) post(ctx context.Context, n Notification, body []byte, signature string) error {
	ctxTimeout, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctxTimeout, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Autoloop-Execution-ID", n.ExecutionID.String())
	req.Header.Set("X-Autoloop-Signature", signature)

	resp, err := s.client.Do(req)
	if err != nil {
		return retry.RetryableError(fmt.Errorf("send: %w", err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return retry.RetryableError(fmt.Errorf("receiver returned %d", resp.StatusCode))
	default:
		return fmt.Errorf("receiver returned %d", resp.StatusCode)
	}
}

func computeSignature(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature lets receivers verify incoming notifications.
func VerifySignature(secret string, body []byte, signature string) bool {
	expected := computeSignature(secret, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}
