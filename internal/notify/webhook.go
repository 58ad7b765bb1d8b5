package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
)

const defaultWebhookTimeout = 30 * time.Second

// WebhookPayload is the JSON body posted to the receiver.
type WebhookPayload struct {
	MessageID string    `json:"message_id"`
	Recipient string    `json:"recipient"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	SentAt    time.Time `json:"sent_at"`
}

// WebhookNotifier posts reminders to the recipient address, which must
// be an http(s) URL. Each request carries an HMAC-SHA256 signature of
// the body in X-Remindd-Signature and the generated message id in
// X-Remindd-Message-ID.
type WebhookNotifier struct {
	secret  string
	timeout time.Duration
	client  *http.Client
	clock   func() time.Time
}

func NewWebhook(secret string, timeout time.Duration) *WebhookNotifier {
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	return &WebhookNotifier{
		secret:  secret,
		timeout: timeout,
		client:  &http.Client{},
		clock:   time.Now,
	}
}

func (n *WebhookNotifier) Send(ctx context.Context, msg Message) (Receipt, error) {
	target, err := url.Parse(msg.Recipient)
	if err != nil || (target.Scheme != "http" && target.Scheme != "https") {
		return Receipt{}, fmt.Errorf("recipient %q is not a webhook url", msg.Recipient)
	}

	payload := WebhookPayload{
		MessageID: uuid.NewString(),
		Recipient: msg.Recipient,
		Subject:   msg.Subject,
		Body:      msg.Body,
		SentAt:    n.clock().UTC(),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Receipt{}, fmt.Errorf("marshal: %w", err)
	}

	ctxTimeout, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctxTimeout, http.MethodPost, target.String(), bytes.NewReader(body))
	if err != nil {
		return Receipt{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Remindd-Message-ID", payload.MessageID)
	httpReq.Header.Set("X-Remindd-Signature", ComputeSignature(n.secret, body))

	resp, err := n.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Receipt{}, fmt.Errorf("send: %w: %w", ErrSendTimeout, err)
		}
		return Receipt{}, fmt.Errorf("send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Receipt{}, fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return Receipt{MessageID: payload.MessageID}, nil
}

func ComputeSignature(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature is for receivers to verify incoming reminder posts.
func VerifySignature(secret string, body []byte, signature string) bool {
	expected := ComputeSignature(secret, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}
