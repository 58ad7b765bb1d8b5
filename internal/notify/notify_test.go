package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	tele "gopkg.in/telebot.v3"

	"github.com/helvetiche/remindd/internal/testutil"
)

func TestWebhookNotifier_Send(t *testing.T) {
	type received struct {
		payload   WebhookPayload
		body      []byte
		signature string
		messageID string
	}
	var mu sync.Mutex
	var got received

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		got.body = body
		got.signature = r.Header.Get("X-Remindd-Signature")
		got.messageID = r.Header.Get("X-Remindd-Message-ID")
		_ = json.Unmarshal(body, &got.payload)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := NewWebhook("test-secret", 5*time.Second)
	receipt, err := n.Send(testutil.TestContext(t), Message{
		Recipient: server.URL,
		Subject:   "Reminder: backups",
		Body:      "due at 17:00",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if receipt.MessageID == "" {
		t.Fatal("receipt has no message id")
	}

	mu.Lock()
	defer mu.Unlock()
	if got.payload.Recipient != server.URL || got.payload.Subject != "Reminder: backups" {
		t.Fatalf("unexpected payload %+v", got.payload)
	}
	if got.payload.MessageID != receipt.MessageID || got.messageID != receipt.MessageID {
		t.Fatal("message id mismatch between payload, header and receipt")
	}
	if !VerifySignature("test-secret", got.body, got.signature) {
		t.Fatal("signature does not verify")
	}
	if VerifySignature("wrong-secret", got.body, got.signature) {
		t.Fatal("signature verified with the wrong secret")
	}
}

func TestWebhookNotifier_Send_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	n := NewWebhook("secret", 5*time.Second)
	if _, err := n.Send(testutil.TestContext(t), Message{Recipient: server.URL}); err == nil {
		t.Fatal("expected error for 500 response")
	}
}

func TestWebhookNotifier_Send_BadRecipient(t *testing.T) {
	n := NewWebhook("secret", 5*time.Second)
	if _, err := n.Send(testutil.TestContext(t), Message{Recipient: "ops@example.com"}); err == nil {
		t.Fatal("expected error for non-URL recipient")
	}
}

func TestWebhookNotifier_Send_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	n := NewWebhook("secret", 20*time.Millisecond)
	_, err := n.Send(testutil.TestContext(t), Message{Recipient: server.URL})
	if !errors.Is(err, ErrSendTimeout) {
		t.Fatalf("expected ErrSendTimeout, got %v", err)
	}
}

// flakyNotifier fails a set number of times, then succeeds.
type flakyNotifier struct {
	mu        sync.Mutex
	failures  int
	sendCalls int
}

func (n *flakyNotifier) Send(ctx context.Context, msg Message) (Receipt, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sendCalls++
	if n.failures > 0 {
		n.failures--
		return Receipt{}, errors.New("transport down")
	}
	return Receipt{MessageID: "msg-1"}, nil
}

func (n *flakyNotifier) calls() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sendCalls
}

func TestBreaker_OpensAndRecovers(t *testing.T) {
	ctx := testutil.TestContext(t)
	inner := &flakyNotifier{failures: 2}
	b := NewBreaker(inner, 2, time.Minute)

	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	clock := testutil.NewFakeClock(start)
	b.clock = clock.Now

	msg := Message{Recipient: "42", Subject: "x"}

	// Two failures trip the circuit.
	for i := 0; i < 2; i++ {
		if _, err := b.Send(ctx, msg); err == nil {
			t.Fatalf("send %d: expected failure", i)
		}
	}

	// Open circuit fails fast without reaching the transport.
	if _, err := b.Send(ctx, msg); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if inner.calls() != 2 {
		t.Fatalf("inner called %d times while open, want 2", inner.calls())
	}

	// Another recipient is unaffected.
	if _, err := b.Send(ctx, Message{Recipient: "other", Subject: "x"}); err != nil {
		t.Fatalf("other recipient blocked: %v", err)
	}

	// After the cooldown one probe goes through and closes the circuit.
	clock.Advance(2 * time.Minute)
	if _, err := b.Send(ctx, msg); err != nil {
		t.Fatalf("probe after cooldown: %v", err)
	}
	if _, err := b.Send(ctx, msg); err != nil {
		t.Fatalf("send after recovery: %v", err)
	}
}

func TestThrottled_PassesThrough(t *testing.T) {
	inner := &flakyNotifier{}
	th := NewThrottled(inner, 100, 1)

	receipt, err := th.Send(testutil.TestContext(t), Message{Recipient: "ops@example.com"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if receipt.MessageID != "msg-1" {
		t.Fatalf("receipt = %+v", receipt)
	}
}

func TestThrottled_HonorsContext(t *testing.T) {
	inner := &flakyNotifier{}
	// One token per 1000s: the burst covers the first send, the second
	// would wait far past the context deadline.
	th := NewThrottled(inner, 0.001, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := th.Send(ctx, Message{Recipient: "a"}); err != nil {
		t.Fatalf("first send should use the burst token: %v", err)
	}
	if _, err := th.Send(ctx, Message{Recipient: "a"}); err == nil {
		t.Fatal("second send should fail when no token arrives before ctx expires")
	}
}

type fakeTelegram struct {
	lastTo   tele.Recipient
	lastText string
	err      error
}

func (f *fakeTelegram) Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.lastTo = to
	f.lastText, _ = what.(string)
	return &tele.Message{ID: 77}, nil
}

func TestTelegramNotifier_Send(t *testing.T) {
	fake := &fakeTelegram{}
	n := &TelegramNotifier{bot: fake}

	receipt, err := n.Send(testutil.TestContext(t), Message{Recipient: "123456", Subject: "Reminder", Body: "details"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if receipt.MessageID != "77" {
		t.Fatalf("receipt = %+v", receipt)
	}
	if fake.lastTo.Recipient() != "123456" {
		t.Fatalf("sent to %q, want 123456", fake.lastTo.Recipient())
	}
	if fake.lastText != "Reminder\n\ndetails" {
		t.Fatalf("text = %q", fake.lastText)
	}

	if _, err := n.Send(testutil.TestContext(t), Message{Recipient: "not-a-chat-id"}); err == nil {
		t.Fatal("expected error for non-numeric recipient")
	}
}
