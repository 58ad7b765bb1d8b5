// Package notify delivers reminder messages. The concrete transports
// share one Notifier contract so throttling and circuit breaking stack
// as decorators around any of them.
package notify

import (
	"context"
	"errors"
)

// ErrSendTimeout marks a delivery that ran out of time. Callers can
// branch on it with errors.Is; the underlying error stays in the chain.
var ErrSendTimeout = errors.New("notify: send timed out")

// Message is one reminder to deliver.
type Message struct {
	Recipient string
	Subject   string
	Body      string
}

// Receipt identifies a delivered message.
type Receipt struct {
	MessageID string
}

// Notifier sends a message to its recipient. Implementations must honor
// ctx cancellation; a timed-out send counts as a failure.
type Notifier interface {
	Send(ctx context.Context, msg Message) (Receipt, error)
}
