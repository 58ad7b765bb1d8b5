package notify

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrCircuitOpen = errors.New("notifier circuit is open")

type breakerState int

const (
	stateClosed breakerState = iota
	stateOpen
	stateHalfOpen
)

type recipientState struct {
	state               breakerState
	consecutiveFailures int
	openedAt            time.Time
}

// Breaker wraps a Notifier with a per-recipient circuit breaker. After
// threshold consecutive failures the circuit opens and sends to that
// recipient fail fast until the cooldown elapses; the first send after
// cooldown is a probe that closes the circuit on success.
type Breaker struct {
	inner     Notifier
	threshold int
	cooldown  time.Duration
	clock     func() time.Time

	mu     sync.Mutex
	states map[string]*recipientState
}

func NewBreaker(inner Notifier, threshold int, cooldown time.Duration) *Breaker {
	return &Breaker{
		inner:     inner,
		threshold: threshold,
		cooldown:  cooldown,
		clock:     time.Now,
		states:    make(map[string]*recipientState),
	}
}

func (b *Breaker) Send(ctx context.Context, msg Message) (Receipt, error) {
	if err := b.allow(msg.Recipient); err != nil {
		return Receipt{}, err
	}

	receipt, err := b.inner.Send(ctx, msg)
	if err != nil {
		b.recordFailure(msg.Recipient)
		return Receipt{}, err
	}
	b.recordSuccess(msg.Recipient)
	return receipt, nil
}

func (b *Breaker) allow(recipient string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.states[recipient]
	if !ok {
		return nil
	}

	switch s.state {
	case stateClosed:
		return nil
	case stateOpen:
		if b.clock().Sub(s.openedAt) >= b.cooldown {
			s.state = stateHalfOpen
			return nil
		}
		return ErrCircuitOpen
	case stateHalfOpen:
		// One probe is already in flight.
		return ErrCircuitOpen
	default:
		return nil
	}
}

func (b *Breaker) recordSuccess(recipient string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.states[recipient]
	if !ok {
		return
	}
	s.state = stateClosed
	s.consecutiveFailures = 0
}

func (b *Breaker) recordFailure(recipient string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.states[recipient]
	if !ok {
		s = &recipientState{}
		b.states[recipient] = s
	}

	s.consecutiveFailures++
	if s.consecutiveFailures >= b.threshold {
		s.state = stateOpen
		s.openedAt = b.clock()
	}
}
