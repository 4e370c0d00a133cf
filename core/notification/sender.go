package notification

import (
	"context"
	"fmt"
	"runtime/debug"
)

// Sender delivers a notification over one channel. It reports
// delivered=false or an error for a failed attempt; both are retried.
type Sender interface {
	Send(ctx context.Context, msg *Message) (delivered bool, err error)
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, msg *Message) (bool, error)

// Send calls f.
func (f SenderFunc) Send(ctx context.Context, msg *Message) (bool, error) {
	return f(ctx, msg)
}

// Senders maps channels to their sender.
type Senders map[string]Sender

// For returns the sender of channel.
func (s Senders) For(channel string) (Sender, bool) {
	sender, ok := s[channel]
	return sender, ok && sender != nil
}

// SenderPanic is recorded when a sender panics.
type SenderPanic struct {
	Channel string
	Value   any
	Stack   []byte
}

func (p *SenderPanic) Error() string {
	return fmt.Sprintf("%s sender panicked: %v", p.Channel, p.Value)
}

func safeSend(ctx context.Context, s Sender, msg *Message) (delivered bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			delivered, err = false, &SenderPanic{Channel: msg.Channel, Value: r, Stack: debug.Stack()}
		}
	}()
	return s.Send(ctx, msg)
}
