// Package notify delivers human-readable summaries of billing events.
//
// The core only produces messages; how they reach the user (log line,
// e-mail) is decided by the configured Notifier. Delivery failures are
// reported to the caller, which logs them and never lets them change the
// outcome of a payment.
package notify

import (
	"context"

	"github.com/sourcegraph/conc/pool"

	"recurring-billing-service/pkg/logger"
)

// Message is a title and body pair ready for display or push.
type Message struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Notifier delivers a message.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// Func adapts a plain function to Notifier
type Func func(ctx context.Context, msg Message) error

// Notify calls f
func (f Func) Notify(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}

// LogNotifier writes messages to the structured log.
type LogNotifier struct {
	logger logger.Logger
}

// NewLogNotifier creates a notifier backed by the global logger
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{logger: logger.GetGlobalLogger().WithComponent("notify")}
}

// Notify logs the message at info level
func (n *LogNotifier) Notify(_ context.Context, msg Message) error {
	n.logger.WithField("title", msg.Title).Info(msg.Body)
	return nil
}

// Multi fans a message out to several notifiers concurrently.
type Multi []Notifier

// Notify delivers to every notifier and returns the combined errors
func (m Multi) Notify(ctx context.Context, msg Message) error {
	if len(m) == 0 {
		return nil
	}

	p := pool.New().WithErrors().WithContext(ctx)
	for _, n := range m {
		n := n
		p.Go(func(ctx context.Context) error {
			return n.Notify(ctx, msg)
		})
	}
	return p.Wait()
}

// Send delivers msg through n and logs, rather than returns, any failure.
// A nil notifier is a no-op.
func Send(ctx context.Context, n Notifier, msg Message, log logger.Logger) {
	if n == nil {
		return
	}
	if err := n.Notify(ctx, msg); err != nil && log != nil {
		log.WithError(err).WithField("title", msg.Title).Warn("Notification delivery failed")
	}
}
