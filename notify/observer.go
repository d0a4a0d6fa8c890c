package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/numtide/cert-renewer/event"
)

const timeLayout = "2006-01-02 15:04:05 MST"

// Observer turns renewal events into chat messages.
type Observer struct {
	notifier Notifier
}

func NewObserver(n Notifier) *Observer {
	return &Observer{notifier: n}
}

func (o *Observer) Observe(ctx context.Context, ev event.Event) {
	o.notifier.Notify(ctx, Message(ev))
}

func Message(ev event.Event) string {
	cert := ev.Certificate
	switch ev.Type {
	case event.Renewed:
		return fmt.Sprintf("Certificate renewed: %s\nModified on: %s", cert.Domains(), formatTime(cert.ModifiedOn))
	case event.RenewalFailed:
		return fmt.Sprintf("Certificate renewal failed: %s (id %d)\nExpires on: %s\nError: %v", cert.Domains(), cert.ID, formatTime(cert.ExpiresOn), ev.Err)
	}
	return fmt.Sprintf("Certificate %d: %s", cert.ID, ev.Type)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	return t.UTC().Format(timeLayout)
}
