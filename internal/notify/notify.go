package notify

import (
	"context"
	"time"
)

// Notification is the sink-facing shape of a forwarded email.
type Notification struct {
	Title       string
	Description string
	Author      string
	Footer      string
	Timestamp   time.Time
}

// Sink delivers notifications to a destination channel. Implementations must
// be safe for concurrent submissions from multiple account goroutines.
// Delivery is best-effort; a failed submission is logged by the caller and
// not retried within the same cycle.
type Sink interface {
	Submit(ctx context.Context, channelID string, n Notification) error
}
