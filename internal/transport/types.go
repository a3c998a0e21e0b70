package transport

import (
	"context"
	"fmt"
)

// Outbound is the transport-level view of one invitation send: a destination
// phone, a body, and an optional media reference (card image) with the body
// used as caption.
type Outbound struct {
	Session  string // gateway session carrying the send (per sender account)
	ToPhone  string
	Body     string
	MediaURL string
}

// Sender is the capability of emitting one message over an authenticated
// session. Implementations must return *SendError for gateway-reported
// failures so the ban-signal classifier can inspect the message text.
type Sender interface {
	Send(ctx context.Context, out Outbound) error
}

// SendError is a transport failure. Message preserves the gateway's error
// text verbatim; ban-signal detection matches against it.
type SendError struct {
	StatusCode int
	Message    string
}

func (e *SendError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("send failed (%d): %s", e.StatusCode, e.Message)
	}
	return "send failed: " + e.Message
}
