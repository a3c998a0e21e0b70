package storage

import (
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrNotFound = errors.New("not found")
)

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file
//   - "memory": in-process store (tests, dev)
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

type AccountStatus string

const (
	AccountDisconnected AccountStatus = "disconnected"
	AccountConnected    AccountStatus = "connected"
	AccountBanned       AccountStatus = "banned"
)

// DefaultDailyLimit is applied when an account is created without an
// explicit quota.
const DefaultDailyLimit = 170

// SenderAccount is one WhatsApp-capable identity used to transmit messages.
// A connected account is eligible for dispatch iff SentToday < DailyLimit.
type SenderAccount struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Phone        string        `json:"phone"`
	Session      string        `json:"session"` // gateway session name
	Status       AccountStatus `json:"status"`
	DailyLimit   int           `json:"daily_limit"`
	SentToday    int           `json:"sent_today"`
	LastResetDay string        `json:"last_reset_day"` // YYYY-MM-DD of the last daily reset
}

type MessageStatus string

const (
	MessagePending MessageStatus = "pending"
	MessageQueued  MessageStatus = "queued"
	MessageSent    MessageStatus = "sent"
	MessageFailed  MessageStatus = "failed"
)

// OutboundMessage is one invitation queued for delivery. Transitions move
// forward only: pending -> queued -> sent|failed. Failed messages are not
// retried by the dispatcher; an external actor resets them to pending.
type OutboundMessage struct {
	ID         string        `json:"id"`
	CampaignID string        `json:"campaign_id"`
	GuestPhone string        `json:"guest_phone"`
	Body       string        `json:"body"`
	MediaURL   string        `json:"media_url,omitempty"` // card image; empty means text-only
	Status     MessageStatus `json:"status"`
	SenderID   string        `json:"sender_id,omitempty"` // provenance, set on successful send
	Error      string        `json:"error,omitempty"`
	RetryCount int           `json:"retry_count"`
	CreatedAt  time.Time     `json:"created_at"`
	SentAt     *time.Time    `json:"sent_at,omitempty"`
}

type RSVPStatus string

const (
	RSVPPending  RSVPStatus = "pending"
	RSVPAccepted RSVPStatus = "accepted"
	RSVPDeclined RSVPStatus = "declined"
)

// Guest is an invitee on a campaign's guest list.
type Guest struct {
	Phone      string     `json:"phone"`
	Name       string     `json:"name"`
	CampaignID string     `json:"campaign_id"`
	RSVP       RSVPStatus `json:"rsvp"`
	RSVPNote   string     `json:"rsvp_note,omitempty"`
	RSVPAt     *time.Time `json:"rsvp_at,omitempty"`
}

// StatusUpdate carries the optional fields written alongside a message
// status transition.
type StatusUpdate struct {
	SenderID       string
	Error          string
	SentAt         *time.Time
	IncrementRetry bool
}
