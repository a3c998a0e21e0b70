package storage

import (
	"context"
	"errors"
	"strings"

	logx "undangin/pkg/logx"
)

// Store is the persistence API consumed by the dispatcher and the reply
// pipeline.
type Store interface {
	// Dispatch surface.
	ListAccounts(ctx context.Context) ([]SenderAccount, error)
	IncrementSentToday(ctx context.Context, accountID string) error
	// ResetDailyCounts zeroes SentToday for accounts whose LastResetDay
	// differs from day (YYYY-MM-DD). It is idempotent within a day and
	// returns the number of accounts reset.
	ResetDailyCounts(ctx context.Context, day string) (int, error)
	ListPendingMessages(ctx context.Context, campaignID string, limit int) ([]OutboundMessage, error)
	UpdateMessageStatus(ctx context.Context, id string, status MessageStatus, upd StatusUpdate) error
	CountMessagesByStatus(ctx context.Context, campaignID string) (map[MessageStatus]int, error)

	// Reply pipeline.
	GuestByPhone(ctx context.Context, phone string) (Guest, error)
	UpdateGuestRSVP(ctx context.Context, phone string, rsvp RSVPStatus, note string) error

	// Seeding/onboarding writes (used by tooling and tests).
	UpsertAccount(ctx context.Context, a SenderAccount) error
	InsertMessage(ctx context.Context, m OutboundMessage) error
	UpsertGuest(ctx context.Context, g Guest) error

	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
