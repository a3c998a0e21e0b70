package storage

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Memory is an in-process Store used by tests and local development.
// Iteration order is insertion order, matching the sqlite backend's
// rowid/created_at ordering.
type Memory struct {
	mu sync.Mutex

	accountOrder []string
	accounts     map[string]*SenderAccount

	messageOrder []string
	messages     map[string]*OutboundMessage

	guests map[string]*Guest
}

func NewMemory() *Memory {
	return &Memory{
		accounts: map[string]*SenderAccount{},
		messages: map[string]*OutboundMessage{},
		guests:   map[string]*Guest{},
	}
}

func (m *Memory) Close() error { return nil }

func (m *Memory) ListAccounts(ctx context.Context) ([]SenderAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SenderAccount, 0, len(m.accountOrder))
	for _, id := range m.accountOrder {
		out = append(out, *m.accounts[id])
	}
	return out, nil
}

func (m *Memory) IncrementSentToday(ctx context.Context, accountID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := m.accounts[accountID]
	if a == nil {
		return fmt.Errorf("account %s: %w", accountID, ErrNotFound)
	}
	a.SentToday++
	return nil
}

func (m *Memory) ResetDailyCounts(ctx context.Context, day string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, id := range m.accountOrder {
		a := m.accounts[id]
		if a.LastResetDay != day {
			a.SentToday = 0
			a.LastResetDay = day
			n++
		}
	}
	return n, nil
}

func (m *Memory) ListPendingMessages(ctx context.Context, campaignID string, limit int) ([]OutboundMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []OutboundMessage
	for _, id := range m.messageOrder {
		msg := m.messages[id]
		if msg.CampaignID != campaignID || msg.Status != MessagePending {
			continue
		}
		out = append(out, *msg)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) UpdateMessageStatus(ctx context.Context, id string, status MessageStatus, upd StatusUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg := m.messages[id]
	if msg == nil {
		return fmt.Errorf("message %s: %w", id, ErrNotFound)
	}
	msg.Status = status
	if upd.SenderID != "" {
		msg.SenderID = upd.SenderID
	}
	msg.Error = upd.Error
	if upd.SentAt != nil {
		msg.SentAt = upd.SentAt
	}
	if upd.IncrementRetry {
		msg.RetryCount++
	}
	return nil
}

func (m *Memory) CountMessagesByStatus(ctx context.Context, campaignID string) (map[MessageStatus]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := map[MessageStatus]int{}
	for _, id := range m.messageOrder {
		msg := m.messages[id]
		if msg.CampaignID == campaignID {
			counts[msg.Status]++
		}
	}
	return counts, nil
}

func (m *Memory) GuestByPhone(ctx context.Context, phone string) (Guest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g := m.guests[phone]
	if g == nil {
		return Guest{}, fmt.Errorf("guest %s: %w", phone, ErrNotFound)
	}
	return *g, nil
}

func (m *Memory) UpdateGuestRSVP(ctx context.Context, phone string, rsvp RSVPStatus, note string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g := m.guests[phone]
	if g == nil {
		return fmt.Errorf("guest %s: %w", phone, ErrNotFound)
	}
	now := time.Now()
	g.RSVP = rsvp
	g.RSVPNote = note
	g.RSVPAt = &now
	return nil
}

func (m *Memory) UpsertAccount(ctx context.Context, a SenderAccount) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.DailyLimit <= 0 {
		a.DailyLimit = DefaultDailyLimit
	}
	if _, ok := m.accounts[a.ID]; !ok {
		m.accountOrder = append(m.accountOrder, a.ID)
	}
	cp := a
	m.accounts[a.ID] = &cp
	return nil
}

func (m *Memory) InsertMessage(ctx context.Context, msg OutboundMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg.Status == "" {
		msg.Status = MessagePending
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	if _, ok := m.messages[msg.ID]; ok {
		return fmt.Errorf("message %s already exists", msg.ID)
	}
	m.messageOrder = append(m.messageOrder, msg.ID)
	cp := msg
	m.messages[msg.ID] = &cp
	return nil
}

func (m *Memory) UpsertGuest(ctx context.Context, g Guest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g.RSVP == "" {
		g.RSVP = RSVPPending
	}
	cp := g
	m.guests[g.Phone] = &cp
	return nil
}

// Account returns a copy of one account (test helper).
func (m *Memory) Account(id string) (SenderAccount, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := m.accounts[id]
	if a == nil {
		return SenderAccount{}, false
	}
	return *a, true
}

// Message returns a copy of one message (test helper).
func (m *Memory) Message(id string) (OutboundMessage, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg := m.messages[id]
	if msg == nil {
		return OutboundMessage{}, false
	}
	return *msg, true
}
