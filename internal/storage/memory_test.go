package storage

import (
	"context"
	"testing"
	"time"
)

func seedMemory(t *testing.T) *Memory {
	t.Helper()
	m := NewMemory()
	ctx := context.Background()
	accounts := []SenderAccount{
		{ID: "acc-1", Name: "Utama", Status: AccountConnected, DailyLimit: 170},
		{ID: "acc-2", Name: "Cadangan", Status: AccountConnected, DailyLimit: 100, SentToday: 40, LastResetDay: "2026-08-30"},
		{ID: "acc-3", Name: "Mati", Status: AccountDisconnected, DailyLimit: 170},
	}
	for _, a := range accounts {
		if err := m.UpsertAccount(ctx, a); err != nil {
			t.Fatalf("UpsertAccount(%s): %v", a.ID, err)
		}
	}
	for _, msg := range []OutboundMessage{
		{ID: "msg-1", CampaignID: "wed-1", GuestPhone: "+6281", Body: "undangan"},
		{ID: "msg-2", CampaignID: "wed-1", GuestPhone: "+6282", Body: "undangan"},
		{ID: "msg-3", CampaignID: "wed-2", GuestPhone: "+6283", Body: "undangan"},
	} {
		if err := m.InsertMessage(ctx, msg); err != nil {
			t.Fatalf("InsertMessage(%s): %v", msg.ID, err)
		}
	}
	return m
}

func TestListAccountsInsertionOrder(t *testing.T) {
	t.Parallel()
	m := seedMemory(t)
	got, err := m.ListAccounts(context.Background())
	if err != nil {
		t.Fatalf("ListAccounts: %v", err)
	}
	want := []string{"acc-1", "acc-2", "acc-3"}
	if len(got) != len(want) {
		t.Fatalf("got %d accounts, want %d", len(got), len(want))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Fatalf("accounts[%d] = %s, want %s", i, got[i].ID, id)
		}
	}
}

func TestResetDailyCountsIsDateKeyed(t *testing.T) {
	t.Parallel()
	m := seedMemory(t)
	ctx := context.Background()

	n, err := m.ResetDailyCounts(ctx, "2026-08-31")
	if err != nil {
		t.Fatalf("ResetDailyCounts: %v", err)
	}
	if n != 3 {
		t.Fatalf("first reset touched %d accounts, want 3", n)
	}
	if a, _ := m.Account("acc-2"); a.SentToday != 0 {
		t.Fatalf("acc-2 SentToday = %d after reset, want 0", a.SentToday)
	}

	// Same day again: no-op.
	if err := m.IncrementSentToday(ctx, "acc-2"); err != nil {
		t.Fatalf("IncrementSentToday: %v", err)
	}
	n, err = m.ResetDailyCounts(ctx, "2026-08-31")
	if err != nil {
		t.Fatalf("ResetDailyCounts (again): %v", err)
	}
	if n != 0 {
		t.Fatalf("second reset touched %d accounts, want 0", n)
	}
	if a, _ := m.Account("acc-2"); a.SentToday != 1 {
		t.Fatalf("acc-2 SentToday = %d, want 1 (same-day reset must not zero)", a.SentToday)
	}
}

func TestListPendingMessagesFiltersAndCaps(t *testing.T) {
	t.Parallel()
	m := seedMemory(t)
	ctx := context.Background()

	msgs, err := m.ListPendingMessages(ctx, "wed-1", 10)
	if err != nil {
		t.Fatalf("ListPendingMessages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d pending for wed-1, want 2", len(msgs))
	}

	msgs, err = m.ListPendingMessages(ctx, "wed-1", 1)
	if err != nil {
		t.Fatalf("ListPendingMessages(limit=1): %v", err)
	}
	if len(msgs) != 1 || msgs[0].ID != "msg-1" {
		t.Fatalf("limit=1 returned %+v, want just msg-1", msgs)
	}
}

func TestUpdateMessageStatusFields(t *testing.T) {
	t.Parallel()
	m := seedMemory(t)
	ctx := context.Background()
	now := time.Now()

	if err := m.UpdateMessageStatus(ctx, "msg-1", MessageSent, StatusUpdate{SenderID: "acc-1", SentAt: &now}); err != nil {
		t.Fatalf("UpdateMessageStatus(sent): %v", err)
	}
	got, _ := m.Message("msg-1")
	if got.Status != MessageSent || got.SenderID != "acc-1" || got.SentAt == nil {
		t.Fatalf("unexpected sent message state: %+v", got)
	}

	if err := m.UpdateMessageStatus(ctx, "msg-2", MessageFailed, StatusUpdate{Error: "timeout", IncrementRetry: true}); err != nil {
		t.Fatalf("UpdateMessageStatus(failed): %v", err)
	}
	got, _ = m.Message("msg-2")
	if got.Status != MessageFailed || got.Error != "timeout" || got.RetryCount != 1 {
		t.Fatalf("unexpected failed message state: %+v", got)
	}

	if err := m.UpdateMessageStatus(ctx, "missing", MessageSent, StatusUpdate{}); err == nil {
		t.Fatal("expected error for unknown message id")
	}

	counts, err := m.CountMessagesByStatus(ctx, "wed-1")
	if err != nil {
		t.Fatalf("CountMessagesByStatus: %v", err)
	}
	if counts[MessageSent] != 1 || counts[MessageFailed] != 1 || counts[MessagePending] != 0 {
		t.Fatalf("unexpected counts: %v", counts)
	}
}

func TestGuestRSVPRoundTrip(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	ctx := context.Background()

	if err := m.UpsertGuest(ctx, Guest{Phone: "+62811", Name: "Budi", CampaignID: "wed-1"}); err != nil {
		t.Fatalf("UpsertGuest: %v", err)
	}
	g, err := m.GuestByPhone(ctx, "+62811")
	if err != nil {
		t.Fatalf("GuestByPhone: %v", err)
	}
	if g.RSVP != RSVPPending {
		t.Fatalf("new guest RSVP = %s, want pending", g.RSVP)
	}

	if err := m.UpdateGuestRSVP(ctx, "+62811", RSVPAccepted, "insya Allah hadir"); err != nil {
		t.Fatalf("UpdateGuestRSVP: %v", err)
	}
	g, _ = m.GuestByPhone(ctx, "+62811")
	if g.RSVP != RSVPAccepted || g.RSVPAt == nil {
		t.Fatalf("unexpected guest after RSVP: %+v", g)
	}
}
