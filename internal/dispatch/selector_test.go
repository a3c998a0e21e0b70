package dispatch

import (
	"fmt"
	"testing"

	"undangin/internal/storage"
)

func acct(id string, status storage.AccountStatus, sent, limit int) storage.SenderAccount {
	return storage.SenderAccount{ID: id, Status: status, SentToday: sent, DailyLimit: limit}
}

func msgs(n int) []storage.OutboundMessage {
	out := make([]storage.OutboundMessage, n)
	for i := range out {
		out[i] = storage.OutboundMessage{ID: fmt.Sprintf("m%02d", i+1), CampaignID: "c1"}
	}
	return out
}

func TestAvailableAccounts(t *testing.T) {
	t.Parallel()

	all := []storage.SenderAccount{
		acct("a1", storage.AccountConnected, 0, 170),
		acct("a2", storage.AccountDisconnected, 0, 170),
		acct("a3", storage.AccountConnected, 170, 170),
		acct("a4", storage.AccountBanned, 0, 170),
		acct("a5", storage.AccountConnected, 169, 170),
	}

	got := AvailableAccounts(all)
	if len(got) != 2 {
		t.Fatalf("got %d accounts, want 2", len(got))
	}
	if got[0].ID != "a1" || got[1].ID != "a5" {
		t.Fatalf("order = [%s %s], want [a1 a5]", got[0].ID, got[1].ID)
	}
}

func TestDistribute(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		messages int
		accounts int
		want     []int // chunk sizes per account in order
	}{
		{"even split", 20, 2, []int{10, 10}},
		{"uneven split", 25, 2, []int{13, 12}},
		{"small batch", 5, 2, []int{3, 2}},
		{"more accounts than messages", 2, 3, []int{1, 1}},
		{"single account", 7, 1, []int{7}},
		{"no messages", 0, 2, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			accounts := make([]storage.SenderAccount, tt.accounts)
			for i := range accounts {
				accounts[i] = acct(fmt.Sprintf("a%d", i+1), storage.AccountConnected, 0, 170)
			}
			batch := msgs(tt.messages)

			got := Distribute(batch, accounts)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d assignments, want %d", len(got), len(tt.want))
			}

			next := 0
			for i, as := range got {
				if as.Account.ID != accounts[i].ID {
					t.Fatalf("assignment %d account = %s, want %s", i, as.Account.ID, accounts[i].ID)
				}
				if len(as.Messages) != tt.want[i] {
					t.Fatalf("assignment %d size = %d, want %d", i, len(as.Messages), tt.want[i])
				}
				// Chunks must be contiguous in the original batch order.
				for _, m := range as.Messages {
					if m.ID != batch[next].ID {
						t.Fatalf("assignment %d holds %s, want %s", i, m.ID, batch[next].ID)
					}
					next++
				}
			}
			if next != tt.messages {
				t.Fatalf("distributed %d messages, want %d", next, tt.messages)
			}
		})
	}
}
