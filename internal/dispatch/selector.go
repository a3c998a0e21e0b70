package dispatch

import "undangin/internal/storage"

// AvailableAccounts filters to accounts that are connected and still under
// their daily quota. Pure filter; relative input order is preserved.
func AvailableAccounts(all []storage.SenderAccount) []storage.SenderAccount {
	out := make([]storage.SenderAccount, 0, len(all))
	for _, a := range all {
		if a.Status == storage.AccountConnected && a.SentToday < a.DailyLimit {
			out = append(out, a)
		}
	}
	return out
}

// Assignment is one account's contiguous chunk of a batch.
type Assignment struct {
	Account  storage.SenderAccount
	Messages []storage.OutboundMessage
}

// Distribute splits messages into ceil(len(messages)/len(accounts))-sized
// contiguous chunks, one per account in account-list order. This is
// round-robin-by-block, not min-load-first: the chunk sizing is part of the
// contract. Callers must not invoke it with zero accounts.
func Distribute(messages []storage.OutboundMessage, accounts []storage.SenderAccount) []Assignment {
	if len(accounts) == 0 || len(messages) == 0 {
		return nil
	}
	chunk := (len(messages) + len(accounts) - 1) / len(accounts)
	out := make([]Assignment, 0, len(accounts))
	for i, a := range accounts {
		lo := i * chunk
		if lo >= len(messages) {
			break
		}
		hi := lo + chunk
		if hi > len(messages) {
			hi = len(messages)
		}
		out = append(out, Assignment{Account: a, Messages: messages[lo:hi]})
	}
	return out
}
