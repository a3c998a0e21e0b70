package dispatch

import "strings"

// Verdict is the failure monitor's judgment of one send error.
type Verdict int

const (
	// VerdictOK is an ordinary failure: record it and keep going.
	VerdictOK Verdict = iota
	// VerdictPause suspends the loop; the campaign stays resumable.
	VerdictPause
	// VerdictStop halts dispatch for the campaign entirely.
	VerdictStop
)

func (v Verdict) String() string {
	switch v {
	case VerdictPause:
		return "pause"
	case VerdictStop:
		return "stop"
	default:
		return "ok"
	}
}

// BanPredicate reports whether an error looks like the provider throttling
// or blocking the sender. It is pluggable so the substring heuristic can be
// swapped for an error-code classification without touching the escalation
// state machine.
type BanPredicate func(error) bool

var banSignals = []string{
	"rate limit",
	"rate-limit",
	"too many requests",
	"spam",
	"blocked",
	"429",
	"flood",
}

// DefaultBanPredicate matches the error text against known ban-signal
// substrings, case-insensitive. Brittle by nature (it depends on upstream
// error text), which is exactly why it is a swappable predicate.
func DefaultBanPredicate(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, sig := range banSignals {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}

// stopAfterFailures is the consecutive ban-signal count that escalates
// from pause to a hard stop.
const stopAfterFailures = 3

// FailureMonitor classifies send failures. It only judges; the dispatcher
// acts on the verdict.
type FailureMonitor struct {
	isBan BanPredicate
	state *RateState
}

func NewFailureMonitor(state *RateState, isBan BanPredicate) *FailureMonitor {
	if isBan == nil {
		isBan = DefaultBanPredicate
	}
	return &FailureMonitor{isBan: isBan, state: state}
}

// Classify judges one send error. Non-ban errors yield VerdictOK and do not
// touch the consecutive-failure count. Ban signals increment it; the third
// consecutive hit yields VerdictStop, earlier ones VerdictPause.
func (m *FailureMonitor) Classify(err error) Verdict {
	if !m.isBan(err) {
		return VerdictOK
	}
	if m.state.bumpFailures() >= stopAfterFailures {
		return VerdictStop
	}
	return VerdictPause
}
