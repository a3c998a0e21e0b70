package dispatch

import (
	"errors"
	"sync"

	"undangin/internal/storage"
)

var (
	ErrAlreadyRunning = errors.New("dispatch already running")
	ErrNotRunning     = errors.New("dispatch not running")
)

// RateState holds the process-local counters shared by the pacer and the
// failure monitor. It is owned by one Dispatcher; nothing outside the
// dispatch loop and the control operations touches it.
type RateState struct {
	mu sync.Mutex

	hourlyCount         int
	burstCount          int
	lastResetHour       int
	consecutiveFailures int
}

func NewRateState() *RateState {
	return &RateState{lastResetHour: -1}
}

// rollHour resets the hourly counter when the wall-clock hour changed.
func (s *RateState) rollHour(hour int) {
	s.mu.Lock()
	if s.lastResetHour != hour {
		s.hourlyCount = 0
		s.lastResetHour = hour
	}
	s.mu.Unlock()
}

func (s *RateState) counts() (hourly, burst int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hourlyCount, s.burstCount
}

func (s *RateState) resetBurst() {
	s.mu.Lock()
	s.burstCount = 0
	s.mu.Unlock()
}

func (s *RateState) recordSent() {
	s.mu.Lock()
	s.hourlyCount++
	s.burstCount++
	s.consecutiveFailures = 0
	s.mu.Unlock()
}

// bumpFailures increments the consecutive-failure counter and returns the
// new value.
func (s *RateState) bumpFailures() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consecutiveFailures++
	return s.consecutiveFailures
}

// ConsecutiveFailures reports the current consecutive ban-signal count.
func (s *RateState) ConsecutiveFailures() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consecutiveFailures
}

// Status is the read-only snapshot exposed by the dispatcher. Counts are
// queried fresh from the store on every call, never cached.
type Status struct {
	Running    bool                          `json:"running"`
	Paused     bool                          `json:"paused"`
	CampaignID string                        `json:"campaign_id,omitempty"`
	Profile    ProfileName                   `json:"profile"`
	Counts     map[storage.MessageStatus]int `json:"counts,omitempty"`
}
