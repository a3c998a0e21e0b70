package dispatch

import (
	"math/rand"
	"sync"
	"testing"
	"time"

	logx "undangin/pkg/logx"
)

// fakeClock is a settable clock shared with the component under test.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{t: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

// recordingSleeper collects requested sleep durations without waiting.
type recordingSleeper struct {
	mu    sync.Mutex
	slept []time.Duration
}

func (s *recordingSleeper) Sleep(d time.Duration) {
	s.mu.Lock()
	s.slept = append(s.slept, d)
	s.mu.Unlock()
}

func (s *recordingSleeper) durations() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.slept...)
}

// at builds a local timestamp at the given hour on a fixed day.
func at(hour int) time.Time {
	return time.Date(2026, time.August, 31, hour, 0, 0, 0, time.Local)
}

func testProfile() Profile {
	return Profile{
		Name:               "test",
		BetweenMessages:    DelayRange{Min: 10 * time.Second, Max: 20 * time.Second},
		BetweenBatches:     DelayRange{Min: time.Minute, Max: 2 * time.Minute},
		RandomBreak:        BreakConfig{Probability: 0, Min: time.Minute, Max: time.Minute},
		MessagesPerBatch:   10,
		MessagesPerHour:    5,
		MessagesPerDay:     100,
		MaxBurstSize:       3,
		CooldownAfterBurst: 4 * time.Minute,
	}
}

func TestDelayBeforeNextHourMultiplier(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		hour int
		min  time.Duration
		max  time.Duration
	}{
		{"preferred hour at base rate", 10, 10 * time.Second, 20 * time.Second},
		{"slow hour stretched 1.5x", 22, 15 * time.Second, 30 * time.Second},
		{"neutral hour stretched 1.2x", 14, 12 * time.Second, 24 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			clock := newFakeClock(at(tt.hour))
			p := NewPacer(testProfile(), NewRateState(), logx.Nop(),
				WithClock(clock.Now),
				WithRand(rand.New(rand.NewSource(7))),
			)
			for i := 0; i < 50; i++ {
				d := p.DelayBeforeNext(DelayMessage)
				if d < tt.min || d > tt.max {
					t.Fatalf("draw %d: delay %v outside [%v, %v]", i, d, tt.min, tt.max)
				}
			}
		})
	}
}

func TestDelayBeforeNextBatchRange(t *testing.T) {
	t.Parallel()

	clock := newFakeClock(at(10))
	p := NewPacer(testProfile(), NewRateState(), logx.Nop(),
		WithClock(clock.Now),
		WithRand(rand.New(rand.NewSource(7))),
	)
	for i := 0; i < 50; i++ {
		d := p.DelayBeforeNext(DelayBatch)
		if d < time.Minute || d > 2*time.Minute {
			t.Fatalf("draw %d: batch delay %v outside [1m, 2m]", i, d)
		}
	}
}

func TestDelayBeforeNextBreakSkipsMultiplier(t *testing.T) {
	t.Parallel()

	prof := testProfile()
	prof.BetweenMessages = DelayRange{Min: 10 * time.Second, Max: 10 * time.Second}
	prof.RandomBreak = BreakConfig{Probability: 1, Min: time.Minute, Max: time.Minute}

	// Slow hour: without a break the delay would be stretched to 15s.
	clock := newFakeClock(at(22))
	p := NewPacer(prof, NewRateState(), logx.Nop(), WithClock(clock.Now))

	got := p.DelayBeforeNext(DelayMessage)
	want := 10*time.Second + time.Minute
	if got != want {
		t.Fatalf("delay with break = %v, want %v", got, want)
	}
}

func TestCanSendNowAvoidHours(t *testing.T) {
	t.Parallel()

	clock := newFakeClock(at(3))
	p := NewPacer(testProfile(), NewRateState(), logx.Nop(), WithClock(clock.Now))
	if p.CanSendNow() {
		t.Fatal("CanSendNow = true during an avoid hour")
	}

	clock.Set(at(10))
	if !p.CanSendNow() {
		t.Fatal("CanSendNow = false during a preferred hour")
	}
}

func TestCanSendNowHourlyCeilingAndRollover(t *testing.T) {
	t.Parallel()

	clock := newFakeClock(at(10))
	state := NewRateState()
	p := NewPacer(testProfile(), state, logx.Nop(),
		WithClock(clock.Now),
		WithSleep(func(time.Duration) {}),
	)

	for i := 0; i < 5; i++ {
		if !p.CanSendNow() {
			t.Fatalf("send %d blocked below the hourly ceiling", i+1)
		}
		p.RecordSent()
	}
	if p.CanSendNow() {
		t.Fatal("CanSendNow = true at the hourly ceiling")
	}

	// A new wall-clock hour resets the hourly counter.
	clock.Set(at(11))
	if !p.CanSendNow() {
		t.Fatal("CanSendNow = false after hour rollover")
	}
	if hourly, _ := state.counts(); hourly != 0 {
		t.Fatalf("hourly count after rollover = %d, want 0", hourly)
	}
}

func TestCanSendNowBurstCooldown(t *testing.T) {
	t.Parallel()

	clock := newFakeClock(at(10))
	state := NewRateState()
	sleeper := &recordingSleeper{}
	p := NewPacer(testProfile(), state, logx.Nop(),
		WithClock(clock.Now),
		WithSleep(sleeper.Sleep),
	)

	for i := 0; i < 3; i++ {
		if !p.CanSendNow() {
			t.Fatalf("send %d blocked below the burst cap", i+1)
		}
		p.RecordSent()
	}
	if len(sleeper.durations()) != 0 {
		t.Fatalf("slept %v before reaching the burst cap", sleeper.durations())
	}

	// At the cap the pacer blocks for the cooldown, resets the burst
	// counter, and then allows the send.
	if !p.CanSendNow() {
		t.Fatal("CanSendNow = false after cooldown")
	}
	slept := sleeper.durations()
	if len(slept) != 1 || slept[0] != 4*time.Minute {
		t.Fatalf("slept %v, want [4m]", slept)
	}
	if _, burst := state.counts(); burst != 0 {
		t.Fatalf("burst count after cooldown = %d, want 0", burst)
	}
}
