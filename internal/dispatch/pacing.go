package dispatch

import (
	"math/rand"
	"sync"
	"time"

	logx "undangin/pkg/logx"
)

// DelayKind selects which profile range a delay is drawn from.
type DelayKind int

const (
	DelayMessage DelayKind = iota
	DelayBatch
)

// HourTable maps hour-of-day to sending behavior. Hours in Avoid block
// sending entirely; Preferred hours send at the base rate; Slow hours
// stretch delays by 1.5x; every other hour by 1.2x.
type HourTable struct {
	Avoid     map[int]bool
	Preferred map[int]bool
	Slow      map[int]bool
}

// DefaultHourTable models a human sender: silent overnight, fastest in the
// late morning and evening, slower around early morning and late night.
func DefaultHourTable() HourTable {
	return HourTable{
		Avoid:     hourSet(0, 1, 2, 3, 4, 5),
		Preferred: hourSet(10, 11, 12, 17, 18, 19, 20),
		Slow:      hourSet(6, 7, 8, 22, 23),
	}
}

func hourSet(hours ...int) map[int]bool {
	m := make(map[int]bool, len(hours))
	for _, h := range hours {
		m[h] = true
	}
	return m
}

func (t HourTable) multiplier(hour int) float64 {
	switch {
	case t.Preferred[hour]:
		return 1.0
	case t.Slow[hour]:
		return 1.5
	default:
		return 1.2
	}
}

// Pacer computes delays and enforces the hourly/burst ceilings. Clock and
// sleep are injectable so cooldown blocking is testable without waiting.
type Pacer struct {
	mu      sync.Mutex
	profile Profile

	state *RateState
	hours HourTable
	log   logx.Logger

	now   func() time.Time
	sleep func(time.Duration)
	rng   *rand.Rand
}

type PacerOption func(*Pacer)

func WithClock(now func() time.Time) PacerOption {
	return func(p *Pacer) { p.now = now }
}

func WithSleep(sleep func(time.Duration)) PacerOption {
	return func(p *Pacer) { p.sleep = sleep }
}

func WithHourTable(t HourTable) PacerOption {
	return func(p *Pacer) { p.hours = t }
}

func WithRand(rng *rand.Rand) PacerOption {
	return func(p *Pacer) { p.rng = rng }
}

func NewPacer(profile Profile, state *RateState, log logx.Logger, opts ...PacerOption) *Pacer {
	if state == nil {
		state = NewRateState()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	p := &Pacer{
		profile: profile,
		state:   state,
		hours:   DefaultHourTable(),
		log:     log,
		now:     time.Now,
		sleep:   time.Sleep,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Profile returns the active profile.
func (p *Pacer) Profile() Profile {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.profile
}

// SetProfile swaps the active profile. It takes effect on the next pacing
// computation; counters already accrued are never rewound.
func (p *Pacer) SetProfile(profile Profile) {
	p.mu.Lock()
	p.profile = profile
	p.mu.Unlock()
}

// DelayBeforeNext draws the delay to sleep before the next send (message)
// or the next cycle (batch). With the profile's break probability an extra
// pause is added and the hour multiplier is skipped: a break already is a
// deliberate pause, so stacking the multiplier on top is not meaningful.
func (p *Pacer) DelayBeforeNext(kind DelayKind) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	r := p.profile.BetweenMessages
	if kind == DelayBatch {
		r = p.profile.BetweenBatches
	}
	d := p.uniform(r.Min, r.Max)

	br := p.profile.RandomBreak
	if br.Probability > 0 && p.rng.Float64() < br.Probability {
		pause := p.uniform(br.Min, br.Max)
		p.log.Debug("taking a break", logx.Duration("pause", pause))
		return d + pause
	}

	mult := p.hours.multiplier(p.now().Hour())
	return time.Duration(float64(d) * mult)
}

func (p *Pacer) uniform(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(p.rng.Int63n(int64(max-min)))
}

// CanSendNow reports whether a send is currently allowed. As side effects
// it rolls the hourly counter on hour change, and when the burst cap is
// reached it blocks for the cooldown and resets the burst counter before
// returning true.
func (p *Pacer) CanSendNow() bool {
	p.mu.Lock()
	profile := p.profile
	hour := p.now().Hour()
	p.mu.Unlock()

	p.state.rollHour(hour)

	if p.hours.Avoid[hour] {
		p.log.Debug("send blocked: avoid hour", logx.Int("hour", hour))
		return false
	}

	hourly, burst := p.state.counts()
	if hourly >= profile.MessagesPerHour {
		p.log.Debug("send blocked: hourly ceiling", logx.Int("sent", hourly), logx.Int("limit", profile.MessagesPerHour))
		return false
	}
	if burst >= profile.MaxBurstSize {
		p.log.Info("burst cap reached, cooling down",
			logx.Int("burst", burst),
			logx.Duration("cooldown", profile.CooldownAfterBurst),
		)
		p.sleep(profile.CooldownAfterBurst)
		p.state.resetBurst()
	}
	return true
}

// RecordSent notes a successful send: bumps the hourly and burst counters
// and clears the consecutive-failure count.
func (p *Pacer) RecordSent() {
	p.state.recordSent()
}
