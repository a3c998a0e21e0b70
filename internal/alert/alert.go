// Package alert pushes operator notifications to Telegram for the events
// that need a human: pauses, ban signals, stops, and guest questions.
package alert

import (
	"fmt"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"undangin/internal/classify"
	"undangin/internal/dispatch"
	"undangin/internal/eventbus"
	"undangin/internal/rsvp"
	logx "undangin/pkg/logx"
)

type Config struct {
	Enabled     bool
	Token       string
	ChatID      int64
	PollTimeout time.Duration
}

// Notifier delivers one alert text. Swappable so the fanout loop is
// testable without a bot token.
type Notifier interface {
	Notify(text string) error
}

type telegramNotifier struct {
	bot  *tele.Bot
	chat tele.ChatID
}

func NewTelegram(cfg Config) (Notifier, error) {
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return &telegramNotifier{bot: b, chat: tele.ChatID(cfg.ChatID)}, nil
}

func (t *telegramNotifier) Notify(text string) error {
	_, err := t.bot.Send(t.chat, text)
	return err
}

// Service bridges the event bus to the notifier. Alerts are throttled
// locally; anything over the budget is dropped rather than queued, since a
// stale alert is worse than a missing one.
type Service struct {
	bus      eventbus.Bus
	notifier Notifier
	log      logx.Logger
	limiter  *rate.Limiter

	unsub func()
	done  chan struct{}
}

type Option func(*Service)

func WithLimiter(l *rate.Limiter) Option {
	return func(s *Service) { s.limiter = l }
}

func NewService(bus eventbus.Bus, notifier Notifier, log logx.Logger, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		bus:      bus,
		notifier: notifier,
		log:      log,
		limiter:  rate.NewLimiter(rate.Every(10*time.Second), 3),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) Start() {
	ch, unsub := s.bus.Subscribe(64)
	s.unsub = unsub
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		for e := range ch {
			s.handle(e)
		}
	}()
}

func (s *Service) Stop() {
	if s.unsub != nil {
		s.unsub()
		<-s.done
	}
}

func (s *Service) handle(e eventbus.Event) {
	text := render(e)
	if text == "" {
		return
	}
	if s.limiter != nil && !s.limiter.Allow() {
		s.log.Debug("alert dropped by limiter", logx.String("type", e.Type))
		return
	}
	if err := s.notifier.Notify(text); err != nil {
		s.log.Warn("alert delivery failed", logx.String("type", e.Type), logx.Err(err))
	}
}

func render(e eventbus.Event) string {
	switch e.Type {
	case eventbus.TypeDispatchPaused:
		if d, ok := e.Data.(dispatch.LoopEvent); ok {
			return fmt.Sprintf("⏸ Dispatch paused (%s): %s", d.CampaignID, d.Detail)
		}
		return "⏸ Dispatch paused"
	case eventbus.TypeDispatchStopped:
		if d, ok := e.Data.(dispatch.LoopEvent); ok && d.Detail == "campaign complete" {
			return fmt.Sprintf("✅ Campaign %s complete", d.CampaignID)
		}
		if d, ok := e.Data.(dispatch.LoopEvent); ok {
			return fmt.Sprintf("⏹ Dispatch stopped (%s): %s", d.CampaignID, d.Detail)
		}
		return "⏹ Dispatch stopped"
	case eventbus.TypeBanSignal:
		if d, ok := e.Data.(dispatch.LoopEvent); ok {
			return "⚠️ Ban signal from gateway: " + d.Detail
		}
		return "⚠️ Ban signal from gateway"
	case eventbus.TypeRSVPRecorded:
		d, ok := e.Data.(rsvp.Event)
		if !ok || d.Intent != classify.IntentQuestion {
			return ""
		}
		return fmt.Sprintf("❓ %s (%s) asks: %s", d.Name, d.Phone, d.Text)
	}
	return ""
}
