// Package rsvp records guest replies against the guest list.
package rsvp

import (
	"context"
	"fmt"
	"time"

	"undangin/internal/classify"
	"undangin/internal/eventbus"
	"undangin/internal/storage"
	logx "undangin/pkg/logx"
)

// Reply is one incoming message from a guest, as delivered by the gateway
// webhook.
type Reply struct {
	FromPhone string
	Text      string
}

// Result reports what HandleReply did with a reply.
type Result struct {
	Guest   storage.Guest
	Intent  classify.Intent
	Updated bool
}

// Service classifies replies and updates the guest list. The keyword pass
// runs first; replies it cannot read go to the fallback classifier when one
// is configured.
type Service struct {
	store    storage.Store
	primary  classify.Classifier
	fallback classify.Classifier
	bus      eventbus.Bus
	log      logx.Logger
	now      func() time.Time
}

type Option func(*Service)

func WithFallback(c classify.Classifier) Option {
	return func(s *Service) { s.fallback = c }
}

func WithBus(b eventbus.Bus) Option {
	return func(s *Service) { s.bus = b }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(store storage.Store, log logx.Logger, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		store:   store,
		primary: classify.NewKeyword(),
		log:     log,
		now:     time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Event is the payload published on TypeRSVPRecorded.
type Event struct {
	Phone  string          `json:"phone"`
	Name   string          `json:"name"`
	Intent classify.Intent `json:"intent"`
	Text   string          `json:"text"`
}

// HandleReply resolves the sender against the guest list, classifies the
// text, and persists the outcome. Replies from unknown numbers are
// rejected with storage.ErrNotFound.
func (s *Service) HandleReply(ctx context.Context, r Reply) (Result, error) {
	guest, err := s.store.GuestByPhone(ctx, r.FromPhone)
	if err != nil {
		return Result{}, fmt.Errorf("resolving guest %s: %w", r.FromPhone, err)
	}

	intent := s.classifyText(ctx, r.Text)

	status := guest.RSVP
	updated := false
	switch intent {
	case classify.IntentAccepted:
		status = storage.RSVPAccepted
		updated = true
	case classify.IntentDeclined:
		status = storage.RSVPDeclined
		updated = true
	}

	// Questions and unreadable replies keep the current status but are
	// stored as a note so the couple can follow up by hand.
	if err := s.store.UpdateGuestRSVP(ctx, guest.Phone, status, r.Text); err != nil {
		return Result{}, fmt.Errorf("updating rsvp for %s: %w", guest.Phone, err)
	}
	guest.RSVP = status
	guest.RSVPNote = r.Text
	now := s.now()
	guest.RSVPAt = &now

	s.log.Info("guest reply recorded",
		logx.String("phone", guest.Phone),
		logx.String("intent", string(intent)),
		logx.Bool("status_changed", updated),
	)
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeRSVPRecorded, Data: Event{
			Phone:  guest.Phone,
			Name:   guest.Name,
			Intent: intent,
			Text:   r.Text,
		}})
	}

	return Result{Guest: guest, Intent: intent, Updated: updated}, nil
}

func (s *Service) classifyText(ctx context.Context, text string) classify.Intent {
	intent, err := s.primary.Classify(ctx, text)
	if err != nil {
		s.log.Warn("keyword classify failed", logx.Err(err))
		intent = classify.IntentUnknown
	}
	if intent != classify.IntentUnknown || s.fallback == nil {
		return intent
	}

	fb, err := s.fallback.Classify(ctx, text)
	if err != nil {
		// Model outage degrades to unknown rather than dropping the reply.
		s.log.Warn("fallback classify failed", logx.Err(err))
		return classify.IntentUnknown
	}
	return fb
}
