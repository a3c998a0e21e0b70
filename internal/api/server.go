// Package api exposes the operator control surface and the gateway webhook
// over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"undangin/internal/dispatch"
	"undangin/internal/rsvp"
	"undangin/internal/storage"
	logx "undangin/pkg/logx"
)

type Config struct {
	Addr string
	// WebhookToken, when set, must match the X-Webhook-Token header on
	// incoming gateway callbacks.
	WebhookToken string
}

// Dispatch is the control interface the API drives. Start and Resume only
// flip control state; the loop itself runs on the dispatcher's own context,
// never the request's. Only Status takes the request context, for its
// synchronous store reads.
type Dispatch interface {
	Start(campaignID string) error
	Pause()
	Resume() error
	Stop()
	Status(ctx context.Context) (dispatch.Status, error)
	SetProfile(name string) error
}

// Replies receives webhook messages from guests.
type Replies interface {
	HandleReply(ctx context.Context, r rsvp.Reply) (rsvp.Result, error)
}

type Server struct {
	cfg      Config
	dispatch Dispatch
	replies  Replies
	log      logx.Logger
	srv      *http.Server
}

func NewServer(cfg Config, d Dispatch, replies Replies, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{cfg: cfg, dispatch: d, replies: replies, log: log}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/dispatch/{campaignID}/start", s.handleStart)
		r.Post("/dispatch/pause", s.handlePause)
		r.Post("/dispatch/resume", s.handleResume)
		r.Post("/dispatch/stop", s.handleStop)
		r.Get("/dispatch/status", s.handleStatus)
		r.Put("/dispatch/profile", s.handleSetProfile)
		r.Post("/webhook/incoming", s.handleIncoming)
	})

	return r
}

// Run serves until ctx is canceled, then drains with a short grace period.
func (s *Server) Run(ctx context.Context) error {
	s.srv = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() { errc <- s.srv.ListenAndServe() }()
	s.log.Info("http api listening", logx.String("addr", s.cfg.Addr))

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(shutCtx)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	campaignID := chi.URLParam(r, "campaignID")
	if campaignID == "" {
		writeError(w, http.StatusBadRequest, "campaign id required")
		return
	}
	if err := s.dispatch.Start(campaignID); err != nil {
		s.writeDispatchError(w, err)
		return
	}
	s.handleStatus(w, r)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.dispatch.Pause()
	s.handleStatus(w, r)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if err := s.dispatch.Resume(); err != nil {
		s.writeDispatchError(w, err)
		return
	}
	s.handleStatus(w, r)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.dispatch.Stop()
	s.handleStatus(w, r)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.dispatch.Status(r.Context())
	if err != nil {
		s.log.Error("status query failed", logx.Err(err))
		writeError(w, http.StatusInternalServerError, "status query failed")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleSetProfile(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Profile string `json:"profile"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.dispatch.SetProfile(payload.Profile); err != nil {
		s.writeDispatchError(w, err)
		return
	}
	s.handleStatus(w, r)
}

type incomingPayload struct {
	From string `json:"from"`
	Text string `json:"text"`
}

func (s *Server) handleIncoming(w http.ResponseWriter, r *http.Request) {
	if s.cfg.WebhookToken != "" && r.Header.Get("X-Webhook-Token") != s.cfg.WebhookToken {
		writeError(w, http.StatusUnauthorized, "bad webhook token")
		return
	}

	var payload incomingPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	phone := normalizePhone(payload.From)
	if phone == "" || payload.Text == "" {
		writeError(w, http.StatusBadRequest, "from and text required")
		return
	}

	res, err := s.replies.HandleReply(r.Context(), rsvp.Reply{FromPhone: phone, Text: payload.Text})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// Not one of our guests; acknowledge so the gateway stops
			// retrying.
			writeJSON(w, http.StatusOK, map[string]string{"result": "ignored"})
			return
		}
		s.log.Error("webhook handling failed", logx.Err(err))
		writeError(w, http.StatusInternalServerError, "reply handling failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"result": "recorded",
		"intent": res.Intent,
	})
}

func (s *Server) writeDispatchError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, dispatch.ErrAlreadyRunning), errors.Is(err, dispatch.ErrNotRunning):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, dispatch.ErrUnknownProfile):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.log.Error("dispatch control failed", logx.Err(err))
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// normalizePhone accepts both plain numbers and WhatsApp chat ids
// ("628123@c.us") and returns E.164-ish form.
func normalizePhone(from string) string {
	p := strings.TrimSpace(from)
	p = strings.TrimSuffix(p, "@c.us")
	if p == "" {
		return ""
	}
	if !strings.HasPrefix(p, "+") {
		p = "+" + p
	}
	return p
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
