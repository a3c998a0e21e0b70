package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"undangin/internal/dispatch"
	"undangin/internal/rsvp"
	"undangin/internal/storage"
	"undangin/internal/transport"
	logx "undangin/pkg/logx"
)

type stubDispatch struct {
	startErr   error
	resumeErr  error
	profileErr error

	started   []string
	paused    int
	stopped   int
	profile   string
	statusErr error
	status    dispatch.Status
}

func (s *stubDispatch) Start(campaignID string) error {
	if s.startErr != nil {
		return s.startErr
	}
	s.started = append(s.started, campaignID)
	return nil
}

func (s *stubDispatch) Pause() { s.paused++ }

func (s *stubDispatch) Resume() error { return s.resumeErr }

func (s *stubDispatch) Stop() { s.stopped++ }

func (s *stubDispatch) Status(context.Context) (dispatch.Status, error) {
	return s.status, s.statusErr
}

func (s *stubDispatch) SetProfile(name string) error {
	if s.profileErr != nil {
		return s.profileErr
	}
	s.profile = name
	return nil
}

func newTestServer(t *testing.T, d Dispatch, replies Replies) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(NewServer(Config{}, d, replies, logx.Nop()).Router())
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	resp, err := http.Post(url, "application/json", &buf)
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func TestStartEndpoint(t *testing.T) {
	t.Parallel()

	d := &stubDispatch{status: dispatch.Status{Running: true, CampaignID: "c1", Profile: "balanced"}}
	srv := newTestServer(t, d, nil)

	resp := post(t, srv.URL+"/api/dispatch/c1/start", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if len(d.started) != 1 || d.started[0] != "c1" {
		t.Fatalf("started = %v, want [c1]", d.started)
	}

	var st dispatch.Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if !st.Running || st.CampaignID != "c1" {
		t.Fatalf("status body = %+v", st)
	}
}

type countingSender struct {
	mu    sync.Mutex
	calls int
}

func (c *countingSender) Send(context.Context, transport.Outbound) error {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return nil
}

// The start endpoint hands the dispatcher nothing tied to the request; the
// loop must keep sending after the handler returns and its context dies.
func TestStartedCampaignOutlivesRequest(t *testing.T) {
	t.Parallel()

	store := storage.NewMemory()
	err := store.UpsertAccount(context.Background(), storage.SenderAccount{
		ID:           "a1",
		Session:      "s1",
		Status:       storage.AccountConnected,
		DailyLimit:   170,
		LastResetDay: "2026-08-31",
	})
	if err != nil {
		t.Fatalf("seed account: %v", err)
	}
	for i := 1; i <= 3; i++ {
		err := store.InsertMessage(context.Background(), storage.OutboundMessage{
			ID:         fmt.Sprintf("m%d", i),
			CampaignID: "c1",
			GuestPhone: fmt.Sprintf("+62812%d", i),
			Body:       "Undangan pernikahan",
			Status:     storage.MessagePending,
		})
		if err != nil {
			t.Fatalf("seed message %d: %v", i, err)
		}
	}

	sender := &countingSender{}
	d := dispatch.New(store, sender, logx.Nop(), nil,
		dispatch.WithDispatcherClock(func() time.Time {
			return time.Date(2026, time.August, 31, 10, 0, 0, 0, time.Local)
		}),
		dispatch.WithDispatcherSleep(func(time.Duration) {}),
	)
	srv := newTestServer(t, d, nil)

	resp := post(t, srv.URL+"/api/dispatch/c1/start", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start status = %d, want 200", resp.StatusCode)
	}

	d.Wait()

	st, err := d.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.Running {
		t.Fatalf("status = %+v, want campaign complete", st)
	}
	if st.Counts[storage.MessageSent] != 3 || st.Counts[storage.MessagePending] != 0 {
		t.Fatalf("counts = %v, want 3 sent, 0 pending", st.Counts)
	}
	if sender.calls != 3 {
		t.Fatalf("sends = %d, want 3", sender.calls)
	}
}

func TestControlErrorsMapToConflict(t *testing.T) {
	t.Parallel()

	d := &stubDispatch{startErr: dispatch.ErrAlreadyRunning, resumeErr: dispatch.ErrNotRunning}
	srv := newTestServer(t, d, nil)

	resp := post(t, srv.URL+"/api/dispatch/c1/start", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("start status = %d, want 409", resp.StatusCode)
	}

	resp = post(t, srv.URL+"/api/dispatch/resume", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("resume status = %d, want 409", resp.StatusCode)
	}
}

func TestSetProfileEndpoint(t *testing.T) {
	t.Parallel()

	d := &stubDispatch{status: dispatch.Status{Profile: "aggressive"}}
	srv := newTestServer(t, d, nil)

	req, err := http.NewRequest(http.MethodPut, srv.URL+"/api/dispatch/profile",
		bytes.NewBufferString(`{"profile":"aggressive"}`))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT profile: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if d.profile != "aggressive" {
		t.Fatalf("profile = %q, want aggressive", d.profile)
	}
}

func TestSetProfileRejectsUnknown(t *testing.T) {
	t.Parallel()

	d := &stubDispatch{profileErr: dispatch.ErrUnknownProfile}
	srv := newTestServer(t, d, nil)

	req, _ := http.NewRequest(http.MethodPut, srv.URL+"/api/dispatch/profile",
		bytes.NewBufferString(`{"profile":"turbo"}`))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT profile: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestWebhookRecordsReply(t *testing.T) {
	t.Parallel()

	store := storage.NewMemory()
	err := store.UpsertGuest(context.Background(), storage.Guest{
		Phone: "+628123", Name: "Budi", CampaignID: "c1", RSVP: storage.RSVPPending,
	})
	if err != nil {
		t.Fatalf("seed guest: %v", err)
	}
	replies := rsvp.New(store, logx.Nop())
	srv := newTestServer(t, &stubDispatch{}, replies)

	resp := post(t, srv.URL+"/api/webhook/incoming", map[string]string{
		"from": "628123@c.us",
		"text": "iya kami hadir",
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["result"] != "recorded" || body["intent"] != "accepted" {
		t.Fatalf("body = %v", body)
	}

	g, err := store.GuestByPhone(context.Background(), "+628123")
	if err != nil {
		t.Fatalf("GuestByPhone: %v", err)
	}
	if g.RSVP != storage.RSVPAccepted {
		t.Fatalf("rsvp = %q, want accepted", g.RSVP)
	}
}

func TestWebhookIgnoresUnknownNumber(t *testing.T) {
	t.Parallel()

	replies := rsvp.New(storage.NewMemory(), logx.Nop())
	srv := newTestServer(t, &stubDispatch{}, replies)

	resp := post(t, srv.URL+"/api/webhook/incoming", map[string]string{
		"from": "620000@c.us",
		"text": "halo",
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["result"] != "ignored" {
		t.Fatalf("result = %q, want ignored", body["result"])
	}
}

func TestWebhookTokenGuard(t *testing.T) {
	t.Parallel()

	replies := rsvp.New(storage.NewMemory(), logx.Nop())
	s := NewServer(Config{WebhookToken: "sekret"}, &stubDispatch{}, replies, logx.Nop())
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	resp := post(t, srv.URL+"/api/webhook/incoming", map[string]string{"from": "628123", "text": "hadir"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status without token = %d, want 401", resp.StatusCode)
	}
}

func TestNormalizePhone(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"628123@c.us", "+628123"},
		{"+628123", "+628123"},
		{" 628123 ", "+628123"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := normalizePhone(tt.in); got != tt.want {
			t.Fatalf("normalizePhone(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
