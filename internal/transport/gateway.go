package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	logx "undangin/pkg/logx"
)

// GatewayConfig points at a WAHA-style WhatsApp HTTP gateway. The gateway
// owns the actual WhatsApp sessions; we only name the session per send.
type GatewayConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Gateway sends messages through a WhatsApp HTTP gateway.
type Gateway struct {
	cfg  GatewayConfig
	http *http.Client
	log  logx.Logger
}

func NewGateway(cfg GatewayConfig, log logx.Logger) (*Gateway, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("gateway base_url is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Gateway{
		cfg:  cfg,
		http: &http.Client{Timeout: timeout},
		log:  log,
	}, nil
}

type sendTextReq struct {
	Session string `json:"session"`
	ChatID  string `json:"chatId"`
	Text    string `json:"text"`
}

type sendImageReq struct {
	Session string    `json:"session"`
	ChatID  string    `json:"chatId"`
	File    mediaFile `json:"file"`
	Caption string    `json:"caption,omitempty"`
}

type mediaFile struct {
	URL string `json:"url"`
}

func (g *Gateway) Send(ctx context.Context, out Outbound) error {
	chatID := phoneToChatID(out.ToPhone)
	var path string
	var body any
	if out.MediaURL != "" {
		path = "/api/sendImage"
		body = sendImageReq{Session: out.Session, ChatID: chatID, File: mediaFile{URL: out.MediaURL}, Caption: out.Body}
	} else {
		path = "/api/sendText"
		body = sendTextReq{Session: out.Session, ChatID: chatID, Text: out.Body}
	}
	return g.post(ctx, path, body)
}

func (g *Gateway) post(ctx context.Context, path string, body any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	url := strings.TrimRight(g.cfg.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if g.cfg.APIKey != "" {
		req.Header.Set("X-Api-Key", g.cfg.APIKey)
	}

	resp, err := g.http.Do(req)
	if err != nil {
		return &SendError{Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	// Keep the gateway's error text; ban-signal detection depends on it.
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	msg := strings.TrimSpace(string(raw))
	if msg == "" {
		msg = resp.Status
	}
	g.log.Debug("gateway send rejected", logx.Int("status", resp.StatusCode), logx.String("body", msg))
	return &SendError{StatusCode: resp.StatusCode, Message: msg}
}

// phoneToChatID converts an E.164-ish phone into the gateway chat id form.
func phoneToChatID(phone string) string {
	p := strings.TrimPrefix(strings.TrimSpace(phone), "+")
	p = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "").Replace(p)
	if strings.Contains(p, "@") {
		return p
	}
	return p + "@c.us"
}
