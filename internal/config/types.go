package config

import (
	"errors"
	"fmt"
)

// Config is the whole config file. Decoding is strict: unknown fields are
// rejected so typos surface at load time instead of silently defaulting.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Logging    LoggingConfig    `json:"logging"`
	Storage    StorageConfig    `json:"storage"`
	Gateway    GatewayConfig    `json:"gateway"`
	Dispatch   DispatchConfig   `json:"dispatch"`
	Classifier ClassifierConfig `json:"classifier,omitempty"`
	Alerts     AlertsConfig     `json:"alerts,omitempty"`
	API        APIConfig        `json:"api"`
	Reset      ResetConfig      `json:"reset,omitempty"`
}

type LoggingConfig struct {
	Level   string        `json:"level,omitempty"`
	Console bool          `json:"console"`
	File    LogFileConfig `json:"file,omitempty"`
}

type LogFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

type StorageConfig struct {
	// Driver is "sqlite" or "memory".
	Driver      string `json:"driver,omitempty"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// GatewayConfig points at the WhatsApp HTTP gateway.
type GatewayConfig struct {
	BaseURL string `json:"base_url"`
	APIKey  string `json:"api_key,omitempty"`
	Timeout string `json:"timeout,omitempty"`
}

type DispatchConfig struct {
	// Profile is the initial pacing preset: safe, balanced, or aggressive.
	Profile string `json:"profile,omitempty"`
	// Timezone governs the local day and hour tables, e.g. "Asia/Jakarta".
	Timezone string `json:"timezone,omitempty"`
}

// ClassifierConfig enables the model fallback for guest replies. The
// keyword pass always runs regardless.
type ClassifierConfig struct {
	Enabled bool   `json:"enabled"`
	APIKey  string `json:"api_key,omitempty"`
	Model   string `json:"model,omitempty"`
}

type AlertsConfig struct {
	Enabled     bool   `json:"enabled"`
	Token       string `json:"token,omitempty"`
	ChatID      int64  `json:"chat_id,omitempty"`
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type APIConfig struct {
	Addr         string `json:"addr,omitempty"`
	WebhookToken string `json:"webhook_token,omitempty"`
}

type ResetConfig struct {
	// Spec is a cron expression; empty means midnight daily.
	Spec string `json:"spec,omitempty"`
}

// ApplyDefaults fills the zero values a minimal config file leaves out.
func (c *Config) ApplyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite"
	}
	if c.Storage.Driver == "sqlite" && c.Storage.Path == "" {
		c.Storage.Path = "data/undangin.db"
	}
	if c.Gateway.Timeout == "" {
		c.Gateway.Timeout = "20s"
	}
	if c.Dispatch.Profile == "" {
		c.Dispatch.Profile = "balanced"
	}
	if c.API.Addr == "" {
		c.API.Addr = ":8080"
	}
}

// Validate rejects configs that cannot possibly run. Cross-component
// validation (profile names, timezones) happens where the value is consumed.
func (c *Config) Validate() error {
	if c.Gateway.BaseURL == "" {
		return errors.New("gateway.base_url is required")
	}
	switch c.Storage.Driver {
	case "", "sqlite", "memory":
	default:
		return fmt.Errorf("storage.driver %q not supported", c.Storage.Driver)
	}
	if c.Alerts.Enabled && c.Alerts.Token == "" {
		return errors.New("alerts.token is required when alerts are enabled")
	}
	if c.Alerts.Enabled && c.Alerts.ChatID == 0 {
		return errors.New("alerts.chat_id is required when alerts are enabled")
	}
	if c.Classifier.Enabled && c.Classifier.APIKey == "" {
		return errors.New("classifier.api_key is required when the classifier is enabled")
	}
	return nil
}
