package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// policyFile is the optional YAML override of the messaging policy. Absent keys keep
// the value already loaded from the environment.
type policyFile struct {
	RateWindow         *string `yaml:"rate_window"`
	RateCapacity       *int    `yaml:"rate_capacity"`
	RateCooldown       *string `yaml:"rate_cooldown"`
	MaxAttachmentBytes *int64  `yaml:"max_attachment_bytes"`
	FallbackCaption    *string `yaml:"fallback_caption"`
	SendTimeout        *string `yaml:"send_timeout"`
	UnreadPollInterval *string `yaml:"unread_poll_interval"`
	HistoryLimit       *int    `yaml:"history_limit"`
	SessionIdleTimeout *string `yaml:"session_idle_timeout"`
}

// ApplyPolicyFile overlays the YAML file at path onto m.
func ApplyPolicyFile(m *MessagingConfig, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read policy file: %w", err)
	}
	var p policyFile
	if err := yaml.Unmarshal(b, &p); err != nil {
		return fmt.Errorf("parse policy file: %w", err)
	}

	durations := []struct {
		raw *string
		dst *time.Duration
		key string
	}{
		{p.RateWindow, &m.RateWindow, "rate_window"},
		{p.RateCooldown, &m.RateCooldown, "rate_cooldown"},
		{p.SendTimeout, &m.SendTimeout, "send_timeout"},
		{p.UnreadPollInterval, &m.UnreadPollInterval, "unread_poll_interval"},
		{p.SessionIdleTimeout, &m.SessionIdleTimeout, "session_idle_timeout"},
	}
	for _, d := range durations {
		if d.raw == nil {
			continue
		}
		v, err := time.ParseDuration(*d.raw)
		if err != nil {
			return fmt.Errorf("policy %s: %w", d.key, err)
		}
		*d.dst = v
	}

	if p.RateCapacity != nil {
		m.RateCapacity = *p.RateCapacity
	}
	if p.MaxAttachmentBytes != nil {
		m.MaxAttachmentBytes = *p.MaxAttachmentBytes
	}
	if p.FallbackCaption != nil {
		m.FallbackCaption = *p.FallbackCaption
	}
	if p.HistoryLimit != nil {
		m.HistoryLimit = *p.HistoryLimit
	}
	return nil
}
