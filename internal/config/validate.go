package config

import (
	"fmt"
	"net/mail"
	"net/url"
	"strings"
	"time"
)

// Validate checks values that decoding alone cannot catch.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	durations := []struct{ path, raw string }{
		{"http.read_timeout", cfg.HTTP.ReadTimeout},
		{"http.write_timeout", cfg.HTTP.WriteTimeout},
		{"http.idle_timeout", cfg.HTTP.IdleTimeout},
		{"storage.busy_timeout", cfg.Storage.BusyTimeout},
		{"feed.timeout", cfg.Feed.Timeout},
		{"mail.timeout", cfg.Mail.Timeout},
		{"scheduler.run_timeout", cfg.Scheduler.RunTimeout},
	}
	for _, d := range durations {
		if _, err := ParseDurationField(d.path, d.raw); err != nil {
			return err
		}
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "sqlite", "sqlite3", "file":
	case "postgres", "postgresql", "pgx":
		if strings.TrimSpace(cfg.Storage.DSN) == "" {
			return fmt.Errorf("storage.dsn (or DATABASE_URL) is required when storage.driver=%s", cfg.Storage.Driver)
		}
	default:
		return fmt.Errorf("unknown storage.driver: %s", cfg.Storage.Driver)
	}

	if cfg.Mail.Port < 0 || cfg.Mail.Port > 65535 {
		return fmt.Errorf("mail.port out of range: %d", cfg.Mail.Port)
	}
	if cfg.Mail.RatePerSec < 0 {
		return fmt.Errorf("mail.rate_per_sec must be >= 0")
	}
	if cfg.Mail.Concurrency < 0 {
		return fmt.Errorf("mail.concurrency must be >= 0")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Mail.TLSMode)) {
	case "", "opportunistic", "required", "none":
	default:
		return fmt.Errorf("mail.tls_mode: unknown mode %q", cfg.Mail.TLSMode)
	}
	for _, cc := range cfg.Mail.CC {
		if _, err := mail.ParseAddress(cc); err != nil {
			return fmt.Errorf("mail.cc: invalid address %q: %w", cc, err)
		}
	}

	if p := strings.TrimSpace(cfg.Digest.PortalURL); p != "" {
		u, err := url.Parse(p)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("digest.portal_url must be an absolute http(s) URL: %q", p)
		}
	}
	for typ, o := range cfg.Digest.Overrides {
		if strings.TrimSpace(o.Label) == "" && o.KeepSuffix == 0 {
			return fmt.Errorf("digest.overrides.%s: label or keep_suffix required", typ)
		}
		if o.KeepSuffix < 0 {
			return fmt.Errorf("digest.overrides.%s: keep_suffix must be >= 0", typ)
		}
	}

	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
		}
	}
	return nil
}
