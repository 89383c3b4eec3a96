// Package mailer delivers rendered digests over authenticated SMTP.
package mailer

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"approvalmailer/internal/domain"
	logx "approvalmailer/pkg/logx"
)

const defaultTimeout = 30 * time.Second

// TLS modes.
const (
	TLSOpportunistic = "opportunistic" // STARTTLS when the server offers it
	TLSRequired      = "required"      // fail unless STARTTLS succeeds
	TLSNone          = "none"          // never upgrade
)

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	// From defaults to Username.
	From string
	// CC is the fixed distribution list copied on every digest.
	CC []string

	TLSMode            string
	InsecureSkipVerify bool
	HelloName          string

	// Timeout bounds one whole SMTP transaction.
	Timeout time.Duration
	// RatePerSec limits messages per second across all runs; 0 disables.
	RatePerSec int
}

func (c Config) withDefaults() Config {
	if c.Port == 0 {
		c.Port = 587
	}
	if strings.TrimSpace(c.From) == "" {
		c.From = c.Username
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	switch strings.ToLower(strings.TrimSpace(c.TLSMode)) {
	case TLSRequired, TLSNone:
		c.TLSMode = strings.ToLower(strings.TrimSpace(c.TLSMode))
	default:
		c.TLSMode = TLSOpportunistic
	}
	return c
}

// Sender is safe for concurrent use.
type Sender struct {
	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter

	log   logx.Logger
	clock func() time.Time
}

func New(cfg Config, log logx.Logger) *Sender {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Sender{log: log, clock: time.Now}
	s.Apply(cfg)
	return s
}

// Apply swaps the configuration; in-flight sends keep the old one.
func (s *Sender) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	var lim *rate.Limiter
	if cfg.RatePerSec > 0 {
		lim = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	}
	s.mu.Lock()
	s.cfg = cfg
	s.limiter = lim
	s.mu.Unlock()
}

func (s *Sender) snapshot() (Config, *rate.Limiter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg := s.cfg
	cfg.CC = append([]string(nil), s.cfg.CC...)
	return cfg, s.limiter
}

// Send delivers d to its recipient plus the configured CC list.
// Failures are returned as *domain.DispatchError; nothing is retried.
func (s *Sender) Send(ctx context.Context, d domain.Digest) error {
	cfg, lim := s.snapshot()
	fail := func(stage string, err error) error {
		return &domain.DispatchError{Recipient: d.Recipient, Stage: stage, Err: err}
	}

	if strings.TrimSpace(cfg.Host) == "" {
		return fail("config", errors.New("smtp host not configured"))
	}
	from, err := envelopeAddress(cfg.From)
	if err != nil {
		return fail("config", err)
	}
	rcpts, err := recipients(d.Recipient, cfg.CC)
	if err != nil {
		return fail("recipients", err)
	}

	if lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return fail("rate limit", err)
		}
	}

	msg, err := message{
		From:    cfg.From,
		To:      d.Recipient,
		Cc:      rcpts[1:],
		Subject: d.Subject,
		HTML:    d.HTMLBody,
		Date:    s.clock(),
	}.bytes()
	if err != nil {
		return fail("compose", err)
	}

	start := time.Now()
	if stage, err := s.deliver(ctx, cfg, from, rcpts, msg); err != nil {
		s.log.Warn("mail delivery failed",
			logx.String("to", d.Recipient),
			logx.String("stage", stage),
			logx.Err(err),
		)
		return fail(stage, err)
	}
	s.log.Info("mail sent",
		logx.String("to", d.Recipient),
		logx.Int("cc", len(rcpts)-1),
		logx.Int("documents", d.Total),
		logx.Duration("took", time.Since(start)),
	)
	return nil
}

func (s *Sender) deliver(ctx context.Context, cfg Config, from string, rcpts []string, msg []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return "dial", err
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}
	// Unblock any pending read/write when ctx ends.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	c, err := smtp.NewClient(conn, cfg.Host)
	if err != nil {
		_ = conn.Close()
		return "greeting", err
	}
	defer c.Close()

	if name := strings.TrimSpace(cfg.HelloName); name != "" {
		if err := c.Hello(name); err != nil {
			return "hello", err
		}
	}

	if cfg.TLSMode != TLSNone {
		if ok, _ := c.Extension("STARTTLS"); ok {
			tcfg := &tls.Config{ServerName: cfg.Host, InsecureSkipVerify: cfg.InsecureSkipVerify}
			if err := c.StartTLS(tcfg); err != nil {
				return "starttls", err
			}
		} else if cfg.TLSMode == TLSRequired {
			return "starttls", errors.New("server does not offer STARTTLS")
		}
	}

	if cfg.Username != "" {
		if ok, _ := c.Extension("AUTH"); !ok {
			return "auth", errors.New("server does not offer AUTH")
		}
		if err := c.Auth(smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)); err != nil {
			return "auth", err
		}
	}

	if err := c.Mail(from); err != nil {
		return "mail from", err
	}
	for _, r := range rcpts {
		if err := c.Rcpt(r); err != nil {
			return "rcpt " + r, err
		}
	}
	w, err := c.Data()
	if err != nil {
		return "data", err
	}
	if _, err := w.Write(msg); err != nil {
		_ = w.Close()
		return "data", err
	}
	if err := w.Close(); err != nil {
		return "data", err
	}
	if err := c.Quit(); err != nil {
		// The message was accepted; a failed QUIT is not a delivery failure.
		s.log.Debug("smtp quit failed", logx.Err(err))
	}
	return "", nil
}

// recipients returns the primary address first, then unique CC addresses.
func recipients(primary string, cc []string) ([]string, error) {
	to, err := envelopeAddress(primary)
	if err != nil {
		return nil, err
	}
	out := []string{to}
	seen := map[string]bool{strings.ToLower(to): true}
	for _, raw := range cc {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		a, err := envelopeAddress(raw)
		if err != nil {
			return nil, fmt.Errorf("cc: %w", err)
		}
		if seen[strings.ToLower(a)] {
			continue
		}
		seen[strings.ToLower(a)] = true
		out = append(out, a)
	}
	return out, nil
}
