package mailer

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"approvalmailer/internal/domain"
	logx "approvalmailer/pkg/logx"
)

// fakeSMTP is a minimal plaintext SMTP server: no STARTTLS, no AUTH.
type fakeSMTP struct {
	ln net.Listener

	rejectRcpt string

	mu       sync.Mutex
	from     string
	rcpts    []string
	messages []string
}

func startFakeSMTP(t *testing.T, rejectRcpt string) *fakeSMTP {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &fakeSMTP{ln: ln, rejectRcpt: rejectRcpt}
	go s.serve()
	t.Cleanup(func() { _ = ln.Close() })
	return s
}

func (s *fakeSMTP) port() int { return s.ln.Addr().(*net.TCPAddr).Port }

func (s *fakeSMTP) serve() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.handle(conn)
	}
}

func (s *fakeSMTP) handle(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	reply := func(line string) { _, _ = conn.Write([]byte(line + "\r\n")) }
	reply("220 fake ESMTP")
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		cmd := strings.TrimRight(line, "\r\n")
		upper := strings.ToUpper(cmd)
		switch {
		case strings.HasPrefix(upper, "EHLO"), strings.HasPrefix(upper, "HELO"):
			reply("250-fake")
			reply("250 8BITMIME")
		case strings.HasPrefix(upper, "MAIL FROM:"):
			s.mu.Lock()
			s.from = envelopeAddr(cmd[len("MAIL FROM:"):])
			s.mu.Unlock()
			reply("250 ok")
		case strings.HasPrefix(upper, "RCPT TO:"):
			addr := envelopeAddr(cmd[len("RCPT TO:"):])
			if addr == s.rejectRcpt {
				reply("550 no such user")
				continue
			}
			s.mu.Lock()
			s.rcpts = append(s.rcpts, addr)
			s.mu.Unlock()
			reply("250 ok")
		case upper == "DATA":
			reply("354 go ahead")
			var b strings.Builder
			for {
				l, err := r.ReadString('\n')
				if err != nil {
					return
				}
				if l == ".\r\n" {
					break
				}
				b.WriteString(l)
			}
			s.mu.Lock()
			s.messages = append(s.messages, b.String())
			s.mu.Unlock()
			reply("250 queued")
		case upper == "QUIT":
			reply("221 bye")
			return
		default:
			reply("250 ok")
		}
	}
}

// envelopeAddr returns the path between angle brackets, ignoring ESMTP
// parameters such as BODY=8BITMIME.
func envelopeAddr(arg string) string {
	arg = strings.TrimSpace(arg)
	if i := strings.IndexByte(arg, '<'); i >= 0 {
		if j := strings.IndexByte(arg[i:], '>'); j >= 0 {
			return arg[i+1 : i+j]
		}
	}
	return arg
}

func TestEnvelopeAddr(t *testing.T) {
	tests := map[string]string{
		"<noreply@example.com> BODY=8BITMIME": "noreply@example.com",
		" <a@x.com>":                          "a@x.com",
		"<>":                                  "",
		"bare@example.com":                    "bare@example.com",
	}
	for in, want := range tests {
		if got := envelopeAddr(in); got != want {
			t.Fatalf("envelopeAddr(%q) = %q, want %q", in, got, want)
		}
	}
}

func testDigest() domain.Digest {
	return domain.Digest{
		Recipient: "a@x.com",
		Subject:   "SAP documents pending for your approval (2)",
		HTMLBody:  "<p>Purchase Order (2)</p>",
		Total:     2,
	}
}

func TestSendDeliversToPrimaryAndCC(t *testing.T) {
	srv := startFakeSMTP(t, "")
	s := New(Config{
		Host:    "127.0.0.1",
		Port:    srv.port(),
		From:    "noreply@example.com",
		CC:      []string{"automation@example.com", "a@x.com", ""},
		Timeout: 2 * time.Second,
	}, logx.Nop())

	if err := s.Send(context.Background(), testDigest()); err != nil {
		t.Fatalf("Send: %v", err)
	}

	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.from != "noreply@example.com" {
		t.Fatalf("MAIL FROM = %q", srv.from)
	}
	if strings.Join(srv.rcpts, ",") != "a@x.com,automation@example.com" {
		t.Fatalf("RCPT TO = %v", srv.rcpts)
	}
	if len(srv.messages) != 1 {
		t.Fatalf("messages = %d", len(srv.messages))
	}
	msg := srv.messages[0]
	for _, want := range []string{
		"To: a@x.com\r\n",
		"Cc: automation@example.com\r\n",
		"Subject: SAP documents pending for your approval (2)\r\n",
		"X-Priority: 1 (Highest)\r\n",
		"Importance: High\r\n",
		`Content-Type: text/html; charset="UTF-8"`,
		"Purchase Order (2)",
	} {
		if !strings.Contains(msg, want) {
			t.Fatalf("message missing %q:\n%s", want, msg)
		}
	}
}

func TestSendRejectedRecipient(t *testing.T) {
	srv := startFakeSMTP(t, "a@x.com")
	s := New(Config{Host: "127.0.0.1", Port: srv.port(), From: "noreply@example.com", Timeout: 2 * time.Second}, logx.Nop())

	err := s.Send(context.Background(), testDigest())
	var de *domain.DispatchError
	if !errors.As(err, &de) {
		t.Fatalf("expected DispatchError, got %v", err)
	}
	if de.Recipient != "a@x.com" || !strings.HasPrefix(de.Stage, "rcpt") {
		t.Fatalf("unexpected dispatch error: %+v", de)
	}
}

func TestSendRequiresTLSWhenConfigured(t *testing.T) {
	srv := startFakeSMTP(t, "")
	s := New(Config{Host: "127.0.0.1", Port: srv.port(), From: "noreply@example.com", TLSMode: TLSRequired, Timeout: 2 * time.Second}, logx.Nop())
	err := s.Send(context.Background(), testDigest())
	if !errors.Is(err, domain.ErrDispatch) || !strings.Contains(err.Error(), "starttls") {
		t.Fatalf("expected starttls dispatch error, got %v", err)
	}
}

func TestSendAuthNotOffered(t *testing.T) {
	srv := startFakeSMTP(t, "")
	s := New(Config{Host: "127.0.0.1", Port: srv.port(), Username: "noreply@example.com", Password: "pw", Timeout: 2 * time.Second}, logx.Nop())
	err := s.Send(context.Background(), testDigest())
	if !errors.Is(err, domain.ErrDispatch) || !strings.Contains(err.Error(), "auth") {
		t.Fatalf("expected auth dispatch error, got %v", err)
	}
}

func TestSendTimesOut(t *testing.T) {
	// Accepts connections but never greets.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			defer c.Close()
		}
	}()

	port := ln.Addr().(*net.TCPAddr).Port
	s := New(Config{Host: "127.0.0.1", Port: port, From: "noreply@example.com", Timeout: 150 * time.Millisecond}, logx.Nop())
	start := time.Now()
	err = s.Send(context.Background(), testDigest())
	if !errors.Is(err, domain.ErrDispatch) {
		t.Fatalf("expected dispatch error, got %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatalf("timeout not enforced: %v", time.Since(start))
	}
}

func TestSendConfigErrors(t *testing.T) {
	t.Parallel()
	s := New(Config{From: "noreply@example.com"}, logx.Nop())
	if err := s.Send(context.Background(), testDigest()); !errors.Is(err, domain.ErrDispatch) {
		t.Fatalf("missing host: %v", err)
	}
	s.Apply(Config{Host: "127.0.0.1", Port: 1, From: "noreply@example.com"})
	d := testDigest()
	d.Recipient = "not an address"
	if err := s.Send(context.Background(), d); !errors.Is(err, domain.ErrDispatch) {
		t.Fatalf("bad recipient: %v", err)
	}
}

func TestRecipients(t *testing.T) {
	t.Parallel()
	got, err := recipients("A@x.com", []string{"a@x.com", "Ops <ops@x.com>", "ops@x.com"})
	if err != nil {
		t.Fatalf("recipients: %v", err)
	}
	if strings.Join(got, ",") != "A@x.com,ops@x.com" {
		t.Fatalf("recipients = %v", got)
	}
	if _, err := recipients("a@x.com", []string{"bad cc"}); err == nil {
		t.Fatal("expected error for invalid cc")
	}
	if p := strconv.Itoa(New(Config{}, logx.Nop()).cfg.Port); p != "587" {
		t.Fatalf("default port = %s", p)
	}
}
