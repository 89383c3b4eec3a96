package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
logging:
  level: debug
  console: true
http:
  enabled: true
  addr: 127.0.0.1:9090
storage:
  driver: sqlite
  path: ./data/approvalmailer.db
mail:
  host: smtp.example.com
  port: 587
  cc: [ops@example.com]
digest:
  portal_url: https://portal.example.com/inbox
  overrides:
    SupplierInvoice: { label: Invoice }
scheduler:
  timezone: UTC
  run_timeout: 2m
metrics:
  enabled: true
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func noEnv(string) (string, bool) { return "", false }

func TestLoadYAML(t *testing.T) {
	m := NewConfigManager(writeFile(t, "config.yaml", sampleYAML))
	m.SetEnvLookup(noEnv)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTP.Addr != "127.0.0.1:9090" || cfg.Storage.Driver != "sqlite" || cfg.Mail.Port != 587 {
		t.Fatalf("cfg = %+v", cfg)
	}
	if len(cfg.Mail.CC) != 1 || cfg.Digest.Overrides["SupplierInvoice"].Label != "Invoice" {
		t.Fatalf("mail/digest = %+v %+v", cfg.Mail, cfg.Digest)
	}
	if m.Get() != cfg {
		t.Fatal("Load did not commit")
	}
}

func TestLoadJSONStrict(t *testing.T) {
	tests := []struct {
		name, body string
	}{
		{"unknown field", `{"mail":{"host":"x","smtp_host":"y"}}`},
		{"trailing data", `{"mail":{"host":"x"}}{"mail":{}}`},
		{"bad duration", `{"feed":{"timeout":"soon"}}`},
		{"negative duration", `{"mail":{"timeout":"-1s"}}`},
		{"unknown driver", `{"storage":{"driver":"mongo"}}`},
		{"postgres without dsn", `{"storage":{"driver":"postgres"}}`},
		{"bad cc", `{"mail":{"cc":["not an address"]}}`},
		{"bad tls mode", `{"mail":{"tls_mode":"sometimes"}}`},
		{"relative portal", `{"digest":{"portal_url":"/inbox"}}`},
		{"bad timezone", `{"scheduler":{"timezone":"Nowhere/Land"}}`},
	}
	for _, tt := range tests {
		m := NewConfigManager(writeFile(t, "config.json", tt.body))
		m.SetEnvLookup(noEnv)
		if _, err := m.Load(); err == nil {
			t.Fatalf("%s: expected error", tt.name)
		}
	}
}

func TestEnvOverrides(t *testing.T) {
	env := map[string]string{
		EnvMailUser:    "robot@example.com",
		EnvMailPass:    "app-password",
		EnvSMTPServer:  "smtp.office365.com",
		EnvSMTPPort:    "25",
		EnvDatabaseURL: "postgres://u:p@db/approvals",
		EnvMailCC:      "a@example.com, b@example.com;c@example.com",
		EnvPortalURL:   "https://launchpad.example.com",
	}
	m := NewConfigManager(writeFile(t, "config.json", `{"mail":{"host":"file-host"}}`))
	m.SetEnvLookup(func(k string) (string, bool) { v, ok := env[k]; return v, ok })
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Mail.Host != "smtp.office365.com" || cfg.Mail.Port != 25 || cfg.Mail.Username != "robot@example.com" || cfg.Mail.Password != "app-password" {
		t.Fatalf("mail = %+v", cfg.Mail)
	}
	if cfg.Storage.Driver != "postgres" || cfg.Storage.DSN != env[EnvDatabaseURL] {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
	if strings.Join(cfg.Mail.CC, "|") != "a@example.com|b@example.com|c@example.com" {
		t.Fatalf("cc = %v", cfg.Mail.CC)
	}
	if cfg.Digest.PortalURL != env[EnvPortalURL] {
		t.Fatalf("portal = %q", cfg.Digest.PortalURL)
	}

	env[EnvSMTPPort] = "smtp"
	if _, err := m.Parse(); err == nil {
		t.Fatal("expected invalid port error")
	}
}

func TestLoadDotEnvMissingIsNotError(t *testing.T) {
	if err := LoadDotEnv(filepath.Join(t.TempDir(), ".env")); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
}

func TestLoadDotEnvDoesNotOverride(t *testing.T) {
	t.Setenv("APPROVALMAILER_TEST_KEEP", "from-env")
	p := writeFile(t, ".env", "APPROVALMAILER_TEST_KEEP=from-file\nAPPROVALMAILER_TEST_NEW=new\n")
	if err := LoadDotEnv(p); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	t.Cleanup(func() { os.Unsetenv("APPROVALMAILER_TEST_NEW") })
	if os.Getenv("APPROVALMAILER_TEST_KEEP") != "from-env" || os.Getenv("APPROVALMAILER_TEST_NEW") != "new" {
		t.Fatalf("env = %q %q", os.Getenv("APPROVALMAILER_TEST_KEEP"), os.Getenv("APPROVALMAILER_TEST_NEW"))
	}
}

func TestSummarizeConfigChangeHidesSecrets(t *testing.T) {
	a := &Config{Mail: MailConfig{Host: "h", Password: "old-secret"}}
	b := &Config{Mail: MailConfig{Host: "h", Password: "new-secret"}, Storage: StorageConfig{Driver: "postgres", DSN: "postgres://u:pw@db"}}
	sections, attrs := SummarizeConfigChange(a, b)
	if strings.Join(sections, ",") != "mail,storage" {
		t.Fatalf("sections = %v", sections)
	}
	if len(attrs) == 0 {
		t.Fatal("expected attrs")
	}
	if got := RestartRequired(sections); len(got) != 1 || got[0] != "storage" {
		t.Fatalf("RestartRequired = %v", got)
	}
	if s, _ := SummarizeConfigChange(a, a); len(s) != 0 {
		t.Fatalf("no-op change reported %v", s)
	}
}

func TestParseDuration(t *testing.T) {
	if d, err := ParseDurationOrDefault("x", "", 3*time.Second); err != nil || d != 3*time.Second {
		t.Fatalf("default = %v, %v", d, err)
	}
	if d, err := ParseDurationOrDefault("x", "250ms", time.Second); err != nil || d != 250*time.Millisecond {
		t.Fatalf("explicit = %v, %v", d, err)
	}
	if _, err := ParseDurationField("x", "ten"); err == nil {
		t.Fatal("expected error")
	}
}

func TestWatchPublishesValidChanges(t *testing.T) {
	path := writeFile(t, "config.json", `{"mail":{"host":"a"}}`)
	m := NewConfigManager(path)
	m.SetEnvLookup(noEnv)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	sub := m.Subscribe(4)
	defer m.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()
	time.Sleep(200 * time.Millisecond) // let the watcher register

	// Invalid content is rejected and never published.
	if err := os.WriteFile(path, []byte(`{"mail":{"host":"b","bogus":1}}`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	time.Sleep(600 * time.Millisecond)
	if err := os.WriteFile(path, []byte(`{"mail":{"host":"c"}}`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case cfg := <-sub:
		if cfg.Mail.Host != "c" {
			t.Fatalf("published host = %q", cfg.Mail.Host)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no config published")
	}
	if m.Get().Mail.Host != "c" {
		t.Fatalf("committed host = %q", m.Get().Mail.Host)
	}
}
