package config

// Config is the file configuration. Durations are Go duration strings
// ("500ms", "30s", "5m").
//
// Example (YAML):
//
//	logging:   { level: info, console: true }
//	http:      { enabled: true, addr: "127.0.0.1:8080" }
//	storage:   { driver: sqlite, path: ./approvalmailer.db }
//	feed:      { timeout: 30s }
//	mail:      { host: smtp.example.com, port: 587, cc: [ops@example.com] }
//	digest:    { portal_url: "https://portal.example.com/inbox" }
//	scheduler: { timezone: Europe/Berlin, run_timeout: 5m }
//	metrics:   { enabled: true }
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	HTTP      HTTPConfig      `json:"http"`
	Storage   StorageConfig   `json:"storage"`
	Feed      FeedConfig      `json:"feed"`
	Mail      MailConfig      `json:"mail"`
	Digest    DigestConfig    `json:"digest"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Metrics   MetricsConfig   `json:"metrics"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// HTTPConfig controls the admin API.
//
// Security note:
//   - Prefer binding to localhost (default "127.0.0.1:8080").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type HTTPConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"` // bearer token for /api (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`
	// CORSOrigins enables CORS on /api for a browser console; empty disables it.
	CORSOrigins []string `json:"cors_origins,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`  // default 10s
	WriteTimeout string `json:"write_timeout,omitempty"` // default 0 (disabled) so /api/send can run long
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

// StorageConfig selects the schedule repository.
//
//	"storage": { "driver": "sqlite", "path": "./approvalmailer.db" }
//	"storage": { "driver": "postgres", "dsn": "postgres://..." }
//	"storage": { "driver": "file", "path": "./schedules.json" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"`          // postgres (do not log)
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
	MaxConns    int32  `json:"max_conns,omitempty"`    // postgres
}

type FeedConfig struct {
	Timeout      string `json:"timeout,omitempty"` // default 30s
	MaxBodyBytes int64  `json:"max_body_bytes,omitempty"`
	UserAgent    string `json:"user_agent,omitempty"`
}

type MailConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port,omitempty"` // default 587
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"` // do not log
	From     string `json:"from,omitempty"`

	// CC is copied on every digest.
	CC []string `json:"cc,omitempty"`

	// TLSMode is "opportunistic" (default), "required" or "none".
	TLSMode            string `json:"tls_mode,omitempty"`
	InsecureSkipVerify bool   `json:"insecure_skip_verify,omitempty"`
	HelloName          string `json:"hello_name,omitempty"`

	Timeout     string `json:"timeout,omitempty"` // default 30s
	RatePerSec  int    `json:"rate_per_sec,omitempty"`
	Concurrency int    `json:"concurrency,omitempty"` // parallel sends per run; default 1
}

type DigestConfig struct {
	PortalURL string `json:"portal_url,omitempty"`
	Subject   string `json:"subject,omitempty"`
	Signature string `json:"signature,omitempty"`

	// Overrides extends the built-in document type table, keyed by raw type.
	Overrides map[string]OverrideConfig `json:"overrides,omitempty"`
}

type OverrideConfig struct {
	Label      string `json:"label"`
	KeepSuffix int    `json:"keep_suffix,omitempty"`
}

type SchedulerConfig struct {
	Timezone   string `json:"timezone,omitempty"`    // IANA TZ; empty means Local
	RunTimeout string `json:"run_timeout,omitempty"` // default 5m
}

type MetricsConfig struct {
	Enabled bool `json:"enabled"`
}
