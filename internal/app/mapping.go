package app

import (
	"strings"
	"time"

	"approvalmailer/internal/config"
	"approvalmailer/internal/digest"
	"approvalmailer/internal/feed"
	"approvalmailer/internal/httpapi"
	"approvalmailer/internal/mailer"
	"approvalmailer/internal/pipeline"
	"approvalmailer/internal/scheduler"
	"approvalmailer/internal/storage"
	logx "approvalmailer/pkg/logx"
)

const (
	defaultSQLitePath = "approvalmailer.db"
	defaultFilePath   = "schedules.json"
)

func mapLogging(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorage(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "", "sqlite", "sqlite3":
		driver = "sqlite"
		if path == "" {
			path = defaultSQLitePath
		}
	case "file":
		if path == "" {
			path = defaultFilePath
		}
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      driver,
		Path:        path,
		DSN:         strings.TrimSpace(sc.DSN),
		BusyTimeout: busy,
		MaxConns:    sc.MaxConns,
	}, nil
}

func mapFeed(cfg *config.Config) (feed.Config, error) {
	timeout, err := config.ParseDurationOrDefault("feed.timeout", cfg.Feed.Timeout, 30*time.Second)
	if err != nil {
		return feed.Config{}, err
	}
	return feed.Config{
		Timeout:      timeout,
		MaxBodyBytes: cfg.Feed.MaxBodyBytes,
		UserAgent:    cfg.Feed.UserAgent,
	}, nil
}

func mapMail(cfg *config.Config) (mailer.Config, error) {
	mc := cfg.Mail
	timeout, err := config.ParseDurationOrDefault("mail.timeout", mc.Timeout, 30*time.Second)
	if err != nil {
		return mailer.Config{}, err
	}
	return mailer.Config{
		Host:               strings.TrimSpace(mc.Host),
		Port:               mc.Port,
		Username:           strings.TrimSpace(mc.Username),
		Password:           mc.Password,
		From:               strings.TrimSpace(mc.From),
		CC:                 append([]string(nil), mc.CC...),
		TLSMode:            mc.TLSMode,
		InsecureSkipVerify: mc.InsecureSkipVerify,
		HelloName:          mc.HelloName,
		Timeout:            timeout,
		RatePerSec:         mc.RatePerSec,
	}, nil
}

func mapPipeline(cfg *config.Config) pipeline.Config {
	return pipeline.Config{Concurrency: cfg.Mail.Concurrency}
}

func mapDigest(cfg *config.Config) digest.Config {
	table := digest.DefaultTable()
	if len(cfg.Digest.Overrides) > 0 {
		extra := make(digest.Table, len(cfg.Digest.Overrides))
		for typ, o := range cfg.Digest.Overrides {
			extra[typ] = digest.Override{Label: o.Label, KeepSuffix: o.KeepSuffix}
		}
		table = table.Merge(extra)
	}
	return digest.Config{
		Overrides: table,
		PortalURL: strings.TrimSpace(cfg.Digest.PortalURL),
		Subject:   cfg.Digest.Subject,
		Signature: cfg.Digest.Signature,
	}
}

func mapScheduler(cfg *config.Config) (scheduler.Config, error) {
	timeout, err := config.ParseDurationOrDefault("scheduler.run_timeout", cfg.Scheduler.RunTimeout, scheduler.DefaultRunTimeout)
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{Timezone: cfg.Scheduler.Timezone, RunTimeout: timeout}, nil
}

func mapHTTP(cfg *config.Config) (httpapi.Config, error) {
	hc := cfg.HTTP
	read, err := config.ParseDurationOrDefault("http.read_timeout", hc.ReadTimeout, 10*time.Second)
	if err != nil {
		return httpapi.Config{}, err
	}
	write, err := config.ParseDurationField("http.write_timeout", hc.WriteTimeout)
	if err != nil {
		return httpapi.Config{}, err
	}
	idle, err := config.ParseDurationOrDefault("http.idle_timeout", hc.IdleTimeout, 60*time.Second)
	if err != nil {
		return httpapi.Config{}, err
	}
	return httpapi.Config{
		Enabled:       hc.Enabled,
		Addr:          strings.TrimSpace(hc.Addr),
		Token:         strings.TrimSpace(hc.Token),
		AllowInsecure: hc.AllowInsecure,
		Pprof:         hc.Pprof,
		CORSOrigins:   append([]string(nil), hc.CORSOrigins...),
		ReadTimeout:   read,
		WriteTimeout:  write,
		IdleTimeout:   idle,
	}, nil
}
