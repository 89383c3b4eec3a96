// Package feed retrieves pending approval records from an OData Atom endpoint.
package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"approvalmailer/internal/domain"
	logx "approvalmailer/pkg/logx"
)

const (
	defaultTimeout      = 30 * time.Second
	defaultMaxBodyBytes = 32 << 20
)

// Config controls the fetcher. Every fetch is a single attempt; the caller's
// schedule is the retry policy.
type Config struct {
	Timeout      time.Duration
	MaxBodyBytes int64
	UserAgent    string
}

type Fetcher struct {
	cfg    Config
	client *http.Client
	log    logx.Logger
}

// New returns a Fetcher. A nil client uses a dedicated http.Client.
func New(cfg Config, client *http.Client, log logx.Logger) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if strings.TrimSpace(cfg.UserAgent) == "" {
		cfg.UserAgent = "approvalmailer/1"
	}
	if client == nil {
		client = &http.Client{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Fetcher{cfg: cfg, client: client, log: log}
}

// Fetch downloads and decodes the feed behind cred.
//
// Errors are *domain.CredentialError for an incomplete credential and
// *domain.FetchError for transport failures, non-2xx statuses and malformed XML.
func (f *Fetcher) Fetch(ctx context.Context, cred domain.Credential) ([]domain.FeedRecord, error) {
	if err := cred.Validate(); err != nil {
		return nil, err
	}
	target, err := withXMLFormat(strings.TrimSpace(cred.EndpointURL))
	if err != nil {
		return nil, &domain.FetchError{URL: cred.EndpointURL, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, http.NoBody)
	if err != nil {
		return nil, &domain.FetchError{URL: target, Err: err}
	}
	req.SetBasicAuth(cred.Username, cred.Secret)
	req.Header.Set("Accept", "application/atom+xml, application/xml;q=0.9")
	req.Header.Set("User-Agent", f.cfg.UserAgent)

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &domain.FetchError{URL: target, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &domain.FetchError{
			URL:        target,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status %s: %s", resp.Status, strings.TrimSpace(string(snippet))),
		}
	}

	body := &io.LimitedReader{R: resp.Body, N: f.cfg.MaxBodyBytes + 1}
	records, err := Decode(body)
	if body.N <= 0 {
		return nil, &domain.FetchError{URL: target, StatusCode: resp.StatusCode, Err: fmt.Errorf("response exceeds %d bytes", f.cfg.MaxBodyBytes)}
	}
	if err != nil {
		return nil, &domain.FetchError{URL: target, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode feed: %w", err)}
	}

	f.log.Debug("feed fetched",
		logx.String("url", target),
		logx.String("user", cred.Username),
		logx.Int("entries", len(records)),
		logx.Duration("took", time.Since(start)),
	)
	return records, nil
}

// withXMLFormat appends $format=xml unless the URL already chooses a format.
// The "$" is kept literal; some gateways do not decode %24format.
func withXMLFormat(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", errors.New("endpoint must be an absolute URL")
	}
	for _, kv := range strings.Split(u.RawQuery, "&") {
		if strings.HasPrefix(kv, "$format=") || strings.HasPrefix(kv, "%24format=") {
			return u.String(), nil
		}
	}
	if u.RawQuery == "" {
		u.RawQuery = "$format=xml"
	} else {
		u.RawQuery += "&$format=xml"
	}
	return u.String(), nil
}
