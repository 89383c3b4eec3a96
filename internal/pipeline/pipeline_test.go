package pipeline

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"

	"approvalmailer/internal/digest"
	"approvalmailer/internal/domain"
	"approvalmailer/internal/metrics"
	logx "approvalmailer/pkg/logx"
)

type fakeFetcher struct {
	records []domain.FeedRecord
	err     error
	calls   int
}

func (f *fakeFetcher) Fetch(ctx context.Context, cred domain.Credential) ([]domain.FeedRecord, error) {
	f.calls++
	return f.records, f.err
}

type fakeSender struct {
	mu     sync.Mutex
	fail   map[string]bool
	sent   []domain.Digest
	called []string
}

func (s *fakeSender) Send(ctx context.Context, d domain.Digest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.called = append(s.called, d.Recipient)
	if s.fail[d.Recipient] {
		return &domain.DispatchError{Recipient: d.Recipient, Err: errors.New("550 mailbox unavailable")}
	}
	s.sent = append(s.sent, d)
	return nil
}

var cred = domain.Credential{EndpointURL: "https://sap.example.com/odata/Pending", Username: "u", Secret: "s"}

func scenarioRecords() []domain.FeedRecord {
	return []domain.FeedRecord{
		{Email: "a@x.com", DocumentType: "PurchaseOrder", DocumentNumber: "00012"},
		{Email: "a@x.com", DocumentType: "PurchaseOrder", DocumentNumber: "00034"},
		{Email: "b@x.com", DocumentType: "SuplrDwnPaytReqToBeVerified", DocumentNumber: "0000000012345678"},
	}
}

func TestRunEndToEndScenario(t *testing.T) {
	f := &fakeFetcher{records: scenarioRecords()}
	s := &fakeSender{}
	r := New(Config{}, f, digest.New(digest.Config{}), s, metrics.NoopSink{}, logx.Nop())

	rep, err := r.Run(context.Background(), metrics.TriggerScheduled, cred)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Fetched != 3 || rep.Digests != 2 || len(rep.Sent) != 2 || len(rep.Failed) != 0 {
		t.Fatalf("report = %+v", rep)
	}
	if rep.RunID == "" {
		t.Fatal("missing run id")
	}
	if len(s.sent) != 2 {
		t.Fatalf("sent %d messages, want 2", len(s.sent))
	}
	byRecipient := map[string]domain.Digest{}
	for _, d := range s.sent {
		byRecipient[d.Recipient] = d
	}
	a := byRecipient["a@x.com"]
	if a.Total != 2 || !strings.Contains(a.Subject, "(2)") || !strings.Contains(a.HTMLBody, "Purchase Order (2)") {
		t.Fatalf("digest a = %+v", a)
	}
	if strings.Join(a.Groups[0].Display, ",") != "12,34" {
		t.Fatalf("a numbers = %v", a.Groups[0].Display)
	}
	b := byRecipient["b@x.com"]
	if b.Total != 1 || !strings.Contains(b.HTMLBody, "Supplier DPR (1)") || b.Groups[0].Display[0] != "12345678" {
		t.Fatalf("digest b = %+v", b)
	}
}

func TestRunFetchErrorDispatchesNothing(t *testing.T) {
	f := &fakeFetcher{err: &domain.FetchError{URL: cred.EndpointURL, StatusCode: 500, Err: errors.New("boom")}}
	s := &fakeSender{}
	r := New(Config{}, f, digest.New(digest.Config{}), s, nil, logx.Nop())

	_, err := r.Run(context.Background(), metrics.TriggerManual, cred)
	if !errors.Is(err, domain.ErrFetch) {
		t.Fatalf("expected fetch error, got %v", err)
	}
	if len(s.called) != 0 {
		t.Fatalf("sender called %d times after fetch failure", len(s.called))
	}
}

func TestRunDispatchFailureDoesNotStopOthers(t *testing.T) {
	records := append(scenarioRecords(), domain.FeedRecord{Email: "c@x.com", DocumentType: "PurchaseOrder", DocumentNumber: "1"})
	f := &fakeFetcher{records: records}
	s := &fakeSender{fail: map[string]bool{"a@x.com": true}}
	r := New(Config{Concurrency: 2}, f, digest.New(digest.Config{}), s, nil, logx.Nop())

	rep, err := r.Run(context.Background(), metrics.TriggerScheduled, cred)
	if !errors.Is(err, domain.ErrDispatch) {
		t.Fatalf("expected dispatch error, got %v", err)
	}
	called := append([]string(nil), s.called...)
	sort.Strings(called)
	if strings.Join(called, ",") != "a@x.com,b@x.com,c@x.com" {
		t.Fatalf("sender called for %v", called)
	}
	if len(rep.Failed) != 1 || rep.Failed[0].Recipient != "a@x.com" || len(rep.Sent) != 2 {
		t.Fatalf("report = %+v", rep)
	}
}

func TestRunSkipsRecordsWithoutEmail(t *testing.T) {
	f := &fakeFetcher{records: []domain.FeedRecord{
		{DocumentType: "PurchaseOrder", DocumentNumber: "1"},
		{Email: "a@x.com", DocumentType: "PurchaseOrder", DocumentNumber: "2"},
	}}
	s := &fakeSender{}
	r := New(Config{}, f, digest.New(digest.Config{}), s, nil, logx.Nop())
	rep, err := r.Run(context.Background(), metrics.TriggerScheduled, cred)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Skipped != 1 || len(s.sent) != 1 || s.sent[0].Total != 1 {
		t.Fatalf("report = %+v, sent = %+v", rep, s.sent)
	}
}

func TestRunEmptyFeed(t *testing.T) {
	f := &fakeFetcher{records: []domain.FeedRecord{}}
	s := &fakeSender{}
	r := New(Config{}, f, digest.New(digest.Config{}), s, nil, logx.Nop())
	rep, err := r.Run(context.Background(), metrics.TriggerScheduled, cred)
	if err != nil || rep.Digests != 0 || len(s.called) != 0 {
		t.Fatalf("rep = %+v, err = %v, called = %v", rep, err, s.called)
	}
}

func TestPreviewDoesNotDispatch(t *testing.T) {
	f := &fakeFetcher{records: scenarioRecords()}
	s := &fakeSender{}
	r := New(Config{}, f, digest.New(digest.Config{}), s, nil, logx.Nop())
	recs, err := r.Preview(context.Background(), cred)
	if err != nil || len(recs) != 3 {
		t.Fatalf("Preview = %d, %v", len(recs), err)
	}
	if len(s.called) != 0 {
		t.Fatal("preview must not dispatch")
	}
}
