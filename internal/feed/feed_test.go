package feed

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"approvalmailer/internal/domain"
	logx "approvalmailer/pkg/logx"
)

func feedDoc(entries ...string) string {
	return `<?xml version="1.0" encoding="utf-8"?>
<feed xmlns="http://www.w3.org/2005/Atom"
      xmlns:m="http://schemas.microsoft.com/ado/2007/08/dataservices/metadata"
      xmlns:d="http://schemas.microsoft.com/ado/2007/08/dataservices">
  <title type="text">C_PendingApprovals</title>
  ` + strings.Join(entries, "\n") + `
</feed>`
}

func entryDoc(props map[string]string, nulls ...string) string {
	var b strings.Builder
	b.WriteString(`<entry><id>x</id><content type="application/xml"><m:properties>`)
	// Deterministic order is not required by the decoder; keep it anyway.
	for _, k := range []string{"SAPObjectNodeRepresentation", "SAPBusinessObjectNodeKey1", "EmailAddress", "FirstName", "LastName", "WorkflowTaskID"} {
		if v, ok := props[k]; ok {
			fmt.Fprintf(&b, "<d:%s>%s</d:%s>", k, v, k)
		}
	}
	for _, k := range nulls {
		fmt.Fprintf(&b, `<d:%s m:null="true"/>`, k)
	}
	b.WriteString(`</m:properties></content></entry>`)
	return b.String()
}

func TestDecodeRoundTrip(t *testing.T) {
	t.Parallel()
	want := []map[string]string{
		{"SAPObjectNodeRepresentation": "PurchaseOrder", "SAPBusinessObjectNodeKey1": "00012", "EmailAddress": "a@x.com", "FirstName": "Ann"},
		{"SAPObjectNodeRepresentation": "PurchaseOrder", "SAPBusinessObjectNodeKey1": "00034", "EmailAddress": "a@x.com", "WorkflowTaskID": "77"},
		{"SAPObjectNodeRepresentation": "SuplrDwnPaytReqToBeVerified", "SAPBusinessObjectNodeKey1": "0000000012345678"},
	}
	doc := feedDoc(
		entryDoc(want[0], "LastName"),
		entryDoc(want[1]),
		entryDoc(want[2], "EmailAddress"),
	)

	got, err := Decode(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("got %d records, want %d", len(got), len(want))
	}
	for i := range want {
		if len(got[i].Properties) != len(want[i]) {
			t.Fatalf("record %d: properties = %v, want %v", i, got[i].Properties, want[i])
		}
		for k, v := range want[i] {
			if got[i].Properties[k] != v {
				t.Fatalf("record %d: %s = %q, want %q", i, k, got[i].Properties[k], v)
			}
		}
	}
	if _, ok := got[0].Properties["LastName"]; ok {
		t.Fatal("null property should be absent")
	}
	if got[0].Email != "a@x.com" || got[0].DocumentType != "PurchaseOrder" || got[0].DocumentNumber != "00012" || got[0].FirstName != "Ann" {
		t.Fatalf("typed fields not mapped: %+v", got[0])
	}
	if got[2].Dispatchable() {
		t.Fatal("record without email must not be dispatchable")
	}
}

func TestDecodePropertiesOutsideContent(t *testing.T) {
	t.Parallel()
	doc := feedDoc(`<entry><content type="application/octet-stream" src="x"/><m:properties><d:EmailAddress>b@x.com</d:EmailAddress></m:properties></entry>`)
	got, err := Decode(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(got) != 1 || got[0].Email != "b@x.com" {
		t.Fatalf("unexpected records: %+v", got)
	}
}

func TestDecodeEmptyFeed(t *testing.T) {
	t.Parallel()
	got, err := Decode(strings.NewReader(feedDoc()))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", got)
	}
}

func TestDecodeMalformed(t *testing.T) {
	t.Parallel()
	for _, doc := range []string{"", "<feed><entry>", "not xml at all <"} {
		if _, err := Decode(strings.NewReader(doc)); err == nil {
			t.Fatalf("expected error for %q", doc)
		}
	}
}

func TestDecodeRejectsNonFeedDocuments(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		doc  string
	}{
		{"trailing garbage", feedDoc() + "<<<garbage"},
		{"trailing element", feedDoc() + "<feed/>"},
		{"trailing text", feedDoc() + " junk"},
		{"html page", "<html><body><form>login</form></body></html>"},
		{"odata error", `<error xmlns="http://schemas.microsoft.com/ado/2007/08/dataservices/metadata"><code>401</code></error>`},
		{"feed without atom namespace", "<feed><entry/></feed>"},
	}
	for _, tt := range tests {
		if got, err := Decode(strings.NewReader(tt.doc)); err == nil {
			t.Fatalf("%s: expected error, got %d records", tt.name, len(got))
		}
	}
}

func TestDecodeAllowsTrailingCommentsAndWhitespace(t *testing.T) {
	t.Parallel()
	doc := feedDoc(entryDoc(map[string]string{"EmailAddress": "a@x.com"})) + "\n<!-- generated -->\n<?pi done?>\n"
	got, err := Decode(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("records = %d, want 1", len(got))
	}
}

func TestFetchSendsBasicAuthAndFormat(t *testing.T) {
	t.Parallel()
	var gotAuth, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/atom+xml")
		_, _ = w.Write([]byte(feedDoc(entryDoc(map[string]string{"EmailAddress": "a@x.com", "SAPObjectNodeRepresentation": "PurchaseOrder", "SAPBusinessObjectNodeKey1": "1"}))))
	}))
	defer srv.Close()

	f := New(Config{Timeout: 2 * time.Second}, srv.Client(), logx.Nop())
	recs, err := f.Fetch(context.Background(), domain.Credential{EndpointURL: srv.URL + "/odata/Pending", Username: "user", Secret: "p:ss"})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("got %d records", len(recs))
	}
	wantAuth := "Basic " + base64.StdEncoding.EncodeToString([]byte("user:p:ss"))
	if gotAuth != wantAuth {
		t.Fatalf("Authorization = %q, want %q", gotAuth, wantAuth)
	}
	if gotQuery != "$format=xml" {
		t.Fatalf("query = %q", gotQuery)
	}
}

func TestFetchErrors(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/denied":
			http.Error(w, "no", http.StatusUnauthorized)
		case "/garbage":
			_, _ = w.Write([]byte("<feed><entry>"))
		case "/login":
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte("<html><body>Sign in</body></html>"))
		case "/slow":
			time.Sleep(300 * time.Millisecond)
			_, _ = w.Write([]byte(feedDoc()))
		}
	}))
	defer srv.Close()

	f := New(Config{Timeout: 100 * time.Millisecond}, srv.Client(), logx.Nop())
	cred := func(path string) domain.Credential {
		return domain.Credential{EndpointURL: srv.URL + path, Username: "u", Secret: "s"}
	}

	_, err := f.Fetch(context.Background(), cred("/denied"))
	var fe *domain.FetchError
	if !errors.As(err, &fe) || fe.StatusCode != http.StatusUnauthorized {
		t.Fatalf("denied: err = %v", err)
	}
	if _, err := f.Fetch(context.Background(), cred("/garbage")); !errors.Is(err, domain.ErrFetch) {
		t.Fatalf("garbage: err = %v", err)
	}
	if _, err := f.Fetch(context.Background(), cred("/login")); !errors.Is(err, domain.ErrFetch) {
		t.Fatalf("login page: err = %v", err)
	}
	if _, err := f.Fetch(context.Background(), cred("/slow")); !errors.Is(err, domain.ErrFetch) {
		t.Fatalf("slow: expected timeout fetch error, got %v", err)
	}
	if _, err := f.Fetch(context.Background(), domain.Credential{EndpointURL: srv.URL}); !errors.Is(err, domain.ErrCredential) {
		t.Fatalf("missing credential: err = %v", err)
	}
}

func TestFetchBodyLimit(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(feedDoc(strings.Repeat(entryDoc(map[string]string{"EmailAddress": "a@x.com"}), 50))))
	}))
	defer srv.Close()

	f := New(Config{MaxBodyBytes: 256}, srv.Client(), logx.Nop())
	_, err := f.Fetch(context.Background(), domain.Credential{EndpointURL: srv.URL, Username: "u", Secret: "s"})
	if !errors.Is(err, domain.ErrFetch) {
		t.Fatalf("expected fetch error for oversized body, got %v", err)
	}
}

func TestWithXMLFormat(t *testing.T) {
	t.Parallel()
	tests := []struct{ in, want string }{
		{"https://h/sap/opu/odata/sap/X/Items", "https://h/sap/opu/odata/sap/X/Items?$format=xml"},
		{"https://h/X?$top=10", "https://h/X?$top=10&$format=xml"},
		{"https://h/X?$format=atom", "https://h/X?$format=atom"},
	}
	for _, tt := range tests {
		got, err := withXMLFormat(tt.in)
		if err != nil {
			t.Fatalf("withXMLFormat(%q): %v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("withXMLFormat(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
