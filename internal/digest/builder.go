// Package digest groups feed records per recipient and renders one email each.
//
// Everything here is a pure function of its inputs.
package digest

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"approvalmailer/internal/domain"
)

const (
	DefaultSubject   = "SAP documents pending for your approval"
	DefaultSignature = "Enterprise Automation Office"
	defaultApprover  = "Approver"
)

type Config struct {
	Overrides Table
	PortalURL string
	Subject   string
	Signature string
}

type Builder struct {
	cfg atomic.Pointer[Config]
}

func New(cfg Config) *Builder {
	b := &Builder{}
	b.Apply(cfg)
	return b
}

// Apply replaces the rendering configuration for subsequent builds.
func (b *Builder) Apply(cfg Config) {
	if cfg.Overrides == nil {
		cfg.Overrides = DefaultTable()
	}
	if strings.TrimSpace(cfg.Subject) == "" {
		cfg.Subject = DefaultSubject
	}
	if strings.TrimSpace(cfg.Signature) == "" {
		cfg.Signature = DefaultSignature
	}
	b.cfg.Store(&cfg)
}

// Build returns one digest per distinct recipient email, ordered by recipient.
// Records with an empty email are dropped.
func (b *Builder) Build(records []domain.FeedRecord) []domain.Digest {
	byEmail := map[string][]domain.FeedRecord{}
	for _, r := range records {
		if !r.Dispatchable() {
			continue
		}
		byEmail[r.Email] = append(byEmail[r.Email], r)
	}

	recipients := make([]string, 0, len(byEmail))
	for email := range byEmail {
		recipients = append(recipients, email)
	}
	sort.Strings(recipients)

	cfg := b.cfg.Load()
	out := make([]domain.Digest, 0, len(recipients))
	for _, email := range recipients {
		out = append(out, buildOne(cfg, email, byEmail[email]))
	}
	return out
}

// Group partitions one recipient's records by document type. Groups are sorted
// by raw type and numbers by raw number; duplicate numbers collapse.
func Group(table Table, records []domain.FeedRecord) []domain.DocumentGroup {
	byType := map[string]map[string]struct{}{}
	for _, r := range records {
		set, ok := byType[r.DocumentType]
		if !ok {
			set = map[string]struct{}{}
			byType[r.DocumentType] = set
		}
		set[r.DocumentNumber] = struct{}{}
	}

	types := make([]string, 0, len(byType))
	for t := range byType {
		types = append(types, t)
	}
	sort.Strings(types)

	groups := make([]domain.DocumentGroup, 0, len(types))
	for _, t := range types {
		numbers := make([]string, 0, len(byType[t]))
		for n := range byType[t] {
			numbers = append(numbers, n)
		}
		sort.Strings(numbers)

		display := make([]string, len(numbers))
		for i, n := range numbers {
			display[i] = FormatDocNumber(table, t, n)
		}
		groups = append(groups, domain.DocumentGroup{
			Type:        t,
			DisplayName: FormatDocType(table, t),
			Numbers:     numbers,
			Display:     display,
		})
	}
	return groups
}

func buildOne(cfg *Config, email string, records []domain.FeedRecord) domain.Digest {
	groups := Group(cfg.Overrides, records)

	total := 0
	views := make([]groupView, 0, len(groups))
	for _, g := range groups {
		total += g.Count()
		views = append(views, groupView{DisplayName: g.DisplayName, Count: g.Count(), Display: g.Display})
	}

	name := approverName(records)
	var body bytes.Buffer
	// Only writer errors can fail here and bytes.Buffer never returns one.
	_ = bodyTemplate.Execute(&body, bodyData{
		ApproverName: name,
		PortalURL:    cfg.PortalURL,
		Signature:    cfg.Signature,
		Groups:       views,
	})

	return domain.Digest{
		Recipient:    email,
		ApproverName: name,
		Subject:      fmt.Sprintf("%s (%d)", cfg.Subject, total),
		HTMLBody:     body.String(),
		Total:        total,
		Groups:       groups,
	}
}

func approverName(records []domain.FeedRecord) string {
	for _, r := range records {
		if r.FirstName != "" || r.LastName != "" {
			return strings.TrimSpace(r.FirstName + " " + r.LastName)
		}
	}
	return defaultApprover
}
