package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"

	"invoicewatch/internal"
	"invoicewatch/internal/config"
	"invoicewatch/internal/storage"
)

const (
	doneVerdict      = `{"check":{"invoice":true,"invalidCheck":false},"parse":{"invoiceNumber":"INV-1"}}`
	invalidVerdict   = `{"check":{"invoice":true,"invalidCheck":true,"invalidPoints":"missing tax ID"},"parse":{}}`
	unrelatedVerdict = `{"check":{"invoice":false},"parse":{}}`
	unknownVerdict   = `{}`
)

// fakeSource returns the items received after since, like a real mailbox query.
type fakeSource struct {
	items  []internal.CandidateItem
	err    error
	bounds []time.Time
}

func (f *fakeSource) Search(_ context.Context, since time.Time, _ string) ([]internal.CandidateItem, error) {
	f.bounds = append(f.bounds, since)
	if f.err != nil {
		return nil, f.err
	}
	var out []internal.CandidateItem
	for _, item := range f.items {
		if item.ReceivedAt.After(since) {
			out = append(out, item)
		}
	}
	return out, nil
}

type fakeLedger struct {
	ids       map[string]struct{}
	batches   [][]internal.LogRow
	colorized map[internal.Category][]int
	appendErr error
}

func newFakeLedger(ids ...string) *fakeLedger {
	l := &fakeLedger{ids: map[string]struct{}{}, colorized: map[internal.Category][]int{}}
	for _, id := range ids {
		l.ids[id] = struct{}{}
	}
	return l
}

func (l *fakeLedger) ProcessedIDs(context.Context) (map[string]struct{}, error) {
	out := make(map[string]struct{}, len(l.ids))
	for id := range l.ids {
		out[id] = struct{}{}
	}
	return out, nil
}

func (l *fakeLedger) Append(_ context.Context, rows []internal.LogRow) error {
	if l.appendErr != nil {
		return l.appendErr
	}
	l.batches = append(l.batches, rows)
	for _, r := range rows {
		l.ids[r.MessageID] = struct{}{}
	}
	return nil
}

func (l *fakeLedger) Colorize(_ context.Context, indices []int, category internal.Category) error {
	l.colorized[category] = append(l.colorized[category], indices...)
	return nil
}

func (l *fakeLedger) rowCount() int {
	n := 0
	for _, b := range l.batches {
		n += len(b)
	}
	return n
}

// fakeClassifier answers by payload name.
type fakeClassifier struct {
	verdicts map[string]string
	failOn   string
	calls    []string
}

func (c *fakeClassifier) Classify(_ context.Context, payload internal.Payload, _ config.Settings) (json.RawMessage, error) {
	c.calls = append(c.calls, payload.Name)
	if payload.Name == c.failOn {
		return nil, errors.Mark(errors.New("service unavailable"), internal.ErrClassificationFailed)
	}
	v, ok := c.verdicts[payload.Name]
	if !ok {
		v = doneVerdict
	}
	return json.RawMessage(v), nil
}

type sentNotice struct {
	messageID string
	defects   string
}

type fakeNotifier struct {
	sent []sentNotice
}

func (n *fakeNotifier) Notify(_ context.Context, item internal.CandidateItem, defects string) error {
	n.sent = append(n.sent, sentNotice{messageID: item.MessageID, defects: defects})
	return nil
}

type countingPauser struct {
	count int
}

func (p *countingPauser) Pause(context.Context) error {
	p.count++
	return nil
}

type fakeRuns struct {
	records []storage.RunRecord
}

func (r *fakeRuns) InsertRun(_ context.Context, run storage.RunRecord) error {
	r.records = append(r.records, run)
	return nil
}

func item(id string, received time.Time, payloads ...string) internal.CandidateItem {
	it := internal.CandidateItem{
		Provider:   "gmail",
		ThreadID:   "thread-" + id,
		MessageID:  id,
		Sender:     "Vendor <billing@vendor.example>",
		Subject:    "Invoice " + id,
		SearchURL:  "https://mail.google.com/mail/#search/rfc822msgid:" + id,
		ReceivedAt: received,
	}
	for _, name := range payloads {
		it.Payloads = append(it.Payloads, internal.Payload{Name: name, MediaType: internal.MediaTypePDF, Data: []byte("%PDF")})
	}
	return it
}

func testSettings() config.Settings {
	s := config.DefaultSettings()
	s.APIKey = "key"
	s.Credential = config.Credential{APIKey: "key"}
	return s
}
