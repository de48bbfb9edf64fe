package gmail

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"

	crdberrors "github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/api/gmail/v1"

	"invoicewatch/internal"
	"invoicewatch/internal/connectors/testmail"
)

type fakeAPI struct {
	queries []string
	pages   map[string]*gmail.ListMessagesResponse
	raw     map[string]*gmail.Message
	listErr error
	sent    []*gmail.Message
}

func (f *fakeAPI) List(_ context.Context, query, pageToken string) (*gmail.ListMessagesResponse, error) {
	f.queries = append(f.queries, query)
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.pages[pageToken], nil
}

func (f *fakeAPI) GetRaw(_ context.Context, id string) (*gmail.Message, error) {
	msg, ok := f.raw[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return msg, nil
}

func (f *fakeAPI) Send(_ context.Context, msg *gmail.Message) error {
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeAPI) Profile(context.Context) (string, error) {
	return "me@example.com", nil
}

func encodeRaw(m testmail.Message) string {
	return base64.RawURLEncoding.EncodeToString(m.Raw())
}

func TestQuery(t *testing.T) {
	since := time.Unix(1700000000, 0)
	assert.Equal(t, "after:1700000000 has:attachment label:INBOX", Query(since, ""))
	assert.Equal(t, "after:1700000000 has:attachment label:Vendor-Invoices", Query(since, "Vendor Invoices"))
}

func TestSearchBuildsCandidateItems(t *testing.T) {
	withPDF := testmail.Message{
		MessageID: "<inv-1@vendor.example>",
		From:      "Vendor <billing@vendor.example>",
		Subject:   "Invoice",
		Attachments: []testmail.Attachment{
			{Name: "invoice.pdf", ContentType: "application/pdf", Data: testmail.PDF(1)},
		},
	}
	noPDF := testmail.Message{MessageID: "<chat@example.com>", From: "a@example.com", Subject: "hello"}

	api := &fakeAPI{
		pages: map[string]*gmail.ListMessagesResponse{
			"":   {Messages: []*gmail.Message{{Id: "m1"}}, NextPageToken: "p2"},
			"p2": {Messages: []*gmail.Message{{Id: "m2"}}},
		},
		raw: map[string]*gmail.Message{
			"m1": {Id: "m1", ThreadId: "t1", InternalDate: 1700000100000, Raw: encodeRaw(withPDF)},
			"m2": {Id: "m2", ThreadId: "t2", InternalDate: 1700000200000, Raw: encodeRaw(noPDF)},
		},
	}
	conn := newConnector(api, zap.NewNop())

	items, err := conn.Search(context.Background(), time.Unix(1700000000, 0), "")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Len(t, api.queries, 2)

	item := items[0]
	assert.Equal(t, "gmail", item.Provider)
	assert.Equal(t, "m1", item.MessageID)
	assert.Equal(t, "t1", item.ThreadID)
	assert.Equal(t, "Invoice", item.Subject)
	assert.Equal(t, searchURLPrefix+"%3Cinv-1%40vendor.example%3E", item.SearchURL)
	assert.Equal(t, time.UnixMilli(1700000100000).UTC(), item.ReceivedAt)
	require.Len(t, item.Payloads, 1)
	require.NotNil(t, item.Replier)
}

func TestSearchMarksSourceUnavailable(t *testing.T) {
	conn := newConnector(&fakeAPI{listErr: errors.New("quota")}, zap.NewNop())

	_, err := conn.Search(context.Background(), time.Now(), "INBOX")
	require.Error(t, err)
	assert.True(t, crdberrors.Is(err, internal.ErrSourceUnavailable))
}

func TestReplySendsThreadedMessage(t *testing.T) {
	api := &fakeAPI{}
	conn := newConnector(api, zap.NewNop())
	r := &replier{
		conn:       conn,
		threadID:   "t1",
		to:         "billing@vendor.example",
		subject:    "Invoice",
		inReplyTo:  "<inv-1@vendor.example>",
		references: "<inv-1@vendor.example>",
	}

	require.NoError(t, r.Reply(context.Background(), "Modification points:\n- date"))
	require.Len(t, api.sent, 1)
	assert.Equal(t, "t1", api.sent[0].ThreadId)

	raw, err := decodeBase64URL(api.sent[0].Raw)
	require.NoError(t, err)
	text := string(raw)
	assert.True(t, strings.Contains(text, "In-Reply-To: <inv-1@vendor.example>"))
	assert.True(t, strings.Contains(text, "Subject: Re: Invoice"))
	assert.True(t, strings.Contains(text, "billing@vendor.example"))
}
