package gmail

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"invoicewatch/internal"
	"invoicewatch/internal/config"
	"invoicewatch/internal/connectors"
)

const searchURLPrefix = "https://mail.google.com/mail/#search/rfc822msgid:"

// api is the subset of the Gmail service the connector uses.
type api interface {
	List(ctx context.Context, query, pageToken string) (*gmail.ListMessagesResponse, error)
	GetRaw(ctx context.Context, id string) (*gmail.Message, error)
	Send(ctx context.Context, msg *gmail.Message) error
	Profile(ctx context.Context) (string, error)
}

type Connector struct {
	api api
	log *zap.Logger

	mu      sync.Mutex
	address string
}

func NewConnector(ctx context.Context, cfg config.Config, log *zap.Logger) (*Connector, error) {
	ts, err := cfg.GoogleTokenSource(ctx, gmail.GmailReadonlyScope, gmail.GmailSendScope)
	if err != nil {
		return nil, err
	}
	svc, err := gmail.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "create gmail service"), internal.ErrConfiguration)
	}
	return newConnector(serviceAPI{svc: svc}, log), nil
}

func newConnector(a api, log *zap.Logger) *Connector {
	return &Connector{api: a, log: log.Named("gmail")}
}

// Query builds the Gmail search expression for messages after since.
func Query(since time.Time, label string) string {
	label = strings.TrimSpace(label)
	if label == "" {
		label = config.DefaultLabel
	}
	return fmt.Sprintf("after:%d has:attachment label:%s", since.Unix(), strings.ReplaceAll(label, " ", "-"))
}

func (c *Connector) Search(ctx context.Context, since time.Time, label string) ([]internal.CandidateItem, error) {
	query := Query(since, label)
	c.log.Debug("searching messages", zap.String("query", query))

	var refs []*gmail.Message
	pageToken := ""
	for {
		resp, err := c.api.List(ctx, query, pageToken)
		if err != nil {
			return nil, unavailable(err, "list messages")
		}
		refs = append(refs, resp.Messages...)
		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}

	out := make([]internal.CandidateItem, 0, len(refs))
	for _, ref := range refs {
		if ref == nil || ref.Id == "" {
			continue
		}
		msg, err := c.api.GetRaw(ctx, ref.Id)
		if err != nil {
			return nil, unavailable(err, "get message "+ref.Id)
		}
		item, ok, err := c.toItem(msg)
		if err != nil {
			c.log.Warn("skipping unreadable message", zap.String("message_id", ref.Id), zap.Error(err))
			continue
		}
		if ok {
			out = append(out, item)
		}
	}
	return out, nil
}

func (c *Connector) toItem(msg *gmail.Message) (internal.CandidateItem, bool, error) {
	if msg.Raw == "" {
		return internal.CandidateItem{}, false, nil
	}
	raw, err := decodeBase64URL(msg.Raw)
	if err != nil {
		return internal.CandidateItem{}, false, err
	}
	parsed, err := connectors.ParseMessage(raw)
	if err != nil {
		return internal.CandidateItem{}, false, err
	}
	if len(parsed.Payloads) == 0 {
		return internal.CandidateItem{}, false, nil
	}

	received := time.Now().UTC()
	if msg.InternalDate > 0 {
		received = time.UnixMilli(msg.InternalDate).UTC()
	}

	return internal.CandidateItem{
		Provider:   "gmail",
		ThreadID:   msg.ThreadId,
		MessageID:  msg.Id,
		Payloads:   parsed.Payloads,
		Sender:     parsed.From,
		Subject:    parsed.Subject,
		SearchURL:  searchURLPrefix + url.QueryEscape(parsed.MessageIDHeader),
		ReceivedAt: received,
		Replier: &replier{
			conn:       c,
			threadID:   msg.ThreadId,
			to:         parsed.FromAddress,
			subject:    parsed.Subject,
			inReplyTo:  parsed.MessageIDHeader,
			references: connectors.ReferenceChain(parsed.References, parsed.MessageIDHeader),
		},
	}, true, nil
}

// sender returns the mailbox address, fetched once.
func (c *Connector) sender(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.address != "" {
		return c.address, nil
	}
	addr, err := c.api.Profile(ctx)
	if err != nil {
		return "", errors.Wrap(err, "get gmail profile")
	}
	c.address = addr
	return addr, nil
}

func unavailable(err error, op string) error {
	return errors.Mark(errors.Wrap(err, op), internal.ErrSourceUnavailable)
}

func decodeBase64URL(input string) ([]byte, error) {
	decoded, err := base64.RawURLEncoding.DecodeString(input)
	if err == nil {
		return decoded, nil
	}
	decoded, err = base64.URLEncoding.DecodeString(input)
	if err == nil {
		return decoded, nil
	}
	return nil, errors.Wrap(err, "decode gmail raw payload")
}

type serviceAPI struct {
	svc *gmail.Service
}

func (s serviceAPI) List(ctx context.Context, query, pageToken string) (*gmail.ListMessagesResponse, error) {
	call := s.svc.Users.Messages.List("me").Q(query).Context(ctx)
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}
	return call.Do()
}

func (s serviceAPI) GetRaw(ctx context.Context, id string) (*gmail.Message, error) {
	return s.svc.Users.Messages.Get("me", id).Format("raw").Context(ctx).Do()
}

func (s serviceAPI) Send(ctx context.Context, msg *gmail.Message) error {
	_, err := s.svc.Users.Messages.Send("me", msg).Context(ctx).Do()
	return err
}

func (s serviceAPI) Profile(ctx context.Context) (string, error) {
	p, err := s.svc.Users.GetProfile("me").Context(ctx).Do()
	if err != nil {
		return "", err
	}
	return p.EmailAddress, nil
}
