package imap

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/emersion/go-imap"
	imapclient "github.com/emersion/go-imap/client"
	"go.uber.org/zap"

	"invoicewatch/internal"
	"invoicewatch/internal/config"
	"invoicewatch/internal/connectors"
)

type Connector struct {
	host     string
	port     int
	secure   bool
	user     string
	password string
	replier  connectors.ReplierFactory
	log      *zap.Logger
}

// NewConnector builds an IMAP item source. replier may be nil, in which case
// items carry no reply capability.
func NewConnector(cfg config.Config, replier connectors.ReplierFactory, log *zap.Logger) (*Connector, error) {
	if err := cfg.Require("IMAP_HOST", cfg.IMAPHost); err != nil {
		return nil, err
	}
	if err := cfg.Require("IMAP_USER", cfg.IMAPUser); err != nil {
		return nil, err
	}
	if err := cfg.Require("IMAP_PASSWORD", cfg.IMAPPassword); err != nil {
		return nil, err
	}

	return &Connector{
		host:     cfg.IMAPHost,
		port:     cfg.IMAPPort,
		secure:   cfg.IMAPSecure,
		user:     cfg.IMAPUser,
		password: cfg.IMAPPassword,
		replier:  replier,
		log:      log.Named("imap"),
	}, nil
}

// fetched is one message as returned by the server.
type fetched struct {
	uid          uint32
	internalDate time.Time
	raw          []byte
}

func (c *Connector) Search(ctx context.Context, since time.Time, label string) ([]internal.CandidateItem, error) {
	mailbox := strings.TrimSpace(label)
	if mailbox == "" {
		mailbox = config.DefaultLabel
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	msgs, uidValidity, err := c.fetchSince(mailbox, since)
	if err != nil {
		return nil, errors.Mark(err, internal.ErrSourceUnavailable)
	}

	out := make([]internal.CandidateItem, 0, len(msgs))
	for _, m := range msgs {
		item, ok, err := c.toItem(m, mailbox, uidValidity, since)
		if err != nil {
			c.log.Warn("skipping unreadable message", zap.Uint32("uid", m.uid), zap.Error(err))
			continue
		}
		if ok {
			out = append(out, item)
		}
	}
	return out, nil
}

func (c *Connector) fetchSince(mailbox string, since time.Time) ([]fetched, uint32, error) {
	addr := fmt.Sprintf("%s:%d", c.host, c.port)
	var client *imapclient.Client
	var err error
	if c.secure {
		client, err = imapclient.DialTLS(addr, &tls.Config{ServerName: c.host})
	} else {
		client, err = imapclient.Dial(addr)
	}
	if err != nil {
		return nil, 0, errors.Wrapf(err, "dial %s", addr)
	}
	defer client.Logout()

	if err := client.Login(c.user, c.password); err != nil {
		return nil, 0, errors.Wrap(err, "login")
	}

	status, err := client.Select(mailbox, true)
	if err != nil {
		return nil, 0, errors.Wrapf(err, "select %s", mailbox)
	}

	// SINCE has day granularity; the exact bound is applied per message.
	criteria := imap.NewSearchCriteria()
	criteria.Since = since
	ids, err := client.Search(criteria)
	if err != nil {
		return nil, 0, errors.Wrap(err, "search")
	}
	if len(ids) == 0 {
		return nil, status.UidValidity, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(ids...)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchInternalDate, imap.FetchUid, section.FetchItem()}
	messages := make(chan *imap.Message, len(ids))
	fetchDone := make(chan error, 1)
	go func() { fetchDone <- client.Fetch(seqset, items, messages) }()

	out := make([]fetched, 0, len(ids))
	var readErr error
	for msg := range messages {
		if msg == nil || readErr != nil {
			continue
		}
		body := msg.GetBody(section)
		if body == nil {
			continue
		}
		raw, err := io.ReadAll(body)
		if err != nil {
			readErr = errors.Wrapf(err, "read message uid %d", msg.Uid)
			continue
		}
		out = append(out, fetched{uid: msg.Uid, internalDate: msg.InternalDate, raw: raw})
	}

	if err := <-fetchDone; err != nil {
		return nil, 0, errors.Wrap(err, "fetch")
	}
	if readErr != nil {
		return nil, 0, readErr
	}
	return out, status.UidValidity, nil
}

func (c *Connector) toItem(m fetched, mailbox string, uidValidity uint32, since time.Time) (internal.CandidateItem, bool, error) {
	if !m.internalDate.IsZero() && !m.internalDate.After(since) {
		return internal.CandidateItem{}, false, nil
	}
	parsed, err := connectors.ParseMessage(m.raw)
	if err != nil {
		return internal.CandidateItem{}, false, err
	}
	if len(parsed.Payloads) == 0 {
		return internal.CandidateItem{}, false, nil
	}

	messageID := strings.Trim(parsed.MessageIDHeader, "<>")
	if messageID == "" {
		messageID = fmt.Sprintf("imap-%d-%d", uidValidity, m.uid)
	}
	received := time.Now().UTC()
	if !m.internalDate.IsZero() {
		received = m.internalDate.UTC()
	}

	item := internal.CandidateItem{
		Provider:   "imap",
		ThreadID:   threadID(parsed.References, messageID),
		MessageID:  messageID,
		Payloads:   parsed.Payloads,
		Sender:     parsed.From,
		Subject:    parsed.Subject,
		SearchURL:  c.locator(mailbox, uidValidity, m.uid),
		ReceivedAt: received,
	}
	if c.replier != nil && parsed.FromAddress != "" {
		item.Replier = c.replier(connectors.ReplyTarget{
			To:         parsed.FromAddress,
			Subject:    parsed.Subject,
			InReplyTo:  parsed.MessageIDHeader,
			References: connectors.ReferenceChain(parsed.References, parsed.MessageIDHeader),
		})
	}
	return item, true, nil
}

// locator renders an RFC 5092 IMAP URL for the message.
func (c *Connector) locator(mailbox string, uidValidity, uid uint32) string {
	u := url.URL{
		Scheme: "imap",
		User:   url.User(c.user),
		Host:   c.host,
		Path:   "/" + mailbox + fmt.Sprintf(";UIDVALIDITY=%d/;UID=%d", uidValidity, uid),
	}
	return u.String()
}

// threadID is the root of the reference chain, or the message itself.
func threadID(references, messageID string) string {
	fields := strings.Fields(references)
	if len(fields) == 0 {
		return messageID
	}
	return strings.Trim(fields[0], "<>")
}
