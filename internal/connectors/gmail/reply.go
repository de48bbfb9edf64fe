package gmail

import (
	"bytes"
	"context"
	"encoding/base64"

	"github.com/cockroachdb/errors"
	"github.com/jhillyerd/enmime"
	"google.golang.org/api/gmail/v1"

	"invoicewatch/internal/connectors"
)

// replier sends a reply in the thread of the original message.
type replier struct {
	conn       *Connector
	threadID   string
	to         string
	subject    string
	inReplyTo  string
	references string
}

func (r *replier) Reply(ctx context.Context, body string) error {
	if r.to == "" {
		return errors.New("original message has no sender address")
	}
	from, err := r.conn.sender(ctx)
	if err != nil {
		return err
	}

	builder := enmime.Builder().
		From("", from).
		To("", r.to).
		Subject(connectors.ReplySubject(r.subject)).
		Text([]byte(body))
	if r.inReplyTo != "" {
		builder = builder.Header("In-Reply-To", r.inReplyTo)
	}
	if r.references != "" {
		builder = builder.Header("References", r.references)
	}
	part, err := builder.Build()
	if err != nil {
		return errors.Wrap(err, "build reply")
	}

	var buf bytes.Buffer
	if err := part.Encode(&buf); err != nil {
		return errors.Wrap(err, "encode reply")
	}

	msg := &gmail.Message{
		Raw:      base64.URLEncoding.EncodeToString(buf.Bytes()),
		ThreadId: r.threadID,
	}
	return errors.Wrap(r.conn.api.Send(ctx, msg), "send reply")
}
