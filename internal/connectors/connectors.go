package connectors

import (
	"context"
	"strings"
	"time"

	"invoicewatch/internal"
)

// ItemSource yields messages newer than since that carry at least one eligible
// attachment. It does not filter out already processed messages.
type ItemSource interface {
	Search(ctx context.Context, since time.Time, label string) ([]internal.CandidateItem, error)
}

// ReplyTarget addresses a reply to a fetched message.
type ReplyTarget struct {
	To         string
	Subject    string
	InReplyTo  string
	References string
}

// ReplierFactory builds the reply capability for sources that cannot send mail themselves.
type ReplierFactory func(ReplyTarget) internal.Replier

// ReplySubject prefixes subject with "Re:" unless it already has one.
func ReplySubject(subject string) string {
	subject = strings.TrimSpace(subject)
	if strings.HasPrefix(strings.ToLower(subject), "re:") {
		return subject
	}
	if subject == "" {
		return "Re: your invoice"
	}
	return "Re: " + subject
}

// ReferenceChain appends messageID to the existing References header value.
func ReferenceChain(references, messageID string) string {
	return strings.TrimSpace(references + " " + messageID)
}
