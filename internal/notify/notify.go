// Package notify tells senders what to fix when their invoice has defects.
package notify

import (
	"context"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"invoicewatch/internal"
)

const messageTemplate = "This message is automatically sent from a script for checking your invoice by Gemini.\n" +
	"Now, Gemini suggested the modification points in your invoice. " +
	"Please confirm the following modification points and send the modified invoice again.\n\n" +
	"Modification points:\n"

type Notifier interface {
	Notify(ctx context.Context, item internal.CandidateItem, defects string) error
}

// Message renders the reply body for the given defect details.
func Message(defects string) string {
	return messageTemplate + defects
}

// ReplyNotifier answers through the reply capability of the item itself.
type ReplyNotifier struct {
	log *zap.Logger
}

func NewReplyNotifier(log *zap.Logger) *ReplyNotifier {
	return &ReplyNotifier{log: log.Named("notify")}
}

func (n *ReplyNotifier) Notify(ctx context.Context, item internal.CandidateItem, defects string) error {
	if item.Replier == nil {
		return errors.Newf("message %s has no reply capability", item.MessageID)
	}
	if err := item.Replier.Reply(ctx, Message(defects)); err != nil {
		return errors.Wrapf(err, "reply to message %s", item.MessageID)
	}
	n.log.Info("sent modification points", zap.String("message_id", item.MessageID), zap.String("sender", item.Sender))
	return nil
}
