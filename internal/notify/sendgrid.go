package notify

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"

	"invoicewatch/internal"
	"invoicewatch/internal/config"
	"invoicewatch/internal/connectors"
)

type mailClient interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

// SendGrid delivers replies for item sources that cannot send mail themselves.
type SendGrid struct {
	client   mailClient
	fromName string
	fromAddr string
	log      *zap.Logger
}

func NewSendGrid(cfg config.Config, log *zap.Logger) (*SendGrid, error) {
	if err := cfg.Require("SENDGRID_API_KEY", cfg.SendGridAPIKey); err != nil {
		return nil, err
	}
	if err := cfg.Require("SENDGRID_FROM_ADDRESS", cfg.SendGridFromAddress); err != nil {
		return nil, err
	}
	return &SendGrid{
		client:   sendgrid.NewSendClient(cfg.SendGridAPIKey),
		fromName: cfg.SendGridFromName,
		fromAddr: cfg.SendGridFromAddress,
		log:      log.Named("sendgrid"),
	}, nil
}

// Replier returns the reply capability for one message.
func (s *SendGrid) Replier(target connectors.ReplyTarget) internal.Replier {
	return &sendGridReplier{sender: s, target: target}
}

type sendGridReplier struct {
	sender *SendGrid
	target connectors.ReplyTarget
}

func (r *sendGridReplier) Reply(ctx context.Context, body string) error {
	s := r.sender
	from := mail.NewEmail(s.fromName, s.fromAddr)
	to := mail.NewEmail("", r.target.To)
	p := mail.NewPersonalization()
	p.AddTos(to)
	message := mail.NewV3Mail().
		SetFrom(from).
		AddPersonalizations(p).
		AddContent(mail.NewContent("text/plain", body))
	message.Subject = connectors.ReplySubject(r.target.Subject)
	if v := strings.TrimSpace(r.target.InReplyTo); v != "" {
		message.SetHeader("In-Reply-To", v)
	}
	if v := strings.TrimSpace(r.target.References); v != "" {
		message.SetHeader("References", v)
	}

	response, err := s.client.SendWithContext(ctx, message)
	if err != nil {
		return errors.Wrap(err, "sendgrid send")
	}
	if response.StatusCode >= 300 {
		s.log.Error("sendgrid rejected message",
			zap.Int("status_code", response.StatusCode),
			zap.String("response_body", response.Body))
		return errors.Newf("sendgrid responded with status %d", response.StatusCode)
	}
	return nil
}
