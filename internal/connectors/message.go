package connectors

import (
	"bytes"
	"mime"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/jhillyerd/enmime"
	pdf "github.com/ledongthuc/pdf"

	"invoicewatch/internal"
)

// ParsedMessage is the part of a raw RFC 822 message the pipeline needs.
type ParsedMessage struct {
	MessageIDHeader string
	From            string
	FromAddress     string
	Subject         string
	References      string
	Payloads        []internal.Payload
}

// ParseMessage reads raw and keeps the attachments that are PDF documents.
func ParseMessage(raw []byte) (ParsedMessage, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return ParsedMessage{}, errors.Wrap(err, "parse message")
	}

	msg := ParsedMessage{
		MessageIDHeader: strings.TrimSpace(env.GetHeader("Message-ID")),
		From:            env.GetHeader("From"),
		Subject:         env.GetHeader("Subject"),
		References:      env.GetHeader("References"),
	}
	if addrs, err := env.AddressList("From"); err == nil && len(addrs) > 0 {
		msg.FromAddress = addrs[0].Address
	}

	parts := append([]*enmime.Part{}, env.Attachments...)
	parts = append(parts, env.Inlines...)
	for _, att := range parts {
		payload, ok := eligiblePayload(att.FileName, att.ContentType, att.Content)
		if ok {
			msg.Payloads = append(msg.Payloads, payload)
		}
	}
	return msg, nil
}

// eligiblePayload accepts declared PDFs, and generic binary parts named *.pdf that
// open as a PDF document.
func eligiblePayload(name, contentType string, data []byte) (internal.Payload, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = "attachment.pdf"
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(contentType))
	}

	switch {
	case mediaType == internal.MediaTypePDF:
	case (mediaType == "application/octet-stream" || mediaType == "binary/octet-stream") &&
		strings.HasSuffix(strings.ToLower(name), ".pdf"):
	default:
		return internal.Payload{}, false
	}
	if len(data) == 0 {
		return internal.Payload{}, false
	}

	pages, err := countPages(data)
	if err != nil && mediaType != internal.MediaTypePDF {
		return internal.Payload{}, false
	}
	return internal.Payload{Name: name, MediaType: internal.MediaTypePDF, Data: data, Pages: pages}, true
}

func countPages(data []byte) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			n, err = 0, errors.Newf("malformed pdf: %v", r)
		}
	}()
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0, err
	}
	return reader.NumPage(), nil
}
