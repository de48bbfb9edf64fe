// Package testmail builds raw messages and PDF documents for connector tests.
package testmail

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/jhillyerd/enmime"
)

type Attachment struct {
	Name        string
	ContentType string
	Data        []byte
}

type Message struct {
	MessageID   string
	From        string
	Subject     string
	References  string
	Attachments []Attachment
}

// Raw renders m as an RFC 822 message with m's attachments.
func (m Message) Raw() []byte {
	builder := enmime.Builder().
		From("", m.From).
		To("", "invoices@example.com").
		Subject(m.Subject).
		Date(time.Date(2006, time.January, 2, 15, 4, 5, 0, time.UTC)).
		Text([]byte("Please find the invoice attached.\r\n"))
	if m.MessageID != "" {
		builder = builder.Header("Message-ID", m.MessageID)
	}
	if m.References != "" {
		builder = builder.Header("References", m.References)
	}
	for _, att := range m.Attachments {
		builder = builder.AddAttachment(att.Data, att.ContentType, att.Name)
	}

	part, err := builder.Build()
	if err != nil {
		panic(fmt.Sprintf("testmail: build message: %v", err))
	}
	var b bytes.Buffer
	if err := part.Encode(&b); err != nil {
		panic(fmt.Sprintf("testmail: encode message: %v", err))
	}
	return b.Bytes()
}

// PDF returns a minimal well-formed PDF document with the given number of blank pages.
func PDF(pages int) []byte {
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
	}
	kids := make([]string, 0, pages)
	for i := 0; i < pages; i++ {
		kids = append(kids, fmt.Sprintf("%d 0 R", i+3))
	}
	objects = append(objects, fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), pages))
	for i := 0; i < pages; i++ {
		objects = append(objects, "<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] >>")
	}

	var b bytes.Buffer
	b.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = b.Len()
		fmt.Fprintf(&b, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := b.Len()
	fmt.Fprintf(&b, "xref\n0 %d\n", len(objects)+1)
	b.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&b, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&b, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return b.Bytes()
}
