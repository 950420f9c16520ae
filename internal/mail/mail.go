// Package mail delivers rendered reports.
package mail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"mime/quotedprintable"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNoRecipients is returned when a message has nobody to go to.
var ErrNoRecipients = errors.New("no recipients")

// Message is a single email.
type Message struct {
	From    string
	To      []string
	Subject string
	Body    string
	// Headers are extra "Name: value" lines, e.g. the content type.
	Headers []string
}

// Sender delivers messages. A nil error means the message was accepted
// for delivery.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, msg Message) error

// Send calls f.
func (f SenderFunc) Send(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}

// Compose encodes msg as an RFC 5322 message with a quoted-printable body.
func Compose(msg Message, now time.Time) ([]byte, error) {
	if len(msg.To) == 0 {
		return nil, ErrNoRecipients
	}

	var buf bytes.Buffer
	writeHeader := func(name, value string) {
		buf.WriteString(name)
		buf.WriteString(": ")
		buf.WriteString(value)
		buf.WriteString("\r\n")
	}

	if msg.From != "" {
		writeHeader("From", msg.From)
	}
	writeHeader("To", strings.Join(msg.To, ", "))
	writeHeader("Subject", mime.QEncoding.Encode("utf-8", msg.Subject))
	writeHeader("Date", now.Format(time.RFC1123Z))
	writeHeader("Message-ID", "<"+uuid.NewString()+"@"+messageIDHost(msg.From)+">")
	writeHeader("MIME-Version", "1.0")

	hasContentType := false
	for _, h := range msg.Headers {
		name, value, ok := strings.Cut(h, ":")
		if !ok {
			return nil, fmt.Errorf("malformed header %q", h)
		}
		name = strings.TrimSpace(name)
		if strings.EqualFold(name, "Content-Type") {
			hasContentType = true
		}
		if strings.EqualFold(name, "Content-Transfer-Encoding") {
			continue
		}
		writeHeader(name, strings.TrimSpace(value))
	}
	if !hasContentType {
		writeHeader("Content-Type", "text/plain; charset=UTF-8")
	}
	writeHeader("Content-Transfer-Encoding", "quoted-printable")
	buf.WriteString("\r\n")

	qp := quotedprintable.NewWriter(&buf)
	if _, err := qp.Write([]byte(msg.Body)); err != nil {
		return nil, fmt.Errorf("encoding body: %w", err)
	}
	if err := qp.Close(); err != nil {
		return nil, fmt.Errorf("encoding body: %w", err)
	}
	buf.WriteString("\r\n")

	return buf.Bytes(), nil
}

func messageIDHost(from string) string {
	if i := strings.LastIndexByte(from, '@'); i >= 0 {
		return strings.TrimRight(from[i+1:], ">")
	}
	return "localhost"
}
