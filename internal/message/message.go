// Package message composes outbound messages and encodes them as MIME.
package message

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

// ErrNoRecipient is returned when a record carries no delivery address
var ErrNoRecipient = errors.New("recipient has no email address")

// Addressed is anything that can supply a delivery address
type Addressed interface {
	Email() (string, bool)
}

// Message is one rendered outbound email
type Message struct {
	From        string
	To          string
	Subject     string
	HTML        string
	Attachments []Attachment
	MessageID   string
	Date        time.Time
}

// Attachment is a file carried as a binary part
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// Build composes a message for recipient. Attachments that cannot be read
// are logged and skipped.
func Build(from string, recipient Addressed, subject, body string, attachments []string, logger *log.Logger) (*Message, error) {
	to, ok := recipient.Email()
	if !ok {
		return nil, ErrNoRecipient
	}

	msg := &Message{
		From:      from,
		To:        to,
		Subject:   subject,
		HTML:      body,
		MessageID: messageID(from),
		Date:      time.Now(),
	}

	for _, path := range attachments {
		att, err := ReadAttachment(path)
		if err != nil {
			if logger != nil {
				logger.Error("Error attaching file", "file", path, "err", err)
			}
			continue
		}
		msg.Attachments = append(msg.Attachments, att)
	}

	return msg, nil
}

// ReadAttachment loads a file and derives its content type from the extension
func ReadAttachment(path string) (Attachment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Attachment{}, fmt.Errorf("failed to read attachment: %w", err)
	}

	name := filepath.Base(path)
	contentType := mime.TypeByExtension(filepath.Ext(name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	return Attachment{
		Filename:    name,
		ContentType: contentType,
		Content:     data,
	}, nil
}

func messageID(from string) string {
	domain := "localhost"
	if i := strings.LastIndex(from, "@"); i >= 0 && i < len(from)-1 {
		domain = from[i+1:]
	}
	return fmt.Sprintf("<%s@%s>", uuid.NewString(), domain)
}

// Bytes encodes the message as multipart/mixed MIME with an HTML part
// followed by the attachments.
func (m *Message) Bytes() ([]byte, error) {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "From: %s\r\n", m.From)
	fmt.Fprintf(&buf, "To: %s\r\n", m.To)
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", m.Subject))
	if !m.Date.IsZero() {
		fmt.Fprintf(&buf, "Date: %s\r\n", m.Date.Format(time.RFC1123Z))
	}
	if m.MessageID != "" {
		fmt.Fprintf(&buf, "Message-ID: %s\r\n", m.MessageID)
	}
	buf.WriteString("MIME-Version: 1.0\r\n")

	writer := multipart.NewWriter(&buf)
	fmt.Fprintf(&buf, "Content-Type: multipart/mixed; boundary=%q\r\n\r\n", writer.Boundary())

	bodyHeader := make(textproto.MIMEHeader)
	bodyHeader.Set("Content-Type", `text/html; charset="utf-8"`)
	bodyHeader.Set("Content-Transfer-Encoding", "quoted-printable")
	part, err := writer.CreatePart(bodyHeader)
	if err != nil {
		return nil, fmt.Errorf("failed to create body part: %w", err)
	}
	qp := quotedprintable.NewWriter(part)
	if _, err := qp.Write([]byte(m.HTML)); err != nil {
		return nil, fmt.Errorf("failed to encode body: %w", err)
	}
	if err := qp.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode body: %w", err)
	}

	for _, att := range m.Attachments {
		mediaType, params, err := mime.ParseMediaType(att.ContentType)
		if err != nil {
			mediaType, params = "application/octet-stream", map[string]string{}
		}
		params["name"] = att.Filename

		attHeader := make(textproto.MIMEHeader)
		attHeader.Set("Content-Type", mime.FormatMediaType(mediaType, params))
		attHeader.Set("Content-Transfer-Encoding", "base64")
		attHeader.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": att.Filename}))

		part, err := writer.CreatePart(attHeader)
		if err != nil {
			return nil, fmt.Errorf("failed to create attachment part: %w", err)
		}
		if _, err := part.Write([]byte(encodeBase64WithLineBreaks(att.Content))); err != nil {
			return nil, fmt.Errorf("failed to write attachment: %w", err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart body: %w", err)
	}
	return buf.Bytes(), nil
}

// encodeBase64WithLineBreaks encodes bytes to base64 with 76-character lines per RFC 2045.
func encodeBase64WithLineBreaks(data []byte) string {
	encoded := base64.StdEncoding.EncodeToString(data)
	var lines []string
	for i := 0; i < len(encoded); i += 76 {
		end := min(i+76, len(encoded))
		lines = append(lines, encoded[i:end])
	}
	return strings.Join(lines, "\r\n")
}
