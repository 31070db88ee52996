package transport

import (
	"bytes"
	"fmt"
	"mime"
	"mime/quotedprintable"
	"net/mail"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/campaign-mailer/internal/domain"
)

// buildMIME renders msg as an RFC 5322 message with a quoted-printable
// HTML body. It returns the message and its Message-ID.
func buildMIME(msg *domain.EmailMessage, domainPart string, now time.Time) ([]byte, string, error) {
	if domainPart == "" {
		domainPart = "localhost"
	}
	messageID := fmt.Sprintf("%s@%s", uuid.New().String(), domainPart)

	from := mail.Address{Name: msg.FromName, Address: msg.FromEmail}
	to := mail.Address{Name: msg.ToName, Address: msg.To}

	var buf bytes.Buffer
	writeHeader(&buf, "From", from.String())
	writeHeader(&buf, "To", to.String())
	writeHeader(&buf, "Subject", mime.QEncoding.Encode("utf-8", msg.Subject))
	writeHeader(&buf, "Date", now.Format(time.RFC1123Z))
	writeHeader(&buf, "Message-ID", "<"+messageID+">")
	writeHeader(&buf, "MIME-Version", "1.0")
	if msg.CampaignID != "" {
		writeHeader(&buf, "X-Campaign-ID", msg.CampaignID)
	}
	if msg.RecipientID != "" {
		writeHeader(&buf, "X-Recipient-ID", msg.RecipientID)
	}

	keys := make([]string, 0, len(msg.Headers))
	for k := range msg.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		writeHeader(&buf, k, msg.Headers[k])
	}

	writeHeader(&buf, "Content-Type", "text/html; charset=UTF-8")
	writeHeader(&buf, "Content-Transfer-Encoding", "quoted-printable")
	buf.WriteString("\r\n")

	qp := quotedprintable.NewWriter(&buf)
	if _, err := qp.Write([]byte(msg.HTML)); err != nil {
		return nil, "", fmt.Errorf("encode body: %w", err)
	}
	if err := qp.Close(); err != nil {
		return nil, "", fmt.Errorf("encode body: %w", err)
	}
	buf.WriteString("\r\n")
	return buf.Bytes(), messageID, nil
}

func writeHeader(buf *bytes.Buffer, key, value string) {
	// header injection guard
	value = strings.NewReplacer("\r", "", "\n", "").Replace(value)
	buf.WriteString(key)
	buf.WriteString(": ")
	buf.WriteString(value)
	buf.WriteString("\r\n")
}

func senderDomain(email string) string {
	if i := strings.LastIndex(email, "@"); i >= 0 {
		return email[i+1:]
	}
	return ""
}
