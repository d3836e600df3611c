package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"text/template"
	"time"
)

// Mailer sends a rendered plain-text message.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

var inviteTemplate = template.Must(template.New("invite").Parse(
	`Hi,

{{.InviterName}} invited you to join the family "{{.FamilyName}}" on Money Manager.
Sharing a family lets you see each other's transactions.

Sign in with this address to accept or decline:
{{.AppURL}}

If you were not expecting this invitation you can ignore this email.
`))

// RenderInvite produces the subject and body of an invitation mail.
func RenderInvite(inv Invitation) (subject, body string, err error) {
	if strings.TrimSpace(inv.Recipient) == "" {
		return "", "", errors.New("invitation has no recipient")
	}
	if inv.InviterName == "" {
		inv.InviterName = "Someone"
	}
	var buf bytes.Buffer
	if err := inviteTemplate.Execute(&buf, inv); err != nil {
		return "", "", fmt.Errorf("render invite: %w", err)
	}
	return fmt.Sprintf("%s invited you to %s", inv.InviterName, inv.FamilyName), buf.String(), nil
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPMailer delivers through an SMTP relay.
type SMTPMailer struct {
	addr string
	host string
	from string
	auth smtp.Auth
	send sendFunc
	now  func() time.Time
}

var _ Mailer = (*SMTPMailer)(nil)

// NewSMTPMailer uses PLAIN auth when username is set.
func NewSMTPMailer(host string, port int, username, password, from string) *SMTPMailer {
	m := &SMTPMailer{
		addr: net.JoinHostPort(host, strconv.Itoa(port)),
		host: host,
		from: from,
		send: smtp.SendMail,
		now:  time.Now,
	}
	if username != "" {
		m.auth = smtp.PlainAuth("", username, password, host)
	}
	return m
}

func (m *SMTPMailer) Send(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.ContainsAny(to, "\r\n") {
		return errors.New("invalid recipient")
	}

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\n", m.from)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&msg, "Date: %s\r\n", m.now().Format(time.RFC1123Z))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	msg.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))

	if err := m.send(m.addr, m.auth, m.from, []string{to}, msg.Bytes()); err != nil {
		return fmt.Errorf("smtp send to %s: %w", m.addr, err)
	}
	return nil
}
