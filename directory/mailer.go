package directory

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"municonsole_back/config"
)

// Mailer delivers invitation links.
type Mailer interface {
	SendInvitation(ctx context.Context, invitation *Invitation, link string) error
}

// smtpMailer 封装 SMTP 参数以发送邀请邮件。
type smtpMailer struct {
	host     string
	port     int
	username string
	password string
	from     string
}

// NewSMTPMailer returns nil when SMTP is not configured.
func NewSMTPMailer(cfg config.SMTPConfig) Mailer {
	if !cfg.Enabled() {
		return nil
	}
	port := cfg.Port
	if port <= 0 {
		port = 587
	}
	return &smtpMailer{
		host:     cfg.Host,
		port:     port,
		username: cfg.Username,
		password: cfg.Password,
		from:     sanitizeMailHeader(cfg.From),
	}
}

// SendInvitation 发送包含接受链接的邀请邮件。
func (m *smtpMailer) SendInvitation(ctx context.Context, invitation *Invitation, link string) error {
	if m == nil {
		return errors.New("directory: mailer not configured")
	}
	if invitation == nil {
		return errors.New("directory: invitation is required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	recipient := sanitizeMailHeader(invitation.Email)
	now := time.Now().UTC()

	var body strings.Builder
	body.WriteString("You have been invited to join a municipality on the console.\r\n\r\n")
	body.WriteString(fmt.Sprintf("Role: %s\r\n", sanitizeMailHeader(invitation.Role)))
	body.WriteString(fmt.Sprintf("Accept the invitation: %s\r\n", link))
	body.WriteString(fmt.Sprintf("This link expires at %s (UTC).\r\n", invitation.ExpiresAt.UTC().Format(time.RFC1123)))

	headers := []string{
		fmt.Sprintf("From: %s", m.from),
		fmt.Sprintf("To: %s", recipient),
		fmt.Sprintf("Subject: %s", encodeMailSubject("You're invited")),
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=UTF-8",
		"Content-Transfer-Encoding: 8bit",
		fmt.Sprintf("Date: %s", now.Format(time.RFC1123Z)),
	}

	var message strings.Builder
	for _, header := range headers {
		message.WriteString(header)
		message.WriteString("\r\n")
	}
	message.WriteString("\r\n")
	message.WriteString(body.String())

	var auth smtp.Auth
	if m.username != "" {
		auth = smtp.PlainAuth("", m.username, m.password, m.host)
	}
	address := fmt.Sprintf("%s:%d", m.host, m.port)
	return smtp.SendMail(address, auth, m.from, []string{recipient}, []byte(message.String()))
}

// encodeMailSubject 以 RFC 2047 对非 ASCII 主题编码。
func encodeMailSubject(subject string) string {
	for i := 0; i < len(subject); i++ {
		if subject[i] >= 0x80 {
			return fmt.Sprintf("=?UTF-8?B?%s?=", base64.StdEncoding.EncodeToString([]byte(subject)))
		}
	}
	return subject
}

// sanitizeMailHeader 清洗邮件头字段避免注入。
func sanitizeMailHeader(value string) string {
	trimmed := strings.TrimSpace(value)
	trimmed = strings.ReplaceAll(trimmed, "\r", " ")
	trimmed = strings.ReplaceAll(trimmed, "\n", " ")
	return trimmed
}
