package service

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"strings"
	"time"

	"github.com/keyrelay/internal/config"
	"github.com/keyrelay/internal/logger"

	"github.com/google/uuid"
)

const defaultSMTPTimeout = 15 * time.Second

// EmailService 告警邮件发送服务
type EmailService struct {
	cfg *config.EmailConfig
	now func() time.Time
}

// NewEmailService 创建邮件服务
func NewEmailService(cfg *config.EmailConfig) *EmailService {
	return &EmailService{cfg: cfg, now: time.Now}
}

// SetConfig 更新运行时邮件配置
func (s *EmailService) SetConfig(cfg *config.EmailConfig) {
	if cfg == nil {
		return
	}
	s.cfg = cfg
}

// Enabled 是否已启用并完成配置
func (s *EmailService) Enabled() bool {
	return s.check() == nil
}

func (s *EmailService) check() error {
	if s == nil || s.cfg == nil || !s.cfg.Enabled {
		return ErrEmailServiceDisabled
	}
	if strings.TrimSpace(s.cfg.Host) == "" || s.cfg.Port == 0 || strings.TrimSpace(s.cfg.From) == "" {
		return ErrEmailServiceNotConfigured
	}
	return nil
}

// SendTextEmail 向多个收件人发送纯文本邮件
// 部分收件人被拒收时仍投递给其余收件人，全部被拒返回 ErrEmailRecipientRejected
func (s *EmailService) SendTextEmail(ctx context.Context, recipients []string, subject, body string) error {
	if err := s.check(); err != nil {
		return err
	}
	to, err := normalizeRecipients(recipients)
	if err != nil {
		return err
	}

	cfg := s.cfg
	deadline := s.now().Add(defaultSMTPTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn, err := dialSMTP(ctx, net.JoinHostPort(cfg.Host, fmt.Sprint(cfg.Port)), cfg.Host, cfg.UseSSL)
	if err != nil {
		return fmt.Errorf("dial smtp: %w", err)
	}
	_ = conn.SetDeadline(deadline)

	client, err := smtp.NewClient(conn, cfg.Host)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer client.Close()

	if !cfg.UseSSL && cfg.UseTLS {
		if err := client.StartTLS(&tls.Config{ServerName: cfg.Host}); err != nil {
			return fmt.Errorf("smtp starttls: %w", err)
		}
	}
	if cfg.Username != "" || cfg.Password != "" {
		if ok, _ := client.Extension("AUTH"); ok {
			if err := client.Auth(smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)); err != nil {
				return fmt.Errorf("smtp auth: %w", err)
			}
		}
	}

	msg := buildEmailMessage(emailHeaders{
		From:      buildFromAddress(cfg.From, cfg.FromName),
		To:        to,
		Subject:   subject,
		Date:      s.now(),
		MessageID: buildMessageID(cfg.From),
	}, body)
	return deliver(client, cfg.From, to, msg)
}

func normalizeRecipients(recipients []string) ([]string, error) {
	to := make([]string, 0, len(recipients))
	seen := make(map[string]struct{}, len(recipients))
	for _, recipient := range recipients {
		recipient = strings.TrimSpace(recipient)
		if recipient == "" {
			continue
		}
		addr, err := mail.ParseAddress(recipient)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrInvalidEmail, recipient)
		}
		key := strings.ToLower(addr.Address)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		to = append(to, addr.Address)
	}
	if len(to) == 0 {
		return nil, ErrInvalidEmail
	}
	return to, nil
}

func dialSMTP(ctx context.Context, addr, host string, useSSL bool) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: defaultSMTPTimeout}
	if useSSL {
		tlsDialer := &tls.Dialer{NetDialer: dialer, Config: &tls.Config{ServerName: host}}
		return tlsDialer.DialContext(ctx, "tcp", addr)
	}
	return dialer.DialContext(ctx, "tcp", addr)
}

// deliver 逐个 RCPT，拒收的收件人记录后跳过
func deliver(client *smtp.Client, from string, to []string, msg []byte) error {
	if err := client.Mail(from); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	accepted := 0
	for _, rcpt := range to {
		err := client.Rcpt(rcpt)
		if err == nil {
			accepted++
			continue
		}
		if !isEmailRecipientRejected(err) {
			return fmt.Errorf("smtp rcpt %s: %w", rcpt, err)
		}
		logger.Warnw("email_recipient_rejected", "recipient", rcpt, "error", err)
	}
	if accepted == 0 {
		_ = client.Reset()
		return ErrEmailRecipientRejected
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		_ = w.Close()
		return fmt.Errorf("smtp write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp finish body: %w", err)
	}
	return client.Quit()
}

// isEmailRecipientRejected 判断是否为收件人被拒（5xx 永久错误或 5.1.x 增强码）
func isEmailRecipientRejected(err error) bool {
	if err == nil {
		return false
	}
	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		switch protoErr.Code {
		case 550, 551, 553:
			return true
		}
		return strings.HasPrefix(strings.TrimSpace(protoErr.Msg), "5.1.")
	}
	message := strings.ToLower(err.Error())
	for _, keyword := range []string{
		"no such recipient",
		"no such user",
		"recipient address rejected",
		"user unknown",
		"mailbox unavailable",
	} {
		if strings.Contains(message, keyword) {
			return true
		}
	}
	return false
}

type emailHeaders struct {
	From      string
	To        []string
	Subject   string
	Date      time.Time
	MessageID string
}

func buildFromAddress(from, name string) string {
	if strings.TrimSpace(name) == "" {
		return from
	}
	return (&mail.Address{Name: name, Address: from}).String()
}

func buildMessageID(from string) string {
	domain := "localhost"
	if at := strings.LastIndex(from, "@"); at >= 0 && at < len(from)-1 {
		domain = from[at+1:]
	}
	return fmt.Sprintf("<%s@%s>", uuid.NewString(), domain)
}

func buildEmailMessage(h emailHeaders, body string) []byte {
	var b strings.Builder
	writeHeader := func(name, value string) {
		b.WriteString(name)
		b.WriteString(": ")
		b.WriteString(value)
		b.WriteString("\r\n")
	}
	writeHeader("From", h.From)
	writeHeader("To", strings.Join(h.To, ", "))
	writeHeader("Subject", mime.QEncoding.Encode("UTF-8", h.Subject))
	if !h.Date.IsZero() {
		writeHeader("Date", h.Date.Format(time.RFC1123Z))
	}
	if h.MessageID != "" {
		writeHeader("Message-ID", h.MessageID)
	}
	writeHeader("MIME-Version", "1.0")
	writeHeader("Content-Type", "text/plain; charset=UTF-8")
	writeHeader("Content-Transfer-Encoding", "8bit")
	b.WriteString("\r\n")
	body = strings.ReplaceAll(body, "\r\n", "\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return []byte(b.String())
}
