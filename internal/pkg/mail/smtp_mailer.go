package mail

import (
	"context"
	"fmt"
	"net/smtp"
	"sync"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/billingsync/internal/pkg/env"
)

// Mailer delivers a single HTML message.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// SMTPMailer sends emails via SMTP
type SMTPMailer struct {
	Host     string
	Port     string
	Username string
	Password string
	Sender   string

	// sendMail is smtp.SendMail, swapped in tests.
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPMailerFromEnv reads the SMTP_* settings.
func NewSMTPMailerFromEnv() *SMTPMailer {
	m := &SMTPMailer{
		Host:     env.GetEnv("SMTP_HOST", ""),
		Port:     env.GetEnv("SMTP_PORT", "25"),
		Username: env.GetEnv("SMTP_USERNAME", ""),
		Password: env.GetEnv("SMTP_PASSWORD", ""),
		Sender:   env.GetEnv("SMTP_SENDER", ""),
	}
	if m.Sender == "" {
		m.Sender = "no-reply@localhost"
		log.Warnf("[Mail] SMTP_SENDER not set, using default sender: %s", m.Sender)
	}
	return m
}

// Configured reports whether a host is set. Without one Send is a no-op.
func (m *SMTPMailer) Configured() bool {
	return m.Host != ""
}

func (m *SMTPMailer) Send(ctx context.Context, to, subject, body string) error {
	if !m.Configured() {
		log.Debugf("[Mail] SMTP not configured, dropping mail to %s: %s", to, subject)
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var auth smtp.Auth
	if m.Username != "" && m.Password != "" {
		auth = smtp.PlainAuth("", m.Username, m.Password, m.Host)
	}

	addr := fmt.Sprintf("%s:%s", m.Host, m.Port)
	msg := []byte(
		fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n", m.Sender, to, subject) +
			"MIME-Version: 1.0\r\n" +
			"Content-Type: text/html; charset=UTF-8\r\n\r\n" +
			body,
	)

	send := m.sendMail
	if send == nil {
		send = smtp.SendMail
	}
	if err := send(addr, auth, m.Sender, []string{to}, msg); err != nil {
		log.Errorf("[Mail] SMTP send error: %v", err)
		return fmt.Errorf("send mail to %s: %w", to, err)
	}
	log.Infof("[Mail] Email sent to %s via %s", to, addr)
	return nil
}

// Message is one mail captured by RecordingMailer.
type Message struct {
	To      string
	Subject string
	Body    string
}

// RecordingMailer keeps messages in memory.
type RecordingMailer struct {
	Err error

	mu       sync.Mutex
	Messages []Message
}

func (m *RecordingMailer) Send(ctx context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Messages = append(m.Messages, Message{To: to, Subject: subject, Body: body})
	return nil
}
