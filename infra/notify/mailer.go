// Package notify delivers engine events as HTML emails. Delivery is
// fire-and-forget: a failed send is logged and never affects schedule
// state.
package notify

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"mime/multipart"
	"net/smtp"
	"net/textproto"
	"strings"

	"github.com/kmoreau/plugsched/infra/logger"
)

// Config holds the SMTP delivery settings.
type Config struct {
	Enabled  bool     `json:"enabled"`
	Host     string   `json:"host"`
	Port     int      `json:"port"`
	Username string   `json:"username"`
	Password string   `json:"password"`
	From     string   `json:"from"`
	To       []string `json:"to"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.Port == 0 {
		c.Port = 25
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Host == "" {
		return fmt.Errorf("smtp host is required")
	}
	if c.From == "" || len(c.To) == 0 {
		return fmt.Errorf("smtp from and to addresses are required")
	}
	return nil
}

// Attachment is a file shipped alongside the HTML body.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// sendFunc matches smtp.SendMail, swappable in tests.
type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Mailer sends multipart HTML emails over plain SMTP.
type Mailer struct {
	cfg  Config
	send sendFunc
	log  logger.Logger
}

// NewMailer builds a mailer from the configuration.
func NewMailer(cfg Config) (*Mailer, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Mailer{cfg: cfg, send: smtp.SendMail, log: logger.New("mailer")}, nil
}

// Send delivers an HTML email with optional attachments. Disabled mailers
// drop the message silently.
func (m *Mailer) Send(subject, htmlBody string, attachments ...Attachment) error {
	if !m.cfg.Enabled {
		return nil
	}
	msg, err := m.build(subject, htmlBody, attachments)
	if err != nil {
		return err
	}
	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}
	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)
	if err := m.send(addr, auth, m.cfg.From, m.cfg.To, msg); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

func (m *Mailer) build(subject, htmlBody string, attachments []Attachment) ([]byte, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fmt.Fprintf(&buf, "From: %s\r\n", m.cfg.From)
	fmt.Fprintf(&buf, "To: %s\r\n", strings.Join(m.cfg.To, ", "))
	fmt.Fprintf(&buf, "Subject: %s\r\n", subject)
	fmt.Fprintf(&buf, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/related; boundary=%s\r\n\r\n", w.Boundary())

	part, err := w.CreatePart(textproto.MIMEHeader{
		"Content-Type": {"text/html; charset=utf-8"},
	})
	if err != nil {
		return nil, err
	}
	body := fmt.Sprintf("<!DOCTYPE html>\n<html>\n<body>\n%s\n</body>\n</html>", htmlBody)
	if _, err := part.Write([]byte(body)); err != nil {
		return nil, err
	}

	for _, a := range attachments {
		part, err := w.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {a.ContentType},
			"Content-Transfer-Encoding": {"base64"},
			"Content-Disposition":       {fmt.Sprintf("attachment; filename=%q", a.Filename)},
		})
		if err != nil {
			return nil, err
		}
		encoded := base64.StdEncoding.EncodeToString(a.Data)
		if _, err := part.Write([]byte(encoded)); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
