package providers

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"mime"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/google/uuid"

	"github.com/nimasrn/school-notify/internal/model"
)

// SMTP relays through the school's configured mail server. A connection is
// opened per message.
type SMTP struct {
	cfg       *model.ProviderConfig
	hostname  string
	tlsConfig *tls.Config
}

func NewSMTP(cfg *model.ProviderConfig) *SMTP {
	return &SMTP{
		cfg:       cfg,
		hostname:  "localhost",
		tlsConfig: &tls.Config{ServerName: cfg.Host, MinVersion: tls.VersionTLS12},
	}
}

func (p *SMTP) Kind() model.ProviderKind { return model.ProviderSMTP }
func (p *SMTP) Channel() model.Channel   { return model.ChannelEmail }

func (p *SMTP) Send(ctx context.Context, msg *Message) (*Result, error) {
	if !looksLikeEmail(msg.To) {
		return nil, Permanent("invalid_address", "invalid email address %q", msg.To)
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout())
	defer cancel()

	client, err := p.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	if err := client.Hello(p.hostname); err != nil {
		return nil, categorizeSMTP(err, "EHLO")
	}

	if p.cfg.Username != "" {
		auth := sasl.NewPlainClient("", p.cfg.Username, p.cfg.Password)
		if err := client.Auth(auth); err != nil {
			return nil, categorizeSMTP(err, "AUTH")
		}
	}

	if err := client.Mail(p.cfg.FromAddress, nil); err != nil {
		return nil, categorizeSMTP(err, "MAIL FROM")
	}
	if err := client.Rcpt(msg.To, nil); err != nil {
		return nil, categorizeSMTP(err, "RCPT TO")
	}

	messageID := fmt.Sprintf("%s@%s", uuid.NewString(), senderDomain(p.cfg.FromAddress))
	wc, err := client.Data()
	if err != nil {
		return nil, categorizeSMTP(err, "DATA")
	}
	if _, err := wc.Write(p.buildMessage(msg, messageID)); err != nil {
		_ = wc.Close()
		return nil, classifyTransport(err)
	}
	if err := wc.Close(); err != nil {
		return nil, categorizeSMTP(err, "DATA close")
	}

	_ = client.Quit()
	return sent(messageID), nil
}

func (p *SMTP) dial(ctx context.Context) (*smtp.Client, error) {
	addr := net.JoinHostPort(p.cfg.Host, strconv.Itoa(p.cfg.Port))
	dialer := &net.Dialer{Timeout: p.cfg.Timeout()}

	var (
		conn net.Conn
		err  error
	)
	if p.cfg.Port == 465 {
		tlsDialer := &tls.Dialer{NetDialer: dialer, Config: p.tlsConfig}
		conn, err = tlsDialer.DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		if isTimeout(err) {
			return nil, ErrTimeout
		}
		return nil, Transient("connect", "connection failed to %s: %v", addr, err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	// Port 465 is implicit TLS. Elsewhere UseTLS means STARTTLS is required.
	if p.cfg.Port == 465 || !p.cfg.UseTLS {
		return smtp.NewClient(conn), nil
	}
	client, err := smtp.NewClientStartTLS(conn, p.tlsConfig)
	if err != nil {
		if strings.Contains(err.Error(), "doesn't support STARTTLS") {
			return nil, Permanent("tls_unavailable", "server %s does not offer STARTTLS", p.cfg.Host)
		}
		return nil, categorizeSMTP(err, "STARTTLS")
	}
	return client, nil
}

func (p *SMTP) buildMessage(msg *Message, messageID string) []byte {
	var b bytes.Buffer
	header := func(k, v string) {
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(v)
		b.WriteString("\r\n")
	}

	from := p.cfg.FromAddress
	if p.cfg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", mime.QEncoding.Encode("utf-8", p.cfg.FromName), p.cfg.FromAddress)
	}
	to := msg.To
	if msg.ToName != "" {
		to = fmt.Sprintf("%s <%s>", mime.QEncoding.Encode("utf-8", msg.ToName), msg.To)
	}

	header("From", from)
	header("To", to)
	header("Subject", mime.QEncoding.Encode("utf-8", msg.Subject))
	header("Date", time.Now().Format(time.RFC1123Z))
	header("Message-ID", "<"+messageID+">")
	header("MIME-Version", "1.0")
	header("Content-Type", contentType(msg.Body)+"; charset=utf-8")
	header("Content-Transfer-Encoding", "8bit")
	b.WriteString("\r\n")

	body := strings.ReplaceAll(msg.Body, "\r\n", "\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	b.WriteString("\r\n")
	return b.Bytes()
}

// categorizeSMTP treats 5xx replies as permanent and everything else,
// including dropped connections, as transient.
func categorizeSMTP(err error, stage string) *DeliveryError {
	var se *smtp.SMTPError
	if errors.As(err, &se) {
		code := fmt.Sprintf("smtp_%d", se.Code)
		if se.Code >= 500 {
			return Permanent(code, "%s failed: %d %s", stage, se.Code, se.Message)
		}
		return Transient(code, "%s failed: %d %s", stage, se.Code, se.Message)
	}
	if isTimeout(err) {
		return ErrTimeout
	}
	return Transient("smtp", "%s failed: %v", stage, err)
}

func senderDomain(addr string) string {
	if i := strings.LastIndexByte(addr, '@'); i >= 0 && i < len(addr)-1 {
		return addr[i+1:]
	}
	return "localhost"
}
