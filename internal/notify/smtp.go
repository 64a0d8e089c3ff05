package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net"
	"net/smtp"
	"net/textproto"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"cdr-analytics/internal/config"
	"cdr-analytics/internal/models"
)

// SMTPChannel sends each message over its own SMTP connection, so
// concurrent batches never wait on each other. Only the rate limiter is
// shared.
type SMTPChannel struct {
	cfg     config.SMTPConfig
	limiter *rate.Limiter
	dialer  net.Dialer
	now     func() time.Time
}

func NewSMTPChannel(cfg config.SMTPConfig) *SMTPChannel {
	limit := rate.Inf
	if cfg.RatePerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(cfg.RatePerMinute))
	}
	return &SMTPChannel{
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, 1),
		now:     time.Now,
	}
}

func (c *SMTPChannel) addr() string {
	return net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))
}

func (c *SMTPChannel) Send(ctx context.Context, msg models.EmailMessage) models.Outcome {
	if err := c.limiter.Wait(ctx); err != nil {
		reason := models.ReasonTimeout
		if ctx.Err() != nil {
			reason = Classify(ctx.Err())
		}
		return models.Failed(reason, err.Error())
	}

	body, err := c.compose(msg)
	if err != nil {
		slog.Error("failed to compose message", "message_id", msg.ID, "error", err)
		return models.Failed(models.ReasonUnknown, err.Error())
	}

	if err := c.send(ctx, msg.Recipients(), body); err != nil {
		return models.Failed(Classify(err), err.Error())
	}
	return models.Succeeded()
}

func (c *SMTPChannel) send(ctx context.Context, rcpts []string, body []byte) error {
	conn, err := c.dialer.DialContext(ctx, "tcp", c.addr())
	if err != nil {
		return fmt.Errorf("dial smtp: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, c.cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp greeting: %w", err)
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: c.cfg.Host}); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}
	if c.cfg.Username != "" {
		if ok, _ := client.Extension("AUTH"); ok {
			auth := smtp.PlainAuth("", c.cfg.Username, c.cfg.Password, c.cfg.Host)
			if err := client.Auth(auth); err != nil {
				return fmt.Errorf("smtp auth: %w", err)
			}
		}
	}

	if err := client.Mail(c.cfg.From); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	for _, rcpt := range rcpts {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("rcpt %s: %w", rcpt, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("end data: %w", err)
	}

	// The server has accepted the message once DATA completes.
	if err := client.Quit(); err != nil {
		slog.Warn("smtp quit failed after delivery", "host", c.cfg.Host, "error", err)
	}
	return nil
}

// compose renders msg as a multipart/mixed MIME document: an HTML part
// followed by one base64 part per attachment. Bcc is never written.
func (c *SMTPChannel) compose(msg models.EmailMessage) ([]byte, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	headers := [][2]string{
		{"From", c.cfg.From},
		{"To", strings.Join(msg.To, ", ")},
		{"Cc", strings.Join(msg.Cc, ", ")},
		{"Subject", mime.QEncoding.Encode("utf-8", msg.Subject)},
		{"Date", c.now().Format(time.RFC1123Z)},
		{"Message-ID", fmt.Sprintf("<%s@%s>", msg.ID, c.cfg.Host)},
		{"MIME-Version", "1.0"},
		{"Content-Type", "multipart/mixed; boundary=" + mw.Boundary()},
	}
	for _, h := range headers {
		if h[1] != "" {
			fmt.Fprintf(&buf, "%s: %s\r\n", h[0], h[1])
		}
	}
	buf.WriteString("\r\n")

	part, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {"text/html; charset=utf-8"},
		"Content-Transfer-Encoding": {"quoted-printable"},
	})
	if err != nil {
		return nil, err
	}
	qp := quotedprintable.NewWriter(part)
	if _, err := io.WriteString(qp, msg.Body); err != nil {
		return nil, err
	}
	if err := qp.Close(); err != nil {
		return nil, err
	}

	for _, path := range msg.Attachments {
		if err := attach(mw, path); err != nil {
			return nil, err
		}
	}

	if err := mw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func attach(mw *multipart.Writer, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read attachment: %w", err)
	}

	name := filepath.Base(path)
	ctype := mime.TypeByExtension(filepath.Ext(name))
	if ctype == "" {
		ctype = "application/octet-stream"
	}

	part, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {fmt.Sprintf("%s; name=%q", ctype, name)},
		"Content-Transfer-Encoding": {"base64"},
		"Content-Disposition":       {fmt.Sprintf("attachment; filename=%q", name)},
	})
	if err != nil {
		return err
	}

	encoded := base64.StdEncoding.EncodeToString(data)
	for len(encoded) > 76 {
		if _, err := io.WriteString(part, encoded[:76]+"\r\n"); err != nil {
			return err
		}
		encoded = encoded[76:]
	}
	_, err = io.WriteString(part, encoded+"\r\n")
	return err
}

// Classify maps a transport error onto a failure reason.
func Classify(err error) models.FailureReason {
	if err == nil {
		return models.ReasonNone
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return models.ReasonTimeout
	}
	if errors.Is(err, context.Canceled) {
		return models.ReasonCancelled
	}

	var perr *textproto.Error
	if errors.As(err, &perr) {
		switch {
		case perr.Code == 550 || perr.Code == 551 || perr.Code == 553:
			return models.ReasonInvalidRecipient
		case perr.Code >= 500:
			return models.ReasonRejected
		case perr.Code >= 400:
			return models.ReasonChannelUnavailable
		}
		return models.ReasonUnknown
	}

	var nerr net.Error
	if errors.As(err, &nerr) {
		if nerr.Timeout() {
			return models.ReasonTimeout
		}
		return models.ReasonChannelUnavailable
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return models.ReasonChannelUnavailable
	}
	return models.ReasonUnknown
}
