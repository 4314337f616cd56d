// Package sender delivers outbound mail over SMTP with a short retry loop.
// Each attempt is a fully independent connect/auth/send/disconnect cycle.
package sender

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/tls"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/pkg/errors"

	"github.com/gaffarulutas/balonpark-mail/internal/config"
	"github.com/gaffarulutas/balonpark-mail/pkg/base"
	"github.com/gaffarulutas/balonpark-mail/pkg/utils"
)

const (
	sendAttempts   = 2
	sendRetryPause = 2 * time.Second

	// Connections to this port use implicit TLS; any other port upgrades
	// with STARTTLS.
	smtpTLSPort = 465
)

// Transport is the slice of go-smtp's client this package drives, narrowed
// so delivery can be scripted in tests.
type Transport interface {
	Auth(a sasl.Client) error
	SendMail(from string, to []string, r io.Reader) error
	Close() error
}

type DialFunc func(addr string, tlsConfig *tls.Config) (Transport, error)

// Sender submits outbound mail. Both operations report a plain success flag;
// delivery failures are logged, never raised.
type Sender interface {
	Send(ctx context.Context, req base.SendRequest) bool
	Reply(ctx context.Context, original base.Message, body string, html bool) bool
}

type SenderImpl struct {
	cfg           config.SMTP
	tlsSkipVerify bool
	logger        *slog.Logger
	dialTLS       DialFunc
	dialStartTLS  DialFunc
	sleep         func(ctx context.Context, d time.Duration) error
}

var _ Sender = (*SenderImpl)(nil)

type SenderOption func(*SenderImpl) error

func NewSender(opts ...SenderOption) (*SenderImpl, error) {
	s := &SenderImpl{
		dialTLS:      defaultDialTLS,
		dialStartTLS: defaultDialStartTLS,
		sleep:        sleepWithContext,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if s.cfg.Host == "" {
		return nil, errors.New("requires config")
	}
	if s.logger == nil {
		return nil, errors.New("requires slogger")
	}
	return s, nil
}

func WithConfig(cfg config.SMTP, tlsSkipVerify bool) SenderOption {
	return func(s *SenderImpl) error {
		s.cfg = cfg
		s.tlsSkipVerify = tlsSkipVerify
		return nil
	}
}

func WithLogger(logger *slog.Logger) SenderOption {
	return func(s *SenderImpl) error {
		s.logger = logger
		return nil
	}
}

func WithDialTLS(d DialFunc) SenderOption {
	return func(s *SenderImpl) error {
		s.dialTLS = d
		return nil
	}
}

func WithDialStartTLS(d DialFunc) SenderOption {
	return func(s *SenderImpl) error {
		s.dialStartTLS = d
		return nil
	}
}

func WithSleep(sleep func(ctx context.Context, d time.Duration) error) SenderOption {
	return func(s *SenderImpl) error {
		s.sleep = sleep
		return nil
	}
}

// Send builds the MIME message once and attempts delivery up to twice, with
// a pause between attempts. No state survives a failed attempt.
func (s *SenderImpl) Send(ctx context.Context, req base.SendRequest) bool {
	msg, err := buildMessage(s.cfg, req)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to build outbound message",
			slog.String("to", req.To),
			slog.Any("error", utils.WrapError(err)))
		return false
	}

	var lastErr error
	for attempt := 1; attempt <= sendAttempts; attempt++ {
		lastErr = s.deliver(req.To, bytes.NewReader(msg))
		if lastErr == nil {
			return true
		}
		s.logger.WarnContext(ctx, "send attempt failed",
			slog.Int("attempt", attempt),
			slog.String("to", req.To),
			slog.Any("error", utils.WrapError(lastErr)))

		if attempt < sendAttempts {
			if err := s.sleep(ctx, sendRetryPause); err != nil {
				lastErr = err
				break
			}
		}
	}

	s.logger.ErrorContext(ctx, "giving up on outbound message",
		slog.String("to", req.To),
		slog.Any("error", utils.WrapError(lastErr)))
	return false
}

// Reply derives a threaded SendRequest from an existing message and submits
// it through the same send path.
func (s *SenderImpl) Reply(ctx context.Context, original base.Message, body string, html bool) bool {
	references := original.References
	if references == "" {
		references = original.MessageID
	}

	return s.Send(ctx, base.SendRequest{
		To:         original.From,
		ToName:     original.FromName,
		Subject:    replySubject(original.Subject),
		Body:       body,
		HTML:       html,
		InReplyTo:  original.MessageID,
		References: references,
	})
}

func (s *SenderImpl) deliver(to string, body io.Reader) error {
	dial := s.dialStartTLS
	if s.cfg.Port == smtpTLSPort {
		dial = s.dialTLS
	}

	t, err := dial(s.cfg.Addr(), &tls.Config{
		ServerName:         s.cfg.Host,
		InsecureSkipVerify: s.tlsSkipVerify, //nolint:gosec
	})
	if err != nil {
		return errors.Wrap(err, "connecting to smtp server")
	}
	defer t.Close() //nolint:errcheck

	auth := sasl.NewPlainClient("", s.cfg.User, s.cfg.Pass)
	if err := t.Auth(auth); err != nil {
		return errors.Wrap(err, "authenticating")
	}
	return errors.Wrap(t.SendMail(s.cfg.SenderAddress, []string{to}, body), "sending")
}

func replySubject(subject string) string {
	if strings.HasPrefix(strings.ToUpper(strings.TrimSpace(subject)), "RE:") {
		return subject
	}
	return "RE: " + subject
}

func buildMessage(cfg config.SMTP, req base.SendRequest) ([]byte, error) {
	var buf bytes.Buffer

	var header mail.Header
	header.SetDate(time.Now())
	header.SetSubject(req.Subject)
	header.SetAddressList("From", []*mail.Address{{Name: cfg.SenderName, Address: cfg.SenderAddress}})
	header.SetAddressList("To", []*mail.Address{{Name: req.ToName, Address: req.To}})
	header.SetMsgIDList("Message-Id", []string{generateMessageID(cfg.SenderAddress)})

	if req.InReplyTo != "" {
		header.SetMsgIDList("In-Reply-To", []string{trimMsgID(req.InReplyTo)})
	}
	if req.References != "" {
		var refs []string
		for _, ref := range strings.Fields(req.References) {
			refs = append(refs, trimMsgID(ref))
		}
		header.SetMsgIDList("References", refs)
	}

	var mw *mail.Writer
	var iw *mail.InlineWriter
	var err error
	if len(req.Attachments) == 0 {
		iw, err = mail.CreateInlineWriter(&buf, header)
	} else {
		mw, err = mail.CreateWriter(&buf, header)
		if err == nil {
			iw, err = mw.CreateInline()
		}
	}
	if err != nil {
		return nil, errors.Wrap(err, "opening message writer")
	}

	contentType := "text/plain"
	if req.HTML {
		contentType = "text/html"
	}
	var inline mail.InlineHeader
	inline.SetContentType(contentType, map[string]string{"charset": "utf-8"})

	part, err := iw.CreatePart(inline)
	if err != nil {
		return nil, errors.Wrap(err, "opening body part")
	}
	if _, err := part.Write([]byte(req.Body)); err != nil {
		return nil, errors.Wrap(err, "writing body")
	}
	if err := part.Close(); err != nil {
		return nil, errors.Wrap(err, "closing body part")
	}
	if err := iw.Close(); err != nil {
		return nil, errors.Wrap(err, "closing inline writer")
	}

	if mw != nil {
		for _, att := range req.Attachments {
			if err := writeAttachment(mw, att); err != nil {
				return nil, errors.Wrapf(err, "attaching %q", att.Filename)
			}
		}
		if err := mw.Close(); err != nil {
			return nil, errors.Wrap(err, "closing message writer")
		}
	}

	return buf.Bytes(), nil
}

func writeAttachment(mw *mail.Writer, att base.Attachment) error {
	contentType := att.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	var h mail.AttachmentHeader
	h.SetFilename(att.Filename)
	h.SetContentType(contentType, nil)

	w, err := mw.CreateAttachment(h)
	if err != nil {
		return err
	}
	if _, err := w.Write(att.Content); err != nil {
		return err
	}
	return w.Close()
}

// trimMsgID strips the angle brackets an IMAP envelope carries, since the
// header writer adds its own.
func trimMsgID(id string) string {
	return strings.Trim(id, "<>")
}

// generateMessageID builds an RFC 5322 Message-ID from the sender's domain.
func generateMessageID(fromAddress string) string {
	domain := "localhost"
	if i := strings.Index(fromAddress, "@"); i >= 0 && i+1 < len(fromAddress) {
		domain = fromAddress[i+1:]
	}

	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return fmt.Sprintf("%d.%s@%s", time.Now().UnixNano(), hex.EncodeToString(b), domain)
}

func defaultDialTLS(addr string, tlsConfig *tls.Config) (Transport, error) {
	return smtp.DialTLS(addr, tlsConfig)
}

func defaultDialStartTLS(addr string, tlsConfig *tls.Config) (Transport, error) {
	return smtp.DialStartTLS(addr, tlsConfig)
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
