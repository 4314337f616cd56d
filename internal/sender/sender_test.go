package sender

import (
	"context"
	"crypto/tls"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaffarulutas/balonpark-mail/internal/config"
	"github.com/gaffarulutas/balonpark-mail/pkg/base"
	"github.com/gaffarulutas/balonpark-mail/pkg/mock"
)

type scriptedTransport struct {
	authErr error
	sendErr error

	auth   sasl.Client
	from   string
	to     []string
	body   string
	closed int
}

func (t *scriptedTransport) Auth(a sasl.Client) error {
	t.auth = a
	return t.authErr
}

func (t *scriptedTransport) SendMail(from string, to []string, r io.Reader) error {
	t.from = from
	t.to = to
	raw, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	t.body = string(raw)
	return t.sendErr
}

func (t *scriptedTransport) Close() error {
	t.closed++
	return nil
}

// dialScript hands out one transport (or error) per attempt, in order.
type dialScript struct {
	transports []*scriptedTransport
	errs       []error
	addrs      []string
	tlsConfigs []*tls.Config
}

func (d *dialScript) dial(addr string, tlsConfig *tls.Config) (Transport, error) {
	i := len(d.addrs)
	d.addrs = append(d.addrs, addr)
	d.tlsConfigs = append(d.tlsConfigs, tlsConfig)
	if i < len(d.errs) && d.errs[i] != nil {
		return nil, d.errs[i]
	}
	return d.transports[i], nil
}

func testSMTPConfig(port int) config.SMTP {
	return config.SMTP{
		Host:          "smtp.example.com",
		Port:          port,
		User:          "shop@balonpark.example",
		Pass:          "hunter2",
		SenderName:    "Balonpark",
		SenderAddress: "shop@balonpark.example",
	}
}

func newTestSender(t *testing.T, port int, script *dialScript, sleeps *[]time.Duration) *SenderImpl {
	t.Helper()
	s, err := NewSender(
		WithConfig(testSMTPConfig(port), false),
		WithLogger(mock.SetupLogger(t)),
		WithDialTLS(script.dial),
		WithDialStartTLS(script.dial),
		WithSleep(func(_ context.Context, d time.Duration) error {
			*sleeps = append(*sleeps, d)
			return nil
		}),
	)
	require.NoError(t, err)
	return s
}

func TestNewSenderRequiresDependencies(t *testing.T) {
	_, err := NewSender(WithLogger(mock.SetupLogger(t)))
	assert.ErrorContains(t, err, "requires config")

	_, err = NewSender(WithConfig(testSMTPConfig(587), false))
	assert.ErrorContains(t, err, "requires slogger")
}

func TestSendDeliversMessage(t *testing.T) {
	transport := &scriptedTransport{}
	script := &dialScript{transports: []*scriptedTransport{transport}}
	var sleeps []time.Duration
	s := newTestSender(t, 587, script, &sleeps)

	ok := s.Send(context.Background(), base.SendRequest{
		To:      "ayse@example.com",
		ToName:  "Ayşe Yılmaz",
		Subject: "Merhaba",
		Body:    "Siparisiniz hazir.",
	})

	require.True(t, ok)
	assert.Equal(t, []string{"smtp.example.com:587"}, script.addrs)
	assert.Equal(t, "shop@balonpark.example", transport.from)
	assert.Equal(t, []string{"ayse@example.com"}, transport.to)
	assert.NotNil(t, transport.auth)
	assert.Equal(t, 1, transport.closed)
	assert.Empty(t, sleeps)

	assert.Contains(t, transport.body, "Subject: Merhaba")
	assert.Contains(t, transport.body, "text/plain")
	assert.Contains(t, transport.body, "Siparisiniz hazir.")
}

func TestSendHTMLBody(t *testing.T) {
	transport := &scriptedTransport{}
	script := &dialScript{transports: []*scriptedTransport{transport}}
	var sleeps []time.Duration
	s := newTestSender(t, 587, script, &sleeps)

	ok := s.Send(context.Background(), base.SendRequest{
		To:      "ayse@example.com",
		Subject: "Merhaba",
		Body:    "<p>Siparisiniz hazir.</p>",
		HTML:    true,
	})

	require.True(t, ok)
	assert.Contains(t, transport.body, "text/html")
	assert.NotContains(t, transport.body, "text/plain")
}

func TestSendWithAttachments(t *testing.T) {
	transport := &scriptedTransport{}
	script := &dialScript{transports: []*scriptedTransport{transport}}
	var sleeps []time.Duration
	s := newTestSender(t, 587, script, &sleeps)

	ok := s.Send(context.Background(), base.SendRequest{
		To:      "ayse@example.com",
		Subject: "Fatura",
		Body:    "Ektedir.",
		Attachments: []base.Attachment{
			{Filename: "invoice.pdf", ContentType: "application/pdf", Content: []byte("%PDF-1.4")},
		},
	})

	require.True(t, ok)
	assert.Contains(t, transport.body, "attachment")
	assert.Contains(t, transport.body, "invoice.pdf")
	assert.Contains(t, transport.body, "application/pdf")
}

func TestSendSucceedsOnSecondAttempt(t *testing.T) {
	first := &scriptedTransport{sendErr: errors.New("451 try again")}
	second := &scriptedTransport{}
	script := &dialScript{transports: []*scriptedTransport{first, second}}
	var sleeps []time.Duration
	s := newTestSender(t, 587, script, &sleeps)

	ok := s.Send(context.Background(), base.SendRequest{To: "ayse@example.com", Subject: "x", Body: "y"})

	require.True(t, ok)
	assert.Len(t, script.addrs, 2)
	assert.Equal(t, []time.Duration{2 * time.Second}, sleeps)
	assert.Equal(t, 1, first.closed)
	assert.Equal(t, 1, second.closed)
}

func TestSendFailsAfterTwoAttempts(t *testing.T) {
	dialErr := errors.New("connection refused")
	script := &dialScript{errs: []error{dialErr, dialErr}}
	var sleeps []time.Duration
	s := newTestSender(t, 587, script, &sleeps)

	ok := s.Send(context.Background(), base.SendRequest{To: "ayse@example.com", Subject: "x", Body: "y"})

	assert.False(t, ok)
	assert.Len(t, script.addrs, 2)
	assert.Equal(t, []time.Duration{2 * time.Second}, sleeps)
}

func TestSendAuthFailureClosesTransport(t *testing.T) {
	first := &scriptedTransport{authErr: errors.New("535 bad credentials")}
	second := &scriptedTransport{authErr: errors.New("535 bad credentials")}
	script := &dialScript{transports: []*scriptedTransport{first, second}}
	var sleeps []time.Duration
	s := newTestSender(t, 587, script, &sleeps)

	ok := s.Send(context.Background(), base.SendRequest{To: "ayse@example.com", Subject: "x", Body: "y"})

	assert.False(t, ok)
	assert.Equal(t, 1, first.closed)
	assert.Equal(t, 1, second.closed)
}

func TestSendSelectsTransportByPort(t *testing.T) {
	cases := []struct {
		name string
		port int
	}{
		{name: "implicit tls", port: 465},
		{name: "starttls", port: 587},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			used := &dialScript{transports: []*scriptedTransport{{}}}
			wrong := &dialScript{}

			tlsDial, startDial := wrong.dial, used.dial
			if tc.port == 465 {
				tlsDial, startDial = used.dial, wrong.dial
			}

			s, err := NewSender(
				WithConfig(testSMTPConfig(tc.port), true),
				WithLogger(mock.SetupLogger(t)),
				WithDialTLS(tlsDial),
				WithDialStartTLS(startDial),
			)
			require.NoError(t, err)

			ok := s.Send(context.Background(), base.SendRequest{To: "a@b.c", Subject: "x", Body: "y"})

			require.True(t, ok)
			assert.Len(t, used.addrs, 1)
			assert.Empty(t, wrong.addrs)
			assert.True(t, used.tlsConfigs[0].InsecureSkipVerify)
			assert.Equal(t, "smtp.example.com", used.tlsConfigs[0].ServerName)
		})
	}
}

func TestReplyThreadsAndPrefixes(t *testing.T) {
	transport := &scriptedTransport{}
	script := &dialScript{transports: []*scriptedTransport{transport}}
	var sleeps []time.Duration
	s := newTestSender(t, 587, script, &sleeps)

	original := base.Message{
		From:      "ayse@example.com",
		FromName:  "Ayşe Yılmaz",
		Subject:   "Merhaba",
		MessageID: "<orig-1@example.com>",
	}

	ok := s.Reply(context.Background(), original, "Tesekkurler.", false)

	require.True(t, ok)
	assert.Equal(t, []string{"ayse@example.com"}, transport.to)
	assert.Contains(t, transport.body, "Subject: RE: Merhaba")
	assert.Contains(t, transport.body, "In-Reply-To: <orig-1@example.com>")
	assert.Contains(t, transport.body, "References: <orig-1@example.com>")
	assert.Contains(t, transport.body, "Tesekkurler.")
}

func TestReplySubjectAvoidsDoublePrefix(t *testing.T) {
	assert.Equal(t, "RE: Merhaba", replySubject("Merhaba"))
	assert.Equal(t, "RE: Merhaba", replySubject("RE: Merhaba"))
	assert.Equal(t, "Re: Merhaba", replySubject("Re: Merhaba"))
	assert.Equal(t, "RE: ", replySubject(""))
}

func TestGenerateMessageIDUsesSenderDomain(t *testing.T) {
	id := generateMessageID("shop@balonpark.example")
	assert.True(t, strings.HasSuffix(id, "@balonpark.example"), id)

	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		next := generateMessageID("shop@balonpark.example")
		assert.False(t, seen[next])
		seen[next] = true
	}
}
