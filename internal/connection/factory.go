package connection

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/emersion/go-imap/client"
	"github.com/pkg/errors"

	"github.com/gaffarulutas/balonpark-mail/internal/config"
	"github.com/gaffarulutas/balonpark-mail/pkg/base"
	"github.com/gaffarulutas/balonpark-mail/pkg/utils"
)

const (
	// imapTLSPort selects implicit TLS; any other port dials plaintext and
	// upgrades via STARTTLS.
	imapTLSPort = 993

	connectAttempts = 3
	attemptTimeout  = 30 * time.Second
)

// ConnectionFailedError reports that every attempt to establish and
// authenticate a session was exhausted. It is fatal to the calling operation.
type ConnectionFailedError struct {
	Attempts int
	Cause    error
}

func (e *ConnectionFailedError) Error() string {
	return fmt.Sprintf("connection failed after %d attempts: %v", e.Attempts, e.Cause)
}

func (e *ConnectionFailedError) Unwrap() error { return e.Cause }

// DialFunc opens a transport-level connection and returns it ready for LOGIN.
type DialFunc func(addr string, tlsConfig *tls.Config) (base.Client, error)

// Factory opens and authenticates IMAP sessions against one configured
// server, with bounded retries and exponential backoff.
type Factory struct {
	cfg           config.IMAP
	tlsSkipVerify bool
	logger        *slog.Logger
	dialTLS       DialFunc
	dialStartTLS  DialFunc
	sleep         func(ctx context.Context, d time.Duration) error
}

type FactoryOption func(*Factory) error

func NewFactory(opts ...FactoryOption) (*Factory, error) {
	var f Factory
	for _, opt := range opts {
		if err := opt(&f); err != nil {
			return nil, err
		}
	}

	if f.logger == nil {
		return nil, errors.New("requires slogger")
	}

	if f.cfg.Host == "" && (f.dialTLS == nil || f.dialStartTLS == nil) {
		return nil, errors.New("requires config or dialers")
	}

	if f.dialTLS == nil {
		f.dialTLS = defaultDialTLS
	}
	if f.dialStartTLS == nil {
		f.dialStartTLS = defaultDialStartTLS
	}
	if f.sleep == nil {
		f.sleep = sleepWithContext
	}

	return &f, nil
}

func WithConfig(cfg config.IMAP, tlsSkipVerify bool) FactoryOption {
	return func(f *Factory) error {
		f.cfg = cfg
		f.tlsSkipVerify = tlsSkipVerify
		return nil
	}
}

func WithLogger(logger *slog.Logger) FactoryOption {
	return func(f *Factory) error {
		f.logger = logger
		return nil
	}
}

func WithDialTLS(d DialFunc) FactoryOption {
	return func(f *Factory) error {
		f.dialTLS = d
		return nil
	}
}

func WithDialStartTLS(d DialFunc) FactoryOption {
	return func(f *Factory) error {
		f.dialStartTLS = d
		return nil
	}
}

// WithSleep overrides the backoff wait, so tests do not spend wall-clock
// time between attempts.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) FactoryOption {
	return func(f *Factory) error {
		f.sleep = sleep
		return nil
	}
}

// Dial produces an authenticated Session or a ConnectionFailedError wrapping
// the last underlying cause. Each failed attempt disposes the partially
// opened session before retrying; attempt n waits 2^n seconds before the
// next try.
func (f *Factory) Dial(ctx context.Context) (*Session, error) {
	var lastErr error

	for attempt := 1; attempt <= connectAttempts; attempt++ {
		c, err := f.connect()
		if err == nil {
			if err = c.Login(f.cfg.User, f.cfg.Pass); err == nil {
				return NewSession(c, f.logger), nil
			}
			if logoutErr := c.Logout(); logoutErr != nil {
				f.logger.WarnContext(ctx, "failed to dispose partial session",
					slog.Any("error", utils.WrapError(logoutErr)))
			}
		}

		lastErr = err
		f.logger.WarnContext(ctx, "IMAP connect attempt failed",
			slog.Int("attempt", attempt),
			slog.String("addr", f.cfg.Addr()),
			slog.Any("error", utils.WrapError(err)))

		if attempt < connectAttempts {
			if sleepErr := f.sleep(ctx, time.Duration(1<<uint(attempt))*time.Second); sleepErr != nil {
				lastErr = sleepErr
				break
			}
		}
	}

	connErr := &ConnectionFailedError{Attempts: connectAttempts, Cause: lastErr}
	f.logger.ErrorContext(ctx, "IMAP connection exhausted all attempts",
		slog.Any("error", utils.WrapError(connErr)))
	return nil, connErr
}

func (f *Factory) connect() (base.Client, error) {
	tlsConfig := &tls.Config{
		ServerName:         f.cfg.Host,
		InsecureSkipVerify: f.tlsSkipVerify,
	}

	if f.cfg.Port == imapTLSPort {
		return f.dialTLS(f.cfg.Addr(), tlsConfig)
	}
	return f.dialStartTLS(f.cfg.Addr(), tlsConfig)
}

func defaultDialTLS(addr string, tlsConfig *tls.Config) (base.Client, error) {
	dialer := &net.Dialer{Timeout: attemptTimeout}
	c, err := client.DialWithDialerTLS(dialer, addr, tlsConfig)
	if err != nil {
		return nil, err
	}
	c.Timeout = attemptTimeout
	return c, nil
}

func defaultDialStartTLS(addr string, tlsConfig *tls.Config) (base.Client, error) {
	dialer := &net.Dialer{Timeout: attemptTimeout}
	c, err := client.DialWithDialer(dialer, addr)
	if err != nil {
		return nil, err
	}
	c.Timeout = attemptTimeout
	if err := c.StartTLS(tlsConfig); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
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
