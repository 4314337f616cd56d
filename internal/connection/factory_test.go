package connection

import (
	"context"
	"crypto/tls"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/gaffarulutas/balonpark-mail/internal/config"
	"github.com/gaffarulutas/balonpark-mail/pkg/base"
	"github.com/gaffarulutas/balonpark-mail/pkg/mock"
)

func testIMAPConfig(port int) config.IMAP {
	return config.IMAP{
		Host: "imap.example.com",
		Port: port,
		User: "shop@example.com",
		Pass: "secret",
	}
}

func recordedSleep(waits *[]time.Duration) func(context.Context, time.Duration) error {
	return func(_ context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return nil
	}
}

func TestNewFactory(t *testing.T) {
	logger := mock.SetupLogger(t)

	t.Run("successful creation", func(t *testing.T) {
		f, err := NewFactory(
			WithConfig(testIMAPConfig(993), false),
			WithLogger(logger),
		)
		require.NoError(t, err)
		assert.NotNil(t, f)
	})

	t.Run("missing logger", func(t *testing.T) {
		_, err := NewFactory(WithConfig(testIMAPConfig(993), false))
		assert.Error(t, err)
	})

	t.Run("missing config and dialers", func(t *testing.T) {
		_, err := NewFactory(WithLogger(logger))
		assert.Error(t, err)
	})
}

func TestDialSelectsTransportByPort(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	logger := mock.SetupLogger(t)

	cases := []struct {
		name         string
		port         int
		wantImplicit bool
	}{
		{name: "well-known secure port uses implicit TLS", port: 993, wantImplicit: true},
		{name: "other port upgrades via STARTTLS", port: 143, wantImplicit: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mockClient := mock.NewMockClient(ctrl)
			mockClient.EXPECT().Login("shop@example.com", "secret").Return(nil)
			mockClient.EXPECT().Logout().Return(nil)

			var implicitUsed, starttlsUsed bool
			f, err := NewFactory(
				WithConfig(testIMAPConfig(tc.port), false),
				WithLogger(logger),
				WithDialTLS(func(addr string, _ *tls.Config) (base.Client, error) {
					implicitUsed = true
					assert.Equal(t, "imap.example.com:993", addr)
					return mockClient, nil
				}),
				WithDialStartTLS(func(addr string, _ *tls.Config) (base.Client, error) {
					starttlsUsed = true
					return mockClient, nil
				}),
			)
			require.NoError(t, err)

			sess, err := f.Dial(context.Background())
			require.NoError(t, err)
			sess.Close()

			assert.Equal(t, tc.wantImplicit, implicitUsed)
			assert.Equal(t, !tc.wantImplicit, starttlsUsed)
		})
	}
}

func TestDialHonorsTLSSkipVerify(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	logger := mock.SetupLogger(t)

	mockClient := mock.NewMockClient(ctrl)
	mockClient.EXPECT().Login(gomock.Any(), gomock.Any()).Return(nil)
	mockClient.EXPECT().Logout().Return(nil)

	var seen *tls.Config
	f, err := NewFactory(
		WithConfig(testIMAPConfig(993), true),
		WithLogger(logger),
		WithDialTLS(func(_ string, tlsConfig *tls.Config) (base.Client, error) {
			seen = tlsConfig
			return mockClient, nil
		}),
	)
	require.NoError(t, err)

	sess, err := f.Dial(context.Background())
	require.NoError(t, err)
	sess.Close()

	require.NotNil(t, seen)
	assert.True(t, seen.InsecureSkipVerify)
	assert.Equal(t, "imap.example.com", seen.ServerName)
}

func TestDialRetriesWithExponentialBackoff(t *testing.T) {
	logger := mock.SetupLogger(t)

	dialErr := errors.New("connection refused")
	var attempts int
	var waits []time.Duration

	f, err := NewFactory(
		WithConfig(testIMAPConfig(993), false),
		WithLogger(logger),
		WithDialTLS(func(string, *tls.Config) (base.Client, error) {
			attempts++
			return nil, dialErr
		}),
		WithSleep(recordedSleep(&waits)),
	)
	require.NoError(t, err)

	sess, err := f.Dial(context.Background())
	assert.Nil(t, sess)
	require.Error(t, err)

	var connErr *ConnectionFailedError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, 3, connErr.Attempts)
	assert.ErrorIs(t, err, dialErr)

	assert.Equal(t, 3, attempts)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, waits)
}

func TestDialDisposesPartialSessionPerFailedAttempt(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	logger := mock.SetupLogger(t)

	loginErr := errors.New("authentication failed")
	mockClient := mock.NewMockClient(ctrl)
	mockClient.EXPECT().Login(gomock.Any(), gomock.Any()).Return(loginErr).Times(3)
	mockClient.EXPECT().Logout().Return(nil).Times(3)

	var waits []time.Duration
	f, err := NewFactory(
		WithConfig(testIMAPConfig(993), false),
		WithLogger(logger),
		WithDialTLS(func(string, *tls.Config) (base.Client, error) {
			return mockClient, nil
		}),
		WithSleep(recordedSleep(&waits)),
	)
	require.NoError(t, err)

	_, err = f.Dial(context.Background())
	var connErr *ConnectionFailedError
	require.ErrorAs(t, err, &connErr)
	assert.ErrorIs(t, err, loginErr)
}

func TestDialSucceedsAfterFailedAttempt(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	logger := mock.SetupLogger(t)

	mockClient := mock.NewMockClient(ctrl)
	mockClient.EXPECT().Login(gomock.Any(), gomock.Any()).Return(nil)
	mockClient.EXPECT().Logout().Return(nil)

	var attempts int
	var waits []time.Duration
	f, err := NewFactory(
		WithConfig(testIMAPConfig(993), false),
		WithLogger(logger),
		WithDialTLS(func(string, *tls.Config) (base.Client, error) {
			attempts++
			if attempts == 1 {
				return nil, errors.New("transient network error")
			}
			return mockClient, nil
		}),
		WithSleep(recordedSleep(&waits)),
	)
	require.NoError(t, err)

	sess, err := f.Dial(context.Background())
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, 2, attempts)
	assert.Equal(t, []time.Duration{2 * time.Second}, waits)

	sess.Close()
}

func TestSessionCloseIsIdempotent(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockClient := mock.NewMockClient(ctrl)
	mockClient.EXPECT().Logout().Return(nil).Times(1)

	sess := NewSession(mockClient, mock.SetupLogger(t))
	sess.Close()
	sess.Close()
}

func TestDialStopsWhenContextCancelled(t *testing.T) {
	logger := mock.SetupLogger(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f, err := NewFactory(
		WithConfig(testIMAPConfig(993), false),
		WithLogger(logger),
		WithDialTLS(func(string, *tls.Config) (base.Client, error) {
			return nil, errors.New("connection refused")
		}),
	)
	require.NoError(t, err)

	_, err = f.Dial(ctx)
	var connErr *ConnectionFailedError
	require.ErrorAs(t, err, &connErr)
	assert.ErrorIs(t, err, context.Canceled)
}
