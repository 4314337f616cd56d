package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setFullEnv(t *testing.T) {
	t.Setenv(envIMAPHost, "imap.example.com")
	t.Setenv(envIMAPPort, "993")
	t.Setenv(envIMAPUser, "shop@example.com")
	t.Setenv(envIMAPPass, "secret")
	t.Setenv(envSMTPHost, "smtp.example.com")
	t.Setenv(envSMTPPort, "587")
	t.Setenv(envSMTPUser, "shop@example.com")
	t.Setenv(envSMTPPass, "secret")
	t.Setenv(envSenderName, "Balonpark")
	t.Setenv(envSenderAddress, "shop@example.com")
}

func TestFromEnv(t *testing.T) {
	setFullEnv(t)

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "imap.example.com:993", cfg.IMAP.Addr())
	assert.Equal(t, "smtp.example.com:587", cfg.SMTP.Addr())
	assert.Equal(t, "Balonpark", cfg.SMTP.SenderName)
	assert.False(t, cfg.TLSSkipVerify)
	assert.Equal(t, ":8080", cfg.ListenAddr)
}

func TestFromEnvCollectsAllMissing(t *testing.T) {
	t.Setenv(envIMAPHost, "imap.example.com")
	t.Setenv(envIMAPPort, "")
	t.Setenv(envIMAPUser, "")
	t.Setenv(envIMAPPass, "")
	t.Setenv(envSMTPHost, "")
	t.Setenv(envSMTPPort, "")
	t.Setenv(envSMTPUser, "")
	t.Setenv(envSMTPPass, "")
	t.Setenv(envSenderAddress, "")

	_, err := FromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), envIMAPPort)
	assert.Contains(t, err.Error(), envSMTPHost)
	assert.Contains(t, err.Error(), envSenderAddress)
	assert.NotContains(t, err.Error(), envIMAPHost)
}

func TestFromEnvInvalidPort(t *testing.T) {
	setFullEnv(t)
	t.Setenv(envIMAPPort, "not-a-port")

	_, err := FromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), envIMAPPort)
}

func TestFromEnvOptionalFlags(t *testing.T) {
	setFullEnv(t)
	t.Setenv(envTLSSkipVerify, "true")
	t.Setenv(envListenAddr, ":9090")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.True(t, cfg.TLSSkipVerify)
	assert.Equal(t, ":9090", cfg.ListenAddr)
}
