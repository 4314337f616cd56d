package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

const (
	envIMAPHost      = "BALONMAIL_IMAP_HOST"
	envIMAPPort      = "BALONMAIL_IMAP_PORT"
	envIMAPUser      = "BALONMAIL_IMAP_USER"
	envIMAPPass      = "BALONMAIL_IMAP_PASS"
	envSMTPHost      = "BALONMAIL_SMTP_HOST"
	envSMTPPort      = "BALONMAIL_SMTP_PORT"
	envSMTPUser      = "BALONMAIL_SMTP_USER"
	envSMTPPass      = "BALONMAIL_SMTP_PASS"
	envSenderName    = "BALONMAIL_SENDER_NAME"
	envSenderAddress = "BALONMAIL_SENDER_ADDRESS"
	envTLSSkipVerify = "BALONMAIL_TLS_SKIP_VERIFY"
	envListenAddr    = "BALONMAIL_LISTEN_ADDR"
)

// IMAP holds the IMAP connection details from environment variables.
type IMAP struct {
	Host string
	Port int
	User string
	Pass string
}

func (c IMAP) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// SMTP holds the submission server details plus the sender identity.
type SMTP struct {
	Host          string
	Port          int
	User          string
	Pass          string
	SenderName    string
	SenderAddress string
}

func (c SMTP) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Config is the static configuration consumed by the mail layer. It is
// loaded once at startup, not re-resolved per call.
type Config struct {
	IMAP IMAP
	SMTP SMTP

	// TLSSkipVerify relaxes certificate validation for self-signed mail
	// hosts. It is a deliberate trust trade-off and must stay opt-in.
	TLSSkipVerify bool

	// ListenAddr is where the JSON surface binds when serving.
	ListenAddr string
}

// FromEnv loads the full configuration and validates required entries,
// reporting every missing variable at once.
func FromEnv() (Config, error) {
	missing := []string{}

	lookup := func(name string) string {
		value := strings.TrimSpace(os.Getenv(name))
		if value == "" {
			missing = append(missing, name)
		}
		return value
	}

	cfg := Config{
		IMAP: IMAP{
			Host: lookup(envIMAPHost),
			User: lookup(envIMAPUser),
			Pass: lookup(envIMAPPass),
		},
		SMTP: SMTP{
			Host:          lookup(envSMTPHost),
			User:          lookup(envSMTPUser),
			Pass:          lookup(envSMTPPass),
			SenderName:    strings.TrimSpace(os.Getenv(envSenderName)),
			SenderAddress: lookup(envSenderAddress),
		},
	}

	imapPortRaw := lookup(envIMAPPort)
	smtpPortRaw := lookup(envSMTPPort)

	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	imapPort, err := strconv.Atoi(imapPortRaw)
	if err != nil {
		return Config{}, fmt.Errorf("invalid %s: %w", envIMAPPort, err)
	}
	cfg.IMAP.Port = imapPort

	smtpPort, err := strconv.Atoi(smtpPortRaw)
	if err != nil {
		return Config{}, fmt.Errorf("invalid %s: %w", envSMTPPort, err)
	}
	cfg.SMTP.Port = smtpPort

	cfg.TLSSkipVerify = boolFromEnv(envTLSSkipVerify)
	cfg.ListenAddr = defaultIfEmpty(os.Getenv(envListenAddr), ":8080")

	return cfg, nil
}

func boolFromEnv(name string) bool {
	value, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(name)))
	if err != nil {
		return false
	}
	return value
}

func defaultIfEmpty(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
