package connection

import (
	"log/slog"

	"github.com/gaffarulutas/balonpark-mail/pkg/base"
	"github.com/gaffarulutas/balonpark-mail/pkg/utils"
)

// Session is one authenticated protocol connection. It is owned exclusively
// by the operation that dialed it and must be closed before that operation
// returns; Close is safe to defer on every exit path.
type Session struct {
	client base.Client
	logger *slog.Logger
	closed bool
}

func NewSession(c base.Client, logger *slog.Logger) *Session {
	return &Session{client: c, logger: logger}
}

func (s *Session) Client() base.Client {
	return s.client
}

// Close logs out at most once. Logout failures are logged, not returned:
// by the time Close runs the operation's outcome is already decided.
func (s *Session) Close() {
	if s.closed {
		return
	}
	s.closed = true

	if err := s.client.Logout(); err != nil {
		s.logger.Warn("failed to log out IMAP session", slog.Any("error", utils.WrapError(err)))
	}
}
