// Package mailbox implements the mailbox access layer: folder discovery,
// paginated listing, single-message fetch, statistics, search, and the flag
// and move/delete mutations. Every operation dials its own IMAP session and
// tears it down before returning.
package mailbox

import (
	"context"
	"log/slog"

	"github.com/pkg/errors"

	"github.com/gaffarulutas/balonpark-mail/internal/connection"
	"github.com/gaffarulutas/balonpark-mail/pkg/base"
)

// searchResultCap bounds how many hits a free-text search converts.
const searchResultCap = 50

// Service is the surface handed to the HTTP handlers. Read operations
// return data or an error; write operations return a plain success flag so
// callers can render a uniform "action failed" response.
type Service interface {
	ListFolders(ctx context.Context) ([]base.Folder, error)
	ListMessages(ctx context.Context, folder string, page, pageSize int) ([]base.Message, error)
	GetMessage(ctx context.Context, folder string, uid uint32) (*base.Message, error)
	GetStats(ctx context.Context) (base.Stats, error)
	Search(ctx context.Context, query, folder string) ([]base.Message, error)
	MarkRead(ctx context.Context, folder string, uid uint32) bool
	MarkUnread(ctx context.Context, folder string, uid uint32) bool
	ToggleFlag(ctx context.Context, folder string, uid uint32) bool
	Move(ctx context.Context, source string, uid uint32, target string) bool
	Delete(ctx context.Context, folder string, uid uint32) bool
}

// SessionFactory dials one authenticated session per call.
type SessionFactory interface {
	Dial(ctx context.Context) (*connection.Session, error)
}

type ServiceImpl struct {
	sessions SessionFactory
	logger   *slog.Logger
}

var _ Service = (*ServiceImpl)(nil)

type ServiceOption func(*ServiceImpl) error

func NewService(opts ...ServiceOption) (*ServiceImpl, error) {
	svc := &ServiceImpl{}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	if svc.sessions == nil {
		return nil, errors.New("requires session factory")
	}
	if svc.logger == nil {
		return nil, errors.New("requires slogger")
	}
	return svc, nil
}

func WithSessionFactory(f SessionFactory) ServiceOption {
	return func(s *ServiceImpl) error {
		s.sessions = f
		return nil
	}
}

func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *ServiceImpl) error {
		s.logger = logger
		return nil
	}
}

// withSession dials a fresh session, runs fn against its client, and closes
// the session on every exit path. All public operations go through here; no
// session outlives the call that dialed it.
func (s *ServiceImpl) withSession(ctx context.Context, fn func(c base.Client) error) error {
	sess, err := s.sessions.Dial(ctx)
	if err != nil {
		return errors.Wrap(err, "dialing mail session")
	}
	defer sess.Close()
	return fn(sess.Client())
}
