package mailbox

import (
	"context"
	"log/slog"
	"net/textproto"
	"sort"
	"strings"

	"github.com/emersion/go-imap"
	"github.com/pkg/errors"

	"github.com/gaffarulutas/balonpark-mail/internal/convert"
	"github.com/gaffarulutas/balonpark-mail/pkg/base"
	"github.com/gaffarulutas/balonpark-mail/pkg/utils"
)

const inboxFolder = "INBOX"

// ListFolders enumerates the account's folders, opening each read-only to
// count totals and unseen messages. A folder that cannot be opened is
// skipped with a warning rather than failing the listing.
func (s *ServiceImpl) ListFolders(ctx context.Context) ([]base.Folder, error) {
	folders := []base.Folder{}
	err := s.withSession(ctx, func(c base.Client) error {
		infos, err := listFolderInfos(c)
		if err != nil {
			return errors.Wrap(err, "listing folders")
		}

		for _, info := range infos {
			status, err := c.Select(info.Name, true)
			if err != nil {
				s.logger.WarnContext(ctx, "skipping unopenable folder",
					slog.String("folder", info.Name),
					slog.Any("error", utils.WrapError(err)))
				continue
			}

			unread, err := searchCount(c, unseenCriteria())
			if err != nil {
				s.logger.WarnContext(ctx, "unread count failed",
					slog.String("folder", info.Name),
					slog.Any("error", utils.WrapError(err)))
			}

			kind, display := Classify(info.Name, info.Delimiter)
			folders = append(folders, base.Folder{
				Name:        info.Name,
				DisplayName: display,
				Kind:        kind,
				Total:       status.Messages,
				Unread:      unread,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return folders, nil
}

// ListMessages returns one page of a folder, newest first. A folder that
// cannot be opened yields an empty page, and a message that disappears
// between the UID listing and its fetch is skipped; neither fails the page.
func (s *ServiceImpl) ListMessages(ctx context.Context, folder string, page, pageSize int) ([]base.Message, error) {
	if page < 1 {
		page = 1
	}
	msgs := []base.Message{}
	if pageSize <= 0 {
		return msgs, nil
	}

	err := s.withSession(ctx, func(c base.Client) error {
		status, ok := s.selectReadOnly(ctx, c, folder)
		if !ok {
			return nil
		}
		if status.Messages == 0 {
			return nil
		}

		uids, err := allUIDs(c, status.Messages)
		if err != nil {
			return errors.Wrapf(err, "listing uids in %q", folder)
		}
		sort.Slice(uids, func(i, j int) bool { return uids[i] > uids[j] })

		start := (page - 1) * pageSize
		if start >= len(uids) {
			return nil
		}
		end := start + pageSize
		if end > len(uids) {
			end = len(uids)
		}

		for _, uid := range uids[start:end] {
			msg, err := fetchMessage(c, uid)
			if err != nil || msg == nil {
				s.logger.WarnContext(ctx, "skipping message in page",
					slog.String("folder", folder),
					slog.Uint64("uid", uint64(uid)),
					slog.Any("error", utils.WrapError(err)))
				continue
			}
			msgs = append(msgs, *msg)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

// GetMessage fetches one message by folder and UID. A UID that does not
// resolve, or a folder that cannot be opened, returns (nil, nil) rather
// than an error.
func (s *ServiceImpl) GetMessage(ctx context.Context, folder string, uid uint32) (*base.Message, error) {
	var msg *base.Message
	err := s.withSession(ctx, func(c base.Client) error {
		if _, ok := s.selectReadOnly(ctx, c, folder); !ok {
			return nil
		}
		m, err := fetchMessage(c, uid)
		if err != nil {
			return errors.Wrapf(err, "fetching uid %d in %q", uid, folder)
		}
		msg = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// GetStats aggregates mailbox counts. The inbox must open; every other
// folder probe is independent, and an absent folder contributes zero.
func (s *ServiceImpl) GetStats(ctx context.Context) (base.Stats, error) {
	var stats base.Stats
	err := s.withSession(ctx, func(c base.Client) error {
		status, err := c.Select(inboxFolder, true)
		if err != nil {
			return errors.Wrap(err, "selecting inbox")
		}
		stats.Total = status.Messages

		if stats.Unread, err = searchCount(c, unseenCriteria()); err != nil {
			return errors.Wrap(err, "counting unseen")
		}

		flagged := imap.NewSearchCriteria()
		flagged.WithFlags = []string{imap.FlaggedFlag}
		if stats.Flagged, err = searchCount(c, flagged); err != nil {
			return errors.Wrap(err, "counting flagged")
		}

		stats.Sent, _ = s.probeFolder(ctx, c, "Sent")
		stats.Drafts, _ = s.probeFolder(ctx, c, "Drafts")
		if spam, ok := s.probeFolder(ctx, c, "Spam"); ok {
			stats.Spam = spam
		} else {
			stats.Spam, _ = s.probeFolder(ctx, c, "Junk")
		}
		stats.Trash, _ = s.probeFolder(ctx, c, "Trash")
		return nil
	})
	if err != nil {
		return base.Stats{}, err
	}
	return stats, nil
}

// Search matches query against subject, body, and sender (logical OR) in
// the given folder, defaulting to the inbox. Hits are returned newest first
// and capped; an unopenable folder yields no hits and individual fetch
// failures are skipped.
func (s *ServiceImpl) Search(ctx context.Context, query, folder string) ([]base.Message, error) {
	msgs := []base.Message{}
	if strings.TrimSpace(query) == "" {
		return msgs, nil
	}
	if folder == "" {
		folder = inboxFolder
	}

	err := s.withSession(ctx, func(c base.Client) error {
		if _, ok := s.selectReadOnly(ctx, c, folder); !ok {
			return nil
		}

		uids, err := c.UidSearch(containsCriteria(query))
		if err != nil {
			return errors.Wrap(err, "searching")
		}
		sort.Slice(uids, func(i, j int) bool { return uids[i] > uids[j] })
		if len(uids) > searchResultCap {
			uids = uids[:searchResultCap]
		}

		for _, uid := range uids {
			msg, err := fetchMessage(c, uid)
			if err != nil || msg == nil {
				s.logger.WarnContext(ctx, "skipping search hit",
					slog.String("folder", folder),
					slog.Uint64("uid", uint64(uid)),
					slog.Any("error", utils.WrapError(err)))
				continue
			}
			msgs = append(msgs, *msg)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

// selectReadOnly opens a caller-named folder read-only. A folder that no
// longer exists, or cannot be opened, is a normal not-found branch rather
// than an error.
func (s *ServiceImpl) selectReadOnly(ctx context.Context, c base.Client, folder string) (*imap.MailboxStatus, bool) {
	status, err := c.Select(folder, true)
	if err != nil {
		s.logger.DebugContext(ctx, "folder not available",
			slog.String("folder", folder),
			slog.Any("error", utils.WrapError(err)))
		return nil, false
	}
	return status, true
}

// probeFolder opens a folder read-only and reports its message count. An
// absent folder is a normal branch, not an error.
func (s *ServiceImpl) probeFolder(ctx context.Context, c base.Client, name string) (uint32, bool) {
	status, err := c.Select(name, true)
	if err != nil {
		s.logger.DebugContext(ctx, "folder not available for stats",
			slog.String("folder", name))
		return 0, false
	}
	return status.Messages, true
}

func listFolderInfos(c base.Client) ([]*imap.MailboxInfo, error) {
	ch := make(chan *imap.MailboxInfo, 16)
	done := make(chan error, 1)
	go func() {
		done <- c.List("", "*", ch)
	}()

	var infos []*imap.MailboxInfo
	for info := range ch {
		infos = append(infos, info)
	}
	return infos, <-done
}

// allUIDs resolves every UID in the selected folder via a sequence-range
// search, since UIDs are what survive across sessions.
func allUIDs(c base.Client, total uint32) ([]uint32, error) {
	criteria := imap.NewSearchCriteria()
	criteria.SeqNum = new(imap.SeqSet)
	criteria.SeqNum.AddRange(1, total)
	return c.UidSearch(criteria)
}

// fetchMessage fetches one full message plus its summary and converts it.
// A UID that no longer resolves yields (nil, nil).
func fetchMessage(c base.Client, uid uint32) (*base.Message, error) {
	seqset := new(imap.SeqSet)
	seqset.AddNum(uid)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchUid, imap.FetchFlags, imap.FetchEnvelope, section.FetchItem()}

	ch := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(seqset, items, ch)
	}()

	var raw *imap.Message
	for m := range ch {
		raw = m
	}
	if err := <-done; err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}

	msg, err := convert.ToMessage(raw)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func searchCount(c base.Client, criteria *imap.SearchCriteria) (uint32, error) {
	uids, err := c.Search(criteria)
	if err != nil {
		return 0, err
	}
	return uint32(len(uids)), nil
}

func unseenCriteria() *imap.SearchCriteria {
	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	return criteria
}

// containsCriteria builds subject OR body OR from for a free-text query.
func containsCriteria(query string) *imap.SearchCriteria {
	subject := imap.NewSearchCriteria()
	subject.Header = textproto.MIMEHeader{"Subject": {query}}

	body := imap.NewSearchCriteria()
	body.Body = []string{query}

	from := imap.NewSearchCriteria()
	from.Header = textproto.MIMEHeader{"From": {query}}

	bodyOrFrom := imap.NewSearchCriteria()
	bodyOrFrom.Or = [][2]*imap.SearchCriteria{{body, from}}

	criteria := imap.NewSearchCriteria()
	criteria.Or = [][2]*imap.SearchCriteria{{subject, bodyOrFrom}}
	return criteria
}
