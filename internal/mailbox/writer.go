package mailbox

import (
	"context"
	"log/slog"
	"strings"

	"github.com/emersion/go-imap"
	"github.com/pkg/errors"

	"github.com/gaffarulutas/balonpark-mail/pkg/base"
	"github.com/gaffarulutas/balonpark-mail/pkg/utils"
)

// MarkRead sets the seen flag on one message.
func (s *ServiceImpl) MarkRead(ctx context.Context, folder string, uid uint32) bool {
	return s.setFlag(ctx, folder, uid, imap.SeenFlag, true)
}

// MarkUnread clears the seen flag on one message.
func (s *ServiceImpl) MarkUnread(ctx context.Context, folder string, uid uint32) bool {
	return s.setFlag(ctx, folder, uid, imap.SeenFlag, false)
}

// ToggleFlag inverts the starred flag on one message. Calling it twice
// restores the original state.
func (s *ServiceImpl) ToggleFlag(ctx context.Context, folder string, uid uint32) bool {
	err := s.withSession(ctx, func(c base.Client) error {
		if _, err := c.Select(folder, false); err != nil {
			return errors.Wrapf(err, "selecting folder %q", folder)
		}

		flags, found, err := currentFlags(c, uid)
		if err != nil {
			return errors.Wrapf(err, "fetching flags for uid %d", uid)
		}
		if !found {
			return errors.Errorf("uid %d not found in %q", uid, folder)
		}

		op := imap.FlagsOp(imap.AddFlags)
		for _, f := range flags {
			if f == imap.FlaggedFlag {
				op = imap.RemoveFlags
				break
			}
		}
		return storeFlag(c, uid, op, imap.FlaggedFlag)
	})
	return s.reportOutcome(ctx, "toggle flag", folder, uid, err)
}

// Move relocates one message to another folder via copy, mark-deleted, and
// expunge on the source.
func (s *ServiceImpl) Move(ctx context.Context, source string, uid uint32, target string) bool {
	err := s.withSession(ctx, func(c base.Client) error {
		return moveMessage(c, source, uid, target)
	})
	return s.reportOutcome(ctx, "move", source, uid, err)
}

// Delete moves one message to the trash folder. When the account has no
// trash folder, or the message already lives there, it is marked deleted
// and the folder expunged instead. Both paths count as success.
func (s *ServiceImpl) Delete(ctx context.Context, folder string, uid uint32) bool {
	err := s.withSession(ctx, func(c base.Client) error {
		trash, ok := findTrashFolder(c)
		if ok && !strings.EqualFold(trash, folder) {
			return moveMessage(c, folder, uid, trash)
		}

		if _, err := c.Select(folder, false); err != nil {
			return errors.Wrapf(err, "selecting folder %q", folder)
		}
		if err := storeFlag(c, uid, imap.AddFlags, imap.DeletedFlag); err != nil {
			return errors.Wrap(err, "marking deleted")
		}
		return errors.Wrap(c.Expunge(nil), "expunging")
	})
	return s.reportOutcome(ctx, "delete", folder, uid, err)
}

func (s *ServiceImpl) setFlag(ctx context.Context, folder string, uid uint32, flag string, add bool) bool {
	err := s.withSession(ctx, func(c base.Client) error {
		if _, err := c.Select(folder, false); err != nil {
			return errors.Wrapf(err, "selecting folder %q", folder)
		}
		op := imap.FlagsOp(imap.RemoveFlags)
		if add {
			op = imap.AddFlags
		}
		return storeFlag(c, uid, op, flag)
	})
	return s.reportOutcome(ctx, "set flag", folder, uid, err)
}

// reportOutcome collapses write failures into a boolean so callers get a
// uniform outcome instead of transport errors.
func (s *ServiceImpl) reportOutcome(ctx context.Context, op, folder string, uid uint32, err error) bool {
	if err != nil {
		s.logger.ErrorContext(ctx, "mailbox write failed",
			slog.String("op", op),
			slog.String("folder", folder),
			slog.Uint64("uid", uint64(uid)),
			slog.Any("error", utils.WrapError(err)))
		return false
	}
	return true
}

func moveMessage(c base.Client, source string, uid uint32, target string) error {
	if _, err := c.Select(source, false); err != nil {
		return errors.Wrapf(err, "selecting folder %q", source)
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uid)
	if err := c.UidCopy(seqset, target); err != nil {
		return errors.Wrapf(err, "copying to %q", target)
	}
	if err := storeFlag(c, uid, imap.AddFlags, imap.DeletedFlag); err != nil {
		return errors.Wrap(err, "marking source copy deleted")
	}
	return errors.Wrap(c.Expunge(nil), "expunging source")
}

func storeFlag(c base.Client, uid uint32, op imap.FlagsOp, flag string) error {
	seqset := new(imap.SeqSet)
	seqset.AddNum(uid)
	return c.UidStore(seqset, imap.FormatFlagsOp(op, true), []interface{}{flag}, nil)
}

func currentFlags(c base.Client, uid uint32) ([]string, bool, error) {
	seqset := new(imap.SeqSet)
	seqset.AddNum(uid)

	ch := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(seqset, []imap.FetchItem{imap.FetchUid, imap.FetchFlags}, ch)
	}()

	var raw *imap.Message
	for m := range ch {
		raw = m
	}
	if err := <-done; err != nil {
		return nil, false, err
	}
	if raw == nil {
		return nil, false, nil
	}
	return raw.Flags, true, nil
}

// findTrashFolder locates the account's trash folder by classification.
func findTrashFolder(c base.Client) (string, bool) {
	ch := make(chan *imap.MailboxInfo, 16)
	done := make(chan error, 1)
	go func() {
		done <- c.List("", "*", ch)
	}()

	trash := ""
	for info := range ch {
		if trash != "" {
			continue
		}
		if kind, _ := Classify(info.Name, info.Delimiter); kind == base.FolderTrash {
			trash = info.Name
		}
	}
	if err := <-done; err != nil {
		return "", false
	}
	return trash, trash != ""
}
