// Package handlers exposes the mailbox service as a JSON API.
package handlers

import (
	"net/url"

	"github.com/gofiber/fiber/v2"
	"github.com/pkg/errors"

	"github.com/gaffarulutas/balonpark-mail/internal/connection"
	"github.com/gaffarulutas/balonpark-mail/internal/mailbox"
	"github.com/gaffarulutas/balonpark-mail/internal/sender"
	"github.com/gaffarulutas/balonpark-mail/pkg/base"
)

const (
	// Locals keys under which the serve command injects dependencies.
	MailboxServiceKey = "mailboxService"
	SenderKey         = "sender"

	defaultPageSize = 20
)

// NotFound is the catch-all route.
func NotFound(c *fiber.Ctx) error {
	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not found"})
}

// Folders lists the account's folders with counts and classification.
func Folders(c *fiber.Ctx) error {
	svc, ok := mailboxService(c)
	if !ok {
		return dependencyError(c)
	}

	folders, err := svc.ListFolders(c.UserContext())
	if err != nil {
		return readError(c, err)
	}
	return c.JSON(folders)
}

// Messages returns one page of a folder, newest first.
func Messages(c *fiber.Ctx) error {
	svc, ok := mailboxService(c)
	if !ok {
		return dependencyError(c)
	}

	folder, ok := folderParam(c)
	if !ok {
		return badRequest(c, "missing folder")
	}
	page := c.QueryInt("page", 1)
	pageSize := c.QueryInt("pageSize", defaultPageSize)

	msgs, err := svc.ListMessages(c.UserContext(), folder, page, pageSize)
	if err != nil {
		return readError(c, err)
	}
	return c.JSON(msgs)
}

// Message fetches a single message by folder and UID.
func Message(c *fiber.Ctx) error {
	svc, ok := mailboxService(c)
	if !ok {
		return dependencyError(c)
	}

	folder, uid, ok := messageParams(c)
	if !ok {
		return badRequest(c, "invalid folder or uid")
	}

	msg, err := svc.GetMessage(c.UserContext(), folder, uid)
	if err != nil {
		return readError(c, err)
	}
	if msg == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "message not found"})
	}
	return c.JSON(msg)
}

// Stats aggregates mailbox counts.
func Stats(c *fiber.Ctx) error {
	svc, ok := mailboxService(c)
	if !ok {
		return dependencyError(c)
	}

	stats, err := svc.GetStats(c.UserContext())
	if err != nil {
		return readError(c, err)
	}
	return c.JSON(stats)
}

// Search matches a free-text query against subject, body, and sender.
func Search(c *fiber.Ctx) error {
	svc, ok := mailboxService(c)
	if !ok {
		return dependencyError(c)
	}

	query := c.Query("q")
	if query == "" {
		return badRequest(c, "missing query parameter q")
	}

	msgs, err := svc.Search(c.UserContext(), query, c.Query("folder"))
	if err != nil {
		return readError(c, err)
	}
	return c.JSON(msgs)
}

// MarkRead sets the seen flag on one message.
func MarkRead(c *fiber.Ctx) error {
	return flagAction(c, func(svc mailbox.Service, folder string, uid uint32) bool {
		return svc.MarkRead(c.UserContext(), folder, uid)
	})
}

// MarkUnread clears the seen flag on one message.
func MarkUnread(c *fiber.Ctx) error {
	return flagAction(c, func(svc mailbox.Service, folder string, uid uint32) bool {
		return svc.MarkUnread(c.UserContext(), folder, uid)
	})
}

// ToggleFlag inverts the starred flag on one message.
func ToggleFlag(c *fiber.Ctx) error {
	return flagAction(c, func(svc mailbox.Service, folder string, uid uint32) bool {
		return svc.ToggleFlag(c.UserContext(), folder, uid)
	})
}

// Move relocates one message to another folder.
func Move(c *fiber.Ctx) error {
	svc, ok := mailboxService(c)
	if !ok {
		return dependencyError(c)
	}

	folder, uid, ok := messageParams(c)
	if !ok {
		return badRequest(c, "invalid folder or uid")
	}
	var body struct {
		Target string `json:"target"`
	}
	if err := c.BodyParser(&body); err != nil || body.Target == "" {
		return badRequest(c, "missing target folder")
	}

	return outcome(c, svc.Move(c.UserContext(), folder, uid, body.Target))
}

// Delete moves one message to trash, or expunges it when no trash exists.
func Delete(c *fiber.Ctx) error {
	return flagAction(c, func(svc mailbox.Service, folder string, uid uint32) bool {
		return svc.Delete(c.UserContext(), folder, uid)
	})
}

// Send submits an outbound message.
func Send(c *fiber.Ctx) error {
	snd, ok := senderFromLocals(c)
	if !ok {
		return dependencyError(c)
	}

	var req base.SendRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "malformed send request")
	}
	if req.To == "" {
		return badRequest(c, "missing recipient")
	}

	return outcome(c, snd.Send(c.UserContext(), req))
}

// Reply sends a threaded reply to an existing message.
func Reply(c *fiber.Ctx) error {
	svc, ok := mailboxService(c)
	if !ok {
		return dependencyError(c)
	}
	snd, ok := senderFromLocals(c)
	if !ok {
		return dependencyError(c)
	}

	folder, uid, ok := messageParams(c)
	if !ok {
		return badRequest(c, "invalid folder or uid")
	}
	var body struct {
		Body string `json:"body"`
		HTML bool   `json:"html"`
	}
	if err := c.BodyParser(&body); err != nil {
		return badRequest(c, "malformed reply request")
	}

	original, err := svc.GetMessage(c.UserContext(), folder, uid)
	if err != nil {
		return readError(c, err)
	}
	if original == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "message not found"})
	}

	return outcome(c, snd.Reply(c.UserContext(), *original, body.Body, body.HTML))
}

func flagAction(c *fiber.Ctx, action func(svc mailbox.Service, folder string, uid uint32) bool) error {
	svc, ok := mailboxService(c)
	if !ok {
		return dependencyError(c)
	}
	folder, uid, ok := messageParams(c)
	if !ok {
		return badRequest(c, "invalid folder or uid")
	}
	return outcome(c, action(svc, folder, uid))
}

func outcome(c *fiber.Ctx, ok bool) error {
	return c.JSON(fiber.Map{"success": ok})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
}

func dependencyError(c *fiber.Ctx) error {
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "service unavailable"})
}

// readError maps connection exhaustion to 502; everything else is a 500.
func readError(c *fiber.Ctx, err error) error {
	var connErr *connection.ConnectionFailedError
	if errors.As(err, &connErr) {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": connErr.Error()})
	}
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
}

func mailboxService(c *fiber.Ctx) (mailbox.Service, bool) {
	svc, ok := c.Locals(MailboxServiceKey).(mailbox.Service)
	return svc, ok
}

func senderFromLocals(c *fiber.Ctx) (sender.Sender, bool) {
	snd, ok := c.Locals(SenderKey).(sender.Sender)
	return snd, ok
}

func folderParam(c *fiber.Ctx) (string, bool) {
	folder, err := url.PathUnescape(c.Params("folder"))
	if err != nil || folder == "" {
		return "", false
	}
	return folder, true
}

func messageParams(c *fiber.Ctx) (string, uint32, bool) {
	folder, ok := folderParam(c)
	if !ok {
		return "", 0, false
	}
	uid, err := c.ParamsInt("uid")
	if err != nil || uid <= 0 {
		return "", 0, false
	}
	return folder, uint32(uid), true
}
