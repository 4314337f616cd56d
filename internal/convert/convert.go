// Package convert maps raw protocol messages into transport-agnostic
// records. It performs no I/O of its own: everything it needs must already
// be present on the fetched message.
package convert

import (
	"io"
	"strings"

	"github.com/emersion/go-imap"
	gomessage "github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/pkg/errors"

	"github.com/gaffarulutas/balonpark-mail/pkg/base"
)

const (
	noSubjectPlaceholder  = "(no subject)"
	attachmentPlaceholder = "attachment"
)

// ToMessage builds a base.Message from a fetched protocol message. Flags are
// read from the fetch summary (they are server metadata, not part of the raw
// message); everything else comes from the envelope and the raw body.
func ToMessage(msg *imap.Message) (base.Message, error) {
	if msg == nil {
		return base.Message{}, errors.New("nil message")
	}

	out := base.Message{UID: msg.Uid}

	for _, flag := range msg.Flags {
		switch flag {
		case imap.SeenFlag:
			out.Seen = true
		case imap.FlaggedFlag:
			out.Flagged = true
		}
	}

	if env := msg.Envelope; env != nil {
		out.Subject = env.Subject
		out.Date = env.Date
		out.MessageID = env.MessageId
		out.InReplyTo = env.InReplyTo
		if len(env.From) > 0 && env.From[0] != nil {
			out.From = env.From[0].Address()
			out.FromName = env.From[0].PersonalName
		}
		if len(env.To) > 0 && env.To[0] != nil {
			out.To = env.To[0].Address()
		}
	}

	if out.Subject == "" {
		out.Subject = noSubjectPlaceholder
	}

	section := &imap.BodySectionName{}
	if r := msg.GetBody(section); r != nil {
		if err := parseRaw(&out, r); err != nil {
			return base.Message{}, err
		}
	}

	return out, nil
}

type bodyContent struct {
	text string
	html string
}

func parseRaw(out *base.Message, r io.Reader) error {
	entity, err := gomessage.Read(r)
	if gomessage.IsUnknownCharset(err) {
		// Decodable anyway; the charset is just not recognized.
	} else if err != nil {
		return errors.Wrap(err, "reading message entity")
	}

	// Head of the references chain: the thread root.
	if fields := strings.Fields(entity.Header.Get("References")); len(fields) > 0 {
		out.References = fields[0]
	}

	var body bodyContent
	if err := parseEntity(out, &body, entity); err != nil {
		return err
	}

	// HTML wins over plain text when both are present.
	switch {
	case body.html != "":
		out.Body = body.html
		out.BodyKind = base.BodyHTML
	default:
		out.Body = body.text
		out.BodyKind = base.BodyPlain
	}

	return nil
}

func parseEntity(out *base.Message, body *bodyContent, entity *gomessage.Entity) error {
	if mr := entity.MultipartReader(); mr != nil {
		return parseMultipart(out, body, mr)
	}
	return parsePart(out, body, entity)
}

func parseMultipart(out *base.Message, body *bodyContent, mr gomessage.MultipartReader) error {
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return nil
		} else if gomessage.IsUnknownCharset(err) {
			// The part is still usable; its body stays in the original
			// charset.
		} else if err != nil {
			// A single malformed part must not discard the rest.
			continue
		}

		contentType, _, _ := part.Header.ContentType()
		if strings.HasPrefix(contentType, "multipart/") {
			if nested := part.MultipartReader(); nested != nil {
				if err := parseMultipart(out, body, nested); err != nil {
					return err
				}
			}
			continue
		}

		if err := parsePart(out, body, part); err != nil {
			return err
		}
	}
}

func parsePart(out *base.Message, body *bodyContent, entity *gomessage.Entity) error {
	contentType, params, _ := entity.Header.ContentType()

	if isAttachment(entity, contentType) {
		content, err := io.ReadAll(entity.Body)
		if err != nil {
			return errors.Wrap(err, "reading attachment content")
		}

		filename := attachmentFilename(entity, params)
		out.Attachments = append(out.Attachments, base.Attachment{
			Filename:    filename,
			ContentType: contentType,
			Size:        len(content),
			Content:     content,
		})
		return nil
	}

	content, err := io.ReadAll(entity.Body)
	if err != nil {
		return errors.Wrap(err, "reading body part")
	}

	switch {
	case strings.HasPrefix(contentType, "text/html") && body.html == "":
		body.html = string(content)
	case body.text == "":
		body.text = string(content)
	}

	return nil
}

func isAttachment(entity *gomessage.Entity, contentType string) bool {
	disposition := strings.ToLower(entity.Header.Get("Content-Disposition"))
	if strings.HasPrefix(disposition, "attachment") {
		return true
	}
	return !strings.HasPrefix(contentType, "text/plain") &&
		!strings.HasPrefix(contentType, "text/html")
}

func attachmentFilename(entity *gomessage.Entity, params map[string]string) string {
	h := mail.AttachmentHeader{Header: entity.Header}
	if filename, err := h.Filename(); err == nil && filename != "" {
		return filename
	}
	if name := params["name"]; name != "" {
		return name
	}
	return attachmentPlaceholder
}
