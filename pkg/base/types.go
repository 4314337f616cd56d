package base

import (
	"time"

	"github.com/emersion/go-imap"
)

// FolderKind classifies a mailbox folder by its role on the server.
type FolderKind string

const (
	FolderInbox  FolderKind = "inbox"
	FolderSent   FolderKind = "sent"
	FolderDrafts FolderKind = "drafts"
	FolderSpam   FolderKind = "spam"
	FolderTrash  FolderKind = "trash"
	FolderCustom FolderKind = "custom"
)

// BodyKind discriminates the body content of a Message.
type BodyKind string

const (
	BodyHTML  BodyKind = "html"
	BodyPlain BodyKind = "plain"
)

// Folder is a mailbox folder snapshot. It is computed fresh on every listing
// call and never cached.
type Folder struct {
	Name        string     `json:"name"`
	DisplayName string     `json:"displayName"`
	Kind        FolderKind `json:"kind"`
	Total       uint32     `json:"total"`
	Unread      uint32     `json:"unread"`
}

// Attachment is a fully decoded MIME attachment owned by its parent Message.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Size        int    `json:"size"`
	Content     []byte `json:"-"`
}

// Message is the transport-agnostic record handed to callers. It is built
// only by the converter from a freshly fetched protocol message and is
// immutable once returned. The UID is scoped to the folder it was fetched
// from; the folder itself is the caller's context and is not stored here.
type Message struct {
	UID         uint32       `json:"uid"`
	MessageID   string       `json:"messageId"`
	Subject     string       `json:"subject"`
	From        string       `json:"from"`
	FromName    string       `json:"fromName"`
	To          string       `json:"to"`
	Date        time.Time    `json:"date"`
	Seen        bool         `json:"seen"`
	Flagged     bool         `json:"flagged"`
	Body        string       `json:"body"`
	BodyKind    BodyKind     `json:"bodyKind"`
	Attachments []Attachment `json:"attachments"`
	InReplyTo   string       `json:"inReplyTo"`
	References  string       `json:"references"`
}

// HasAttachments is derived, never stored.
func (m Message) HasAttachments() bool {
	return len(m.Attachments) > 0
}

// Stats aggregates mailbox counts. Folders that do not exist on the server
// contribute zero to their field rather than failing the aggregate.
type Stats struct {
	Total   uint32 `json:"total"`
	Unread  uint32 `json:"unread"`
	Flagged uint32 `json:"flagged"`
	Sent    uint32 `json:"sent"`
	Drafts  uint32 `json:"drafts"`
	Spam    uint32 `json:"spam"`
	Trash   uint32 `json:"trash"`
}

// SendRequest describes one outbound message.
type SendRequest struct {
	To          string       `json:"to"`
	ToName      string       `json:"toName"`
	Subject     string       `json:"subject"`
	Body        string       `json:"body"`
	HTML        bool         `json:"html"`
	Attachments []Attachment `json:"attachments"`
	InReplyTo   string       `json:"inReplyTo"`
	References  string       `json:"references"`
}

// Client is an interface to abstract the go-imap client.Client methods used
// by this layer, so the protocol side can be mocked in tests.
type Client interface {
	Login(username string, password string) error
	Logout() error
	Select(name string, readOnly bool) (*imap.MailboxStatus, error)
	List(ref, name string, ch chan *imap.MailboxInfo) error
	Search(criteria *imap.SearchCriteria) (seqNums []uint32, err error)
	UidSearch(criteria *imap.SearchCriteria) (uids []uint32, err error)
	UidFetch(seqset *imap.SeqSet, items []imap.FetchItem, ch chan *imap.Message) error
	UidStore(seqset *imap.SeqSet, item imap.StoreItem, value interface{}, ch chan *imap.Message) error
	UidCopy(seqset *imap.SeqSet, dest string) error
	Expunge(ch chan uint32) error
	State() imap.ConnState
}
