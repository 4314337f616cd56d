package mailbox

import (
	"strings"

	"github.com/gaffarulutas/balonpark-mail/pkg/base"
)

// folderAliases maps lowercased folder names to their role. The Turkish
// entries cover servers provisioned with localized special-use folders.
var folderAliases = map[string]base.FolderKind{
	"inbox":         base.FolderInbox,
	"sent":          base.FolderSent,
	"sent items":    base.FolderSent,
	"sent messages": base.FolderSent,
	"gönderilenler": base.FolderSent,
	"drafts":        base.FolderDrafts,
	"taslak":        base.FolderDrafts,
	"taslaklar":     base.FolderDrafts,
	"spam":          base.FolderSpam,
	"junk":          base.FolderSpam,
	"gereksiz":      base.FolderSpam,
	"trash":         base.FolderTrash,
	"deleted":       base.FolderTrash,
	"deleted items": base.FolderTrash,
	"çöp":           base.FolderTrash,
	"silinmiş":      base.FolderTrash,
	"silinmişler":   base.FolderTrash,
}

// Classify resolves a protocol-qualified folder name into its role plus a
// human-friendly display name. Matching is case-insensitive on the last
// hierarchy segment; unmatched folders are Custom and keep the raw segment
// as their display name.
func Classify(name, delimiter string) (base.FolderKind, string) {
	segment := name
	if delimiter != "" {
		if i := strings.LastIndex(name, delimiter); i >= 0 {
			segment = name[i+len(delimiter):]
		}
	}
	if kind, ok := folderAliases[strings.ToLower(segment)]; ok {
		return kind, segment
	}
	return base.FolderCustom, segment
}
