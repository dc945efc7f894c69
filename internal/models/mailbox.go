package models

import (
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/utf7"
)

// MailboxListing is one (options, separator, name) triple of a LIST reply.
type MailboxListing struct {
	Attributes []string
	Separator  string
	Name       string
}

// MailboxPath is a server mailbox name split on its hierarchy separator.
// Segments are decoded from modified UTF-7 so they can be used as file
// names directly.
type MailboxPath struct {
	Segments  []string
	Separator string
}

// ParseMailboxPath splits a server mailbox name. A NIL or empty separator
// means the server has a flat namespace.
func ParseMailboxPath(name, separator string) MailboxPath {
	var raw []string
	if separator == "" {
		raw = []string{name}
	} else {
		raw = strings.Split(name, separator)
	}

	segments := make([]string, 0, len(raw))
	for _, segment := range raw {
		if segment == "" {
			continue
		}
		decoded, err := utf7.Encoding.NewDecoder().String(segment)
		if err != nil {
			decoded = segment
		}
		segments = append(segments, decoded)
	}
	return MailboxPath{Segments: segments, Separator: separator}
}

// Path is the filesystem form, segments joined by a slash.
func (p MailboxPath) Path() string {
	return strings.Join(p.Segments, "/")
}

// Name is the server form, segments encoded and joined by the separator.
func (p MailboxPath) Name() string {
	encoded := make([]string, len(p.Segments))
	for i, segment := range p.Segments {
		e, err := utf7.Encoding.NewEncoder().String(segment)
		if err != nil {
			e = segment
		}
		encoded[i] = e
	}
	return strings.Join(encoded, p.Separator)
}

// Directory is the cached view of one mailbox.
type Directory struct {
	MailboxPath
	Name       string
	Attributes []string
	ListedAt   time.Time

	LastSelect   time.Time
	LastSearch   time.Time
	UIDs         Optional[[]uint32]
	MessageCount Optional[uint32]
}

func NewDirectory(listing MailboxListing, listedAt time.Time) *Directory {
	return &Directory{
		MailboxPath: ParseMailboxPath(listing.Name, listing.Separator),
		Name:        listing.Name,
		Attributes:  listing.Attributes,
		ListedAt:    listedAt,
	}
}

// Selectable reports whether the server allows SELECT on the mailbox.
func (d *Directory) Selectable() bool {
	for _, attr := range d.Attributes {
		if strings.EqualFold(attr, imap.NoSelectAttr) {
			return false
		}
	}
	return true
}

// Relist refreshes the listing fields from a newer LIST reply of the same
// path. Selection and search state stay on the record, so anyone holding it
// keeps seeing the table's copy.
func (d *Directory) Relist(listing MailboxListing, listedAt time.Time) {
	d.MailboxPath = ParseMailboxPath(listing.Name, listing.Separator)
	d.Name = listing.Name
	d.Attributes = listing.Attributes
	d.ListedAt = listedAt
}

func (d *Directory) HasUID(uid uint32) bool {
	uids, ok := d.UIDs.Get()
	if !ok {
		return false
	}
	for _, u := range uids {
		if u == uid {
			return true
		}
	}
	return false
}

// IsInbox reports whether path names the designated top level inbox.
func IsInbox(path string) bool {
	return strings.EqualFold(strings.Trim(path, "/"), imap.InboxName)
}
