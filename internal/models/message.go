package models

import (
	"fmt"
	"time"

	"github.com/emersion/go-imap"
)

// FetchClass selects a fixed set of message items fetched together and
// cached under one timestamp.
type FetchClass int

const (
	FetchMetadata FetchClass = iota
	FetchBody
)

const fetchClassCount = 2

const (
	headerSection = "BODY[HEADER]"
	bodySection   = "BODY[]"
)

func (c FetchClass) String() string {
	switch c {
	case FetchMetadata:
		return "metadata"
	case FetchBody:
		return "body"
	default:
		return fmt.Sprintf("FetchClass(%d)", int(c))
	}
}

// Items is the parenthesized item list sent with UID FETCH. Sections are
// requested with PEEK so reading a file never sets \Seen.
func (c FetchClass) Items() string {
	switch c {
	case FetchMetadata:
		return fmt.Sprintf("(%s %s %s %s BODY.PEEK[HEADER])",
			imap.FetchUid, imap.FetchFlags, imap.FetchInternalDate, imap.FetchRFC822Size)
	default:
		return fmt.Sprintf("(%s BODY.PEEK[])", imap.FetchUid)
	}
}

// TTL returns how long data of this class stays fresh.
func (c FetchClass) TTL(ttl TTLs) time.Duration {
	if c == FetchMetadata {
		return ttl.Metadata
	}
	return ttl.Body
}

type MessageKey struct {
	Path string
	UID  uint32
}

// Message is the cached view of one message. Each field stays unset until
// the fetch class that carries it has run.
type Message struct {
	UID          uint32
	Flags        Optional[[]string]
	InternalDate Optional[time.Time]
	Size         Optional[uint32]
	Header       Optional[[]byte]
	Body         Optional[[]byte]

	FetchedAt [fetchClassCount]time.Time
}

func NewMessage(uid uint32) *Message {
	return &Message{UID: uid}
}

// Fetched returns when the class was last fetched; zero when never.
func (m *Message) Fetched(class FetchClass) time.Time {
	return m.FetchedAt[class]
}

func (m *Message) MarkFetched(class FetchClass, at time.Time) {
	m.FetchedAt[class] = at
}

// Stale reports whether the class needs fetching at now.
func (m *Message) Stale(class FetchClass, ttl TTLs, now time.Time) bool {
	fetched := m.FetchedAt[class]
	if fetched.IsZero() {
		return true
	}
	return now.Sub(fetched) >= class.TTL(ttl)
}

// FileSize is the size reported to the filesystem: the declared size plus
// the header length. It does not match the fetched byte count exactly.
func (m *Message) FileSize() uint64 {
	size := uint64(m.Size.OrElse(0))
	header, _ := m.Header.Get()
	return size + uint64(len(header))
}

// ApplyField merges one fetched item into the record. Unknown items are
// ignored.
func (m *Message) ApplyField(key string, value FieldValue) error {
	switch key {
	case string(imap.FetchFlags):
		m.Flags.Set(value.List)
	case string(imap.FetchInternalDate):
		date, err := time.Parse(imap.DateTimeLayout, value.Atom)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", key, value.Atom, err)
		}
		m.InternalDate.Set(date)
	case string(imap.FetchRFC822Size):
		var size uint32
		if _, err := fmt.Sscanf(value.Atom, "%d", &size); err != nil {
			return fmt.Errorf("parsing %s %q: %w", key, value.Atom, err)
		}
		m.Size.Set(size)
	case headerSection, string(imap.FetchRFC822Header):
		m.Header.Set([]byte(value.Atom))
	case bodySection, string(imap.FetchRFC822):
		m.Body.Set([]byte(value.Atom))
	}
	return nil
}

// FieldValue is a fetched item value: an atom or a list of atoms.
type FieldValue struct {
	Atom string
	List []string
}
